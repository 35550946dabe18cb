// Command homu runs the merge-queue bot: it serves the webhook intake
// endpoints of §6, drives one supervisor loop per configured repository,
// and exposes Prometheus metrics, following the shape of the teacher's
// cmd/mattermost-mattermod entrypoint (config load, cron wiring, signal
// handling).
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/homu-project/homu/internal/ciprovider"
	"github.com/homu-project/homu/internal/config"
	"github.com/homu-project/homu/internal/hostclient"
	"github.com/homu-project/homu/internal/intake"
	"github.com/homu-project/homu/internal/metrics"
	"github.com/homu-project/homu/internal/model"
	"github.com/homu-project/homu/internal/ratelimit"
	"github.com/homu-project/homu/internal/scheduler"
	"github.com/homu-project/homu/internal/store"
	"github.com/homu-project/homu/internal/supervisor"
)

const (
	hostRequestsPerSecond = 5
	hostBurst             = 10
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "config-homu.json", "path to the JSON configuration file")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("loaded config", zap.String("filename", configFile))

	if err := run(cfg, logger); err != nil {
		logger.Error("homu exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	metricsProvider := metrics.NewPrometheusProvider()

	st, err := store.Open(cfg.DataSource, "internal/store/migrations", logger)
	if err != nil {
		return err
	}
	defer st.Close()

	fleet := supervisor.NewFleet()

	hosts := map[model.HostKind]hostclient.Host{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.GithubAccessToken != "" {
		transport := metrics.NewTransport(ratelimit.NewCachingTransport(ratelimit.NewTransport(rate.Limit(hostRequestsPerSecond), hostBurst, http.DefaultTransport)), metricsProvider)
		hosts[model.HostGitHub] = hostclient.NewGitHubClient(ctx, cfg.GithubAccessToken, transport)
	}
	if cfg.GitlabAccessToken != "" {
		transport := metrics.NewTransport(ratelimit.NewCachingTransport(ratelimit.NewTransport(rate.Limit(hostRequestsPerSecond), hostBurst, http.DefaultTransport)), metricsProvider)
		gl, err := hostclient.NewGitLabClient(cfg.GitlabAccessToken, "https://gitlab.com/", transport)
		if err != nil {
			return err
		}
		hosts[model.HostGitLab] = gl
	}

	ciProviders := map[string]ciprovider.Provider{
		"circleci": ciprovider.NewCircleCI(cfg.CircleCIToken),
		"buildbot": ciprovider.Buildbot{},
		"travis":   ciprovider.Travis{},
		"jenkins":  ciprovider.Jenkins{},
		"solano":   ciprovider.Solano{},
	}

	for _, repoCfg := range cfg.Repositories {
		host, ok := hosts[repoCfg.Host]
		if !ok {
			logger.Error("no host client configured for repository", zap.String("repo", repoCfg.Label()), zap.String("host_kind", string(repoCfg.Host)))
			continue
		}
		repoSched := scheduler.New(host, st, metricsProvider, logger)
		sup := supervisor.New(repoCfg, host, repoSched, st, logger, cfg.QueueDepth)
		fleet.Add(sup)
	}

	all, err := st.LoadAll(context.Background())
	if err != nil {
		return err
	}
	if err := fleet.Rehydrate(context.Background(), all); err != nil {
		return err
	}

	router := intake.NewRouter(cfg, hosts, ciProviders, fleet, metricsProvider, logger)
	intakeServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	metricsServer := metrics.NewServer(cfg.MetricsAddress, metricsProvider.Handler(), false, logger)
	metricsServer.Start()
	defer metricsServer.Stop()

	go func() {
		logger.Info("intake listening", zap.String("address", cfg.ListenAddress))
		if err := intakeServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("intake server", zap.Error(err))
		}
	}()

	go fleet.Run(ctx)

	c := cron.New()
	refreshSchedule := "@every " + strconv.Itoa(cfg.MergeabilityRefreshMinutes) + "m"
	if _, err := c.AddFunc(refreshSchedule, func() { fleet.RefreshMergeability(ctx) }); err != nil {
		logger.Error("failed adding mergeability refresh cron", zap.Error(err))
	}
	if _, err := c.AddFunc("0 3 * * *", func() {
		all, err := st.LoadAll(ctx)
		if err != nil {
			logger.Warn("prune closed pulls: load all", zap.Error(err))
			return
		}
		fleet.PruneClosedPulls(ctx, all)
	}); err != nil {
		logger.Error("failed adding prune cron", zap.Error(err))
	}
	c.Start()
	defer c.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = intakeServer.Shutdown(shutdownCtx)
	cancel() // stop supervisor loops; events still queued are not applied, and run does not wait for fleet.Run
	return nil
}
