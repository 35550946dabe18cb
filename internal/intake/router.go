package intake

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/go-github/v39/github"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/homu-project/homu/internal/ciprovider"
	"github.com/homu-project/homu/internal/hostclient"
	"github.com/homu-project/homu/internal/metrics"
	"github.com/homu-project/homu/internal/model"
)

// RepoResolver looks up the configuration for a repository addressed by
// owner/name, as decoded by internal/config from the JSON configuration
// file (§6 Configuration options).
type RepoResolver interface {
	Resolve(owner, repo string) (*model.RepoConfig, bool)
}

// Router serves the webhook endpoints of §6 and turns each authenticated
// payload into an Event on the target repository's supervisor queue.
type Router struct {
	mux *mux.Router

	resolver    RepoResolver
	hosts       map[model.HostKind]hostclient.Host
	ciProviders map[string]ciprovider.Provider
	enqueuer    Enqueuer
	dedupe      *deliveryDedupe
	metrics     metrics.Provider
	logger      *zap.Logger
}

// NewRouter wires the endpoint table of §6. hosts must contain an entry
// for every HostKind any resolved RepoConfig can report; ciProviders is
// keyed by CIBinding.Provider name ("circleci", "buildbot", "travis",
// "jenkins", "solano").
func NewRouter(resolver RepoResolver, hosts map[model.HostKind]hostclient.Host, ciProviders map[string]ciprovider.Provider, enqueuer Enqueuer, metricsProvider metrics.Provider, logger *zap.Logger) *Router {
	rt := &Router{
		mux:         mux.NewRouter(),
		resolver:    resolver,
		hosts:       hosts,
		ciProviders: ciProviders,
		enqueuer:    enqueuer,
		dedupe:      newDeliveryDedupe(),
		metrics:     metricsProvider,
		logger:      logger,
	}
	rt.mux.HandleFunc("/github", rt.handleGitHub).Methods(http.MethodPost)
	rt.mux.HandleFunc("/gitlab", rt.handleGitLab).Methods(http.MethodPost)
	rt.mux.HandleFunc("/circleci", rt.handleCI("circleci")).Methods(http.MethodPost)
	rt.mux.HandleFunc("/buildbot", rt.handleCI("buildbot")).Methods(http.MethodPost)
	rt.mux.HandleFunc("/travis", rt.handleCI("travis")).Methods(http.MethodPost)
	rt.mux.HandleFunc("/jenkins", rt.handleCI("jenkins")).Methods(http.MethodPost)
	rt.mux.HandleFunc("/solano", rt.handleCI("solano")).Methods(http.MethodPost)
	rt.mux.HandleFunc("/callback", rt.handleCallback).Methods(http.MethodGet)
	rt.mux.HandleFunc("/", rt.handleStatus).Methods(http.MethodGet)
	return rt
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.mux.ServeHTTP(w, r)
}

func (rt *Router) authFailure(w http.ResponseWriter, repo, kind string) {
	rt.metrics.IncreaseWebhookAuthFailure(repo, kind)
	w.WriteHeader(http.StatusBadRequest)
}

// handleGitHub authenticates a GitHub webhook (X-Hub-Signature HMAC of
// the body against the repository's secret) and normalizes PR, push and
// comment events per §4.5.
func (rt *Router) handleGitHub(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	owner, repo, ok := peekGitHubRepo(body)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	cfg, ok := rt.resolver.Resolve(owner, repo)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	host, ok := rt.hosts[cfg.Host]
	if !ok {
		rt.logger.Error("no host client configured", zap.String("host_kind", string(cfg.Host)))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	sig := r.Header.Get("X-Hub-Signature")
	if err := host.ValidateWebhookSignature(sig, body, []byte(cfg.WebhookSecret)); err != nil {
		rt.authFailure(w, cfg.Label(), "github")
		return
	}

	if id := r.Header.Get("X-GitHub-Delivery"); rt.dedupe.seen(id) {
		w.WriteHeader(http.StatusOK)
		return
	}

	event, err := github.ParseWebHook(github.WebHookType(r), body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	evt, ok := normalizeGitHubEvent(cfg.Label(), r.Header.Get("X-GitHub-Delivery"), event)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	rt.enqueue(w, r.Context(), cfg.Label(), evt)
}

// handleGitLab authenticates a GitLab webhook (X-Gitlab-Token compared
// directly to the repository's secret) the same way.
func (rt *Router) handleGitLab(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	owner, repo, ok := peekGitLabRepo(body)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	cfg, ok := rt.resolver.Resolve(owner, repo)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	host, ok := rt.hosts[cfg.Host]
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if err := host.ValidateWebhookSignature(r.Header.Get("X-Gitlab-Token"), body, []byte(cfg.WebhookSecret)); err != nil {
		rt.authFailure(w, cfg.Label(), "gitlab")
		return
	}
	if id := r.Header.Get("X-Gitlab-Event-UUID"); rt.dedupe.seen(id) {
		w.WriteHeader(http.StatusOK)
		return
	}

	evt, ok := normalizeGitLabEvent(cfg.Label(), body)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	rt.enqueue(w, r.Context(), cfg.Label(), evt)
}

// handleCI returns a handler for the CI status endpoints of §6, which
// share the shape "authenticate against a per-repository secret, decode
// a Result, enqueue a build_status event" but differ per provider name
// in how the secret and payload are carried.
func (rt *Router) handleCI(providerName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, ok := rt.ciProviders[providerName]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		repoLabel, secret, ok := rt.resolveCIRepo(providerName, r, body)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		result, err := provider.Authenticate(r, body, secret)
		if err != nil {
			rt.authFailure(w, repoLabel, providerName)
			return
		}

		rt.enqueue(w, r.Context(), repoLabel, Event{
			RepoLabel: repoLabel,
			Kind:      KindBuildStatus,
			Build:     result,
		})
	}
}

// resolveCIRepo figures out which repository a CI callback belongs to.
// Homu identifies the repository from the provider's own payload (repo
// name) before it can look up which secret to authenticate against. A
// callback whose repository cannot be sniffed, is not configured, or has
// no binding for providerName is not resolved; there is no default binding.
func (rt *Router) resolveCIRepo(providerName string, r *http.Request, body []byte) (label, secret string, ok bool) {
	owner, repo, ok := sniffCIRepo(providerName, r, body)
	if !ok {
		return "", "", false
	}
	cfg, ok := rt.resolver.Resolve(owner, repo)
	if !ok {
		return "", "", false
	}
	for _, b := range cfg.CIBindings {
		if b.Provider == providerName {
			return cfg.Label(), b.Secret, true
		}
	}
	return "", "", false
}

func (rt *Router) handleCallback(w http.ResponseWriter, r *http.Request) {
	// OAuth completion is handled by the launcher's account-linking flow,
	// out of core scope (§6). Homu just acknowledges the redirect.
	w.WriteHeader(http.StatusOK)
}

func (rt *Router) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (rt *Router) enqueue(w http.ResponseWriter, ctx context.Context, repoLabel string, evt Event) {
	rt.metrics.IncreaseWebhookRequest(repoLabel, string(evt.Kind))
	if err := rt.enqueuer.Enqueue(ctx, evt); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
