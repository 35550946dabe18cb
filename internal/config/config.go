// Package config defines Homu's process-level configuration and loads
// it from a JSON file, following the teacher's PRServerConfig
// struct-plus-json.Decoder convention (server/config.go). Parsing the
// external TOML file a launcher would generate from is out of scope
// (§1); this loader reads the JSON form the launcher is expected to
// produce.
package config

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/homu-project/homu/internal/model"
)

// Config is the top-level process configuration: everything that is not
// scoped to a single repository.
type Config struct {
	ListenAddress  string `json:"listen_address"`
	MetricsAddress string `json:"metrics_address"`

	DriverName string `json:"driver_name"`
	DataSource string `json:"data_source"`

	// GithubAccessToken authenticates the GitHub host client's REST
	// calls. Never logged; §7 AuthFailure explicitly forbids it.
	GithubAccessToken string `json:"github_access_token"`
	GitlabAccessToken string `json:"gitlab_access_token"`

	// CircleCIToken authenticates the CircleCI API client held by the
	// CircleCI provider, which makes no API calls; the webhook itself
	// authenticates against each repository's CIBinding.Secret instead.
	CircleCIToken string `json:"circleci_token"`

	MergeabilityRefreshMinutes int `json:"mergeability_refresh_minutes"`
	QueueDepth                 int `json:"queue_depth"`

	Repositories []*model.RepoConfig `json:"repositories"`

	LogSettings struct {
		Level       string `json:"level"`
		Console     bool   `json:"console"`
		ConsoleJSON bool   `json:"console_json"`
		File        string `json:"file"`
	} `json:"log_settings"`
}

const (
	defaultMergeabilityRefreshMinutes = 10
	defaultQueueDepth                 = 256
)

// Load reads and decodes the JSON configuration file at path, applying
// defaults for fields the launcher is allowed to omit.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: open file")
	}
	defer f.Close()

	cfg := &Config{}
	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "config: decode file")
	}

	if cfg.MergeabilityRefreshMinutes == 0 {
		cfg.MergeabilityRefreshMinutes = defaultMergeabilityRefreshMinutes
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = defaultQueueDepth
	}

	for _, repo := range cfg.Repositories {
		if repo.IntegrationBranch == "" {
			repo.IntegrationBranch = "homu-tmp"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first structural problem found in cfg: a missing
// repository identity, an unknown host kind, or two repositories sharing
// the same owner/name label (§3.1.a — the Model is keyed by label).
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Repositories))
	for _, repo := range c.Repositories {
		if repo.Owner == "" || repo.Name == "" {
			return errors.New("config: repository entry missing owner or name")
		}
		if repo.Host != model.HostGitHub && repo.Host != model.HostGitLab {
			return errors.Errorf("config: repository %s has unknown host %q", repo.Label(), repo.Host)
		}
		label := repo.Label()
		if seen[label] {
			return errors.Errorf("config: repository %s configured more than once", label)
		}
		seen[label] = true
	}
	return nil
}

// NewLogger builds the process logger from LogSettings, following the
// teacher's SetupLogging (server/server.go): a console core and an
// optional file core, each with its own level, composed with
// zapcore.NewTee. mlog, the teacher's actual logging library, is an
// internal Mattermost package outside the reachable ecosystem, so this
// substitutes zap/zapcore, the library the rest of Homu already uses for
// every other component's structured logging.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if c.LogSettings.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(c.LogSettings.Level))); err != nil {
			return nil, errors.Wrap(err, "config: parse log level")
		}
	}

	var cores []zapcore.Core
	if c.LogSettings.Console {
		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder := zapcore.NewConsoleEncoder(encoderCfg)
		if c.LogSettings.ConsoleJSON {
			encoder = zapcore.NewJSONEncoder(encoderCfg)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level))
	}

	if c.LogSettings.File != "" {
		f, err := os.OpenFile(c.LogSettings.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, errors.Wrap(err, "config: open log file")
		}
		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.Lock(f), level))
	}

	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewProductionEncoderConfig()), zapcore.Lock(os.Stdout), level))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}

// GetRepository returns the configured repository matching owner/name,
// following the teacher's PRServerConfig.GetRepository lookup.
func (c *Config) GetRepository(owner, name string) (*model.RepoConfig, bool) {
	for _, repo := range c.Repositories {
		if repo.Owner == owner && repo.Name == name {
			return repo, true
		}
	}
	return nil, false
}

// Resolve implements intake.RepoResolver.
func (c *Config) Resolve(owner, name string) (*model.RepoConfig, bool) {
	return c.GetRepository(owner, name)
}
