// Package config loads and validates search configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override (GRSEARCH_RUN_WORKERS, ...).
const EnvPrefix = "GRSEARCH"

// Storage providers.
const (
	StorageNone  = "none"
	StorageLocal = "local"
	StorageGCS   = "gcs"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Run      RunConfig      `mapstructure:"run"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	DB       DBConfig       `mapstructure:"db"`
}

// RunConfig controls the orchestrator.
type RunConfig struct {
	Input            string `mapstructure:"input"`
	Output           string `mapstructure:"output"`
	Workers          int    `mapstructure:"workers"`
	Resume           bool   `mapstructure:"resume"`
	Debug            bool   `mapstructure:"debug"`
	CheckpointDir    string `mapstructure:"checkpoint_dir"`
	LogDir           string `mapstructure:"log_dir"`
	PollIntervalMs   int    `mapstructure:"poll_interval_ms"`
	SnapshotStep     int    `mapstructure:"snapshot_step"`
	StopGraceSeconds int    `mapstructure:"stop_grace_seconds"`
	ShowBar          bool   `mapstructure:"show_bar"`
}

// ExecutorConfig tunes the per-worker task pipeline.
type ExecutorConfig struct {
	Concurrency      int     `mapstructure:"concurrency"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	RatePerSecond    float64 `mapstructure:"rate_per_second"`
	Burst            int     `mapstructure:"burst"`
}

// FetchConfig configures the Goodreads fetchers.
type FetchConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	UserAgent         string `mapstructure:"user_agent"`
	AcceptLanguage    string `mapstructure:"accept_language"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	Headless          bool   `mapstructure:"headless"`
	HeadlessParallel  int    `mapstructure:"headless_parallel"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	RenderThreshold   int    `mapstructure:"render_threshold"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig controls the status server. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// StorageConfig selects where the final output is uploaded.
type StorageConfig struct {
	Provider string `mapstructure:"provider"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	LocalDir string `mapstructure:"local_dir"`
}

// NotifyConfig holds Pub/Sub run notification settings. An empty topic
// disables notifications.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// DBConfig controls the optional Postgres run store. An empty DSN disables it.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int    `mapstructure:"max_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-supplied Viper instance, so command flags
// bound to v override file and environment values.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run.output", "goodreads_results.csv")
	v.SetDefault("run.workers", 4)
	v.SetDefault("run.resume", false)
	v.SetDefault("run.debug", false)
	v.SetDefault("run.checkpoint_dir", "checkpoints")
	v.SetDefault("run.log_dir", "logs")
	v.SetDefault("run.poll_interval_ms", 2000)
	v.SetDefault("run.snapshot_step", 10)
	v.SetDefault("run.stop_grace_seconds", 5)
	v.SetDefault("run.show_bar", true)
	v.SetDefault("executor.concurrency", 8)
	v.SetDefault("executor.max_retries", 3)
	v.SetDefault("executor.backoff_initial_ms", 250)
	v.SetDefault("executor.backoff_max_ms", 5000)
	v.SetDefault("executor.rate_per_second", 2.0)
	v.SetDefault("executor.burst", 2)
	v.SetDefault("fetch.base_url", "https://www.goodreads.com")
	v.SetDefault("fetch.accept_language", "en-US,en;q=0.9")
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.headless", false)
	v.SetDefault("fetch.headless_parallel", 1)
	v.SetDefault("fetch.nav_timeout_seconds", 25)
	v.SetDefault("fetch.render_threshold", 2048)
	v.SetDefault("logging.development", false)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("storage.provider", StorageNone)
	v.SetDefault("storage.prefix", "runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Run.Workers <= 0 {
		return fmt.Errorf("run.workers must be > 0")
	}
	if c.Run.CheckpointDir == "" {
		return fmt.Errorf("run.checkpoint_dir must be set")
	}
	if c.Run.PollIntervalMs <= 0 {
		return fmt.Errorf("run.poll_interval_ms must be > 0")
	}
	if c.Run.SnapshotStep <= 0 || c.Run.SnapshotStep > 100 {
		return fmt.Errorf("run.snapshot_step must be in 1..100")
	}
	if c.Executor.Concurrency <= 0 {
		return fmt.Errorf("executor.concurrency must be > 0")
	}
	if c.Executor.MaxRetries < 0 {
		return fmt.Errorf("executor.max_retries must be >= 0")
	}
	if c.Executor.BackoffMaxMs < c.Executor.BackoffInitialMs {
		return fmt.Errorf("executor.backoff_max_ms must be >= executor.backoff_initial_ms")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.Headless && c.Fetch.HeadlessParallel <= 0 {
		return fmt.Errorf("fetch.headless_parallel must be > 0 when headless is enabled")
	}
	switch c.Storage.Provider {
	case StorageNone, "":
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local provider")
		}
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("storage.provider %q is not one of none, local, gcs", c.Storage.Provider)
	}
	if c.Notify.Topic != "" && c.Notify.ProjectID == "" {
		return fmt.Errorf("notify.project_id must be set when notify.topic is set")
	}
	return nil
}

// PollInterval returns the monitor poll interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Run.PollIntervalMs) * time.Millisecond
}

// StopGrace returns the wait between SIGTERM and SIGKILL for workers.
func (c Config) StopGrace() time.Duration {
	return time.Duration(c.Run.StopGraceSeconds) * time.Second
}

// FetchTimeout returns the per-request timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// NavTimeout returns the headless navigation timeout.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Fetch.NavTimeoutSeconds) * time.Second
}

// Backoff returns the initial and maximum retry backoff.
func (c Config) Backoff() (time.Duration, time.Duration) {
	return time.Duration(c.Executor.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.Executor.BackoffMaxMs) * time.Millisecond
}

// ConnLifetime returns the Postgres connection lifetime.
func (c Config) ConnLifetime() time.Duration {
	return time.Duration(c.DB.MaxConnLifetimeMinutes) * time.Minute
}
