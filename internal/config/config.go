// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Failure   FailureConfig   `mapstructure:"failure"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Snapshots SnapshotsConfig `mapstructure:"snapshots"`
}

// ServerConfig controls the status API server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ScraperConfig governs the dispatch engine and browser sessions.
type ScraperConfig struct {
	Concurrency       int    `mapstructure:"concurrency"`
	RateLimitPerHour  int    `mapstructure:"rate_limit_per_hour"`
	Headless          bool   `mapstructure:"headless"`
	PageTimeoutSec    int    `mapstructure:"page_timeout_seconds"`
	ResultWaitSec     int    `mapstructure:"result_wait_seconds"`
	TargetURL         string `mapstructure:"target_url"`
	WorkerID          string `mapstructure:"worker_id"`
	ChunkDelayMinMs   int    `mapstructure:"chunk_delay_min_ms"`
	ChunkDelayMaxMs   int    `mapstructure:"chunk_delay_max_ms"`
	WindowWidthFlag   int    `mapstructure:"window_width"`
	WindowHeightFlag  int    `mapstructure:"window_height"`
	SnapshotOnFailure bool   `mapstructure:"snapshot_on_failure"`
}

// FailureConfig tunes the cooldown state machine.
type FailureConfig struct {
	WindowMinutes         int `mapstructure:"window_minutes"`
	Threshold             int `mapstructure:"threshold"`
	CooldownMinutes       int `mapstructure:"cooldown_minutes"`
	NotifyIntervalMinutes int `mapstructure:"notify_interval_minutes"`
}

// DBConfig controls access to the job/result database.
type DBConfig struct {
	DSN           string `mapstructure:"dsn"`
	JobsTable     string `mapstructure:"jobs_table"`
	PriorityTable string `mapstructure:"priority_table"`
	MaxConns      int32  `mapstructure:"max_conns"`
	MinConns      int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for result notifications; empty topic disables them.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// SnapshotsConfig selects where failed-page HTML snapshots are written.
type SnapshotsConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IPTU")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("scraper.concurrency", 1)
	v.SetDefault("scraper.rate_limit_per_hour", 100)
	v.SetDefault("scraper.headless", true)
	v.SetDefault("scraper.page_timeout_seconds", 60)
	v.SetDefault("scraper.result_wait_seconds", 12)
	v.SetDefault("scraper.target_url", "https://www3.prefeitura.sp.gov.br/sf8663/formsinternet/principal.aspx")
	v.SetDefault("scraper.worker_id", "cli")
	v.SetDefault("scraper.chunk_delay_min_ms", 8000)
	v.SetDefault("scraper.chunk_delay_max_ms", 12000)
	v.SetDefault("scraper.window_width", 1920)
	v.SetDefault("scraper.window_height", 1080)
	v.SetDefault("scraper.snapshot_on_failure", true)
	v.SetDefault("failure.window_minutes", 10)
	v.SetDefault("failure.threshold", 2)
	v.SetDefault("failure.cooldown_minutes", 20)
	v.SetDefault("failure.notify_interval_minutes", 2)
	v.SetDefault("db.jobs_table", "scrape_jobs")
	v.SetDefault("db.priority_table", "scrape_jobs_priority")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("snapshots.provider", "none")
	v.SetDefault("snapshots.base_dir", "data/snapshots")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper.concurrency must be > 0")
	}
	if c.Scraper.RateLimitPerHour < 0 {
		return fmt.Errorf("scraper.rate_limit_per_hour must be >= 0")
	}
	if c.Scraper.PageTimeoutSec <= 0 {
		return fmt.Errorf("scraper.page_timeout_seconds must be > 0")
	}
	if c.Scraper.TargetURL == "" {
		return fmt.Errorf("scraper.target_url is required")
	}
	if c.Failure.Threshold <= 0 {
		return fmt.Errorf("failure.threshold must be > 0")
	}
	if c.Failure.WindowMinutes <= 0 || c.Failure.CooldownMinutes <= 0 {
		return fmt.Errorf("failure window and cooldown must be > 0")
	}
	switch c.Snapshots.Provider {
	case "none", "memory", "local", "gcs":
	default:
		return fmt.Errorf("unknown snapshots.provider %q", c.Snapshots.Provider)
	}
	if c.Snapshots.Provider == "gcs" && c.Snapshots.GCSBucket == "" {
		return fmt.Errorf("snapshots.gcs_bucket must be set when snapshots.provider is gcs")
	}
	return nil
}

// PageTimeout converts the page timeout knob into a duration.
func (c Config) PageTimeout() time.Duration {
	return time.Duration(c.Scraper.PageTimeoutSec) * time.Second
}

// ResultWait converts the result-page settle knob into a duration.
func (c Config) ResultWait() time.Duration {
	return time.Duration(c.Scraper.ResultWaitSec) * time.Second
}

// FailureWindow converts the rolling window knob into a duration.
func (c Config) FailureWindow() time.Duration {
	return time.Duration(c.Failure.WindowMinutes) * time.Minute
}

// CooldownDuration converts the cooldown knob into a duration.
func (c Config) CooldownDuration() time.Duration {
	return time.Duration(c.Failure.CooldownMinutes) * time.Minute
}

// NotifyInterval converts the cooldown progress-notification knob into a duration.
func (c Config) NotifyInterval() time.Duration {
	return time.Duration(c.Failure.NotifyIntervalMinutes) * time.Minute
}
