// Package config loads application configuration from an optional YAML file
// and MARKET_SIGNAL_* environment variables, with defaults matching the
// production tuning.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Config holds the full application configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Features  FeaturesConfig  `yaml:"features" mapstructure:"features"`
	Anomaly   AnomalyConfig   `yaml:"anomaly" mapstructure:"anomaly"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Lifecycle LifecycleConfig `yaml:"lifecycle" mapstructure:"lifecycle"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend       string `yaml:"backend" mapstructure:"backend"` // memory or postgres
	PostgresDSN   string `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn" mapstructure:"clickhouse_dsn"` // optional metric history offload
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// IngestConfig configures the batch ingestion loop.
type IngestConfig struct {
	IntervalSecs int      `yaml:"interval_secs" mapstructure:"interval_secs"`
	Sources      []string `yaml:"sources" mapstructure:"sources"` // enabled sources
	StubSeed     int64    `yaml:"stub_seed" mapstructure:"stub_seed"`
}

// FeaturesConfig bounds the trailing statistics.
type FeaturesConfig struct {
	Window     int     `yaml:"window" mapstructure:"window"`
	MinHistory int     `yaml:"min_history" mapstructure:"min_history"`
	Clamp      float64 `yaml:"clamp" mapstructure:"clamp"`
}

// AnomalyConfig holds the forest hyperparameters.
type AnomalyConfig struct {
	Trees         int   `yaml:"trees" mapstructure:"trees"`
	SubsampleSize int   `yaml:"subsample_size" mapstructure:"subsample_size"`
	Seed          int64 `yaml:"seed" mapstructure:"seed"`
}

// ScoringConfig holds the alert policy.
type ScoringConfig struct {
	AnomalyThreshold   float64  `yaml:"anomaly_threshold" mapstructure:"anomaly_threshold"`
	HighSeverityScore  float64  `yaml:"high_severity_score" mapstructure:"high_severity_score"`
	HighPriorityLabels []string `yaml:"high_priority_labels" mapstructure:"high_priority_labels"`
}

// LifecycleConfig bounds model fitting.
type LifecycleConfig struct {
	MinFitSamples     int `yaml:"min_fit_samples" mapstructure:"min_fit_samples"`
	BootstrapLimit    int `yaml:"bootstrap_limit" mapstructure:"bootstrap_limit"`
	RefitTimeoutSecs  int `yaml:"refit_timeout_secs" mapstructure:"refit_timeout_secs"`
	RefitIntervalSecs int `yaml:"refit_interval_secs" mapstructure:"refit_interval_secs"` // 0 disables periodic refit
}

// RefitTimeout returns the configured fit time box.
func (c LifecycleConfig) RefitTimeout() time.Duration {
	return time.Duration(c.RefitTimeoutSecs) * time.Second
}

// RefitInterval returns the periodic refit cadence, 0 when disabled.
func (c LifecycleConfig) RefitInterval() time.Duration {
	return time.Duration(c.RefitIntervalSecs) * time.Second
}

// Interval returns the ingestion cadence.
func (c IngestConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	return load(".")
}

func load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)

	v.SetEnvPrefix("MARKET_SIGNAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("server.port", 8080)
	v.SetDefault("ingest.interval_secs", 60)
	v.SetDefault("ingest.sources", []string{
		"equity_market", "options_market", "prediction_market", "legislative_disclosure",
	})
	v.SetDefault("ingest.stub_seed", 1)
	v.SetDefault("features.window", 30)
	v.SetDefault("features.min_history", 10)
	v.SetDefault("features.clamp", 10.0)
	v.SetDefault("anomaly.trees", 100)
	v.SetDefault("anomaly.subsample_size", 256)
	v.SetDefault("scoring.anomaly_threshold", 0.75)
	v.SetDefault("scoring.high_severity_score", 0.9)
	v.SetDefault("scoring.high_priority_labels", []string{"insider_trade", "congress_trade"})
	v.SetDefault("lifecycle.min_fit_samples", 50)
	v.SetDefault("lifecycle.bootstrap_limit", 2000)
	v.SetDefault("lifecycle.refit_timeout_secs", 120)
	v.SetDefault("lifecycle.refit_interval_secs", 3600)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: postgres backend requires storage.postgres_dsn")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if c.Scoring.AnomalyThreshold < 0 || c.Scoring.AnomalyThreshold > 1 {
		return fmt.Errorf("config: scoring.anomaly_threshold %v outside [0,1]", c.Scoring.AnomalyThreshold)
	}
	if c.Features.Window < c.Features.MinHistory {
		return fmt.Errorf("config: features.window %d below features.min_history %d",
			c.Features.Window, c.Features.MinHistory)
	}
	if c.Lifecycle.MinFitSamples <= 0 {
		return fmt.Errorf("config: lifecycle.min_fit_samples must be positive")
	}
	return nil
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Format == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}
