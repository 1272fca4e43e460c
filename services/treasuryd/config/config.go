package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen          = ":8480"
	defaultDataDir         = "data/treasury"
	defaultParamsFile      = "config/treasury.toml"
	defaultQueueSchedule   = "@every 1m"
	defaultRewardsSchedule = "@every 1h"
	defaultQueueBatch      = 64
	defaultRequestsPerMin  = 120
	defaultBurst           = 20
)

// Config captures the runtime settings for the treasury daemon.
type Config struct {
	ListenAddress string        `yaml:"listen"`
	Environment   string        `yaml:"env"`
	DataDir       string        `yaml:"data_dir"`
	ParamsFile    string        `yaml:"params_file"`
	Bootstrap     bool          `yaml:"bootstrap"`
	Log           LogConfig     `yaml:"log"`
	Journal       JournalConfig `yaml:"journal"`
	Keeper        KeeperConfig  `yaml:"keeper"`
	RateLimit     RateLimit     `yaml:"rate_limit"`
	Telemetry     Telemetry     `yaml:"otel"`
}

// LogConfig controls the structured logger and its optional rotating file.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// JournalConfig points the operation journal at a sqlite database. An empty
// DSN disables the journal.
type JournalConfig struct {
	DSN string `yaml:"dsn"`
}

// KeeperConfig schedules the periodic admin steps.
type KeeperConfig struct {
	Enabled            bool   `yaml:"enabled"`
	QueueSchedule      string `yaml:"queue_schedule"`
	QueueBatch         uint64 `yaml:"queue_batch"`
	RewardsSchedule    string `yaml:"rewards_schedule"`
	RewardsBatch       uint64 `yaml:"rewards_batch"`
	InvariantsSchedule string `yaml:"invariants_schedule"`
}

// RateLimit bounds the per-client request rate on the HTTP surface.
type RateLimit struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// Telemetry configures the OTLP exporters. Empty endpoint and headers fall
// back to OTEL_EXPORTER_OTLP_ENDPOINT and OTEL_EXPORTER_OTLP_HEADERS.
type Telemetry struct {
	Endpoint              string `yaml:"endpoint"`
	Insecure              bool   `yaml:"insecure"`
	Headers               string `yaml:"headers"`
	Traces                bool   `yaml:"traces"`
	Metrics               bool   `yaml:"metrics"`
	MetricIntervalSeconds int    `yaml:"metric_interval_seconds"`
}

// Default returns the settings used for keys absent from the file.
func Default() Config {
	return Config{
		ListenAddress: defaultListen,
		DataDir:       defaultDataDir,
		ParamsFile:    defaultParamsFile,
		Log:           LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
		Keeper: KeeperConfig{
			Enabled:         true,
			QueueSchedule:   defaultQueueSchedule,
			QueueBatch:      defaultQueueBatch,
			RewardsSchedule: defaultRewardsSchedule,
		},
		RateLimit: RateLimit{RequestsPerMinute: defaultRequestsPerMin, Burst: defaultBurst},
		Telemetry: Telemetry{Insecure: true, MetricIntervalSeconds: 15},
	}
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LedgerPath is the LevelDB directory holding treasury records.
func (cfg Config) LedgerPath() string {
	return filepath.Join(cfg.DataDir, "ledger")
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	cfg.ParamsFile = strings.TrimSpace(cfg.ParamsFile)
	if cfg.ParamsFile == "" {
		cfg.ParamsFile = defaultParamsFile
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
	cfg.Journal.DSN = strings.TrimSpace(cfg.Journal.DSN)
	cfg.Keeper.normalize()
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	}
	cfg.Telemetry.Headers = strings.TrimSpace(cfg.Telemetry.Headers)
	if cfg.Telemetry.Headers == "" {
		cfg.Telemetry.Headers = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	}
}

func (cfg *KeeperConfig) normalize() {
	cfg.QueueSchedule = strings.TrimSpace(cfg.QueueSchedule)
	if cfg.QueueSchedule == "" {
		cfg.QueueSchedule = defaultQueueSchedule
	}
	cfg.RewardsSchedule = strings.TrimSpace(cfg.RewardsSchedule)
	if cfg.RewardsSchedule == "" {
		cfg.RewardsSchedule = defaultRewardsSchedule
	}
	cfg.InvariantsSchedule = strings.TrimSpace(cfg.InvariantsSchedule)
	if cfg.QueueBatch == 0 {
		cfg.QueueBatch = defaultQueueBatch
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log: unknown level %q", cfg.Log.Level)
	}
	if cfg.Log.MaxSizeMB < 0 || cfg.Log.MaxBackups < 0 || cfg.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log: rotation limits must not be negative")
	}
	if err := cfg.Keeper.validate(); err != nil {
		return fmt.Errorf("keeper: %w", err)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if cfg.Telemetry.MetricIntervalSeconds < 0 {
		return fmt.Errorf("otel: metric interval must not be negative")
	}
	return nil
}

func (cfg KeeperConfig) validate() error {
	if !cfg.Enabled {
		return nil
	}
	schedules := map[string]string{
		"queue_schedule":      cfg.QueueSchedule,
		"rewards_schedule":    cfg.RewardsSchedule,
		"invariants_schedule": cfg.InvariantsSchedule,
	}
	for key, spec := range schedules {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s %q: %w", key, spec, err)
		}
	}
	return nil
}
