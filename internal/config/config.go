package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName      string `mapstructure:"app_name"`
	Env          string `mapstructure:"app_env"`
	LogLevel     string `mapstructure:"log_level"`
	SourcesFile  string `mapstructure:"sources_file"`
	DispatchFile string `mapstructure:"dispatch_file"`

	DatabaseDriver string `mapstructure:"database_driver"`
	DatabaseDSN    string `mapstructure:"database_dsn"`

	JournalPath            string        `mapstructure:"journal_path"`
	JournalTTLSeconds      int64         `mapstructure:"journal_ttl_seconds"`
	JournalCleanupSeconds  int64         `mapstructure:"journal_cleanup_interval_seconds"`
	JournalTTL             time.Duration `mapstructure:"-"`
	JournalCleanupInterval time.Duration `mapstructure:"-"`

	AnalyzerURL            string        `mapstructure:"analyzer_url"`
	AnalyzerTimeoutSeconds int64         `mapstructure:"analyzer_timeout_seconds"`
	AnalyzerTimeout        time.Duration `mapstructure:"-"`

	HTTPTimeoutSeconds int64         `mapstructure:"http_timeout_seconds"`
	HTTPTimeout        time.Duration `mapstructure:"-"`
	HTTPMaxRetries     int           `mapstructure:"http_max_retries"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "gamelens-review-harvester")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("sources_file", "./configs/sources.yaml")
	v.SetDefault("dispatch_file", "./configs/dispatch.yaml")
	v.SetDefault("database_driver", "sqlite")
	v.SetDefault("database_dsn", "./data/harvester.db")
	v.SetDefault("journal_path", "./data/journal.db")
	v.SetDefault("journal_ttl_seconds", int64((14*24*time.Hour)/time.Second))
	v.SetDefault("journal_cleanup_interval_seconds", int64((12*time.Hour)/time.Second))
	v.SetDefault("analyzer_url", "")
	v.SetDefault("analyzer_timeout_seconds", 60)
	v.SetDefault("http_timeout_seconds", 15)
	v.SetDefault("http_max_retries", 3)

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	switch cfg.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported database_driver %q", cfg.DatabaseDriver)
	}

	if cfg.JournalTTLSeconds <= 0 {
		return nil, fmt.Errorf("invalid journal_ttl_seconds (must be positive seconds)")
	}
	if cfg.JournalCleanupSeconds <= 0 {
		return nil, fmt.Errorf("invalid journal_cleanup_interval_seconds (must be positive seconds)")
	}
	if cfg.HTTPTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("invalid http_timeout_seconds (must be positive seconds)")
	}
	if cfg.HTTPMaxRetries < 0 {
		return nil, fmt.Errorf("invalid http_max_retries (must not be negative)")
	}
	cfg.JournalTTL = time.Duration(cfg.JournalTTLSeconds) * time.Second
	cfg.JournalCleanupInterval = time.Duration(cfg.JournalCleanupSeconds) * time.Second
	cfg.AnalyzerTimeout = time.Duration(cfg.AnalyzerTimeoutSeconds) * time.Second
	cfg.HTTPTimeout = time.Duration(cfg.HTTPTimeoutSeconds) * time.Second

	return &cfg, nil
}
