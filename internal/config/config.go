package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	ZeroBounce ZeroBounceConfig `yaml:"zerobounce" mapstructure:"zerobounce"`
	Apollo     ApolloConfig     `yaml:"apollo" mapstructure:"apollo"`
	HubSpot    HubSpotConfig    `yaml:"hubspot" mapstructure:"hubspot"`
	Instantly  InstantlyConfig  `yaml:"instantly" mapstructure:"instantly"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// VendorConfig holds the throttle settings every vendor credential shares.
type VendorConfig struct {
	RPS         float64 `yaml:"rps" mapstructure:"rps"`
	Burst       int     `yaml:"burst" mapstructure:"burst"`
	QueueDepth  int     `yaml:"queue_depth" mapstructure:"queue_depth"`
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// ZeroBounceConfig holds email verification vendor settings.
type ZeroBounceConfig struct {
	Key     string       `yaml:"key" mapstructure:"key"`
	BaseURL string       `yaml:"base_url" mapstructure:"base_url"`
	Vendor  VendorConfig `yaml:"limits" mapstructure:"limits"`
}

// ApolloConfig holds contact enrichment vendor settings.
type ApolloConfig struct {
	Key     string       `yaml:"key" mapstructure:"key"`
	BaseURL string       `yaml:"base_url" mapstructure:"base_url"`
	Vendor  VendorConfig `yaml:"limits" mapstructure:"limits"`
}

// HubSpotConfig holds CRM settings. Token is a private-app access token;
// OAuth exchange happens outside this service.
type HubSpotConfig struct {
	Token    string       `yaml:"token" mapstructure:"token"`
	BaseURL  string       `yaml:"base_url" mapstructure:"base_url"`
	PageSize int          `yaml:"page_size" mapstructure:"page_size"`
	Vendor   VendorConfig `yaml:"limits" mapstructure:"limits"`
}

// InstantlyConfig holds outreach tool settings.
type InstantlyConfig struct {
	Key     string       `yaml:"key" mapstructure:"key"`
	BaseURL string       `yaml:"base_url" mapstructure:"base_url"`
	Vendor  VendorConfig `yaml:"limits" mapstructure:"limits"`
}

// SalesforceConfig holds Salesforce JWT auth settings for the optional
// Salesforce sync target.
type SalesforceConfig struct {
	ClientID string  `yaml:"client_id" mapstructure:"client_id"`
	Username string  `yaml:"username" mapstructure:"username"`
	KeyPath  string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string  `yaml:"login_url" mapstructure:"login_url"`
	RPS      float64 `yaml:"rps" mapstructure:"rps"`
}

// PipelineConfig configures stage execution and retry behavior.
type PipelineConfig struct {
	MaxAttempts       int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs  int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs      int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
}

// ScoringConfig points at the optional scoring weights file.
type ScoringConfig struct {
	ConfigPath string `yaml:"config_path" mapstructure:"config_path"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	UploadDir      string   `yaml:"upload_dir" mapstructure:"upload_dir"`
}

// MonitoringConfig configures background health checks and alerting.
type MonitoringConfig struct {
	Enabled             bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	JobFailRateLimit    float64 `yaml:"job_fail_rate_limit" mapstructure:"job_fail_rate_limit"`
	SyncFailRateLimit   float64 `yaml:"sync_fail_rate_limit" mapstructure:"sync_fail_rate_limit"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leadpipe.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.upload_dir", "uploads")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("zerobounce.base_url", "https://api.zerobounce.net/v2")
	v.SetDefault("zerobounce.limits.rps", 10)
	v.SetDefault("zerobounce.limits.concurrency", 8)
	v.SetDefault("zerobounce.limits.queue_depth", 128)
	v.SetDefault("apollo.base_url", "https://api.apollo.io/v1")
	v.SetDefault("apollo.limits.rps", 2)
	v.SetDefault("apollo.limits.concurrency", 2)
	v.SetDefault("apollo.limits.queue_depth", 64)
	v.SetDefault("hubspot.base_url", "https://api.hubapi.com")
	v.SetDefault("hubspot.page_size", 100)
	v.SetDefault("hubspot.limits.rps", 4)
	v.SetDefault("hubspot.limits.concurrency", 4)
	v.SetDefault("hubspot.limits.queue_depth", 64)
	v.SetDefault("instantly.base_url", "https://api.instantly.ai/api/v1")
	v.SetDefault("instantly.limits.rps", 5)
	v.SetDefault("instantly.limits.concurrency", 4)
	v.SetDefault("instantly.limits.queue_depth", 64)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rps", 5)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.job_fail_rate_limit", 0.25)
	v.SetDefault("monitoring.sync_fail_rate_limit", 0.25)
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.initial_backoff_ms", 500)
	v.SetDefault("pipeline.max_backoff_ms", 30000)
	v.SetDefault("pipeline.backoff_multiplier", 2.0)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
