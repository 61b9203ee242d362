package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Samsara SamsaraConfig `yaml:"samsara" mapstructure:"samsara"`
	Sheets  SheetsConfig  `yaml:"sheets" mapstructure:"sheets"`
	Enrich  EnrichConfig  `yaml:"enrich" mapstructure:"enrich"`
	Sync    SyncConfig    `yaml:"sync" mapstructure:"sync"`
	Notify  NotifyConfig  `yaml:"notify" mapstructure:"notify"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Monitor MonitorConfig `yaml:"monitor" mapstructure:"monitor"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// SamsaraConfig holds the telemetry API settings.
type SamsaraConfig struct {
	APIToken         string  `yaml:"api_token" mapstructure:"api_token"`
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	PageLimit        int     `yaml:"page_limit" mapstructure:"page_limit"`
	MaxPages         int     `yaml:"max_pages" mapstructure:"max_pages"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
}

// SheetsConfig holds the destination spreadsheet settings.
type SheetsConfig struct {
	CredentialsPath string `yaml:"credentials_path" mapstructure:"credentials_path"`
	SpreadsheetID   string `yaml:"spreadsheet_id" mapstructure:"spreadsheet_id"`
	Worksheet       string `yaml:"worksheet" mapstructure:"worksheet"`
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	TokenURL        string `yaml:"token_url" mapstructure:"token_url"`
	TimeoutSecs     int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// EnrichConfig configures dispatch/telemetry matching.
type EnrichConfig struct {
	SourcePrefix          string  `yaml:"source_prefix" mapstructure:"source_prefix"`
	ToleranceDays         int     `yaml:"tolerance_days" mapstructure:"tolerance_days"`
	AvgSpeedMPH           float64 `yaml:"avg_speed_mph" mapstructure:"avg_speed_mph"`
	TieBreak              string  `yaml:"tie_break" mapstructure:"tie_break"`
	DriverColumn          string  `yaml:"driver_column" mapstructure:"driver_column"`
	DateColumn            string  `yaml:"date_column" mapstructure:"date_column"`
	TelemetryDriverColumn string  `yaml:"telemetry_driver_column" mapstructure:"telemetry_driver_column"`
	TelemetryDateColumn   string  `yaml:"telemetry_date_column" mapstructure:"telemetry_date_column"`
	ProfilePath           string  `yaml:"profile_path" mapstructure:"profile_path"`
	StrictSchema          bool    `yaml:"strict_schema" mapstructure:"strict_schema"`
}

// SyncConfig configures the upsert executor.
type SyncConfig struct {
	KeyColumn        string `yaml:"key_column" mapstructure:"key_column"`
	BatchSize        int    `yaml:"batch_size" mapstructure:"batch_size"`
	PacingMs         int    `yaml:"pacing_ms" mapstructure:"pacing_ms"`
	MaxAttempts      int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int    `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int    `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// NotifyConfig configures completion/failure notifications.
type NotifyConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	Channel     string `yaml:"channel" mapstructure:"channel"`
	OnSuccess   bool   `yaml:"on_success" mapstructure:"on_success"`
	OnError     bool   `yaml:"on_error" mapstructure:"on_error"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// StoreConfig configures the sync-run ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// MonitorConfig configures ledger health checks and alerting.
type MonitorConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinMatchRate         float64 `yaml:"min_match_rate" mapstructure:"min_match_rate"`
	StaleHours           int     `yaml:"stale_hours" mapstructure:"stale_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("samsara.base_url", "https://api.samsara.com")
	v.SetDefault("samsara.timeout_secs", 30)
	v.SetDefault("samsara.max_retries", 3)
	v.SetDefault("samsara.rate_per_sec", 5.0)
	v.SetDefault("samsara.page_limit", 512)
	v.SetDefault("samsara.max_pages", 100)
	v.SetDefault("samsara.failure_threshold", 5)
	v.SetDefault("sheets.worksheet", "RawData")
	v.SetDefault("sheets.base_url", "https://sheets.googleapis.com/v4")
	v.SetDefault("sheets.token_url", "https://oauth2.googleapis.com/token")
	v.SetDefault("sheets.timeout_secs", 30)
	v.SetDefault("enrich.source_prefix", "samsara")
	v.SetDefault("enrich.tolerance_days", 1)
	v.SetDefault("enrich.avg_speed_mph", 35.0)
	v.SetDefault("enrich.tie_break", "first")
	v.SetDefault("enrich.driver_column", "driver_name")
	v.SetDefault("enrich.date_column", "date")
	v.SetDefault("enrich.telemetry_driver_column", "driver_name")
	v.SetDefault("enrich.telemetry_date_column", "trip_date")
	v.SetDefault("enrich.strict_schema", true)
	v.SetDefault("sync.key_column", "_kp_job_id")
	v.SetDefault("sync.batch_size", 1000)
	v.SetDefault("sync.pacing_ms", 1000)
	v.SetDefault("sync.max_attempts", 4)
	v.SetDefault("sync.initial_backoff_ms", 5000)
	v.SetDefault("sync.max_backoff_ms", 60000)
	v.SetDefault("notify.on_success", true)
	v.SetDefault("notify.on_error", true)
	v.SetDefault("notify.channel", "#automation-alerts")
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "dispatch-sync.db")
	v.SetDefault("monitor.lookback_hours", 24)
	v.SetDefault("monitor.check_interval_secs", 900)
	v.SetDefault("monitor.failure_rate_threshold", 0.2)
	v.SetDefault("monitor.min_match_rate", 0.5)
	v.SetDefault("monitor.stale_hours", 26)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command needs before it does any work.
// Mode is one of "sync", "enrich", or "runs".
func (c *Config) Validate(mode string) error {
	var errs []string
	require := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}

	switch mode {
	case "sync":
		require(c.Sheets.SpreadsheetID != "", "sheets.spreadsheet_id is required")
		require(c.Sheets.CredentialsPath != "", "sheets.credentials_path is required")
		require(c.Sync.KeyColumn != "", "sync.key_column is required")
		require(c.Sync.BatchSize > 0, "sync.batch_size must be positive")
		require(c.Store.DatabaseURL != "", "store.database_url is required")
		fallthrough
	case "enrich":
		require(c.Enrich.ToleranceDays >= 0, "enrich.tolerance_days must not be negative")
		require(c.Enrich.AvgSpeedMPH > 0, "enrich.avg_speed_mph must be positive")
		require(c.Enrich.TieBreak == "first" || c.Enrich.TieBreak == "closest_date",
			fmt.Sprintf("enrich.tie_break %q must be first or closest_date", c.Enrich.TieBreak))
		require(c.Enrich.DriverColumn != "" && c.Enrich.DateColumn != "", "enrich.driver_column and enrich.date_column are required")
	case "runs":
		require(c.Store.DatabaseURL != "", "store.database_url is required")
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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
