package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/t77yq/geo-monitor/internal/model"
	"github.com/t77yq/geo-monitor/internal/monitor"
	"github.com/t77yq/geo-monitor/internal/notify"
	"github.com/t77yq/geo-monitor/internal/producer"
	"github.com/t77yq/geo-monitor/internal/scheduler"
	"github.com/t77yq/geo-monitor/internal/storage"
)

const (
	envPrefix     = "GEO"
	envConfigPath = "GEO_CONFIG"
)

// producer ids name a NATS subject token and a feedback file
var producerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Config is the full process configuration
type Config struct {
	App            AppConfig              `mapstructure:"app"`
	Log            LogConfig              `mapstructure:"log"`
	HTTP           HTTPConfig             `mapstructure:"http"`
	Storage        StorageConfig          `mapstructure:"storage"`
	Monitoring     MonitoringConfig       `mapstructure:"monitoring"`
	Producers      []producer.Config      `mapstructure:"producers"`
	SystemProducer SystemProducerConfig   `mapstructure:"system_producer"`
	Rules          []model.AlertRule      `mapstructure:"rules"`
	Feedback       FeedbackConfig         `mapstructure:"feedback"`
	Notifications  NotificationsConfig    `mapstructure:"notifications"`
	NATS           NATSConfig             `mapstructure:"nats"`
	Business       monitor.BusinessConfig `mapstructure:"business"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type StorageConfig struct {
	Driver        string `mapstructure:"driver"`
	DSN           string `mapstructure:"dsn"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type MonitoringConfig struct {
	Interval             time.Duration `mapstructure:"interval"`
	TrendWindow          int           `mapstructure:"trend_window"`
	FetchTimeout         time.Duration `mapstructure:"fetch_timeout"`
	MaxConcurrentFetches int           `mapstructure:"max_concurrent_fetches"`
	RetryAttempts        int           `mapstructure:"retry_attempts"`
	MaxDataAge           time.Duration `mapstructure:"max_data_age"`
	CleanupSchedule      string        `mapstructure:"cleanup_schedule"`
	Autostart            bool          `mapstructure:"autostart"`
}

type SystemProducerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	ID      string `mapstructure:"id"`
}

type FeedbackConfig struct {
	TrendThreshold float64 `mapstructure:"trend_threshold"`
	Dir            string  `mapstructure:"dir"`
	JetStream      bool    `mapstructure:"jetstream"`
}

// ChannelConfig toggles a notification channel and sets its severity floor
type ChannelConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MinSeverity string `mapstructure:"min_severity"`
}

type WebhookConfig struct {
	URL         string `mapstructure:"url"`
	MinSeverity string `mapstructure:"min_severity"`
}

type EmailConfig struct {
	notify.EmailConfig `mapstructure:",squash"`
	MinSeverity        string `mapstructure:"min_severity"`
}

type NotificationsConfig struct {
	Log       ChannelConfig `mapstructure:"log"`
	Webhook   WebhookConfig `mapstructure:"webhook"`
	Email     EmailConfig   `mapstructure:"email"`
	JetStream ChannelConfig `mapstructure:"jetstream"`
}

type NATSConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "geo-monitor")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("storage.driver", storage.DriverSQLite)
	v.SetDefault("storage.dsn", "geo_monitor.db")
	v.SetDefault("storage.retention_days", scheduler.DefaultRetentionDays)

	v.SetDefault("monitoring.interval", 6*time.Hour)
	v.SetDefault("monitoring.trend_window", monitor.DefaultTrendWindow)
	v.SetDefault("monitoring.fetch_timeout", 60*time.Second)
	v.SetDefault("monitoring.max_concurrent_fetches", 5)
	v.SetDefault("monitoring.retry_attempts", 1)
	v.SetDefault("monitoring.max_data_age", time.Duration(0))
	v.SetDefault("monitoring.cleanup_schedule", scheduler.DefaultCleanupSchedule)
	v.SetDefault("monitoring.autostart", false)

	v.SetDefault("system_producer.enabled", false)
	v.SetDefault("system_producer.id", "system")

	v.SetDefault("feedback.trend_threshold", monitor.DefaultTrendThreshold)
	v.SetDefault("feedback.dir", "")
	v.SetDefault("feedback.jetstream", false)

	v.SetDefault("notifications.log.enabled", true)
	v.SetDefault("notifications.log.min_severity", string(model.AlertSeverityLow))
	v.SetDefault("notifications.webhook.url", "")
	v.SetDefault("notifications.webhook.min_severity", string(model.AlertSeverityMedium))
	v.SetDefault("notifications.email.host", "")
	v.SetDefault("notifications.email.port", 587)
	v.SetDefault("notifications.email.username", "")
	v.SetDefault("notifications.email.password", "")
	v.SetDefault("notifications.email.from", "")
	v.SetDefault("notifications.email.to", []string{})
	v.SetDefault("notifications.email.min_severity", string(model.AlertSeverityHigh))
	v.SetDefault("notifications.jetstream.enabled", false)
	v.SetDefault("notifications.jetstream.min_severity", string(model.AlertSeverityLow))

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)

	business := monitor.DefaultBusinessConfig()
	v.SetDefault("business.brand_mention_value", business.BrandMentionValue)
	v.SetDefault("business.monthly_investment", business.MonthlyInvestment)
	v.SetDefault("business.value_per_visit", business.ValuePerVisit)
	v.SetDefault("business.conversion_rate", business.ConversionRate)
}

// Load reads configuration from path, or from GEO_CONFIG, or from
// ./config/config.yaml. A missing default file falls back to defaults; a
// missing explicit file is an error. Environment variables prefixed GEO_
// override file values, and a .env file is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings that cannot be checked later. Rules are
// validated when they are registered with the engine.
func (c *Config) Validate() error {
	var errs []error

	if c.Monitoring.Interval < scheduler.MinInterval {
		errs = append(errs, fmt.Errorf("monitoring.interval must be at least %s", scheduler.MinInterval))
	}
	if c.Monitoring.TrendWindow < 2 {
		errs = append(errs, fmt.Errorf("monitoring.trend_window must be at least 2"))
	}
	if c.Monitoring.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("monitoring.fetch_timeout must be positive"))
	}

	switch c.Storage.Driver {
	case storage.DriverSQLite, storage.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}
	if c.Storage.DSN == "" {
		errs = append(errs, fmt.Errorf("storage.dsn is required"))
	}

	seen := make(map[string]bool)
	for i, p := range c.Producers {
		switch {
		case p.ID == "":
			errs = append(errs, fmt.Errorf("producers[%d] has no id", i))
		case seen[p.ID]:
			errs = append(errs, fmt.Errorf("producer %s is configured twice", p.ID))
		case !producerIDPattern.MatchString(p.ID):
			errs = append(errs, fmt.Errorf("producer id %q may only contain letters, digits, '-' and '_'", p.ID))
		}
		seen[p.ID] = true

		if p.Kind == "" {
			errs = append(errs, fmt.Errorf("producer %s has no kind", p.ID))
		}
		if p.Kind != producer.KindSystem && p.Source.Type == "" {
			errs = append(errs, fmt.Errorf("producer %s has no source", p.ID))
		}
		if p.Source.Type == producer.SourceNATS && !c.NATS.Enabled {
			errs = append(errs, fmt.Errorf("producer %s uses a nats source but nats is disabled", p.ID))
		}
	}
	if c.SystemProducer.Enabled {
		switch {
		case !producerIDPattern.MatchString(c.SystemProducer.ID):
			errs = append(errs, fmt.Errorf("system_producer.id %q may only contain letters, digits, '-' and '_'", c.SystemProducer.ID))
		case seen[c.SystemProducer.ID]:
			errs = append(errs, fmt.Errorf("system_producer.id %s is already used by a producer", c.SystemProducer.ID))
		}
	}
	if len(c.Producers) == 0 && !c.SystemProducer.Enabled {
		errs = append(errs, fmt.Errorf("no producers configured"))
	}

	severities := map[string]string{
		"notifications.log.min_severity":       c.Notifications.Log.MinSeverity,
		"notifications.webhook.min_severity":   c.Notifications.Webhook.MinSeverity,
		"notifications.email.min_severity":     c.Notifications.Email.MinSeverity,
		"notifications.jetstream.min_severity": c.Notifications.JetStream.MinSeverity,
	}
	for key, value := range severities {
		if _, err := model.ParseSeverity(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}

	if (c.Notifications.JetStream.Enabled || c.Feedback.JetStream) && !c.NATS.Enabled {
		errs = append(errs, fmt.Errorf("jetstream delivery requires nats.enabled"))
	}

	return errors.Join(errs...)
}

// Build creates the process logger
func (c LogConfig) Build() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zc.Level = level

	return zc.Build()
}
