package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"budgetwatch/internal/logging"
	"budgetwatch/internal/notification"
	"budgetwatch/internal/rules"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig        `mapstructure:"app"`
	Logging   logging.Config   `mapstructure:"logging"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Snapshot  SnapshotConfig   `mapstructure:"snapshot"`
	Scheduler SchedulerConfig  `mapstructure:"scheduler"`
	Refresh   RefreshConfig    `mapstructure:"refresh"`
	Rules     rules.Thresholds `mapstructure:"rules"`
	Alerting  AlertingConfig   `mapstructure:"alerting"`
	Export    ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig selects and tunes the storage backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// Snapshot sources.
const (
	SourceDatabase = "database"
	SourceHTTP     = "http"
)

// SnapshotConfig says where financial snapshots come from.
type SnapshotConfig struct {
	Source         string        `mapstructure:"source"`
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// SchedulerConfig governs refresh cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunImmediately  bool          `mapstructure:"run_immediately"`
}

// RefreshConfig controls per-user derivation.
type RefreshConfig struct {
	MinInterval time.Duration `mapstructure:"min_interval"`
	Workers     int           `mapstructure:"workers"`
}

// AlertingConfig defines push routing for newly raised notifications.
type AlertingConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	MinSeverity string         `mapstructure:"min_severity"`
	Channels    []string       `mapstructure:"channels"`
	Timeout     time.Duration  `mapstructure:"timeout"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
	AMQP        AMQPConfig     `mapstructure:"amqp"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// AMQPConfig describes the message broker channel.
type AMQPConfig struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	Queue      string `mapstructure:"queue"`
	RoutingKey string `mapstructure:"routing_key"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxRows int `mapstructure:"max_rows"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BUDGETWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "budgetwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.sqlite_path", "budgetwatch.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrate_on_start", false)

	v.SetDefault("snapshot.source", SourceDatabase)
	v.SetDefault("snapshot.request_timeout", "10s")
	v.SetDefault("snapshot.user_agent", "budgetwatch/1.0")

	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x62756467))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_immediately", false)

	v.SetDefault("refresh.min_interval", "5m")
	v.SetDefault("refresh.workers", 4)

	th := rules.DefaultThresholds()
	v.SetDefault("rules.needs_target", th.NeedsTarget)
	v.SetDefault("rules.savings_target", th.SavingsTarget)
	v.SetDefault("rules.wants_target", th.WantsTarget)
	v.SetDefault("rules.debt_target", th.DebtTarget)
	v.SetDefault("rules.critical_multiplier", th.CriticalMultiplier)
	v.SetDefault("rules.low_multiplier", th.LowMultiplier)
	v.SetDefault("rules.pleasure_critical_multiplier", th.PleasureCriticalMultiplier)
	v.SetDefault("rules.gap_points", th.GapPoints)
	v.SetDefault("rules.remains_critical_pct", th.RemainsCriticalPct)
	v.SetDefault("rules.remains_low_pct", th.RemainsLowPct)
	v.SetDefault("rules.remains_healthy_pct", th.RemainsHealthyPct)
	v.SetDefault("rules.month_late_pct", th.MonthLatePct)
	v.SetDefault("rules.deadline_window_days", th.DeadlineWindowDays)
	v.SetDefault("rules.deadline_warning_days", th.DeadlineWarningDays)
	v.SetDefault("rules.goal_lag_points", th.GoalLagPoints)
	v.SetDefault("rules.goal_almost_pct", th.GoalAlmostPct)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_severity", string(notification.SeverityWarning))
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.amqp.exchange", "budgetwatch")
	v.SetDefault("alerting.amqp.queue", "notifications")
	v.SetDefault("alerting.amqp.routing_key", "notification.raised")

	v.SetDefault("export.max_rows", 10000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver)
	}
	if c.Database.Driver == DriverSQLite && c.Database.SQLitePath == "" {
		return fmt.Errorf("database.sqlite_path is required for the sqlite driver")
	}

	switch c.Snapshot.Source {
	case SourceDatabase:
	case SourceHTTP:
		if c.Snapshot.BaseURL == "" {
			return fmt.Errorf("snapshot.base_url is required when snapshot.source is %q", SourceHTTP)
		}
	default:
		return fmt.Errorf("snapshot.source must be %q or %q, got %q", SourceDatabase, SourceHTTP, c.Snapshot.Source)
	}

	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Refresh.MinInterval < 0 {
		return fmt.Errorf("refresh.min_interval cannot be negative")
	}
	if c.Refresh.Workers <= 0 {
		return fmt.Errorf("refresh.workers must be greater than zero")
	}
	if c.Export.MaxRows <= 0 {
		return fmt.Errorf("export.max_rows must be greater than zero")
	}
	if err := c.Rules.Validate(); err != nil {
		return err
	}

	if _, err := notification.ParseSeverity(c.Alerting.MinSeverity); err != nil {
		return fmt.Errorf("alerting.min_severity: %w", err)
	}
	if c.Alerting.Enabled {
		for _, ch := range c.Alerting.Channels {
			switch strings.TrimSpace(ch) {
			case "telegram":
				if c.Alerting.Telegram.BotToken == "" || c.Alerting.Telegram.ChatID == "" {
					return fmt.Errorf("alerting.telegram.bot_token and alerting.telegram.chat_id are required")
				}
			case "amqp":
				if c.Alerting.AMQP.URL == "" {
					return fmt.Errorf("alerting.amqp.url is required")
				}
			default:
				return fmt.Errorf("unknown alerting channel %q", ch)
			}
		}
	}
	return nil
}

// MinSeverity returns the parsed alerting threshold.
func (c *Config) MinSeverity() notification.Severity {
	sev, err := notification.ParseSeverity(c.Alerting.MinSeverity)
	if err != nil {
		return notification.SeverityWarning
	}
	return sev
}

// ResolveMaxRows returns either the CLI override or config default.
func (c *Config) ResolveMaxRows(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxRows
}
