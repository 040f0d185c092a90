// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App      AppConfig      `mapstructure:"app" yaml:"app"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Receiver ReceiverConfig `mapstructure:"receiver" yaml:"receiver"`
	Alarm    AlarmConfig    `mapstructure:"alarm" yaml:"alarm"`
	Relay    RelayConfig    `mapstructure:"relay" yaml:"relay"`
	NATS     NATSConfig     `mapstructure:"nats" yaml:"nats"`
	Monitor  MonitorConfig  `mapstructure:"monitor" yaml:"monitor"`
	Webhook  WebhookConfig  `mapstructure:"webhook" yaml:"webhook"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Version     string `mapstructure:"version" yaml:"version"`
	Environment string `mapstructure:"environment" yaml:"environment"`
	Debug       bool   `mapstructure:"debug" yaml:"debug"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type" yaml:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string" yaml:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections" yaml:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time" yaml:"max_idle_time"`
	RetentionDays    int           `mapstructure:"retention_days" yaml:"retention_days"`
}

// ReceiverConfig controls the inbound broadcast intake
type ReceiverConfig struct {
	Action      string `mapstructure:"action" yaml:"action"`
	NATSSubject string `mapstructure:"nats_subject" yaml:"nats_subject"`
	MaxPayload  int64  `mapstructure:"max_payload" yaml:"max_payload"`
}

// AlarmConfig contains alarm thresholds and repeat behaviour.
// Glucose thresholds are in mg/dL.
type AlarmConfig struct {
	VeryLow        float64       `mapstructure:"very_low" yaml:"very_low"`
	Low            float64       `mapstructure:"low" yaml:"low"`
	High           float64       `mapstructure:"high" yaml:"high"`
	VeryHigh       float64       `mapstructure:"very_high" yaml:"very_high"`
	ObsoleteAfter  time.Duration `mapstructure:"obsolete_after" yaml:"obsolete_after"`
	RepeatInterval time.Duration `mapstructure:"repeat_interval" yaml:"repeat_interval"`
	SnoozeOptions  []int         `mapstructure:"snooze_options" yaml:"snooze_options"`
}

// RelayConfig contains wearable relay configuration
type RelayConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Capability    string        `mapstructure:"capability" yaml:"capability"`
	Path          string        `mapstructure:"path" yaml:"path"`
	LookupTimeout time.Duration `mapstructure:"lookup_timeout" yaml:"lookup_timeout"`
	SendTimeout   time.Duration `mapstructure:"send_timeout" yaml:"send_timeout"`
	MaxConcurrent int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	EnableNATS    bool          `mapstructure:"enable_nats" yaml:"enable_nats"`
	EnableSocket  bool          `mapstructure:"enable_websocket" yaml:"enable_websocket"`
}

// NATSConfig contains NATS connection configuration
type NATSConfig struct {
	URL             string        `mapstructure:"url" yaml:"url"`
	BackupURLs      []string      `mapstructure:"backup_urls" yaml:"backup_urls"`
	SubjectPrefix   string        `mapstructure:"subject_prefix" yaml:"subject_prefix"`
	PresenceTTL     time.Duration `mapstructure:"presence_ttl" yaml:"presence_ttl"`
	ConnectAttempts int           `mapstructure:"connect_attempts" yaml:"connect_attempts"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ReconnectWait   time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
	MaxReconnects   int           `mapstructure:"max_reconnects" yaml:"max_reconnects"`
}

// MonitorConfig contains scheduled job configuration
type MonitorConfig struct {
	StaleCheckSchedule string `mapstructure:"stale_check_schedule" yaml:"stale_check_schedule"`
	CleanupSchedule    string `mapstructure:"cleanup_schedule" yaml:"cleanup_schedule"`
}

// WebhookConfig configures the optional webhook notification poster
type WebhookConfig struct {
	Enabled       bool              `mapstructure:"enabled" yaml:"enabled"`
	URL           string            `mapstructure:"url" yaml:"url"`
	Headers       map[string]string `mapstructure:"headers" yaml:"headers"`
	Timeout       time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	RetryAttempts int               `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryDelay    time.Duration     `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port" yaml:"port"`
	Host          string        `mapstructure:"host" yaml:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics" yaml:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health" yaml:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // json, text
	Output string `mapstructure:"output" yaml:"output"` // stdout, file
	File   string `mapstructure:"file" yaml:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("GDH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override with environment variables if present
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "glucodata-handler")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Storage defaults
	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.connection_string", "./data/glucodata.db")
	viper.SetDefault("storage.max_connections", 10)
	viper.SetDefault("storage.max_idle_time", "15m")
	viper.SetDefault("storage.retention_days", 90)

	// Receiver defaults
	viper.SetDefault("receiver.action", "glucodata.Minute")
	viper.SetDefault("receiver.nats_subject", "")
	viper.SetDefault("receiver.max_payload", 64*1024)

	// Alarm defaults
	viper.SetDefault("alarm.very_low", 55)
	viper.SetDefault("alarm.low", 70)
	viper.SetDefault("alarm.high", 250)
	viper.SetDefault("alarm.very_high", 300)
	viper.SetDefault("alarm.obsolete_after", "10m")
	viper.SetDefault("alarm.repeat_interval", "15m")
	viper.SetDefault("alarm.snooze_options", []int{60, 90, 120})

	// Relay defaults
	viper.SetDefault("relay.enabled", true)
	viper.SetDefault("relay.capability", "glucodata_intent")
	viper.SetDefault("relay.path", "/glucodata_intent")
	viper.SetDefault("relay.lookup_timeout", "5s")
	viper.SetDefault("relay.send_timeout", "10s")
	viper.SetDefault("relay.max_concurrent", 8)
	viper.SetDefault("relay.enable_nats", false)
	viper.SetDefault("relay.enable_websocket", true)

	// NATS defaults
	viper.SetDefault("nats.url", "nats://127.0.0.1:4222")
	viper.SetDefault("nats.subject_prefix", "gdh")
	viper.SetDefault("nats.presence_ttl", "2m")
	viper.SetDefault("nats.connect_attempts", 3)
	viper.SetDefault("nats.connect_timeout", "5s")
	viper.SetDefault("nats.reconnect_wait", "2s")
	viper.SetDefault("nats.max_reconnects", 60)

	// Monitor defaults
	viper.SetDefault("monitor.stale_check_schedule", "@every 30s")
	viper.SetDefault("monitor.cleanup_schedule", "@daily")

	// Webhook defaults
	viper.SetDefault("webhook.enabled", false)
	viper.SetDefault("webhook.timeout", "10s")
	viper.SetDefault("webhook.retry_attempts", 3)
	viper.SetDefault("webhook.retry_delay", "2s")

	// Server defaults
	viper.SetDefault("server.port", 8081)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.enable_metrics", true)
	viper.SetDefault("server.enable_health", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Receiver.Action == "" {
		return fmt.Errorf("receiver action is required")
	}
	a := c.Alarm
	if !(a.VeryLow < a.Low && a.Low < a.High && a.High < a.VeryHigh) {
		return fmt.Errorf("alarm thresholds must satisfy very_low < low < high < very_high")
	}
	if a.ObsoleteAfter <= 0 {
		return fmt.Errorf("alarm obsolete_after must be positive")
	}
	if len(a.SnoozeOptions) == 0 {
		return fmt.Errorf("at least one snooze option is required")
	}
	for _, m := range a.SnoozeOptions {
		if m <= 0 {
			return fmt.Errorf("snooze options must be positive, got %d", m)
		}
	}
	if c.Relay.Enabled {
		if c.Relay.Capability == "" || c.Relay.Path == "" {
			return fmt.Errorf("relay capability and path are required")
		}
		if c.Relay.MaxConcurrent <= 0 {
			return fmt.Errorf("relay max_concurrent must be positive")
		}
	}
	usesNATS := (c.Relay.Enabled && c.Relay.EnableNATS) || c.Receiver.NATSSubject != ""
	if usesNATS && c.NATS.URL == "" {
		return fmt.Errorf("nats url is required when nats is used")
	}
	if c.Webhook.Enabled && c.Webhook.URL == "" {
		return fmt.Errorf("webhook url is required when webhook is enabled")
	}
	return nil
}
