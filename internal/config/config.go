// Package config loads service configuration from defaults, a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable the service reads.
// Nested keys are separated by a double underscore.
const EnvPrefix = "NOTIFY_"

// Storage drivers.
const (
	StorageMongo    = "mongo"
	StoragePostgres = "postgres"
)

// Push providers.
const (
	PushProviderExpo = "expo"
	PushProviderFCM  = "fcm"
)

// Config is the complete service configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Log           LogConfig           `koanf:"log"`
	Storage       StorageConfig       `koanf:"storage"`
	Database      DatabaseConfig      `koanf:"database"`
	Mongo         MongoConfig         `koanf:"mongo"`
	Auth          AuthConfig          `koanf:"auth"`
	Notifications NotificationsConfig `koanf:"notifications"`
}

// ServerConfig configures the HTTP servers.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	CORSOrigins       []string      `koanf:"cors_allowed_origins"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string        `koanf:"level"`
	Format string        `koanf:"format"`
	File   LogFileConfig `koanf:"file"`
}

// LogFileConfig enables an additional rotated log file.
type LogFileConfig struct {
	Path       string `koanf:"path"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

// StorageConfig selects the delivery record store.
type StorageConfig struct {
	Driver string `koanf:"driver"`
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	MigrationsPath  string        `koanf:"migrations_path"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// MongoConfig configures MongoDB.
type MongoConfig struct {
	URI             string        `koanf:"uri"`
	Database        string        `koanf:"database"`
	MaxPoolSize     uint64        `koanf:"max_pool_size"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// AuthConfig configures the shared API key. APIKeyHash is a bcrypt hash and
// takes precedence over APIKey.
type AuthConfig struct {
	APIKey     string `koanf:"api_key"`
	APIKeyHash string `koanf:"api_key_hash"`
}

// NotificationsConfig configures channel senders and the scheduled sweep.
type NotificationsConfig struct {
	Push     PushConfig     `koanf:"push"`
	WhatsApp WhatsAppConfig `koanf:"whatsapp"`
	Email    EmailConfig    `koanf:"email"`
	Sweep    SweepConfig    `koanf:"sweep"`
}

// PushConfig configures the push channel.
type PushConfig struct {
	Enabled  bool       `koanf:"enabled"`
	Provider string     `koanf:"provider"`
	Expo     ExpoConfig `koanf:"expo"`
	FCM      FCMConfig  `koanf:"fcm"`
}

// ExpoConfig configures the Expo push service.
type ExpoConfig struct {
	AccessToken string        `koanf:"access_token"`
	URL         string        `koanf:"url"`
	Timeout     time.Duration `koanf:"timeout"`
}

// FCMConfig configures Firebase Cloud Messaging.
type FCMConfig struct {
	ProjectID       string `koanf:"project_id"`
	CredentialsFile string `koanf:"credentials_file"`
}

// WhatsAppConfig configures the Twilio WhatsApp sender.
type WhatsAppConfig struct {
	Enabled     bool    `koanf:"enabled"`
	AccountSID  string  `koanf:"account_sid"`
	AuthToken   string  `koanf:"auth_token"`
	From        string  `koanf:"from"`
	RateLimit   float64 `koanf:"rate_limit"`
	Concurrency int     `koanf:"concurrency"`
}

// EmailConfig configures the SMTP sender.
type EmailConfig struct {
	Enabled      bool   `koanf:"enabled"`
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword string `koanf:"smtp_password"`
	FromAddress  string `koanf:"from_address"`
	Concurrency  int    `koanf:"concurrency"`
	Insecure     bool   `koanf:"insecure"`
}

// SweepConfig configures the in-process scheduled delivery sweeper.
type SweepConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Interval  time.Duration `koanf:"interval"`
	BatchSize int           `koanf:"batch_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			File: LogFileConfig{
				MaxSizeMB:  100,
				MaxBackups: 5,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Storage: StorageConfig{Driver: StorageMongo},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			MigrationsPath:  "file://migrations",
		},
		Mongo: MongoConfig{
			URI:             "mongodb://localhost:27017",
			Database:        "notify_dispatch",
			MaxPoolSize:     50,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
		},
		Notifications: NotificationsConfig{
			Push: PushConfig{Provider: PushProviderExpo},
			WhatsApp: WhatsAppConfig{
				RateLimit:   20,
				Concurrency: 10,
			},
			Email: EmailConfig{
				SMTPPort:    587,
				Concurrency: 5,
			},
			Sweep: SweepConfig{
				Interval:  time.Minute,
				BatchSize: 100,
			},
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// and NOTIFY_* environment variables, in increasing precedence. A .env file in
// the working directory is loaded into the environment first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// envKey maps NOTIFY_NOTIFICATIONS__EMAIL__SMTP_HOST to notifications.email.smtp_host.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.APIKey == "" && c.Auth.APIKeyHash == "" {
		errs = append(errs, errors.New("auth: api_key or api_key_hash is required"))
	}

	switch c.Storage.Driver {
	case StorageMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			errs = append(errs, errors.New("mongo: uri and database are required"))
		}
	case StoragePostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database: url is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unknown driver %q", c.Storage.Driver))
	}

	if c.Notifications.Push.Enabled {
		switch c.Notifications.Push.Provider {
		case PushProviderExpo, PushProviderFCM:
		default:
			errs = append(errs, fmt.Errorf("notifications.push: unknown provider %q", c.Notifications.Push.Provider))
		}
	}

	if c.Notifications.Sweep.Enabled && c.Notifications.Sweep.Interval <= 0 {
		errs = append(errs, errors.New("notifications.sweep: interval must be positive"))
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log: unknown format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
