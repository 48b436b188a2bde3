// Package config loads application configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix is stripped from environment variables; OPSRELAY_SERVER_ADDR
// overrides server.addr.
const envPrefix = "OPSRELAY_"

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Auth          AuthConfig          `koanf:"auth"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Logging       LoggingConfig       `koanf:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	MetricsAddr     string        `koanf:"metrics_addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	MigrationsPath  string        `koanf:"migrations_path"`
}

// AuthConfig contains token validation settings.
type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
}

// NotificationsConfig contains dispatcher, queue worker and sender settings.
// Enabled controls the background queue worker; dispatch and queueing
// stay active either way so nothing is lost while sending is off.
type NotificationsConfig struct {
	Enabled bool          `koanf:"enabled"`
	Worker  WorkerConfig  `koanf:"worker"`
	Email   EmailConfig   `koanf:"email"`
	SMS     SMSConfig     `koanf:"sms"`
	Webhook WebhookConfig `koanf:"webhook"`
}

// WorkerConfig contains queue worker settings.
type WorkerConfig struct {
	BatchSize         int           `koanf:"batch_size"`
	PollInterval      time.Duration `koanf:"poll_interval"`
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
	NumWorkers        int           `koanf:"num_workers"`
	SendTimeout       time.Duration `koanf:"send_timeout"`
	Retention         time.Duration `koanf:"retention"`
	SweepInterval     time.Duration `koanf:"sweep_interval"`
}

// EmailConfig contains SMTP sender settings.
type EmailConfig struct {
	Enabled      bool   `koanf:"enabled"`
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword string `koanf:"smtp_password"`
	FromAddress  string `koanf:"from_address"`
}

// SMSConfig contains SMS gateway sender settings.
type SMSConfig struct {
	Enabled       bool          `koanf:"enabled"`
	GatewayURL    string        `koanf:"gateway_url"`
	APIKey        string        `koanf:"api_key"`
	FromNumber    string        `koanf:"from_number"`
	RatePerSecond float64       `koanf:"rate_per_second"`
	Burst         int           `koanf:"burst"`
	Timeout       time.Duration `koanf:"timeout"`
}

// WebhookConfig contains webhook sender settings.
type WebhookConfig struct {
	Enabled       bool          `koanf:"enabled"`
	SigningSecret string        `koanf:"signing_secret"`
	Timeout       time.Duration `koanf:"timeout"`
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

// Load reads configuration from the given YAML file (optional) and
// applies environment overrides on top.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	// OPSRELAY_DATABASE_URL -> database.url
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaults returns a config populated with default values; loaded keys
// overwrite them field by field.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			MetricsAddr:     ":9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectAttempts: 5,
			MigrationsPath:  "migrations",
		},
		Notifications: NotificationsConfig{
			Enabled: true,
			Worker: WorkerConfig{
				BatchSize:         100,
				PollInterval:      5 * time.Second,
				MaxAttempts:       3,
				InitialBackoff:    1 * time.Second,
				MaxBackoff:        5 * time.Minute,
				BackoffMultiplier: 2.0,
				NumWorkers:        5,
				SendTimeout:       10 * time.Second,
				Retention:         72 * time.Hour,
				SweepInterval:     1 * time.Hour,
			},
			Email: EmailConfig{
				SMTPPort: 587,
			},
			SMS: SMSConfig{
				RatePerSecond: 10,
				Burst:         20,
				Timeout:       10 * time.Second,
			},
			Webhook: WebhookConfig{
				Timeout: 10 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return errors.New("config: database.url is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("config: auth.jwt_secret is required")
	}
	if c.Notifications.Worker.MaxAttempts < 1 {
		return errors.New("config: notifications.worker.max_attempts must be at least 1")
	}
	if c.Notifications.Worker.BackoffMultiplier < 1 {
		return errors.New("config: notifications.worker.backoff_multiplier must be at least 1")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown logging.level %q", c.Logging.Level)
	}
	return nil
}
