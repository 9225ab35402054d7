// Package config provides configuration management for the realtime standalone server.
// It loads settings from environment variables with sensible defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the realtime server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Realtime RealtimeConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envDefault:"8080"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver   string `env:"DB_DRIVER" envDefault:"postgres"` // postgres, mysql, sqlite3
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"realtime"`
	Password string `env:"DB_PASSWORD"`
	Database string `env:"DB_NAME" envDefault:"realtime"`
	Prefix   string `env:"DB_PREFIX" envDefault:"realtime_"` // Table prefix
}

// RealtimeConfig holds delivery-specific configuration.
type RealtimeConfig struct {
	Topic               string `env:"REALTIME_TOPIC" envDefault:"realtime_events"`
	WebhookTimeout      int    `env:"REALTIME_WEBHOOK_TIMEOUT" envDefault:"5"`       // Seconds per webhook POST
	ReconnectAttempts   int    `env:"REALTIME_RECONNECT_ATTEMPTS" envDefault:"10"`   // Backoff attempt cap
	CleanupDays         int    `env:"REALTIME_CLEANUP_DAYS" envDefault:"0"`          // Message retention (0 = keep forever)
	CleanupInterval     int    `env:"REALTIME_CLEANUP_INTERVAL" envDefault:"3600"`   // Seconds between cleanup passes
	EnableNotifications bool   `env:"REALTIME_ENABLE_NOTIFICATIONS" envDefault:"true"`
}

// Load loads configuration from environment variables.
// Follows 12-factor app principles - configuration via environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	// SQLite needs no credentials; the other drivers do
	if cfg.Database.Driver != "sqlite3" && cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD environment variable is required")
	}

	return &cfg, nil
}

// GetDSN returns the database connection string based on driver.
func (c *DatabaseConfig) GetDSN() string {
	switch strings.ToLower(c.Driver) {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.Host, c.Port, c.User, c.Password, c.Database)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.Database)
	case "sqlite3":
		return c.Database // SQLite uses file path as DSN
	default:
		return ""
	}
}

// ListenerSupported reports whether the configured driver supports the
// change-notification listener. Only PostgreSQL has LISTEN/NOTIFY.
func (c *DatabaseConfig) ListenerSupported() bool {
	return strings.ToLower(c.Driver) == "postgres"
}
