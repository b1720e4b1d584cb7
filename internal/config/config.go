package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Version   string          `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Database  DatabaseConfig  `yaml:"database"`
	Providers ProvidersConfig `yaml:"providers"`
	Sync      SyncConfig      `yaml:"sync"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Alerts    AlertsConfig    `yaml:"alerts"`
}

// ServerConfig contains server-related configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
}

// APIConfig contains API-related configuration.
type APIConfig struct {
	// SecretKeys authenticate tenant API requests via the Authorization
	// header. An empty list disables authentication (local mode).
	SecretKeys []string        `yaml:"secret_keys"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// DatabaseConfig contains SQLite storage configuration.
type DatabaseConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// ProvidersConfig locates the provider template registry.
type ProvidersConfig struct {
	TemplatesPath string `yaml:"templates_path"`
	// WatchTemplates reloads the registry when the file changes.
	WatchTemplates bool `yaml:"watch_templates"`
}

// SyncConfig contains sync engine configuration.
type SyncConfig struct {
	// ScriptTimeout bounds one tenant script execution. Zero disables the
	// bound.
	ScriptTimeout time.Duration `yaml:"script_timeout"`
	WebhookURL    string        `yaml:"webhook_url"`
}

// SchedulerConfig contains the interval scheduler configuration.
type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// CleanupConfig contains retention cleanup configuration.
type CleanupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
}

// TelegramConfig contains operator alert bot configuration.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// AlertsConfig contains alert service configuration.
type AlertsConfig struct {
	Enabled            bool          `yaml:"enabled"`
	DedupWindow        time.Duration `yaml:"dedup_window"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
}

// Validate checks the whole configuration tree.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.Telegram.Validate(); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// Validate checks server configuration.
func (s *ServerConfig) Validate() error {
	if s.HTTPPort < 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", s.HTTPPort)
	}
	switch s.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %s", s.LogLevel)
	}
	return nil
}

// Validate checks database configuration.
func (d *DatabaseConfig) Validate() error {
	if d.RetentionDays < 0 {
		return fmt.Errorf("retention_days cannot be negative")
	}
	return nil
}

// Validate checks scheduler configuration.
func (s *SchedulerConfig) Validate() error {
	if s.Enabled && s.Interval < time.Second {
		return fmt.Errorf("interval must be at least 1s when the scheduler is enabled")
	}
	return nil
}

// Validate checks telegram configuration.
func (t *TelegramConfig) Validate() error {
	if t.Enabled && t.BotToken == "" {
		return fmt.Errorf("bot_token is required when telegram is enabled")
	}
	return nil
}
