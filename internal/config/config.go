package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level configuration for cardwatch.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Thresholds ThresholdsConfig `koanf:"thresholds"`
	Notify     NotifyConfig     `koanf:"notify"`
	Schedule   ScheduleConfig   `koanf:"schedule"`
	Recalc     RecalcConfig     `koanf:"recalc"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // "debug" or "release"
}

// DatabaseConfig holds the database connection settings.
type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// ThresholdsConfig points at the YAML file holding the alert levels.
type ThresholdsConfig struct {
	Path string `koanf:"path"`
}

// NotifyConfig selects and tunes the notification channel.
type NotifyConfig struct {
	Mode       string `koanf:"mode"` // "log" or "webhook"
	DailyURL   string `koanf:"daily_url"`
	WeeklyURL  string `koanf:"weekly_url"`
	MonthlyURL string `koanf:"monthly_url"`
	ErrorURL   string `koanf:"error_url"`
	Timeout    string `koanf:"timeout"` // parsed as time.Duration
}

// EffectiveTimeout parses the webhook timeout, falling back to 10s.
func (c NotifyConfig) EffectiveTimeout() time.Duration {
	if c.Timeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// ScheduleConfig controls the in-process daily summary daemon.
type ScheduleConfig struct {
	Enabled bool   `koanf:"enabled"`
	RunAt   string `koanf:"run_at"` // "HH:MM", JST
}

// RecalcConfig tunes recalculation batching.
type RecalcConfig struct {
	BatchSize  int    `koanf:"batch_size"`
	BatchPause string `koanf:"batch_pause"` // parsed as time.Duration
}

// EffectiveBatchPause parses the inter-batch pause, falling back to 200ms.
func (c RecalcConfig) EffectiveBatchPause() time.Duration {
	if c.BatchPause == "" {
		return 200 * time.Millisecond
	}
	d, err := time.ParseDuration(c.BatchPause)
	if err != nil || d < 0 {
		return 200 * time.Millisecond
	}
	return d
}

// Load loads the configuration from the given file path and environment variables.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	defaults := map[string]interface{}{
		"server.port":             8080,
		"server.host":             "0.0.0.0",
		"server.max_body_size_mb": 1,
		"server.mode":             "release",
		"database.dsn":            "postgres://localhost:5432/cardwatch?sslmode=disable",
		"database.max_open_conns": 25,
		"database.max_idle_conns": 25,
		"database.auto_migrate":   true,
		"thresholds.path":         "./config/thresholds.yaml",
		"notify.mode":             "log",
		"notify.daily_url":        "",
		"notify.weekly_url":       "",
		"notify.monthly_url":      "",
		"notify.error_url":        "",
		"notify.timeout":          "10s",
		"schedule.enabled":        true,
		"schedule.run_at":         "00:30",
		"recalc.batch_size":       50,
		"recalc.batch_pause":      "200ms",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// 2. Load from file
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// 3. Load from Environment Variables
	// CARDWATCH_SERVER__PORT=9090 overrides server.port
	if err := k.Load(env.Provider("CARDWATCH_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "CARDWATCH_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would only fail later at runtime.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("server.mode must be debug or release, got %q", c.Server.Mode)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.Notify.Mode {
	case "log":
	case "webhook":
	default:
		return fmt.Errorf("notify.mode must be log or webhook, got %q", c.Notify.Mode)
	}
	return nil
}
