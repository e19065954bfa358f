// Package config provides YAML-based configuration loading for Planact.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Planact configuration, loaded from planact.yaml.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Notify    NotifyConfig    `yaml:"notify"`
	Sync      SyncDefaults    `yaml:"sync"`
}

// DatabaseConfig holds canonical store connection settings. Driver is
// "mysql" for server deployments or "sqlite" for local mode.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Path     string `yaml:"path"` // sqlite file path
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// SchedulerConfig holds the quality tick schedule and alert thresholds.
// Thresholds are meets-or-exceeds: an alert is raised when the count of
// findings at a severity reaches the configured value. Zero disables the
// threshold.
type SchedulerConfig struct {
	QualityCron       string `yaml:"quality_cron"`
	CriticalThreshold int    `yaml:"critical_threshold"`
	HighThreshold     int    `yaml:"high_threshold"`
	AutomationTimeout int    `yaml:"automation_timeout_seconds"`
}

// NotifyConfig holds notification transport settings. With no Slack token
// configured, notifications degrade to files written under OutboxDir.
type NotifyConfig struct {
	SlackToken   string `yaml:"slack_token"`
	SlackChannel string `yaml:"slack_channel"`
	OutboxDir    string `yaml:"outbox_dir"`
}

// SyncDefaults seeds the SyncConfig row on first migration.
type SyncDefaults struct {
	Cron     string `yaml:"cron"`
	Strategy string `yaml:"strategy"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "planact.db"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Name == "" {
		c.Database.Name = "planact"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Scheduler.QualityCron == "" {
		c.Scheduler.QualityCron = "0 * * * *"
	}
	if c.Scheduler.AutomationTimeout == 0 {
		c.Scheduler.AutomationTimeout = 120
	}
	if c.Notify.OutboxDir == "" {
		c.Notify.OutboxDir = "outbox"
	}
	if c.Sync.Cron == "" {
		c.Sync.Cron = "*/30 * * * *"
	}
	if c.Sync.Strategy == "" {
		c.Sync.Strategy = "active-only"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite, mysql)", c.Database.Driver))
	}
	if c.Database.Driver == "mysql" && c.Database.User == "" {
		errs = append(errs, "database.user is required for mysql")
	}
	if c.Scheduler.CriticalThreshold < 0 {
		errs = append(errs, "scheduler.critical_threshold must not be negative")
	}
	if c.Scheduler.HighThreshold < 0 {
		errs = append(errs, "scheduler.high_threshold must not be negative")
	}
	switch c.Sync.Strategy {
	case "single-plan", "active-only", "all":
	default:
		errs = append(errs, fmt.Sprintf("sync.strategy %q is not supported (single-plan, active-only, all)", c.Sync.Strategy))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SlackConfigured reports whether a Slack transport is available.
func (c *NotifyConfig) SlackConfigured() bool {
	return c.SlackToken != "" && c.SlackChannel != ""
}
