// Package config provides YAML-based configuration loading for great12.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration, loaded from great12.yaml.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	AI        AIConfig        `yaml:"ai"`
	Sync      SyncConfig      `yaml:"sync"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	Server    ServerConfig    `yaml:"server"`
	Countdown CountdownConfig `yaml:"countdown"`
}

// DatabaseConfig selects and addresses the record store backend.
type DatabaseConfig struct {
	Driver     string `yaml:"driver"` // sqlite or mysql
	Path       string `yaml:"path"`   // sqlite file
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Name       string `yaml:"name"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	LogQueries bool   `yaml:"log_queries"`
}

// AuthConfig holds the OAuth provider used for sign-in.
type AuthConfig struct {
	Provider     string   `yaml:"provider"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	UserInfoURL  string   `yaml:"userinfo_url"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
}

// AIConfig addresses the text-generation endpoint used for weekly feedback.
type AIConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Token         string `yaml:"token"`
	TimeoutSec    int    `yaml:"timeout_sec"`
	CacheSize     int    `yaml:"cache_size"`
	RatePerMinute int    `yaml:"rate_per_minute"`
}

// SyncConfig controls what the store does when a remote write fails.
type SyncConfig struct {
	Policy       string `yaml:"policy"` // silent, rollback, retry
	MaxAttempts  int    `yaml:"max_attempts"`
	RetryDelayMs int    `yaml:"retry_delay_ms"`
}

// RetryDelay returns the configured delay between retry attempts.
func (s SyncConfig) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMs) * time.Millisecond
}

// FallbackConfig locates the local JSON snapshot.
type FallbackConfig struct {
	Dir      string `yaml:"dir"`
	Disabled bool   `yaml:"disabled"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// CountdownConfig sets how often the time-remaining display refreshes.
type CountdownConfig struct {
	Schedule string `yaml:"schedule"`
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
		c.Database.Path = "great12.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.Name == "" {
			c.Database.Name = "great12"
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	}
	if c.Auth.Provider == "" {
		c.Auth.Provider = "google"
	}
	if len(c.Auth.Scopes) == 0 {
		c.Auth.Scopes = []string{"openid", "email", "profile"}
	}
	if c.AI.TimeoutSec == 0 {
		c.AI.TimeoutSec = 30
	}
	if c.AI.CacheSize == 0 {
		c.AI.CacheSize = 128
	}
	if c.AI.RatePerMinute == 0 {
		c.AI.RatePerMinute = 6
	}
	if c.Sync.Policy == "" {
		c.Sync.Policy = "silent"
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = 3
	}
	if c.Sync.RetryDelayMs == 0 {
		c.Sync.RetryDelayMs = 500
	}
	if c.Fallback.Dir == "" {
		c.Fallback.Dir = ".great12"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Countdown.Schedule == "" {
		c.Countdown.Schedule = "@every 1m"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of sqlite, mysql", c.Database.Driver))
	}
	switch c.Sync.Policy {
	case "silent", "rollback", "retry":
	default:
		errs = append(errs, fmt.Sprintf("sync.policy %q is not one of silent, rollback, retry", c.Sync.Policy))
	}
	if c.Sync.MaxAttempts < 1 {
		errs = append(errs, "sync.max_attempts must be at least 1")
	}
	if c.Auth.ClientID != "" {
		if c.Auth.AuthURL == "" {
			errs = append(errs, "auth.auth_url is required when auth.client_id is set")
		}
		if c.Auth.TokenURL == "" {
			errs = append(errs, "auth.token_url is required when auth.client_id is set")
		}
		if c.Auth.UserInfoURL == "" {
			errs = append(errs, "auth.userinfo_url is required when auth.client_id is set")
		}
	}
	if c.AI.RatePerMinute < 0 {
		errs = append(errs, "ai.rate_per_minute must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
