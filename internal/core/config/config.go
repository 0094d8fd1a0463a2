// Package config handles configuration loading and validation for dockhand.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Auth    AuthConfig    `yaml:"auth"`
	Polling PollingConfig `yaml:"polling"`
	Events  EventsConfig  `yaml:"events"`
	DataDir string        `yaml:"-"` // set by caller, not from config file
}

// APIConfig holds the GraphQL endpoint settings.
type APIConfig struct {
	Endpoint             string        `yaml:"endpoint"`
	SubscriptionEndpoint string        `yaml:"subscription_endpoint"`
	Timeout              time.Duration `yaml:"timeout"`
	// RateLimit is the sustained request rate in requests per second.
	// Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// AuthConfig holds the authentication boundary settings.
type AuthConfig struct {
	// LoginPath is where unauthenticated navigation is redirected.
	LoginPath string `yaml:"login_path"`
	// PathPattern matches destinations that are part of the authentication
	// flow and never require a session (doublestar syntax).
	PathPattern string `yaml:"path_pattern"`
	// RefreshLeeway treats tokens as expired this long before their exp claim.
	RefreshLeeway time.Duration `yaml:"refresh_leeway"`
}

// PollingConfig holds the defaults for status pollers.
type PollingConfig struct {
	Interval             time.Duration `yaml:"interval"`
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`
}

// EventsConfig holds the subscription transport settings.
type EventsConfig struct {
	Channel           string        `yaml:"channel"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Endpoint:             "http://localhost:3000/graphql",
			SubscriptionEndpoint: "ws://localhost:3000/graphql",
			Timeout:              15 * time.Second,
			RateLimit:            10,
			Burst:                5,
		},
		Auth: AuthConfig{
			LoginPath:   "/auth/login",
			PathPattern: "/auth/**",
		},
		Polling: PollingConfig{
			Interval:             2 * time.Second,
			MaxConsecutiveErrors: 3,
		},
		Events: EventsConfig{
			Channel:           "log",
			ReconnectAttempts: 3,
			ReconnectDelay:    time.Second,
		},
	}
}

// Load reads and validates configuration. If configPath is empty or doesn't
// exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg, err := Read(configPath, dataDir)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Read is Load without validation.
func Read(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.API.Timeout == 0 {
		c.API.Timeout = defaults.API.Timeout
	}
	if c.API.Burst == 0 {
		c.API.Burst = defaults.API.Burst
	}
	if c.Auth.LoginPath == "" {
		c.Auth.LoginPath = defaults.Auth.LoginPath
	}
	if c.Auth.PathPattern == "" {
		c.Auth.PathPattern = defaults.Auth.PathPattern
	}
	if c.Polling.Interval == 0 {
		c.Polling.Interval = defaults.Polling.Interval
	}
	if c.Polling.MaxConsecutiveErrors == 0 {
		c.Polling.MaxConsecutiveErrors = defaults.Polling.MaxConsecutiveErrors
	}
	if c.Events.Channel == "" {
		c.Events.Channel = defaults.Events.Channel
	}
	if c.Events.ReconnectDelay == 0 {
		c.Events.ReconnectDelay = defaults.Events.ReconnectDelay
	}
}

// SessionFile returns the path to the persisted session file.
func (c *Config) SessionFile() string {
	return filepath.Join(c.DataDir, "session.json")
}
