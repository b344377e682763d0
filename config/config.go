/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package config loads the host-side configuration and validates typed connector settings.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/suparena/plmconnector/connector"
	"github.com/suparena/plmconnector/errors"
	"github.com/suparena/plmconnector/logging"
)

// Session store backends
const (
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
)

// Config is the host configuration file.
type Config struct {
	Logging    logging.Config    `yaml:"logging"`
	Retry      RetryConfig       `yaml:"retry"`
	RateLimit  RateLimitConfig   `yaml:"rate_limit"`
	Sessions   SessionConfig     `yaml:"sessions"`
	Connectors []ConnectorConfig `yaml:"connectors"`
}

// RetryConfig controls retries of idempotent connector calls and status polling.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// RateLimitConfig limits connector calls per second (0 = unlimited).
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// SessionConfig selects where editing sessions are recorded.
type SessionConfig struct {
	Backend   string        `yaml:"backend"`
	Table     string        `yaml:"table"`
	Region    string        `yaml:"region"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	StaleTTL  time.Duration `yaml:"stale_ttl"`
}

// ConnectorConfig declares one connector registration.
type ConnectorConfig struct {
	Name       string               `yaml:"name"`
	Generation connector.Generation `yaml:"generation"`
	Settings   map[string]any       `yaml:"settings"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the YAML file at path. Variables from a .env file in the working
// directory are loaded first when the file exists, and ${VAR} references in the
// YAML are expanded from the environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes raw YAML, applies defaults and validates.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(expandEnv(raw), &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references. A bare $ is kept, so values such as
// passwords and URL templates pass through unchanged.
func expandEnv(raw []byte) []byte {
	return envRef.ReplaceAllFunc(raw, func(ref []byte) []byte {
		return []byte(os.Getenv(string(ref[2 : len(ref)-1])))
	})
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Encoding == "" {
		c.Logging.Encoding = "json"
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialInterval == 0 {
		c.Retry.InitialInterval = 200 * time.Millisecond
	}
	if c.Retry.MaxInterval == 0 {
		c.Retry.MaxInterval = 5 * time.Second
	}
	if c.RateLimit.PerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 1
	}
	if c.Sessions.Backend == "" {
		c.Sessions.Backend = BackendMemory
	}
	if c.Sessions.StaleTTL == 0 {
		c.Sessions.StaleTTL = 8 * time.Hour
	}
	for i := range c.Connectors {
		if c.Connectors[i].Generation == "" {
			c.Connectors[i].Generation = connector.GenerationV2
		}
		if c.Connectors[i].Settings == nil {
			c.Connectors[i].Settings = map[string]any{}
		}
	}
}

// Validate checks the configuration for values the host cannot run with.
func (c Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return errors.NewValidationError("retry.max_attempts", "must be at least 1")
	}
	if c.Retry.MaxInterval < c.Retry.InitialInterval {
		return errors.NewValidationError("retry.max_interval", "must not be shorter than initial_interval")
	}
	if c.RateLimit.PerSecond < 0 {
		return errors.NewValidationError("rate_limit.per_second", "must not be negative")
	}

	switch c.Sessions.Backend {
	case BackendMemory:
	case BackendDynamoDB:
		if c.Sessions.Table == "" {
			return errors.NewValidationError("sessions.table", "required for the dynamodb backend")
		}
		if c.Sessions.Region == "" {
			return errors.NewValidationError("sessions.region", "required for the dynamodb backend")
		}
	default:
		return errors.NewValidationError("sessions.backend", fmt.Sprintf("unknown backend %q", c.Sessions.Backend))
	}

	seen := make(map[string]bool, len(c.Connectors))
	for i, cc := range c.Connectors {
		field := fmt.Sprintf("connectors[%d]", i)
		if cc.Name == "" {
			return errors.NewValidationError(field+".name", "is required")
		}
		if seen[cc.Name] {
			return errors.NewValidationError(field+".name", fmt.Sprintf("duplicate connector %q", cc.Name))
		}
		seen[cc.Name] = true
		if cc.Generation != connector.GenerationV1 && cc.Generation != connector.GenerationV2 {
			return errors.NewValidationError(field+".generation", fmt.Sprintf("unknown generation %q", cc.Generation))
		}
	}
	return nil
}
