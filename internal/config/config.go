// Package config provides configuration for the agentreplay CLI and API server.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	// Trace library
	TraceDir string `yaml:"trace_dir" env:"AGENTREPLAY_TRACE_DIR"`

	// Server settings
	ServerPort         string        `yaml:"port" env:"PORT"`
	ServerReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	ServerWriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`

	// JWT settings; an empty secret leaves the API unauthenticated
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`

	// Rate limiting
	RateLimitRequests int           `yaml:"rate_limit_requests" env:"RATE_LIMIT_REQUESTS"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window" env:"RATE_LIMIT_WINDOW"`

	// LLM settings, used by the record command
	AnthropicAPIKey string `yaml:"anthropic_api_key" env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `yaml:"openai_api_key" env:"OPENAI_API_KEY"`
	DefaultLLM      string `yaml:"default_llm" env:"DEFAULT_LLM"`

	// Logging
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`
	Environment string `yaml:"environment" env:"ENV"`

	// Tracing
	TracingEndpoint string `yaml:"tracing_endpoint" env:"TRACING_ENDPOINT"`
	TracingEnabled  bool   `yaml:"tracing_enabled" env:"TRACING_ENABLED"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		TraceDir:           "traces",
		ServerPort:         "8080",
		ServerReadTimeout:  30 * time.Second,
		ServerWriteTimeout: 60 * time.Second,
		RateLimitRequests:  120,
		RateLimitWindow:    time.Minute,
		DefaultLLM:         "openai",
		LogLevel:           "info",
		Environment:        "production",
		TracingEndpoint:    "localhost:4318",
	}
}

// Load builds the configuration from defaults, then the optional YAML file at
// path, then environment variables. Later sources win.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.TraceDir == "" {
		errs = append(errs, errors.New("trace_dir must not be empty"))
	}
	if c.RateLimitRequests <= 0 {
		errs = append(errs, errors.New("rate_limit_requests must be positive"))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("rate_limit_window must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Development reports whether the development logger should be used.
func (c *Config) Development() bool {
	return c.Environment == "development"
}
