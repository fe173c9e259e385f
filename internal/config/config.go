package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration
type Config struct {
	// Database
	DatabaseURL    string `env:"DB_URL,required"`
	DatabaseSchema string `env:"DB_SCHEMA" envDefault:"npg_porch"`

	// Redis (optional; rate limiting is disabled when unset)
	RedisURL string `env:"REDIS_URL"`

	// OpenTelemetry
	OTELEnabled          bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELExporterEndpoint string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTELServiceName      string  `env:"OTEL_SERVICE_NAME" envDefault:"porch"`
	OTELSamplingRatio    float64 `env:"OTEL_SAMPLING_RATIO" envDefault:"0.1"`

	// Server
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Rate Limiting
	RateLimitPerTokenPerMin int `env:"RATE_LIMIT_PER_TOKEN_PER_MIN" envDefault:"600"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate performs custom validation on the configuration
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DB_URL is required")
	}

	if c.DatabaseSchema == "" {
		return fmt.Errorf("DB_SCHEMA must not be empty")
	}

	if c.OTELSamplingRatio < 0 || c.OTELSamplingRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATIO must be between 0 and 1")
	}

	if c.RateLimitPerTokenPerMin <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_TOKEN_PER_MIN must be positive")
	}

	return nil
}

// RateLimitingEnabled reports whether a Redis backend was configured.
func (c *Config) RateLimitingEnabled() bool {
	return c.RedisURL != ""
}
