// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

// Package config loads service configuration with layered precedence:
// built-in defaults, then an optional YAML file, then RUBINTV_* environment
// variables. The loaded struct is validated once and treated as immutable.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	S3         S3Config         `koanf:"s3"`
	Poll       PollConfig       `koanf:"poll"`
	Historical HistoricalConfig `koanf:"historical"`
	Logging    LoggingConfig    `koanf:"logging"`

	// LocationsFile points at the YAML site fixtures.
	LocationsFile string `koanf:"locations_file" validate:"required"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port" validate:"gte=1,lte=65535"`

	// PathPrefix roots every route, matching the ingress the service
	// sits behind.
	PathPrefix string `koanf:"path_prefix" validate:"required,startswith=/"`

	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// RateLimitReqs requests per RateLimitWindow per client IP on the
	// JSON API group. Zero disables limiting.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`

	CORSOrigins []string `koanf:"cors_origins"`
}

// S3Config holds settings shared by every location's bucket client.
// Per-location bucket names and credential profiles come from the fixtures.
type S3Config struct {
	// EndpointURL overrides the S3 endpoint for compatible stores. The
	// sentinel "testing" leaves the SDK default untouched so tests can
	// construct clients offline.
	EndpointURL string `koanf:"endpoint_url"`
	Region      string `koanf:"region"`
}

// PollConfig tunes the current-day poller.
type PollConfig struct {
	Interval time.Duration `koanf:"interval" validate:"gte=1s"`
}

// HistoricalConfig tunes the historical cache refresher.
type HistoricalConfig struct {
	// CheckInterval is how often the refresher looks for a day rollover.
	CheckInterval time.Duration `koanf:"check_interval" validate:"gte=1s"`
}

// LoggingConfig mirrors logging.Config plus the site profile switch.
type LoggingConfig struct {
	Level string `koanf:"level"`
	// Profile selects the output format: "production" logs JSON,
	// "development" logs for the console.
	Profile string `koanf:"profile" validate:"oneof=production development"`
	Caller  bool   `koanf:"caller"`
}

// Format maps the profile onto a logging output format.
func (l LoggingConfig) Format() string {
	if l.Profile == "development" {
		return "console"
	}
	return "json"
}

// defaultConfig returns the built-in defaults, overridden by file and env.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			PathPrefix:      "/rubintv",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0, // streaming proxies must not be cut off
			ShutdownTimeout: 10 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Poll: PollConfig{
			Interval: 3 * time.Second,
		},
		Historical: HistoricalConfig{
			CheckInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Profile: "production",
		},
		LocationsFile: "models.yaml",
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
