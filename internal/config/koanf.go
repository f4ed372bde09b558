// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where a config file is searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/rubintv/config.yaml",
	"/etc/rubintv/config.yml",
}

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "RUBINTV_CONFIG"

// envPrefix namespaces every environment override.
const envPrefix = "RUBINTV_"

// Load builds the configuration with precedence env > file > defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the first config file that exists, if any.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings binds each supported RUBINTV_* variable (prefix stripped,
// lowercased) to its config path. Unlisted variables are ignored so stray
// environment noise cannot inject settings.
var envMappings = map[string]string{
	"s3_endpoint_url": "s3.endpoint_url",
	"s3_region":       "s3.region",

	"host":             "server.host",
	"port":             "server.port",
	"path_prefix":      "server.path_prefix",
	"read_timeout":     "server.read_timeout",
	"shutdown_timeout": "server.shutdown_timeout",
	"rate_limit_reqs":  "server.rate_limit_reqs",
	"cors_origins":     "server.cors_origins",

	"poll_interval":             "poll.interval",
	"historical_check_interval": "historical.check_interval",

	"log_level":  "logging.level",
	"log_caller": "logging.caller",
	"profile":    "logging.profile",

	"locations_file": "locations_file",
}

// envTransform maps RUBINTV_POLL_INTERVAL -> poll.interval and so on.
// Returning "" drops the variable.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return envMappings[key]
}

// sliceConfigPaths are comma-split when they arrive as env strings.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("setting %s: %w", path, err)
			}
		}
	}
	return nil
}
