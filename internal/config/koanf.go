// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

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

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/fieldsync/config.yaml",
	"/etc/fieldsync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from layered sources (highest wins):
//
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables
//
// The result is validated before it is returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// FIELDSYNC_SYNC_CROWD_INTERVAL -> sync.crowd.interval
	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
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

// envPrefix namespaces all FieldSync environment variables.
const envPrefix = "FIELDSYNC_"

// sectionedKeys are env key fragments that nest two levels deep; every
// other key maps section_field -> section.field.
var nestedSections = []string{
	"sync_crowd_",
	"sync_parking_",
	"sync_traffic_",
}

// envTransformFunc maps environment variable names to koanf paths.
//
// Examples:
//
//	FIELDSYNC_LOGGING_LEVEL            -> logging.level
//	FIELDSYNC_SYNC_HTTP_TIMEOUT        -> sync.http_timeout
//	FIELDSYNC_SYNC_CROWD_INTERVAL      -> sync.crowd.interval
//	FIELDSYNC_TRACKER_OFFLINE_THRESHOLD -> tracker.offline_threshold
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	for _, section := range nestedSections {
		if strings.HasPrefix(key, section) {
			// sync_crowd_request_delay -> sync.crowd.request_delay
			rest := strings.TrimPrefix(key, section)
			parts := strings.SplitN(strings.TrimSuffix(section, "_"), "_", 2)
			return parts[0] + "." + parts[1] + "." + rest
		}
	}

	if idx := strings.Index(key, "_"); idx > 0 {
		return key[:idx] + "." + key[idx+1:]
	}
	return key
}
