// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

// Package config loads and validates FieldSync configuration with Koanf v2
// layered sources: built-in defaults, an optional YAML file, then
// environment variables (highest priority).
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the full application configuration.
type Config struct {
	Logging   LoggingConfig   `koanf:"logging"`
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Sync      SyncConfig      `koanf:"sync"`
	Tracker   TrackerConfig   `koanf:"tracker"`
	Notify    NotifyConfig    `koanf:"notify"`
	Upload    UploadConfig    `koanf:"upload"`
	Retention RetentionConfig `koanf:"retention"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
	// Verbose maps to the debug level regardless of Level; operators flip
	// this at runtime through the hot-reloaded snapshot.
	Verbose bool `koanf:"verbose"`
}

// ServerConfig configures the operational HTTP endpoint (health, metrics,
// sync status and manual triggers).
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`
}

// StoreConfig selects the repository backend. The engine only ever talks
// to the repository interface; badger is the embedded default.
type StoreConfig struct {
	Backend string `koanf:"backend" validate:"oneof=badger memory"`
	Path    string `koanf:"path"`
}

// SyncConfig holds the per-family sync tuning.
type SyncConfig struct {
	// HTTPTimeout bounds every vendor fetch.
	HTTPTimeout time.Duration `koanf:"http_timeout"`

	Crowd   FamilySyncConfig  `koanf:"crowd"`
	Parking FamilySyncConfig  `koanf:"parking"`
	Traffic TrafficSyncConfig `koanf:"traffic"`
}

// FamilySyncConfig tunes one device family's polling loop.
type FamilySyncConfig struct {
	Enabled bool `koanf:"enabled"`

	// Interval is the family's sync cadence and doubles as the
	// idempotency token TTL for its sources.
	Interval time.Duration `koanf:"interval"`

	// RequestDelay is an extra pause between per-device requests within
	// one tick, on top of the adaptive rate limiter.
	RequestDelay time.Duration `koanf:"request_delay"`

	// MinPersistGap gates history rows: a new Reading is inserted only
	// when this much time has passed since the last persisted one. The
	// latest-snapshot row is updated on every accepted observation.
	MinPersistGap time.Duration `koanf:"min_persist_gap"`
}

// TrafficSyncConfig tunes the city-batched traffic family.
type TrafficSyncConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Interval      time.Duration `koanf:"interval"`
	MinPersistGap time.Duration `koanf:"min_persist_gap"`

	// BaseURL is the open-data endpoint; one request per city retrieves
	// every sensor pair in that city.
	BaseURL string `koanf:"base_url" validate:"omitempty,url"`

	// BatchDelay is the pause between consecutive city fetches.
	BatchDelay time.Duration `koanf:"batch_delay"`

	// VehicleClass selects the flow entry persisted from each pair
	// (passenger car by default).
	VehicleClass string `koanf:"vehicle_class"`
}

// TrackerConfig tunes the online/offline state tracker.
type TrackerConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`

	// OfflineThreshold is the staleness gap after which a device is
	// considered offline.
	OfflineThreshold time.Duration `koanf:"offline_threshold"`
}

// NotifyConfig configures the outbound notification collaborator.
type NotifyConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Endpoint string        `koanf:"endpoint" validate:"omitempty,url"`
	Timeout  time.Duration `koanf:"timeout"`
}

// UploadConfig configures forwarding of new readings to the external
// reporting agency. Failures never fail a sync.
type UploadConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Endpoint string        `koanf:"endpoint" validate:"omitempty,url"`
	Timeout  time.Duration `koanf:"timeout"`
}

// RetentionConfig tunes the daily retention sweep and the monthly
// status-log compaction, both idempotency-guarded one-shot tasks.
type RetentionConfig struct {
	Enabled        bool `koanf:"enabled"`
	ReadingTTLDays int  `koanf:"reading_ttl_days" validate:"min=1"`
	StatusLogDays  int  `koanf:"status_log_days" validate:"min=1"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8087,
			Timeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend: "badger",
			Path:    "/data/fieldsync",
		},
		Sync: SyncConfig{
			HTTPTimeout: 30 * time.Second,
			Crowd: FamilySyncConfig{
				Enabled:       true,
				Interval:      time.Minute,
				RequestDelay:  200 * time.Millisecond,
				MinPersistGap: 5 * time.Minute,
			},
			Parking: FamilySyncConfig{
				Enabled:       true,
				Interval:      5 * time.Minute,
				RequestDelay:  200 * time.Millisecond,
				MinPersistGap: 5 * time.Minute,
			},
			Traffic: TrafficSyncConfig{
				Enabled:       true,
				Interval:      5 * time.Minute,
				MinPersistGap: 5 * time.Minute,
				BaseURL:       "",
				BatchDelay:    2 * time.Second,
				VehicleClass:  "31", // small passenger car
			},
		},
		Tracker: TrackerConfig{
			Enabled:          true,
			Interval:         time.Minute,
			OfflineThreshold: 7 * time.Minute,
		},
		Notify: NotifyConfig{
			Enabled: false,
			Timeout: 10 * time.Second,
		},
		Upload: UploadConfig{
			Enabled: false,
			Timeout: 15 * time.Second,
		},
		Retention: RetentionConfig{
			Enabled:        true,
			ReadingTTLDays: 365,
			StatusLogDays:  90,
		},
	}
}

// Validate checks the configuration. Validation failures are fatal at
// startup only; the hot-reload path falls back to the previous snapshot.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Cross-field checks the tag language cannot express.
	if c.Sync.Traffic.Enabled && c.Sync.Traffic.BaseURL == "" {
		return fmt.Errorf("sync.traffic.base_url is required when the traffic family is enabled")
	}
	if c.Notify.Enabled && c.Notify.Endpoint == "" {
		return fmt.Errorf("notify.endpoint is required when notifications are enabled")
	}
	if c.Upload.Enabled && c.Upload.Endpoint == "" {
		return fmt.Errorf("upload.endpoint is required when uploads are enabled")
	}
	if c.Sync.HTTPTimeout <= 0 {
		return fmt.Errorf("sync.http_timeout must be positive")
	}
	for name, interval := range map[string]time.Duration{
		"sync.crowd.interval":   c.Sync.Crowd.Interval,
		"sync.parking.interval": c.Sync.Parking.Interval,
		"sync.traffic.interval": c.Sync.Traffic.Interval,
		"tracker.interval":      c.Tracker.Interval,
	} {
		if interval < time.Second {
			return fmt.Errorf("%s must be at least 1s, got %v", name, interval)
		}
	}
	if c.Tracker.OfflineThreshold < c.Tracker.Interval {
		return fmt.Errorf("tracker.offline_threshold (%v) must not be shorter than tracker.interval (%v)",
			c.Tracker.OfflineThreshold, c.Tracker.Interval)
	}
	return nil
}

// LogLevel resolves the effective log level, honoring the verbose flag.
func (c *Config) LogLevel() string {
	if c.Logging.Verbose {
		return "debug"
	}
	return c.Logging.Level
}
