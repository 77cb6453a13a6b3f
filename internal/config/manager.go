// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

package config

import (
	"sync"
	"time"

	"github.com/stationops/fieldsync/internal/logging"
)

// reloadTTL is how long a loaded snapshot stays fresh. Operators can tune
// sync intervals, batch delays and the offline threshold without a restart;
// changes take effect within this window.
const reloadTTL = 5 * time.Minute

// Manager hands out configuration snapshots with a short reload TTL.
// A failed reload keeps serving the previous valid snapshot; only startup
// treats configuration errors as fatal.
type Manager struct {
	mu       sync.RWMutex
	current  *Config
	loadedAt time.Time
	loadFn   func() (*Config, error)
	ttl      time.Duration
}

// NewManager creates a manager seeded with an already-validated config.
func NewManager(initial *Config) *Manager {
	return &Manager{
		current:  initial,
		loadedAt: time.Now(),
		loadFn:   Load,
		ttl:      reloadTTL,
	}
}

// newManagerForTest allows tests to control the load function and TTL.
func newManagerForTest(initial *Config, loadFn func() (*Config, error), ttl time.Duration) *Manager {
	return &Manager{
		current:  initial,
		loadedAt: time.Now(),
		loadFn:   loadFn,
		ttl:      ttl,
	}
}

// Current returns the active configuration snapshot, reloading it when the
// TTL has lapsed. Always returns a valid config.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	fresh := time.Since(m.loadedAt) < m.ttl
	cfg := m.current
	m.mu.RUnlock()

	if fresh {
		return cfg
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another goroutine may have reloaded while we waited for the lock.
	if time.Since(m.loadedAt) < m.ttl {
		return m.current
	}

	reloaded, err := m.loadFn()
	if err != nil {
		logging.Warn().Err(err).Msg("config reload failed, keeping previous snapshot")
		m.loadedAt = time.Now() // back off for one more TTL window
		return m.current
	}

	if reloaded.LogLevel() != m.current.LogLevel() {
		logging.SetLevelString(reloaded.LogLevel())
		logging.Info().Str("level", reloaded.LogLevel()).Msg("log level updated from reloaded config")
	}

	m.current = reloaded
	m.loadedAt = time.Now()
	return m.current
}

// Invalidate forces the next Current() call to reload.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.loadedAt = time.Time{}
	m.mu.Unlock()
}
