// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

package store

import (
	"fmt"

	"github.com/stationops/fieldsync/internal/config"
	"github.com/stationops/fieldsync/internal/logging"
)

// Open returns the Repository selected by cfg.Backend.
func Open(cfg config.StoreConfig) (Repository, error) {
	switch cfg.Backend {
	case "badger":
		logging.Info().Str("path", cfg.Path).Msg("Opening BadgerDB store")
		return OpenBadger(cfg.Path)
	case "memory":
		logging.Warn().Msg("Using in-memory store, data will not survive restarts")
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}
