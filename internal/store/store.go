// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

// Package store defines the repository interface the sync engine persists
// through, plus two implementations: an embedded BadgerDB store (the
// default) and an in-memory store for tests and ephemeral deployments.
//
// The engine never depends on a concrete store; any SQL or remote backend
// can be dropped in behind Repository.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/stationops/fieldsync/internal/models"
)

// ErrNotFound is returned when a looked-up entity does not exist.
var ErrNotFound = errors.New("store: not found")

// Repository is the persistence boundary of the sync engine.
//
// Devices are looked up, never created or deleted here; the engine only
// mutates their status and timestamps. Readings are append-only. The
// latest-reading row holds at most one entry per device serial.
type Repository interface {
	// Devices
	CrowdDevices(ctx context.Context) ([]*models.CrowdDevice, error)
	ParkingDevices(ctx context.Context) ([]*models.ParkingDevice, error)
	TrafficDevices(ctx context.Context) ([]*models.TrafficDevice, error)

	// DevicesWithOnlineState returns one family's devices through the
	// capability interface the staleness tracker evaluates.
	DevicesWithOnlineState(ctx context.Context, family models.Family) ([]models.HasOnlineState, error)

	// UpdateDeviceStatus sets a device's status and last-online marker.
	UpdateDeviceStatus(ctx context.Context, family models.Family, serial string, status models.DeviceStatus, at time.Time) error

	// Stations
	Station(ctx context.Context, id int64) (*models.Station, error)

	// Readings
	LastReading(ctx context.Context, family models.Family, serial string) (*models.Reading, error)
	InsertReading(ctx context.Context, r *models.Reading) error
	UpsertLatest(ctx context.Context, r *models.Reading) error
	LatestReading(ctx context.Context, family models.Family, serial string) (*models.Reading, error)

	// Status log, append-only.
	AppendStatusLog(ctx context.Context, e *models.StatusLogEntry) error

	// Retention
	PruneReadingsBefore(ctx context.Context, family models.Family, cutoff time.Time) (int, error)
	PruneStatusLogBefore(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}
