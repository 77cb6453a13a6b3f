// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

package models

import "time"

// Reading is one canonical time-series observation for a device.
//
// A Reading is produced by a vendor response normalizer and persisted by a
// sync adapter. Family-specific metric fields are pointers with omitempty so
// a crowd reading carries no parking noise and vice versa. Readings are
// immutable once persisted; for any device their observation times are
// non-decreasing (enforced by the adapters' dedupe-against-last check).
type Reading struct {
	ID         int64     `json:"id"`
	Family     Family    `json:"family"`
	Serial     string    `json:"serial"`
	ObservedAt time.Time `json:"observed_at"`

	// Crowd metrics. Enter/Exit totals are the vendor's cumulative day
	// counters; the deltas are incremental since the previous persisted
	// reading and reset to the totals across a day boundary.
	EnterTotal *int64 `json:"enter_total,omitempty"`
	ExitTotal  *int64 `json:"exit_total,omitempty"`
	EnterDelta *int64 `json:"enter_delta,omitempty"`
	ExitDelta  *int64 `json:"exit_delta,omitempty"`

	// Parking metrics.
	SpacesFree  *int64 `json:"spaces_free,omitempty"`
	SpacesTotal *int64 `json:"spaces_total,omitempty"`

	// Traffic metrics (passenger-car class flow for the device's pair id).
	AvgSpeedKPH  *float64 `json:"avg_speed_kph,omitempty"`
	VehicleCount *int64   `json:"vehicle_count,omitempty"`
	TravelTimeS  *int64   `json:"travel_time_s,omitempty"`
}

// StatusLogEntry is one append-only record of a device status flip or an
// online heartbeat confirmation. Never mutated or deleted by the engine.
type StatusLogEntry struct {
	ID     int64        `json:"id"`
	Family Family       `json:"family"`
	Serial string       `json:"serial"`
	Status DeviceStatus `json:"status"`
	At     time.Time    `json:"at"`
}

// Int64Ptr returns a pointer to v. Convenience for building readings.
func Int64Ptr(v int64) *int64 { return &v }

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 { return &v }
