// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

// Package models defines the data structures shared across FieldSync.
// These models represent field devices, canonical telemetry readings,
// status-change log entries, and stations.
package models

import "time"

// Family identifies one of the device categories the engine synchronizes.
// Each family has its own vendor payload shape and sync cadence.
type Family string

const (
	FamilyCrowd   Family = "crowd"
	FamilyParking Family = "parking"
	FamilyTraffic Family = "traffic"
)

// Families lists every known device family in stable order.
var Families = []Family{FamilyCrowd, FamilyParking, FamilyTraffic}

// Valid reports whether f is a known family.
func (f Family) Valid() bool {
	switch f {
	case FamilyCrowd, FamilyParking, FamilyTraffic:
		return true
	}
	return false
}

// DeviceStatus is the online state of a device as tracked by the engine.
type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
	StatusUnknown DeviceStatus = "unknown"
)

// HasOnlineState is the capability interface every family's device type
// implements so the staleness tracker can evaluate devices generically,
// without reflection over unrelated device shapes.
type HasOnlineState interface {
	DeviceSerial() string
	DeviceName() string
	OnlineStatus() DeviceStatus
	LastOnlineAt() time.Time
	StationID() int64
}

// DeviceBase carries the fields common to all device families.
// The engine mutates only Status, LastOnline and UpdatedAt; the rest is
// owned by the external CRUD surface and read here.
type DeviceBase struct {
	Serial     string       `json:"serial"`
	Name       string       `json:"name"`
	Station    int64        `json:"station_id"`
	Endpoint   string       `json:"endpoint"` // vendor polling URL
	Status     DeviceStatus `json:"status"`
	LastOnline time.Time    `json:"last_online"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// DeviceSerial implements HasOnlineState.
func (d *DeviceBase) DeviceSerial() string { return d.Serial }

// DeviceName implements HasOnlineState.
func (d *DeviceBase) DeviceName() string { return d.Name }

// OnlineStatus implements HasOnlineState.
func (d *DeviceBase) OnlineStatus() DeviceStatus { return d.Status }

// LastOnlineAt implements HasOnlineState.
func (d *DeviceBase) LastOnlineAt() time.Time { return d.LastOnline }

// StationID implements HasOnlineState.
func (d *DeviceBase) StationID() int64 { return d.Station }

// CrowdDevice is a people-counting camera or gate counter reporting
// cumulative enter/exit totals.
type CrowdDevice struct {
	DeviceBase
	Capacity int64 `json:"capacity"` // venue capacity for occupancy ratio
}

// ParkingDevice is a parking-lot gateway reporting free/total space counts.
type ParkingDevice struct {
	DeviceBase
	TotalSpaces int64 `json:"total_spaces"`
}

// TrafficDevice is an ETag pair reader on a road segment. Devices are
// polled per city in one batched vendor call; PairID selects this
// device's flow entry out of the batch response.
type TrafficDevice struct {
	DeviceBase
	City          string  `json:"city"`
	PairID        string  `json:"pair_id"`        // paired sensor identifier in vendor responses
	SpeedLimitKPH float64 `json:"speed_limit_kph"`
	// TrackerID is set when an external system maintains this device's
	// online state; such devices are excluded from the generic staleness
	// check (the traffic sync adapter owns their state instead).
	TrackerID string `json:"tracker_id,omitempty"`
}

// Station is the owning site of one or more devices. Notifications about
// newly-offline devices are grouped per station.
type Station struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	NotifyEnabled bool   `json:"notify_enabled"`
	NotifyTarget  string `json:"notify_target"` // delivery channel handle, empty = no target configured
}
