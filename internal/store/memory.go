// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stationops/fieldsync/internal/models"
)

// Memory is an in-memory Repository. It backs tests and the
// `store.backend: memory` mode for ephemeral deployments; nothing
// survives a restart.
type Memory struct {
	mu sync.RWMutex

	crowd   map[string]*models.CrowdDevice
	parking map[string]*models.ParkingDevice
	traffic map[string]*models.TrafficDevice

	stations map[int64]*models.Station

	// readings are kept per family+serial in insertion order; the engine
	// only appends strictly-newer observations, so the tail is the last
	// reading.
	readings map[string][]*models.Reading
	latest   map[string]*models.Reading

	statusLog []*models.StatusLogEntry

	nextID int64
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		crowd:    make(map[string]*models.CrowdDevice),
		parking:  make(map[string]*models.ParkingDevice),
		traffic:  make(map[string]*models.TrafficDevice),
		stations: make(map[int64]*models.Station),
		readings: make(map[string][]*models.Reading),
		latest:   make(map[string]*models.Reading),
	}
}

func deviceKey(family models.Family, serial string) string {
	return string(family) + ":" + serial
}

// SeedCrowdDevice registers a crowd device. Test and dev-mode helper.
func (m *Memory) SeedCrowdDevice(d *models.CrowdDevice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.crowd[d.Serial] = d
}

// SeedParkingDevice registers a parking device.
func (m *Memory) SeedParkingDevice(d *models.ParkingDevice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parking[d.Serial] = d
}

// SeedTrafficDevice registers a traffic device.
func (m *Memory) SeedTrafficDevice(d *models.TrafficDevice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traffic[d.Serial] = d
}

// SeedStation registers a station.
func (m *Memory) SeedStation(s *models.Station) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stations[s.ID] = s
}

// CrowdDevices implements Repository.
func (m *Memory) CrowdDevices(_ context.Context) ([]*models.CrowdDevice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.CrowdDevice, 0, len(m.crowd))
	for _, d := range m.crowd {
		out = append(out, d)
	}
	return out, nil
}

// ParkingDevices implements Repository.
func (m *Memory) ParkingDevices(_ context.Context) ([]*models.ParkingDevice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.ParkingDevice, 0, len(m.parking))
	for _, d := range m.parking {
		out = append(out, d)
	}
	return out, nil
}

// TrafficDevices implements Repository.
func (m *Memory) TrafficDevices(_ context.Context) ([]*models.TrafficDevice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.TrafficDevice, 0, len(m.traffic))
	for _, d := range m.traffic {
		out = append(out, d)
	}
	return out, nil
}

// DevicesWithOnlineState implements Repository.
func (m *Memory) DevicesWithOnlineState(ctx context.Context, family models.Family) ([]models.HasOnlineState, error) {
	switch family {
	case models.FamilyCrowd:
		devs, err := m.CrowdDevices(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]models.HasOnlineState, len(devs))
		for i, d := range devs {
			out[i] = d
		}
		return out, nil
	case models.FamilyParking:
		devs, err := m.ParkingDevices(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]models.HasOnlineState, len(devs))
		for i, d := range devs {
			out[i] = d
		}
		return out, nil
	case models.FamilyTraffic:
		devs, err := m.TrafficDevices(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]models.HasOnlineState, len(devs))
		for i, d := range devs {
			out[i] = d
		}
		return out, nil
	}
	return nil, fmt.Errorf("store: unknown family %q", family)
}

// UpdateDeviceStatus implements Repository.
func (m *Memory) UpdateDeviceStatus(_ context.Context, family models.Family, serial string, status models.DeviceStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var base *models.DeviceBase
	switch family {
	case models.FamilyCrowd:
		if d, ok := m.crowd[serial]; ok {
			base = &d.DeviceBase
		}
	case models.FamilyParking:
		if d, ok := m.parking[serial]; ok {
			base = &d.DeviceBase
		}
	case models.FamilyTraffic:
		if d, ok := m.traffic[serial]; ok {
			base = &d.DeviceBase
		}
	}
	if base == nil {
		return fmt.Errorf("store: device %s/%s: %w", family, serial, ErrNotFound)
	}

	base.Status = status
	if status == models.StatusOnline {
		base.LastOnline = at
	}
	base.UpdatedAt = at
	return nil
}

// Station implements Repository.
func (m *Memory) Station(_ context.Context, id int64) (*models.Station, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stations[id]
	if !ok {
		return nil, fmt.Errorf("store: station %d: %w", id, ErrNotFound)
	}
	return s, nil
}

// LastReading implements Repository. Returns (nil, nil) when the device
// has no readings yet.
func (m *Memory) LastReading(_ context.Context, family models.Family, serial string) (*models.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs := m.readings[deviceKey(family, serial)]
	if len(rs) == 0 {
		return nil, nil
	}
	return rs[len(rs)-1], nil
}

// InsertReading implements Repository.
func (m *Memory) InsertReading(_ context.Context, r *models.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cp := *r
	cp.ID = m.nextID
	key := deviceKey(r.Family, r.Serial)
	m.readings[key] = append(m.readings[key], &cp)
	return nil
}

// UpsertLatest implements Repository.
func (m *Memory) UpsertLatest(_ context.Context, r *models.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.latest[deviceKey(r.Family, r.Serial)] = &cp
	return nil
}

// LatestReading implements Repository. Returns (nil, nil) when the
// device has no latest row.
func (m *Memory) LatestReading(_ context.Context, family models.Family, serial string) (*models.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.latest[deviceKey(family, serial)]
	if !ok {
		return nil, nil
	}
	return r, nil
}

// AppendStatusLog implements Repository.
func (m *Memory) AppendStatusLog(_ context.Context, e *models.StatusLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cp := *e
	cp.ID = m.nextID
	m.statusLog = append(m.statusLog, &cp)
	return nil
}

// StatusLog returns a copy of the status log. Test helper.
func (m *Memory) StatusLog() []*models.StatusLogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.StatusLogEntry, len(m.statusLog))
	copy(out, m.statusLog)
	return out
}

// Readings returns a copy of one device's history. Test helper.
func (m *Memory) Readings(family models.Family, serial string) []*models.Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs := m.readings[deviceKey(family, serial)]
	out := make([]*models.Reading, len(rs))
	copy(out, rs)
	return out
}

// PruneReadingsBefore implements Repository.
func (m *Memory) PruneReadingsBefore(_ context.Context, family models.Family, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pruned := 0
	prefix := string(family) + ":"
	for key, rs := range m.readings {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		kept := rs[:0]
		for _, r := range rs {
			if r.ObservedAt.Before(cutoff) {
				pruned++
				continue
			}
			kept = append(kept, r)
		}
		m.readings[key] = kept
	}
	return pruned, nil
}

// PruneStatusLogBefore implements Repository.
func (m *Memory) PruneStatusLogBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.statusLog[:0]
	pruned := 0
	for _, e := range m.statusLog {
		if e.At.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	m.statusLog = kept
	return pruned, nil
}

// Close implements Repository. No-op for the in-memory store.
func (m *Memory) Close() error { return nil }
