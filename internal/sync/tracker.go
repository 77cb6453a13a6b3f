// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stationops/fieldsync/internal/config"
	"github.com/stationops/fieldsync/internal/logging"
	"github.com/stationops/fieldsync/internal/metrics"
	"github.com/stationops/fieldsync/internal/models"
	"github.com/stationops/fieldsync/internal/notify"
	"github.com/stationops/fieldsync/internal/store"
)

// Policy tunes how the staleness check treats one device family.
type Policy struct {
	// AlwaysOnline marks the family online unconditionally on every
	// check, still writing a heartbeat status-log entry each tick.
	// Used for families without a heartbeat concept.
	AlwaysOnline bool

	// SkipExternallyTracked excludes devices carrying an external
	// tracker id; their online state is owned by the family's sync
	// adapter instead.
	SkipExternallyTracked bool
}

// DefaultPolicies returns the per-family staleness policies. Parking
// gateways have no per-device heartbeat, so the family is always
// considered online; traffic devices with a tracker id are excluded
// because the traffic adapter maintains their state.
func DefaultPolicies() map[models.Family]Policy {
	return map[models.Family]Policy{
		models.FamilyCrowd:   {},
		models.FamilyParking: {AlwaysOnline: true},
		models.FamilyTraffic: {SkipExternallyTracked: true},
	}
}

// Tracker evaluates every device's staleness on a periodic tick,
// flips newly-stale devices offline, and sends one grouped
// notification per station listing its newly-offline devices.
//
// The tracker never fails hard: per-device store errors and
// notification-dispatch errors are logged and do not block the rest of
// the scan.
type Tracker struct {
	repo     store.Repository
	notifier notify.Notifier
	cfg      func() config.TrackerConfig
	policies map[models.Family]Policy
	now      func() time.Time
}

// NewTracker builds the state tracker. cfg is re-read on every check so
// threshold changes apply without a restart.
func NewTracker(repo store.Repository, notifier notify.Notifier, cfg func() config.TrackerConfig, policies map[models.Family]Policy) *Tracker {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Tracker{
		repo:     repo,
		notifier: notifier,
		cfg:      cfg,
		policies: policies,
		now:      time.Now,
	}
}

// offlineDevice is one device that flipped offline during a check,
// carried to the notification stage.
type offlineDevice struct {
	family models.Family
	serial string
	name   string
}

// CheckAll runs one staleness pass over every family. The returned
// error aggregates family-level scan failures; individual device and
// notification errors are logged only.
func (t *Tracker) CheckAll(ctx context.Context) error {
	cfg := t.cfg()
	now := t.now()
	newlyOffline := make(map[int64][]offlineDevice)

	var scanErrs []error
	for _, family := range models.Families {
		pol := t.policies[family]
		devices, err := t.repo.DevicesWithOnlineState(ctx, family)
		if err != nil {
			scanErrs = append(scanErrs, fmt.Errorf("list %s devices: %w", family, err))
			continue
		}

		online := 0
		for _, dev := range devices {
			if pol.SkipExternallyTracked {
				if td, ok := dev.(*models.TrafficDevice); ok && td.TrackerID != "" {
					continue
				}
			}

			if pol.AlwaysOnline {
				t.heartbeat(ctx, family, dev, now)
				online++
				continue
			}

			stale := now.Sub(dev.LastOnlineAt()) >= cfg.OfflineThreshold
			if !stale {
				if dev.OnlineStatus() == models.StatusOnline {
					online++
				}
				continue
			}
			if dev.OnlineStatus() == models.StatusOffline {
				continue // already offline, transition-only
			}

			if err := t.markOffline(ctx, family, dev, now); err != nil {
				logging.Error().
					Err(err).
					Str("family", string(family)).
					Str("serial", dev.DeviceSerial()).
					Msg("Failed to persist offline transition")
				continue
			}
			newlyOffline[dev.StationID()] = append(newlyOffline[dev.StationID()], offlineDevice{
				family: family,
				serial: dev.DeviceSerial(),
				name:   dev.DeviceName(),
			})
		}
		metrics.DevicesOnline.WithLabelValues(string(family)).Set(float64(online))
	}

	t.notifyStations(ctx, newlyOffline)
	return errors.Join(scanErrs...)
}

// heartbeat confirms an always-online device on this tick.
func (t *Tracker) heartbeat(ctx context.Context, family models.Family, dev models.HasOnlineState, now time.Time) {
	if err := t.repo.UpdateDeviceStatus(ctx, family, dev.DeviceSerial(), models.StatusOnline, now); err != nil {
		logging.Error().
			Err(err).
			Str("family", string(family)).
			Str("serial", dev.DeviceSerial()).
			Msg("Failed to persist heartbeat status")
		return
	}
	if err := t.repo.AppendStatusLog(ctx, &models.StatusLogEntry{
		Family: family,
		Serial: dev.DeviceSerial(),
		Status: models.StatusOnline,
		At:     now,
	}); err != nil {
		logging.Error().
			Err(err).
			Str("family", string(family)).
			Str("serial", dev.DeviceSerial()).
			Msg("Failed to append heartbeat log entry")
	}
}

// markOffline persists one online-to-offline transition.
func (t *Tracker) markOffline(ctx context.Context, family models.Family, dev models.HasOnlineState, now time.Time) error {
	if err := t.repo.UpdateDeviceStatus(ctx, family, dev.DeviceSerial(), models.StatusOffline, now); err != nil {
		return fmt.Errorf("update device status: %w", err)
	}
	if err := t.repo.AppendStatusLog(ctx, &models.StatusLogEntry{
		Family: family,
		Serial: dev.DeviceSerial(),
		Status: models.StatusOffline,
		At:     now,
	}); err != nil {
		return fmt.Errorf("append status log: %w", err)
	}
	metrics.OfflineTransitions.WithLabelValues(string(family)).Inc()
	logging.Warn().
		Str("family", string(family)).
		Str("serial", dev.DeviceSerial()).
		Str("name", dev.DeviceName()).
		Time("last_online", dev.LastOnlineAt()).
		Msg("Device went offline")
	return nil
}

// notifyStations sends one grouped message per station that has newly
// offline devices, notifications enabled, and a delivery target.
func (t *Tracker) notifyStations(ctx context.Context, newlyOffline map[int64][]offlineDevice) {
	for stationID, devs := range newlyOffline {
		station, err := t.repo.Station(ctx, stationID)
		if err != nil {
			logging.Warn().
				Err(err).
				Int64("station_id", stationID).
				Msg("Cannot notify: station lookup failed")
			continue
		}
		if !station.NotifyEnabled || station.NotifyTarget == "" {
			continue
		}

		if err := t.notifier.Send(ctx, station.NotifyTarget, offlineMessage(station.Name, devs)); err != nil {
			logging.Error().
				Err(err).
				Int64("station_id", stationID).
				Str("station", station.Name).
				Msg("Offline notification failed")
			continue
		}
		logging.Info().
			Int64("station_id", stationID).
			Str("station", station.Name).
			Int("devices", len(devs)).
			Msg("Offline notification sent")
	}
}

// offlineMessage renders the station notification body, devices in
// stable serial order.
func offlineMessage(stationName string, devs []offlineDevice) string {
	sort.Slice(devs, func(i, j int) bool { return devs[i].serial < devs[j].serial })

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %d device(s) went offline:", stationName, len(devs))
	for _, d := range devs {
		fmt.Fprintf(&b, "\n- %s (%s, %s)", d.name, d.serial, d.family)
	}
	return b.String()
}
