// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

package sync

import (
	"context"
	"fmt"

	"github.com/stationops/fieldsync/internal/cache"
	"github.com/stationops/fieldsync/internal/config"
	"github.com/stationops/fieldsync/internal/logging"
	"github.com/stationops/fieldsync/internal/metrics"
	"github.com/stationops/fieldsync/internal/models"
	"github.com/stationops/fieldsync/internal/ratelimit"
	"github.com/stationops/fieldsync/internal/store"
	"github.com/stationops/fieldsync/internal/upload"
)

// ParkingAdapter syncs the parking gateway family: one vendor GET per
// device, reporting free/total space counts.
type ParkingAdapter struct {
	*pipeline
	cfg func() config.FamilySyncConfig
}

// NewParkingAdapter builds the parking family adapter.
func NewParkingAdapter(repo store.Repository, client *Client, tokens *cache.Cache, limiter *ratelimit.Controller, uploader upload.Uploader, cfg func() config.FamilySyncConfig) *ParkingAdapter {
	return &ParkingAdapter{
		pipeline: newPipeline(repo, client, tokens, limiter, uploader),
		cfg:      cfg,
	}
}

// Family implements Adapter.
func (a *ParkingAdapter) Family() models.Family { return models.FamilyParking }

// Sync implements Adapter.
func (a *ParkingAdapter) Sync(ctx context.Context, force bool) (*RunSummary, error) {
	cfg := a.cfg()
	summary := newRunSummary(models.FamilyParking)

	devices, err := a.repo.ParkingDevices(ctx)
	if err != nil {
		err = fmt.Errorf("list parking devices: %w", err)
		summary.finish(err)
		return summary, err
	}

	logging.Debug().
		Str("run_id", summary.RunID).
		Int("devices", len(devices)).
		Bool("force", force).
		Msg("Starting parking sync")

	for i, dev := range devices {
		if i > 0 {
			if err := pause(ctx, cfg.RequestDelay); err != nil {
				summary.finish(err)
				return summary, err
			}
		}
		err := a.syncDevice(ctx, cfg, dev, force)
		switch {
		case err == nil:
			summary.Synced++
		case isFatal(err):
			summary.finish(err)
			return summary, err
		case isSkip(err):
			summary.Skipped++
			logging.Debug().
				Str("serial", dev.Serial).
				AnErr("reason", err).
				Msg("Parking device skipped")
		default:
			summary.recordError(fmt.Errorf("device %s: %w", dev.Serial, err))
			logging.Warn().
				Err(err).
				Str("serial", dev.Serial).
				Msg("Parking device sync failed")
		}
	}

	summary.finish(nil)
	metrics.RecordSyncRun(string(models.FamilyParking), summary.Duration, summary.Synced, summary.Skipped, summary.Failed)
	logging.Info().
		Str("run_id", summary.RunID).
		Int("synced", summary.Synced).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("Parking sync completed")
	return summary, nil
}

func (a *ParkingAdapter) syncDevice(ctx context.Context, cfg config.FamilySyncConfig, dev *models.ParkingDevice, force bool) error {
	key := "sync:parking:" + dev.Serial
	if err := a.gate(key, force); err != nil {
		return err
	}

	body, err := a.fetch(ctx, models.FamilyParking, key, dev.Endpoint)
	if err != nil {
		return err
	}

	reading, ok := NormalizeParking(dev.Serial, body)
	if !ok {
		return errNoReading
	}
	if reading.SpacesTotal == nil {
		// Gateways that omit the total report against the configured
		// lot size.
		reading.SpacesTotal = models.Int64Ptr(dev.TotalSpaces)
	}

	inserted, err := a.persist(ctx, reading, cfg.MinPersistGap, nil)
	if err != nil {
		if isSkip(err) {
			return err
		}
		return fatal(err)
	}
	if inserted {
		a.forward(ctx, reading)
	}

	if err := a.markOnline(ctx, models.FamilyParking, dev.Serial); err != nil {
		return fatal(err)
	}
	a.tokens.Set(key, a.now(), cfg.Interval)
	return nil
}
