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

// CrowdAdapter syncs the crowd counter family: one vendor GET per
// device, cumulative enter/exit totals normalized into readings with
// derived incremental deltas.
type CrowdAdapter struct {
	*pipeline
	cfg func() config.FamilySyncConfig
}

// NewCrowdAdapter builds the crowd family adapter. cfg is re-read on
// every run so interval changes apply without a restart.
func NewCrowdAdapter(repo store.Repository, client *Client, tokens *cache.Cache, limiter *ratelimit.Controller, uploader upload.Uploader, cfg func() config.FamilySyncConfig) *CrowdAdapter {
	return &CrowdAdapter{
		pipeline: newPipeline(repo, client, tokens, limiter, uploader),
		cfg:      cfg,
	}
}

// Family implements Adapter.
func (a *CrowdAdapter) Family() models.Family { return models.FamilyCrowd }

// Sync implements Adapter. Devices are processed sequentially to bound
// load on the vendor; a per-device failure is recorded and does not
// stop the run, a store failure aborts the tick.
func (a *CrowdAdapter) Sync(ctx context.Context, force bool) (*RunSummary, error) {
	cfg := a.cfg()
	summary := newRunSummary(models.FamilyCrowd)

	devices, err := a.repo.CrowdDevices(ctx)
	if err != nil {
		err = fmt.Errorf("list crowd devices: %w", err)
		summary.finish(err)
		return summary, err
	}

	logging.Debug().
		Str("run_id", summary.RunID).
		Int("devices", len(devices)).
		Bool("force", force).
		Msg("Starting crowd sync")

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
				Msg("Crowd device skipped")
		default:
			summary.recordError(fmt.Errorf("device %s: %w", dev.Serial, err))
			logging.Warn().
				Err(err).
				Str("serial", dev.Serial).
				Msg("Crowd device sync failed")
		}
	}

	summary.finish(nil)
	metrics.RecordSyncRun(string(models.FamilyCrowd), summary.Duration, summary.Synced, summary.Skipped, summary.Failed)
	logging.Info().
		Str("run_id", summary.RunID).
		Int("synced", summary.Synced).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("Crowd sync completed")
	return summary, nil
}

// syncDevice runs the full pipeline for one crowd device. Store
// failures come back wrapped as fatal and abort the whole run.
func (a *CrowdAdapter) syncDevice(ctx context.Context, cfg config.FamilySyncConfig, dev *models.CrowdDevice, force bool) error {
	key := "sync:crowd:" + dev.Serial
	if err := a.gate(key, force); err != nil {
		return err
	}

	body, err := a.fetch(ctx, models.FamilyCrowd, key, dev.Endpoint)
	if err != nil {
		return err
	}

	reading, ok := NormalizeCrowd(dev.Serial, body)
	if !ok {
		return errNoReading
	}

	inserted, err := a.persist(ctx, reading, cfg.MinPersistGap, func(last *models.Reading) {
		deriveCrowdDeltas(reading, last)
	})
	if err != nil {
		if isSkip(err) {
			return err
		}
		return fatal(err)
	}
	if inserted {
		a.forward(ctx, reading)
	}

	if err := a.markOnline(ctx, models.FamilyCrowd, dev.Serial); err != nil {
		return fatal(err)
	}
	a.tokens.Set(key, a.now(), cfg.Interval)
	return nil
}

// deriveCrowdDeltas computes the incremental enter/exit deltas from the
// vendor's cumulative day totals. The baseline is the last persisted
// reading when it falls on the same local day; across a day boundary
// the counters restart, so the baseline is (0, 0). A mid-day counter
// reset (total below baseline) also restarts from zero.
func deriveCrowdDeltas(r, last *models.Reading) {
	var baseEnter, baseExit int64
	if last != nil && sameLocalDay(last.ObservedAt, r.ObservedAt) {
		if last.EnterTotal != nil {
			baseEnter = *last.EnterTotal
		}
		if last.ExitTotal != nil {
			baseExit = *last.ExitTotal
		}
	}

	enterDelta := *r.EnterTotal - baseEnter
	if enterDelta < 0 {
		enterDelta = *r.EnterTotal
	}
	exitDelta := *r.ExitTotal - baseExit
	if exitDelta < 0 {
		exitDelta = *r.ExitTotal
	}
	r.EnterDelta = &enterDelta
	r.ExitDelta = &exitDelta
}
