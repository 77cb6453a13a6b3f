// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

package sync

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"github.com/stationops/fieldsync/internal/cache"
	"github.com/stationops/fieldsync/internal/config"
	"github.com/stationops/fieldsync/internal/logging"
	"github.com/stationops/fieldsync/internal/metrics"
	"github.com/stationops/fieldsync/internal/models"
	"github.com/stationops/fieldsync/internal/ratelimit"
	"github.com/stationops/fieldsync/internal/store"
	"github.com/stationops/fieldsync/internal/upload"
)

// TrafficAdapter syncs the traffic ETag reader family. Devices are
// grouped by city: one open-data call per city retrieves every sensor
// pair there, and each device is matched against the batch by its pair
// id. A per-city idempotency key gates the whole group.
//
// The adapter owns the online state of its devices, including the ones
// carrying an external tracker id that the generic staleness check
// leaves alone.
type TrafficAdapter struct {
	*pipeline
	cfg func() config.TrafficSyncConfig
}

// NewTrafficAdapter builds the traffic family adapter.
func NewTrafficAdapter(repo store.Repository, client *Client, tokens *cache.Cache, limiter *ratelimit.Controller, uploader upload.Uploader, cfg func() config.TrafficSyncConfig) *TrafficAdapter {
	return &TrafficAdapter{
		pipeline: newPipeline(repo, client, tokens, limiter, uploader),
		cfg:      cfg,
	}
}

// Family implements Adapter.
func (a *TrafficAdapter) Family() models.Family { return models.FamilyTraffic }

// Sync implements Adapter. Cities are processed in stable order with a
// configurable delay between batches; a city-level failure is recorded
// and does not stop later cities.
func (a *TrafficAdapter) Sync(ctx context.Context, force bool) (*RunSummary, error) {
	cfg := a.cfg()
	summary := newRunSummary(models.FamilyTraffic)

	devices, err := a.repo.TrafficDevices(ctx)
	if err != nil {
		err = fmt.Errorf("list traffic devices: %w", err)
		summary.finish(err)
		return summary, err
	}

	byCity := make(map[string][]*models.TrafficDevice)
	for _, dev := range devices {
		if dev.City == "" {
			summary.Skipped++
			continue
		}
		byCity[dev.City] = append(byCity[dev.City], dev)
	}
	cities := make([]string, 0, len(byCity))
	for city := range byCity {
		cities = append(cities, city)
	}
	sort.Strings(cities)

	logging.Debug().
		Str("run_id", summary.RunID).
		Int("devices", len(devices)).
		Int("cities", len(cities)).
		Bool("force", force).
		Msg("Starting traffic sync")

	for i, city := range cities {
		if i > 0 {
			if err := pause(ctx, cfg.BatchDelay); err != nil {
				summary.finish(err)
				return summary, err
			}
		}
		if err := a.syncCity(ctx, cfg, city, byCity[city], force, summary); err != nil {
			if isFatal(err) {
				summary.finish(err)
				return summary, err
			}
			if isSkip(err) {
				summary.Skipped += len(byCity[city])
				logging.Debug().
					Str("city", city).
					AnErr("reason", err).
					Msg("Traffic city skipped")
				continue
			}
			summary.recordError(fmt.Errorf("city %s: %w", city, err))
			logging.Warn().
				Err(err).
				Str("city", city).
				Msg("Traffic city sync failed")
		}
	}

	summary.finish(nil)
	metrics.RecordSyncRun(string(models.FamilyTraffic), summary.Duration, summary.Synced, summary.Skipped, summary.Failed)
	logging.Info().
		Str("run_id", summary.RunID).
		Int("synced", summary.Synced).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("Traffic sync completed")
	return summary, nil
}

// syncCity fetches one city batch and runs the per-device pipeline
// against it. Device-level outcomes are accounted directly on summary;
// the returned error covers the batch as a whole.
func (a *TrafficAdapter) syncCity(ctx context.Context, cfg config.TrafficSyncConfig, city string, devices []*models.TrafficDevice, force bool, summary *RunSummary) error {
	key := "sync:traffic:" + city
	if err := a.gate(key, force); err != nil {
		return err
	}

	body, err := a.fetch(ctx, models.FamilyTraffic, key, cityURL(cfg.BaseURL, city))
	if err != nil {
		return err
	}

	pairs, ok := ParseTrafficBatch(body)
	if !ok {
		return fmt.Errorf("malformed batch response")
	}
	byPair := make(map[string]trafficPair, len(pairs))
	for _, p := range pairs {
		byPair[p.PairID] = p
	}

	for _, dev := range devices {
		pair, found := byPair[dev.PairID]
		if !found {
			summary.Skipped++
			continue
		}
		reading, ok := NormalizeTrafficPair(dev.Serial, pair, cfg.VehicleClass)
		if !ok {
			summary.Skipped++
			continue
		}

		inserted, err := a.persist(ctx, reading, cfg.MinPersistGap, nil)
		if err != nil {
			if isSkip(err) {
				summary.Skipped++
				continue
			}
			return fatal(err)
		}
		if inserted {
			a.forward(ctx, reading)
		}
		if err := a.markOnline(ctx, models.FamilyTraffic, dev.Serial); err != nil {
			return fatal(err)
		}
		summary.Synced++
	}

	a.tokens.Set(key, a.now(), cfg.Interval)
	return nil
}

// cityURL builds the per-city open-data request URL.
func cityURL(base, city string) string {
	return base + "?city=" + url.QueryEscape(city)
}
