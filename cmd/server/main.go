// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

// Package main is the entry point for the FieldSync server.
//
// FieldSync polls vendor and open-data endpoints for field device
// telemetry (crowd counters, parking occupancy sensors, traffic ETag
// pairs), normalizes it into a uniform reading model, and tracks the
// online/offline state of every registered device.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: load settings from defaults, config.yaml and
//     environment variables (Koanf v2)
//  2. Store: open the BadgerDB repository (or in-memory for tests)
//  3. Sync engine: one adapter per enabled device family, sharing the
//     idempotency cache and the adaptive rate-limit controller
//  4. Tracker: offline detection with station-grouped notifications
//  5. Supervisor tree: sync loops, tracker loop, retention jobs and
//     the operational HTTP endpoint under suture supervision
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (FIELDSYNC_ prefix)
//   - Config file (config.yaml)
//   - Built-in defaults
//
// Tuning values (sync intervals, batch delays, offline threshold) are
// re-read from the snapshot manager on every loop iteration, so they
// take effect without a restart.
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new HTTP connections
//   - Cancels in-flight sync runs through their context
//   - Closes the store and the idempotency cache
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stationops/fieldsync/internal/api"
	"github.com/stationops/fieldsync/internal/cache"
	"github.com/stationops/fieldsync/internal/config"
	"github.com/stationops/fieldsync/internal/logging"
	"github.com/stationops/fieldsync/internal/models"
	"github.com/stationops/fieldsync/internal/notify"
	"github.com/stationops/fieldsync/internal/ratelimit"
	"github.com/stationops/fieldsync/internal/scheduler"
	"github.com/stationops/fieldsync/internal/store"
	"github.com/stationops/fieldsync/internal/sync"
	"github.com/stationops/fieldsync/internal/upload"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.LogLevel(),
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("store_backend", cfg.Store.Backend).
		Msg("Starting FieldSync")

	manager := config.NewManager(cfg)

	repo, err := store.Open(cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	tokens := cache.New()
	defer tokens.Close()

	limiter := ratelimit.NewController(ratelimit.DefaultConfig())
	client := sync.NewClient(cfg.Sync.HTTPTimeout)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.Enabled {
		notifier = notify.NewWebhook(cfg.Notify.Endpoint, cfg.Notify.Timeout)
		logging.Info().Str("endpoint", cfg.Notify.Endpoint).Msg("Offline notifications enabled")
	} else {
		logging.Info().Msg("Offline notifications disabled")
	}

	var uploader upload.Uploader = upload.Nop{}
	if cfg.Upload.Enabled {
		uploader = upload.NewHTTP(cfg.Upload.Endpoint, cfg.Upload.Timeout)
		logging.Info().Str("endpoint", cfg.Upload.Endpoint).Msg("Reading upload enabled")
	}

	// Adapters re-read their family config through the manager so
	// interval changes apply on the next tick.
	var adapters []sync.Adapter
	if cfg.Sync.Crowd.Enabled {
		adapters = append(adapters, sync.NewCrowdAdapter(repo, client, tokens, limiter, uploader,
			func() config.FamilySyncConfig { return manager.Current().Sync.Crowd }))
	}
	if cfg.Sync.Parking.Enabled {
		adapters = append(adapters, sync.NewParkingAdapter(repo, client, tokens, limiter, uploader,
			func() config.FamilySyncConfig { return manager.Current().Sync.Parking }))
	}
	if cfg.Sync.Traffic.Enabled {
		adapters = append(adapters, sync.NewTrafficAdapter(repo, client, tokens, limiter, uploader,
			func() config.TrafficSyncConfig { return manager.Current().Sync.Traffic }))
	}
	engine := sync.NewEngine(adapters...)
	for _, a := range adapters {
		logging.Info().Str("family", string(a.Family())).Msg("Sync adapter enabled")
	}

	tracker := sync.NewTracker(repo, notifier,
		func() config.TrackerConfig { return manager.Current().Tracker }, nil)

	tree := scheduler.NewTree(scheduler.DefaultTreeConfig())

	// Sync loops run immediately on startup so a restart never leaves
	// devices looking stale for a full interval.
	for _, a := range adapters {
		family := a.Family()
		period := familyInterval(manager, family)
		task := func(ctx context.Context) error {
			_, err := engine.TriggerSync(ctx, family, false)
			return err
		}
		tree.Schedule(scheduler.NewLoop("sync-"+string(family), period, 0, true, task))
	}

	if cfg.Tracker.Enabled {
		tree.Schedule(scheduler.NewLoop("tracker",
			func() time.Duration { return manager.Current().Tracker.Interval },
			0, true, tracker.CheckAll))
	} else {
		logging.Warn().Msg("Online-state tracker disabled")
	}

	retentionCfg := func() config.RetentionConfig { return manager.Current().Retention }
	now := time.Now()
	tree.Schedule(scheduler.NewLoop("retention-sweep",
		func() time.Duration { return 24 * time.Hour },
		scheduler.NextDailyDelay(now), false,
		scheduler.RetentionSweep(repo, tokens, retentionCfg)))
	tree.Schedule(scheduler.NewLoop("status-log-compaction",
		func() time.Duration { return 24 * time.Hour },
		scheduler.NextMonthlyDelay(now), false,
		scheduler.StatusLogCompaction(repo, tokens, retentionCfg)))

	tree.AddOpsService(api.NewServer(cfg.Server, engine, limiter, tokens))
	logging.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("Operational HTTP endpoint added")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("FieldSync stopped gracefully")
}

// familyInterval returns a live view of the family's sync interval for
// the scheduler loop.
func familyInterval(m *config.Manager, family models.Family) func() time.Duration {
	return func() time.Duration {
		cfg := m.Current().Sync
		switch family {
		case models.FamilyCrowd:
			return cfg.Crowd.Interval
		case models.FamilyParking:
			return cfg.Parking.Interval
		default:
			return cfg.Traffic.Interval
		}
	}
}
