// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/stationops/fieldsync/internal/cache"
	"github.com/stationops/fieldsync/internal/config"
	"github.com/stationops/fieldsync/internal/logging"
	"github.com/stationops/fieldsync/internal/models"
	"github.com/stationops/fieldsync/internal/store"
)

// One-shot maintenance tasks. Each is guarded by an idempotency token
// keyed on its period, so a loop that fires more often than intended
// runs the work at most once per day or month.

// RetentionSweep returns the daily task pruning readings older than the
// configured horizon.
func RetentionSweep(repo store.Repository, tokens *cache.Cache, cfg func() config.RetentionConfig) Task {
	return func(ctx context.Context) error {
		c := cfg()
		if !c.Enabled {
			return nil
		}

		key := "job:retention:" + time.Now().Local().Format("2006-01-02")
		if tokens.Exists(key) {
			return nil
		}

		cutoff := time.Now().AddDate(0, 0, -c.ReadingTTLDays)
		total := 0
		for _, family := range models.Families {
			pruned, err := repo.PruneReadingsBefore(ctx, family, cutoff)
			if err != nil {
				return fmt.Errorf("prune %s readings: %w", family, err)
			}
			total += pruned
		}

		tokens.Set(key, time.Now(), 48*time.Hour)
		logging.Info().
			Int("pruned", total).
			Time("cutoff", cutoff).
			Msg("Retention sweep completed")
		return nil
	}
}

// StatusLogCompaction returns the monthly task pruning old status-log
// entries.
func StatusLogCompaction(repo store.Repository, tokens *cache.Cache, cfg func() config.RetentionConfig) Task {
	return func(ctx context.Context) error {
		c := cfg()
		if !c.Enabled {
			return nil
		}

		key := "job:compaction:" + time.Now().Local().Format("2006-01")
		if tokens.Exists(key) {
			return nil
		}

		cutoff := time.Now().AddDate(0, 0, -c.StatusLogDays)
		pruned, err := repo.PruneStatusLogBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("prune status log: %w", err)
		}

		tokens.Set(key, time.Now(), 32*24*time.Hour)
		logging.Info().
			Int("pruned", pruned).
			Time("cutoff", cutoff).
			Msg("Status log compaction completed")
		return nil
	}
}
