// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

package sync

import (
	"context"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stationops/fieldsync/internal/cache"
	"github.com/stationops/fieldsync/internal/config"
	"github.com/stationops/fieldsync/internal/models"
	"github.com/stationops/fieldsync/internal/ratelimit"
)

// testLimiter returns a controller tuned so tests never block on
// pacing.
func testLimiter() *ratelimit.Controller {
	return ratelimit.NewController(ratelimit.Config{
		FailureThreshold: 5,
		Cooldown:         50 * time.Millisecond,
		InitialInterval:  time.Millisecond,
		MinInterval:      time.Millisecond,
		MaxInterval:      10 * time.Millisecond,
	})
}

// testTokens returns an idempotency cache closed with the test.
func testTokens(t *testing.T) *cache.Cache {
	t.Helper()
	c := cache.New()
	t.Cleanup(c.Close)
	return c
}

func crowdCfg(interval, minGap time.Duration) func() config.FamilySyncConfig {
	return func() config.FamilySyncConfig {
		return config.FamilySyncConfig{
			Enabled:       true,
			Interval:      interval,
			MinPersistGap: minGap,
		}
	}
}

// uploadRecorder captures forwarded readings.
type uploadRecorder struct {
	mu       stdsync.Mutex
	readings []*models.Reading
}

func (u *uploadRecorder) UploadReading(_ context.Context, r *models.Reading) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.readings = append(u.readings, r)
	return nil
}

func (u *uploadRecorder) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.readings)
}

// vendorTime renders t in the vendors' plain timestamp layout.
func vendorTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
