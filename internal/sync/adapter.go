// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stationops/fieldsync/internal/cache"
	"github.com/stationops/fieldsync/internal/logging"
	"github.com/stationops/fieldsync/internal/metrics"
	"github.com/stationops/fieldsync/internal/models"
	"github.com/stationops/fieldsync/internal/ratelimit"
	"github.com/stationops/fieldsync/internal/store"
	"github.com/stationops/fieldsync/internal/upload"
)

// Adapter runs one family's end-to-end sync on a tick. force bypasses
// the idempotency gate (manual triggers).
type Adapter interface {
	Family() models.Family
	Sync(ctx context.Context, force bool) (*RunSummary, error)
}

// Skip sentinels. These classify data-quality outcomes that are counted
// in the summary's skipped total and never logged above debug.
var (
	errTokenLive   = errors.New("idempotency token still live")
	errCircuitOpen = errors.New("circuit open")
	errNoReading   = errors.New("no reading in payload")
	errStale       = errors.New("observation not newer than last persisted reading")
)

// isSkip reports whether err is a data-quality skip rather than a
// failure.
func isSkip(err error) bool {
	return errors.Is(err, errTokenLive) ||
		errors.Is(err, errCircuitOpen) ||
		errors.Is(err, errNoReading) ||
		errors.Is(err, errStale)
}

// fatalError marks a store failure. The whole tick aborts on it;
// everything else is scoped to the device or city that produced it.
type fatalError struct{ err error }

func (e fatalError) Error() string { return e.err.Error() }
func (e fatalError) Unwrap() error { return e.err }

func fatal(err error) error { return fatalError{err: err} }

func isFatal(err error) bool {
	var f fatalError
	return errors.As(err, &f)
}

// pipeline bundles the collaborators every sync adapter drives.
type pipeline struct {
	repo     store.Repository
	client   *Client
	tokens   *cache.Cache
	limiter  *ratelimit.Controller
	uploader upload.Uploader
	now      func() time.Time
}

func newPipeline(repo store.Repository, client *Client, tokens *cache.Cache, limiter *ratelimit.Controller, uploader upload.Uploader) *pipeline {
	return &pipeline{
		repo:     repo,
		client:   client,
		tokens:   tokens,
		limiter:  limiter,
		uploader: uploader,
		now:      time.Now,
	}
}

// gate checks the idempotency token for key. A live token means the
// source synced within its interval and is skipped unless forced.
func (p *pipeline) gate(key string, force bool) error {
	if force {
		return nil
	}
	if _, ok := p.tokens.GetTime(key); ok {
		metrics.IdempotencyHits.Inc()
		return errTokenLive
	}
	metrics.IdempotencyMisses.Inc()
	return nil
}

// fetch performs one rate-limited, circuit-guarded vendor GET for the
// given source key and returns the body on a 2xx response.
func (p *pipeline) fetch(ctx context.Context, family models.Family, sourceKey, url string) ([]byte, error) {
	if p.limiter.IsCircuitOpen(sourceKey) {
		return nil, errCircuitOpen
	}
	if err := p.limiter.ApplyRateLimit(ctx, sourceKey); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	status, body, err := p.client.Get(ctx, family, url)
	if err != nil {
		p.limiter.RecordFailure(sourceKey, err)
		return nil, err
	}
	if status < 200 || status >= 300 {
		err := fmt.Errorf("vendor returned status %d", status)
		p.limiter.RecordFailure(sourceKey, err)
		return nil, err
	}
	if len(body) == 0 {
		err := errors.New("vendor returned empty body")
		p.limiter.RecordFailure(sourceKey, err)
		return nil, err
	}

	p.limiter.RecordSuccess(sourceKey)
	return body, nil
}

// persist runs the dedupe check and the two-tier write for one accepted
// reading: the latest-snapshot row is upserted for every observation
// strictly newer than the last persisted one; a history row is inserted
// only when the gap since the last one reaches minGap. Returns whether
// a history row was written.
//
// A stale or duplicate observation returns errStale and writes nothing.
// Store errors propagate; the caller aborts the run on them.
func (p *pipeline) persist(ctx context.Context, r *models.Reading, minGap time.Duration, derive func(last *models.Reading)) (bool, error) {
	last, err := p.repo.LastReading(ctx, r.Family, r.Serial)
	if err != nil {
		return false, fmt.Errorf("load last reading: %w", err)
	}
	if last != nil && !r.ObservedAt.After(last.ObservedAt) {
		return false, errStale
	}
	if derive != nil {
		derive(last)
	}

	if err := p.repo.UpsertLatest(ctx, r); err != nil {
		return false, fmt.Errorf("upsert latest: %w", err)
	}

	if last != nil && r.ObservedAt.Sub(last.ObservedAt) < minGap {
		return false, nil
	}
	if err := p.repo.InsertReading(ctx, r); err != nil {
		return false, fmt.Errorf("insert reading: %w", err)
	}
	return true, nil
}

// markOnline flips the device online and appends the status-log entry.
func (p *pipeline) markOnline(ctx context.Context, family models.Family, serial string) error {
	now := p.now()
	if err := p.repo.UpdateDeviceStatus(ctx, family, serial, models.StatusOnline, now); err != nil {
		return fmt.Errorf("update device status: %w", err)
	}
	if err := p.repo.AppendStatusLog(ctx, &models.StatusLogEntry{
		Family: family,
		Serial: serial,
		Status: models.StatusOnline,
		At:     now,
	}); err != nil {
		return fmt.Errorf("append status log: %w", err)
	}
	return nil
}

// forward hands an inserted reading to the upload collaborator.
// Best-effort: failures are logged, never returned.
func (p *pipeline) forward(ctx context.Context, r *models.Reading) {
	if p.uploader == nil {
		return
	}
	if err := p.uploader.UploadReading(ctx, r); err != nil {
		logging.Warn().
			Err(err).
			Str("family", string(r.Family)).
			Str("serial", r.Serial).
			Msg("Reading upload failed")
	}
}

// pause sleeps for d unless the context is cancelled first.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// sameLocalDay reports whether a and b fall on the same local calendar
// day. Cumulative vendor counters reset at local midnight.
func sameLocalDay(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}
