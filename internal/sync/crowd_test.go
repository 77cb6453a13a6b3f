// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

package sync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stationops/fieldsync/internal/models"
	"github.com/stationops/fieldsync/internal/store"
)

// crowdServer serves a crowd vendor payload and counts requests.
type crowdServer struct {
	*httptest.Server
	mu      stdsync.Mutex
	hits    int
	payload string
	status  int
}

func newCrowdServer(t *testing.T) *crowdServer {
	t.Helper()
	s := &crowdServer{status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		s.hits++
		payload, status := s.payload, s.status
		s.mu.Unlock()
		w.WriteHeader(status)
		fmt.Fprint(w, payload)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *crowdServer) serve(payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload = payload
	s.status = http.StatusOK
}

func (s *crowdServer) fail(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *crowdServer) hitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits
}

func newCrowdFixture(t *testing.T, srv *crowdServer, interval, minGap time.Duration) (*CrowdAdapter, *store.Memory) {
	t.Helper()
	repo := store.NewMemory()
	repo.SeedCrowdDevice(&models.CrowdDevice{
		DeviceBase: models.DeviceBase{
			Serial:   "C-001",
			Name:     "north gate counter",
			Station:  1,
			Endpoint: srv.URL,
			Status:   models.StatusUnknown,
		},
		Capacity: 800,
	})
	adapter := NewCrowdAdapter(repo, NewClient(5*time.Second), testTokens(t), testLimiter(), &uploadRecorder{}, crowdCfg(interval, minGap))
	return adapter, repo
}

func TestCrowdAdapter_DedupeIdempotence(t *testing.T) {
	srv := newCrowdServer(t)
	srv.serve(fmt.Sprintf(`{"time":%q,"enter":520,"exit":480}`, vendorTime(time.Now())))
	adapter, repo := newCrowdFixture(t, srv, time.Minute, 5*time.Minute)

	first, err := adapter.Sync(context.Background(), true)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if first.Synced != 1 || first.Failed != 0 {
		t.Fatalf("unexpected first summary: %+v", first)
	}

	// Same vendor response again: the observation is not strictly newer,
	// so nothing is persisted a second time.
	second, err := adapter.Sync(context.Background(), true)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second.Skipped != 1 || second.Synced != 0 {
		t.Fatalf("unexpected second summary: %+v", second)
	}

	if got := len(repo.Readings(models.FamilyCrowd, "C-001")); got != 1 {
		t.Errorf("expected exactly 1 persisted reading, got %d", got)
	}
}

func TestCrowdAdapter_MonotonicOrdering(t *testing.T) {
	srv := newCrowdServer(t)
	adapter, repo := newCrowdFixture(t, srv, time.Minute, time.Second)

	now := time.Now()
	srv.serve(fmt.Sprintf(`{"time":%q,"enter":100,"exit":90}`, vendorTime(now)))
	if _, err := adapter.Sync(context.Background(), true); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// An older observation must be dropped.
	srv.serve(fmt.Sprintf(`{"time":%q,"enter":80,"exit":70}`, vendorTime(now.Add(-10*time.Minute))))
	summary, err := adapter.Sync(context.Background(), true)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Skipped != 1 {
		t.Fatalf("expected out-of-order observation to be skipped: %+v", summary)
	}

	readings := repo.Readings(models.FamilyCrowd, "C-001")
	for i := 1; i < len(readings); i++ {
		if readings[i].ObservedAt.Before(readings[i-1].ObservedAt) {
			t.Errorf("readings out of order at %d: %v before %v", i, readings[i].ObservedAt, readings[i-1].ObservedAt)
		}
	}
}

func TestCrowdAdapter_DeltaResetAcrossDayBoundary(t *testing.T) {
	srv := newCrowdServer(t)
	adapter, repo := newCrowdFixture(t, srv, time.Minute, time.Second)

	yesterday := time.Now().Add(-24 * time.Hour)
	seed := &models.Reading{
		Family:     models.FamilyCrowd,
		Serial:     "C-001",
		ObservedAt: yesterday,
		EnterTotal: models.Int64Ptr(500),
		ExitTotal:  models.Int64Ptr(480),
	}
	if err := repo.InsertReading(context.Background(), seed); err != nil {
		t.Fatalf("seed reading: %v", err)
	}

	// Today's counters restarted; the delta baseline is (0,0), not
	// yesterday's totals.
	srv.serve(fmt.Sprintf(`{"time":%q,"enter":20,"exit":15}`, vendorTime(time.Now())))
	if _, err := adapter.Sync(context.Background(), true); err != nil {
		t.Fatalf("sync: %v", err)
	}

	readings := repo.Readings(models.FamilyCrowd, "C-001")
	if len(readings) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(readings))
	}
	latest := readings[len(readings)-1]
	if latest.EnterDelta == nil || *latest.EnterDelta != 20 {
		t.Errorf("expected enter delta 20, got %v", latest.EnterDelta)
	}
	if latest.ExitDelta == nil || *latest.ExitDelta != 15 {
		t.Errorf("expected exit delta 15, got %v", latest.ExitDelta)
	}
}

func TestDeriveCrowdDeltas(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.Local)
	tests := []struct {
		name      string
		last      *models.Reading
		enter     int64
		exit      int64
		wantEnter int64
		wantExit  int64
	}{
		{
			name:      "no previous reading",
			enter:     50,
			exit:      40,
			wantEnter: 50,
			wantExit:  40,
		},
		{
			name: "same day incremental",
			last: &models.Reading{
				ObservedAt: now.Add(-10 * time.Minute),
				EnterTotal: models.Int64Ptr(500),
				ExitTotal:  models.Int64Ptr(480),
			},
			enter:     520,
			exit:      495,
			wantEnter: 20,
			wantExit:  15,
		},
		{
			name: "day boundary resets baseline",
			last: &models.Reading{
				ObservedAt: now.Add(-24 * time.Hour),
				EnterTotal: models.Int64Ptr(500),
				ExitTotal:  models.Int64Ptr(480),
			},
			enter:     20,
			exit:      15,
			wantEnter: 20,
			wantExit:  15,
		},
		{
			name: "mid-day counter reset",
			last: &models.Reading{
				ObservedAt: now.Add(-10 * time.Minute),
				EnterTotal: models.Int64Ptr(500),
				ExitTotal:  models.Int64Ptr(480),
			},
			enter:     5,
			exit:      3,
			wantEnter: 5,
			wantExit:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &models.Reading{
				ObservedAt: now,
				EnterTotal: models.Int64Ptr(tt.enter),
				ExitTotal:  models.Int64Ptr(tt.exit),
			}
			deriveCrowdDeltas(r, tt.last)
			if *r.EnterDelta != tt.wantEnter {
				t.Errorf("enter delta: expected %d, got %d", tt.wantEnter, *r.EnterDelta)
			}
			if *r.ExitDelta != tt.wantExit {
				t.Errorf("exit delta: expected %d, got %d", tt.wantExit, *r.ExitDelta)
			}
		})
	}
}

func TestCrowdAdapter_TwoTierPersistence(t *testing.T) {
	srv := newCrowdServer(t)
	adapter, repo := newCrowdFixture(t, srv, time.Minute, 5*time.Minute)

	now := time.Now()
	srv.serve(fmt.Sprintf(`{"time":%q,"enter":100,"exit":90}`, vendorTime(now.Add(-2*time.Minute))))
	if _, err := adapter.Sync(context.Background(), true); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// A newer observation inside the persist gap updates the latest row
	// but does not grow the history.
	srv.serve(fmt.Sprintf(`{"time":%q,"enter":110,"exit":95}`, vendorTime(now)))
	summary, err := adapter.Sync(context.Background(), true)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Synced != 1 {
		t.Fatalf("expected in-gap observation to count as synced: %+v", summary)
	}

	if got := len(repo.Readings(models.FamilyCrowd, "C-001")); got != 1 {
		t.Errorf("expected history to stay at 1 reading, got %d", got)
	}
	latest, err := repo.LatestReading(context.Background(), models.FamilyCrowd, "C-001")
	if err != nil {
		t.Fatalf("LatestReading: %v", err)
	}
	if latest == nil || latest.EnterTotal == nil || *latest.EnterTotal != 110 {
		t.Errorf("expected latest row updated to newest totals, got %+v", latest)
	}
}

func TestCrowdAdapter_IdempotencyGate(t *testing.T) {
	srv := newCrowdServer(t)
	srv.serve(fmt.Sprintf(`{"time":%q,"enter":100,"exit":90}`, vendorTime(time.Now())))
	adapter, _ := newCrowdFixture(t, srv, 150*time.Millisecond, time.Second)

	if _, err := adapter.Sync(context.Background(), false); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if srv.hitCount() != 1 {
		t.Fatalf("expected 1 vendor call, got %d", srv.hitCount())
	}

	// Within the token TTL the device is not re-polled.
	summary, err := adapter.Sync(context.Background(), false)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Skipped != 1 || srv.hitCount() != 1 {
		t.Fatalf("expected token hit to skip the vendor call: %+v, hits=%d", summary, srv.hitCount())
	}

	// After the TTL the device is polled again.
	time.Sleep(250 * time.Millisecond)
	if _, err := adapter.Sync(context.Background(), false); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if srv.hitCount() != 2 {
		t.Errorf("expected expired token to allow a new vendor call, hits=%d", srv.hitCount())
	}
}

func TestCrowdAdapter_VendorFailureIsIsolated(t *testing.T) {
	srv := newCrowdServer(t)
	srv.fail(http.StatusInternalServerError)
	adapter, repo := newCrowdFixture(t, srv, time.Minute, time.Second)

	summary, err := adapter.Sync(context.Background(), true)
	if err != nil {
		t.Fatalf("sync returned run-level error for a device failure: %v", err)
	}
	if summary.Failed != 1 || summary.Success {
		t.Errorf("expected one failed device and success=false: %+v", summary)
	}
	if len(summary.Errors) != 1 {
		t.Errorf("expected one error message, got %v", summary.Errors)
	}
	if got := len(repo.Readings(models.FamilyCrowd, "C-001")); got != 0 {
		t.Errorf("expected no readings persisted, got %d", got)
	}
}

func TestCrowdAdapter_MarksDeviceOnline(t *testing.T) {
	srv := newCrowdServer(t)
	srv.serve(fmt.Sprintf(`{"time":%q,"enter":100,"exit":90}`, vendorTime(time.Now())))
	adapter, repo := newCrowdFixture(t, srv, time.Minute, time.Second)

	if _, err := adapter.Sync(context.Background(), true); err != nil {
		t.Fatalf("sync: %v", err)
	}

	devs, err := repo.CrowdDevices(context.Background())
	if err != nil {
		t.Fatalf("CrowdDevices: %v", err)
	}
	if devs[0].Status != models.StatusOnline {
		t.Errorf("expected device online, got %s", devs[0].Status)
	}
	if devs[0].LastOnline.IsZero() {
		t.Error("expected last-online marker to be set")
	}

	entries := repo.StatusLog()
	if len(entries) != 1 || entries[0].Status != models.StatusOnline {
		t.Errorf("expected one online status-log entry, got %+v", entries)
	}
}
