// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/stationops/fieldsync/internal/cache"
	"github.com/stationops/fieldsync/internal/config"
	"github.com/stationops/fieldsync/internal/models"
	"github.com/stationops/fieldsync/internal/ratelimit"
	syncengine "github.com/stationops/fieldsync/internal/sync"
)

// fakeAdapter is a canned sync adapter for handler tests.
type fakeAdapter struct {
	family  models.Family
	summary *syncengine.RunSummary
	err     error
}

func (f *fakeAdapter) Family() models.Family { return f.family }

func (f *fakeAdapter) Sync(context.Context, bool) (*syncengine.RunSummary, error) {
	return f.summary, f.err
}

func newTestServer(t *testing.T, adapters ...syncengine.Adapter) *Server {
	t.Helper()
	tokens := cache.New()
	t.Cleanup(tokens.Close)
	return NewServer(
		config.ServerConfig{Host: "127.0.0.1", Port: 8087, Timeout: time.Second},
		syncengine.NewEngine(adapters...),
		ratelimit.NewController(ratelimit.Config{}),
		tokens,
	)
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestServer_TriggerUnknownFamily(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync/bogus/trigger", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestServer_TriggerSync(t *testing.T) {
	summary := &syncengine.RunSummary{
		RunID:   "run-1",
		Family:  models.FamilyCrowd,
		Success: true,
		Synced:  3,
	}
	srv := newTestServer(t, &fakeAdapter{family: models.FamilyCrowd, summary: summary})

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync/crowd/trigger", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got syncengine.RunSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.RunID != "run-1" || got.Synced != 3 {
		t.Errorf("unexpected summary: %+v", got)
	}
}

func TestServer_TriggerFamilyWithoutAdapter(t *testing.T) {
	srv := newTestServer(t) // no adapters registered
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync/crowd/trigger", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestServer_SyncStatus(t *testing.T) {
	summary := &syncengine.RunSummary{RunID: "run-2", Family: models.FamilyParking, Success: true}
	adapter := &fakeAdapter{family: models.FamilyParking, summary: summary}
	srv := newTestServer(t, adapter)

	// Populate the retained summary through a trigger first.
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync/parking/trigger", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("trigger: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sync/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}

	var got struct {
		Families  []models.Family                          `json:"families"`
		Summaries map[models.Family]*syncengine.RunSummary `json:"summaries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got.Families) != 1 || got.Families[0] != models.FamilyParking {
		t.Errorf("unexpected families: %v", got.Families)
	}
	if got.Summaries[models.FamilyParking] == nil || got.Summaries[models.FamilyParking].RunID != "run-2" {
		t.Errorf("unexpected summaries: %+v", got.Summaries)
	}
}
