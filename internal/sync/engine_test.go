// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

package sync

import (
	"context"
	"testing"

	"github.com/stationops/fieldsync/internal/models"
)

// stubAdapter counts how often it runs.
type stubAdapter struct {
	family models.Family
	runs   int
}

func (s *stubAdapter) Family() models.Family { return s.family }

func (s *stubAdapter) Sync(_ context.Context, _ bool) (*RunSummary, error) {
	s.runs++
	summary := newRunSummary(s.family)
	summary.Synced = s.runs
	summary.finish(nil)
	return summary, nil
}

func TestEngine_TriggerSync(t *testing.T) {
	crowd := &stubAdapter{family: models.FamilyCrowd}
	engine := NewEngine(crowd)

	if _, ok := engine.LastSummary(models.FamilyCrowd); ok {
		t.Fatal("expected no summary before the first run")
	}

	summary, err := engine.TriggerSync(context.Background(), models.FamilyCrowd, false)
	if err != nil {
		t.Fatalf("TriggerSync: %v", err)
	}
	if summary.Synced != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	kept, ok := engine.LastSummary(models.FamilyCrowd)
	if !ok || kept.RunID != summary.RunID {
		t.Errorf("expected the run summary to be retained")
	}

	if _, err := engine.TriggerSync(context.Background(), models.FamilyParking, false); err == nil {
		t.Error("expected an error for a family without an adapter")
	}

	families := engine.Families()
	if len(families) != 1 || families[0] != models.FamilyCrowd {
		t.Errorf("unexpected families: %v", families)
	}
}
