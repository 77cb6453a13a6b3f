// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

package sync

import (
	"time"

	"github.com/google/uuid"

	"github.com/stationops/fieldsync/internal/models"
)

// RunSummary is the structured result of one sync run for a family,
// consumed by the ops API and logs.
type RunSummary struct {
	RunID     string        `json:"run_id"`
	Family    models.Family `json:"family"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Synced    int           `json:"synced"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Errors    []string      `json:"errors,omitempty"`
}

// newRunSummary starts a summary for one run.
func newRunSummary(family models.Family) *RunSummary {
	return &RunSummary{
		RunID:     uuid.NewString(),
		Family:    family,
		StartedAt: time.Now(),
	}
}

// finish stamps duration and the success flag. A run succeeds when no
// per-device error and no run-level error occurred.
func (s *RunSummary) finish(runErr error) {
	s.Duration = time.Since(s.StartedAt)
	if runErr != nil {
		s.Errors = append(s.Errors, runErr.Error())
	}
	s.Success = len(s.Errors) == 0
}

// recordError counts one failed device or city and keeps its message.
func (s *RunSummary) recordError(err error) {
	s.Failed++
	s.Errors = append(s.Errors, err.Error())
}
