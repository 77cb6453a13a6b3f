// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

package sync

import (
	"context"
	"fmt"
	stdsync "sync"

	"github.com/stationops/fieldsync/internal/models"
)

// Engine is the facade over the per-family sync adapters. Scheduler
// loops and the ops API's manual trigger both go through TriggerSync; a
// per-family mutex serializes them so racing ticks cannot run one
// family concurrently.
type Engine struct {
	adapters map[models.Family]Adapter
	locks    map[models.Family]*stdsync.Mutex

	mu        stdsync.RWMutex
	summaries map[models.Family]*RunSummary
}

// NewEngine builds the engine over the given adapters.
func NewEngine(adapters ...Adapter) *Engine {
	e := &Engine{
		adapters:  make(map[models.Family]Adapter, len(adapters)),
		locks:     make(map[models.Family]*stdsync.Mutex, len(adapters)),
		summaries: make(map[models.Family]*RunSummary),
	}
	for _, a := range adapters {
		e.adapters[a.Family()] = a
		e.locks[a.Family()] = &stdsync.Mutex{}
	}
	return e
}

// Families lists the families the engine can sync, in stable order.
func (e *Engine) Families() []models.Family {
	out := make([]models.Family, 0, len(e.adapters))
	for _, f := range models.Families {
		if _, ok := e.adapters[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// TriggerSync runs one sync for family and retains its summary. force
// bypasses the idempotency gate (manual triggers from the ops API).
func (e *Engine) TriggerSync(ctx context.Context, family models.Family, force bool) (*RunSummary, error) {
	adapter, ok := e.adapters[family]
	if !ok {
		return nil, fmt.Errorf("no sync adapter for family %q", family)
	}

	lock := e.locks[family]
	lock.Lock()
	defer lock.Unlock()

	summary, err := adapter.Sync(ctx, force)
	if summary != nil {
		e.mu.Lock()
		e.summaries[family] = summary
		e.mu.Unlock()
	}
	return summary, err
}

// LastSummary returns the most recent run summary for family.
func (e *Engine) LastSummary(family models.Family) (*RunSummary, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.summaries[family]
	return s, ok
}

// Summaries returns the most recent summary per family.
func (e *Engine) Summaries() map[models.Family]*RunSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[models.Family]*RunSummary, len(e.summaries))
	for f, s := range e.summaries {
		out[f] = s
	}
	return out
}
