// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

// Package scheduler runs the engine's periodic loops as supervised
// services: one long-lived goroutine per loop, ticking on its period,
// with per-tick panic isolation so a failing task never kills the loop
// or its siblings.
package scheduler

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/stationops/fieldsync/internal/logging"
)

// Task is one tick's unit of work.
type Task func(ctx context.Context) error

// Loop is a periodic task runner implementing suture.Service. The
// period is re-read before every wait so interval changes from a config
// reload apply without a restart.
type Loop struct {
	name         string
	period       func() time.Duration
	initialDelay time.Duration
	immediate    bool
	task         Task
}

// NewLoop builds a loop that first waits initialDelay (zero = start on
// the first period), then runs task every period. immediate runs the
// task once before the first wait.
func NewLoop(name string, period func() time.Duration, initialDelay time.Duration, immediate bool, task Task) *Loop {
	return &Loop{
		name:         name,
		period:       period,
		initialDelay: initialDelay,
		immediate:    immediate,
		task:         task,
	}
}

// String implements fmt.Stringer for suture's service naming.
func (l *Loop) String() string { return l.name }

// Serve implements suture.Service. Returns only when ctx is cancelled.
func (l *Loop) Serve(ctx context.Context) error {
	logging.Info().
		Str("loop", l.name).
		Dur("period", l.period()).
		Dur("initial_delay", l.initialDelay).
		Msg("Scheduler loop starting")

	if l.immediate {
		l.runTick(ctx)
	}

	if l.initialDelay > 0 {
		if err := sleepCtx(ctx, l.initialDelay); err != nil {
			return err
		}
		l.runTick(ctx)
	}

	for {
		if err := sleepCtx(ctx, l.period()); err != nil {
			logging.Info().Str("loop", l.name).Msg("Scheduler loop stopping")
			return err
		}
		l.runTick(ctx)
	}
}

// runTick runs one task invocation with panic isolation. A panic or
// error is logged and never propagates to the loop.
func (l *Loop) runTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Error().
				Str("loop", l.name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Scheduler task panicked")
		}
	}()

	if err := l.task(ctx); err != nil && ctx.Err() == nil {
		logging.Warn().
			Err(err).
			Str("loop", l.name).
			Msg("Scheduler task failed")
	}
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = time.Second
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
