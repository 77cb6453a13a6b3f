// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestController_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	c := NewController(Config{
		FailureThreshold: 5,
		Cooldown:         time.Minute,
	})

	key := "crowd:DEV001"
	simErr := errors.New("simulated vendor failure")

	for i := 0; i < 4; i++ {
		c.RecordFailure(key, simErr)
		if c.IsCircuitOpen(key) {
			t.Fatalf("circuit open after only %d failures", i+1)
		}
	}

	c.RecordFailure(key, simErr)
	if !c.IsCircuitOpen(key) {
		t.Fatal("expected circuit open after 5 consecutive failures")
	}

	stats := c.GetStats(key)
	if stats.State != "open" {
		t.Errorf("expected state open, got %s", stats.State)
	}
}

func TestController_SuccessStreakKeepsCircuitClosed(t *testing.T) {
	c := NewController(Config{FailureThreshold: 5})

	key := "parking:LOT9"
	simErr := errors.New("flaky endpoint")

	// Alternating failures never build a 5-long streak.
	for i := 0; i < 20; i++ {
		c.RecordFailure(key, simErr)
		c.RecordSuccess(key)
	}

	if c.IsCircuitOpen(key) {
		t.Error("alternating success/failure must not open the circuit")
	}
}

func TestController_CircuitRecoversAfterCooldown(t *testing.T) {
	c := NewController(Config{
		FailureThreshold: 5,
		Cooldown:         50 * time.Millisecond,
	})

	key := "traffic:taichung"
	simErr := errors.New("maintenance window")

	for i := 0; i < 5; i++ {
		c.RecordFailure(key, simErr)
	}
	if !c.IsCircuitOpen(key) {
		t.Fatal("expected circuit open")
	}

	// After the cooldown the breaker half-opens; one probe success closes it.
	time.Sleep(70 * time.Millisecond)

	if c.IsCircuitOpen(key) {
		t.Fatal("expected half-open (not open) after cooldown")
	}

	c.RecordSuccess(key)
	if c.IsCircuitOpen(key) {
		t.Error("expected circuit closed after cooldown and probe success")
	}
	if got := c.GetStats(key).State; got != "closed" {
		t.Errorf("expected state closed, got %s", got)
	}
}

func TestController_FailedProbeReopens(t *testing.T) {
	c := NewController(Config{
		FailureThreshold: 3,
		Cooldown:         50 * time.Millisecond,
	})

	key := "crowd:DEV777"
	simErr := errors.New("still down")

	for i := 0; i < 3; i++ {
		c.RecordFailure(key, simErr)
	}
	time.Sleep(70 * time.Millisecond)

	// The half-open probe fails: straight back to open.
	c.RecordFailure(key, simErr)
	if !c.IsCircuitOpen(key) {
		t.Error("expected circuit re-opened after failed half-open probe")
	}
}

func TestController_AdaptiveInterval(t *testing.T) {
	c := NewController(Config{
		FailureThreshold: 100, // keep circuit out of the way
		InitialInterval:  time.Second,
		MinInterval:      250 * time.Millisecond,
		MaxInterval:      4 * time.Second,
	})

	key := "parking:LOT1"
	simErr := errors.New("slow endpoint")

	c.RecordFailure(key, simErr)
	if got := c.GetStats(key).CurrentInterval; got != 2*time.Second {
		t.Errorf("expected interval to double to 2s, got %v", got)
	}

	c.RecordFailure(key, simErr)
	c.RecordFailure(key, simErr)
	if got := c.GetStats(key).CurrentInterval; got != 4*time.Second {
		t.Errorf("expected interval capped at 4s, got %v", got)
	}

	for i := 0; i < 10; i++ {
		c.RecordSuccess(key)
	}
	if got := c.GetStats(key).CurrentInterval; got != 250*time.Millisecond {
		t.Errorf("expected interval floored at 250ms, got %v", got)
	}
}

func TestController_ApplyRateLimitPacesCalls(t *testing.T) {
	c := NewController(Config{
		InitialInterval: 40 * time.Millisecond,
		MinInterval:     40 * time.Millisecond,
	})

	key := "traffic:keelung"
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := c.ApplyRateLimit(ctx, key); err != nil {
			t.Fatalf("unexpected rate limit error: %v", err)
		}
	}
	// Burst of 1, so calls 2 and 3 each wait ~40ms.
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Errorf("expected pacing of at least ~80ms across 3 calls, got %v", elapsed)
	}
}

func TestController_ApplyRateLimitHonorsContext(t *testing.T) {
	c := NewController(Config{
		InitialInterval: time.Hour,
		MinInterval:     time.Hour,
		MaxInterval:     2 * time.Hour,
	})

	key := "crowd:DEV002"
	// First call consumes the initial token.
	if err := c.ApplyRateLimit(context.Background(), key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := c.ApplyRateLimit(ctx, key); err == nil {
		t.Error("expected context deadline error while paced out for an hour")
	}
}

func TestController_Reset(t *testing.T) {
	c := NewController(Config{FailureThreshold: 2})

	key := "parking:LOT2"
	simErr := errors.New("down")

	c.RecordFailure(key, simErr)
	c.RecordFailure(key, simErr)
	if !c.IsCircuitOpen(key) {
		t.Fatal("expected circuit open")
	}

	c.Reset(key)
	if c.IsCircuitOpen(key) {
		t.Error("expected fresh closed circuit after reset")
	}
	if got := c.GetStats(key).ConsecutiveFailures; got != 0 {
		t.Errorf("expected zeroed failure streak after reset, got %d", got)
	}
}
