// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

// Package ratelimit protects vendor endpoints from overload and degrades
// gracefully when an endpoint is unhealthy.
//
// Each source key (one device endpoint, or one city group for traffic) gets
// an adaptive pacing interval and a circuit breaker. The interval shrinks
// after successes and grows after failures, bounded to [MinInterval,
// MaxInterval]. The breaker opens after FailureThreshold consecutive
// failures, rejects calls while open, half-opens after Cooldown to admit a
// single probe, and closes again on probe success.
package ratelimit

import (
	"context"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/stationops/fieldsync/internal/logging"
	"github.com/stationops/fieldsync/internal/metrics"
)

// Config holds controller tuning. Zero values fall back to defaults.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens a
	// source's circuit. Default: 5.
	FailureThreshold uint32

	// Cooldown is how long an open circuit waits before admitting a
	// half-open probe. Default: 60s.
	Cooldown time.Duration

	// InitialInterval is the starting pacing interval per source.
	// Default: 1s.
	InitialInterval time.Duration

	// MinInterval bounds how far the interval shrinks after successes.
	// Default: 200ms.
	MinInterval time.Duration

	// MaxInterval bounds how far the interval grows after failures.
	// Default: 30s.
	MaxInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
		InitialInterval:  time.Second,
		MinInterval:      200 * time.Millisecond,
		MaxInterval:      30 * time.Second,
	}
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold == 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Cooldown == 0 {
		c.Cooldown = d.Cooldown
	}
	if c.InitialInterval == 0 {
		c.InitialInterval = d.InitialInterval
	}
	if c.MinInterval == 0 {
		c.MinInterval = d.MinInterval
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = d.MaxInterval
	}
	return c
}

// Stats is a read-only snapshot of one source's rate-control state.
type Stats struct {
	Source               string
	State                string // "closed", "half-open", "open"
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	CurrentInterval      time.Duration
	LastRequest          time.Time
	OpenedAt             time.Time
}

// sourceState is the per-source mutable state. All fields are guarded by
// the owning Controller's mutex except the breaker and limiter, which are
// internally synchronized.
type sourceState struct {
	breaker     *gobreaker.CircuitBreaker[any]
	limiter     *rate.Limiter
	interval    time.Duration
	lastRequest time.Time
	openedAt    time.Time
}

// Controller owns the per-source rate-control state map. Construct one and
// hand it to every sync adapter; the state is never ambient.
type Controller struct {
	cfg     Config
	mu      sync.Mutex
	sources map[string]*sourceState
}

// NewController creates a controller with the given configuration.
func NewController(cfg Config) *Controller {
	return &Controller{
		cfg:     cfg.withDefaults(),
		sources: make(map[string]*sourceState),
	}
}

// source returns the state for key, creating it on first use.
// Caller must hold c.mu.
func (c *Controller) source(key string) *sourceState {
	if s, ok := c.sources[key]; ok {
		return s
	}

	s := &sourceState{
		interval: c.cfg.InitialInterval,
		limiter:  rate.NewLimiter(intervalToLimit(c.cfg.InitialInterval), 1),
	}

	s.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        key,
		MaxRequests: 1, // one probe in half-open
		Timeout:     c.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logging.Info().
				Str("source", name).
				Str("from", fromStr).
				Str("to", toStr).
				Msg("circuit breaker state transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()

			if to == gobreaker.StateOpen {
				c.mu.Lock()
				if src, ok := c.sources[name]; ok {
					src.openedAt = time.Now()
				}
				c.mu.Unlock()
			}
		},
	})

	metrics.CircuitBreakerState.WithLabelValues(key).Set(0)
	c.sources[key] = s
	return s
}

// ApplyRateLimit blocks the caller until the source's pacing interval
// allows another request, or until ctx is canceled.
func (c *Controller) ApplyRateLimit(ctx context.Context, key string) error {
	c.mu.Lock()
	s := c.source(key)
	s.lastRequest = time.Now()
	limiter := s.limiter
	c.mu.Unlock()

	return limiter.Wait(ctx)
}

// RecordSuccess notes a successful call for key: the breaker counts a
// success (closing a half-open circuit) and the pacing interval shrinks.
func (c *Controller) RecordSuccess(key string) {
	c.mu.Lock()
	s := c.source(key)
	s.interval = clampInterval(s.interval/2, c.cfg.MinInterval, c.cfg.MaxInterval)
	s.limiter.SetLimit(intervalToLimit(s.interval))
	c.mu.Unlock()

	//nolint:errcheck // a nil-returning probe cannot fail except when rejected
	s.breaker.Execute(func() (any, error) { return nil, nil })
	metrics.CircuitBreakerRequests.WithLabelValues(key, "success").Inc()
}

// RecordFailure notes a failed call for key: the breaker counts a failure
// (opening the circuit once the streak crosses the threshold) and the
// pacing interval grows.
func (c *Controller) RecordFailure(key string, err error) {
	c.mu.Lock()
	s := c.source(key)
	s.interval = clampInterval(s.interval*2, c.cfg.MinInterval, c.cfg.MaxInterval)
	s.limiter.SetLimit(intervalToLimit(s.interval))
	c.mu.Unlock()

	//nolint:errcheck // the breaker records the failure; the caller owns err
	s.breaker.Execute(func() (any, error) { return nil, err })
	metrics.CircuitBreakerRequests.WithLabelValues(key, "failure").Inc()

	logging.Debug().Err(err).Str("source", key).Msg("recorded source failure")
}

// IsCircuitOpen reports whether calls for key should be skipped. A
// half-open circuit admits a probe and is therefore not considered open.
func (c *Controller) IsCircuitOpen(key string) bool {
	c.mu.Lock()
	s := c.source(key)
	c.mu.Unlock()

	return s.breaker.State() == gobreaker.StateOpen
}

// GetStats returns a snapshot of the source's current state.
func (c *Controller) GetStats(key string) Stats {
	c.mu.Lock()
	s := c.source(key)
	interval := s.interval
	lastRequest := s.lastRequest
	openedAt := s.openedAt
	c.mu.Unlock()

	counts := s.breaker.Counts()
	return Stats{
		Source:               key,
		State:                stateToString(s.breaker.State()),
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		CurrentInterval:      interval,
		LastRequest:          lastRequest,
		OpenedAt:             openedAt,
	}
}

// Reset discards the state for key. The next call recreates it fresh.
func (c *Controller) Reset(key string) {
	c.mu.Lock()
	delete(c.sources, key)
	c.mu.Unlock()

	metrics.CircuitBreakerState.WithLabelValues(key).Set(0)
}

// Sources returns the currently tracked source keys.
func (c *Controller) Sources() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.sources))
	for k := range c.sources {
		keys = append(keys, k)
	}
	return keys
}

// intervalToLimit converts a pacing interval into a limiter rate.
func intervalToLimit(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}

// clampInterval bounds v to [min, max].
func clampInterval(v, min, max time.Duration) time.Duration {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// stateToString converts circuit breaker state to string for logging.
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// stateToFloat converts circuit breaker state to a numeric metric value.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
