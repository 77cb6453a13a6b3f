// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

// Package metrics provides Prometheus instrumentation for the sync engine:
// per-family sync outcomes, vendor fetch latency, circuit breaker state,
// idempotency cache efficiency, and notification delivery.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync operation metrics
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fieldsync_sync_duration_seconds",
			Help:    "Duration of one sync run per device family",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"family"},
	)

	SyncDevices = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_sync_devices_total",
			Help: "Per-device sync outcomes by family",
		},
		[]string{"family", "outcome"}, // "synced", "skipped", "failed"
	)

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_sync_runs_total",
			Help: "Completed sync runs per family",
		},
		[]string{"family"},
	)

	// Vendor endpoint metrics
	VendorFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fieldsync_vendor_fetch_duration_seconds",
			Help:    "Duration of vendor API fetches",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"family"},
	)

	VendorFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_vendor_fetch_errors_total",
			Help: "Vendor API fetch failures by family and reason",
		},
		[]string{"family", "reason"}, // "timeout", "status", "decode"
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fieldsync_circuit_breaker_state",
			Help: "Circuit breaker state per source key (0=closed, 1=half-open, 2=open)",
		},
		[]string{"source"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"source", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_circuit_breaker_requests_total",
			Help: "Requests routed through a circuit breaker by result",
		},
		[]string{"source", "result"}, // "success", "failure", "rejected"
	)

	// Idempotency cache metrics
	IdempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsync_idempotency_hits_total",
			Help: "Sync skips caused by a live idempotency token",
		},
	)

	IdempotencyMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsync_idempotency_misses_total",
			Help: "Sync attempts that found no live idempotency token",
		},
	)

	// Online-state tracker metrics
	DevicesOnline = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fieldsync_devices_online",
			Help: "Devices currently considered online per family",
		},
		[]string{"family"},
	)

	OfflineTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_offline_transitions_total",
			Help: "Devices that flipped from online to offline",
		},
		[]string{"family"},
	)

	// Notification metrics
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_notifications_sent_total",
			Help: "Station offline notifications by result",
		},
		[]string{"result"}, // "ok", "error"
	)
)

// RecordSyncRun observes one completed sync run for a family.
func RecordSyncRun(family string, duration time.Duration, synced, skipped, failed int) {
	SyncRuns.WithLabelValues(family).Inc()
	SyncDuration.WithLabelValues(family).Observe(duration.Seconds())
	SyncDevices.WithLabelValues(family, "synced").Add(float64(synced))
	SyncDevices.WithLabelValues(family, "skipped").Add(float64(skipped))
	SyncDevices.WithLabelValues(family, "failed").Add(float64(failed))
}
