// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

// Package sync implements the device telemetry synchronization engine:
// per-family sync adapters (poll, normalize, dedupe, persist, state
// update), the traffic city-batching variant, the online/offline state
// tracker, and the engine facade the scheduler and ops API drive.
package sync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stationops/fieldsync/internal/metrics"
	"github.com/stationops/fieldsync/internal/models"
)

// maxResponseBytes caps a vendor response body. Vendor payloads are
// small; anything larger is a misbehaving endpoint.
const maxResponseBytes = 10 << 20

// Client is the vendor HTTP client used by all sync adapters. Every
// fetch is bounded by the configured timeout.
type Client struct {
	http *http.Client
}

// NewClient returns a vendor client with the given request timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Get fetches url and returns the status code and body. A transport
// error returns a non-nil error; a non-2xx status is returned to the
// caller to classify, not treated as an error here.
func (c *Client) Get(ctx context.Context, family models.Family, url string) (int, []byte, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build vendor request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.VendorFetchErrors.WithLabelValues(string(family), "timeout").Inc()
		return 0, nil, fmt.Errorf("vendor fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.VendorFetchErrors.WithLabelValues(string(family), "timeout").Inc()
		return resp.StatusCode, nil, fmt.Errorf("read vendor response: %w", err)
	}

	metrics.VendorFetchDuration.WithLabelValues(string(family)).Observe(time.Since(start).Seconds())
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.VendorFetchErrors.WithLabelValues(string(family), "status").Inc()
	}
	return resp.StatusCode, body, nil
}
