// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

// Package upload forwards accepted readings to the external reporting
// agency. Forwarding is best-effort: an upload failure is logged by the
// caller and never fails the sync that produced the reading.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/stationops/fieldsync/internal/models"
)

// Uploader forwards one reading to the reporting agency.
type Uploader interface {
	UploadReading(ctx context.Context, r *models.Reading) error
}

// HTTP posts readings as JSON to the agency endpoint.
type HTTP struct {
	endpoint string
	client   *http.Client
}

// NewHTTP returns an HTTP uploader with the given timeout.
func NewHTTP(endpoint string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTP{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// UploadReading implements Uploader.
func (u *HTTP) UploadReading(ctx context.Context, r *models.Reading) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload reading: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upload reading: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Nop discards every reading. Used when upload forwarding is disabled.
type Nop struct{}

// UploadReading implements Uploader.
func (Nop) UploadReading(context.Context, *models.Reading) error { return nil }
