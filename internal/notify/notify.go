// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

// Package notify delivers station notifications. The engine only depends
// on the Notifier interface; the default implementation posts to a
// webhook relay that fans out to the station's configured channel.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/stationops/fieldsync/internal/metrics"
)

// Notifier delivers a text message to a station's channel target.
type Notifier interface {
	Send(ctx context.Context, target, message string) error
}

// Webhook posts messages to an HTTP relay endpoint as JSON.
type Webhook struct {
	endpoint string
	client   *http.Client
}

// NewWebhook returns a webhook notifier with the given delivery timeout.
func NewWebhook(endpoint string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type webhookMessage struct {
	Target  string `json:"target"`
	Message string `json:"message"`
}

// Send implements Notifier.
func (w *Webhook) Send(ctx context.Context, target, message string) error {
	body, err := json.Marshal(webhookMessage{Target: target, Message: message})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		metrics.NotificationsSent.WithLabelValues("error").Inc()
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.NotificationsSent.WithLabelValues("error").Inc()
		return fmt.Errorf("send notification: unexpected status %d", resp.StatusCode)
	}

	metrics.NotificationsSent.WithLabelValues("ok").Inc()
	return nil
}

// Nop discards every message. Used when notifications are disabled.
type Nop struct{}

// Send implements Notifier.
func (Nop) Send(context.Context, string, string) error { return nil }
