// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

// Package api serves the operational HTTP surface: health, Prometheus
// metrics, sync run status, and manual sync triggers. There is no
// end-user API here; device and station CRUD live in the external
// provisioning system.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stationops/fieldsync/internal/cache"
	"github.com/stationops/fieldsync/internal/config"
	"github.com/stationops/fieldsync/internal/logging"
	"github.com/stationops/fieldsync/internal/models"
	"github.com/stationops/fieldsync/internal/ratelimit"
	syncengine "github.com/stationops/fieldsync/internal/sync"
)

// Server is the ops HTTP server, run as a supervised service.
type Server struct {
	cfg     config.ServerConfig
	engine  *syncengine.Engine
	limiter *ratelimit.Controller
	tokens  *cache.Cache
}

// NewServer builds the ops server over the engine and its controllers.
func NewServer(cfg config.ServerConfig, engine *syncengine.Engine, limiter *ratelimit.Controller, tokens *cache.Cache) *Server {
	return &Server{
		cfg:     cfg,
		engine:  engine,
		limiter: limiter,
		tokens:  tokens,
	}
}

// String implements fmt.Stringer for suture's service naming.
func (s *Server) String() string { return "ops-http" }

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/sync/status", s.handleSyncStatus)
		r.Post("/sync/{family}/trigger", s.handleTrigger)
	})

	return r
}

// Serve implements suture.Service: listens until ctx is cancelled, then
// shuts down within the configured timeout.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("Ops HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("ops http server: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("Ops HTTP server shutdown incomplete")
	}
	return ctx.Err()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// syncStatusResponse is the body of GET /api/v1/sync/status.
type syncStatusResponse struct {
	Families  []models.Family                            `json:"families"`
	Summaries map[models.Family]*syncengine.RunSummary   `json:"summaries"`
	Sources   map[string]ratelimit.Stats                 `json:"sources"`
	Tokens    cache.Stats                                `json:"tokens"`
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, _ *http.Request) {
	sources := make(map[string]ratelimit.Stats)
	for _, key := range s.limiter.Sources() {
		sources[key] = s.limiter.GetStats(key)
	}

	writeJSON(w, http.StatusOK, syncStatusResponse{
		Families:  s.engine.Families(),
		Summaries: s.engine.Summaries(),
		Sources:   sources,
		Tokens:    s.tokens.GetStats(),
	})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	family := models.Family(chi.URLParam(r, "family"))
	if !family.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown family %q", family))
		return
	}

	logging.Info().Str("family", string(family)).Msg("Manual sync triggered")
	summary, err := s.engine.TriggerSync(r.Context(), family, true)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		status := http.StatusInternalServerError
		writeJSON(w, status, map[string]any{
			"error":   err.Error(),
			"summary": summary,
		})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
