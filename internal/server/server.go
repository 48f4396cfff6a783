// Copyright 2025 Docflow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the ingest HTTP API under /api/v1.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/docflow/ingest/internal/config"
	"github.com/docflow/ingest/internal/engine"
	"github.com/docflow/ingest/internal/log"
	"github.com/docflow/ingest/internal/metrics"
	"github.com/docflow/ingest/internal/model"
	"github.com/docflow/ingest/internal/server/auth"
	"github.com/docflow/ingest/internal/server/httputil"
	"github.com/docflow/ingest/internal/store"
)

// Options are the serve-time settings that come from flags rather than the
// environment.
type Options struct {
	Host string
	Port int

	// TrustProxyHeaders accepts X-Forwarded-User identities from the
	// allowed forwarder IPs instead of a bearer token.
	TrustProxyHeaders bool
	ForwardedAllowIPs []string

	// RateLimit is requests per second per client IP; 0 disables it.
	RateLimit float64
}

// Server is the ingest HTTP API.
type Server struct {
	cfg     *config.Config
	opts    Options
	engine  *engine.Engine
	store   *store.Store
	metrics *metrics.Metrics
	auth    *auth.Middleware
	logger  *slog.Logger
}

// New builds a Server around an engine.
func New(cfg *config.Config, eng *engine.Engine, m *metrics.Metrics, logger *slog.Logger, opts Options) *Server {
	return &Server{
		cfg:     cfg,
		opts:    opts,
		engine:  eng,
		store:   eng.Store(),
		metrics: m,
		auth: auth.New(auth.Config{
			Token:             cfg.APIToken,
			TrustProxyHeaders: opts.TrustProxyHeaders,
			ForwardedAllowIPs: opts.ForwardedAllowIPs,
			RateLimit:         opts.RateLimit,
		}),
		logger: log.WithComponent(logger, "server"),
	}
}

// Handler builds the full route table. /metrics and /api/v1/health sit
// outside authentication.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/source-status", s.handleSourceStatus)

	api.HandleFunc("GET /api/v1/batch/", s.handleListBatches)
	api.HandleFunc("POST /api/v1/batch/", s.handleCreateBatch)
	api.HandleFunc("POST /api/v1/batch/start-workflows", s.handleStartWorkflows)
	api.HandleFunc("GET /api/v1/batch/status", s.handleBatchStatus)
	api.HandleFunc("GET /api/v1/batch/{id}/steps", s.handleBatchSteps)

	api.HandleFunc("GET /api/v1/document/", s.handleListDocuments)
	api.HandleFunc("POST /api/v1/document/ingest-document", s.handleIngestDocument)
	api.HandleFunc("POST /api/v1/document/cleanup-orphans", s.handleCleanupOrphans)
	api.HandleFunc("DELETE /api/v1/document/by-uri", s.handleDeleteURI)

	api.HandleFunc("GET /api/v1/workflow/", s.handleListRuns)
	api.HandleFunc("POST /api/v1/workflow/", s.handleStartRun)
	api.HandleFunc("GET /api/v1/workflow/by-status", s.handleRunsByStatus)
	api.HandleFunc("GET /api/v1/workflow/definitions", s.handleListDefinitions)
	api.HandleFunc("GET /api/v1/workflow/definitions/{id}", s.handleGetDefinition)
	api.HandleFunc("GET /api/v1/workflow/param-sets", s.handleListParamSets)
	api.HandleFunc("GET /api/v1/workflow/param-sets/{id}", s.handleGetParamSet)
	api.HandleFunc("POST /api/v1/workflow/param-sets", s.handleUploadParamSet)
	api.HandleFunc("DELETE /api/v1/workflow/param-sets/{id}", s.handleDeleteParamSet)
	api.HandleFunc("GET /api/v1/workflow/run-groups", s.handleListRunGroups)
	api.HandleFunc("GET /api/v1/workflow/run_groups/{id}", s.handleGetRunGroup)
	api.HandleFunc("GET /api/v1/workflow/run_groups/{id}/stats", s.handleRunGroupStats)
	api.HandleFunc("DELETE /api/v1/workflow/run_groups/{id}", s.handleDeleteRunGroup)
	api.HandleFunc("GET /api/v1/workflow/runs", s.handleRunsForBatch)
	api.HandleFunc("GET /api/v1/workflow/runs/{id}", s.handleGetRun)
	api.HandleFunc("GET /api/v1/workflow/runs/{id}/lifecycle", s.handleRunLifecycle)
	api.HandleFunc("POST /api/v1/workflow/retry", s.handleRetryRunGroup)

	api.HandleFunc("GET /api/v1/stats/durations", s.handleDurations)
	api.HandleFunc("GET /api/v1/stats/step-stats", s.handleStepStats)

	api.HandleFunc("GET /api/v1/sync-state/{source_id}", s.handleGetSyncState)
	api.HandleFunc("PUT /api/v1/sync-state/{source_id}", s.handlePutSyncState)
	api.HandleFunc("DELETE /api/v1/sync-state/{source_id}", s.handleDeleteSyncState)

	api.HandleFunc("GET /api/v1/lancedb/list", s.handleLanceDBList)
	api.HandleFunc("GET /api/v1/lancedb/info", s.handleLanceDBInfo)
	api.HandleFunc("GET /api/v1/lancedb/documents", s.handleLanceDBDocuments)
	api.HandleFunc("GET /api/v1/lancedb/vacuum", s.handleLanceDBVacuum)

	mux.Handle("/api/v1/", s.auth.Wrap(api))

	return s.observe(mux)
}

// Run serves until the context is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", log.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	s.logger.Info("api server stopped")
	return nil
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// observe wraps the route table with request logging and metrics.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		logger := log.WithRequestID(s.logger, uuid.NewString())

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		route := r.Method + " " + r.URL.Path
		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		s.metrics.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		logger.Info("request",
			log.String("method", r.Method),
			log.String("path", r.URL.Path),
			log.Int("status", rec.status),
			slog.Duration("elapsed", elapsed),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// logHandlerError logs a 5xx-bound error with request context.
func (s *Server) logHandlerError(r *http.Request, err error) {
	if httputil.StatusFor(err) >= http.StatusInternalServerError {
		s.logger.Error("handler failed",
			log.String("method", r.Method),
			log.String("path", r.URL.Path),
			log.Error(err),
		)
	}
}

// writeErr maps a domain error onto the response and logs server faults.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	s.logHandlerError(r, err)
	httputil.WriteDomainError(w, err)
}

// formValue returns a required form field or an InvalidInput-mapped error.
func formValue(r *http.Request, name string) (string, error) {
	v := r.FormValue(name)
	if v == "" {
		return "", fmt.Errorf("%w: missing required field %q", model.ErrInvalidInput, name)
	}
	return v, nil
}
