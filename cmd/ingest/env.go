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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/docflow/ingest/internal/config"
	"github.com/docflow/ingest/internal/engine"
	"github.com/docflow/ingest/internal/log"
	"github.com/docflow/ingest/internal/metrics"
	"github.com/docflow/ingest/internal/parse"
	"github.com/docflow/ingest/internal/rag"
	"github.com/docflow/ingest/internal/registry"
	"github.com/docflow/ingest/internal/storage"
	"github.com/docflow/ingest/internal/store"
)

// loadDotEnv pulls a .env file from the working directory into the process
// environment. Variables already set win; a missing file is fine.
func loadDotEnv() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	_ = godotenv.Load()
}

func newLogger() *slog.Logger {
	return log.New(log.FromEnv())
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runtime bundles the wired-up process dependencies shared by the worker,
// serve and inspection commands.
type runtime struct {
	cfg     *config.Config
	store   *store.Store
	engine  *engine.Engine
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// openRuntime loads and validates the configuration, opens the database
// (running migrations) and assembles the engine on top of it.
func openRuntime(logger *slog.Logger) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(store.Config{Path: cfg.DocDBURL})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	reg, err := registry.New(cfg.WorkflowDir, cfg.ParamDir, cfg.DefaultWorkflowID, cfg.DefaultParamID, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	files := storage.NewFactory(cfg, st)
	ragSvc := rag.NewService(st, rag.NewLocalClient(), cfg.DoRAG, logger)
	parser := parse.NewClient(cfg.ParserURL, cfg.ParserHTTPTimeout)
	embedder := parse.NewEmbedder(cfg.EmbedderURL)
	eng := engine.New(cfg, st, reg, files, ragSvc, parser, embedder, logger)

	return &runtime{
		cfg:     cfg,
		store:   st,
		engine:  eng,
		metrics: metrics.New(),
		logger:  logger,
	}, nil
}

func (rt *runtime) Close() error {
	return rt.store.Close()
}
