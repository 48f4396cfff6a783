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

// Package engine implements the workflow engine: run building, the step
// state machine, lifecycle dispatch, document operations and the built-in
// step handlers.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"strings"

	"github.com/docflow/ingest/internal/config"
	"github.com/docflow/ingest/internal/model"
	"github.com/docflow/ingest/internal/parse"
	"github.com/docflow/ingest/internal/rag"
	"github.com/docflow/ingest/internal/registry"
	"github.com/docflow/ingest/internal/storage"
	"github.com/docflow/ingest/internal/store"
)

// StepContext carries the well-known parameter namespace into a step
// handler: the step and its ancestry, the document identity, and the
// merged handler parameters.
type StepContext struct {
	Step     *model.RunStep
	Run      *model.WorkflowRun
	Group    *model.RunGroup
	Workflow *registry.Workflow
	Batch    *model.DocumentBatch

	// StepConfigs holds the run's config per step type, so a handler can
	// read artifacts produced by earlier steps.
	StepConfigs map[model.StepType]*model.StepConfig

	DocHash string
	Source  string
	BatchID int64

	// Params is the handler's declared defaults overlaid with the step
	// config for this step type.
	Params map[string]any

	WorkerID string

	engine *Engine
}

// Config returns the step config bound to this context's step.
func (sc *StepContext) Config() *model.StepConfig {
	return sc.StepConfigs[sc.Step.StepType]
}

// Operator returns the storage operator for one artifact type, resolved
// against the run's step configs so earlier steps' outputs are readable.
func (sc *StepContext) Operator(ctx context.Context, artifactType model.ArtifactType) (storage.Operator, error) {
	if artifactType == model.ArtifactDoc {
		return sc.engine.files.ForArtifact(ctx, artifactType, nil)
	}
	stepType, ok := model.ArtifactsToSteps[artifactType]
	if !ok {
		return nil, fmt.Errorf("%w: no step produces %s artifacts", model.ErrInvalidInput, artifactType)
	}
	cfg, ok := sc.StepConfigs[stepType]
	if !ok {
		return nil, fmt.Errorf("%w: run has no %s step config", model.ErrInvalidInput, stepType)
	}
	return sc.engine.files.ForArtifact(ctx, artifactType, cfg)
}

// StepHandler is one built-in step procedure.
type StepHandler func(ctx context.Context, sc *StepContext) error

// LifecycleContext carries a fired lifecycle event into its handlers.
type LifecycleContext struct {
	Event  model.LifecycleEvent
	Group  *model.RunGroup
	Run    *model.WorkflowRun
	Step   *model.RunStep
	Params map[string]any
}

// LifecycleHandler is one lifecycle event procedure.
type LifecycleHandler func(ctx context.Context, lc *LifecycleContext) error

// Engine drives workflow runs: it builds them, transitions their steps,
// dispatches lifecycle events and executes the built-in handlers.
type Engine struct {
	cfg      *config.Config
	store    *store.Store
	registry *registry.Registry
	files    *storage.Factory
	rag      *rag.Service
	parser   *parse.Client
	embedder *parse.Embedder
	logger   *slog.Logger

	handlers          map[string]StepHandler
	lifecycleHandlers map[string]LifecycleHandler
}

// New builds an Engine and registers the built-in handlers.
func New(cfg *config.Config, st *store.Store, reg *registry.Registry, files *storage.Factory,
	ragSvc *rag.Service, parser *parse.Client, embedder *parse.Embedder, logger *slog.Logger) *Engine {
	e := &Engine{
		cfg:               cfg,
		store:             st,
		registry:          reg,
		files:             files,
		rag:               ragSvc,
		parser:            parser,
		embedder:          embedder,
		logger:            logger,
		handlers:          map[string]StepHandler{},
		lifecycleHandlers: map[string]LifecycleHandler{},
	}

	e.handlers["validate"] = e.handleValidate
	e.handlers["parse"] = e.handleParse
	e.handlers["chunk"] = e.handleChunk
	e.handlers["embed"] = e.handleEmbed
	e.handlers["store"] = e.handleStore
	e.lifecycleHandlers["log_event"] = e.handleLogEvent

	return e
}

// Store exposes the persistence layer for read-side callers (server, CLI).
func (e *Engine) Store() *store.Store { return e.store }

// Registry exposes the definition registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Files exposes the artifact storage factory.
func (e *Engine) Files() *storage.Factory { return e.files }

// RAG exposes the vector-store service.
func (e *Engine) RAG() *rag.Service { return e.rag }

// RegisterHandler adds or replaces a step handler method.
func (e *Engine) RegisterHandler(method string, h StepHandler) {
	e.handlers[method] = h
}

// RegisterLifecycleHandler adds or replaces a lifecycle handler method.
func (e *Engine) RegisterLifecycleHandler(method string, h LifecycleHandler) {
	e.lifecycleHandlers[method] = h
}

// mimeOverrides maps extensions whose office MIME types the platform table
// commonly gets wrong or misses.
var mimeOverrides = map[string]string{
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".md":   "text/markdown",
}

// GuessMimeType guesses a document's MIME type from its URI's basename.
func GuessMimeType(uri string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(uri, "\\", "/"))))
	if mt, ok := mimeOverrides[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		if i := strings.IndexByte(mt, ';'); i >= 0 {
			mt = mt[:i]
		}
		return mt
	}
	return "application/octet-stream"
}

// mergeParams overlays the step config onto the handler's declared
// defaults. The config wins on conflicts.
func mergeParams(defaults, cfg map[string]any) map[string]any {
	out := make(map[string]any, len(defaults)+len(cfg))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range cfg {
		out[k] = v
	}
	return out
}
