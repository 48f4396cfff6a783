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

package worker

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflow/ingest/internal/config"
	"github.com/docflow/ingest/internal/engine"
	"github.com/docflow/ingest/internal/metrics"
	"github.com/docflow/ingest/internal/model"
	"github.com/docflow/ingest/internal/parse"
	"github.com/docflow/ingest/internal/rag"
	"github.com/docflow/ingest/internal/registry"
	"github.com/docflow/ingest/internal/storage"
	"github.com/docflow/ingest/internal/store"
)

const noopWorkflowYAML = `
id: noop_test
name: Noop test
item_steps:
  validate:
    name: Step one
    retries: 2
    method: noop
  enrich:
    name: Step two
    retries: 2
    method: noop
`

const noopParamsYAML = `
id: default
name: Default
source: app
config: {}
`

type poolEnv struct {
	pool   *Pool
	engine *engine.Engine
	store  *store.Store
}

func newPoolEnv(t *testing.T) *poolEnv {
	t.Helper()
	dir := t.TempDir()

	wfDir := filepath.Join(dir, "workflows")
	paramDir := filepath.Join(dir, "params")
	require.NoError(t, os.MkdirAll(wfDir, 0o755))
	require.NoError(t, os.MkdirAll(paramDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(wfDir, "noop_test.yaml"), []byte(noopWorkflowYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(paramDir, "default.yaml"), []byte(noopParamsYAML), 0o644))

	cfg := config.Default()
	cfg.DocDBURL = filepath.Join(dir, "test.db")
	cfg.FileStoreDir = filepath.Join(dir, "file_store")
	cfg.LanceDBDir = filepath.Join(dir, "lancedb")
	cfg.DefaultWorkflowID = "noop_test"
	cfg.DefaultParamID = "default"
	cfg.WorkerTaskCount = 2
	cfg.WorkerCheckinInterval = 1
	cfg.WorkerCheckinTimeout = 2
	cfg.DoRAG = false

	st, err := store.Open(store.Config{Path: cfg.DocDBURL})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.DiscardHandler)
	reg, err := registry.New(wfDir, paramDir, cfg.DefaultWorkflowID, cfg.DefaultParamID, logger)
	require.NoError(t, err)

	eng := engine.New(cfg, st, reg, storage.NewFactory(cfg, st),
		rag.NewService(st, rag.NewLocalClient(), false, logger),
		parse.NewClient("http://127.0.0.1:0", 1), parse.NewEmbedder("http://127.0.0.1:0"), logger)
	eng.RegisterHandler("noop", func(ctx context.Context, sc *engine.StepContext) error {
		return nil
	})

	return &poolEnv{
		pool:   New(cfg, eng, st, metrics.New(), logger),
		engine: eng,
		store:  st,
	}
}

func seedRun(t *testing.T, env *poolEnv, uri string) (*model.WorkflowRun, []*model.RunStep) {
	t.Helper()
	ctx := context.Background()

	reg, err := env.engine.CreateDocumentFromURI(ctx, engine.CreateDocumentOptions{
		URI:    uri,
		Source: "test-source",
		Data:   []byte("content for " + uri),
	})
	require.NoError(t, err)

	group, err := env.engine.CreateRunGroup(ctx, engine.CreateRunGroupOptions{})
	require.NoError(t, err)
	run, err := env.engine.CreateWorkflowRun(ctx, group, reg.Document.Hash, 0)
	require.NoError(t, err)
	steps, err := env.store.ListRunSteps(ctx, run.ID)
	require.NoError(t, err)
	return run, steps
}

func TestPoolProcessesRunToCompletion(t *testing.T) {
	env := newPoolEnv(t)
	run, _ := seedRun(t, env, "docs/pool.txt")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.pool.Run(ctx) }()

	deadline := time.After(10 * time.Second)
	for {
		got, err := env.store.GetWorkflowRun(context.Background(), run.ID)
		require.NoError(t, err)
		if got.Status == model.StatusCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("run stuck in %s", got.Status)
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	require.NoError(t, <-done, "cancellation is a clean shutdown")

	// Shutdown removed this pool's checkin row.
	checkins, err := env.store.ListWorkerCheckins(context.Background())
	require.NoError(t, err)
	for _, c := range checkins {
		assert.NotEqual(t, env.pool.ID(), c.ID)
	}
}

func TestReaperReclaimsOrphanedSteps(t *testing.T) {
	env := newPoolEnv(t)
	ctx := context.Background()
	_, steps := seedRun(t, env, "docs/orphan.txt")

	// A peer leases the first step and then goes silent.
	require.NoError(t, env.store.UpsertWorkerCheckin(ctx, "dead-worker", time.Now().UTC().Add(-time.Hour)))
	leased, err := env.engine.Lease(ctx, steps[0].ID, "dead-worker")
	require.NoError(t, err)
	require.Equal(t, model.StatusRunning, leased.Status)

	require.NoError(t, env.pool.reapOnce(ctx))

	checkins, err := env.store.ListWorkerCheckins(ctx)
	require.NoError(t, err)
	for _, c := range checkins {
		assert.NotEqual(t, "dead-worker", c.ID)
	}

	reclaimed, err := env.store.GetRunStep(ctx, steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, reclaimed.Status)
	assert.Empty(t, reclaimed.WorkerID)

	// Another worker can lease the released step, with the retry charge
	// from the dead attempt preserved.
	released, err := env.engine.Lease(ctx, steps[0].ID, "worker-b")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, released.Status)
	assert.Equal(t, 2, released.Retry)
}

func TestReaperNeverReapsItself(t *testing.T) {
	env := newPoolEnv(t)
	ctx := context.Background()

	// Our own checkin is stale, a peer's is fresh.
	require.NoError(t, env.store.UpsertWorkerCheckin(ctx, env.pool.ID(), time.Now().UTC().Add(-time.Hour)))
	require.NoError(t, env.store.UpsertWorkerCheckin(ctx, "healthy-worker", time.Now().UTC()))

	require.NoError(t, env.pool.reapOnce(ctx))

	checkins, err := env.store.ListWorkerCheckins(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(checkins))
	for _, c := range checkins {
		ids = append(ids, c.ID)
	}
	assert.Contains(t, ids, env.pool.ID())
	assert.Contains(t, ids, "healthy-worker")
}
