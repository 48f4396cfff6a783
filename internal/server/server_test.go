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

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

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

const apiWorkflowYAML = `
id: api_test
name: API test
item_steps:
  validate:
    name: Check
    retries: 2
    method: noop
  enrich:
    name: Annotate
    retries: 2
    method: noop
`

const apiParamsYAML = `
id: default
name: Default
source: app
config: {}
`

type serverEnv struct {
	srv     *httptest.Server
	server  *Server
	engine  *engine.Engine
	store   *store.Store
	cfg     *config.Config
	baseURL string
}

func newServerEnv(t *testing.T, token string) *serverEnv {
	t.Helper()
	dir := t.TempDir()

	wfDir := filepath.Join(dir, "workflows")
	paramDir := filepath.Join(dir, "params")
	require.NoError(t, os.MkdirAll(wfDir, 0o755))
	require.NoError(t, os.MkdirAll(paramDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(wfDir, "api_test.yaml"), []byte(apiWorkflowYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(paramDir, "default.yaml"), []byte(apiParamsYAML), 0o644))

	cfg := config.Default()
	cfg.DocDBURL = filepath.Join(dir, "test.db")
	cfg.FileStoreDir = filepath.Join(dir, "file_store")
	cfg.LanceDBDir = filepath.Join(dir, "lancedb")
	cfg.WorkflowDir = wfDir
	cfg.ParamDir = paramDir
	cfg.DefaultWorkflowID = "api_test"
	cfg.DefaultParamID = "default"
	cfg.APIToken = token
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

	server := New(cfg, eng, metrics.New(), logger, Options{})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &serverEnv{
		srv:     ts,
		server:  server,
		engine:  eng,
		store:   st,
		cfg:     cfg,
		baseURL: ts.URL,
	}
}

func (env *serverEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(env.baseURL + path)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, body
}

func (env *serverEnv) postForm(t *testing.T, path string, form url.Values) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.PostForm(env.baseURL+path, form)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, body
}

func (env *serverEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, env.baseURL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, data
}

// ingestMultipart posts one document through ingest-document with an
// in-memory file part.
func (env *serverEnv) ingestMultipart(t *testing.T, uri, source string, batchID int64, content []byte) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(uri))
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("source_uri", uri))
	require.NoError(t, mw.WriteField("source", source))
	if batchID != 0 {
		require.NoError(t, mw.WriteField("batch_id", fmt.Sprintf("%d", batchID)))
	}
	require.NoError(t, mw.Close())

	return env.do(t, http.MethodPost, "/api/v1/document/ingest-document", &buf, mw.FormDataContentType())
}

func (env *serverEnv) createBatch(t *testing.T, name, source string) int64 {
	t.Helper()
	resp, body := env.postForm(t, "/api/v1/batch/", url.Values{
		"name":   {name},
		"source": {source},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var out map[string]int64
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotZero(t, out["batch_id"])
	return out["batch_id"]
}

func TestHealth(t *testing.T) {
	env := newServerEnv(t, "")
	resp, body := env.get(t, "/api/v1/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestBearerAuth(t *testing.T) {
	env := newServerEnv(t, "secret-token")

	// Health stays open.
	resp, _ := env.get(t, "/api/v1/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.get(t, "/api/v1/batch/")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, env.baseURL+"/api/v1/batch/", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong")
	wrongResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	wrongResp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, wrongResp.StatusCode)

	req.Header.Set("Authorization", "Bearer secret-token")
	okResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	okResp.Body.Close()
	assert.Equal(t, http.StatusOK, okResp.StatusCode)
}

func TestBatchLifecycle(t *testing.T) {
	env := newServerEnv(t, "")
	batchID := env.createBatch(t, "batch-1", "uploads")

	resp, body := env.get(t, "/api/v1/batch/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var batches []*model.DocumentBatch
	require.NoError(t, json.Unmarshal(body, &batches))
	require.Len(t, batches, 1)
	assert.Equal(t, "batch-1", batches[0].Name)

	resp, body = env.ingestMultipart(t, "docs/report.txt", "uploads", batchID, []byte("report body"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var ingest map[string]any
	require.NoError(t, json.Unmarshal(body, &ingest))
	assert.Equal(t, "create", ingest["action"])
	assert.NotEmpty(t, ingest["document_hash"])

	resp, body = env.postForm(t, "/api/v1/batch/start-workflows", url.Values{
		"batch_id": {fmt.Sprintf("%d", batchID)},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var started struct {
		Workflows int             `json:"workflows"`
		RunGroup  *model.RunGroup `json:"run_group"`
	}
	require.NoError(t, json.Unmarshal(body, &started))
	assert.Equal(t, 1, started.Workflows)
	require.NotNil(t, started.RunGroup)

	resp, body = env.get(t, fmt.Sprintf("/api/v1/batch/status?batch_id=%d", batchID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status struct {
		DocumentCount int `json:"document_count"`
		TotalRuns     int `json:"total_runs"`
		Remaining     int `json:"remaining"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, 1, status.DocumentCount)
	assert.Equal(t, 1, status.TotalRuns)
	assert.Equal(t, 1, status.Remaining)

	resp, body = env.get(t, fmt.Sprintf("/api/v1/batch/%d/steps", batchID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var steps []*model.RunStep
	require.NoError(t, json.Unmarshal(body, &steps))
	assert.Len(t, steps, 2)

	resp, _ = env.get(t, "/api/v1/batch/status?batch_id=9999")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIngestDocumentFromInputURI(t *testing.T) {
	env := newServerEnv(t, "")
	batchID := env.createBatch(t, "batch-uri", "fs")

	src := filepath.Join(t.TempDir(), "note.md")
	require.NoError(t, os.WriteFile(src, []byte("# Note\n\nbody"), 0o644))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("input_uri", "file://"+src))
	require.NoError(t, mw.WriteField("source_uri", "notes/note.md"))
	require.NoError(t, mw.WriteField("source", "fs"))
	require.NoError(t, mw.WriteField("batch_id", fmt.Sprintf("%d", batchID)))
	require.NoError(t, mw.Close())

	resp, body := env.do(t, http.MethodPost, "/api/v1/document/ingest-document", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = env.get(t, "/api/v1/document/?source=fs")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var uris []*model.DocumentURI
	require.NoError(t, json.Unmarshal(body, &uris))
	require.Len(t, uris, 1)
	assert.Equal(t, "notes/note.md", uris[0].URI)
}

func TestIngestDocumentValidation(t *testing.T) {
	env := newServerEnv(t, "")

	// Neither file nor input_uri.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("source_uri", "x.txt"))
	require.NoError(t, mw.WriteField("source", "s"))
	require.NoError(t, mw.Close())
	resp, _ := env.do(t, http.MethodPost, "/api/v1/document/ingest-document", &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Broken doc_meta JSON.
	buf.Reset()
	mw = multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "x.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("content"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("source_uri", "x.txt"))
	require.NoError(t, mw.WriteField("source", "s"))
	require.NoError(t, mw.WriteField("doc_meta", "{not json"))
	require.NoError(t, mw.Close())
	resp, body := env.do(t, http.MethodPost, "/api/v1/document/ingest-document", &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "doc_meta")

	// List without a filter.
	resp, _ = env.get(t, "/api/v1/document/")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSourceStatus(t *testing.T) {
	env := newServerEnv(t, "")
	batchID := env.createBatch(t, "batch-ss", "repo")

	resp, body := env.ingestMultipart(t, "a.txt", "repo", batchID, []byte("alpha"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var ingest map[string]any
	require.NoError(t, json.Unmarshal(body, &ingest))
	hash := ingest["document_hash"].(string)

	hashes, err := json.Marshal(map[string]string{
		"a.txt": hash,    // unchanged
		"b.txt": "fresh", // never seen
	})
	require.NoError(t, err)

	resp, body = env.postForm(t, "/api/v1/source-status", url.Values{
		"source": {"repo"},
		"hashes": {string(hashes)},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var status struct {
		Matched  []string `json:"matched"`
		Mismatch []string `json:"mismatch"`
		New      []string `json:"new"`
		Deleted  []string `json:"deleted"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, []string{"a.txt"}, status.Matched)
	assert.Equal(t, []string{"b.txt"}, status.New)
	assert.Empty(t, status.Mismatch)
	assert.Empty(t, status.Deleted)

	// Bad hashes payload.
	resp, _ = env.postForm(t, "/api/v1/source-status", url.Values{
		"source": {"repo"},
		"hashes": {"[]"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteURI(t *testing.T) {
	env := newServerEnv(t, "")
	batchID := env.createBatch(t, "batch-del", "repo")
	resp, body := env.ingestMultipart(t, "gone.txt", "repo", batchID, []byte("to delete"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = env.do(t, http.MethodDelete,
		"/api/v1/document/by-uri?uri=gone.txt&source=repo", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var result struct {
		URIs      int64 `json:"deleted_uris"`
		Documents int64 `json:"deleted_documents"`
	}
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, int64(1), result.URIs)
	assert.Equal(t, int64(1), result.Documents)

	resp, _ = env.do(t, http.MethodDelete,
		"/api/v1/document/by-uri?uri=gone.txt&source=repo", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunListingPagination(t *testing.T) {
	env := newServerEnv(t, "")
	batchID := env.createBatch(t, "batch-page", "repo")
	for i := 0; i < 5; i++ {
		resp, body := env.ingestMultipart(t,
			fmt.Sprintf("doc-%d.txt", i), "repo", batchID, []byte(fmt.Sprintf("content %d", i)))
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	}
	resp, body := env.postForm(t, "/api/v1/batch/start-workflows", url.Values{
		"batch_id": {fmt.Sprintf("%d", batchID)},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	// No pagination: raw list.
	resp, body = env.get(t, "/api/v1/workflow/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var raw []*model.WorkflowRun
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.Len(t, raw, 5)

	// Page 2 of 2-per-page.
	resp, body = env.get(t, "/api/v1/workflow/?page=2&rows_per_page=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		Items       []*model.WorkflowRun `json:"items"`
		Total       int64                `json:"total"`
		Page        int                  `json:"page"`
		RowsPerPage int                  `json:"rows_per_page"`
		TotalPages  int64                `json:"total_pages"`
	}
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Len(t, page.Items, 2)
	assert.Equal(t, int64(5), page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 2, page.RowsPerPage)
	assert.Equal(t, int64(3), page.TotalPages)

	// Expansions attach steps.
	resp, body = env.get(t, "/api/v1/workflow/?include_steps=true&page=1&rows_per_page=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detailed struct {
		Items []struct {
			ID    int64            `json:"id"`
			Steps []*model.RunStep `json:"steps"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(body, &detailed))
	require.Len(t, detailed.Items, 1)
	assert.Len(t, detailed.Items[0].Steps, 2)

	// Invalid pagination parameters.
	resp, _ = env.get(t, "/api/v1/workflow/?page=0")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = env.get(t, "/api/v1/workflow/?page=1&rows_per_page=0")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Status filter.
	resp, body = env.get(t, "/api/v1/workflow/by-status?status=PENDING")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.Len(t, raw, 5)
	resp, _ = env.get(t, "/api/v1/workflow/by-status?status=BOGUS")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSingleRunRoutes(t *testing.T) {
	env := newServerEnv(t, "")
	batchID := env.createBatch(t, "batch-run", "repo")
	resp, body := env.ingestMultipart(t, "one.txt", "repo", batchID, []byte("one"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var ingest map[string]any
	require.NoError(t, json.Unmarshal(body, &ingest))
	hash := ingest["document_hash"].(string)

	resp, body = env.postForm(t, "/api/v1/workflow/", url.Values{
		"doc_id": {hash},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var started struct {
		RunGroup *model.RunGroup    `json:"run_group"`
		Run      *model.WorkflowRun `json:"run"`
	}
	require.NoError(t, json.Unmarshal(body, &started))
	require.NotNil(t, started.Run)

	resp, body = env.get(t, fmt.Sprintf("/api/v1/workflow/runs/%d", started.Run.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detail struct {
		ID    int64            `json:"id"`
		Steps []*model.RunStep `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(body, &detail))
	assert.Equal(t, started.Run.ID, detail.ID)
	assert.Len(t, detail.Steps, 2)

	resp, body = env.get(t, fmt.Sprintf("/api/v1/workflow/runs/%d/lifecycle", started.Run.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.get(t, "/api/v1/workflow/runs/424242")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = env.get(t, fmt.Sprintf("/api/v1/workflow/run_groups/%d", started.RunGroup.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.get(t, fmt.Sprintf("/api/v1/workflow/run_groups/%d/stats", started.RunGroup.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats map[model.RunStatus]int
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 1, stats[model.StatusPending])

	// Retry needs its parameter.
	resp, _ = env.do(t, http.MethodPost, "/api/v1/workflow/retry", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, body = env.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/workflow/retry?run_group_id=%d", started.RunGroup.ID), nil, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var retried map[string]int64
	require.NoError(t, json.Unmarshal(body, &retried))
	assert.Zero(t, retried["runs_reset"], "nothing failed yet")

	resp, body = env.do(t, http.MethodDelete,
		fmt.Sprintf("/api/v1/workflow/run_groups/%d", started.RunGroup.ID), nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var counts store.RunGroupDeleteCounts
	require.NoError(t, json.Unmarshal(body, &counts))
	assert.Equal(t, int64(1), counts.WorkflowRuns)
	assert.Equal(t, int64(2), counts.RunSteps)
}

func TestDefinitionAndParamSetRoutes(t *testing.T) {
	env := newServerEnv(t, "")

	resp, body := env.get(t, "/api/v1/workflow/definitions")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var defs []map[string]string
	require.NoError(t, json.Unmarshal(body, &defs))
	require.Len(t, defs, 1)
	assert.Equal(t, "api_test", defs[0]["id"])

	resp, _ = env.get(t, "/api/v1/workflow/definitions/api_test")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.get(t, "/api/v1/workflow/definitions/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	uploaded := strings.TrimSpace(`
id: uploaded
name: Uploaded
config:
  chunk:
    max_tokens: 128
`)
	resp, body = env.postForm(t, "/api/v1/workflow/param-sets", url.Values{
		"yaml_content": {uploaded},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	// Duplicate upload conflicts.
	resp, _ = env.postForm(t, "/api/v1/workflow/param-sets", url.Values{
		"yaml_content": {uploaded},
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = env.get(t, "/api/v1/workflow/param-sets/uploaded")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ps registry.ParamSet
	require.NoError(t, json.Unmarshal(body, &ps))
	assert.Equal(t, registry.ParamSourceUser, ps.Source)

	// Built-in sets cannot be deleted.
	resp, _ = env.do(t, http.MethodDelete, "/api/v1/workflow/param-sets/default", nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/workflow/param-sets/uploaded", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.get(t, "/api/v1/workflow/param-sets/uploaded")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatsRoutes(t *testing.T) {
	env := newServerEnv(t, "")

	resp, _ := env.get(t, "/api/v1/stats/durations")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = env.get(t, "/api/v1/stats/durations?run_group_id=777")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	batchID := env.createBatch(t, "batch-stats", "repo")
	respIngest, body := env.ingestMultipart(t, "s.txt", "repo", batchID, []byte("stats"))
	require.Equal(t, http.StatusCreated, respIngest.StatusCode, string(body))
	resp, body = env.postForm(t, "/api/v1/batch/start-workflows", url.Values{
		"batch_id": {fmt.Sprintf("%d", batchID)},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var started struct {
		RunGroup *model.RunGroup `json:"run_group"`
	}
	require.NoError(t, json.Unmarshal(body, &started))

	resp, _ = env.get(t, fmt.Sprintf("/api/v1/stats/durations?run_group_id=%d", started.RunGroup.ID))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.get(t, fmt.Sprintf("/api/v1/stats/step-stats?run_group_id=%d", started.RunGroup.ID))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSyncStateRoutes(t *testing.T) {
	env := newServerEnv(t, "")

	// Never-synced sources get a default state.
	resp, body := env.get(t, "/api/v1/sync-state/gitea:admin:repo")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var state model.SyncState
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Equal(t, "main", state.Branch)
	assert.Empty(t, state.LastCommitSHA)

	form := url.Values{
		"commit_sha": {"abc123"},
		"branch":     {"develop"},
		"metadata":   {`{"commits_processed": 5}`},
	}
	resp, body = env.do(t, http.MethodPut, "/api/v1/sync-state/gitea:admin:repo",
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Equal(t, "abc123", state.LastCommitSHA)
	assert.Equal(t, "develop", state.Branch)

	resp, body = env.get(t, "/api/v1/sync-state/gitea:admin:repo")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Equal(t, "abc123", state.LastCommitSHA)
	assert.EqualValues(t, 5, state.SyncMetadata["commits_processed"])

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/sync-state/gitea:admin:repo", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodDelete, "/api/v1/sync-state/gitea:admin:repo", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLanceDBRoutes(t *testing.T) {
	env := newServerEnv(t, "")
	ctx := context.Background()

	resp, body := env.get(t, "/api/v1/lancedb/list")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		DatabaseCount int `json:"database_count"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Zero(t, list.DatabaseCount)

	resp, _ = env.get(t, "/api/v1/lancedb/info?db=nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = env.get(t, "/api/v1/lancedb/info")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Seed one tracked document and one untracked vector store entry.
	client := rag.NewLocalClient()
	ref := rag.DatabaseRef{LanceDBDir: env.cfg.LanceDBDir, DBName: "kb"}
	trackedID, err := client.ImportDocument(ctx, &rag.ImportRequest{
		Database: ref, DocHash: "sha256:aaa", URI: "a.txt", Source: "repo",
		Chunks: []rag.Chunk{{Index: 0, Text: "hello"}},
	})
	require.NoError(t, err)
	require.NoError(t, env.store.CreateDocumentDB(ctx, &model.DocumentDB{
		DocHash: "sha256:aaa", Source: "repo", DBName: "kb",
		LanceDBDir: env.cfg.LanceDBDir, RagID: trackedID, ChunkCount: 1,
	}))
	_, err = client.ImportDocument(ctx, &rag.ImportRequest{
		Database: ref, DocHash: "sha256:bbb", URI: "b.txt", Source: "repo",
		Chunks: []rag.Chunk{{Index: 0, Text: "orphan"}},
	})
	require.NoError(t, err)

	resp, body = env.get(t, "/api/v1/lancedb/info?db=kb")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var info struct {
		DocumentCount   int64 `json:"document_count"`
		StoredDocuments int   `json:"stored_documents"`
	}
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, int64(1), info.DocumentCount)
	assert.Equal(t, 2, info.StoredDocuments)

	resp, body = env.get(t, "/api/v1/lancedb/documents?db=kb")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var docs struct {
		DocumentCount int `json:"document_count"`
	}
	require.NoError(t, json.Unmarshal(body, &docs))
	assert.Equal(t, 1, docs.DocumentCount)

	// Vacuum removes the untracked entry only.
	resp, body = env.get(t, "/api/v1/lancedb/vacuum?db=kb")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var vacuum struct {
		Removed int `json:"removed"`
	}
	require.NoError(t, json.Unmarshal(body, &vacuum))
	assert.Equal(t, 1, vacuum.Removed)

	ids, err := client.ListDocuments(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []string{trackedID}, ids)
}
