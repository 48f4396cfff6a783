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

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/docflow/ingest/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAndMigrate(t *testing.T) {
	s := newTestStore(t)

	// Migrations are idempotent.
	require.NoError(t, s.migrate(context.Background()))
}

func TestDocumentCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := &model.Document{
		Hash:     "sha256-abc",
		MimeType: "application/pdf",
		FileSize: 1024,
		DocMeta:  map[string]any{"md5": "d41d8cd9", "page_count": float64(3)},
	}
	require.NoError(t, s.CreateDocument(ctx, doc))

	got, err := s.GetDocument(ctx, "sha256-abc")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", got.MimeType)
	assert.Equal(t, int64(1024), got.FileSize)
	assert.Equal(t, "d41d8cd9", got.DocMeta["md5"])

	_, err = s.GetDocument(ctx, "sha256-missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, s.UpdateDocumentMeta(ctx, "sha256-abc", map[string]any{"page_count": float64(9)}))
	got, err = s.GetDocument(ctx, "sha256-abc")
	require.NoError(t, err)
	assert.Equal(t, float64(9), got.DocMeta["page_count"])

	require.NoError(t, s.UpdateDocumentRagID(ctx, "sha256-abc", "rag-1"))
	got, err = s.GetDocument(ctx, "sha256-abc")
	require.NoError(t, err)
	assert.Equal(t, "rag-1", got.RagID)

	n, err := s.DeleteDocument(ctx, "sha256-abc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDocumentURILifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	uri := &model.DocumentURI{DocHash: "sha256-abc", URI: "docs/a.pdf", Source: "wiki"}
	require.NoError(t, s.CreateDocumentURI(ctx, uri))
	assert.NotZero(t, uri.ID)
	assert.Equal(t, 1, uri.Version)

	// (uri, source) is unique.
	dup := &model.DocumentURI{DocHash: "sha256-def", URI: "docs/a.pdf", Source: "wiki"}
	assert.Error(t, s.CreateDocumentURI(ctx, dup))

	// Same uri under a different source is fine.
	other := &model.DocumentURI{DocHash: "sha256-abc", URI: "docs/a.pdf", Source: "s3"}
	require.NoError(t, s.CreateDocumentURI(ctx, other))

	found, err := s.FindDocumentURI(ctx, "docs/a.pdf", "wiki")
	require.NoError(t, err)
	assert.Equal(t, uri.ID, found.ID)

	_, err = s.FindDocumentURI(ctx, "docs/missing.pdf", "wiki")
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, s.RepointDocumentURI(ctx, uri.ID, "sha256-v2"))
	found, err = s.FindDocumentURI(ctx, "docs/a.pdf", "wiki")
	require.NoError(t, err)
	assert.Equal(t, "sha256-v2", found.DocHash)
	assert.Equal(t, 2, found.Version)

	byHash, err := s.ListDocumentURIsByHash(ctx, "sha256-abc")
	require.NoError(t, err)
	assert.Len(t, byHash, 1)

	bySource, err := s.ListDocumentURIsBySource(ctx, "wiki")
	require.NoError(t, err)
	assert.Len(t, bySource, 1)

	count, err := s.CountDocumentURIsByHash(ctx, "sha256-abc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestURIHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	uri := &model.DocumentURI{DocHash: "sha256-abc", URI: "a.pdf", Source: "local"}
	require.NoError(t, s.CreateDocumentURI(ctx, uri))

	h1 := &model.DocumentURIHistory{
		DocURIID: uri.ID, Version: 1, Hash: "sha256-abc",
		Action: model.ActionCreate, HistMeta: map[string]any{"md5": "x"},
	}
	require.NoError(t, s.AddURIHistory(ctx, h1))
	assert.NotZero(t, h1.ID)

	h2 := &model.DocumentURIHistory{
		DocURIID: uri.ID, Version: 2, Hash: "sha256-def",
		Action: model.ActionUpdate, ProcessDate: time.Now().UTC().Add(time.Second),
	}
	require.NoError(t, s.AddURIHistory(ctx, h2))

	items, err := s.ListURIHistory(ctx, uri.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, model.ActionCreate, items[0].Action)
	assert.Equal(t, model.ActionUpdate, items[1].Action)
	assert.Equal(t, "x", items[0].HistMeta["md5"])

	n, err := s.DeleteURIHistory(ctx, uri.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestBatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := &model.DocumentBatch{Name: "nightly", Source: "wiki"}
	require.NoError(t, s.CreateBatch(ctx, batch))
	assert.NotZero(t, batch.ID)

	got, err := s.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly", got.Name)
	assert.Nil(t, got.CompletedDate)

	require.NoError(t, s.CompleteBatch(ctx, batch.ID))
	got, err = s.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.CompletedDate)

	// Completing twice is an error.
	err = s.CompleteBatch(ctx, batch.ID)
	assert.ErrorIs(t, err, model.ErrBatchCompleted)

	_, err = s.GetBatch(ctx, 9999)
	assert.ErrorIs(t, err, model.ErrNotFound)

	batches, err := s.ListBatches(ctx)
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestDocumentBytes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	db := &model.DocumentBytes{
		Hash:         "sha256-abc",
		ArtifactType: string(model.ArtifactDoc),
		StorageRoot:  "",
		FileBytes:    []byte("hello"),
	}
	require.NoError(t, s.PutDocumentBytes(ctx, db))

	got, err := s.GetDocumentBytes(ctx, "sha256-abc", string(model.ArtifactDoc), "")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got.FileBytes)
	assert.Equal(t, int64(5), got.FileSize)

	// Upsert replaces bytes in place.
	db.FileBytes = []byte("hello world")
	require.NoError(t, s.PutDocumentBytes(ctx, db))
	got, err = s.GetDocumentBytes(ctx, "sha256-abc", string(model.ArtifactDoc), "")
	require.NoError(t, err)
	assert.Equal(t, int64(11), got.FileSize)

	exists, err := s.DocumentBytesExist(ctx, "sha256-abc", string(model.ArtifactDoc), "")
	require.NoError(t, err)
	assert.True(t, exists)

	// Same hash under a different root is a separate row.
	exists, err = s.DocumentBytesExist(ctx, "sha256-abc", string(model.ArtifactDoc), "42")
	require.NoError(t, err)
	assert.False(t, exists)

	hashes, err := s.ListDocumentBytesHashes(ctx, string(model.ArtifactDoc), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"sha256-abc"}, hashes)

	n, err := s.DeleteDocumentBytes(ctx, "sha256-abc", string(model.ArtifactDoc), "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetDocumentBytes(ctx, "sha256-abc", string(model.ArtifactDoc), "")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestStepConfigAndConfigSets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sc := &model.StepConfig{
		StepType:       model.StepParse,
		ConfigJSON:     map[string]any{"ocr": true},
		CumlConfigJSON: `{"parse": {"ocr": true}}`,
	}
	require.NoError(t, s.CreateStepConfig(ctx, sc))
	assert.NotZero(t, sc.ID)

	found, err := s.FindStepConfig(ctx, model.StepParse, `{"parse": {"ocr": true}}`)
	require.NoError(t, err)
	assert.Equal(t, sc.ID, found.ID)
	assert.Equal(t, true, found.ConfigJSON["ocr"])

	_, err = s.FindStepConfig(ctx, model.StepParse, `{"other": 1}`)
	assert.ErrorIs(t, err, model.ErrNotFound)

	cs := &model.ConfigSet{YAMLID: "default", YAMLContents: "parse:\n  ocr: true\n"}
	require.NoError(t, s.CreateConfigSet(ctx, cs))

	found2, err := s.FindConfigSetByContents(ctx, cs.YAMLContents)
	require.NoError(t, err)
	assert.Equal(t, cs.ID, found2.ID)

	require.NoError(t, s.AddConfigSetItem(ctx, cs.ID, sc.ID))
	configs, err := s.ListConfigSetConfigs(ctx, cs.ID)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, model.StepParse, configs[0].StepType)
}

func TestWithTxRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.CreateDocument(ctx, &model.Document{Hash: "sha256-tx"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetDocument(ctx, "sha256-tx")
	assert.ErrorIs(t, err, model.ErrNotFound)

	// Committed work is visible afterwards.
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		return tx.CreateDocument(ctx, &model.Document{Hash: "sha256-tx"})
	}))
	_, err = s.GetDocument(ctx, "sha256-tx")
	assert.NoError(t, err)
}

func TestDeleteOrphanedDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateDocument(ctx, &model.Document{Hash: "sha256-kept"}))
	require.NoError(t, s.CreateDocument(ctx, &model.Document{Hash: "sha256-orphan"}))
	require.NoError(t, s.CreateDocumentURI(ctx, &model.DocumentURI{
		DocHash: "sha256-kept", URI: "a.pdf", Source: "local",
	}))
	require.NoError(t, s.AddURIHistory(ctx, &model.DocumentURIHistory{
		DocURIID: 999, Version: 1, Hash: "sha256-orphan", Action: model.ActionCreate,
	}))

	hashes, docs, history, err := s.DeleteOrphanedDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sha256-orphan"}, hashes)
	assert.Equal(t, int64(1), docs)
	assert.Equal(t, int64(1), history)

	_, err = s.GetDocument(ctx, "sha256-kept")
	assert.NoError(t, err)
}

func TestSyncState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st := &model.SyncState{
		SourceID:      "wiki",
		LastCommitSHA: "abc123",
		Branch:        "main",
		SyncMetadata:  map[string]any{"files": float64(10)},
	}
	require.NoError(t, s.PutSyncState(ctx, st))

	got, err := s.GetSyncState(ctx, "wiki")
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.LastCommitSHA)
	assert.Equal(t, "main", got.Branch)
	assert.Equal(t, float64(10), got.SyncMetadata["files"])

	st.LastCommitSHA = "def456"
	require.NoError(t, s.PutSyncState(ctx, st))
	got, err = s.GetSyncState(ctx, "wiki")
	require.NoError(t, err)
	assert.Equal(t, "def456", got.LastCommitSHA)

	require.NoError(t, s.DeleteSyncState(ctx, "wiki"))
	_, err = s.GetSyncState(ctx, "wiki")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, s.DeleteSyncState(ctx, "wiki"), model.ErrNotFound)
}

func TestDocumentDBRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, hash := range []string{"sha256-a", "sha256-b"} {
		require.NoError(t, s.CreateDocumentDB(ctx, &model.DocumentDB{
			DocHash: hash, Source: "wiki", DBName: "main", LanceDBDir: "lancedb",
			RagID: "rag-" + hash, ChunkCount: 10 * (i + 1),
		}))
	}
	require.NoError(t, s.CreateDocumentDB(ctx, &model.DocumentDB{
		DocHash: "sha256-c", DBName: "other", LanceDBDir: "lancedb", ChunkCount: 5,
	}))

	byHash, err := s.ListDocumentDBByHash(ctx, "sha256-a")
	require.NoError(t, err)
	require.Len(t, byHash, 1)
	assert.Equal(t, "rag-sha256-a", byHash[0].RagID)

	dbs, err := s.ListRAGDatabases(ctx)
	require.NoError(t, err)
	require.Len(t, dbs, 2)
	assert.Equal(t, "main", dbs[0].DBName)
	assert.Equal(t, int64(2), dbs[0].DocumentCount)
	assert.Equal(t, int64(30), dbs[0].TotalChunks)

	n, err := s.DeleteDocumentDBByHash(ctx, "sha256-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
