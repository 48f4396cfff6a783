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

package rag

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/docflow/ingest/internal/model"
	"github.com/docflow/ingest/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testService(t *testing.T, enabled bool) (*Service, *store.Store, DatabaseRef) {
	t.Helper()

	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	db := DatabaseRef{LanceDBDir: t.TempDir(), DBName: "documents"}
	svc := NewService(st, NewLocalClient(), enabled, slog.New(slog.DiscardHandler))
	return svc, st, db
}

func seedDoc(t *testing.T, st *store.Store, hash string) {
	t.Helper()
	require.NoError(t, st.CreateDocument(context.Background(), &model.Document{
		Hash: hash, MimeType: "application/pdf", FileSize: 5,
	}))
}

func TestImportDocumentRecordsRegistration(t *testing.T) {
	svc, st, db := testService(t, true)
	ctx := context.Background()
	seedDoc(t, st, "sha256-aa")

	record, err := svc.ImportDocument(ctx, &ImportRequest{
		Database: db,
		DocHash:  "sha256-aa",
		URI:      "/tmp/a.pdf",
		Source:   "test",
		Title:    "A",
		Chunks:   []Chunk{{Index: 0, Text: "hello", Vector: []float32{1, 2}}},
	})
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.NotEmpty(t, record.RagID)
	assert.Equal(t, 1, record.ChunkCount)
	assert.Equal(t, "documents", record.DBName)

	// The payload is present in the database and the document row carries
	// the rag id.
	ids, err := NewLocalClient().ListDocuments(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []string{record.RagID}, ids)

	doc, err := st.GetDocument(ctx, "sha256-aa")
	require.NoError(t, err)
	assert.Equal(t, record.RagID, doc.RagID)
}

func TestImportDocumentReplacesStaleEntry(t *testing.T) {
	svc, st, db := testService(t, true)
	ctx := context.Background()
	seedDoc(t, st, "sha256-aa")

	req := &ImportRequest{Database: db, DocHash: "sha256-aa", Source: "test",
		Chunks: []Chunk{{Text: "v1"}}}
	first, err := svc.ImportDocument(ctx, req)
	require.NoError(t, err)
	second, err := svc.ImportDocument(ctx, req)
	require.NoError(t, err)
	require.NotEqual(t, first.RagID, second.RagID)

	// Only the second payload survives.
	ids, err := NewLocalClient().ListDocuments(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []string{second.RagID}, ids)
}

func TestImportDocumentDisabled(t *testing.T) {
	svc, _, db := testService(t, false)

	record, err := svc.ImportDocument(context.Background(), &ImportRequest{
		Database: db, DocHash: "sha256-aa",
	})
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestDeleteByHash(t *testing.T) {
	svc, st, db := testService(t, true)
	ctx := context.Background()
	seedDoc(t, st, "sha256-aa")

	_, err := svc.ImportDocument(ctx, &ImportRequest{
		Database: db, DocHash: "sha256-aa", Source: "test", Chunks: []Chunk{{Text: "x"}},
	})
	require.NoError(t, err)

	stats, err := svc.DeleteByHash(ctx, "sha256-aa")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.RAGEntries)
	assert.Equal(t, int64(1), stats.DocumentDBRecords)

	records, err := st.ListDocumentDBByHash(ctx, "sha256-aa")
	require.NoError(t, err)
	assert.Empty(t, records)

	// Deleting again finds nothing and is not an error.
	stats, err = svc.DeleteByHash(ctx, "sha256-aa")
	require.NoError(t, err)
	assert.Zero(t, stats.RAGEntries)
	assert.Zero(t, stats.DocumentDBRecords)
}

func TestDeleteByHashKeepsRowsWhenClientFails(t *testing.T) {
	svc, st, db := testService(t, true)
	ctx := context.Background()
	seedDoc(t, st, "sha256-aa")

	record, err := svc.ImportDocument(ctx, &ImportRequest{
		Database: db, DocHash: "sha256-aa", Source: "test", Chunks: []Chunk{{Text: "x"}},
	})
	require.NoError(t, err)

	// Remove the payload behind the service's back; the tracking row must
	// still be deleted.
	require.NoError(t, NewLocalClient().DeleteDocument(ctx, db, record.RagID))

	stats, err := svc.DeleteByHash(ctx, "sha256-aa")
	require.NoError(t, err)
	assert.Zero(t, stats.RAGEntries)
	assert.Equal(t, int64(1), stats.DocumentDBRecords)
}

func TestDatabaseRefPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/data", "docs"),
		DatabaseRef{LanceDBDir: "/data", DBName: "docs"}.Path())
	assert.Equal(t, "s3://bucket/lance/docs",
		DatabaseRef{LanceDBDir: "s3://bucket/lance/", DBName: "docs"}.Path())
}
