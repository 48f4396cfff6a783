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
	"database/sql"
	"fmt"
	"time"

	"github.com/docflow/ingest/internal/model"
)

// CreateDocumentDB records a document's registration in the external vector
// store.
func (s *queries) CreateDocumentDB(ctx context.Context, d *model.DocumentDB) error {
	if d.CreatedDate.IsZero() {
		d.CreatedDate = time.Now().UTC()
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO document_db (doc_hash, source, db_name, lancedb_dir, rag_id, chunk_count, created_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.DocHash, nullString(d.Source), d.DBName, d.LanceDBDir,
		nullString(d.RagID), d.ChunkCount, d.CreatedDate.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create document db record: %w", err)
	}
	d.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read document db id: %w", err)
	}
	return nil
}

// ListDocumentDBByHash lists the vector store registrations of one document.
func (s *queries) ListDocumentDBByHash(ctx context.Context, docHash string) ([]*model.DocumentDB, error) {
	return s.listDocumentDB(ctx, `
		SELECT id, doc_hash, source, db_name, lancedb_dir, rag_id, chunk_count, created_date
		FROM document_db WHERE doc_hash = ? ORDER BY id`, docHash)
}

// ListDocumentDBByDatabase lists the registrations in one database, newest first.
func (s *queries) ListDocumentDBByDatabase(ctx context.Context, dbName, lancedbDir string) ([]*model.DocumentDB, error) {
	return s.listDocumentDB(ctx, `
		SELECT id, doc_hash, source, db_name, lancedb_dir, rag_id, chunk_count, created_date
		FROM document_db WHERE db_name = ? AND lancedb_dir = ?
		ORDER BY created_date DESC, id DESC`, dbName, lancedbDir)
}

func (s *queries) listDocumentDB(ctx context.Context, query string, args ...any) ([]*model.DocumentDB, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list document db records: %w", err)
	}
	defer rows.Close()

	var records []*model.DocumentDB
	for rows.Next() {
		var d model.DocumentDB
		var source, ragID, createdDate sql.NullString
		var chunkCount sql.NullInt64
		if err := rows.Scan(&d.ID, &d.DocHash, &source, &d.DBName, &d.LanceDBDir,
			&ragID, &chunkCount, &createdDate); err != nil {
			return nil, fmt.Errorf("failed to scan document db record: %w", err)
		}
		d.Source = source.String
		d.RagID = ragID.String
		d.ChunkCount = int(chunkCount.Int64)
		d.CreatedDate = mustTime(createdDate)
		records = append(records, &d)
	}
	return records, rows.Err()
}

// DeleteDocumentDBByHash removes all vector store registrations of one
// document. Returns the count removed.
func (s *queries) DeleteDocumentDBByHash(ctx context.Context, docHash string) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM document_db WHERE doc_hash = ?`, docHash)
	if err != nil {
		return 0, fmt.Errorf("failed to delete document db records: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RAGDatabaseSummary aggregates one (lancedb_dir, db_name) database.
type RAGDatabaseSummary struct {
	LanceDBDir    string `json:"lancedb_dir"`
	DBName        string `json:"db_name"`
	DocumentCount int64  `json:"document_count"`
	TotalChunks   int64  `json:"total_chunks"`
}

// ListRAGDatabases summarises the distinct vector databases with document
// and chunk counts.
func (s *queries) ListRAGDatabases(ctx context.Context) ([]*RAGDatabaseSummary, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT lancedb_dir, db_name, COUNT(id), COALESCE(SUM(chunk_count), 0)
		FROM document_db
		GROUP BY lancedb_dir, db_name
		ORDER BY lancedb_dir, db_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rag databases: %w", err)
	}
	defer rows.Close()

	var dbs []*RAGDatabaseSummary
	for rows.Next() {
		var d RAGDatabaseSummary
		if err := rows.Scan(&d.LanceDBDir, &d.DBName, &d.DocumentCount, &d.TotalChunks); err != nil {
			return nil, fmt.Errorf("failed to scan rag database summary: %w", err)
		}
		dbs = append(dbs, &d)
	}
	return dbs, rows.Err()
}

// RAGDocument is one document's view inside a vector database, joined with
// its URI and document rows when present.
type RAGDocument struct {
	DocHash     string    `json:"doc_hash"`
	RagID       string    `json:"rag_id"`
	ChunkCount  int       `json:"chunk_count"`
	CreatedDate time.Time `json:"created_date"`
	Source      string    `json:"source"`
	URI         string    `json:"uri"`
	MimeType    string    `json:"mime_type"`
	FileSize    int64     `json:"file_size"`
}

// ListRAGDocuments lists the documents registered in one vector database,
// newest first, with URI and document details where available.
func (s *queries) ListRAGDocuments(ctx context.Context, dbName, lancedbDir string) ([]*RAGDocument, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT ddb.doc_hash, ddb.rag_id, ddb.chunk_count, ddb.created_date, ddb.source,
			du.uri, d.mime_type, d.file_size
		FROM document_db ddb
		LEFT JOIN document_uri du ON du.doc_hash = ddb.doc_hash
		LEFT JOIN document d ON d.hash = ddb.doc_hash
		WHERE ddb.db_name = ? AND ddb.lancedb_dir = ?
		ORDER BY ddb.created_date DESC`, dbName, lancedbDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list rag documents: %w", err)
	}
	defer rows.Close()

	var docs []*RAGDocument
	for rows.Next() {
		var d RAGDocument
		var ragID, createdDate, source, uri, mimeType sql.NullString
		var chunkCount, fileSize sql.NullInt64
		if err := rows.Scan(&d.DocHash, &ragID, &chunkCount, &createdDate, &source,
			&uri, &mimeType, &fileSize); err != nil {
			return nil, fmt.Errorf("failed to scan rag document: %w", err)
		}
		d.RagID = ragID.String
		d.ChunkCount = int(chunkCount.Int64)
		d.CreatedDate = mustTime(createdDate)
		d.Source = source.String
		d.URI = uri.String
		d.MimeType = mimeType.String
		d.FileSize = fileSize.Int64
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}
