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
	"errors"
	"fmt"
	"time"

	"github.com/docflow/ingest/internal/model"
)

// CreateDocument inserts a new document row.
func (s *queries) CreateDocument(ctx context.Context, doc *model.Document) error {
	meta, err := metaJSON(doc.DocMeta)
	if err != nil {
		return err
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO document (hash, mime_type, file_size, doc_meta, rag_id, batch_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		doc.Hash, doc.MimeType, doc.FileSize, meta, nullString(doc.RagID), nullInt64(doc.BatchID),
	)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetDocument fetches a document by content hash.
func (s *queries) GetDocument(ctx context.Context, hash string) (*model.Document, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT hash, mime_type, file_size, doc_meta, rag_id, batch_id
		FROM document WHERE hash = ?`, hash)
	return scanDocument(row)
}

func scanDocument(row *sql.Row) (*model.Document, error) {
	var doc model.Document
	var mimeType, docMeta, ragID sql.NullString
	var batchID sql.NullInt64

	err := row.Scan(&doc.Hash, &mimeType, &doc.FileSize, &docMeta, &ragID, &batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}

	doc.MimeType = mimeType.String
	doc.RagID = ragID.String
	if batchID.Valid {
		doc.BatchID = &batchID.Int64
	}
	if doc.DocMeta, err = scanMeta(docMeta); err != nil {
		return nil, err
	}
	return &doc, nil
}

// UpdateDocumentMeta replaces the doc_meta of an existing document.
func (s *queries) UpdateDocumentMeta(ctx context.Context, hash string, meta map[string]any) error {
	data, err := metaJSON(meta)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `UPDATE document SET doc_meta = ? WHERE hash = ?`, data, hash)
	if err != nil {
		return fmt.Errorf("failed to update document meta: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// UpdateDocumentRagID records the external vector store id for a document.
func (s *queries) UpdateDocumentRagID(ctx context.Context, hash, ragID string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE document SET rag_id = ? WHERE hash = ?`, nullString(ragID), hash)
	if err != nil {
		return fmt.Errorf("failed to update document rag id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// DeleteDocument removes a document row. Returns the number of rows deleted.
func (s *queries) DeleteDocument(ctx context.Context, hash string) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM document WHERE hash = ?`, hash)
	if err != nil {
		return 0, fmt.Errorf("failed to delete document: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteOrphanedDocuments deletes documents with no URI pointing to them,
// plus their orphaned history rows. Returns the orphaned hashes found before
// deletion so the caller can clean up external artifacts.
func (s *queries) DeleteOrphanedDocuments(ctx context.Context) (hashes []string, docs, history int64, err error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT hash FROM document
		WHERE hash NOT IN (SELECT DISTINCT doc_hash FROM document_uri)`)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to find orphaned documents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, 0, 0, fmt.Errorf("failed to scan orphaned hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to iterate orphaned hashes: %w", err)
	}

	res, err := s.q.ExecContext(ctx, `
		DELETE FROM document
		WHERE hash NOT IN (SELECT DISTINCT doc_hash FROM document_uri)`)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to delete orphaned documents: %w", err)
	}
	docs, _ = res.RowsAffected()

	res, err = s.q.ExecContext(ctx, `
		DELETE FROM document_uri_history
		WHERE hash NOT IN (SELECT DISTINCT doc_hash FROM document_uri)`)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to delete orphaned history: %w", err)
	}
	history, _ = res.RowsAffected()

	return hashes, docs, history, nil
}

// CreateDocumentURI inserts a new URI row with version 1.
func (s *queries) CreateDocumentURI(ctx context.Context, uri *model.DocumentURI) error {
	if uri.Version == 0 {
		uri.Version = 1
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO document_uri (doc_hash, uri, source, version, batch_id)
		VALUES (?, ?, ?, ?, ?)`,
		uri.DocHash, uri.URI, uri.Source, uri.Version, nullInt64(uri.BatchID),
	)
	if err != nil {
		return fmt.Errorf("failed to create document uri: %w", err)
	}
	uri.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read document uri id: %w", err)
	}
	return nil
}

// FindDocumentURI fetches a URI row by its (uri, source) natural key.
func (s *queries) FindDocumentURI(ctx context.Context, uri, source string) (*model.DocumentURI, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, doc_hash, uri, source, version, batch_id
		FROM document_uri WHERE uri = ? AND source = ?`, uri, source)

	var u model.DocumentURI
	var batchID sql.NullInt64
	err := row.Scan(&u.ID, &u.DocHash, &u.URI, &u.Source, &u.Version, &batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document uri: %w", err)
	}
	if batchID.Valid {
		u.BatchID = &batchID.Int64
	}
	return &u, nil
}

// RepointDocumentURI moves a URI to a new document hash and bumps its version.
func (s *queries) RepointDocumentURI(ctx context.Context, id int64, newHash string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE document_uri SET doc_hash = ?, version = version + 1 WHERE id = ?`,
		newHash, id)
	if err != nil {
		return fmt.Errorf("failed to repoint document uri: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// ListDocumentURIsByHash lists every URI pointing at a document.
func (s *queries) ListDocumentURIsByHash(ctx context.Context, hash string) ([]*model.DocumentURI, error) {
	return s.listDocumentURIs(ctx, `doc_hash = ?`, hash)
}

// ListDocumentURIsBySource lists every URI registered for one source system.
func (s *queries) ListDocumentURIsBySource(ctx context.Context, source string) ([]*model.DocumentURI, error) {
	return s.listDocumentURIs(ctx, `source = ?`, source)
}

// ListDocumentURIsByBatch lists the URIs registered under one batch.
func (s *queries) ListDocumentURIsByBatch(ctx context.Context, batchID int64) ([]*model.DocumentURI, error) {
	return s.listDocumentURIs(ctx, `batch_id = ?`, batchID)
}

func (s *queries) listDocumentURIs(ctx context.Context, where string, args ...any) ([]*model.DocumentURI, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, doc_hash, uri, source, version, batch_id
		FROM document_uri WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list document uris: %w", err)
	}
	defer rows.Close()

	var uris []*model.DocumentURI
	for rows.Next() {
		var u model.DocumentURI
		var batchID sql.NullInt64
		if err := rows.Scan(&u.ID, &u.DocHash, &u.URI, &u.Source, &u.Version, &batchID); err != nil {
			return nil, fmt.Errorf("failed to scan document uri: %w", err)
		}
		if batchID.Valid {
			u.BatchID = &batchID.Int64
		}
		uris = append(uris, &u)
	}
	return uris, rows.Err()
}

// CountDocumentURIsByHash counts how many URIs reference a document.
func (s *queries) CountDocumentURIsByHash(ctx context.Context, hash string) (int64, error) {
	var n int64
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM document_uri WHERE doc_hash = ?`, hash).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count document uris: %w", err)
	}
	return n, nil
}

// DeleteDocumentURI removes one URI row by id.
func (s *queries) DeleteDocumentURI(ctx context.Context, id int64) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM document_uri WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete document uri: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// AddURIHistory appends a history row for a URI.
func (s *queries) AddURIHistory(ctx context.Context, hist *model.DocumentURIHistory) error {
	meta, err := metaJSON(hist.HistMeta)
	if err != nil {
		return err
	}
	if hist.ProcessDate.IsZero() {
		hist.ProcessDate = time.Now().UTC()
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO document_uri_history (doc_uri_id, version, hash, process_date, action, batch_id, histmeta)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		hist.DocURIID, hist.Version, hist.Hash, hist.ProcessDate.Format(time.RFC3339),
		hist.Action, nullInt64(hist.BatchID), meta,
	)
	if err != nil {
		return fmt.Errorf("failed to add uri history: %w", err)
	}
	hist.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read history id: %w", err)
	}
	return nil
}

// ListURIHistory lists the history of one URI, oldest first.
func (s *queries) ListURIHistory(ctx context.Context, docURIID int64) ([]*model.DocumentURIHistory, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, doc_uri_id, version, hash, process_date, action, batch_id, histmeta
		FROM document_uri_history WHERE doc_uri_id = ? ORDER BY process_date ASC, id ASC`, docURIID)
	if err != nil {
		return nil, fmt.Errorf("failed to list uri history: %w", err)
	}
	defer rows.Close()

	var items []*model.DocumentURIHistory
	for rows.Next() {
		var h model.DocumentURIHistory
		var processDate, meta sql.NullString
		var batchID sql.NullInt64
		if err := rows.Scan(&h.ID, &h.DocURIID, &h.Version, &h.Hash, &processDate, &h.Action, &batchID, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan uri history: %w", err)
		}
		h.ProcessDate = mustTime(processDate)
		if batchID.Valid {
			h.BatchID = &batchID.Int64
		}
		if h.HistMeta, err = scanMeta(meta); err != nil {
			return nil, err
		}
		items = append(items, &h)
	}
	return items, rows.Err()
}

// DeleteURIHistory removes all history rows for one URI. Returns the count.
func (s *queries) DeleteURIHistory(ctx context.Context, docURIID int64) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM document_uri_history WHERE doc_uri_id = ?`, docURIID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete uri history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CreateBatch inserts a new document batch and returns its id.
func (s *queries) CreateBatch(ctx context.Context, batch *model.DocumentBatch) error {
	if batch.StartDate.IsZero() {
		batch.StartDate = time.Now().UTC()
	}
	params, err := metaJSON(batch.BatchParams)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO document_batch (name, source, start_date, completed_date, batch_params)
		VALUES (?, ?, ?, ?, ?)`,
		nullString(batch.Name), batch.Source, batch.StartDate.Format(time.RFC3339),
		formatTime(batch.CompletedDate), params,
	)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	batch.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read batch id: %w", err)
	}
	return nil
}

// GetBatch fetches one batch by id.
func (s *queries) GetBatch(ctx context.Context, id int64) (*model.DocumentBatch, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, name, source, start_date, completed_date, batch_params
		FROM document_batch WHERE id = ?`, id)

	var b model.DocumentBatch
	var name, startDate, completedDate, params sql.NullString
	err := row.Scan(&b.ID, &name, &b.Source, &startDate, &completedDate, &params)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan batch: %w", err)
	}
	b.Name = name.String
	b.StartDate = mustTime(startDate)
	b.CompletedDate = parseTime(completedDate)
	if b.BatchParams, err = scanMeta(params); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBatches lists every batch, newest first.
func (s *queries) ListBatches(ctx context.Context) ([]*model.DocumentBatch, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, source, start_date, completed_date, batch_params
		FROM document_batch ORDER BY start_date DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []*model.DocumentBatch
	for rows.Next() {
		var b model.DocumentBatch
		var name, startDate, completedDate, params sql.NullString
		if err := rows.Scan(&b.ID, &name, &b.Source, &startDate, &completedDate, &params); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		b.Name = name.String
		b.StartDate = mustTime(startDate)
		b.CompletedDate = parseTime(completedDate)
		if b.BatchParams, err = scanMeta(params); err != nil {
			return nil, err
		}
		batches = append(batches, &b)
	}
	return batches, rows.Err()
}

// CompleteBatch stamps the completed_date of a batch. Completing an already
// completed batch is an error.
func (s *queries) CompleteBatch(ctx context.Context, id int64) error {
	batch, err := s.GetBatch(ctx, id)
	if err != nil {
		return err
	}
	if batch.CompletedDate != nil {
		return fmt.Errorf("batch %d: %w", id, model.ErrBatchCompleted)
	}

	now := time.Now().UTC()
	_, err = s.q.ExecContext(ctx,
		`UPDATE document_batch SET completed_date = ? WHERE id = ?`,
		now.Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to complete batch: %w", err)
	}
	return nil
}

// ListDocumentsInBatch lists the documents whose hash appears in a batch's URIs.
func (s *queries) ListDocumentsInBatch(ctx context.Context, batchID int64) ([]*model.Document, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT hash, mime_type, file_size, doc_meta, rag_id, batch_id
		FROM document
		WHERE hash IN (SELECT doc_hash FROM document_uri WHERE batch_id = ?)`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch documents: %w", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		var doc model.Document
		var mimeType, docMeta, ragID sql.NullString
		var docBatchID sql.NullInt64
		if err := rows.Scan(&doc.Hash, &mimeType, &doc.FileSize, &docMeta, &ragID, &docBatchID); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.MimeType = mimeType.String
		doc.RagID = ragID.String
		if docBatchID.Valid {
			doc.BatchID = &docBatchID.Int64
		}
		if doc.DocMeta, err = scanMeta(docMeta); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// PutDocumentBytes upserts artifact bytes under (hash, artifact type, root).
func (s *queries) PutDocumentBytes(ctx context.Context, db *model.DocumentBytes) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO document_bytes (hash, artifact_type, storage_root, file_size, file_bytes)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (hash, artifact_type, storage_root)
		DO UPDATE SET file_size = excluded.file_size, file_bytes = excluded.file_bytes`,
		db.Hash, db.ArtifactType, db.StorageRoot, int64(len(db.FileBytes)), db.FileBytes,
	)
	if err != nil {
		return fmt.Errorf("failed to put document bytes: %w", err)
	}
	return nil
}

// GetDocumentBytes fetches artifact bytes by key.
func (s *queries) GetDocumentBytes(ctx context.Context, hash, artifactType, storageRoot string) (*model.DocumentBytes, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT hash, artifact_type, storage_root, file_size, file_bytes
		FROM document_bytes
		WHERE hash = ? AND artifact_type = ? AND storage_root = ?`,
		hash, artifactType, storageRoot)

	var db model.DocumentBytes
	err := row.Scan(&db.Hash, &db.ArtifactType, &db.StorageRoot, &db.FileSize, &db.FileBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document bytes: %w", err)
	}
	return &db, nil
}

// DocumentBytesExist reports whether artifact bytes exist for the key.
func (s *queries) DocumentBytesExist(ctx context.Context, hash, artifactType, storageRoot string) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM document_bytes
		WHERE hash = ? AND artifact_type = ? AND storage_root = ?`,
		hash, artifactType, storageRoot).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check document bytes: %w", err)
	}
	return n > 0, nil
}

// DeleteDocumentBytes removes artifact bytes by key. Returns the count removed.
func (s *queries) DeleteDocumentBytes(ctx context.Context, hash, artifactType, storageRoot string) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM document_bytes
		WHERE hash = ? AND artifact_type = ? AND storage_root = ?`,
		hash, artifactType, storageRoot)
	if err != nil {
		return 0, fmt.Errorf("failed to delete document bytes: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListDocumentBytesHashes lists the stored hashes under one (artifact type, root).
func (s *queries) ListDocumentBytesHashes(ctx context.Context, artifactType, storageRoot string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT hash FROM document_bytes
		WHERE artifact_type = ? AND storage_root = ? ORDER BY hash`,
		artifactType, storageRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to list document bytes: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("failed to scan hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}
