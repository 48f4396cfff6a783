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
	"fmt"
	"net/http"
	"strconv"

	"github.com/docflow/ingest/internal/model"
	"github.com/docflow/ingest/internal/rag"
	"github.com/docflow/ingest/internal/server/httputil"
	"github.com/docflow/ingest/internal/store"
)

// requireDB reads the db query parameter.
func requireDB(r *http.Request) (string, error) {
	db := r.URL.Query().Get("db")
	if db == "" {
		return "", fmt.Errorf("%w: db is required", model.ErrInvalidInput)
	}
	return db, nil
}

func (s *Server) handleLanceDBList(w http.ResponseWriter, r *http.Request) {
	databases, err := s.store.ListRAGDatabases(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"lancedb_dir":    s.cfg.LanceDBDir,
		"database_count": len(databases),
		"databases":      databases,
	})
}

// findDatabase looks one database up by name under the configured root.
func (s *Server) findDatabase(r *http.Request, dbName string) (*store.RAGDatabaseSummary, error) {
	databases, err := s.store.ListRAGDatabases(r.Context())
	if err != nil {
		return nil, err
	}
	for _, db := range databases {
		if db.DBName == dbName && db.LanceDBDir == s.cfg.LanceDBDir {
			return db, nil
		}
	}
	return nil, fmt.Errorf("database %q: %w", dbName, model.ErrNotFound)
}

func (s *Server) handleLanceDBInfo(w http.ResponseWriter, r *http.Request) {
	dbName, err := requireDB(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	summary, err := s.findDatabase(r, dbName)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	ref := rag.DatabaseRef{LanceDBDir: s.cfg.LanceDBDir, DBName: dbName}
	info := map[string]any{
		"status":         "ok",
		"path":           ref.Path(),
		"document_count": summary.DocumentCount,
		"total_chunks":   summary.TotalChunks,
	}

	// A listable client also reports what the external store actually
	// holds, which may drift from the tracking rows.
	if lister, ok := s.engine.RAG().Client().(rag.Lister); ok {
		ids, err := lister.ListDocuments(r.Context(), ref)
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
		info["stored_documents"] = len(ids)
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}

func (s *Server) handleLanceDBDocuments(w http.ResponseWriter, r *http.Request) {
	dbName, err := requireDB(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if _, err := s.findDatabase(r, dbName); err != nil {
		s.writeErr(w, r, err)
		return
	}

	docs, err := s.store.ListRAGDocuments(r.Context(), dbName, s.cfg.LanceDBDir)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	offset, limit := 0, len(docs)
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			s.writeErr(w, r, fmt.Errorf("%w: offset must be a non-negative integer", model.ErrInvalidInput))
			return
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			s.writeErr(w, r, fmt.Errorf("%w: limit must be a non-negative integer", model.ErrInvalidInput))
			return
		}
	}
	if offset > len(docs) {
		offset = len(docs)
	}
	end := offset + limit
	if end > len(docs) {
		end = len(docs)
	}
	page := docs[offset:end]

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"document_count": len(page),
		"documents":      page,
	})
}

// handleLanceDBVacuum removes vector store entries that have no tracking
// row anymore, reclaiming space after partial deletes.
func (s *Server) handleLanceDBVacuum(w http.ResponseWriter, r *http.Request) {
	dbName, err := requireDB(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	client := s.engine.RAG().Client()
	lister, ok := client.(rag.Lister)
	if !ok {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"removed": 0,
			"message": "vector store client does not support listing",
		})
		return
	}

	ref := rag.DatabaseRef{LanceDBDir: s.cfg.LanceDBDir, DBName: dbName}
	stored, err := lister.ListDocuments(r.Context(), ref)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	tracked, err := s.store.ListDocumentDBByDatabase(r.Context(), dbName, s.cfg.LanceDBDir)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	known := make(map[string]bool, len(tracked))
	for _, rec := range tracked {
		known[rec.RagID] = true
	}

	removed := 0
	for _, ragID := range stored {
		if known[ragID] {
			continue
		}
		if err := client.DeleteDocument(r.Context(), ref, ragID); err != nil {
			s.writeErr(w, r, err)
			return
		}
		removed++
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"removed": removed,
	})
}
