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
	"errors"
	"log/slog"

	"github.com/docflow/ingest/internal/log"
	"github.com/docflow/ingest/internal/model"
)

// Registry is the slice of the persistence layer the service needs for
// tracking vector store registrations. *store.Store satisfies it.
type Registry interface {
	CreateDocumentDB(ctx context.Context, d *model.DocumentDB) error
	ListDocumentDBByHash(ctx context.Context, docHash string) ([]*model.DocumentDB, error)
	DeleteDocumentDBByHash(ctx context.Context, docHash string) (int64, error)
	UpdateDocumentRagID(ctx context.Context, hash, ragID string) error
}

// Service pairs the vector store client with the DocumentDB tracking rows.
// When disabled (DO_RAG=false) imports are skipped and deletes only touch
// the tracking rows.
type Service struct {
	registry Registry
	client   Client
	enabled  bool
	logger   *slog.Logger
}

// NewService builds a Service.
func NewService(registry Registry, client Client, enabled bool, logger *slog.Logger) *Service {
	return &Service{registry: registry, client: client, enabled: enabled, logger: logger}
}

// Enabled reports whether vector store imports are active.
func (s *Service) Enabled() bool { return s.enabled }

// Client exposes the vector store client, for browsing and consistency
// checks.
func (s *Service) Client() Client { return s.client }

// ImportDocument imports one document into the vector store, replacing any
// previous registration of the same hash in the same database, and records
// a DocumentDB row. Returns nil when the service is disabled.
func (s *Service) ImportDocument(ctx context.Context, req *ImportRequest) (*model.DocumentDB, error) {
	if !s.enabled {
		s.logger.Debug("rag import skipped, DO_RAG is off", log.String(log.DocHashKey, req.DocHash))
		return nil, nil
	}

	// Re-ingesting a changed document must not leave its old vectors
	// behind.
	existing, err := s.registry.ListDocumentDBByHash(ctx, req.DocHash)
	if err != nil {
		return nil, err
	}
	for _, record := range existing {
		if record.DBName != req.Database.DBName || record.LanceDBDir != req.Database.LanceDBDir {
			continue
		}
		if record.RagID == "" {
			continue
		}
		if err := s.client.DeleteDocument(ctx, req.Database, record.RagID); err != nil && !errors.Is(err, model.ErrNotFound) {
			s.logger.Warn("failed to delete stale rag document",
				log.String(log.DocHashKey, req.DocHash), log.String("rag_id", record.RagID), log.Error(err))
		}
	}

	ragID, err := s.client.ImportDocument(ctx, req)
	if err != nil {
		return nil, err
	}

	record := &model.DocumentDB{
		DocHash:    req.DocHash,
		Source:     req.Source,
		DBName:     req.Database.DBName,
		LanceDBDir: req.Database.LanceDBDir,
		RagID:      ragID,
		ChunkCount: len(req.Chunks),
	}
	if err := s.registry.CreateDocumentDB(ctx, record); err != nil {
		return nil, err
	}
	if err := s.registry.UpdateDocumentRagID(ctx, req.DocHash, ragID); err != nil {
		return nil, err
	}
	return record, nil
}

// DeleteStats summarises a vector store deletion.
type DeleteStats struct {
	RAGEntries        int64 `json:"deleted_rag_entries"`
	DocumentDBRecords int64 `json:"deleted_documentdb_records"`
}

// DeleteByHash removes every vector store entry and tracking row for one
// document hash. Client-side deletions are best-effort: a failing external
// call is logged and the tracking rows are removed regardless.
func (s *Service) DeleteByHash(ctx context.Context, docHash string) (*DeleteStats, error) {
	stats := &DeleteStats{}

	records, err := s.registry.ListDocumentDBByHash(ctx, docHash)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if record.RagID == "" {
			continue
		}
		db := DatabaseRef{LanceDBDir: record.LanceDBDir, DBName: record.DBName}
		if err := s.client.DeleteDocument(ctx, db, record.RagID); err != nil {
			if !errors.Is(err, model.ErrNotFound) {
				s.logger.Warn("failed to delete rag document",
					log.String(log.DocHashKey, docHash), log.String("rag_id", record.RagID), log.Error(err))
			}
			continue
		}
		stats.RAGEntries++
	}

	stats.DocumentDBRecords, err = s.registry.DeleteDocumentDBByHash(ctx, docHash)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
