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

// Package rag talks to the external vector store. The engine only imports
// and deletes documents; everything else about the store is opaque.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/docflow/ingest/internal/model"
)

// DatabaseRef locates one vector database under a root directory.
type DatabaseRef struct {
	LanceDBDir string
	DBName     string
}

// Path returns the database location, handling s3-style roots.
func (r DatabaseRef) Path() string {
	if strings.HasPrefix(r.LanceDBDir, "s3://") {
		return strings.TrimRight(r.LanceDBDir, "/") + "/" + r.DBName
	}
	return filepath.Join(r.LanceDBDir, r.DBName)
}

// Chunk is one embedded text fragment of a document.
type Chunk struct {
	Index  int       `json:"index"`
	Text   string    `json:"text"`
	Vector []float32 `json:"vector,omitempty"`
}

// ImportRequest carries one document into the vector store.
type ImportRequest struct {
	Database DatabaseRef
	DocHash  string
	URI      string
	Source   string
	Title    string
	Meta     map[string]any
	Chunks   []Chunk
}

// Client imports and deletes vector store documents.
type Client interface {
	ImportDocument(ctx context.Context, req *ImportRequest) (ragID string, err error)
	DeleteDocument(ctx context.Context, db DatabaseRef, ragID string) error
}

// Lister is implemented by clients that can enumerate a database, used by
// the consistency checker.
type Lister interface {
	ListDocuments(ctx context.Context, db DatabaseRef) ([]string, error)
}

// LocalClient stores import payloads as one JSON document per rag id under
// the database directory.
type LocalClient struct{}

// NewLocalClient builds a LocalClient.
func NewLocalClient() *LocalClient {
	return &LocalClient{}
}

type importPayload struct {
	RagID   string         `json:"rag_id"`
	DocHash string         `json:"doc_hash"`
	URI     string         `json:"uri"`
	Source  string         `json:"source"`
	Title   string         `json:"title,omitempty"`
	Meta    map[string]any `json:"metadata,omitempty"`
	Chunks  []Chunk        `json:"chunks"`
}

// ImportDocument writes the document payload and returns a fresh rag id.
func (c *LocalClient) ImportDocument(ctx context.Context, req *ImportRequest) (string, error) {
	ragID := uuid.NewString()
	payload := importPayload{
		RagID:   ragID,
		DocHash: req.DocHash,
		URI:     req.URI,
		Source:  req.Source,
		Title:   req.Title,
		Meta:    req.Meta,
		Chunks:  req.Chunks,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode rag document: %w", err)
	}

	dir := req.Database.Path()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create rag database dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ragID+".json"), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write rag document: %w", err)
	}
	return ragID, nil
}

// DeleteDocument removes one document from the database.
func (c *LocalClient) DeleteDocument(ctx context.Context, db DatabaseRef, ragID string) error {
	err := os.Remove(filepath.Join(db.Path(), ragID+".json"))
	if os.IsNotExist(err) {
		return model.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete rag document: %w", err)
	}
	return nil
}

// ListDocuments lists the rag ids present in a database.
func (c *LocalClient) ListDocuments(ctx context.Context, db DatabaseRef) ([]string, error) {
	entries, err := os.ReadDir(db.Path())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list rag database: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}
