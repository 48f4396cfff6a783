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

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/docflow/ingest/internal/log"
	"github.com/docflow/ingest/internal/model"
)

// CreateDocumentOptions registers one document's bytes under a URI.
type CreateDocumentOptions struct {
	URI      string
	Source   string
	Data     []byte
	MimeType string
	BatchID  *int64
	Meta     map[string]any
}

// CreateDocumentResult reports what registration did.
type CreateDocumentResult struct {
	Document *model.Document    `json:"document"`
	URI      *model.DocumentURI `json:"uri"`
	Action   string             `json:"action"`
}

// CreateDocumentFromURI registers document bytes under (uri, source):
// content is deduplicated by hash, the URI row is created or repointed, and
// a history row records the action. Registering identical bytes under the
// same URI again is a no-op.
func (e *Engine) CreateDocumentFromURI(ctx context.Context, opts CreateDocumentOptions) (*CreateDocumentResult, error) {
	if opts.URI == "" || len(opts.Data) == 0 {
		return nil, fmt.Errorf("%w: uri and content are required", model.ErrInvalidInput)
	}
	if opts.BatchID != nil {
		batch, err := e.store.GetBatch(ctx, *opts.BatchID)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", *opts.BatchID, err)
		}
		if batch.CompletedDate != nil {
			return nil, fmt.Errorf("batch %d: %w", batch.ID, model.ErrBatchCompleted)
		}
	}

	hash := model.DocHash(opts.Data)
	mimeType := opts.MimeType
	if mimeType == "" {
		mimeType = GuessMimeType(opts.URI)
	}

	doc, err := e.store.GetDocument(ctx, hash)
	if errors.Is(err, model.ErrNotFound) {
		meta := make(map[string]any, len(opts.Meta)+1)
		for k, v := range opts.Meta {
			meta[k] = v
		}
		meta["md5"] = model.MD5Hex(opts.Data)

		doc = &model.Document{
			Hash:     hash,
			MimeType: mimeType,
			FileSize: int64(len(opts.Data)),
			DocMeta:  meta,
			BatchID:  opts.BatchID,
		}
		if err := e.store.CreateDocument(ctx, doc); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	op, err := e.files.ForArtifact(ctx, model.ArtifactDoc, nil)
	if err != nil {
		return nil, err
	}
	exists, err := op.Exists(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := op.Write(ctx, hash, opts.Data); err != nil {
			return nil, err
		}
	}

	uri, err := e.store.FindDocumentURI(ctx, opts.URI, opts.Source)
	switch {
	case errors.Is(err, model.ErrNotFound):
		uri = &model.DocumentURI{
			DocHash: hash,
			URI:     opts.URI,
			Source:  opts.Source,
			Version: 1,
			BatchID: opts.BatchID,
		}
		if err := e.store.CreateDocumentURI(ctx, uri); err != nil {
			return nil, err
		}
		if err := e.addHistory(ctx, uri, model.ActionCreate, opts.BatchID, nil); err != nil {
			return nil, err
		}
		e.logger.Info("registered document",
			log.String(log.URIKey, opts.URI), log.String(log.DocHashKey, hash))
		return &CreateDocumentResult{Document: doc, URI: uri, Action: model.ActionCreate}, nil

	case err != nil:
		return nil, err

	case uri.DocHash == hash:
		// Same bytes under the same URI: nothing changed.
		return &CreateDocumentResult{Document: doc, URI: uri, Action: ""}, nil

	default:
		if err := e.store.RepointDocumentURI(ctx, uri.ID, hash); err != nil {
			return nil, err
		}
		uri.DocHash = hash
		uri.Version++
		if err := e.addHistory(ctx, uri, model.ActionUpdate, opts.BatchID, nil); err != nil {
			return nil, err
		}
		e.logger.Info("updated document",
			log.String(log.URIKey, opts.URI), log.String(log.DocHashKey, hash),
			log.Int("version", uri.Version))
		return &CreateDocumentResult{Document: doc, URI: uri, Action: model.ActionUpdate}, nil
	}
}

func (e *Engine) addHistory(ctx context.Context, uri *model.DocumentURI, action string, batchID *int64, meta map[string]any) error {
	return e.store.AddURIHistory(ctx, &model.DocumentURIHistory{
		DocURIID: uri.ID,
		Version:  uri.Version,
		Hash:     uri.DocHash,
		Action:   action,
		BatchID:  batchID,
		HistMeta: meta,
	})
}

// RecordDocAction appends one history row per URI of a document, marking a
// processing milestone (parsed, chunked, embedded, ingested).
func (e *Engine) RecordDocAction(ctx context.Context, docHash, action string, batchID *int64, meta map[string]any) error {
	uris, err := e.store.ListDocumentURIsByHash(ctx, docHash)
	if err != nil {
		return err
	}
	for _, uri := range uris {
		if err := e.addHistory(ctx, uri, action, batchID, meta); err != nil {
			return err
		}
	}
	return nil
}

// DeleteURIResult itemises what removing a URI cascaded into.
type DeleteURIResult struct {
	URIs             int64 `json:"deleted_uris"`
	History          int64 `json:"deleted_history"`
	Runs             int64 `json:"deleted_runs"`
	Steps            int64 `json:"deleted_steps"`
	LifecycleHistory int64 `json:"deleted_lifecycle_history"`
	Documents        int64 `json:"deleted_documents"`
	Artifacts        int64 `json:"deleted_artifacts"`
	RAGEntries       int64 `json:"deleted_rag_entries"`
	RAGRecords       int64 `json:"deleted_documentdb_records"`
	TotalDeleted     int64 `json:"total_deleted"`
}

func (r *DeleteURIResult) total() {
	r.TotalDeleted = r.URIs + r.History + r.Runs + r.Steps + r.LifecycleHistory +
		r.Documents + r.Artifacts + r.RAGEntries + r.RAGRecords
}

// DeleteDocumentURIByURI removes a URI registration. When it was the last
// reference to its document, the document is removed too: runs, artifacts
// and vector-store entries included.
func (e *Engine) DeleteDocumentURIByURI(ctx context.Context, uriStr, source string) (*DeleteURIResult, error) {
	uri, err := e.store.FindDocumentURI(ctx, uriStr, source)
	if err != nil {
		return nil, err
	}

	res := &DeleteURIResult{}

	res.History, err = e.store.DeleteURIHistory(ctx, uri.ID)
	if err != nil {
		return nil, err
	}
	res.URIs, err = e.store.DeleteDocumentURI(ctx, uri.ID)
	if err != nil {
		return nil, err
	}

	remaining, err := e.store.CountDocumentURIsByHash(ctx, uri.DocHash)
	if err != nil {
		return nil, err
	}
	if remaining > 0 {
		res.total()
		return res, nil
	}

	if err := e.deleteDocumentCascade(ctx, uri.DocHash, res); err != nil {
		return nil, err
	}
	res.total()

	e.logger.Info("deleted document",
		log.String(log.URIKey, uriStr), log.String(log.DocHashKey, uri.DocHash),
		log.Int64("total_deleted", res.TotalDeleted))
	return res, nil
}

// deleteDocumentCascade removes everything hanging off an unreferenced
// document hash: runs and their steps, stored artifacts, vector-store
// entries and the document row itself.
func (e *Engine) deleteDocumentCascade(ctx context.Context, hash string, res *DeleteURIResult) error {
	// Artifact cleanup resolves step configs through the document's run
	// steps, so it must run before the runs go away.
	res.Artifacts += e.deleteArtifacts(ctx, hash)

	steps, lifecycle, runs, err := e.store.DeleteWorkflowRunsByDoc(ctx, hash)
	if err != nil {
		return err
	}
	res.Steps += steps
	res.LifecycleHistory += lifecycle
	res.Runs += runs

	if e.rag.Enabled() {
		stats, err := e.rag.DeleteByHash(ctx, hash)
		if err != nil {
			return err
		}
		res.RAGEntries += stats.RAGEntries
		res.RAGRecords += stats.DocumentDBRecords
	}

	docs, err := e.store.DeleteDocument(ctx, hash)
	if err != nil {
		return err
	}
	res.Documents += docs
	return nil
}

// deleteArtifacts removes every stored artifact for a document hash,
// best-effort: the raw bytes plus each artifact type its step configs
// could have produced.
func (e *Engine) deleteArtifacts(ctx context.Context, hash string) int64 {
	var deleted int64

	if op, err := e.files.ForArtifact(ctx, model.ArtifactDoc, nil); err == nil {
		switch err := op.Delete(ctx, hash); {
		case err == nil:
			deleted++
		case !errors.Is(err, model.ErrNotFound):
			e.logger.Warn("failed to delete document bytes",
				log.String(log.DocHashKey, hash), log.Error(err))
		}
	}

	configs, err := e.store.ListStepConfigsForDoc(ctx, hash)
	if err != nil {
		e.logger.Warn("failed to list step configs for artifact cleanup",
			log.String(log.DocHashKey, hash), log.Error(err))
		return deleted
	}
	for _, cfg := range configs {
		for _, at := range model.ArtifactsFromSteps[cfg.StepType] {
			op, err := e.files.ForArtifact(ctx, at, cfg)
			if err != nil {
				continue
			}
			switch err := op.Delete(ctx, hash); {
			case err == nil:
				deleted++
			case !errors.Is(err, model.ErrNotFound):
				e.logger.Warn("failed to delete artifact",
					log.String(log.DocHashKey, hash),
					log.String("artifact_type", string(at)), log.Error(err))
			}
		}
	}
	return deleted
}

// DocStatus classifies a URI against content that a source is about to
// (re)submit.
type DocStatus string

const (
	// DocStatusNew means the URI is not registered.
	DocStatusNew DocStatus = "new"
	// DocStatusMatched means the URI is registered with identical content.
	DocStatusMatched DocStatus = "matched"
	// DocStatusMismatch means the URI is registered with different content.
	DocStatusMismatch DocStatus = "mismatch"
)

// GetDocStatus compares a candidate content hash (with or without the
// hash prefix) against the registered document for (uri, source).
func (e *Engine) GetDocStatus(ctx context.Context, uriStr, source, contentHash string) (DocStatus, *model.DocumentURI, error) {
	uri, err := e.store.FindDocumentURI(ctx, uriStr, source)
	if errors.Is(err, model.ErrNotFound) {
		return DocStatusNew, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	if model.StripHashPrefix(uri.DocHash) == model.StripHashPrefix(contentHash) {
		return DocStatusMatched, uri, nil
	}
	return DocStatusMismatch, uri, nil
}

// SourceStatusResult classifies a source's snapshot of (uri, hash) pairs
// against the registered state.
type SourceStatusResult struct {
	Matched  []string `json:"matched"`
	Mismatch []string `json:"mismatch"`
	New      []string `json:"new"`
	// Deleted lists registered URIs absent from the snapshot, candidates
	// for removal on the caller's side.
	Deleted []string `json:"deleted"`
}

// ClassifySourceStatus compares the hashes a source claims to hold against
// the registered documents for that source.
func (e *Engine) ClassifySourceStatus(ctx context.Context, source string, hashes map[string]string) (*SourceStatusResult, error) {
	res := &SourceStatusResult{
		Matched:  []string{},
		Mismatch: []string{},
		New:      []string{},
		Deleted:  []string{},
	}

	for uriStr, hash := range hashes {
		status, _, err := e.GetDocStatus(ctx, uriStr, source, hash)
		if err != nil {
			return nil, err
		}
		switch status {
		case DocStatusMatched:
			res.Matched = append(res.Matched, uriStr)
		case DocStatusMismatch:
			res.Mismatch = append(res.Mismatch, uriStr)
		default:
			res.New = append(res.New, uriStr)
		}
	}

	stored, err := e.store.ListDocumentURIsBySource(ctx, source)
	if err != nil {
		return nil, err
	}
	for _, uri := range stored {
		if _, ok := hashes[uri.URI]; !ok {
			res.Deleted = append(res.Deleted, uri.URI)
		}
	}
	return res, nil
}

// OrphanCleanupResult itemises what a cleanup pass removed.
type OrphanCleanupResult struct {
	Documents  int64    `json:"deleted_documents"`
	History    int64    `json:"deleted_history"`
	Artifacts  int64    `json:"deleted_artifacts"`
	RAGEntries int64    `json:"deleted_rag_entries"`
	RAGRecords int64    `json:"deleted_documentdb_records"`
	Hashes     []string `json:"hashes,omitempty"`
}

// CleanupOrphans removes documents no URI references anymore, along with
// their artifacts and vector-store entries.
func (e *Engine) CleanupOrphans(ctx context.Context) (*OrphanCleanupResult, error) {
	hashes, docs, history, err := e.store.DeleteOrphanedDocuments(ctx)
	if err != nil {
		return nil, err
	}

	res := &OrphanCleanupResult{Documents: docs, History: history, Hashes: hashes}
	for _, hash := range hashes {
		res.Artifacts += e.deleteArtifacts(ctx, hash)
		if e.rag.Enabled() {
			stats, err := e.rag.DeleteByHash(ctx, hash)
			if err != nil {
				e.logger.Warn("failed to clean rag entries for orphan",
					log.String(log.DocHashKey, hash), log.Error(err))
				continue
			}
			res.RAGEntries += stats.RAGEntries
			res.RAGRecords += stats.DocumentDBRecords
		}
	}

	if len(hashes) > 0 {
		e.logger.Info("cleaned up orphaned documents", log.Int("documents", len(hashes)))
	}
	return res, nil
}
