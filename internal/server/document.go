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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/docflow/ingest/internal/engine"
	"github.com/docflow/ingest/internal/model"
	"github.com/docflow/ingest/internal/server/httputil"
)

// maxUploadBytes bounds an ingest-document request body.
const maxUploadBytes = 512 << 20

// parseOptionalInt64 parses a non-empty form field into an *int64.
func parseOptionalInt64(raw, name string) (*int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an integer", model.ErrInvalidInput, name)
	}
	return &v, nil
}

func (s *Server) handleSourceStatus(w http.ResponseWriter, r *http.Request) {
	source, err := formValue(r, "source")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	hashesJSON, err := formValue(r, "hashes")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	var hashes map[string]string
	if err := json.Unmarshal([]byte(hashesJSON), &hashes); err != nil {
		s.writeErr(w, r, fmt.Errorf("%w: hashes must be a JSON object of uri to hash", model.ErrInvalidInput))
		return
	}

	status, err := s.engine.ClassifySourceStatus(r.Context(), source, hashes)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	batchID, err := httputil.QueryInt64(r, "batch_id")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	switch {
	case r.URL.Query().Get("source") != "":
		uris, err := s.store.ListDocumentURIsBySource(r.Context(), r.URL.Query().Get("source"))
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, uris)
	case batchID != nil:
		uris, err := s.store.ListDocumentURIsByBatch(r.Context(), *batchID)
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, uris)
	default:
		s.writeErr(w, r, fmt.Errorf("%w: no source or batch_id provided", model.ErrInvalidInput))
	}
}

func (s *Server) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeErr(w, r, fmt.Errorf("%w: invalid multipart form", model.ErrInvalidInput))
		return
	}

	sourceURI, err := formValue(r, "source_uri")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	source, err := formValue(r, "source")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	var batchID *int64
	if raw := r.FormValue("batch_id"); raw != "" {
		batchID, err = parseOptionalInt64(raw, "batch_id")
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
	}

	meta := map[string]any{}
	if raw := r.FormValue("doc_meta"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			s.writeErr(w, r, fmt.Errorf("%w: doc_meta must be a JSON object", model.ErrInvalidInput))
			return
		}
	}

	data, err := s.readUploadBytes(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	result, err := s.engine.CreateDocumentFromURI(r.Context(), engine.CreateDocumentOptions{
		URI:      sourceURI,
		Source:   source,
		Data:     data,
		MimeType: r.FormValue("mime_type"),
		BatchID:  batchID,
		Meta:     meta,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.metrics.DocumentsIngested.Inc()

	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"batch_id":      batchID,
		"document_uri":  sourceURI,
		"document_hash": result.Document.Hash,
		"source":        source,
		"uri_id":        result.URI.ID,
		"action":        result.Action,
	})
}

// readUploadBytes pulls document content from the uploaded file part, or
// fetches it from input_uri when no file was sent.
func (s *Server) readUploadBytes(r *http.Request) ([]byte, error) {
	file, _, err := r.FormFile("file")
	if err == nil {
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read uploaded file: %w", err)
		}
		return data, nil
	}

	inputURI := r.FormValue("input_uri")
	if inputURI == "" {
		return nil, fmt.Errorf("%w: either file or input_uri is required", model.ErrInvalidInput)
	}
	return s.engine.Files().ReadInputURL(r.Context(), inputURI)
}

func (s *Server) handleCleanupOrphans(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.CleanupOrphans(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeleteURI(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	source := r.URL.Query().Get("source")
	if uri == "" || source == "" {
		s.writeErr(w, r, fmt.Errorf("%w: uri and source are required", model.ErrInvalidInput))
		return
	}

	result, err := s.engine.DeleteDocumentURIByURI(r.Context(), uri, source)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
