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
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/docflow/ingest/internal/model"
	"github.com/docflow/ingest/internal/server/httputil"
)

func (s *Server) handleGetSyncState(w http.ResponseWriter, r *http.Request) {
	sourceID := r.PathValue("source_id")
	state, err := s.store.GetSyncState(r.Context(), sourceID)
	if errors.Is(err, model.ErrNotFound) {
		// A source that has never synced gets a default state, so callers
		// do not need to special-case their first run.
		httputil.WriteJSON(w, http.StatusOK, &model.SyncState{
			SourceID:     sourceID,
			Branch:       "main",
			SyncMetadata: map[string]any{},
		})
		return
	}
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state)
}

func (s *Server) handlePutSyncState(w http.ResponseWriter, r *http.Request) {
	sourceID := r.PathValue("source_id")
	commitSHA, err := formValue(r, "commit_sha")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	branch := r.FormValue("branch")
	if branch == "" {
		branch = "main"
	}

	meta := map[string]any{}
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			s.writeErr(w, r, fmt.Errorf("%w: metadata must be a JSON object", model.ErrInvalidInput))
			return
		}
	}

	// Merge onto any existing metadata rather than replacing it.
	if existing, err := s.store.GetSyncState(r.Context(), sourceID); err == nil {
		for k, v := range meta {
			existing.SyncMetadata[k] = v
		}
		meta = existing.SyncMetadata
	}

	state := &model.SyncState{
		SourceID:      sourceID,
		LastCommitSHA: commitSHA,
		LastSyncDate:  time.Now().UTC(),
		Branch:        branch,
		SyncMetadata:  meta,
	}
	if err := s.store.PutSyncState(r.Context(), state); err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state)
}

func (s *Server) handleDeleteSyncState(w http.ResponseWriter, r *http.Request) {
	sourceID := r.PathValue("source_id")
	if err := s.store.DeleteSyncState(r.Context(), sourceID); err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("sync state reset for %s", sourceID),
	})
}
