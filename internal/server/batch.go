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

	"github.com/docflow/ingest/internal/engine"
	"github.com/docflow/ingest/internal/model"
	"github.com/docflow/ingest/internal/server/httputil"
)

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.store.ListBatches(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, batches)
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	name, err := formValue(r, "name")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	source, err := formValue(r, "source")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	batch := &model.DocumentBatch{Name: name, Source: source}
	if err := s.store.CreateBatch(r.Context(), batch); err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]int64{"batch_id": batch.ID})
}

func (s *Server) handleStartWorkflows(w http.ResponseWriter, r *http.Request) {
	batchIDStr, err := formValue(r, "batch_id")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	batchID, err := strconv.ParseInt(batchIDStr, 10, 64)
	if err != nil {
		s.writeErr(w, r, fmt.Errorf("%w: batch_id must be an integer", model.ErrInvalidInput))
		return
	}
	priority := 0
	if raw := r.FormValue("priority"); raw != "" {
		if priority, err = strconv.Atoi(raw); err != nil {
			s.writeErr(w, r, fmt.Errorf("%w: priority must be an integer", model.ErrInvalidInput))
			return
		}
	}

	group, runs, err := s.engine.CreateWorkflowRunsForBatch(r.Context(), engine.CreateRunGroupOptions{
		WorkflowID: r.FormValue("workflow_definition_id"),
		ParamID:    r.FormValue("param_id"),
		BatchID:    &batchID,
	}, priority)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"message":   "Workflows started",
		"workflows": len(runs),
		"run_group": group,
	})
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	batchID, err := httputil.QueryInt64(r, "batch_id")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if batchID == nil {
		s.writeErr(w, r, fmt.Errorf("%w: batch_id is required", model.ErrInvalidInput))
		return
	}

	status, err := s.engine.GetBatchStatus(r.Context(), *batchID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (s *Server) handleBatchSteps(w http.ResponseWriter, r *http.Request) {
	batchID, err := httputil.PathInt64(r, "id")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if _, err := s.store.GetBatch(r.Context(), batchID); err != nil {
		s.writeErr(w, r, err)
		return
	}

	steps, err := s.store.ListStepsForBatch(r.Context(), batchID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, steps)
}
