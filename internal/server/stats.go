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

	"github.com/docflow/ingest/internal/model"
	"github.com/docflow/ingest/internal/server/httputil"
)

// requireRunGroupID reads the run_group_id query parameter and checks the
// group exists.
func (s *Server) requireRunGroupID(r *http.Request) (int64, error) {
	groupID, err := httputil.QueryInt64(r, "run_group_id")
	if err != nil {
		return 0, err
	}
	if groupID == nil {
		return 0, fmt.Errorf("%w: run_group_id is required", model.ErrInvalidInput)
	}
	if _, err := s.store.GetRunGroup(r.Context(), *groupID); err != nil {
		return 0, err
	}
	return *groupID, nil
}

func (s *Server) handleDurations(w http.ResponseWriter, r *http.Request) {
	groupID, err := s.requireRunGroupID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	durations, err := s.store.GetRunGroupDurations(r.Context(), groupID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, durations)
}

func (s *Server) handleStepStats(w http.ResponseWriter, r *http.Request) {
	groupID, err := s.requireRunGroupID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	stats, err := s.store.GetStepStats(r.Context(), groupID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}
