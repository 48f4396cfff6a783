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

	"gopkg.in/yaml.v3"

	"github.com/docflow/ingest/internal/engine"
	"github.com/docflow/ingest/internal/model"
	"github.com/docflow/ingest/internal/registry"
	"github.com/docflow/ingest/internal/server/httputil"
	"github.com/docflow/ingest/internal/store"
)

// runDetail is a workflow run with optional expansions.
type runDetail struct {
	*model.WorkflowRun
	Steps    []*model.RunStep `json:"steps,omitempty"`
	Document *model.Document  `json:"document,omitempty"`
}

// expandRuns attaches steps and document info to a page of runs.
func (s *Server) expandRuns(r *http.Request, runs []*model.WorkflowRun, includeSteps, includeDoc bool) ([]*runDetail, error) {
	details := make([]*runDetail, 0, len(runs))
	for _, run := range runs {
		d := &runDetail{WorkflowRun: run}
		if includeSteps {
			steps, err := s.store.ListRunSteps(r.Context(), run.ID)
			if err != nil {
				return nil, err
			}
			d.Steps = steps
		}
		if includeDoc {
			doc, err := s.store.GetDocument(r.Context(), run.DocID)
			if err != nil {
				return nil, err
			}
			d.Document = doc
		}
		details = append(details, d)
	}
	return details, nil
}

// listRuns implements the shared list/paginate/expand behavior of the run
// listing routes.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request, opts store.ListRunsOptions) {
	page, rowsPerPage, paged, err := httputil.PageParams(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if paged {
		opts.Page = page
		opts.RowsPerPage = rowsPerPage
	}

	runs, total, err := s.store.ListWorkflowRuns(r.Context(), opts)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	includeSteps := r.URL.Query().Get("include_steps") == "true"
	includeDoc := r.URL.Query().Get("include_doc_info") == "true"

	var items any = runs
	if includeSteps || includeDoc {
		details, err := s.expandRuns(r, runs, includeSteps, includeDoc)
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
		items = details
	}

	if !paged {
		httputil.WriteJSON(w, http.StatusOK, items)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPage(items, total, page, rowsPerPage))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	batchID, err := httputil.QueryInt64(r, "batch_id")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.listRuns(w, r, store.ListRunsOptions{BatchID: batchID})
}

func (s *Server) handleRunsByStatus(w http.ResponseWriter, r *http.Request) {
	status := model.RunStatus(r.URL.Query().Get("status"))
	switch status {
	case model.StatusPending, model.StatusRunning, model.StatusCompleted, model.StatusError, model.StatusFailed:
	default:
		s.writeErr(w, r, fmt.Errorf("%w: unknown status %q", model.ErrInvalidInput, status))
		return
	}
	batchID, err := httputil.QueryInt64(r, "batch_id")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.listRuns(w, r, store.ListRunsOptions{Status: status, BatchID: batchID})
}

func (s *Server) handleRunsForBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := httputil.QueryInt64(r, "batch_id")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if batchID == nil {
		s.writeErr(w, r, fmt.Errorf("%w: batch_id is required", model.ErrInvalidInput))
		return
	}
	s.listRuns(w, r, store.ListRunsOptions{BatchID: batchID})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := httputil.PathInt64(r, "id")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	run, err := s.store.GetWorkflowRun(r.Context(), runID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	steps, err := s.store.ListRunSteps(r.Context(), runID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &runDetail{WorkflowRun: run, Steps: steps})
}

func (s *Server) handleRunLifecycle(w http.ResponseWriter, r *http.Request) {
	runID, err := httputil.PathInt64(r, "id")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if _, err := s.store.GetWorkflowRun(r.Context(), runID); err != nil {
		s.writeErr(w, r, err)
		return
	}
	history, err := s.store.ListLifecycleHistoryByRun(r.Context(), runID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, history)
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	docID, err := formValue(r, "doc_id")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	priority := 0
	if raw := r.FormValue("priority"); raw != "" {
		if priority, err = strconv.Atoi(raw); err != nil {
			s.writeErr(w, r, fmt.Errorf("%w: priority must be an integer", model.ErrInvalidInput))
			return
		}
	}

	group, err := s.engine.CreateRunGroup(r.Context(), engine.CreateRunGroupOptions{
		WorkflowID: r.FormValue("workflow_definition_id"),
		ParamID:    r.FormValue("param_id"),
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	run, err := s.engine.CreateWorkflowRun(r.Context(), group, docID, priority)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"run_group": group,
		"run":       run,
	})
}

func (s *Server) handleRetryRunGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := httputil.QueryInt64(r, "run_group_id")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if groupID == nil {
		s.writeErr(w, r, fmt.Errorf("%w: run_group_id is required", model.ErrInvalidInput))
		return
	}

	steps, runs, err := s.engine.RetryRunGroup(r.Context(), *groupID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]int64{
		"steps_reset": steps,
		"runs_reset":  runs,
	})
}

func (s *Server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	type defSummary struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	defs := s.engine.Registry().ListWorkflows()
	out := make([]defSummary, 0, len(defs))
	for _, wf := range defs {
		out = append(out, defSummary{ID: wf.ID, Name: wf.Name})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	wf, err := s.engine.Registry().Workflow(r.PathValue("id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wf)
}

func (s *Server) handleListParamSets(w http.ResponseWriter, r *http.Request) {
	type paramSummary struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	sets := s.engine.Registry().ListParamSets()
	out := make([]paramSummary, 0, len(sets))
	for _, ps := range sets {
		out = append(out, paramSummary{ID: ps.ID, Name: ps.Name})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetParamSet(w http.ResponseWriter, r *http.Request) {
	ps, err := s.engine.Registry().ParamSet(r.PathValue("id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ps)
}

func (s *Server) handleUploadParamSet(w http.ResponseWriter, r *http.Request) {
	yamlContent, err := formValue(r, "yaml_content")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	var ps registry.ParamSet
	if err := yaml.Unmarshal([]byte(yamlContent), &ps); err != nil {
		s.writeErr(w, r, fmt.Errorf("%w: invalid param set YAML: %v", model.ErrInvalidInput, err))
		return
	}
	if ps.ID == "" {
		s.writeErr(w, r, fmt.Errorf("%w: param set id is required", model.ErrInvalidInput))
		return
	}

	overwrite := r.FormValue("overwrite") == "true"
	path, err := s.engine.Registry().SaveParamSet(&ps, overwrite)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{
		"id":   ps.ID,
		"path": path,
	})
}

func (s *Server) handleDeleteParamSet(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteParamSet(r.Context(), r.PathValue("id")); err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("param set %q deleted", r.PathValue("id")),
	})
}

func (s *Server) handleListRunGroups(w http.ResponseWriter, r *http.Request) {
	batchID, err := httputil.QueryInt64(r, "batch_id")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	groups, err := s.store.ListRunGroups(r.Context(), batchID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, groups)
}

func (s *Server) handleGetRunGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := httputil.PathInt64(r, "id")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	group, err := s.store.GetRunGroup(r.Context(), groupID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, group)
}

func (s *Server) handleRunGroupStats(w http.ResponseWriter, r *http.Request) {
	groupID, err := httputil.PathInt64(r, "id")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if _, err := s.store.GetRunGroup(r.Context(), groupID); err != nil {
		s.writeErr(w, r, err)
		return
	}
	stats, err := s.store.GroupStepStats(r.Context(), groupID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDeleteRunGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := httputil.PathInt64(r, "id")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	counts, err := s.engine.DeleteRunGroup(r.Context(), groupID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, counts)
}
