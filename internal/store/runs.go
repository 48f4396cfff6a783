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
	"strings"
	"time"

	"github.com/docflow/ingest/internal/model"
)

// CreateRunGroup inserts a run group row.
func (s *queries) CreateRunGroup(ctx context.Context, g *model.RunGroup) error {
	now := time.Now().UTC()
	if g.CreatedDate.IsZero() {
		g.CreatedDate = now
	}
	if g.StartDate.IsZero() {
		g.StartDate = now
	}
	if g.Status == "" {
		g.Status = model.StatusPending
	}
	meta, err := metaJSON(g.StatusMeta)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO run_group (name, workflow_definition_id, param_definition_id, batch_id,
			created_date, start_date, completed_date, status, status_date, status_message, status_meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullString(g.Name), g.WorkflowDefinitionID, g.ParamDefinitionID, nullInt64(g.BatchID),
		g.CreatedDate.Format(time.RFC3339), g.StartDate.Format(time.RFC3339),
		formatTime(g.CompletedDate), string(g.Status), formatTime(g.StatusDate),
		nullString(g.StatusMessage), meta,
	)
	if err != nil {
		return fmt.Errorf("failed to create run group: %w", err)
	}
	g.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read run group id: %w", err)
	}
	return nil
}

// GetRunGroup fetches a run group by id.
func (s *queries) GetRunGroup(ctx context.Context, id int64) (*model.RunGroup, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, name, workflow_definition_id, param_definition_id, batch_id,
			created_date, start_date, completed_date, status, status_date, status_message, status_meta
		FROM run_group WHERE id = ?`, id)
	g, err := scanRunGroup(row.Scan)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// ListRunGroups lists run groups, newest first, optionally filtered by batch.
func (s *queries) ListRunGroups(ctx context.Context, batchID *int64) ([]*model.RunGroup, error) {
	query := `
		SELECT id, name, workflow_definition_id, param_definition_id, batch_id,
			created_date, start_date, completed_date, status, status_date, status_message, status_meta
		FROM run_group`
	var args []any
	if batchID != nil {
		query += ` WHERE batch_id = ?`
		args = append(args, *batchID)
	}
	query += ` ORDER BY created_date DESC, id DESC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list run groups: %w", err)
	}
	defer rows.Close()

	var groups []*model.RunGroup
	for rows.Next() {
		g, err := scanRunGroup(rows.Scan)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func scanRunGroup(scan func(...any) error) (*model.RunGroup, error) {
	var g model.RunGroup
	var name, createdDate, startDate, completedDate, statusDate, statusMessage, statusMeta sql.NullString
	var status string
	var batchID sql.NullInt64

	err := scan(&g.ID, &name, &g.WorkflowDefinitionID, &g.ParamDefinitionID, &batchID,
		&createdDate, &startDate, &completedDate, &status, &statusDate, &statusMessage, &statusMeta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run group: %w", err)
	}

	g.Name = name.String
	g.CreatedDate = mustTime(createdDate)
	g.StartDate = mustTime(startDate)
	g.CompletedDate = parseTime(completedDate)
	g.Status = model.RunStatus(status)
	g.StatusDate = parseTime(statusDate)
	g.StatusMessage = statusMessage.String
	if batchID.Valid {
		g.BatchID = &batchID.Int64
	}
	if g.StatusMeta, err = scanMeta(statusMeta); err != nil {
		return nil, err
	}
	return &g, nil
}

// UpdateRunGroupStatus updates the status columns of a run group, stamping
// completed_date when the status is terminal.
func (s *queries) UpdateRunGroupStatus(ctx context.Context, id int64, status model.RunStatus, message string, meta map[string]any) error {
	metaVal, err := metaJSON(meta)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)

	var completed any
	if status.Terminal() {
		completed = now
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE run_group
		SET status = ?, status_date = ?, status_message = ?, status_meta = ?,
			completed_date = COALESCE(?, completed_date)
		WHERE id = ?`,
		string(status), now, nullString(message), metaVal, completed, id)
	if err != nil {
		return fmt.Errorf("failed to update run group status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// RunGroupDeleteCounts summarises a cascading run group deletion.
type RunGroupDeleteCounts struct {
	RunSteps         int64 `json:"deleted_run_steps"`
	WorkflowRuns     int64 `json:"deleted_workflow_runs"`
	LifecycleHistory int64 `json:"deleted_lifecycle_history"`
	RunGroups        int64 `json:"deleted_run_groups"`
}

// DeleteRunGroup cascade-deletes a run group: its steps, lifecycle history,
// runs, and finally the group itself.
func (s *queries) DeleteRunGroup(ctx context.Context, id int64) (*RunGroupDeleteCounts, error) {
	counts := &RunGroupDeleteCounts{}

	res, err := s.q.ExecContext(ctx, `
		DELETE FROM run_step
		WHERE workflow_run_id IN (SELECT id FROM workflow_run WHERE run_group_id = ?)`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete group run steps: %w", err)
	}
	counts.RunSteps, _ = res.RowsAffected()

	res, err = s.q.ExecContext(ctx, `DELETE FROM lifecycle_history WHERE run_group_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete group lifecycle history: %w", err)
	}
	counts.LifecycleHistory, _ = res.RowsAffected()

	res, err = s.q.ExecContext(ctx, `DELETE FROM workflow_run WHERE run_group_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete group workflow runs: %w", err)
	}
	counts.WorkflowRuns, _ = res.RowsAffected()

	res, err = s.q.ExecContext(ctx, `DELETE FROM run_group WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete run group: %w", err)
	}
	counts.RunGroups, _ = res.RowsAffected()
	if counts.RunGroups == 0 {
		return nil, model.ErrNotFound
	}
	return counts, nil
}

// CreateWorkflowRun inserts a workflow run row.
func (s *queries) CreateWorkflowRun(ctx context.Context, r *model.WorkflowRun) error {
	now := time.Now().UTC()
	if r.CreatedDate.IsZero() {
		r.CreatedDate = now
	}
	if r.StartDate.IsZero() {
		r.StartDate = now
	}
	if r.Status == "" {
		r.Status = model.StatusPending
	}
	statusMeta, err := metaJSON(r.StatusMeta)
	if err != nil {
		return err
	}
	runParams, err := metaJSON(r.RunParams)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO workflow_run (workflow_definition_id, run_group_id, batch_id, doc_id, priority,
			created_date, start_date, completed_date, status, status_date, status_message, status_meta, run_params)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.WorkflowDefinitionID, r.RunGroupID, r.BatchID, r.DocID, r.Priority,
		r.CreatedDate.Format(time.RFC3339), r.StartDate.Format(time.RFC3339),
		formatTime(r.CompletedDate), string(r.Status), formatTime(r.StatusDate),
		nullString(r.StatusMessage), statusMeta, runParams,
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow run: %w", err)
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read workflow run id: %w", err)
	}
	return nil
}

const workflowRunColumns = `id, workflow_definition_id, run_group_id, batch_id, doc_id, priority,
	created_date, start_date, completed_date, status, status_date, status_message, status_meta, run_params`

// GetWorkflowRun fetches a workflow run by id.
func (s *queries) GetWorkflowRun(ctx context.Context, id int64) (*model.WorkflowRun, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+workflowRunColumns+` FROM workflow_run WHERE id = ?`, id)
	return scanWorkflowRun(row.Scan)
}

func scanWorkflowRun(scan func(...any) error) (*model.WorkflowRun, error) {
	var r model.WorkflowRun
	var createdDate, startDate, completedDate, statusDate, statusMessage, statusMeta, runParams sql.NullString
	var status string

	err := scan(&r.ID, &r.WorkflowDefinitionID, &r.RunGroupID, &r.BatchID, &r.DocID, &r.Priority,
		&createdDate, &startDate, &completedDate, &status, &statusDate, &statusMessage, &statusMeta, &runParams)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan workflow run: %w", err)
	}

	r.CreatedDate = mustTime(createdDate)
	r.StartDate = mustTime(startDate)
	r.CompletedDate = parseTime(completedDate)
	r.Status = model.RunStatus(status)
	r.StatusDate = parseTime(statusDate)
	r.StatusMessage = statusMessage.String
	if r.StatusMeta, err = scanMeta(statusMeta); err != nil {
		return nil, err
	}
	if r.RunParams, err = scanMeta(runParams); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRunsOptions filters and paginates workflow run listings.
type ListRunsOptions struct {
	RunGroupID  *int64
	BatchID     *int64
	DocID       string
	Status      model.RunStatus
	Page        int
	RowsPerPage int
}

// ListWorkflowRuns lists runs newest first, returning the page requested and
// the total match count before pagination.
func (s *queries) ListWorkflowRuns(ctx context.Context, opts ListRunsOptions) ([]*model.WorkflowRun, int64, error) {
	var conds []string
	var args []any
	if opts.RunGroupID != nil {
		conds = append(conds, "run_group_id = ?")
		args = append(args, *opts.RunGroupID)
	}
	if opts.BatchID != nil {
		conds = append(conds, "batch_id = ?")
		args = append(args, *opts.BatchID)
	}
	if opts.DocID != "" {
		conds = append(conds, "doc_id = ?")
		args = append(args, opts.DocID)
	}
	if opts.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(opts.Status))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflow_run`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count workflow runs: %w", err)
	}

	query := `SELECT ` + workflowRunColumns + ` FROM workflow_run` + where +
		` ORDER BY created_date DESC, id DESC`
	if opts.RowsPerPage > 0 {
		page := opts.Page
		if page < 1 {
			page = 1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.RowsPerPage, (page-1)*opts.RowsPerPage)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list workflow runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.WorkflowRun
	for rows.Next() {
		r, err := scanWorkflowRun(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, r)
	}
	return runs, total, rows.Err()
}

// ListWorkflowRunIDsByDoc lists the ids of every run for a document.
func (s *queries) ListWorkflowRunIDsByDoc(ctx context.Context, docHash string) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id FROM workflow_run WHERE doc_id = ?`, docHash)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow run ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan workflow run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateWorkflowRunStatus updates a run's status columns, stamping
// completed_date when the status is terminal.
func (s *queries) UpdateWorkflowRunStatus(ctx context.Context, id int64, status model.RunStatus, message string, meta map[string]any) error {
	metaVal, err := metaJSON(meta)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)

	var completed any
	if status.Terminal() {
		completed = now
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE workflow_run
		SET status = ?, status_date = ?, status_message = ?, status_meta = ?,
			completed_date = COALESCE(?, completed_date)
		WHERE id = ?`,
		string(status), now, nullString(message), metaVal, completed, id)
	if err != nil {
		return fmt.Errorf("failed to update workflow run status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// DeleteWorkflowRunsByDoc removes all runs for a document, returning counts
// of deleted steps, lifecycle history rows and runs.
func (s *queries) DeleteWorkflowRunsByDoc(ctx context.Context, docHash string) (steps, history, runs int64, err error) {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM run_step
		WHERE workflow_run_id IN (SELECT id FROM workflow_run WHERE doc_id = ?)`, docHash)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to delete run steps: %w", err)
	}
	steps, _ = res.RowsAffected()

	res, err = s.q.ExecContext(ctx, `
		DELETE FROM lifecycle_history
		WHERE workflow_run_id IN (SELECT id FROM workflow_run WHERE doc_id = ?)`, docHash)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to delete lifecycle history: %w", err)
	}
	history, _ = res.RowsAffected()

	res, err = s.q.ExecContext(ctx, `DELETE FROM workflow_run WHERE doc_id = ?`, docHash)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to delete workflow runs: %w", err)
	}
	runs, _ = res.RowsAffected()

	return steps, history, runs, nil
}

// CreateRunStep inserts a run step row.
func (s *queries) CreateRunStep(ctx context.Context, step *model.RunStep) error {
	if step.CreatedDate.IsZero() {
		step.CreatedDate = time.Now().UTC()
	}
	if step.Status == "" {
		step.Status = model.StatusPending
	}
	meta, err := metaJSON(step.StatusMeta)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO run_step (workflow_run_id, workflow_step_number, workflow_step_name,
			step_config_id, step_type, is_last_step, created_date, priority,
			start_date, status_date, completed_date, retry, retries, status,
			status_message, status_meta, worker_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.WorkflowRunID, step.WorkflowStepNumber, step.WorkflowStepName,
		step.StepConfigID, string(step.StepType), boolToInt(step.IsLastStep),
		step.CreatedDate.Format(time.RFC3339), step.Priority,
		formatTime(step.StartDate), formatTime(step.StatusDate), formatTime(step.CompletedDate),
		step.Retry, step.Retries, string(step.Status),
		nullString(step.StatusMessage), meta, nullString(step.WorkerID),
	)
	if err != nil {
		return fmt.Errorf("failed to create run step: %w", err)
	}
	step.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read run step id: %w", err)
	}
	return nil
}

const runStepColumns = `id, workflow_run_id, workflow_step_number, workflow_step_name,
	step_config_id, step_type, is_last_step, created_date, priority,
	start_date, status_date, completed_date, retry, retries, status,
	status_message, status_meta, worker_id`

// GetRunStep fetches a run step by id.
func (s *queries) GetRunStep(ctx context.Context, id int64) (*model.RunStep, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+runStepColumns+` FROM run_step WHERE id = ?`, id)
	return scanRunStep(row.Scan)
}

func scanRunStep(scan func(...any) error) (*model.RunStep, error) {
	var step model.RunStep
	var createdDate, startDate, statusDate, completedDate sql.NullString
	var statusMessage, statusMeta, workerID sql.NullString
	var stepType, status string
	var isLast int

	err := scan(&step.ID, &step.WorkflowRunID, &step.WorkflowStepNumber, &step.WorkflowStepName,
		&step.StepConfigID, &stepType, &isLast, &createdDate, &step.Priority,
		&startDate, &statusDate, &completedDate, &step.Retry, &step.Retries, &status,
		&statusMessage, &statusMeta, &workerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run step: %w", err)
	}

	step.StepType = model.StepType(stepType)
	step.IsLastStep = isLast != 0
	step.CreatedDate = mustTime(createdDate)
	step.StartDate = parseTime(startDate)
	step.StatusDate = parseTime(statusDate)
	step.CompletedDate = parseTime(completedDate)
	step.Status = model.RunStatus(status)
	step.StatusMessage = statusMessage.String
	step.WorkerID = workerID.String
	if step.StatusMeta, err = scanMeta(statusMeta); err != nil {
		return nil, err
	}
	return &step, nil
}

// ListRunSteps lists the steps of one run in workflow order.
func (s *queries) ListRunSteps(ctx context.Context, runID int64) ([]*model.RunStep, error) {
	return s.listRunSteps(ctx,
		`SELECT `+runStepColumns+` FROM run_step WHERE workflow_run_id = ? ORDER BY workflow_step_number`,
		runID)
}

// ListStepsForBatch lists every step of every run in a batch.
func (s *queries) ListStepsForBatch(ctx context.Context, batchID int64) ([]*model.RunStep, error) {
	return s.listRunSteps(ctx, `
		SELECT `+runStepColumns+` FROM run_step
		WHERE workflow_run_id IN (SELECT id FROM workflow_run WHERE batch_id = ?)
		ORDER BY workflow_run_id, workflow_step_number`, batchID)
}

// ListStepsByWorker lists the non-completed steps held by a worker.
func (s *queries) ListStepsByWorker(ctx context.Context, workerID string) ([]*model.RunStep, error) {
	return s.listRunSteps(ctx, `
		SELECT `+runStepColumns+` FROM run_step
		WHERE worker_id = ? AND status != ?
		ORDER BY id`, workerID, string(model.StatusCompleted))
}

func (s *queries) listRunSteps(ctx context.Context, query string, args ...any) ([]*model.RunStep, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list run steps: %w", err)
	}
	defer rows.Close()

	var steps []*model.RunStep
	for rows.Next() {
		step, err := scanRunStep(rows.Scan)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// GetRunnableSteps selects up to top steps eligible to run: the lowest
// incomplete step of each non-terminal run with retry budget left, skipping
// runs that already have a RUNNING step. Ordered by priority (highest
// first), then fewest retries, then age, then step number. A non-nil batchID
// restricts selection to that batch's runs.
func (s *queries) GetRunnableSteps(ctx context.Context, top int, batchID *int64) ([]*model.RunStep, error) {
	if top <= 0 {
		top = 100
	}

	batchFilter := ""
	args := []any{
		string(model.StatusCompleted), string(model.StatusFailed), string(model.StatusRunning),
		string(model.StatusCompleted), string(model.StatusFailed),
	}
	if batchID != nil {
		batchFilter = " AND wr.batch_id = ?"
		args = append(args, *batchID)
	}
	args = append(args,
		string(model.StatusRunning), string(model.StatusFailed), string(model.StatusCompleted),
		string(model.StatusRunning), top)

	query := `
		SELECT ` + prefixColumns("rs", runStepColumns) + `
		FROM run_step rs
		WHERE (rs.workflow_run_id, rs.workflow_step_number) IN (
			SELECT rs2.workflow_run_id, MIN(rs2.workflow_step_number)
			FROM run_step rs2
			JOIN workflow_run wr ON wr.id = rs2.workflow_run_id
			WHERE rs2.retry < rs2.retries
				AND rs2.status NOT IN (?, ?, ?)
				AND wr.status NOT IN (?, ?)` + batchFilter + `
			GROUP BY rs2.workflow_run_id
		)
		AND rs.status NOT IN (?, ?, ?)
		AND rs.workflow_run_id NOT IN (
			SELECT workflow_run_id FROM run_step WHERE status = ?
		)
		ORDER BY rs.priority DESC, rs.retry ASC, rs.created_date ASC, rs.workflow_step_number ASC
		LIMIT ?`

	return s.listRunSteps(ctx, query, args...)
}

// UpdateRunStep writes the mutable columns of a run step.
func (s *queries) UpdateRunStep(ctx context.Context, step *model.RunStep) error {
	meta, err := metaJSON(step.StatusMeta)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE run_step
		SET status = ?, status_date = ?, status_message = ?, status_meta = ?,
			start_date = ?, completed_date = ?, retry = ?, worker_id = ?
		WHERE id = ?`,
		string(step.Status), formatTime(step.StatusDate), nullString(step.StatusMessage), meta,
		formatTime(step.StartDate), formatTime(step.CompletedDate), step.Retry,
		nullString(step.WorkerID), step.ID)
	if err != nil {
		return fmt.Errorf("failed to update run step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// GroupStepStats counts distinct runs per step status across a run group.
// Every known status appears in the result, zero when absent.
func (s *queries) GroupStepStats(ctx context.Context, groupID int64) (map[model.RunStatus]int, error) {
	stats := map[model.RunStatus]int{
		model.StatusPending:   0,
		model.StatusRunning:   0,
		model.StatusCompleted: 0,
		model.StatusError:     0,
		model.StatusFailed:    0,
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT rs.status, COUNT(DISTINCT rs.workflow_run_id)
		FROM run_step rs
		JOIN workflow_run wr ON wr.id = rs.workflow_run_id
		WHERE wr.run_group_id = ?
		GROUP BY rs.status`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get group step stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan group step stats: %w", err)
		}
		stats[model.RunStatus(status)] = count
	}
	return stats, rows.Err()
}

// ResetFailedSteps resets the steps of a group's FAILED runs to PENDING with
// zero retries, then moves the FAILED runs back to RUNNING. Returns the
// number of steps and runs reset.
func (s *queries) ResetFailedSteps(ctx context.Context, groupID int64) (steps, runs int64, err error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE run_step
		SET status = ?, retry = 0, worker_id = NULL
		WHERE workflow_run_id IN (
			SELECT id FROM workflow_run WHERE run_group_id = ? AND status = ?
		)`,
		string(model.StatusPending), groupID, string(model.StatusFailed))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to reset failed steps: %w", err)
	}
	steps, _ = res.RowsAffected()

	res, err = s.q.ExecContext(ctx, `
		UPDATE workflow_run
		SET status = ?, completed_date = NULL
		WHERE run_group_id = ? AND status = ?`,
		string(model.StatusRunning), groupID, string(model.StatusFailed))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to reset failed runs: %w", err)
	}
	runs, _ = res.RowsAffected()

	return steps, runs, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
