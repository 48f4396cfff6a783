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
	"time"

	"github.com/docflow/ingest/internal/model"
)

// CreateLifecycleHistory inserts a lifecycle history row, typically in
// RUNNING status while handlers execute.
func (s *queries) CreateLifecycleHistory(ctx context.Context, h *model.LifecycleHistory) error {
	now := time.Now().UTC()
	if h.StartDate.IsZero() {
		h.StartDate = now
	}
	if h.Status == "" {
		h.Status = model.StatusRunning
	}
	meta, err := metaJSON(h.StatusMeta)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO lifecycle_history (event, run_group_id, workflow_run_id, step_id,
			start_date, completed_date, status, status_date, status_message, status_meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(h.Event), h.RunGroupID, h.WorkflowRunID, nullInt64(h.StepID),
		h.StartDate.Format(time.RFC3339), formatTime(h.CompletedDate),
		string(h.Status), formatTime(h.StatusDate), nullString(h.StatusMessage), meta,
	)
	if err != nil {
		return fmt.Errorf("failed to create lifecycle history: %w", err)
	}
	h.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read lifecycle history id: %w", err)
	}
	return nil
}

// CloseLifecycleHistory finalises a history row with the handlers' outcome,
// stamping completed_date when the status is terminal.
func (s *queries) CloseLifecycleHistory(ctx context.Context, id int64, status model.RunStatus, message string, meta map[string]any) error {
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
		UPDATE lifecycle_history
		SET status = ?, status_date = ?, status_message = ?, status_meta = ?,
			completed_date = COALESCE(?, completed_date)
		WHERE id = ?`,
		string(status), now, nullString(message), metaVal, completed, id)
	if err != nil {
		return fmt.Errorf("failed to close lifecycle history: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

const lifecycleColumns = `id, event, run_group_id, workflow_run_id, step_id,
	start_date, completed_date, status, status_date, status_message, status_meta`

// ListLifecycleHistoryByRun lists the lifecycle history of one run, oldest first.
func (s *queries) ListLifecycleHistoryByRun(ctx context.Context, runID int64) ([]*model.LifecycleHistory, error) {
	return s.listLifecycleHistory(ctx,
		`SELECT `+lifecycleColumns+` FROM lifecycle_history
		WHERE workflow_run_id = ? ORDER BY start_date ASC, id ASC`, runID)
}

// ListLifecycleHistoryByGroup lists the lifecycle history of one group, oldest first.
func (s *queries) ListLifecycleHistoryByGroup(ctx context.Context, groupID int64) ([]*model.LifecycleHistory, error) {
	return s.listLifecycleHistory(ctx,
		`SELECT `+lifecycleColumns+` FROM lifecycle_history
		WHERE run_group_id = ? ORDER BY start_date ASC, id ASC`, groupID)
}

func (s *queries) listLifecycleHistory(ctx context.Context, query string, args ...any) ([]*model.LifecycleHistory, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list lifecycle history: %w", err)
	}
	defer rows.Close()

	var items []*model.LifecycleHistory
	for rows.Next() {
		h, err := scanLifecycleHistory(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, h)
	}
	return items, rows.Err()
}

// GetLifecycleHistory fetches one history row by id.
func (s *queries) GetLifecycleHistory(ctx context.Context, id int64) (*model.LifecycleHistory, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+lifecycleColumns+` FROM lifecycle_history WHERE id = ?`, id)
	return scanLifecycleHistory(row.Scan)
}

func scanLifecycleHistory(scan func(...any) error) (*model.LifecycleHistory, error) {
	var h model.LifecycleHistory
	var event, status string
	var stepID sql.NullInt64
	var startDate, completedDate, statusDate, statusMessage, statusMeta sql.NullString

	err := scan(&h.ID, &event, &h.RunGroupID, &h.WorkflowRunID, &stepID,
		&startDate, &completedDate, &status, &statusDate, &statusMessage, &statusMeta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan lifecycle history: %w", err)
	}

	h.Event = model.LifecycleEvent(event)
	h.Status = model.RunStatus(status)
	if stepID.Valid {
		h.StepID = &stepID.Int64
	}
	h.StartDate = mustTime(startDate)
	h.CompletedDate = parseTime(completedDate)
	h.StatusDate = parseTime(statusDate)
	h.StatusMessage = statusMessage.String
	if h.StatusMeta, err = scanMeta(statusMeta); err != nil {
		return nil, err
	}
	return &h, nil
}
