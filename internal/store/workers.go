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
	"fmt"
	"time"

	"github.com/docflow/ingest/internal/model"
)

// UpsertWorkerCheckin records a worker heartbeat, creating the row on first
// checkin and refreshing last_checkin afterwards.
func (s *queries) UpsertWorkerCheckin(ctx context.Context, workerID string, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339)
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO worker_checkin (id, first_checkin, last_checkin)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET last_checkin = excluded.last_checkin`,
		workerID, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to upsert worker checkin: %w", err)
	}
	return nil
}

// ListWorkerCheckins lists every known worker heartbeat.
func (s *queries) ListWorkerCheckins(ctx context.Context) ([]*model.WorkerCheckin, error) {
	return s.listCheckins(ctx,
		`SELECT id, first_checkin, last_checkin FROM worker_checkin ORDER BY id`)
}

// ListStaleWorkers lists workers whose last checkin is at or before the cutoff.
func (s *queries) ListStaleWorkers(ctx context.Context, cutoff time.Time) ([]*model.WorkerCheckin, error) {
	return s.listCheckins(ctx,
		`SELECT id, first_checkin, last_checkin FROM worker_checkin
		WHERE last_checkin <= ? ORDER BY id`,
		cutoff.UTC().Format(time.RFC3339))
}

func (s *queries) listCheckins(ctx context.Context, query string, args ...any) ([]*model.WorkerCheckin, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list worker checkins: %w", err)
	}
	defer rows.Close()

	var checkins []*model.WorkerCheckin
	for rows.Next() {
		var c model.WorkerCheckin
		var first, last string
		if err := rows.Scan(&c.ID, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan worker checkin: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, first); err == nil {
			c.FirstCheckin = t
		}
		if t, err := time.Parse(time.RFC3339, last); err == nil {
			c.LastCheckin = t
		}
		checkins = append(checkins, &c)
	}
	return checkins, rows.Err()
}

// DeleteWorkerCheckin removes a worker's heartbeat row.
func (s *queries) DeleteWorkerCheckin(ctx context.Context, workerID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM worker_checkin WHERE id = ?`, workerID)
	if err != nil {
		return fmt.Errorf("failed to delete worker checkin: %w", err)
	}
	return nil
}

// ReleaseWorkerSteps clears step ownership for a dead worker: its
// non-completed steps lose their worker_id and RUNNING steps return to
// PENDING so another worker can claim them. Returns the number of steps
// released.
func (s *queries) ReleaseWorkerSteps(ctx context.Context, workerID string) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE run_step
		SET worker_id = NULL,
			status = CASE WHEN status = ? THEN ? ELSE status END
		WHERE worker_id = ? AND status != ?`,
		string(model.StatusRunning), string(model.StatusPending),
		workerID, string(model.StatusCompleted))
	if err != nil {
		return 0, fmt.Errorf("failed to release worker steps: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
