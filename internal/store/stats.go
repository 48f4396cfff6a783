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
	"fmt"

	"github.com/docflow/ingest/internal/model"
)

// StepDurationStats aggregates the completed steps of one step type across a
// run group. Durations are in seconds; pages come from doc_meta.page_count.
type StepDurationStats struct {
	StepType      model.StepType `json:"step_type"`
	Count         int64          `json:"count"`
	Longest       float64        `json:"longest"`
	Shortest      float64        `json:"shortest"`
	Average       float64        `json:"average"`
	Pages         int64          `json:"pages"`
	PagesPerSec   float64        `json:"pages_per_sec"`
	TotalDuration float64        `json:"total_duration"`
	WallClockTime float64        `json:"wall_clock_time"`
}

// GetRunGroupDurations aggregates completed step durations per step type for
// one run group.
func (s *queries) GetRunGroupDurations(ctx context.Context, groupID int64) ([]*StepDurationStats, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT step_type, COUNT(1),
			ROUND(MAX(duration), 1),
			ROUND(MIN(duration), 1),
			ROUND(AVG(duration), 1),
			COALESCE(SUM(pages), 0),
			CASE WHEN SUM(duration) > 0
				THEN ROUND(COALESCE(SUM(pages), 0) / SUM(duration), 2) ELSE 0 END,
			SUM(duration),
			ROUND((julianday(MAX(completed_date)) - julianday(MIN(completed_date))) * 86400, 0)
		FROM (
			SELECT rs.step_type AS step_type,
				(julianday(rs.completed_date) - julianday(rs.start_date)) * 86400 AS duration,
				rs.completed_date AS completed_date,
				CAST(json_extract(d.doc_meta, '$.page_count') AS INTEGER) AS pages
			FROM run_step rs
			JOIN workflow_run wr ON wr.id = rs.workflow_run_id
			JOIN document d ON d.hash = wr.doc_id
			WHERE wr.run_group_id = ? AND rs.status = ?
		)
		GROUP BY step_type`, groupID, string(model.StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to get run group durations: %w", err)
	}
	defer rows.Close()

	var stats []*StepDurationStats
	for rows.Next() {
		var st StepDurationStats
		var stepType string
		var longest, shortest, average, pagesPerSec, total, wall sql.NullFloat64
		var pages sql.NullInt64
		if err := rows.Scan(&stepType, &st.Count, &longest, &shortest, &average,
			&pages, &pagesPerSec, &total, &wall); err != nil {
			return nil, fmt.Errorf("failed to scan run group durations: %w", err)
		}
		st.StepType = model.StepType(stepType)
		st.Longest = longest.Float64
		st.Shortest = shortest.Float64
		st.Average = average.Float64
		st.Pages = pages.Int64
		st.PagesPerSec = pagesPerSec.Float64
		st.TotalDuration = total.Float64
		st.WallClockTime = wall.Float64
		stats = append(stats, &st)
	}
	return stats, rows.Err()
}

// StepStats counts the steps of one (batch, param set, step type, status)
// tuple across a run group.
type StepStats struct {
	BatchName         string          `json:"batch_name"`
	ParamDefinitionID string          `json:"param_definition_id"`
	StepType          model.StepType  `json:"step_type"`
	Status            model.RunStatus `json:"status"`
	Count             int64           `json:"count"`
	Pages             int64           `json:"pages"`
}

// GetStepStats breaks down a run group's steps by batch, parameter set,
// step type and status.
func (s *queries) GetStepStats(ctx context.Context, groupID int64) ([]*StepStats, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT COALESCE(b.name, ''), rg.param_definition_id, rs.step_type, rs.status,
			COUNT(1),
			COALESCE(SUM(CAST(json_extract(d.doc_meta, '$.page_count') AS INTEGER)), 0)
		FROM run_step rs
		JOIN workflow_run wr ON wr.id = rs.workflow_run_id
		JOIN document_batch b ON b.id = wr.batch_id
		JOIN document d ON d.hash = wr.doc_id
		JOIN run_group rg ON rg.id = wr.run_group_id
		WHERE rg.id = ?
		GROUP BY b.name, rg.param_definition_id, rs.step_type, rs.status
		ORDER BY b.name, rs.step_type, rs.status`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get step stats: %w", err)
	}
	defer rows.Close()

	var stats []*StepStats
	for rows.Next() {
		var st StepStats
		var stepType, status string
		if err := rows.Scan(&st.BatchName, &st.ParamDefinitionID, &stepType, &status,
			&st.Count, &st.Pages); err != nil {
			return nil, fmt.Errorf("failed to scan step stats: %w", err)
		}
		st.StepType = model.StepType(stepType)
		st.Status = model.RunStatus(status)
		stats = append(stats, &st)
	}
	return stats, rows.Err()
}
