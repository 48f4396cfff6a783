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
	"testing"
	"time"

	"github.com/docflow/ingest/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedRun creates a group, a run and numbered steps for it, returning the run.
func seedRun(t *testing.T, s *Store, docID string, stepTypes ...model.StepType) (*model.RunGroup, *model.WorkflowRun) {
	t.Helper()
	ctx := context.Background()

	group := &model.RunGroup{
		WorkflowDefinitionID: "default_ingest",
		ParamDefinitionID:    "default",
		Status:               model.StatusPending,
	}
	require.NoError(t, s.CreateRunGroup(ctx, group))

	run := &model.WorkflowRun{
		WorkflowDefinitionID: "default_ingest",
		RunGroupID:           group.ID,
		DocID:                docID,
		Priority:             10,
		Status:               model.StatusPending,
	}
	require.NoError(t, s.CreateWorkflowRun(ctx, run))

	sc := &model.StepConfig{StepType: model.StepParse, CumlConfigJSON: "{} " + docID}
	require.NoError(t, s.CreateStepConfig(ctx, sc))

	for i, st := range stepTypes {
		step := &model.RunStep{
			WorkflowRunID:      run.ID,
			WorkflowStepNumber: i + 1,
			WorkflowStepName:   string(st),
			StepConfigID:       sc.ID,
			StepType:           st,
			IsLastStep:         i == len(stepTypes)-1,
			Priority:           run.Priority,
			Retries:            3,
			Status:             model.StatusPending,
		}
		require.NoError(t, s.CreateRunStep(ctx, step))
	}
	return group, run
}

func TestRunGroupCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	group, _ := seedRun(t, s, "sha256-doc1", model.StepValidate, model.StepParse)

	got, err := s.GetRunGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, "default_ingest", got.WorkflowDefinitionID)
	assert.Equal(t, model.StatusPending, got.Status)

	require.NoError(t, s.UpdateRunGroupStatus(ctx, group.ID, model.StatusCompleted, "done", nil))
	got, err = s.GetRunGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedDate)

	groups, err := s.ListRunGroups(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, groups, 1)

	_, err = s.GetRunGroup(ctx, 9999)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDeleteRunGroupCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	group, run := seedRun(t, s, "sha256-doc1", model.StepValidate, model.StepParse)
	require.NoError(t, s.CreateLifecycleHistory(ctx, &model.LifecycleHistory{
		Event: model.EventGroupStart, RunGroupID: group.ID, WorkflowRunID: run.ID,
	}))

	counts, err := s.DeleteRunGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.RunSteps)
	assert.Equal(t, int64(1), counts.WorkflowRuns)
	assert.Equal(t, int64(1), counts.LifecycleHistory)
	assert.Equal(t, int64(1), counts.RunGroups)

	_, err = s.DeleteRunGroup(ctx, group.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestListWorkflowRunsPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var groupID int64
	for i := 0; i < 5; i++ {
		g, _ := seedRun(t, s, "sha256-doc"+string(rune('a'+i)), model.StepParse)
		groupID = g.ID
	}

	runs, total, err := s.ListWorkflowRuns(ctx, ListRunsOptions{Page: 1, RowsPerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, runs, 2)

	runs, total, err = s.ListWorkflowRuns(ctx, ListRunsOptions{Page: 3, RowsPerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, runs, 1)

	// Filtered by group.
	runs, total, err = s.ListWorkflowRuns(ctx, ListRunsOptions{RunGroupID: &groupID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, runs, 1)

	// Filtered by doc.
	runs, total, err = s.ListWorkflowRuns(ctx, ListRunsOptions{DocID: "sha256-doca"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, runs, 1)
	assert.Equal(t, "sha256-doca", runs[0].DocID)
}

func TestGetRunnableStepsPicksLowestStep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, run := seedRun(t, s, "sha256-doc1", model.StepValidate, model.StepParse, model.StepChunk)

	steps, err := s.GetRunnableSteps(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, 1, steps[0].WorkflowStepNumber)
	assert.Equal(t, model.StepValidate, steps[0].StepType)

	// Complete step 1: step 2 becomes runnable.
	step1 := steps[0]
	step1.Status = model.StatusCompleted
	now := time.Now().UTC()
	step1.CompletedDate = &now
	require.NoError(t, s.UpdateRunStep(ctx, step1))

	steps, err = s.GetRunnableSteps(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, 2, steps[0].WorkflowStepNumber)
	assert.Equal(t, run.ID, steps[0].WorkflowRunID)
}

func TestGetRunnableStepsSkipsRunningRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, run1 := seedRun(t, s, "sha256-doc1", model.StepValidate, model.StepParse)
	_, run2 := seedRun(t, s, "sha256-doc2", model.StepValidate, model.StepParse)

	// Mark doc1's first step RUNNING: its run is excluded entirely.
	steps, err := s.GetRunnableSteps(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	var running *model.RunStep
	for _, step := range steps {
		if step.WorkflowRunID == run1.ID {
			running = step
		}
	}
	require.NotNil(t, running)
	running.Status = model.StatusRunning
	running.WorkerID = "worker-1"
	require.NoError(t, s.UpdateRunStep(ctx, running))

	steps, err = s.GetRunnableSteps(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, run2.ID, steps[0].WorkflowRunID)
}

func TestGetRunnableStepsHonorsRetryBudget(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedRun(t, s, "sha256-doc1", model.StepValidate)

	steps, err := s.GetRunnableSteps(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, steps, 1)

	// Exhaust the retry budget: the step stops being offered.
	step := steps[0]
	step.Status = model.StatusError
	step.Retry = step.Retries
	require.NoError(t, s.UpdateRunStep(ctx, step))

	steps, err = s.GetRunnableSteps(ctx, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestGetRunnableStepsOrdersByPriority(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, runLow := seedRun(t, s, "sha256-low", model.StepParse)
	_, runHigh := seedRun(t, s, "sha256-high", model.StepParse)

	// Bump the second run's step priority.
	highSteps, err := s.ListRunSteps(ctx, runHigh.ID)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx,
		`UPDATE run_step SET priority = 50 WHERE id = ?`, highSteps[0].ID)
	require.NoError(t, err)

	steps, err := s.GetRunnableSteps(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, runHigh.ID, steps[0].WorkflowRunID)
	assert.Equal(t, runLow.ID, steps[1].WorkflowRunID)

	// Top limits the result.
	steps, err = s.GetRunnableSteps(ctx, 1, nil)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, runHigh.ID, steps[0].WorkflowRunID)
}

func TestGetRunnableStepsBatchFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, run1 := seedRun(t, s, "sha256-doc1", model.StepParse)
	_, run2 := seedRun(t, s, "sha256-doc2", model.StepParse)

	_, err := s.db.ExecContext(ctx, `UPDATE workflow_run SET batch_id = 7 WHERE id = ?`, run1.ID)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `UPDATE workflow_run SET batch_id = 8 WHERE id = ?`, run2.ID)
	require.NoError(t, err)

	batch := int64(7)
	steps, err := s.GetRunnableSteps(ctx, 10, &batch)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, run1.ID, steps[0].WorkflowRunID)
}

func TestGroupStepStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	group, run := seedRun(t, s, "sha256-doc1", model.StepValidate, model.StepParse)

	stats, err := s.GroupStepStats(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[model.StatusPending])
	assert.Equal(t, 0, stats[model.StatusRunning])
	assert.Equal(t, 0, stats[model.StatusCompleted])
	assert.Equal(t, 0, stats[model.StatusError])
	assert.Equal(t, 0, stats[model.StatusFailed])

	// One step RUNNING: the run counts under both PENDING and RUNNING, since
	// counts are per distinct run per status.
	steps, err := s.ListRunSteps(ctx, run.ID)
	require.NoError(t, err)
	steps[0].Status = model.StatusRunning
	require.NoError(t, s.UpdateRunStep(ctx, steps[0]))

	stats, err = s.GroupStepStats(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[model.StatusRunning])
	assert.Equal(t, 1, stats[model.StatusPending])
}

func TestResetFailedSteps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	group, run := seedRun(t, s, "sha256-doc1", model.StepValidate, model.StepParse)

	require.NoError(t, s.UpdateWorkflowRunStatus(ctx, run.ID, model.StatusFailed, "gave up", nil))
	steps, err := s.ListRunSteps(ctx, run.ID)
	require.NoError(t, err)
	steps[0].Status = model.StatusFailed
	steps[0].Retry = 3
	steps[0].WorkerID = "worker-1"
	require.NoError(t, s.UpdateRunStep(ctx, steps[0]))

	nSteps, nRuns, err := s.ResetFailedSteps(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), nSteps)
	assert.Equal(t, int64(1), nRuns)

	steps, err = s.ListRunSteps(ctx, run.ID)
	require.NoError(t, err)
	for _, step := range steps {
		assert.Equal(t, model.StatusPending, step.Status)
		assert.Zero(t, step.Retry)
		assert.Empty(t, step.WorkerID)
	}

	got, err := s.GetWorkflowRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status)
}

func TestWorkerCheckins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, s.UpsertWorkerCheckin(ctx, "worker-1", now.Add(-time.Hour)))
	require.NoError(t, s.UpsertWorkerCheckin(ctx, "worker-2", now))

	all, err := s.ListWorkerCheckins(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	stale, err := s.ListStaleWorkers(ctx, now.Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "worker-1", stale[0].ID)

	// Re-checkin refreshes last_checkin but keeps first_checkin.
	require.NoError(t, s.UpsertWorkerCheckin(ctx, "worker-1", now))
	stale, err = s.ListStaleWorkers(ctx, now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, stale)

	all, err = s.ListWorkerCheckins(ctx)
	require.NoError(t, err)
	assert.True(t, all[0].FirstCheckin.Before(all[0].LastCheckin))

	require.NoError(t, s.DeleteWorkerCheckin(ctx, "worker-1"))
	all, err = s.ListWorkerCheckins(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestReleaseWorkerSteps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, run := seedRun(t, s, "sha256-doc1", model.StepValidate, model.StepParse, model.StepChunk)

	steps, err := s.ListRunSteps(ctx, run.ID)
	require.NoError(t, err)

	// Step 1 completed by the dead worker, step 2 running, step 3 pending.
	steps[0].Status = model.StatusCompleted
	steps[0].WorkerID = "dead-worker"
	require.NoError(t, s.UpdateRunStep(ctx, steps[0]))
	steps[1].Status = model.StatusRunning
	steps[1].WorkerID = "dead-worker"
	require.NoError(t, s.UpdateRunStep(ctx, steps[1]))
	steps[2].Status = model.StatusError
	steps[2].WorkerID = "dead-worker"
	require.NoError(t, s.UpdateRunStep(ctx, steps[2]))

	n, err := s.ReleaseWorkerSteps(ctx, "dead-worker")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	steps, err = s.ListRunSteps(ctx, run.ID)
	require.NoError(t, err)
	// Completed steps keep their worker attribution.
	assert.Equal(t, model.StatusCompleted, steps[0].Status)
	assert.Equal(t, "dead-worker", steps[0].WorkerID)
	// Running steps return to the pool.
	assert.Equal(t, model.StatusPending, steps[1].Status)
	assert.Empty(t, steps[1].WorkerID)
	// Errored steps keep their status but lose ownership.
	assert.Equal(t, model.StatusError, steps[2].Status)
	assert.Empty(t, steps[2].WorkerID)
}

func TestListStepsByWorker(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, run := seedRun(t, s, "sha256-doc1", model.StepValidate, model.StepParse)
	steps, err := s.ListRunSteps(ctx, run.ID)
	require.NoError(t, err)

	steps[0].Status = model.StatusRunning
	steps[0].WorkerID = "worker-1"
	require.NoError(t, s.UpdateRunStep(ctx, steps[0]))

	held, err := s.ListStepsByWorker(ctx, "worker-1")
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, steps[0].ID, held[0].ID)
}

func TestLifecycleHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	group, run := seedRun(t, s, "sha256-doc1", model.StepParse)

	h := &model.LifecycleHistory{
		Event:         model.EventStepStart,
		RunGroupID:    group.ID,
		WorkflowRunID: run.ID,
	}
	require.NoError(t, s.CreateLifecycleHistory(ctx, h))
	assert.NotZero(t, h.ID)
	assert.Equal(t, model.StatusRunning, h.Status)

	require.NoError(t, s.CloseLifecycleHistory(ctx, h.ID, model.StatusCompleted, "", map[string]any{"handled": true}))

	got, err := s.GetLifecycleHistory(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedDate)
	assert.Equal(t, true, got.StatusMeta["handled"])

	byRun, err := s.ListLifecycleHistoryByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, byRun, 1)

	byGroup, err := s.ListLifecycleHistoryByGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Len(t, byGroup, 1)
}

func TestStatsQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	group, run := seedRun(t, s, "sha256-doc1", model.StepParse)

	batch := &model.DocumentBatch{Name: "b1", Source: "local"}
	require.NoError(t, s.CreateBatch(ctx, batch))
	_, err := s.db.ExecContext(ctx, `UPDATE workflow_run SET batch_id = ? WHERE id = ?`, batch.ID, run.ID)
	require.NoError(t, err)

	require.NoError(t, s.CreateDocument(ctx, &model.Document{
		Hash: "sha256-doc1", DocMeta: map[string]any{"page_count": float64(4)},
	}))

	steps, err := s.ListRunSteps(ctx, run.ID)
	require.NoError(t, err)
	start := time.Now().UTC().Add(-time.Minute)
	end := start.Add(30 * time.Second)
	steps[0].Status = model.StatusCompleted
	steps[0].StartDate = &start
	steps[0].CompletedDate = &end
	require.NoError(t, s.UpdateRunStep(ctx, steps[0]))

	durations, err := s.GetRunGroupDurations(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, durations, 1)
	assert.Equal(t, model.StepParse, durations[0].StepType)
	assert.Equal(t, int64(1), durations[0].Count)
	assert.InDelta(t, 30, durations[0].TotalDuration, 1.5)
	assert.Equal(t, int64(4), durations[0].Pages)

	stats, err := s.GetStepStats(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "b1", stats[0].BatchName)
	assert.Equal(t, "default", stats[0].ParamDefinitionID)
	assert.Equal(t, model.StatusCompleted, stats[0].Status)
	assert.Equal(t, int64(1), stats[0].Count)
	assert.Equal(t, int64(4), stats[0].Pages)
}
