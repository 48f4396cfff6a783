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

package engine

import (
	"context"
	"fmt"

	"github.com/docflow/ingest/internal/log"
	"github.com/docflow/ingest/internal/model"
	"github.com/docflow/ingest/internal/registry"
	"github.com/docflow/ingest/internal/store"
)

// Lease transitions a PENDING or ERROR step to RUNNING under the worker's
// id, charging one retry, and fires step_start plus the derived item_start
// and group_start events.
func (e *Engine) Lease(ctx context.Context, stepID int64, workerID string) (*model.RunStep, error) {
	step, err := e.SetStepStatus(ctx, stepID, model.StatusRunning, TransitionOptions{
		WorkerID:      workerID,
		IncreaseRetry: true,
	})
	if err != nil {
		return nil, err
	}

	run, group, wf, err := e.stepAncestry(ctx, step)
	if err != nil {
		return nil, err
	}

	e.fireEvent(ctx, model.EventStepStart, wf, group, run, step)
	if step.WorkflowStepNumber == 1 {
		e.fireEvent(ctx, model.EventItemStart, wf, group, run, step)
	}

	stats, err := e.store.GroupStepStats(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	// group_start fires when this lease made the group's very first run
	// active: exactly one RUNNING, nothing finished or errored yet.
	if stats[model.StatusRunning] == 1 && stats[model.StatusCompleted] == 0 &&
		stats[model.StatusFailed] == 0 && stats[model.StatusError] == 0 {
		if err := e.store.UpdateRunGroupStatus(ctx, group.ID, model.StatusRunning, "", nil); err != nil {
			return nil, err
		}
		group.Status = model.StatusRunning
		e.fireEvent(ctx, model.EventGroupStart, wf, group, run, step)
	}

	return step, nil
}

// CompleteStep transitions a RUNNING step to COMPLETED and fires step_end
// plus the derived item_end and group_end events.
func (e *Engine) CompleteStep(ctx context.Context, stepID int64, workerID string, meta map[string]any) (*model.RunStep, error) {
	step, err := e.SetStepStatus(ctx, stepID, model.StatusCompleted, TransitionOptions{
		WorkerID: workerID,
		Meta:     meta,
	})
	if err != nil {
		return nil, err
	}

	run, group, wf, err := e.stepAncestry(ctx, step)
	if err != nil {
		return nil, err
	}

	e.fireEvent(ctx, model.EventStepEnd, wf, group, run, step)
	if step.IsLastStep {
		e.fireEvent(ctx, model.EventItemEnd, wf, group, run, step)
	}
	if err := e.maybeEndGroup(ctx, wf, group, run, step); err != nil {
		return nil, err
	}
	return step, nil
}

// FailStep transitions a RUNNING step to ERROR, which the state machine
// coerces to FAILED once the retry budget is spent. step_failed always
// fires; item_failed fires only on the terminal failure.
func (e *Engine) FailStep(ctx context.Context, stepID int64, workerID, message string, meta map[string]any) (*model.RunStep, error) {
	step, err := e.SetStepStatus(ctx, stepID, model.StatusError, TransitionOptions{
		WorkerID: workerID,
		Message:  message,
		Meta:     meta,
	})
	if err != nil {
		return nil, err
	}

	run, group, wf, err := e.stepAncestry(ctx, step)
	if err != nil {
		return nil, err
	}

	e.fireEvent(ctx, model.EventStepFailed, wf, group, run, step)
	if step.Status == model.StatusFailed {
		e.fireEvent(ctx, model.EventItemFailed, wf, group, run, step)
		if err := e.maybeEndGroup(ctx, wf, group, run, step); err != nil {
			return nil, err
		}
	}
	return step, nil
}

// maybeEndGroup closes the group once every run is terminal. A failed
// run's unreached later steps stay PENDING forever, so the check reads
// run statuses rather than step statuses: those steps must not hold the
// group open.
func (e *Engine) maybeEndGroup(ctx context.Context, wf *registry.Workflow, group *model.RunGroup, run *model.WorkflowRun, step *model.RunStep) error {
	runs, _, err := e.store.ListWorkflowRuns(ctx, store.ListRunsOptions{RunGroupID: &group.ID})
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range runs {
		if !r.Status.Terminal() {
			return nil
		}
		if r.Status == model.StatusFailed {
			failed++
		}
	}

	status := model.StatusCompleted
	message := ""
	if failed > 0 {
		status = model.StatusFailed
		message = fmt.Sprintf("%d of %d runs failed", failed, len(runs))
	}
	if err := e.store.UpdateRunGroupStatus(ctx, group.ID, status, message, nil); err != nil {
		return err
	}
	group.Status = status
	e.fireEvent(ctx, model.EventGroupEnd, wf, group, run, step)
	return nil
}

// stepAncestry loads the run, group and workflow a step belongs to.
func (e *Engine) stepAncestry(ctx context.Context, step *model.RunStep) (*model.WorkflowRun, *model.RunGroup, *registry.Workflow, error) {
	run, err := e.store.GetWorkflowRun(ctx, step.WorkflowRunID)
	if err != nil {
		return nil, nil, nil, err
	}
	group, err := e.store.GetRunGroup(ctx, run.RunGroupID)
	if err != nil {
		return nil, nil, nil, err
	}
	wf, err := e.registry.Workflow(group.WorkflowDefinitionID)
	if err != nil {
		return nil, nil, nil, err
	}
	return run, group, wf, nil
}

// fireEvent dispatches one lifecycle event to the workflow's handlers for
// it. Each handler gets its own history row and its outcome is recorded
// independently; handler failures never poison the triggering step.
func (e *Engine) fireEvent(ctx context.Context, event model.LifecycleEvent, wf *registry.Workflow, group *model.RunGroup, run *model.WorkflowRun, step *model.RunStep) {
	handlers := wf.LifecycleEvents[event]
	if len(handlers) == 0 {
		return
	}

	var stepID *int64
	if step != nil {
		stepID = &step.ID
	}

	for _, handler := range handlers {
		hist := &model.LifecycleHistory{
			Event:         event,
			RunGroupID:    group.ID,
			WorkflowRunID: run.ID,
			StepID:        stepID,
			Status:        model.StatusRunning,
		}
		if err := e.store.CreateLifecycleHistory(ctx, hist); err != nil {
			e.logger.Error("failed to record lifecycle event",
				log.String(log.EventKey, string(event)), log.Error(err))
			continue
		}

		fn, ok := e.lifecycleHandlers[handler.Method]
		if !ok {
			e.closeLifecycle(ctx, hist.ID, model.StatusFailed,
				fmt.Sprintf("unknown lifecycle method %q", handler.Method))
			continue
		}

		lc := &LifecycleContext{
			Event:  event,
			Group:  group,
			Run:    run,
			Step:   step,
			Params: handler.Parameters,
		}
		if err := fn(ctx, lc); err != nil {
			e.logger.Warn("lifecycle handler failed",
				log.String(log.EventKey, string(event)),
				log.String("method", handler.Method),
				log.Int64(log.RunIDKey, run.ID),
				log.Error(err))
			e.closeLifecycle(ctx, hist.ID, model.StatusFailed, err.Error())
			continue
		}
		e.closeLifecycle(ctx, hist.ID, model.StatusCompleted, "")
	}
}

func (e *Engine) closeLifecycle(ctx context.Context, id int64, status model.RunStatus, message string) {
	if err := e.store.CloseLifecycleHistory(ctx, id, status, message, nil); err != nil {
		e.logger.Error("failed to close lifecycle event", log.Int64("lifecycle_id", id), log.Error(err))
	}
}
