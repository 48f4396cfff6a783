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
	"time"

	"github.com/docflow/ingest/internal/model"
	"github.com/docflow/ingest/internal/store"
)

// TransitionOptions parameterise one step status transition.
type TransitionOptions struct {
	WorkerID      string
	Message       string
	Meta          map[string]any
	IncreaseRetry bool
}

// allowedTransitions is the complete set of legal step transitions.
var allowedTransitions = map[model.RunStatus]map[model.RunStatus]bool{
	model.StatusPending: {model.StatusRunning: true},
	model.StatusRunning: {model.StatusCompleted: true, model.StatusError: true},
	model.StatusError:   {model.StatusRunning: true},
}

// SetStepStatus transitions a step through the state machine and rolls the
// owning run's status up, atomically.
//
// Rules: a same-status transition is a no-op. Leaving RUNNING requires the
// caller to be the recorded owner. Only PENDING→RUNNING, RUNNING→COMPLETED,
// RUNNING→ERROR and ERROR→RUNNING are legal. A transition to ERROR with the
// retry budget exhausted is coerced to FAILED. The transition into RUNNING
// is the only one that increments retry (IncreaseRetry).
func (e *Engine) SetStepStatus(ctx context.Context, stepID int64, status model.RunStatus, opts TransitionOptions) (*model.RunStep, error) {
	var updated *model.RunStep

	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		step, err := tx.GetRunStep(ctx, stepID)
		if err != nil {
			return err
		}

		// Ownership first: a worker losing the lease race must see the
		// exclusivity error, not a silent no-op.
		if step.Status == model.StatusRunning && step.WorkerID != "" && step.WorkerID != opts.WorkerID {
			return fmt.Errorf("step %d held by worker %s: %w", step.ID, step.WorkerID, model.ErrStepOwned)
		}

		if step.Status == status {
			updated = step
			return nil
		}

		if !allowedTransitions[step.Status][status] {
			return fmt.Errorf("step %d: %s -> %s: %w", step.ID, step.Status, status, model.ErrInvalidState)
		}

		if status == model.StatusError && step.Retry >= step.Retries {
			status = model.StatusFailed
		}

		now := time.Now().UTC()
		step.Status = status
		step.StatusDate = &now
		step.StatusMessage = opts.Message
		step.StatusMeta = opts.Meta
		step.WorkerID = opts.WorkerID
		if opts.IncreaseRetry {
			step.Retry++
		}
		if status == model.StatusRunning && step.StartDate == nil {
			step.StartDate = &now
		}
		if status.Terminal() {
			step.CompletedDate = &now
		}

		if err := tx.UpdateRunStep(ctx, step); err != nil {
			return err
		}
		if err := rollupRunStatus(ctx, tx, step); err != nil {
			return err
		}

		updated = step
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// rollupRunStatus advances the owning run after a step status change, in
// the same transaction.
func rollupRunStatus(ctx context.Context, tx *store.Tx, step *model.RunStep) error {
	switch {
	case step.Status == model.StatusCompleted && step.IsLastStep:
		return tx.UpdateWorkflowRunStatus(ctx, step.WorkflowRunID, model.StatusCompleted, "", nil)
	case step.Status == model.StatusFailed:
		return tx.UpdateWorkflowRunStatus(ctx, step.WorkflowRunID, model.StatusFailed, step.StatusMessage, nil)
	case step.Status == model.StatusCompleted || step.Status == model.StatusRunning || step.Status == model.StatusError:
		return tx.UpdateWorkflowRunStatus(ctx, step.WorkflowRunID, model.StatusRunning, "", nil)
	}
	return nil
}

// GetRunnableSteps exposes the scheduler query.
func (e *Engine) GetRunnableSteps(ctx context.Context, top int, batchID *int64) ([]*model.RunStep, error) {
	return e.store.GetRunnableSteps(ctx, top, batchID)
}
