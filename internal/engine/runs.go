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
	"github.com/docflow/ingest/internal/store"
)

// CreateRunGroupOptions parameterise a new run group. Empty workflow and
// parameter-set ids resolve to the configured defaults.
type CreateRunGroupOptions struct {
	WorkflowID string
	ParamID    string
	BatchID    *int64
	Name       string
}

// CreateRunGroup creates one activation of (batch x workflow x parameter
// set) in PENDING status.
func (e *Engine) CreateRunGroup(ctx context.Context, opts CreateRunGroupOptions) (*model.RunGroup, error) {
	wf, err := e.registry.Workflow(opts.WorkflowID)
	if err != nil {
		return nil, err
	}
	ps, err := e.registry.ParamSet(opts.ParamID)
	if err != nil {
		return nil, err
	}
	if opts.BatchID != nil {
		if _, err := e.store.GetBatch(ctx, *opts.BatchID); err != nil {
			return nil, fmt.Errorf("batch %d: %w", *opts.BatchID, err)
		}
	}

	group := &model.RunGroup{
		Name:                 opts.Name,
		WorkflowDefinitionID: wf.ID,
		ParamDefinitionID:    ps.ID,
		BatchID:              opts.BatchID,
	}
	if err := e.store.CreateRunGroup(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

// CreateWorkflowRun materialises one run plus its ordered steps for one
// document under a run group.
func (e *Engine) CreateWorkflowRun(ctx context.Context, group *model.RunGroup, docID string, priority int) (*model.WorkflowRun, error) {
	wf, err := e.registry.Workflow(group.WorkflowDefinitionID)
	if err != nil {
		return nil, err
	}
	ps, err := e.registry.ParamSet(group.ParamDefinitionID)
	if err != nil {
		return nil, err
	}
	stepConfigs, err := e.StepConfigIDs(ctx, wf, ps)
	if err != nil {
		return nil, err
	}

	var batchID int64
	source := ""
	if group.BatchID != nil {
		batch, err := e.store.GetBatch(ctx, *group.BatchID)
		if err != nil {
			return nil, err
		}
		batchID = batch.ID
		source = batch.Source
	}

	run := &model.WorkflowRun{
		WorkflowDefinitionID: wf.ID,
		RunGroupID:           group.ID,
		BatchID:              batchID,
		DocID:                docID,
		Priority:             priority,
		RunParams: map[string]any{
			"workflow_id": wf.ID,
			"param_id":    ps.ID,
			"source":      source,
		},
	}

	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.CreateWorkflowRun(ctx, run); err != nil {
			return err
		}
		for i, step := range wf.ItemSteps {
			rs := &model.RunStep{
				WorkflowRunID:      run.ID,
				WorkflowStepNumber: i + 1,
				WorkflowStepName:   step.Handler.Name,
				StepConfigID:       stepConfigs[step.StepType].ID,
				StepType:           step.StepType,
				IsLastStep:         i == len(wf.ItemSteps)-1,
				Priority:           priority,
				Retries:            step.Handler.Retries,
			}
			if err := tx.CreateRunStep(ctx, rs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CreateWorkflowRunsForBatch creates a run group for a batch plus one
// workflow run per document already registered under it.
func (e *Engine) CreateWorkflowRunsForBatch(ctx context.Context, opts CreateRunGroupOptions, priority int) (*model.RunGroup, []*model.WorkflowRun, error) {
	if opts.BatchID == nil {
		return nil, nil, fmt.Errorf("%w: batch id is required", model.ErrInvalidInput)
	}

	group, err := e.CreateRunGroup(ctx, opts)
	if err != nil {
		return nil, nil, err
	}

	docs, err := e.store.ListDocumentsInBatch(ctx, *opts.BatchID)
	if err != nil {
		return nil, nil, err
	}

	runs := make([]*model.WorkflowRun, 0, len(docs))
	for _, doc := range docs {
		run, err := e.CreateWorkflowRun(ctx, group, doc.Hash, priority)
		if err != nil {
			return nil, nil, err
		}
		runs = append(runs, run)
	}

	e.logger.Info("created workflow runs for batch",
		log.Int64(log.BatchIDKey, *opts.BatchID),
		log.Int64("run_group_id", group.ID),
		log.Int("runs", len(runs)))
	return group, runs, nil
}

// RetryRunGroup resets the group's FAILED runs back to runnable state and
// moves the group out of any terminal status.
func (e *Engine) RetryRunGroup(ctx context.Context, groupID int64) (steps, runs int64, err error) {
	if _, err := e.store.GetRunGroup(ctx, groupID); err != nil {
		return 0, 0, err
	}

	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		steps, runs, err = tx.ResetFailedSteps(ctx, groupID)
		if err != nil {
			return err
		}
		if runs > 0 {
			return tx.UpdateRunGroupStatus(ctx, groupID, model.StatusRunning, "retrying failed runs", nil)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return steps, runs, nil
}

// DeleteRunGroup cascade-deletes a run group with its runs, steps and
// lifecycle history in one transaction.
func (e *Engine) DeleteRunGroup(ctx context.Context, groupID int64) (*store.RunGroupDeleteCounts, error) {
	var counts *store.RunGroupDeleteCounts
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		counts, err = tx.DeleteRunGroup(ctx, groupID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// DeleteParamSet removes an uploaded parameter set, refusing while any run
// group still references it.
func (e *Engine) DeleteParamSet(ctx context.Context, id string) error {
	groups, err := e.store.ListRunGroups(ctx, nil)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if g.ParamDefinitionID == id {
			return fmt.Errorf("param set %q referenced by run group %d: %w",
				id, g.ID, model.ErrForbidden)
		}
	}
	return e.registry.DeleteParamSet(id)
}

// BatchStatus aggregates one batch's progress.
type BatchStatus struct {
	Batch         *model.DocumentBatch     `json:"batch"`
	DocumentCount int                      `json:"document_count"`
	RunsByStatus  map[model.RunStatus]int  `json:"runs_by_status"`
	TotalRuns     int                      `json:"total_runs"`
	Remaining     int                      `json:"remaining"`
}

// GetBatchStatus summarises a batch: registered documents plus workflow
// run counts per status.
func (e *Engine) GetBatchStatus(ctx context.Context, batchID int64) (*BatchStatus, error) {
	batch, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	uris, err := e.store.ListDocumentURIsByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	runs, _, err := e.store.ListWorkflowRuns(ctx, store.ListRunsOptions{BatchID: &batchID})
	if err != nil {
		return nil, err
	}

	status := &BatchStatus{
		Batch:         batch,
		DocumentCount: len(uris),
		RunsByStatus:  map[model.RunStatus]int{},
		TotalRuns:     len(runs),
	}
	for _, run := range runs {
		status.RunsByStatus[run.Status]++
		if !run.Status.Terminal() {
			status.Remaining++
		}
	}
	return status, nil
}
