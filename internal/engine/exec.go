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
)

// ExecuteStep runs a leased step's handler and records the outcome. The
// step must already be RUNNING under workerID. Handler failure is not an
// error here: the returned step carries the resulting status.
func (e *Engine) ExecuteStep(ctx context.Context, stepID int64, workerID string) (*model.RunStep, error) {
	step, err := e.store.GetRunStep(ctx, stepID)
	if err != nil {
		return nil, err
	}
	if step.Status != model.StatusRunning || step.WorkerID != workerID {
		return nil, fmt.Errorf("step %d not leased by worker %s: %w", stepID, workerID, model.ErrInvalidState)
	}

	sc, err := e.buildStepContext(ctx, step, workerID)
	if err != nil {
		return nil, err
	}

	method := string(step.StepType)
	for i, item := range sc.Workflow.ItemSteps {
		if i == step.WorkflowStepNumber-1 {
			method = item.Handler.Method
			break
		}
	}

	logger := log.WithWorker(log.WithStepContext(e.logger, step.WorkflowRunID, string(step.StepType)), workerID)

	handler, ok := e.handlers[method]
	if !ok {
		logger.Error("no handler registered for step method", log.String("method", method))
		return e.FailStep(ctx, step.ID, workerID, fmt.Sprintf("unknown handler method %q", method), nil)
	}

	if err := handler(ctx, sc); err != nil {
		logger.Warn("step handler failed", log.String("method", method), log.Error(err))
		return e.FailStep(ctx, step.ID, workerID, err.Error(), nil)
	}
	return e.CompleteStep(ctx, step.ID, workerID, nil)
}

// buildStepContext assembles the parameter namespace for one step: its run,
// group, batch and workflow, the run's step configs, and the merged handler
// parameters.
func (e *Engine) buildStepContext(ctx context.Context, step *model.RunStep, workerID string) (*StepContext, error) {
	run, group, wf, err := e.stepAncestry(ctx, step)
	if err != nil {
		return nil, err
	}

	// Resolve the configs actually bound to this run's steps rather than
	// re-deriving them from the parameter set.
	steps, err := e.store.ListRunSteps(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	stepConfigs := make(map[model.StepType]*model.StepConfig, len(steps))
	for _, rs := range steps {
		cfg, err := e.store.GetStepConfig(ctx, rs.StepConfigID)
		if err != nil {
			return nil, err
		}
		stepConfigs[rs.StepType] = cfg
	}

	var batch *model.DocumentBatch
	source := ""
	if run.BatchID != 0 {
		batch, err = e.store.GetBatch(ctx, run.BatchID)
		if err != nil {
			return nil, err
		}
		source = batch.Source
	} else if s, ok := run.RunParams["source"].(string); ok {
		source = s
	}

	params := map[string]any{}
	if idx := step.WorkflowStepNumber - 1; idx >= 0 && idx < len(wf.ItemSteps) {
		defaults := wf.ItemSteps[idx].Handler.Parameters
		var cfg map[string]any
		if sc := stepConfigs[step.StepType]; sc != nil {
			cfg = sc.ConfigJSON
		}
		params = mergeParams(defaults, cfg)
	}

	return &StepContext{
		Step:        step,
		Run:         run,
		Group:       group,
		Workflow:    wf,
		Batch:       batch,
		StepConfigs: stepConfigs,
		DocHash:     run.DocID,
		Source:      source,
		BatchID:     run.BatchID,
		Params:      params,
		WorkerID:    workerID,
		engine:      e,
	}, nil
}
