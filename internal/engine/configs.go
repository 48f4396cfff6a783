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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/docflow/ingest/internal/model"
	"github.com/docflow/ingest/internal/registry"
	"github.com/docflow/ingest/internal/store"
)

// canonicalParamSet serialises a workflow's view of a parameter set to its
// canonical dedup key. encoding/json sorts map keys, so the form is
// deterministic for any two parameter sets with equal content. The workflow
// id is part of the key because the set's member rows follow the workflow's
// step list.
func canonicalParamSet(wf *registry.Workflow, ps *registry.ParamSet) (string, error) {
	payload := struct {
		WorkflowID string                            `json:"workflow_id"`
		ID         string                            `json:"id"`
		Config     map[model.StepType]map[string]any `json:"config"`
	}{WorkflowID: wf.ID, ID: ps.ID, Config: ps.Config}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalise param set: %w", err)
	}
	return string(data), nil
}

// canonicalCumulative serialises the cumulative config mapping of all step
// types up to and including the current one, in canonical form.
func canonicalCumulative(cumulative map[model.StepType]map[string]any) (string, error) {
	data, err := json.Marshal(cumulative)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalise cumulative config: %w", err)
	}
	return string(data), nil
}

// StepConfigIDs resolves a parameter set to one persistent StepConfig per
// step of the workflow, sharing rows with any parameter set whose config
// prefix is identical. The result is deterministic for a given parameter
// set serialisation.
func (e *Engine) StepConfigIDs(ctx context.Context, wf *registry.Workflow, ps *registry.ParamSet) (map[model.StepType]*model.StepConfig, error) {
	text, err := canonicalParamSet(wf, ps)
	if err != nil {
		return nil, err
	}

	if cs, err := e.store.FindConfigSetByContents(ctx, text); err == nil {
		configs, err := e.store.ListConfigSetConfigs(ctx, cs.ID)
		if err != nil {
			return nil, err
		}
		out := make(map[model.StepType]*model.StepConfig, len(configs))
		for _, sc := range configs {
			out[sc.StepType] = sc
		}
		return out, nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	out := make(map[model.StepType]*model.StepConfig, len(wf.ItemSteps))
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		cs := &model.ConfigSet{YAMLID: ps.ID, YAMLContents: text}
		if err := tx.CreateConfigSet(ctx, cs); err != nil {
			return err
		}

		// Walk the workflow's steps in declaration order, growing the
		// cumulative config. Two parameter sets that agree up to step k
		// resolve to the same rows for those k steps.
		cumulative := make(map[model.StepType]map[string]any, len(wf.ItemSteps))
		for _, step := range wf.ItemSteps {
			cumulative[step.StepType] = ps.StepConfig(step.StepType)
			cumlJSON, err := canonicalCumulative(cumulative)
			if err != nil {
				return err
			}

			sc, err := tx.FindStepConfig(ctx, step.StepType, cumlJSON)
			if errors.Is(err, model.ErrNotFound) {
				sc = &model.StepConfig{
					StepType:       step.StepType,
					ConfigJSON:     ps.StepConfig(step.StepType),
					CumlConfigJSON: cumlJSON,
				}
				if err := tx.CreateStepConfig(ctx, sc); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}

			if err := tx.AddConfigSetItem(ctx, cs.ID, sc.ID); err != nil {
				return err
			}
			out[step.StepType] = sc
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
