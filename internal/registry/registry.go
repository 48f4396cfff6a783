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

// Package registry loads workflow and parameter-set definitions from their
// YAML directories and serves them by id.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/docflow/ingest/internal/model"
)

// ParamSourceApp marks built-in parameter sets; ParamSourceUser marks
// uploaded ones. Only user parameter sets may be deleted.
const (
	ParamSourceApp  = "app"
	ParamSourceUser = "user"
)

// Handler binds a named step or lifecycle procedure with its retry cap and
// default parameters. Method is resolved against the engine's handler table.
type Handler struct {
	Name       string         `yaml:"name" json:"name"`
	Retries    int            `yaml:"retries" json:"retries"`
	Method     string         `yaml:"method" json:"method"`
	Parameters map[string]any `yaml:"parameters" json:"parameters,omitempty"`
}

// ItemStep is one entry of a workflow's ordered item_steps mapping.
type ItemStep struct {
	StepType model.StepType `json:"step_type"`
	Handler  Handler        `json:"handler"`
}

// Workflow is one workflow definition.
type Workflow struct {
	ID              string                             `yaml:"id" json:"id"`
	Name            string                             `yaml:"name" json:"name"`
	Meta            map[string]string                  `yaml:"meta" json:"meta,omitempty"`
	ItemSteps       ItemStepList                       `yaml:"item_steps" json:"item_steps"`
	LifecycleEvents map[model.LifecycleEvent][]Handler `yaml:"lifecycle_events" json:"lifecycle_events,omitempty"`
}

// ItemStepList preserves the declaration order of item_steps, which YAML
// mappings would otherwise lose.
type ItemStepList []ItemStep

// UnmarshalYAML decodes a step_type -> handler mapping keeping its order.
func (l *ItemStepList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("item_steps must be a mapping")
	}

	steps := make(ItemStepList, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		stepType := model.StepType(node.Content[i].Value)
		if !stepType.Valid() {
			return fmt.Errorf("unknown step type %q in item_steps", node.Content[i].Value)
		}
		var h Handler
		if err := node.Content[i+1].Decode(&h); err != nil {
			return fmt.Errorf("failed to decode handler for step %s: %w", stepType, err)
		}
		steps = append(steps, ItemStep{StepType: stepType, Handler: h})
	}
	*l = steps
	return nil
}

// MarshalYAML re-encodes the list as an ordered mapping.
func (l ItemStepList) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, step := range l {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: string(step.StepType)}
		valNode := &yaml.Node{}
		if err := valNode.Encode(step.Handler); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, keyNode, valNode)
	}
	return node, nil
}

// ParamSet is one parameter-set definition. Missing step types default to an
// empty config.
type ParamSet struct {
	ID     string                            `yaml:"id" json:"id"`
	Name   string                            `yaml:"name" json:"name,omitempty"`
	Meta   map[string]string                 `yaml:"meta" json:"meta,omitempty"`
	Source string                            `yaml:"source" json:"source"`
	Config map[model.StepType]map[string]any `yaml:"config" json:"config"`
}

// StepConfig returns the config for one step type, empty when absent.
func (p *ParamSet) StepConfig(stepType model.StepType) map[string]any {
	if cfg, ok := p.Config[stepType]; ok {
		return cfg
	}
	return map[string]any{}
}

// Registry serves workflow and parameter-set definitions loaded from their
// directories. A lookup miss triggers one forced reload before failing.
type Registry struct {
	workflowDir string
	paramDir    string

	defaultWorkflowID string
	defaultParamID    string

	logger *slog.Logger

	mu        sync.RWMutex
	workflows map[string]*Workflow
	params    map[string]*ParamSet
}

// New builds a Registry and performs the initial load.
func New(workflowDir, paramDir, defaultWorkflowID, defaultParamID string, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		workflowDir:       workflowDir,
		paramDir:          paramDir,
		defaultWorkflowID: defaultWorkflowID,
		defaultParamID:    defaultParamID,
		logger:            logger,
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads both definition directories, replacing the cached maps.
func (r *Registry) Reload() error {
	workflows, err := loadWorkflowDir(r.workflowDir)
	if err != nil {
		return err
	}
	params, err := loadParamDir(r.paramDir)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.workflows = workflows
	r.params = params
	r.mu.Unlock()

	r.logger.Debug("registry loaded",
		slog.Int("workflows", len(workflows)),
		slog.Int("param_sets", len(params)))
	return nil
}

func loadWorkflowDir(dir string) (map[string]*Workflow, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan workflow dir: %w", err)
	}

	workflows := make(map[string]*Workflow)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read workflow %s: %w", p, err)
		}
		var wf Workflow
		if err := yaml.Unmarshal(data, &wf); err != nil {
			return nil, fmt.Errorf("failed to parse workflow %s: %w", p, err)
		}
		if wf.ID == "" {
			return nil, fmt.Errorf("workflow %s has no id", p)
		}
		if _, dup := workflows[wf.ID]; dup {
			return nil, fmt.Errorf("duplicate workflow id %q", wf.ID)
		}
		workflows[wf.ID] = &wf
	}
	return workflows, nil
}

func loadParamDir(dir string) (map[string]*ParamSet, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan param dir: %w", err)
	}

	params := make(map[string]*ParamSet)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read param set %s: %w", p, err)
		}
		var ps ParamSet
		if err := yaml.Unmarshal(data, &ps); err != nil {
			return nil, fmt.Errorf("failed to parse param set %s: %w", p, err)
		}
		if ps.ID == "" {
			return nil, fmt.Errorf("param set %s has no id", p)
		}
		if ps.Source == "" {
			ps.Source = ParamSourceApp
		}
		if _, dup := params[ps.ID]; dup {
			return nil, fmt.Errorf("duplicate param set id %q", ps.ID)
		}
		params[ps.ID] = &ps
	}
	return params, nil
}

// Workflow returns a workflow definition by id; an empty id resolves to the
// configured default. A miss forces one reload before returning NotFound.
func (r *Registry) Workflow(id string) (*Workflow, error) {
	if id == "" {
		id = r.defaultWorkflowID
	}

	r.mu.RLock()
	wf, ok := r.workflows[id]
	r.mu.RUnlock()
	if ok {
		return wf, nil
	}

	if err := r.Reload(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	wf, ok = r.workflows[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workflow %q: %w", id, model.ErrNotFound)
	}
	return wf, nil
}

// ParamSet returns a parameter set by id; an empty id resolves to the
// configured default. A miss forces one reload before returning NotFound.
func (r *Registry) ParamSet(id string) (*ParamSet, error) {
	if id == "" {
		id = r.defaultParamID
	}

	r.mu.RLock()
	ps, ok := r.params[id]
	r.mu.RUnlock()
	if ok {
		return ps, nil
	}

	if err := r.Reload(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	ps, ok = r.params[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("param set %q: %w", id, model.ErrNotFound)
	}
	return ps, nil
}

// ListWorkflows returns every loaded workflow definition.
func (r *Registry) ListWorkflows() []*Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Workflow, 0, len(r.workflows))
	for _, wf := range r.workflows {
		out = append(out, wf)
	}
	return out
}

// ListParamSets returns every loaded parameter set.
func (r *Registry) ListParamSets() []*ParamSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ParamSet, 0, len(r.params))
	for _, ps := range r.params {
		out = append(out, ps)
	}
	return out
}

// SaveParamSet persists an uploaded parameter set. The source is forced to
// "user" and the id must not collide with an existing set unless overwrite
// is requested.
func (r *Registry) SaveParamSet(ps *ParamSet, overwrite bool) (string, error) {
	ps.Source = ParamSourceUser

	path := filepath.Join(r.paramDir, "user_"+ps.ID+".yaml")
	if !overwrite {
		if _, err := r.ParamSet(ps.ID); err == nil {
			return "", fmt.Errorf("param set %q: %w", ps.ID, model.ErrDuplicate)
		}
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("param set %q: %w", ps.ID, model.ErrDuplicate)
		}
	}

	data, err := yaml.Marshal(ps)
	if err != nil {
		return "", fmt.Errorf("failed to marshal param set: %w", err)
	}
	if err := os.MkdirAll(r.paramDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create param dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write param set: %w", err)
	}

	if err := r.Reload(); err != nil {
		return "", err
	}
	return path, nil
}

// DeleteParamSet removes an uploaded parameter set. Built-in sets (source
// "app") are forbidden.
func (r *Registry) DeleteParamSet(id string) error {
	ps, err := r.ParamSet(id)
	if err != nil {
		return err
	}
	if ps.Source != ParamSourceUser {
		return fmt.Errorf("param set %q is built-in: %w", id, model.ErrForbidden)
	}

	path := filepath.Join(r.paramDir, "user_"+id+".yaml")
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("param set %q: %w", id, model.ErrNotFound)
		}
		return fmt.Errorf("failed to delete param set: %w", err)
	}
	return r.Reload()
}
