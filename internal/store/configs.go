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

// CreateStepConfig inserts a step config row.
func (s *queries) CreateStepConfig(ctx context.Context, sc *model.StepConfig) error {
	if sc.CreatedDate.IsZero() {
		sc.CreatedDate = time.Now().UTC()
	}
	cfg, err := metaJSON(sc.ConfigJSON)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO step_config (created_date, step_type, config_json, cuml_config_json)
		VALUES (?, ?, ?, ?)`,
		sc.CreatedDate.Format(time.RFC3339), string(sc.StepType), cfg, nullString(sc.CumlConfigJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to create step config: %w", err)
	}
	sc.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read step config id: %w", err)
	}
	return nil
}

// GetStepConfig fetches a step config by id.
func (s *queries) GetStepConfig(ctx context.Context, id int64) (*model.StepConfig, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, created_date, step_type, config_json, cuml_config_json
		FROM step_config WHERE id = ?`, id)
	return scanStepConfig(row)
}

// FindStepConfig fetches the step config with the given type and cumulative
// config serialisation, if one exists.
func (s *queries) FindStepConfig(ctx context.Context, stepType model.StepType, cumlJSON string) (*model.StepConfig, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, created_date, step_type, config_json, cuml_config_json
		FROM step_config WHERE step_type = ? AND cuml_config_json = ?`,
		string(stepType), cumlJSON)
	return scanStepConfig(row)
}

func scanStepConfig(row *sql.Row) (*model.StepConfig, error) {
	var sc model.StepConfig
	var createdDate, cfgJSON, cumlJSON sql.NullString
	var stepType string

	err := row.Scan(&sc.ID, &createdDate, &stepType, &cfgJSON, &cumlJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan step config: %w", err)
	}

	sc.CreatedDate = mustTime(createdDate)
	sc.StepType = model.StepType(stepType)
	sc.CumlConfigJSON = cumlJSON.String
	if sc.ConfigJSON, err = scanMeta(cfgJSON); err != nil {
		return nil, err
	}
	return &sc, nil
}

// ListStepConfigsForDoc lists the distinct step configs used by any run of a
// document, for artifact cleanup.
func (s *queries) ListStepConfigsForDoc(ctx context.Context, docHash string) ([]*model.StepConfig, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT DISTINCT sc.id, sc.created_date, sc.step_type, sc.config_json, sc.cuml_config_json
		FROM step_config sc
		JOIN run_step rs ON rs.step_config_id = sc.id
		JOIN workflow_run wr ON wr.id = rs.workflow_run_id
		WHERE wr.doc_id = ?`, docHash)
	if err != nil {
		return nil, fmt.Errorf("failed to list step configs for doc: %w", err)
	}
	defer rows.Close()

	var configs []*model.StepConfig
	for rows.Next() {
		var sc model.StepConfig
		var createdDate, cfgJSON, cumlJSON sql.NullString
		var stepType string
		if err := rows.Scan(&sc.ID, &createdDate, &stepType, &cfgJSON, &cumlJSON); err != nil {
			return nil, fmt.Errorf("failed to scan step config: %w", err)
		}
		sc.CreatedDate = mustTime(createdDate)
		sc.StepType = model.StepType(stepType)
		sc.CumlConfigJSON = cumlJSON.String
		if sc.ConfigJSON, err = scanMeta(cfgJSON); err != nil {
			return nil, err
		}
		configs = append(configs, &sc)
	}
	return configs, rows.Err()
}

// CreateConfigSet inserts a config set row.
func (s *queries) CreateConfigSet(ctx context.Context, cs *model.ConfigSet) error {
	if cs.CreatedDate.IsZero() {
		cs.CreatedDate = time.Now().UTC()
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO config_set (yaml_id, yaml_contents, created_date)
		VALUES (?, ?, ?)`,
		cs.YAMLID, cs.YAMLContents, cs.CreatedDate.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create config set: %w", err)
	}
	cs.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read config set id: %w", err)
	}
	return nil
}

// FindConfigSetByContents fetches a config set by its exact canonical
// serialisation. The contents are the dedup key for parameter sets.
func (s *queries) FindConfigSetByContents(ctx context.Context, yamlContents string) (*model.ConfigSet, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, yaml_id, yaml_contents, created_date
		FROM config_set WHERE yaml_contents = ?`, yamlContents)

	var cs model.ConfigSet
	var createdDate sql.NullString
	err := row.Scan(&cs.ID, &cs.YAMLID, &cs.YAMLContents, &createdDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan config set: %w", err)
	}
	cs.CreatedDate = mustTime(createdDate)
	return &cs, nil
}

// AddConfigSetItem links a config set to one of its step configs.
func (s *queries) AddConfigSetItem(ctx context.Context, configSetID, configID int64) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO config_set_item (config_set_id, config_id) VALUES (?, ?)`,
		configSetID, configID)
	if err != nil {
		return fmt.Errorf("failed to add config set item: %w", err)
	}
	return nil
}

// ListConfigSetConfigs lists the step configs belonging to one config set.
func (s *queries) ListConfigSetConfigs(ctx context.Context, configSetID int64) ([]*model.StepConfig, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT sc.id, sc.created_date, sc.step_type, sc.config_json, sc.cuml_config_json
		FROM step_config sc
		JOIN config_set_item csi ON csi.config_id = sc.id
		WHERE csi.config_set_id = ?
		ORDER BY sc.id`, configSetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list config set configs: %w", err)
	}
	defer rows.Close()

	var configs []*model.StepConfig
	for rows.Next() {
		var sc model.StepConfig
		var createdDate, cfgJSON, cumlJSON sql.NullString
		var stepType string
		if err := rows.Scan(&sc.ID, &createdDate, &stepType, &cfgJSON, &cumlJSON); err != nil {
			return nil, fmt.Errorf("failed to scan step config: %w", err)
		}
		sc.CreatedDate = mustTime(createdDate)
		sc.StepType = model.StepType(stepType)
		sc.CumlConfigJSON = cumlJSON.String
		if sc.ConfigJSON, err = scanMeta(cfgJSON); err != nil {
			return nil, err
		}
		configs = append(configs, &sc)
	}
	return configs, rows.Err()
}
