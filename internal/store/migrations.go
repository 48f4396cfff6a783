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
)

// migrate runs database migrations.
func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS document (
			hash TEXT PRIMARY KEY,
			mime_type TEXT,
			file_size INTEGER DEFAULT 0,
			doc_meta TEXT,
			rag_id TEXT,
			batch_id INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS document_uri (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			doc_hash TEXT NOT NULL,
			uri TEXT NOT NULL,
			source TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			batch_id INTEGER,
			UNIQUE (uri, source)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_document_uri_doc_hash ON document_uri(doc_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_document_uri_source ON document_uri(source)`,
		`CREATE INDEX IF NOT EXISTS idx_document_uri_batch_id ON document_uri(batch_id)`,
		`CREATE TABLE IF NOT EXISTS document_uri_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			doc_uri_id INTEGER NOT NULL,
			version INTEGER NOT NULL,
			hash TEXT NOT NULL,
			process_date TEXT NOT NULL,
			action TEXT NOT NULL,
			batch_id INTEGER,
			histmeta TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_doc_uri_history_uri_id ON document_uri_history(doc_uri_id)`,
		`CREATE INDEX IF NOT EXISTS idx_doc_uri_history_hash ON document_uri_history(hash)`,
		`CREATE TABLE IF NOT EXISTS document_batch (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT,
			source TEXT NOT NULL,
			start_date TEXT NOT NULL,
			completed_date TEXT,
			batch_params TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS document_bytes (
			hash TEXT NOT NULL,
			artifact_type TEXT NOT NULL,
			storage_root TEXT NOT NULL DEFAULT '',
			file_size INTEGER NOT NULL DEFAULT 0,
			file_bytes BLOB,
			PRIMARY KEY (hash, artifact_type, storage_root)
		)`,
		`CREATE TABLE IF NOT EXISTS step_config (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_date TEXT NOT NULL,
			step_type TEXT NOT NULL,
			config_json TEXT,
			cuml_config_json TEXT,
			UNIQUE (step_type, cuml_config_json)
		)`,
		`CREATE TABLE IF NOT EXISTS config_set (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			yaml_id TEXT NOT NULL,
			yaml_contents TEXT NOT NULL,
			created_date TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_config_set_yaml_contents ON config_set(yaml_contents)`,
		`CREATE TABLE IF NOT EXISTS config_set_item (
			config_set_id INTEGER NOT NULL,
			config_id INTEGER NOT NULL,
			PRIMARY KEY (config_set_id, config_id),
			FOREIGN KEY (config_set_id) REFERENCES config_set(id),
			FOREIGN KEY (config_id) REFERENCES step_config(id)
		)`,
		`CREATE TABLE IF NOT EXISTS run_group (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT,
			workflow_definition_id TEXT NOT NULL,
			param_definition_id TEXT NOT NULL,
			batch_id INTEGER,
			created_date TEXT NOT NULL,
			start_date TEXT NOT NULL,
			completed_date TEXT,
			status TEXT NOT NULL,
			status_date TEXT,
			status_message TEXT,
			status_meta TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_group_batch_id ON run_group(batch_id)`,
		`CREATE TABLE IF NOT EXISTS workflow_run (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workflow_definition_id TEXT NOT NULL,
			run_group_id INTEGER NOT NULL,
			batch_id INTEGER NOT NULL DEFAULT 0,
			doc_id TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 10,
			created_date TEXT NOT NULL,
			start_date TEXT NOT NULL,
			completed_date TEXT,
			status TEXT NOT NULL,
			status_date TEXT,
			status_message TEXT,
			status_meta TEXT,
			run_params TEXT,
			FOREIGN KEY (run_group_id) REFERENCES run_group(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_run_group_id ON workflow_run(run_group_id)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_run_doc_id ON workflow_run(doc_id)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_run_status ON workflow_run(status)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_run_batch_id ON workflow_run(batch_id)`,
		`CREATE TABLE IF NOT EXISTS run_step (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workflow_run_id INTEGER NOT NULL,
			workflow_step_number INTEGER NOT NULL,
			workflow_step_name TEXT NOT NULL,
			step_config_id INTEGER NOT NULL,
			step_type TEXT NOT NULL,
			is_last_step INTEGER NOT NULL DEFAULT 0,
			created_date TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 10,
			start_date TEXT,
			status_date TEXT,
			completed_date TEXT,
			retry INTEGER NOT NULL DEFAULT 0,
			retries INTEGER NOT NULL DEFAULT 3,
			status TEXT NOT NULL,
			status_message TEXT,
			status_meta TEXT,
			worker_id TEXT,
			FOREIGN KEY (workflow_run_id) REFERENCES workflow_run(id),
			FOREIGN KEY (step_config_id) REFERENCES step_config(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_step_run_id ON run_step(workflow_run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_run_step_status ON run_step(status)`,
		`CREATE INDEX IF NOT EXISTS idx_run_step_worker_id ON run_step(worker_id)`,
		`CREATE TABLE IF NOT EXISTS lifecycle_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event TEXT NOT NULL,
			run_group_id INTEGER NOT NULL DEFAULT 0,
			workflow_run_id INTEGER NOT NULL DEFAULT 0,
			step_id INTEGER,
			start_date TEXT NOT NULL,
			completed_date TEXT,
			status TEXT NOT NULL,
			status_date TEXT,
			status_message TEXT,
			status_meta TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_history_run_id ON lifecycle_history(workflow_run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_history_group_id ON lifecycle_history(run_group_id)`,
		`CREATE TABLE IF NOT EXISTS worker_checkin (
			id TEXT PRIMARY KEY,
			first_checkin TEXT NOT NULL,
			last_checkin TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS document_db (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			doc_hash TEXT NOT NULL,
			source TEXT,
			db_name TEXT NOT NULL,
			lancedb_dir TEXT NOT NULL,
			rag_id TEXT,
			chunk_count INTEGER DEFAULT 0,
			created_date TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_document_db_doc_hash ON document_db(doc_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_document_db_db_name ON document_db(db_name)`,
		`CREATE TABLE IF NOT EXISTS sync_state (
			source_id TEXT PRIMARY KEY,
			last_commit_sha TEXT NOT NULL,
			last_sync_date TEXT NOT NULL,
			branch TEXT,
			sync_metadata TEXT
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
