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

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const envScaffold = `# Ingestion engine settings. Uncomment and edit as needed.

# Required: sqlite database path.
DOC_DB_URL=ingest.db

# Artifact storage: db, fs or s3.
#FILE_STORE_TARGET=fs
#FILE_STORE_DIR=file_store
#LANCEDB_DIR=lancedb

# Per-artifact-type subdirectories under FILE_STORE_DIR.
#DOCUMENT_STORE_DIR=raw
#PARSED_MARKDOWN_STORE_DIR=markdown
#PARSED_JSON_STORE_DIR=json
#CHUNKS_STORE_DIR=chunks
#EMBEDDINGS_STORE_DIR=embeddings

# Worker pool.
#INGEST_WORKER_CONCURRENCY=10
#WORKER_CHECKIN_INTERVAL=120
#WORKER_CHECKIN_TIMEOUT=600
#WORKER_TASK_COUNT=5
#EMBED_BATCH_SIZE=1000

# Workflow and parameter-set definitions.
#WORKFLOW_DIR=config/workflows
#PARAM_DIR=config/params
#DEFAULT_WORKFLOW_ID=default_ingest
#DEFAULT_PARAM_ID=default

# External services.
#PARSER_URL=http://localhost:5001/v1
#PARSER_HTTP_TIMEOUT=600
#EMBEDDER_URL=http://localhost:11434
#DO_RAG=true

# API auth (leave unset to disable bearer auth).
#API_TOKEN=

# S3 input fetching (s3:// input URIs).
#INPUT_S3__BUCKET=
#INPUT_S3__ENDPOINT_URL=
#INPUT_S3__ACCESS_KEY_ID=
#INPUT_S3__ACCESS_SECRET=
#INPUT_S3__REGION=

# S3 artifact storage (FILE_STORE_TARGET=s3).
#ARTIFACT_S3__BUCKET=
#ARTIFACT_S3__ENDPOINT_URL=
#ARTIFACT_S3__ACCESS_KEY_ID=
#ARTIFACT_S3__ACCESS_SECRET=
#ARTIFACT_S3__REGION=

#LOG_LEVEL=info
#LOG_FORMAT=json
`

// WriteEnvScaffold writes a commented .env template to path. It refuses to
// overwrite an existing file.
func WriteEnvScaffold(path string) error {
	if path == "" {
		path = ".env"
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, not overwriting", path)
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(envScaffold), 0o600); err != nil {
		return fmt.Errorf("failed to write env scaffold: %w", err)
	}

	return nil
}
