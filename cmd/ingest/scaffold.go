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

package main

// Scaffold contents written by init-env and init-config.

const envScaffold = `# ingest environment configuration.
# Values shown are the defaults; edit to taste.

DOC_DB_URL=ingest.db
LOG_LEVEL=info

# Artifact storage: db, fs or s3.
FILE_STORE_TARGET=fs
FILE_STORE_DIR=file_store
LANCEDB_DIR=lancedb

# Workflow and parameter definitions.
WORKFLOW_DIR=config/workflows
PARAM_DIR=config/params
DEFAULT_WORKFLOW_ID=default_ingest
DEFAULT_PARAM_ID=default

# External services.
PARSER_URL=http://localhost:5001/v1
PARSER_HTTP_TIMEOUT=600
EMBEDDER_URL=http://localhost:11434
DO_RAG=true

# Worker pool.
INGEST_WORKER_CONCURRENCY=10
WORKER_TASK_COUNT=5
WORKER_CHECKIN_INTERVAL=120
WORKER_CHECKIN_TIMEOUT=600
EMBED_BATCH_SIZE=1000

# Bearer token for the HTTP API; empty disables auth.
#API_TOKEN=

# Bucket for s3:// input URIs.
#INPUT_S3__BUCKET=
#INPUT_S3__ENDPOINT_URL=
#INPUT_S3__ACCESS_KEY_ID=
#INPUT_S3__ACCESS_SECRET=
#INPUT_S3__REGION=

# Bucket backing the artifact store when FILE_STORE_TARGET=s3.
#ARTIFACT_S3__BUCKET=
#ARTIFACT_S3__ENDPOINT_URL=
#ARTIFACT_S3__ACCESS_KEY_ID=
#ARTIFACT_S3__ACCESS_SECRET=
#ARTIFACT_S3__REGION=
`

// defaultWorkflowYAML mirrors config/workflows/default_ingest.yaml.
const defaultWorkflowYAML = `# Default document ingestion workflow: validate the raw bytes, parse them
# to markdown, chunk, embed and import into the vector store.
id: default_ingest
name: Default ingestion
meta:
  owner: platform
item_steps:
  validate:
    name: validate_document
    retries: 2
    method: validate
    parameters: {}
  parse:
    name: parse_document
    retries: 3
    method: parse
    parameters:
      output_format: markdown
  chunk:
    name: chunk_markdown
    retries: 2
    method: chunk
    parameters: {}
  embed:
    name: embed_chunks
    retries: 3
    method: embed
    parameters: {}
  store:
    name: store_rag
    retries: 2
    method: store
    parameters: {}
lifecycle_events:
  group_start:
    - name: announce_group
      retries: 1
      method: log_event
      parameters: {}
  group_end:
    - name: announce_group_done
      retries: 1
      method: log_event
      parameters: {}
  item_failed:
    - name: announce_item_failed
      retries: 1
      method: log_event
      parameters: {}
`

// defaultParamsYAML mirrors config/params/default.yaml.
const defaultParamsYAML = `# Default parameter set for the default_ingest workflow. Step types left
# out fall back to an empty config.
id: default
name: Default parameters
source: app
config:
  validate:
    max_file_size_mb: 200
  parse:
    ocr: false
    output_format: markdown
  chunk:
    max_tokens: 512
    overlap_tokens: 64
  embed:
    model: nomic-embed-text
  store:
    db_name: documents
`
