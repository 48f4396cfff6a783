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

// Package config loads process-wide settings from the environment.
//
// The key space is flat (DOC_DB_URL, FILE_STORE_TARGET, ...) with "__" as
// the nesting separator for the S3 sub-configs (INPUT_S3__BUCKET and
// friends).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/docflow/ingest/internal/model"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Storage targets for FILE_STORE_TARGET.
const (
	StoreTargetDB = "db"
	StoreTargetFS = "fs"
	StoreTargetS3 = "s3"
)

// S3Config holds connection settings for one S3-compatible endpoint.
type S3Config struct {
	Bucket      string
	EndpointURL string
	AccessKeyID string
	// AccessSecret is never logged.
	AccessSecret string
	Region       string
}

// Config is the process-wide settings object.
type Config struct {
	// DocDBURL is the sqlite database path or URL. Required.
	DocDBURL string

	// LogLevel sets the minimum log level.
	LogLevel string

	// FileStoreTarget selects the artifact backend: db, fs or s3.
	FileStoreTarget string
	// FileStoreDir is the root directory for the fs backend.
	FileStoreDir string
	// LanceDBDir is the directory holding the external vector databases.
	LanceDBDir string

	// Per-artifact-type subdirectory names under FileStoreDir.
	DocumentStoreDir       string
	ParsedMarkdownStoreDir string
	ParsedJSONStoreDir     string
	ChunksStoreDir         string
	EmbeddingsStoreDir     string

	// IngestWorkerConcurrency bounds concurrent ingest requests.
	IngestWorkerConcurrency int
	// WorkerCheckinInterval is the heartbeat period in seconds.
	WorkerCheckinInterval int
	// WorkerCheckinTimeout is the dead-worker threshold in seconds.
	WorkerCheckinTimeout int
	// WorkerTaskCount is the consumer goroutine count and queue bound.
	WorkerTaskCount int
	// EmbedBatchSize is how many chunks go to the embedder per call.
	EmbedBatchSize int

	// WorkflowDir and ParamDir hold the YAML definition files.
	WorkflowDir string
	ParamDir    string
	// DefaultWorkflowID and DefaultParamID are used when a request does
	// not name a workflow or parameter set.
	DefaultWorkflowID string
	DefaultParamID    string

	// ParserURL is the base URL of the external document parsing service.
	ParserURL string
	// ParserHTTPTimeout is the parser request timeout in seconds.
	ParserHTTPTimeout int
	// EmbedderURL is the base URL of the external embedding service.
	EmbedderURL string

	// APIToken, when set, enables bearer auth on the HTTP API.
	APIToken string

	// DoRAG gates the external vector-store import; off in tests.
	DoRAG bool

	// InputS3 is the bucket documents are fetched from via s3:// URIs.
	InputS3 S3Config
	// ArtifactS3 is the bucket backing the s3 artifact store.
	ArtifactS3 S3Config
}

// Default returns a configuration with sensible defaults.
// DocDBURL has no default and must come from the environment.
func Default() *Config {
	return &Config{
		LogLevel:                "info",
		FileStoreTarget:         StoreTargetFS,
		FileStoreDir:            "file_store",
		LanceDBDir:              "lancedb",
		DocumentStoreDir:        "raw",
		ParsedMarkdownStoreDir:  "markdown",
		ParsedJSONStoreDir:      "json",
		ChunksStoreDir:          "chunks",
		EmbeddingsStoreDir:      "embeddings",
		IngestWorkerConcurrency: 10,
		WorkerCheckinInterval:   120,
		WorkerCheckinTimeout:    600,
		WorkerTaskCount:         5,
		EmbedBatchSize:          1000,
		WorkflowDir:             "config/workflows",
		ParamDir:                "config/params",
		DefaultWorkflowID:       "default_ingest",
		DefaultParamID:          "default",
		ParserURL:               "http://localhost:5001/v1",
		ParserHTTPTimeout:       600,
		EmbedderURL:             "http://localhost:11434",
		DoRAG:                   true,
	}
}

// Load builds the settings from defaults plus environment variables and
// validates the result.
func Load() (*Config, error) {
	cfg := Default()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadUnvalidated builds the settings without validating, for commands
// that report validation problems themselves.
func LoadUnvalidated() *Config {
	cfg := Default()
	cfg.loadFromEnv()
	return cfg
}

func (c *Config) loadFromEnv() {
	setString := func(dst *string, key string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}
	setInt := func(dst *int, key string) {
		if val := os.Getenv(key); val != "" {
			if n, err := strconv.Atoi(val); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(dst *bool, key string) {
		if val := os.Getenv(key); val != "" {
			*dst = val == "true" || val == "1"
		}
	}

	setString(&c.DocDBURL, "DOC_DB_URL")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.FileStoreTarget, "FILE_STORE_TARGET")
	setString(&c.FileStoreDir, "FILE_STORE_DIR")
	setString(&c.LanceDBDir, "LANCEDB_DIR")
	setString(&c.DocumentStoreDir, "DOCUMENT_STORE_DIR")
	setString(&c.ParsedMarkdownStoreDir, "PARSED_MARKDOWN_STORE_DIR")
	setString(&c.ParsedJSONStoreDir, "PARSED_JSON_STORE_DIR")
	setString(&c.ChunksStoreDir, "CHUNKS_STORE_DIR")
	setString(&c.EmbeddingsStoreDir, "EMBEDDINGS_STORE_DIR")
	setInt(&c.IngestWorkerConcurrency, "INGEST_WORKER_CONCURRENCY")
	setInt(&c.WorkerCheckinInterval, "WORKER_CHECKIN_INTERVAL")
	setInt(&c.WorkerCheckinTimeout, "WORKER_CHECKIN_TIMEOUT")
	setInt(&c.WorkerTaskCount, "WORKER_TASK_COUNT")
	setInt(&c.EmbedBatchSize, "EMBED_BATCH_SIZE")
	setString(&c.WorkflowDir, "WORKFLOW_DIR")
	setString(&c.ParamDir, "PARAM_DIR")
	setString(&c.DefaultWorkflowID, "DEFAULT_WORKFLOW_ID")
	setString(&c.DefaultParamID, "DEFAULT_PARAM_ID")
	setString(&c.ParserURL, "PARSER_URL")
	setInt(&c.ParserHTTPTimeout, "PARSER_HTTP_TIMEOUT")
	setString(&c.EmbedderURL, "EMBEDDER_URL")
	setString(&c.APIToken, "API_TOKEN")
	setBool(&c.DoRAG, "DO_RAG")

	loadS3 := func(dst *S3Config, prefix string) {
		setString(&dst.Bucket, prefix+"__BUCKET")
		setString(&dst.EndpointURL, prefix+"__ENDPOINT_URL")
		setString(&dst.AccessKeyID, prefix+"__ACCESS_KEY_ID")
		setString(&dst.AccessSecret, prefix+"__ACCESS_SECRET")
		setString(&dst.Region, prefix+"__REGION")
	}
	loadS3(&c.InputS3, "INPUT_S3")
	loadS3(&c.ArtifactS3, "ARTIFACT_S3")
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var problems []string

	if c.DocDBURL == "" {
		problems = append(problems, "DOC_DB_URL is required")
	}

	switch c.FileStoreTarget {
	case StoreTargetDB, StoreTargetFS, StoreTargetS3:
	default:
		problems = append(problems, fmt.Sprintf("FILE_STORE_TARGET must be one of db, fs, s3 (got %q)", c.FileStoreTarget))
	}

	if c.FileStoreTarget == StoreTargetFS && c.FileStoreDir == "" {
		problems = append(problems, "FILE_STORE_DIR is required when FILE_STORE_TARGET=fs")
	}
	if c.FileStoreTarget == StoreTargetS3 && c.ArtifactS3.Bucket == "" {
		problems = append(problems, "ARTIFACT_S3__BUCKET is required when FILE_STORE_TARGET=s3")
	}

	positive := func(name string, val int) {
		if val <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive (got %d)", name, val))
		}
	}
	positive("INGEST_WORKER_CONCURRENCY", c.IngestWorkerConcurrency)
	positive("WORKER_CHECKIN_INTERVAL", c.WorkerCheckinInterval)
	positive("WORKER_CHECKIN_TIMEOUT", c.WorkerCheckinTimeout)
	positive("WORKER_TASK_COUNT", c.WorkerTaskCount)
	positive("EMBED_BATCH_SIZE", c.EmbedBatchSize)

	if c.WorkerCheckinTimeout <= c.WorkerCheckinInterval {
		problems = append(problems, "WORKER_CHECKIN_TIMEOUT must be greater than WORKER_CHECKIN_INTERVAL")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(problems, "\n  - "))
	}
	return nil
}

// ArtifactSubdir returns the configured subdirectory name for an artifact
// type under the file store root.
func (c *Config) ArtifactSubdir(at model.ArtifactType) string {
	switch at {
	case model.ArtifactDoc:
		return c.DocumentStoreDir
	case model.ArtifactParsedMD:
		return c.ParsedMarkdownStoreDir
	case model.ArtifactParsedJSON:
		return c.ParsedJSONStoreDir
	case model.ArtifactChunks:
		return c.ChunksStoreDir
	case model.ArtifactEmbeddings:
		return c.EmbeddingsStoreDir
	default:
		return string(at)
	}
}

// Dump renders the settings for validate-settings --dump. Secrets are
// masked.
func (c *Config) Dump() string {
	var b strings.Builder

	write := func(key, val string) {
		fmt.Fprintf(&b, "%s=%s\n", key, val)
	}
	mask := func(val string) string {
		if val == "" {
			return ""
		}
		return "********"
	}

	write("DOC_DB_URL", c.DocDBURL)
	write("LOG_LEVEL", c.LogLevel)
	write("FILE_STORE_TARGET", c.FileStoreTarget)
	write("FILE_STORE_DIR", c.FileStoreDir)
	write("LANCEDB_DIR", c.LanceDBDir)
	write("DOCUMENT_STORE_DIR", c.DocumentStoreDir)
	write("PARSED_MARKDOWN_STORE_DIR", c.ParsedMarkdownStoreDir)
	write("PARSED_JSON_STORE_DIR", c.ParsedJSONStoreDir)
	write("CHUNKS_STORE_DIR", c.ChunksStoreDir)
	write("EMBEDDINGS_STORE_DIR", c.EmbeddingsStoreDir)
	write("INGEST_WORKER_CONCURRENCY", strconv.Itoa(c.IngestWorkerConcurrency))
	write("WORKER_CHECKIN_INTERVAL", strconv.Itoa(c.WorkerCheckinInterval))
	write("WORKER_CHECKIN_TIMEOUT", strconv.Itoa(c.WorkerCheckinTimeout))
	write("WORKER_TASK_COUNT", strconv.Itoa(c.WorkerTaskCount))
	write("EMBED_BATCH_SIZE", strconv.Itoa(c.EmbedBatchSize))
	write("WORKFLOW_DIR", c.WorkflowDir)
	write("PARAM_DIR", c.ParamDir)
	write("DEFAULT_WORKFLOW_ID", c.DefaultWorkflowID)
	write("DEFAULT_PARAM_ID", c.DefaultParamID)
	write("PARSER_URL", c.ParserURL)
	write("PARSER_HTTP_TIMEOUT", strconv.Itoa(c.ParserHTTPTimeout))
	write("EMBEDDER_URL", c.EmbedderURL)
	write("API_TOKEN", mask(c.APIToken))
	write("DO_RAG", strconv.FormatBool(c.DoRAG))
	write("INPUT_S3__BUCKET", c.InputS3.Bucket)
	write("INPUT_S3__ENDPOINT_URL", c.InputS3.EndpointURL)
	write("INPUT_S3__ACCESS_KEY_ID", c.InputS3.AccessKeyID)
	write("INPUT_S3__ACCESS_SECRET", mask(c.InputS3.AccessSecret))
	write("INPUT_S3__REGION", c.InputS3.Region)
	write("ARTIFACT_S3__BUCKET", c.ArtifactS3.Bucket)
	write("ARTIFACT_S3__ENDPOINT_URL", c.ArtifactS3.EndpointURL)
	write("ARTIFACT_S3__ACCESS_KEY_ID", c.ArtifactS3.AccessKeyID)
	write("ARTIFACT_S3__ACCESS_SECRET", mask(c.ArtifactS3.AccessSecret))
	write("ARTIFACT_S3__REGION", c.ArtifactS3.Region)

	return b.String()
}
