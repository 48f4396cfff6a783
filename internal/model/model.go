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

// Package model defines the persistent entities of the ingestion engine
// and the enumerations shared across its packages.
package model

import "time"

// RunStatus is the lifecycle status of run groups, workflow runs and run steps.
type RunStatus string

const (
	// StatusPending means the work has not started.
	StatusPending RunStatus = "PENDING"
	// StatusRunning means the work is currently executing.
	StatusRunning RunStatus = "RUNNING"
	// StatusCompleted means the work finished successfully.
	StatusCompleted RunStatus = "COMPLETED"
	// StatusError means the work failed but may still be retried.
	StatusError RunStatus = "ERROR"
	// StatusFailed means the work gave up after exhausting retries.
	StatusFailed RunStatus = "FAILED"
)

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusError, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a final status.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepType identifies the kind of processing a workflow step performs.
type StepType string

const (
	StepIngest   StepType = "ingest"
	StepValidate StepType = "validate"
	StepParse    StepType = "parse"
	StepChunk    StepType = "chunk"
	StepEmbed    StepType = "embed"
	StepStore    StepType = "store"
	StepEnrich   StepType = "enrich"
	StepRoute    StepType = "route"
)

// Valid reports whether t is a known step type.
func (t StepType) Valid() bool {
	switch t {
	case StepIngest, StepValidate, StepParse, StepChunk, StepEmbed, StepStore, StepEnrich, StepRoute:
		return true
	}
	return false
}

// ArtifactType identifies a class of stored artifact bytes.
type ArtifactType string

const (
	ArtifactDoc        ArtifactType = "document"
	ArtifactParsedMD   ArtifactType = "parsed_markdown"
	ArtifactParsedJSON ArtifactType = "parsed_json"
	ArtifactChunks     ArtifactType = "chunks"
	ArtifactEmbeddings ArtifactType = "embeddings"
	ArtifactRAG        ArtifactType = "rag"
)

// ArtifactsFromSteps maps each producing step type to the artifact types
// it is allowed to write. Step types absent from the map produce nothing.
var ArtifactsFromSteps = map[StepType][]ArtifactType{
	StepIngest: {ArtifactDoc},
	StepParse:  {ArtifactParsedMD, ArtifactParsedJSON},
	StepChunk:  {ArtifactChunks},
	StepEmbed:  {ArtifactEmbeddings},
	StepStore:  {ArtifactRAG},
}

// ArtifactsToSteps is the inverse of ArtifactsFromSteps: which step type
// produces a given artifact type.
var ArtifactsToSteps = map[ArtifactType]StepType{
	ArtifactDoc:        StepIngest,
	ArtifactParsedMD:   StepParse,
	ArtifactParsedJSON: StepParse,
	ArtifactChunks:     StepChunk,
	ArtifactEmbeddings: StepEmbed,
	ArtifactRAG:        StepStore,
}

// StepProduces reports whether stepType is allowed to write artifacts of
// type artifactType.
func StepProduces(stepType StepType, artifactType ArtifactType) bool {
	for _, at := range ArtifactsFromSteps[stepType] {
		if at == artifactType {
			return true
		}
	}
	return false
}

// LifecycleEvent is a {group, item, step} x {start, end, failed} tuple fired
// by the worker around step execution.
type LifecycleEvent string

const (
	EventGroupStart LifecycleEvent = "group_start"
	EventGroupEnd   LifecycleEvent = "group_end"
	EventItemStart  LifecycleEvent = "item_start"
	EventItemEnd    LifecycleEvent = "item_end"
	EventItemFailed LifecycleEvent = "item_failed"
	EventStepStart  LifecycleEvent = "step_start"
	EventStepEnd    LifecycleEvent = "step_end"
	EventStepFailed LifecycleEvent = "step_failed"
)

// History actions recorded in DocumentURIHistory rows.
const (
	ActionCreate      = "create"
	ActionUpdate      = "update"
	ActionParsed      = "parsed"
	ActionChunked     = "chunked"
	ActionEmbedded    = "embedded"
	ActionIngested    = "ingested"
	ActionFileDeleted = "file deleted"
)

// Document is one unique byte content, identified by its content hash.
// Created once per unique content; mutated only to enrich DocMeta.
type Document struct {
	Hash     string         `json:"hash"`
	MimeType string         `json:"mime_type"`
	FileSize int64          `json:"file_size"`
	DocMeta  map[string]any `json:"doc_meta"`
	RagID    string         `json:"rag_id,omitempty"`
	BatchID  *int64         `json:"batch_id,omitempty"`
}

// DocumentURI maps an identifier on the source system to a Document.
// Multiple URIs may point at the same Document when contents are identical.
type DocumentURI struct {
	ID      int64  `json:"id"`
	DocHash string `json:"doc_hash"`
	URI     string `json:"uri"`
	Source  string `json:"source"`
	Version int    `json:"version"`
	BatchID *int64 `json:"batch_id,omitempty"`
}

// DocumentURIHistory is an append-only log of actions taken on a URI.
type DocumentURIHistory struct {
	ID          int64          `json:"id"`
	DocURIID    int64          `json:"doc_uri_id"`
	Version     int            `json:"version"`
	Hash        string         `json:"hash"`
	ProcessDate time.Time      `json:"process_date"`
	Action      string         `json:"action"`
	BatchID     *int64         `json:"batch_id,omitempty"`
	HistMeta    map[string]any `json:"histmeta,omitempty"`
}

// DocumentBatch is a batch of documents to be ingested together.
type DocumentBatch struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name"`
	Source        string         `json:"source"`
	StartDate     time.Time      `json:"start_date"`
	CompletedDate *time.Time     `json:"completed_date,omitempty"`
	BatchParams   map[string]any `json:"batch_params,omitempty"`
}

// Duration returns the batch duration in seconds, or zero while incomplete.
func (b *DocumentBatch) Duration() float64 {
	if b.CompletedDate == nil {
		return 0
	}
	return b.CompletedDate.Sub(b.StartDate).Seconds()
}

// DocumentBytes holds artifact content when the relational backend is the
// configured artifact store. The triple (hash, artifact_type, storage_root)
// is the primary key.
type DocumentBytes struct {
	Hash         string `json:"hash"`
	ArtifactType string `json:"artifact_type"`
	StorageRoot  string `json:"storage_root"`
	FileSize     int64  `json:"file_size"`
	FileBytes    []byte `json:"-"`
}

// StepConfig is one persisted step configuration. Rows are shared across
// parameter sets whose cumulative config prefixes are identical, so a row
// is never deleted while any RunStep references it.
type StepConfig struct {
	ID          int64          `json:"id"`
	CreatedDate time.Time      `json:"created_date"`
	StepType    StepType       `json:"step_type"`
	ConfigJSON  map[string]any `json:"config_json,omitempty"`
	// CumlConfigJSON is the canonical JSON of this step's and all earlier
	// steps' configs in workflow order. (step_type, cuml_config_json)
	// uniquely identifies a row.
	CumlConfigJSON string `json:"cuml_config_json,omitempty"`
}

// ConfigSet records one unique parameter-set serialisation.
type ConfigSet struct {
	ID           int64     `json:"id"`
	YAMLID       string    `json:"yaml_id"`
	YAMLContents string    `json:"yaml_contents"`
	CreatedDate  time.Time `json:"created_date"`
}

// ConfigSetItem links a ConfigSet to one of its StepConfig rows.
type ConfigSetItem struct {
	ConfigSetID int64 `json:"config_set_id"`
	ConfigID    int64 `json:"config_id"`
}

// RunGroup is one activation of (batch x workflow x parameter set); it fans
// out into one WorkflowRun per document.
type RunGroup struct {
	ID                   int64          `json:"id"`
	Name                 string         `json:"name,omitempty"`
	WorkflowDefinitionID string         `json:"workflow_definition_id"`
	ParamDefinitionID    string         `json:"param_definition_id"`
	BatchID              *int64         `json:"batch_id,omitempty"`
	CreatedDate          time.Time      `json:"created_date"`
	StartDate            time.Time      `json:"start_date"`
	CompletedDate        *time.Time     `json:"completed_date,omitempty"`
	Status               RunStatus      `json:"status"`
	StatusDate           *time.Time     `json:"status_date,omitempty"`
	StatusMessage        string         `json:"status_message,omitempty"`
	StatusMeta           map[string]any `json:"status_meta,omitempty"`
}

// WorkflowRun is the end-to-end journey of one document through one workflow.
type WorkflowRun struct {
	ID                   int64          `json:"id"`
	WorkflowDefinitionID string         `json:"workflow_definition_id"`
	RunGroupID           int64          `json:"run_group_id"`
	BatchID              int64          `json:"batch_id"`
	DocID                string         `json:"doc_id"`
	Priority             int            `json:"priority"`
	CreatedDate          time.Time      `json:"created_date"`
	StartDate            time.Time      `json:"start_date"`
	CompletedDate        *time.Time     `json:"completed_date,omitempty"`
	Status               RunStatus      `json:"status"`
	StatusDate           *time.Time     `json:"status_date,omitempty"`
	StatusMessage        string         `json:"status_message,omitempty"`
	StatusMeta           map[string]any `json:"status_meta,omitempty"`
	RunParams            map[string]any `json:"run_params,omitempty"`
}

// Duration returns the run duration in seconds, or zero while incomplete.
func (r *WorkflowRun) Duration() float64 {
	if r.CompletedDate == nil {
		return 0
	}
	return r.CompletedDate.Sub(r.StartDate).Seconds()
}

// RunStep is one typed processing step within a WorkflowRun, bound to
// exactly one StepConfig.
type RunStep struct {
	ID                 int64          `json:"id"`
	WorkflowRunID      int64          `json:"workflow_run_id"`
	WorkflowStepNumber int            `json:"workflow_step_number"`
	WorkflowStepName   string         `json:"workflow_step_name"`
	StepConfigID       int64          `json:"step_config_id"`
	StepType           StepType       `json:"step_type"`
	IsLastStep         bool           `json:"is_last_step"`
	CreatedDate        time.Time      `json:"created_date"`
	Priority           int            `json:"priority"`
	StartDate          *time.Time     `json:"start_date,omitempty"`
	StatusDate         *time.Time     `json:"status_date,omitempty"`
	CompletedDate      *time.Time     `json:"completed_date,omitempty"`
	Retry              int            `json:"retry"`
	Retries            int            `json:"retries"`
	Status             RunStatus      `json:"status"`
	StatusMessage      string         `json:"status_message,omitempty"`
	StatusMeta         map[string]any `json:"status_meta,omitempty"`
	WorkerID           string         `json:"worker_id,omitempty"`
}

// Duration returns the step duration in seconds, or zero while incomplete.
func (s *RunStep) Duration() float64 {
	if s.CompletedDate == nil || s.StartDate == nil {
		return 0
	}
	return s.CompletedDate.Sub(*s.StartDate).Seconds()
}

// LifecycleHistory records one fired lifecycle event and the outcome of its
// handlers.
type LifecycleHistory struct {
	ID            int64          `json:"id"`
	Event         LifecycleEvent `json:"event"`
	RunGroupID    int64          `json:"run_group_id"`
	WorkflowRunID int64          `json:"workflow_run_id"`
	StepID        *int64         `json:"step_id,omitempty"`
	StartDate     time.Time      `json:"start_date"`
	CompletedDate *time.Time     `json:"completed_date,omitempty"`
	Status        RunStatus      `json:"status"`
	StatusDate    *time.Time     `json:"status_date,omitempty"`
	StatusMessage string         `json:"status_message,omitempty"`
	StatusMeta    map[string]any `json:"status_meta,omitempty"`
}

// WorkerCheckin is the periodic heartbeat row for one worker process.
// Absence past the checkin timeout signals a dead worker.
type WorkerCheckin struct {
	ID           string    `json:"id"`
	FirstCheckin time.Time `json:"first_checkin"`
	LastCheckin  time.Time `json:"last_checkin"`
}

// DocumentDB cross-references a stored document with the external vector
// store, for consistency checking.
type DocumentDB struct {
	ID          int64     `json:"id"`
	DocHash     string    `json:"doc_hash"`
	Source      string    `json:"source"`
	DBName      string    `json:"db_name"`
	LanceDBDir  string    `json:"lancedb_dir"`
	RagID       string    `json:"rag_id"`
	ChunkCount  int       `json:"chunk_count"`
	CreatedDate time.Time `json:"created_date"`
}

// SyncState tracks the last synchronised position for one external source.
type SyncState struct {
	SourceID      string         `json:"source_id"`
	LastCommitSHA string         `json:"last_commit_sha"`
	LastSyncDate  time.Time      `json:"last_sync_date"`
	Branch        string         `json:"branch,omitempty"`
	SyncMetadata  map[string]any `json:"sync_metadata,omitempty"`
}
