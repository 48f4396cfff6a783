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

package model

import "errors"

// Sentinel errors shared across the engine. Callers match with errors.Is;
// the HTTP layer maps them to status codes.
var (
	// ErrNotFound indicates a missing entity or artifact key.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates an entity that already exists (duplicate
	// workflow or parameter-set id).
	ErrDuplicate = errors.New("already exists")

	// ErrInvalidState indicates an illegal step status transition.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrStepOwned indicates a step lease attempt lost to another worker.
	ErrStepOwned = errors.New("step owned by another worker")

	// ErrInvalidInput indicates malformed caller input (bad YAML, bad
	// metadata, unknown URI scheme, bad pagination parameters).
	ErrInvalidInput = errors.New("invalid input")

	// ErrForbidden indicates an operation rejected by policy, such as
	// deleting a built-in parameter set.
	ErrForbidden = errors.New("forbidden")

	// ErrBatchCompleted indicates an ingest into an already-completed batch.
	ErrBatchCompleted = errors.New("batch already completed")

	// ErrDocumentInvalid indicates a document that failed validation.
	ErrDocumentInvalid = errors.New("document invalid")
)
