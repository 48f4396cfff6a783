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

// Package storage provides artifact byte storage behind a single Operator
// interface, with database, filesystem and S3 backends.
package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strconv"

	"github.com/docflow/ingest/internal/config"
	"github.com/docflow/ingest/internal/model"
)

// Operator reads and writes artifact bytes keyed by document hash. Read and
// Delete return model.ErrNotFound when the key is absent.
type Operator interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
	URI(key string) string
}

// ByteStore is the slice of the persistence layer the database operator
// needs. *store.Store satisfies it.
type ByteStore interface {
	PutDocumentBytes(ctx context.Context, db *model.DocumentBytes) error
	GetDocumentBytes(ctx context.Context, hash, artifactType, storageRoot string) (*model.DocumentBytes, error)
	DocumentBytesExist(ctx context.Context, hash, artifactType, storageRoot string) (bool, error)
	DeleteDocumentBytes(ctx context.Context, hash, artifactType, storageRoot string) (int64, error)
	ListDocumentBytesHashes(ctx context.Context, artifactType, storageRoot string) ([]string, error)
}

// Factory builds artifact operators for the configured storage target.
type Factory struct {
	cfg   *config.Config
	store ByteStore
	s3    s3API
}

// NewFactory builds a Factory. The S3 client is created lazily, only when an
// operator for an s3 target is first requested.
func NewFactory(cfg *config.Config, store ByteStore) *Factory {
	return &Factory{cfg: cfg, store: store}
}

// ForArtifact returns the operator for one artifact type. Non-document
// artifacts require the producing step's config: the step config id becomes
// the storage root, so runs with different configs never collide. The step
// type, when given, must be one that produces the artifact.
func (f *Factory) ForArtifact(ctx context.Context, artifactType model.ArtifactType, stepConfig *model.StepConfig) (Operator, error) {
	if stepConfig != nil && !model.StepProduces(stepConfig.StepType, artifactType) {
		return nil, fmt.Errorf("%w: step type %s does not produce %s artifacts",
			model.ErrInvalidInput, stepConfig.StepType, artifactType)
	}

	root := ""
	if artifactType != model.ArtifactDoc {
		if stepConfig == nil {
			return nil, fmt.Errorf("%w: %s artifacts require a step config",
				model.ErrInvalidInput, artifactType)
		}
		root = strconv.FormatInt(stepConfig.ID, 10)
	}

	switch f.cfg.FileStoreTarget {
	case config.StoreTargetDB:
		return &dbOperator{
			store:        f.store,
			artifactType: string(artifactType),
			storageRoot:  root,
		}, nil
	case config.StoreTargetFS:
		return &fsOperator{
			dir: filepath.Join(f.cfg.FileStoreDir, f.cfg.ArtifactSubdir(artifactType), root),
		}, nil
	case config.StoreTargetS3:
		client, err := f.artifactS3(ctx)
		if err != nil {
			return nil, err
		}
		return &s3Operator{
			client: client,
			bucket: f.cfg.ArtifactS3.Bucket,
			prefix: path.Join(f.cfg.ArtifactSubdir(artifactType), root),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown storage target %q",
			model.ErrInvalidInput, f.cfg.FileStoreTarget)
	}
}

func (f *Factory) artifactS3(ctx context.Context) (s3API, error) {
	if f.s3 != nil {
		return f.s3, nil
	}
	client, err := newS3Client(ctx, f.cfg.ArtifactS3)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact s3 client: %w", err)
	}
	f.s3 = client
	return f.s3, nil
}
