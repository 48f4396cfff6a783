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

package storage

import (
	"context"

	"github.com/docflow/ingest/internal/model"
)

// dbOperator stores artifact bytes in the document_bytes table.
type dbOperator struct {
	store        ByteStore
	artifactType string
	storageRoot  string
}

func (o *dbOperator) Read(ctx context.Context, key string) ([]byte, error) {
	row, err := o.store.GetDocumentBytes(ctx, key, o.artifactType, o.storageRoot)
	if err != nil {
		return nil, err
	}
	return row.FileBytes, nil
}

func (o *dbOperator) Write(ctx context.Context, key string, data []byte) error {
	return o.store.PutDocumentBytes(ctx, &model.DocumentBytes{
		Hash:         key,
		ArtifactType: o.artifactType,
		StorageRoot:  o.storageRoot,
		FileBytes:    data,
	})
}

func (o *dbOperator) Exists(ctx context.Context, key string) (bool, error) {
	return o.store.DocumentBytesExist(ctx, key, o.artifactType, o.storageRoot)
}

func (o *dbOperator) Delete(ctx context.Context, key string) error {
	n, err := o.store.DeleteDocumentBytes(ctx, key, o.artifactType, o.storageRoot)
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (o *dbOperator) List(ctx context.Context) ([]string, error) {
	return o.store.ListDocumentBytesHashes(ctx, o.artifactType, o.storageRoot)
}

func (o *dbOperator) URI(key string) string {
	return "bytes://" + key
}
