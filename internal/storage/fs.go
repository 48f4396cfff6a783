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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/docflow/ingest/internal/model"
)

// fsOperator stores artifact bytes on the local filesystem, sharding by the
// last two characters of the key to keep directory fanout bounded.
type fsOperator struct {
	dir string
}

// shard returns the shard directory for a key.
func shard(key string) string {
	if len(key) < 2 {
		return key
	}
	return key[len(key)-2:]
}

func (o *fsOperator) path(key string) string {
	return filepath.Join(o.dir, shard(key), key)
}

func (o *fsOperator) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(o.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("artifact %s: %w", key, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

func (o *fsOperator) Write(ctx context.Context, key string, data []byte) error {
	dir := filepath.Join(o.dir, shard(key))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := os.WriteFile(o.path(key), data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}

func (o *fsOperator) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(o.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat artifact: %w", err)
	}
	return true, nil
}

func (o *fsOperator) Delete(ctx context.Context, key string) error {
	err := os.Remove(o.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("artifact %s: %w", key, model.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

func (o *fsOperator) List(ctx context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(o.dir, func(path string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if !d.IsDir() {
			keys = append(keys, d.Name())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	return keys, nil
}

func (o *fsOperator) URI(key string) string {
	abs, err := filepath.Abs(o.path(key))
	if err != nil {
		abs = o.path(key)
	}
	return "file://" + abs
}
