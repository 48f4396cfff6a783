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

// GetSyncState fetches the last synchronised position for one source.
func (s *queries) GetSyncState(ctx context.Context, sourceID string) (*model.SyncState, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT source_id, last_commit_sha, last_sync_date, branch, sync_metadata
		FROM sync_state WHERE source_id = ?`, sourceID)

	var st model.SyncState
	var lastSync, branch, meta sql.NullString
	err := row.Scan(&st.SourceID, &st.LastCommitSHA, &lastSync, &branch, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sync state: %w", err)
	}
	st.LastSyncDate = mustTime(lastSync)
	st.Branch = branch.String
	if st.SyncMetadata, err = scanMeta(meta); err != nil {
		return nil, err
	}
	return &st, nil
}

// PutSyncState upserts the synchronised position for one source.
func (s *queries) PutSyncState(ctx context.Context, st *model.SyncState) error {
	if st.LastSyncDate.IsZero() {
		st.LastSyncDate = time.Now().UTC()
	}
	meta, err := metaJSON(st.SyncMetadata)
	if err != nil {
		return err
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO sync_state (source_id, last_commit_sha, last_sync_date, branch, sync_metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (source_id) DO UPDATE SET
			last_commit_sha = excluded.last_commit_sha,
			last_sync_date = excluded.last_sync_date,
			branch = excluded.branch,
			sync_metadata = excluded.sync_metadata`,
		st.SourceID, st.LastCommitSHA, st.LastSyncDate.Format(time.RFC3339),
		nullString(st.Branch), meta,
	)
	if err != nil {
		return fmt.Errorf("failed to put sync state: %w", err)
	}
	return nil
}

// DeleteSyncState removes the synchronised position for one source.
func (s *queries) DeleteSyncState(ctx context.Context, sourceID string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM sync_state WHERE source_id = ?`, sourceID)
	if err != nil {
		return fmt.Errorf("failed to delete sync state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}
