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

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docflow/ingest/internal/rag"
)

func newCheckDBCommand() *cobra.Command {
	var lancedbDir string

	cmd := &cobra.Command{
		Use:   "check-db <db-name>",
		Short: "Check a vector database against its tracking rows",
		Long: `Compare the tracking rows for one vector database against what the
vector store actually holds, reporting documents missing from the store
and store entries no tracking row references. Exits non-zero when the
two disagree.`,
		Example: `  ingest check-db documents
  ingest check-db documents --lancedb-dir /srv/lancedb`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbName := args[0]
			logger := newLogger()
			rt, err := openRuntime(logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			if lancedbDir == "" {
				lancedbDir = rt.cfg.LanceDBDir
			}

			ctx := cmd.Context()
			tracked, err := rt.store.ListDocumentDBByDatabase(ctx, dbName, lancedbDir)
			if err != nil {
				return err
			}

			lister, ok := rt.engine.RAG().Client().(rag.Lister)
			if !ok {
				return fmt.Errorf("vector store client does not support listing")
			}
			stored, err := lister.ListDocuments(ctx, rag.DatabaseRef{LanceDBDir: lancedbDir, DBName: dbName})
			if err != nil {
				return err
			}

			inStore := make(map[string]bool, len(stored))
			for _, ragID := range stored {
				inStore[ragID] = true
			}

			out := cmd.OutOrStdout()
			missing := 0
			known := make(map[string]bool, len(tracked))
			for _, rec := range tracked {
				known[rec.RagID] = true
				if !inStore[rec.RagID] {
					fmt.Fprintf(out, "MISSING\t%s\t%s\n", rec.DocHash, rec.RagID)
					missing++
				}
			}

			orphaned := 0
			for _, ragID := range stored {
				if !known[ragID] {
					fmt.Fprintf(out, "ORPHANED\t%s\n", ragID)
					orphaned++
				}
			}

			fmt.Fprintf(out, "%d tracked, %d stored, %d missing, %d orphaned\n",
				len(tracked), len(stored), missing, orphaned)
			if missing > 0 || orphaned > 0 {
				return fmt.Errorf("database %q is inconsistent", dbName)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&lancedbDir, "lancedb-dir", "", "vector store root (defaults to LANCEDB_DIR)")
	return cmd
}
