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

	"github.com/docflow/ingest/internal/config"
	"github.com/docflow/ingest/internal/store"
)

func newValidateSettingsCommand() *cobra.Command {
	var dump bool

	cmd := &cobra.Command{
		Use:   "validate-settings",
		Short: "Validate the environment configuration",
		Long: `Load the configuration from the environment (and .env, if present) and
report every validation problem found. Exits non-zero when the
configuration is unusable.`,
		Example: `  ingest validate-settings
  ingest validate-settings --dump`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadUnvalidated()
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Settings OK")
			if dump {
				fmt.Fprint(cmd.OutOrStdout(), cfg.Dump())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dump, "dump", false, "print the resolved settings (secrets masked)")
	return cmd
}

func newDBInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "db-init",
		Short: "Create the database and apply migrations",
		Long: `Open the configured SQLite database, creating it if necessary, and
bring its schema up to date. Safe to run repeatedly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			st, err := store.Open(store.Config{Path: cfg.DocDBURL})
			if err != nil {
				return fmt.Errorf("failed to initialise database: %w", err)
			}
			if err := st.Close(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Database ready at %s\n", cfg.DocDBURL)
			return nil
		},
	}
}
