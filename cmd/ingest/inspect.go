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
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/docflow/ingest/internal/config"
	"github.com/docflow/ingest/internal/registry"
	"github.com/docflow/ingest/internal/store"
)

// openRegistry loads the definition registry without touching the
// database, so definitions can be inspected before it exists.
func openRegistry() (*registry.Registry, error) {
	cfg := config.LoadUnvalidated()
	return registry.New(cfg.WorkflowDir, cfg.ParamDir, cfg.DefaultWorkflowID, cfg.DefaultParamID, newLogger())
}

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func newDumpWorkflowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dump-workflow <id>",
		Short: "Print one workflow definition as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry()
			if err != nil {
				return err
			}
			wf, err := reg.Workflow(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), wf)
		},
	}
}

func newDumpParamSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dump-param-set [id]",
		Short: "Print one parameter set as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry()
			if err != nil {
				return err
			}
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			ps, err := reg.ParamSet(id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ps)
		},
	}
}

func newListWorkflowsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list-workflows",
		Short: "List the loaded workflow definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry()
			if err != nil {
				return err
			}
			for _, wf := range reg.ListWorkflows() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", wf.ID, wf.Name)
			}
			return nil
		},
	}
}

func newListParamSetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list-param-sets",
		Short: "List the loaded parameter sets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry()
			if err != nil {
				return err
			}
			for _, ps := range reg.ListParamSets() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t(%s)\n", ps.ID, ps.Name, ps.Source)
			}
			return nil
		},
	}
}

func newListBatchesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list-batches",
		Short: "List document batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			st, err := store.Open(store.Config{Path: cfg.DocDBURL})
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer st.Close()

			batches, err := st.ListBatches(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, b := range batches {
				state := "open"
				if b.CompletedDate != nil {
					state = "completed"
				}
				fmt.Fprintf(out, "%d\t%s\t%s\t%s\t%s\n",
					b.ID, b.Name, b.Source, b.StartDate.Format("2006-01-02 15:04:05"), state)
			}
			return nil
		},
	}
}
