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
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/docflow/ingest/internal/config"
)

// writeScaffoldFile creates a file with scaffold content, refusing to
// touch one that already exists.
func writeScaffoldFile(out io.Writer, path, content string) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(out, "Skipping %s: already exists\n", path)
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(out, "Wrote %s\n", path)
	return nil
}

func runInitEnv(out io.Writer, path string) error {
	return writeScaffoldFile(out, path, envScaffold)
}

// runInitConfig creates the workflow and parameter directories with a
// default definition in each.
func runInitConfig(out io.Writer) error {
	cfg := config.LoadUnvalidated()

	wfPath := filepath.Join(cfg.WorkflowDir, cfg.DefaultWorkflowID+".yaml")
	if err := writeScaffoldFile(out, wfPath, defaultWorkflowYAML); err != nil {
		return err
	}
	paramPath := filepath.Join(cfg.ParamDir, cfg.DefaultParamID+".yaml")
	return writeScaffoldFile(out, paramPath, defaultParamsYAML)
}

func newInitEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-env [path]",
		Short: "Write a starter .env file",
		Long: `Write a .env scaffold with every supported setting and its default.
An existing file is never overwritten.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ".env"
			if len(args) == 1 {
				path = args[0]
			}
			return runInitEnv(cmd.OutOrStdout(), path)
		},
	}
}

func newInitConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write the default workflow and parameter definitions",
		Long: `Create the workflow and parameter directories (WORKFLOW_DIR and
PARAM_DIR) and place a default ingestion workflow and parameter set in
them. Existing files are never overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInitConfig(cmd.OutOrStdout())
		},
	}
}

func newBootstrapCommand() *cobra.Command {
	var (
		doEnv    bool
		doConfig bool
	)

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Scaffold a working directory",
		Long: `Write the .env file and default definitions needed to run ingest in
the current directory. With no flags, everything is scaffolded; flags
restrict the command to the named pieces.`,
		Example: `  ingest bootstrap
  ingest bootstrap --config`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			all := !doEnv && !doConfig
			out := cmd.OutOrStdout()

			if all || doEnv {
				if err := runInitEnv(out, ".env"); err != nil {
					return err
				}
				// Settings written this run should shape init-config.
				loadDotEnv()
			}
			if all || doConfig {
				if err := runInitConfig(out); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&doEnv, "env", false, "only write the .env file")
	cmd.Flags().BoolVar(&doConfig, "config", false, "only write the default definitions")
	return cmd
}
