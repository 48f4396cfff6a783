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

// Command ingest is the document-ingestion workflow engine CLI: worker
// pool, HTTP API, and the admin and inspection commands around them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (injected via ldflags at build time)
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	rootCmd := newRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Durable document-ingestion workflow engine",
		Long: `ingest runs document-ingestion workflows: documents are registered
under batches, workflow runs carry each document through validate, parse,
chunk, embed and store steps, and a pool of workers executes the steps
durably against a SQLite database.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			loadDotEnv()
		},
	}

	cmd.AddCommand(newValidateSettingsCommand())
	cmd.AddCommand(newDBInitCommand())
	cmd.AddCommand(newInitEnvCommand())
	cmd.AddCommand(newInitConfigCommand())
	cmd.AddCommand(newBootstrapCommand())
	cmd.AddCommand(newWorkerCommand())
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newDumpWorkflowCommand())
	cmd.AddCommand(newDumpParamSetCommand())
	cmd.AddCommand(newListWorkflowsCommand())
	cmd.AddCommand(newListParamSetsCommand())
	cmd.AddCommand(newListBatchesCommand())
	cmd.AddCommand(newCheckDBCommand())

	return cmd
}
