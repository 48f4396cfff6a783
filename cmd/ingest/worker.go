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
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/docflow/ingest/internal/worker"
)

func newWorkerCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a standalone worker pool",
		Long: `Run a worker pool that leases and executes runnable steps until
interrupted. In-flight steps finish before the process exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			rt, err := openRuntime(logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signalContext()
			defer stop()

			pool := worker.New(rt.cfg, rt.engine, rt.store, rt.metrics, rt.logger)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return pool.Run(gctx) })
			if watch {
				g.Go(func() error { return rt.engine.Registry().Watch(gctx) })
			}

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "reload workflow and parameter definitions on change")
	return cmd
}
