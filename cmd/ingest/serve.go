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

	"github.com/docflow/ingest/internal/server"
	"github.com/docflow/ingest/internal/worker"
)

func newServeCommand() *cobra.Command {
	var (
		host              string
		port              int
		reload            bool
		noWorker          bool
		proxyHeaders      bool
		forwardedAllowIPs []string
		rateLimit         float64
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API with an embedded worker pool, so a single process
can accept documents and execute their workflows. Pass --no-worker to
serve the API alone and run workers separately.`,
		Example: `  ingest serve
  ingest serve --host 0.0.0.0 --port 8000
  ingest serve --no-worker --reload`,
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

			srv := server.New(rt.cfg, rt.engine, rt.metrics, rt.logger, server.Options{
				Host:              host,
				Port:              port,
				TrustProxyHeaders: proxyHeaders,
				ForwardedAllowIPs: forwardedAllowIPs,
				RateLimit:         rateLimit,
			})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx) })
			if !noWorker {
				pool := worker.New(rt.cfg, rt.engine, rt.store, rt.metrics, rt.logger)
				g.Go(func() error { return pool.Run(gctx) })
			}
			if reload {
				g.Go(func() error { return rt.engine.Registry().Watch(gctx) })
			}

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "address to bind")
	cmd.Flags().IntVar(&port, "port", 8000, "port to bind")
	cmd.Flags().BoolVar(&reload, "reload", false, "reload workflow and parameter definitions on change")
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "serve the API without an embedded worker pool")
	cmd.Flags().BoolVar(&proxyHeaders, "proxy-headers", false, "trust identity headers from the allowed forwarders")
	cmd.Flags().StringSliceVar(&forwardedAllowIPs, "forwarded-allow-ips", []string{"127.0.0.1"},
		"forwarder addresses allowed to assert identities ('*' trusts all)")
	cmd.Flags().Float64Var(&rateLimit, "rate-limit", 0, "requests per second per client (0 disables)")
	return cmd
}
