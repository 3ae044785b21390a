package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ragqa/internal/httpapi"
	"ragqa/internal/metrics"
)

type serveOptions struct {
	addr  string
	watch bool
}

func newServeCmd(a *app) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve [paths...]",
		Short: "Serve the HTTP API",
		Long: `Serve the ingestion, retrieval and query endpoints over HTTP.

Paths given as arguments are ingested before the server starts. With --watch
they are re-ingested whenever a file changes.

Endpoints:
  POST /v1/documents   ingest a document
  POST /v1/retrieve    return the relevant chunks for a query
  POST /v1/query       answer a question from the relevant chunks
  GET  /collections    list vector store collections
  GET  /healthz        liveness
  GET  /metrics        Prometheus metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Re-ingest changed files under the given paths")

	return cmd
}

func runServe(ctx context.Context, a *app, paths []string, opts serveOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.addr != "" {
		a.cfg.Server.Addr = opts.addr
	}

	m := metrics.New()
	svc, _, err := buildService(a.cfg, m, a.log, true)
	if err != nil {
		return err
	}
	defer svc.Close()

	if len(paths) > 0 {
		if _, err := svc.IngestFiles(ctx, paths, svc.ChunkOptions()); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpapi.NewServer(svc, a.cfg.Server, m, a.log).Run(gctx)
	})
	if opts.watch && len(paths) > 0 {
		g.Go(func() error {
			return watchPaths(gctx, a, svc, paths)
		})
	}
	return g.Wait()
}
