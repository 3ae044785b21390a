package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"ragqa/internal/metrics"
	"ragqa/internal/service"
	"ragqa/internal/watch"
)

type ingestOptions struct {
	chunkSize int
	overlap   int
	json      bool
	watch     bool
}

func newIngestCmd(a *app) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest <paths...>",
		Short: "Chunk, embed and store documents",
		Long: `Ingest text and markdown files into the configured vector store.

Paths may be files, directories (walked recursively) or glob patterns.

Examples:
  rag ingest notes.txt
  rag ingest docs/ --chunk-size 500 --overlap 50
  rag ingest "docs/**/*.md" --watch`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, a, args, opts)
		},
	}

	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 0, "Chunk size in characters (overrides chunker.chunk_size)")
	cmd.Flags().IntVar(&opts.overlap, "overlap", -1, "Chunk overlap in characters (overrides chunker.overlap)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print results as JSON")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Keep running and re-ingest files as they change")

	return cmd
}

func runIngest(cmd *cobra.Command, a *app, paths []string, opts ingestOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, _, err := buildService(a.cfg, metrics.New(), a.log, false)
	if err != nil {
		return err
	}
	defer svc.Close()

	chunkOpts := svc.ChunkOptions()
	if opts.chunkSize > 0 {
		chunkOpts.ChunkSize = opts.chunkSize
	}
	if opts.overlap >= 0 {
		chunkOpts.Overlap = opts.overlap
	}
	if err := chunkOpts.Validate(); err != nil {
		return err
	}

	results, err := svc.IngestFiles(ctx, paths, chunkOpts)
	if err != nil {
		return err
	}
	if err := printIngestResults(cmd, results, opts.json); err != nil {
		return err
	}

	if !opts.watch {
		return nil
	}
	a.cfg.Chunker = chunkOpts
	return watchPaths(ctx, a, svc, paths)
}

func printIngestResults(cmd *cobra.Command, results []service.IngestResult, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	total := 0
	for _, r := range results {
		fmt.Fprintf(out, "%-30s %4d chunks  (%s)\n", r.SourceName, r.Inserted, r.DocumentID)
		total += r.Inserted
	}
	fmt.Fprintf(out, "Ingested %d document(s), %d chunk(s)\n", len(results), total)
	return nil
}

// watchPaths blocks re-ingesting changed files under paths until ctx ends.
func watchPaths(ctx context.Context, a *app, svc *service.RAGServiceImpl, paths []string) error {
	w, err := watch.New(svc, a.cfg.Chunker, 0, a.log)
	if err != nil {
		return err
	}
	for _, p := range paths {
		matches, err := filepath.Glob(p)
		if err != nil || matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			if err := w.Add(m); err != nil {
				return fmt.Errorf("watch %s: %w", m, err)
			}
		}
	}
	return w.Run(ctx)
}
