package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ragqa/internal/domain"
	"ragqa/internal/metrics"
)

type askOptions struct {
	limit     int
	threshold float64
	files     []string
	retrieve  bool
	json      bool
}

func newAskCmd(a *app) *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the stored documents",
		Long: `Retrieve the chunks most similar to the question and ask the language
model to answer using only that context. When nothing relevant is found the
model is not called and "No matches found." is printed.

Examples:
  rag ask "what colour is the fox?" -f fox.txt
  rag ask "deployment steps" --limit 5 --threshold 0.3
  rag ask "error budget" --retrieve --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, a, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of chunks to retrieve (overrides retrieval.limit)")
	cmd.Flags().Float64VarP(&opts.threshold, "threshold", "t", -1, "Minimum similarity in [0,1] (overrides retrieval.similarity_threshold)")
	cmd.Flags().StringSliceVarP(&opts.files, "file", "f", nil, "Ingest these paths before asking (repeatable)")
	cmd.Flags().BoolVar(&opts.retrieve, "retrieve", false, "Print the retrieved chunks without calling the model")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the result as JSON")

	return cmd
}

func runAsk(cmd *cobra.Command, a *app, question string, opts askOptions) error {
	ctx := cmd.Context()
	svc, _, err := buildService(a.cfg, metrics.New(), a.log, !opts.retrieve)
	if err != nil {
		return err
	}
	defer svc.Close()

	if len(opts.files) > 0 {
		if _, err := svc.IngestFiles(ctx, opts.files, svc.ChunkOptions()); err != nil {
			return err
		}
	}

	q := domain.RetrievalQuery{Text: question, Limit: opts.limit}
	if cmd.Flags().Changed("threshold") {
		t := opts.threshold
		q.SimilarityThreshold = &t
	}

	out := cmd.OutOrStdout()
	if opts.retrieve {
		units, err := svc.Retrieve(ctx, q)
		if err != nil {
			return err
		}
		if opts.json {
			return encodeJSON(cmd, units)
		}
		if len(units) == 0 {
			fmt.Fprintln(out, "No matches found.")
		}
		printUnits(cmd, units)
		return nil
	}

	ans, err := svc.Ask(ctx, q)
	if err != nil {
		return err
	}
	if opts.json {
		return encodeJSON(cmd, ans)
	}
	fmt.Fprintln(out, ans.Text)
	if ans.Grounded {
		fmt.Fprintln(out, "\nSources:")
		printUnits(cmd, ans.SourceUnits)
	}
	return nil
}

func printUnits(cmd *cobra.Command, units []domain.RetrievedUnit) {
	out := cmd.OutOrStdout()
	for i, u := range units {
		fmt.Fprintf(out, "[%d] %s#%d  score=%.3f\n    %s\n",
			i+1, u.Source.SourceName, u.Source.SequenceIndex, u.SimilarityScore, strings.ReplaceAll(u.ChunkText, "\n", " "))
	}
}

func encodeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
