package cmd

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ragqa/internal/metrics"
	"ragqa/internal/tui"
)

func newTUICmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tui [paths...]",
		Short: "Ingest documents and ask questions interactively",
		Long: `Ingest the given documents, then open an interactive terminal UI.
Type a question and press Enter; use the arrow keys to page through the
sources the answer was grounded on.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, a, args)
		},
	}
}

func runTUI(cmd *cobra.Command, a *app, paths []string) error {
	// the program owns the terminal
	a.log = a.log.Level(zerolog.Disabled)

	svc, sum, err := buildService(a.cfg, metrics.New(), a.log, true)
	if err != nil {
		return err
	}
	defer svc.Close()

	var summaries []string
	if len(paths) > 0 {
		results, err := svc.IngestFiles(cmd.Context(), paths, svc.ChunkOptions())
		if err != nil {
			return err
		}
		for _, r := range results {
			if r.Summary != "" {
				summaries = append(summaries, r.Summary)
			}
		}
	}

	var hl tui.Highlighter
	if sum != nil {
		hl = sum
	}
	m := tui.New(svc, hl, strings.Join(summaries, " "))
	_, err = tea.NewProgram(m, tea.WithContext(cmd.Context())).Run()
	return err
}
