// Package cmd provides the CLI commands for ragqa.
package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ragqa/internal/config"
	"ragqa/internal/logging"
)

// app carries state resolved once by the root command for every subcommand.
type app struct {
	configPath string
	logLevel   string

	cfg *config.AppConfig
	log zerolog.Logger
}

// NewRootCmd creates the root command for the rag CLI.
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "rag",
		Short: "Retrieval-augmented question answering over your documents",
		Long: `rag chunks and embeds text documents into a vector store, retrieves
the chunks most similar to a question, and asks a language model to answer
from that context only.

Examples:
  rag ingest docs/ --watch
  rag ask "what does the fox do?" -f fox.txt
  rag serve
  rag tui notes/*.md`,
		SilenceUsage:      true,
		PersistentPreRunE: a.load,
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to YAML config file (defaults to ./config.yaml or ~/.config/ragqa/config.yaml)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override log level: debug, info, warn, error")

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newIngestCmd(a))
	cmd.AddCommand(newAskCmd(a))
	cmd.AddCommand(newTUICmd(a))

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func (a *app) load(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	cfg, path, err := config.Resolve(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
		Output: cmd.ErrOrStderr(),
	})
	a.log.Debug().Str("config", path).Str("command", cmd.Name()).Msg("configuration loaded")
	return nil
}
