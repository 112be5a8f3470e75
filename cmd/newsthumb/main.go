package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/FranksOps/newsthumb/internal/config"
)

// cli holds state shared by every subcommand once PersistentPreRunE ran.
type cli struct {
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "newsthumb",
		Short:         "Resolve representative thumbnails for news article URLs",
		Long:          "Unwraps aggregator links, mines article pages for a lead image and falls back to a deterministic placeholder.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			c.cfg = cfg

			logger, err := config.NewLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			c.logger = logger
			slog.SetDefault(logger)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default ./config.yaml)")

	root.AddCommand(
		c.resolveCmd(),
		c.unwrapCmd(),
		c.placeholderCmd(),
		c.refreshCmd(),
		c.collectCmd(),
		c.exportCmd(),
		c.reportCmd(),
		c.serveCmd(),
	)
	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
