package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/FranksOps/newsthumb/internal/refresh"
	"github.com/FranksOps/newsthumb/internal/report"
	"github.com/FranksOps/newsthumb/internal/storage"
)

func (c *cli) newRefresher(store refresh.Store, p *pipeline) *refresh.Refresher {
	return refresh.New(store, p.resolver, refresh.Config{
		Concurrency: c.cfg.Refresh.Concurrency,
		BatchSize:   c.cfg.Refresh.BatchSize,
		Logger:      c.logger,
	})
}

func (c *cli) refreshCmd() *cobra.Command {
	var (
		limit   int
		keyword string
		format  string
	)
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-resolve thumbnails for stored articles that lack a real image",
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("unknown format %q", format)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := openStore(ctx, c.cfg.Store)
			if err != nil {
				return err
			}
			defer store.Close()

			p, err := c.newPipeline()
			if err != nil {
				return err
			}

			sum, runErr := c.newRefresher(store, p).Run(ctx, storage.Filter{Keyword: keyword, Limit: limit})
			if err := writeSummary(cmd.OutOrStdout(), format, sum); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum articles to refresh (default refresh.batch_size, 0 = all)")
	cmd.Flags().StringVar(&keyword, "keyword", "", "only refresh articles collected for this keyword")
	cmd.Flags().StringVar(&format, "format", "text", "summary format: text or json")
	return cmd
}

func writeSummary(w io.Writer, format string, sum refresh.Summary) error {
	if format == "json" {
		return report.WriteJSON(w, sum)
	}
	return report.WriteText(w, sum)
}
