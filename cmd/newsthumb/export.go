package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/FranksOps/newsthumb/internal/config"
	"github.com/FranksOps/newsthumb/internal/report"
	"github.com/FranksOps/newsthumb/internal/storage"
)

// exportArticles copies every article matching filter from src into a new
// csv or json store at path and returns the number copied.
func exportArticles(ctx context.Context, src storage.Backend, format, path string, filter storage.Filter) (int, error) {
	if format != "csv" && format != "json" {
		return 0, fmt.Errorf("unknown export format %q", format)
	}
	articles, err := src.Query(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("export: query: %w", err)
	}

	dst, err := openStore(ctx, config.StoreConfig{Driver: format, DSN: path})
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	// Oldest first so the log reads in collection order.
	for i := len(articles) - 1; i >= 0; i-- {
		if err := dst.Save(ctx, articles[i]); err != nil {
			return len(articles) - 1 - i, fmt.Errorf("export: save %s: %w", articles[i].URL, err)
		}
	}
	return len(articles), nil
}

func (c *cli) exportCmd() *cobra.Command {
	var (
		format  string
		out     string
		keyword string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy stored articles into a CSV or NDJSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			store, err := openStore(cmd.Context(), c.cfg.Store)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := exportArticles(cmd.Context(), store, format, out, storage.Filter{Keyword: keyword})
			if err != nil {
				return err
			}
			c.logger.Info("export finished", "articles", n, "format", format, "out", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "output format: csv or json")
	cmd.Flags().StringVar(&out, "out", "", "output file path")
	cmd.Flags().StringVar(&keyword, "keyword", "", "only export articles for this keyword")
	return cmd
}

func (c *cli) reportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize image coverage of the stored articles",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), c.cfg.Store)
			if err != nil {
				return err
			}
			defer store.Close()

			articles, err := store.Query(cmd.Context(), storage.Filter{})
			if err != nil {
				return fmt.Errorf("report: query: %w", err)
			}
			cov := report.GenerateCoverage(articles)

			w := cmd.OutOrStdout()
			switch format {
			case "text":
				return report.WriteCoverageText(w, cov)
			case "json":
				return report.WriteJSON(w, cov)
			case "html":
				return report.WriteHTML(w, cov)
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text, json or html")
	return cmd
}
