package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/FranksOps/newsthumb/internal/ingest"
)

func (c *cli) collectCmd() *cobra.Command {
	var (
		keywordsFile string
		sitemap      string
		tag          string
		resolve      bool
		limit        int
	)
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect articles from the news feed or a publisher sitemap",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			var sum ingest.Summary
			if sitemap != "" {
				src := ingest.NewSitemapSource(p.fetcher, store, c.logger)
				src.Limit = limit
				sum, err = src.Collect(ctx, sitemap, tag)
			} else {
				path := keywordsFile
				if path == "" {
					path = c.cfg.Collect.KeywordsFile
				}
				keywords, kerr := ingest.LoadKeywords(path)
				if kerr != nil {
					return kerr
				}
				collector := ingest.NewCollector(p.fetcher, p.resolver, store, ingest.Config{
					FeedURL:       c.cfg.Collect.FeedURL,
					MaxPerKeyword: c.cfg.Collect.MaxPerKeyword,
					KeywordDelay:  c.cfg.Collect.KeywordDelay,
					ResolveImages: resolve || c.cfg.Collect.ResolveImages,
					Logger:        c.logger,
				})
				sum, err = collector.Collect(ctx, keywords)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(sum); encErr != nil {
				return fmt.Errorf("write summary: %w", encErr)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&keywordsFile, "keywords", "", "YAML keyword file (default collect.keywords_file or the built-in list)")
	cmd.Flags().StringVar(&sitemap, "sitemap", "", "collect from this sitemap URL or site origin instead of the news feed")
	cmd.Flags().StringVar(&tag, "tag", "", "keyword recorded on sitemap articles")
	cmd.Flags().BoolVar(&resolve, "resolve", false, "resolve thumbnails while collecting")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum sitemap articles to store (0 = all)")
	return cmd
}
