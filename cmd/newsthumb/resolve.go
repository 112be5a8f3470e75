package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/FranksOps/newsthumb/internal/thumbnail"
)

func (c *cli) resolveCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "resolve <url>...",
		Short: "Resolve a thumbnail for each URL",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.newPipeline()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			for _, raw := range args {
				img := p.resolver.ResolveThumbnail(cmd.Context(), raw)
				if asJSON {
					if err := enc.Encode(struct {
						Input string `json:"input"`
						thumbnail.Image
					}{raw, img}); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(out, "%s\t%s\t%s\n", raw, img.Kind, img.Src())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per URL")
	return cmd
}

func (c *cli) unwrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unwrap <url>...",
		Short: "Print the publisher URL behind each aggregator or redirect link",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.newPipeline()
			if err != nil {
				return err
			}
			for _, raw := range args {
				fmt.Fprintln(cmd.OutOrStdout(), p.resolver.Unwrap(cmd.Context(), raw))
			}
			return nil
		},
	}
}

func (c *cli) placeholderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "placeholder <url>...",
		Short: "Print the placeholder data URI for each URL",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.newPipeline()
			if err != nil {
				return err
			}
			for _, raw := range args {
				img := p.resolver.SynthesizePlaceholder(raw)
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", img.Domain, img.DataURI)
			}
			return nil
		},
	}
}
