package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-social-crawler/internal/orchestrator"
)

func newSearchCmd() *cobra.Command {
	var (
		keywords   []string
		platforms  []string
		maxResults int
		lookback   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search platforms for ad hoc keywords",
		Long: `Searches each platform for the given keywords, stores matching posts and
prints per-platform results as JSON. Searches never move the crawl schedule.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(keywords) == 0 {
				return errors.New("--keywords is required")
			}
			targets := make([]crawler.Platform, 0, len(platforms))
			for _, name := range platforms {
				p, err := crawler.ParsePlatform(name)
				if err != nil {
					return err
				}
				targets = append(targets, p)
			}
			return withApp(cmd, func(app App) error {
				results, err := app.Service().SearchKeywords(cmd.Context(), keywords, targets, orchestrator.SearchOptions{
					MaxResults: maxResults,
					Lookback:   lookback,
				})
				if err != nil {
					return fmt.Errorf("search: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), results)
			})
		},
	}
	cmd.Flags().StringSliceVar(&keywords, "keywords", nil, "comma-separated keywords")
	cmd.Flags().StringSliceVar(&platforms, "platforms", nil, "platforms to search (default all)")
	cmd.Flags().IntVar(&maxResults, "max", orchestrator.DefaultSearchResults, "maximum results per platform")
	cmd.Flags().DurationVar(&lookback, "lookback", orchestrator.DefaultLookback, "how far back to search")
	return cmd
}
