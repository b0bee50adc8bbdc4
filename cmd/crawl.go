package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
)

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var due bool
	cmd := &cobra.Command{
		Use:   "crawl [platform...]",
		Short: "Crawl platforms once",
		Long: `Runs a manual crawl of each named platform and prints the resulting jobs
as JSON. With --due, runs one scheduled pass over every platform whose
next run time has passed instead.`,
		ValidArgs: []string{"twitter", "reddit", "telegram"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if due && len(args) > 0 {
				return errors.New("--due does not take platform arguments")
			}
			if !due && len(args) == 0 {
				return errors.New("name at least one platform or pass --due")
			}
			platforms := make([]crawler.Platform, 0, len(args))
			for _, arg := range args {
				p, err := crawler.ParsePlatform(arg)
				if err != nil {
					return err
				}
				platforms = append(platforms, p)
			}
			return withApp(cmd, func(app App) error {
				if due {
					summary, err := app.Service().RunScheduled(cmd.Context())
					if err != nil {
						return fmt.Errorf("scheduled pass: %w", err)
					}
					return printJSON(cmd.OutOrStdout(), summary)
				}
				return crawlPlatforms(cmd, app, platforms)
			})
		},
	}
	cmd.Flags().BoolVar(&due, "due", false, "run one scheduled pass over due platforms")
	return cmd
}

func crawlPlatforms(cmd *cobra.Command, app App, platforms []crawler.Platform) error {
	jobs := make([]crawler.CrawlJob, 0, len(platforms))
	var failed int
	for _, p := range platforms {
		job, err := app.Service().TriggerCrawl(cmd.Context(), p)
		if err != nil {
			failed++
			app.Logger().Error("crawl failed", zap.String("platform", string(p)), zap.Error(err))
		}
		if job.ID != "" {
			jobs = append(jobs, job)
		}
	}
	if err := printJSON(cmd.OutOrStdout(), jobs); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d crawls failed", failed, len(platforms))
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
