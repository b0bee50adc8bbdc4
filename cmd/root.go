// Package cmd defines the CLI commands of the social crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/config"
	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-social-crawler/internal/orchestrator"
	"github.com/JakeFAU/realtime-social-crawler/internal/server"
)

// configKeyType is the key for storing the loaded Config in the context.
type configKeyType string

const configKey configKeyType = "config"

// Service is the orchestration surface used by the one-shot commands.
type Service interface {
	TriggerCrawl(ctx context.Context, platform crawler.Platform) (crawler.CrawlJob, error)
	RunScheduled(ctx context.Context) (orchestrator.Summary, error)
	SearchKeywords(ctx context.Context, keywords []string, platforms []crawler.Platform, opts orchestrator.SearchOptions) ([]orchestrator.PlatformResult, error)
}

// App defines the application interface that commands use.
// Tests inject a fake through newApp.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Logger() *zap.Logger
	Service() Service
}

type serverApp struct {
	*server.App
}

func (a serverApp) Service() Service { return a.App.Service() }

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return serverApp{app}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "socialcrawler",
		Short: "Keyword-driven crawler for Twitter, Reddit and Telegram.",
		Long: `socialcrawler polls Twitter, Reddit and Telegram for posts matching
configured keyword rules, scores them and stores them with an audit trail of
crawl jobs. It runs as a scheduled service with an ops API, or as one-shot
crawl and search commands.`,
		SilenceUsage: true,

		// Config is loaded before every subcommand; services are built by the
		// commands that need them.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd
}

// Execute is the main entry point.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// withApp builds the application, runs fn and closes the application.
func withApp(cmd *cobra.Command, fn func(App) error) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	app, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 10*time.Second)
		defer cancel()
		if cerr := app.Close(closeCtx); cerr != nil {
			app.Logger().Warn("failed to close application", zap.Error(cerr))
		}
	}()
	return fn(app)
}
