package cmd

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/config"
	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-social-crawler/internal/orchestrator"
)

type fakeService struct {
	triggered []crawler.Platform
	failOn    crawler.Platform
	searched  []string
	opts      orchestrator.SearchOptions
}

func (f *fakeService) TriggerCrawl(_ context.Context, p crawler.Platform) (crawler.CrawlJob, error) {
	f.triggered = append(f.triggered, p)
	job := crawler.CrawlJob{ID: "job-" + string(p), Platform: p, Status: crawler.JobStatusCompleted}
	if p == f.failOn {
		job.Status = crawler.JobStatusFailed
		return job, errors.New("provider down")
	}
	return job, nil
}

func (f *fakeService) RunScheduled(context.Context) (orchestrator.Summary, error) {
	return orchestrator.Summary{Due: 2, Completed: 2}, nil
}

func (f *fakeService) SearchKeywords(_ context.Context, keywords []string, platforms []crawler.Platform, opts orchestrator.SearchOptions) ([]orchestrator.PlatformResult, error) {
	f.searched = keywords
	f.opts = opts
	out := make([]orchestrator.PlatformResult, 0, len(platforms))
	for _, p := range platforms {
		out = append(out, orchestrator.PlatformResult{Platform: p, Posts: []crawler.SocialPost{}})
	}
	return out, nil
}

type fakeApp struct {
	svc    *fakeService
	closed bool
	ran    bool
}

func (a *fakeApp) Run(context.Context) error   { a.ran = true; return nil }
func (a *fakeApp) Close(context.Context) error { a.closed = true; return nil }
func (a *fakeApp) Logger() *zap.Logger         { return zap.NewNop() }
func (a *fakeApp) Service() Service            { return a.svc }

func useFakeApp(t *testing.T) *fakeApp {
	t.Helper()
	app := &fakeApp{svc: &fakeService{}}
	orig := newApp
	newApp = func(context.Context, config.Config) (App, error) { return app, nil }
	t.Cleanup(func() { newApp = orig })
	return app
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlPlatforms(t *testing.T) {
	app := useFakeApp(t)

	out, err := execute(t, "crawl", "reddit", "telegram")
	require.NoError(t, err)

	var jobs []crawler.CrawlJob
	require.NoError(t, json.Unmarshal([]byte(out), &jobs))
	require.Len(t, jobs, 2)
	assert.Equal(t, []crawler.Platform{crawler.PlatformReddit, crawler.PlatformTelegram}, app.svc.triggered)
	assert.True(t, app.closed)
}

func TestCrawlReportsFailures(t *testing.T) {
	app := useFakeApp(t)
	app.svc.failOn = crawler.PlatformTwitter

	out, err := execute(t, "crawl", "twitter", "reddit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 crawls failed")
	assert.Contains(t, out, "job-twitter")
}

func TestCrawlDue(t *testing.T) {
	useFakeApp(t)

	out, err := execute(t, "crawl", "--due")
	require.NoError(t, err)
	var summary orchestrator.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 2, summary.Completed)
}

func TestCrawlArgumentErrors(t *testing.T) {
	useFakeApp(t)

	_, err := execute(t, "crawl")
	require.Error(t, err)
	_, err = execute(t, "crawl", "--due", "reddit")
	require.Error(t, err)
	_, err = execute(t, "crawl", "mastodon")
	require.Error(t, err)
}

func TestSearch(t *testing.T) {
	app := useFakeApp(t)

	out, err := execute(t, "search", "--keywords", "defi,hack", "--platforms", "reddit", "--max", "5", "--lookback", "2h")
	require.NoError(t, err)

	var results []orchestrator.PlatformResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, crawler.PlatformReddit, results[0].Platform)
	assert.Equal(t, []string{"defi", "hack"}, app.svc.searched)
	assert.Equal(t, 5, app.svc.opts.MaxResults)
	assert.Equal(t, "2h0m0s", app.svc.opts.Lookback.String())

	_, err = execute(t, "search")
	require.Error(t, err)
}

func TestServeRunsApp(t *testing.T) {
	app := useFakeApp(t)

	_, err := execute(t, "serve")
	require.NoError(t, err)
	assert.True(t, app.ran)
}

func TestConfigFileErrors(t *testing.T) {
	useFakeApp(t)

	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "crawl", "reddit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db:\n  dsn: postgres://crawler@localhost/crawler\n"), 0o600))

	var gotDSN, gotCommand string
	origOpen, origRun := openDB, runMigration
	openDB = func(dsn string) (*sql.DB, error) {
		gotDSN = dsn
		return sql.Open("pgx", dsn)
	}
	runMigration = func(_ *sql.DB, command string) error {
		gotCommand = command
		return nil
	}
	t.Cleanup(func() { openDB, runMigration = origOpen, origRun })

	out, err := execute(t, "--config", path, "migrate", "status")
	require.NoError(t, err)
	assert.Equal(t, "postgres://crawler@localhost/crawler", gotDSN)
	assert.Equal(t, "status", gotCommand)
	assert.Contains(t, out, "migrate status: ok")

	_, err = execute(t, "--config", path, "migrate", "sideways")
	require.Error(t, err)
}

func TestMigrateRequiresDSN(t *testing.T) {
	_, err := execute(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db.dsn")
}
