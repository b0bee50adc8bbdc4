package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestUpsertPostReportsInsert(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	published := time.Unix(1700000000, 0).UTC()
	created := published.Add(time.Minute)
	post := crawler.RawPost{
		ExternalID:      "abc",
		Platform:        crawler.PlatformReddit,
		SourceURL:       "https://reddit.com/r/defi/abc",
		AuthorUsername:  "alice",
		Content:         "defi hack",
		EngagementCount: 10,
		PublishedAt:     published,
	}

	for _, inserted := range []bool{true, false} {
		mock.ExpectQuery("INSERT INTO social_posts").
			WithArgs("reddit", "abc", post.SourceURL, "", "alice", "", "defi hack", []string{}, int64(10), int64(0), int64(0), published, []byte(nil)).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at", "is_processed", "relevance_score", "inserted"}).
				AddRow(int64(7), created, created, !inserted, 0.5, inserted))
	}

	first, created1, err := store.UpsertPost(context.Background(), post)
	require.NoError(t, err)
	assert.True(t, created1)
	assert.EqualValues(t, 7, first.ID)

	second, created2, err := store.UpsertPost(context.Background(), post)
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.IsProcessed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPostRequiresExternalID(t *testing.T) {
	t.Parallel()
	store, _ := newMockStore(t)
	_, _, err := store.UpsertPost(context.Background(), crawler.RawPost{Platform: crawler.PlatformTwitter})
	require.Error(t, err)
}

func TestActiveRulesScansRows(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	cols := []string{"id", "name", "keywords", "exclude_keywords", "platforms", "priority", "match_type", "case_sensitive", "require_sentiment", "is_active"}
	mock.ExpectQuery("FROM keyword_rules").
		WithArgs("reddit").
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(int64(2), "security", []string{"hack", "exploit"}, []string{"lifehack"}, []string{"reddit"}, "critical", "any", false, false, true).
			AddRow(int64(1), "defi", []string{"defi"}, []string{}, []string{}, "low", "all", true, false, true))

	rules, err := store.ActiveRules(context.Background(), crawler.PlatformReddit)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, crawler.PriorityCritical, rules[0].Priority)
	assert.Equal(t, []crawler.Platform{crawler.PlatformReddit}, rules[0].Platforms)
	assert.Equal(t, crawler.MatchAll, rules[1].MatchType)
	assert.Empty(t, rules[1].Platforms)
	assert.True(t, rules[1].CaseSensitive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDueConfigsDecodesCadenceAndSettings(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	last := now.Add(-2 * time.Hour)

	cols := []string{"id", "name", "platform", "enabled", "max_results_per_run", "rate_limit_per_hour", "cadence_seconds", "last_run_at", "next_run_at", "settings"}
	mock.ExpectQuery("FROM crawler_configs").
		WithArgs(now).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(int64(1), "Reddit", "reddit", true, 100, 600, int64(1800), &last, nil, []byte(`{"subreddits":["defi"]}`)))

	configs, err := store.DueConfigs(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	cfg := configs[0]
	assert.Equal(t, crawler.PlatformReddit, cfg.Platform)
	assert.Equal(t, 30*time.Minute, cfg.Cadence)
	require.NotNil(t, cfg.LastRunAt)
	assert.True(t, cfg.LastRunAt.Equal(last))
	assert.Nil(t, cfg.NextRunAt)
	assert.Equal(t, []any{"defi"}, cfg.Settings["subreddits"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetConfigNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM crawler_configs WHERE platform").
		WithArgs("telegram").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetConfig(context.Background(), crawler.PlatformTelegram)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestMarkRunMissingConfig(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE crawler_configs").
		WithArgs(now, now.Add(time.Hour), int64(99)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.MarkRun(context.Background(), 99, now, now.Add(time.Hour))
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestInsertMatchesIgnoresDuplicates(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	matches := []crawler.KeywordMatch{
		{PostID: 7, RuleID: 2, Keyword: "hack", MatchCount: 1, Positions: []int{5}, Confidence: 0.8},
		{PostID: 7, RuleID: 2, Keyword: "hack", MatchCount: 1, Positions: []int{5}, Confidence: 0.8},
	}
	mock.ExpectExec("ON CONFLICT \\(post_id, rule_id, keyword\\) DO NOTHING").
		WithArgs(int64(7), int64(2), "hack", 1, []int{5}, 0.8).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO keyword_matches").
		WithArgs(int64(7), int64(2), "hack", 1, []int{5}, 0.8).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, store.InsertMatches(context.Background(), matches))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobLifecycle(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	started := time.Unix(1700000000, 0).UTC()
	job := crawler.CrawlJob{
		ID:         "0192f0a0-0000-7000-8000-000000000001",
		ConfigID:   3,
		Platform:   crawler.PlatformTwitter,
		Type:       crawler.JobTypeScheduled,
		Parameters: map[string]any{"max_results": 100},
		Status:     crawler.JobStatusRunning,
		StartedAt:  &started,
	}
	params, err := json.Marshal(job.Parameters)
	require.NoError(t, err)
	stats, err := json.Marshal(job.Stats)
	require.NoError(t, err)

	configID := int64(3)
	mock.ExpectExec("INSERT INTO crawl_jobs").
		WithArgs(job.ID, &configID, "twitter", "scheduled", params, "running", &started, (*time.Time)(nil), 0, 0, []byte(nil), stats).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.CreateJob(context.Background(), job))

	job.Status = crawler.JobStatusCompleted
	job.PostsFound, job.PostsProcessed = 3, 2
	mock.ExpectExec("UPDATE crawl_jobs").
		WithArgs(pgxmock.AnyArg(), "completed", pgxmock.AnyArg(), pgxmock.AnyArg(), 3, 2, []byte(nil), pgxmock.AnyArg(), job.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.UpdateJob(context.Background(), job))

	mock.ExpectExec("UPDATE crawl_jobs").
		WithArgs(pgxmock.AnyArg(), "completed", pgxmock.AnyArg(), pgxmock.AnyArg(), 3, 2, []byte(nil), pgxmock.AnyArg(), job.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, store.UpdateJob(context.Background(), job), crawler.ErrNotFound)

	job.PostsProcessed = 4
	require.Error(t, store.UpdateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobDecodesJSONColumns(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	started := time.Unix(1700000000, 0).UTC()
	cols := []string{"id", "config_id", "platform", "job_type", "parameters", "status", "started_at", "completed_at", "posts_found", "posts_processed", "error", "stats"}
	mock.ExpectQuery("FROM crawl_jobs").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			"job-1", int64(0), "reddit", "manual", []byte(`{"keywords":["defi"]}`), "failed", &started, &started, 0, 0,
			[]byte(`{"kind":"auth","message":"token rejected","retryable":false,"attempt":1}`),
			[]byte(`{"failed_posts":0,"processing_time_ms":12}`),
		))

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, crawler.KindAuth, job.Error.Kind)
	assert.EqualValues(t, 12, job.Stats.ProcessingTimeMs)
	assert.Equal(t, []any{"defi"}, job.Parameters["keywords"])

	mock.ExpectQuery("FROM crawl_jobs").WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	_, err = store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestWindowStatisticsAggregates(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	since := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("FROM rate_limit_windows").
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows([]string{"platform", "endpoint", "total", "windows", "exceeded"}).
			AddRow("reddit", "search", int64(100), int64(2), int64(1)).
			AddRow("reddit", "r/*/new", int64(7), int64(1), int64(0)).
			AddRow("twitter", "tweets/search/recent", int64(3), int64(1), int64(0)))

	stats, err := store.WindowStatistics(context.Background(), since)
	require.NoError(t, err)
	assert.EqualValues(t, 110, stats.TotalRequests)
	assert.EqualValues(t, 1, stats.ExceededWindows)
	assert.EqualValues(t, 107, stats.ByPlatform[crawler.PlatformReddit])
	assert.Len(t, stats.ByEndpoint, 3)
}

func TestRecordWindowKeepsMax(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	start := time.Unix(1700000000, 0).UTC()
	w := crawler.RateLimitWindow{
		Platform: crawler.PlatformTelegram, Endpoint: "getUpdates", APIKeyHash: "h",
		RequestsMade: 4, RequestsLimit: 30, WindowStart: start, WindowEnd: start.Add(time.Minute),
	}
	mock.ExpectExec("GREATEST\\(rate_limit_windows.requests_made").
		WithArgs("telegram", "getUpdates", "h", 4, 30, start, start.Add(time.Minute), (*time.Time)(nil), false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.RecordWindow(context.Background(), w))
	require.NoError(t, mock.ExpectationsWereMet())
}
