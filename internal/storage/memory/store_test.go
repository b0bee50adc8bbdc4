package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
)

var fixedNow = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func newStore() *Store {
	return NewStore(WithNow(func() time.Time { return fixedNow }))
}

func TestUpsertPostIsIdempotent(t *testing.T) {
	t.Parallel()
	s := newStore()
	ctx := context.Background()

	post := crawler.RawPost{
		ExternalID:      "abc",
		Platform:        crawler.PlatformReddit,
		Content:         "original",
		EngagementCount: 10,
		PublishedAt:     fixedNow.Add(-time.Hour),
	}
	first, created, err := s.UpsertPost(ctx, post)
	require.NoError(t, err)
	assert.True(t, created)

	post.Content = "edited"
	post.EngagementCount = 25
	post.CommentCount = 3
	second, created, err := s.UpsertPost(ctx, post)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "original", second.Content, "only counters change on re-sighting")
	assert.EqualValues(t, 25, second.EngagementCount)
	assert.EqualValues(t, 3, second.CommentCount)
	assert.Len(t, s.Posts(), 1)

	other := post
	other.Platform = crawler.PlatformTwitter
	_, created, err = s.UpsertPost(ctx, other)
	require.NoError(t, err)
	assert.True(t, created, "external ids are scoped by platform")
}

func TestActiveRulesOrderAndFilter(t *testing.T) {
	t.Parallel()
	s := newStore()
	low := s.PutRule(crawler.KeywordRule{Name: "low", Priority: crawler.PriorityLow, Active: true})
	crit := s.PutRule(crawler.KeywordRule{Name: "crit", Priority: crawler.PriorityCritical, Active: true, Platforms: []crawler.Platform{crawler.PlatformReddit}})
	s.PutRule(crawler.KeywordRule{Name: "inactive", Priority: crawler.PriorityHigh})
	s.PutRule(crawler.KeywordRule{Name: "twitter", Priority: crawler.PriorityHigh, Active: true, Platforms: []crawler.Platform{crawler.PlatformTwitter}})

	rules, err := s.ActiveRules(context.Background(), crawler.PlatformReddit)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, crit.ID, rules[0].ID)
	assert.Equal(t, low.ID, rules[1].ID)
}

func TestMatchesReferenceExistingRows(t *testing.T) {
	t.Parallel()
	s := newStore()
	ctx := context.Background()
	rule := s.PutRule(crawler.KeywordRule{Name: "r", Active: true})
	post, _, err := s.UpsertPost(ctx, crawler.RawPost{ExternalID: "1", Platform: crawler.PlatformReddit, PublishedAt: fixedNow})
	require.NoError(t, err)

	match := crawler.KeywordMatch{PostID: post.ID, RuleID: rule.ID, Keyword: "defi", MatchCount: 2}
	require.NoError(t, s.InsertMatches(ctx, []crawler.KeywordMatch{match, match}))
	assert.Len(t, s.Matches(), 1)

	err = s.InsertMatches(ctx, []crawler.KeywordMatch{{PostID: 999, RuleID: rule.ID, Keyword: "x"}})
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestConfigScheduling(t *testing.T) {
	t.Parallel()
	s := newStore()
	ctx := context.Background()
	later := fixedNow.Add(time.Hour)
	due := s.PutConfig(crawler.CrawlerConfig{Platform: crawler.PlatformReddit, Enabled: true})
	s.PutConfig(crawler.CrawlerConfig{Platform: crawler.PlatformTwitter, Enabled: true, NextRunAt: &later})
	s.PutConfig(crawler.CrawlerConfig{Platform: crawler.PlatformTelegram})

	configs, err := s.DueConfigs(ctx, fixedNow)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, due.ID, configs[0].ID)
	assert.Equal(t, time.Hour, configs[0].Cadence)

	require.NoError(t, s.MarkRun(ctx, due.ID, fixedNow, later))
	configs, err = s.DueConfigs(ctx, fixedNow)
	require.NoError(t, err)
	assert.Empty(t, configs)

	require.NoError(t, s.Reschedule(ctx, due.ID, fixedNow.Add(-time.Minute)))
	cfg, err := s.GetConfig(ctx, crawler.PlatformReddit)
	require.NoError(t, err)
	assert.True(t, cfg.LastRunAt.Equal(fixedNow))
	assert.True(t, cfg.NextRunAt.Equal(fixedNow.Add(-time.Minute)))

	_, err = s.GetConfig(ctx, "myspace")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestJobLifecycle(t *testing.T) {
	t.Parallel()
	s := newStore()
	ctx := context.Background()
	started := fixedNow
	job := crawler.CrawlJob{ID: "job-1", Platform: crawler.PlatformReddit, Status: crawler.JobStatusRunning, StartedAt: &started}
	require.NoError(t, s.CreateJob(ctx, job))
	require.Error(t, s.CreateJob(ctx, job))

	job.PostsFound, job.PostsProcessed = 1, 2
	require.Error(t, s.UpdateJob(ctx, job), "processed cannot exceed found")

	job.PostsFound = 2
	job.Status = crawler.JobStatusCompleted
	job.Stats.ProcessingTimeMs = 40
	require.NoError(t, s.UpdateJob(ctx, job))
	require.Error(t, s.UpdateJob(ctx, job), "terminal jobs are immutable")

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusCompleted, got.Status)

	stats, err := s.Statistics(ctx, fixedNow.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.JobsByStatus[crawler.JobStatusCompleted])
	assert.InDelta(t, 40, stats.AvgProcessingMs, 0.001)
}

func TestStatisticsAndActivity(t *testing.T) {
	t.Parallel()
	s := newStore()
	ctx := context.Background()
	rule := s.PutRule(crawler.KeywordRule{Name: "r", Active: true})
	a, _, _ := s.UpsertPost(ctx, crawler.RawPost{ExternalID: "a", Platform: crawler.PlatformReddit, PublishedAt: fixedNow, EngagementCount: 10, CommentCount: 5})
	b, _, _ := s.UpsertPost(ctx, crawler.RawPost{ExternalID: "b", Platform: crawler.PlatformTwitter, PublishedAt: fixedNow, ShareCount: 4})
	require.NoError(t, s.SaveAnalysis(ctx, a.ID, crawler.PostAnalysis{MatchedKeywords: []string{"defi"}, RelevanceScore: 0.6}))
	require.NoError(t, s.SaveAnalysis(ctx, b.ID, crawler.PostAnalysis{RelevanceScore: 0.2}))
	require.NoError(t, s.InsertMatches(ctx, []crawler.KeywordMatch{
		{PostID: a.ID, RuleID: rule.ID, Keyword: "defi"},
		{PostID: a.ID, RuleID: rule.ID, Keyword: "hack"},
		{PostID: b.ID, RuleID: rule.ID, Keyword: "defi"},
	}))

	activity, err := s.KeywordActivity(ctx, "", fixedNow.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, activity, 2)
	assert.Equal(t, crawler.KeywordActivity{Keyword: "defi", Mentions: 2, Engagement: 19}, activity[0])

	reddit, err := s.KeywordActivity(ctx, crawler.PlatformReddit, fixedNow.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, reddit, 2)

	stats, err := s.Statistics(ctx, fixedNow.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalPosts)
	assert.Equal(t, 2, stats.ProcessedPosts)
	assert.Equal(t, 3, stats.KeywordMatches)
	assert.InDelta(t, 0.4, stats.AvgRelevance, 0.0001)
	assert.Equal(t, 1, stats.PostsByPlatform[crawler.PlatformTwitter])

	_, _, err = s.UpsertPost(ctx, crawler.RawPost{Platform: crawler.PlatformReddit})
	require.Error(t, err, "external id is required")
}

func TestRecordWindowUpsertsAndAggregates(t *testing.T) {
	t.Parallel()
	s := newStore()
	ctx := context.Background()
	start := fixedNow.Truncate(time.Minute)
	w := crawler.RateLimitWindow{
		Platform: crawler.PlatformReddit, Endpoint: "search", APIKeyHash: "h",
		RequestsMade: 5, RequestsLimit: 100, WindowStart: start, WindowEnd: start.Add(10 * time.Minute),
	}
	require.NoError(t, s.RecordWindow(ctx, w))
	w.RequestsMade = 3
	require.NoError(t, s.RecordWindow(ctx, w))
	w.RequestsMade = 100
	w.Exceeded = true
	require.NoError(t, s.RecordWindow(ctx, w))

	other := w
	other.Endpoint = "r/*/new"
	other.RequestsMade = 7
	other.Exceeded = false
	require.NoError(t, s.RecordWindow(ctx, other))

	stats, err := s.WindowStatistics(ctx, fixedNow.Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 107, stats.TotalRequests)
	assert.EqualValues(t, 1, stats.ExceededWindows)
	assert.EqualValues(t, 107, stats.ByPlatform[crawler.PlatformReddit])
	require.Len(t, stats.ByEndpoint, 2)
	assert.Equal(t, "search", stats.ByEndpoint[0].Endpoint)
	assert.EqualValues(t, 1, stats.ByEndpoint[0].Windows)
}
