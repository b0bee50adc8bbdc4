package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlatform(t *testing.T) {
	t.Parallel()

	p, err := ParsePlatform(" Reddit ")
	require.NoError(t, err)
	assert.Equal(t, PlatformReddit, p)

	_, err = ParsePlatform("myspace")
	assert.Error(t, err)
}

func TestCrawlerConfigDue(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, CrawlerConfig{Enabled: true}.Due(now))
	assert.True(t, CrawlerConfig{Enabled: true, NextRunAt: &past}.Due(now))
	assert.True(t, CrawlerConfig{Enabled: true, NextRunAt: &now}.Due(now))
	assert.False(t, CrawlerConfig{Enabled: true, NextRunAt: &future}.Due(now))
	assert.False(t, CrawlerConfig{Enabled: false}.Due(now))
}

func TestKeywordRuleAppliesTo(t *testing.T) {
	t.Parallel()

	all := KeywordRule{}
	assert.True(t, all.AppliesTo(PlatformTelegram))

	redditOnly := KeywordRule{Platforms: []Platform{PlatformReddit}}
	assert.True(t, redditOnly.AppliesTo(PlatformReddit))
	assert.False(t, redditOnly.AppliesTo(PlatformTwitter))
}

func TestPriorityRank(t *testing.T) {
	t.Parallel()

	assert.Greater(t, PriorityCritical.Rank(), PriorityHigh.Rank())
	assert.Greater(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	assert.Greater(t, PriorityMedium.Rank(), PriorityLow.Rank())
	assert.Zero(t, Priority("urgent").Rank())
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	rl := &ProviderError{Kind: KindRateLimited, Platform: PlatformTwitter, Endpoint: "tweets/search/recent"}
	wrapped := fmt.Errorf("crawl: %w", rl)

	assert.Equal(t, KindRateLimited, KindOf(wrapped))
	assert.Equal(t, KindTransient, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("lookup: %w", ErrNotFound)))
	assert.Equal(t, KindFatal, KindOf(errors.New("boom")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))

	pe, ok := AsProviderError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "tweets/search/recent", pe.Endpoint)
}

func TestProviderErrorMessage(t *testing.T) {
	t.Parallel()

	err := &ProviderError{
		Kind:       KindTransient,
		Platform:   PlatformReddit,
		Endpoint:   "search",
		StatusCode: 503,
		Message:    "service unavailable",
	}
	assert.Equal(t, "reddit search: transient (status 503): service unavailable", err.Error())

	inner := errors.New("dial tcp: refused")
	err = &ProviderError{Kind: KindTransient, Platform: PlatformReddit, Endpoint: "search", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "dial tcp")

	err = &ProviderError{Kind: KindTransient, Platform: PlatformReddit, Endpoint: "search", Message: "rate limit check failed", Err: inner}
	assert.Equal(t, "reddit search: transient: rate limit check failed: dial tcp: refused", err.Error())

	err = NewFatal(PlatformTwitter, "", ErrNoActiveRules)
	assert.Equal(t, "twitter: fatal: no active keyword rules", err.Error())
}
