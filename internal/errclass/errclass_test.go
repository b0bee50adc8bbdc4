package errclass

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	ttlmemory "github.com/JakeFAU/realtime-social-crawler/internal/ttl/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type captureSink struct {
	mu     sync.Mutex
	alerts []crawler.Alert
	err    error
}

func (s *captureSink) Alert(_ context.Context, a crawler.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return s.err
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func newTracker(t *testing.T, opts ...Option) (*Tracker, *fakeClock, *ttlmemory.Store) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 1, 15, 12, 30, 0, 0, time.UTC)}
	store := ttlmemory.New(ttlmemory.WithNow(clock.Now))
	tr, err := NewTracker(store, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return tr, clock, store
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		platform crawler.Platform
		want     bool
	}{
		{"nil", nil, crawler.PlatformReddit, false},
		{"transient kind", &crawler.ProviderError{Kind: crawler.KindTransient}, crawler.PlatformReddit, true},
		{"rate limited kind", &crawler.ProviderError{Kind: crawler.KindRateLimited}, crawler.PlatformTwitter, true},
		{"auth kind", &crawler.ProviderError{Kind: crawler.KindAuth, StatusCode: 503}, crawler.PlatformTwitter, false},
		{"not found kind", &crawler.ProviderError{Kind: crawler.KindNotFound, Message: "timeout"}, crawler.PlatformTelegram, false},
		{"fatal kind", crawler.NewFatal(crawler.PlatformReddit, "search", errors.New("bad request")), crawler.PlatformReddit, false},
		{"wrapped transient", fmt.Errorf("crawl: %w", &crawler.ProviderError{Kind: crawler.KindTransient}), crawler.PlatformReddit, true},
		{"untyped status", &crawler.ProviderError{StatusCode: 522}, crawler.PlatformReddit, true},
		{"deadline", context.DeadlineExceeded, crawler.PlatformReddit, true},
		{"net timeout", timeoutErr{}, crawler.PlatformReddit, true},
		{"telegram flood wait", errors.New("Flood wait of 30 seconds"), crawler.PlatformTelegram, true},
		{"phrase for other platform", errors.New("flood wait"), crawler.PlatformReddit, false},
		{"canceled", context.Canceled, crawler.PlatformReddit, false},
		{"plain", errors.New("boom"), crawler.PlatformTwitter, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err, tt.platform))
		})
	}
}

func TestRetryDelayBackoffGrowthAndCap(t *testing.T) {
	err := &crawler.ProviderError{Kind: crawler.KindTransient}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 6; attempt++ {
		base := 60 * time.Second * time.Duration(1<<(attempt-1))
		got := RetryDelay(attempt, crawler.PlatformReddit, err)
		assert.GreaterOrEqual(t, got, min(base, MaxRetryDelay), "attempt %d", attempt)
		assert.LessOrEqual(t, got, min(base+base/10, MaxRetryDelay), "attempt %d", attempt)
		assert.GreaterOrEqual(t, got, prev, "attempt %d", attempt)
		prev = got
	}

	for _, attempt := range []int{7, 10, 100} {
		assert.Equal(t, MaxRetryDelay, RetryDelay(attempt, crawler.PlatformTelegram, err))
	}

	got := RetryDelay(0, crawler.PlatformTelegram, err)
	assert.GreaterOrEqual(t, got, 180*time.Second)
	assert.LessOrEqual(t, got, 198*time.Second)
}

func TestRetryDelayRateLimit(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		platform crawler.Platform
		want     time.Duration
	}{
		{"typed retry after", &crawler.ProviderError{Kind: crawler.KindRateLimited, RetryAfter: 42 * time.Second}, crawler.PlatformTwitter, 42 * time.Second},
		{"message wait", errors.New("rate limit: please wait 17 seconds"), crawler.PlatformReddit, 17 * time.Second},
		{"message retry after", &crawler.ProviderError{Kind: crawler.KindRateLimited, Message: "Too Many Requests: retry after 35"}, crawler.PlatformTelegram, 35 * time.Second},
		{"twitter default", &crawler.ProviderError{Kind: crawler.KindRateLimited}, crawler.PlatformTwitter, 15 * time.Minute},
		{"reddit default", &crawler.ProviderError{StatusCode: 429}, crawler.PlatformReddit, 10 * time.Minute},
		{"telegram default", errors.New("too many requests"), crawler.PlatformTelegram, 30 * time.Minute},
		{"capped hint", &crawler.ProviderError{Kind: crawler.KindRateLimited, RetryAfter: 3 * time.Hour}, crawler.PlatformTwitter, MaxRetryDelay},
		{"capped message hint", errors.New("rate limit: retry after 99999999999"), crawler.PlatformTwitter, MaxRetryDelay},
		{"out of range message hint", errors.New("rate limit: wait 99999999999999999999999 seconds"), crawler.PlatformReddit, MaxRetryDelay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RetryDelay(3, tt.platform, tt.err))
		})
	}
}

func TestAlertThresholdConsecutiveFailures(t *testing.T) {
	sink := &captureSink{}
	th := DefaultThresholds()
	th.ErrorRate = 0
	tr, _, _ := newTracker(t, WithAlertSink(sink), WithThresholds(th))
	ctx := context.Background()
	boom := &crawler.ProviderError{Kind: crawler.KindTransient, Platform: crawler.PlatformReddit, Message: "bad gateway", StatusCode: 502}

	for i := 0; i < 4; i++ {
		tr.RecordError(ctx, crawler.PlatformReddit, "crawl", boom)
		assert.False(t, tr.ShouldAlert(ctx, crawler.PlatformReddit, "crawl"), "after %d failures", i+1)
	}
	tr.RecordError(ctx, crawler.PlatformReddit, "crawl", boom)
	assert.True(t, tr.ShouldAlert(ctx, crawler.PlatformReddit, "crawl"))
	assert.EqualValues(t, 5, tr.ConsecutiveFailures(ctx, crawler.PlatformReddit))

	tr.RecordSuccess(ctx, crawler.PlatformReddit)
	assert.False(t, tr.ShouldAlert(ctx, crawler.PlatformReddit, "crawl"))
	assert.Zero(t, tr.ConsecutiveFailures(ctx, crawler.PlatformReddit))
	assert.Zero(t, sink.count())
}

func TestAlertCooldown(t *testing.T) {
	sink := &captureSink{err: errors.New("sink down")}
	tr, clock, _ := newTracker(t, WithAlertSink(sink))
	ctx := context.Background()
	boom := errors.New("service unavailable")

	for i := 0; i < 5; i++ {
		tr.RecordError(ctx, crawler.PlatformTwitter, "crawl", boom)
	}
	assert.True(t, tr.Alert(ctx, crawler.PlatformTwitter, "crawl", boom))
	assert.False(t, tr.Alert(ctx, crawler.PlatformTwitter, "crawl", boom))
	assert.False(t, tr.ShouldAlert(ctx, crawler.PlatformTwitter, "crawl"))
	require.Equal(t, 1, sink.count())

	got := sink.alerts[0]
	assert.Equal(t, crawler.PlatformTwitter, got.Platform)
	assert.Equal(t, "service unavailable", got.Message)
	assert.EqualValues(t, 5, got.ConsecutiveFailures)
	assert.EqualValues(t, 5, got.ErrorsLastHour)

	clock.Advance(time.Hour)
	tr.RecordError(ctx, crawler.PlatformTwitter, "crawl", boom)
	assert.True(t, tr.Alert(ctx, crawler.PlatformTwitter, "crawl", boom))
	assert.Equal(t, 2, sink.count())
}

func TestAlertErrorRateAlone(t *testing.T) {
	th := DefaultThresholds()
	th.ConsecutiveFailures = 0
	tr, _, _ := newTracker(t, WithThresholds(th))
	ctx := context.Background()
	boom := errors.New("boom")

	tr.RecordSuccess(ctx, crawler.PlatformTelegram)
	tr.RecordSuccess(ctx, crawler.PlatformTelegram)
	tr.RecordError(ctx, crawler.PlatformTelegram, "crawl", boom)
	assert.False(t, tr.ShouldAlert(ctx, crawler.PlatformTelegram, "crawl"), "1 of 3 failed")

	for i := 0; i < 3; i++ {
		tr.RecordError(ctx, crawler.PlatformTelegram, "crawl", boom)
	}
	assert.True(t, tr.ShouldAlert(ctx, crawler.PlatformTelegram, "crawl"), "4 of 6 failed")
}

func TestAlertErrorRateOptionalFloor(t *testing.T) {
	th := DefaultThresholds()
	th.ConsecutiveFailures = 0
	th.MinSamples = 10
	tr, _, _ := newTracker(t, WithThresholds(th))
	ctx := context.Background()
	boom := errors.New("boom")

	for i := 0; i < 4; i++ {
		tr.RecordError(ctx, crawler.PlatformTelegram, "crawl", boom)
		tr.RecordSuccess(ctx, crawler.PlatformTelegram)
	}
	assert.False(t, tr.ShouldAlert(ctx, crawler.PlatformTelegram, "crawl"))

	tr.RecordError(ctx, crawler.PlatformTelegram, "crawl", boom)
	tr.RecordSuccess(ctx, crawler.PlatformTelegram)
	assert.True(t, tr.ShouldAlert(ctx, crawler.PlatformTelegram, "crawl"))
}

func TestRecordErrorKeys(t *testing.T) {
	tr, clock, store := newTracker(t)
	ctx := context.Background()

	tr.RecordError(ctx, crawler.PlatformReddit, "search", errors.New("boom"))

	v, ok, err := store.Get(ctx, "crawler_errors:reddit:search:2025-01-15-12")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok, err = store.Get(ctx, "crawler_errors:reddit:search:2025-01-15")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(2 * time.Hour)
	_, ok, err = store.Get(ctx, "crawler_errors:reddit:search:2025-01-15-12")
	require.NoError(t, err)
	assert.False(t, ok)

	recent, err := store.Range(ctx, "crawler_recent_errors:reddit", 0)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestStats(t *testing.T) {
	tr, clock, _ := newTracker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tr.RecordError(ctx, crawler.PlatformReddit, "crawl", errors.New("bad gateway"))
	}
	clock.Advance(90 * time.Minute)
	tr.RecordError(ctx, crawler.PlatformReddit, "crawl", errors.New("timeout"))

	stats := tr.Stats(ctx, crawler.PlatformReddit, 3)
	assert.Equal(t, 4, stats.TotalErrors)
	assert.InDelta(t, 4.0/3.0, stats.ErrorsPerHour, 1e-9)
	assert.EqualValues(t, 4, stats.ConsecutiveFailures)
	require.Len(t, stats.MostCommonErrors, 2)
	assert.Equal(t, MessageCount{Message: "bad gateway", Count: 3}, stats.MostCommonErrors[0])
	require.Len(t, stats.Trend, 3)
	assert.Equal(t, []int{0, 3, 1}, []int{stats.Trend[0].Count, stats.Trend[1].Count, stats.Trend[2].Count})

	empty := tr.Stats(ctx, crawler.PlatformTwitter, 0)
	assert.Zero(t, empty.TotalErrors)
	assert.Len(t, empty.Trend, 24)
}
