package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/clock/system"
	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-social-crawler/internal/metrics"
)

const (
	keyPrefix = "rate_limit:"

	defaultMirrorTimeout = 5 * time.Second
	minHold              = time.Second
)

// ErrNoAnalytics is returned by Statistics when no analytics log is wired.
var ErrNoAnalytics = errors.New("rate limit analytics not configured")

// Governor decides whether a provider call may be issued and records usage in a TTL store.
type Governor struct {
	store         crawler.TTLStore
	limits        Limits
	clock         crawler.Clock
	logger        *zap.Logger
	analytics     crawler.RateLimitLog
	keyHashes     map[crawler.Platform]string
	mirrorTimeout time.Duration

	wg sync.WaitGroup
}

// Option customizes a Governor.
type Option func(*Governor)

// WithClock overrides the time source.
func WithClock(c crawler.Clock) Option {
	return func(g *Governor) { g.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Governor) {
		if l != nil {
			g.logger = l.Named("ratelimit")
		}
	}
}

// WithAnalytics mirrors every window change into a durable log.
func WithAnalytics(log crawler.RateLimitLog) Option {
	return func(g *Governor) { g.analytics = log }
}

// WithFingerprint sets the credential hash recorded with analytics rows of a platform.
func WithFingerprint(platform crawler.Platform, keyHash string) Option {
	return func(g *Governor) { g.keyHashes[platform] = keyHash }
}

// WithMirrorTimeout bounds each analytics write.
func WithMirrorTimeout(d time.Duration) Option {
	return func(g *Governor) {
		if d > 0 {
			g.mirrorTimeout = d
		}
	}
}

// NewGovernor builds a Governor over store. A nil limits table uses DefaultLimits.
func NewGovernor(store crawler.TTLStore, limits Limits, opts ...Option) (*Governor, error) {
	if store == nil {
		return nil, errors.New("ttl store is required")
	}
	if limits == nil {
		limits = DefaultLimits()
	}
	g := &Governor{
		store:         store,
		limits:        limits,
		clock:         system.New(),
		logger:        zap.NewNop(),
		keyHashes:     make(map[crawler.Platform]string),
		mirrorTimeout: defaultMirrorTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Limits returns the resolved budget for an endpoint.
func (g *Governor) Limits(platform crawler.Platform, endpoint string) Limit {
	return g.limits.Resolve(platform, endpoint)
}

// CanAdmit reports whether another call to endpoint fits the current window.
// A spent counter whose reset time has passed, or was never recorded, is cleared first.
func (g *Governor) CanAdmit(ctx context.Context, platform crawler.Platform, endpoint string) (bool, error) {
	limit := g.limits.Resolve(platform, endpoint)
	used, err := g.count(ctx, platform, endpoint)
	if err != nil {
		return false, err
	}
	if used < limit.Requests {
		return true, nil
	}
	resetAt, ok, err := g.resetAt(ctx, platform, endpoint)
	if err != nil {
		return false, err
	}
	if ok && g.clock.Now().Before(resetAt) {
		metrics.ObserveRateLimitRejection(string(platform), endpoint)
		return false, nil
	}
	if err := g.store.Delete(ctx, countKey(platform, endpoint), resetKey(platform, endpoint)); err != nil {
		return false, fmt.Errorf("reset window: %w", err)
	}
	return true, nil
}

// RecordSuccess counts a completed call. The first call of a window fixes the reset time.
func (g *Governor) RecordSuccess(ctx context.Context, platform crawler.Platform, endpoint string) error {
	limit := g.limits.Resolve(platform, endpoint)
	now := g.clock.Now()

	used, err := g.store.Incr(ctx, countKey(platform, endpoint), limit.Window)
	if err != nil {
		return fmt.Errorf("increment counter: %w", err)
	}
	resetAt := now.Add(limit.Window)
	set, err := g.store.SetNX(ctx, resetKey(platform, endpoint), formatTime(resetAt), limit.Window)
	if err != nil {
		return fmt.Errorf("set reset time: %w", err)
	}
	if !set {
		if existing, ok, err := g.resetAt(ctx, platform, endpoint); err == nil && ok {
			resetAt = existing
		}
	}
	g.mirror(platform, endpoint, int(used), limit, resetAt, int(used) >= limit.Requests)
	return nil
}

// RecordRateLimited forces the counter to its limit until the provider reset time.
// Without a usable header the window length is used.
func (g *Governor) RecordRateLimited(ctx context.Context, platform crawler.Platform, endpoint string, header http.Header) error {
	limit := g.limits.Resolve(platform, endpoint)
	now := g.clock.Now()

	resetAt, ok := ResetFromHeaders(platform, header, now)
	if !ok {
		resetAt = now.Add(limit.Window)
	}
	hold := resetAt.Sub(now)
	if hold < minHold {
		hold = minHold
		resetAt = now.Add(hold)
	}

	if err := g.store.Set(ctx, countKey(platform, endpoint), strconv.Itoa(limit.Requests), hold); err != nil {
		return fmt.Errorf("force counter: %w", err)
	}
	if err := g.store.Set(ctx, resetKey(platform, endpoint), formatTime(resetAt), hold); err != nil {
		return fmt.Errorf("set reset time: %w", err)
	}

	metrics.ObserveRateLimitExceeded(string(platform), endpoint)
	g.logger.Warn("rate limit exceeded",
		zap.String("platform", string(platform)),
		zap.String("endpoint", endpoint),
		zap.Time("reset_at", resetAt),
		zap.Bool("provider_reset", ok),
	)
	g.mirror(platform, endpoint, limit.Requests, limit, resetAt, true)
	return nil
}

// Status returns a snapshot of every configured endpoint and every endpoint seen in the store.
func (g *Governor) Status(ctx context.Context, platform crawler.Platform) (map[string]crawler.EndpointStatus, error) {
	endpoints, err := g.endpoints(ctx, platform)
	if err != nil {
		return nil, err
	}
	out := make(map[string]crawler.EndpointStatus, len(endpoints))
	for _, endpoint := range endpoints {
		st, err := g.endpointStatus(ctx, platform, endpoint)
		if err != nil {
			return nil, err
		}
		out[endpoint] = st
	}
	return out, nil
}

func (g *Governor) endpointStatus(ctx context.Context, platform crawler.Platform, endpoint string) (crawler.EndpointStatus, error) {
	limit := g.limits.Resolve(platform, endpoint)
	used, err := g.count(ctx, platform, endpoint)
	if err != nil {
		return crawler.EndpointStatus{}, err
	}
	st := crawler.EndpointStatus{
		Used:          used,
		Limit:         limit.Requests,
		WindowMinutes: int(limit.Window / time.Minute),
		Remaining:     max(0, limit.Requests-used),
		Exceeded:      used >= limit.Requests,
	}
	resetAt, ok, err := g.resetAt(ctx, platform, endpoint)
	if err != nil {
		return crawler.EndpointStatus{}, err
	}
	if ok {
		st.ResetAt = &resetAt
	}
	return st, nil
}

// Remaining returns how many calls the current window still allows.
func (g *Governor) Remaining(ctx context.Context, platform crawler.Platform, endpoint string) (int, error) {
	st, err := g.endpointStatus(ctx, platform, endpoint)
	if err != nil {
		return 0, err
	}
	return st.Remaining, nil
}

// TimeUntilReset reports the wait until the current window resets. ok is false when no window is open.
func (g *Governor) TimeUntilReset(ctx context.Context, platform crawler.Platform, endpoint string) (time.Duration, bool, error) {
	resetAt, ok, err := g.resetAt(ctx, platform, endpoint)
	if err != nil || !ok {
		return 0, false, err
	}
	return max(0, resetAt.Sub(g.clock.Now())), true, nil
}

// NextAvailable returns the earliest time a call to endpoint would be admitted.
func (g *Governor) NextAvailable(ctx context.Context, platform crawler.Platform, endpoint string) (time.Time, error) {
	now := g.clock.Now()
	ok, err := g.CanAdmit(ctx, platform, endpoint)
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return now, nil
	}
	resetAt, found, err := g.resetAt(ctx, platform, endpoint)
	if err != nil {
		return time.Time{}, err
	}
	if !found {
		return now, nil
	}
	return resetAt, nil
}

// Clear drops every counter of a platform.
func (g *Governor) Clear(ctx context.Context, platform crawler.Platform) error {
	endpoints, err := g.endpoints(ctx, platform)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(endpoints)*2)
	for _, endpoint := range endpoints {
		keys = append(keys, countKey(platform, endpoint), resetKey(platform, endpoint))
	}
	if err := g.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("clear %s limits: %w", platform, err)
	}
	g.logger.Info("cleared rate limits", zap.String("platform", string(platform)))
	return nil
}

// Statistics summarizes the analytics mirror since the given time.
func (g *Governor) Statistics(ctx context.Context, since time.Time) (crawler.RateLimitStatistics, error) {
	if g.analytics == nil {
		return crawler.RateLimitStatistics{}, ErrNoAnalytics
	}
	stats, err := g.analytics.WindowStatistics(ctx, since)
	if err != nil {
		return crawler.RateLimitStatistics{}, fmt.Errorf("rate limit statistics: %w", err)
	}
	return stats, nil
}

// Wait blocks until in-flight analytics writes finish.
func (g *Governor) Wait() {
	g.wg.Wait()
}

// mirror writes the window to the analytics log in the background.
func (g *Governor) mirror(platform crawler.Platform, endpoint string, used int, limit Limit, resetAt time.Time, exceeded bool) {
	if g.analytics == nil {
		return
	}
	window := crawler.RateLimitWindow{
		Platform:      platform,
		Endpoint:      endpoint,
		APIKeyHash:    g.keyHashes[platform],
		RequestsMade:  used,
		RequestsLimit: limit.Requests,
		WindowStart:   resetAt.Add(-limit.Window).Truncate(time.Second),
		WindowEnd:     resetAt.Truncate(time.Second),
		Exceeded:      exceeded,
	}
	if exceeded {
		at := resetAt
		window.ResetAt = &at
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), g.mirrorTimeout)
		defer cancel()
		if err := g.analytics.RecordWindow(ctx, window); err != nil {
			g.logger.Warn("failed to record rate limit window",
				zap.String("platform", string(platform)),
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
		}
	}()
}

func (g *Governor) endpoints(ctx context.Context, platform crawler.Platform) ([]string, error) {
	configured := g.limits.Endpoints(platform)
	seen := make(map[string]struct{}, len(configured))
	out := make([]string, 0, len(configured))
	for _, endpoint := range configured {
		seen[endpoint] = struct{}{}
		out = append(out, endpoint)
	}
	prefix := keyPrefix + string(platform) + ":"
	keys, err := g.store.Keys(ctx, prefix+"*:count")
	if err != nil {
		return nil, fmt.Errorf("list %s counters: %w", platform, err)
	}
	for _, key := range keys {
		endpoint := strings.TrimSuffix(strings.TrimPrefix(key, prefix), ":count")
		if _, ok := seen[endpoint]; ok || endpoint == "" {
			continue
		}
		seen[endpoint] = struct{}{}
		out = append(out, endpoint)
	}
	return out, nil
}

func (g *Governor) count(ctx context.Context, platform crawler.Platform, endpoint string) (int, error) {
	raw, ok, err := g.store.Get(ctx, countKey(platform, endpoint))
	if err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse counter %q: %w", raw, err)
	}
	return n, nil
}

func (g *Governor) resetAt(ctx context.Context, platform crawler.Platform, endpoint string) (time.Time, bool, error) {
	raw, ok, err := g.store.Get(ctx, resetKey(platform, endpoint))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read reset time: %w", err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

func countKey(platform crawler.Platform, endpoint string) string {
	return keyPrefix + string(platform) + ":" + endpoint + ":count"
}

func resetKey(platform crawler.Platform, endpoint string) string {
	return keyPrefix + string(platform) + ":" + endpoint + ":reset"
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
