package errclass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/clock/system"
	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-social-crawler/internal/metrics"
)

const (
	hourLayout = "2006-01-02-15"
	dayLayout  = "2006-01-02"

	hourlyTTL      = 2 * time.Hour
	dailyTTL       = 48 * time.Hour
	recentTTL      = 24 * time.Hour
	consecutiveTTL = 24 * time.Hour
	recentCap      = 100
)

// Thresholds configure when a platform's error history warrants an alert.
type Thresholds struct {
	// ErrorRate is the failure ratio of the current hour.
	ErrorRate float64
	// MinSamples optionally gates ErrorRate until enough attempts were seen.
	// Zero disables the gate.
	MinSamples          int64
	ConsecutiveFailures int64
	ErrorsPerHour       int64
	Cooldown            time.Duration
}

// DefaultThresholds returns the stock alerting thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ErrorRate:           0.5,
		ConsecutiveFailures: 5,
		ErrorsPerHour:       50,
		Cooldown:            time.Hour,
	}
}

// Record is one stored failure.
type Record struct {
	Platform   crawler.Platform  `json:"platform"`
	Operation  string            `json:"operation"`
	Kind       crawler.ErrorKind `json:"kind"`
	Message    string            `json:"message"`
	StatusCode int               `json:"status_code,omitempty"`
	Retryable  bool              `json:"retryable"`
	At         time.Time         `json:"timestamp"`
}

// Tracker keeps per-platform error counters in a TTL store and raises threshold alerts.
// Bookkeeping failures are logged and never returned.
type Tracker struct {
	store      crawler.TTLStore
	sink       crawler.AlertSink
	clock      crawler.Clock
	logger     *zap.Logger
	thresholds Thresholds
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(c crawler.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l.Named("errclass")
		}
	}
}

// WithAlertSink sets where alerts are delivered.
func WithAlertSink(s crawler.AlertSink) Option {
	return func(t *Tracker) { t.sink = s }
}

// WithThresholds overrides the alerting thresholds.
func WithThresholds(th Thresholds) Option {
	return func(t *Tracker) { t.thresholds = th }
}

// NewTracker builds a Tracker over store.
func NewTracker(store crawler.TTLStore, opts ...Option) (*Tracker, error) {
	if store == nil {
		return nil, errors.New("ttl store is required")
	}
	t := &Tracker{
		store:      store,
		clock:      system.New(),
		logger:     zap.NewNop(),
		thresholds: DefaultThresholds(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// IsRetryable is a convenience wrapper around the package level classifier.
func (t *Tracker) IsRetryable(err error, platform crawler.Platform) bool {
	return IsRetryable(err, platform)
}

// RetryDelay is a convenience wrapper around the package level backoff.
func (t *Tracker) RetryDelay(attempt int, platform crawler.Platform, err error) time.Duration {
	return RetryDelay(attempt, platform, err)
}

// RecordError counts a failure of operation on platform.
func (t *Tracker) RecordError(ctx context.Context, platform crawler.Platform, operation string, err error) {
	if err == nil {
		return
	}
	now := t.clock.Now()
	kind := crawler.KindOf(err)
	metrics.ObserveProviderError(string(platform), string(kind))

	t.incr(ctx, opHourKey(platform, operation, now), hourlyTTL)
	t.incr(ctx, opDayKey(platform, operation, now), dailyTTL)
	t.incr(ctx, platformHourKey(platform, now), hourlyTTL)
	t.incr(ctx, consecutiveKey(platform), consecutiveTTL)

	rec := Record{
		Platform:   platform,
		Operation:  operation,
		Kind:       kind,
		Message:    err.Error(),
		StatusCode: statusOf(err),
		Retryable:  IsRetryable(err, platform),
		At:         now,
	}
	payload, mErr := json.Marshal(rec)
	if mErr != nil {
		t.logger.Warn("failed to encode error record", zap.Error(mErr))
		return
	}
	if pErr := t.store.PushCapped(ctx, recentKey(platform), string(payload), recentCap, recentTTL); pErr != nil {
		t.logger.Warn("failed to store recent error",
			zap.String("platform", string(platform)),
			zap.Error(pErr),
		)
	}
}

// RecordSuccess resets the consecutive failure counter and counts an hourly success.
func (t *Tracker) RecordSuccess(ctx context.Context, platform crawler.Platform) {
	if err := t.store.Delete(ctx, consecutiveKey(platform)); err != nil {
		t.logger.Warn("failed to reset consecutive failures",
			zap.String("platform", string(platform)),
			zap.Error(err),
		)
	}
	t.incr(ctx, successHourKey(platform, t.clock.Now()), hourlyTTL)
}

// ConsecutiveFailures returns the current run of failures for platform.
func (t *Tracker) ConsecutiveFailures(ctx context.Context, platform crawler.Platform) int64 {
	return t.counter(ctx, consecutiveKey(platform))
}

func (t *Tracker) incr(ctx context.Context, key string, ttl time.Duration) {
	if _, err := t.store.Incr(ctx, key, ttl); err != nil {
		t.logger.Warn("failed to increment error counter", zap.String("key", key), zap.Error(err))
	}
}

func (t *Tracker) counter(ctx context.Context, key string) int64 {
	raw, ok, err := t.store.Get(ctx, key)
	if err != nil {
		t.logger.Warn("failed to read error counter", zap.String("key", key), zap.Error(err))
		return 0
	}
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func opHourKey(p crawler.Platform, op string, at time.Time) string {
	return fmt.Sprintf("crawler_errors:%s:%s:%s", p, op, at.UTC().Format(hourLayout))
}

func opDayKey(p crawler.Platform, op string, at time.Time) string {
	return fmt.Sprintf("crawler_errors:%s:%s:%s", p, op, at.UTC().Format(dayLayout))
}

func platformHourKey(p crawler.Platform, at time.Time) string {
	return fmt.Sprintf("crawler_errors:%s:%s", p, at.UTC().Format(hourLayout))
}

func successHourKey(p crawler.Platform, at time.Time) string {
	return fmt.Sprintf("crawler_successes:%s:%s", p, at.UTC().Format(hourLayout))
}

func recentKey(p crawler.Platform) string {
	return "crawler_recent_errors:" + string(p)
}

func consecutiveKey(p crawler.Platform) string {
	return "crawler_consecutive_failures:" + string(p)
}

func alertKey(p crawler.Platform, at time.Time) string {
	return fmt.Sprintf("crawler_alert_sent:%s:%s", p, at.UTC().Format(hourLayout))
}
