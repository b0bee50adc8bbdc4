package errclass

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-social-crawler/internal/metrics"
)

type hourSnapshot struct {
	errors      int64
	successes   int64
	consecutive int64
	lastHour    int64
}

func (s hourSnapshot) ratio() float64 {
	total := s.errors + s.successes
	if total == 0 {
		return 0
	}
	return float64(s.errors) / float64(total)
}

func (t *Tracker) snapshot(ctx context.Context, platform crawler.Platform) hourSnapshot {
	now := t.clock.Now()
	return hourSnapshot{
		errors:      t.counter(ctx, platformHourKey(platform, now)),
		successes:   t.counter(ctx, successHourKey(platform, now)),
		consecutive: t.counter(ctx, consecutiveKey(platform)),
		lastHour:    int64(len(t.recent(ctx, platform, now.Add(-time.Hour)))),
	}
}

// ShouldAlert reports whether the platform's error history crosses a threshold
// and no alert was sent this hour.
func (t *Tracker) ShouldAlert(ctx context.Context, platform crawler.Platform, _ string) bool {
	if t.cooling(ctx, platform) {
		return false
	}
	return t.breached(t.snapshot(ctx, platform))
}

func (t *Tracker) breached(s hourSnapshot) bool {
	th := t.thresholds
	if th.ErrorRate > 0 && s.errors+s.successes >= th.MinSamples && s.ratio() >= th.ErrorRate {
		return true
	}
	if th.ConsecutiveFailures > 0 && s.consecutive >= th.ConsecutiveFailures {
		return true
	}
	if th.ErrorsPerHour > 0 && s.lastHour >= th.ErrorsPerHour {
		return true
	}
	return false
}

func (t *Tracker) cooling(ctx context.Context, platform crawler.Platform) bool {
	_, ok, err := t.store.Get(ctx, alertKey(platform, t.clock.Now()))
	if err != nil {
		t.logger.Warn("failed to read alert cooldown", zap.String("platform", string(platform)), zap.Error(err))
		return false
	}
	return ok
}

// Alert emits an alert when ShouldAlert holds and the hourly cooldown can be claimed.
// It reports whether an alert was sent.
func (t *Tracker) Alert(ctx context.Context, platform crawler.Platform, operation string, cause error) bool {
	s := t.snapshot(ctx, platform)
	if !t.breached(s) {
		return false
	}
	now := t.clock.Now()
	cooldown := t.thresholds.Cooldown
	if cooldown <= 0 {
		cooldown = time.Hour
	}
	claimed, err := t.store.SetNX(ctx, alertKey(platform, now), "1", cooldown)
	if err != nil {
		t.logger.Warn("failed to claim alert cooldown", zap.String("platform", string(platform)), zap.Error(err))
		return false
	}
	if !claimed {
		return false
	}

	alert := crawler.Alert{
		Platform:            platform,
		Operation:           operation,
		ErrorRate:           s.ratio(),
		ConsecutiveFailures: s.consecutive,
		ErrorsLastHour:      s.lastHour,
		At:                  now,
	}
	if cause != nil {
		alert.Message = cause.Error()
	}
	metrics.ObserveAlert(string(platform))
	t.logger.Error("crawler error threshold exceeded",
		zap.String("platform", string(platform)),
		zap.String("operation", operation),
		zap.Float64("error_rate", alert.ErrorRate),
		zap.Int64("consecutive_failures", alert.ConsecutiveFailures),
		zap.Int64("errors_last_hour", alert.ErrorsLastHour),
	)
	if t.sink != nil {
		if err := t.sink.Alert(ctx, alert); err != nil {
			t.logger.Warn("alert delivery failed", zap.String("platform", string(platform)), zap.Error(err))
		}
	}
	return true
}
