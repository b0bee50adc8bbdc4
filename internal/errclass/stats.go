package errclass

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
)

const topErrors = 5

// MessageCount is how often one error message occurred.
type MessageCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// HourCount is the number of errors in one clock hour.
type HourCount struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// Stats summarizes a platform's recent failures.
type Stats struct {
	Platform            crawler.Platform `json:"platform"`
	TotalErrors         int              `json:"total_errors"`
	ErrorsPerHour       float64          `json:"errors_per_hour"`
	ConsecutiveFailures int64            `json:"consecutive_failures"`
	MostCommonErrors    []MessageCount   `json:"most_common_errors"`
	Trend               []HourCount      `json:"trend"`
}

// Stats summarizes the stored failures of the last hours.
func (t *Tracker) Stats(ctx context.Context, platform crawler.Platform, hours int) Stats {
	if hours <= 0 {
		hours = 24
	}
	now := t.clock.Now()
	records := t.recent(ctx, platform, now.Add(-time.Duration(hours)*time.Hour))

	stats := Stats{
		Platform:            platform,
		TotalErrors:         len(records),
		ErrorsPerHour:       float64(len(records)) / float64(hours),
		ConsecutiveFailures: t.ConsecutiveFailures(ctx, platform),
		MostCommonErrors:    []MessageCount{},
		Trend:               make([]HourCount, 0, hours),
	}

	counts := make(map[string]int)
	for _, rec := range records {
		counts[rec.Message]++
	}
	for msg, n := range counts {
		stats.MostCommonErrors = append(stats.MostCommonErrors, MessageCount{Message: msg, Count: n})
	}
	sort.Slice(stats.MostCommonErrors, func(i, j int) bool {
		a, b := stats.MostCommonErrors[i], stats.MostCommonErrors[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Message < b.Message
	})
	if len(stats.MostCommonErrors) > topErrors {
		stats.MostCommonErrors = stats.MostCommonErrors[:topErrors]
	}

	for i := hours - 1; i >= 0; i-- {
		start := now.Add(-time.Duration(i+1) * time.Hour)
		end := start.Add(time.Hour)
		n := 0
		for _, rec := range records {
			if rec.At.After(start) && !rec.At.After(end) {
				n++
			}
		}
		stats.Trend = append(stats.Trend, HourCount{Hour: end.UTC().Format("2006-01-02T15:00"), Count: n})
	}
	return stats
}

// recent returns stored records newer than cutoff, newest first.
func (t *Tracker) recent(ctx context.Context, platform crawler.Platform, cutoff time.Time) []Record {
	raw, err := t.store.Range(ctx, recentKey(platform), recentCap)
	if err != nil {
		t.logger.Warn("failed to read recent errors", zap.String("platform", string(platform)), zap.Error(err))
		return nil
	}
	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		if rec.At.After(cutoff) {
			out = append(out, rec)
		}
	}
	return out
}
