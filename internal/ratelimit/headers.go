package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
)

// Provider reset headers.
const (
	HeaderTwitterReset = "x-rate-limit-reset"
	HeaderRedditReset  = "x-ratelimit-reset"
	HeaderRetryAfter   = "Retry-After"
)

// ResetFromHeaders extracts the provider reset time from a rate-limited response.
// Twitter sends an epoch, Reddit and Telegram send seconds to wait. Retry-After is
// honoured for every platform, either as seconds or as an HTTP date.
func ResetFromHeaders(platform crawler.Platform, header http.Header, now time.Time) (time.Time, bool) {
	if header == nil {
		return time.Time{}, false
	}
	switch platform {
	case crawler.PlatformTwitter:
		if secs, ok := parseSeconds(header.Get(HeaderTwitterReset)); ok {
			return time.Unix(int64(secs), 0).UTC(), true
		}
	case crawler.PlatformReddit:
		if secs, ok := parseSeconds(header.Get(HeaderRedditReset)); ok {
			return now.Add(seconds(secs)), true
		}
	}
	raw := strings.TrimSpace(header.Get(HeaderRetryAfter))
	if raw == "" {
		return time.Time{}, false
	}
	if secs, ok := parseSeconds(raw); ok {
		return now.Add(seconds(secs)), true
	}
	if at, err := http.ParseTime(raw); err == nil {
		return at.UTC(), true
	}
	return time.Time{}, false
}

func parseSeconds(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
