// Package errclass classifies provider failures, computes retry delays and tracks
// per-platform error statistics for threshold alerting.
package errclass

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
)

var retryablePhrases = map[crawler.Platform][]string{
	crawler.PlatformTwitter: {
		"rate limit exceeded",
		"timeout",
		"temporarily unavailable",
		"internal server error",
		"bad gateway",
		"service unavailable",
		"gateway timeout",
	},
	crawler.PlatformReddit: {
		"rate limit exceeded",
		"timeout",
		"service unavailable",
		"internal server error",
		"bad gateway",
		"gateway timeout",
	},
	crawler.PlatformTelegram: {
		"too many requests",
		"timeout",
		"internal server error",
		"bad gateway",
		"service unavailable",
		"flood wait",
	},
}

var rateLimitPhrases = []string{"rate limit", "too many requests", "flood wait"}

// RetryableStatus reports whether an HTTP status is worth retrying.
func RetryableStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504, 520, 521, 522, 523, 524:
		return true
	}
	return false
}

// IsRetryable decides whether err is transient for the platform. Typed provider
// errors are decided by kind alone.
func IsRetryable(err error, platform crawler.Platform) bool {
	if err == nil {
		return false
	}
	if pe, ok := crawler.AsProviderError(err); ok && pe.Kind != "" {
		switch pe.Kind {
		case crawler.KindTransient, crawler.KindRateLimited:
			return true
		default:
			return false
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range retryablePhrases[platform] {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return RetryableStatus(statusOf(err))
}

func isRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := crawler.AsProviderError(err); ok {
		if pe.Kind == crawler.KindRateLimited || pe.StatusCode == 429 {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range rateLimitPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

func statusOf(err error) int {
	if pe, ok := crawler.AsProviderError(err); ok {
		return pe.StatusCode
	}
	return 0
}
