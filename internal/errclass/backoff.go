package errclass

import (
	"crypto/rand"
	"errors"
	"math/big"
	"regexp"
	"strconv"
	"time"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
)

// MaxRetryDelay caps every computed delay.
const MaxRetryDelay = time.Hour

const maxBackoffExponent = 6

var (
	waitSecondsRe = regexp.MustCompile(`(?i)wait (\d+) seconds?`)
	retryAfterRe  = regexp.MustCompile(`(?i)retry after (\d+)`)
)

var baseDelays = map[crawler.Platform]time.Duration{
	crawler.PlatformTwitter:  60 * time.Second,
	crawler.PlatformReddit:   60 * time.Second,
	crawler.PlatformTelegram: 180 * time.Second,
}

var rateLimitDelays = map[crawler.Platform]time.Duration{
	crawler.PlatformTwitter:  15 * time.Minute,
	crawler.PlatformReddit:   10 * time.Minute,
	crawler.PlatformTelegram: 30 * time.Minute,
}

// RetryDelay returns the wait before attempt (1-based) is retried.
// Rate-limit errors honour the provider's hint; everything else backs off
// exponentially from the platform base with up to 10% jitter.
func RetryDelay(attempt int, platform crawler.Platform, err error) time.Duration {
	if isRateLimit(err) {
		return rateLimitDelay(platform, err)
	}
	if attempt < 1 {
		attempt = 1
	}
	base, ok := baseDelays[platform]
	if !ok {
		base = 60 * time.Second
	}
	exp := min(attempt-1, maxBackoffExponent)
	delay := base * time.Duration(1<<exp)
	delay += randomJitter(delay / 10)
	return min(delay, MaxRetryDelay)
}

func rateLimitDelay(platform crawler.Platform, err error) time.Duration {
	if pe, ok := crawler.AsProviderError(err); ok && pe.RetryAfter > 0 {
		return min(pe.RetryAfter, MaxRetryDelay)
	}
	msg := err.Error()
	for _, re := range []*regexp.Regexp{waitSecondsRe, retryAfterRe} {
		if m := re.FindStringSubmatch(msg); m != nil {
			secs, convErr := strconv.ParseInt(m[1], 10, 64)
			if errors.Is(convErr, strconv.ErrRange) {
				return MaxRetryDelay
			}
			if convErr == nil {
				// Clamp before converting so huge hints cannot overflow.
				return time.Duration(min(secs, int64(MaxRetryDelay/time.Second))) * time.Second
			}
		}
	}
	if d, ok := rateLimitDelays[platform]; ok {
		return d
	}
	return 10 * time.Minute
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)+1))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
