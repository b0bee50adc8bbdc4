package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-social-crawler/internal/metrics"
)

// PacerConfig holds outbound spacing per platform.
type PacerConfig struct {
	// Rates is requests per second keyed by platform. Missing or non-positive rates are unpaced.
	Rates map[crawler.Platform]float64
	Burst int
}

// DefaultPacerConfig spaces calls below the providers' published burst limits.
func DefaultPacerConfig() PacerConfig {
	return PacerConfig{
		Rates: map[crawler.Platform]float64{
			crawler.PlatformTwitter:  1,
			crawler.PlatformReddit:   1,
			crawler.PlatformTelegram: 0.5,
		},
		Burst: 1,
	}
}

// Pacer manages per-platform token buckets that space out sequential calls.
type Pacer struct {
	mu       sync.Mutex
	limiters map[crawler.Platform]*rate.Limiter
	cfg      PacerConfig
}

// NewPacer creates a new Pacer.
func NewPacer(cfg PacerConfig) *Pacer {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Pacer{
		limiters: make(map[crawler.Platform]*rate.Limiter),
		cfg:      cfg,
	}
}

// Wait blocks until a token is available for the platform, respecting the context.
func (p *Pacer) Wait(ctx context.Context, platform crawler.Platform) error {
	p.mu.Lock()
	limiter, exists := p.limiters[platform]
	if !exists {
		r := rate.Inf
		if rps := p.cfg.Rates[platform]; rps > 0 {
			r = rate.Limit(rps)
		}
		limiter = rate.NewLimiter(r, p.cfg.Burst)
		p.limiters[platform] = limiter
	}
	p.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(string(platform), waited)
	}
	return nil
}
