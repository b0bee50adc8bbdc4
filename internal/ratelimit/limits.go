// Package ratelimit tracks per-platform, per-endpoint request windows and paces outbound calls.
package ratelimit

import (
	"sort"
	"time"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
)

// Limit is a request budget over a window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// PlatformLimits holds the default and endpoint specific budgets of one platform.
type PlatformLimits struct {
	Default   Limit
	Endpoints map[string]Limit
}

// Limits maps platforms to their budgets.
type Limits map[crawler.Platform]PlatformLimits

// GlobalDefault applies when neither the endpoint nor the platform is configured.
var GlobalDefault = Limit{Requests: 100, Window: 60 * time.Minute}

// DefaultLimits returns the published budgets of the supported providers.
func DefaultLimits() Limits {
	return Limits{
		crawler.PlatformTwitter: {
			Default: Limit{Requests: 300, Window: 15 * time.Minute},
			Endpoints: map[string]Limit{
				"tweets/search/recent": {Requests: 300, Window: 15 * time.Minute},
				"users/*/tweets":       {Requests: 1500, Window: 15 * time.Minute},
				"users/by/username/*":  {Requests: 300, Window: 15 * time.Minute},
			},
		},
		crawler.PlatformReddit: {
			Default: Limit{Requests: 100, Window: 10 * time.Minute},
			Endpoints: map[string]Limit{
				"search":           {Requests: 100, Window: 10 * time.Minute},
				"user/*/submitted": {Requests: 100, Window: 10 * time.Minute},
				"r/*/new":          {Requests: 100, Window: 10 * time.Minute},
			},
		},
		crawler.PlatformTelegram: {
			Default: Limit{Requests: 30, Window: time.Minute},
			Endpoints: map[string]Limit{
				"getUpdates": {Requests: 30, Window: time.Minute},
				"getChat":    {Requests: 30, Window: time.Minute},
				"preview":    {Requests: 20, Window: time.Minute},
				"rss":        {Requests: 20, Window: time.Minute},
			},
		},
	}
}

// Resolve returns the endpoint budget, falling back to the platform default and then GlobalDefault.
func (l Limits) Resolve(platform crawler.Platform, endpoint string) Limit {
	pl, ok := l[platform]
	if !ok {
		return GlobalDefault
	}
	if lim, ok := pl.Endpoints[endpoint]; ok && lim.valid() {
		return lim
	}
	if pl.Default.valid() {
		return pl.Default
	}
	return GlobalDefault
}

// Endpoints lists the configured endpoints of a platform in name order.
func (l Limits) Endpoints(platform crawler.Platform) []string {
	pl := l[platform]
	out := make([]string, 0, len(pl.Endpoints))
	for name := range pl.Endpoints {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (l Limit) valid() bool {
	return l.Requests > 0 && l.Window > 0
}
