package orchestrator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
)

// Defaults for ad hoc searches and account monitoring.
const (
	DefaultSearchResults  = 50
	DefaultMonitorResults = 20
	DefaultLookback       = 24 * time.Hour
	DefaultTrendHours     = 24
	DefaultStatsDays      = 7
	maxTrends             = 50
)

// SearchOptions tunes SearchKeywords and MonitorAccounts.
type SearchOptions struct {
	MaxResults int
	// Lookback bounds how old a returned post may be.
	Lookback time.Duration
}

// PlatformResult is one platform's share of a multi-platform request.
type PlatformResult struct {
	Platform crawler.Platform     `json:"platform"`
	JobID    string               `json:"job_id,omitempty"`
	Posts    []crawler.SocialPost `json:"posts"`
	Error    string               `json:"error,omitempty"`
}

// Account names one profile, subreddit or channel to monitor.
type Account struct {
	Platform crawler.Platform `json:"platform"`
	Identity string           `json:"identity"`
}

// AccountResult is the outcome of monitoring one account.
type AccountResult struct {
	Account
	JobID string               `json:"job_id,omitempty"`
	Posts []crawler.SocialPost `json:"posts"`
	Error string               `json:"error,omitempty"`
}

// Trend is a keyword ranked by recent activity.
type Trend struct {
	Keyword    string  `json:"keyword"`
	Mentions   int     `json:"mention_count"`
	Engagement int64   `json:"total_engagement"`
	Score      float64 `json:"trend_score"`
}

func (o SearchOptions) withDefaults(maxResults int) SearchOptions {
	if o.MaxResults <= 0 {
		o.MaxResults = maxResults
	}
	if o.Lookback <= 0 {
		o.Lookback = DefaultLookback
	}
	return o
}

// SearchKeywords searches each platform for keywords and persists what it finds.
// An empty platform list searches every registered platform. Every platform
// reports its own posts or error.
func (s *Service) SearchKeywords(ctx context.Context, keywords []string, platforms []crawler.Platform, opts SearchOptions) ([]PlatformResult, error) {
	keywords = cleanKeywords(keywords)
	if len(keywords) == 0 {
		return nil, fmt.Errorf("at least one keyword is required")
	}
	if len(platforms) == 0 {
		platforms = s.Platforms()
	}
	opts = opts.withDefaults(DefaultSearchResults)
	since := s.clock.Now().Add(-opts.Lookback)

	results := make([]PlatformResult, len(platforms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, platform := range platforms {
		g.Go(func() error {
			out, err := s.execute(gctx, run{
				platform: platform,
				jobType:  crawler.JobTypeSearch,
				params: map[string]any{
					"keywords":    keywords,
					"max_results": opts.MaxResults,
					"since":       since.Format(time.RFC3339),
				},
				extra: keywords,
				fetch: func(ctx context.Context, a crawler.Adapter, _ []crawler.KeywordRule) ([]crawler.RawPost, error) {
					return a.Search(ctx, keywords, opts.MaxResults, since)
				},
			})
			results[i] = platformResult(platform, out, err)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// MonitorAccounts fetches recent posts from each account and persists them.
func (s *Service) MonitorAccounts(ctx context.Context, accounts []Account, opts SearchOptions) ([]AccountResult, error) {
	if len(accounts) == 0 {
		return nil, fmt.Errorf("at least one account is required")
	}
	opts = opts.withDefaults(DefaultMonitorResults)
	since := s.clock.Now().Add(-opts.Lookback)

	// Accounts of one platform run sequentially; platforms run in parallel.
	byPlatform := make(map[crawler.Platform][]int)
	var order []crawler.Platform
	for i, acc := range accounts {
		if _, ok := byPlatform[acc.Platform]; !ok {
			order = append(order, acc.Platform)
		}
		byPlatform[acc.Platform] = append(byPlatform[acc.Platform], i)
	}

	results := make([]AccountResult, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, platform := range order {
		idx := byPlatform[platform]
		g.Go(func() error {
			for _, i := range idx {
				acc := accounts[i]
				out, err := s.execute(gctx, run{
					platform: acc.Platform,
					jobType:  crawler.JobTypeMonitor,
					params: map[string]any{
						"identity":    acc.Identity,
						"max_results": opts.MaxResults,
						"since":       since.Format(time.RFC3339),
					},
					fetch: func(ctx context.Context, a crawler.Adapter, _ []crawler.KeywordRule) ([]crawler.RawPost, error) {
						return a.UserPosts(ctx, acc.Identity, opts.MaxResults, since)
					},
				})
				pr := platformResult(acc.Platform, out, err)
				results[i] = AccountResult{Account: acc, JobID: pr.JobID, Posts: pr.Posts, Error: pr.Error}
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// TrendingTopics ranks keywords matched on platform within the last hours by
// mentions * ln(engagement+1). An empty platform covers all platforms.
func (s *Service) TrendingTopics(ctx context.Context, platform crawler.Platform, hours int) ([]Trend, error) {
	if hours <= 0 {
		hours = DefaultTrendHours
	}
	since := s.clock.Now().Add(-time.Duration(hours) * time.Hour)
	activity, err := s.store.KeywordActivity(ctx, platform, since)
	if err != nil {
		return nil, fmt.Errorf("keyword activity: %w", err)
	}
	trends := make([]Trend, 0, len(activity))
	for _, a := range activity {
		trends = append(trends, Trend{
			Keyword:    a.Keyword,
			Mentions:   a.Mentions,
			Engagement: a.Engagement,
			Score:      float64(a.Mentions) * math.Log(float64(max(a.Engagement, 0))+1),
		})
	}
	sort.SliceStable(trends, func(i, j int) bool {
		if trends[i].Score != trends[j].Score {
			return trends[i].Score > trends[j].Score
		}
		return trends[i].Mentions > trends[j].Mentions
	})
	if len(trends) > maxTrends {
		trends = trends[:maxTrends]
	}
	return trends, nil
}

// Statistics summarizes stored output of the last days.
func (s *Service) Statistics(ctx context.Context, days int) (crawler.Statistics, error) {
	if days <= 0 {
		days = DefaultStatsDays
	}
	stats, err := s.store.Statistics(ctx, s.clock.Now().AddDate(0, 0, -days))
	if err != nil {
		return crawler.Statistics{}, fmt.Errorf("statistics: %w", err)
	}
	return stats, nil
}

// Job returns a persisted crawl job.
func (s *Service) Job(ctx context.Context, id string) (crawler.CrawlJob, error) {
	return s.store.GetJob(ctx, id)
}

func platformResult(platform crawler.Platform, out outcome, err error) PlatformResult {
	res := PlatformResult{Platform: platform, JobID: out.job.ID, Posts: out.posts}
	if res.Posts == nil {
		res.Posts = []crawler.SocialPost{}
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func cleanKeywords(keywords []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, kw)
	}
	return out
}
