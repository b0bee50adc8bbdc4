// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
)

type windowKey struct {
	platform crawler.Platform
	endpoint string
	keyHash  string
	start    int64
}

type postKey struct {
	platform   crawler.Platform
	externalID string
}

// Store is an in-memory crawler.Store.
type Store struct {
	mu      sync.RWMutex
	now     func() time.Time
	nextID  int64
	configs map[int64]crawler.CrawlerConfig
	rules   map[int64]crawler.KeywordRule
	posts   map[int64]crawler.SocialPost
	byKey   map[postKey]int64
	matches map[string]crawler.KeywordMatch
	jobs    map[string]crawler.CrawlJob
	windows map[windowKey]crawler.RateLimitWindow
}

// Option customizes a Store.
type Option func(*Store)

// WithNow overrides the time source used for row timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore constructs an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:     func() time.Time { return time.Now().UTC() },
		configs: make(map[int64]crawler.CrawlerConfig),
		rules:   make(map[int64]crawler.KeywordRule),
		posts:   make(map[int64]crawler.SocialPost),
		byKey:   make(map[postKey]int64),
		matches: make(map[string]crawler.KeywordMatch),
		jobs:    make(map[string]crawler.CrawlJob),
		windows: make(map[windowKey]crawler.RateLimitWindow),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// PutConfig inserts or replaces a crawler config. A zero ID is assigned.
func (s *Store) PutConfig(cfg crawler.CrawlerConfig) crawler.CrawlerConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.ID == 0 {
		cfg.ID = s.id()
	}
	if cfg.Cadence <= 0 {
		cfg.Cadence = time.Hour
	}
	s.configs[cfg.ID] = cfg
	return cfg
}

// PutRule inserts or replaces a keyword rule. A zero ID is assigned.
func (s *Store) PutRule(rule crawler.KeywordRule) crawler.KeywordRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == 0 {
		rule.ID = s.id()
	}
	s.rules[rule.ID] = rule
	return rule
}

// DueConfigs returns enabled configs whose next run is at or before now.
func (s *Store) DueConfigs(_ context.Context, now time.Time) ([]crawler.CrawlerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.CrawlerConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		if cfg.Due(now) {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetConfig returns the config of a platform.
func (s *Store) GetConfig(_ context.Context, platform crawler.Platform) (crawler.CrawlerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cfg := range s.configs {
		if cfg.Platform == platform {
			return cfg, nil
		}
	}
	return crawler.CrawlerConfig{}, fmt.Errorf("config for %s: %w", platform, crawler.ErrNotFound)
}

// MarkRun records a finished run.
func (s *Store) MarkRun(_ context.Context, id int64, lastRun, nextRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return fmt.Errorf("config %d: %w", id, crawler.ErrNotFound)
	}
	cfg.LastRunAt = &lastRun
	cfg.NextRunAt = &nextRun
	s.configs[id] = cfg
	return nil
}

// Reschedule moves the next run without touching the last run.
func (s *Store) Reschedule(_ context.Context, id int64, nextRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return fmt.Errorf("config %d: %w", id, crawler.ErrNotFound)
	}
	cfg.NextRunAt = &nextRun
	s.configs[id] = cfg
	return nil
}

// ActiveRules returns active rules targeting platform, highest priority first.
func (s *Store) ActiveRules(_ context.Context, platform crawler.Platform) ([]crawler.KeywordRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.KeywordRule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.Active && r.AppliesTo(platform) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() > out[j].Priority.Rank()
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpsertPost inserts a new post or refreshes the counters of an existing one.
func (s *Store) UpsertPost(_ context.Context, post crawler.RawPost) (crawler.SocialPost, bool, error) {
	if post.ExternalID == "" {
		return crawler.SocialPost{}, false, errors.New("external id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	key := postKey{platform: post.Platform, externalID: post.ExternalID}
	if id, ok := s.byKey[key]; ok {
		existing := s.posts[id]
		existing.EngagementCount = post.EngagementCount
		existing.ShareCount = post.ShareCount
		existing.CommentCount = post.CommentCount
		existing.UpdatedAt = now
		s.posts[id] = existing
		return existing, false, nil
	}
	stored := crawler.SocialPost{
		ID:        s.id(),
		RawPost:   post,
		CreatedAt: now,
		UpdatedAt: now,
	}
	stored.MediaURLs = append([]string(nil), post.MediaURLs...)
	s.posts[stored.ID] = stored
	s.byKey[key] = stored.ID
	return stored, true, nil
}

// SaveAnalysis writes keyword and scoring results and marks the post processed.
func (s *Store) SaveAnalysis(_ context.Context, postID int64, analysis crawler.PostAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.posts[postID]
	if !ok {
		return fmt.Errorf("post %d: %w", postID, crawler.ErrNotFound)
	}
	post.MatchedKeywords = append([]string(nil), analysis.MatchedKeywords...)
	post.SentimentScore = analysis.SentimentScore
	post.SentimentLabel = analysis.SentimentLabel
	post.RelevanceScore = analysis.RelevanceScore
	post.IsProcessed = true
	post.UpdatedAt = s.now()
	s.posts[postID] = post
	return nil
}

// InsertMatches stores matches, ignoring duplicates of (post, rule, keyword).
func (s *Store) InsertMatches(_ context.Context, matches []crawler.KeywordMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range matches {
		if _, ok := s.posts[m.PostID]; !ok {
			return fmt.Errorf("match references post %d: %w", m.PostID, crawler.ErrNotFound)
		}
		if _, ok := s.rules[m.RuleID]; !ok {
			return fmt.Errorf("match references rule %d: %w", m.RuleID, crawler.ErrNotFound)
		}
		key := fmt.Sprintf("%d/%d/%s", m.PostID, m.RuleID, m.Keyword)
		if _, ok := s.matches[key]; ok {
			continue
		}
		m.ID = s.id()
		if m.CreatedAt.IsZero() {
			m.CreatedAt = s.now()
		}
		m.Positions = append([]int(nil), m.Positions...)
		s.matches[key] = m
	}
	return nil
}

// Post returns a stored post by ID.
func (s *Store) Post(id int64) (crawler.SocialPost, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[id]
	return p, ok
}

// Posts returns every stored post ordered by ID.
func (s *Store) Posts() []crawler.SocialPost {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.SocialPost, 0, len(s.posts))
	for _, p := range s.posts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Matches returns every stored keyword match ordered by ID.
func (s *Store) Matches() []crawler.KeywordMatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.KeywordMatch, 0, len(s.matches))
	for _, m := range s.matches {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// KeywordActivity aggregates matches of posts published since on platform.
// An empty platform aggregates every platform.
func (s *Store) KeywordActivity(_ context.Context, platform crawler.Platform, since time.Time) ([]crawler.KeywordActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keywordActivity(platform, since), nil
}

func (s *Store) keywordActivity(platform crawler.Platform, since time.Time) []crawler.KeywordActivity {
	agg := make(map[string]*crawler.KeywordActivity)
	for _, m := range s.matches {
		post, ok := s.posts[m.PostID]
		if !ok || post.PublishedAt.Before(since) {
			continue
		}
		if platform != "" && post.Platform != platform {
			continue
		}
		a, ok := agg[m.Keyword]
		if !ok {
			a = &crawler.KeywordActivity{Keyword: m.Keyword}
			agg[m.Keyword] = a
		}
		a.Mentions++
		a.Engagement += post.TotalEngagement()
	}
	out := make([]crawler.KeywordActivity, 0, len(agg))
	for _, a := range agg {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mentions != out[j].Mentions {
			return out[i].Mentions > out[j].Mentions
		}
		return out[i].Keyword < out[j].Keyword
	})
	return out
}

// Statistics summarizes posts created and jobs started since.
func (s *Store) Statistics(_ context.Context, since time.Time) (crawler.Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := crawler.Statistics{
		PostsByPlatform: make(map[crawler.Platform]int),
		JobsByStatus:    make(map[crawler.JobStatus]int),
		TopKeywords:     []crawler.KeywordActivity{},
	}
	var relevanceSum float64
	for _, p := range s.posts {
		if p.CreatedAt.Before(since) {
			continue
		}
		stats.TotalPosts++
		stats.PostsByPlatform[p.Platform]++
		if p.IsProcessed {
			stats.ProcessedPosts++
			relevanceSum += p.RelevanceScore
		}
	}
	if stats.ProcessedPosts > 0 {
		stats.AvgRelevance = relevanceSum / float64(stats.ProcessedPosts)
	}
	for _, m := range s.matches {
		if !m.CreatedAt.Before(since) {
			stats.KeywordMatches++
		}
	}
	top := s.keywordActivity("", since)
	if len(top) > 10 {
		top = top[:10]
	}
	stats.TopKeywords = top

	var msSum int64
	var completed int
	for _, j := range s.jobs {
		if j.StartedAt == nil || j.StartedAt.Before(since) {
			continue
		}
		stats.JobsByStatus[j.Status]++
		if j.Status == crawler.JobStatusCompleted {
			completed++
			msSum += j.Stats.ProcessingTimeMs
		}
	}
	if completed > 0 {
		stats.AvgProcessingMs = float64(msSum) / float64(completed)
	}
	return stats, nil
}

// CreateJob stores a new job.
func (s *Store) CreateJob(_ context.Context, job crawler.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		return errors.New("job id is required")
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJob replaces a job row. Terminal jobs cannot change.
func (s *Store) UpdateJob(_ context.Context, job crawler.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("job %s: %w", job.ID, crawler.ErrNotFound)
	}
	if existing.Status.Terminal() {
		return fmt.Errorf("job %s is already %s", job.ID, existing.Status)
	}
	if job.PostsProcessed > job.PostsFound {
		return fmt.Errorf("job %s: processed %d exceeds found %d", job.ID, job.PostsProcessed, job.PostsFound)
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, id string) (crawler.CrawlJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return crawler.CrawlJob{}, fmt.Errorf("job %s: %w", id, crawler.ErrNotFound)
	}
	return job, nil
}

// Jobs returns every job ordered by start time.
func (s *Store) Jobs() []crawler.CrawlJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.CrawlJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt == nil || out[j].StartedAt == nil {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(*out[j].StartedAt)
	})
	return out
}

// RecordWindow upserts an analytics window; repeated writes keep the highest usage.
func (s *Store) RecordWindow(_ context.Context, w crawler.RateLimitWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := windowKey{platform: w.Platform, endpoint: w.Endpoint, keyHash: w.APIKeyHash, start: w.WindowStart.Unix()}
	if existing, ok := s.windows[key]; ok {
		w.RequestsMade = max(w.RequestsMade, existing.RequestsMade)
		w.Exceeded = w.Exceeded || existing.Exceeded
		if w.ResetAt == nil {
			w.ResetAt = existing.ResetAt
		}
	}
	s.windows[key] = w
	return nil
}

// WindowStatistics summarizes windows started at or after since.
func (s *Store) WindowStatistics(_ context.Context, since time.Time) (crawler.RateLimitStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := crawler.RateLimitStatistics{ByPlatform: make(map[crawler.Platform]int64)}
	type epKey struct {
		platform crawler.Platform
		endpoint string
	}
	byEndpoint := make(map[epKey]*crawler.EndpointUsage)
	for _, w := range s.windows {
		if w.WindowStart.Before(since) {
			continue
		}
		made := int64(w.RequestsMade)
		stats.TotalRequests += made
		stats.ByPlatform[w.Platform] += made
		if w.Exceeded {
			stats.ExceededWindows++
		}
		k := epKey{w.Platform, w.Endpoint}
		u, ok := byEndpoint[k]
		if !ok {
			u = &crawler.EndpointUsage{Platform: w.Platform, Endpoint: w.Endpoint}
			byEndpoint[k] = u
		}
		u.TotalRequests += made
		u.Windows++
	}
	stats.ByEndpoint = make([]crawler.EndpointUsage, 0, len(byEndpoint))
	for _, u := range byEndpoint {
		stats.ByEndpoint = append(stats.ByEndpoint, *u)
	}
	sort.Slice(stats.ByEndpoint, func(i, j int) bool {
		a, b := stats.ByEndpoint[i], stats.ByEndpoint[j]
		if a.TotalRequests != b.TotalRequests {
			return a.TotalRequests > b.TotalRequests
		}
		if a.Platform != b.Platform {
			return a.Platform < b.Platform
		}
		return a.Endpoint < b.Endpoint
	})
	return stats, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}
