package crawler

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Platform identifies one external social source.
type Platform string

// Supported platforms.
const (
	PlatformTwitter  Platform = "twitter"
	PlatformReddit   Platform = "reddit"
	PlatformTelegram Platform = "telegram"
)

// Platforms lists every supported platform in a stable order.
var Platforms = []Platform{PlatformTwitter, PlatformReddit, PlatformTelegram}

// ParsePlatform normalizes and validates a platform name.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformTwitter, PlatformReddit, PlatformTelegram:
		return true
	}
	return false
}

// Priority orders keyword rules.
type Priority string

// Rule priorities, lowest to highest.
const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank maps a priority to a sortable integer; unknown values rank lowest.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// MatchType selects how a rule's keywords combine.
type MatchType string

// Rule match types.
const (
	MatchAny   MatchType = "any"
	MatchAll   MatchType = "all"
	MatchExact MatchType = "exact"
	MatchRegex MatchType = "regex"
)

// CrawlerConfig is the per-platform schedule row.
type CrawlerConfig struct {
	ID               int64          `json:"id"`
	Name             string         `json:"name"`
	Platform         Platform       `json:"platform"`
	Enabled          bool           `json:"enabled"`
	MaxResultsPerRun int            `json:"max_results_per_run"`
	RateLimitPerHour int            `json:"rate_limit_per_hour"`
	Cadence          time.Duration  `json:"cadence"`
	LastRunAt        *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt        *time.Time     `json:"next_run_at,omitempty"`
	Settings         map[string]any `json:"settings,omitempty"`
}

// Due reports whether the config should run at now.
func (c CrawlerConfig) Due(now time.Time) bool {
	if !c.Enabled {
		return false
	}
	return c.NextRunAt == nil || !c.NextRunAt.After(now)
}

// KeywordRule describes one set of keywords to watch for.
type KeywordRule struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	Keywords         []string   `json:"keywords"`
	ExcludeKeywords  []string   `json:"exclude_keywords,omitempty"`
	Platforms        []Platform `json:"platforms,omitempty"`
	Priority         Priority   `json:"priority"`
	MatchType        MatchType  `json:"match_type"`
	CaseSensitive    bool       `json:"case_sensitive"`
	RequireSentiment bool       `json:"require_sentiment"`
	Active           bool       `json:"active"`
}

// AppliesTo reports whether the rule targets the platform. An empty list targets all.
func (r KeywordRule) AppliesTo(p Platform) bool {
	if len(r.Platforms) == 0 {
		return true
	}
	for _, rp := range r.Platforms {
		if rp == p {
			return true
		}
	}
	return false
}

// RawPost is a provider post normalized by an adapter.
type RawPost struct {
	ExternalID        string          `json:"external_id"`
	Platform          Platform        `json:"platform"`
	SourceURL         string          `json:"source_url"`
	AuthorID          string          `json:"author_id,omitempty"`
	AuthorUsername    string          `json:"author_username,omitempty"`
	AuthorDisplayName string          `json:"author_display_name,omitempty"`
	Content           string          `json:"content"`
	MediaURLs         []string        `json:"media_urls,omitempty"`
	EngagementCount   int64           `json:"engagement_count"`
	ShareCount        int64           `json:"share_count"`
	CommentCount      int64           `json:"comment_count"`
	PublishedAt       time.Time       `json:"published_at"`
	Raw               json.RawMessage `json:"raw,omitempty"`
}

// TotalEngagement sums every interaction counter.
func (p RawPost) TotalEngagement() int64 {
	return p.EngagementCount + p.ShareCount + p.CommentCount
}

// SocialPost is the persisted form of a RawPost.
type SocialPost struct {
	ID int64 `json:"id"`
	RawPost
	MatchedKeywords []string  `json:"matched_keywords,omitempty"`
	SentimentScore  *float64  `json:"sentiment_score,omitempty"`
	SentimentLabel  string    `json:"sentiment_label,omitempty"`
	RelevanceScore  float64   `json:"relevance_score"`
	IsProcessed     bool      `json:"is_processed"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PostAnalysis is written back onto a post once keyword matching finishes.
type PostAnalysis struct {
	MatchedKeywords []string
	SentimentScore  *float64
	SentimentLabel  string
	RelevanceScore  float64
}

// KeywordMatch links a post to the rule keyword it matched.
type KeywordMatch struct {
	ID         int64     `json:"id"`
	PostID     int64     `json:"post_id"`
	RuleID     int64     `json:"rule_id"`
	Keyword    string    `json:"keyword"`
	MatchCount int       `json:"match_count"`
	Positions  []int     `json:"positions"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobType records what triggered a crawl job.
type JobType string

// Job types.
const (
	JobTypeScheduled JobType = "scheduled"
	JobTypeManual    JobType = "manual"
	JobTypeSearch    JobType = "search"
	JobTypeMonitor   JobType = "monitor"
)

// CrawlJob is one orchestration run for one platform.
type CrawlJob struct {
	ID             string         `json:"id"`
	ConfigID       int64          `json:"config_id"`
	Platform       Platform       `json:"platform"`
	Type           JobType        `json:"job_type"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	Status         JobStatus      `json:"status"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	PostsFound     int            `json:"posts_found"`
	PostsProcessed int            `json:"posts_processed"`
	Error          *JobError      `json:"error,omitempty"`
	Stats          JobStats       `json:"stats"`
}

// JobError is the structured failure detail of a failed job.
type JobError struct {
	Kind          ErrorKind  `json:"kind"`
	Message       string     `json:"message"`
	Endpoint      string     `json:"endpoint,omitempty"`
	StatusCode    int        `json:"status_code,omitempty"`
	Retryable     bool       `json:"retryable"`
	Attempt       int        `json:"attempt"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
}

// JobStats carries per-run telemetry.
type JobStats struct {
	NewPosts         int   `json:"new_posts"`
	UpdatedPosts     int   `json:"updated_posts"`
	SkippedPosts     int   `json:"skipped_posts"`
	FailedPosts      int   `json:"failed_posts"`
	KeywordMatches   int   `json:"keyword_matches"`
	ProcessingTimeMs int64 `json:"processing_time_ms"`
}

// EndpointStatus is a read-only snapshot of one rate-limit window.
type EndpointStatus struct {
	Used          int        `json:"used"`
	Limit         int        `json:"limit"`
	WindowMinutes int        `json:"window_minutes"`
	ResetAt       *time.Time `json:"reset_at,omitempty"`
	Remaining     int        `json:"remaining"`
	Exceeded      bool       `json:"exceeded"`
}

// RateLimitWindow is the durable analytics mirror of a rate-limit counter.
type RateLimitWindow struct {
	Platform      Platform   `json:"platform"`
	Endpoint      string     `json:"endpoint"`
	APIKeyHash    string     `json:"api_key_hash"`
	RequestsMade  int        `json:"requests_made"`
	RequestsLimit int        `json:"requests_limit"`
	WindowStart   time.Time  `json:"window_start"`
	WindowEnd     time.Time  `json:"window_end"`
	ResetAt       *time.Time `json:"reset_at,omitempty"`
	Exceeded      bool       `json:"is_exceeded"`
}

// RateLimitStatistics aggregates analytics windows over a period.
type RateLimitStatistics struct {
	TotalRequests   int64              `json:"total_requests"`
	ExceededWindows int64              `json:"exceeded_limits"`
	ByPlatform      map[Platform]int64 `json:"by_platform"`
	ByEndpoint      []EndpointUsage    `json:"by_endpoint"`
}

// EndpointUsage is the request volume of one endpoint.
type EndpointUsage struct {
	Platform      Platform `json:"platform"`
	Endpoint      string   `json:"endpoint"`
	TotalRequests int64    `json:"total_requests"`
	Windows       int64    `json:"windows"`
}

// KeywordActivity aggregates matches of one keyword over a period.
type KeywordActivity struct {
	Keyword    string `json:"keyword"`
	Mentions   int    `json:"mention_count"`
	Engagement int64  `json:"total_engagement"`
}

// Statistics summarizes stored crawl output since a point in time.
type Statistics struct {
	TotalPosts      int               `json:"total_posts"`
	ProcessedPosts  int               `json:"processed_posts"`
	PostsByPlatform map[Platform]int  `json:"posts_by_platform"`
	KeywordMatches  int               `json:"keyword_matches"`
	AvgRelevance    float64           `json:"avg_relevance_score"`
	TopKeywords     []KeywordActivity `json:"top_keywords"`
	JobsByStatus    map[JobStatus]int `json:"jobs_by_status"`
	AvgProcessingMs float64           `json:"avg_processing_ms"`
}

// Alert is a threshold-triggered notification.
type Alert struct {
	Platform            Platform  `json:"platform"`
	Operation           string    `json:"operation"`
	Message             string    `json:"message"`
	ErrorRate           float64   `json:"error_rate"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	ErrorsLastHour      int64     `json:"errors_last_hour"`
	At                  time.Time `json:"timestamp"`
}
