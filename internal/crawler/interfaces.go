package crawler

import (
	"context"
	"io"
	"time"
)

// Adapter is the uniform crawl contract implemented once per platform.
type Adapter interface {
	Platform() Platform
	Crawl(ctx context.Context, keywords []string, maxResults int, since time.Time) ([]RawPost, error)
	Search(ctx context.Context, keywords []string, maxResults int, since time.Time) ([]RawPost, error)
	UserPosts(ctx context.Context, identity string, maxResults int, since time.Time) ([]RawPost, error)
	TestConnection(ctx context.Context) bool
	RateLimitStatus(ctx context.Context) (map[string]EndpointStatus, error)
}

// ConfigStore persists per-platform crawl schedules.
type ConfigStore interface {
	DueConfigs(ctx context.Context, now time.Time) ([]CrawlerConfig, error)
	GetConfig(ctx context.Context, platform Platform) (CrawlerConfig, error)
	MarkRun(ctx context.Context, id int64, lastRun, nextRun time.Time) error
	Reschedule(ctx context.Context, id int64, nextRun time.Time) error
}

// RuleStore reads keyword rules.
type RuleStore interface {
	// ActiveRules returns active rules for the platform ordered by priority, highest first.
	ActiveRules(ctx context.Context, platform Platform) ([]KeywordRule, error)
}

// PostStore persists posts and their keyword matches.
type PostStore interface {
	// UpsertPost inserts a new post or refreshes the counters of an existing one.
	// created reports whether a new row was inserted.
	UpsertPost(ctx context.Context, post RawPost) (stored SocialPost, created bool, err error)
	SaveAnalysis(ctx context.Context, postID int64, analysis PostAnalysis) error
	InsertMatches(ctx context.Context, matches []KeywordMatch) error
	KeywordActivity(ctx context.Context, platform Platform, since time.Time) ([]KeywordActivity, error)
	Statistics(ctx context.Context, since time.Time) (Statistics, error)
}

// JobStore persists crawl job audit rows.
type JobStore interface {
	CreateJob(ctx context.Context, job CrawlJob) error
	UpdateJob(ctx context.Context, job CrawlJob) error
	GetJob(ctx context.Context, id string) (CrawlJob, error)
}

// RateLimitLog receives the analytics mirror of rate-limit windows.
type RateLimitLog interface {
	RecordWindow(ctx context.Context, window RateLimitWindow) error
	// WindowStatistics summarizes windows started at or after since.
	WindowStatistics(ctx context.Context, since time.Time) (RateLimitStatistics, error)
}

// Store is the relational store collaborator.
type Store interface {
	ConfigStore
	RuleStore
	PostStore
	JobStore
	RateLimitLog
	Close()
}

// TTLStore is the self-expiring key-value collaborator.
type TTLStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets key only if absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Incr atomically increments key; a newly created key receives ttl.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, keys ...string) error
	// PushCapped prepends value to a list, trims it to max entries and refreshes ttl.
	PushCapped(ctx context.Context, key, value string, maxLen int, ttl time.Duration) error
	// Range returns up to n list entries, newest first.
	Range(ctx context.Context, key string, n int) ([]string, error)
	// Keys lists keys matching a glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// AlertSink receives threshold-triggered alerts.
type AlertSink interface {
	Alert(ctx context.Context, alert Alert) error
}

// BlobStore persists raw provider batches for archival.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher emits crawl job events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher converts bytes into a stable hex digest.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time for deterministic testing.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
