package adapter

import (
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
)

// SeenSet provides thread-safe seen-ID tracking to drop duplicate posts.
type SeenSet struct {
	seen sync.Map
}

// NewSeenSet returns an empty SeenSet.
func NewSeenSet() *SeenSet {
	return &SeenSet{}
}

// MarkIfNew stores id if it has not been seen before and returns true.
func (s *SeenSet) MarkIfNew(id string) bool {
	if id == "" {
		return false
	}
	_, loaded := s.seen.LoadOrStore(id, struct{}{})
	return !loaded
}

// Collector accumulates posts in arrival order, dropping duplicates and posts
// published before since, until max posts were kept.
type Collector struct {
	seen  *SeenSet
	since time.Time
	max   int
	posts []crawler.RawPost
}

// NewCollector builds a Collector. max <= 0 means unbounded.
func NewCollector(maxResults int, since time.Time) *Collector {
	return &Collector{seen: NewSeenSet(), since: since, max: maxResults}
}

// Add keeps post if it is new and recent enough. It reports whether it was kept.
func (c *Collector) Add(post crawler.RawPost) bool {
	if c.Full() {
		return false
	}
	if !c.since.IsZero() && post.PublishedAt.Before(c.since) {
		return false
	}
	if !c.seen.MarkIfNew(string(post.Platform) + ":" + post.ExternalID) {
		return false
	}
	c.posts = append(c.posts, post)
	return true
}

// AddAll adds posts in order.
func (c *Collector) AddAll(posts []crawler.RawPost) {
	for _, p := range posts {
		c.Add(p)
	}
}

// Full reports whether max posts were kept.
func (c *Collector) Full() bool {
	return c.max > 0 && len(c.posts) >= c.max
}

// Posts returns the kept posts.
func (c *Collector) Posts() []crawler.RawPost {
	if c.posts == nil {
		return []crawler.RawPost{}
	}
	return c.posts
}

// SortNewestFirst orders posts by publication time, newest first.
func SortNewestFirst(posts []crawler.RawPost) {
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].PublishedAt.After(posts[j].PublishedAt)
	})
}
