// Package orchestrator runs crawl jobs: it resolves keyword rules, drives the
// platform adapters, persists and scores posts, and turns failures into
// retries or alerts.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/clock/system"
	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-social-crawler/internal/keyword"
)

// Classifier is the error bookkeeping the orchestrator reports to.
type Classifier interface {
	RecordError(ctx context.Context, platform crawler.Platform, operation string, err error)
	RecordSuccess(ctx context.Context, platform crawler.Platform)
	IsRetryable(err error, platform crawler.Platform) bool
	RetryDelay(attempt int, platform crawler.Platform, err error) time.Duration
	Alert(ctx context.Context, platform crawler.Platform, operation string, cause error) bool
}

// Config controls orchestration behavior.
type Config struct {
	// Workers bounds how many platforms crawl at once.
	Workers int
	// MaxAttempts is how many consecutive retryable failures are rescheduled early.
	MaxAttempts int
	// DefaultLookback is the crawl window of a config that never ran.
	DefaultLookback  time.Duration
	MinContentLength int
	MaxContentLength int
	// SaveRawData keeps the provider payload on stored posts.
	SaveRawData bool
	// ArchiveRaw writes each fetched batch to the blob store.
	ArchiveRaw bool
	// EventTopic receives job completion and failure events.
	EventTopic string
}

// DefaultConfig returns the stock orchestration settings.
func DefaultConfig() Config {
	return Config{
		Workers:          3,
		MaxAttempts:      3,
		DefaultLookback:  time.Hour,
		MinContentLength: 10,
		MaxContentLength: 10000,
		SaveRawData:      true,
	}
}

// Service coordinates adapters, stores and the error classifier.
type Service struct {
	store      crawler.Store
	adapters   map[crawler.Platform]crawler.Adapter
	classifier Classifier
	ttl        crawler.TTLStore
	publisher  crawler.Publisher
	blobs      crawler.BlobStore
	sentiment  keyword.SentimentStrategy
	clock      crawler.Clock
	ids        crawler.IDGenerator
	cfg        Config
	logger     *zap.Logger

	mu       sync.Mutex
	inFlight map[crawler.Platform]struct{}
}

// Option customizes a Service.
type Option func(*Service)

// WithPublisher emits job events to p.
func WithPublisher(p crawler.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithBlobStore archives raw batches to b.
func WithBlobStore(b crawler.BlobStore) Option {
	return func(s *Service) { s.blobs = b }
}

// WithSentiment overrides the sentiment strategy.
func WithSentiment(st keyword.SentimentStrategy) Option {
	return func(s *Service) {
		if st != nil {
			s.sentiment = st
		}
	}
}

// WithClock overrides the time source.
func WithClock(c crawler.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithIDGenerator overrides job ID generation.
func WithIDGenerator(g crawler.IDGenerator) Option {
	return func(s *Service) {
		if g != nil {
			s.ids = g
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l.Named("orchestrator")
		}
	}
}

// New builds a Service. Every adapter is registered under its own platform.
func New(
	store crawler.Store,
	adapters []crawler.Adapter,
	classifier Classifier,
	ttl crawler.TTLStore,
	ids crawler.IDGenerator,
	cfg Config,
	opts ...Option,
) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if classifier == nil {
		return nil, errors.New("error classifier is required")
	}
	if ttl == nil {
		return nil, errors.New("ttl store is required")
	}
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	defaults := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.DefaultLookback <= 0 {
		cfg.DefaultLookback = defaults.DefaultLookback
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = defaults.MaxContentLength
	}
	if cfg.MinContentLength < 0 || cfg.MinContentLength > cfg.MaxContentLength {
		return nil, fmt.Errorf("invalid content bounds [%d, %d]", cfg.MinContentLength, cfg.MaxContentLength)
	}
	sentiment, err := keyword.NewSentimentStrategy("")
	if err != nil {
		return nil, err
	}

	s := &Service{
		store:      store,
		adapters:   make(map[crawler.Platform]crawler.Adapter, len(adapters)),
		classifier: classifier,
		ttl:        ttl,
		ids:        ids,
		sentiment:  sentiment,
		clock:      system.New(),
		cfg:        cfg,
		logger:     zap.NewNop(),
		inFlight:   make(map[crawler.Platform]struct{}),
	}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		s.adapters[a.Platform()] = a
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Adapter returns the adapter registered for platform.
func (s *Service) Adapter(platform crawler.Platform) (crawler.Adapter, error) {
	a, ok := s.adapters[platform]
	if !ok {
		return nil, crawler.NewFatal(platform, "", fmt.Errorf("%s: %w", platform, crawler.ErrAdapterMissing))
	}
	return a, nil
}

// Platforms lists the platforms with a registered adapter in stable order.
func (s *Service) Platforms() []crawler.Platform {
	var out []crawler.Platform
	for _, p := range crawler.Platforms {
		if _, ok := s.adapters[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// claim marks platform as running; it reports false when a crawl is already in flight.
func (s *Service) claim(platform crawler.Platform) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[platform]; busy {
		return false
	}
	s.inFlight[platform] = struct{}{}
	return true
}

func (s *Service) release(platform crawler.Platform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, platform)
}
