// Package scheduler ticks the scheduled crawl loop on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/orchestrator"
)

// TagScheduledCrawl tags the crawl tick job.
const TagScheduledCrawl = "scheduled-crawl"

// Runner runs one pass over the due crawler configs.
type Runner interface {
	RunScheduled(ctx context.Context) (orchestrator.Summary, error)
}

// Scheduler runs the orchestrator's scheduled pass every tick. A tick never
// starts a second pass while the previous one is still running.
type Scheduler struct {
	runner Runner
	tick   time.Duration
	cron   *gocron.Scheduler
	logger *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l.Named("scheduler")
		}
	}
}

// New builds a Scheduler.
func New(runner Runner, tick time.Duration, opts ...Option) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if tick <= 0 {
		return nil, fmt.Errorf("tick must be > 0, got %s", tick)
	}
	cron := gocron.NewScheduler(time.UTC)
	cron.TagsUnique()
	s := &Scheduler{
		runner: runner,
		tick:   tick,
		cron:   cron,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start registers the tick job and starts the scheduler asynchronously.
// The first pass runs immediately. Passes run with a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	if _, err := s.cron.Every(s.tick).Tag(TagScheduledCrawl).SingletonMode().Do(s.runOnce); err != nil {
		s.cancel()
		s.cancel = nil
		return fmt.Errorf("schedule crawl tick: %w", err)
	}
	s.cron.StartAsync()
	s.logger.Info("scheduler started", zap.Duration("tick", s.tick))
	return nil
}

// Stop cancels any running pass and halts the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.cron.Stop()
	s.logger.Info("scheduler stopped")
}

// Jobs returns the registered gocron jobs.
func (s *Scheduler) Jobs() []*gocron.Job {
	return s.cron.Jobs()
}

func (s *Scheduler) runOnce() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	summary, err := s.runner.RunScheduled(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("scheduled crawl pass failed", zap.Error(err))
		return
	}
	if summary.Due == 0 {
		s.logger.Debug("no crawlers due")
		return
	}
	s.logger.Info("scheduled crawl pass finished",
		zap.Int("due", summary.Due),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
}
