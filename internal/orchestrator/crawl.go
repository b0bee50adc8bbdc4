package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-social-crawler/internal/keyword"
	"github.com/JakeFAU/realtime-social-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-social-crawler/internal/telemetry"
)

const (
	crawlOperation  = "crawl"
	attemptKeyTTL   = 24 * time.Hour
	attemptKeyScope = "crawler_retry_attempt:"
)

// ErrPlatformBusy is returned when a crawl for the platform is already running.
var ErrPlatformBusy = errors.New("platform crawl already in progress")

type fetchFunc func(ctx context.Context, a crawler.Adapter, rules []crawler.KeywordRule) ([]crawler.RawPost, error)

// run describes one job execution.
type run struct {
	platform crawler.Platform
	jobType  crawler.JobType
	config   crawler.CrawlerConfig
	params   map[string]any
	// requireRules fails the job when no active rule exists.
	requireRules bool
	// extra are ad hoc keywords counted toward relevance next to rule matches.
	extra []string
	fetch fetchFunc
}

// outcome is the result of one execution.
type outcome struct {
	job   crawler.CrawlJob
	posts []crawler.SocialPost
}

// CrawlPlatform runs one scheduled crawl for cfg. The returned job is always
// the persisted final state; err is non-nil when the job failed.
func (s *Service) CrawlPlatform(ctx context.Context, cfg crawler.CrawlerConfig) (crawler.CrawlJob, error) {
	return s.crawlConfig(ctx, cfg, crawler.JobTypeScheduled)
}

// TriggerCrawl runs the platform's config immediately as a manual job.
func (s *Service) TriggerCrawl(ctx context.Context, platform crawler.Platform) (crawler.CrawlJob, error) {
	cfg, err := s.store.GetConfig(ctx, platform)
	if err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("load %s config: %w", platform, err)
	}
	return s.crawlConfig(ctx, cfg, crawler.JobTypeManual)
}

func (s *Service) crawlConfig(ctx context.Context, cfg crawler.CrawlerConfig, jobType crawler.JobType) (crawler.CrawlJob, error) {
	now := s.clock.Now()
	since := now.Add(-s.cfg.DefaultLookback)
	if cfg.LastRunAt != nil {
		since = *cfg.LastRunAt
	}
	out, err := s.execute(ctx, run{
		platform:     cfg.Platform,
		jobType:      jobType,
		config:       cfg,
		requireRules: true,
		params: map[string]any{
			"max_results": cfg.MaxResultsPerRun,
			"since":       since.Format(time.RFC3339),
		},
		fetch: func(ctx context.Context, a crawler.Adapter, rules []crawler.KeywordRule) ([]crawler.RawPost, error) {
			return a.Crawl(ctx, keyword.Vocabulary(rules), cfg.MaxResultsPerRun, since)
		},
	})
	return out.job, err
}

// execute drives a job through pending, running and a terminal state.
func (s *Service) execute(ctx context.Context, r run) (out outcome, err error) {
	if !s.claim(r.platform) {
		return outcome{}, fmt.Errorf("%s: %w", r.platform, ErrPlatformBusy)
	}
	defer s.release(r.platform)

	ctx, span := telemetry.Tracer().Start(ctx, "crawl "+string(r.platform))
	defer span.End()
	span.SetAttributes(
		attribute.String("crawler.platform", string(r.platform)),
		attribute.String("crawler.job_type", string(r.jobType)),
	)

	id, err := s.ids.NewID()
	if err != nil {
		return outcome{}, fmt.Errorf("generate job id: %w", err)
	}
	started := s.clock.Now()
	job := crawler.CrawlJob{
		ID:         id,
		ConfigID:   r.config.ID,
		Platform:   r.platform,
		Type:       r.jobType,
		Parameters: r.params,
		Status:     crawler.JobStatusPending,
	}
	if job.Parameters == nil {
		job.Parameters = map[string]any{}
	}
	span.SetAttributes(attribute.String("crawler.job_id", job.ID))

	logger := s.logger.With(
		zap.String("job_id", job.ID),
		zap.String("platform", string(r.platform)),
		zap.String("job_type", string(r.jobType)),
	)

	job.Status = crawler.JobStatusRunning
	job.StartedAt = &started
	if err := s.store.CreateJob(ctx, job); err != nil {
		return outcome{job: job}, fmt.Errorf("create job: %w", err)
	}
	logger.Info("crawl job started")

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("crawl job panicked", zap.Any("panic", rec))
			out.job, err = s.failJob(ctx, r, job, crawler.NewFatal(r.platform, "", fmt.Errorf("panic: %v", rec)))
		}
		status := string(out.job.Status)
		if status == "" {
			status = string(crawler.JobStatusFailed)
		}
		metrics.ObserveJob(string(r.platform), status, s.clock.Now().Sub(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	adapter, err := s.Adapter(r.platform)
	if err != nil {
		job, err = s.failJob(ctx, r, job, err)
		return outcome{job: job}, err
	}

	rules, err := s.store.ActiveRules(ctx, r.platform)
	if err != nil {
		job, err = s.failJob(ctx, r, job, fmt.Errorf("load keyword rules: %w", err))
		return outcome{job: job}, err
	}
	if len(rules) == 0 && r.requireRules {
		job, err = s.failJob(ctx, r, job, crawler.NewFatal(r.platform, "",
			fmt.Errorf("no active keyword rules for %s: %w", r.platform, crawler.ErrNoActiveRules)))
		return outcome{job: job}, err
	}
	if _, ok := job.Parameters["keywords"]; !ok {
		job.Parameters["keywords"] = keyword.Vocabulary(rules)
	}

	raw, err := r.fetch(ctx, adapter, rules)
	if err != nil {
		job, err = s.failJob(ctx, r, job, err)
		return outcome{job: job}, err
	}
	if err := ctx.Err(); err != nil {
		job, err = s.failJob(ctx, r, job, err)
		return outcome{job: job}, err
	}
	logger.Debug("fetched posts", zap.Int("count", len(raw)))

	posts, stats, err := s.processBatch(ctx, r, rules, raw, logger)
	job.PostsFound = len(raw)
	job.PostsProcessed = stats.NewPosts + stats.UpdatedPosts
	job.Stats = stats
	if err != nil {
		job, err = s.failJob(ctx, r, job, err)
		return outcome{job: job, posts: posts}, err
	}

	archive := s.archive(ctx, job, raw)
	job, err = s.completeJob(ctx, r, job, started)
	if err != nil {
		return outcome{job: job, posts: posts}, err
	}
	s.emit(ctx, job, archive)
	logger.Info("crawl job completed",
		zap.Int("posts_found", job.PostsFound),
		zap.Int("posts_processed", job.PostsProcessed),
		zap.Int("keyword_matches", job.Stats.KeywordMatches),
	)
	return outcome{job: job, posts: posts}, nil
}

func (s *Service) completeJob(ctx context.Context, r run, job crawler.CrawlJob, started time.Time) (crawler.CrawlJob, error) {
	ctx = context.WithoutCancel(ctx)
	now := s.clock.Now()
	job.Status = crawler.JobStatusCompleted
	job.CompletedAt = &now
	job.Stats.ProcessingTimeMs = now.Sub(started).Milliseconds()
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return job, fmt.Errorf("complete job: %w", err)
	}
	if r.config.ID != 0 {
		if err := s.store.MarkRun(ctx, r.config.ID, now, now.Add(r.config.Cadence)); err != nil {
			s.logger.Warn("failed to update crawl schedule",
				zap.String("platform", string(r.platform)),
				zap.Error(err),
			)
		}
	}
	s.classifier.RecordSuccess(ctx, r.platform)
	if err := s.ttl.Delete(ctx, attemptKey(r.platform)); err != nil {
		s.logger.Warn("failed to reset retry attempts",
			zap.String("platform", string(r.platform)),
			zap.Error(err),
		)
	}
	return job, nil
}

// failJob records cause, decides on an early retry and persists the failed job.
// The returned error is cause.
func (s *Service) failJob(ctx context.Context, r run, job crawler.CrawlJob, cause error) (crawler.CrawlJob, error) {
	canceled := errors.Is(cause, context.Canceled)
	ctx = context.WithoutCancel(ctx)
	now := s.clock.Now()
	logger := s.logger.With(
		zap.String("job_id", job.ID),
		zap.String("platform", string(r.platform)),
	)

	jobErr := &crawler.JobError{
		Kind:    crawler.KindOf(cause),
		Message: cause.Error(),
	}
	if pe, ok := crawler.AsProviderError(cause); ok {
		jobErr.Endpoint = pe.Endpoint
		jobErr.StatusCode = pe.StatusCode
	}

	if !canceled {
		s.classifier.RecordError(ctx, r.platform, crawlOperation, cause)
		jobErr.Retryable = s.classifier.IsRetryable(cause, r.platform)
		s.schedule(ctx, r, jobErr, cause, now)
	}

	job.Status = crawler.JobStatusFailed
	job.CompletedAt = &now
	job.Error = jobErr
	if err := s.store.UpdateJob(ctx, job); err != nil {
		logger.Error("failed to persist failed job", zap.Error(err))
	}
	logger.Warn("crawl job failed",
		zap.String("kind", string(jobErr.Kind)),
		zap.Bool("retryable", jobErr.Retryable),
		zap.Int("attempt", jobErr.Attempt),
		zap.Error(cause),
	)
	if !canceled {
		s.classifier.Alert(ctx, r.platform, crawlOperation, cause)
	}
	s.emit(ctx, job, "")
	return job, cause
}

// schedule moves the config's next run: early for a retryable failure with
// attempts left, otherwise one cadence out with the attempt counter reset.
func (s *Service) schedule(ctx context.Context, r run, jobErr *crawler.JobError, cause error, now time.Time) {
	if r.config.ID == 0 {
		return
	}
	logger := s.logger.With(zap.String("platform", string(r.platform)))
	if jobErr.Retryable {
		attempt, err := s.ttl.Incr(ctx, attemptKey(r.platform), attemptKeyTTL)
		if err != nil {
			logger.Warn("failed to count retry attempt", zap.Error(err))
			attempt = int64(s.cfg.MaxAttempts)
		}
		jobErr.Attempt = int(attempt)
		if int(attempt) < s.cfg.MaxAttempts {
			next := now.Add(s.classifier.RetryDelay(int(attempt), r.platform, cause))
			if err := s.store.Reschedule(ctx, r.config.ID, next); err != nil {
				logger.Warn("failed to reschedule retry", zap.Error(err))
				return
			}
			jobErr.NextAttemptAt = &next
			return
		}
	}
	if err := s.ttl.Delete(ctx, attemptKey(r.platform)); err != nil {
		logger.Warn("failed to reset retry attempts", zap.Error(err))
	}
	next := now.Add(r.config.Cadence)
	if err := s.store.Reschedule(ctx, r.config.ID, next); err != nil {
		logger.Warn("failed to reschedule crawl", zap.Error(err))
		return
	}
	jobErr.NextAttemptAt = &next
}

func attemptKey(platform crawler.Platform) string {
	return attemptKeyScope + string(platform)
}
