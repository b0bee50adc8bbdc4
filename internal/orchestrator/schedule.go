package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-social-crawler/internal/metrics"
)

// StatusSkipped marks a platform whose previous crawl was still running.
const StatusSkipped crawler.JobStatus = "skipped"

// Result is the outcome of one platform in a scheduled run.
type Result struct {
	Platform crawler.Platform  `json:"platform"`
	JobID    string            `json:"job_id,omitempty"`
	Status   crawler.JobStatus `json:"status"`
	Posts    int               `json:"posts_processed"`
	Error    string            `json:"error,omitempty"`
}

// Summary aggregates a scheduled run.
type Summary struct {
	Due       int      `json:"due"`
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Results   []Result `json:"results"`
}

// RunScheduled crawls every due config through a bounded worker pool and
// blocks until all of them finished. Platforms never share a failure.
func (s *Service) RunScheduled(ctx context.Context) (Summary, error) {
	configs, err := s.store.DueConfigs(ctx, s.clock.Now())
	if err != nil {
		return Summary{}, fmt.Errorf("load due configs: %w", err)
	}
	summary := Summary{Due: len(configs), Results: make([]Result, 0, len(configs))}
	if len(configs) == 0 {
		return summary, nil
	}

	work := make(chan crawler.CrawlerConfig)
	results := make(chan Result, len(configs))
	workers := min(s.cfg.Workers, len(configs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cfg := range work {
				results <- s.runOne(ctx, cfg)
			}
		}()
	}

feed:
	for _, cfg := range configs {
		select {
		case <-ctx.Done():
			break feed
		case work <- cfg:
		}
	}
	close(work)
	wg.Wait()
	close(results)

	for res := range results {
		switch res.Status {
		case crawler.JobStatusCompleted:
			summary.Completed++
		case crawler.JobStatusFailed:
			summary.Failed++
		default:
			summary.Skipped++
		}
		summary.Results = append(summary.Results, res)
	}
	s.logger.Info("scheduled run finished",
		zap.Int("due", summary.Due),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, ctx.Err()
}

// runOne isolates one platform crawl, turning panics into a failed result.
func (s *Service) runOne(ctx context.Context, cfg crawler.CrawlerConfig) (res Result) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	res = Result{Platform: cfg.Platform}
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("platform crawl panicked",
				zap.String("platform", string(cfg.Platform)),
				zap.Any("panic", rec),
			)
			res.Status = crawler.JobStatusFailed
			res.Error = fmt.Sprintf("panic: %v", rec)
		}
	}()

	job, err := s.CrawlPlatform(ctx, cfg)
	res.JobID = job.ID
	res.Status = job.Status
	res.Posts = job.PostsProcessed
	if err != nil {
		res.Error = err.Error()
		if errors.Is(err, ErrPlatformBusy) {
			res.Status = StatusSkipped
		} else if !res.Status.Terminal() {
			res.Status = crawler.JobStatusFailed
		}
	}
	return res
}
