package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
)

// Job event types.
const (
	EventJobCompleted = "crawl_job.completed"
	EventJobFailed    = "crawl_job.failed"
)

// JobEvent is published when a crawl job reaches a terminal state.
type JobEvent struct {
	Type       string           `json:"event_type"`
	Job        crawler.CrawlJob `json:"job"`
	ArchiveURI string           `json:"archive_uri,omitempty"`
}

// emit publishes the terminal job event. Failures are logged only.
func (s *Service) emit(ctx context.Context, job crawler.CrawlJob, archiveURI string) {
	if s.publisher == nil {
		return
	}
	event := JobEvent{Type: EventJobCompleted, Job: job, ArchiveURI: archiveURI}
	if job.Status == crawler.JobStatusFailed {
		event.Type = EventJobFailed
	}
	id, err := s.publisher.Publish(context.WithoutCancel(ctx), s.cfg.EventTopic, event)
	if err != nil {
		s.logger.Warn("failed to publish job event",
			zap.String("job_id", job.ID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("published job event",
		zap.String("job_id", job.ID),
		zap.String("event_type", event.Type),
		zap.String("message_id", id),
	)
}

// archive writes the raw batch to the blob store and returns its URI.
// Nothing is written when archiving is off or the batch is empty.
func (s *Service) archive(ctx context.Context, job crawler.CrawlJob, raw []crawler.RawPost) string {
	if !s.cfg.ArchiveRaw || s.blobs == nil || len(raw) == 0 {
		return ""
	}
	data, err := json.Marshal(raw)
	if err != nil {
		s.logger.Warn("failed to encode raw batch", zap.String("job_id", job.ID), zap.Error(err))
		return ""
	}
	uri, err := s.blobs.PutObject(context.WithoutCancel(ctx), ArchivePath(job), "application/json", bytes.NewReader(data))
	if err != nil {
		s.logger.Warn("failed to archive raw batch", zap.String("job_id", job.ID), zap.Error(err))
		return ""
	}
	return uri
}

// ArchivePath is the blob path of a job's raw batch: platform/YYYY/MM/DD/jobID.json.
func ArchivePath(job crawler.CrawlJob) string {
	day := "undated"
	if job.StartedAt != nil {
		day = job.StartedAt.UTC().Format("2006/01/02")
	}
	return path.Join(string(job.Platform), day, fmt.Sprintf("%s.json", job.ID))
}
