package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-social-crawler/internal/keyword"
	"github.com/JakeFAU/realtime-social-crawler/internal/metrics"
)

// Post outcomes reported to metrics.
const (
	outcomeNew     = "new"
	outcomeUpdated = "updated"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

// processBatch persists posts in provider order. A persistence error fails the
// post only; the batch fails when every post failed.
func (s *Service) processBatch(
	ctx context.Context,
	r run,
	rules []crawler.KeywordRule,
	raw []crawler.RawPost,
	logger *zap.Logger,
) ([]crawler.SocialPost, crawler.JobStats, error) {
	var (
		stats    crawler.JobStats
		posts    []crawler.SocialPost
		attempts int
		lastErr  error
	)
	for _, post := range raw {
		if err := ctx.Err(); err != nil {
			return posts, stats, err
		}
		if post.Platform == "" {
			post.Platform = r.platform
		}
		if !s.withinBounds(post.Content) {
			stats.SkippedPosts++
			metrics.ObservePost(string(r.platform), outcomeSkipped)
			continue
		}
		attempts++
		stored, scored, matched, err := s.processPost(ctx, r, rules, post)
		if err != nil {
			lastErr = err
			stats.FailedPosts++
			metrics.ObservePost(string(r.platform), outcomeFailed)
			logger.Warn("failed to persist post",
				zap.String("external_id", post.ExternalID),
				zap.Error(err),
			)
			continue
		}
		if scored {
			stats.NewPosts++
			stats.KeywordMatches += matched
			metrics.ObservePost(string(r.platform), outcomeNew)
		} else {
			stats.UpdatedPosts++
			metrics.ObservePost(string(r.platform), outcomeUpdated)
		}
		posts = append(posts, stored)
	}
	metrics.ObserveKeywordMatches(string(r.platform), stats.KeywordMatches)
	if attempts > 0 && stats.FailedPosts == attempts {
		return posts, stats, crawler.NewFatal(r.platform, "",
			fmt.Errorf("all %d posts failed to persist: %w", attempts, lastErr))
	}
	return posts, stats, nil
}

func (s *Service) withinBounds(content string) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(content))
	return n >= s.cfg.MinContentLength && n <= s.cfg.MaxContentLength
}

// processPost upserts one post and matches and scores it unless an earlier
// sighting already did. A post left unprocessed by a failed run is scored again.
// It reports whether the post was scored and the number of keyword matches written.
func (s *Service) processPost(
	ctx context.Context,
	r run,
	rules []crawler.KeywordRule,
	post crawler.RawPost,
) (crawler.SocialPost, bool, int, error) {
	if !s.cfg.SaveRawData {
		post.Raw = nil
	}
	stored, created, err := s.store.UpsertPost(ctx, post)
	if err != nil {
		return crawler.SocialPost{}, false, 0, fmt.Errorf("upsert post %s: %w", post.ExternalID, err)
	}
	if !created && stored.IsProcessed {
		return stored, false, 0, nil
	}

	now := s.clock.Now()
	var (
		matches []crawler.KeywordMatch
		found   []string
		seen    = make(map[string]struct{})
	)
	addKeyword := func(kw string) {
		key := strings.ToLower(kw)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		found = append(found, kw)
	}
	for _, rule := range rules {
		for _, m := range keyword.MatchRule(rule, post.Content, r.platform) {
			matches = append(matches, crawler.KeywordMatch{
				PostID:     stored.ID,
				RuleID:     rule.ID,
				Keyword:    m.Keyword,
				MatchCount: m.Count,
				Positions:  m.Positions,
				Confidence: m.Confidence,
				CreatedAt:  now,
			})
			addKeyword(m.Keyword)
		}
	}
	for _, m := range keyword.MatchKeywords(post.Content, r.extra, keyword.Options{}) {
		addKeyword(m.Keyword)
	}

	sentiment := s.sentiment.Analyze(post.Content)
	score := sentiment.Score
	analysis := crawler.PostAnalysis{
		MatchedKeywords: found,
		SentimentScore:  &score,
		SentimentLabel:  sentiment.Label,
		RelevanceScore: Relevance(
			len(found),
			post.TotalEngagement(),
			now.Sub(post.PublishedAt),
			utf8.RuneCountInString(post.Content),
		),
	}

	if len(matches) > 0 {
		if err := s.store.InsertMatches(ctx, matches); err != nil {
			return crawler.SocialPost{}, false, 0, fmt.Errorf("insert matches for post %d: %w", stored.ID, err)
		}
	}
	if err := s.store.SaveAnalysis(ctx, stored.ID, analysis); err != nil {
		return crawler.SocialPost{}, false, 0, fmt.Errorf("save analysis for post %d: %w", stored.ID, err)
	}
	stored.MatchedKeywords = analysis.MatchedKeywords
	stored.SentimentScore = analysis.SentimentScore
	stored.SentimentLabel = analysis.SentimentLabel
	stored.RelevanceScore = analysis.RelevanceScore
	stored.IsProcessed = true
	return stored, true, len(matches), nil
}
