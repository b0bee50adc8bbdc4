// Package postgres provides the Postgres-backed crawler.Store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the store needs.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store implements crawler.Store on Postgres.
type Store struct {
	pool Pool
}

var _ crawler.Store = (*Store)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool.
func NewWithPool(pool Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const configColumns = `id, name, platform, enabled, max_results_per_run, rate_limit_per_hour,
	cadence_seconds, last_run_at, next_run_at, settings`

// DueConfigs returns enabled configs whose next run is at or before now.
func (s *Store) DueConfigs(ctx context.Context, now time.Time) ([]crawler.CrawlerConfig, error) {
	query := `SELECT ` + configColumns + `
		FROM crawler_configs
		WHERE enabled AND (next_run_at IS NULL OR next_run_at <= $1)
		ORDER BY id;`
	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query due configs: %w", err)
	}
	defer rows.Close()

	var configs []crawler.CrawlerConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due configs: %w", err)
	}
	return configs, nil
}

// GetConfig returns the config of a platform.
func (s *Store) GetConfig(ctx context.Context, platform crawler.Platform) (crawler.CrawlerConfig, error) {
	query := `SELECT ` + configColumns + ` FROM crawler_configs WHERE platform = $1;`
	cfg, err := scanConfig(s.pool.QueryRow(ctx, query, string(platform)))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.CrawlerConfig{}, fmt.Errorf("config for %s: %w", platform, crawler.ErrNotFound)
	}
	return cfg, err
}

func scanConfig(row pgx.Row) (crawler.CrawlerConfig, error) {
	var (
		cfg      crawler.CrawlerConfig
		platform string
		cadence  int64
		settings []byte
	)
	err := row.Scan(
		&cfg.ID,
		&cfg.Name,
		&platform,
		&cfg.Enabled,
		&cfg.MaxResultsPerRun,
		&cfg.RateLimitPerHour,
		&cadence,
		&cfg.LastRunAt,
		&cfg.NextRunAt,
		&settings,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cfg, err
		}
		return cfg, fmt.Errorf("scan config row: %w", err)
	}
	cfg.Platform = crawler.Platform(platform)
	cfg.Cadence = time.Duration(cadence) * time.Second
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &cfg.Settings); err != nil {
			return cfg, fmt.Errorf("decode config settings: %w", err)
		}
	}
	return cfg, nil
}

// MarkRun records a finished run.
func (s *Store) MarkRun(ctx context.Context, id int64, lastRun, nextRun time.Time) error {
	query := `UPDATE crawler_configs
		SET last_run_at = $1, next_run_at = $2, updated_at = now()
		WHERE id = $3;`
	return s.execOne(ctx, "mark config run", query, lastRun, nextRun, id)
}

// Reschedule moves the next run without touching the last run.
func (s *Store) Reschedule(ctx context.Context, id int64, nextRun time.Time) error {
	query := `UPDATE crawler_configs SET next_run_at = $1, updated_at = now() WHERE id = $2;`
	return s.execOne(ctx, "reschedule config", query, nextRun, id)
}

func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, crawler.ErrNotFound)
	}
	return nil
}

// ActiveRules returns active rules targeting platform, highest priority first.
func (s *Store) ActiveRules(ctx context.Context, platform crawler.Platform) ([]crawler.KeywordRule, error) {
	query := `
		SELECT id, name, keywords, exclude_keywords, platforms, priority, match_type,
			case_sensitive, require_sentiment, is_active
		FROM keyword_rules
		WHERE is_active AND (cardinality(platforms) = 0 OR $1 = ANY(platforms))
		ORDER BY CASE priority
			WHEN 'critical' THEN 4
			WHEN 'high' THEN 3
			WHEN 'medium' THEN 2
			WHEN 'low' THEN 1
			ELSE 0 END DESC, id;`
	rows, err := s.pool.Query(ctx, query, string(platform))
	if err != nil {
		return nil, fmt.Errorf("query active rules: %w", err)
	}
	defer rows.Close()

	var rules []crawler.KeywordRule
	for rows.Next() {
		var (
			rule      crawler.KeywordRule
			platforms []string
			priority  string
			matchType string
		)
		err := rows.Scan(
			&rule.ID,
			&rule.Name,
			&rule.Keywords,
			&rule.ExcludeKeywords,
			&platforms,
			&priority,
			&matchType,
			&rule.CaseSensitive,
			&rule.RequireSentiment,
			&rule.Active,
		)
		if err != nil {
			return nil, fmt.Errorf("scan rule row: %w", err)
		}
		rule.Priority = crawler.Priority(priority)
		rule.MatchType = crawler.MatchType(matchType)
		for _, p := range platforms {
			rule.Platforms = append(rule.Platforms, crawler.Platform(p))
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

// UpsertPost inserts a new post or refreshes the counters of an existing one.
// On a re-sighting the returned post carries the stored identity and the given fields.
func (s *Store) UpsertPost(ctx context.Context, post crawler.RawPost) (crawler.SocialPost, bool, error) {
	if post.ExternalID == "" {
		return crawler.SocialPost{}, false, errors.New("external id is required")
	}
	query := `
		INSERT INTO social_posts (
			platform, external_id, source_url, author_id, author_username, author_display_name,
			content, media_urls, engagement_count, share_count, comment_count, published_at, raw_data
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (platform, external_id) DO UPDATE
		SET engagement_count = EXCLUDED.engagement_count,
			share_count = EXCLUDED.share_count,
			comment_count = EXCLUDED.comment_count,
			updated_at = now()
		RETURNING id, created_at, updated_at, is_processed, relevance_score, (xmax = 0) AS inserted;`

	media := post.MediaURLs
	if media == nil {
		media = []string{}
	}
	var raw []byte
	if len(post.Raw) > 0 {
		raw = post.Raw
	}
	stored := crawler.SocialPost{RawPost: post}
	var inserted bool
	err := s.pool.QueryRow(ctx, query,
		string(post.Platform),
		post.ExternalID,
		post.SourceURL,
		post.AuthorID,
		post.AuthorUsername,
		post.AuthorDisplayName,
		post.Content,
		media,
		post.EngagementCount,
		post.ShareCount,
		post.CommentCount,
		post.PublishedAt,
		raw,
	).Scan(&stored.ID, &stored.CreatedAt, &stored.UpdatedAt, &stored.IsProcessed, &stored.RelevanceScore, &inserted)
	if err != nil {
		return crawler.SocialPost{}, false, fmt.Errorf("upsert post %s/%s: %w", post.Platform, post.ExternalID, err)
	}
	return stored, inserted, nil
}

// SaveAnalysis writes keyword and scoring results and marks the post processed.
func (s *Store) SaveAnalysis(ctx context.Context, postID int64, analysis crawler.PostAnalysis) error {
	keywords := analysis.MatchedKeywords
	if keywords == nil {
		keywords = []string{}
	}
	query := `UPDATE social_posts
		SET matched_keywords = $1, sentiment_score = $2, sentiment_label = $3,
			relevance_score = $4, is_processed = TRUE, updated_at = now()
		WHERE id = $5;`
	return s.execOne(ctx, "save post analysis", query,
		keywords, analysis.SentimentScore, analysis.SentimentLabel, analysis.RelevanceScore, postID)
}

// InsertMatches stores matches, ignoring duplicates of (post, rule, keyword).
func (s *Store) InsertMatches(ctx context.Context, matches []crawler.KeywordMatch) error {
	query := `
		INSERT INTO keyword_matches (post_id, rule_id, keyword, match_count, positions, confidence)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (post_id, rule_id, keyword) DO NOTHING;`
	for _, m := range matches {
		positions := m.Positions
		if positions == nil {
			positions = []int{}
		}
		if _, err := s.pool.Exec(ctx, query, m.PostID, m.RuleID, m.Keyword, m.MatchCount, positions, m.Confidence); err != nil {
			return fmt.Errorf("insert keyword match %q for post %d: %w", m.Keyword, m.PostID, err)
		}
	}
	return nil
}

// KeywordActivity aggregates matches of posts published since on platform.
// An empty platform aggregates every platform.
func (s *Store) KeywordActivity(ctx context.Context, platform crawler.Platform, since time.Time) ([]crawler.KeywordActivity, error) {
	query := `
		SELECT km.keyword, COUNT(*) AS mentions,
			COALESCE(SUM(sp.engagement_count + sp.share_count + sp.comment_count), 0)::bigint AS engagement
		FROM keyword_matches km
		JOIN social_posts sp ON sp.id = km.post_id
		WHERE sp.published_at >= $1 AND ($2 = '' OR sp.platform = $2)
		GROUP BY km.keyword
		ORDER BY mentions DESC, km.keyword;`
	return s.activity(ctx, query, since, string(platform))
}

func (s *Store) activity(ctx context.Context, query string, args ...any) ([]crawler.KeywordActivity, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query keyword activity: %w", err)
	}
	defer rows.Close()

	out := []crawler.KeywordActivity{}
	for rows.Next() {
		var (
			a        crawler.KeywordActivity
			mentions int64
		)
		if err := rows.Scan(&a.Keyword, &mentions, &a.Engagement); err != nil {
			return nil, fmt.Errorf("scan keyword activity: %w", err)
		}
		a.Mentions = int(mentions)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keyword activity: %w", err)
	}
	return out, nil
}

// Statistics summarizes posts created and jobs started since.
func (s *Store) Statistics(ctx context.Context, since time.Time) (crawler.Statistics, error) {
	stats := crawler.Statistics{
		PostsByPlatform: make(map[crawler.Platform]int),
		JobsByStatus:    make(map[crawler.JobStatus]int),
		TopKeywords:     []crawler.KeywordActivity{},
	}

	postQuery := `
		SELECT platform, COUNT(*), COUNT(*) FILTER (WHERE is_processed),
			COALESCE(SUM(relevance_score) FILTER (WHERE is_processed), 0)
		FROM social_posts
		WHERE created_at >= $1
		GROUP BY platform;`
	rows, err := s.pool.Query(ctx, postQuery, since)
	if err != nil {
		return stats, fmt.Errorf("query post statistics: %w", err)
	}
	var relevanceSum float64
	for rows.Next() {
		var (
			platform         string
			total, processed int64
			relevance        float64
		)
		if err := rows.Scan(&platform, &total, &processed, &relevance); err != nil {
			rows.Close()
			return stats, fmt.Errorf("scan post statistics: %w", err)
		}
		stats.PostsByPlatform[crawler.Platform(platform)] = int(total)
		stats.TotalPosts += int(total)
		stats.ProcessedPosts += int(processed)
		relevanceSum += relevance
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate post statistics: %w", err)
	}
	if stats.ProcessedPosts > 0 {
		stats.AvgRelevance = relevanceSum / float64(stats.ProcessedPosts)
	}

	var matches int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM keyword_matches WHERE created_at >= $1;`, since).Scan(&matches); err != nil {
		return stats, fmt.Errorf("count keyword matches: %w", err)
	}
	stats.KeywordMatches = int(matches)

	topQuery := `
		SELECT km.keyword, COUNT(*) AS mentions,
			COALESCE(SUM(sp.engagement_count + sp.share_count + sp.comment_count), 0)::bigint AS engagement
		FROM keyword_matches km
		JOIN social_posts sp ON sp.id = km.post_id
		WHERE sp.published_at >= $1
		GROUP BY km.keyword
		ORDER BY mentions DESC, km.keyword
		LIMIT 10;`
	top, err := s.activity(ctx, topQuery, since)
	if err != nil {
		return stats, err
	}
	stats.TopKeywords = top

	jobQuery := `
		SELECT status, COUNT(*),
			COALESCE(AVG((stats->>'processing_time_ms')::double precision) FILTER (WHERE status = 'completed'), 0)
		FROM crawl_jobs
		WHERE started_at >= $1
		GROUP BY status;`
	jobRows, err := s.pool.Query(ctx, jobQuery, since)
	if err != nil {
		return stats, fmt.Errorf("query job statistics: %w", err)
	}
	defer jobRows.Close()
	for jobRows.Next() {
		var (
			status string
			count  int64
			avgMs  float64
		)
		if err := jobRows.Scan(&status, &count, &avgMs); err != nil {
			return stats, fmt.Errorf("scan job statistics: %w", err)
		}
		stats.JobsByStatus[crawler.JobStatus(status)] = int(count)
		if crawler.JobStatus(status) == crawler.JobStatusCompleted {
			stats.AvgProcessingMs = avgMs
		}
	}
	if err := jobRows.Err(); err != nil {
		return stats, fmt.Errorf("iterate job statistics: %w", err)
	}
	return stats, nil
}

// CreateJob stores a new job.
func (s *Store) CreateJob(ctx context.Context, job crawler.CrawlJob) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	params, errJSON, statsJSON, err := jobJSON(job)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO crawl_jobs (
			id, config_id, platform, job_type, parameters, status, started_at, completed_at,
			posts_found, posts_processed, error, stats
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12);`
	_, err = s.pool.Exec(ctx, query,
		job.ID,
		nullableID(job.ConfigID),
		string(job.Platform),
		string(job.Type),
		params,
		string(job.Status),
		job.StartedAt,
		job.CompletedAt,
		job.PostsFound,
		job.PostsProcessed,
		errJSON,
		statsJSON,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateJob replaces a job row. Terminal jobs cannot change.
func (s *Store) UpdateJob(ctx context.Context, job crawler.CrawlJob) error {
	if job.PostsProcessed > job.PostsFound {
		return fmt.Errorf("job %s: processed %d exceeds found %d", job.ID, job.PostsProcessed, job.PostsFound)
	}
	params, errJSON, statsJSON, err := jobJSON(job)
	if err != nil {
		return err
	}
	query := `
		UPDATE crawl_jobs
		SET parameters = $1, status = $2, started_at = $3, completed_at = $4,
			posts_found = $5, posts_processed = $6, error = $7, stats = $8
		WHERE id = $9 AND status NOT IN ('completed', 'failed');`
	tag, err := s.pool.Exec(ctx, query,
		params,
		string(job.Status),
		job.StartedAt,
		job.CompletedAt,
		job.PostsFound,
		job.PostsProcessed,
		errJSON,
		statsJSON,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s is missing or already finished: %w", job.ID, crawler.ErrNotFound)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (crawler.CrawlJob, error) {
	query := `
		SELECT id, COALESCE(config_id, 0), platform, job_type, parameters, status, started_at, completed_at,
			posts_found, posts_processed, error, stats
		FROM crawl_jobs
		WHERE id = $1;`
	var (
		job                  crawler.CrawlJob
		platform, jobType    string
		status               string
		params, errJSON, raw []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&job.ID,
		&job.ConfigID,
		&platform,
		&jobType,
		&params,
		&status,
		&job.StartedAt,
		&job.CompletedAt,
		&job.PostsFound,
		&job.PostsProcessed,
		&errJSON,
		&raw,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.CrawlJob{}, fmt.Errorf("job %s: %w", id, crawler.ErrNotFound)
		}
		return crawler.CrawlJob{}, fmt.Errorf("get job %s: %w", id, err)
	}
	job.Platform = crawler.Platform(platform)
	job.Type = crawler.JobType(jobType)
	job.Status = crawler.JobStatus(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Parameters); err != nil {
			return crawler.CrawlJob{}, fmt.Errorf("decode job parameters: %w", err)
		}
	}
	if len(errJSON) > 0 {
		job.Error = &crawler.JobError{}
		if err := json.Unmarshal(errJSON, job.Error); err != nil {
			return crawler.CrawlJob{}, fmt.Errorf("decode job error: %w", err)
		}
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &job.Stats); err != nil {
			return crawler.CrawlJob{}, fmt.Errorf("decode job stats: %w", err)
		}
	}
	return job, nil
}

func jobJSON(job crawler.CrawlJob) (params, errJSON, stats []byte, err error) {
	p := job.Parameters
	if p == nil {
		p = map[string]any{}
	}
	if params, err = json.Marshal(p); err != nil {
		return nil, nil, nil, fmt.Errorf("encode job parameters: %w", err)
	}
	if job.Error != nil {
		if errJSON, err = json.Marshal(job.Error); err != nil {
			return nil, nil, nil, fmt.Errorf("encode job error: %w", err)
		}
	}
	if stats, err = json.Marshal(job.Stats); err != nil {
		return nil, nil, nil, fmt.Errorf("encode job stats: %w", err)
	}
	return params, errJSON, stats, nil
}

func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

// RecordWindow upserts an analytics window; repeated writes keep the highest usage.
func (s *Store) RecordWindow(ctx context.Context, w crawler.RateLimitWindow) error {
	query := `
		INSERT INTO rate_limit_windows (
			platform, endpoint, api_key_hash, requests_made, requests_limit,
			window_start, window_end, reset_at, is_exceeded
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (platform, endpoint, api_key_hash, window_start) DO UPDATE
		SET requests_made = GREATEST(rate_limit_windows.requests_made, EXCLUDED.requests_made),
			requests_limit = EXCLUDED.requests_limit,
			reset_at = COALESCE(EXCLUDED.reset_at, rate_limit_windows.reset_at),
			is_exceeded = rate_limit_windows.is_exceeded OR EXCLUDED.is_exceeded;`
	_, err := s.pool.Exec(ctx, query,
		string(w.Platform),
		w.Endpoint,
		w.APIKeyHash,
		w.RequestsMade,
		w.RequestsLimit,
		w.WindowStart,
		w.WindowEnd,
		w.ResetAt,
		w.Exceeded,
	)
	if err != nil {
		return fmt.Errorf("record rate limit window: %w", err)
	}
	return nil
}

// WindowStatistics summarizes windows started at or after since.
func (s *Store) WindowStatistics(ctx context.Context, since time.Time) (crawler.RateLimitStatistics, error) {
	stats := crawler.RateLimitStatistics{
		ByPlatform: make(map[crawler.Platform]int64),
		ByEndpoint: []crawler.EndpointUsage{},
	}
	query := `
		SELECT platform, endpoint, COALESCE(SUM(requests_made), 0)::bigint AS total,
			COUNT(*) AS windows, COUNT(*) FILTER (WHERE is_exceeded) AS exceeded
		FROM rate_limit_windows
		WHERE window_start >= $1
		GROUP BY platform, endpoint
		ORDER BY total DESC, platform, endpoint;`
	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return stats, fmt.Errorf("query rate limit statistics: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			u        crawler.EndpointUsage
			platform string
			exceeded int64
		)
		if err := rows.Scan(&platform, &u.Endpoint, &u.TotalRequests, &u.Windows, &exceeded); err != nil {
			return stats, fmt.Errorf("scan rate limit statistics: %w", err)
		}
		u.Platform = crawler.Platform(platform)
		stats.ByEndpoint = append(stats.ByEndpoint, u)
		stats.ByPlatform[u.Platform] += u.TotalRequests
		stats.TotalRequests += u.TotalRequests
		stats.ExceededWindows += exceeded
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate rate limit statistics: %w", err)
	}
	return stats, nil
}
