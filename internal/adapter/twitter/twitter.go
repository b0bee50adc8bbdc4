// Package twitter implements the crawl adapter for the Twitter/X API v2.
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/adapter"
	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-social-crawler/internal/httpclient"
)

// DefaultBaseURL is the API v2 root.
const DefaultBaseURL = "https://api.twitter.com/2"

// Endpoint names used for rate-limit accounting.
const (
	EndpointSearch     = "tweets/search/recent"
	EndpointUserTweets = "users/*/tweets"
	EndpointUserLookup = "users/by/username/*"
)

// recentSearchWindow is how far back recent search accepts a start_time, less a
// margin for request latency.
const recentSearchWindow = 7*24*time.Hour - time.Minute

const (
	tweetFields = "created_at,public_metrics,context_annotations,lang,author_id"
	userFields  = "username,name,verified,public_metrics"
	mediaFields = "url,preview_image_url,type"
	expansions  = "author_id,attachments.media_keys"
)

// Config holds API credentials.
type Config struct {
	BearerToken string
	BaseURL     string
}

// Adapter crawls Twitter through the gate.
type Adapter struct {
	cfg    Config
	gate   *adapter.Gate
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	users map[string]string
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l.Named("twitter")
		}
	}
}

// WithNow overrides the time source used to bound search windows.
func WithNow(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// New builds an Adapter. A missing bearer token surfaces as a Fatal error on every call.
func New(cfg Config, gate *adapter.Gate, opts ...Option) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	a := &Adapter{
		cfg:    cfg,
		gate:   gate,
		logger: zap.NewNop(),
		now:    time.Now,
		users:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Platform implements crawler.Adapter.
func (a *Adapter) Platform() crawler.Platform { return crawler.PlatformTwitter }

// Crawl searches recent tweets mentioning any keyword.
func (a *Adapter) Crawl(ctx context.Context, keywords []string, maxResults int, since time.Time) ([]crawler.RawPost, error) {
	return a.Search(ctx, keywords, maxResults, since)
}

// Search runs one recent-search query built from keywords.
func (a *Adapter) Search(ctx context.Context, keywords []string, maxResults int, since time.Time) ([]crawler.RawPost, error) {
	query := BuildQuery(keywords)
	if query == "" {
		return []crawler.RawPost{}, nil
	}
	if earliest := a.now().Add(-recentSearchWindow); !since.IsZero() && since.Before(earliest) {
		since = earliest
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("max_results", strconv.Itoa(clamp(maxResults, 10, 100)))
	if !since.IsZero() {
		params.Set("start_time", since.UTC().Format(time.RFC3339))
	}
	setFields(params)

	page, err := a.get(ctx, EndpointSearch, "/tweets/search/recent", params)
	if err != nil {
		return nil, err
	}
	posts, err := page.posts("")
	if err != nil {
		return nil, err
	}
	c := adapter.NewCollector(maxResults, since)
	c.AddAll(posts)
	a.logger.Debug("search finished", zap.Int("keywords", len(keywords)), zap.Int("posts", len(c.Posts())))
	return c.Posts(), nil
}

// UserPosts returns recent tweets from one account, identified by username.
func (a *Adapter) UserPosts(ctx context.Context, identity string, maxResults int, since time.Time) ([]crawler.RawPost, error) {
	username := strings.TrimPrefix(strings.TrimSpace(identity), "@")
	userID, err := a.userID(ctx, username)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("max_results", strconv.Itoa(clamp(maxResults, 5, 100)))
	params.Set("exclude", "retweets")
	if !since.IsZero() {
		params.Set("start_time", since.UTC().Format(time.RFC3339))
	}
	setFields(params)

	page, err := a.get(ctx, EndpointUserTweets, "/users/"+url.PathEscape(userID)+"/tweets", params)
	if err != nil {
		return nil, err
	}
	posts, err := page.posts(username)
	if err != nil {
		return nil, err
	}
	c := adapter.NewCollector(maxResults, since)
	c.AddAll(posts)
	return c.Posts(), nil
}

// TestConnection looks up a well-known account.
func (a *Adapter) TestConnection(ctx context.Context) bool {
	if _, err := a.lookupUser(ctx, "twitter"); err != nil {
		a.logger.Warn("connection test failed", zap.Error(err))
		return false
	}
	return true
}

// RateLimitStatus implements crawler.Adapter.
func (a *Adapter) RateLimitStatus(ctx context.Context) (map[string]crawler.EndpointStatus, error) {
	return a.gate.Status(ctx, crawler.PlatformTwitter)
}

func (a *Adapter) userID(ctx context.Context, username string) (string, error) {
	key := strings.ToLower(username)
	a.mu.Lock()
	id, ok := a.users[key]
	a.mu.Unlock()
	if ok {
		return id, nil
	}
	u, err := a.lookupUser(ctx, username)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	a.users[key] = u.ID
	a.mu.Unlock()
	return u.ID, nil
}

func (a *Adapter) lookupUser(ctx context.Context, username string) (user, error) {
	params := url.Values{}
	params.Set("user.fields", userFields)
	body, err := a.call(ctx, EndpointUserLookup, "/users/by/username/"+url.PathEscape(username), params)
	if err != nil {
		return user{}, err
	}
	var payload struct {
		Data   *user `json:"data"`
		Errors []struct {
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	if err := adapter.DecodeJSON(crawler.PlatformTwitter, EndpointUserLookup, body, &payload); err != nil {
		return user{}, err
	}
	if payload.Data == nil || payload.Data.ID == "" {
		msg := "user not found: " + username
		if len(payload.Errors) > 0 && payload.Errors[0].Detail != "" {
			msg = payload.Errors[0].Detail
		}
		return user{}, &crawler.ProviderError{
			Kind:     crawler.KindNotFound,
			Platform: crawler.PlatformTwitter,
			Endpoint: EndpointUserLookup,
			Message:  msg,
			Err:      crawler.ErrNotFound,
		}
	}
	return *payload.Data, nil
}

func (a *Adapter) get(ctx context.Context, endpoint, path string, params url.Values) (*searchResponse, error) {
	body, err := a.call(ctx, endpoint, path, params)
	if err != nil {
		return nil, err
	}
	var page searchResponse
	if err := adapter.DecodeJSON(crawler.PlatformTwitter, endpoint, body, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (a *Adapter) call(ctx context.Context, endpoint, path string, params url.Values) ([]byte, error) {
	if a.cfg.BearerToken == "" {
		return nil, crawler.NewFatal(crawler.PlatformTwitter, endpoint, fmt.Errorf("bearer token: %w", crawler.ErrMissingCredentials))
	}
	target := a.cfg.BaseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	resp, err := a.gate.Call(ctx, crawler.PlatformTwitter, endpoint, httpclient.Request{
		Method: http.MethodGet,
		URL:    target,
		Header: http.Header{"Authorization": {"Bearer " + a.cfg.BearerToken}},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// BuildQuery joins keywords into an OR query that excludes retweets and keeps English.
func BuildQuery(keywords []string) string {
	terms := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		k = strings.ReplaceAll(k, `\`, `\\`)
		k = strings.ReplaceAll(k, `"`, `\"`)
		terms = append(terms, `"`+k+`"`)
	}
	if len(terms) == 0 {
		return ""
	}
	return "(" + strings.Join(terms, " OR ") + ") -is:retweet lang:en"
}

func setFields(params url.Values) {
	params.Set("expansions", expansions)
	params.Set("tweet.fields", tweetFields)
	params.Set("user.fields", userFields)
	params.Set("media.fields", mediaFields)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type searchResponse struct {
	Data     []json.RawMessage `json:"data"`
	Includes struct {
		Users []user  `json:"users"`
		Media []media `json:"media"`
	} `json:"includes"`
	Meta struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
}

type tweet struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	AuthorID      string    `json:"author_id"`
	CreatedAt     time.Time `json:"created_at"`
	Lang          string    `json:"lang"`
	PublicMetrics struct {
		LikeCount    int64 `json:"like_count"`
		RetweetCount int64 `json:"retweet_count"`
		ReplyCount   int64 `json:"reply_count"`
		QuoteCount   int64 `json:"quote_count"`
	} `json:"public_metrics"`
	Attachments struct {
		MediaKeys []string `json:"media_keys"`
	} `json:"attachments"`
}

type user struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
}

type media struct {
	MediaKey        string `json:"media_key"`
	Type            string `json:"type"`
	URL             string `json:"url"`
	PreviewImageURL string `json:"preview_image_url"`
}

// posts converts a page into RawPosts. fallbackUsername names the author when
// the expansion did not include them.
func (r *searchResponse) posts(fallbackUsername string) ([]crawler.RawPost, error) {
	users := make(map[string]user, len(r.Includes.Users))
	for _, u := range r.Includes.Users {
		users[u.ID] = u
	}
	mediaURLs := make(map[string]string, len(r.Includes.Media))
	for _, m := range r.Includes.Media {
		u := m.URL
		if u == "" {
			u = m.PreviewImageURL
		}
		if u != "" {
			mediaURLs[m.MediaKey] = u
		}
	}

	posts := make([]crawler.RawPost, 0, len(r.Data))
	for _, raw := range r.Data {
		var t tweet
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, &crawler.ProviderError{
				Kind:     crawler.KindFatal,
				Platform: crawler.PlatformTwitter,
				Endpoint: EndpointSearch,
				Message:  "malformed tweet",
				Err:      err,
			}
		}
		author := users[t.AuthorID]
		username := author.Username
		if username == "" {
			username = fallbackUsername
		}
		link := username
		if link == "" {
			link = "unknown"
		}
		var urls []string
		for _, key := range t.Attachments.MediaKeys {
			if u, ok := mediaURLs[key]; ok {
				urls = append(urls, u)
			}
		}
		posts = append(posts, crawler.RawPost{
			ExternalID:        t.ID,
			Platform:          crawler.PlatformTwitter,
			SourceURL:         fmt.Sprintf("https://twitter.com/%s/status/%s", link, t.ID),
			AuthorID:          t.AuthorID,
			AuthorUsername:    username,
			AuthorDisplayName: author.Name,
			Content:           t.Text,
			MediaURLs:         urls,
			EngagementCount:   t.PublicMetrics.LikeCount,
			ShareCount:        t.PublicMetrics.RetweetCount,
			CommentCount:      t.PublicMetrics.ReplyCount,
			PublishedAt:       t.CreatedAt.UTC(),
			Raw:               append(json.RawMessage(nil), raw...),
		})
	}
	return posts, nil
}
