// Package reddit implements the crawl adapter for the Reddit OAuth API.
package reddit

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/adapter"
	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-social-crawler/internal/httpclient"
)

// Defaults for the OAuth endpoints.
const (
	DefaultBaseURL   = "https://oauth.reddit.com"
	DefaultAuthURL   = "https://www.reddit.com/api/v1/access_token"
	DefaultUserAgent = "realtime-social-crawler/1.0"
)

// Endpoint names used for rate-limit accounting.
const (
	EndpointSearch    = "search"
	EndpointNew       = "r/*/new"
	EndpointSubmitted = "user/*/submitted"
	EndpointToken     = "access_token"
	EndpointMe        = "api/v1/me"
)

const (
	tokenSkew        = 60 * time.Second
	subredditLimit   = 10
	maxSearchPerTerm = 25
)

// DefaultSubreddits are scanned when none are configured.
var DefaultSubreddits = []string{
	"cryptocurrency", "CryptoCurrency", "bitcoin", "ethereum", "defi", "NFT",
	"CryptoMarkets", "BlockChain", "CryptoCurrencyTrading", "altcoin",
	"CryptoTechnology", "ethtrader", "bitcoinmarkets", "cryptomoonshots", "web3",
}

// Config holds OAuth client credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
	BaseURL      string
	AuthURL      string
	Subreddits   []string
}

// Adapter crawls Reddit through the gate.
type Adapter struct {
	cfg    Config
	gate   *adapter.Gate
	tokens *adapter.TokenCache
	logger *zap.Logger
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l.Named("reddit")
		}
	}
}

// WithNow overrides the time source of the token cache.
func WithNow(now func() time.Time) Option {
	return func(a *Adapter) { a.tokens = adapter.NewTokenCache(tokenSkew, now) }
}

// New builds an Adapter.
func New(cfg Config, gate *adapter.Gate, opts ...Option) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if len(cfg.Subreddits) == 0 {
		cfg.Subreddits = DefaultSubreddits
	}
	a := &Adapter{
		cfg:    cfg,
		gate:   gate,
		tokens: adapter.NewTokenCache(tokenSkew, nil),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Platform implements crawler.Adapter.
func (a *Adapter) Platform() crawler.Platform { return crawler.PlatformReddit }

// Crawl searches each keyword, then scans the configured subreddits for keyword mentions.
func (a *Adapter) Crawl(ctx context.Context, keywords []string, maxResults int, since time.Time) ([]crawler.RawPost, error) {
	if len(keywords) == 0 {
		return []crawler.RawPost{}, nil
	}
	c := adapter.NewCollector(maxResults, since)
	if err := a.search(ctx, c, keywords, maxResults); err != nil {
		return nil, err
	}
	for _, sub := range a.cfg.Subreddits {
		if c.Full() {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		posts, err := a.listing(ctx, EndpointNew, "/r/"+url.PathEscape(sub)+"/new", url.Values{"limit": {strconv.Itoa(subredditLimit)}})
		if crawler.KindOf(err) == crawler.KindNotFound {
			a.logger.Warn("subreddit unavailable", zap.String("subreddit", sub), zap.Error(err))
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, p := range posts {
			if mentionsAny(p.Content, keywords) {
				c.Add(p)
			}
		}
	}
	return c.Posts(), nil
}

// Search runs the per-keyword search only.
func (a *Adapter) Search(ctx context.Context, keywords []string, maxResults int, since time.Time) ([]crawler.RawPost, error) {
	if len(keywords) == 0 {
		return []crawler.RawPost{}, nil
	}
	c := adapter.NewCollector(maxResults, since)
	if err := a.search(ctx, c, keywords, maxResults); err != nil {
		return nil, err
	}
	return c.Posts(), nil
}

// UserPosts returns the newest submissions of one user.
func (a *Adapter) UserPosts(ctx context.Context, identity string, maxResults int, since time.Time) ([]crawler.RawPost, error) {
	username := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(identity), "u/"), "/u/")
	params := url.Values{}
	params.Set("limit", strconv.Itoa(clamp(maxResults, 1, 100)))
	params.Set("sort", "new")
	posts, err := a.listing(ctx, EndpointSubmitted, "/user/"+url.PathEscape(username)+"/submitted", params)
	if err != nil {
		return nil, err
	}
	c := adapter.NewCollector(maxResults, since)
	c.AddAll(posts)
	return c.Posts(), nil
}

// TestConnection fetches the authenticated identity.
func (a *Adapter) TestConnection(ctx context.Context) bool {
	if _, err := a.get(ctx, EndpointMe, "/api/v1/me", nil); err != nil {
		a.logger.Warn("connection test failed", zap.Error(err))
		return false
	}
	return true
}

// RateLimitStatus implements crawler.Adapter.
func (a *Adapter) RateLimitStatus(ctx context.Context) (map[string]crawler.EndpointStatus, error) {
	return a.gate.Status(ctx, crawler.PlatformReddit)
}

func (a *Adapter) search(ctx context.Context, c *adapter.Collector, keywords []string, maxResults int) error {
	perTerm := maxSearchPerTerm
	if maxResults > 0 {
		perTerm = min(maxSearchPerTerm, int(math.Ceil(float64(maxResults)/float64(len(keywords)))))
	}
	for _, kw := range keywords {
		if c.Full() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		params := url.Values{}
		params.Set("q", kw)
		params.Set("type", "link")
		params.Set("sort", "new")
		params.Set("limit", strconv.Itoa(max(perTerm, 1)))
		params.Set("restrict_sr", "false")
		posts, err := a.listing(ctx, EndpointSearch, "/search", params)
		if err != nil {
			return err
		}
		c.AddAll(posts)
	}
	return nil
}

func (a *Adapter) listing(ctx context.Context, endpoint, path string, params url.Values) ([]crawler.RawPost, error) {
	body, err := a.get(ctx, endpoint, path, params)
	if err != nil {
		return nil, err
	}
	var l listing
	if err := adapter.DecodeJSON(crawler.PlatformReddit, endpoint, body, &l); err != nil {
		return nil, err
	}
	return l.posts(), nil
}

// get issues an authenticated GET. A 401 clears the token and retries once.
func (a *Adapter) get(ctx context.Context, endpoint, path string, params url.Values) ([]byte, error) {
	target := a.cfg.BaseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		token, err := a.token(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := a.gate.Call(ctx, crawler.PlatformReddit, endpoint, httpclient.Request{
			Method: http.MethodGet,
			URL:    target,
			Header: http.Header{
				"Authorization": {"Bearer " + token},
				"User-Agent":    {a.cfg.UserAgent},
			},
		})
		if err == nil {
			return resp.Body, nil
		}
		lastErr = err
		if resp.StatusCode != http.StatusUnauthorized {
			return nil, err
		}
		a.logger.Info("access token rejected, refreshing", zap.String("endpoint", endpoint))
		a.tokens.Clear()
	}
	return nil, lastErr
}

func (a *Adapter) token(ctx context.Context) (string, error) {
	if tok, ok := a.tokens.Get(); ok {
		return tok, nil
	}
	if a.cfg.ClientID == "" || a.cfg.ClientSecret == "" {
		return "", crawler.NewFatal(crawler.PlatformReddit, EndpointToken, fmt.Errorf("client credentials: %w", crawler.ErrMissingCredentials))
	}
	basic := base64.StdEncoding.EncodeToString([]byte(a.cfg.ClientID + ":" + a.cfg.ClientSecret))
	resp, err := a.gate.Call(ctx, crawler.PlatformReddit, EndpointToken, httpclient.Request{
		Method: http.MethodPost,
		URL:    a.cfg.AuthURL,
		Header: http.Header{
			"Authorization": {"Basic " + basic},
			"Content-Type":  {"application/x-www-form-urlencoded"},
			"User-Agent":    {a.cfg.UserAgent},
		},
		Body: []byte(url.Values{"grant_type": {"client_credentials"}}.Encode()),
	})
	if err != nil {
		return "", fmt.Errorf("reddit authentication: %w", err)
	}
	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		Error       string `json:"error"`
	}
	if err := adapter.DecodeJSON(crawler.PlatformReddit, EndpointToken, resp.Body, &payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" {
		return "", &crawler.ProviderError{
			Kind:     crawler.KindAuth,
			Platform: crawler.PlatformReddit,
			Endpoint: EndpointToken,
			Message:  "no access token returned: " + payload.Error,
		}
	}
	ttl := time.Duration(payload.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	a.tokens.Set(payload.AccessToken, ttl)
	a.logger.Debug("access token refreshed", zap.Duration("ttl", ttl))
	return payload.AccessToken, nil
}

func mentionsAny(content string, keywords []string) bool {
	lower := strings.ToLower(content)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
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
