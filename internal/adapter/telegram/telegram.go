// Package telegram implements the crawl adapter for public Telegram channels.
// Channel metadata comes from the Bot API; message history comes from a
// pluggable HistorySource.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/adapter"
	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-social-crawler/internal/httpclient"
)

// DefaultBaseURL is the Bot API root.
const DefaultBaseURL = "https://api.telegram.org"

// Endpoint names used for rate-limit accounting.
const (
	EndpointGetChat    = "getChat"
	EndpointGetMe      = "getMe"
	EndpointGetUpdates = "getUpdates"
	EndpointPreview    = "preview"
	EndpointRSS        = "rss"
)

const maxPerChannel = 50

// DefaultChannels are crawled when none are configured.
var DefaultChannels = []string{"@cryptonews", "@blockchain", "@defi_news", "@nft_news"}

// Config controls the adapter.
type Config struct {
	BotToken       string
	BaseURL        string
	Channels       []string
	HistorySource  string
	PreviewBaseURL string
	RSSURLTemplate string
	UserAgent      string
}

// Adapter crawls Telegram channels.
type Adapter struct {
	cfg    Config
	gate   *adapter.Gate
	bot    *botClient
	source HistorySource
	store  crawler.TTLStore
	logger *zap.Logger

	mu    sync.Mutex
	chats map[string]Channel
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l.Named("telegram")
		}
	}
}

// WithHistorySource replaces the source selected by Config.HistorySource.
func WithHistorySource(src HistorySource) Option {
	return func(a *Adapter) { a.source = src }
}

// WithStore persists the bot update offset and channel membership.
func WithStore(store crawler.TTLStore) Option {
	return func(a *Adapter) { a.store = store }
}

// New builds an Adapter and its history source.
func New(cfg Config, gate *adapter.Gate, opts ...Option) (*Adapter, error) {
	if gate == nil {
		return nil, errors.New("gate is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if len(cfg.Channels) == 0 {
		cfg.Channels = DefaultChannels
	}
	if cfg.HistorySource == "" {
		cfg.HistorySource = SourceBotUpdates
	}
	a := &Adapter{
		cfg:    cfg,
		gate:   gate,
		bot:    &botClient{gate: gate, baseURL: cfg.BaseURL, token: cfg.BotToken},
		logger: zap.NewNop(),
		chats:  make(map[string]Channel),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.source == nil {
		src, err := a.newSource()
		if err != nil {
			return nil, err
		}
		a.source = src
	}
	return a, nil
}

func (a *Adapter) newSource() (HistorySource, error) {
	switch a.cfg.HistorySource {
	case SourceBotUpdates:
		return newBotUpdates(a.bot, a.store, a.logger), nil
	case SourcePublicPreview:
		return NewPublicPreview(a.gate, a.cfg.PreviewBaseURL, a.cfg.UserAgent, a.logger), nil
	case SourceRSSBridge:
		return NewRSSBridge(a.gate, a.cfg.RSSURLTemplate, a.logger)
	}
	return nil, fmt.Errorf("unknown telegram history source %q", a.cfg.HistorySource)
}

// Platform implements crawler.Adapter.
func (a *Adapter) Platform() crawler.Platform { return crawler.PlatformTelegram }

// Crawl reads each configured channel and keeps posts mentioning a keyword.
// Channels the source cannot serve are skipped with a warning; when no channel
// can be served the last NotFound is returned. Posts examined by a successful
// crawl are acknowledged to sources that buffer them.
func (a *Adapter) Crawl(ctx context.Context, keywords []string, maxResults int, since time.Time) ([]crawler.RawPost, error) {
	return a.scan(ctx, keywords, maxResults, since, true)
}

// Search has no provider-side equivalent and scans channels like Crawl, without
// acknowledging anything.
func (a *Adapter) Search(ctx context.Context, keywords []string, maxResults int, since time.Time) ([]crawler.RawPost, error) {
	return a.scan(ctx, keywords, maxResults, since, false)
}

func (a *Adapter) scan(ctx context.Context, keywords []string, maxResults int, since time.Time, ack bool) ([]crawler.RawPost, error) {
	if len(keywords) == 0 || len(a.cfg.Channels) == 0 {
		return []crawler.RawPost{}, nil
	}
	perChannel := maxPerChannel
	if maxResults > 0 {
		perChannel = min(maxPerChannel, int(math.Ceil(float64(maxResults)/float64(len(a.cfg.Channels)))))
	}

	c := adapter.NewCollector(maxResults, since)
	var (
		served      int
		unavailable error
		examined    = make(map[Channel][]string)
	)
	for _, name := range a.cfg.Channels {
		if c.Full() {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ch, posts, err := a.channelPosts(ctx, name, perChannel, since)
		if crawler.KindOf(err) == crawler.KindNotFound {
			a.logger.Warn("channel unavailable",
				zap.String("channel", name),
				zap.String("source", a.source.Name()),
				zap.Error(err),
			)
			unavailable = err
			continue
		}
		if err != nil {
			return nil, err
		}
		served++
		for _, p := range posts {
			if c.Full() {
				break
			}
			if mentionsAny(p.Content, keywords) {
				c.Add(p)
			}
			examined[ch] = append(examined[ch], p.ExternalID)
		}
	}
	if served == 0 && unavailable != nil {
		return nil, unavailable
	}
	if acker, ok := a.source.(Acknowledger); ok && ack {
		for ch, ids := range examined {
			acker.Ack(ch, ids)
		}
	}
	posts := c.Posts()
	adapter.SortNewestFirst(posts)
	return posts, nil
}

// UserPosts reads one channel.
func (a *Adapter) UserPosts(ctx context.Context, identity string, maxResults int, since time.Time) ([]crawler.RawPost, error) {
	limit := maxResults
	if limit <= 0 {
		limit = maxPerChannel
	}
	_, posts, err := a.channelPosts(ctx, identity, limit, since)
	if err != nil {
		return nil, err
	}
	c := adapter.NewCollector(maxResults, since)
	c.AddAll(posts)
	out := c.Posts()
	adapter.SortNewestFirst(out)
	return out, nil
}

// TestConnection calls getMe.
func (a *Adapter) TestConnection(ctx context.Context) bool {
	raw, err := a.bot.call(ctx, EndpointGetMe, nil)
	if err != nil {
		a.logger.Warn("connection test failed", zap.Error(err))
		return false
	}
	var me tgbotapi.User
	if err := json.Unmarshal(raw, &me); err != nil || me.ID == 0 {
		return false
	}
	return true
}

// RateLimitStatus implements crawler.Adapter.
func (a *Adapter) RateLimitStatus(ctx context.Context) (map[string]crawler.EndpointStatus, error) {
	return a.gate.Status(ctx, crawler.PlatformTelegram)
}

func (a *Adapter) channelPosts(ctx context.Context, name string, limit int, since time.Time) (Channel, []crawler.RawPost, error) {
	ch, err := a.resolve(ctx, name)
	if err != nil {
		return Channel{}, nil, err
	}
	posts, err := a.source.Messages(ctx, ch, limit, since)
	return ch, posts, err
}

// resolve looks a channel up with getChat, caching the result. Without a bot
// token, sources that do not need the Bot API get the bare username.
func (a *Adapter) resolve(ctx context.Context, name string) (Channel, error) {
	username := normalizeChannel(name)
	a.mu.Lock()
	ch, ok := a.chats[username]
	a.mu.Unlock()
	if ok {
		return ch, nil
	}
	if a.cfg.BotToken == "" && a.source.Name() != SourceBotUpdates {
		return Channel{Username: username}, nil
	}

	chatID := "@" + username
	if id, err := strconv.ParseInt(username, 10, 64); err == nil {
		chatID = strconv.FormatInt(id, 10)
	}
	raw, err := a.bot.call(ctx, EndpointGetChat, url.Values{"chat_id": {chatID}})
	if err != nil {
		return Channel{}, err
	}
	var chat tgbotapi.Chat
	if err := adapter.DecodeJSON(crawler.PlatformTelegram, EndpointGetChat, raw, &chat); err != nil {
		return Channel{}, err
	}
	ch = Channel{ID: chat.ID, Username: chat.UserName, Title: chat.Title}
	if ch.Username == "" && chat.ID == 0 {
		ch.Username = username
	}
	a.mu.Lock()
	a.chats[username] = ch
	a.mu.Unlock()
	return ch, nil
}

// LiftRetryAfter copies the Bot API parameters.retry_after hint of a 429 body
// into a Retry-After header so rate-limit bookkeeping sees it.
func LiftRetryAfter(resp *httpclient.Response) {
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") != "" {
		return
	}
	var payload tgbotapi.APIResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil || payload.Parameters == nil || payload.Parameters.RetryAfter <= 0 {
		return
	}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	resp.Header.Set("Retry-After", strconv.Itoa(payload.Parameters.RetryAfter))
}

type botClient struct {
	gate    *adapter.Gate
	baseURL string
	token   string
}

// call invokes a Bot API method and returns its result payload.
func (b *botClient) call(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	if b.token == "" {
		return nil, crawler.NewFatal(crawler.PlatformTelegram, method, fmt.Errorf("bot token: %w", crawler.ErrMissingCredentials))
	}
	target := b.baseURL + "/bot" + b.token + "/" + method
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	resp, err := b.gate.Call(ctx, crawler.PlatformTelegram, method, httpclient.Request{Method: http.MethodGet, URL: target})
	if err != nil {
		return nil, chatNotFound(err)
	}
	var payload tgbotapi.APIResponse
	if err := adapter.DecodeJSON(crawler.PlatformTelegram, method, resp.Body, &payload); err != nil {
		return nil, err
	}
	if !payload.Ok {
		kind := crawler.KindFatal
		if payload.ErrorCode > 0 {
			kind = adapter.KindForStatus(payload.ErrorCode)
		}
		return nil, chatNotFound(&crawler.ProviderError{
			Kind:       kind,
			Platform:   crawler.PlatformTelegram,
			Endpoint:   method,
			StatusCode: payload.ErrorCode,
			Message:    payload.Description,
		})
	}
	return payload.Result, nil
}

// chatNotFound reclassifies the Bot API's 400 "chat not found" as NotFound.
func chatNotFound(err error) error {
	pe, ok := crawler.AsProviderError(err)
	if !ok || pe.StatusCode != http.StatusBadRequest {
		return err
	}
	if strings.Contains(strings.ToLower(pe.Message), "chat not found") {
		pe.Kind = crawler.KindNotFound
	}
	return err
}

func normalizeChannel(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "https://t.me/")
	name = strings.TrimPrefix(name, "t.me/")
	return strings.TrimPrefix(name, "@")
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
