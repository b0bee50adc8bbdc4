package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/adapter"
	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-social-crawler/internal/httpclient"
)

// DefaultPreviewBaseURL serves the public web preview of a channel.
const DefaultPreviewBaseURL = "https://t.me/s/"

var backgroundURL = regexp.MustCompile(`url\(['"]?([^'")]+)['"]?\)`)

// PublicPreview scrapes the t.me/s web preview of public channels with colly.
// Every page request goes through the gate.
type PublicPreview struct {
	gate      *adapter.Gate
	baseURL   string
	userAgent string
	logger    *zap.Logger
}

// NewPublicPreview builds the source.
func NewPublicPreview(gate *adapter.Gate, baseURL, userAgent string, logger *zap.Logger) *PublicPreview {
	if baseURL == "" {
		baseURL = DefaultPreviewBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublicPreview{gate: gate, baseURL: baseURL, userAgent: userAgent, logger: logger.Named("public_preview")}
}

// Name implements HistorySource.
func (s *PublicPreview) Name() string { return SourcePublicPreview }

// Messages scrapes the preview page of ch.
func (s *PublicPreview) Messages(ctx context.Context, ch Channel, limit int, since time.Time) ([]crawler.RawPost, error) {
	if ch.Username == "" {
		return nil, unavailable(EndpointPreview, ch, "private channels have no public preview")
	}
	var (
		mu       sync.Mutex
		posts    []crawler.RawPost
		history  bool
		fetchErr error
	)
	collector := colly.NewCollector(colly.Async(false))
	if s.userAgent != "" {
		collector.UserAgent = s.userAgent
	}
	collector.WithTransport(&gateTransport{ctx: ctx, gate: s.gate})

	collector.OnHTML(".tgme_channel_history", func(_ *colly.HTMLElement) {
		mu.Lock()
		history = true
		mu.Unlock()
	})
	collector.OnHTML(".tgme_widget_message[data-post]", func(e *colly.HTMLElement) {
		post, ok := previewPost(e, ch)
		if !ok {
			return
		}
		mu.Lock()
		posts = append(posts, post)
		mu.Unlock()
	})
	collector.OnError(func(_ *colly.Response, err error) {
		mu.Lock()
		fetchErr = err
		mu.Unlock()
	})

	if err := runCollector(ctx, collector, s.baseURL+ch.Username, &fetchErr); err != nil {
		return nil, err
	}
	if !history {
		return nil, unavailable(EndpointPreview, ch, "channel has no public web preview")
	}
	s.logger.Debug("preview scraped", zap.String("channel", ch.Username), zap.Int("messages", len(posts)))
	return selectRecent(posts, limit, since), nil
}

func runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("preview fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("preview visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("preview response failed: %w", *fetchErr)
		}
		return nil
	}
}

func previewPost(e *colly.HTMLElement, ch Channel) (crawler.RawPost, bool) {
	dataPost := e.Attr("data-post")
	_, idPart, ok := strings.Cut(dataPost, "/")
	if !ok {
		return crawler.RawPost{}, false
	}
	messageID, err := strconv.Atoi(idPart)
	if err != nil {
		return crawler.RawPost{}, false
	}
	stamp := e.ChildAttr(".tgme_widget_message_date time", "datetime")
	published, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return crawler.RawPost{}, false
	}
	text := strings.TrimSpace(e.ChildText(".tgme_widget_message_text.js-message_text"))
	views := parseCount(e.ChildText(".tgme_widget_message_views"))
	var media []string
	e.ForEach(".tgme_widget_message_photo_wrap", func(_ int, el *colly.HTMLElement) {
		if m := backgroundURL.FindStringSubmatch(el.Attr("style")); m != nil {
			media = append(media, m[1])
		}
	})
	var shares int64
	if e.ChildText(".tgme_widget_message_forwarded_from") != "" {
		shares = 1
	}
	author := strings.TrimSpace(e.ChildText(".tgme_widget_message_owner_name"))
	if author == "" {
		author = ch.Title
	}
	raw, _ := json.Marshal(map[string]any{
		"data_post": dataPost,
		"datetime":  stamp,
		"views":     views,
		"text":      text,
	})
	authorID := ""
	if ch.ID != 0 {
		authorID = strconv.FormatInt(ch.ID, 10)
	}
	return crawler.RawPost{
		ExternalID:        strconv.Itoa(messageID) + "_" + ch.Key(),
		Platform:          crawler.PlatformTelegram,
		SourceURL:         messageURL(ch, messageID),
		AuthorID:          authorID,
		AuthorUsername:    ch.Username,
		AuthorDisplayName: author,
		Content:           text,
		MediaURLs:         media,
		EngagementCount:   views,
		ShareCount:        shares,
		PublishedAt:       published.UTC(),
		Raw:               raw,
	}, true
}

// parseCount reads view counters such as "987", "1.2K" or "3M".
func parseCount(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0
	}
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = 1e3, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, s = 1e6, strings.TrimSuffix(s, "M")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(v * mult))
}

// gateTransport lets colly fetch pages through the rate-limit gate.
type gateTransport struct {
	ctx  context.Context
	gate *adapter.Gate
}

func (t *gateTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.gate.Call(t.ctx, crawler.PlatformTelegram, EndpointPreview, httpclient.Request{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
	})
	if err != nil {
		return nil, err
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		StatusCode:    resp.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        resp.Header,
		Body:          io.NopCloser(bytes.NewReader(resp.Body)),
		ContentLength: int64(len(resp.Body)),
		Request:       req,
	}, nil
}
