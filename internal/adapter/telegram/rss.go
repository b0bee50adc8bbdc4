package telegram

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/adapter"
	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-social-crawler/internal/httpclient"
)

// DefaultRSSURLTemplate points at an RSSHub-style bridge. {channel} is replaced
// with the channel username.
const DefaultRSSURLTemplate = "https://rsshub.app/telegram/channel/{channel}"

// RSSBridge reads channel history from an RSS bridge feed.
type RSSBridge struct {
	gate     *adapter.Gate
	template string
	logger   *zap.Logger
}

// NewRSSBridge builds the source. The template must contain {channel}.
func NewRSSBridge(gate *adapter.Gate, template string, logger *zap.Logger) (*RSSBridge, error) {
	if template == "" {
		template = DefaultRSSURLTemplate
	}
	if !strings.Contains(template, "{channel}") {
		return nil, errors.New("rss url template must contain {channel}")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RSSBridge{gate: gate, template: template, logger: logger.Named("rss_bridge")}, nil
}

// Name implements HistorySource.
func (s *RSSBridge) Name() string { return SourceRSSBridge }

// Messages fetches and parses the channel feed.
func (s *RSSBridge) Messages(ctx context.Context, ch Channel, limit int, since time.Time) ([]crawler.RawPost, error) {
	if ch.Username == "" {
		return nil, unavailable(EndpointRSS, ch, "rss bridge needs a public username")
	}
	target := strings.ReplaceAll(s.template, "{channel}", url.PathEscape(ch.Username))
	resp, err := s.gate.Call(ctx, crawler.PlatformTelegram, EndpointRSS, httpclient.Request{Method: http.MethodGet, URL: target})
	if err != nil {
		if crawler.KindOf(err) == crawler.KindNotFound {
			return nil, unavailable(EndpointRSS, ch, "rss bridge has no feed for this channel")
		}
		return nil, err
	}
	feed, err := gofeed.NewParser().ParseString(string(resp.Body))
	if err != nil {
		return nil, &crawler.ProviderError{
			Kind:     crawler.KindFatal,
			Platform: crawler.PlatformTelegram,
			Endpoint: EndpointRSS,
			Message:  "malformed feed",
			Err:      err,
		}
	}

	posts := make([]crawler.RawPost, 0, len(feed.Items))
	for _, item := range feed.Items {
		post, ok := feedPost(item, ch)
		if ok {
			posts = append(posts, post)
		}
	}
	s.logger.Debug("feed parsed", zap.String("channel", ch.Username), zap.Int("items", len(posts)))
	return selectRecent(posts, limit, since), nil
}

func feedPost(item *gofeed.Item, ch Channel) (crawler.RawPost, bool) {
	published := item.PublishedParsed
	if published == nil {
		published = item.UpdatedParsed
	}
	if published == nil {
		return crawler.RawPost{}, false
	}
	body := item.Content
	if body == "" {
		body = item.Description
	}
	text := htmlText(body)
	if text == "" {
		text = item.Title
	}

	id := itemID(item)
	sourceURL := item.Link
	if n, err := strconv.Atoi(id); err == nil {
		sourceURL = messageURL(ch, n)
	}
	var media []string
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" {
			media = append(media, enc.URL)
		}
	}
	if item.Image != nil && item.Image.URL != "" {
		media = append(media, item.Image.URL)
	}
	author := ch.Title
	if len(item.Authors) > 0 && item.Authors[0] != nil && item.Authors[0].Name != "" {
		author = item.Authors[0].Name
	}
	raw, _ := json.Marshal(item)
	authorID := ""
	if ch.ID != 0 {
		authorID = strconv.FormatInt(ch.ID, 10)
	}
	return crawler.RawPost{
		ExternalID:        id + "_" + ch.Key(),
		Platform:          crawler.PlatformTelegram,
		SourceURL:         sourceURL,
		AuthorID:          authorID,
		AuthorUsername:    ch.Username,
		AuthorDisplayName: author,
		Content:           text,
		MediaURLs:         media,
		PublishedAt:       published.UTC(),
		Raw:               raw,
	}, true
}

// itemID prefers the numeric message id at the end of the item link.
func itemID(item *gofeed.Item) string {
	if u, err := url.Parse(item.Link); err == nil {
		if last := path.Base(u.Path); last != "" {
			if _, err := strconv.Atoi(last); err == nil {
				return last
			}
		}
	}
	key := item.GUID
	if key == "" {
		key = item.Title + "|" + item.Link
	}
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h[:8])
}

func htmlText(fragment string) string {
	if fragment == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.TrimSpace(doc.Text())
}
