package telegram

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/JakeFAU/realtime-social-crawler/internal/adapter"
	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
)

// History source names accepted in Config.HistorySource.
const (
	SourceBotUpdates    = "bot_updates"
	SourcePublicPreview = "public_preview"
	SourceRSSBridge     = "rss_bridge"
)

// Channel is a resolved Telegram channel.
type Channel struct {
	ID       int64
	Username string
	Title    string
}

// Key identifies the channel in external IDs.
func (c Channel) Key() string {
	if c.ID != 0 {
		return strconv.FormatInt(c.ID, 10)
	}
	return c.Username
}

// HistorySource reads recent messages of one channel. A channel the source
// cannot serve yields a NotFound ProviderError, never an empty slice.
type HistorySource interface {
	Name() string
	Messages(ctx context.Context, ch Channel, limit int, since time.Time) ([]crawler.RawPost, error)
}

// Acknowledger is implemented by sources that keep delivered posts until the
// crawl that read them succeeds.
type Acknowledger interface {
	Ack(ch Channel, externalIDs []string)
}

func unavailable(endpoint string, ch Channel, reason string) error {
	return &crawler.ProviderError{
		Kind:     crawler.KindNotFound,
		Platform: crawler.PlatformTelegram,
		Endpoint: endpoint,
		Message:  "@" + ch.Username + ": " + reason,
		Err:      crawler.ErrNotFound,
	}
}

func messageURL(ch Channel, messageID int) string {
	if ch.Username != "" {
		return "https://t.me/" + ch.Username + "/" + strconv.Itoa(messageID)
	}
	internal := strings.TrimPrefix(strconv.FormatInt(ch.ID, 10), "-100")
	return "https://t.me/c/" + internal + "/" + strconv.Itoa(messageID)
}

// messagePost converts a Bot API channel post.
func messagePost(m *tgbotapi.Message) crawler.RawPost {
	ch := Channel{}
	if m.Chat != nil {
		ch = Channel{ID: m.Chat.ID, Username: m.Chat.UserName, Title: m.Chat.Title}
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	var shares int64
	if m.ForwardFromChat != nil || m.ForwardFrom != nil || m.ForwardDate != 0 {
		shares = 1
	}
	author := m.AuthorSignature
	if author == "" {
		author = ch.Title
	}
	raw, _ := json.Marshal(m)
	return crawler.RawPost{
		ExternalID:        strconv.Itoa(m.MessageID) + "_" + ch.Key(),
		Platform:          crawler.PlatformTelegram,
		SourceURL:         messageURL(ch, m.MessageID),
		AuthorID:          strconv.FormatInt(ch.ID, 10),
		AuthorUsername:    ch.Username,
		AuthorDisplayName: author,
		Content:           text,
		ShareCount:        shares,
		PublishedAt:       m.Time().UTC(),
		Raw:               raw,
	}
}

// selectRecent keeps posts at or after since, newest first, at most limit.
func selectRecent(posts []crawler.RawPost, limit int, since time.Time) []crawler.RawPost {
	out := make([]crawler.RawPost, 0, len(posts))
	for _, p := range posts {
		if !since.IsZero() && p.PublishedAt.Before(since) {
			continue
		}
		out = append(out, p)
	}
	adapter.SortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
