package telegram

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/adapter"
	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
)

const (
	offsetKey        = "telegram:updates:offset"
	memberKeyPrefix  = "telegram:updates:chat:"
	memberTTL        = 30 * 24 * time.Hour
	updatesPageSize  = 100
	maxUpdatePages   = 5
	maxBufferedPosts = 500
)

// BotUpdates drains getUpdates and buffers channel posts per chat until a crawl
// acknowledges them. The bot only receives posts of channels it is a member of;
// other channels are NotFound.
type BotUpdates struct {
	bot    *botClient
	store  crawler.TTLStore
	logger *zap.Logger

	mu      sync.Mutex
	offset  int
	loaded  bool
	buffer  map[int64][]crawler.RawPost
	members map[int64]bool
}

// newBotUpdates builds the source. A nil store keeps the offset in memory only.
func newBotUpdates(bot *botClient, store crawler.TTLStore, logger *zap.Logger) *BotUpdates {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BotUpdates{
		bot:     bot,
		store:   store,
		logger:  logger.Named("bot_updates"),
		buffer:  make(map[int64][]crawler.RawPost),
		members: make(map[int64]bool),
	}
}

// Name implements HistorySource.
func (s *BotUpdates) Name() string { return SourceBotUpdates }

// Messages polls for new updates and returns the buffered posts of ch. Posts
// stay buffered until acknowledged with Ack.
func (s *BotUpdates) Messages(ctx context.Context, ch Channel, limit int, since time.Time) ([]crawler.RawPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.poll(ctx); err != nil {
		return nil, err
	}
	if !s.isMember(ctx, ch.ID) {
		return nil, unavailable(EndpointGetUpdates, ch, "bot receives no posts from this channel; add it as an administrator or use another history source")
	}
	return selectRecent(s.buffer[ch.ID], limit, since), nil
}

// Ack drops the posts of ch with the given external IDs from the buffer.
func (s *BotUpdates) Ack(ch Channel, externalIDs []string) {
	if len(externalIDs) == 0 {
		return
	}
	done := make(map[string]struct{}, len(externalIDs))
	for _, id := range externalIDs {
		done[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.buffer[ch.ID][:0]
	for _, p := range s.buffer[ch.ID] {
		if _, ok := done[p.ExternalID]; !ok {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		delete(s.buffer, ch.ID)
		return
	}
	s.buffer[ch.ID] = kept
}

func (s *BotUpdates) poll(ctx context.Context) error {
	s.loadOffset(ctx)
	allowed, _ := json.Marshal([]string{"channel_post"})
	for page := 0; page < maxUpdatePages; page++ {
		params := url.Values{}
		params.Set("offset", strconv.Itoa(s.offset))
		params.Set("limit", strconv.Itoa(updatesPageSize))
		params.Set("timeout", "0")
		params.Set("allowed_updates", string(allowed))
		raw, err := s.bot.call(ctx, EndpointGetUpdates, params)
		if err != nil {
			return err
		}
		var updates []tgbotapi.Update
		if err := adapter.DecodeJSON(crawler.PlatformTelegram, EndpointGetUpdates, raw, &updates); err != nil {
			return err
		}
		for _, u := range updates {
			if u.UpdateID >= s.offset {
				s.offset = u.UpdateID + 1
			}
			if u.ChannelPost == nil || u.ChannelPost.Chat == nil {
				continue
			}
			s.add(ctx, messagePost(u.ChannelPost), u.ChannelPost.Chat.ID)
		}
		s.saveOffset(ctx)
		if len(updates) < updatesPageSize {
			return nil
		}
	}
	return nil
}

func (s *BotUpdates) add(ctx context.Context, post crawler.RawPost, chatID int64) {
	buf := append(s.buffer[chatID], post)
	if len(buf) > maxBufferedPosts {
		buf = buf[len(buf)-maxBufferedPosts:]
	}
	s.buffer[chatID] = buf
	if s.members[chatID] {
		return
	}
	s.members[chatID] = true
	if s.store != nil {
		if err := s.store.Set(ctx, memberKeyPrefix+strconv.FormatInt(chatID, 10), "1", memberTTL); err != nil {
			s.logger.Warn("failed to persist channel membership", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
}

func (s *BotUpdates) isMember(ctx context.Context, chatID int64) bool {
	if chatID == 0 {
		return false
	}
	if s.members[chatID] {
		return true
	}
	if s.store == nil {
		return false
	}
	_, ok, err := s.store.Get(ctx, memberKeyPrefix+strconv.FormatInt(chatID, 10))
	if err != nil {
		s.logger.Warn("failed to read channel membership", zap.Int64("chat_id", chatID), zap.Error(err))
		return false
	}
	if ok {
		s.members[chatID] = true
	}
	return ok
}

func (s *BotUpdates) loadOffset(ctx context.Context) {
	if s.loaded || s.store == nil {
		s.loaded = true
		return
	}
	s.loaded = true
	v, ok, err := s.store.Get(ctx, offsetKey)
	if err != nil {
		s.logger.Warn("failed to load update offset", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		s.offset = n
	}
}

func (s *BotUpdates) saveOffset(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.Set(ctx, offsetKey, strconv.Itoa(s.offset), 0); err != nil {
		s.logger.Warn("failed to persist update offset", zap.Int("offset", s.offset), zap.Error(err))
	}
}
