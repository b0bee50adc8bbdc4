package alert

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends alerts to a chat through the Bot API.
type Telegram struct {
	api    telegramAPI
	chatID int64
}

// NewTelegram connects a bot with token and targets chatID.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if token == "" {
		return nil, errors.New("alerts.telegram_token is required")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newTelegram(api, chatID)
}

func newTelegram(api telegramAPI, chatID int64) (*Telegram, error) {
	if chatID == 0 {
		return nil, errors.New("alerts.telegram_chat_id is required")
	}
	return &Telegram{api: api, chatID: chatID}, nil
}

// Alert sends the formatted alert.
func (t *Telegram) Alert(_ context.Context, a crawler.Alert) error {
	msg := tgbotapi.NewMessage(t.chatID, Format(a))
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}
	return nil
}
