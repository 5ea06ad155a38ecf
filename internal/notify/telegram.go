package notify

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/okibrian/valet/internal/reliability"
)

const (
	telegramMaxAttempts = 3
	telegramBackoffBase = 500 * time.Millisecond
	telegramBackoffCap  = 5 * time.Second
)

// TelegramNotifier pushes messages to a fixed chat via the Bot API.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

func (n *TelegramNotifier) Name() string { return "telegram" }

func (n *TelegramNotifier) Send(ctx context.Context, text string) error {
	var lastErr error
	for attempt := 0; attempt < telegramMaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := reliability.ExponentialBackoff(attempt, telegramBackoffBase, telegramBackoffCap)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		msg := tgbotapi.NewMessage(n.chatID, text)
		if _, err := n.bot.Send(msg); err != nil {
			lastErr = err
			if !reliability.IsRetryableSendError(err) {
				return fmt.Errorf("telegram send: %w", err)
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("telegram send after %d attempts: %w", telegramMaxAttempts, lastErr)
}
