// Package notify pushes task outcomes to the user when they are away
// from the device: completion, failure, and blocked-on-input events.
package notify

import (
	"context"
	"log"
	"strings"
)

// Notifier delivers one short out-of-band message to the user.
type Notifier interface {
	Send(ctx context.Context, text string) error
	Name() string
}

// New picks Telegram when configured, otherwise a log-only notifier.
func New(telegramToken string, telegramChatID int64) (Notifier, error) {
	if strings.TrimSpace(telegramToken) != "" && telegramChatID != 0 {
		return NewTelegramNotifier(telegramToken, telegramChatID)
	}
	return NewLogNotifier(), nil
}

// LogNotifier writes notifications to the server log. It is the dev
// fallback when no push channel is configured.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Send(_ context.Context, text string) error {
	log.Printf("notify: %s", text)
	return nil
}
