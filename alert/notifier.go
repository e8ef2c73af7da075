// Package alert implements a HIGH-severity notifier for closure
// failures: a narrow one-way notifier built on a Telegram bot client,
// with no inbound command handling.
package alert

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/execengine/config"
)

// Notifier posts HIGH-severity alerts: closure failures,
// reconciliation-required events, sibling bracket cancel failures.
type Notifier interface {
	NotifyHigh(ctx context.Context, message string)
}

// TelegramNotifier posts to a single configured chat id.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier builds a notifier from cfg. If cfg.Enabled is
// false, NewTelegramNotifier returns a NoopNotifier instead so callers
// never need a nil check.
func NewTelegramNotifier(cfg config.TelegramConfig) (Notifier, error) {
	if !cfg.Enabled {
		return NoopNotifier{}, nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("alert: telegram init: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: cfg.ChatID}, nil
}

func (n *TelegramNotifier) NotifyHigh(ctx context.Context, message string) {
	msg := tgbotapi.NewMessage(n.chatID, "🔴 HIGH: "+message)
	if _, err := n.bot.Send(msg); err != nil {
		log.Error().Err(err).Msg("alert: telegram send failed")
	}
}

// NoopNotifier logs every alert at warn level instead of sending it;
// used when alerting is disabled.
type NoopNotifier struct{}

func (NoopNotifier) NotifyHigh(ctx context.Context, message string) {
	log.Warn().Str("severity", "HIGH").Str("message", message).Msg("alert: (telegram disabled)")
}
