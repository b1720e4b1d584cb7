// Package telegram delivers operator notifications to a configured chat.
package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier sends operator-facing messages.
type Notifier interface {
	SendMessage(text string) error
	IsEnabled() bool
}

// Bot sends messages to one chat through the Telegram Bot API.
type Bot struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewBot authenticates against the Telegram API.
func NewBot(token string, chatID int64) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Bot{api: api, chatID: chatID}, nil
}

// SendMessage sends a plain-text message to the configured chat.
func (b *Bot) SendMessage(text string) error {
	msg := tgbotapi.NewMessage(b.chatID, text)
	_, err := b.api.Send(msg)
	return err
}

// IsEnabled reports whether the bot can deliver messages.
func (b *Bot) IsEnabled() bool {
	return b != nil && b.api != nil
}

// Disabled is a Notifier that drops everything. Used when the operator
// has not configured a bot token.
type Disabled struct{}

func (Disabled) SendMessage(string) error { return nil }
func (Disabled) IsEnabled() bool          { return false }

var _ Notifier = (*Bot)(nil)
var _ Notifier = Disabled{}
