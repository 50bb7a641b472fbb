package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramAlerter posts operator alerts to a single chat.
type TelegramAlerter struct {
	bot    botSender
	chatID int64
}

func NewTelegramAlerter(bot *tgbotapi.BotAPI, chatID int64) *TelegramAlerter {
	return &TelegramAlerter{bot: bot, chatID: chatID}
}

// Alert returns once the message is sent or ctx is done, whichever comes first.
// The bot library takes no context, so a stalled send is left to finish on its own.
func (t *TelegramAlerter) Alert(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true

	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(msg)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram send: %w", ctx.Err())
	}
}
