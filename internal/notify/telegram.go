package notify

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// TelegramSink delivers messages to a single chat. Send-only: no poller,
// no update handling.
type TelegramSink struct {
	bot    *tele.Bot
	chatID int64
}

func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, err
	}
	return &TelegramSink{bot: b, chatID: chatID}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := m.Subject
	if m.Body != "" {
		text += "\n\n" + m.Body
	}
	_, err := s.bot.Send(&tele.Chat{ID: s.chatID}, text)
	return err
}
