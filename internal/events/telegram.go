package events

import (
	"context"
	"errors"
	"fmt"
	"html"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"brandline/internal/config"
	"brandline/internal/domain"
)

// Sender is the subset of *tgbotapi.BotAPI the sink needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// UserLookup resolves the chat id of the newly bound user.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
}

// TelegramSink posts a short message to the configured chat and to the
// assignee's own chat when they have one.
type TelegramSink struct {
	bot    Sender
	chatID int64
	users  UserLookup
}

func NewTelegramSink(cfg config.TelegramConfig, users UserLookup) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	return NewTelegramSinkWithSender(bot, cfg.ChatID, users), nil
}

func NewTelegramSinkWithSender(bot Sender, chatID int64, users UserLookup) *TelegramSink {
	return &TelegramSink{bot: bot, chatID: chatID, users: users}
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Deliver(ctx context.Context, evt domain.JobStatusChanged) error {
	text := formatMessage(evt)
	var errs []error
	if s.chatID != 0 {
		errs = append(errs, s.send(s.chatID, text))
	}
	if evt.AssigneeID != nil && s.users != nil {
		u, err := s.users.GetUser(ctx, *evt.AssigneeID)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("lookup %s: %w", *evt.AssigneeID, err))
		case u.ChatID != 0 && u.ChatID != s.chatID:
			errs = append(errs, s.send(u.ChatID, text))
		}
	}
	return errors.Join(errs...)
}

func (s *TelegramSink) send(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := s.bot.Send(msg)
	return err
}

func formatMessage(evt domain.JobStatusChanged) string {
	from := string(evt.PreviousStatus)
	if from == "" {
		from = "-"
	}
	text := fmt.Sprintf("<b>Job #%d</b>: %s → <b>%s</b>\n%s by %s",
		evt.JobID, html.EscapeString(from), html.EscapeString(string(evt.NewStatus)),
		html.EscapeString(string(evt.Action)), html.EscapeString(evt.ActorID))
	if evt.AssigneeID != nil {
		text += "\nassigned to " + html.EscapeString(*evt.AssigneeID)
	}
	return text
}
