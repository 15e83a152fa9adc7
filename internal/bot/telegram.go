package bot

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/arashpm/leech-relay-bot/internal/broadcast"
	"github.com/arashpm/leech-relay-bot/internal/gate"
)

// chatMemberOracle answers membership queries through the Bot API.
type chatMemberOracle struct {
	bot *tgbotapi.BotAPI
}

func (o *chatMemberOracle) Status(ctx context.Context, channelID, userID int64) (gate.Status, error) {
	if err := ctx.Err(); err != nil {
		return gate.StatusUnknown, err
	}
	m, err := o.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: channelID,
			UserID: userID,
		},
	})
	if err != nil {
		return gate.StatusUnknown, err
	}
	return gate.Status(m.Status), nil
}

// telegramSender delivers broadcast payloads over the Bot API.
type telegramSender struct {
	bot *tgbotapi.BotAPI
}

func (s *telegramSender) Send(ctx context.Context, chatID int64, p broadcast.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var c tgbotapi.Chattable
	switch p.Kind {
	case broadcast.KindPhoto:
		msg := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(p.FileID))
		msg.Caption = p.Caption
		c = msg
	case broadcast.KindVideo:
		msg := tgbotapi.NewVideo(chatID, tgbotapi.FileID(p.FileID))
		msg.Caption = p.Caption
		c = msg
	case broadcast.KindDocument:
		msg := tgbotapi.NewDocument(chatID, tgbotapi.FileID(p.FileID))
		msg.Caption = p.Caption
		c = msg
	default:
		c = tgbotapi.NewMessage(chatID, p.Text)
	}
	_, err := s.bot.Send(c)
	return err
}

// classifyDelivery decides whether a failed delivery should flag the record.
// "user is deactivated" means the account is gone; blocked bots and missing
// chats are permanently unreachable; everything else is a transient hiccup.
func classifyDelivery(err error) broadcast.Failure {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return broadcast.FailureTransient
	}
	msg := strings.ToLower(apiErr.Message)
	switch {
	case strings.Contains(msg, "deactivated"):
		return broadcast.FailureGone
	case strings.Contains(msg, "blocked"),
		strings.Contains(msg, "chat not found"),
		apiErr.Code == 403:
		return broadcast.FailureBlocked
	}
	return broadcast.FailureTransient
}
