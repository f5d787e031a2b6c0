package notify

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Notifier delivers operator-facing messages for trade executions,
// risk rejections, and emergency events.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Config selects the notifier backend. Kind "nop" (the default)
// discards messages.
type Config struct {
	Kind   string `mapstructure:"kind"`
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

// New builds the configured notifier.
func New(cfg Config) (Notifier, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", "nop":
		return Nop{}, nil
	case "telegram":
		return NewTelegram(cfg.Token, cfg.ChatID)
	default:
		return nil, errors.Errorf("unknown notifier kind: %s", cfg.Kind)
	}
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(ctx context.Context, text string) error { return nil }

// Telegram sends messages to one chat through the bot API.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram authenticates the bot against the API.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "create telegram bot")
	}
	logs.Infof("telegram notifier authorized as %s", bot.Self.UserName)
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		return errors.Wrap(err, "send telegram message")
	}
	return nil
}
