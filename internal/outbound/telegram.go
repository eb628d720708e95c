package outbound

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "chatwatch/pkg/logx"
)

// TelegramSender delivers through a Telegram bot. The recipient is a numeric
// chat id (Telegram has no phone/email addressing at the bot API level), so
// callers typically pair it with a fixed target chat from config.
type TelegramSender struct {
	bot    *tele.Bot
	chatID int64
	log    logx.Logger
}

// TelegramConfig configures the Telegram backend.
type TelegramConfig struct {
	Token string `json:"token"`
	// ChatID is the default destination when the payload recipient is not a
	// numeric chat id.
	ChatID int64 `json:"chat_id"`
}

func NewTelegramSender(cfg TelegramConfig, log logx.Logger) (*TelegramSender, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: token is required")
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		// The sender never polls; the poller only satisfies construction.
		Synchronous: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TelegramSender{bot: bot, chatID: cfg.ChatID, log: log}, nil
}

func (s *TelegramSender) Name() string { return "telegram" }

func (s *TelegramSender) Send(ctx context.Context, p Payload) error {
	target := s.target(p.Recipient)
	if target == 0 {
		return errors.New("telegram: no destination chat id")
	}
	to := tele.ChatID(target)

	if p.FilePath != "" {
		doc := &tele.Document{
			File:     tele.FromDisk(p.FilePath),
			FileName: filepath.Base(p.FilePath),
			Caption:  p.Text,
		}
		if _, err := s.bot.Send(to, doc); err != nil {
			return fmt.Errorf("telegram: send document: %w", err)
		}
		return nil
	}
	if _, err := s.bot.Send(to, p.Text); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

// ValidateRecipient accepts a numeric chat id, or an empty recipient when a
// default chat is configured.
func (s *TelegramSender) ValidateRecipient(recipient string) error {
	r := strings.TrimSpace(recipient)
	if r == "" {
		if s.chatID != 0 {
			return nil
		}
		return fmt.Errorf("%w: empty and no default chat", ErrBadRecipient)
	}
	if _, err := strconv.ParseInt(r, 10, 64); err != nil {
		return fmt.Errorf("%w: %q is not a chat id", ErrBadRecipient, recipient)
	}
	return nil
}

func (s *TelegramSender) target(recipient string) int64 {
	if id, err := strconv.ParseInt(recipient, 10, 64); err == nil && id != 0 {
		return id
	}
	return s.chatID
}
