// Package relay mirrors admitted messages to a remote notification channel
// (typically a Telegram chat) through the outbound router.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatwatch/internal/message"
	"chatwatch/internal/outbound"
	logx "chatwatch/pkg/logx"
)

// Dispatcher is the slice of the outbound router the relay uses.
type Dispatcher interface {
	TrySend(ctx context.Context, backend string, p outbound.Payload) (outbound.Ack, error)
}

// Config selects the relay destination.
type Config struct {
	Enabled bool `json:"enabled"`
	// Backend names the outbound backend to relay through.
	Backend string `json:"backend"`
	// Recipient passed to the backend (chat id for telegram).
	Recipient string `json:"recipient"`
	// IncludeOutbound also mirrors messages sent from the observed account.
	IncludeOutbound bool `json:"include_outbound"`
	// SendTimeout bounds one relay attempt.
	SendTimeout time.Duration `json:"-"`
}

// Relay is a monitor callback. It uses the non-blocking send path so a slow
// or throttled destination never stalls the detection loop; throttled
// messages are dropped with a log line.
type Relay struct {
	cfg  Config
	disp Dispatcher
	log  logx.Logger
}

func New(cfg Config, disp Dispatcher, log logx.Logger) *Relay {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Relay{cfg: cfg, disp: disp, log: log}
}

// Handle forwards one message. Registered with Detector.OnMessage.
func (r *Relay) Handle(m message.Message) {
	if !r.cfg.IncludeOutbound && m.Direction == message.DirectionOutbound {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SendTimeout)
	defer cancel()

	p := outbound.Payload{Recipient: r.cfg.Recipient, Text: Format(m)}
	if len(m.Attachments) == 1 && m.Attachments[0].Path != "" {
		p.FilePath = m.Attachments[0].Path
	}

	_, err := r.disp.TrySend(ctx, r.cfg.Backend, p)
	switch {
	case err == nil:
	case errors.Is(err, outbound.ErrRateLimited):
		r.log.Warn("relay throttled, message dropped",
			logx.Int64("message_id", m.ID))
	default:
		r.log.Error("relay failed",
			logx.Int64("message_id", m.ID), logx.Err(err))
	}
}

// Format renders one message as a compact notification line.
func Format(m message.Message) string {
	var b strings.Builder

	who := m.SenderID
	if m.Direction == message.DirectionOutbound {
		who = "me"
	}
	where := m.ChatName
	if where == "" {
		where = m.ChatID
	}
	if where != "" && where != who {
		fmt.Fprintf(&b, "[%s] ", where)
	}
	fmt.Fprintf(&b, "%s: ", who)

	switch m.Kind {
	case message.KindText:
		b.WriteString(m.Body)
	case message.KindSticker:
		b.WriteString("(sticker)")
	case message.KindReaction:
		verb := "reacted"
		if m.Reaction.Removed {
			verb = "removed reaction"
		}
		fmt.Fprintf(&b, "%s %s", verb, m.Reaction.Emoji)
	case message.KindAttachment:
		fmt.Fprintf(&b, "(%d attachment(s))", attachmentCount(m))
	}
	return strings.TrimSpace(b.String())
}

func attachmentCount(m message.Message) int {
	if n := len(m.Attachments); n > 0 {
		return n
	}
	return 1
}
