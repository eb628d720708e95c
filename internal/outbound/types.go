// Package outbound sends messages out through pluggable backends behind a
// shared token-bucket rate limiter.
package outbound

import (
	"context"
	"errors"
	"time"
)

// Bus event types published by the router.
const (
	EventSent   = "outbound.sent"
	EventFailed = "outbound.failed"
)

var (
	// ErrRateLimited is returned by TrySend when no token is available.
	ErrRateLimited = errors.New("outbound: rate limited")
	// ErrBadRecipient is returned when the recipient is neither a plausible
	// phone number nor an email address.
	ErrBadRecipient = errors.New("outbound: bad recipient")
	// ErrRecipientBlocked is returned when the outbound contact filter
	// rejects the recipient.
	ErrRecipientBlocked = errors.New("outbound: recipient blocked")
	// ErrUnknownBackend is returned when no sender is registered under the
	// requested name.
	ErrUnknownBackend = errors.New("outbound: unknown backend")
)

// Payload is one outbound message.
type Payload struct {
	Recipient string
	Text      string
	// FilePath optionally attaches a local file.
	FilePath string
}

// Ack reports a completed send.
type Ack struct {
	Backend   string    `json:"backend"`
	Recipient string    `json:"recipient"`
	SentAt    time.Time `json:"sent_at"`
}

// SendFailure is the bus payload for a failed send.
type SendFailure struct {
	Backend   string `json:"backend"`
	Recipient string `json:"recipient"`
	Err       string `json:"err"`
}

// Sender delivers a payload through one transport.
type Sender interface {
	Name() string
	Send(ctx context.Context, p Payload) error
}
