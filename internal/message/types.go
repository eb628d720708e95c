package message

import (
	"time"
)

// Direction tells whether a message entered or left the observed account.
type Direction uint8

const (
	DirectionInbound Direction = iota
	DirectionOutbound
)

func (d Direction) String() string {
	if d == DirectionOutbound {
		return "outbound"
	}
	return "inbound"
}

// Kind is the closed set of message variants. The normalizer resolves it
// exactly once; downstream code switches on it without re-inspecting raw
// columns.
type Kind uint8

const (
	KindText Kind = iota + 1
	KindSticker
	KindReaction
	KindAttachment
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindSticker:
		return "sticker"
	case KindReaction:
		return "reaction"
	case KindAttachment:
		return "attachment"
	default:
		return "unknown"
	}
}

// Reaction is an emoji response attached to an earlier message.
type Reaction struct {
	// TargetGUID references the message being reacted to.
	TargetGUID string
	Emoji      string
	// Removed is set when the source row withdraws a previous reaction.
	Removed bool
}

// Attachment is one resolved attachment entry.
type Attachment struct {
	Ref      string
	Filename string
	MIME     string
	Size     int64
	Sticker  bool
	// Path is the reachable on-disk location, or empty when the file is
	// missing (resolution never fails normalization).
	Path string
}

// Message is the canonical, normalized event. Constructed once per row per
// detection cycle; never mutated afterwards.
type Message struct {
	ID        int64
	GUID      string
	Timestamp time.Time
	Direction Direction
	ChatID    string
	ChatName  string
	SenderID  string
	Service   string

	Kind Kind

	// Variant payloads. Exactly one is meaningful, selected by Kind.
	Body       string   // KindText
	StickerRef string   // KindSticker
	Reaction   Reaction // KindReaction

	// Attachments may be present regardless of Kind.
	Attachments       []Attachment
	RawHasAttachments bool
}
