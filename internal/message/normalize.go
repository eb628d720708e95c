package message

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"chatwatch/internal/chatdb"
)

// ErrUnrecognized marks a row carrying none of the known content signals.
// The monitor logs and skips such rows without halting the batch.
var ErrUnrecognized = errors.New("unrecognized row shape")

// Reaction marker ranges used by the source schema: 2000-2005 place a
// reaction, 3000-3005 withdraw one. The low three digits select the emoji.
const (
	reactionAddBase    = 2000
	reactionRemoveBase = 3000
	reactionSpan       = 6
)

var reactionEmoji = [reactionSpan]string{
	"❤️",  // heart
	"\U0001f44d",    // thumbs up
	"\U0001f44e",    // thumbs down
	"\U0001f602",    // laugh
	"‼️",  // emphasis
	"❓",        // question
}

// Normalizer maps raw rows into the canonical Message. It is stateless
// apart from the attachment root used for path resolution.
type Normalizer struct {
	// AttachmentsRoot anchors relative attachment filenames. "~" prefixes in
	// stored filenames expand against the current user's home directory.
	AttachmentsRoot string

	// statFile is swappable in tests; defaults to os.Stat.
	statFile func(string) (os.FileInfo, error)
}

func NewNormalizer(attachmentsRoot string) *Normalizer {
	return &Normalizer{AttachmentsRoot: attachmentsRoot, statFile: os.Stat}
}

// Normalize builds the canonical Message for a raw row.
//
// Variant precedence: reaction marker, then sticker marker, then text body,
// then bare attachment flag. A row with none of these yields ErrUnrecognized.
func (n *Normalizer) Normalize(r chatdb.Row) (Message, error) {
	m := Message{
		ID:                r.ID,
		GUID:              r.GUID,
		Timestamp:         chatdb.SourceTime(r.Date),
		ChatID:            r.ChatID,
		ChatName:          r.ChatName,
		SenderID:          r.SenderID,
		Service:           r.Service,
		RawHasAttachments: r.HasAttachments,
	}
	if r.FromMe {
		m.Direction = DirectionOutbound
	}
	m.Attachments = n.resolveAttachments(r.Attachments)

	switch {
	case isReaction(r):
		m.Kind = KindReaction
		m.Reaction = buildReaction(r)
	case stickerRef(r) != "":
		m.Kind = KindSticker
		m.StickerRef = stickerRef(r)
	case textBody(r) != "":
		m.Kind = KindText
		m.Body = textBody(r)
	case r.HasAttachments || len(r.Attachments) > 0:
		m.Kind = KindAttachment
	default:
		return Message{}, ErrUnrecognized
	}
	return m, nil
}

func isReaction(r chatdb.Row) bool {
	t := r.AssociatedType
	return (t >= reactionAddBase && t < reactionAddBase+reactionSpan) ||
		(t >= reactionRemoveBase && t < reactionRemoveBase+reactionSpan)
}

func buildReaction(r chatdb.Row) Reaction {
	re := Reaction{TargetGUID: strings.TrimPrefix(r.AssociatedGUID, "p:0/")}
	idx := r.AssociatedType - reactionAddBase
	if r.AssociatedType >= reactionRemoveBase {
		re.Removed = true
		idx = r.AssociatedType - reactionRemoveBase
	}
	if idx >= 0 && idx < reactionSpan {
		re.Emoji = reactionEmoji[idx]
	}
	return re
}

func stickerRef(r chatdb.Row) string {
	for _, a := range r.Attachments {
		if a.Sticker {
			return a.GUID
		}
	}
	return ""
}

func textBody(r chatdb.Row) string {
	if r.Text != nil {
		if s := strings.TrimSpace(*r.Text); s != "" {
			return s
		}
	}
	// The app stores rich text in a binary blob and leaves the text column
	// NULL; recover the plain body best-effort.
	return strings.TrimSpace(DecodeAttributedBody(r.AttributedBody))
}

func (n *Normalizer) resolveAttachments(in []chatdb.RowAttachment) []Attachment {
	if len(in) == 0 {
		return nil
	}
	stat := n.statFile
	if stat == nil {
		stat = os.Stat
	}
	out := make([]Attachment, 0, len(in))
	for _, ra := range in {
		a := Attachment{
			Ref:      ra.GUID,
			Filename: ra.Filename,
			MIME:     ra.MIME,
			Size:     ra.Size,
			Sticker:  ra.Sticker,
		}
		if p := n.resolvePath(ra.Filename); p != "" {
			if _, err := stat(p); err == nil {
				a.Path = p
			}
		}
		out = append(out, a)
	}
	return out
}

func (n *Normalizer) resolvePath(filename string) string {
	f := strings.TrimSpace(filename)
	if f == "" {
		return ""
	}
	if strings.HasPrefix(f, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		return filepath.Join(home, f[2:])
	}
	if filepath.IsAbs(f) {
		return f
	}
	if n.AttachmentsRoot == "" {
		return ""
	}
	return filepath.Join(n.AttachmentsRoot, f)
}
