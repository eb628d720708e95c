package chatdb

import (
	"strconv"
	"strings"
	"time"
)

// Row is one raw record from the chat database, joined with its handle,
// chat, and attachment rows. Nullable columns keep their "absent" state so
// normalization can tell an empty string from a missing one.
type Row struct {
	ID   int64
	GUID string

	// Text is nil when the text column is NULL (common for stickers,
	// reactions, and app messages where content lives in AttributedBody).
	Text           *string
	AttributedBody []byte

	// Date is the raw source timestamp (nanoseconds since the source epoch).
	Date     int64
	FromMe   bool
	Service  string
	IsAudio  bool

	// SenderID is the resolved handle (phone number or email). Empty for
	// rows sent from this account with no handle row.
	SenderID string

	// ChatID identifies the conversation. For 1:1 chats the source uses the
	// peer handle; for groups an opaque group identifier.
	ChatID   string
	ChatName string

	// Reaction/sticker markers.
	AssociatedGUID string
	AssociatedType int64
	BalloonBundle  string

	HasAttachments bool
	Attachments    []RowAttachment
}

// RowAttachment is the per-attachment slice of the joined attachment columns.
type RowAttachment struct {
	GUID     string
	Filename string
	MIME     string
	Size     int64
	Sticker  bool
}

// The source clock counts nanoseconds since 2001-01-01 00:00:00 UTC.
var sourceEpoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

// SourceTime converts a raw source timestamp to a time.Time.
func SourceTime(ns int64) time.Time {
	return sourceEpoch.Add(time.Duration(ns))
}

// SourceNano converts a time.Time to the source's raw timestamp format.
func SourceNano(t time.Time) int64 {
	return int64(t.Sub(sourceEpoch))
}

// DateRange bounds a manual extraction query, inclusive on both ends.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// HoursBack is the range covering the last n hours up to now.
func HoursBack(n int) DateRange {
	now := time.Now()
	return DateRange{Start: now.Add(-time.Duration(n) * time.Hour), End: now}
}

// DaysBack is the range covering the last n days up to now.
func DaysBack(n int) DateRange {
	return HoursBack(24 * n)
}

// groupConcatSep separates values aggregated from the attachment join.
// Unit separator, so filenames containing commas survive aggregation.
const groupConcatSep = "\x1f"

// splitAggregated builds the attachment slice out of the GROUP_CONCAT
// columns. The lists are index-aligned; short lists yield zero values.
func splitAggregated(guids, filenames, mimes, sizes, stickers string) []RowAttachment {
	if guids == "" {
		return nil
	}
	gs := strings.Split(guids, groupConcatSep)
	fs := strings.Split(filenames, groupConcatSep)
	ms := strings.Split(mimes, groupConcatSep)
	ss := strings.Split(sizes, groupConcatSep)
	ks := strings.Split(stickers, groupConcatSep)

	out := make([]RowAttachment, 0, len(gs))
	for i, g := range gs {
		a := RowAttachment{GUID: g}
		if i < len(fs) {
			a.Filename = fs[i]
		}
		if i < len(ms) {
			a.MIME = ms[i]
		}
		if i < len(ss) {
			if n, err := strconv.ParseInt(ss[i], 10, 64); err == nil {
				a.Size = n
			}
		}
		if i < len(ks) {
			a.Sticker = ks[i] == "1"
		}
		out = append(out, a)
	}
	return out
}
