// Package monitor turns the append-only chat database into an ordered
// stream of normalized message events. There is no changefeed to tail:
// wake sources (file watch, ticker, cron) nudge a single detection loop,
// which fetches past the persisted cursor, normalizes, filters, and
// dispatches in row-id order.
package monitor

import (
	"errors"
	"time"

	"chatwatch/internal/message"
)

// Sentinel errors surfaced through the error callback and wrapped into
// cycle failures. Match with errors.Is.
var (
	// ErrSourceReset marks a non-fatal rewind: the database shrank below
	// the cursor and monitoring restarted from row zero.
	ErrSourceReset = errors.New("monitor: source reset")

	// ErrSourceUnavailable wraps probe and fetch failures against the
	// observed database (file locked, mid-replace, unreadable).
	ErrSourceUnavailable = errors.New("monitor: source unavailable")
)

// State is the detector lifecycle phase.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Bus event types published by the monitor.
const (
	EventCycle         = "monitor.cycle"
	EventSourceReset   = "monitor.source_reset"
	EventRowSkipped    = "monitor.row_skipped"
	EventCallbackError = "monitor.callback_error"
)

// CycleSummary reports one completed detection cycle.
type CycleSummary struct {
	Fetched    int           `json:"fetched"`
	Dispatched int           `json:"dispatched"`
	Filtered   int           `json:"filtered"`
	Skipped    int           `json:"skipped"`
	Cursor     int64         `json:"cursor"`
	Generation int64         `json:"generation"`
	Elapsed    time.Duration `json:"elapsed"`
}

// SourceReset reports that the database shrank below the cursor (swapped or
// truncated file). The cursor rewinds to zero and the generation increments.
type SourceReset struct {
	OldCursor  int64 `json:"old_cursor"`
	MaxRowID   int64 `json:"max_row_id"`
	Generation int64 `json:"generation"`
}

// RowSkipped reports a row that could not be normalized.
type RowSkipped struct {
	RowID  int64  `json:"row_id"`
	Reason string `json:"reason"`
}

// CallbackError reports a handler that panicked while processing a message.
type CallbackError struct {
	Handler   string `json:"handler"`
	MessageID int64  `json:"message_id"`
	Err       string `json:"err"`
}

// Callback receives admitted messages in row-id order. A panicking callback
// is recovered and reported; it never stops delivery to other callbacks.
type Callback func(m message.Message)

// ErrorCallback receives non-fatal monitoring errors: cycle failures
// (wrapping ErrSourceUnavailable) and source resets (wrapping
// ErrSourceReset). The loop keeps running after every reported error.
type ErrorCallback func(err error)
