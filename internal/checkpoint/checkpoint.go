// Package checkpoint persists the monitor cursor so restarts resume where
// the previous run left off instead of redelivering history.
package checkpoint

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Cursor is the durable detection position. LastSeenID is the highest row id
// ever dispatched (or skipped by filtering); Generation increments on every
// source reset so consumers can tell a rewind from a restart.
type Cursor struct {
	LastSeenID int64 `json:"last_seen_id"`
	Generation int64 `json:"generation"`
}

// Store persists a single cursor. Implementations are safe for use from one
// goroutine (the detector) only.
type Store interface {
	// Load returns the stored cursor and whether one exists.
	Load(ctx context.Context) (Cursor, bool, error)
	// Save durably replaces the stored cursor.
	Save(ctx context.Context, c Cursor) error
	Close() error
}

// Config selects the persistence driver.
type Config struct {
	// Driver is "file", "sqlite", or "" to disable persistence.
	Driver string `json:"driver"`
	// Path to the checkpoint file or database.
	Path string `json:"path"`
	// BusyTimeout for the sqlite driver.
	BusyTimeout time.Duration `json:"-"`
}

// Open builds the configured store. Returns (nil, nil) when persistence is
// disabled; the detector then seeds from the live database each start.
func Open(cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none", "off":
		return nil, nil
	case "file":
		return newFileStore(cfg.Path)
	case "sqlite":
		return newSQLiteStore(cfg.Path, cfg.BusyTimeout)
	default:
		return nil, fmt.Errorf("checkpoint: unknown driver %q", cfg.Driver)
	}
}
