package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteStore keeps the cursor in its own single-row sqlite database. Useful
// when the checkpoint should live next to other durable state on a volume
// where plain files get rotated away.
type sqliteStore struct {
	db *sql.DB
}

func newSQLiteStore(path string, busy time.Duration) (*sqliteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("checkpoint: sqlite driver requires a path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("checkpoint: create dir: %w", err)
		}
	}
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, busy.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	const schema = `CREATE TABLE IF NOT EXISTS cursor (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_seen_id INTEGER NOT NULL,
		generation INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint: init schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Load(ctx context.Context) (Cursor, bool, error) {
	var c Cursor
	err := s.db.QueryRowContext(ctx,
		`SELECT last_seen_id, generation FROM cursor WHERE id = 1`,
	).Scan(&c.LastSeenID, &c.Generation)
	if errors.Is(err, sql.ErrNoRows) {
		return Cursor{}, false, nil
	}
	if err != nil {
		return Cursor{}, false, fmt.Errorf("checkpoint: load: %w", err)
	}
	return c, true, nil
}

func (s *sqliteStore) Save(ctx context.Context, c Cursor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursor (id, last_seen_id, generation, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_seen_id = excluded.last_seen_id,
			generation = excluded.generation,
			updated_at = excluded.updated_at`,
		c.LastSeenID, c.Generation, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("checkpoint: save: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
