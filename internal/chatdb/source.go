package chatdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "chatwatch/pkg/logx"
)

// Config locates the observed chat database.
type Config struct {
	// Path to the live database file (continuously appended by the chat app).
	Path string
	// AttachmentsPath is the root under which attachment files live.
	AttachmentsPath string
	// BusyTimeout bounds waits when the writer holds the file. 0 means default.
	BusyTimeout time.Duration
}

// Source executes bounded, read-only queries against the chat database.
//
// The database is owned and written by an external application; Source never
// takes write locks and is safe to use concurrently with the writer.
type Source struct {
	db   *sql.DB
	log  logx.Logger
	path string
}

// Open validates the database path and opens a read-only connection.
// A missing or unreadable file is a startup error (the caller aborts).
func Open(cfg Config, log logx.Logger) (*Source, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("chatdb: path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("chatdb: stat %s: %w", path, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("chatdb: %s is a directory", path)
	}
	// Readability check up front: opening through the driver can defer the
	// permission error until the first query.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("chatdb: open %s: %w", path, err)
	}
	_ = f.Close()

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := "file:" + url.PathEscape(path) +
		"?mode=ro" +
		fmt.Sprintf("&_pragma=busy_timeout(%d)", busy.Milliseconds()) +
		"&_pragma=query_only(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("chatdb: open database: %w", err)
	}
	// One connection keeps snapshot reads consistent and plays well with the
	// external writer's WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Source{db: db, log: log, path: path}
	if _, err := s.RowCount(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("chatdb: probe %s: %w", path, err)
	}
	return s, nil
}

func (s *Source) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Source) Path() string { return s.path }

const rowColumns = `
	m.ROWID,
	m.guid,
	m.text,
	m.attributedBody,
	m.date,
	m.is_from_me,
	COALESCE(m.service, ''),
	COALESCE(m.is_audio_message, 0),
	COALESCE(h.id, ''),
	COALESCE(c.chat_identifier, COALESCE(h.id, '')),
	COALESCE(c.display_name, ''),
	COALESCE(m.associated_message_guid, ''),
	COALESCE(m.associated_message_type, 0),
	COALESCE(m.balloon_bundle_id, ''),
	COALESCE(m.cache_has_attachments, 0),
	COALESCE(GROUP_CONCAT(a.guid, char(31)), ''),
	COALESCE(GROUP_CONCAT(COALESCE(a.filename, ''), char(31)), ''),
	COALESCE(GROUP_CONCAT(COALESCE(a.mime_type, ''), char(31)), ''),
	COALESCE(GROUP_CONCAT(COALESCE(a.total_bytes, 0), char(31)), ''),
	COALESCE(GROUP_CONCAT(COALESCE(a.is_sticker, 0), char(31)), '')`

const rowJoins = `
	FROM message m
	LEFT JOIN handle h ON m.handle_id = h.ROWID
	LEFT JOIN chat_message_join cmj ON m.ROWID = cmj.message_id
	LEFT JOIN chat c ON cmj.chat_id = c.ROWID
	LEFT JOIN message_attachment_join maj ON m.ROWID = maj.message_id
	LEFT JOIN attachment a ON maj.attachment_id = a.ROWID`

// FetchSince returns rows with id strictly greater than sinceID, ascending,
// at most limit rows.
func (s *Source) FetchSince(ctx context.Context, sinceID int64, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 100
	}
	q := "SELECT" + rowColumns + rowJoins + `
	WHERE m.ROWID > ?
	GROUP BY m.ROWID
	ORDER BY m.ROWID ASC
	LIMIT ?`
	return s.fetch(ctx, q, sinceID, limit)
}

// FetchRange returns rows whose timestamp falls within the range, ascending
// by id. Used by manual extraction, not the live monitor.
func (s *Source) FetchRange(ctx context.Context, dr DateRange, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 1000
	}
	q := "SELECT" + rowColumns + rowJoins + `
	WHERE m.date >= ? AND m.date <= ?
	GROUP BY m.ROWID
	ORDER BY m.ROWID ASC
	LIMIT ?`
	return s.fetch(ctx, q, SourceNano(dr.Start), SourceNano(dr.End), limit)
}

// FirstRowIDSince returns the lowest message id at or after t, or 0 when no
// such row exists. The monitor uses it to seed a startup lookback window.
func (s *Source) FirstRowIDSince(ctx context.Context, t time.Time) (int64, error) {
	var id sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(ROWID) FROM message WHERE date >= ?`, SourceNano(t)).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (s *Source) fetch(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r       Row
			text    sql.NullString
			body    []byte
			guids   string
			names   string
			mimes   string
			sizes   string
			stick   string
		)
		if err := rows.Scan(
			&r.ID, &r.GUID, &text, &body, &r.Date, &r.FromMe, &r.Service,
			&r.IsAudio, &r.SenderID, &r.ChatID, &r.ChatName,
			&r.AssociatedGUID, &r.AssociatedType, &r.BalloonBundle,
			&r.HasAttachments,
			&guids, &names, &mimes, &sizes, &stick,
		); err != nil {
			return nil, err
		}
		if text.Valid {
			v := text.String
			r.Text = &v
		}
		r.AttributedBody = body
		r.Attachments = splitAggregated(guids, names, mimes, sizes, stick)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MaxRowID returns the highest message id currently in the database
// (0 when empty). The monitor uses it to seed and to detect truncation.
func (s *Source) MaxRowID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(ROWID) FROM message`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// RowCount returns the number of message rows.
func (s *Source) RowCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM message`).Scan(&n)
	return n, err
}
