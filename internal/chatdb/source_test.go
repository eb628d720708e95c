package chatdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	logx "chatwatch/pkg/logx"
)

const fixtureSchema = `
CREATE TABLE message (
	ROWID INTEGER PRIMARY KEY,
	guid TEXT NOT NULL,
	text TEXT,
	attributedBody BLOB,
	date INTEGER NOT NULL DEFAULT 0,
	is_from_me INTEGER NOT NULL DEFAULT 0,
	service TEXT,
	is_audio_message INTEGER,
	handle_id INTEGER,
	associated_message_guid TEXT,
	associated_message_type INTEGER,
	balloon_bundle_id TEXT,
	cache_has_attachments INTEGER
);
CREATE TABLE handle (
	ROWID INTEGER PRIMARY KEY,
	id TEXT NOT NULL
);
CREATE TABLE chat (
	ROWID INTEGER PRIMARY KEY,
	chat_identifier TEXT NOT NULL,
	display_name TEXT
);
CREATE TABLE chat_message_join (
	chat_id INTEGER,
	message_id INTEGER
);
CREATE TABLE attachment (
	ROWID INTEGER PRIMARY KEY,
	guid TEXT NOT NULL,
	filename TEXT,
	mime_type TEXT,
	total_bytes INTEGER,
	is_sticker INTEGER
);
CREATE TABLE message_attachment_join (
	message_id INTEGER,
	attachment_id INTEGER
);
`

// newFixture builds a throwaway database shaped like the observed one.
func newFixture(t *testing.T) (string, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(fixtureSchema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return path, db
}

func openFixture(t *testing.T, path string) *Source {
	t.Helper()
	s, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{Path: filepath.Join(t.TempDir(), "nope.db")}, logx.Nop())
	if err == nil {
		t.Fatal("expected error for missing database")
	}
}

func TestFetchSince(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path, db := newFixture(t)

	mustExec(t, db, `INSERT INTO handle (ROWID, id) VALUES (1, '+15551234567')`)
	mustExec(t, db, `INSERT INTO chat (ROWID, chat_identifier, display_name) VALUES (1, '+15551234567', '')`)
	for i := 1; i <= 3; i++ {
		mustExec(t, db, `INSERT INTO message (ROWID, guid, text, date, is_from_me, service, handle_id)
			VALUES (?, ?, ?, ?, 0, 'iMessage', 1)`,
			i, "guid-"+string(rune('a'+i-1)), "msg", SourceNano(time.Now()))
		mustExec(t, db, `INSERT INTO chat_message_join (chat_id, message_id) VALUES (1, ?)`, i)
	}

	s := openFixture(t, path)
	rows, err := s.FetchSince(ctx, 1, 10)
	if err != nil {
		t.Fatalf("FetchSince: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].ID != 2 || rows[1].ID != 3 {
		t.Fatalf("ids = %d, %d; want 2, 3", rows[0].ID, rows[1].ID)
	}
	if rows[0].SenderID != "+15551234567" {
		t.Errorf("sender = %q", rows[0].SenderID)
	}
	if rows[0].ChatID != "+15551234567" {
		t.Errorf("chat id = %q", rows[0].ChatID)
	}
	if rows[0].Text == nil || *rows[0].Text != "msg" {
		t.Errorf("text = %v", rows[0].Text)
	}
}

func TestFetchSinceLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path, db := newFixture(t)

	for i := 1; i <= 5; i++ {
		mustExec(t, db, `INSERT INTO message (ROWID, guid, text, date) VALUES (?, ?, 'x', 0)`, i, i)
	}

	s := openFixture(t, path)
	rows, err := s.FetchSince(ctx, 0, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want limit 3", len(rows))
	}
}

func TestNullTextSurvives(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path, db := newFixture(t)

	mustExec(t, db, `INSERT INTO message (ROWID, guid, text, attributedBody, date)
		VALUES (1, 'g', NULL, X'AABB', 0)`)

	s := openFixture(t, path)
	rows, err := s.FetchSince(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows", len(rows))
	}
	if rows[0].Text != nil {
		t.Errorf("text = %q, want nil", *rows[0].Text)
	}
	if len(rows[0].AttributedBody) != 2 {
		t.Errorf("attributedBody = %v", rows[0].AttributedBody)
	}
}

func TestAttachmentsAggregated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path, db := newFixture(t)

	mustExec(t, db, `INSERT INTO message (ROWID, guid, text, date, cache_has_attachments)
		VALUES (1, 'g', NULL, 0, 1)`)
	mustExec(t, db, `INSERT INTO attachment (ROWID, guid, filename, mime_type, total_bytes, is_sticker)
		VALUES (1, 'att-1', 'a, with comma.jpg', 'image/jpeg', 100, 0),
		       (2, 'att-2', 'b.png', 'image/png', 200, 1)`)
	mustExec(t, db, `INSERT INTO message_attachment_join (message_id, attachment_id) VALUES (1, 1), (1, 2)`)

	s := openFixture(t, path)
	rows, err := s.FetchSince(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1 (grouped)", len(rows))
	}
	r := rows[0]
	if !r.HasAttachments || len(r.Attachments) != 2 {
		t.Fatalf("attachments = %+v", r.Attachments)
	}
	// Commas in filenames survive the aggregation separator.
	if r.Attachments[0].Filename != "a, with comma.jpg" {
		t.Errorf("filename = %q", r.Attachments[0].Filename)
	}
	if r.Attachments[0].Size != 100 || r.Attachments[1].Size != 200 {
		t.Errorf("sizes = %d, %d", r.Attachments[0].Size, r.Attachments[1].Size)
	}
	if r.Attachments[0].Sticker || !r.Attachments[1].Sticker {
		t.Errorf("sticker flags = %v, %v", r.Attachments[0].Sticker, r.Attachments[1].Sticker)
	}
}

func TestMaxRowIDAndCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path, db := newFixture(t)

	s := openFixture(t, path)
	if max, err := s.MaxRowID(ctx); err != nil || max != 0 {
		t.Fatalf("empty MaxRowID = %d, %v", max, err)
	}

	mustExec(t, db, `INSERT INTO message (ROWID, guid, text, date) VALUES (7, 'g', 'x', 0)`)
	if max, err := s.MaxRowID(ctx); err != nil || max != 7 {
		t.Fatalf("MaxRowID = %d, %v; want 7", max, err)
	}
	if n, err := s.RowCount(ctx); err != nil || n != 1 {
		t.Fatalf("RowCount = %d, %v", n, err)
	}
}

func TestFetchRange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path, db := newFixture(t)

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		mustExec(t, db, `INSERT INTO message (ROWID, guid, text, date) VALUES (?, ?, 'x', ?)`,
			i+1, i+1, SourceNano(base.Add(time.Duration(i)*time.Hour)))
	}

	s := openFixture(t, path)
	rows, err := s.FetchRange(ctx, DateRange{
		Start: base.Add(30 * time.Minute),
		End:   base.Add(150 * time.Minute),
	}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].ID != 2 || rows[1].ID != 3 {
		t.Fatalf("ids = %d, %d", rows[0].ID, rows[1].ID)
	}
}

func TestFirstRowIDSince(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path, db := newFixture(t)

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		mustExec(t, db, `INSERT INTO message (ROWID, guid, text, date) VALUES (?, ?, 'x', ?)`,
			i+1, i+1, SourceNano(base.Add(time.Duration(i)*time.Hour)))
	}

	s := openFixture(t, path)
	id, err := s.FirstRowIDSince(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if id != 2 {
		t.Fatalf("FirstRowIDSince = %d, want 2", id)
	}
	id, err = s.FirstRowIDSince(ctx, base.Add(time.Hour*24))
	if err != nil {
		t.Fatal(err)
	}
	if id != 0 {
		t.Fatalf("FirstRowIDSince past the tail = %d, want 0", id)
	}
}

func TestSplitAggregatedEmpty(t *testing.T) {
	t.Parallel()

	if got := splitAggregated("", "", "", "", ""); got != nil {
		t.Fatalf("splitAggregated on empty = %v", got)
	}
}

func mustExec(t *testing.T, db *sql.DB, q string, args ...any) {
	t.Helper()
	if _, err := db.Exec(q, args...); err != nil {
		t.Fatalf("exec %q: %v", q, err)
	}
}
