package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// fileStore keeps the cursor in a small JSON file, written atomically via a
// temp file and rename so a crash mid-save never leaves a torn cursor.
type fileStore struct {
	path string
}

func newFileStore(path string) (*fileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("checkpoint: file driver requires a path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("checkpoint: create dir: %w", err)
		}
	}
	return &fileStore{path: path}, nil
}

func (s *fileStore) Load(ctx context.Context) (Cursor, bool, error) {
	if err := ctx.Err(); err != nil {
		return Cursor{}, false, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Cursor{}, false, nil
	}
	if err != nil {
		return Cursor{}, false, fmt.Errorf("checkpoint: read %s: %w", s.path, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, false, fmt.Errorf("checkpoint: decode %s: %w", s.path, err)
	}
	return c, true, nil
}

func (s *fileStore) Save(ctx context.Context, c Cursor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("checkpoint: encode: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}

func (s *fileStore) Close() error { return nil }
