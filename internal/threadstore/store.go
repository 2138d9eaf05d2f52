// Package threadstore persists threads in a local SQLite database.
package threadstore

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/floegence/redeven-coder/internal/thread"
)

// Store is a SQLite-backed persistence layer for threads.
//
// Notes:
//   - A thread is stored whole as JSON next to a few indexed summary columns.
//   - Threads are scoped by workspace root so `threads` lists only the current project.
//   - WAL is enabled so a reader (`threads`) does not block a running agent.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Summary is the listing view of a thread.
type Summary struct {
	ThreadID        string `json:"thread_id"`
	WorkspaceRoot   string `json:"workspace_root"`
	Title           string `json:"title"`
	Status          string `json:"status"`
	Roundtrips      int    `json:"roundtrips"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
	UpdatedAtUnixMs int64  `json:"updated_at_unix_ms"`
	LastRequest     string `json:"last_request"`
}

type ThreadsCursor struct {
	UpdatedAtUnixMs int64
	ThreadID        string
}

// EncodeCursor encodes a cursor as a URL-safe base64 string.
func EncodeCursor(c ThreadsCursor) string {
	if c.UpdatedAtUnixMs <= 0 || strings.TrimSpace(c.ThreadID) == "" {
		return ""
	}
	raw := fmt.Sprintf("%d:%s", c.UpdatedAtUnixMs, strings.TrimSpace(c.ThreadID))
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(raw string) (ThreadsCursor, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ThreadsCursor{}, true
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return ThreadsCursor{}, false
	}
	msRaw, id, ok := strings.Cut(string(b), ":")
	if !ok {
		return ThreadsCursor{}, false
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(msRaw), 10, 64)
	if err != nil || ms <= 0 {
		return ThreadsCursor{}, false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return ThreadsCursor{}, false
	}
	return ThreadsCursor{UpdatedAtUnixMs: ms, ThreadID: id}, true
}

// SaveThread inserts or replaces t under workspaceRoot.
func (s *Store) SaveThread(ctx context.Context, workspaceRoot string, t *thread.Thread) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if t == nil || strings.TrimSpace(t.UUID) == "" {
		return errors.New("invalid thread")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode thread: %w", err)
	}

	status := ""
	lastRequest := ""
	if n := len(t.Roundtrips); n > 0 {
		last := t.Roundtrips[n-1]
		status = string(last.Status)
		lastRequest = buildPreview(last.Request.Text)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO threads(
  thread_id, workspace_root, title, status, roundtrips,
  created_at_unix_ms, updated_at_unix_ms, last_request, thread_json
) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(thread_id) DO UPDATE SET
  title = excluded.title,
  status = excluded.status,
  roundtrips = excluded.roundtrips,
  updated_at_unix_ms = excluded.updated_at_unix_ms,
  last_request = excluded.last_request,
  thread_json = excluded.thread_json
`, t.UUID, filepath.Clean(workspaceRoot), truncateRunes(t.Title, 80), status, len(t.Roundtrips),
		t.CreatedAtUnixMs, t.UpdatedAtUnixMs, lastRequest, string(b))
	return err
}

// LoadThread returns the thread with id, or thread.ErrNotFound.
func (s *Store) LoadThread(ctx context.Context, id string) (*thread.Thread, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("missing thread id")
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT thread_json FROM threads WHERE thread_id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", id, thread.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var t thread.Thread
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("decode thread %s: %w", id, err)
	}
	return &t, nil
}

// ResolveThreadID expands a unique id prefix (as printed by `threads`) to the
// full thread id.
func (s *Store) ResolveThreadID(ctx context.Context, prefix string) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", errors.New("missing thread id")
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	rows, err := s.db.QueryContext(ctx, `SELECT thread_id FROM threads WHERE thread_id LIKE ? ESCAPE '\' LIMIT 2`, escaped+"%")
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("thread %s: %w", prefix, thread.ErrNotFound)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("thread id prefix %q is ambiguous", prefix)
	}
}

func (s *Store) ListThreads(ctx context.Context, workspaceRoot string, limit int, cursor ThreadsCursor) ([]Summary, string, error) {
	if s == nil || s.db == nil {
		return nil, "", errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	workspaceRoot = strings.TrimSpace(workspaceRoot)
	if workspaceRoot == "" {
		return nil, "", errors.New("missing workspace root")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	args := []any{filepath.Clean(workspaceRoot)}
	where := ""
	if cursor.UpdatedAtUnixMs > 0 && strings.TrimSpace(cursor.ThreadID) != "" {
		where = "AND (updated_at_unix_ms < ? OR (updated_at_unix_ms = ? AND thread_id < ?))"
		args = append(args, cursor.UpdatedAtUnixMs, cursor.UpdatedAtUnixMs, strings.TrimSpace(cursor.ThreadID))
	}
	args = append(args, limit)

	q := fmt.Sprintf(`
SELECT
  thread_id, workspace_root, title, status, roundtrips,
  created_at_unix_ms, updated_at_unix_ms, last_request
FROM threads
WHERE workspace_root = ?
%s
ORDER BY updated_at_unix_ms DESC, thread_id DESC
LIMIT ?
`, where)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	out := make([]Summary, 0, limit)
	for rows.Next() {
		var t Summary
		if err := rows.Scan(
			&t.ThreadID,
			&t.WorkspaceRoot,
			&t.Title,
			&t.Status,
			&t.Roundtrips,
			&t.CreatedAtUnixMs,
			&t.UpdatedAtUnixMs,
			&t.LastRequest,
		); err != nil {
			return nil, "", err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	if len(out) < limit {
		return out, "", nil
	}
	last := out[len(out)-1]
	next := EncodeCursor(ThreadsCursor{UpdatedAtUnixMs: last.UpdatedAtUnixMs, ThreadID: last.ThreadID})
	return out, next, nil
}

func (s *Store) DeleteThread(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE thread_id = ?`, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("thread %s: %w", id, thread.ErrNotFound)
	}
	return nil
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	return migrateSchema(db)
}

// migrations[i] upgrades user_version i to i+1.
var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS threads (
  thread_id TEXT PRIMARY KEY,
  workspace_root TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL,
  thread_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_threads_root_updated ON threads(workspace_root, updated_at_unix_ms DESC, thread_id DESC);
`,
	`
ALTER TABLE threads ADD COLUMN roundtrips INTEGER NOT NULL DEFAULT 0;
ALTER TABLE threads ADD COLUMN last_request TEXT NOT NULL DEFAULT '';
`,
}

func migrateSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	targetVersion := len(migrations)

	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= targetVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i := v; i < targetVersion; i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migrate to version %d: %w", i+1, err)
		}
	}
	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, targetVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func buildPreview(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "(no text)"
	}
	// Single-line preview, capped.
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	return truncateRunes(strings.TrimSpace(text), 160)
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n >= max {
			return strings.TrimSpace(s[:i])
		}
		n++
	}
	return strings.TrimSpace(s)
}
