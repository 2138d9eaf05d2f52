package threadstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/floegence/redeven-coder/internal/thread"
	"github.com/floegence/redeven-coder/internal/toolcall"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "threads.sqlite")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, dbPath
}

func sampleThread(request string) *thread.Thread {
	th := thread.New()
	rt := th.StartRoundtrip(request)
	asm := toolcall.NewAssembler("m-"+th.UUID, []string{"read_file"}, []string{"thinking"})
	asm.Write("<thinking>look</thinking>\n<read_file>\n<path>src/main.go</path>\n</read_file>")
	asm.Finish()
	rt.AppendMessage(asm.Message)
	return th
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t)
	ctx := context.Background()
	th := sampleThread("fix the build\nplease")
	if err := s.SaveThread(ctx, "/ws", th); err != nil {
		t.Fatalf("SaveThread: %v", err)
	}

	got, err := s.LoadThread(ctx, th.UUID)
	if err != nil {
		t.Fatalf("LoadThread: %v", err)
	}
	want, _ := json.Marshal(th)
	have, _ := json.Marshal(got)
	if string(have) != string(want) {
		t.Fatalf("reloaded thread differs:\n got=%s\nwant=%s", have, want)
	}

	if _, err := s.LoadThread(ctx, "missing"); !errors.Is(err, thread.ErrNotFound) {
		t.Fatalf("LoadThread(missing) err=%v, want ErrNotFound", err)
	}
}

func TestStore_ListThreadsScopedByRoot(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t)
	ctx := context.Background()

	a := sampleThread("first")
	a.UpdatedAtUnixMs = 1000
	b := sampleThread("second\nline")
	b.UpdatedAtUnixMs = 2000
	other := sampleThread("elsewhere")
	for _, it := range []struct {
		root string
		th   *thread.Thread
	}{{"/ws", a}, {"/ws/", b}, {"/other", other}} {
		if err := s.SaveThread(ctx, it.root, it.th); err != nil {
			t.Fatalf("SaveThread: %v", err)
		}
	}

	list, next, err := s.ListThreads(ctx, "/ws", 10, ThreadsCursor{})
	if err != nil {
		t.Fatalf("ListThreads: %v", err)
	}
	if len(list) != 2 || next != "" {
		t.Fatalf("list=%v next=%q, want 2 threads and no cursor", list, next)
	}
	if list[0].ThreadID != b.UUID || list[1].ThreadID != a.UUID {
		t.Fatalf("order=%q,%q, want newest first", list[0].ThreadID, list[1].ThreadID)
	}
	if list[0].LastRequest != "second line" || list[0].Status != "running" || list[0].Roundtrips != 1 {
		t.Fatalf("summary=%+v", list[0])
	}

	page, next, err := s.ListThreads(ctx, "/ws", 1, ThreadsCursor{})
	if err != nil || len(page) != 1 || next == "" {
		t.Fatalf("page=%v next=%q err=%v", page, next, err)
	}
	cur, ok := DecodeCursor(next)
	if !ok {
		t.Fatalf("DecodeCursor(%q) failed", next)
	}
	page, _, err = s.ListThreads(ctx, "/ws", 1, cur)
	if err != nil || len(page) != 1 || page[0].ThreadID != a.UUID {
		t.Fatalf("second page=%v err=%v", page, err)
	}
}

func TestStore_ResolveThreadIDAndDelete(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t)
	ctx := context.Background()
	th := sampleThread("x")
	if err := s.SaveThread(ctx, "/ws", th); err != nil {
		t.Fatalf("SaveThread: %v", err)
	}

	id, err := s.ResolveThreadID(ctx, th.UUID[:8])
	if err != nil || id != th.UUID {
		t.Fatalf("ResolveThreadID=%q,%v, want %q", id, err, th.UUID)
	}
	if _, err := s.ResolveThreadID(ctx, "%"); !errors.Is(err, thread.ErrNotFound) {
		t.Fatalf("wildcard prefix err=%v, want ErrNotFound", err)
	}
	if err := s.DeleteThread(ctx, th.UUID); err != nil {
		t.Fatalf("DeleteThread: %v", err)
	}
	if err := s.DeleteThread(ctx, th.UUID); !errors.Is(err, thread.ErrNotFound) {
		t.Fatalf("second DeleteThread err=%v, want ErrNotFound", err)
	}
}

func TestStore_ReopenKeepsSchemaVersion(t *testing.T) {
	t.Parallel()

	s, dbPath := openTestStore(t)
	_ = s.Close()

	again, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = again.Close()

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		t.Fatalf("user_version: %v", err)
	}
	if v != len(migrations) {
		t.Fatalf("user_version=%d, want %d", v, len(migrations))
	}
}

func TestDecodeCursor_Rejects(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"!!", EncodeCursor(ThreadsCursor{}) + "x", strings.Repeat("A", 3)} {
		if _, ok := DecodeCursor(raw); ok && raw != "" {
			t.Fatalf("DecodeCursor(%q) accepted", raw)
		}
	}
}
