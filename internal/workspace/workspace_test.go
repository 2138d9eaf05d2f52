package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func writeFile(t *testing.T, root string, rel string, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestFS_ResolveStaysUnderRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w := New(root)
	p, err := w.Resolve("a/b.go")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p != filepath.Join(w.Root(), "a", "b.go") {
		t.Fatalf("p=%q", p)
	}
	if _, err := w.Resolve("../escape"); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("err=%v, want outside root", err)
	}
	if _, err := w.Resolve(filepath.Join(w.Root(), "x")); err != nil {
		t.Fatalf("absolute path inside root: %v", err)
	}
	if _, err := w.Resolve("/etc/passwd"); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("err=%v, want outside root", err)
	}
}

func TestFS_ReadWriteDelete(t *testing.T) {
	t.Parallel()

	w := New(t.TempDir())
	if _, ok, err := w.Read("new/file.txt"); err != nil || ok {
		t.Fatalf("missing file ok=%v err=%v", ok, err)
	}
	if err := w.Write("new/file.txt", "hello\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, ok, err := w.Read("new/file.txt")
	if err != nil || !ok || got != "hello\n" {
		t.Fatalf("Read=%q ok=%v err=%v", got, ok, err)
	}
	if err := w.Delete("new/file.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := w.Read("new/file.txt"); ok {
		t.Fatalf("file still exists")
	}
	if err := w.Delete("new"); err == nil {
		t.Fatalf("deleting a directory should fail")
	}
}

func TestFS_ListAndGlob(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "pkg/a/a.go", "package a\n")
	writeFile(t, root, "pkg/a/a_test.go", "package a\n")
	writeFile(t, root, ".git/config", "x")
	w := New(root)

	ents, err := w.List(".", 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var paths []string
	for _, e := range ents {
		paths = append(paths, e.Path)
	}
	if !slices.Equal(paths, []string{"pkg", "main.go"}) {
		t.Fatalf("paths=%v", paths)
	}

	ents, err = w.List(".", 3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ents) != 5 {
		t.Fatalf("recursive entries=%d (%v)", len(ents), ents)
	}

	got, err := w.FindByGlob("**/*_test.go")
	if err != nil {
		t.Fatalf("FindByGlob: %v", err)
	}
	if !slices.Equal(got, []string{"pkg/a/a_test.go"}) {
		t.Fatalf("glob=%v", got)
	}
}

func TestFS_Search(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.go", "func A() {}\nfunc B() {}\n")
	writeFile(t, root, "b.txt", "func C\n")
	w := New(root)

	got, err := w.Search(context.Background(), ".", `^func [A-Z]`, "*.go", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 || got[1].Line != 2 || got[1].Path != "a.go" {
		t.Fatalf("matches=%+v", got)
	}
	got, err = w.Search(context.Background(), ".", `func`, "", 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("limited matches=%+v err=%v", got, err)
	}
	if _, err := w.Search(context.Background(), ".", `(`, "", 0); !errors.Is(err, ErrInvalidPattern) {
		t.Fatalf("err=%v, want invalid pattern", err)
	}
	if _, err := w.FindByGlob("a/[b"); !errors.Is(err, ErrInvalidPattern) {
		t.Fatalf("glob err=%v, want invalid pattern", err)
	}
}

func TestFS_ResolveFollowsSymlinks(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	outside := t.TempDir()
	writeFile(t, outside, "secret.txt", "s3cret\n")
	writeFile(t, root, "src/main.go", "package main\n")
	for name, target := range map[string]string{
		"out":      outside,
		"leak.txt": filepath.Join(outside, "secret.txt"),
		"dangling": filepath.Join(outside, "missing.txt"),
		"inner":    filepath.Join(root, "src"),
	} {
		if err := os.Symlink(target, filepath.Join(root, name)); err != nil {
			t.Skipf("symlinks unsupported: %v", err)
		}
	}
	w := New(root)

	for _, p := range []string{"out", "out/secret.txt", "out/new.txt", "leak.txt", "dangling"} {
		if _, err := w.Resolve(p); !errors.Is(err, ErrOutsideRoot) {
			t.Fatalf("Resolve(%q) err=%v, want outside root", p, err)
		}
	}
	if _, _, err := w.Read("leak.txt"); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("Read through link err=%v", err)
	}
	if err := w.Write("out/new.txt", "x"); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("Write through link err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(outside, "new.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("file created outside root: %v", err)
	}

	got, ok, err := w.Read("inner/main.go")
	if err != nil || !ok || got != "package main\n" {
		t.Fatalf("Read via inner link=%q,%v,%v", got, ok, err)
	}
	if _, err := w.Resolve("inner/new/file.go"); err != nil {
		t.Fatalf("Resolve of a new path under an inner link: %v", err)
	}

	matches, err := w.Search(context.Background(), ".", `s3cret`, "", 0)
	if err != nil || len(matches) != 0 {
		t.Fatalf("Search followed a link out of root: %+v, %v", matches, err)
	}
}
