// Package workspace is the root-confined file system the tools operate on.
package workspace

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	ErrOutsideRoot = errors.New("path is outside workspace root")
	// ErrInvalidPattern wraps a regex or glob that does not compile.
	ErrInvalidPattern = errors.New("invalid pattern")
)

// skipDirs are never listed or searched.
var skipDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	".venv":        {},
	"__pycache__":  {},
}

const (
	maxSearchFileBytes = 2 << 20
	maxSearchLineRunes = 300
)

// Entry is one listed path, relative to the workspace root.
type Entry struct {
	Path string `json:"path"`
	Dir  bool   `json:"dir,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Match is one search hit.
type Match struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// FS confines file access to one root directory.
type FS struct {
	root string
}

func New(root string) *FS {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &FS{root: filepath.Clean(root)}
}

func (w *FS) Root() string { return w.root }

// Check reports whether the root exists and is a directory.
func (w *FS) Check() error {
	st, err := os.Stat(w.root)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("%s is not a directory", w.root)
	}
	return nil
}

// Resolve maps a workspace path to an absolute path under the root. Absolute
// inputs are accepted when they already lie under the root. Symlinks along
// the existing part of the path must also resolve under the root; a dangling
// link is refused.
func (w *FS) Resolve(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" || p == "." || p == "/" {
		return w.root, nil
	}
	var abs string
	if filepath.IsAbs(p) {
		abs = filepath.Clean(p)
	} else {
		abs = filepath.Clean(filepath.Join(w.root, filepath.FromSlash(p)))
	}
	ok, err := isWithinRoot(abs, w.root)
	if err != nil || !ok {
		return "", fmt.Errorf("%s: %w", p, ErrOutsideRoot)
	}
	resolved, err := evalExisting(abs)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p, err)
	}
	realRoot, err := filepath.EvalSymlinks(w.root)
	if err != nil {
		realRoot = w.root
	}
	ok, err = isWithinRoot(resolved, realRoot)
	if err != nil || !ok {
		return "", fmt.Errorf("%s: resolves to %s: %w", p, resolved, ErrOutsideRoot)
	}
	return abs, nil
}

// evalExisting resolves symlinks in the longest existing prefix of abs and
// appends the missing tail unchanged.
func evalExisting(abs string) (string, error) {
	cur, tail := abs, ""
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(resolved, tail), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if _, lerr := os.Lstat(cur); lerr == nil {
			return "", fmt.Errorf("dangling symlink %s: %w", cur, ErrOutsideRoot)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return abs, nil
		}
		tail = filepath.Join(filepath.Base(cur), tail)
		cur = parent
	}
}

// Rel renders an absolute path relative to the root with forward slashes.
func (w *FS) Rel(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func isWithinRoot(path string, root string) (bool, error) {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false, err
	}
	rel = filepath.Clean(rel)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false, nil
	}
	return true, nil
}

// Read returns the file content. A missing file is reported with exists=false
// and no error.
func (w *FS) Read(p string) (content string, exists bool, err error) {
	abs, err := w.Resolve(p)
	if err != nil {
		return "", false, err
	}
	b, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

// Write replaces the file content atomically, creating parent directories.
func (w *FS) Write(p string, content string) error {
	abs, err := w.Resolve(p)
	if err != nil {
		return err
	}
	if abs == w.root {
		return fmt.Errorf("%s: is the workspace root", p)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	perm := fs.FileMode(0o644)
	if st, err := os.Stat(abs); err == nil {
		if st.IsDir() {
			return fmt.Errorf("%s: is a directory", p)
		}
		perm = st.Mode().Perm()
	}
	return atomicWriteFile(abs, []byte(content), perm)
}

func atomicWriteFile(path string, data []byte, perm fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".redeven-coder-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	_ = os.Chmod(tmpName, perm&0o777)
	if err := os.Rename(tmpName, path); err == nil {
		return nil
	}
	// Rename cannot overwrite on some platforms.
	_ = os.Remove(path)
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Delete removes a regular file.
func (w *FS) Delete(p string) error {
	abs, err := w.Resolve(p)
	if err != nil {
		return err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("%s: is a directory", p)
	}
	return os.Remove(abs)
}

// List walks a directory up to depth levels (1 lists direct children only).
// Entries are sorted with directories first at each level.
func (w *FS) List(p string, depth int) ([]Entry, error) {
	if depth <= 0 {
		depth = 1
	}
	abs, err := w.Resolve(p)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", p)
	}
	var out []Entry
	var walk func(dir string, level int) error
	walk = func(dir string, level int) error {
		ents, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		slices.SortStableFunc(ents, func(a, b os.DirEntry) int {
			if a.IsDir() != b.IsDir() {
				if a.IsDir() {
					return -1
				}
				return 1
			}
			return strings.Compare(a.Name(), b.Name())
		})
		for _, ent := range ents {
			full := filepath.Join(dir, ent.Name())
			e := Entry{Path: w.Rel(full), Dir: ent.IsDir()}
			if ent.IsDir() {
				if _, skip := skipDirs[ent.Name()]; skip {
					continue
				}
				out = append(out, e)
				if level < depth {
					if err := walk(full, level+1); err != nil && !errors.Is(err, fs.ErrPermission) {
						return err
					}
				}
				continue
			}
			if info, err := ent.Info(); err == nil {
				e.Size = info.Size()
			}
			out = append(out, e)
		}
		return nil
	}
	if err := walk(abs, 1); err != nil {
		return nil, err
	}
	return out, nil
}

// FindByGlob matches files against a doublestar glob relative to the root.
func (w *FS) FindByGlob(glob string) ([]string, error) {
	glob = strings.TrimPrefix(filepath.ToSlash(strings.TrimSpace(glob)), "./")
	if glob == "" {
		return nil, errors.New("empty glob")
	}
	if strings.HasPrefix(glob, "/") {
		abs, err := w.Resolve(glob)
		if err != nil {
			return nil, err
		}
		glob = w.Rel(abs)
	}
	if !doublestar.ValidatePattern(glob) {
		return nil, fmt.Errorf("%w: glob %q", ErrInvalidPattern, glob)
	}
	matches, err := doublestar.Glob(os.DirFS(w.root), glob, doublestar.WithFilesOnly(), doublestar.WithNoFollow())
	if err != nil {
		return nil, err
	}
	out := matches[:0]
	for _, m := range matches {
		if !inSkippedDir(m) {
			out = append(out, m)
		}
	}
	slices.Sort(out)
	return out, nil
}

func inSkippedDir(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if _, ok := skipDirs[part]; ok {
			return true
		}
	}
	return false
}

// Search scans files under p for lines matching the RE2 expression. When
// filePattern is set, only files whose base name or relative path match it
// are read. Search stops after limit matches.
func (w *FS) Search(ctx context.Context, p string, expr string, filePattern string, limit int) ([]Match, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: regex: %v", ErrInvalidPattern, err)
	}
	abs, err := w.Resolve(p)
	if err != nil {
		return nil, err
	}
	filePattern = strings.TrimSpace(filePattern)
	var out []Match
	errLimit := errors.New("limit reached")
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if _, skip := skipDirs[d.Name()]; skip && path != abs {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		rel := w.Rel(path)
		if filePattern != "" {
			baseOK, _ := doublestar.Match(filePattern, d.Name())
			relOK, _ := doublestar.Match(filePattern, rel)
			if !baseOK && !relOK {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxSearchFileBytes {
			return nil
		}
		n, err := searchFile(path, rel, re, limit-len(out), &out)
		if err != nil {
			return nil
		}
		if limit > 0 && n > 0 && len(out) >= limit {
			return errLimit
		}
		return nil
	})
	if err != nil && !errors.Is(err, errLimit) {
		return nil, err
	}
	return out, nil
}

func searchFile(path string, rel string, re *regexp.Regexp, remaining int, out *[]Match) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxSearchFileBytes)
	n := 0
	for line := 1; sc.Scan(); line++ {
		text := sc.Text()
		if strings.IndexByte(text, 0) >= 0 {
			// Binary file.
			return n, nil
		}
		if !re.MatchString(text) {
			continue
		}
		if r := []rune(text); len(r) > maxSearchLineRunes {
			text = string(r[:maxSearchLineRunes]) + "..."
		}
		*out = append(*out, Match{Path: rel, Line: line, Text: text})
		n++
		if remaining > 0 && n >= remaining {
			return n, nil
		}
	}
	return n, sc.Err()
}
