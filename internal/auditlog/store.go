// Package auditlog keeps an append-only JSONL trail of tool activity under the
// state directory, rotated by size.
package auditlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/floegence/redeven-coder/internal/thread"
)

const (
	defaultMaxBytes   = int64(4 << 20) // 4 MiB
	defaultMaxBackups = 3
)

const (
	ActionToolExecuted = "tool_executed"
	ActionToolRejected = "tool_rejected"
	ActionToolFailed   = "tool_failed"
	ActionRollback     = "rollback"
)

type Entry struct {
	CreatedAt string `json:"created_at"`

	// Action is one of the Action* constants.
	Action string `json:"action"`

	// Status is "success" or "failure".
	Status string `json:"status"`

	// Error is a short non-secret error summary.
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	WorkspaceRoot string `json:"workspace_root,omitempty"`
	ThreadID      string `json:"thread_id,omitempty"`
	RoundtripID   string `json:"roundtrip_id,omitempty"`
	WorkflowID    string `json:"workflow_id,omitempty"`
	ToolName      string `json:"tool_name,omitempty"`

	// Approval is "approved", "rejected" or empty when no gate applied.
	Approval string `json:"approval,omitempty"`

	// Detail is a small, action-specific object (avoid secrets).
	Detail map[string]any `json:"detail,omitempty"`
}

// FromWorkflow summarizes a finished workflow. Command text and edited paths
// are kept; file contents are not.
func FromWorkflow(root string, threadID string, roundtripID string, wf *thread.Workflow) Entry {
	e := Entry{
		Action:        ActionToolExecuted,
		Status:        "success",
		WorkspaceRoot: root,
		ThreadID:      threadID,
		RoundtripID:   roundtripID,
		WorkflowID:    wf.UUID,
		ToolName:      wf.ToolName,
	}
	if e.ToolName == "" {
		e.ToolName = wf.Runner
	}
	for _, r := range wf.Reactions {
		if r.Kind == thread.ReactionApproval {
			e.Approval = r.Text
		}
	}
	for _, key := range []string{"path", "command", "cwd", "glob"} {
		if v, ok := wf.Args[key].(string); ok && v != "" {
			if e.Detail == nil {
				e.Detail = map[string]any{}
			}
			e.Detail[key] = v
		}
	}

	res := wf.Result()
	switch {
	case wf.Status == thread.WorkflowFailed:
		e.Action = ActionToolFailed
		e.Status = "failure"
		e.Error = wf.Error
	case e.Approval == "rejected":
		e.Action = ActionToolRejected
	case res != nil && res.Error != "":
		e.Status = "failure"
		e.Error = res.Error
		e.ErrorCode = res.ErrorCode
	}
	return e
}

type Options struct {
	Logger *slog.Logger
	// StateDir is the state directory (e.g. ~/.redeven-coder).
	StateDir string

	// MaxBytes is the rotation threshold of the active file.
	// If <= 0, a safe default is used.
	MaxBytes int64
	// MaxBackups keeps the latest N rotated files besides the active one.
	// If <= 0, a safe default is used.
	MaxBackups int
}

type Store struct {
	log *slog.Logger

	dir        string
	activePath string

	maxBytes   int64
	maxBackups int

	mu sync.Mutex
}

func New(opts Options) (*Store, error) {
	stateDir := strings.TrimSpace(opts.StateDir)
	if stateDir == "" {
		return nil, errors.New("missing StateDir")
	}
	dir := filepath.Join(stateDir, "audit")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	maxBackups := opts.MaxBackups
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}

	activePath := filepath.Join(dir, "events.jsonl")
	f, err := os.OpenFile(activePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	_ = f.Close()

	return &Store{
		log:        logger,
		dir:        dir,
		activePath: activePath,
		maxBytes:   maxBytes,
		maxBackups: maxBackups,
	}, nil
}

// Append writes e. Failures are logged; auditing never blocks the caller.
func (s *Store) Append(e Entry) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(e.CreatedAt) == "" {
		e.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if strings.TrimSpace(e.Status) == "" {
		e.Status = "success"
	}

	f, err := os.OpenFile(s.activePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.log.Warn("auditlog append failed", "error", err)
		return
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&e); err != nil {
		s.log.Warn("auditlog encode failed", "error", err)
		return
	}

	s.maybeRotateLocked()
}

// List returns up to limit entries, newest first, across rotated files.
func (s *Store) List(limit int) ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	limit = min(max(limit, 1), 1000)

	s.mu.Lock()
	files := s.filesLocked()
	s.mu.Unlock()

	out := make([]Entry, 0, limit)
	for _, path := range files {
		if len(out) >= limit {
			break
		}
		entries, err := readNewestFirst(path, limit-len(out))
		if err != nil {
			s.log.Warn("auditlog read failed", "path", path, "error", err)
			continue
		}
		out = append(out, entries...)
	}
	return out, nil
}

// filesLocked lists the active file then rotated files, newest first.
func (s *Store) filesLocked() []string {
	return append([]string{s.activePath}, s.rotatedLocked(true)...)
}

func (s *Store) rotatedLocked(newestFirst bool) []string {
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, ent := range ents {
		if ent.IsDir() {
			continue
		}
		// events-<unix_ms>.jsonl
		name := ent.Name()
		if strings.HasPrefix(name, "events-") && strings.HasSuffix(name, ".jsonl") {
			out = append(out, filepath.Join(s.dir, name))
		}
	}
	// Fixed-width UnixMilli names sort lexicographically by age.
	sort.Strings(out)
	if newestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

func (s *Store) maybeRotateLocked() {
	st, err := os.Stat(s.activePath)
	if err != nil || st.Size() <= s.maxBytes {
		return
	}

	dst := filepath.Join(s.dir, fmt.Sprintf("events-%d.jsonl", time.Now().UnixMilli()))
	if err := os.Rename(s.activePath, dst); err != nil {
		s.log.Warn("auditlog rotate failed", "error", err)
		return
	}
	if f, err := os.OpenFile(s.activePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600); err == nil {
		_ = f.Close()
	}

	rotated := s.rotatedLocked(false)
	if len(rotated) <= s.maxBackups {
		return
	}
	for _, path := range rotated[:len(rotated)-s.maxBackups] {
		_ = os.Remove(path)
	}
}

func readNewestFirst(path string, limit int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var entries []Entry
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
