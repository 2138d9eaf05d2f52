// Package terminal runs shell commands on behalf of the execute_command tool.
//
// Two runners share one contract: ExecRunner spawns a fresh login shell per
// command, SessionRunner drives a persistent PTY shell and recovers the exit
// status from printed markers.
package terminal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

type Status string

const (
	StatusExit Status = "exit"
	// StatusTimeout means the command was interrupted after Request.Timeout.
	StatusTimeout Status = "timeout"
	// StatusNoShellIntegration means the shell never acknowledged the command,
	// so the exit code is unknown and Output is the raw terminal text.
	StatusNoShellIntegration Status = "noShellIntegration"
	// StatusLongRunning means the command is still running; Output holds what
	// it printed so far.
	StatusLongRunning Status = "longRunning"
)

const (
	DefaultTimeout        = 60 * time.Second
	DefaultMaxOutputBytes = 200_000
	defaultShell          = "/bin/bash"
)

var ErrEmptyCommand = errors.New("empty command")

type Request struct {
	Command string
	// Dir is an absolute working directory.
	Dir              string
	Timeout          time.Duration
	LongRunningAfter time.Duration
}

type Result struct {
	Status     Status `json:"status"`
	Output     string `json:"output"`
	ExitCode   int    `json:"exit_code"`
	Truncated  bool   `json:"truncated,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Runner executes one command at a time.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
	Close() error
}

func (r Request) effectiveTimeout() time.Duration {
	if r.Timeout <= 0 {
		return DefaultTimeout
	}
	return r.Timeout
}

// limitedBuffer keeps the first max bytes written and drops the rest without
// failing the writer.
type limitedBuffer struct {
	max int

	mu        sync.Mutex
	buf       bytes.Buffer
	truncated bool
}

func newLimitedBuffer(max int) *limitedBuffer {
	if max <= 0 {
		max = DefaultMaxOutputBytes
	}
	return &limitedBuffer{max: max}
}

var _ io.Writer = (*limitedBuffer)(nil)

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	// Always report success to avoid blocking the child process.
	remain := b.max - b.buf.Len()
	if remain <= 0 {
		b.truncated = true
		return len(p), nil
	}
	n := len(p)
	if n > remain {
		n = remain
		b.truncated = true
	}
	_, _ = b.buf.Write(p[:n])
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *limitedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// killProcessTree terminates pid and all of its descendants, children first.
func killProcessTree(ctx context.Context, pid int) error {
	if pid <= 0 {
		return nil
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return err
	}
	return killTree(ctx, p)
}

func killTree(ctx context.Context, p *process.Process) error {
	children, _ := p.ChildrenWithContext(ctx)
	for _, c := range children {
		_ = killTree(ctx, c)
	}
	if err := p.KillWithContext(ctx); err != nil && !strings.Contains(err.Error(), "process already finished") {
		return err
	}
	return nil
}
