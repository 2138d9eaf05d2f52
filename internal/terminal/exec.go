package terminal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ExecRunner runs each command in a new `shell -lc` process. Output from
// stdout and stderr is interleaved into one capped buffer.
type ExecRunner struct {
	Shell          string
	MaxOutputBytes int
	Log            *slog.Logger

	mu         sync.Mutex
	background map[int]*exec.Cmd
}

func NewExecRunner(shell string, log *slog.Logger) *ExecRunner {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ExecRunner{Shell: shell, MaxOutputBytes: DefaultMaxOutputBytes, Log: log}
}

func (r *ExecRunner) logger() *slog.Logger {
	if r.Log == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r.Log
}

func (r *ExecRunner) shell() string {
	if s := strings.TrimSpace(r.Shell); s != "" {
		return s
	}
	return defaultShell
}

func (r *ExecRunner) Run(ctx context.Context, req Request) (Result, error) {
	command := strings.TrimSpace(req.Command)
	if command == "" {
		return Result{}, ErrEmptyCommand
	}
	if ctx == nil {
		ctx = context.Background()
	}

	out := newLimitedBuffer(r.MaxOutputBytes)
	cmd := exec.Command(r.shell(), "-lc", command)
	cmd.Dir = strings.TrimSpace(req.Dir)
	cmd.Stdout = out
	cmd.Stderr = out

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, err
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(req.effectiveTimeout())
	defer timer.Stop()
	var longRunning <-chan time.Time
	if req.LongRunningAfter > 0 && req.LongRunningAfter < req.effectiveTimeout() {
		lr := time.NewTimer(req.LongRunningAfter)
		defer lr.Stop()
		longRunning = lr.C
	}

	result := func(status Status) Result {
		return Result{
			Status:     status,
			Output:     out.String(),
			Truncated:  out.Truncated(),
			DurationMs: time.Since(started).Milliseconds(),
		}
	}

	select {
	case err := <-done:
		res := result(StatusExit)
		if err != nil {
			var ee *exec.ExitError
			if !errors.As(err, &ee) {
				return Result{}, err
			}
			res.ExitCode = ee.ExitCode()
		}
		return res, nil
	case <-timer.C:
		r.kill(cmd)
		<-done
		res := result(StatusTimeout)
		res.ExitCode = -1
		return res, nil
	case <-longRunning:
		r.detach(cmd, done)
		res := result(StatusLongRunning)
		res.ExitCode = -1
		return res, nil
	case <-ctx.Done():
		r.kill(cmd)
		<-done
		return Result{}, ctx.Err()
	}
}

func (r *ExecRunner) kill(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := killProcessTree(ctx, cmd.Process.Pid); err != nil {
		r.logger().Warn("kill process tree failed", "pid", cmd.Process.Pid, "error", err)
		_ = cmd.Process.Kill()
	}
}

// detach keeps a long-running command alive until it exits or Close is called.
func (r *ExecRunner) detach(cmd *exec.Cmd, done <-chan error) {
	pid := cmd.Process.Pid
	r.mu.Lock()
	if r.background == nil {
		r.background = make(map[int]*exec.Cmd)
	}
	r.background[pid] = cmd
	r.mu.Unlock()
	go func() {
		err := <-done
		r.mu.Lock()
		delete(r.background, pid)
		r.mu.Unlock()
		r.logger().Debug("background command exited", "pid", pid, "error", err)
	}()
}

// Close terminates any commands left running by StatusLongRunning results.
func (r *ExecRunner) Close() error {
	r.mu.Lock()
	cmds := make([]*exec.Cmd, 0, len(r.background))
	for _, c := range r.background {
		cmds = append(cmds, c)
	}
	r.mu.Unlock()
	for _, c := range cmds {
		r.kill(c)
	}
	return nil
}
