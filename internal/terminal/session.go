package terminal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"
	termgo "github.com/floegence/floeterm/terminal-go"
	"github.com/google/uuid"
)

const (
	sessionConnID    = "redeven-coder"
	sessionCols      = 200
	sessionRows      = 50
	beginMarkerTag   = "__RCB"
	endMarkerTag     = "__RCE"
	ctrlC            = "\x03"
	defaultAckWindow = 5 * time.Second
)

type slogTerminalLogger struct{ log *slog.Logger }

func (l slogTerminalLogger) Debug(msg string, kv ...any) { l.log.Debug(msg, kv...) }
func (l slogTerminalLogger) Info(msg string, kv ...any)  { l.log.Info(msg, kv...) }
func (l slogTerminalLogger) Warn(msg string, kv ...any)  { l.log.Warn(msg, kv...) }
func (l slogTerminalLogger) Error(msg string, kv ...any) { l.log.Error(msg, kv...) }

type fixedShellResolver struct {
	shell string
}

func (r fixedShellResolver) ResolveShell(logger termgo.Logger) string {
	shell := strings.TrimSpace(r.shell)
	if shell != "" {
		if _, err := os.Stat(shell); err == nil {
			return shell
		}
		logger.Warn("configured shell missing; falling back", "shell", shell)
	}
	return termgo.DefaultShellResolver{}.ResolveShell(logger)
}

// SessionRunner runs commands in one persistent PTY shell, so state such as
// exported variables survives between commands. Each command is bracketed by
// printf markers carrying a nonce; the end marker also carries `$?`.
type SessionRunner struct {
	root string
	log  *slog.Logger
	term *termgo.Manager

	// AckWindow bounds how long Run waits for the begin marker before
	// reporting StatusNoShellIntegration.
	AckWindow      time.Duration
	MaxOutputBytes int

	runMu     sync.Mutex
	mu        sync.Mutex
	sessionID string
	capture   *limitedBuffer
	notify    chan struct{}
}

func NewSessionRunner(shell string, root string, log *slog.Logger) *SessionRunner {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &SessionRunner{
		root:           root,
		log:            log,
		AckWindow:      defaultAckWindow,
		MaxOutputBytes: DefaultMaxOutputBytes,
		notify:         make(chan struct{}, 1),
	}
	r.term = termgo.NewManager(termgo.ManagerConfig{
		Logger:        slogTerminalLogger{log: log},
		ShellResolver: fixedShellResolver{shell: shell},
	})
	r.term.SetEventHandler(&eventHandler{r: r})
	return r
}

func (r *SessionRunner) ensureSession() (*termgo.Session, error) {
	r.mu.Lock()
	id := r.sessionID
	r.mu.Unlock()
	if id != "" {
		if sess, ok := r.term.GetSession(id); ok && sess != nil {
			return sess, nil
		}
	}
	sess, err := r.term.CreateSession("redeven-coder", r.root, sessionCols, sessionRows)
	if err != nil {
		return nil, err
	}
	sess.AddConnection(sessionConnID, sessionCols, sessionRows)
	r.mu.Lock()
	r.sessionID = sess.ToSessionInfo().ID
	r.mu.Unlock()
	return sess, nil
}

func (r *SessionRunner) Run(ctx context.Context, req Request) (Result, error) {
	command := strings.TrimSpace(req.Command)
	if command == "" {
		return Result{}, ErrEmptyCommand
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.runMu.Lock()
	defer r.runMu.Unlock()

	sess, err := r.ensureSession()
	if err != nil {
		return Result{}, fmt.Errorf("create terminal session: %w", err)
	}

	capture := newLimitedBuffer(r.MaxOutputBytes * 2)
	r.mu.Lock()
	r.capture = capture
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.capture = nil
		r.mu.Unlock()
	}()

	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := sess.WriteDataWithSource([]byte(markedScript(req.Dir, command, nonce)), sessionConnID); err != nil {
		return Result{}, fmt.Errorf("write to terminal: %w", err)
	}

	started := time.Now()
	timeout := time.NewTimer(req.effectiveTimeout())
	defer timeout.Stop()
	ackWindow := r.AckWindow
	if ackWindow <= 0 {
		ackWindow = defaultAckWindow
	}
	ack := time.NewTimer(ackWindow)
	defer ack.Stop()
	var longRunning <-chan time.Time
	if req.LongRunningAfter > 0 {
		lr := time.NewTimer(req.LongRunningAfter)
		defer lr.Stop()
		longRunning = lr.C
	}

	result := func(status Status) Result {
		out := parseMarked(capture.String(), nonce)
		res := Result{
			Status:     status,
			Output:     out.Body,
			ExitCode:   -1,
			Truncated:  capture.Truncated(),
			DurationMs: time.Since(started).Milliseconds(),
		}
		if status == StatusNoShellIntegration && !out.Begun {
			res.Output = cleanTerminalText(capture.String())
		}
		if max := r.MaxOutputBytes; max > 0 && len(res.Output) > max {
			res.Output = res.Output[:max]
			res.Truncated = true
		}
		return res
	}

	for {
		out := parseMarked(capture.String(), nonce)
		if out.Ended {
			res := result(StatusExit)
			res.ExitCode = out.ExitCode
			return res, nil
		}
		select {
		case <-r.notify:
		case <-ack.C:
			if !parseMarked(capture.String(), nonce).Begun {
				r.log.Warn("terminal did not acknowledge command", "session_id", r.sessionID)
				return result(StatusNoShellIntegration), nil
			}
		case <-longRunning:
			return result(StatusLongRunning), nil
		case <-timeout.C:
			_ = sess.WriteDataWithSource([]byte(ctrlC), sessionConnID)
			return result(StatusTimeout), nil
		case <-ctx.Done():
			_ = sess.WriteDataWithSource([]byte(ctrlC), sessionConnID)
			return Result{}, ctx.Err()
		}
	}
}

func (r *SessionRunner) Close() error {
	r.mu.Lock()
	id := r.sessionID
	r.sessionID = ""
	r.mu.Unlock()
	if id == "" {
		return nil
	}
	return r.term.DeleteSession(id)
}

func (r *SessionRunner) onData(sessionID string, data []byte) {
	r.mu.Lock()
	capture := r.capture
	own := sessionID == r.sessionID
	r.mu.Unlock()
	if !own || capture == nil {
		return
	}
	_, _ = capture.Write(data)
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

type eventHandler struct{ r *SessionRunner }

func (h *eventHandler) OnTerminalData(sessionID string, data []byte, sequenceNumber int64, isEcho bool, originalSource string) {
	if h == nil || h.r == nil || isEcho {
		return
	}
	h.r.onData(sessionID, data)
}

func (h *eventHandler) OnTerminalNameChanged(sessionID string, oldName string, newName string, workingDir string) {
}

func (h *eventHandler) OnTerminalSessionCreated(session *termgo.Session) {}

func (h *eventHandler) OnTerminalSessionClosed(sessionID string) {
	if h == nil || h.r == nil {
		return
	}
	h.r.mu.Lock()
	if h.r.sessionID == sessionID {
		h.r.sessionID = ""
	}
	h.r.mu.Unlock()
}

func (h *eventHandler) OnTerminalError(sessionID string, err error) {
	if h == nil || h.r == nil {
		return
	}
	h.r.log.Warn("terminal session error", "session_id", sessionID, "error", err)
}

// markedScript renders the line typed into the shell. The marker words are
// passed to printf as separate arguments so the echoed input never contains a
// complete marker.
func markedScript(dir string, command string, nonce string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "printf '%%s_%%s\\n' %s %s; ", beginMarkerTag, nonce)
	if dir = strings.TrimSpace(dir); dir != "" {
		sb.WriteString("cd " + shellQuote(dir) + " && ")
	}
	sb.WriteString(command)
	fmt.Fprintf(&sb, "\nprintf '\\n%%s_%%s:%%d\\n' %s %s $?\n", endMarkerTag, nonce)
	return sb.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

type markedOutput struct {
	Body     string
	Begun    bool
	Ended    bool
	ExitCode int
}

// parseMarked extracts the command output between the begin and end markers
// of nonce from raw terminal text.
func parseMarked(raw string, nonce string) markedOutput {
	text := cleanTerminalText(raw)
	begin := beginMarkerTag + "_" + nonce + "\n"
	i := strings.Index(text, begin)
	if i < 0 {
		return markedOutput{ExitCode: -1}
	}
	body := text[i+len(begin):]
	out := markedOutput{Begun: true, ExitCode: -1}
	loc := endMarkerPattern(nonce).FindStringSubmatchIndex(body)
	if loc == nil {
		out.Body = dropEchoedEndLine(body, nonce)
		return out
	}
	out.Ended = true
	out.ExitCode, _ = strconv.Atoi(body[loc[2]:loc[3]])
	out.Body = dropEchoedEndLine(strings.TrimSuffix(body[:loc[0]], "\n"), nonce)
	return out
}

// dropEchoedEndLine removes the shell's echo of the end-marker printf, which
// readline prints only once the command itself has finished.
func dropEchoedEndLine(body string, nonce string) string {
	echo := endMarkerTag + " " + nonce
	if !strings.Contains(body, echo) {
		return body
	}
	lines := strings.Split(body, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if !strings.Contains(line, echo) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func endMarkerPattern(nonce string) *regexp.Regexp {
	return regexp.MustCompile(`\n?` + endMarkerTag + "_" + regexp.QuoteMeta(nonce) + `:(-?\d+)`)
}

func cleanTerminalText(s string) string {
	s = ansi.Strip(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "")
}
