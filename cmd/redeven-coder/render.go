package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"

	"github.com/floegence/redeven-coder/internal/agent"
	"github.com/floegence/redeven-coder/internal/auditlog"
	"github.com/floegence/redeven-coder/internal/thread"
	"github.com/floegence/redeven-coder/internal/threadstore"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("197"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

const previewLines = 8

// renderer prints agent events as a transcript. Model text is streamed as it
// arrives; tool results are summarized.
type renderer struct {
	mu        sync.Mutex
	w         io.Writer
	width     int
	reasoning bool
}

func newRenderer(w io.Writer) *renderer {
	return &renderer{w: w, width: terminalWidth(w)}
}

func (r *renderer) OnEvent(ev agent.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ev.Type {
	case agent.EventReasoningDelta:
		if !r.reasoning {
			fmt.Fprint(r.w, faintStyle.Render("thinking: "))
			r.reasoning = true
		}
		fmt.Fprint(r.w, faintStyle.Render(ev.Text))
	case agent.EventTextDelta:
		r.endReasoning()
		fmt.Fprint(r.w, ev.Text)
	case agent.EventWorkflow:
		r.endReasoning()
		r.workflow(ev.Workflow)
	case agent.EventRoundtrip:
		r.endReasoning()
		r.roundtrip(ev.Roundtrip)
	}
}

func (r *renderer) endReasoning() {
	if r.reasoning {
		fmt.Fprintln(r.w)
		r.reasoning = false
	}
}

func (r *renderer) workflow(wf *thread.Workflow) {
	if wf == nil {
		return
	}
	name := wf.ToolName
	if name == "" {
		name = wf.Runner
	}
	fmt.Fprintln(r.w)
	res := wf.Result()
	switch {
	case wf.Status == thread.WorkflowFailed:
		fmt.Fprintln(r.w, errorStyle.Render("✗ "+name+": "+wf.Error))
	case res == nil:
		fmt.Fprintln(r.w, warnStyle.Render("… "+name+" "+string(wf.State)))
	case res.Error != "":
		fmt.Fprintln(r.w, errorStyle.Render(fmt.Sprintf("✗ %s (%s)", name, res.ErrorCode)))
		r.preview(res.Error)
	default:
		fmt.Fprintln(r.w, successStyle.Render("✓ "+name))
		r.preview(res.Output)
	}
}

func (r *renderer) preview(text string) {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	more := 0
	if len(lines) > previewLines {
		more = len(lines) - previewLines
		lines = lines[:previewLines]
	}
	for _, l := range lines {
		fmt.Fprintln(r.w, faintStyle.Render("  "+r.fit(l)))
	}
	if more > 0 {
		fmt.Fprintln(r.w, faintStyle.Render(fmt.Sprintf("  … %d more lines", more)))
	}
}

// fit truncates a line to the terminal width. Unknown width leaves it alone.
func (r *renderer) fit(s string) string {
	if r.width <= 4 {
		return s
	}
	return ansi.Truncate(s, r.width-2, "…")
}

func (r *renderer) roundtrip(rt *thread.Roundtrip) {
	if rt == nil {
		return
	}
	fmt.Fprintln(r.w)
	switch rt.Status {
	case thread.RoundtripCompleted:
		fmt.Fprintln(r.w, successStyle.Render("Done."))
	case thread.RoundtripAborted:
		fmt.Fprintln(r.w, warnStyle.Render("Interrupted."))
	default:
		msg := "Failed."
		if rt.Error != "" {
			msg = "Failed: " + rt.Error
		}
		fmt.Fprintln(r.w, errorStyle.Render(msg))
	}
}

// Approval renders the box shown before asking the user.
func (r *renderer) Approval(toolName string, summary string) string {
	return boxStyle.Render(headerStyle.Render("Approve "+toolName+"?") + "\n" + strings.TrimSpace(summary))
}

func (r *renderer) Footer(th *thread.Thread) {
	if th == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, faintStyle.Render("thread "+th.UUID))
}

func (r *renderer) Faint(s string) {
	fmt.Fprintln(r.w, faintStyle.Render(s))
}

func (r *renderer) ThreadSummary(s threadstore.Summary) {
	id := s.ThreadID
	if len(id) > 8 {
		id = id[:8]
	}
	status := s.Status
	switch thread.RoundtripStatus(status) {
	case thread.RoundtripCompleted:
		status = successStyle.Render(status)
	case thread.RoundtripFailed:
		status = errorStyle.Render(status)
	default:
		status = warnStyle.Render(status)
	}
	line := fmt.Sprintf("%s  %s  %-9s %3d  %s", headerStyle.Render(id), formatUnixMs(s.UpdatedAtUnixMs), status, s.Roundtrips, s.Title)
	fmt.Fprintln(r.w, r.fit(line))
}

func (r *renderer) Thread(th *thread.Thread) {
	fmt.Fprintln(r.w, headerStyle.Render(th.Title))
	fmt.Fprintln(r.w, faintStyle.Render("thread "+th.UUID))
	for i, rt := range th.Roundtrips {
		fmt.Fprintln(r.w)
		fmt.Fprintf(r.w, "%s %s  %s\n", headerStyle.Render(fmt.Sprintf("#%d", i+1)), string(rt.Status), faintStyle.Render(rt.Request.UUID))
		r.preview(rt.Request.Text)
		for _, wf := range rt.Workflows() {
			r.workflow(wf)
			for _, rc := range wf.Reactions {
				if rc.Kind == thread.ReactionApproval && wf.IsExposed(rc.UUID) {
					fmt.Fprintln(r.w, faintStyle.Render("  approval: "+rc.Text))
				}
			}
		}
		if files := rt.Edits.Files(); len(files) > 0 {
			labels := make([]string, 0, len(files))
			for _, f := range files {
				if n := len(rt.Edits.Stack(f)); n > 1 {
					f = fmt.Sprintf("%s (%d edits)", f, n)
				}
				labels = append(labels, f)
			}
			fmt.Fprintln(r.w, faintStyle.Render("  edited: "+strings.Join(labels, ", ")))
		}
	}
}

func (r *renderer) AuditEntry(e auditlog.Entry) {
	status := successStyle.Render(e.Status)
	if e.Status != "success" {
		status = errorStyle.Render(e.Status)
	}
	line := fmt.Sprintf("%s  %-14s %-8s %s", faintStyle.Render(e.CreatedAt), e.Action, status, e.ToolName)
	if e.Approval != "" {
		line += " [" + e.Approval + "]"
	}
	for _, key := range []string{"path", "command", "message_id"} {
		if v, ok := e.Detail[key]; ok {
			line += fmt.Sprintf(" %s=%v", key, v)
		}
	}
	if e.Error != "" {
		line += " " + errorStyle.Render(e.Error)
	}
	fmt.Fprintln(r.w, r.fit(line))
}

func isTerminalFile(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return 0
	}
	return width
}
