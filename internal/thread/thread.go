// Package thread holds the conversation model: a thread of roundtrips, each
// one user request answered by assistant messages and tool workflows.
package thread

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/floegence/redeven-coder/internal/patch"
	"github.com/floegence/redeven-coder/internal/toolcall"
)

type RoundtripStatus string

const (
	RoundtripRunning   RoundtripStatus = "running"
	RoundtripCompleted RoundtripStatus = "completed"
	RoundtripFailed    RoundtripStatus = "failed"
	RoundtripAborted   RoundtripStatus = "aborted"
)

func (s RoundtripStatus) Terminal() bool {
	switch s {
	case RoundtripCompleted, RoundtripFailed, RoundtripAborted:
		return true
	default:
		return false
	}
}

type ResponseType string

const (
	ResponseMessage  ResponseType = "message"
	ResponseWorkflow ResponseType = "workflow"
)

var ErrNotFound = errors.New("not found")

// Thread is one persisted conversation.
type Thread struct {
	UUID            string       `json:"uuid"`
	Title           string       `json:"title,omitempty"`
	CreatedAtUnixMs int64        `json:"created_at_unix_ms"`
	UpdatedAtUnixMs int64        `json:"updated_at_unix_ms"`
	Roundtrips      []*Roundtrip `json:"roundtrips"`
}

// Request is the user's side of a roundtrip.
type Request struct {
	UUID string `json:"uuid"`
	Text string `json:"text"`
}

// Roundtrip is one user request and everything produced while answering it.
type Roundtrip struct {
	UUID            string          `json:"uuid"`
	Status          RoundtripStatus `json:"status"`
	Error           string          `json:"error,omitempty"`
	Request         Request         `json:"request"`
	Responses       []Response      `json:"responses"`
	CreatedAtUnixMs int64           `json:"created_at_unix_ms"`

	// Edits is the roundtrip's file edit log. Workflows append to it; reverts
	// fold over it.
	Edits patch.EditLog `json:"edits"`
}

// Response is either a plain assistant message or a workflow.
type Response struct {
	Type     ResponseType               `json:"type"`
	Message  *toolcall.AssistantMessage `json:"message,omitempty"`
	Workflow *Workflow                  `json:"workflow,omitempty"`
}

// New returns an empty thread.
func New() *Thread {
	now := time.Now().UnixMilli()
	return &Thread{UUID: uuid.NewString(), CreatedAtUnixMs: now, UpdatedAtUnixMs: now, Roundtrips: []*Roundtrip{}}
}

// Touch bumps the update timestamp.
func (t *Thread) Touch() {
	t.UpdatedAtUnixMs = time.Now().UnixMilli()
}

// StartRoundtrip opens a roundtrip for a new user request. A previous
// roundtrip still running is marked aborted.
func (t *Thread) StartRoundtrip(text string) *Roundtrip {
	if open := t.Open(); open != nil {
		open.Status = RoundtripAborted
	}
	rt := &Roundtrip{
		UUID:            uuid.NewString(),
		Status:          RoundtripRunning,
		Request:         Request{UUID: uuid.NewString(), Text: text},
		Responses:       []Response{},
		CreatedAtUnixMs: time.Now().UnixMilli(),
	}
	t.Roundtrips = append(t.Roundtrips, rt)
	if strings.TrimSpace(t.Title) == "" {
		t.Title = titleFrom(text)
	}
	t.Touch()
	return rt
}

func titleFrom(text string) string {
	const max = 60
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	if r := []rune(line); len(r) > max {
		return string(r[:max]) + "..."
	}
	return line
}

// Open returns the last roundtrip if it is still running.
func (t *Thread) Open() *Roundtrip {
	if t == nil || len(t.Roundtrips) == 0 {
		return nil
	}
	last := t.Roundtrips[len(t.Roundtrips)-1]
	if last.Status.Terminal() {
		return nil
	}
	return last
}

// Roundtrip finds a roundtrip by uuid.
func (t *Thread) Roundtrip(id string) (*Roundtrip, int) {
	for i, rt := range t.Roundtrips {
		if rt.UUID == id {
			return rt, i
		}
	}
	return nil, -1
}

// MarkRoundtripStatus sets the status of a roundtrip.
func (t *Thread) MarkRoundtripStatus(roundtripID string, status RoundtripStatus, errMsg string) error {
	rt, _ := t.Roundtrip(roundtripID)
	if rt == nil {
		return fmt.Errorf("roundtrip %s: %w", roundtripID, ErrNotFound)
	}
	rt.Status = status
	rt.Error = strings.TrimSpace(errMsg)
	t.Touch()
	return nil
}

// RollbackRoundtripTo truncates the thread so the roundtrip containing
// messageID, and every later one, are removed. messageID may name a request,
// an assistant message, a workflow or a reaction. The removed roundtrips are
// returned in their original order. Rollback cannot be undone.
func (t *Thread) RollbackRoundtripTo(messageID string) ([]*Roundtrip, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, errors.New("missing message id")
	}
	for i, rt := range t.Roundtrips {
		if rt.Contains(messageID) {
			removed := append([]*Roundtrip(nil), t.Roundtrips[i:]...)
			t.Roundtrips = t.Roundtrips[:i]
			t.Touch()
			return removed, nil
		}
	}
	return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
}

// Contains reports whether id names the roundtrip or anything inside it.
func (rt *Roundtrip) Contains(id string) bool {
	if rt.UUID == id || rt.Request.UUID == id {
		return true
	}
	for _, r := range rt.Responses {
		switch r.Type {
		case ResponseMessage:
			if r.Message != nil && r.Message.UUID == id {
				return true
			}
		case ResponseWorkflow:
			if r.Workflow != nil && r.Workflow.Contains(id) {
				return true
			}
		}
	}
	return false
}

// AppendMessage records an assistant message.
func (rt *Roundtrip) AppendMessage(m *toolcall.AssistantMessage) {
	rt.Responses = append(rt.Responses, Response{Type: ResponseMessage, Message: m})
}

// LastMessage returns the trailing plain message response, if any.
func (rt *Roundtrip) LastMessage() (*toolcall.AssistantMessage, int) {
	if n := len(rt.Responses); n > 0 && rt.Responses[n-1].Type == ResponseMessage {
		return rt.Responses[n-1].Message, n - 1
	}
	return nil, -1
}

// Promote replaces the message response at idx with a workflow whose origin
// is that message. A workflow is promoted at most once per message.
func (rt *Roundtrip) Promote(idx int, wf *Workflow) error {
	if idx < 0 || idx >= len(rt.Responses) || rt.Responses[idx].Type != ResponseMessage {
		return fmt.Errorf("response %d is not a message", idx)
	}
	msg := rt.Responses[idx].Message
	for _, r := range rt.Responses {
		if r.Type == ResponseWorkflow && r.Workflow != nil && r.Workflow.Origin != nil && msg != nil && r.Workflow.Origin.UUID == msg.UUID {
			return fmt.Errorf("message %s already has a workflow", msg.UUID)
		}
	}
	wf.Origin = msg
	rt.Responses[idx] = Response{Type: ResponseWorkflow, Workflow: wf}
	return nil
}

// RunningWorkflow returns the last workflow if it has not finished.
func (rt *Roundtrip) RunningWorkflow() *Workflow {
	for i := len(rt.Responses) - 1; i >= 0; i-- {
		r := rt.Responses[i]
		if r.Type != ResponseWorkflow || r.Workflow == nil {
			continue
		}
		if r.Workflow.Status == WorkflowRunning {
			return r.Workflow
		}
		return nil
	}
	return nil
}

// Workflows returns every workflow in response order.
func (rt *Roundtrip) Workflows() []*Workflow {
	var out []*Workflow
	for _, r := range rt.Responses {
		if r.Type == ResponseWorkflow && r.Workflow != nil {
			out = append(out, r.Workflow)
		}
	}
	return out
}
