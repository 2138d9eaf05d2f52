package thread

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/floegence/redeven-coder/internal/toolcall"
)

type WorkflowStatus string

const (
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
)

// WorkflowState is the fine-grained position in the workflow lifecycle.
type WorkflowState string

const (
	StateWaitingValidate WorkflowState = "waiting_validate"
	StateValidateError   WorkflowState = "validate_error"
	StateValidated       WorkflowState = "validated"
	StateWaitingApprove  WorkflowState = "waiting_approve"
	StateExecuting       WorkflowState = "executing"
	StateCompleted       WorkflowState = "completed"
	StateFailed          WorkflowState = "failed"
)

type ReactionKind string

const (
	ReactionFixAttempt ReactionKind = "fix_attempt"
	ReactionApproval   ReactionKind = "approval"
	ReactionToolResult ReactionKind = "tool_result"
)

// Workflow is the lifecycle of one tool call: its origin message plus the
// reactions produced while validating, approving and executing it.
type Workflow struct {
	UUID     string         `json:"uuid"`
	Runner   string         `json:"runner"`
	Status   WorkflowStatus `json:"status"`
	State    WorkflowState  `json:"state"`
	ToolName string         `json:"tool_name,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	Error    string         `json:"error,omitempty"`

	Origin    *toolcall.AssistantMessage `json:"origin,omitempty"`
	Reactions []Reaction                 `json:"reactions"`
	// Exposed lists the uuids of reactions shown to the user.
	Exposed []string `json:"exposed"`

	CreatedAtUnixMs int64 `json:"created_at_unix_ms"`
}

// Reaction is one message produced on behalf of a workflow.
type Reaction struct {
	UUID string       `json:"uuid"`
	Kind ReactionKind `json:"kind"`
	// Text is the fix request or approval note.
	Text string `json:"text,omitempty"`
	// Message is the model's reply to a fix request.
	Message *toolcall.AssistantMessage `json:"message,omitempty"`
	Result  *ToolResult                `json:"result,omitempty"`
}

// ToolResult is the outcome of executing a tool, fed back to the model.
type ToolResult struct {
	ToolName string `json:"tool_name"`
	Output   string `json:"output,omitempty"`
	// ErrorCode and Error are set for execution errors.
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
	Finished  bool   `json:"finished"`
}

// NewWorkflow returns a running workflow for the named runner.
func NewWorkflow(runner string, toolName string) *Workflow {
	return &Workflow{
		UUID:            uuid.NewString(),
		Runner:          runner,
		Status:          WorkflowRunning,
		State:           StateWaitingValidate,
		ToolName:        toolName,
		Reactions:       []Reaction{},
		Exposed:         []string{},
		CreatedAtUnixMs: time.Now().UnixMilli(),
	}
}

// AddReaction appends a reaction and returns its uuid.
func (w *Workflow) AddReaction(r Reaction, exposed bool) string {
	if r.UUID == "" {
		r.UUID = uuid.NewString()
	}
	w.Reactions = append(w.Reactions, r)
	if exposed {
		w.Exposed = append(w.Exposed, r.UUID)
	}
	return r.UUID
}

func (w *Workflow) IsExposed(reactionID string) bool {
	return slices.Contains(w.Exposed, reactionID)
}

// Result returns the last tool result, if any.
func (w *Workflow) Result() *ToolResult {
	for i := len(w.Reactions) - 1; i >= 0; i-- {
		if w.Reactions[i].Result != nil {
			return w.Reactions[i].Result
		}
	}
	return nil
}

// Finish moves the workflow to a terminal status.
func (w *Workflow) Finish(status WorkflowStatus, errMsg string) {
	w.Status = status
	w.Error = errMsg
	switch status {
	case WorkflowCompleted:
		w.State = StateCompleted
	case WorkflowFailed:
		w.State = StateFailed
	}
}

// Contains reports whether id names the workflow, its origin or a reaction.
func (w *Workflow) Contains(id string) bool {
	if w.UUID == id || (w.Origin != nil && w.Origin.UUID == id) {
		return true
	}
	for _, r := range w.Reactions {
		if r.UUID == id || (r.Message != nil && r.Message.UUID == id) {
			return true
		}
	}
	return false
}
