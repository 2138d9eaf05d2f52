// Package workflow turns one parsed tool call into a validated, optionally
// approved, executed action and decides whether the roundtrip continues.
//
// Lifecycle:
//
//	noWorkflow -> waiting_validate -> (validated | validate_error) -> executing -> (completed | failed)
//
// Runners supply the per-family steps (detect, validate, initialize, execute)
// as data; Engine drives them.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/floegence/redeven-coder/internal/thread"
	"github.com/floegence/redeven-coder/internal/toolcall"
)

const (
	DefaultMaxFixAttempts = 3
	maxFixAttemptsCap     = 8
)

// Result is the success output of a tool.
type Result struct {
	Output string
	// Finished ends the roundtrip after this result.
	Finished bool
}

// Gate is a runner's approval decision for one call.
type Gate struct {
	Required bool
	Summary  string
}

// Call is everything a runner step sees.
type Call struct {
	Roundtrip *thread.Roundtrip
	Workflow  *thread.Workflow
	Message   *toolcall.AssistantMessage
	ToolCall  *toolcall.ToolCallChunk
	Args      map[string]any
}

// Runner is one workflow strategy. Validate and Initialize may be nil.
type Runner struct {
	Name string
	// Tools are the tool names recognized when parsing fix replies.
	Tools      []string
	Detect     func(msg *toolcall.AssistantMessage) bool
	Validate   func(tc *toolcall.ToolCallChunk) (map[string]any, *ValidationError)
	Initialize func(c *Call) Gate
	Execute    func(ctx context.Context, c *Call) (Result, error)
}

// Fixer is the model round-trip used to repair invalid tool calls.
type Fixer interface {
	Fix(ctx context.Context, systemPrompt string, prompt string) (string, error)
}

// ApprovalRequest is shown to the user before a gated call runs.
type ApprovalRequest struct {
	WorkflowID string
	ToolName   string
	Summary    string
	Args       map[string]any
}

// Approver is the user approval gate.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) (bool, error)
}

type Options struct {
	Runners        []Runner
	Fixer          Fixer
	Approver       Approver
	MaxFixAttempts int
	ContentTags    []string
	Logger         *slog.Logger
}

// Engine runs workflows for roundtrips. It holds no per-roundtrip state.
type Engine struct {
	runners        []Runner
	fixer          Fixer
	approver       Approver
	maxFixAttempts int
	contentTags    []string
	log            *slog.Logger
}

func New(opts Options) *Engine {
	n := opts.MaxFixAttempts
	if n <= 0 {
		n = DefaultMaxFixAttempts
	}
	if n > maxFixAttemptsCap {
		n = maxFixAttemptsCap
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		runners:        append([]Runner(nil), opts.Runners...),
		fixer:          opts.Fixer,
		approver:       opts.Approver,
		maxFixAttempts: n,
		contentTags:    append([]string(nil), opts.ContentTags...),
		log:            log,
	}
}

// Outcome reports what Run did.
type Outcome struct {
	// Workflow is nil when no runner detected anything.
	Workflow *thread.Workflow
	// Continue asks the caller for another model step in this roundtrip.
	Continue bool
}

// Run advances the roundtrip's workflow. A running workflow is resumed where
// it stopped: a pending approval is asked again, and a call that was already
// executing is not repeated but reported as ErrorCodeInterrupted. Otherwise
// the trailing assistant message is offered to each runner's detector.
//
// The returned error is non-nil only for cancellation or fatal errors; every
// other failure is recorded in the thread.
func (e *Engine) Run(ctx context.Context, rt *thread.Roundtrip) (Outcome, error) {
	if rt == nil {
		return Outcome{}, errors.New("nil roundtrip")
	}
	if wf := rt.RunningWorkflow(); wf != nil {
		r, ok := e.runner(wf.Runner)
		if !ok {
			wf.Finish(thread.WorkflowFailed, fmt.Sprintf("unknown runner %q", wf.Runner))
			return Outcome{Workflow: wf}, nil
		}
		e.log.Info("workflow resumed", "roundtrip_id", rt.UUID, "workflow_id", wf.UUID, "tool_name", wf.ToolName, "state", wf.State)
		return e.proceed(ctx, r, rt, wf)
	}

	msg, idx := rt.LastMessage()
	if msg == nil {
		return Outcome{}, nil
	}
	r, ok := e.detect(msg)
	if !ok {
		return Outcome{}, nil
	}
	toolName := ""
	if tc, _ := msg.ToolCall(); tc != nil {
		toolName = tc.ToolName
	}
	wf := thread.NewWorkflow(r.Name, toolName)
	log := e.log.With("roundtrip_id", rt.UUID, "workflow_id", wf.UUID, "tool_name", toolName)

	args, err := e.validate(ctx, r, wf, msg)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Workflow: wf}, ctx.Err()
		}
		wf.Finish(thread.WorkflowFailed, err.Error())
		var verr *ValidationError
		if errors.As(err, &verr) {
			log.Warn("tool call validation failed", "error_kind", string(verr.Kind), "param", verr.Param)
		}
		return Outcome{Workflow: wf}, nil
	}
	wf.Args = args
	wf.State = thread.StateValidated
	if err := rt.Promote(idx, wf); err != nil {
		wf.Finish(thread.WorkflowFailed, err.Error())
		return Outcome{Workflow: wf}, nil
	}
	log.Debug("workflow started", "runner", r.Name)
	return e.proceed(ctx, r, rt, wf)
}

func (e *Engine) runner(name string) (Runner, bool) {
	for _, r := range e.runners {
		if r.Name == name {
			return r, true
		}
	}
	return Runner{}, false
}

func (e *Engine) detect(msg *toolcall.AssistantMessage) (Runner, bool) {
	for _, r := range e.runners {
		if r.Detect != nil && r.Detect(msg) {
			return r, true
		}
	}
	return Runner{}, false
}

const fixSystemPrompt = "You repair malformed tool calls for a coding assistant. " +
	"Reply with exactly one corrected tool call in the same XML-like tag format and nothing else."

// validate runs the runner's validator, asking the fixer for a corrected
// call up to maxFixAttempts times. A successful fix replaces the message's
// tool call.
func (e *Engine) validate(ctx context.Context, r Runner, wf *thread.Workflow, msg *toolcall.AssistantMessage) (map[string]any, error) {
	if r.Validate == nil {
		return nil, nil
	}
	tc, idx := msg.ToolCall()
	if tc == nil {
		return nil, &ValidationError{Kind: ValidationUnknown, Message: "message has no tool call"}
	}
	args, verr := r.Validate(tc)
	for attempt := 1; verr != nil; attempt++ {
		wf.State = thread.StateValidateError
		if attempt > e.maxFixAttempts || e.fixer == nil {
			tc.Status = toolcall.ToolCallValidateError
			tc.Error = verr.Describe(tc.ToolName)
			return nil, verr
		}
		desc := verr.Describe(tc.ToolName)
		prompt := desc + "\n\nThe invalid tool call was:\n" + strings.TrimSpace(tc.Source)
		reply, err := e.fixer.Fix(ctx, fixSystemPrompt, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.log.Warn("tool call fix request failed", "workflow_id", wf.UUID, "attempt", attempt, "error", err)
			wf.AddReaction(thread.Reaction{Kind: thread.ReactionFixAttempt, Text: desc}, false)
			continue
		}
		fixed := e.parseReply(reply, r.Tools)
		wf.AddReaction(thread.Reaction{Kind: thread.ReactionFixAttempt, Text: desc, Message: fixed}, false)
		ftc, _ := fixed.ToolCall()
		if ftc == nil {
			continue
		}
		nextArgs, nextErr := r.Validate(ftc)
		if nextErr != nil {
			verr = nextErr
			continue
		}
		ftc.Status = toolcall.ToolCallValidated
		msg.ReplaceToolCall(idx, ftc)
		tc, args, verr = ftc, nextArgs, nil
		wf.ToolName = ftc.ToolName
	}
	tc.Status = toolcall.ToolCallValidated
	return args, nil
}

func (e *Engine) parseReply(reply string, tools []string) *toolcall.AssistantMessage {
	a := toolcall.NewAssembler(uuid.NewString(), tools, e.contentTags)
	a.Write(reply)
	a.Finish()
	return a.Message
}

// proceed runs the approval gate if it has not been passed, then executes.
func (e *Engine) proceed(ctx context.Context, r Runner, rt *thread.Roundtrip, wf *thread.Workflow) (Outcome, error) {
	call := &Call{Roundtrip: rt, Workflow: wf, Message: wf.Origin, Args: wf.Args}
	if wf.Origin != nil {
		call.ToolCall, _ = wf.Origin.ToolCall()
	}
	name := wf.ToolName
	if name == "" {
		name = wf.Runner
	}
	log := e.log.With("roundtrip_id", rt.UUID, "workflow_id", wf.UUID, "tool_name", name)

	if wf.State == thread.StateExecuting {
		// Side effects of the earlier run are unknown.
		log.Warn("interrupted execution not repeated")
		wf.AddReaction(thread.Reaction{Kind: thread.ReactionToolResult, Result: &thread.ToolResult{
			ToolName:  name,
			ErrorCode: ErrorCodeInterrupted,
			Error:     "The previous run stopped while this tool was executing, so it may or may not have taken effect. Check the current state before retrying.",
		}}, true)
		wf.Finish(thread.WorkflowCompleted, "")
		return Outcome{Workflow: wf, Continue: true}, nil
	}

	if wf.State == thread.StateValidated || wf.State == thread.StateWaitingApprove {
		var gate Gate
		if r.Initialize != nil {
			gate = r.Initialize(call)
		}
		if gate.Required {
			wf.State = thread.StateWaitingApprove
			approved, err := e.approve(ctx, ApprovalRequest{WorkflowID: wf.UUID, ToolName: name, Summary: gate.Summary, Args: wf.Args})
			if err != nil {
				// Left waiting so a later run asks again.
				return Outcome{Workflow: wf}, err
			}
			note := "approved"
			if !approved {
				note = "rejected"
			}
			wf.AddReaction(thread.Reaction{Kind: thread.ReactionApproval, Text: note}, true)
			log.Info("approval resolved", "approved", approved)
			if !approved {
				wf.AddReaction(thread.Reaction{Kind: thread.ReactionToolResult, Result: &thread.ToolResult{
					ToolName: name,
					Output:   "The user denied this operation.",
					Finished: true,
				}}, true)
				wf.Finish(thread.WorkflowCompleted, "")
				return Outcome{Workflow: wf}, nil
			}
		}
		wf.State = thread.StateExecuting
	}

	res, err := r.Execute(ctx, call)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			wf.Finish(thread.WorkflowFailed, "canceled")
			return Outcome{Workflow: wf}, err
		}
		if IsFatal(err) {
			wf.Finish(thread.WorkflowFailed, err.Error())
			log.Error("tool execution aborted", "error_kind", "fatal", "error", err)
			return Outcome{Workflow: wf}, err
		}
		code := errorCode(err)
		log.Info("tool execution failed", "error_kind", code, "error", err)
		wf.AddReaction(thread.Reaction{Kind: thread.ReactionToolResult, Result: &thread.ToolResult{
			ToolName:  name,
			ErrorCode: code,
			Error:     err.Error(),
		}}, true)
		wf.Finish(thread.WorkflowCompleted, "")
		return Outcome{Workflow: wf, Continue: true}, nil
	}
	wf.AddReaction(thread.Reaction{Kind: thread.ReactionToolResult, Result: &thread.ToolResult{
		ToolName: name,
		Output:   res.Output,
		Finished: res.Finished,
	}}, true)
	wf.Finish(thread.WorkflowCompleted, "")
	return Outcome{Workflow: wf, Continue: !res.Finished}, nil
}

func (e *Engine) approve(ctx context.Context, req ApprovalRequest) (bool, error) {
	if e.approver == nil {
		return false, nil
	}
	return e.approver.Approve(ctx, req)
}
