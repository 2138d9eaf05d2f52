// Package agent drives roundtrips: it streams a model response, parses the
// tool call out of it, runs the workflow and feeds the result back until the
// roundtrip finishes.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/floegence/redeven-coder/internal/llm"
	"github.com/floegence/redeven-coder/internal/thread"
	"github.com/floegence/redeven-coder/internal/toolcall"
	"github.com/floegence/redeven-coder/internal/tools"
	"github.com/floegence/redeven-coder/internal/workflow"
)

const (
	defaultMaxSteps = 24
	maxStepsCap     = 200
)

// Store persists a thread after every step. Save errors are logged, not
// fatal.
type Store interface {
	SaveThread(ctx context.Context, workspaceRoot string, t *thread.Thread) error
}

type EventType string

const (
	EventTextDelta      EventType = "text_delta"
	EventReasoningDelta EventType = "reasoning_delta"
	// EventWorkflow fires after each workflow step with the workflow's state.
	EventWorkflow EventType = "workflow"
	// EventRoundtrip fires once the roundtrip reaches a terminal status.
	EventRoundtrip EventType = "roundtrip"
)

type Event struct {
	Type     EventType
	ThreadID string
	Text     string
	Workflow *thread.Workflow
	// Roundtrip is set for workflow and roundtrip events.
	Roundtrip *thread.Roundtrip
}

type Options struct {
	Model     llm.Client
	ModelName string

	Workspace tools.Workspace
	Toolset   *tools.Toolset
	Approver  workflow.Approver
	Store     Store

	Mode                 string
	MaxSteps             int
	MaxFixAttempts       int
	MaxToolOutputTokens  int
	MaxOutputTokens      int
	ThinkingBudgetTokens int

	Logger  *slog.Logger
	OnEvent func(Event)
}

// Agent runs roundtrips on threads. It is not safe for concurrent use on the
// same thread.
type Agent struct {
	model     llm.Client
	modelName string
	ws        tools.Workspace
	engine    *workflow.Engine
	store     Store
	toolNames []string

	mode                 string
	maxSteps             int
	maxToolOutputTokens  int
	maxOutputTokens      int
	thinkingBudgetTokens int
	system               string

	log     *slog.Logger
	onEvent func(Event)
}

func New(opts Options) (*Agent, error) {
	if opts.Model == nil {
		return nil, errors.New("missing model client")
	}
	if strings.TrimSpace(opts.ModelName) == "" {
		return nil, errors.New("missing model name")
	}
	if opts.Workspace == nil {
		return nil, errors.New("missing workspace")
	}
	if opts.Toolset == nil {
		return nil, errors.New("missing toolset")
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	maxSteps = min(maxSteps, maxStepsCap)
	mode := opts.Mode
	if mode != tools.ModePlan {
		mode = tools.ModeAct
	}

	a := &Agent{
		model:                opts.Model,
		modelName:            strings.TrimSpace(opts.ModelName),
		ws:                   opts.Workspace,
		store:                opts.Store,
		toolNames:            opts.Toolset.Names(),
		mode:                 mode,
		maxSteps:             maxSteps,
		maxToolOutputTokens:  opts.MaxToolOutputTokens,
		maxOutputTokens:      opts.MaxOutputTokens,
		thinkingBudgetTokens: opts.ThinkingBudgetTokens,
		log:                  log,
		onEvent:              opts.OnEvent,
	}
	a.system = buildSystemPrompt(tools.Definitions(), mode, opts.Workspace.Root())
	a.engine = workflow.New(workflow.Options{
		Runners: []workflow.Runner{
			workflow.ToolRunner(opts.Toolset),
			workflow.PlanRunner(tools.ContentPlan),
		},
		Fixer:          &modelFixer{model: opts.Model, modelName: a.modelName},
		Approver:       opts.Approver,
		MaxFixAttempts: opts.MaxFixAttempts,
		ContentTags:    contentTags,
		Logger:         log,
	})
	return a, nil
}

var contentTags = []string{tools.ContentThinking, tools.ContentPlan}

// Send starts a roundtrip for text on th and runs it to a terminal status.
// The roundtrip is returned even when err is non-nil.
func (a *Agent) Send(ctx context.Context, th *thread.Thread, text string) (*thread.Roundtrip, error) {
	if th == nil {
		return nil, errors.New("nil thread")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty request")
	}
	rt := th.StartRoundtrip(text)
	a.save(ctx, th)
	return rt, a.run(ctx, th, rt)
}

// Resume continues the thread's open roundtrip, if any. Only a roundtrip
// whose process stopped before it reached a terminal status is open; an
// aborted or failed roundtrip is never resumed.
func (a *Agent) Resume(ctx context.Context, th *thread.Thread) (*thread.Roundtrip, error) {
	if th == nil {
		return nil, errors.New("nil thread")
	}
	rt := th.Open()
	if rt == nil {
		return nil, nil
	}
	return rt, a.run(ctx, th, rt)
}

func (a *Agent) run(ctx context.Context, th *thread.Thread, rt *thread.Roundtrip) error {
	log := a.log.With("thread_id", th.UUID, "roundtrip_id", rt.UUID)
	if err := a.preflight(); err != nil {
		a.finish(ctx, th, rt, thread.RoundtripFailed, err.Error())
		return err
	}

	steps := 0
	for {
		if rt.RunningWorkflow() == nil {
			if steps >= a.maxSteps {
				log.Warn("roundtrip step limit reached", "max_steps", a.maxSteps)
				a.finish(ctx, th, rt, thread.RoundtripFailed, fmt.Sprintf("step limit reached (%d)", a.maxSteps))
				return nil
			}
			steps++
			msg, err := a.generate(ctx, th)
			if err != nil {
				if len(msg.Chunks) > 0 {
					rt.AppendMessage(msg)
				}
				return a.abort(ctx, th, rt, err)
			}
			rt.AppendMessage(msg)
			if tc, _ := msg.ToolCall(); tc != nil && tc.Status == toolcall.ToolCallGenerating {
				a.finish(ctx, th, rt, thread.RoundtripFailed, "model response ended inside a tool call")
				return nil
			}
		}

		out, err := a.engine.Run(ctx, rt)
		if out.Workflow != nil {
			a.emit(Event{Type: EventWorkflow, ThreadID: th.UUID, Workflow: out.Workflow, Roundtrip: rt})
		}
		if err != nil {
			return a.abort(ctx, th, rt, err)
		}
		switch {
		case out.Workflow == nil:
			a.finish(ctx, th, rt, thread.RoundtripCompleted, "")
			return nil
		case out.Workflow.Status == thread.WorkflowFailed:
			a.finish(ctx, th, rt, thread.RoundtripFailed, out.Workflow.Error)
			return nil
		case !out.Continue:
			a.finish(ctx, th, rt, thread.RoundtripCompleted, "")
			return nil
		}
		th.Touch()
		a.save(ctx, th)
	}
}

// abort records why the loop stopped early. Cancellation aborts the
// roundtrip; anything else fails it.
func (a *Agent) abort(ctx context.Context, th *thread.Thread, rt *thread.Roundtrip, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		a.finish(ctx, th, rt, thread.RoundtripAborted, err.Error())
		return err
	}
	a.finish(ctx, th, rt, thread.RoundtripFailed, err.Error())
	a.log.Error("roundtrip failed", "thread_id", th.UUID, "roundtrip_id", rt.UUID, "fatal", workflow.IsFatal(err), "error", err)
	return err
}

// finish also fails workflows still running so no terminal roundtrip holds
// one waiting for approval.
func (a *Agent) finish(ctx context.Context, th *thread.Thread, rt *thread.Roundtrip, status thread.RoundtripStatus, errMsg string) {
	for _, wf := range rt.Workflows() {
		if wf.Status == thread.WorkflowRunning {
			wf.Finish(thread.WorkflowFailed, "roundtrip "+string(status)+" before the workflow finished")
		}
	}
	if err := th.MarkRoundtripStatus(rt.UUID, status, errMsg); err != nil {
		a.log.Warn("mark roundtrip status failed", "roundtrip_id", rt.UUID, "error", err)
	}
	a.save(ctx, th)
	a.emit(Event{Type: EventRoundtrip, ThreadID: th.UUID, Roundtrip: rt})
}

// preflight checks what every tool needs before the model is called.
func (a *Agent) preflight() error {
	if err := a.ws.Check(); err != nil {
		return &tools.FatalError{Reason: "workspace root unavailable", Err: err}
	}
	f, err := os.CreateTemp("", "redeven-coder-*")
	if err != nil {
		return &tools.FatalError{Reason: "temp directory unavailable", Err: err}
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}

// generate streams one model response into a new assistant message. The
// stream is abandoned once the first tool call closes.
func (a *Agent) generate(ctx context.Context, th *thread.Thread) (*toolcall.AssistantMessage, error) {
	req := llm.Request{
		Model:                a.modelName,
		System:               a.system,
		Messages:             buildMessages(th, a.maxToolOutputTokens),
		MaxOutputTokens:      a.maxOutputTokens,
		ThinkingBudgetTokens: a.thinkingBudgetTokens,
	}
	asm := toolcall.NewAssembler(uuid.NewString(), a.toolNames, contentTags)
	for f, err := range a.model.ChatStream(ctx, req) {
		if err != nil {
			asm.Finish()
			return asm.Message, err
		}
		switch f.Kind {
		case llm.FragmentReasoning:
			asm.Message.AppendReasoning(f.Text)
			a.emit(Event{Type: EventReasoningDelta, Text: f.Text})
		default:
			asm.Write(f.Text)
			a.emit(Event{Type: EventTextDelta, Text: f.Text})
		}
		if asm.Done() {
			break
		}
	}
	asm.Finish()
	if asm.Message.Truncated {
		a.log.Debug("discarded model output after tool call", "message_id", asm.Message.UUID)
	}
	return asm.Message, nil
}

func (a *Agent) save(ctx context.Context, th *thread.Thread) {
	if a.store == nil {
		return
	}
	// Persist the final status even when the run was canceled.
	if err := a.store.SaveThread(context.WithoutCancel(ctx), a.ws.Root(), th); err != nil {
		a.log.Warn("save thread failed", "thread_id", th.UUID, "error", err)
	}
}

func (a *Agent) emit(ev Event) {
	if a.onEvent != nil {
		a.onEvent(ev)
	}
}

// modelFixer repairs malformed tool calls with a single non-streaming call.
type modelFixer struct {
	model     llm.Client
	modelName string
}

func (f *modelFixer) Fix(ctx context.Context, systemPrompt string, prompt string) (string, error) {
	return f.model.Chat(ctx, llm.Request{
		Model:    f.modelName,
		System:   systemPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Text: prompt}},
	})
}
