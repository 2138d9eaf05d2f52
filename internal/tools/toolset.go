package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/floegence/redeven-coder/internal/patch"
	"github.com/floegence/redeven-coder/internal/terminal"
	"github.com/floegence/redeven-coder/internal/toolcall"
	"github.com/floegence/redeven-coder/internal/workflow"
	"github.com/floegence/redeven-coder/internal/workspace"
)

const (
	ModeAct  = "act"
	ModePlan = "plan"
)

// Workspace is the file capability the tools run against.
type Workspace interface {
	Root() string
	Check() error
	Resolve(p string) (string, error)
	Rel(abs string) string
	Read(p string) (content string, exists bool, err error)
	Write(p string, content string) error
	Delete(p string) error
	List(p string, depth int) ([]workspace.Entry, error)
	FindByGlob(glob string) ([]string, error)
	Search(ctx context.Context, p string, expr string, filePattern string, limit int) ([]workspace.Match, error)
}

// CommandRunner is the command execution capability.
type CommandRunner interface {
	Run(ctx context.Context, req terminal.Request) (terminal.Result, error)
}

type Options struct {
	Workspace Workspace
	Commands  CommandRunner
	Policy    CommandPolicy
	// Mode is ModeAct or ModePlan. Plan mode refuses mutating calls.
	Mode             string
	CommandTimeout   time.Duration
	LongRunningAfter time.Duration
	Logger           *slog.Logger
}

// Toolset implements the built-in tools for the generic workflow runner.
type Toolset struct {
	ws               Workspace
	commands         CommandRunner
	policy           CommandPolicy
	mode             string
	commandTimeout   time.Duration
	longRunningAfter time.Duration
	log              *slog.Logger
}

var _ workflow.Toolset = (*Toolset)(nil)

func NewToolset(opts Options) *Toolset {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	mode := strings.TrimSpace(opts.Mode)
	if mode != ModePlan {
		mode = ModeAct
	}
	return &Toolset{
		ws:               opts.Workspace,
		commands:         opts.Commands,
		policy:           opts.Policy,
		mode:             mode,
		commandTimeout:   opts.CommandTimeout,
		longRunningAfter: opts.LongRunningAfter,
		log:              log,
	}
}

func (t *Toolset) Names() []string {
	out := make([]string, 0, len(builtinDefinitions))
	for _, def := range builtinDefinitions {
		out = append(out, def.Name)
	}
	return out
}

func (t *Toolset) Validate(tc *toolcall.ToolCallChunk) (map[string]any, *workflow.ValidationError) {
	if tc == nil {
		return nil, &workflow.ValidationError{Kind: workflow.ValidationUnknown, Message: "missing tool call"}
	}
	def, ok := LookupDefinition(tc.ToolName)
	if !ok {
		return nil, &workflow.ValidationError{Kind: workflow.ValidationUnknown, Message: fmt.Sprintf("unknown tool %q", tc.ToolName)}
	}
	args := ExtractArgs(def, tc)
	if verr := ValidateArgs(def, args); verr != nil {
		return nil, verr
	}
	return args, nil
}

// Gate decides whether a validated call waits for the user.
func (t *Toolset) Gate(toolName string, args map[string]any) workflow.Gate {
	switch toolName {
	case ToolExecuteCommand:
		command := commandFromArgs(args)
		d := t.policy.Decide(command)
		if d.Blocked {
			// Execute refuses it; asking first would be pointless.
			return workflow.Gate{}
		}
		return workflow.Gate{Required: d.RequiresApproval, Summary: fmt.Sprintf("Run command (%s): %s", d.Risk, command)}
	}
	if t.policy.SkipApproval || !RequiresApproval(toolName) {
		return workflow.Gate{}
	}
	return workflow.Gate{Required: true, Summary: editSummary(toolName, args)}
}

func editSummary(toolName string, args map[string]any) string {
	path := stringArg(args, "path")
	switch toolName {
	case ToolWriteToFile:
		return fmt.Sprintf("Write %s (%d lines)", path, countLines(stringArg(args, "content")))
	case ToolReplaceInFile, ToolApplyDiff:
		var inserted, deleted int
		for _, d := range stringsArg(args, "diff") {
			i, del := patch.SummarizeDiff(d)
			inserted += i
			deleted += del
		}
		return fmt.Sprintf("Edit %s (+%d -%d)", path, inserted, deleted)
	case ToolDeleteFile:
		return "Delete " + path
	default:
		return toolName + " " + path
	}
}

// Execute runs the tool. Failures come back as *ToolError, except a missing
// workspace root which is a *FatalError.
func (t *Toolset) Execute(ctx context.Context, c *workflow.Call) (workflow.Result, error) {
	if c == nil || c.Workflow == nil {
		return workflow.Result{}, errors.New("nil call")
	}
	toolName := c.Workflow.ToolName
	args := c.Args
	if t.ws == nil {
		return workflow.Result{}, &FatalError{Reason: "workspace is not configured"}
	}
	if err := t.ws.Check(); err != nil {
		return workflow.Result{}, &FatalError{Reason: "workspace root unavailable", Err: err}
	}
	if t.mode == ModePlan && IsMutatingForInvocation(toolName, args) {
		return workflow.Result{}, &ToolError{
			Code:           ErrorCodePermissionDenied,
			Message:        "Tool is disabled in plan mode",
			SuggestedFixes: []string{"Propose the change in a <plan> block instead."},
		}
	}

	res, err := t.dispatch(ctx, c, toolName, args)
	if err != nil {
		var fatal *FatalError
		if errors.As(err, &fatal) {
			return workflow.Result{}, err
		}
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return workflow.Result{}, err
		}
		toolErr := ClassifyError(Invocation{ToolName: toolName, Args: args, Root: t.ws.Root()}, err)
		t.log.Debug("tool failed", "tool_name", toolName, "error_code", toolErr.Code, "error", toolErr.Message)
		return workflow.Result{}, toolErr
	}
	def, _ := LookupDefinition(toolName)
	res.Finished = res.Finished || def.Finishes
	return res, nil
}

func (t *Toolset) dispatch(ctx context.Context, c *workflow.Call, toolName string, args map[string]any) (workflow.Result, error) {
	switch toolName {
	case ToolReadFile:
		return t.readFile(args)
	case ToolWriteToFile:
		return t.editFile(c, args, patch.Action{Kind: patch.ActionCreate, Content: stringArg(args, "content")})
	case ToolReplaceInFile:
		diffs := stringsArg(args, "diff")
		for i, d := range diffs {
			if !patch.IsSearchReplace(d) {
				return workflow.Result{}, newToolError(ErrorCodeInvalidArgument, "diff %d is not a SEARCH/REPLACE block; use apply_diff for unified diffs", i+1)
			}
		}
		return t.editFile(c, args, patch.Action{Kind: patch.ActionDiff, Patches: diffs})
	case ToolApplyDiff:
		return t.editFile(c, args, patch.Action{Kind: patch.ActionDiff, Patches: stringsArg(args, "diff")})
	case ToolDeleteFile:
		return t.editFile(c, args, patch.Action{Kind: patch.ActionDelete})
	case ToolListFiles:
		return t.listFiles(args)
	case ToolSearchFiles:
		return t.searchFiles(ctx, args)
	case ToolFindFiles:
		return t.findFiles(args)
	case ToolExecuteCommand:
		return t.executeCommand(ctx, args)
	case ToolCreatePlan:
		return t.createPlan(args)
	case ToolAskFollowupQuestion:
		return workflow.Result{Output: strings.TrimSpace(stringArg(args, "question")), Finished: true}, nil
	case ToolAttemptCompletion:
		out := strings.TrimSpace(stringArg(args, "result"))
		if cmd := stringArg(args, "command"); cmd != "" {
			out += "\n\nTo see the result, run: " + cmd
		}
		return workflow.Result{Output: out, Finished: true}, nil
	default:
		return workflow.Result{}, newToolError(ErrorCodeInvalidArgument, "unknown tool %q", toolName)
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func stringsArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, it := range v {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		return []string{v}
	default:
		return nil
	}
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(s, "\n"), "\n") + 1
}
