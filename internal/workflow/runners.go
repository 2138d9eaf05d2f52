package workflow

import (
	"context"
	"slices"
	"strings"

	"github.com/floegence/redeven-coder/internal/toolcall"
)

const (
	ToolRunnerName = "tool"
	PlanRunnerName = "plan"
)

// Toolset is a tool family the generic runner dispatches to.
type Toolset interface {
	Names() []string
	Validate(tc *toolcall.ToolCallChunk) (map[string]any, *ValidationError)
	Gate(toolName string, args map[string]any) Gate
	Execute(ctx context.Context, c *Call) (Result, error)
}

// ToolRunner detects any closed call to a tool in ts.
func ToolRunner(ts Toolset) Runner {
	names := ts.Names()
	return Runner{
		Name:  ToolRunnerName,
		Tools: names,
		Detect: func(msg *toolcall.AssistantMessage) bool {
			tc, _ := msg.ToolCall()
			return tc != nil && tc.Status == toolcall.ToolCallWaitingValidate && slices.Contains(names, tc.ToolName)
		},
		Validate: ts.Validate,
		Initialize: func(c *Call) Gate {
			return ts.Gate(c.Workflow.ToolName, c.Args)
		},
		Execute: ts.Execute,
	}
}

// PlanRunner detects a message that proposes a plan in a closed tag region
// without calling a tool, and asks the user to accept it.
func PlanRunner(tag string) Runner {
	return Runner{
		Name: PlanRunnerName,
		Detect: func(msg *toolcall.AssistantMessage) bool {
			if tc, _ := msg.ToolCall(); tc != nil {
				return false
			}
			plan, ok := msg.Content(tag)
			return ok && strings.TrimSpace(plan) != ""
		},
		Initialize: func(c *Call) Gate {
			plan, _ := c.Message.Content(tag)
			return Gate{Required: true, Summary: strings.TrimSpace(plan)}
		},
		Execute: func(context.Context, *Call) (Result, error) {
			return Result{Output: "The user approved the plan. Carry it out step by step using the available tools."}, nil
		},
	}
}
