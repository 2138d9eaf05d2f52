package agent

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/floegence/redeven-coder/internal/llm"
	"github.com/floegence/redeven-coder/internal/thread"
	"github.com/floegence/redeven-coder/internal/tools"
)

func buildSystemPrompt(defs []tools.Definition, mode string, root string) string {
	var sb strings.Builder
	sb.WriteString("You are a coding assistant working inside a software project.\n\n")
	fmt.Fprintf(&sb, "Workspace root: %s\nOperating system: %s/%s\n\n", root, runtime.GOOS, runtime.GOARCH)

	sb.WriteString("# Tool use\n")
	sb.WriteString("Call a tool by writing its XML-style tags; each parameter is a child tag. ")
	sb.WriteString("Use at most one tool per response, then stop and wait for the result. ")
	sb.WriteString("Paths are relative to the workspace root. ")
	sb.WriteString("Think inside <thinking></thinking> before acting when the step is not obvious.\n\n")
	for _, def := range defs {
		sb.WriteString(def.Usage())
		sb.WriteString("\n")
	}

	sb.WriteString("# Rules\n")
	sb.WriteString("- Read a file before editing it unless you just wrote it.\n")
	sb.WriteString("- Prefer replace_in_file for small edits and write_to_file for new files.\n")
	sb.WriteString("- When a tool fails, read the error and correct the call instead of repeating it.\n")
	sb.WriteString("- Finish with attempt_completion once the task is done, or ask_followup_question if you are blocked.\n")
	if mode == tools.ModePlan {
		sb.WriteString("\n# Plan mode\n")
		sb.WriteString("File edits and mutating commands are disabled. Investigate with read-only tools, ")
		sb.WriteString("then write the proposed change as a numbered list inside <plan></plan>.\n")
	}
	return sb.String()
}

// buildMessages renders the thread as alternating model messages. Tool
// results are capped at maxToolTokens each.
func buildMessages(th *thread.Thread, maxToolTokens int) []llm.Message {
	var out []llm.Message
	user := func(text string) {
		if strings.TrimSpace(text) != "" {
			out = append(out, llm.Message{Role: llm.RoleUser, Text: text})
		}
	}
	assistant := func(text string) {
		if strings.TrimSpace(text) != "" {
			out = append(out, llm.Message{Role: llm.RoleAssistant, Text: text})
		}
	}

	for _, rt := range th.Roundtrips {
		user(rt.Request.Text)
		for _, resp := range rt.Responses {
			switch resp.Type {
			case thread.ResponseMessage:
				if resp.Message == nil {
					continue
				}
				assistant(resp.Message.Source())
				if tc, _ := resp.Message.ToolCall(); tc != nil && tc.Error != "" {
					user("Your tool call was invalid and was not run:\n" + tc.Error)
				}
			case thread.ResponseWorkflow:
				wf := resp.Workflow
				if wf == nil {
					continue
				}
				if wf.Origin != nil {
					assistant(wf.Origin.Source())
				}
				if res := wf.Result(); res != nil {
					user(formatToolResult(res, maxToolTokens))
				} else if wf.Status == thread.WorkflowFailed && wf.Error != "" {
					user("The tool call did not complete: " + wf.Error)
				}
			}
		}
		if rt.Status == thread.RoundtripAborted {
			user("(The user interrupted this request.)")
		}
	}
	return out
}

func formatToolResult(res *thread.ToolResult, maxTokens int) string {
	name := res.ToolName
	if name == "" {
		name = "tool"
	}
	if res.Error != "" {
		body, _ := llm.TruncateTokens(res.Error, maxTokens)
		code := res.ErrorCode
		if code == "" {
			code = string(tools.ErrorCodeUnknown)
		}
		return fmt.Sprintf("[%s] Error (%s):\n%s", name, code, body)
	}
	body, _ := llm.TruncateTokens(res.Output, maxTokens)
	if strings.TrimSpace(body) == "" {
		body = "(no output)"
	}
	return fmt.Sprintf("[%s] Result:\n%s", name, body)
}
