package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/floegence/redeven-coder/internal/agent"
	"github.com/floegence/redeven-coder/internal/patch"
	"github.com/floegence/redeven-coder/internal/thread"
	"github.com/floegence/redeven-coder/internal/workflow"
)

func TestRenderer_WorkflowPreview(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := newRenderer(&buf)
	wf := thread.NewWorkflow(workflow.ToolRunnerName, "read_file")
	wf.AddReaction(thread.Reaction{Kind: thread.ReactionToolResult, Result: &thread.ToolResult{
		ToolName: "read_file",
		Output:   strings.Repeat("line\n", previewLines+3),
	}}, true)
	wf.Finish(thread.WorkflowCompleted, "")

	r.OnEvent(agent.Event{Type: agent.EventWorkflow, Workflow: wf})
	out := buf.String()
	if !strings.Contains(out, "read_file") || !strings.Contains(out, "3 more lines") {
		t.Fatalf("output=%q", out)
	}
	if n := strings.Count(out, "line\n"); n != previewLines {
		t.Fatalf("preview lines=%d, want %d", n, previewLines)
	}
}

func TestRenderer_RoundtripStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status thread.RoundtripStatus
		errMsg string
		want   string
	}{
		{thread.RoundtripCompleted, "", "Done."},
		{thread.RoundtripAborted, "context canceled", "Interrupted."},
		{thread.RoundtripFailed, "step limit reached (3)", "Failed: step limit reached (3)"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		newRenderer(&buf).OnEvent(agent.Event{Type: agent.EventRoundtrip, Roundtrip: &thread.Roundtrip{Status: tt.status, Error: tt.errMsg}})
		if !strings.Contains(buf.String(), tt.want) {
			t.Fatalf("status %q: output=%q, want %q", tt.status, buf.String(), tt.want)
		}
	}
}

func TestRenderer_ThreadShowsApprovalsAndEdits(t *testing.T) {
	t.Parallel()

	th := thread.New()
	rt := th.StartRoundtrip("edit a.go")
	wf := thread.NewWorkflow(workflow.ToolRunnerName, "replace_in_file")
	wf.AddReaction(thread.Reaction{Kind: thread.ReactionApproval, Text: "approved"}, true)
	wf.AddReaction(thread.Reaction{Kind: thread.ReactionApproval, Text: "internal note"}, false)
	wf.Finish(thread.WorkflowCompleted, "")
	rt.Responses = append(rt.Responses, thread.Response{Type: thread.ResponseWorkflow, Workflow: wf})
	for _, content := range []string{"v1\n", "v2\n"} {
		rt.Edits.Append("a.go", patch.Edit{Result: &patch.FileEditResult{File: "a.go", Kind: patch.EditModify, NewContent: content}})
	}
	rt.Edits.Append("b.go", patch.Edit{Result: &patch.FileEditResult{File: "b.go", Kind: patch.EditCreate, NewContent: "x\n"}})

	var buf bytes.Buffer
	newRenderer(&buf).Thread(th)
	out := buf.String()
	if !strings.Contains(out, "approval: approved") || strings.Contains(out, "internal note") {
		t.Fatalf("approvals not filtered by exposure: %q", out)
	}
	if !strings.Contains(out, "a.go (2 edits), b.go") {
		t.Fatalf("edit summary missing: %q", out)
	}
}

func TestPromptApprover_NoTerminal(t *testing.T) {
	t.Parallel()

	in, err := os.Create(filepath.Join(t.TempDir(), "stdin"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer in.Close()

	var out bytes.Buffer
	req := workflow.ApprovalRequest{ToolName: "execute_command", Summary: "Run command (mutating): make"}

	ok, err := newPromptApprover(in, &out, false, newRenderer(&out)).Approve(context.Background(), req)
	if err != nil || ok {
		t.Fatalf("Approve=%v,%v, want rejection", ok, err)
	}
	if !strings.Contains(out.String(), "--yes") {
		t.Fatalf("output=%q", out.String())
	}

	ok, err = newPromptApprover(in, &out, true, newRenderer(&out)).Approve(context.Background(), req)
	if err != nil || !ok {
		t.Fatalf("auto Approve=%v,%v, want approval", ok, err)
	}
}
