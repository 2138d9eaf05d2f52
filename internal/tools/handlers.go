package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/floegence/redeven-coder/internal/patch"
	"github.com/floegence/redeven-coder/internal/terminal"
	"github.com/floegence/redeven-coder/internal/workflow"
	"github.com/floegence/redeven-coder/internal/workspace"
)

const (
	maxReadBytes     = 512 * 1024
	maxListedEntries = 500
	maxSearchMatches = 200
	maxRecursiveList = 8
	defaultListDepth = 3
)

// relPath normalizes a tool path to the workspace-relative key used by the
// edit log.
func (t *Toolset) relPath(p string) (string, error) {
	abs, err := t.ws.Resolve(p)
	if err != nil {
		return "", err
	}
	return t.ws.Rel(abs), nil
}

func (t *Toolset) readFile(args map[string]any) (workflow.Result, error) {
	rel, err := t.relPath(stringArg(args, "path"))
	if err != nil {
		return workflow.Result{}, err
	}
	content, ok, err := t.ws.Read(rel)
	if err != nil {
		return workflow.Result{}, err
	}
	if !ok {
		return workflow.Result{}, newToolError(ErrorCodeNotFound, "file not found: %s", rel)
	}
	if len(content) > maxReadBytes {
		content = content[:maxReadBytes] + fmt.Sprintf("\n[truncated: file is larger than %d bytes]", maxReadBytes)
	}
	return workflow.Result{Output: content}, nil
}

// editFile stacks action on the roundtrip's edit log and commits the result
// to the workspace.
func (t *Toolset) editFile(c *workflow.Call, args map[string]any, action patch.Action) (workflow.Result, error) {
	rel, err := t.relPath(stringArg(args, "path"))
	if err != nil {
		return workflow.Result{}, err
	}
	if rel == "." {
		return workflow.Result{}, newToolError(ErrorCodeInvalidPath, "path must name a file")
	}
	log := &patch.EditLog{}
	if c.Roundtrip != nil {
		log = &c.Roundtrip.Edits
	}

	base, err := log.Base(rel, t.ws.Read)
	if err != nil {
		return workflow.Result{}, err
	}
	edit := patch.StackFileEdit(base, action)
	if !edit.OK() {
		log.Append(rel, edit)
		return workflow.Result{}, edit.Error
	}

	res := edit.Result
	if res.Kind == patch.EditDelete {
		err = t.ws.Delete(rel)
	} else {
		err = t.ws.Write(rel, res.NewContent)
	}
	if err != nil {
		log.Append(rel, patch.Edit{Error: &patch.FileEditError{File: rel, Kind: patch.ErrorUnknown, Message: err.Error()}})
		return workflow.Result{}, err
	}
	log.Append(rel, edit)
	t.log.Info("file edited", "path", rel, "kind", res.Kind, "inserted", res.InsertedCount, "deleted", res.DeletedCount)

	switch res.Kind {
	case patch.EditCreate:
		return workflow.Result{Output: fmt.Sprintf("Created %s (%d lines).", rel, res.InsertedCount)}, nil
	case patch.EditDelete:
		return workflow.Result{Output: fmt.Sprintf("Deleted %s.", rel)}, nil
	default:
		return workflow.Result{Output: fmt.Sprintf("Edited %s: +%d -%d lines.", rel, res.InsertedCount, res.DeletedCount)}, nil
	}
}

func (t *Toolset) listFiles(args map[string]any) (workflow.Result, error) {
	depth := 1
	if boolArg(args, "recursive") {
		depth = intArg(args, "depth")
		if depth <= 0 {
			depth = defaultListDepth
		}
		depth = min(depth, maxRecursiveList)
	}
	ents, err := t.ws.List(stringArg(args, "path"), depth)
	if err != nil {
		return workflow.Result{}, err
	}
	if len(ents) == 0 {
		return workflow.Result{Output: "No files found."}, nil
	}
	var sb strings.Builder
	for i, e := range ents {
		if i == maxListedEntries {
			fmt.Fprintf(&sb, "[%d more entries omitted]\n", len(ents)-i)
			break
		}
		if e.Dir {
			sb.WriteString(e.Path + "/\n")
			continue
		}
		sb.WriteString(e.Path + "\n")
	}
	return workflow.Result{Output: strings.TrimSuffix(sb.String(), "\n")}, nil
}

func (t *Toolset) searchFiles(ctx context.Context, args map[string]any) (workflow.Result, error) {
	matches, err := t.ws.Search(ctx, stringArg(args, "path"), stringArg(args, "regex"), stringArg(args, "file_pattern"), maxSearchMatches+1)
	if err != nil {
		if errors.Is(err, workspace.ErrInvalidPattern) {
			return workflow.Result{}, &ToolError{Code: ErrorCodeInvalidArgument, Message: err.Error(), Retryable: true, SuggestedFixes: []string{"Use RE2 syntax; escape literal parentheses."}}
		}
		return workflow.Result{}, err
	}
	if len(matches) == 0 {
		return workflow.Result{Output: "No matches found."}, nil
	}
	var sb strings.Builder
	for i, m := range matches {
		if i == maxSearchMatches {
			sb.WriteString("[more matches omitted; narrow the search]\n")
			break
		}
		fmt.Fprintf(&sb, "%s:%d: %s\n", m.Path, m.Line, m.Text)
	}
	return workflow.Result{Output: strings.TrimSuffix(sb.String(), "\n")}, nil
}

func (t *Toolset) findFiles(args map[string]any) (workflow.Result, error) {
	paths, err := t.ws.FindByGlob(stringArg(args, "glob"))
	if err != nil {
		return workflow.Result{}, err
	}
	if len(paths) == 0 {
		return workflow.Result{Output: "No files found."}, nil
	}
	if len(paths) > maxListedEntries {
		omitted := len(paths) - maxListedEntries
		paths = append(paths[:maxListedEntries:maxListedEntries], fmt.Sprintf("[%d more files omitted]", omitted))
	}
	return workflow.Result{Output: strings.Join(paths, "\n")}, nil
}

func (t *Toolset) executeCommand(ctx context.Context, args map[string]any) (workflow.Result, error) {
	command := commandFromArgs(args)
	d := t.policy.Decide(command)
	if d.Blocked {
		return workflow.Result{}, &ToolError{Code: ErrorCodePermissionDenied, Message: "Command refused: " + d.Reason}
	}
	if t.commands == nil {
		return workflow.Result{}, newToolError(ErrorCodePermissionDenied, "command execution is not available")
	}
	dir, err := t.ws.Resolve(stringArg(args, "cwd"))
	if err != nil {
		return workflow.Result{}, err
	}

	res, err := t.commands.Run(ctx, terminal.Request{
		Command:          command,
		Dir:              dir,
		Timeout:          t.commandTimeout,
		LongRunningAfter: t.longRunningAfter,
	})
	if err != nil {
		return workflow.Result{}, err
	}
	t.log.Info("command finished", "status", res.Status, "exit_code", res.ExitCode, "duration_ms", res.DurationMs)
	return workflow.Result{Output: formatCommandResult(res)}, nil
}

func formatCommandResult(res terminal.Result) string {
	output := strings.TrimRight(res.Output, "\n")
	if res.Truncated {
		output += "\n[output truncated]"
	}
	var head string
	switch res.Status {
	case terminal.StatusTimeout:
		head = "The command timed out and was interrupted."
	case terminal.StatusNoShellIntegration:
		head = "The command was sent to the terminal, but its exit status could not be read."
	case terminal.StatusLongRunning:
		head = "The command is still running in the background."
	default:
		head = fmt.Sprintf("Exit code: %d", res.ExitCode)
	}
	if strings.TrimSpace(output) == "" {
		return head + "\n(no output)"
	}
	return head + "\nOutput:\n" + output
}

func (t *Toolset) createPlan(args map[string]any) (workflow.Result, error) {
	var sb strings.Builder
	if goal := stringArg(args, "goal"); goal != "" {
		fmt.Fprintf(&sb, "Goal: %s\n\n", goal)
	}
	found := 0
	for _, p := range stringsArg(args, "read") {
		rel, err := t.relPath(p)
		if err != nil {
			fmt.Fprintf(&sb, "<file path=%q error=%q />\n", p, err.Error())
			continue
		}
		content, ok, err := t.ws.Read(rel)
		switch {
		case err != nil:
			fmt.Fprintf(&sb, "<file path=%q error=%q />\n", rel, err.Error())
		case !ok:
			fmt.Fprintf(&sb, "<file path=%q error=\"not found\" />\n", rel)
		default:
			found++
			if len(content) > maxReadBytes {
				content = content[:maxReadBytes]
			}
			fmt.Fprintf(&sb, "<file path=%q>\n%s\n</file>\n", rel, strings.TrimSuffix(content, "\n"))
		}
	}
	if found == 0 {
		return workflow.Result{}, newToolError(ErrorCodeNotFound, "none of the requested files could be read:\n%s", strings.TrimSpace(sb.String()))
	}
	sb.WriteString("\nWrite the plan in a <plan> block.")
	return workflow.Result{Output: sb.String()}, nil
}
