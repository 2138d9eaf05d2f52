package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/floegence/redeven-coder/internal/patch"
	"github.com/floegence/redeven-coder/internal/workspace"
)

// Invocation carries the minimum context required for error classification / recovery hints.
type Invocation struct {
	ToolName string
	Args     map[string]any
	Root     string
}

// ClassifyError maps an execution failure to a ToolError the model can act
// on. Errors that already are ToolErrors pass through.
func ClassifyError(inv Invocation, err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		te.Normalize()
		return te
	}

	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = "Tool failed"
	}
	lower := strings.ToLower(msg)

	out := &ToolError{Code: ErrorCodeUnknown, Message: msg}

	var fe *patch.FileEditError
	switch {
	case errors.As(err, &fe):
		out.Code, out.Retryable, out.SuggestedFixes = fileEditErrorCode(fe)
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(lower, "timed out"):
		out.Code = ErrorCodeTimeout
		out.Retryable = true
		out.SuggestedFixes = []string{"Retry with a smaller scope.", "Increase timeout when safe."}
	case errors.Is(err, context.Canceled):
		out.Code = ErrorCodeCanceled
	case errors.Is(err, fs.ErrPermission) || strings.Contains(lower, "permission denied"):
		out.Code = ErrorCodePermissionDenied
		out.SuggestedFixes = []string{"Use a path the agent is allowed to access."}
	case errors.Is(err, workspace.ErrOutsideRoot):
		out.Code = ErrorCodeOutsideWorkspace
		out.Retryable = true
		out.SuggestedFixes = []string{"Use a path relative to the workspace root."}
	case errors.Is(err, workspace.ErrInvalidPattern):
		out.Code = ErrorCodeInvalidArgument
		out.Retryable = true
		out.SuggestedFixes = []string{"Fix the pattern syntax and retry."}
	case errors.Is(err, fs.ErrNotExist) || strings.Contains(lower, "not found"):
		out.Code = ErrorCodeNotFound
		out.SuggestedFixes = []string{"Verify the path exists.", "Call list_files on the parent directory first."}
	case strings.Contains(lower, "not a directory") || strings.Contains(lower, "is a directory"):
		out.Code = ErrorCodeInvalidPath
		out.Retryable = true
	}

	if normalized := normalizeArgs(inv); len(normalized) > 0 {
		out.NormalizedArgs = normalized
		if out.Code == ErrorCodeInvalidPath || out.Code == ErrorCodeOutsideWorkspace {
			out.Retryable = true
			out.SuggestedFixes = append(out.SuggestedFixes, fmt.Sprintf("Retry with %s.", describeArgs(normalized)))
		}
	}
	out.Normalize()
	return out
}

func fileEditErrorCode(fe *patch.FileEditError) (ErrorCode, bool, []string) {
	switch fe.Kind {
	case patch.ErrorPatch:
		return ErrorCodePatchFailed, true, []string{
			"Call read_file to get the current content.",
			"Copy the lines to replace exactly, including indentation.",
		}
	case patch.ErrorConflict:
		return ErrorCodeConflict, false, []string{"The file was deleted earlier in this task; create it with write_to_file."}
	case patch.ErrorParameter:
		return ErrorCodeInvalidArgument, true, []string{"Use write_to_file to create a new file."}
	default:
		return ErrorCodeUnknown, false, nil
	}
}

func normalizeArgs(inv Invocation) map[string]any {
	if inv.Args == nil {
		return nil
	}
	root := strings.TrimSpace(inv.Root)
	if root == "" {
		return nil
	}
	root = filepath.Clean(root)
	if !filepath.IsAbs(root) {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil
		}
		root = abs
	}

	clone := make(map[string]any, len(inv.Args))
	for k, v := range inv.Args {
		clone[k] = v
	}
	changed := false
	tryNormalizePath := func(key string) {
		raw, _ := clone[key].(string)
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		next, ok := normalizePathValue(raw, root)
		if !ok || next == raw {
			return
		}
		clone[key] = next
		changed = true
	}

	switch strings.TrimSpace(inv.ToolName) {
	case ToolReadFile, ToolWriteToFile, ToolReplaceInFile, ToolApplyDiff, ToolDeleteFile, ToolListFiles, ToolSearchFiles:
		tryNormalizePath("path")
	case ToolExecuteCommand:
		tryNormalizePath("cwd")
	default:
		return nil
	}
	if !changed {
		return nil
	}
	return clone
}

// normalizePathValue rewrites raw as a slash-separated path relative to root
// when it resolves inside root.
func normalizePathValue(raw string, root string) (string, bool) {
	candidate := raw
	if strings.HasPrefix(candidate, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			candidate = filepath.Join(home, strings.TrimPrefix(candidate, "~/"))
		}
	}
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	rel, err := filepath.Rel(root, filepath.Clean(candidate))
	if err != nil {
		return "", false
	}
	rel = filepath.Clean(rel)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func describeArgs(args map[string]any) string {
	parts := make([]string, 0, 2)
	for _, key := range []string{"path", "cwd"} {
		if v, ok := args[key].(string); ok {
			parts = append(parts, fmt.Sprintf("%s=%q", key, v))
		}
	}
	return strings.Join(parts, " ")
}
