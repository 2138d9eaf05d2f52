package tools

import (
	"fmt"
	"strings"
)

// ErrorCode is a stable, machine-readable tool error code.
type ErrorCode string

const (
	ErrorCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrorCodeInvalidPath      ErrorCode = "INVALID_PATH"
	ErrorCodeOutsideWorkspace ErrorCode = "OUTSIDE_WORKSPACE"
	ErrorCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrorCodePatchFailed      ErrorCode = "PATCH_FAILED"
	ErrorCodeConflict         ErrorCode = "CONFLICT"
	ErrorCodeInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	ErrorCodeTimeout          ErrorCode = "TIMEOUT"
	ErrorCodeCanceled         ErrorCode = "CANCELED"
	ErrorCodeUnknown          ErrorCode = "UNKNOWN"
)

// ToolError is an execution error: the arguments were well-formed but the
// action failed. It is reported back to the model as the tool result.
type ToolError struct {
	Code           ErrorCode      `json:"code"`
	Message        string         `json:"message"`
	Retryable      bool           `json:"retryable,omitempty"`
	SuggestedFixes []string       `json:"suggested_fixes,omitempty"`
	NormalizedArgs map[string]any `json:"normalized_args,omitempty"`
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.SuggestedFixes) == 0 {
		return e.Message
	}
	return e.Message + "\nSuggestions:\n- " + strings.Join(e.SuggestedFixes, "\n- ")
}

func (e *ToolError) ErrorCode() string {
	if e == nil {
		return ""
	}
	return string(e.Code)
}

func (e *ToolError) Normalize() {
	if e == nil {
		return
	}
	e.Message = strings.TrimSpace(e.Message)
	if e.Message == "" {
		e.Message = "Tool failed"
	}
	if e.Code == "" {
		e.Code = ErrorCodeUnknown
	}
	if len(e.SuggestedFixes) > 0 {
		out := make([]string, 0, len(e.SuggestedFixes))
		seen := make(map[string]struct{}, len(e.SuggestedFixes))
		for _, it := range e.SuggestedFixes {
			v := strings.TrimSpace(it)
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
		e.SuggestedFixes = out
	}
	if len(e.NormalizedArgs) == 0 {
		e.NormalizedArgs = nil
	}
}

func newToolError(code ErrorCode, format string, args ...any) *ToolError {
	e := &ToolError{Code: code, Message: fmt.Sprintf(format, args...)}
	e.Normalize()
	return e
}

// FatalError is a failure the agent cannot recover from inside the
// conversation, such as a missing workspace root. It ends the turn.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *FatalError) Fatal() bool { return true }

// ParamType is the schema type of a tool parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamBoolean ParamType = "boolean"
	ParamArray   ParamType = "array"
)

// Param describes one tool parameter.
type Param struct {
	Name        string
	Type        ParamType
	Required    bool
	Description string
	// Verbatim params keep their whitespace; only the newline right after
	// the opening tag is stripped.
	Verbatim bool
}

// Definition describes a built-in tool.
type Definition struct {
	Name             string
	Description      string
	Params           []Param
	Mutating         bool
	RequiresApproval bool
	// Finishes marks tools whose result ends the roundtrip.
	Finishes bool
}
