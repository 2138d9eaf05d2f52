package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationKind classifies the first schema violation of a tool call.
type ValidationKind string

const (
	ValidationRequired ValidationKind = "required"
	ValidationType     ValidationKind = "type"
	ValidationUnknown  ValidationKind = "unknown"
)

// ValidationError reports tool arguments that do not satisfy the tool schema.
type ValidationError struct {
	Kind    ValidationKind `json:"kind"`
	Param   string         `json:"param,omitempty"`
	Message string         `json:"message"`
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Param == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Param, e.Message)
}

// Describe renders the error as an instruction for the model.
func (e *ValidationError) Describe(toolName string) string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case ValidationRequired:
		return fmt.Sprintf("The %s tool call is missing a value for the required parameter '%s'. Retry with a complete tool call.", toolName, e.Param)
	case ValidationType:
		return fmt.Sprintf("The parameter '%s' of the %s tool call has the wrong type: %s. Retry with a corrected value.", e.Param, toolName, strings.TrimSpace(e.Message))
	default:
		msg := strings.TrimSpace(e.Message)
		if e.Param != "" {
			msg = fmt.Sprintf("parameter '%s': %s", e.Param, msg)
		}
		return fmt.Sprintf("The %s tool call is invalid: %s. Retry with a corrected tool call.", toolName, msg)
	}
}

// fatal is implemented by errors that must abort the agent loop.
type fatal interface {
	Fatal() bool
}

// IsFatal reports whether err, or anything it wraps, is fatal.
func IsFatal(err error) bool {
	var f fatal
	return errors.As(err, &f) && f.Fatal()
}

// ErrorCodeInterrupted marks a resumed call whose earlier execution never
// reported back.
const ErrorCodeInterrupted = "INTERRUPTED"

// coder is implemented by execution errors carrying a stable code.
type coder interface {
	ErrorCode() string
}

func errorCode(err error) string {
	var c coder
	if errors.As(err, &c) {
		if code := strings.TrimSpace(c.ErrorCode()); code != "" {
			return code
		}
	}
	return "UNKNOWN"
}
