package tools

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/floegence/redeven-coder/internal/toolcall"
	"github.com/floegence/redeven-coder/internal/workflow"
)

// ExtractArgs converts raw tag-parsed parameter strings into the types the
// tool schema declares. Values that do not convert are passed through
// unchanged so schema validation reports them. Unknown parameters are
// dropped.
func ExtractArgs(def Definition, tc *toolcall.ToolCallChunk) map[string]any {
	out := map[string]any{}
	if tc == nil {
		return out
	}
	for _, p := range def.Params {
		raw, ok := tc.Param(p.Name)
		if !ok {
			continue
		}
		switch p.Type {
		case ParamArray:
			var items []any
			for _, v := range raw.Strings() {
				if s := cleanParam(p, v); s != "" {
					items = append(items, s)
				}
			}
			if len(items) > 0 {
				out[p.Name] = items
			}
			continue
		}
		if raw.List {
			// A repeated scalar: leave it as a list for the type check.
			items := make([]any, 0, len(raw.Values))
			for _, v := range raw.Values {
				items = append(items, cleanParam(p, v))
			}
			out[p.Name] = items
			continue
		}
		s := cleanParam(p, raw.Scalar())
		if s == "" && !p.Verbatim {
			continue
		}
		switch p.Type {
		case ParamInteger:
			if n, err := strconv.Atoi(s); err == nil {
				out[p.Name] = n
			} else {
				out[p.Name] = s
			}
		case ParamBoolean:
			if b, err := strconv.ParseBool(strings.ToLower(s)); err == nil {
				out[p.Name] = b
			} else {
				out[p.Name] = s
			}
		default:
			out[p.Name] = s
		}
	}
	return out
}

func cleanParam(p Param, v string) string {
	if !p.Verbatim {
		return strings.TrimSpace(v)
	}
	v = strings.TrimPrefix(v, "\r\n")
	return strings.TrimPrefix(v, "\n")
}

var (
	schemaMu    sync.Mutex
	schemaCache = map[string]*gojsonschema.Schema{}
)

func compiledSchema(def Definition) (*gojsonschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	if s, ok := schemaCache[def.Name]; ok {
		return s, nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.Schema()))
	if err != nil {
		return nil, err
	}
	schemaCache[def.Name] = s
	return s, nil
}

// ValidateArgs checks args against the tool schema and classifies the first
// violation.
func ValidateArgs(def Definition, args map[string]any) *workflow.ValidationError {
	schema, err := compiledSchema(def)
	if err != nil {
		return &workflow.ValidationError{Kind: workflow.ValidationUnknown, Message: "invalid tool schema: " + err.Error()}
	}
	res, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return &workflow.ValidationError{Kind: workflow.ValidationUnknown, Message: err.Error()}
	}
	if res.Valid() {
		return nil
	}
	return classifyResultError(res.Errors()[0])
}

func classifyResultError(e gojsonschema.ResultError) *workflow.ValidationError {
	switch e.Type() {
	case "required":
		param, _ := e.Details()["property"].(string)
		return &workflow.ValidationError{Kind: workflow.ValidationRequired, Param: param, Message: e.Description()}
	case "invalid_type":
		return &workflow.ValidationError{
			Kind:    workflow.ValidationType,
			Param:   fieldName(e.Field()),
			Message: fmt.Sprintf("expected %v, given %v", e.Details()["expected"], e.Details()["given"]),
		}
	default:
		return &workflow.ValidationError{Kind: workflow.ValidationUnknown, Param: fieldName(e.Field()), Message: e.Description()}
	}
}

func fieldName(field string) string {
	if field == "(root)" {
		return ""
	}
	// Nested fields render as "diff.0".
	name, _, _ := strings.Cut(field, ".")
	return name
}
