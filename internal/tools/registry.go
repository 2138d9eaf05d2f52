package tools

import (
	"fmt"
	"strings"
)

const (
	ToolReadFile            = "read_file"
	ToolWriteToFile         = "write_to_file"
	ToolReplaceInFile       = "replace_in_file"
	ToolApplyDiff           = "apply_diff"
	ToolDeleteFile          = "delete_file"
	ToolListFiles           = "list_files"
	ToolSearchFiles         = "search_files"
	ToolFindFiles           = "find_files"
	ToolExecuteCommand      = "execute_command"
	ToolCreatePlan          = "create_plan"
	ToolAskFollowupQuestion = "ask_followup_question"
	ToolAttemptCompletion   = "attempt_completion"
)

// Content tags recognized at root level of a model response.
const (
	ContentThinking = "thinking"
	ContentPlan     = "plan"
)

var builtinDefinitions = []Definition{
	{
		Name:        ToolReadFile,
		Description: "Read the contents of a file in the workspace.",
		Params:      []Param{{Name: "path", Type: ParamString, Required: true, Description: "File path relative to the workspace root."}},
	},
	{
		Name:        ToolWriteToFile,
		Description: "Create a file or overwrite it with the complete new content.",
		Params: []Param{
			{Name: "path", Type: ParamString, Required: true, Description: "File path relative to the workspace root."},
			{Name: "content", Type: ParamString, Required: true, Verbatim: true, Description: "The complete file content."},
		},
		Mutating:         true,
		RequiresApproval: true,
	},
	{
		Name:        ToolReplaceInFile,
		Description: "Edit a file with SEARCH/REPLACE blocks. Each SEARCH section must match existing lines.",
		Params: []Param{
			{Name: "path", Type: ParamString, Required: true, Description: "File path relative to the workspace root."},
			{Name: "diff", Type: ParamArray, Required: true, Verbatim: true, Description: "One or more blocks:\n<<<<<<< SEARCH\nexisting lines\n=======\nnew lines\n>>>>>>> REPLACE\nRepeat the tag for more patches."},
		},
		Mutating:         true,
		RequiresApproval: true,
	},
	{
		Name:        ToolApplyDiff,
		Description: "Edit a file with unified diff hunks.",
		Params: []Param{
			{Name: "path", Type: ParamString, Required: true, Description: "File path relative to the workspace root."},
			{Name: "diff", Type: ParamArray, Required: true, Verbatim: true, Description: "Unified diff hunks starting with @@. Repeat the tag for more patches."},
		},
		Mutating:         true,
		RequiresApproval: true,
	},
	{
		Name:             ToolDeleteFile,
		Description:      "Delete a file.",
		Params:           []Param{{Name: "path", Type: ParamString, Required: true, Description: "File path relative to the workspace root."}},
		Mutating:         true,
		RequiresApproval: true,
	},
	{
		Name:        ToolListFiles,
		Description: "List files and directories.",
		Params: []Param{
			{Name: "path", Type: ParamString, Required: true, Description: "Directory path relative to the workspace root."},
			{Name: "recursive", Type: ParamBoolean, Description: "true to list nested directories."},
			{Name: "depth", Type: ParamInteger, Description: "Maximum depth when recursive."},
		},
	},
	{
		Name:        ToolSearchFiles,
		Description: "Search file contents with a regular expression.",
		Params: []Param{
			{Name: "path", Type: ParamString, Required: true, Description: "Directory to search."},
			{Name: "regex", Type: ParamString, Required: true, Description: "RE2 regular expression."},
			{Name: "file_pattern", Type: ParamString, Description: "Glob filter such as *.go."},
		},
	},
	{
		Name:        ToolFindFiles,
		Description: "Find files by glob pattern. ** matches any number of directories.",
		Params:      []Param{{Name: "glob", Type: ParamString, Required: true, Description: "Glob relative to the workspace root."}},
	},
	{
		Name:        ToolExecuteCommand,
		Description: "Run a shell command in the workspace.",
		Params: []Param{
			{Name: "command", Type: ParamString, Required: true, Description: "The shell command."},
			{Name: "cwd", Type: ParamString, Description: "Working directory relative to the workspace root."},
		},
	},
	{
		Name:        ToolCreatePlan,
		Description: "Gather files needed to plan a change. Returns their contents.",
		Params: []Param{
			{Name: "read", Type: ParamArray, Required: true, Description: "A file to read. Repeat the tag for more files."},
			{Name: "goal", Type: ParamString, Description: "What the plan should achieve."},
		},
	},
	{
		Name:        ToolAskFollowupQuestion,
		Description: "Ask the user a question when required information is missing.",
		Params:      []Param{{Name: "question", Type: ParamString, Required: true, Verbatim: true, Description: "The question."}},
		Finishes:    true,
	},
	{
		Name:        ToolAttemptCompletion,
		Description: "Present the final result once the task is done.",
		Params: []Param{
			{Name: "result", Type: ParamString, Required: true, Verbatim: true, Description: "Summary of the result."},
			{Name: "command", Type: ParamString, Description: "A command the user can run to see the result."},
		},
		Finishes: true,
	},
}

// Definitions returns the built-in tools in catalogue order.
func Definitions() []Definition {
	return append([]Definition(nil), builtinDefinitions...)
}

func LookupDefinition(toolName string) (Definition, bool) {
	name := strings.TrimSpace(toolName)
	if name == "" {
		return Definition{}, false
	}
	for _, def := range builtinDefinitions {
		if def.Name == name {
			return def, true
		}
	}
	return Definition{}, false
}

func RequiresApproval(toolName string) bool {
	def, ok := LookupDefinition(toolName)
	return ok && def.RequiresApproval
}

func IsMutating(toolName string) bool {
	def, ok := LookupDefinition(toolName)
	return ok && def.Mutating
}

func IsMutatingForInvocation(toolName string, args map[string]any) bool {
	if strings.TrimSpace(toolName) == ToolExecuteCommand {
		return ClassifyCommandRisk(commandFromArgs(args)) != CommandRiskReadonly
	}
	return IsMutating(toolName)
}

// Schema returns the JSON schema of the tool's arguments.
func (d Definition) Schema() map[string]any {
	props := make(map[string]any, len(d.Params))
	required := []any{}
	for _, p := range d.Params {
		prop := map[string]any{"type": string(p.Type)}
		if p.Type == ParamArray {
			prop["items"] = map[string]any{"type": "string"}
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// Usage renders the tool for the system prompt.
func (d Definition) Usage() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\n%s\nParameters:\n", d.Name, d.Description)
	for _, p := range d.Params {
		req := "optional"
		if p.Required {
			req = "required"
		}
		fmt.Fprintf(&sb, "- %s (%s, %s): %s\n", p.Name, p.Type, req, p.Description)
	}
	fmt.Fprintf(&sb, "Usage:\n<%s>\n", d.Name)
	for _, p := range d.Params {
		fmt.Fprintf(&sb, "<%s>...</%s>\n", p.Name, p.Name)
	}
	fmt.Fprintf(&sb, "</%s>\n", d.Name)
	return sb.String()
}
