package toolcall

import "fmt"

// Nesting is the closed set of contexts the stream can be in. Only the four
// variants declared in this file implement it.
type Nesting interface {
	isNesting()
}

// Root is top-level assistant text.
type Root struct{}

// InsideContent is a content region such as a reasoning block.
type InsideContent struct {
	Tag string
}

// InsideTool is a tool call body outside of any parameter.
type InsideTool struct {
	Tool string
}

// InsideToolParameter is the value region of one tool parameter.
type InsideToolParameter struct {
	Tool  string
	Param string
}

func (Root) isNesting()                {}
func (InsideContent) isNesting()       {}
func (InsideTool) isNesting()          {}
func (InsideToolParameter) isNesting() {}

// nestingOf derives the nesting class from the open-tag stack. The parser only
// ever pushes a tool or content tag at root and a parameter inside a tool, so
// the stack never holds more than two entries.
func nestingOf(stack []string, isTool func(string) bool) Nesting {
	switch len(stack) {
	case 0:
		return Root{}
	case 1:
		if isTool(stack[0]) {
			return InsideTool{Tool: stack[0]}
		}
		return InsideContent{Tag: stack[0]}
	case 2:
		return InsideToolParameter{Tool: stack[0], Param: stack[1]}
	default:
		panic(fmt.Sprintf("toolcall: invalid nesting depth %d", len(stack)))
	}
}
