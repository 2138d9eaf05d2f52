// Package toolcall turns a model's free-form text stream into plain text,
// content-region and tool-call events, and assembles those events into an
// assistant message.
package toolcall

import (
	"iter"
	"strings"

	"github.com/floegence/redeven-coder/internal/tagparser"
)

// EventKind is the domain event category.
type EventKind string

const (
	EventText               EventKind = "text"
	EventContentStart       EventKind = "content_start"
	EventContentDelta       EventKind = "content_delta"
	EventContentEnd         EventKind = "content_end"
	EventToolStart          EventKind = "tool_start"
	EventToolParameterStart EventKind = "tool_parameter_start"
	EventToolDelta          EventKind = "tool_delta"
	EventToolEnd            EventKind = "tool_end"
)

// Event is one parsed unit.
//
// Source is the verbatim input the event consumed. Text is the semantic
// payload of text and delta events. Bytes that belong to a tool call but carry
// no meaning (closing parameter tags, whitespace between parameters) are
// carried in the Source of the next parameter start or the tool end.
type Event struct {
	Kind   EventKind `json:"kind"`
	Source string    `json:"source"`
	Text   string    `json:"text,omitempty"`
	Tag    string    `json:"tag,omitempty"`
	Tool   string    `json:"tool,omitempty"`
	Param  string    `json:"param,omitempty"`

	// Incomplete marks an end event synthesized because the stream ended with
	// the region still open.
	Incomplete bool `json:"incomplete,omitempty"`
}

// Parser classifies lexer events by nesting context. One Parser serves one
// message; it is not safe for concurrent use.
type Parser struct {
	tools       map[string]struct{}
	contentTags map[string]struct{}

	lexer   tagparser.Parser
	stack   []string
	pending strings.Builder
	out     []Event
}

// NewParser returns a parser that recognizes the given tool names and content
// tags at root level.
func NewParser(tools []string, contentTags []string) *Parser {
	p := &Parser{
		tools:       make(map[string]struct{}, len(tools)),
		contentTags: make(map[string]struct{}, len(contentTags)),
	}
	for _, name := range tools {
		p.tools[strings.TrimSpace(name)] = struct{}{}
	}
	for _, name := range contentTags {
		p.contentTags[strings.TrimSpace(name)] = struct{}{}
	}
	return p
}

// Parse runs a fresh parser over a finite fragment sequence.
func Parse(tools []string, contentTags []string, fragments iter.Seq[string]) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		p := NewParser(tools, contentTags)
		for fragment := range fragments {
			for _, ev := range p.Write(fragment) {
				if !yield(ev) {
					return
				}
			}
		}
		for _, ev := range p.Finish() {
			if !yield(ev) {
				return
			}
		}
	}
}

// Nesting reports the current nesting class.
func (p *Parser) Nesting() Nesting {
	return nestingOf(p.stack, p.isTool)
}

// Write consumes one fragment and returns completed events.
func (p *Parser) Write(fragment string) []Event {
	for _, ev := range p.lexer.Write(fragment) {
		p.handle(ev)
	}
	return p.drain()
}

// Finish flushes the lexer and closes any region left open.
func (p *Parser) Finish() []Event {
	for _, ev := range p.lexer.Finish() {
		p.handle(ev)
	}
	switch n := p.Nesting().(type) {
	case Root:
	case InsideContent:
		p.emit(Event{Kind: EventContentEnd, Tag: n.Tag, Incomplete: true})
	case InsideTool:
		p.emit(Event{Kind: EventToolEnd, Tool: n.Tool, Incomplete: true})
	case InsideToolParameter:
		p.emit(Event{Kind: EventToolEnd, Tool: n.Tool, Incomplete: true})
	}
	p.stack = p.stack[:0]
	return p.drain()
}

func (p *Parser) isTool(name string) bool {
	_, ok := p.tools[name]
	return ok
}

func (p *Parser) isContentTag(name string) bool {
	_, ok := p.contentTags[name]
	return ok
}

func (p *Parser) handle(ev tagparser.Event) {
	switch ev.Kind {
	case tagparser.EventText:
		p.literal(ev.Source)
	case tagparser.EventTagStart:
		p.tagStart(ev)
	case tagparser.EventTagEnd:
		p.tagEnd(ev)
	}
}

func (p *Parser) literal(src string) {
	switch n := p.Nesting().(type) {
	case Root:
		p.emit(Event{Kind: EventText, Source: src, Text: src})
	case InsideContent:
		p.emit(Event{Kind: EventContentDelta, Source: src, Text: src, Tag: n.Tag})
	case InsideTool:
		p.pending.WriteString(src)
	case InsideToolParameter:
		p.emit(Event{Kind: EventToolDelta, Source: src, Text: src, Tool: n.Tool, Param: n.Param})
	}
}

func (p *Parser) tagStart(ev tagparser.Event) {
	switch n := p.Nesting().(type) {
	case Root:
		switch {
		case p.isTool(ev.Name):
			p.stack = append(p.stack, ev.Name)
			p.emit(Event{Kind: EventToolStart, Source: ev.Source, Tool: ev.Name})
		case p.isContentTag(ev.Name):
			p.stack = append(p.stack, ev.Name)
			p.emit(Event{Kind: EventContentStart, Source: ev.Source, Tag: ev.Name})
		default:
			p.literal(ev.Source)
		}
	case InsideTool:
		p.stack = append(p.stack, ev.Name)
		p.emit(Event{Kind: EventToolParameterStart, Source: ev.Source, Tool: n.Tool, Param: ev.Name})
	case InsideContent, InsideToolParameter:
		p.literal(ev.Source)
	}
}

func (p *Parser) tagEnd(ev tagparser.Event) {
	if len(p.stack) == 0 || p.stack[len(p.stack)-1] != ev.Name {
		p.literal(ev.Source)
		return
	}
	n := p.Nesting()
	p.stack = p.stack[:len(p.stack)-1]
	switch n := n.(type) {
	case InsideContent:
		p.emit(Event{Kind: EventContentEnd, Source: ev.Source, Tag: n.Tag})
	case InsideTool:
		p.emit(Event{Kind: EventToolEnd, Source: ev.Source, Tool: n.Tool})
	case InsideToolParameter:
		p.pending.WriteString(ev.Source)
	case Root:
		// unreachable: the stack was non-empty
	}
}

// emit appends an event, folding source held back inside a tool body into the
// next parameter start or tool end.
func (p *Parser) emit(ev Event) {
	if (ev.Kind == EventToolParameterStart || ev.Kind == EventToolEnd) && p.pending.Len() > 0 {
		ev.Source = p.pending.String() + ev.Source
		p.pending.Reset()
	}
	p.out = append(p.out, ev)
}

func (p *Parser) drain() []Event {
	if len(p.out) == 0 {
		return nil
	}
	out := p.out
	p.out = nil
	return out
}
