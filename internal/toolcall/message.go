package toolcall

import (
	"encoding/json"
	"errors"
	"strings"
)

// ChunkType is the assistant message chunk category.
type ChunkType string

const (
	ChunkText      ChunkType = "text"
	ChunkContent   ChunkType = "content"
	ChunkToolCall  ChunkType = "tool_call"
	ChunkReasoning ChunkType = "reasoning"
)

// ToolCallStatus is the lifecycle of a tool-call chunk.
type ToolCallStatus string

const (
	ToolCallGenerating      ToolCallStatus = "generating"
	ToolCallWaitingValidate ToolCallStatus = "waiting_validate"
	ToolCallValidateError   ToolCallStatus = "validate_error"
	ToolCallValidated       ToolCallStatus = "validated"
)

// ParamValue is a raw parameter value: a scalar string, or a list once the
// same parameter tag appeared more than once.
type ParamValue struct {
	Values []string
	List   bool
}

// Scalar returns the value as a single string. For lists it returns the last
// element.
func (v ParamValue) Scalar() string {
	if len(v.Values) == 0 {
		return ""
	}
	return v.Values[len(v.Values)-1]
}

// Strings returns every element.
func (v ParamValue) Strings() []string {
	return append([]string(nil), v.Values...)
}

func (v ParamValue) MarshalJSON() ([]byte, error) {
	if v.List {
		vals := v.Values
		if vals == nil {
			vals = []string{}
		}
		return json.Marshal(vals)
	}
	return json.Marshal(v.Scalar())
}

func (v *ParamValue) UnmarshalJSON(b []byte) error {
	if v == nil {
		return errors.New("nil ParamValue")
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*v = ParamValue{Values: []string{s}}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return errors.New("param value must be a string or an array of strings")
	}
	*v = ParamValue{Values: list, List: true}
	return nil
}

// ToolCallChunk accumulates one tool call as it streams.
type ToolCallChunk struct {
	Source   string                `json:"source"`
	ToolName string                `json:"tool_name"`
	Params   map[string]ParamValue `json:"params"`
	Status   ToolCallStatus        `json:"status"`
	Error    string                `json:"error,omitempty"`
}

// Param returns the raw value of a parameter.
func (c *ToolCallChunk) Param(name string) (ParamValue, bool) {
	if c == nil || c.Params == nil {
		return ParamValue{}, false
	}
	v, ok := c.Params[name]
	return v, ok
}

// Clone returns a deep copy.
func (c *ToolCallChunk) Clone() *ToolCallChunk {
	if c == nil {
		return nil
	}
	out := *c
	out.Params = make(map[string]ParamValue, len(c.Params))
	for k, v := range c.Params {
		out.Params[k] = ParamValue{Values: v.Strings(), List: v.List}
	}
	return &out
}

func (c *ToolCallChunk) startParam(name string) {
	if c.Params == nil {
		c.Params = map[string]ParamValue{}
	}
	cur, ok := c.Params[name]
	if !ok {
		c.Params[name] = ParamValue{Values: []string{""}}
	} else {
		c.Params[name] = ParamValue{Values: append(cur.Values, ""), List: true}
	}
}

func (c *ToolCallChunk) appendParam(name string, text string) {
	if c.Params == nil {
		c.Params = map[string]ParamValue{}
	}
	cur, ok := c.Params[name]
	if !ok || len(cur.Values) == 0 {
		c.startParam(name)
		cur = c.Params[name]
	}
	cur.Values[len(cur.Values)-1] += text
	c.Params[name] = cur
}

// Chunk is one piece of an assistant message.
type Chunk struct {
	Type     ChunkType      `json:"type"`
	Source   string         `json:"source,omitempty"`
	Text     string         `json:"text,omitempty"`
	Tag      string         `json:"tag,omitempty"`
	Closed   bool           `json:"closed,omitempty"`
	ToolCall *ToolCallChunk `json:"tool_call,omitempty"`
}

// AssistantMessage is the assembled model response.
type AssistantMessage struct {
	UUID   string  `json:"uuid"`
	Chunks []Chunk `json:"chunks"`

	// Truncated is set when output after the first tool call was discarded.
	Truncated bool `json:"truncated,omitempty"`
}

// Source reconstructs the raw model text of the message. Reasoning chunks are
// out-of-band and excluded.
func (m *AssistantMessage) Source() string {
	if m == nil {
		return ""
	}
	var sb strings.Builder
	for _, c := range m.Chunks {
		switch c.Type {
		case ChunkToolCall:
			if c.ToolCall != nil {
				sb.WriteString(c.ToolCall.Source)
			}
		case ChunkReasoning:
		default:
			sb.WriteString(c.Source)
		}
	}
	return sb.String()
}

// ToolCall returns the first tool-call chunk and its index.
func (m *AssistantMessage) ToolCall() (*ToolCallChunk, int) {
	if m == nil {
		return nil, -1
	}
	for i := range m.Chunks {
		if m.Chunks[i].Type == ChunkToolCall && m.Chunks[i].ToolCall != nil {
			return m.Chunks[i].ToolCall, i
		}
	}
	return nil, -1
}

// ReplaceToolCall swaps the tool-call chunk at idx wholesale.
func (m *AssistantMessage) ReplaceToolCall(idx int, next *ToolCallChunk) {
	if m == nil || idx < 0 || idx >= len(m.Chunks) || m.Chunks[idx].Type != ChunkToolCall {
		return
	}
	m.Chunks[idx].ToolCall = next
}

// Content returns the text of the first closed content region with the tag.
func (m *AssistantMessage) Content(tag string) (string, bool) {
	if m == nil {
		return "", false
	}
	for _, c := range m.Chunks {
		if c.Type == ChunkContent && c.Tag == tag && c.Closed {
			return c.Text, true
		}
	}
	return "", false
}

// PlainText returns the concatenated root-level text.
func (m *AssistantMessage) PlainText() string {
	if m == nil {
		return ""
	}
	var sb strings.Builder
	for _, c := range m.Chunks {
		if c.Type == ChunkText {
			sb.WriteString(c.Text)
		}
	}
	return sb.String()
}

// AppendReasoning records an out-of-band reasoning fragment.
func (m *AssistantMessage) AppendReasoning(text string) {
	if text == "" {
		return
	}
	if n := len(m.Chunks); n > 0 && m.Chunks[n-1].Type == ChunkReasoning {
		m.Chunks[n-1].Text += text
		return
	}
	m.Chunks = append(m.Chunks, Chunk{Type: ChunkReasoning, Text: text})
}

// Apply folds one parser event into the message.
func (m *AssistantMessage) Apply(ev Event) {
	last := func() *Chunk {
		if len(m.Chunks) == 0 {
			return nil
		}
		return &m.Chunks[len(m.Chunks)-1]
	}
	switch ev.Kind {
	case EventText:
		if c := last(); c != nil && c.Type == ChunkText {
			c.Text += ev.Text
			c.Source += ev.Source
			return
		}
		m.Chunks = append(m.Chunks, Chunk{Type: ChunkText, Text: ev.Text, Source: ev.Source})
	case EventContentStart:
		m.Chunks = append(m.Chunks, Chunk{Type: ChunkContent, Tag: ev.Tag, Source: ev.Source})
	case EventContentDelta:
		if c := last(); c != nil && c.Type == ChunkContent && !c.Closed {
			c.Text += ev.Text
			c.Source += ev.Source
		}
	case EventContentEnd:
		if c := last(); c != nil && c.Type == ChunkContent && !c.Closed {
			c.Source += ev.Source
			c.Closed = !ev.Incomplete
		}
	case EventToolStart:
		m.Chunks = append(m.Chunks, Chunk{Type: ChunkToolCall, ToolCall: &ToolCallChunk{
			Source:   ev.Source,
			ToolName: ev.Tool,
			Params:   map[string]ParamValue{},
			Status:   ToolCallGenerating,
		}})
	case EventToolParameterStart, EventToolDelta, EventToolEnd:
		c := last()
		if c == nil || c.Type != ChunkToolCall || c.ToolCall == nil {
			return
		}
		tc := c.ToolCall
		tc.Source += ev.Source
		switch ev.Kind {
		case EventToolParameterStart:
			tc.startParam(ev.Param)
		case EventToolDelta:
			tc.appendParam(ev.Param, ev.Text)
		case EventToolEnd:
			// A call cut off by the end of the stream stays generating.
			if !ev.Incomplete {
				tc.Status = ToolCallWaitingValidate
			}
		}
	}
}

// Assembler feeds a fragment stream into one assistant message and stops once
// the first tool call has closed; anything after it is discarded.
type Assembler struct {
	Message *AssistantMessage

	parser *Parser
	done   bool
}

// NewAssembler returns an assembler for a new message.
func NewAssembler(uuid string, tools []string, contentTags []string) *Assembler {
	return &Assembler{
		Message: &AssistantMessage{UUID: uuid},
		parser:  NewParser(tools, contentTags),
	}
}

// Done reports whether a tool call has closed and further input is ignored.
func (a *Assembler) Done() bool {
	return a.done
}

// Write applies one text fragment and returns the events applied.
func (a *Assembler) Write(fragment string) []Event {
	if a.done {
		if fragment != "" {
			a.Message.Truncated = true
		}
		return nil
	}
	return a.apply(a.parser.Write(fragment))
}

// Finish flushes the parser at stream end.
func (a *Assembler) Finish() []Event {
	if a.done {
		return nil
	}
	return a.apply(a.parser.Finish())
}

func (a *Assembler) apply(events []Event) []Event {
	for i, ev := range events {
		a.Message.Apply(ev)
		if ev.Kind == EventToolEnd {
			a.done = true
			if i+1 < len(events) {
				a.Message.Truncated = true
			}
			return events[:i+1]
		}
	}
	return events
}
