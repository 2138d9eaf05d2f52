// Package tagparser lexes an incrementally arriving text stream into text and
// XML-like tag events.
//
// The lexer only recognizes bare tags (`<name>` and `</name>`, optionally with
// trailing blanks before `>`). Anything else, including tags with attributes,
// comments and stray angle brackets, is passed through as literal text. Tag
// recognition survives arbitrary fragment boundaries: a tag may be split across
// any number of Write calls.
package tagparser

import (
	"iter"
	"strings"
)

// EventKind is the event category emitted by the lexer.
type EventKind string

const (
	EventText     EventKind = "text"
	EventTagStart EventKind = "tag_start"
	EventTagEnd   EventKind = "tag_end"
)

// maxTagNameLen bounds how long a candidate tag may be buffered before it is
// given up as text. Model output never needs longer tag names.
const maxTagNameLen = 64

// Event is one lexed unit. Source always holds the verbatim input consumed, so
// concatenating the Source of every event reproduces the input exactly.
type Event struct {
	Kind   EventKind `json:"kind"`
	Name   string    `json:"name,omitempty"`
	Source string    `json:"source"`
}

type tagState int

const (
	stateNone tagState = iota
	stateOpen          // saw '<'
	stateSlash         // saw '</'
	stateName          // inside the tag name
	stateTrail         // blanks after the name
)

// Parser is a streaming tag lexer. The zero value is ready to use. A Parser is
// not safe for concurrent use; one instance serves one message stream.
type Parser struct {
	text    strings.Builder
	pending strings.Builder
	name    strings.Builder
	closing bool
	state   tagState

	out []Event
}

// Write consumes one fragment and returns the events it completed. Text is
// emitted eagerly at fragment end; a partial tag candidate stays buffered.
func (p *Parser) Write(fragment string) []Event {
	for i := 0; i < len(fragment); i++ {
		p.step(fragment[i])
	}
	p.flushText()
	return p.drain()
}

// Finish flushes any buffered partial tag as text. The parser can be reused
// after Finish.
func (p *Parser) Finish() []Event {
	if p.pending.Len() > 0 {
		p.text.WriteString(p.pending.String())
		p.resetTag()
	}
	p.flushText()
	return p.drain()
}

// Parse lexes a finite fragment sequence lazily.
func Parse(fragments iter.Seq[string]) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		var p Parser
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

func (p *Parser) step(c byte) {
	if p.state == stateNone {
		if c == '<' {
			p.state = stateOpen
			p.pending.WriteByte(c)
			return
		}
		p.text.WriteByte(c)
		return
	}

	switch p.state {
	case stateOpen:
		switch {
		case c == '/':
			p.closing = true
			p.state = stateSlash
			p.pending.WriteByte(c)
			return
		case isNameStart(c):
			p.state = stateName
			p.pending.WriteByte(c)
			p.name.WriteByte(c)
			return
		}
	case stateSlash:
		if isNameStart(c) {
			p.state = stateName
			p.pending.WriteByte(c)
			p.name.WriteByte(c)
			return
		}
	case stateName:
		switch {
		case c == '>':
			p.pending.WriteByte(c)
			p.emitTag()
			return
		case c == ' ' || c == '\t':
			p.state = stateTrail
			p.pending.WriteByte(c)
			return
		case isNameChar(c) && p.name.Len() < maxTagNameLen:
			p.pending.WriteByte(c)
			p.name.WriteByte(c)
			return
		}
	case stateTrail:
		switch c {
		case '>':
			p.pending.WriteByte(c)
			p.emitTag()
			return
		case ' ', '\t':
			if p.pending.Len() < maxTagNameLen*2 {
				p.pending.WriteByte(c)
				return
			}
		}
	}

	// Not a tag: the candidate degrades to text and the byte is re-examined.
	p.text.WriteString(p.pending.String())
	p.resetTag()
	p.step(c)
}

func (p *Parser) emitTag() {
	p.flushText()
	kind := EventTagStart
	if p.closing {
		kind = EventTagEnd
	}
	p.out = append(p.out, Event{Kind: kind, Name: p.name.String(), Source: p.pending.String()})
	p.resetTag()
}

func (p *Parser) resetTag() {
	p.pending.Reset()
	p.name.Reset()
	p.closing = false
	p.state = stateNone
}

func (p *Parser) flushText() {
	if p.text.Len() == 0 {
		return
	}
	s := p.text.String()
	p.text.Reset()
	p.out = append(p.out, Event{Kind: EventText, Source: s})
}

func (p *Parser) drain() []Event {
	if len(p.out) == 0 {
		return nil
	}
	out := p.out
	p.out = nil
	return out
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || c == '-' || c == '.' || (c >= '0' && c <= '9')
}
