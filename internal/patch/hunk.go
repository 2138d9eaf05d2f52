package patch

import (
	"fmt"
	"regexp"
	"strings"
)

// ChangeKind classifies one hunk line.
type ChangeKind string

const (
	ChangeKept     ChangeKind = "kept"
	ChangeInserted ChangeKind = "inserted"
	ChangeDeleted  ChangeKind = "deleted"
)

// Change is one line of a hunk.
type Change struct {
	Kind ChangeKind `json:"kind"`
	Text string     `json:"text"`
}

// Hunk is one unified-diff change block.
type Hunk struct {
	Changes []Change `json:"changes"`
}

var hunkHeaderRE = regexp.MustCompile(`^@@\s*-?\d*(?:,\d+)?\s*\+?\d*(?:,\d+)?\s*@@`)

var diffHeaderPrefixes = []string{
	"diff --git ",
	"index ",
	"--- ",
	"+++ ",
	"new file mode ",
	"deleted file mode ",
	"similarity index ",
	"rename from ",
	"rename to ",
}

// ParseHunks parses unified-diff text into hunks. It tolerates missing file
// headers, missing or wrong `@@` line numbers, and context lines that lost
// their leading space.
func ParseHunks(diffText string) ([]Hunk, error) {
	var (
		out     []Hunk
		cur     []Change
		started bool
	)
	flush := func() {
		for len(cur) > 0 && cur[len(cur)-1].Kind == ChangeKept && cur[len(cur)-1].Text == "" {
			cur = cur[:len(cur)-1]
		}
		if hasEdits(cur) {
			out = append(out, Hunk{Changes: cur})
		}
		cur = nil
	}
	for _, line := range splitPatchLines(diffText) {
		if hunkHeaderRE.MatchString(line) || strings.TrimSpace(line) == "@@" {
			flush()
			started = true
			continue
		}
		if !started && isDiffHeader(line) {
			continue
		}
		if line == "" {
			if started {
				cur = append(cur, Change{Kind: ChangeKept})
			}
			continue
		}
		switch line[0] {
		case '+':
			cur = append(cur, Change{Kind: ChangeInserted, Text: line[1:]})
		case '-':
			cur = append(cur, Change{Kind: ChangeDeleted, Text: line[1:]})
		case ' ':
			cur = append(cur, Change{Kind: ChangeKept, Text: line[1:]})
		case '\\':
			// "\ No newline at end of file"
			continue
		default:
			cur = append(cur, Change{Kind: ChangeKept, Text: line})
		}
		started = true
	}
	flush()
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no hunks with changes found", ErrMalformed)
	}
	return out, nil
}

func isDiffHeader(line string) bool {
	for _, p := range diffHeaderPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

func hasEdits(changes []Change) bool {
	for _, c := range changes {
		if c.Kind != ChangeKept {
			return true
		}
	}
	return false
}

func (h Hunk) headLen() int {
	n := 0
	for n < len(h.Changes) && h.Changes[n].Kind == ChangeKept {
		n++
	}
	return n
}

func (h Hunk) tailLen() int {
	head := h.headLen()
	n := 0
	for i := len(h.Changes) - 1; i >= head && h.Changes[i].Kind == ChangeKept; i-- {
		n++
	}
	return n
}

func texts(changes []Change, keep func(ChangeKind) bool) []string {
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		if keep(c.Kind) {
			out = append(out, c.Text)
		}
	}
	return out
}

// Head returns the leading unchanged context.
func (h Hunk) Head() []string {
	return texts(h.Changes[:h.headLen()], func(ChangeKind) bool { return true })
}

// Tail returns the trailing unchanged context.
func (h Hunk) Tail() []string {
	return texts(h.Changes[len(h.Changes)-h.tailLen():], func(ChangeKind) bool { return true })
}

func (h Hunk) body() []Change {
	return h.Changes[h.headLen() : len(h.Changes)-h.tailLen()]
}

// OldBody is the body as it appears in the pre-image.
func (h Hunk) OldBody() []string {
	return texts(h.body(), func(k ChangeKind) bool { return k != ChangeInserted })
}

// NewBody is the body as it appears in the post-image.
func (h Hunk) NewBody() []string {
	return texts(h.body(), func(k ChangeKind) bool { return k != ChangeDeleted })
}

// OldLines is the full pre-image: head, old body and tail.
func (h Hunk) OldLines() []string {
	return texts(h.Changes, func(k ChangeKind) bool { return k != ChangeInserted })
}

// NewLines is the full post-image.
func (h Hunk) NewLines() []string {
	return texts(h.Changes, func(k ChangeKind) bool { return k != ChangeDeleted })
}

func (h Hunk) DeletedCount() int {
	return len(texts(h.Changes, func(k ChangeKind) bool { return k == ChangeDeleted }))
}

func (h Hunk) InsertedCount() int {
	return len(texts(h.Changes, func(k ChangeKind) bool { return k == ChangeInserted }))
}

// ApplyHunks applies hunks in order, each located against the result of the
// previous one.
func ApplyHunks(source string, hunks []Hunk) (string, error) {
	t := splitText(source)
	for i, h := range hunks {
		if err := applyHunk(&t, h); err != nil {
			return "", fmt.Errorf("hunk %d: %w", i+1, err)
		}
	}
	if len(t.lines) > 0 && source == "" {
		t.trailing = true
	}
	return t.join(), nil
}

func applyHunk(t *text, h Hunk) error {
	old := h.OldLines()
	pos := 0
	if len(old) > 0 {
		pos = locate(t.texts(), old, looseEqual)
		if pos < 0 {
			return fmt.Errorf("%w: %s", ErrNotLocatable, previewLines(old))
		}
	} else if len(t.lines) > 0 {
		return fmt.Errorf("%w: hunk has no context lines", ErrNotLocatable)
	}

	start := pos + h.headLen()
	out := make([]line, 0, len(t.lines)+h.InsertedCount())
	out = append(out, t.lines[:start]...)
	cursor := start
	eol := t.eol
	for _, c := range h.body() {
		switch c.Kind {
		case ChangeKept:
			// Keep the file's own spelling of loosely matched lines.
			out = append(out, t.lines[cursor])
			cursor++
		case ChangeDeleted:
			if t.lines[cursor].EOL != "" {
				eol = t.lines[cursor].EOL
			}
			cursor++
		case ChangeInserted:
			out = append(out, line{Text: c.Text, EOL: eol})
		}
	}
	out = append(out, t.lines[cursor:]...)
	t.lines = out
	return nil
}

func previewLines(lines []string) string {
	const max = 3
	shown := lines
	if len(shown) > max {
		shown = shown[:max]
	}
	s := strings.Join(shown, "\\n")
	if len(lines) > max {
		s += fmt.Sprintf("\\n... (%d more lines)", len(lines)-max)
	}
	return fmt.Sprintf("%q", s)
}
