package patch

import (
	"strings"
	"unicode"
)

// minRichLines is how many alphanumeric-bearing lines a SEARCH block needs
// before whitespace-insensitive matching is allowed.
const minRichLines = 2

type lineEqual func(a, b string) bool

func exactEqual(a, b string) bool { return a == b }

// looseEqual accepts an exact match, else a match after trimming both sides.
func looseEqual(a, b string) bool {
	return a == b || strings.TrimSpace(a) == strings.TrimSpace(b)
}

// line is one line of file content. Text never carries the terminator; EOL
// is "\n", "\r\n" or empty for an unterminated final line.
type line struct {
	Text string
	EOL  string
}

// text is file content split into lines. Every line keeps its own terminator
// so files with mixed line endings round-trip unchanged.
type text struct {
	lines    []line
	eol      string // terminator for inserted lines
	trailing bool
}

func splitText(s string) text {
	t := text{eol: "\n"}
	if s == "" {
		return t
	}
	t.trailing = strings.HasSuffix(s, "\n")
	parts := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	crlf := 0
	for i, p := range parts {
		l := line{Text: p, EOL: "\n"}
		if strings.HasSuffix(p, "\r") && (i < len(parts)-1 || t.trailing) {
			l = line{Text: strings.TrimSuffix(p, "\r"), EOL: "\r\n"}
			crlf++
		}
		if i == len(parts)-1 && !t.trailing {
			l.EOL = ""
		}
		t.lines = append(t.lines, l)
	}
	if crlf*2 > len(t.lines) {
		t.eol = "\r\n"
	}
	return t
}

// texts returns the line contents for matching.
func (t text) texts() []string {
	out := make([]string, len(t.lines))
	for i, l := range t.lines {
		out[i] = l.Text
	}
	return out
}

// replace swaps n lines at pos for repl. A replacement line takes the
// terminator of the line it overwrites; extra lines take the file's.
func (t *text) replace(pos int, n int, repl []string) {
	next := make([]line, 0, len(t.lines)-n+len(repl))
	next = append(next, t.lines[:pos]...)
	for i, r := range repl {
		eol := t.eol
		if i < n && t.lines[pos+i].EOL != "" {
			eol = t.lines[pos+i].EOL
		}
		next = append(next, line{Text: r, EOL: eol})
	}
	next = append(next, t.lines[pos+n:]...)
	t.lines = next
}

func (t text) join() string {
	if len(t.lines) == 0 {
		return ""
	}
	var sb strings.Builder
	last := len(t.lines) - 1
	for i, l := range t.lines {
		sb.WriteString(l.Text)
		if i == last && !t.trailing {
			break
		}
		if l.EOL == "" {
			sb.WriteString(t.eol)
			continue
		}
		sb.WriteString(l.EOL)
	}
	return sb.String()
}

// splitPatchLines splits model-provided patch text into lines, normalizing
// line endings.
func splitPatchLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// locate returns the first index at which needle occurs in lines, scanning
// from the top, or -1.
func locate(lines []string, needle []string, eq lineEqual) int {
	if len(needle) == 0 || len(needle) > len(lines) {
		return -1
	}
	for i := 0; i+len(needle) <= len(lines); i++ {
		ok := true
		for j := range needle {
			if !eq(lines[i+j], needle[j]) {
				ok = false
				break
			}
		}
		if ok {
			return i
		}
	}
	return -1
}

func isRichLine(line string) bool {
	for _, r := range line {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// searchEquality picks the comparison for a SEARCH block. Short or blank
// anchors are ambiguous under trimming, so they must match exactly.
func searchEquality(search []string) lineEqual {
	rich := 0
	for _, l := range search {
		if isRichLine(l) {
			rich++
		}
	}
	if rich >= minRichLines || (len(search) > 0 && rich == len(search)) {
		return looseEqual
	}
	return exactEqual
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
