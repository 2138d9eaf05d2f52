package patch

import (
	"fmt"
	"regexp"
)

// SearchReplace is one parsed SEARCH/REPLACE block.
type SearchReplace struct {
	Search  []string `json:"search"`
	Replace []string `json:"replace"`
}

var (
	searchStartRE = regexp.MustCompile(`^\s*<{4,}\s*(?:SEARCH)?\s*$`)
	dividerRE     = regexp.MustCompile(`^\s*={4,}\s*$`)
	replaceEndRE  = regexp.MustCompile(`^\s*>{4,}\s*(?:REPLACE)?\s*$`)
)

// IsSearchReplace reports whether diff text uses the SEARCH/REPLACE notation
// rather than unified hunks.
func IsSearchReplace(diffText string) bool {
	for _, line := range splitPatchLines(diffText) {
		if searchStartRE.MatchString(line) {
			return true
		}
	}
	return false
}

// ParseSearchReplace parses one or more SEARCH/REPLACE blocks. Lines outside
// blocks (prose, code fences) are ignored.
func ParseSearchReplace(diffText string) ([]SearchReplace, error) {
	const (
		outside = iota
		inSearch
		inReplace
	)
	var (
		out   []SearchReplace
		cur   SearchReplace
		state = outside
	)
	for i, line := range splitPatchLines(diffText) {
		start, div, end := searchStartRE.MatchString(line), dividerRE.MatchString(line), replaceEndRE.MatchString(line)
		switch state {
		case outside:
			switch {
			case start:
				cur = SearchReplace{Search: []string{}, Replace: []string{}}
				state = inSearch
			case div, end:
				return nil, fmt.Errorf("%w: line %d: %q outside a SEARCH block", ErrMalformed, i+1, line)
			}
		case inSearch:
			switch {
			case div:
				state = inReplace
			case start, end:
				return nil, fmt.Errorf("%w: line %d: expected ======= before %q", ErrMalformed, i+1, line)
			default:
				cur.Search = append(cur.Search, line)
			}
		case inReplace:
			switch {
			case end:
				out = append(out, cur)
				state = outside
			case start, div:
				return nil, fmt.Errorf("%w: line %d: expected >>>>>>> REPLACE before %q", ErrMalformed, i+1, line)
			default:
				cur.Replace = append(cur.Replace, line)
			}
		}
	}
	switch state {
	case inSearch:
		return nil, fmt.Errorf("%w: SEARCH block is missing its ======= divider", ErrMalformed)
	case inReplace:
		return nil, fmt.Errorf("%w: SEARCH block is missing its >>>>>>> REPLACE marker", ErrMalformed)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no SEARCH/REPLACE blocks found", ErrMalformed)
	}
	return out, nil
}

// ApplySearchReplace applies blocks in order. Each search is located from the
// top of the result of the previous block.
func ApplySearchReplace(source string, blocks []SearchReplace) (string, error) {
	t := splitText(source)
	for i, b := range blocks {
		if len(b.Search) == 0 {
			if len(t.lines) > 0 {
				return "", fmt.Errorf("block %d: %w: empty SEARCH section on a non-empty file", i+1, ErrNotLocatable)
			}
			t.replace(0, 0, b.Replace)
			t.trailing = true
			continue
		}
		pos := locate(t.texts(), b.Search, searchEquality(b.Search))
		if pos < 0 {
			return "", fmt.Errorf("block %d: %w: %s", i+1, ErrNotLocatable, previewLines(b.Search))
		}
		t.replace(pos, len(b.Search), b.Replace)
	}
	return t.join(), nil
}
