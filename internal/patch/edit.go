// Package patch applies model-authored edits to file content: whole-file
// writes, unified-diff hunks, SEARCH/REPLACE blocks and deletions. Edits to
// one file within a turn stack on top of each other and each has an exact
// inverse.
package patch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

var (
	// ErrMalformed reports patch text that does not parse.
	ErrMalformed = errors.New("patch malformed")
	// ErrNotLocatable reports a hunk or search block absent from the file.
	ErrNotLocatable = errors.New("patch not locatable")
	// ErrConflict reports an edit against a file state that no longer holds.
	ErrConflict = errors.New("edit conflict")
)

// ActionKind selects how an edit's input is interpreted.
type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionDiff   ActionKind = "diff"
	ActionDelete ActionKind = "delete"
)

// Action is a requested change to one file.
type Action struct {
	Kind ActionKind `json:"kind"`
	// Content is the full new content for ActionCreate.
	Content string `json:"content,omitempty"`
	// Patches holds unified-diff or SEARCH/REPLACE texts for ActionDiff,
	// applied in order.
	Patches []string `json:"patches,omitempty"`
}

// EditKind is what a successful edit did to the file.
type EditKind string

const (
	EditCreate EditKind = "create"
	EditModify EditKind = "edit"
	EditDelete EditKind = "delete"
)

// ErrorKind classifies a failed edit.
type ErrorKind string

const (
	ErrorPatch     ErrorKind = "patch_error"
	ErrorConflict  ErrorKind = "conflict"
	ErrorParameter ErrorKind = "parameter_error"
	ErrorUnknown   ErrorKind = "unknown"
)

// FileEditResult is a successful edit.
type FileEditResult struct {
	File          string   `json:"file"`
	Kind          EditKind `json:"kind"`
	OldContent    string   `json:"old_content"`
	NewContent    string   `json:"new_content"`
	DeletedCount  int      `json:"deleted_count"`
	InsertedCount int      `json:"inserted_count"`
}

// FileEditError is a failed edit.
type FileEditError struct {
	File    string    `json:"file"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`

	cause error
}

func (e *FileEditError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s: %s", e.File, e.Kind, e.Message)
}

func (e *FileEditError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Edit is exactly one of Result or Error.
type Edit struct {
	Result *FileEditResult `json:"result,omitempty"`
	Error  *FileEditError  `json:"error,omitempty"`
}

// OK reports whether the edit succeeded.
func (e Edit) OK() bool {
	return e.Result != nil
}

// Base is the file state an edit applies on top of.
type Base struct {
	File    string
	Exists  bool
	Content string
	// Deleted is set when an earlier edit in the same stack deleted the file.
	Deleted bool
}

// BaseFromResult derives the state left behind by a successful edit.
func BaseFromResult(r FileEditResult) Base {
	if r.Kind == EditDelete {
		return Base{File: r.File, Deleted: true}
	}
	return Base{File: r.File, Exists: true, Content: r.NewContent}
}

// ApplyDiff computes the new content for source under action, without any
// stacking bookkeeping.
func ApplyDiff(source string, action Action) (string, error) {
	switch action.Kind {
	case ActionCreate:
		return action.Content, nil
	case ActionDelete:
		return "", nil
	case ActionDiff:
		if len(action.Patches) == 0 {
			return "", fmt.Errorf("%w: no diff given", ErrMalformed)
		}
		out := source
		for _, p := range action.Patches {
			var err error
			if IsSearchReplace(p) {
				var blocks []SearchReplace
				if blocks, err = ParseSearchReplace(p); err == nil {
					out, err = ApplySearchReplace(out, blocks)
				}
			} else {
				var hunks []Hunk
				if hunks, err = ParseHunks(p); err == nil {
					out, err = ApplyHunks(out, hunks)
				}
			}
			if err != nil {
				return "", err
			}
		}
		return out, nil
	default:
		return "", fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

// StackFileEdit applies action on top of base and reports the outcome as an
// Edit. It never returns a Go error; failures are carried in Edit.Error.
func StackFileEdit(base Base, action Action) Edit {
	fail := func(kind ErrorKind, err error) Edit {
		return Edit{Error: &FileEditError{File: base.File, Kind: kind, Message: err.Error(), cause: err}}
	}
	missing := func() Edit {
		if base.Deleted {
			return fail(ErrorConflict, fmt.Errorf("%w: file was deleted by an earlier edit", ErrConflict))
		}
		return fail(ErrorParameter, errors.New("file does not exist"))
	}

	switch action.Kind {
	case ActionCreate:
		res := FileEditResult{File: base.File, Kind: EditCreate, NewContent: action.Content}
		if base.Exists {
			res.Kind = EditModify
			res.OldContent = base.Content
		}
		res.InsertedCount, res.DeletedCount = CountChanges(res.OldContent, res.NewContent)
		return Edit{Result: &res}
	case ActionDiff:
		if !base.Exists {
			return missing()
		}
		next, err := ApplyDiff(base.Content, action)
		if err != nil {
			switch {
			case errors.Is(err, ErrMalformed), errors.Is(err, ErrNotLocatable):
				return fail(ErrorPatch, err)
			default:
				return fail(ErrorUnknown, err)
			}
		}
		res := FileEditResult{File: base.File, Kind: EditModify, OldContent: base.Content, NewContent: next}
		res.InsertedCount, res.DeletedCount = CountChanges(res.OldContent, res.NewContent)
		return Edit{Result: &res}
	case ActionDelete:
		if !base.Exists {
			return missing()
		}
		return Edit{Result: &FileEditResult{
			File:         base.File,
			Kind:         EditDelete,
			OldContent:   base.Content,
			DeletedCount: lineCount(base.Content),
		}}
	default:
		return fail(ErrorParameter, fmt.Errorf("unknown action kind %q", action.Kind))
	}
}

// RevertFileEdit returns the edit that undoes r.
func RevertFileEdit(r FileEditResult) FileEditResult {
	out := FileEditResult{
		File:          r.File,
		Kind:          r.Kind,
		OldContent:    r.NewContent,
		NewContent:    r.OldContent,
		DeletedCount:  r.InsertedCount,
		InsertedCount: r.DeletedCount,
	}
	switch r.Kind {
	case EditCreate:
		out.Kind = EditDelete
	case EditDelete:
		out.Kind = EditCreate
	}
	return out
}

// CountChanges counts inserted and deleted lines between two contents.
func CountChanges(oldContent, newContent string) (inserted, deleted int) {
	if oldContent == newContent {
		return 0, 0
	}
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			inserted += lineCount(d.Text)
		case diffmatchpatch.DiffDelete:
			deleted += lineCount(d.Text)
		}
	}
	return inserted, deleted
}

// SummarizeDiff counts the lines a diff text would insert and delete without
// applying it. Unparseable text is counted by line prefix.
func SummarizeDiff(diffText string) (inserted, deleted int) {
	if IsSearchReplace(diffText) {
		if blocks, err := ParseSearchReplace(diffText); err == nil {
			for _, b := range blocks {
				deleted += len(b.Search)
				inserted += len(b.Replace)
			}
			return inserted, deleted
		}
	} else if hunks, err := ParseHunks(diffText); err == nil {
		for _, h := range hunks {
			deleted += h.DeletedCount()
			inserted += h.InsertedCount()
		}
		return inserted, deleted
	}
	for _, line := range splitPatchLines(diffText) {
		switch {
		case strings.HasPrefix(line, "+++ "), strings.HasPrefix(line, "--- "):
		case strings.HasPrefix(line, "+"):
			inserted++
		case strings.HasPrefix(line, "-"):
			deleted++
		}
	}
	return inserted, deleted
}
