package patch

import "slices"

// LogEntry records one edit attempt.
type LogEntry struct {
	File string `json:"file"`
	Edit Edit   `json:"edit"`
}

// EditLog is the append-only history of edit attempts within one roundtrip,
// in application order.
type EditLog struct {
	Entries []LogEntry `json:"entries,omitempty"`
}

// Append records an attempt. Failed attempts are kept for display but never
// become a base for later edits.
func (l *EditLog) Append(file string, e Edit) {
	l.Entries = append(l.Entries, LogEntry{File: file, Edit: e})
}

// Stack returns every attempt against file, oldest first.
func (l *EditLog) Stack(file string) []Edit {
	var out []Edit
	for _, e := range l.Entries {
		if e.File == file {
			out = append(out, e.Edit)
		}
	}
	return out
}

// Top returns the most recent successful edit of file.
func (l *EditLog) Top(file string) (FileEditResult, bool) {
	for i := len(l.Entries) - 1; i >= 0; i-- {
		e := l.Entries[i]
		if e.File == file && e.Edit.Result != nil {
			return *e.Edit.Result, true
		}
	}
	return FileEditResult{}, false
}

// Base resolves the state a new edit of file applies to: the top of its
// stack, else whatever load reports from disk.
func (l *EditLog) Base(file string, load func(file string) (content string, exists bool, err error)) (Base, error) {
	if top, ok := l.Top(file); ok {
		return BaseFromResult(top), nil
	}
	content, exists, err := load(file)
	if err != nil {
		return Base{}, err
	}
	return Base{File: file, Exists: exists, Content: content}, nil
}

// Files lists edited files in first-touched order.
func (l *EditLog) Files() []string {
	var out []string
	for _, e := range l.Entries {
		if !slices.Contains(out, e.File) {
			out = append(out, e.File)
		}
	}
	return out
}

// Reverts returns the inverse of every successful edit, newest first. Applied
// in order they restore each file to its state before the first edit.
func (l *EditLog) Reverts() []FileEditResult {
	var out []FileEditResult
	for i := len(l.Entries) - 1; i >= 0; i-- {
		if r := l.Entries[i].Edit.Result; r != nil {
			out = append(out, RevertFileEdit(*r))
		}
	}
	return out
}
