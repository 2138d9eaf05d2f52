package tools

import (
	"regexp"
	"strings"
	"unicode"
)

type CommandRisk string

const (
	CommandRiskReadonly  CommandRisk = "readonly"
	CommandRiskMutating  CommandRisk = "mutating"
	CommandRiskDangerous CommandRisk = "dangerous"
)

var dangerousCommandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\};:`),
	regexp.MustCompile(`\brm\s+-rf\s+(?:--no-preserve-root\s+)?/\s*(?:$|[;&|"'])`),
	regexp.MustCompile(`\bmkfs(?:\.[a-z0-9_-]+)?\b`),
	regexp.MustCompile(`\bdd\b[^\n]*\bof=/dev/`),
	regexp.MustCompile(`\b(?:shutdown|reboot|poweroff|halt)\b`),
	regexp.MustCompile(`\bgit\s+push\b[^\n]*(?:--force|\s-f\b)`),
}

var readonlyVerbs = map[string]struct{}{
	"basename": {},
	"cat":      {},
	"cut":      {},
	"dirname":  {},
	"echo":     {},
	"find":     {},
	"grep":     {},
	"head":     {},
	"ls":       {},
	"pwd":      {},
	"realpath": {},
	"rg":       {},
	"sort":     {},
	"stat":     {},
	"tail":     {},
	"test":     {},
	"tree":     {},
	"uniq":     {},
	"wc":       {},
	"which":    {},
}

var readonlyGitSubcommands = map[string]struct{}{
	"blame":     {},
	"branch":    {},
	"diff":      {},
	"grep":      {},
	"log":       {},
	"ls-files":  {},
	"remote":    {},
	"rev-parse": {},
	"show":      {},
	"status":    {},
	"tag":       {},
}

var shellWrappers = map[string]struct{}{
	"bash": {},
	"sh":   {},
	"zsh":  {},
}

// ClassifyCommandRisk buckets a shell command by what it can do. Commands
// wrapped as `bash -lc '...'` are classified by their inner script.
func ClassifyCommandRisk(command string) CommandRisk {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return CommandRiskMutating
	}
	lower := strings.ToLower(trimmed)
	for _, p := range dangerousCommandPatterns {
		if p.MatchString(lower) {
			return CommandRiskDangerous
		}
	}
	if inner, ok := unwrapShellCommand(trimmed); ok {
		return ClassifyCommandRisk(inner)
	}

	segments := splitShellSegments(trimmed)
	if len(segments) == 0 {
		return CommandRiskMutating
	}
	for _, seg := range segments {
		if !isReadonlyShellSegment(seg) {
			return CommandRiskMutating
		}
	}
	return CommandRiskReadonly
}

// unwrapShellCommand returns the script of `sh -c 'script'` style commands.
func unwrapShellCommand(command string) (string, bool) {
	fields := strings.Fields(command)
	if len(fields) < 3 {
		return "", false
	}
	if _, ok := shellWrappers[fields[0]]; !ok {
		return "", false
	}
	flag := fields[1]
	if !strings.HasPrefix(flag, "-") || !strings.HasSuffix(flag, "c") {
		return "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(command, fields[0]))
	rest = strings.TrimSpace(strings.TrimPrefix(rest, flag))
	if len(rest) < 2 {
		return "", false
	}
	q := rest[0]
	if (q != '\'' && q != '"') || rest[len(rest)-1] != q {
		return "", false
	}
	return strings.TrimSpace(rest[1 : len(rest)-1]), true
}

func commandFromArgs(args map[string]any) string {
	if args == nil {
		return ""
	}
	raw, ok := args["command"]
	if !ok {
		return ""
	}
	s, _ := raw.(string)
	return strings.TrimSpace(s)
}

func splitShellSegments(command string) []string {
	var out []string
	var sb strings.Builder
	var quote rune
	escaped := false
	runes := []rune(command)
	flush := func() {
		part := strings.TrimSpace(sb.String())
		if part != "" {
			out = append(out, part)
		}
		sb.Reset()
	}
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		if escaped {
			sb.WriteRune(ch)
			escaped = false
			continue
		}
		if quote == 0 && ch == '\\' {
			escaped = true
			sb.WriteRune(ch)
			continue
		}
		if ch == '\'' || ch == '"' || ch == '`' {
			if quote == 0 {
				quote = ch
			} else if quote == ch {
				quote = 0
			}
			sb.WriteRune(ch)
			continue
		}
		if quote == 0 {
			if ch == '\n' || ch == ';' {
				flush()
				continue
			}
			if ch == '|' {
				flush()
				if i+1 < len(runes) && runes[i+1] == '|' {
					i++
				}
				continue
			}
			if ch == '&' && i+1 < len(runes) && runes[i+1] == '&' {
				flush()
				i++
				continue
			}
		}
		sb.WriteRune(ch)
	}
	flush()
	return out
}

func isReadonlyShellSegment(segment string) bool {
	segment = strings.TrimSpace(segment)
	if segment == "" || hasWriteRedirection(segment) {
		return false
	}
	fields := strings.Fields(segment)
	idx := 0
	for idx < len(fields) && isEnvAssignment(fields[idx]) {
		idx++
	}
	if idx >= len(fields) {
		return false
	}

	verb := strings.ToLower(fields[idx])
	args := fields[idx+1:]

	switch verb {
	case "git":
		sub := firstNonFlag(args)
		if sub == "" {
			return false
		}
		_, ok := readonlyGitSubcommands[strings.ToLower(sub)]
		return ok
	case "sed":
		lower := strings.ToLower(segment)
		if strings.Contains(lower, " -i") {
			return false
		}
		return strings.Contains(lower, "-n")
	case "find":
		for _, a := range args {
			if a == "-delete" || a == "-exec" || a == "-execdir" {
				return false
			}
		}
		return true
	}
	_, ok := readonlyVerbs[verb]
	return ok
}

func hasWriteRedirection(segment string) bool {
	lower := strings.ToLower(segment)
	for _, benign := range []string{"2>&1", "1>&2", "2>/dev/null", ">/dev/null"} {
		lower = strings.ReplaceAll(lower, benign, "")
	}
	return strings.Contains(lower, ">")
}

func isEnvAssignment(token string) bool {
	eq := strings.IndexRune(token, '=')
	if eq <= 0 {
		return false
	}
	for i, ch := range token[:eq] {
		if ch == '_' || unicode.IsLetter(ch) || (i > 0 && unicode.IsDigit(ch)) {
			continue
		}
		return false
	}
	return true
}

func firstNonFlag(args []string) string {
	for _, arg := range args {
		item := strings.TrimSpace(arg)
		if item == "" || strings.HasPrefix(item, "-") {
			continue
		}
		return item
	}
	return ""
}

// CommandPolicy decides whether a command may run and whether it needs the
// user's approval.
// The zero value asks before every mutating command.
type CommandPolicy struct {
	// SkipApproval lets mutating tools and commands run without asking.
	// Dangerous commands still ask.
	SkipApproval   bool
	BlockDangerous bool
	// AllowCommands are command prefixes that run without approval.
	AllowCommands []string
	// DenyCommands are command prefixes that never run.
	DenyCommands []string
}

// CommandDecision is the policy verdict for one command.
type CommandDecision struct {
	Risk             CommandRisk
	Blocked          bool
	Reason           string
	RequiresApproval bool
}

func (p CommandPolicy) Decide(command string) CommandDecision {
	command = strings.TrimSpace(command)
	d := CommandDecision{Risk: ClassifyCommandRisk(command)}
	if prefix, ok := anySegmentMatches(command, p.DenyCommands); ok {
		d.Blocked = true
		d.Reason = "command matches deny rule " + prefix
		return d
	}
	if d.Risk == CommandRiskDangerous {
		if p.BlockDangerous {
			d.Blocked = true
			d.Reason = "dangerous command blocked by policy"
			return d
		}
		// Dangerous commands never bypass the gate.
		d.RequiresApproval = true
		return d
	}
	if allSegmentsMatch(command, p.AllowCommands) {
		return d
	}
	d.RequiresApproval = !p.SkipApproval && d.Risk != CommandRiskReadonly
	return d
}

// A rule matches a shell segment at word boundaries only: "go test" matches
// "go test ./..." but not "go tester".
func matchesPrefix(segment string, prefix string) bool {
	prefix = strings.TrimSpace(prefix)
	return prefix != "" && (segment == prefix || strings.HasPrefix(segment, prefix+" "))
}

func anySegmentMatches(command string, prefixes []string) (string, bool) {
	for _, seg := range splitShellSegments(command) {
		for _, prefix := range prefixes {
			if matchesPrefix(seg, prefix) {
				return strings.TrimSpace(prefix), true
			}
		}
	}
	return "", false
}

func allSegmentsMatch(command string, prefixes []string) bool {
	segments := splitShellSegments(command)
	if len(segments) == 0 || len(prefixes) == 0 {
		return false
	}
	for _, seg := range segments {
		matched := false
		for _, prefix := range prefixes {
			if matchesPrefix(seg, prefix) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
