package gitparse

import (
	"errors"
	"fmt"
	"strings"
)

// diffHeaderToken starts every per-file chunk of a git diff.
const diffHeaderToken = "diff --git"

// ErrEmptyDiff is returned when a file chunk contains no lines.
var ErrEmptyDiff = errors.New("empty file diff")

// ParseError reports a line that the current state does not accept.
type ParseError struct {
	// Line is the 1-based index of the offending line within its chunk.
	Line int
	// State is the state the machine was in when the line arrived.
	State State
	Text  string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.State == BlameEntry {
		return fmt.Sprintf("line %d: malformed blame entry %q", e.Line, e.Text)
	}

	names := make([]string, 0, len(transitions[e.State]))
	for _, s := range expected(e.State) {
		names = append(names, s.String())
	}

	return fmt.Sprintf("line %d: after %s expected %s, got %q",
		e.Line, e.State, strings.Join(names, " | "), e.Text)
}

// ParsedLine is one accepted line with the fields captured by its pattern.
type ParsedLine struct {
	State  State
	Fields map[string]string
	Text   string
}

// ParseLines runs the diff machine over the lines of a single file chunk.
func ParseLines(lines []string) ([]ParsedLine, error) {
	out := make([]ParsedLine, 0, len(lines))
	state := StartOfFile

	for i, line := range lines {
		next, fields, ok := step(state, line)
		if !ok {
			return nil, &ParseError{Line: i + 1, State: state, Text: line}
		}

		out = append(out, ParsedLine{State: next, Fields: fields, Text: line})
		state = next
	}

	return out, nil
}

func step(state State, line string) (State, map[string]string, bool) {
	for _, r := range transitions[state] {
		for _, p := range r.patterns {
			m := p.FindStringSubmatch(line)
			if m == nil {
				continue
			}

			fields := make(map[string]string, len(m))

			for idx, name := range p.SubexpNames() {
				if name != "" {
					fields[name] = m[idx]
				}
			}

			return r.next, fields, true
		}
	}

	return state, nil, false
}

// SplitFileDiffs splits a commit diff into per-file chunks. A chunk starts at
// every line beginning with "diff --git"; lines before the first header are
// dropped, so combined merge diffs ("diff --cc") yield no chunks.
func SplitFileDiffs(lines []string) [][]string {
	var (
		chunks  [][]string
		current []string
	)

	for _, line := range lines {
		if strings.HasPrefix(line, diffHeaderToken) {
			if len(current) > 0 {
				chunks = append(chunks, current)
			}

			current = []string{line}

			continue
		}

		if current != nil {
			current = append(current, line)
		}
	}

	if len(current) > 0 {
		chunks = append(chunks, current)
	}

	return chunks
}

// SplitLines splits command output into lines, dropping one trailing newline
// and carriage returns.
func SplitLines(raw string) []string {
	raw = strings.TrimSuffix(raw, "\n")
	if raw == "" {
		return nil
	}

	lines := strings.Split(raw, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}

	return lines
}
