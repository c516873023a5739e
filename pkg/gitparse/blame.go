package gitparse

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrEmptyBlame is returned when blame produced no lines.
var ErrEmptyBlame = errors.New("empty blame output")

var (
	blameLinePattern = regexp.MustCompile(`^(\S+)\s+(\d+)\s+\((.*?)\s+(\d+)\s+[-+]\d{4}\s+(\d+)\)(.*)$`)
	numericPattern   = regexp.MustCompile(`^[+-]?\d*\.?\d+$`)
)

// Capture groups of blameLinePattern.
const (
	groupID = iota + 1
	groupOrigLine
	groupAuthor
	groupTime
	groupLine
	groupContent
)

// BlameLine is one parsed line of `git blame -t -n -l` output.
type BlameLine struct {
	ID       string
	OrigLine int
	Author   string
	Time     int64
	// Line is the line number in the blamed revision.
	Line    int
	Content string
}

// Range is an inclusive run of line numbers.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// BlameRecord groups every line attributed to one originating commit.
type BlameRecord struct {
	ID     string  `json:"id"`
	Author string  `json:"author"`
	Time   int64   `json:"time"`
	Ranges []Range `json:"ranges"`
}

// BlameMap maps an originating commit id to its attributed line ranges.
type BlameMap map[string]*BlameRecord

// ParseBlameLine parses `<id> [<path>] <orig> (<author> <time> <tz> <line>) <content>`.
// Non-numeric tokens between the id and the original line number (the file
// name column git prints for moved lines) are discarded. A boundary marker on
// the id is stripped.
func ParseBlameLine(line string) (BlameLine, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) < 2 {
		return BlameLine{}, &ParseError{Line: 1, State: BlameEntry, Text: line}
	}

	for len(fields) > 1 && !numericPattern.MatchString(fields[1]) {
		fields = append(fields[:1], fields[2:]...)
	}

	m := blameLinePattern.FindStringSubmatch(strings.Join(fields, " "))
	if m == nil {
		return BlameLine{}, &ParseError{Line: 1, State: BlameEntry, Text: line}
	}

	origLine, _ := strconv.Atoi(m[groupOrigLine])
	ts, _ := strconv.ParseInt(m[groupTime], 10, 64)
	dest, _ := strconv.Atoi(m[groupLine])

	return BlameLine{
		ID:       strings.TrimPrefix(m[groupID], "^"),
		OrigLine: origLine,
		Author:   m[groupAuthor],
		Time:     ts,
		Line:     dest,
		Content:  strings.TrimPrefix(m[groupContent], " "),
	}, nil
}

// ParseBlame parses the blame of one file and coalesces consecutive line
// numbers attributed to the same commit into ranges.
func ParseBlame(lines []string) (BlameMap, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyBlame
	}

	out := make(BlameMap)

	for i, raw := range lines {
		bl, err := ParseBlameLine(raw)
		if err != nil {
			return nil, &ParseError{Line: i + 1, State: BlameEntry, Text: raw}
		}

		rec, ok := out[bl.ID]
		if !ok {
			rec = &BlameRecord{ID: bl.ID, Author: bl.Author, Time: bl.Time}
			out[bl.ID] = rec
		}

		last := len(rec.Ranges) - 1
		if last >= 0 && rec.Ranges[last].End+1 == bl.Line {
			rec.Ranges[last].End = bl.Line

			continue
		}

		rec.Ranges = append(rec.Ranges, Range{Start: bl.Line, End: bl.Line})
	}

	return out, nil
}

// Lines returns the total number of lines covered by the map.
func (m BlameMap) Lines() int {
	total := 0

	for _, rec := range m {
		for _, r := range rec.Ranges {
			total += r.End - r.Start + 1
		}
	}

	return total
}
