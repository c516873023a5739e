package gitparse

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// HeaderFormat is the --pretty format ParseHeader expects.
const HeaderFormat = "%H%n%P%n%an%n%ct%n%s%n%B"

// Fixed header lines preceding the raw body.
const (
	headerID = iota
	headerParents
	headerAuthor
	headerDate
	headerSubject
	headerBody
)

// ErrMalformedHeader is returned when a commit header cannot be parsed.
var ErrMalformedHeader = errors.New("malformed commit header")

// Header holds the commit fields needed by the miner.
type Header struct {
	ID        string
	ParentIDs []string
	Author    string
	// Date is the committer timestamp in UTC seconds.
	Date    int64
	Subject string
	// Message is the raw body with its lines joined by single spaces.
	Message string
}

// Parent returns the first parent id, or "" for a root commit.
func (h Header) Parent() string {
	if len(h.ParentIDs) == 0 {
		return ""
	}

	return h.ParentIDs[0]
}

// ParseHeader parses output produced with HeaderFormat.
func ParseHeader(raw string) (Header, error) {
	lines := SplitLines(raw)
	if len(lines) < headerBody {
		return Header{}, fmt.Errorf("%w: %d lines", ErrMalformedHeader, len(lines))
	}

	id := strings.TrimSpace(lines[headerID])
	if id == "" {
		return Header{}, fmt.Errorf("%w: missing commit id", ErrMalformedHeader)
	}

	date, err := strconv.ParseInt(strings.TrimSpace(lines[headerDate]), 10, 64)
	if err != nil {
		return Header{}, fmt.Errorf("%w: date %q", ErrMalformedHeader, lines[headerDate])
	}

	body := lines[headerBody:]
	for len(body) > 0 && strings.TrimSpace(body[len(body)-1]) == "" {
		body = body[:len(body)-1]
	}

	return Header{
		ID:        id,
		ParentIDs: strings.Fields(lines[headerParents]),
		Author:    lines[headerAuthor],
		Date:      date,
		Subject:   lines[headerSubject],
		Message:   strings.Join(body, " "),
	}, nil
}
