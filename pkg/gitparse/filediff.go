package gitparse

import (
	"fmt"
	"strconv"
	"strings"
)

// NullMode is the file mode git reports for the missing side of an added or
// deleted file.
const NullMode = "0000000"

// FileSide is one side (source or destination) of a file diff.
type FileSide struct {
	File string `json:"file"`
	Mode string `json:"mode"`
}

// Meta holds the start and line count of one side of the first chunk header.
// Under full context the count is the file's length on that side.
type Meta struct {
	Start int `json:"start"`
	Lines int `json:"lines"`
}

// Hunk is one change block. Before holds deleted lines, After holds added lines.
type Hunk struct {
	FromStart int      `json:"from_start"`
	FromCount int      `json:"from_count"`
	ToStart   int      `json:"to_start"`
	ToCount   int      `json:"to_count"`
	Before    []string `json:"before"`
	After     []string `json:"after"`
}

// FileDiff is the parsed diff of one file.
type FileDiff struct {
	From     FileSide `json:"from"`
	To       FileSide `json:"to"`
	Rename   bool     `json:"rename"`
	IsBinary bool     `json:"is_binary"`
	Content  []Hunk   `json:"content"`
	MetaA    *Meta    `json:"meta_a,omitempty"`
	MetaB    *Meta    `json:"meta_b,omitempty"`
}

// IsAdded reports whether the file did not exist before the change.
func (d FileDiff) IsAdded() bool {
	return d.From.Mode == NullMode
}

// IsDeleted reports whether the file does not exist after the change.
func (d FileDiff) IsDeleted() bool {
	return d.To.Mode == NullMode
}

// SourcePath is the path of the file before the change. For added files it
// falls back to the destination path.
func (d FileDiff) SourcePath() string {
	if d.Rename || !d.IsAdded() {
		return d.From.File
	}

	return d.To.File
}

// DestPath is the path of the file after the change. For deleted files it
// falls back to the source path.
func (d FileDiff) DestPath() string {
	if d.Rename || !d.IsDeleted() {
		return d.To.File
	}

	return d.From.File
}

// ParseFileDiff parses a single "diff --git" chunk.
func ParseFileDiff(lines []string) (FileDiff, error) {
	if len(lines) == 0 {
		return FileDiff{}, ErrEmptyDiff
	}

	parsed, err := ParseLines(lines)
	if err != nil {
		return FileDiff{}, err
	}

	b := &fileDiffBuilder{}
	for _, pl := range parsed {
		b.apply(pl)
	}

	b.flush()

	if b.diff.Content == nil {
		b.diff.Content = []Hunk{}
	}

	return b.diff, nil
}

// ParseCommitDiff splits the diff of a whole commit into file chunks and parses
// each. Chunks that fail to parse are reported in the error slice and skipped.
func ParseCommitDiff(raw string) ([]FileDiff, []error) {
	chunks := SplitFileDiffs(SplitLines(raw))
	diffs := make([]FileDiff, 0, len(chunks))

	var errs []error

	for _, chunk := range chunks {
		d, err := ParseFileDiff(chunk)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse %q: %w", chunk[0], err))

			continue
		}

		diffs = append(diffs, d)
	}

	return diffs, errs
}

type fileDiffBuilder struct {
	diff    FileDiff
	block   *Hunk
	oldLine int
	newLine int
}

func (b *fileDiffBuilder) apply(pl ParsedLine) {
	f := pl.Fields

	switch pl.State {
	case FileDiffHeader:
		b.diff.From.File = unquote(f["from_file"])
		b.diff.To.File = unquote(f["to_file"])
	case OldModeHeader:
		b.diff.From.Mode = f["mode"]
	case NewModeHeader:
		b.diff.To.Mode = f["mode"]
	case NewFileModeHeader:
		b.diff.From.Mode = NullMode
		b.diff.To.Mode = f["mode"]
	case DeletedFileModeHeader:
		b.diff.From.Mode = f["mode"]
		b.diff.To.Mode = NullMode
	case IndexDiffHeader:
		if mode := f["mode"]; mode != "" {
			if b.diff.From.Mode == "" {
				b.diff.From.Mode = mode
			}

			if b.diff.To.Mode == "" {
				b.diff.To.Mode = mode
			}
		}
	case RenameHeader:
		b.diff.Rename = true
	case RenameAFile:
		b.diff.From.File = unquoteWhole(f["from_file"])
	case RenameBFile:
		b.diff.To.File = unquoteWhole(f["to_file"])
	case BinaryDiff:
		b.diff.IsBinary = true
	case ChunkHeader:
		b.chunk(f)
	case LineDiff:
		b.line(f["action"], f["line"])
	case StartOfFile, AFileChangeHeader, BFileChangeHeader, NoNewline, BlameEntry:
	}
}

func (b *fileDiffBuilder) chunk(f map[string]string) {
	b.flush()

	fromStart := atoiDefault(f["from_line_start"], 0)
	fromCount := atoiDefault(f["from_line_count"], 1)
	toStart := atoiDefault(f["to_line_start"], fromStart)
	toCount := atoiDefault(f["to_line_count"], 1)

	if b.diff.MetaA == nil {
		b.diff.MetaA = &Meta{Start: fromStart, Lines: fromCount}
		b.diff.MetaB = &Meta{Start: toStart, Lines: toCount}
	}

	b.oldLine = fromStart
	b.newLine = toStart

	// An empty side is reported as starting at the line before the first one.
	if fromCount == 0 {
		b.oldLine++
	}

	if toCount == 0 {
		b.newLine++
	}
}

func (b *fileDiffBuilder) line(action, text string) {
	switch action {
	case " ":
		b.flush()
		b.oldLine++
		b.newLine++
	case "-":
		b.open()
		b.block.Before = append(b.block.Before, text)
		b.block.FromCount++
		b.oldLine++
	case "+":
		b.open()
		b.block.After = append(b.block.After, text)
		b.block.ToCount++
		b.newLine++
	}
}

func (b *fileDiffBuilder) open() {
	if b.block == nil {
		b.block = &Hunk{
			FromStart: b.oldLine,
			ToStart:   b.newLine,
			Before:    []string{},
			After:     []string{},
		}
	}
}

// flush closes the current change block. Context-only runs never open one.
func (b *fileDiffBuilder) flush() {
	if b.block == nil {
		return
	}

	b.diff.Content = append(b.diff.Content, *b.block)
	b.block = nil
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}

	return n
}

// unquoteWhole decodes a path that may still carry its surrounding quotes,
// as in `rename from "..."` lines.
func unquoteWhole(path string) string {
	if len(path) < 2 || path[0] != '"' || path[len(path)-1] != '"' {
		return unquote(path)
	}

	s, err := strconv.Unquote(path)
	if err != nil {
		return path[1 : len(path)-1]
	}

	return s
}

// unquote decodes the C-style escapes git uses inside quoted paths. Unquoted
// paths are returned as they are.
func unquote(path string) string {
	if !strings.ContainsRune(path, '\\') {
		return path
	}

	s, err := strconv.Unquote(`"` + path + `"`)
	if err != nil {
		return path
	}

	return s
}
