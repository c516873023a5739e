// Package gitparse turns the raw text of full-context unified diffs, git blame
// and commit headers into structured values.
//
// Diff text is consumed by a finite-state machine whose transitions live in an
// explicit table: every state lists the line patterns it accepts and the state
// each pattern leads to. A line that no rule of the current state accepts is a
// *ParseError.
package gitparse

import (
	"regexp"
)

// State is a named state of the diff line machine.
type State int

// Diff machine states.
const (
	StartOfFile State = iota
	FileDiffHeader
	OldModeHeader
	NewModeHeader
	NewFileModeHeader
	DeletedFileModeHeader
	RenameHeader
	RenameAFile
	RenameBFile
	IndexDiffHeader
	BinaryDiff
	AFileChangeHeader
	BFileChangeHeader
	ChunkHeader
	LineDiff
	NoNewline
	// BlameEntry is reported by blame parse errors; the diff machine never enters it.
	BlameEntry
)

var stateNames = [...]string{
	StartOfFile:           "start_of_file",
	FileDiffHeader:        "file_diff_header",
	OldModeHeader:         "old_mode_header",
	NewModeHeader:         "new_mode_header",
	NewFileModeHeader:     "new_file_mode_header",
	DeletedFileModeHeader: "deleted_file_mode_header",
	RenameHeader:          "rename_header",
	RenameAFile:           "rename_a_file",
	RenameBFile:           "rename_b_file",
	IndexDiffHeader:       "index_diff_header",
	BinaryDiff:            "binary_diff",
	AFileChangeHeader:     "a_file_change_header",
	BFileChangeHeader:     "b_file_change_header",
	ChunkHeader:           "chunk_header",
	LineDiff:              "line_diff",
	NoNewline:             "no_newline",
	BlameEntry:            "blame_entry",
}

// String returns the snake_case name of the state.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}

	return stateNames[s]
}

// Line patterns. Named groups become ParsedLine.Fields.
var (
	fileDiffHeaderPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^diff --git a/(?P<from_file>.*?)\s* b/(?P<to_file>.*?)\s*$`),
		regexp.MustCompile(`^diff --git "a/(?P<from_file>.*?)"\s* "b/(?P<to_file>.*?)"\s*$`),
		regexp.MustCompile(`^diff --git a/(?P<from_file>.*?)\s* "b/(?P<to_file>.*?)"\s*$`),
		regexp.MustCompile(`^diff --git "a/(?P<from_file>.*?)"\s* b/(?P<to_file>.*?)\s*$`),
	}
	oldModePattern     = regexp.MustCompile(`^old mode (?P<mode>\d+)$`)
	newModePattern     = regexp.MustCompile(`^new mode (?P<mode>\d+)$`)
	newFileModePattern = regexp.MustCompile(`^new file mode (?P<mode>\d+)$`)
	deletedModePattern = regexp.MustCompile(`^deleted file mode (?P<mode>\d+)$`)
	indexPattern       = regexp.MustCompile(`^index (?P<from_blob>.*?)\.\.(?P<to_blob>.*?)(?: (?P<mode>\d+))?$`)
	binaryPattern      = regexp.MustCompile(`^Binary files (?P<from_file>.*) and (?P<to_file>.*) differ$`)
	aFilePatterns      = []*regexp.Regexp{
		regexp.MustCompile(`^--- (?:/dev/null|a/(?P<file>.*?)\s*)$`),
		regexp.MustCompile(`^--- (?:/dev/null|"a/(?P<file>.*?)"\s*)$`),
	}
	bFilePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\+\+\+ (?:/dev/null|b/(?P<file>.*?)\s*)$`),
		regexp.MustCompile(`^\+\+\+ (?:/dev/null|"b/(?P<file>.*?)"\s*)$`),
	}
	chunkHeaderPattern = regexp.MustCompile(
		`^@@ -(?P<from_line_start>\d+)(?:,(?P<from_line_count>\d+))? \+(?P<to_line_start>\d+)(?:,(?P<to_line_count>\d+))? @@(?P<line>.*)$`,
	)
	lineDiffPattern   = regexp.MustCompile(`^(?P<action>[-+ ])(?P<line>.*)$`)
	noNewlinePattern  = regexp.MustCompile(`^\\ No newline at end of file$`)
	renameHeaderPat   = regexp.MustCompile(`^similarity index (?P<rate>\d*)`)
	renameAFilePat    = regexp.MustCompile(`^rename from (?P<from_file>.*)$`)
	renameBFilePat    = regexp.MustCompile(`^rename to (?P<to_file>.*)$`)
)

// rule accepts a line when any of its patterns matches and moves the machine to next.
type rule struct {
	patterns []*regexp.Regexp
	next     State
}

func one(p *regexp.Regexp, next State) rule {
	return rule{patterns: []*regexp.Regexp{p}, next: next}
}

var (
	fileHeaderRule = rule{patterns: fileDiffHeaderPatterns, next: FileDiffHeader}
	renameRule     = one(renameHeaderPat, RenameHeader)
	indexRule      = one(indexPattern, IndexDiffHeader)
	chunkRule      = one(chunkHeaderPattern, ChunkHeader)
	lineRule       = one(lineDiffPattern, LineDiff)
	noNewlineRule  = one(noNewlinePattern, NoNewline)
)

// transitions is the machine: rules are tried in order and the first match wins.
var transitions = map[State][]rule{
	StartOfFile: {fileHeaderRule},
	FileDiffHeader: {
		one(oldModePattern, OldModeHeader),
		one(newFileModePattern, NewFileModeHeader),
		one(deletedModePattern, DeletedFileModeHeader),
		renameRule,
		indexRule,
	},
	OldModeHeader:         {one(newModePattern, NewModeHeader)},
	NewModeHeader:         {fileHeaderRule, renameRule, indexRule},
	NewFileModeHeader:     {renameRule, indexRule},
	DeletedFileModeHeader: {renameRule, indexRule},
	RenameHeader:          {one(renameAFilePat, RenameAFile)},
	RenameAFile:           {one(renameBFilePat, RenameBFile)},
	RenameBFile:           {fileHeaderRule, renameRule, indexRule},
	IndexDiffHeader: {
		fileHeaderRule,
		one(binaryPattern, BinaryDiff),
		{patterns: aFilePatterns, next: AFileChangeHeader},
	},
	BinaryDiff:        {fileHeaderRule},
	AFileChangeHeader: {{patterns: bFilePatterns, next: BFileChangeHeader}},
	BFileChangeHeader: {chunkRule},
	ChunkHeader:       {lineRule, noNewlineRule},
	LineDiff:          {fileHeaderRule, chunkRule, lineRule, noNewlineRule},
	NoNewline:         {fileHeaderRule, chunkRule, lineRule},
}

// expected lists the states reachable from s, for error messages.
func expected(s State) []State {
	rules := transitions[s]
	out := make([]State, 0, len(rules))

	for _, r := range rules {
		out = append(out, r.next)
	}

	return out
}
