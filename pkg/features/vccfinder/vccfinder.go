// Package vccfinder computes churn and ownership features in the style of
// VCCFinder. Ingest records the causal part of each commit in a ledger;
// Release walks the completed ledger and emits the full records, whose
// author share and past and future counts need the whole history.
package vccfinder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Sumatoshi-tech/defectminer/pkg/features"
	"github.com/Sumatoshi-tech/defectminer/pkg/miner"
)

// Name identifies the aggregator.
const Name = "vccfinder"

// StateVersion is bumped whenever State changes shape.
const StateVersion = 2

const keywordPrefix = "kw_"

// ErrInvalidState is returned by Restore for inconsistent snapshots.
var ErrInvalidState = errors.New("invalid vccfinder state")

// Keywords is the C/C++ keyword vocabulary counted in changed lines.
var Keywords = []string{
	"do", "if", "asm", "for", "int", "new", "try", "auto", "bool", "case", "char", "else", "enum", "free", "goto", "long",
	"this", "true", "void", "alloc", "break", "catch", "class", "const", "false", "float", "short", "throw", "union", "using",
	"while", "alloca", "calloc", "delete", "double", "extern", "friend", "inline", "malloc", "public", "return", "signed",
	"sizeof", "static", "struct", "switch", "typeid", "default", "mutable", "private", "realloc", "typedef", "virtual", "wchar_t",
	"continue", "explicit", "operator", "register", "template", "typename", "unsigned", "volatile", "namespace", "protected",
	"const_cast", "static_cast", "dynamic_cast", "reinterpret_cast",
}

var keywordIndex = func() map[string]int {
	idx := make(map[string]int, len(Keywords))
	for i, kw := range Keywords {
		idx[kw] = i
	}

	return idx
}()

// CommitEntry is the ledger entry of one commit.
type CommitEntry struct {
	Author    string   `json:"author"`
	Files     []string `json:"files"`
	Addition  int      `json:"addition"`
	Deletion  int      `json:"deletion"`
	HunkCount int      `json:"hunk_count"`
	// Keywords counts each vocabulary entry, in vocabulary order.
	Keywords []int `json:"keywords"`
}

// FileEntry is the ledger entry of one path.
type FileEntry struct {
	CommitIDs []string `json:"commit_ids"`
	// Authors holds distinct authors in first-touch order.
	Authors []string `json:"authors"`
}

// State is the serializable ledger.
type State struct {
	Commits map[string]*CommitEntry `json:"commits"`
	// Order lists commit ids in ingestion order.
	Order             []string              `json:"order"`
	Authors           map[string][]string   `json:"authors"`
	Files             map[string]*FileEntry `json:"files"`
	TotalCommits      int                   `json:"total_commits"`
	TotalContributors int                   `json:"total_contributors"`
}

// Record holds the features of one commit. Keywords is serialized as flat
// kw_<keyword> fields.
type Record struct {
	CommitID                   string
	Author                     string
	Files                      []string
	Addition                   int
	Deletion                   int
	HunkCount                  int
	Keywords                   map[string]int
	AuthorContributionsPercent float64
	PastChanges                int
	FutureChanges              int
	PastDifferentAuthors       int
	FutureDifferentAuthors     int
}

type recordHead struct {
	CommitID  string   `json:"commit_id"`
	Author    string   `json:"author"`
	Files     []string `json:"files"`
	Addition  int      `json:"addition"`
	Deletion  int      `json:"deletion"`
	HunkCount int      `json:"hunk_count"`
}

type recordTail struct {
	AuthorContributionsPercent float64 `json:"author_contributions_percent"`
	PastChanges                int     `json:"past_changes"`
	FutureChanges              int     `json:"future_changes"`
	PastDifferentAuthors       int     `json:"past_different_authors"`
	FutureDifferentAuthors     int     `json:"future_different_authors"`
}

// MarshalJSON writes the fixed fields, then one kw_ field per vocabulary
// entry, then the history fields.
func (r Record) MarshalJSON() ([]byte, error) {
	head, err := json.Marshal(recordHead{
		CommitID: r.CommitID, Author: r.Author, Files: r.Files,
		Addition: r.Addition, Deletion: r.Deletion, HunkCount: r.HunkCount,
	})
	if err != nil {
		return nil, err
	}

	tail, err := json.Marshal(recordTail{
		AuthorContributionsPercent: r.AuthorContributionsPercent,
		PastChanges:                r.PastChanges,
		FutureChanges:              r.FutureChanges,
		PastDifferentAuthors:       r.PastDifferentAuthors,
		FutureDifferentAuthors:     r.FutureDifferentAuthors,
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	buf.Write(head[:len(head)-1])

	for _, kw := range Keywords {
		fmt.Fprintf(&buf, `,"%s%s":%d`, keywordPrefix, kw, r.Keywords[kw])
	}

	buf.WriteByte(',')
	buf.Write(tail[1:])

	return buf.Bytes(), nil
}

// UnmarshalJSON reads the layout written by MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var (
		head recordHead
		tail recordTail
		raw  map[string]json.RawMessage
	)

	for _, target := range []any{&head, &tail, &raw} {
		err := json.Unmarshal(data, target)
		if err != nil {
			return err
		}
	}

	keywords := make(map[string]int, len(Keywords))

	for key, value := range raw {
		kw, ok := strings.CutPrefix(key, keywordPrefix)
		if !ok {
			continue
		}

		var n int

		err := json.Unmarshal(value, &n)
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}

		keywords[kw] = n
	}

	*r = Record{
		CommitID:                   head.CommitID,
		Author:                     head.Author,
		Files:                      head.Files,
		Addition:                   head.Addition,
		Deletion:                   head.Deletion,
		HunkCount:                  head.HunkCount,
		Keywords:                   keywords,
		AuthorContributionsPercent: tail.AuthorContributionsPercent,
		PastChanges:                tail.PastChanges,
		FutureChanges:              tail.FutureChanges,
		PastDifferentAuthors:       tail.PastDifferentAuthors,
		FutureDifferentAuthors:     tail.FutureDifferentAuthors,
	}

	return nil
}

// Aggregator maintains the churn ledger.
type Aggregator struct {
	state State
}

// New returns an aggregator with an empty ledger.
func New() *Aggregator {
	return &Aggregator{state: emptyState()}
}

func emptyState() State {
	return State{
		Commits: map[string]*CommitEntry{},
		Authors: map[string][]string{},
		Files:   map[string]*FileEntry{},
	}
}

// Name implements features.Aggregator.
func (a *Aggregator) Name() string { return Name }

// StateVersion implements features.Aggregator.
func (a *Aggregator) StateVersion() int { return StateVersion }

// Ingest adds c to the ledger and returns the causal part of its record.
// A commit id that is already in the ledger is not counted twice.
func (a *Aggregator) Ingest(c *miner.Commit) (Record, error) {
	checkErr := features.CheckCommit(c)
	if checkErr != nil {
		return Record{}, checkErr
	}

	if entry, ok := a.state.Commits[c.CommitID]; ok {
		return causalRecord(c.CommitID, entry), nil
	}

	entry := churn(c)

	a.state.Authors[c.Author] = append(a.state.Authors[c.Author], c.CommitID)
	a.state.TotalCommits++
	a.state.TotalContributors = len(a.state.Authors)

	for _, path := range entry.Files {
		fe, ok := a.state.Files[path]
		if !ok {
			fe = &FileEntry{}
			a.state.Files[path] = fe
		}

		fe.CommitIDs = append(fe.CommitIDs, c.CommitID)

		if !slices.Contains(fe.Authors, c.Author) {
			fe.Authors = append(fe.Authors, c.Author)
		}
	}

	a.state.Commits[c.CommitID] = entry
	a.state.Order = append(a.state.Order, c.CommitID)

	return causalRecord(c.CommitID, entry), nil
}

// churn measures the changed lines of c.
func churn(c *miner.Commit) *CommitEntry {
	entry := &CommitEntry{
		Author:   c.Author,
		Files:    slices.Compact(slices.Clone(c.Files)),
		Keywords: make([]int, len(Keywords)),
	}

	for _, path := range entry.Files {
		d, ok := c.Diff[path]
		if !ok {
			continue
		}

		for _, h := range d.Content {
			entry.Addition += len(h.After)
			entry.Deletion += len(h.Before)
			entry.HunkCount++

			countKeywords(entry.Keywords, h.Before)
			countKeywords(entry.Keywords, h.After)
		}
	}

	return entry
}

// countKeywords counts whitespace-separated tokens that exactly equal a
// vocabulary entry.
func countKeywords(counts []int, lines []string) {
	for _, line := range lines {
		for _, word := range strings.Fields(line) {
			if i, ok := keywordIndex[word]; ok {
				counts[i]++
			}
		}
	}
}

func causalRecord(id string, e *CommitEntry) Record {
	keywords := make(map[string]int, len(Keywords))
	for i, kw := range Keywords {
		keywords[kw] = e.Keywords[i]
	}

	return Record{
		CommitID:  id,
		Author:    e.Author,
		Files:     slices.Clone(e.Files),
		Addition:  e.Addition,
		Deletion:  e.Deletion,
		HunkCount: e.HunkCount,
		Keywords:  keywords,
	}
}

// history holds, per position in a file's commit list, the counts of
// distinct other authors before and after that position.
type history struct {
	index  map[string]int
	past   []int
	future []int
}

func (a *Aggregator) fileHistory(fe *FileEntry) history {
	n := len(fe.CommitIDs)
	h := history{index: make(map[string]int, n), past: make([]int, n), future: make([]int, n)}

	authors := make([]string, n)
	for i, id := range fe.CommitIDs {
		h.index[id] = i
		authors[i] = a.state.Commits[id].Author
	}

	seen := map[string]int{}

	for i, author := range authors {
		h.past[i] = len(seen)
		if _, ok := seen[author]; ok {
			h.past[i]--
		}

		seen[author]++
	}

	seen = map[string]int{}

	for i := n - 1; i >= 0; i-- {
		h.future[i] = len(seen)
		if _, ok := seen[authors[i]]; ok {
			h.future[i]--
		}

		seen[authors[i]]++
	}

	return h
}

// Release emits the full record of every ingested commit in ingestion order.
// Past and future counts are taken strictly before and after the commit in
// each touched file's history. The author share is measured over the whole
// ledger. The ledger is not modified.
func (a *Aggregator) Release(emit func(Record) error) error {
	histories := make(map[string]history, len(a.state.Files))
	for path, fe := range a.state.Files {
		histories[path] = a.fileHistory(fe)
	}

	for _, id := range a.state.Order {
		entry := a.state.Commits[id]
		rec := causalRecord(id, entry)
		rec.AuthorContributionsPercent = a.authorShare(entry.Author)

		for _, path := range entry.Files {
			h, ok := histories[path]
			if !ok {
				continue
			}

			i := h.index[id]
			rec.PastChanges += i
			rec.FutureChanges += len(h.past) - 1 - i
			rec.PastDifferentAuthors += h.past[i]
			rec.FutureDifferentAuthors += h.future[i]
		}

		err := emit(rec)
		if err != nil {
			return fmt.Errorf("emit %s: %w", id, err)
		}
	}

	return nil
}

// authorShare is the fraction of all ingested commits written by author.
func (a *Aggregator) authorShare(author string) float64 {
	if a.state.TotalCommits == 0 {
		return 0
	}

	return float64(len(a.state.Authors[author])) / float64(a.state.TotalCommits)
}

// Snapshot implements features.Aggregator.
func (a *Aggregator) Snapshot() State {
	return cloneState(a.state)
}

// Restore implements features.Aggregator.
func (a *Aggregator) Restore(s State) error {
	if len(s.Order) != len(s.Commits) {
		return fmt.Errorf("%w: %d ordered ids for %d commits", ErrInvalidState, len(s.Order), len(s.Commits))
	}

	for _, id := range s.Order {
		entry, ok := s.Commits[id]
		if !ok || entry == nil {
			return fmt.Errorf("%w: commit %s missing from ledger", ErrInvalidState, id)
		}

		if len(entry.Keywords) != len(Keywords) {
			return fmt.Errorf("%w: commit %s has %d keyword counts", ErrInvalidState, id, len(entry.Keywords))
		}
	}

	for path, fe := range s.Files {
		if fe == nil {
			return fmt.Errorf("%w: file %s has no entry", ErrInvalidState, path)
		}

		for _, id := range fe.CommitIDs {
			if _, ok := s.Commits[id]; !ok {
				return fmt.Errorf("%w: file %s references unknown commit %s", ErrInvalidState, path, id)
			}
		}
	}

	a.state = cloneState(s)

	return nil
}

func cloneState(s State) State {
	out := emptyState()
	out.Order = slices.Clone(s.Order)
	out.TotalCommits = s.TotalCommits
	out.TotalContributors = s.TotalContributors

	for id, e := range s.Commits {
		cp := *e
		cp.Files = slices.Clone(e.Files)
		cp.Keywords = slices.Clone(e.Keywords)
		out.Commits[id] = &cp
	}

	for author, ids := range s.Authors {
		out.Authors[author] = slices.Clone(ids)
	}

	for path, fe := range s.Files {
		out.Files[path] = &FileEntry{CommitIDs: slices.Clone(fe.CommitIDs), Authors: slices.Clone(fe.Authors)}
	}

	return out
}
