// Package features holds the contracts shared by the feature aggregators and
// the runner that feeds them a mined commit stream.
//
// Aggregators are causal: the record returned for a commit may only depend on
// the commits ingested before it. They are not safe for concurrent use.
package features

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/Sumatoshi-tech/defectminer/pkg/jsonl"
	"github.com/Sumatoshi-tech/defectminer/pkg/miner"
)

// rootSubsystem names the subsystem and directory of top-level files.
const rootSubsystem = "root"

// Sentinel errors.
var (
	ErrTemporalLeakage = errors.New("commit precedes already ingested history")
	ErrInvalidCommit   = errors.New("invalid commit record")
)

// Aggregator folds commits into running state and returns one record per
// commit. S is the serializable snapshot of that state.
type Aggregator[R, S any] interface {
	// Name identifies the aggregator in checkpoints and file names.
	Name() string
	// StateVersion changes whenever the layout of S changes.
	StateVersion() int
	Ingest(c *miner.Commit) (R, error)
	// Snapshot returns a copy of the state that later ingestion does not mutate.
	Snapshot() S
	Restore(state S) error
}

// Releaser is implemented by aggregators whose final records need the whole
// stream. The runner calls Release once after the last commit instead of
// writing the records returned by Ingest.
type Releaser[R any] interface {
	Release(emit func(R) error) error
}

// CheckCommit rejects records that cannot be aggregated.
func CheckCommit(c *miner.Commit) error {
	if c == nil || c.CommitID == "" {
		return fmt.Errorf("%w: missing commit id", ErrInvalidCommit)
	}

	return nil
}

// PathParts splits a repository path into its subsystem (first directory),
// directory and file name. Top-level files belong to the "root" subsystem and
// directory.
func PathParts(p string) (subsystem, directory, name string) {
	dirs := strings.Split(p, "/")
	name = dirs[len(dirs)-1]

	if len(dirs) == 1 {
		return rootSubsystem, rootSubsystem, name
	}

	return dirs[0], strings.Join(dirs[:len(dirs)-1], "/"), name
}

// LeakageError describes a commit that arrived after newer history of the same
// author or file.
type LeakageError struct {
	CommitID string
	// Key is "author:<name>" or "file:<path>".
	Key  string
	Date int64
	Seen int64
}

// Error implements the error interface.
func (e *LeakageError) Error() string {
	return fmt.Sprintf("commit %s dated %d precedes %d already seen for %s", e.CommitID, e.Date, e.Seen, e.Key)
}

// Unwrap returns ErrTemporalLeakage.
func (e *LeakageError) Unwrap() error {
	return ErrTemporalLeakage
}

// OrderGuard tracks the latest date seen per author and per file and rejects
// commits that would feed an aggregator history from its future.
type OrderGuard struct {
	Authors map[string]int64 `json:"authors"`
	Files   map[string]int64 `json:"files"`
}

// NewOrderGuard returns an empty guard.
func NewOrderGuard() *OrderGuard {
	return &OrderGuard{Authors: map[string]int64{}, Files: map[string]int64{}}
}

// Admit checks c against the history seen so far and records it. A rejected
// commit leaves the guard unchanged.
func (g *OrderGuard) Admit(c *miner.Commit) error {
	if seen, ok := g.Authors[c.Author]; ok && c.Date < seen {
		return &LeakageError{CommitID: c.CommitID, Key: "author:" + c.Author, Date: c.Date, Seen: seen}
	}

	for _, f := range c.Files {
		if seen, ok := g.Files[f]; ok && c.Date < seen {
			return &LeakageError{CommitID: c.CommitID, Key: "file:" + f, Date: c.Date, Seen: seen}
		}
	}

	g.Authors[c.Author] = c.Date

	for _, f := range c.Files {
		g.Files[f] = c.Date
	}

	return nil
}

// Clone returns an independent copy of the guard.
func (g *OrderGuard) Clone() *OrderGuard {
	return &OrderGuard{Authors: maps.Clone(g.Authors), Files: maps.Clone(g.Files)}
}

// StreamStats summarizes a validated commit stream.
type StreamStats struct {
	Records   int
	FirstDate int64
	LastDate  int64
}

// ValidateStream checks that the commit stream at path is ordered by
// non-decreasing date and that every record carries a commit id.
func ValidateStream(path string) (StreamStats, error) {
	var (
		stats StreamStats
		prev  string
	)

	err := jsonl.Each(path, func(c miner.Commit) error {
		checkErr := CheckCommit(&c)
		if checkErr != nil {
			return fmt.Errorf("record %d: %w", stats.Records+1, checkErr)
		}

		if stats.Records > 0 && c.Date < stats.LastDate {
			return fmt.Errorf("record %d: commit %s dated %d after %s dated %d: %w",
				stats.Records+1, c.CommitID, c.Date, prev, stats.LastDate, ErrTemporalLeakage)
		}

		if stats.Records == 0 {
			stats.FirstDate = c.Date
		}

		stats.Records++
		stats.LastDate = c.Date
		prev = c.CommitID

		return nil
	})

	return stats, err
}
