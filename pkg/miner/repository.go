// Package miner walks a repository's history in parallel shards, extracts one
// Commit record per relevant commit and merges the shards back into a single
// chronological stream.
package miner

import (
	"context"
	"io"
	"slices"
	"strconv"

	"github.com/Sumatoshi-tech/defectminer/pkg/gitparse"
)

// Repository is the read-only view of a git repository the miner needs.
type Repository interface {
	// CommitIDs lists commit ids reachable from HEAD, newest first.
	CommitIDs(ctx context.Context) ([]string, error)
	// Header returns the header fields of a commit.
	Header(ctx context.Context, id string) (gitparse.Header, error)
	// Diff returns the full-context unified diff of a commit against its first parent.
	Diff(ctx context.Context, id string) (string, error)
	// Blame returns `git blame -t -n -l` lines of path at rev.
	Blame(ctx context.Context, rev, path string) ([]string, error)
}

// Opener creates a repository handle. The orchestrator opens one handle per
// shard and closes it when the shard ends if it implements io.Closer.
type Opener func() (Repository, error)

func closeRepo(repo Repository) error {
	if c, ok := repo.(io.Closer); ok {
		return c.Close()
	}

	return nil
}

// Range selects a window of the newest-first history. End <= 0 means no
// upper bound.
type Range struct {
	Start int
	End   int
}

// Apply slices newest-first ids to the window and returns them oldest first.
func (r Range) Apply(ids []string) []string {
	start := min(max(r.Start, 0), len(ids))

	end := len(ids)
	if r.End > 0 {
		end = min(r.End, len(ids))
	}

	if start >= end {
		return nil
	}

	out := slices.Clone(ids[start:end])
	slices.Reverse(out)

	return out
}

// Suffix renders the window for output file names, e.g. "-start-10-end-20".
func (r Range) Suffix() string {
	s := ""
	if r.Start > 0 {
		s += "-start-" + strconv.Itoa(r.Start)
	}

	if r.End > 0 {
		s += "-end-" + strconv.Itoa(r.End)
	}

	return s
}
