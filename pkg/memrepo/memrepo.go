// Package memrepo provides an in-memory, linear-history repository that
// renders the same text git prints for `show --unified`, `blame -t -n -l` and
// the commit header format, so the miner can run without a git binary.
package memrepo

import (
	"context"
	"crypto/sha1" //nolint:gosec // object ids, not security.
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/Sumatoshi-tech/defectminer/pkg/gitparse"
)

// Sentinel errors.
var (
	ErrUnknownCommit = errors.New("unknown commit")
	ErrNoSuchPath    = errors.New("no such path")
)

const (
	fileMode   = "100644"
	shortBlob  = 7
	nullBlobID = "0000000"
)

// Change replaces the content of Path, or removes it when Delete is set.
type Change struct {
	Path   string
	Lines  []string
	Delete bool
}

// Signature identifies a commit's author and time.
type Signature struct {
	Author string
	// Date is UTC seconds.
	Date int64
}

type origin struct {
	commit string
	line   int
	author string
	date   int64
}

type fileVersion struct {
	lines   []string
	origins []origin
}

type commit struct {
	id       string
	parent   string
	sig      Signature
	message  string
	diff     string
	snapshot map[string]*fileVersion
}

// Repo is a linear history. Commit must not run concurrently with reads;
// reads are safe from any number of goroutines.
type Repo struct {
	mu      sync.RWMutex
	commits []*commit
	byID    map[string]*commit
}

// New returns an empty repository.
func New() *Repo {
	return &Repo{byID: make(map[string]*commit)}
}

// Commit records a new commit on top of the current head and returns its id.
func (r *Repo) Commit(sig Signature, message string, changes ...Change) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		parent *commit
		prev   = map[string]*fileVersion{}
	)

	if n := len(r.commits); n > 0 {
		parent = r.commits[n-1]
		prev = parent.snapshot
	}

	c := &commit{sig: sig, message: message, snapshot: make(map[string]*fileVersion, len(prev))}
	for path, fv := range prev {
		c.snapshot[path] = fv
	}

	if parent != nil {
		c.parent = parent.id
	}

	c.id = commitID(c.parent, sig, message, len(r.commits))

	var diff strings.Builder

	for _, ch := range changes {
		old := prev[ch.Path]

		if ch.Delete {
			if old == nil {
				continue
			}

			delete(c.snapshot, ch.Path)
			diff.WriteString(renderFileDiff(ch.Path, old.lines, nil, false, true))

			continue
		}

		var oldLines []string
		if old != nil {
			oldLines = old.lines
		}

		c.snapshot[ch.Path] = nextVersion(old, ch.Lines, c.id, sig)
		diff.WriteString(renderFileDiff(ch.Path, oldLines, ch.Lines, old == nil, false))
	}

	c.diff = diff.String()
	r.commits = append(r.commits, c)
	r.byID[c.id] = c

	return c.id
}

// Len returns the number of commits.
func (r *Repo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.commits)
}

// CommitIDs returns every commit id, newest first.
func (r *Repo) CommitIDs(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.commits))
	for _, c := range slices.Backward(r.commits) {
		ids = append(ids, c.id)
	}

	return ids, nil
}

// Header returns the parsed header of id.
func (r *Repo) Header(_ context.Context, id string) (gitparse.Header, error) {
	c, err := r.lookup(id)
	if err != nil {
		return gitparse.Header{}, err
	}

	subject, _, _ := strings.Cut(c.message, "\n")
	raw := strings.Join([]string{c.id, c.parent, c.sig.Author, fmt.Sprint(c.sig.Date), subject, c.message}, "\n")

	return gitparse.ParseHeader(raw)
}

// Diff returns the full-context diff of id against its parent.
func (r *Repo) Diff(_ context.Context, id string) (string, error) {
	c, err := r.lookup(id)
	if err != nil {
		return "", err
	}

	return c.diff, nil
}

// Blame returns blame lines of path as of rev.
func (r *Repo) Blame(_ context.Context, rev, path string) ([]string, error) {
	c, err := r.lookup(rev)
	if err != nil {
		return nil, err
	}

	fv, ok := c.snapshot[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrNoSuchPath, path, rev)
	}

	out := make([]string, len(fv.lines))
	for i, line := range fv.lines {
		o := fv.origins[i]
		out[i] = fmt.Sprintf("%s %d (%s %d +0000 %d) %s", o.commit, o.line, o.author, o.date, i+1, line)
	}

	return out, nil
}

func (r *Repo) lookup(id string) (*commit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommit, id)
	}

	return c, nil
}

func commitID(parent string, sig Signature, message string, seq int) string {
	h := sha1.New() //nolint:gosec // object ids, not security.
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%s\x00%d", parent, sig.Author, sig.Date, message, seq)

	return hex.EncodeToString(h.Sum(nil))
}

func blobID(lines []string) string {
	if lines == nil {
		return nullBlobID
	}

	sum := sha1.Sum([]byte(joinLines(lines))) //nolint:gosec // object ids, not security.

	return hex.EncodeToString(sum[:])[:shortBlob]
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}

	return strings.Join(lines, "\n") + "\n"
}

// lineOps diffs old against new line by line.
func lineOps(oldLines, newLines []string) []diffmatchpatch.Diff {
	dmp := diffmatchpatch.New()
	src, dst, _ := dmp.DiffLinesToRunes(joinLines(oldLines), joinLines(newLines))

	return dmp.DiffMainRunes(src, dst, false)
}

// nextVersion carries blame origins of unchanged lines over from old.
func nextVersion(old *fileVersion, lines []string, id string, sig Signature) *fileVersion {
	fv := &fileVersion{lines: slices.Clone(lines), origins: make([]origin, 0, len(lines))}

	var oldLines []string
	if old != nil {
		oldLines = old.lines
	}

	oldIdx := 0

	for _, op := range lineOps(oldLines, lines) {
		size := len([]rune(op.Text))

		switch op.Type {
		case diffmatchpatch.DiffEqual:
			fv.origins = append(fv.origins, old.origins[oldIdx:oldIdx+size]...)
			oldIdx += size
		case diffmatchpatch.DiffDelete:
			oldIdx += size
		case diffmatchpatch.DiffInsert:
			for range size {
				fv.origins = append(fv.origins, origin{
					commit: id,
					line:   len(fv.origins) + 1,
					author: sig.Author,
					date:   sig.Date,
				})
			}
		}
	}

	return fv
}

func renderFileDiff(path string, oldLines, newLines []string, added, deleted bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "diff --git a/%s b/%s\n", path, path)

	fromBlob, toBlob := blobID(oldLines), blobID(newLines)

	switch {
	case added:
		fmt.Fprintf(&b, "new file mode %s\nindex %s..%s\n", fileMode, nullBlobID, toBlob)
	case deleted:
		fmt.Fprintf(&b, "deleted file mode %s\nindex %s..%s\n", fileMode, fromBlob, nullBlobID)
	default:
		fmt.Fprintf(&b, "index %s..%s %s\n", fromBlob, toBlob, fileMode)
	}

	if len(oldLines) == 0 && len(newLines) == 0 {
		return b.String()
	}

	fromName, toName := "a/"+path, "b/"+path
	if added {
		fromName = "/dev/null"
	}

	if deleted {
		toName = "/dev/null"
	}

	fmt.Fprintf(&b, "--- %s\n+++ %s\n@@ -%s +%s @@\n", fromName, toName,
		hunkRange(len(oldLines)), hunkRange(len(newLines)))

	oldIdx, newIdx := 0, 0

	for _, op := range lineOps(oldLines, newLines) {
		size := len([]rune(op.Text))

		switch op.Type {
		case diffmatchpatch.DiffEqual:
			for _, l := range oldLines[oldIdx : oldIdx+size] {
				b.WriteString(" " + l + "\n")
			}

			oldIdx += size
			newIdx += size
		case diffmatchpatch.DiffDelete:
			for _, l := range oldLines[oldIdx : oldIdx+size] {
				b.WriteString("-" + l + "\n")
			}

			oldIdx += size
		case diffmatchpatch.DiffInsert:
			for _, l := range newLines[newIdx : newIdx+size] {
				b.WriteString("+" + l + "\n")
			}

			newIdx += size
		}
	}

	return b.String()
}

// hunkRange renders one side of a full-context chunk header the way git does.
func hunkRange(count int) string {
	switch count {
	case 0:
		return "0,0"
	case 1:
		return "1"
	default:
		return fmt.Sprintf("1,%d", count)
	}
}
