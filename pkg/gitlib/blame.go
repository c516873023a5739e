package gitlib

import (
	"context"
	"fmt"
	"strings"

	git2go "github.com/libgit2/git2go/v34"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// blameLineFormat renders a hunk line the way `git blame -t -n -l` prints it.
const blameLineFormat = "%s %d (%s %d %s %d) %s"

// Blame returns the blame of path as of rev, one `git blame -t -n -l --root`
// style line per line of the file.
func (r *Repository) Blame(ctx context.Context, rev, path string) ([]string, error) {
	_, span := tracer.Start(ctx, "gitlib.blame", trace.WithAttributes(attribute.String("commit.id", rev)))
	defer span.End()

	commit, err := r.lookupCommit(rev)
	if err != nil {
		return nil, err
	}
	defer commit.Free()

	contents, err := r.fileContents(commit, path)
	if err != nil {
		return nil, err
	}

	opts, err := git2go.DefaultBlameOptions()
	if err != nil {
		return nil, fmt.Errorf("get blame options: %w", err)
	}

	opts.NewestCommit = commit.Id()

	blame, err := r.repo.BlameFile(path, &opts)
	if err != nil {
		return nil, fmt.Errorf("blame %s at %s: %w", path, rev, err)
	}
	defer blame.Free()

	out := make([]string, 0, len(contents))

	for i, content := range contents {
		lineno := i + 1

		hunk, hunkErr := blame.HunkByLine(lineno)
		if hunkErr != nil {
			return nil, fmt.Errorf("blame %s line %d: %w", path, lineno, hunkErr)
		}

		offset := lineno - int(hunk.FinalStartLineNumber)

		sig := hunk.FinalSignature

		out = append(out, fmt.Sprintf(blameLineFormat,
			hunk.FinalCommitId.String(),
			int(hunk.OrigStartLineNumber)+offset,
			sig.Name,
			sig.When.Unix(),
			sig.When.Format("-0700"),
			lineno,
			content,
		))
	}

	return out, nil
}

func (r *Repository) fileContents(commit *git2go.Commit, path string) ([]string, error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("get commit tree: %w", err)
	}
	defer tree.Free()

	entry, err := tree.EntryByPath(path)
	if err != nil {
		return nil, fmt.Errorf("no such path %s: %w", path, err)
	}

	blob, err := r.repo.LookupBlob(entry.Id)
	if err != nil {
		return nil, fmt.Errorf("lookup blob: %w", err)
	}
	defer blob.Free()

	text := strings.TrimSuffix(string(blob.Contents()), "\n")
	if text == "" {
		return nil, nil
	}

	return strings.Split(text, "\n"), nil
}
