package gitlib

import (
	"context"
	"errors"
	"fmt"

	git2go "github.com/libgit2/git2go/v34"

	"github.com/Sumatoshi-tech/defectminer/pkg/safeconv"
)

// ErrParentNotFound is returned when a commit's first parent cannot be loaded.
var ErrParentNotFound = errors.New("parent commit not found")

// FullContext is the context line count that makes every hunk span its whole
// file, matching `git show --unified=999999999`.
const FullContext = 999999999

// Diff returns the patch text of commit id against its first parent. Root
// commits diff against the empty tree. Merge commits yield an empty patch,
// like the combined diff `git show` prints for them, which holds no
// `diff --git` sections.
func (r *Repository) Diff(ctx context.Context, id string) (string, error) {
	_, span := tracer.Start(ctx, "gitlib.diff")
	defer span.End()

	commit, err := r.lookupCommit(id)
	if err != nil {
		return "", err
	}
	defer commit.Free()

	if commit.ParentCount() > 1 {
		return "", nil
	}

	newTree, err := commit.Tree()
	if err != nil {
		return "", fmt.Errorf("get commit tree: %w", err)
	}
	defer newTree.Free()

	var oldTree *git2go.Tree

	if commit.ParentCount() == 1 {
		parent := commit.Parent(0)
		if parent == nil {
			return "", fmt.Errorf("%w: %s", ErrParentNotFound, id)
		}
		defer parent.Free()

		oldTree, err = parent.Tree()
		if err != nil {
			return "", fmt.Errorf("get parent tree: %w", err)
		}
		defer oldTree.Free()
	}

	return r.patch(oldTree, newTree)
}

func (r *Repository) patch(oldTree, newTree *git2go.Tree) (string, error) {
	opts, err := git2go.DefaultDiffOptions()
	if err != nil {
		return "", fmt.Errorf("get diff options: %w", err)
	}

	opts.ContextLines = safeconv.MustIntToUint32(FullContext)

	diff, err := r.repo.DiffTreeToTree(oldTree, newTree, &opts)
	if err != nil {
		return "", fmt.Errorf("diff trees: %w", err)
	}
	defer diff.Free()

	findOpts, err := git2go.DefaultDiffFindOptions()
	if err != nil {
		return "", fmt.Errorf("get find options: %w", err)
	}

	findErr := diff.FindSimilar(&findOpts)
	if findErr != nil {
		return "", fmt.Errorf("detect renames: %w", findErr)
	}

	buf, err := diff.ToBuf(git2go.DiffFormatPatch)
	if err != nil {
		return "", fmt.Errorf("format patch: %w", err)
	}

	return string(buf), nil
}
