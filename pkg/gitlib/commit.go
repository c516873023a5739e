package gitlib

import (
	"context"
	"strings"

	"github.com/Sumatoshi-tech/defectminer/pkg/gitparse"
	"github.com/Sumatoshi-tech/defectminer/pkg/safeconv"
)

// Header returns the header fields of commit id. Date is the committer time,
// as in gitparse.HeaderFormat. The message body is flattened the same way
// gitparse.ParseHeader flattens `git show` output.
func (r *Repository) Header(_ context.Context, id string) (gitparse.Header, error) {
	commit, err := r.lookupCommit(id)
	if err != nil {
		return gitparse.Header{}, err
	}
	defer commit.Free()

	parents := make([]string, 0, commit.ParentCount())
	for n := range safeconv.MustUintToInt(commit.ParentCount()) {
		parents = append(parents, commit.ParentId(safeconv.MustIntToUint(n)).String())
	}

	return gitparse.Header{
		ID:        commit.Id().String(),
		ParentIDs: parents,
		Author:    commit.Author().Name,
		Date:      commit.Committer().When.Unix(),
		Subject:   commit.Summary(),
		Message:   flattenMessage(commit.Message()),
	}, nil
}

func flattenMessage(msg string) string {
	lines := strings.Split(strings.TrimRight(msg, "\n"), "\n")

	return strings.Join(lines, " ")
}
