package memrepo_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/defectminer/pkg/gitparse"
	"github.com/Sumatoshi-tech/defectminer/pkg/memrepo"
)

func numbered(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("line %d;", i+1)
	}

	return out
}

func TestRepo_HistoryDiffAndBlame(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memrepo.New()

	a := repo.Commit(memrepo.Signature{Author: "Ann", Date: 100}, "add x", memrepo.Change{Path: "x.c", Lines: numbered(10)})

	edited := numbered(10)
	edited[2] = "changed 3;"
	edited[6] = "changed 7;"
	b := repo.Commit(memrepo.Signature{Author: "Ann", Date: 200}, "edit x\n\nTwo lines.", memrepo.Change{Path: "x.c", Lines: edited})

	ids, err := repo.CommitIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{b, a}, ids)

	h, err := repo.Header(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, a, h.Parent())
	assert.Equal(t, "edit x", h.Subject)
	assert.Equal(t, "edit x  Two lines.", h.Message)
	assert.Equal(t, int64(200), h.Date)

	rootHeader, err := repo.Header(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, rootHeader.Parent())

	rawA, err := repo.Diff(ctx, a)
	require.NoError(t, err)

	diffsA, errs := gitparse.ParseCommitDiff(rawA)
	require.Empty(t, errs)
	require.Len(t, diffsA, 1)
	assert.True(t, diffsA[0].IsAdded())
	assert.Len(t, diffsA[0].Content[0].After, 10)

	rawB, err := repo.Diff(ctx, b)
	require.NoError(t, err)

	diffsB, errs := gitparse.ParseCommitDiff(rawB)
	require.Empty(t, errs)
	require.Len(t, diffsB, 1)
	require.Len(t, diffsB[0].Content, 2)
	assert.Equal(t, []string{"line 3;"}, diffsB[0].Content[0].Before)
	assert.Equal(t, []string{"changed 3;"}, diffsB[0].Content[0].After)
	assert.Equal(t, 10, diffsB[0].MetaA.Lines)

	blameLines, err := repo.Blame(ctx, b, "x.c")
	require.NoError(t, err)

	bm, err := gitparse.ParseBlame(blameLines)
	require.NoError(t, err)
	require.Len(t, bm, 2)
	assert.Equal(t, []gitparse.Range{{Start: 1, End: 2}, {Start: 4, End: 6}, {Start: 8, End: 10}}, bm[a].Ranges)
	assert.Equal(t, []gitparse.Range{{Start: 3, End: 3}, {Start: 7, End: 7}}, bm[b].Ranges)
}

func TestRepo_DeleteAndErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memrepo.New()

	a := repo.Commit(memrepo.Signature{Author: "Ann", Date: 1}, "add", memrepo.Change{Path: "d/y.c", Lines: []string{"one"}})
	b := repo.Commit(memrepo.Signature{Author: "Bob", Date: 2}, "rm", memrepo.Change{Path: "d/y.c", Delete: true})

	raw, err := repo.Diff(ctx, b)
	require.NoError(t, err)

	diffs, errs := gitparse.ParseCommitDiff(raw)
	require.Empty(t, errs)
	require.Len(t, diffs, 1)
	assert.True(t, diffs[0].IsDeleted())
	assert.Equal(t, "d/y.c", diffs[0].DestPath())
	assert.Equal(t, []string{"one"}, diffs[0].Content[0].Before)

	_, err = repo.Blame(ctx, b, "d/y.c")
	require.ErrorIs(t, err, memrepo.ErrNoSuchPath)

	lines, err := repo.Blame(ctx, a, "d/y.c")
	require.NoError(t, err)
	assert.Len(t, lines, 1)

	_, err = repo.Header(ctx, "feedface")
	require.ErrorIs(t, err, memrepo.ErrUnknownCommit)
	assert.Equal(t, 2, repo.Len())
}
