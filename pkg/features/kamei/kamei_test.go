package kamei_test

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/defectminer/pkg/features"
	"github.com/Sumatoshi-tech/defectminer/pkg/features/kamei"
	"github.com/Sumatoshi-tech/defectminer/pkg/gitparse"
	"github.com/Sumatoshi-tech/defectminer/pkg/jsonl"
	"github.com/Sumatoshi-tech/defectminer/pkg/memrepo"
	"github.com/Sumatoshi-tech/defectminer/pkg/miner"
	"github.com/Sumatoshi-tech/defectminer/pkg/persist"
)

// change describes the lines added and deleted in one file and its original length.
type change struct {
	added, deleted, lines int
}

func lines(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}

	return out
}

func makeCommit(id, author string, date int64, message string, files map[string]change, order ...string) *miner.Commit {
	c := &miner.Commit{
		CommitID: id,
		Author:   author,
		Date:     date,
		Message:  message,
		Diff:     map[string]gitparse.FileDiff{},
		Blame:    map[string]gitparse.BlameMap{},
	}

	for _, path := range order {
		ch := files[path]
		c.Files = append(c.Files, path)
		c.Diff[path] = gitparse.FileDiff{
			From:    gitparse.FileSide{File: path, Mode: "100644"},
			To:      gitparse.FileSide{File: path, Mode: "100644"},
			Content: []gitparse.Hunk{{Before: lines("-", ch.deleted), After: lines("+", ch.added)}},
			MetaA:   &gitparse.Meta{Start: 1, Lines: ch.lines},
		}
	}

	return c
}

func TestEntropy(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.0, kamei.Entropy(nil), 0)
	assert.InDelta(t, 0.0, kamei.Entropy([]int{7}), 0)
	assert.InDelta(t, 1.0, kamei.Entropy([]int{4, 4}), 0)
	assert.InDelta(t, 2.0, kamei.Entropy([]int{1, 1, 1, 1}), 0)
	assert.InDelta(t, 1.0, kamei.Entropy([]int{3, 0, 3}), 0)
	assert.InDelta(t, 0.8112781244591328, kamei.Entropy([]int{1, 3}), 1e-12)
}

func TestIngest_EntropyBoundaries(t *testing.T) {
	t.Parallel()

	agg := kamei.New()

	one, err := agg.Ingest(makeCommit("c1", "ann", 100, "init", map[string]change{"a.c": {added: 5}}, "a.c"))
	require.NoError(t, err)
	assert.Zero(t, one.Entropy)

	two, err := agg.Ingest(makeCommit("c2", "ann", 200, "tweak", map[string]change{
		"src/a.c": {added: 2, deleted: 1, lines: 10},
		"lib/b.c": {added: 1, deleted: 2, lines: 20},
	}, "src/a.c", "lib/b.c"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, two.Entropy)
	assert.Equal(t, 3, two.LA)
	assert.Equal(t, 3, two.LD)
	assert.Equal(t, 30, two.LT)
	assert.Equal(t, 2, two.NS)
	assert.Equal(t, 2, two.ND)
	assert.Equal(t, 2, two.NF)
}

func TestIngest_Diffusion(t *testing.T) {
	t.Parallel()

	rec, err := kamei.New().Ingest(makeCommit("c1", "ann", 1, "x", map[string]change{
		"Makefile":       {added: 1},
		"src/net/http.c": {added: 1},
		"src/net/tcp.c":  {added: 1},
		"src/io/http.c":  {added: 1},
	}, "Makefile", "src/net/http.c", "src/net/tcp.c", "src/io/http.c"))
	require.NoError(t, err)

	assert.Equal(t, 2, rec.NS, "root and src")
	assert.Equal(t, 3, rec.ND, "root, src/net and src/io")
	assert.Equal(t, 3, rec.NF, "Makefile, http.c and tcp.c")
}

func TestIsFix(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"Fix buffer overflow in parser":        true,
		"prevent XSS in templates":             true,
		"Harden the TLS config":                true,
		"Security: reject unauthorized tokens": true,
		"add feature flag for dark mode":       false,
		"refactor xssfilter naming":            false,
		"":                                     false,
	}

	for msg, want := range tests {
		assert.Equal(t, want, kamei.IsFix(msg), msg)
	}
}

func TestIngest_HistoryAndExperience(t *testing.T) {
	t.Parallel()

	const day = 86400

	agg := kamei.New()

	_, err := agg.Ingest(makeCommit("c1", "ann", 0, "a", map[string]change{"src/a.c": {added: 1}}, "src/a.c"))
	require.NoError(t, err)

	_, err = agg.Ingest(makeCommit("c2", "bob", 2*day, "b", map[string]change{"src/a.c": {added: 1}}, "src/a.c"))
	require.NoError(t, err)

	rec, err := agg.Ingest(makeCommit("c3", "ann", 4*day, "c", map[string]change{
		"src/a.c": {added: 1},
		"doc/b.c": {added: 1},
	}, "src/a.c", "doc/b.c"))
	require.NoError(t, err)

	assert.Equal(t, 2, rec.NDev)
	assert.Equal(t, 3+1, rec.NUC)
	assert.InDelta(t, 1.0, rec.Age, 1e-12, "src/a.c interval 2 days, doc/b.c first touch")
	assert.Equal(t, 1, rec.Exp)
	assert.InDelta(t, 1.0/5, rec.Rexp, 1e-12)
	assert.Equal(t, 1, rec.Sexp)
}

func TestIngest_RejectsMissingID(t *testing.T) {
	t.Parallel()

	_, err := kamei.New().Ingest(&miner.Commit{})
	require.ErrorIs(t, err, features.ErrInvalidCommit)
}

// tenCommits interleaves two authors working on disjoint files.
func tenCommits() []*miner.Commit {
	var out []*miner.Commit

	for i := range 10 {
		author, path := "ann", "a/x.c"
		if i%2 == 1 {
			author, path = "bob", "b/y.c"
		}

		out = append(out, makeCommit(fmt.Sprintf("c%d", i), author, int64(1000*(i+1)), "change",
			map[string]change{path: {added: i + 1, deleted: i % 3, lines: 50}}, path))
	}

	return out
}

func TestCausality_OrderIndependence(t *testing.T) {
	t.Parallel()

	commits := tenCommits()

	chronological := kamei.New()
	for _, c := range commits {
		_, err := chronological.Ingest(c)
		require.NoError(t, err)
	}

	// All of ann's commits, then all of bob's: per-author and per-file order
	// is still non-decreasing.
	grouped := kamei.New()
	guard := features.NewOrderGuard()

	for _, parity := range []int{0, 1} {
		for i, c := range commits {
			if i%2 != parity {
				continue
			}

			require.NoError(t, guard.Admit(c))

			_, err := grouped.Ingest(c)
			require.NoError(t, err)
		}
	}

	assert.Equal(t, chronological.Snapshot(), grouped.Snapshot())
}

func TestCausality_DescendingStreamIsRejected(t *testing.T) {
	t.Parallel()

	commits := tenCommits()
	guard := features.NewOrderGuard()

	require.NoError(t, guard.Admit(commits[9]))
	require.NoError(t, guard.Admit(commits[8]), "different author and file")

	err := guard.Admit(commits[7])

	var leak *features.LeakageError
	require.ErrorAs(t, err, &leak)
	require.ErrorIs(t, err, features.ErrTemporalLeakage)
	assert.Equal(t, "c7", leak.CommitID)
	assert.Equal(t, "author:bob", leak.Key)
}

func TestSnapshotRestore_Equivalence(t *testing.T) {
	t.Parallel()

	commits := tenCommits()

	straight := kamei.New()

	var want []kamei.Record

	for _, c := range commits {
		rec, err := straight.Ingest(c)
		require.NoError(t, err)

		want = append(want, rec)
	}

	first := kamei.New()
	for _, c := range commits[:5] {
		_, err := first.Ingest(c)
		require.NoError(t, err)
	}

	codec := persist.NewJSONCodec()

	var buf bytes.Buffer
	require.NoError(t, codec.Encode(&buf, first.Snapshot()))

	var decoded kamei.State
	require.NoError(t, codec.Decode(&buf, &decoded))

	resumed := kamei.New()
	require.NoError(t, resumed.Restore(decoded))

	for i, c := range commits[5:] {
		rec, err := resumed.Ingest(c)
		require.NoError(t, err)
		assert.Equal(t, want[5+i], rec)
	}

	assert.Equal(t, straight.Snapshot(), resumed.Snapshot())
}

func TestSnapshot_IsIsolated(t *testing.T) {
	t.Parallel()

	commits := tenCommits()
	agg := kamei.New()

	_, err := agg.Ingest(commits[0])
	require.NoError(t, err)

	snap := agg.Snapshot()

	_, err = agg.Ingest(commits[2])
	require.NoError(t, err)

	assert.Equal(t, []int64{1000}, snap.Authors["ann"]["a/x.c"])
	assert.Equal(t, 1, snap.Files["a/x.c"].UniqueChanges)

	require.ErrorIs(t, agg.Restore(kamei.State{Files: map[string]*kamei.FileHistory{"x": nil}}), kamei.ErrInvalidState)
}

// TestEndToEnd mines a three commit repository and checks the features of the
// second commit, which changes two lines of a file added by the same author.
func TestEndToEnd_ThreeCommitRepository(t *testing.T) {
	t.Parallel()

	repo := memrepo.New()

	x := lines("int v", 10)
	repo.Commit(memrepo.Signature{Author: "ann", Date: 1000}, "add x", memrepo.Change{Path: "x.c", Lines: x})

	edited := append([]string(nil), x...)
	edited[3] = "int w3;"
	edited[7] = "int w7;"
	repo.Commit(memrepo.Signature{Author: "ann", Date: 2000}, "tune x", memrepo.Change{Path: "x.c", Lines: edited})

	repo.Commit(memrepo.Signature{Author: "bob", Date: 3000}, "add y", memrepo.Change{Path: "y.c", Lines: lines("int y", 4)})

	dir := t.TempDir()
	out := filepath.Join(dir, "commits.jsonl.lz4")

	sink, err := jsonl.Create(out)
	require.NoError(t, err)

	o := miner.NewOrchestrator(func() (miner.Repository, error) { return repo, nil }, miner.Config{
		Workers:   2,
		ChunkDir:  filepath.Join(dir, "chunks"),
		RepoName:  "e2e",
		Extractor: miner.ExtractorConfig{Language: "C"},
	})

	stats, err := o.Mine(context.Background(), miner.Range{}, sink)
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.Equal(t, 3, stats.Merged)

	_, err = features.ValidateStream(out)
	require.NoError(t, err)

	agg := kamei.New()

	var records []kamei.Record

	require.NoError(t, jsonl.Each(out, func(c miner.Commit) error {
		rec, ingestErr := agg.Ingest(&c)
		records = append(records, rec)

		return ingestErr
	}))
	require.Len(t, records, 3)

	a, b, c := records[0], records[1], records[2]

	assert.Equal(t, 10, a.LA)
	assert.Equal(t, 0, a.Exp)
	assert.Equal(t, 1, a.NUC)

	assert.Equal(t, 1, b.NF)
	assert.Equal(t, 1, b.NS)
	assert.Equal(t, 1, b.NDev)
	assert.Equal(t, 2, b.NUC)
	assert.Equal(t, 1, b.Exp)
	assert.Equal(t, 2, b.LA)
	assert.Equal(t, 2, b.LD)
	assert.Equal(t, 10, b.LT)
	assert.Zero(t, b.Entropy)
	assert.InDelta(t, 1000.0/86400, b.Age, 1e-12)
	assert.Equal(t, 1, b.Sexp)

	assert.Equal(t, 0, c.Exp)
	assert.Equal(t, 1, c.NDev)
	assert.Equal(t, 1, c.NUC)
	assert.Equal(t, 0, c.Sexp)
}
