package gitparse_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/defectminer/pkg/gitparse"
)

const blameID = "746f1ff36ac0d232687820fbde4e4efc79093af7"

func TestParseBlame_CoalescesConsecutiveLines(t *testing.T) {
	t.Parallel()

	lines := []string{
		blameID + "   1 (Rémi Denis-Courmont 1664203942 +0300   5) /*",
		blameID + "   2 (Rémi Denis-Courmont 1664203942 +0300   6)  * Copyright",
		blameID + "   3 (Rémi Denis-Courmont 1664203942 +0300   7)  */",
	}

	bm, err := gitparse.ParseBlame(lines)
	require.NoError(t, err)
	require.Len(t, bm, 1)

	rec := bm[blameID]
	require.NotNil(t, rec)
	assert.Equal(t, "Rémi Denis-Courmont", rec.Author)
	assert.Equal(t, int64(1664203942), rec.Time)
	assert.Equal(t, []gitparse.Range{{Start: 5, End: 7}}, rec.Ranges)
	assert.Equal(t, 3, bm.Lines())
}

func TestParseBlame_InterleavedCommits(t *testing.T) {
	t.Parallel()

	lines := []string{
		"aaaa 1 (Ann 100 +0000 1) a",
		"bbbb 1 (Bob 200 -0500 2) b",
		"aaaa 2 (Ann 100 +0000 3) c",
		"aaaa 3 (Ann 100 +0000 4) d",
	}

	bm, err := gitparse.ParseBlame(lines)
	require.NoError(t, err)
	require.Len(t, bm, 2)

	assert.Equal(t, []gitparse.Range{{Start: 1, End: 1}, {Start: 3, End: 4}}, bm["aaaa"].Ranges)
	assert.Equal(t, []gitparse.Range{{Start: 2, End: 2}}, bm["bbbb"].Ranges)
}

func TestParseBlameLine_Variants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
		want gitparse.BlameLine
	}{
		{
			name: "plain",
			line: "abc123 12 (Jane Doe 1700000000 +0100 9) return 0;",
			want: gitparse.BlameLine{ID: "abc123", OrigLine: 12, Author: "Jane Doe", Time: 1700000000, Line: 9, Content: "return 0;"},
		},
		{
			name: "filename column",
			line: "def456 src/old.c 10 (Bob 1700000100 -0500 8) x++;",
			want: gitparse.BlameLine{ID: "def456", OrigLine: 10, Author: "Bob", Time: 1700000100, Line: 8, Content: "x++;"},
		},
		{
			name: "boundary commit",
			line: "^0123abc 1 (Root 1600000000 +0000 1) int main;",
			want: gitparse.BlameLine{ID: "0123abc", OrigLine: 1, Author: "Root", Time: 1600000000, Line: 1, Content: "int main;"},
		},
		{
			name: "digits in author",
			line: "fff 4 (Agent 007 1600000000 +0000 2) y",
			want: gitparse.BlameLine{ID: "fff", OrigLine: 4, Author: "Agent 007", Time: 1600000000, Line: 2, Content: "y"},
		},
		{
			name: "leading tab and empty content",
			line: "\tccc 2 (Al 1500000000 +0200 3)",
			want: gitparse.BlameLine{ID: "ccc", OrigLine: 2, Author: "Al", Time: 1500000000, Line: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := gitparse.ParseBlameLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseBlame_Errors(t *testing.T) {
	t.Parallel()

	_, err := gitparse.ParseBlame(nil)
	require.ErrorIs(t, err, gitparse.ErrEmptyBlame)

	_, err = gitparse.ParseBlame([]string{"aaaa 1 (Ann 100 +0000 1) a", "fatal: no such path"})
	require.Error(t, err)

	var perr *gitparse.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 2, perr.Line)
	assert.Equal(t, gitparse.BlameEntry, perr.State)
}
