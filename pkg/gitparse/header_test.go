package gitparse_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/defectminer/pkg/gitparse"
)

func TestParseHeader(t *testing.T) {
	t.Parallel()

	raw := "76137d3f\n70ce2ed3 9a8b7c6d\nMr-Duo\n1724249410\nFix overflow\nFix overflow\n\nBounds check the buffer.\n\n"

	h, err := gitparse.ParseHeader(raw)
	require.NoError(t, err)

	assert.Equal(t, "76137d3f", h.ID)
	assert.Equal(t, []string{"70ce2ed3", "9a8b7c6d"}, h.ParentIDs)
	assert.Equal(t, "70ce2ed3", h.Parent())
	assert.Equal(t, "Mr-Duo", h.Author)
	assert.Equal(t, int64(1724249410), h.Date)
	assert.Equal(t, "Fix overflow", h.Subject)
	assert.Equal(t, "Fix overflow  Bounds check the buffer.", h.Message)
}

func TestParseHeader_RootCommit(t *testing.T) {
	t.Parallel()

	h, err := gitparse.ParseHeader("abc\n\nAnn\n100\ninit\ninit")
	require.NoError(t, err)

	assert.Empty(t, h.ParentIDs)
	assert.Empty(t, h.Parent())
	assert.Equal(t, "init", h.Message)
}

func TestParseHeader_Malformed(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"too short":  "abc\nparent",
		"bad date":   "abc\n\nAnn\nyesterday\nsubject",
		"missing id": "\n\nAnn\n100\nsubject",
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := gitparse.ParseHeader(raw)
			require.ErrorIs(t, err, gitparse.ErrMalformedHeader)
		})
	}
}
