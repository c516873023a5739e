package safeconv_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sumatoshi-tech/defectminer/pkg/safeconv"
)

func TestMustUintToInt(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 42, safeconv.MustUintToInt(42))
	assert.Equal(t, safeconv.MaxInt, safeconv.MustUintToInt(uint(safeconv.MaxInt)))
	assert.PanicsWithValue(t, "safeconv: uint to int overflow", func() {
		safeconv.MustUintToInt(uint(safeconv.MaxInt) + 1)
	})
}

func TestMustIntToUint(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint(0), safeconv.MustIntToUint(0))
	assert.Equal(t, uint(7), safeconv.MustIntToUint(7))
	assert.PanicsWithValue(t, "safeconv: negative int to uint conversion", func() {
		safeconv.MustIntToUint(-1)
	})
}

func TestMustIntToUint32(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     int
		want   uint32
		panics bool
	}{
		{name: "zero", in: 0, want: 0},
		{name: "full context", in: 999999999, want: 999999999},
		{name: "max", in: int(safeconv.MaxUint32), want: safeconv.MaxUint32},
		{name: "negative", in: -1, panics: true},
		{name: "overflow", in: int(safeconv.MaxUint32) + 1, panics: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if tt.panics {
				assert.PanicsWithValue(t, "safeconv: int to uint32 out of bounds", func() {
					safeconv.MustIntToUint32(tt.in)
				})

				return
			}

			assert.Equal(t, tt.want, safeconv.MustIntToUint32(tt.in))
		})
	}
}
