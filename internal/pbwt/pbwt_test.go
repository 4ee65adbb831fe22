package pbwt

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardInverse_Identity(t *testing.T) {
	cases := []struct {
		name     string
		width    int
		rows     int
		alphabet int
	}{
		{"haploid-small", 7, 50, 2},
		{"diploid", 200, 100, 4},
		{"missingness", 64, 500, 3},
		{"wide-alphabet", 33, 200, 250},
		{"single-column", 1, 20, 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(int64(tc.width)))
			matrix := make([][]byte, tc.rows)
			for r := range matrix {
				matrix[r] = make([]byte, tc.width)
				for c := range matrix[r] {
					matrix[r][c] = byte(rng.Intn(tc.alphabet))
				}
			}

			var fwd, inv PBWT
			fwd.InitIfNeeded(tc.width)
			inv.InitIfNeeded(tc.width)

			permuted := make([]byte, tc.width)
			restored := make([]byte, tc.width)
			for r, row := range matrix {
				fwd.Forward(row, permuted)
				inv.Inverse(permuted, restored)
				require.Equal(t, row, restored, "row %d", r)
			}
		})
	}
}

func TestForward_SortsEqualPrefixesTogether(t *testing.T) {
	// Two column groups with distinct histories: after a few rows the
	// permutation clusters each group, so rows repeat as two runs.
	var p PBWT
	p.InitIfNeeded(8)
	row := []byte{0, 1, 0, 1, 0, 1, 0, 1}
	out := make([]byte, 8)
	p.Forward(row, out)
	p.Forward(row, out)
	assert.Equal(t, []byte{0, 0, 0, 0, 1, 1, 1, 1}, out)
}

func TestReset_StartsFresh(t *testing.T) {
	var p PBWT
	p.InitIfNeeded(4)
	out := make([]byte, 4)
	p.Forward([]byte{3, 2, 1, 0}, out)
	assert.True(t, p.Ready())

	p.Reset()
	assert.False(t, p.Ready())
	p.InitIfNeeded(4)
	p.Forward([]byte{3, 2, 1, 0}, out)
	assert.Equal(t, []byte{3, 2, 1, 0}, out, "identity permutation after reset")
}

func TestInitIfNeeded_LazyWidth(t *testing.T) {
	var p PBWT
	assert.Equal(t, 0, p.Width())
	p.InitIfNeeded(10)
	assert.Equal(t, 10, p.Width())
	// Re-init with the same width keeps the permutation.
	out := make([]byte, 10)
	p.Forward([]byte{1, 0, 0, 0, 0, 0, 0, 0, 0, 0}, out)
	p.InitIfNeeded(10)
	p.Forward([]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, out)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 0}, out)
}
