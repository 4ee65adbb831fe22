package entropy

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompress_RoundTrip(t *testing.T) {
	presets := []Preset{PresetSize, PresetData, PresetFlag, PresetText,
		PresetInt, PresetReal, PresetDBChrom, PresetDBPos, PresetMeta}

	rng := rand.New(rand.NewSource(3))
	payloads := [][]byte{
		nil,
		[]byte{0},
		bytes.Repeat([]byte("chr1\tchr2\t"), 1000),
	}
	random := make([]byte, 64<<10)
	rng.Read(random)
	payloads = append(payloads, random)

	for _, p := range presets {
		for i, src := range payloads {
			blob := Compress(p, src)
			got, err := Decompress(p, blob)
			require.NoError(t, err, "%s payload %d", p.Name, i)
			assert.Equal(t, len(src), len(got), "%s payload %d", p.Name, i)
			if len(src) > 0 {
				assert.Equal(t, src, got, "%s payload %d", p.Name, i)
			}
		}
	}
}

func TestCompress_Deterministic(t *testing.T) {
	src := bytes.Repeat([]byte("0|1\t0|0\t1|1\t"), 4096)
	a := Compress(PresetData, src)
	b := Compress(PresetData, src)
	assert.Equal(t, a, b)
}

func TestDecompress_BadFrame(t *testing.T) {
	_, err := Decompress(PresetData, nil)
	assert.Error(t, err)

	blob := Compress(PresetData, []byte("hello"))
	_, err = Decompress(PresetData, blob[:len(blob)-2])
	assert.Error(t, err)
}

func TestDecompressRaw_LengthMismatch(t *testing.T) {
	raw := CompressRaw(PresetText, []byte("payload"))
	_, err := DecompressRaw(PresetText, raw, 3)
	assert.Error(t, err)
}
