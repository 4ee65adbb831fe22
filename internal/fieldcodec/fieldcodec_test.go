package fieldcodec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/vcfshark/internal/entropy"
	"github.com/inodb/vcfshark/internal/textpp"
)

func TestSizes_RoundTrip(t *testing.T) {
	sizes := []uint32{0, 1, 1, 5, 1000000, 0, 3}
	blob := CompressSizes(entropy.PresetSize, sizes)
	got, err := DecompressSizes(entropy.PresetSize, blob)
	require.NoError(t, err)
	assert.Equal(t, sizes, got)

	empty, err := DecompressSizes(entropy.PresetSize, CompressSizes(entropy.PresetSize, nil))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestText_RoundTripWithFlag(t *testing.T) {
	encTP := textpp.New()
	decTP := textpp.New()

	// Compressible chunk: flag set.
	src := bytes.Repeat([]byte("missense_variant;stop_gained;"), 100)
	blob := CompressText(encTP, entropy.PresetText, src)
	got, err := DecompressText(decTP, entropy.PresetText, blob)
	require.NoError(t, err)
	assert.Equal(t, src, got)

	// Incompressible chunk: flag clear, still round-trips, and the two
	// dictionaries stay aligned for the next chunk.
	raw := make([]byte, 200)
	for i := range raw {
		raw[i] = byte(i)
	}
	blob = CompressText(encTP, entropy.PresetText, raw)
	got, err = DecompressText(decTP, entropy.PresetText, blob)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	again := bytes.Repeat([]byte("missense_variant;"), 50)
	blob = CompressText(encTP, entropy.PresetText, again)
	got, err = DecompressText(decTP, entropy.PresetText, blob)
	require.NoError(t, err)
	assert.Equal(t, again, got)
}

func TestChromDict_RoundTripAcrossParts(t *testing.T) {
	enc := NewChromDict()
	dec := NewChromDict()

	part1Sizes := []uint32{4, 4, 5, 4}
	part1Data := []byte("chr1chr2chr10chr1")
	part2Sizes := []uint32{4, 5, 4}
	part2Data := []byte("chr2chr10chr2")

	blob1 := enc.Compress(part1Sizes, part1Data)
	blob2 := enc.Compress(part2Sizes, part2Data)

	got1, err := dec.Decompress(blob1)
	require.NoError(t, err)
	assert.Equal(t, part1Data, got1)
	got2, err := dec.Decompress(blob2)
	require.NoError(t, err)
	assert.Equal(t, part2Data, got2)
}

func randomGTMatrix(rng *rand.Rand, rows, width int) []byte {
	data := make([]byte, rows*width)
	for i := range data {
		switch {
		case rng.Intn(100) < 5:
			data[i] = 0 // missing
		case rng.Intn(100) < 2:
			data[i] = byte(100 + rng.Intn(100)) // wide symbols
		default:
			data[i] = byte(2 + rng.Intn(2)<<1) // alleles 0/1
		}
	}
	return data
}

func TestGTCoder_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	const rows, width = 100, 200 // 100 samples, ploidy 2

	data := randomGTMatrix(rng, rows, width)

	enc := NewGTCoder()
	blob := enc.CompressPart(data, width, rows)

	dec := NewGTCoder()
	got, w, r, err := dec.DecompressPart(blob)
	require.NoError(t, err)
	assert.Equal(t, width, w)
	assert.Equal(t, rows, r)
	assert.Equal(t, data, got)
}

func TestGTCoder_StatePersistsAcrossParts(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	const rows, width = 50, 64

	parts := make([][]byte, 4)
	for i := range parts {
		parts[i] = randomGTMatrix(rng, rows, width)
	}

	enc := NewGTCoder()
	blobs := make([][]byte, len(parts))
	for i, p := range parts {
		blobs[i] = enc.CompressPart(p, width, rows)
	}

	// Parts decode only in order: the models and the permutation carry
	// across part boundaries.
	dec := NewGTCoder()
	for i, b := range blobs {
		got, _, _, err := dec.DecompressPart(b)
		require.NoError(t, err, "part %d", i)
		assert.Equal(t, parts[i], got, "part %d", i)
	}
}

func TestGTCoder_LongRuns(t *testing.T) {
	// A constant matrix produces runs the full row wide, exercising the
	// escaped run-length tier.
	const rows, width = 10, 5000
	data := make([]byte, rows*width)
	for i := range data {
		data[i] = 2
	}
	enc := NewGTCoder()
	blob := enc.CompressPart(data, width, rows)
	assert.Less(t, len(blob), 200, "constant matrix must collapse")

	dec := NewGTCoder()
	got, _, _, err := dec.DecompressPart(blob)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
