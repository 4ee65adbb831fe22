package textpp

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, chunks [][]byte) {
	t.Helper()
	enc := New()
	dec := New()
	for i, src := range chunks {
		out, applied := enc.Encode(src)
		if !applied {
			assert.Equal(t, src, out, "chunk %d fails open to the input", i)
			continue
		}
		assert.Less(t, len(out), len(src), "chunk %d: applied output must be smaller", i)
		got, err := dec.Decode(out)
		require.NoError(t, err, "chunk %d", i)
		assert.Equal(t, src, got, "chunk %d", i)
	}
}

func TestEncode_RoundTripWords(t *testing.T) {
	roundTrip(t, [][]byte{
		[]byte(strings.Repeat("missense_variant;synonymous_variant;", 40)),
		[]byte(strings.Repeat("missense_variant|ENSG00000133703|", 30)),
	})
}

func TestEncode_NumbersAndLiterals(t *testing.T) {
	roundTrip(t, [][]byte{
		[]byte(strings.Repeat("pos=25245351;depth=100;", 50)),
		[]byte(strings.Repeat("weird 007 zero-padded 000 runs ", 20)),
		[]byte(strings.Repeat("overlong 123456789012345678901234567890 digits ", 10)),
	})
}

func TestEncode_FailsOpenOnRandomBytes(t *testing.T) {
	// Every byte distinct and non-repeating: tokenisation cannot win.
	src := make([]byte, 256)
	for i := range src {
		src[i] = byte(i)
	}
	c := New()
	out, applied := c.Encode(src)
	assert.False(t, applied)
	assert.Equal(t, src, out)

	// The failed chunk must not have polluted the dictionary: a decoder
	// that never saw it still tracks the encoder.
	dec := New()
	next := []byte(strings.Repeat("gene transcript gene transcript ", 10))
	enc2, applied2 := c.Encode(next)
	require.True(t, applied2)
	got, err := dec.Decode(enc2)
	require.NoError(t, err)
	assert.Equal(t, next, got)
}

func TestEncode_DictionaryPersistsAcrossChunks(t *testing.T) {
	enc := New()
	dec := New()

	first := []byte(strings.Repeat("chromosome position reference ", 20))
	second := []byte(strings.Repeat("chromosome position reference ", 20))

	out1, ok1 := enc.Encode(first)
	require.True(t, ok1)
	out2, ok2 := enc.Encode(second)
	require.True(t, ok2)
	// The second chunk sees only dictionary hits, so it codes tighter.
	assert.Less(t, len(out2), len(out1))

	got1, err := dec.Decode(out1)
	require.NoError(t, err)
	got2, err := dec.Decode(out2)
	require.NoError(t, err)
	assert.Equal(t, first, got1)
	assert.Equal(t, second, got2)
}

func TestDecode_Corrupt(t *testing.T) {
	dec := New()
	_, err := dec.Decode([]byte{tokWord, 0x05}) // code with empty dictionary
	assert.Error(t, err)
	_, err = dec.Decode([]byte{0x7f})
	assert.Error(t, err)
	_, err = dec.Decode([]byte{tokNewWord, 0x10, 'a'})
	assert.Error(t, err)
}

func TestEncode_EmptyChunk(t *testing.T) {
	c := New()
	out, applied := c.Encode(nil)
	assert.False(t, applied)
	assert.True(t, bytes.Equal(out, nil) || len(out) == 0)
}
