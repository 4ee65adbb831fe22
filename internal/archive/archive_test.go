package archive

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempArchive(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.vcfshark")
}

func TestArchive_RoundTrip(t *testing.T) {
	path := tempArchive(t)
	w := NewWriter(path)

	a := w.Register("alpha")
	b := w.Register("beta")
	// Out-of-order adds: the container reorders by part-id.
	w.AddPart(a, 2, []byte("a2"))
	w.AddPart(a, 0, []byte("a0"))
	w.AddPart(a, 1, []byte("a1"))
	w.AddPart(b, 0, []byte("b0"))
	require.NoError(t, w.Finalize())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"alpha", "beta"}, r.Streams())
	id := r.StreamID("alpha")
	n, err := r.PartCount(id)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	for i, want := range []string{"a0", "a1", "a2"} {
		blob, err := r.GetPart(id, i)
		require.NoError(t, err)
		assert.Equal(t, want, string(blob))
	}
	assert.Equal(t, -1, r.StreamID("gamma"))
}

func TestArchive_ConcurrentAddPart(t *testing.T) {
	path := tempArchive(t)
	w := NewWriter(path)
	id := w.Register("s")

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(part int) {
			defer wg.Done()
			w.AddPart(id, part, []byte{byte(part)})
		}(i)
	}
	wg.Wait()
	require.NoError(t, w.Finalize())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	rid := r.StreamID("s")
	for i := 0; i < 64; i++ {
		blob, err := r.GetPart(rid, i)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, blob)
	}
}

func TestArchive_DeterministicLayout(t *testing.T) {
	build := func(path string, order []int) {
		w := NewWriter(path)
		a := w.Register("x")
		b := w.Register("y")
		for _, p := range order {
			w.AddPart(a, p, []byte{byte(p), 'x'})
		}
		w.AddPart(b, 0, []byte("y0"))
		require.NoError(t, w.Finalize())
	}
	p1 := tempArchive(t)
	p2 := filepath.Join(t.TempDir(), "other.vcfshark")
	build(p1, []int{0, 1, 2, 3})
	build(p2, []int{3, 1, 0, 2})

	b1, err := os.ReadFile(p1)
	require.NoError(t, err)
	b2, err := os.ReadFile(p2)
	require.NoError(t, err)
	assert.Equal(t, b1, b2, "insertion order must not change the file bytes")
}

func TestArchive_Links(t *testing.T) {
	path := tempArchive(t)
	w := NewWriter(path)
	a := w.Register("data")
	w.AddPart(a, 0, []byte("shared"))
	w.Link("alias", "data")
	require.NoError(t, w.Finalize())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	id := r.StreamID("alias")
	require.GreaterOrEqual(t, id, 0)
	assert.Equal(t, "data", r.Target(id))
	n, err := r.PartCount(id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	blob, err := r.GetPart(id, 0)
	require.NoError(t, err)
	assert.Equal(t, "shared", string(blob))
}

func TestArchive_FormatErrors(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad-magic")
	require.NoError(t, os.WriteFile(bad, make([]byte, 64), 0o644))
	_, err := OpenReader(bad)
	assert.ErrorIs(t, err, ErrBadMagic)

	short := filepath.Join(dir, "short")
	require.NoError(t, os.WriteFile(short, []byte("VCF"), 0o644))
	_, err = OpenReader(short)
	assert.ErrorIs(t, err, ErrTruncated)

	// A valid archive with a corrupted version byte.
	good := filepath.Join(dir, "good")
	w := NewWriter(good)
	w.AddPart(w.Register("s"), 0, []byte("x"))
	require.NoError(t, w.Finalize())
	raw, err := os.ReadFile(good)
	require.NoError(t, err)
	raw[8] = 0xee
	require.NoError(t, os.WriteFile(good, raw, 0o644))
	_, err = OpenReader(good)
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestArchive_NonDensePartIDs(t *testing.T) {
	path := tempArchive(t)
	w := NewWriter(path)
	id := w.Register("s")
	w.AddPart(id, 0, []byte("p0"))
	w.AddPart(id, 2, []byte("p2")) // gap
	require.NoError(t, w.Finalize())

	_, err := OpenReader(path)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestArchive_EmptyStreamsSurvive(t *testing.T) {
	path := tempArchive(t)
	w := NewWriter(path)
	w.Register("empty")
	require.NoError(t, w.Finalize())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	id := r.StreamID("empty")
	require.GreaterOrEqual(t, id, 0)
	n, err := r.PartCount(id)
	require.NoError(t, err)
	assert.Zero(t, n)
}
