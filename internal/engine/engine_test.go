package engine

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/vcfshark/internal/archive"
)

func archivePath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

func TestEncodeDecodeField_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		t    KeyType
		v    FieldValue
	}{
		{"flag-set", KeyFlag, FieldValue{Present: true, Flag: true}},
		{"flag-clear", KeyFlag, FieldValue{Present: true, Flag: false}},
		{"int-missing-record", KeyInt, FieldValue{}},
		{"int-empty-vector", KeyInt, FieldValue{Present: true}},
		{"int-values", KeyInt, FieldValue{Present: true, Ints: []int32{-5, 0, 1 << 30, MissingInt}}},
		{"real-values", KeyReal, FieldValue{Present: true, Reals: []float32{0.5, -1.25, MissingReal}}},
		{"text-missing", KeyText, FieldValue{}},
		{"text-empty", KeyText, FieldValue{Present: true, Text: []byte{}}},
		{"text-value", KeyText, FieldValue{Present: true, Text: []byte("PASS")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			size, data := encodeField(tc.t, tc.v, nil)
			n, err := fieldDataLen(tc.t, size, data)
			require.NoError(t, err)
			assert.Equal(t, len(data), n)
			got, err := decodeField(tc.t, size, data)
			require.NoError(t, err)
			assert.Equal(t, tc.v.Present, got.Present)
			assert.Equal(t, tc.v.Flag, got.Flag)
			assert.Equal(t, len(tc.v.Ints), len(got.Ints))
			for i := range tc.v.Ints {
				assert.Equal(t, tc.v.Ints[i], got.Ints[i])
			}
			for i := range tc.v.Reals {
				// Bit-level compare: the missing sentinel is a NaN.
				assert.Equal(t, math.Float32bits(tc.v.Reals[i]), math.Float32bits(got.Reals[i]))
			}
			if tc.v.Present && tc.t == KeyText {
				assert.Equal(t, string(tc.v.Text), string(got.Text))
			}
		})
	}
}

// Scenario: empty input. The archive still materialises with all six
// database columns and reading yields zero variants.
func TestRoundTrip_Empty(t *testing.T) {
	path := archivePath(t, "empty.vcfshark")

	w, err := OpenForWriting(path, 0)
	require.NoError(t, err)
	require.NoError(t, w.SetKeys(nil))
	require.NoError(t, w.Close())

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, st.Size(), int64(0))

	r, err := OpenForReading(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Zero(t, r.VariantCount())
	assert.True(t, r.Eof())
	_, _, err = r.GetVariant()
	assert.ErrorIs(t, err, ErrEOF)

	ar, err := archive.OpenReader(path)
	require.NoError(t, err)
	defer ar.Close()
	for _, name := range dbStreamData {
		assert.GreaterOrEqual(t, ar.StreamID(name), 0, "database column %s must exist", name)
	}
}

// Scenario: one variant, one sample, ploidy 2, a single GT key.
func TestRoundTrip_SingleVariant(t *testing.T) {
	path := archivePath(t, "single.vcfshark")

	keys := []KeyDesc{{ID: 0, Name: "GT", Kind: KindFormat, Type: KeyGT}}
	w, err := OpenForWriting(path, 1)
	require.NoError(t, err)
	w.SetPloidy(2)
	w.AddSamples([]string{"SAMPLE1"})
	w.SetHeader("##fileformat=VCFv4.2")
	w.SetMeta("test")
	require.NoError(t, w.SetKeys(keys))

	desc := VariantDesc{Chrom: "chr1", Pos: 100, ID: ".", Ref: "A", Alt: "T", Qual: "30"}
	gt := []byte{2, 5} // 0|1
	require.NoError(t, w.SetVariant(desc, []FieldValue{{Present: true, GT: gt}}))
	require.NoError(t, w.Close())

	r, err := OpenForReading(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, uint64(1), r.VariantCount())
	assert.Equal(t, 1, r.SampleCount())
	assert.Equal(t, 2, r.Ploidy())
	header, err := r.GetHeader()
	require.NoError(t, err)
	assert.Equal(t, "##fileformat=VCFv4.2", header)
	samples, err := r.GetSamples()
	require.NoError(t, err)
	assert.Equal(t, []string{"SAMPLE1"}, samples)

	gotDesc, fields, err := r.GetVariant()
	require.NoError(t, err)
	assert.Equal(t, desc, gotDesc)
	require.Len(t, fields, 1)
	assert.Equal(t, gt, fields[0].GT)
	assert.True(t, r.Eof())
}

// Scenario: two keys carrying identical data become a stream link.
func TestOptimizer_EqualityLink(t *testing.T) {
	path := archivePath(t, "link.vcfshark")

	keys := []KeyDesc{
		{ID: 0, Name: "K", Kind: KindInfo, Type: KeyText},
		{ID: 1, Name: "K2", Kind: KindInfo, Type: KeyText},
	}
	w, err := OpenForWriting(path, 2)
	require.NoError(t, err)
	require.NoError(t, w.SetKeys(keys))

	values := []string{"alpha", "beta", "gamma"}
	for i := 0; i < 10; i++ {
		v := FieldValue{Present: true, Text: []byte(values[i%3])}
		desc := VariantDesc{Chrom: "1", Pos: int64(100 + i), ID: ".", Ref: "A", Alt: "C", Qual: "."}
		require.NoError(t, w.SetVariant(desc, []FieldValue{v, v}))
	}
	require.NoError(t, w.Close())

	ar, err := archive.OpenReader(path)
	require.NoError(t, err)
	id := ar.StreamID(keyStreamData(0))
	require.GreaterOrEqual(t, id, 0)
	assert.Equal(t, keyStreamData(1), ar.Target(id), "equal field resolves via link")
	ar.Close()

	r, err := OpenForReading(path)
	require.NoError(t, err)
	defer r.Close()
	for i := 0; i < 10; i++ {
		_, fields, err := r.GetVariant()
		require.NoError(t, err)
		assert.Equal(t, values[i%3], string(fields[0].Text))
		assert.Equal(t, values[i%3], string(fields[1].Text))
	}
}

// Scenario: K2 = K1/10 over three distinct values becomes a mapping
// descriptor; the replaced payload is O(descriptor), not O(records).
func TestOptimizer_MappingEdge(t *testing.T) {
	path := archivePath(t, "mapping.vcfshark")

	keys := []KeyDesc{
		{ID: 0, Name: "K1", Kind: KindInfo, Type: KeyInt},
		{ID: 1, Name: "K2", Kind: KindInfo, Type: KeyInt},
	}
	w, err := OpenForWriting(path, 2)
	require.NoError(t, err)
	w.SetNeglectLimit(10)
	require.NoError(t, w.SetKeys(keys))

	vals := []int32{10, 20, 30}
	for i := 0; i < 1000; i++ {
		v := vals[i%3]
		desc := VariantDesc{Chrom: "2", Pos: int64(i + 1), ID: ".", Ref: "G", Alt: "T", Qual: "."}
		fields := []FieldValue{
			{Present: true, Ints: []int32{v}},
			{Present: true, Ints: []int32{v / 10}},
		}
		require.NoError(t, w.SetVariant(desc, fields))
	}
	require.NoError(t, w.Close())

	// Ties break toward the lowest destination id: key 0 is replaced
	// and expressed through key 1.
	ar, err := archive.OpenReader(path)
	require.NoError(t, err)
	funcID := ar.StreamID(funcStreamData(0))
	require.GreaterOrEqual(t, funcID, 0, "function descriptor stream must exist")
	dataID := ar.StreamID(keyStreamData(0))
	n, err := ar.PartCount(dataID)
	require.NoError(t, err)
	assert.Zero(t, n, "replaced payload must be dropped")
	blob, err := ar.GetPart(funcID, 0)
	require.NoError(t, err)
	assert.Less(t, len(blob), 256, "descriptor is independent of record count")
	ar.Close()

	r, err := OpenForReading(path)
	require.NoError(t, err)
	defer r.Close()
	for i := 0; i < 1000; i++ {
		_, fields, err := r.GetVariant()
		require.NoError(t, err, "variant %d", i)
		require.Len(t, fields[0].Ints, 1)
		assert.Equal(t, vals[i%3], fields[0].Ints[0])
		assert.Equal(t, vals[i%3]/10, fields[1].Ints[0])
	}
	assert.True(t, r.Eof())
}

// Scenario: 100 variants x 100 samples x ploidy 2 with random alleles
// and 5% missing round-trips exactly.
func TestRoundTrip_WideGenotype(t *testing.T) {
	path := archivePath(t, "wide.vcfshark")

	const samples, ploidy, variants = 100, 2, 100
	keys := []KeyDesc{{ID: 0, Name: "GT", Kind: KindFormat, Type: KeyGT}}

	w, err := OpenForWriting(path, 1)
	require.NoError(t, err)
	w.SetPloidy(ploidy)
	names := make([]string, samples)
	for i := range names {
		names[i] = fmt.Sprintf("S%03d", i)
	}
	w.AddSamples(names)
	require.NoError(t, w.SetKeys(keys))

	rng := rand.New(rand.NewSource(42))
	rows := make([][]byte, variants)
	for i := range rows {
		row := make([]byte, samples*ploidy)
		for j := range row {
			if rng.Intn(100) < 5 {
				row[j] = 0 // missing
			} else {
				row[j] = byte((rng.Intn(2)+1)<<1 | rng.Intn(2))
			}
		}
		rows[i] = row
		desc := VariantDesc{Chrom: "chrX", Pos: int64(1000 + i), ID: ".", Ref: "A", Alt: "G", Qual: "50"}
		require.NoError(t, w.SetVariant(desc, []FieldValue{{Present: true, GT: row}}))
	}
	require.NoError(t, w.Close())

	r, err := OpenForReading(path)
	require.NoError(t, err)
	defer r.Close()
	for i := 0; i < variants; i++ {
		_, fields, err := r.GetVariant()
		require.NoError(t, err, "variant %d", i)
		require.Equal(t, rows[i], fields[0].GT, "variant %d", i)
	}
	assert.True(t, r.Eof())
}

func writeMixedArchive(t *testing.T, path string, threads, variants int) {
	t.Helper()
	keys := []KeyDesc{
		{ID: 0, Name: "FILTER", Kind: KindFilter, Type: KeyText},
		{ID: 1, Name: "DP", Kind: KindInfo, Type: KeyInt},
		{ID: 2, Name: "AF", Kind: KindInfo, Type: KeyReal},
		{ID: 3, Name: "DB", Kind: KindInfo, Type: KeyFlag},
		{ID: 4, Name: "CSQ", Kind: KindInfo, Type: KeyText},
		{ID: 5, Name: "GT", Kind: KindFormat, Type: KeyGT},
	}

	w, err := OpenForWriting(path, len(keys))
	require.NoError(t, err)
	w.SetThreads(threads)
	w.SetPloidy(2)
	w.AddSamples([]string{"A", "B", "C"})
	w.SetHeader("##fileformat=VCFv4.2\n##source=determinism")
	require.NoError(t, w.SetKeys(keys))

	rng := rand.New(rand.NewSource(99))
	filters := []string{"PASS", "q10", "s50"}
	csq := []string{"missense_variant|TP53", "synonymous_variant|KRAS", "stop_gained|EGFR"}
	for i := 0; i < variants; i++ {
		desc := VariantDesc{
			Chrom: fmt.Sprintf("chr%d", 1+i%22),
			Pos:   int64(1000 + i*3),
			ID:    fmt.Sprintf("rs%d", 100000+i),
			Ref:   "A",
			Alt:   "T",
			Qual:  fmt.Sprintf("%d", 20+i%40),
		}
		gt := make([]byte, 6)
		for j := range gt {
			gt[j] = byte((rng.Intn(2) + 1) << 1)
		}
		fields := []FieldValue{
			{Present: true, Text: []byte(filters[i%3])},
			{Present: true, Ints: []int32{int32(rng.Intn(500))}},
			{Present: true, Reals: []float32{float32(i%100) / 100}},
			{Present: i%2 == 0, Flag: i%2 == 0},
			{Present: true, Text: []byte(csq[i%3])},
			{Present: true, GT: gt},
		}
		require.NoError(t, w.SetVariant(desc, fields))
	}
	require.NoError(t, w.Close())
}

// Scenario: thread count must not change a single output byte.
func TestParallelDeterminism(t *testing.T) {
	p1 := archivePath(t, "threads1.vcfshark")
	p8 := filepath.Join(t.TempDir(), "threads8.vcfshark")

	writeMixedArchive(t, p1, 1, 10000)
	writeMixedArchive(t, p8, 8, 10000)

	b1, err := os.ReadFile(p1)
	require.NoError(t, err)
	b8, err := os.ReadFile(p8)
	require.NoError(t, err)
	require.Equal(t, len(b1), len(b8))
	assert.Equal(t, b1, b8)
}

func TestRoundTrip_MixedKeys(t *testing.T) {
	path := archivePath(t, "mixed.vcfshark")
	writeMixedArchive(t, path, 4, 500)

	r, err := OpenForReading(path)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, uint64(500), r.VariantCount())
	rng := rand.New(rand.NewSource(99))
	filters := []string{"PASS", "q10", "s50"}
	for i := 0; i < 500; i++ {
		desc, fields, err := r.GetVariant()
		require.NoError(t, err, "variant %d", i)
		assert.Equal(t, int64(1000+i*3), desc.Pos)
		assert.Equal(t, filters[i%3], string(fields[0].Text))
		gt := make([]byte, 6)
		for j := range gt {
			gt[j] = byte((rng.Intn(2) + 1) << 1)
		}
		require.Len(t, fields[1].Ints, 1)
		assert.Equal(t, int32(rng.Intn(500)), fields[1].Ints[0])
		assert.Equal(t, gt, fields[5].GT)
		assert.Equal(t, i%2 == 0, fields[3].Present && fields[3].Flag)
	}
	assert.True(t, r.Eof())
}

func TestSetVariant_ArityContract(t *testing.T) {
	path := archivePath(t, "contract.vcfshark")
	keys := []KeyDesc{{ID: 0, Name: "DP", Kind: KindInfo, Type: KeyInt}}
	w, err := OpenForWriting(path, 1)
	require.NoError(t, err)
	require.NoError(t, w.SetKeys(keys))

	desc := VariantDesc{Chrom: "1", Pos: 1, ID: ".", Ref: "A", Alt: "C", Qual: "."}
	err = w.SetVariant(desc, nil)
	assert.ErrorIs(t, err, ErrContract)

	// The whole archive is unsalvageable after a contract error.
	err = w.Close()
	assert.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "partial archive must be unlinked")
}

func TestQueue_DrainAndComplete(t *testing.T) {
	q := newRegisteringQueue[int](1)
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	q.MarkCompleted()
	for i := 0; i < 5; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}
