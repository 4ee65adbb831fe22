package vcf

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/vcfshark/internal/engine"
)

const testHeader = `##fileformat=VCFv4.2
##INFO=<ID=DP,Number=1,Type=Integer,Description="Total depth">
##INFO=<ID=AF,Number=A,Type=Float,Description="Allele frequency">
##INFO=<ID=DB,Number=0,Type=Flag,Description="dbSNP membership, build 155">
##INFO=<ID=ANN,Number=.,Type=String,Description="Functional annotations: 'Allele | Consequence'">
##FORMAT=<ID=GT,Number=1,Type=String,Description="Genotype">
##FORMAT=<ID=DP,Number=1,Type=Integer,Description="Read depth">
##FORMAT=<ID=AD,Number=R,Type=Integer,Description="Allelic depths">
`

const testBody = `#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO	FORMAT	S1	S2
1	100	rs1	A	T	30	PASS	DP=20;AF=0.5;DB;ANN=T|missense	GT:DP:AD	0|1:12:6,6	0/0:8:8,0
1	200	.	C	G	.	q10	DP=7	GT:DP	1|1:7	.:.
2	300	.	G	GA	99.5	PASS	.	GT	0|1	.|.
`

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	p, err := NewParserFromReader(strings.NewReader(testHeader+testBody), 2, false)
	require.NoError(t, err)
	return p
}

func TestDeclareKeys(t *testing.T) {
	p := newTestParser(t)
	keys := p.Keys()
	require.Len(t, keys, 8)

	assert.Equal(t, "FILTER", keys[0].Name)
	assert.Equal(t, engine.KindFilter, keys[0].Kind)
	assert.Equal(t, engine.KeyText, keys[0].Type)

	assert.Equal(t, "DP", keys[1].Name)
	assert.Equal(t, engine.KeyInt, keys[1].Type)
	assert.Equal(t, 1, keys[1].Number)

	assert.Equal(t, "AF", keys[2].Name)
	assert.Equal(t, engine.KeyReal, keys[2].Type)
	assert.Equal(t, engine.NumberVariable, keys[2].Number)

	assert.Equal(t, "DB", keys[3].Name)
	assert.Equal(t, engine.KeyFlag, keys[3].Type)

	// Quoted description commas must not split the declaration.
	assert.Equal(t, "ANN", keys[4].Name)
	assert.Equal(t, engine.KeyText, keys[4].Type)

	assert.Equal(t, "GT", keys[5].Name)
	assert.Equal(t, engine.KeyGT, keys[5].Type)

	assert.Equal(t, "DP", keys[6].Name)
	assert.Equal(t, engine.KindFormat, keys[6].Kind)
	assert.Equal(t, engine.KeyInt, keys[6].Type)

	// FORMAT Integer with Number=R falls back to text.
	assert.Equal(t, "AD", keys[7].Name)
	assert.Equal(t, engine.KeyText, keys[7].Type)

	assert.Equal(t, []string{"S1", "S2"}, p.SampleNames())
}

func TestParser_Records(t *testing.T) {
	p := newTestParser(t)

	rec, err := p.Next()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "1", rec.Desc.Chrom)
	assert.Equal(t, int64(100), rec.Desc.Pos)
	assert.Equal(t, "rs1", rec.Desc.ID)
	assert.Equal(t, "30", rec.Desc.Qual)

	assert.Equal(t, "PASS", string(rec.Fields[0].Text))
	assert.Equal(t, []int32{20}, rec.Fields[1].Ints)
	require.Len(t, rec.Fields[2].Reals, 1)
	assert.InDelta(t, 0.5, rec.Fields[2].Reals[0], 1e-6)
	assert.True(t, rec.Fields[3].Flag)
	assert.Equal(t, "T|missense", string(rec.Fields[4].Text))
	assert.Equal(t, []byte{2, 5, 2, 2}, rec.Fields[5].GT) // 0|1 then 0/0
	assert.Equal(t, []int32{12, 8}, rec.Fields[6].Ints)
	assert.Equal(t, "6,6\t8,0", string(rec.Fields[7].Text))

	rec, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, ".", rec.Desc.Qual)
	assert.False(t, rec.Fields[3].Present, "absent flag stays absent")
	assert.False(t, rec.Fields[2].Present, "absent INFO field stays absent")
	// Sample 2 is "." for every FORMAT field.
	assert.Equal(t, []byte{4, 5, 0, gtPad}, rec.Fields[5].GT) // 1|1 then "."
	assert.Equal(t, []int32{7, engine.MissingInt}, rec.Fields[6].Ints)
	assert.False(t, rec.Fields[7].Present)

	rec, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, "GA", rec.Desc.Alt)
	assert.Equal(t, []byte{2, 5, 0, 1}, rec.Fields[5].GT) // 0|1 then .|.
	assert.False(t, rec.Fields[6].Present)

	rec, err = p.Next()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestParser_UndeclaredInfoStrict(t *testing.T) {
	body := "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n1\t1\t.\tA\tT\t.\tPASS\tNOPE=1\n"
	p, err := NewParserFromReader(strings.NewReader(testHeader+body), 2, false)
	require.NoError(t, err)
	_, err = p.Next()
	assert.Error(t, err)

	// extra_variants relaxes the check parser-side only.
	p, err = NewParserFromReader(strings.NewReader(testHeader+body), 2, true)
	require.NoError(t, err)
	rec, err := p.Next()
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestGTSlots_RoundTrip(t *testing.T) {
	cases := []string{"0|1", "0/0", "1|1", ".", "./.", ".|.", "0", "1", "0/1/2"}
	for _, gt := range cases {
		slots := make([]byte, 3)
		require.NoError(t, parseGT(gt, slots), gt)
		var sb strings.Builder
		formatGT(slots, &sb)
		assert.Equal(t, gt, sb.String())
	}
}

func TestWriter_RoundTripText(t *testing.T) {
	p := newTestParser(t)

	var recs []*Record
	for {
		rec, err := p.Next()
		require.NoError(t, err)
		if rec == nil {
			break
		}
		recs = append(recs, rec)
	}

	var buf bytes.Buffer
	w := NewWriter(&buf, p.Header(), p.SampleNames(), p.Keys(), 2)
	require.NoError(t, w.WriteHeader())
	for _, rec := range recs {
		require.NoError(t, w.WriteRecord(rec))
	}
	require.NoError(t, w.Flush())

	assert.Equal(t, testHeader+testBody, buf.String())
}
