// Package engine implements the compressed-file orchestrator: the write
// path that chunks per-field data into packages, compresses them on a
// worker pool and lays them out in the archive, and the symmetric read
// path that reconstructs variants, honouring the function graphs chosen
// at close.
package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Semantic field types declared by the header.
type KeyType uint8

const (
	KeyFlag KeyType = iota
	KeyInt
	KeyReal
	KeyText
	KeyGT
)

func (t KeyType) String() string {
	switch t {
	case KeyFlag:
		return "flag"
	case KeyInt:
		return "integer"
	case KeyReal:
		return "real"
	case KeyText:
		return "text"
	case KeyGT:
		return "genotype"
	}
	return "unknown"
}

// NumberVariable marks a key whose per-variant arity varies.
const NumberVariable = -1

// KeyKind records where in the record a key lives.
type KeyKind uint8

const (
	KindFilter KeyKind = iota
	KindInfo
	KindFormat
)

// KeyDesc describes one user-declared field.
type KeyDesc struct {
	ID        int     `msgpack:"id"`
	Name      string  `msgpack:"name"`
	Kind      KeyKind `msgpack:"kind"`
	Type      KeyType `msgpack:"type"`
	Number    int     `msgpack:"number"` // NumberVariable or fixed arity
	Neglected bool    `msgpack:"neglected"`
}

// VariantDesc carries the six fixed database columns. Qual stays text
// so the round trip is byte exact.
type VariantDesc struct {
	Chrom string
	Pos   int64
	ID    string
	Ref   string
	Alt   string
	Qual  string
}

// FieldValue is one key's contribution to one variant. Exactly one
// record per variant per key; a record can be missing (Present false),
// empty, or carry values, and the three are distinct. Flag keys store
// only whether the flag is set: a missing flag record reads back as
// Present with Flag false.
type FieldValue struct {
	Present bool
	Flag    bool      // flag keys: present and set
	Ints    []int32   // integer keys
	Reals   []float32 // real keys
	Text    []byte    // text keys
	GT      []byte    // genotype keys: one slot per haplotype, BCF coding
}

// MissingInt is the in-vector missing sentinel for integer fields,
// distinct from a missing record.
const MissingInt = int32(math.MinInt32)

// MissingReal is the in-vector missing sentinel for real fields.
var MissingReal = math.Float32frombits(0x7f800001)

// IsMissingReal reports whether v is the real missing sentinel.
func IsMissingReal(v float32) bool {
	return math.Float32bits(v) == 0x7f800001
}

// Error kinds per the error-handling design. Format and invariant
// errors from the archive layer pass through unchanged.
var (
	ErrContract = errors.New("engine: caller contract violation")
	ErrClosed   = errors.New("engine: file is closed")
	ErrEOF      = errors.New("engine: no more variants")
)

// Database column ids.
const (
	dbChrom = iota
	dbPos
	dbID
	dbRef
	dbAlt
	dbQual
	dbColumns
)

var dbStreamSize = [dbColumns]string{
	"db-chrom-size", "db-pos-size", "db-id-size",
	"db-ref-size", "db-alt-size", "db-qual-size",
}

var dbStreamData = [dbColumns]string{
	"db-chrom-data", "db-pos-data", "db-id-data",
	"db-ref-data", "db-alt-data", "db-qual-data",
}

func keyStreamSize(id int) string { return fmt.Sprintf("key-%d-size", id) }
func keyStreamData(id int) string { return fmt.Sprintf("key-%d-data", id) }
func funcStreamData(id int) string { return fmt.Sprintf("func-data-%d", id) }

const (
	streamParams         = "params"
	streamMeta           = "meta"
	streamHeader         = "header"
	streamSamples        = "samples"
	streamKeys           = "keys"
	streamGraphSizeNodes = "graph-size-nodes"
	streamGraphSizeEdges = "graph-size-edges"
	streamGraphDataNodes = "graph-data-nodes"
	streamGraphDataEdges = "graph-data-edges"
)

// Buffer caps per package kind and the per-key in-flight package cap.
const (
	maxBufferSize   = 8 << 20
	maxBufferGTSize = 256 << 20
	maxBufferDBSize = 8 << 20
	maxCntPackages  = 3

	defaultThreads = 8
	defaultNeglect = 10
	defaultPloidy  = 2
)

// fileInfo is the descriptions payload stored in the keys stream.
type fileInfo struct {
	Variants     uint64    `msgpack:"variants"`
	Samples      uint32    `msgpack:"samples"`
	Ploidy       uint8     `msgpack:"ploidy"`
	GTKey        int       `msgpack:"gt_key"`
	NeglectLimit uint32    `msgpack:"neglect_limit"`
	Keys         []KeyDesc `msgpack:"keys"`
}

// encodeField renders one FieldValue into its record form: the size
// stream entry and the data bytes. This byte form is also what the
// function-graph digests and mappings operate on.
func encodeField(t KeyType, v FieldValue, dst []byte) (uint32, []byte) {
	switch t {
	case KeyFlag:
		if v.Present && v.Flag {
			return 1, append(dst, 1)
		}
		return 1, append(dst, 0)
	case KeyInt:
		if !v.Present {
			return 0, dst
		}
		for _, x := range v.Ints {
			dst = binary.AppendUvarint(dst, zigzag(int64(x)))
		}
		return uint32(len(v.Ints)) + 1, dst
	case KeyReal:
		if !v.Present {
			return 0, dst
		}
		for _, x := range v.Reals {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(x))
		}
		return uint32(len(v.Reals)) + 1, dst
	case KeyText:
		if !v.Present {
			return 0, dst
		}
		return uint32(len(v.Text)) + 1, append(dst, v.Text...)
	}
	return 0, dst
}

// fieldDataLen returns how many data bytes a record with the given size
// entry occupies, parsing varints where the width is not fixed.
func fieldDataLen(t KeyType, sizeEntry uint32, data []byte) (int, error) {
	switch t {
	case KeyFlag:
		return 1, nil
	case KeyInt:
		if sizeEntry == 0 {
			return 0, nil
		}
		off := 0
		for i := uint32(0); i < sizeEntry-1; i++ {
			_, n := binary.Uvarint(data[off:])
			if n <= 0 {
				return 0, fmt.Errorf("integer record: truncated varint")
			}
			off += n
		}
		return off, nil
	case KeyReal:
		if sizeEntry == 0 {
			return 0, nil
		}
		return int(sizeEntry-1) * 4, nil
	case KeyText:
		if sizeEntry == 0 {
			return 0, nil
		}
		return int(sizeEntry - 1), nil
	}
	return 0, fmt.Errorf("unexpected key type %v", t)
}

// decodeField parses a record back into a FieldValue.
func decodeField(t KeyType, sizeEntry uint32, rec []byte) (FieldValue, error) {
	var v FieldValue
	switch t {
	case KeyFlag:
		if len(rec) != 1 {
			return v, fmt.Errorf("flag record: %d bytes", len(rec))
		}
		v.Present = true
		v.Flag = rec[0] == 1
	case KeyInt:
		if sizeEntry == 0 {
			return v, nil
		}
		v.Present = true
		n := int(sizeEntry - 1)
		v.Ints = make([]int32, n)
		off := 0
		for i := 0; i < n; i++ {
			u, k := binary.Uvarint(rec[off:])
			if k <= 0 {
				return v, fmt.Errorf("integer record: truncated varint")
			}
			v.Ints[i] = int32(unzigzag(u))
			off += k
		}
	case KeyReal:
		if sizeEntry == 0 {
			return v, nil
		}
		v.Present = true
		n := int(sizeEntry - 1)
		if len(rec) != n*4 {
			return v, fmt.Errorf("real record: %d bytes for %d values", len(rec), n)
		}
		v.Reals = make([]float32, n)
		for i := 0; i < n; i++ {
			v.Reals[i] = math.Float32frombits(binary.LittleEndian.Uint32(rec[i*4:]))
		}
	case KeyText:
		if sizeEntry == 0 {
			return v, nil
		}
		v.Present = true
		v.Text = append([]byte(nil), rec...)
	}
	return v, nil
}

// frameRecord renders (sizeEntry, record) in the form the function
// graph digests and mapping tables use.
func frameRecord(dst []byte, sizeEntry uint32, rec []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(sizeEntry))
	return append(dst, rec...)
}

// unframeRecord splits a framed record back into its parts.
func unframeRecord(framed []byte) (uint32, []byte, error) {
	s, n := binary.Uvarint(framed)
	if n <= 0 {
		return 0, nil, fmt.Errorf("bad framed record")
	}
	return uint32(s), framed[n:], nil
}

func zigzag(v int64) uint64 {
	return uint64(v<<1) ^ uint64(v>>63)
}

func unzigzag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}
