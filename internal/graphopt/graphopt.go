// Package graphopt detects inter-field redundancy. During ingestion a
// Tracker per key accumulates order-sensitive digests and a small
// first-occurrence dictionary; at close Optimize turns those statistics
// into two graphs: a size graph (equality of per-record size sequences,
// realised as stream links) and a data graph (equality links plus small
// enumerated mappings realised as function descriptors).
//
// The equivalence predicate is digest equality over the length-framed
// record sequence (128-bit siphash, chained per record). Two fields are
// mapping-related when both keep at most the neglect limit of distinct
// records and their first-occurrence index sequences digest equal; the
// mapping then pairs the two dictionaries positionally.
package graphopt

import (
	"encoding/binary"

	"github.com/dchest/siphash"
)

const (
	digestK0 = 0x766366736861726b
	digestK1 = 0x66756e6367726170
)

// Tracker accumulates the per-key statistics the optimiser needs. All
// state is O(neglect limit), independent of variant count.
type Tracker struct {
	limit   int
	records uint64
	bytes   uint64

	valD0, valD1   uint64
	sizeD0, sizeD1 uint64
	idxD0, idxD1   uint64

	dict     []string // framed records in first-occurrence order
	dictIdx  map[string]int
	overflow bool

	scratch []byte
}

// NewTracker returns a tracker whose dictionary holds at most limit
// distinct records.
func NewTracker(limit int) *Tracker {
	return &Tracker{limit: limit, dictIdx: make(map[string]int)}
}

// Add accounts one record: its size-stream entry and its data bytes.
func (t *Tracker) Add(sizeEntry uint32, record []byte) {
	t.records++
	t.bytes += uint64(len(record))

	framed := binary.AppendUvarint(t.scratch[:0], uint64(sizeEntry))
	framed = append(framed, record...)
	t.scratch = framed

	t.valD0, t.valD1 = chain(t.valD0, t.valD1, framed)

	var sz [binary.MaxVarintLen32]byte
	n := binary.PutUvarint(sz[:], uint64(sizeEntry))
	t.sizeD0, t.sizeD1 = chain(t.sizeD0, t.sizeD1, sz[:n])

	idx, ok := t.dictIdx[string(framed)]
	if !ok {
		if len(t.dict) >= t.limit {
			t.overflow = true
		} else {
			idx = len(t.dict)
			t.dict = append(t.dict, string(framed))
			t.dictIdx[string(framed)] = idx
		}
	}
	if !t.overflow {
		n = binary.PutUvarint(sz[:], uint64(idx))
		t.idxD0, t.idxD1 = chain(t.idxD0, t.idxD1, sz[:n])
	}
}

// Records returns the number of records seen.
func (t *Tracker) Records() uint64 {
	return t.records
}

// Distinct returns the saturating distinct-record count.
func (t *Tracker) Distinct() int {
	if t.overflow {
		return t.limit + 1
	}
	return len(t.dict)
}

// Uniform reports whether the distinct count stayed within the limit.
func (t *Tracker) Uniform() bool {
	return !t.overflow
}

func chain(d0, d1 uint64, data []byte) (uint64, uint64) {
	buf := make([]byte, 16, 16+len(data))
	binary.LittleEndian.PutUint64(buf[:8], d0)
	binary.LittleEndian.PutUint64(buf[8:16], d1)
	buf = append(buf, data...)
	return siphash.Hash128(digestK0, digestK1, buf)
}

// Edge asserts dst's sequence is reconstructible from src's.
type Edge struct {
	Dst int `msgpack:"dst"`
	Src int `msgpack:"src"`
}

// MapPair maps one framed source record to one framed destination
// record.
type MapPair struct {
	Src []byte `msgpack:"src"`
	Dst []byte `msgpack:"dst"`
}

// DataEdge is one chosen data-graph edge. Equal edges become archive
// links; mapping edges carry the enumerated function.
type DataEdge struct {
	Dst   int       `msgpack:"dst"`
	Src   int       `msgpack:"src"`
	Equal bool      `msgpack:"equal"`
	Pairs []MapPair `msgpack:"pairs,omitempty"`
}

// Graph is the optimiser's decision for one archive.
type Graph struct {
	SizeReplaced []bool     `msgpack:"size_replaced"`
	DataReplaced []bool     `msgpack:"data_replaced"`
	SizeEdges    []Edge     `msgpack:"size_edges"`
	DataEdges    []DataEdge `msgpack:"data_edges"`
}

// Optimize selects the edge sets. trackers is indexed by key id; a nil
// entry (the genotype key) never participates. Destinations are visited
// in ascending key id and sources scanned in ascending key id among
// keys not replaced; a key chosen as a source is never itself replaced
// and may serve several destinations, so the result is a depth-1 DAG
// and deterministic for a given input.
func Optimize(trackers []*Tracker) *Graph {
	n := len(trackers)
	g := &Graph{
		SizeReplaced: make([]bool, n),
		DataReplaced: make([]bool, n),
	}

	// Size graph: equality only.
	sizePinned := make([]bool, n)
	for dst := 0; dst < n; dst++ {
		td := trackers[dst]
		if td == nil || td.records == 0 || sizePinned[dst] {
			continue
		}
		for src := 0; src < n; src++ {
			ts := trackers[src]
			if src == dst || ts == nil || g.SizeReplaced[src] {
				continue
			}
			if ts.records != td.records || ts.sizeD0 != td.sizeD0 || ts.sizeD1 != td.sizeD1 {
				continue
			}
			g.SizeReplaced[dst] = true
			g.SizeEdges = append(g.SizeEdges, Edge{Dst: dst, Src: src})
			sizePinned[src] = true
			break
		}
	}

	// Data graph: equality first, then mappings.
	dataPinned := make([]bool, n)
	for dst := 0; dst < n; dst++ {
		td := trackers[dst]
		if td == nil || td.records == 0 || dataPinned[dst] {
			continue
		}
		for src := 0; src < n; src++ {
			ts := trackers[src]
			if src == dst || ts == nil || g.DataReplaced[src] {
				continue
			}
			if ts.records != td.records {
				continue
			}
			if ts.valD0 == td.valD0 && ts.valD1 == td.valD1 {
				g.DataReplaced[dst] = true
				g.DataEdges = append(g.DataEdges, DataEdge{Dst: dst, Src: src, Equal: true})
				dataPinned[src] = true
				break
			}
		}
		if g.DataReplaced[dst] {
			continue
		}
		if !td.Uniform() {
			continue
		}
		for src := 0; src < n; src++ {
			ts := trackers[src]
			if src == dst || ts == nil || g.DataReplaced[src] {
				continue
			}
			if !ts.Uniform() || ts.records != td.records || len(ts.dict) != len(td.dict) {
				continue
			}
			if ts.idxD0 != td.idxD0 || ts.idxD1 != td.idxD1 {
				continue
			}
			pairs := make([]MapPair, len(ts.dict))
			for k := range ts.dict {
				pairs[k] = MapPair{Src: []byte(ts.dict[k]), Dst: []byte(td.dict[k])}
			}
			g.DataReplaced[dst] = true
			g.DataEdges = append(g.DataEdges, DataEdge{Dst: dst, Src: src, Equal: false, Pairs: pairs})
			dataPinned[src] = true
			break
		}
	}

	return g
}

// Validate rejects graphs whose edges do not form a depth-1 DAG: every
// source must itself be unreplaced. Loaded archives run this before
// decode; a cycle is a corrupt archive, not a decodable one.
func (g *Graph) Validate() bool {
	for _, e := range g.SizeEdges {
		if e.Src < 0 || e.Src >= len(g.SizeReplaced) || g.SizeReplaced[e.Src] || e.Src == e.Dst {
			return false
		}
	}
	for _, e := range g.DataEdges {
		if e.Src < 0 || e.Src >= len(g.DataReplaced) || g.DataReplaced[e.Src] || e.Src == e.Dst {
			return false
		}
	}
	return true
}
