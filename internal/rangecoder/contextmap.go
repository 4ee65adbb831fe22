package rangecoder

import (
	"encoding/binary"

	"github.com/dchest/siphash"
)

// ContextMap is an open-addressing hash map from 64-bit contexts to
// adaptive coder models. Lookup has insert-or-get semantics: the first
// use of a context constructs its model, later uses return the same
// instance so statistics accumulate across symbols.
//
// A map instance belongs to a single stream; it is never shared across
// streams or processes.
type ContextMap struct {
	keys   []uint64
	vals   []*CtxModel
	used   []bool
	filled int
	mask   uint64
}

const ctxMapInitSize = 1 << 10

// siphash keys are fixed: the map is a deterministic part of the codec,
// not a DoS-hardened table.
const (
	ctxHashK0 = 0x736861726b763166
	ctxHashK1 = 0x67656e6f74797065
)

// NewContextMap returns an empty map.
func NewContextMap() *ContextMap {
	m := &ContextMap{}
	m.alloc(ctxMapInitSize)
	return m
}

func (m *ContextMap) alloc(size int) {
	m.keys = make([]uint64, size)
	m.vals = make([]*CtxModel, size)
	m.used = make([]bool, size)
	m.filled = 0
	m.mask = uint64(size - 1)
}

func (m *ContextMap) slot(ctx uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], ctx)
	return siphash.Hash(ctxHashK0, ctxHashK1, b[:]) & m.mask
}

// Find returns the model for ctx, constructing it with (nSymbols,
// maxLogCounter) on first use.
func (m *ContextMap) Find(ctx uint64, nSymbols int, maxLogCounter uint32) *CtxModel {
	i := m.slot(ctx)
	for m.used[i] {
		if m.keys[i] == ctx {
			return m.vals[i]
		}
		i = (i + 1) & m.mask
	}
	v := NewCtxModel(nSymbols, maxLogCounter)
	m.insertAt(i, ctx, v)
	return v
}

func (m *ContextMap) insertAt(i, ctx uint64, v *CtxModel) {
	m.keys[i] = ctx
	m.vals[i] = v
	m.used[i] = true
	m.filled++
	if uint64(m.filled)*4 > (m.mask+1)*3 {
		m.grow()
	}
}

func (m *ContextMap) grow() {
	oldKeys, oldVals, oldUsed := m.keys, m.vals, m.used
	m.alloc(len(oldKeys) * 2)
	for i, ok := range oldUsed {
		if !ok {
			continue
		}
		j := m.slot(oldKeys[i])
		for m.used[j] {
			j = (j + 1) & m.mask
		}
		m.keys[j] = oldKeys[i]
		m.vals[j] = oldVals[i]
		m.used[j] = true
		m.filled++
	}
}

// Len returns the number of contexts seen so far.
func (m *ContextMap) Len() int {
	return m.filled
}
