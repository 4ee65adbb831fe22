package fieldcodec

import (
	"encoding/binary"

	"github.com/inodb/vcfshark/internal/pbwt"
	"github.com/inodb/vcfshark/internal/rangecoder"
)

// Genotype context layout. Three strands are mixed into one 64-bit
// context: recent symbols of the current row (prefix), the run-symbol
// history (symbol), and flag bits in the top nibble separating the
// model families. The large-value flags carve out three tiers for
// values that do not fit the primary alphabet.
const (
	ctxFlagSymbol = uint64(1) << 60
	ctxFlagPrefix = uint64(2) << 60
	ctxFlagLarge1 = uint64(4) << 60
	ctxFlagLarge2 = uint64(5) << 60
	ctxFlagLarge3 = uint64(6) << 60

	ctxSymbolMask = uint64(0xffff)
	ctxPrefixMask = uint64(0xfffff)

	// Distinguishes the run-length tiers from the wide-symbol tiers
	// under the same flag values.
	ctxLenTierBit = uint64(1) << 32
)

const (
	gtMaxDirectSym = 15 // symbols above this escape to the wide tiers
	gtSymAlphabet  = gtMaxDirectSym + 2
	gtMaxDirectLen = 15 // run lengths above this escape
	gtLenAlphabet  = gtMaxDirectLen + 1

	gtSymMaxLog = 15
	gtLenMaxLog = 15
)

// GTCoder compresses the genotype matrix. Model state, the prefix
// contexts and the column permutation persist across every part of the
// genotype stream, so parts must be coded and decoded strictly in
// part-id order. The range coder itself restarts per part, keeping each
// part a self-delimiting blob.
type GTCoder struct {
	cm        *rangecoder.ContextMap
	perm      pbwt.PBWT
	ctxPrefix uint64
	ctxSymbol uint64
	scratch   []byte
}

// NewGTCoder returns a coder with fresh statistics.
func NewGTCoder() *GTCoder {
	return &GTCoder{cm: rangecoder.NewContextMap()}
}

// CompressPart encodes rows (each width bytes, concatenated in data)
// and returns the part payload.
func (g *GTCoder) CompressPart(data []byte, width, rows int) []byte {
	buf := rangecoder.NewBuffer()
	enc := rangecoder.NewEncoder(buf)
	enc.Start()

	g.perm.InitIfNeeded(width)
	if cap(g.scratch) < width {
		g.scratch = make([]byte, width)
	}
	permuted := g.scratch[:width]

	for r := 0; r < rows; r++ {
		row := data[r*width : (r+1)*width]
		g.perm.Forward(row, permuted)
		for i := 0; i < width; {
			sym := permuted[i]
			j := i + 1
			for j < width && permuted[j] == sym {
				j++
			}
			g.encodeRun(enc, uint32(sym), uint32(j-i))
			i = j
		}
	}
	enc.Finish()

	out := binary.AppendUvarint(nil, uint64(rows))
	out = binary.AppendUvarint(out, uint64(width))
	return append(out, buf.Bytes()...)
}

// DecompressPart decodes one part payload, returning the matrix rows in
// original column order.
func (g *GTCoder) DecompressPart(part []byte) (data []byte, width, rows int, err error) {
	nRows, n := binary.Uvarint(part)
	if n <= 0 {
		return nil, 0, 0, errTruncated
	}
	part = part[n:]
	w, n := binary.Uvarint(part)
	if n <= 0 {
		return nil, 0, 0, errTruncated
	}
	part = part[n:]
	rows, width = int(nRows), int(w)

	buf := rangecoder.NewBufferFrom(part)
	dec := rangecoder.NewDecoder(buf)
	dec.Start()

	g.perm.InitIfNeeded(width)
	if cap(g.scratch) < width {
		g.scratch = make([]byte, width)
	}
	permuted := g.scratch[:width]

	data = make([]byte, rows*width)
	for r := 0; r < rows; r++ {
		i := 0
		for i < width {
			sym, length := g.decodeRun(dec)
			if i+int(length) > width {
				return nil, 0, 0, errTruncated
			}
			for k := 0; k < int(length); k++ {
				permuted[i+k] = byte(sym)
			}
			i += int(length)
		}
		g.perm.Inverse(permuted, data[r*width:(r+1)*width])
	}
	return data, width, rows, nil
}

// encodeRun codes one (symbol, length) pair: symbol under the prefix
// context, length category under a symbol-derived context, escaped
// values through the wide tiers. decodeRun consults the context map in
// the identical order.
func (g *GTCoder) encodeRun(enc *rangecoder.Encoder, sym, length uint32) {
	symCtx := ctxFlagPrefix | (g.ctxSymbol&ctxSymbolMask)<<20 | (g.ctxPrefix & ctxPrefixMask)
	m := g.cm.Find(symCtx, gtSymAlphabet, gtSymMaxLog)
	if sym <= gtMaxDirectSym {
		m.Encode(enc, int(sym))
	} else {
		m.Encode(enc, gtMaxDirectSym+1)
		g.encodeWide(enc, sym, 0)
	}
	g.pushSym(sym)

	lenCtx := ctxFlagSymbol | uint64(sym)&ctxSymbolMask
	lm := g.cm.Find(lenCtx, gtLenAlphabet, gtLenMaxLog)
	if length <= gtMaxDirectLen {
		lm.Encode(enc, int(length-1))
	} else {
		lm.Encode(enc, gtMaxDirectLen)
		g.encodeWide(enc, length, ctxLenTierBit|uint64(sym)&0xff)
	}
}

func (g *GTCoder) decodeRun(dec *rangecoder.Decoder) (sym, length uint32) {
	symCtx := ctxFlagPrefix | (g.ctxSymbol&ctxSymbolMask)<<20 | (g.ctxPrefix & ctxPrefixMask)
	m := g.cm.Find(symCtx, gtSymAlphabet, gtSymMaxLog)
	s := m.Decode(dec)
	if s <= gtMaxDirectSym {
		sym = uint32(s)
	} else {
		sym = g.decodeWide(dec, 0)
	}
	g.pushSym(sym)

	lenCtx := ctxFlagSymbol | uint64(sym)&ctxSymbolMask
	lm := g.cm.Find(lenCtx, gtLenAlphabet, gtLenMaxLog)
	l := lm.Decode(dec)
	if l < gtMaxDirectLen {
		length = uint32(l + 1)
	} else {
		length = g.decodeWide(dec, ctxLenTierBit|uint64(sym)&0xff)
	}
	return sym, length
}

// encodeWide emits a 24-bit value as three byte tiers. tierTag folds in
// the length-tier bit (and the run symbol) so symbol and length escapes
// use disjoint model families.
func (g *GTCoder) encodeWide(enc *rangecoder.Encoder, v uint32, tierTag uint64) {
	b0 := v & 0xff
	b1 := (v >> 8) & 0xff
	b2 := (v >> 16) & 0xff
	g.cm.Find(ctxFlagLarge1|tierTag|(g.ctxPrefix&ctxPrefixMask), 256, gtSymMaxLog).Encode(enc, int(b0))
	g.cm.Find(ctxFlagLarge2|tierTag|uint64(b0), 256, gtSymMaxLog).Encode(enc, int(b1))
	g.cm.Find(ctxFlagLarge3|tierTag|uint64(b0)<<8|uint64(b1), 256, gtSymMaxLog).Encode(enc, int(b2))
}

func (g *GTCoder) decodeWide(dec *rangecoder.Decoder, tierTag uint64) uint32 {
	b0 := uint32(g.cm.Find(ctxFlagLarge1|tierTag|(g.ctxPrefix&ctxPrefixMask), 256, gtSymMaxLog).Decode(dec))
	b1 := uint32(g.cm.Find(ctxFlagLarge2|tierTag|uint64(b0), 256, gtSymMaxLog).Decode(dec))
	b2 := uint32(g.cm.Find(ctxFlagLarge3|tierTag|uint64(b0)<<8|uint64(b1), 256, gtSymMaxLog).Decode(dec))
	return b0 | b1<<8 | b2<<16
}

func (g *GTCoder) pushSym(sym uint32) {
	g.ctxPrefix = (g.ctxPrefix<<4 | uint64(sym)&0xf) & ctxPrefixMask
	g.ctxSymbol = (g.ctxSymbol<<8 | uint64(sym)&0xff) & ctxSymbolMask
}
