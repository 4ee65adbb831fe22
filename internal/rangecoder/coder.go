package rangecoder

// Carry-propagating range coder over a 32-bit range. The encoder keeps
// the pending carry in a cache byte so output bytes are final once
// written; the decoder mirrors the normalisation loop exactly.

const rcTop = uint32(1) << 24

// Encoder writes arithmetic-coded symbols into a Buffer.
type Encoder struct {
	out       *Buffer
	low       uint64
	rng       uint32
	cache     byte
	cacheSize int64
}

// NewEncoder returns an encoder writing to out.
func NewEncoder(out *Buffer) *Encoder {
	return &Encoder{out: out}
}

// Start resets coder state. Must be called before the first symbol.
func (e *Encoder) Start() {
	e.low = 0
	e.rng = 0xffffffff
	e.cache = 0
	e.cacheSize = 1
}

// EncodeFrequency narrows the range to the [cum, cum+freq) slice of an
// alphabet totalling total.
func (e *Encoder) EncodeFrequency(freq, cum, total uint32) {
	r := e.rng / total
	e.low += uint64(r) * uint64(cum)
	e.rng = r * freq
	for e.rng < rcTop {
		e.rng <<= 8
		e.shiftLow()
	}
}

func (e *Encoder) shiftLow() {
	if uint32(e.low) < 0xff000000 || (e.low>>32) != 0 {
		c := e.cache
		for {
			e.out.WriteByte(c + byte(e.low>>32))
			c = 0xff
			e.cacheSize--
			if e.cacheSize == 0 {
				break
			}
		}
		e.cache = byte(e.low >> 24)
	}
	e.cacheSize++
	e.low = (e.low << 8) & 0xffffffff
}

// Finish flushes the remaining low bits. The output is complete after
// this call.
func (e *Encoder) Finish() {
	for i := 0; i < 5; i++ {
		e.shiftLow()
	}
}

// Decoder reads arithmetic-coded symbols from a Buffer.
type Decoder struct {
	in   *Buffer
	code uint32
	rng  uint32
}

// NewDecoder returns a decoder reading from in.
func NewDecoder(in *Buffer) *Decoder {
	return &Decoder{in: in}
}

// Start primes the decoder. The first byte is the encoder's initial
// cache byte and is discarded.
func (d *Decoder) Start() {
	d.rng = 0xffffffff
	d.code = 0
	d.in.ReadByte()
	for i := 0; i < 4; i++ {
		d.code = d.code<<8 | uint32(d.in.ReadByte())
	}
}

// GetCumulativeFreq returns the cumulative frequency the pending code
// falls into, for an alphabet totalling total.
func (d *Decoder) GetCumulativeFreq(total uint32) uint32 {
	r := d.rng / total
	v := d.code / r
	if v >= total {
		v = total - 1
	}
	return v
}

// UpdateFrequency consumes the symbol slice [cum, cum+freq) and
// renormalises.
func (d *Decoder) UpdateFrequency(freq, cum, total uint32) {
	r := d.rng / total
	d.code -= r * cum
	d.rng = r * freq
	for d.rng < rcTop {
		d.code = d.code<<8 | uint32(d.in.ReadByte())
		d.rng <<= 8
	}
}
