package rangecoder

// SimpleModel holds adaptive symbol frequencies for one context. When
// any counter reaches 1<<maxLogCounter every counter is halved
// (rounding up), which ages old statistics exponentially.
type SimpleModel struct {
	freqs      []uint32
	total      uint32
	maxCounter uint32
}

// Init sets up the model for nSymbols with the given log-counter cap.
// Every symbol starts with frequency 1.
func (m *SimpleModel) Init(nSymbols int, maxLogCounter uint32) {
	m.freqs = make([]uint32, nSymbols)
	for i := range m.freqs {
		m.freqs[i] = 1
	}
	m.total = uint32(nSymbols)
	m.maxCounter = uint32(1) << maxLogCounter
}

// stats returns (freq, cum, total) for symbol s.
func (m *SimpleModel) stats(s int) (uint32, uint32, uint32) {
	var cum uint32
	for i := 0; i < s; i++ {
		cum += m.freqs[i]
	}
	return m.freqs[s], cum, m.total
}

// find locates the symbol covering cumulative value v.
func (m *SimpleModel) find(v uint32) (sym int, freq, cum uint32) {
	var c uint32
	for i, f := range m.freqs {
		if v < c+f {
			return i, f, c
		}
		c += f
	}
	last := len(m.freqs) - 1
	return last, m.freqs[last], c - m.freqs[last]
}

// update bumps symbol s and ages the table when the cap is hit.
func (m *SimpleModel) update(s int) {
	m.freqs[s]++
	m.total++
	if m.freqs[s] >= m.maxCounter {
		m.total = 0
		for i, f := range m.freqs {
			m.freqs[i] = (f + 1) / 2
			m.total += m.freqs[i]
		}
	}
}

// CtxModel couples a SimpleModel with a range coder. One instance per
// context, discovered through a ContextMap.
type CtxModel struct {
	m SimpleModel
}

// NewCtxModel builds a model for nSymbols under the given counter cap.
func NewCtxModel(nSymbols int, maxLogCounter uint32) *CtxModel {
	c := &CtxModel{}
	c.m.Init(nSymbols, maxLogCounter)
	return c
}

// Encode codes symbol s and updates the statistics.
func (c *CtxModel) Encode(e *Encoder, s int) {
	freq, cum, total := c.m.stats(s)
	e.EncodeFrequency(freq, cum, total)
	c.m.update(s)
}

// Decode returns the next symbol and updates the statistics. Encoder
// and decoder must touch contexts in identical order for the streams to
// agree.
func (c *CtxModel) Decode(d *Decoder) int {
	v := d.GetCumulativeFreq(c.m.total)
	s, freq, cum := c.m.find(v)
	d.UpdateFrequency(freq, cum, c.m.total)
	c.m.update(s)
	return s
}
