// Package pbwt implements the positional prefix permutation applied to
// the genotype matrix before context coding. At every row the columns
// are reordered so that columns with equal reverse prefixes are
// adjacent, which turns the typical genotype matrix into long runs.
//
// The permutation update depends only on the previous permutation and
// the row just emitted, so the inverse transform can replay it from the
// decoded rows alone.
package pbwt

// PBWT carries the running column permutation. Width is learned lazily
// because the matrix width (ploidy x samples) is unknown until the
// first variant arrives.
type PBWT struct {
	width  int
	perm   []int
	next   []int
	counts [256]int
	ready  bool
}

// Reset discards the permutation. The next InitIfNeeded starts fresh.
func (p *PBWT) Reset() {
	p.ready = false
}

// Ready reports whether the permutation has been initialised.
func (p *PBWT) Ready() bool {
	return p.ready
}

// Width returns the column count, zero before initialisation.
func (p *PBWT) Width() int {
	if !p.ready {
		return 0
	}
	return p.width
}

// InitIfNeeded sets up the identity permutation over width columns on
// first use.
func (p *PBWT) InitIfNeeded(width int) {
	if p.ready && p.width == width {
		return
	}
	p.width = width
	if cap(p.perm) < width {
		p.perm = make([]int, width)
		p.next = make([]int, width)
	}
	p.perm = p.perm[:width]
	p.next = p.next[:width]
	for i := range p.perm {
		p.perm[i] = i
	}
	p.ready = true
}

// Forward emits row in permuted order into out and advances the
// permutation. out must have the same length as row.
func (p *PBWT) Forward(row, out []byte) {
	for i, src := range p.perm {
		out[i] = row[src]
	}
	p.update(out)
}

// Inverse places the permuted row back into original column order and
// advances the permutation by the same rule as Forward.
func (p *PBWT) Inverse(permuted, out []byte) {
	for i, src := range p.perm {
		out[src] = permuted[i]
	}
	p.update(permuted)
}

// update stable-sorts the column order by the symbols just emitted.
func (p *PBWT) update(emitted []byte) {
	maxSym := 0
	for i := range p.counts {
		p.counts[i] = 0
	}
	for _, s := range emitted {
		p.counts[s]++
		if int(s) > maxSym {
			maxSym = int(s)
		}
	}
	pos := 0
	for s := 0; s <= maxSym; s++ {
		n := p.counts[s]
		p.counts[s] = pos
		pos += n
	}
	for i, s := range emitted {
		p.next[p.counts[s]] = p.perm[i]
		p.counts[s]++
	}
	p.perm, p.next = p.next, p.perm
}
