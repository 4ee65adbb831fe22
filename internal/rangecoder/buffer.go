// Package rangecoder implements the adaptive arithmetic coding layer:
// a byte buffer the coder reads and writes, a carry-propagating 32-bit
// range coder, a frequency model with exponential aging, and a hash map
// from 64-bit contexts to per-context models.
package rangecoder

// Buffer is a growable byte vector with a single-byte write append and a
// single-byte read cursor. It is the backing store for the range coder.
type Buffer struct {
	data []byte
	pos  int
}

// NewBuffer returns an empty buffer ready for writing.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// NewBufferFrom returns a buffer whose read cursor starts at the
// beginning of data. The slice is not copied.
func NewBufferFrom(data []byte) *Buffer {
	return &Buffer{data: data}
}

// WriteByte appends one byte.
func (b *Buffer) WriteByte(c byte) error {
	b.data = append(b.data, c)
	return nil
}

// ReadByte returns the byte at the cursor and advances it. Reading past
// the end returns zero bytes; a truncated part surfaces later as a
// corrupt-stream error when the decoded payload fails validation.
func (b *Buffer) ReadByte() byte {
	if b.pos >= len(b.data) {
		return 0
	}
	c := b.data[b.pos]
	b.pos++
	return c
}

// Bytes returns the written contents.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the number of bytes written.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Reset discards contents and rewinds the cursor.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.pos = 0
}

// SetData replaces the contents and rewinds the read cursor.
func (b *Buffer) SetData(data []byte) {
	b.data = data
	b.pos = 0
}
