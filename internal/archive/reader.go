package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
)

type readPart struct {
	offset uint64
	length uint64
	id     int
}

type readStream struct {
	name   string
	target string
	parts  []readPart
}

// Reader provides random access to a finalized archive.
type Reader struct {
	f       *os.File
	streams []readStream
	byName  map[string]int
}

// OpenReader opens path and loads the tail index. Format and invariant
// violations return the sentinel errors of this package.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	r := &Reader{f: f, byName: make(map[string]int)}
	if err := r.loadIndex(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) loadIndex() error {
	st, err := r.f.Stat()
	if err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}
	size := st.Size()
	if size < int64(len(magic))+1+16 {
		return ErrTruncated
	}

	head := make([]byte, 9)
	if _, err := r.f.ReadAt(head, 0); err != nil {
		return fmt.Errorf("read archive head: %w", err)
	}
	if !bytes.Equal(head[:8], magic[:]) {
		return ErrBadMagic
	}
	if head[8] != version {
		return ErrBadVersion
	}

	tail := make([]byte, 16)
	if _, err := r.f.ReadAt(tail, size-16); err != nil {
		return fmt.Errorf("read archive tail: %w", err)
	}
	if !bytes.Equal(tail[8:], footerMagic[:]) {
		return ErrBadMagic
	}
	indexLen := binary.LittleEndian.Uint64(tail[:8])
	if indexLen == 0 || int64(indexLen) > size-16-9 {
		return ErrCorrupt
	}

	index := make([]byte, indexLen)
	if _, err := r.f.ReadAt(index, size-16-int64(indexLen)); err != nil {
		return fmt.Errorf("read archive index: %w", err)
	}

	count, off := binary.Uvarint(index)
	if off <= 0 {
		return ErrCorrupt
	}
	pos := off
	readStr := func() (string, bool) {
		l, n := binary.Uvarint(index[pos:])
		if n <= 0 || pos+n+int(l) > len(index) {
			return "", false
		}
		pos += n
		s := string(index[pos : pos+int(l)])
		pos += int(l)
		return s, true
	}
	readU := func() (uint64, bool) {
		v, n := binary.Uvarint(index[pos:])
		if n <= 0 {
			return 0, false
		}
		pos += n
		return v, true
	}

	for i := uint64(0); i < count; i++ {
		var s readStream
		var ok bool
		if s.name, ok = readStr(); !ok {
			return ErrCorrupt
		}
		if s.target, ok = readStr(); !ok {
			return ErrCorrupt
		}
		partCount, ok := readU()
		if !ok {
			return ErrCorrupt
		}
		s.parts = make([]readPart, 0, partCount)
		for j := uint64(0); j < partCount; j++ {
			var p readPart
			if p.offset, ok = readU(); !ok {
				return ErrCorrupt
			}
			if p.length, ok = readU(); !ok {
				return ErrCorrupt
			}
			pid, ok := readU()
			if !ok {
				return ErrCorrupt
			}
			p.id = int(pid)
			if p.offset+p.length > uint64(size) {
				return ErrCorrupt
			}
			s.parts = append(s.parts, p)
		}
		// Deliver parts in part-id order and insist the ids are dense.
		sort.Slice(s.parts, func(a, b int) bool { return s.parts[a].id < s.parts[b].id })
		for j, p := range s.parts {
			if p.id != j {
				return fmt.Errorf("%w: stream %q part ids not dense", ErrCorrupt, s.name)
			}
		}
		r.byName[s.name] = len(r.streams)
		r.streams = append(r.streams, s)
	}
	return nil
}

// StreamID returns the id for name, or -1 when absent.
func (r *Reader) StreamID(name string) int {
	id, ok := r.byName[name]
	if !ok {
		return -1
	}
	return id
}

// Streams returns all stream names in id order.
func (r *Reader) Streams() []string {
	names := make([]string, len(r.streams))
	for i, s := range r.streams {
		names[i] = s.name
	}
	return names
}

// Target returns the link target of a stream, empty for plain streams.
func (r *Reader) Target(id int) string {
	return r.streams[id].target
}

func (r *Reader) resolve(id int) (*readStream, error) {
	s := &r.streams[id]
	for hops := 0; s.target != ""; hops++ {
		if hops > len(r.streams) {
			return nil, fmt.Errorf("%w: link cycle at %q", ErrCorrupt, s.name)
		}
		tid, ok := r.byName[s.target]
		if !ok {
			return nil, fmt.Errorf("%w: dangling link %q -> %q", ErrCorrupt, s.name, s.target)
		}
		s = &r.streams[tid]
	}
	return s, nil
}

// PartCount returns the number of parts, following links.
func (r *Reader) PartCount(id int) (int, error) {
	s, err := r.resolve(id)
	if err != nil {
		return 0, err
	}
	return len(s.parts), nil
}

// GetPart reads one part blob, following links.
func (r *Reader) GetPart(id, idx int) ([]byte, error) {
	s, err := r.resolve(id)
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(s.parts) {
		return nil, fmt.Errorf("%w: part %d of stream %q", ErrCorrupt, idx, s.name)
	}
	p := s.parts[idx]
	blob := make([]byte, p.length)
	if _, err := r.f.ReadAt(blob, int64(p.offset)); err != nil {
		return nil, fmt.Errorf("read part: %w", err)
	}
	return blob, nil
}

// Close releases the file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}
