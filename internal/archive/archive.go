// Package archive implements the container file: named streams of
// opaque parts with a trailing index. Layout:
//
//	MAGIC(8) | VERSION(1) | parts... | INDEX | INDEX-LEN(8) | FOOTER-MAGIC(8)
//
// Each part is stream-id varint | part-id varint | length varint |
// bytes. The index enumerates streams with their link targets and
// (offset, length, part-id) triples, so the whole file is discoverable
// from the tail.
//
// Parts are buffered and emitted at Finalize ordered by (stream-id,
// part-id). Workers may add parts in any order; the finalize ordering
// is what makes the archive bytes independent of worker scheduling.
package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
)

var (
	magic       = [8]byte{'V', 'C', 'F', 'S', 'H', 'R', 'K', 0}
	footerMagic = [8]byte{0, 'K', 'R', 'H', 'S', 'F', 'C', 'V'}
)

const version = byte(1)

// Error kinds surfaced by the read path.
var (
	ErrBadMagic   = errors.New("archive: bad magic")
	ErrBadVersion = errors.New("archive: unsupported version")
	ErrTruncated  = errors.New("archive: truncated file")
	ErrCorrupt    = errors.New("archive: corrupt index")
)

type part struct {
	id   int
	blob []byte
}

type stream struct {
	name   string
	target string // non-empty for links
	parts  []part
}

// Writer accumulates streams and writes the archive at Finalize.
type Writer struct {
	mu      sync.Mutex
	path    string
	streams []*stream
	byName  map[string]int
}

// NewWriter starts an archive that Finalize will write to path.
func NewWriter(path string) *Writer {
	return &Writer{path: path, byName: make(map[string]int)}
}

// Register creates a stream and returns its id. Registering an existing
// name returns the existing id.
func (w *Writer) Register(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id, ok := w.byName[name]; ok {
		return id
	}
	id := len(w.streams)
	w.streams = append(w.streams, &stream{name: name})
	w.byName[name] = id
	return id
}

// AddPart records a blob under (stream, partID). Safe for concurrent
// callers; insertion order does not matter, parts are ordered by
// part-id at Finalize.
func (w *Writer) AddPart(id, partID int, blob []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.streams[id]
	s.parts = append(s.parts, part{id: partID, blob: blob})
}

// Link turns name into an alias of target's part list. The stream is
// created if missing; any parts it holds are discarded.
func (w *Writer) Link(name, target string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.byName[name]
	if !ok {
		id = len(w.streams)
		w.streams = append(w.streams, &stream{name: name})
		w.byName[name] = id
	}
	w.streams[id].target = target
	w.streams[id].parts = nil
}

// RemoveParts drops every part of a stream. Used when the function
// graph replaces a stream's payload with a descriptor.
func (w *Writer) RemoveParts(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.streams[id].parts = nil
}

// Finalize writes the archive file. The writer must not be used after.
func (w *Writer) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 0, 1<<20)
	buf = append(buf, magic[:]...)
	buf = append(buf, version)

	type placed struct {
		offset, length uint64
		partID         int
	}
	placement := make([][]placed, len(w.streams))

	for sid, s := range w.streams {
		sort.Slice(s.parts, func(i, j int) bool { return s.parts[i].id < s.parts[j].id })
		for _, p := range s.parts {
			hdr := binary.AppendUvarint(nil, uint64(sid))
			hdr = binary.AppendUvarint(hdr, uint64(p.id))
			hdr = binary.AppendUvarint(hdr, uint64(len(p.blob)))
			offset := uint64(len(buf)) + uint64(len(hdr))
			buf = append(buf, hdr...)
			buf = append(buf, p.blob...)
			placement[sid] = append(placement[sid], placed{offset, uint64(len(p.blob)), p.id})
		}
	}

	index := binary.AppendUvarint(nil, uint64(len(w.streams)))
	for sid, s := range w.streams {
		index = binary.AppendUvarint(index, uint64(len(s.name)))
		index = append(index, s.name...)
		index = binary.AppendUvarint(index, uint64(len(s.target)))
		index = append(index, s.target...)
		index = binary.AppendUvarint(index, uint64(len(placement[sid])))
		for _, p := range placement[sid] {
			index = binary.AppendUvarint(index, p.offset)
			index = binary.AppendUvarint(index, p.length)
			index = binary.AppendUvarint(index, uint64(p.partID))
		}
	}

	buf = append(buf, index...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(index)))
	buf = append(buf, footerMagic[:]...)

	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	return nil
}

// Abort removes the partially written archive after a failure.
func (w *Writer) Abort() {
	os.Remove(w.path)
}
