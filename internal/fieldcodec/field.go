// Package fieldcodec turns sealed chunks of per-field data into
// compressed part payloads and back. Dispatch by semantic type lives in
// the engine; this package provides the encoders themselves: plain
// entropy-coded payloads for flags, integers and reals, the
// text-preprocessed path for text fields, a dictionary coder for the
// chromosome column, and the context-coded genotype path.
package fieldcodec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/inodb/vcfshark/internal/entropy"
	"github.com/inodb/vcfshark/internal/textpp"
)

var errTruncated = errors.New("fieldcodec: truncated part")

// CompressSizes encodes a per-record size vector through the preset.
func CompressSizes(p entropy.Preset, sizes []uint32) []byte {
	raw := make([]byte, 0, len(sizes)+8)
	raw = binary.AppendUvarint(raw, uint64(len(sizes)))
	for _, s := range sizes {
		raw = binary.AppendUvarint(raw, uint64(s))
	}
	return entropy.Compress(p, raw)
}

// DecompressSizes inverts CompressSizes.
func DecompressSizes(p entropy.Preset, blob []byte) ([]uint32, error) {
	raw, err := entropy.Decompress(p, blob)
	if err != nil {
		return nil, err
	}
	n, off := binary.Uvarint(raw)
	if off <= 0 {
		return nil, errTruncated
	}
	sizes := make([]uint32, n)
	for i := range sizes {
		v, k := binary.Uvarint(raw[off:])
		if k <= 0 {
			return nil, errTruncated
		}
		sizes[i] = uint32(v)
		off += k
	}
	return sizes, nil
}

// CompressData encodes a raw value payload through the preset.
func CompressData(p entropy.Preset, data []byte) []byte {
	return entropy.Compress(p, data)
}

// DecompressData inverts CompressData.
func DecompressData(p entropy.Preset, blob []byte) ([]byte, error) {
	return entropy.Decompress(p, blob)
}

// CompressText runs the chunk through the shared per-stream text
// preprocessor and then the preset. The stored length carries
// textpp.CompressFlag in bit 30 when preprocessing was applied; a chunk
// the preprocessor would have grown is stored unprocessed with the flag
// clear.
func CompressText(tp *textpp.Codec, p entropy.Preset, data []byte) []byte {
	pp, applied := tp.Encode(data)
	header := uint32(len(pp))
	if applied {
		header |= textpp.CompressFlag
	}
	out := binary.AppendUvarint(nil, uint64(header))
	return append(out, entropy.CompressRaw(p, pp)...)
}

// DecompressText inverts CompressText, honouring the bit-30 flag.
func DecompressText(tp *textpp.Codec, p entropy.Preset, blob []byte) ([]byte, error) {
	header, n := binary.Uvarint(blob)
	if n <= 0 {
		return nil, errTruncated
	}
	applied := uint32(header)&textpp.CompressFlag != 0
	rawLen := int(uint32(header) &^ textpp.CompressFlag)
	pp, err := entropy.DecompressRaw(p, blob[n:], rawLen)
	if err != nil {
		return nil, err
	}
	if !applied {
		return pp, nil
	}
	out, err := tp.Decode(pp)
	if err != nil {
		return nil, fmt.Errorf("text chunk: %w", err)
	}
	return out, nil
}
