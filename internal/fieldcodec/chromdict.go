package fieldcodec

import (
	"encoding/binary"

	"github.com/inodb/vcfshark/internal/entropy"
)

// ChromDict dictionary-codes the chromosome column. The alphabet is
// tiny and stable (a few dozen contig names repeated millions of
// times), so whole records collapse to one-byte codes almost
// immediately. The dictionary is adaptive and persists across the
// column's parts; parts must therefore be coded and decoded in part-id
// order.
type ChromDict struct {
	codes map[string]uint32
	names []string
}

const (
	chromKnown   = 0
	chromNewName = 1
)

// NewChromDict returns an empty dictionary.
func NewChromDict() *ChromDict {
	return &ChromDict{codes: make(map[string]uint32)}
}

// Compress dictionary-codes the records delimited by sizes and entropy
// codes the result.
func (c *ChromDict) Compress(sizes []uint32, data []byte) []byte {
	out := make([]byte, 0, len(data)/2+8)
	var off uint32
	for _, s := range sizes {
		name := string(data[off : off+s])
		off += s
		if code, ok := c.codes[name]; ok {
			out = append(out, chromKnown)
			out = binary.AppendUvarint(out, uint64(code))
		} else {
			out = append(out, chromNewName)
			out = binary.AppendUvarint(out, uint64(len(name)))
			out = append(out, name...)
			c.codes[name] = uint32(len(c.names))
			c.names = append(c.names, name)
		}
	}
	return entropy.Compress(entropy.PresetDBChrom, out)
}

// Decompress rebuilds the concatenated records. The caller recovers the
// record boundaries from the column's size stream.
func (c *ChromDict) Decompress(blob []byte) ([]byte, error) {
	coded, err := entropy.Decompress(entropy.PresetDBChrom, blob)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(coded)*2)
	for i := 0; i < len(coded); {
		tag := coded[i]
		i++
		switch tag {
		case chromKnown:
			code, n := binary.Uvarint(coded[i:])
			if n <= 0 || code >= uint64(len(c.names)) {
				return nil, errTruncated
			}
			i += n
			out = append(out, c.names[code]...)
		case chromNewName:
			l, n := binary.Uvarint(coded[i:])
			if n <= 0 || i+n+int(l) > len(coded) {
				return nil, errTruncated
			}
			i += n
			name := string(coded[i : i+int(l)])
			i += int(l)
			out = append(out, name...)
			c.codes[name] = uint32(len(c.names))
			c.names = append(c.names, name)
		default:
			return nil, errTruncated
		}
	}
	return out, nil
}
