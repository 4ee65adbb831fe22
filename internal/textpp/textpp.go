// Package textpp implements the text preprocessing stage: a chunk of
// text is split into word runs, digit runs and single other bytes, and
// frequent words are remapped to short dictionary codes before the
// payload reaches the entropy coder.
//
// The dictionary is adaptive and per stream: both sides add a word the
// first time it appears, so no dictionary blob is stored. A chunk that
// skipped preprocessing (fail-open) leaves the dictionary untouched,
// which keeps encoder and decoder in lockstep across parts.
package textpp

const (
	tokLiteral = 0 // single raw byte
	tokWord    = 1 // dictionary code
	tokNewWord = 2 // length + bytes, added to the dictionary
	tokNumber  = 3 // digit run re-rendered from its value
)

// CompressFlag is bit 30 of the stored payload length, set when the
// chunk was preprocessed.
const CompressFlag = uint32(1) << 30

const maxNumberDigits = 18

// Codec holds the per-stream dictionary state.
type Codec struct {
	codes map[string]uint32
	words []string
}

// New returns a codec with an empty dictionary.
func New() *Codec {
	return &Codec{codes: make(map[string]uint32)}
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// Encode preprocesses src. The second result reports whether
// preprocessing was applied; when false the returned slice is src
// itself and the dictionary is unchanged.
func (c *Codec) Encode(src []byte) ([]byte, bool) {
	out := make([]byte, 0, len(src))
	added := 0

	for i := 0; i < len(src); {
		b := src[i]
		switch {
		case isLetter(b):
			j := i + 1
			for j < len(src) && isLetter(src[j]) {
				j++
			}
			word := string(src[i:j])
			if code, ok := c.codes[word]; ok {
				out = append(out, tokWord)
				out = appendUvarint(out, uint64(code))
			} else {
				out = append(out, tokNewWord)
				out = appendUvarint(out, uint64(j-i))
				out = append(out, src[i:j]...)
				c.add(word)
				added++
			}
			i = j
		case isDigit(b):
			j := i + 1
			for j < len(src) && isDigit(src[j]) {
				j++
			}
			if n, ok := parseNumber(src[i:j]); ok {
				out = append(out, tokNumber)
				out = appendUvarint(out, n)
				i = j
			} else {
				// Zero-padded or oversized run: literal bytes.
				for ; i < j; i++ {
					out = append(out, tokLiteral, src[i])
				}
			}
		default:
			out = append(out, tokLiteral, b)
			i++
		}
	}

	if len(out) >= len(src) {
		c.rollback(added)
		return src, false
	}
	return out, true
}

// Decode inverts Encode for a chunk that was preprocessed.
func (c *Codec) Decode(src []byte) ([]byte, error) {
	out := make([]byte, 0, len(src)*2)
	for i := 0; i < len(src); {
		tag := src[i]
		i++
		switch tag {
		case tokLiteral:
			if i >= len(src) {
				return nil, errTruncatedToken
			}
			out = append(out, src[i])
			i++
		case tokWord:
			code, n, err := readUvarint(src[i:])
			if err != nil {
				return nil, err
			}
			i += n
			if code >= uint64(len(c.words)) {
				return nil, errBadWordCode
			}
			out = append(out, c.words[code]...)
		case tokNewWord:
			l, n, err := readUvarint(src[i:])
			if err != nil {
				return nil, err
			}
			i += n
			if i+int(l) > len(src) {
				return nil, errTruncatedToken
			}
			word := string(src[i : i+int(l)])
			out = append(out, word...)
			c.add(word)
			i += int(l)
		case tokNumber:
			v, n, err := readUvarint(src[i:])
			if err != nil {
				return nil, err
			}
			i += n
			out = appendDecimal(out, v)
		default:
			return nil, errBadToken
		}
	}
	return out, nil
}

func (c *Codec) add(word string) {
	c.codes[word] = uint32(len(c.words))
	c.words = append(c.words, word)
}

func (c *Codec) rollback(added int) {
	for i := 0; i < added; i++ {
		last := c.words[len(c.words)-1]
		delete(c.codes, last)
		c.words = c.words[:len(c.words)-1]
	}
}

// parseNumber accepts digit runs that re-render canonically: no leading
// zero (except "0" itself) and at most maxNumberDigits digits.
func parseNumber(digits []byte) (uint64, bool) {
	if len(digits) > maxNumberDigits {
		return 0, false
	}
	if len(digits) > 1 && digits[0] == '0' {
		return 0, false
	}
	var v uint64
	for _, d := range digits {
		v = v*10 + uint64(d-'0')
	}
	return v, true
}

func appendDecimal(out []byte, v uint64) []byte {
	var tmp [maxNumberDigits + 2]byte
	i := len(tmp)
	for {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
		if v == 0 {
			break
		}
	}
	return append(out, tmp[i:]...)
}
