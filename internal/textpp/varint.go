package textpp

import (
	"encoding/binary"
	"errors"
)

var (
	errTruncatedToken = errors.New("textpp: truncated token")
	errBadWordCode    = errors.New("textpp: dictionary code out of range")
	errBadToken       = errors.New("textpp: unknown token tag")
)

func appendUvarint(out []byte, v uint64) []byte {
	return binary.AppendUvarint(out, v)
}

func readUvarint(src []byte) (uint64, int, error) {
	v, n := binary.Uvarint(src)
	if n <= 0 {
		return 0, 0, errTruncatedToken
	}
	return v, n, nil
}
