// Package entropy provides a uniform façade over the block entropy
// primitive. Each stream kind compresses through a named preset; the
// presets are part of the archive ABI and must not change once archives
// exist in the wild.
package entropy

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Preset names a block size and coder configuration for one stream
// kind.
type Preset struct {
	Name      string
	Level     zstd.EncoderLevel
	WindowLog uint8
}

// Stream-kind presets. Frozen.
var (
	PresetSize = Preset{"size", zstd.SpeedBetterCompression, 25}
	PresetData = Preset{"data", zstd.SpeedBetterCompression, 25}
	PresetFlag = Preset{"flag", zstd.SpeedBetterCompression, 25}
	PresetText = Preset{"text", zstd.SpeedBetterCompression, 25}
	PresetInt  = Preset{"int", zstd.SpeedBetterCompression, 25}
	PresetReal = Preset{"real", zstd.SpeedBetterCompression, 25}

	PresetDBChrom = Preset{"db-chrom", zstd.SpeedBetterCompression, 25}
	PresetDBPos   = Preset{"db-pos", zstd.SpeedBetterCompression, 25}
	PresetDBID    = Preset{"db-id", zstd.SpeedBetterCompression, 25}
	PresetDBRef   = Preset{"db-ref", zstd.SpeedBetterCompression, 25}
	PresetDBAlt   = Preset{"db-alt", zstd.SpeedBetterCompression, 25}
	PresetDBQual  = Preset{"db-qual", zstd.SpeedBetterCompression, 25}

	PresetMeta = Preset{"meta", zstd.SpeedBetterCompression, 25}
)

var (
	encMu    sync.Mutex
	encoders = map[string]*zstd.Encoder{}

	decoder     *zstd.Decoder
	decoderOnce sync.Once
)

func encoderFor(p Preset) *zstd.Encoder {
	encMu.Lock()
	defer encMu.Unlock()
	if e, ok := encoders[p.Name]; ok {
		return e
	}
	e, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(p.Level),
		zstd.WithWindowSize(1<<uint(p.WindowLog)),
		zstd.WithEncoderCRC(false),
		zstd.WithEncoderConcurrency(1),
		zstd.WithZeroFrames(true),
	)
	if err != nil {
		panic(err)
	}
	encoders[p.Name] = e
	return e
}

func sharedDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		d, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderMaxWindow(1<<26),
		)
		if err != nil {
			panic(err)
		}
		decoder = d
	})
	return decoder
}

// CompressRaw compresses src with the preset, without framing.
// Safe for concurrent use across presets and within one preset
// (EncodeAll is stateless per call).
func CompressRaw(p Preset, src []byte) []byte {
	return encoderFor(p).EncodeAll(src, nil)
}

// DecompressRaw decompresses src and verifies the expected raw length.
func DecompressRaw(p Preset, src []byte, rawLen int) ([]byte, error) {
	out, err := sharedDecoder().DecodeAll(src, make([]byte, 0, rawLen))
	if err != nil {
		return nil, fmt.Errorf("entropy %s: %w", p.Name, err)
	}
	if len(out) != rawLen {
		return nil, fmt.Errorf("entropy %s: raw length %d, want %d", p.Name, len(out), rawLen)
	}
	return out, nil
}

// Compress frames the compressed payload as rawLen-varint | blocks.
func Compress(p Preset, src []byte) []byte {
	out := binary.AppendUvarint(nil, uint64(len(src)))
	return append(out, CompressRaw(p, src)...)
}

// Decompress inverts Compress.
func Decompress(p Preset, src []byte) ([]byte, error) {
	rawLen, n := binary.Uvarint(src)
	if n <= 0 {
		return nil, fmt.Errorf("entropy %s: bad frame header", p.Name)
	}
	return DecompressRaw(p, src[n:], int(rawLen))
}
