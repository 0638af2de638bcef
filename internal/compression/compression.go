// Package compression provides optional payload compression for Append
// records. Only Snappy is wired: tofs records are capped at
// block_size-HeaderSize and are decoded one record at a time (never as a
// streamed block), which is exactly Snappy's block-oriented sweet spot and
// avoids the framing overhead a streaming codec (lz4, zstd) would need to
// recover mid-stream after a crash.
package compression

import (
	"fmt"

	"github.com/golang/snappy"
)

// Type represents a compression algorithm for Append record payloads.
type Type uint8

const (
	// NoCompression stores the payload verbatim.
	NoCompression Type = 0x0

	// SnappyCompression compresses the payload with Snappy before it is
	// written; decode_at decompresses before returning it to the caller.
	SnappyCompression Type = 0x1
)

// String returns the human-readable name of the compression type.
func (t Type) String() string {
	switch t {
	case NoCompression:
		return "NoCompression"
	case SnappyCompression:
		return "Snappy"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// Compress compresses data using the specified compression type.
func Compress(t Type, data []byte) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil
	case SnappyCompression:
		return snappy.Encode(nil, data), nil
	default:
		return nil, fmt.Errorf("compression: unsupported type %s", t)
	}
}

// Decompress decompresses data using the specified compression type.
func Decompress(t Type, data []byte) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil
	case SnappyCompression:
		return snappy.Decode(nil, data)
	default:
		return nil, fmt.Errorf("compression: unsupported type %s", t)
	}
}
