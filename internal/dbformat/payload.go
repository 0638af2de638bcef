package dbformat

import (
	"errors"

	"github.com/gprossliner/tofs/internal/encoding"
)

// ErrShortPayload is returned by the Decode* helpers when a payload is
// too small to hold the fields its tag requires — always a corruption
// symptom, since Encode* never produces a short payload.
var ErrShortPayload = errors.New("dbformat: payload too short for tag")

// MaxNameLen is the longest file name tofs accepts, per the flat
// 15-byte namespace.
const MaxNameLen = 15

// FileCreatePayload is the record payload for tag FileCreate:
// the file's initial priority and its name. FileID itself lives in
// the record header, assigned by the caller before Encode.
type FileCreatePayload struct {
	Priority Priority
	Name     string
}

// EncodeFileCreate lays out a FileCreatePayload as one priority byte
// followed by the raw name bytes; the record's own Length field marks
// where the name ends, so no separate name-length byte is needed.
func EncodeFileCreate(p FileCreatePayload) []byte {
	buf := make([]byte, 1+len(p.Name))
	buf[0] = byte(p.Priority)
	copy(buf[1:], p.Name)
	return buf
}

// DecodeFileCreate parses a FileCreatePayload from a record body.
func DecodeFileCreate(body []byte) (FileCreatePayload, error) {
	if len(body) < 1 {
		return FileCreatePayload{}, ErrShortPayload
	}
	return FileCreatePayload{Priority: Priority(body[0]), Name: string(body[1:])}, nil
}

// TruncatePayload is the payload for tag Truncate: the file's new
// head_offset (the logical byte index of the first still-readable
// byte). FileID lives in the record header.
type TruncatePayload struct {
	HeadOffset uint32
}

// EncodeTruncate lays out a TruncatePayload as a fixed 4-byte offset.
func EncodeTruncate(p TruncatePayload) []byte {
	buf := make([]byte, 4)
	encoding.EncodeFixed32(buf, p.HeadOffset)
	return buf
}

// DecodeTruncate parses a TruncatePayload from a record body.
func DecodeTruncate(body []byte) (TruncatePayload, error) {
	if len(body) < 4 {
		return TruncatePayload{}, ErrShortPayload
	}
	return TruncatePayload{HeadOffset: encoding.DecodeFixed32(body)}, nil
}

// SuperblockMagic identifies a tofs volume: ASCII "tofs".
const SuperblockMagic = 0x746F6673

// SuperblockPayload is the payload of the first LIVE record of block 0:
// volume geometry and a format epoch, bumped every time the volume is
// reformatted so stale superblocks from a half-completed format are
// unambiguously superseded.
type SuperblockPayload struct {
	Magic      uint32
	Version    uint8
	OffsetBits uint8
	BlockCount uint32
	Epoch      uint32
}

// EncodeSuperblock lays out a SuperblockPayload as five fixed fields.
func EncodeSuperblock(p SuperblockPayload) []byte {
	buf := make([]byte, 4+1+1+4+4)
	encoding.EncodeFixed32(buf[0:], p.Magic)
	buf[4] = p.Version
	buf[5] = p.OffsetBits
	encoding.EncodeFixed32(buf[6:], p.BlockCount)
	encoding.EncodeFixed32(buf[10:], p.Epoch)
	return buf
}

// DecodeSuperblock parses a SuperblockPayload from a record body.
func DecodeSuperblock(body []byte) (SuperblockPayload, error) {
	if len(body) < 14 {
		return SuperblockPayload{}, ErrShortPayload
	}
	return SuperblockPayload{
		Magic:      encoding.DecodeFixed32(body[0:]),
		Version:    body[4],
		OffsetBits: body[5],
		BlockCount: encoding.DecodeFixed32(body[6:]),
		Epoch:      encoding.DecodeFixed32(body[10:]),
	}, nil
}

// Valid reports whether p carries the tofs magic number, independent
// of version/epoch — callers decide separately whether the version is
// one they support.
func (p SuperblockPayload) Valid() bool {
	return p.Magic == SuperblockMagic
}
