// Package record implements the on-medium record codec (component B):
// encode, decode-at-address, and the two in-place state transitions
// every other package (scan, alloc, txn, core) drives a volume through.
//
// Records never span a block boundary, so there is no fragment-type
// state machine: every record is encoded and decoded in one shot.
package record

import (
	"errors"
	"fmt"

	"github.com/gprossliner/tofs/internal/checksum"
	"github.com/gprossliner/tofs/internal/compression"
	"github.com/gprossliner/tofs/internal/dbformat"
	"github.com/gprossliner/tofs/internal/device"
	"github.com/gprossliner/tofs/internal/encoding"
)

var (
	// ErrRecordTooLarge is returned by Encode when the payload (plus the
	// header) would not fit in a single block.
	ErrRecordTooLarge = errors.New("record: payload too large for one block")

	// ErrCorruption is returned by DecodeAt when a LIVE record's checksum
	// does not match its stored header; the caller (scan) treats this as
	// "skip, mark DEAD if not already, continue".
	ErrCorruption = errors.New("record: checksum mismatch")

	// ErrEndOfLog is returned by DecodeAt when the CRC field is all
	// 0xFF — the erased-byte sentinel meaning no record was ever
	// written at this address.
	ErrEndOfLog = errors.New("record: end of log in this block")
)

// HeaderSize is the fixed record header: CRC32(4) + Length(2) + State(1)
// + Tag(1) + FileID(4) + TxnID(8). State precedes the checksummed
// region (Tag + FileID + TxnID + Payload) because it is the only field
// MarkLive/MarkDead mutate after Encode computed the CRC — if the
// checksum covered State itself, flipping TENTATIVE to LIVE would
// invalidate it.
//
// TxnID is carried in every record's header, not just the TxnBegin/
// TxnCommit/TxnAbort markers: the allocator can reuse a low-address
// block for a new write long after higher-address blocks were written
// (free-block selection prefers lowest address, not oldest), so a
// mount-time scan walking blocks in address order does not see records
// in their original submission order. Recovery needs to know which
// transaction a TENTATIVE record belongs to without relying on that
// order, so the id travels with the record itself.
const HeaderSize = 20

const (
	offCRC    = 0
	offLength = 4
	offState  = 6
	offTag    = 7
	offFileID = 8
	offTxnID  = 12
)

// Record is a decoded log record and the address it was read from.
// PrevAddr and Offset are only meaningful when Tag == dbformat.Append:
// PrevAddr is the address of the previous LIVE Append record in this
// file's chain (dbformat.NoPrevAddr if this is the first); Offset is
// this chunk's absolute logical position in the file's byte stream
// (the value head_offset/tail_offset are expressed in).
type Record struct {
	Addr     uint32
	Tag      dbformat.Tag
	State    dbformat.State
	FileID   uint32
	TxnID    uint64
	PrevAddr uint32
	Offset   uint32
	Payload  []byte
}

// Codec encodes and decodes records for one volume's configured
// checksum and compression settings.
type Codec struct {
	Checksum    checksum.Type
	Compression compression.Type
}

// NewCodec returns a Codec with the given checksum and compression
// settings.
func NewCodec(cs checksum.Type, cp compression.Type) Codec {
	return Codec{Checksum: cs, Compression: cp}
}

// appendWrapperSize is the fixed overhead EncodeAppend prepends to an
// Append record's payload: a 4-byte chain back-pointer, a 4-byte
// absolute logical offset, and a 1-byte self-describing compression
// flag.
const appendWrapperSize = 4 + 4 + 1

// MaxPayload returns the largest payload EncodeAppend can place in one
// record on dev, before any compression shrinks it further. Non-Append
// tags have appendWrapperSize more bytes available, since they carry no
// chain back-pointer, logical offset, or compression flag.
func MaxPayload(dev device.Device) int {
	return int(dev.BlockSize()) - HeaderSize - appendWrapperSize
}

// Encode builds the on-medium bytes for a TENTATIVE record of the
// given tag, file-id, enclosing transaction id (0 for records with no
// enclosing transaction, e.g. Padding) and payload. It never produces
// a record larger than block_size - HeaderSize; callers that need to
// store more split the payload across multiple Append records
// themselves. For tag == dbformat.Append, use EncodeAppend instead —
// it additionally threads the file's chain back-pointer through.
func (c Codec) Encode(dev device.Device, tag dbformat.Tag, fileID uint32, txnID uint64, payload []byte) ([]byte, error) {
	return c.encode(dev, tag, fileID, txnID, dbformat.NoPrevAddr, 0, payload)
}

// EncodeAppend is Encode specialized for tag dbformat.Append: prevAddr
// is the address of the file's previous LIVE Append record
// (dbformat.NoPrevAddr if this is the file's first), persisted as part
// of the payload wrapper so internal/scan can rebuild the file's chain
// by following back-pointers from the tail, independent of where scan
// happens to encounter each record. offset is this chunk's absolute
// logical position in the file's byte stream (the caller's running
// tail_offset before this write) — carried alongside PrevAddr so scan
// can tell, for any Append record it finds still Live, whether it sits
// above or below the file's current head_offset without needing to
// walk the whole chain to derive an absolute position, which would
// mean dereferencing addresses a prior eviction may since have erased
// and reused for unrelated content.
func (c Codec) EncodeAppend(dev device.Device, fileID uint32, txnID uint64, prevAddr uint32, offset uint32, payload []byte) ([]byte, error) {
	return c.encode(dev, dbformat.Append, fileID, txnID, prevAddr, offset, payload)
}

func (c Codec) encode(dev device.Device, tag dbformat.Tag, fileID uint32, txnID uint64, prevAddr uint32, offset uint32, payload []byte) ([]byte, error) {
	body := payload
	if tag == dbformat.Append {
		compressed := false
		if c.Compression != compression.NoCompression {
			cdata, err := compression.Compress(c.Compression, payload)
			if err != nil {
				return nil, fmt.Errorf("record: compress: %w", err)
			}
			if len(cdata) < len(payload) {
				compressed = true
				payload = cdata
			}
		}
		// Chain back-pointer + absolute logical offset + one-byte
		// self-describing compression flag, all ahead of the payload
		// bytes. The compression flag is per record (not per volume)
		// because a volume may carry a mix of compressed and plain
		// records across a format upgrade.
		body = make([]byte, appendWrapperSize+len(payload))
		encoding.EncodeFixed32(body, prevAddr)
		encoding.EncodeFixed32(body[4:], offset)
		if compressed {
			body[8] = 1
		}
		copy(body[9:], payload)
	}

	if len(body)+HeaderSize > int(dev.BlockSize()) {
		return nil, ErrRecordTooLarge
	}

	buf := make([]byte, HeaderSize+len(body))
	encoding.EncodeFixed16(buf[offLength:], uint16(len(body)))
	buf[offTag] = byte(tag)
	buf[offState] = byte(dbformat.Tentative)
	encoding.EncodeFixed32(buf[offFileID:], fileID)
	encoding.EncodeFixed64(buf[offTxnID:], txnID)
	copy(buf[HeaderSize:], body)

	crc := checksum.Compute(c.Checksum, buf[offTag:])
	encoding.EncodeFixed32(buf[offCRC:], crc)

	return buf, nil
}

// EncodeLive is Encode followed by an in-place flip of the state byte
// to LIVE, for the handful of records the transaction engine writes
// already-committed rather than TENTATIVE-then-MarkLive: TxnBegin,
// TxnCommit and TxnAbort are themselves the commit/abort pivot, so
// there is no later point at which a separate MarkLive would make
// sense. Safe because the checksum never covers the state byte.
func (c Codec) EncodeLive(dev device.Device, tag dbformat.Tag, fileID uint32, txnID uint64, payload []byte) ([]byte, error) {
	buf, err := c.Encode(dev, tag, fileID, txnID, payload)
	if err != nil {
		return nil, err
	}
	buf[offState] = byte(dbformat.Live)
	return buf, nil
}

// DecodeAt reads and decodes the record at addr on dev. It tolerates
// all three states. A LIVE record whose checksum fails to verify is
// returned with State forced to dbformat.Dead and ErrCorruption; the
// caller (typically scan) is responsible for writing the DEAD marker
// back if it isn't already dead on medium.
func (c Codec) DecodeAt(dev device.Device, addr uint32) (Record, uint32, error) {
	header := make([]byte, HeaderSize)
	if err := dev.Read(addr, header); err != nil {
		return Record{}, addr, fmt.Errorf("record: read header: %w", err)
	}

	crcField := encoding.DecodeFixed32(header[offCRC:])
	if crcField == 0xFFFFFFFF {
		return Record{}, addr, ErrEndOfLog
	}

	length := encoding.DecodeFixed16(header[offLength:])
	tag := dbformat.Tag(header[offTag])
	state := dbformat.State(header[offState])
	fileID := encoding.DecodeFixed32(header[offFileID:])
	txnID := encoding.DecodeFixed64(header[offTxnID:])

	total := HeaderSize + int(length)
	full := make([]byte, total)
	if err := dev.Read(addr, full); err != nil {
		return Record{}, addr, fmt.Errorf("record: read body: %w", err)
	}
	body := full[HeaderSize:]

	rec := Record{Addr: addr, Tag: tag, State: state, FileID: fileID, TxnID: txnID}
	nextAddr := addr + uint32(total)

	if tag == dbformat.Append {
		rec.PrevAddr = encoding.DecodeFixed32(body)
		rec.Offset = encoding.DecodeFixed32(body[4:])
		compressed := body[8] == 1
		payload := body[9:]
		if compressed {
			decompressed, err := compression.Decompress(c.Compression, payload)
			if err != nil {
				rec.State = dbformat.Dead
				return rec, nextAddr, fmt.Errorf("%w: decompress: %v", ErrCorruption, err)
			}
			payload = decompressed
		}
		rec.Payload = payload
	} else {
		rec.Payload = body
	}

	if state == dbformat.Live {
		want := checksum.Compute(c.Checksum, full[offTag:])
		if want != crcField {
			rec.State = dbformat.Dead
			return rec, nextAddr, ErrCorruption
		}
	}

	return rec, nextAddr, nil
}

// MarkLive overlays the state byte at addr with dbformat.Live. It is
// idempotent: calling it again when the record is already LIVE writes
// the same bits back.
func MarkLive(dev device.Device, addr uint32) error {
	return dev.Write(addr+offState, []byte{byte(dbformat.Live)})
}

// MarkDead overlays the state byte at addr with dbformat.Dead. It is
// idempotent and valid whether the prior state was TENTATIVE or LIVE.
func MarkDead(dev device.Device, addr uint32) error {
	return dev.Write(addr+offState, []byte{byte(dbformat.Dead)})
}

// EncodePadding builds a Padding record that fills exactly
// remaining bytes of the current block (remaining must be >=
// HeaderSize).
func (c Codec) EncodePadding(remaining int) ([]byte, error) {
	if remaining < HeaderSize {
		return nil, fmt.Errorf("record: padding remainder %d smaller than header", remaining)
	}
	payloadLen := remaining - HeaderSize
	buf := make([]byte, remaining)
	encoding.EncodeFixed16(buf[offLength:], uint16(payloadLen))
	buf[offTag] = byte(dbformat.Padding)
	buf[offState] = byte(dbformat.Live)
	crc := checksum.Compute(c.Checksum, buf[offTag:])
	encoding.EncodeFixed32(buf[offCRC:], crc)
	return buf, nil
}
