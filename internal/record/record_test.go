package record

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gprossliner/tofs/internal/checksum"
	"github.com/gprossliner/tofs/internal/compression"
	"github.com/gprossliner/tofs/internal/dbformat"
	"github.com/gprossliner/tofs/internal/device"
)

func newTestVolume(t *testing.T) device.Device {
	t.Helper()
	return device.NewRAMDevice(10, 4) // 1KB blocks, 4 blocks
}

func writeAt(t *testing.T, dev device.Device, addr uint32, buf []byte) {
	t.Helper()
	if err := dev.Write(addr, buf); err != nil {
		t.Fatalf("Write at %d: %v", addr, err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	dev := newTestVolume(t)
	codec := NewCodec(checksum.TypeCRC32C, compression.NoCompression)

	buf, err := codec.Encode(dev, dbformat.Append, 7, 0, []byte("hello"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	writeAt(t, dev, 0, buf)

	rec, next, err := codec.DecodeAt(dev, 0)
	if err != nil {
		t.Fatalf("DecodeAt: %v", err)
	}
	if rec.Tag != dbformat.Append || rec.FileID != 7 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.State != dbformat.Tentative {
		t.Fatalf("expected TENTATIVE immediately after encode, got %v", rec.State)
	}
	if !bytes.Equal(rec.Payload, []byte("hello")) {
		t.Fatalf("payload mismatch: %q", rec.Payload)
	}
	if rec.PrevAddr != dbformat.NoPrevAddr {
		t.Fatalf("expected NoPrevAddr via plain Encode, got %d", rec.PrevAddr)
	}
	if next != uint32(len(buf)) {
		t.Fatalf("next addr = %d, want %d", next, len(buf))
	}
}

func TestMarkLiveThenMarkDead(t *testing.T) {
	dev := newTestVolume(t)
	codec := NewCodec(checksum.TypeCRC32C, compression.NoCompression)

	buf, err := codec.Encode(dev, dbformat.Append, 1, 0, []byte("payload"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	writeAt(t, dev, 0, buf)

	if err := MarkLive(dev, 0); err != nil {
		t.Fatalf("MarkLive: %v", err)
	}
	rec, _, err := codec.DecodeAt(dev, 0)
	if err != nil {
		t.Fatalf("DecodeAt after MarkLive: %v", err)
	}
	if rec.State != dbformat.Live {
		t.Fatalf("expected LIVE, got %v", rec.State)
	}

	// Idempotent: marking LIVE again is a no-op.
	if err := MarkLive(dev, 0); err != nil {
		t.Fatalf("MarkLive again: %v", err)
	}

	if err := MarkDead(dev, 0); err != nil {
		t.Fatalf("MarkDead: %v", err)
	}
	rec, _, err = codec.DecodeAt(dev, 0)
	if err != nil {
		t.Fatalf("DecodeAt after MarkDead: %v", err)
	}
	if rec.State != dbformat.Dead {
		t.Fatalf("expected DEAD, got %v", rec.State)
	}
}

func TestDecodeAtCorruptionMarksDead(t *testing.T) {
	dev := newTestVolume(t)
	codec := NewCodec(checksum.TypeCRC32C, compression.NoCompression)

	buf, err := codec.Encode(dev, dbformat.Append, 1, 0, []byte("payload"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	writeAt(t, dev, 0, buf)
	if err := MarkLive(dev, 0); err != nil {
		t.Fatalf("MarkLive: %v", err)
	}

	// Corrupt one payload byte (flip a bit, legal under the 1->0-only
	// rule) — past the 4-byte PrevAddr + 4-byte Offset + 1-byte
	// compression flag prefix.
	const payloadOff = HeaderSize + 9
	corrupt := make([]byte, 1)
	if err := dev.Read(payloadOff, corrupt); err != nil {
		t.Fatalf("Read: %v", err)
	}
	corrupt[0] &^= 0x10
	writeAt(t, dev, payloadOff, corrupt)

	rec, _, err := codec.DecodeAt(dev, 0)
	if !errors.Is(err, ErrCorruption) {
		t.Fatalf("expected ErrCorruption, got %v", err)
	}
	if rec.State != dbformat.Dead {
		t.Fatalf("corrupted LIVE record should report State=DEAD, got %v", rec.State)
	}
}

func TestDecodeAtEndOfLog(t *testing.T) {
	dev := newTestVolume(t) // freshly erased, all 0xFF
	codec := NewCodec(checksum.TypeCRC32C, compression.NoCompression)

	_, _, err := codec.DecodeAt(dev, 0)
	if !errors.Is(err, ErrEndOfLog) {
		t.Fatalf("expected ErrEndOfLog on erased block, got %v", err)
	}
}

func TestEncodeTooLarge(t *testing.T) {
	dev := newTestVolume(t)
	codec := NewCodec(checksum.TypeCRC32C, compression.NoCompression)

	payload := bytes.Repeat([]byte{0x42}, int(dev.BlockSize()))
	if _, err := codec.Encode(dev, dbformat.Append, 1, 0, payload); !errors.Is(err, ErrRecordTooLarge) {
		t.Fatalf("expected ErrRecordTooLarge, got %v", err)
	}
}

func TestTxnMarkerTagsHaveNoFileID(t *testing.T) {
	dev := newTestVolume(t)
	codec := NewCodec(checksum.TypeCRC32C, compression.NoCompression)

	for _, tag := range []dbformat.Tag{dbformat.TxnBegin, dbformat.TxnCommit, dbformat.TxnAbort} {
		if tag.HasFileID() {
			t.Fatalf("%v should not carry a FileID", tag)
		}
		buf, err := codec.Encode(dev, tag, 0, 0, nil)
		if err != nil {
			t.Fatalf("Encode(%v): %v", tag, err)
		}
		if len(buf) != HeaderSize {
			t.Fatalf("%v: expected header-only record, got %d bytes", tag, len(buf))
		}
	}
}

func TestCompressedAppendRoundTrip(t *testing.T) {
	dev := newTestVolume(t)
	codec := NewCodec(checksum.TypeCRC32C, compression.SnappyCompression)

	payload := bytes.Repeat([]byte("compressible-payload-"), 20)
	buf, err := codec.Encode(dev, dbformat.Append, 3, 0, payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	writeAt(t, dev, 0, buf)

	rec, _, err := codec.DecodeAt(dev, 0)
	if err != nil {
		t.Fatalf("DecodeAt: %v", err)
	}
	if !bytes.Equal(rec.Payload, payload) {
		t.Fatalf("payload mismatch after compressed round trip")
	}
}

func TestEncodeLiveIsImmediatelyLive(t *testing.T) {
	dev := newTestVolume(t)
	codec := NewCodec(checksum.TypeCRC32C, compression.NoCompression)

	buf, err := codec.EncodeLive(dev, dbformat.TxnCommit, 0, 42, nil)
	if err != nil {
		t.Fatalf("EncodeLive: %v", err)
	}
	writeAt(t, dev, 0, buf)

	rec, _, err := codec.DecodeAt(dev, 0)
	if err != nil {
		t.Fatalf("DecodeAt: %v", err)
	}
	if rec.State != dbformat.Live {
		t.Fatalf("expected LIVE immediately, got %v", rec.State)
	}
	if rec.TxnID != 42 {
		t.Fatalf("TxnID = %d, want 42", rec.TxnID)
	}
}

func TestTxnIDRoundTrip(t *testing.T) {
	dev := newTestVolume(t)
	codec := NewCodec(checksum.TypeCRC32C, compression.NoCompression)

	buf, err := codec.Encode(dev, dbformat.Append, 9, 0xdeadbeef, []byte("x"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	writeAt(t, dev, 0, buf)

	rec, _, err := codec.DecodeAt(dev, 0)
	if err != nil {
		t.Fatalf("DecodeAt: %v", err)
	}
	if rec.TxnID != 0xdeadbeef {
		t.Fatalf("TxnID = %#x, want 0xdeadbeef", rec.TxnID)
	}
}

func TestEncodePadding(t *testing.T) {
	codec := NewCodec(checksum.TypeCRC32C, compression.NoCompression)
	buf, err := codec.EncodePadding(64)
	if err != nil {
		t.Fatalf("EncodePadding: %v", err)
	}
	if len(buf) != 64 {
		t.Fatalf("padding length = %d, want 64", len(buf))
	}
	if dbformat.Tag(buf[offTag]) != dbformat.Padding {
		t.Fatalf("padding record has wrong tag")
	}
}

func TestMaxPayload(t *testing.T) {
	dev := newTestVolume(t)
	if got := MaxPayload(dev); got != int(dev.BlockSize())-HeaderSize-9 {
		t.Fatalf("MaxPayload = %d, want %d", got, int(dev.BlockSize())-HeaderSize-9)
	}
}

func TestEncodeAppendChainsBackPointer(t *testing.T) {
	dev := newTestVolume(t)
	codec := NewCodec(checksum.TypeCRC32C, compression.NoCompression)

	first, err := codec.EncodeAppend(dev, 1, 0, dbformat.NoPrevAddr, 0, []byte("a"))
	if err != nil {
		t.Fatalf("EncodeAppend: %v", err)
	}
	writeAt(t, dev, 0, first)

	second, err := codec.EncodeAppend(dev, 1, 0, 0, 1, []byte("b"))
	if err != nil {
		t.Fatalf("EncodeAppend: %v", err)
	}
	writeAt(t, dev, uint32(len(first)), second)

	rec1, _, err := codec.DecodeAt(dev, 0)
	if err != nil {
		t.Fatalf("DecodeAt: %v", err)
	}
	if rec1.PrevAddr != dbformat.NoPrevAddr {
		t.Fatalf("first record PrevAddr = %d, want NoPrevAddr", rec1.PrevAddr)
	}

	rec2, _, err := codec.DecodeAt(dev, uint32(len(first)))
	if err != nil {
		t.Fatalf("DecodeAt: %v", err)
	}
	if rec2.PrevAddr != 0 {
		t.Fatalf("second record PrevAddr = %d, want 0 (first record's address)", rec2.PrevAddr)
	}
}
