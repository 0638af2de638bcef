package dbformat

import "testing"

func TestFileCreatePayloadRoundTrip(t *testing.T) {
	want := FileCreatePayload{Priority: High, Name: "q"}
	got, err := DecodeFileCreate(EncodeFileCreate(want))
	if err != nil {
		t.Fatalf("DecodeFileCreate: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestTruncatePayloadRoundTrip(t *testing.T) {
	want := TruncatePayload{HeadOffset: 0xDEADBEEF}
	got, err := DecodeTruncate(EncodeTruncate(want))
	if err != nil {
		t.Fatalf("DecodeTruncate: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestSuperblockPayloadRoundTrip(t *testing.T) {
	want := SuperblockPayload{Magic: SuperblockMagic, Version: 1, OffsetBits: 10, BlockCount: 16, Epoch: 3}
	got, err := DecodeSuperblock(EncodeSuperblock(want))
	if err != nil {
		t.Fatalf("DecodeSuperblock: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if !got.Valid() {
		t.Fatal("expected Valid superblock")
	}
}

func TestSuperblockInvalidMagic(t *testing.T) {
	p := SuperblockPayload{Magic: 0, Version: 1, OffsetBits: 10, BlockCount: 16, Epoch: 0}
	if p.Valid() {
		t.Fatal("expected Invalid superblock with zero magic")
	}
}

func TestDecodeShortPayloads(t *testing.T) {
	if _, err := DecodeFileCreate(nil); err != ErrShortPayload {
		t.Fatalf("expected ErrShortPayload, got %v", err)
	}
	if _, err := DecodeTruncate([]byte{1, 2}); err != ErrShortPayload {
		t.Fatalf("expected ErrShortPayload, got %v", err)
	}
	if _, err := DecodeSuperblock([]byte{1, 2, 3}); err != ErrShortPayload {
		t.Fatalf("expected ErrShortPayload, got %v", err)
	}
}
