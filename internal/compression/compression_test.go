package compression

import (
	"bytes"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		{},
		[]byte("x"),
		[]byte(strings.Repeat("aaaa-repeating-payload-", 64)),
		bytes.Repeat([]byte{0xAB}, 4096),
	}

	for _, typ := range []Type{NoCompression, SnappyCompression} {
		for _, p := range payloads {
			compressed, err := Compress(typ, p)
			if err != nil {
				t.Fatalf("%s: Compress: %v", typ, err)
			}
			got, err := Decompress(typ, compressed)
			if err != nil {
				t.Fatalf("%s: Decompress: %v", typ, err)
			}
			if !bytes.Equal(got, p) && !(len(got) == 0 && len(p) == 0) {
				t.Fatalf("%s: round trip mismatch: got %v, want %v", typ, got, p)
			}
		}
	}
}

func TestSnappyActuallyShrinksRepetitiveData(t *testing.T) {
	payload := bytes.Repeat([]byte("repeat-me"), 256)
	compressed, err := Compress(SnappyCompression, payload)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(compressed) >= len(payload) {
		t.Fatalf("expected compression to shrink repetitive payload: %d >= %d", len(compressed), len(payload))
	}
}

func TestUnsupportedType(t *testing.T) {
	if _, err := Compress(Type(0xEE), []byte("x")); err == nil {
		t.Fatal("expected error for unsupported compression type")
	}
	if _, err := Decompress(Type(0xEE), []byte("x")); err == nil {
		t.Fatal("expected error for unsupported compression type")
	}
}

func TestTypeString(t *testing.T) {
	if NoCompression.String() != "NoCompression" {
		t.Errorf("got %q", NoCompression.String())
	}
	if SnappyCompression.String() != "Snappy" {
		t.Errorf("got %q", SnappyCompression.String())
	}
	if Type(7).String() != "Unknown(7)" {
		t.Errorf("got %q", Type(7).String())
	}
}
