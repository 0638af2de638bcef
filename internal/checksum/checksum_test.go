package checksum

import "testing"

func TestMaskRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		{0x00},
		[]byte("tofs record payload"),
	}
	for _, data := range cases {
		crc := Value(data)
		masked := Mask(crc)
		if Unmask(masked) != crc {
			t.Fatalf("Unmask(Mask(%x)) = %x, want %x", crc, Unmask(masked), crc)
		}
		if masked == crc && len(data) > 0 {
			t.Fatalf("masked value should differ from raw crc for non-trivial input")
		}
	}
}

func TestExtendMatchesValue(t *testing.T) {
	a := []byte("tag-state-fileid-")
	b := []byte("payload-bytes")
	whole := Value(append(append([]byte{}, a...), b...))
	extended := Extend(Value(a), b)
	if whole != extended {
		t.Fatalf("Extend mismatch: whole=%x extended=%x", whole, extended)
	}
}

func TestComputeDeterministic(t *testing.T) {
	data := []byte("deterministic checksum input")
	for _, typ := range []Type{TypeCRC32C, TypeXXHash64, TypeXXH3} {
		first := Compute(typ, data)
		second := Compute(typ, data)
		if first != second {
			t.Fatalf("%s: Compute not deterministic: %x != %x", typ, first, second)
		}
	}
}

func TestComputeDistinguishesCorruption(t *testing.T) {
	original := []byte("live record payload")
	corrupted := []byte("live record paylo*d")
	for _, typ := range []Type{TypeCRC32C, TypeXXHash64, TypeXXH3} {
		if Compute(typ, original) == Compute(typ, corrupted) {
			t.Fatalf("%s: checksum failed to distinguish corrupted payload", typ)
		}
	}
}

func TestTypeString(t *testing.T) {
	cases := map[Type]string{
		TypeNoChecksum: "NoChecksum",
		TypeCRC32C:     "CRC32C",
		TypeXXHash64:   "XXHash64",
		TypeXXH3:       "XXH3",
		Type(99):       "Unknown",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("Type(%d).String() = %q, want %q", typ, got, want)
		}
	}
}

func TestNoChecksumIsZero(t *testing.T) {
	if got := Compute(TypeNoChecksum, []byte("anything")); got != 0 {
		t.Fatalf("TypeNoChecksum should always compute 0, got %x", got)
	}
}
