package core

import (
	"testing"

	"github.com/gprossliner/tofs/internal/checksum"
	"github.com/gprossliner/tofs/internal/compression"
	"github.com/gprossliner/tofs/internal/device"
	"github.com/gprossliner/tofs/internal/record"
)

// newTestVolume returns a mounted Volume over a fresh RAM device with
// 512-byte blocks, formatted on first mount.
func newTestVolume(t *testing.T, blockCount uint32) *Volume {
	t.Helper()
	dev := device.NewRAMDevice(9, blockCount)
	codec := record.NewCodec(checksum.TypeCRC32C, compression.NoCompression)
	v := NewVolume(dev, codec, nil, Options{})
	if err := v.Mount(true); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return v
}

// remount closes v and returns a fresh Volume instance mounted against
// the same underlying device — the closest in-process approximation of
// "remount after a restart" these tests can exercise.
func remount(t *testing.T, v *Volume) *Volume {
	t.Helper()
	dev, codec := v.dev, v.codec
	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	v2 := NewVolume(dev, codec, nil, v.opts)
	if err := v2.Mount(false); err != nil {
		t.Fatalf("remount: %v", err)
	}
	return v2
}
