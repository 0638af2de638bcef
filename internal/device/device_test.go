package device

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRAMDeviceReadWriteErase(t *testing.T) {
	dev := NewRAMDevice(10, 4) // 1KB blocks, 4 blocks

	buf := make([]byte, dev.BlockSize())
	if err := dev.Read(0, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for _, b := range buf {
		if b != 0xFF {
			t.Fatalf("freshly created device should be all 0xFF")
		}
	}

	payload := []byte("hello tofs")
	if err := dev.Write(0, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := make([]byte, len(payload))
	if err := dev.Read(0, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}

	if err := dev.Erase(0); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if err := dev.Read(0, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for _, b := range got {
		if b != 0xFF {
			t.Fatalf("erased block should read back all 0xFF")
		}
	}
}

func TestRAMDeviceIllegalBitSet(t *testing.T) {
	dev := NewRAMDevice(8, 2)
	if err := dev.Write(0, []byte{0x00}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := dev.Write(0, []byte{0xFF}); !errors.Is(err, ErrIllegalBitSet) {
		t.Fatalf("expected ErrIllegalBitSet, got %v", err)
	}
}

func TestRAMDeviceCrossBlockRejected(t *testing.T) {
	dev := NewRAMDevice(8, 2) // 256-byte blocks
	buf := make([]byte, 10)
	if err := dev.Write(252, buf); !errors.Is(err, ErrOffsetCrossesBlock) {
		t.Fatalf("expected ErrOffsetCrossesBlock, got %v", err)
	}
}

func TestRAMDeviceOutOfRange(t *testing.T) {
	dev := NewRAMDevice(8, 2)
	if err := dev.Erase(5); !errors.Is(err, ErrBlockOutOfRange) {
		t.Fatalf("expected ErrBlockOutOfRange, got %v", err)
	}
}

func TestFileDeviceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.tofs")
	dev, err := OpenFileDevice(path, 10, 4)
	if err != nil {
		t.Fatalf("OpenFileDevice: %v", err)
	}
	defer dev.Close()

	payload := []byte("file-backed record")
	if err := dev.Write(0, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := dev.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got := make([]byte, len(payload))
	if err := dev.Read(0, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != int64(dev.BlockSize())*int64(dev.BlockCount()) {
		t.Fatalf("file should be pre-sized to volume geometry")
	}
}

func TestFaultDeviceCrashDropsUnflushedWrites(t *testing.T) {
	ram := NewRAMDevice(10, 2)
	fd := NewFaultDevice(ram)

	if err := fd.Write(0, []byte("flushed")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := fd.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := fd.Write(10, []byte("unflushed")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	fd.Crash()

	got := make([]byte, len("unflushed"))
	if err := fd.Read(10, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for _, b := range got {
		if b != 0xFF {
			t.Fatalf("unflushed write should be reverted by Crash, got %v", got)
		}
	}

	flushed := make([]byte, len("flushed"))
	if err := fd.Read(0, flushed); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(flushed, []byte("flushed")) {
		t.Fatalf("flushed write should survive Crash, got %q", flushed)
	}
}

func TestFaultDeviceInjectedErrors(t *testing.T) {
	ram := NewRAMDevice(10, 2)
	fd := NewFaultDevice(ram)

	injected := errors.New("simulated write failure")
	fd.InjectWriteError(injected)
	if err := fd.Write(0, []byte("x")); !errors.Is(err, injected) {
		t.Fatalf("expected injected write error, got %v", err)
	}
	fd.InjectWriteError(nil)
	if err := fd.Write(0, []byte("x")); err != nil {
		t.Fatalf("Write after clearing injection: %v", err)
	}
}
