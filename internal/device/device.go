// Package device defines the block-device contract every tofs volume is
// built on, plus the reference drivers (RAM, host file) and a
// fault-injection driver used by the scanner and transaction engine's
// crash-recovery tests.
//
// Reference: an erase-block medium only ever clears bits (1->0) on
// Write; Erase is the sole operation that sets bits back to 1, and it
// always resets an entire block.
package device

import "errors"

var (
	// ErrOffsetCrossesBlock is returned when a Read or Write would span
	// more than one block.
	ErrOffsetCrossesBlock = errors.New("device: access crosses block boundary")

	// ErrBlockOutOfRange is returned when a block index is >= BlockCount.
	ErrBlockOutOfRange = errors.New("device: block index out of range")

	// ErrIllegalBitSet is returned by RAMDevice when a Write would set a
	// bit that is currently 0 back to 1 without an intervening Erase.
	// Real flash would silently fail to set the bit; RAMDevice enforces
	// the contract so tests catch the mistake instead of masking it.
	ErrIllegalBitSet = errors.New("device: write would set a bit without erase")
)

// Device is the block-device adapter contract (component A). An
// implementation serializes writes in submission order and never tears
// a single byte: on crash, a byte observed after remount is either the
// value before the write or the value after it, never a mix.
type Device interface {
	// Read copies len(buf) bytes starting at offset into buf. The read
	// must not cross a block boundary.
	Read(offset uint32, buf []byte) error

	// Write clears bits in the region [offset, offset+len(data)) to
	// match data. The caller guarantees every touched byte only has
	// bits cleared, never set, relative to its current on-medium value.
	// The write must not cross a block boundary.
	Write(offset uint32, data []byte) error

	// Erase sets every byte of the given block to 0xFF.
	Erase(block uint32) error

	// Flush is a durability barrier: it returns only once every prior
	// Write and Erase is persistent. A crash after Flush returns cannot
	// undo anything flushed.
	Flush() error

	// BlockSize returns 2^OffsetBits.
	BlockSize() uint32

	// BlockCount returns the number of blocks in the volume.
	BlockCount() uint32

	// OffsetBits returns log2(BlockSize), in {8..16}.
	OffsetBits() uint8
}

// BlockOf returns the block index containing offset.
func BlockOf(dev Device, offset uint32) uint32 {
	return offset >> dev.OffsetBits()
}

// BlockStart returns the first address of the block containing offset.
func BlockStart(dev Device, offset uint32) uint32 {
	return BlockOf(dev, offset) << dev.OffsetBits()
}

// checkWithinBlock returns ErrOffsetCrossesBlock if [offset, offset+n)
// does not fit within a single block, or ErrBlockOutOfRange if the
// block is outside the volume.
func checkWithinBlock(dev Device, offset uint32, n int) error {
	block := BlockOf(dev, offset)
	if block >= dev.BlockCount() {
		return ErrBlockOutOfRange
	}
	blockSize := dev.BlockSize()
	within := offset - (block << dev.OffsetBits())
	if within+uint32(n) > blockSize {
		return ErrOffsetCrossesBlock
	}
	return nil
}
