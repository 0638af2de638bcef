// Package device is the public face of internal/device: the Device
// contract every tofs volume is built on, plus the RAM and host-file
// reference drivers, re-exported so callers can construct one without
// reaching into internal/.
package device

import internaldevice "github.com/gprossliner/tofs/internal/device"

// Device is the block-device adapter contract (component A). See
// internal/device.Device for the full read/write/erase/flush contract.
type Device = internaldevice.Device

// RAMDevice is an in-memory Device, mainly for tests and short-lived
// volumes that never need to survive a process restart.
type RAMDevice = internaldevice.RAMDevice

// FileDevice is a Device backed by a host file, the driver cmd/tofsctl
// and any long-lived deployment uses.
type FileDevice = internaldevice.FileDevice

var (
	// ErrOffsetCrossesBlock is returned when a Read or Write would span
	// more than one block.
	ErrOffsetCrossesBlock = internaldevice.ErrOffsetCrossesBlock
	// ErrBlockOutOfRange is returned when a block index is >= BlockCount.
	ErrBlockOutOfRange = internaldevice.ErrBlockOutOfRange
	// ErrIllegalBitSet is returned by RAMDevice when a Write would set a
	// bit that is currently 0 back to 1 without an intervening Erase.
	ErrIllegalBitSet = internaldevice.ErrIllegalBitSet
)

// NewRAMDevice returns a RAMDevice of blockCount blocks, each
// 2^offsetBits bytes, fully erased (every byte 0xFF).
func NewRAMDevice(offsetBits uint8, blockCount uint32) *RAMDevice {
	return internaldevice.NewRAMDevice(offsetBits, blockCount)
}

// OpenFileDevice opens (creating if necessary) path as a FileDevice of
// blockCount blocks of size 2^offsetBits. A freshly created file is
// extended to its full size and erased; an existing file is used as-is,
// geometry unchanged.
func OpenFileDevice(path string, offsetBits uint8, blockCount uint32) (*FileDevice, error) {
	return internaldevice.OpenFileDevice(path, offsetBits, blockCount)
}

// BlockOf returns the block index containing offset.
func BlockOf(dev Device, offset uint32) uint32 {
	return internaldevice.BlockOf(dev, offset)
}
