package device

// RAMDevice is an in-memory Device backed by a single []byte buffer: a
// reference driver with the same contract as a real medium, used for
// tests and for hosts with no flash/EEPROM to target.
//
// Unlike a real flash part, RAMDevice enforces the 1->0-only write
// rule in-process (ErrIllegalBitSet) rather than silently ignoring an
// illegal bit-set, a stricter check that catches allocator/codec bugs
// in tests that real hardware would just corrupt silently.
type RAMDevice struct {
	buf         []byte
	blockSize   uint32
	blockCount  uint32
	offsetBits  uint8
	flushCalled int
}

// NewRAMDevice creates a RAMDevice of blockCount blocks of size
// 2^offsetBits, initialized fully erased (every byte 0xFF).
func NewRAMDevice(offsetBits uint8, blockCount uint32) *RAMDevice {
	blockSize := uint32(1) << offsetBits
	buf := make([]byte, blockSize*blockCount)
	for i := range buf {
		buf[i] = 0xFF
	}
	return &RAMDevice{
		buf:        buf,
		blockSize:  blockSize,
		blockCount: blockCount,
		offsetBits: offsetBits,
	}
}

func (d *RAMDevice) Read(offset uint32, buf []byte) error {
	if err := checkWithinBlock(d, offset, len(buf)); err != nil {
		return err
	}
	copy(buf, d.buf[offset:int(offset)+len(buf)])
	return nil
}

func (d *RAMDevice) Write(offset uint32, data []byte) error {
	if err := checkWithinBlock(d, offset, len(data)); err != nil {
		return err
	}
	region := d.buf[offset : int(offset)+len(data)]
	for i, b := range data {
		if region[i]&b != b {
			return ErrIllegalBitSet
		}
		region[i] = b
	}
	return nil
}

func (d *RAMDevice) Erase(block uint32) error {
	if block >= d.blockCount {
		return ErrBlockOutOfRange
	}
	start := block * d.blockSize
	region := d.buf[start : start+d.blockSize]
	for i := range region {
		region[i] = 0xFF
	}
	return nil
}

func (d *RAMDevice) Flush() error {
	d.flushCalled++
	return nil
}

func (d *RAMDevice) BlockSize() uint32  { return d.blockSize }
func (d *RAMDevice) BlockCount() uint32 { return d.blockCount }
func (d *RAMDevice) OffsetBits() uint8  { return d.offsetBits }

// FlushCount returns the number of times Flush has been called, for
// tests asserting that a commit actually reached the durability
// barrier rather than merely updating in-memory state.
func (d *RAMDevice) FlushCount() int {
	return d.flushCalled
}
