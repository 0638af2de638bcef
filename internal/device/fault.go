package device

// FaultDevice wraps a Device and buffers writes/erases that have not
// yet been flushed, so a test can simulate a crash by calling Crash()
// to drop everything since the last Flush. It shadows the whole volume
// in two in-memory copies (working and last-flushed) rather than
// tracking unsynced state per block.
//
// This is the mechanism behind the crash-recovery tests: write,
// simulate crash, remount, observe the volume reflects only what was
// flushed before the crash.
type FaultDevice struct {
	inner Device

	// committed mirrors the durable state of inner as of the last Flush.
	committed []byte
	// live is inner's working state, including unflushed writes.
	live []byte

	injectWriteErr error
	injectFlushErr error
}

// NewFaultDevice wraps dev. dev should be freshly created (e.g. a
// RAMDevice) since FaultDevice maintains its own shadow copy rather
// than delegating reads through dev.
func NewFaultDevice(dev Device) *FaultDevice {
	size := int(dev.BlockSize()) * int(dev.BlockCount())
	committed := make([]byte, size)
	for i := range committed {
		committed[i] = 0xFF
	}
	live := make([]byte, size)
	copy(live, committed)
	return &FaultDevice{inner: dev, committed: committed, live: live}
}

func (d *FaultDevice) Read(offset uint32, buf []byte) error {
	if err := checkWithinBlock(d, offset, len(buf)); err != nil {
		return err
	}
	copy(buf, d.live[offset:int(offset)+len(buf)])
	return nil
}

func (d *FaultDevice) Write(offset uint32, data []byte) error {
	if d.injectWriteErr != nil {
		return d.injectWriteErr
	}
	if err := checkWithinBlock(d, offset, len(data)); err != nil {
		return err
	}
	region := d.live[offset : int(offset)+len(data)]
	for i, b := range data {
		if region[i]&b != b {
			return ErrIllegalBitSet
		}
		region[i] = b
	}
	return nil
}

func (d *FaultDevice) Erase(block uint32) error {
	if block >= d.BlockCount() {
		return ErrBlockOutOfRange
	}
	blockSize := int(d.BlockSize())
	start := int(block) * blockSize
	region := d.live[start : start+blockSize]
	for i := range region {
		region[i] = 0xFF
	}
	return nil
}

// Flush makes every write/erase since the last Flush durable: it
// commits the live shadow to the inner device and to the committed
// snapshot Crash() would otherwise roll back to.
func (d *FaultDevice) Flush() error {
	if d.injectFlushErr != nil {
		return d.injectFlushErr
	}
	copy(d.committed, d.live)
	blockSize := d.BlockSize()
	for b := uint32(0); b < d.BlockCount(); b++ {
		start := b * blockSize
		if err := d.inner.Write(start, d.committed[start:start+blockSize]); err != nil {
			// inner may reject a no-op rewrite of identical bits; that's fine,
			// the shadow copy is authoritative for reads through FaultDevice.
			_ = err
		}
	}
	return d.inner.Flush()
}

// Crash discards every write and erase issued since the last Flush,
// simulating a power loss. A subsequent Read observes only what was
// durable at the last Flush.
func (d *FaultDevice) Crash() {
	copy(d.live, d.committed)
}

// InjectWriteError makes every subsequent Write fail with err until
// cleared by passing nil.
func (d *FaultDevice) InjectWriteError(err error) {
	d.injectWriteErr = err
}

// InjectFlushError makes every subsequent Flush fail with err until
// cleared by passing nil.
func (d *FaultDevice) InjectFlushError(err error) {
	d.injectFlushErr = err
}

func (d *FaultDevice) BlockSize() uint32  { return d.inner.BlockSize() }
func (d *FaultDevice) BlockCount() uint32 { return d.inner.BlockCount() }
func (d *FaultDevice) OffsetBits() uint8  { return d.inner.OffsetBits() }
