package device

import "os"

// FileDevice is a Device backed by a host file: one *os.File, opened
// once, addressed by byte offset instead of by name. Erase writes a
// full block of 0xFF; Flush calls f.Sync().
type FileDevice struct {
	f          *os.File
	blockSize  uint32
	blockCount uint32
	offsetBits uint8
}

// OpenFileDevice opens (creating if necessary) path as a FileDevice of
// blockCount blocks of size 2^offsetBits. A freshly created file is
// extended to its full size and erased (every byte 0xFF); an existing
// file is used as-is.
func OpenFileDevice(path string, offsetBits uint8, blockCount uint32) (*FileDevice, error) {
	blockSize := uint32(1) << offsetBits
	size := int64(blockSize) * int64(blockCount)

	created := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		created = true
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	d := &FileDevice{
		f:          f,
		blockSize:  blockSize,
		blockCount: blockCount,
		offsetBits: offsetBits,
	}

	if created {
		if err := f.Truncate(size); err != nil {
			_ = f.Close()
			return nil, err
		}
		for b := uint32(0); b < blockCount; b++ {
			if err := d.Erase(b); err != nil {
				_ = f.Close()
				return nil, err
			}
		}
	}

	return d, nil
}

func (d *FileDevice) Read(offset uint32, buf []byte) error {
	if err := checkWithinBlock(d, offset, len(buf)); err != nil {
		return err
	}
	_, err := d.f.ReadAt(buf, int64(offset))
	return err
}

func (d *FileDevice) Write(offset uint32, data []byte) error {
	if err := checkWithinBlock(d, offset, len(data)); err != nil {
		return err
	}
	_, err := d.f.WriteAt(data, int64(offset))
	return err
}

func (d *FileDevice) Erase(block uint32) error {
	if block >= d.blockCount {
		return ErrBlockOutOfRange
	}
	erased := make([]byte, d.blockSize)
	for i := range erased {
		erased[i] = 0xFF
	}
	_, err := d.f.WriteAt(erased, int64(block)*int64(d.blockSize))
	return err
}

func (d *FileDevice) Flush() error {
	return d.f.Sync()
}

func (d *FileDevice) Close() error {
	return d.f.Close()
}

func (d *FileDevice) BlockSize() uint32  { return d.blockSize }
func (d *FileDevice) BlockCount() uint32 { return d.blockCount }
func (d *FileDevice) OffsetBits() uint8  { return d.offsetBits }
