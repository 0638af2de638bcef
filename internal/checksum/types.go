package checksum

import "github.com/zeebo/xxh3"

// Type selects the integrity-marker algorithm a volume checks record
// checksums with (MountOptions.ChecksumType).
type Type uint8

const (
	// TypeNoChecksum disables verification; decode_at trusts the state byte alone.
	TypeNoChecksum Type = 0
	// TypeCRC32C is the default: CRC32C (Castagnoli), masked before storage
	// so a record's own CRC field never reads back as itself (see Mask).
	TypeCRC32C Type = 1
	// TypeXXHash64 is XXHash64, truncated to the stored 32-bit field.
	TypeXXHash64 Type = 2
	// TypeXXH3 is XXH3_64bits (via github.com/zeebo/xxh3), truncated to 32 bits.
	TypeXXH3 Type = 3
)

// String returns a human-readable name for the checksum type.
func (t Type) String() string {
	switch t {
	case TypeNoChecksum:
		return "NoChecksum"
	case TypeCRC32C:
		return "CRC32C"
	case TypeXXHash64:
		return "XXHash64"
	case TypeXXH3:
		return "XXH3"
	default:
		return "Unknown"
	}
}

// Compute returns the stored checksum for data under the given algorithm.
// For TypeCRC32C the result is masked (see Mask); the other algorithms
// store their natural value truncated to 32 bits.
func Compute(t Type, data []byte) uint32 {
	switch t {
	case TypeCRC32C:
		return MaskedValue(data)
	case TypeXXHash64:
		return XXHash64Checksum32(data)
	case TypeXXH3:
		return uint32(xxh3.Hash(data))
	case TypeNoChecksum:
		return 0
	default:
		return 0
	}
}
