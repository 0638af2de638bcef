// Package dbformat holds the small value types shared by the record codec,
// scanner, allocator and transaction engine: record tags, state markers,
// and file priority. Keeping them in one leaf package (rather than, say,
// internal/record) avoids an import cycle between record, scan and alloc,
// which all need to name a tag or a priority without depending on each
// other.
package dbformat

import "fmt"

// Tag identifies the kind of a log record.
type Tag uint8

const (
	// FileCreate records a new file-id/name binding in the directory.
	FileCreate Tag = iota + 1
	// Append carries one chunk of file payload.
	Append
	// Truncate advances a file's head_offset (bookmark / GC eviction).
	Truncate
	// Delete removes a file from the directory.
	Delete
	// TxnBegin opens a transaction's record group.
	TxnBegin
	// TxnCommit flips every TENTATIVE record of a transaction to LIVE.
	TxnCommit
	// TxnAbort flips every TENTATIVE record of a transaction to DEAD.
	TxnAbort
	// Padding fills the unusable remainder of a block.
	Padding
	// Superblock is the first record of block 0, carrying volume geometry.
	Superblock
)

// String returns the tag's name.
func (t Tag) String() string {
	switch t {
	case FileCreate:
		return "FileCreate"
	case Append:
		return "Append"
	case Truncate:
		return "Truncate"
	case Delete:
		return "Delete"
	case TxnBegin:
		return "TxnBegin"
	case TxnCommit:
		return "TxnCommit"
	case TxnAbort:
		return "TxnAbort"
	case Padding:
		return "Padding"
	case Superblock:
		return "Superblock"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

// State is a record's state-marker byte. Transitions are monotonic and
// bit-clearing only: TENTATIVE (all bits set) -> LIVE (high bit cleared)
// -> DEAD (all bits cleared). An erased byte (0xFF) reads as TENTATIVE,
// which is why decode_at additionally checks the CRC field before
// treating a record as present at all (see internal/record).
type State uint8

const (
	// Tentative marks a record written but not yet committed.
	Tentative State = 0xFF
	// Live marks a record committed and valid.
	Live State = 0x7F
	// Dead marks a record rolled back or superseded.
	Dead State = 0x00
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case Tentative:
		return "TENTATIVE"
	case Live:
		return "LIVE"
	case Dead:
		return "DEAD"
	default:
		return fmt.Sprintf("State(%#x)", uint8(s))
	}
}

// Valid reports whether s is one of the three defined states.
func (s State) Valid() bool {
	return s == Tentative || s == Live || s == Dead
}

// Priority governs eviction order: HIGH-priority content is never
// sacrificed to make room for LOW or NORMAL writes.
type Priority uint8

const (
	// Low is evicted first.
	Low Priority = iota
	// Normal is the default priority.
	Normal
	// High is never evicted for LOW or NORMAL writes.
	High
)

// String returns the priority's name.
func (p Priority) String() string {
	switch p {
	case Low:
		return "LOW"
	case Normal:
		return "NORMAL"
	case High:
		return "HIGH"
	default:
		return fmt.Sprintf("Priority(%d)", uint8(p))
	}
}

// Valid reports whether p is one of the three defined priorities.
func (p Priority) Valid() bool {
	return p == Low || p == Normal || p == High
}

// HasFileID reports whether records with this tag carry a non-zero
// FileID in their header. TxnBegin/TxnCommit/TxnAbort/Padding/Superblock
// are not tied to a single file.
func (t Tag) HasFileID() bool {
	switch t {
	case FileCreate, Append, Truncate, Delete:
		return true
	default:
		return false
	}
}

// NoPrevAddr is the sentinel PrevAddr value an Append record carries
// when it is the first append in its file's chain. A file's chain is
// reconstructed by walking PrevAddr back-pointers from its tail rather
// than by scan address order: the allocator can hand a lower block
// address to data written after a higher-address block (free-block
// selection prefers lowest address, not oldest — see internal/alloc),
// so address order does not reliably reconstruct one file's append
// history once any block has been evicted and reused.
const NoPrevAddr uint32 = 0xFFFFFFFF
