package tofs

import (
	"github.com/gprossliner/tofs/internal/checksum"
	"github.com/gprossliner/tofs/internal/compression"
	"github.com/gprossliner/tofs/internal/core"
	"github.com/gprossliner/tofs/internal/logging"
)

// ChecksumType selects the integrity-marker algorithm a volume checks
// record checksums with.
type ChecksumType = checksum.Type

// Checksum algorithm choices for MountOptions.ChecksumType.
const (
	ChecksumNone     = checksum.TypeNoChecksum
	ChecksumCRC32C   = checksum.TypeCRC32C
	ChecksumXXHash64 = checksum.TypeXXHash64
	ChecksumXXH3     = checksum.TypeXXH3
)

// CompressionType selects Append-record payload compression.
type CompressionType = compression.Type

// Compression choices for MountOptions.Compression.
const (
	CompressionNone   = compression.NoCompression
	CompressionSnappy = compression.SnappyCompression
)

// Logger is the logging hook MountOptions.Logger accepts — re-exported
// so a caller need not import internal/logging to implement one.
type Logger = logging.Logger

// MountOptions configures a Mount call: static limits, the wire format
// a fresh volume is formatted with, and where diagnostics go. A struct
// of everything the engine needs tuned, with a constructor supplying
// sane defaults rather than requiring every caller to know every field.
type MountOptions struct {
	// AutoFormat formats dev if it carries no valid superblock, instead
	// of Mount failing with ErrBadFormat.
	AutoFormat bool

	// Logger receives diagnostics namespaced by component. A nil Logger
	// is replaced by a WARN-level default logger writing to stderr.
	Logger Logger

	// ChecksumType is the integrity marker computed for every record the
	// volume writes and verified on every record it reads, including
	// when mounting an existing volume. The medium does not record
	// which type a volume was formatted with: mounting with a different
	// type fails the superblock check, so the volume is treated as
	// unformatted.
	ChecksumType ChecksumType

	// Compression is the payload compression applied to every Append
	// record the volume writes; a record keeps the compressed form only
	// when it is shorter than the original. Compressed records are
	// decoded with this same setting, which the medium does not record.
	Compression CompressionType

	// MaxOpenHandles caps concurrently open Handles (0 = unlimited).
	MaxOpenHandles int

	// MaxFiles caps directory entries, live or deleted-but-not-yet-
	// reclaimed (0 = unlimited).
	MaxFiles int

	// MaxRecordsPerTxn caps the records one transaction may accumulate
	// before commit (0 = unlimited).
	MaxRecordsPerTxn int
}

// DefaultMountOptions returns MountOptions with AutoFormat disabled,
// CRC32C checksums, no compression, and no static limits: safe,
// unsurprising defaults a caller can opt out of field by field.
func DefaultMountOptions() MountOptions {
	return MountOptions{
		AutoFormat:   false,
		ChecksumType: ChecksumCRC32C,
		Compression:  CompressionNone,
	}
}

func (o MountOptions) coreOptions() core.Options {
	return core.Options{
		MaxOpenHandles:   o.MaxOpenHandles,
		MaxFiles:         o.MaxFiles,
		MaxRecordsPerTxn: o.MaxRecordsPerTxn,
	}
}
