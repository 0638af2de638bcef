// Package scan implements the volume scanner (component C): the
// mount-time walk that replays a volume's log into a directory, each
// file's append-chain endpoints, the allocator's per-block bookkeeping,
// and the write cursor.
//
// Grounded on recovery.go's replayWAL/replayLogFile two-level scan
// (find segments, replay each sequentially) and, conceptually, on
// internal/manifest/version_edit.go's edit-replay-into-builder shape —
// sequential records fold into accumulating state — re-targeted from
// "replay a WAL into a memtable" to "replay every block's records into
// a directory plus allocator".
package scan

import (
	"errors"
	"fmt"

	"github.com/gprossliner/tofs/internal/alloc"
	"github.com/gprossliner/tofs/internal/dbformat"
	"github.com/gprossliner/tofs/internal/device"
	"github.com/gprossliner/tofs/internal/errs"
	"github.com/gprossliner/tofs/internal/logging"
	"github.com/gprossliner/tofs/internal/record"
)

// metaPriority matches internal/txn's constant: the priority the
// superblock and transaction markers are reserved at. Duplicated
// rather than imported, since internal/txn already imports
// internal/alloc and scan sits beside it, not above it.
const metaPriority = dbformat.High

// FileInfo is one file's directory entry and append-chain endpoint, as
// reconstructed from the log. internal/core.Volume.Mount converts each
// FileInfo into a live file object; scan itself has no notion of open
// handles.
type FileInfo struct {
	ID         uint32
	Name       string
	Priority   dbformat.Priority
	CreateAddr uint32
	HeadOffset uint32
	TailOffset uint32
	TailAddr   uint32 // dbformat.NoPrevAddr if no Append has landed yet
	Deleted    bool
}

// State is everything Scan reconstructs from one volume's log.
// internal/core.Volume.Mount builds its directory from Files and
// installs NextTxnID into internal/txn.Engine; the allocator's
// per-block bookkeeping and write cursor are installed directly onto
// the Allocator passed into Scan, since Scan already has it in hand.
type State struct {
	Files      map[uint32]*FileInfo
	NextFileID uint32
	NextTxnID  uint64
	Superblock dbformat.SuperblockPayload
}

// Options controls one Scan call.
type Options struct {
	// Format forces a reformat regardless of whether a valid superblock
	// is found.
	Format bool
}

// blockAccum is the per-block bookkeeping Scan folds live records into
// before handing the totals to Allocator.SetBlockState.
type blockAccum struct {
	refcount    int32
	minPriority dbformat.Priority
	liveBytes   int
	touched     bool // true the instant any record (even DEAD) was ever decoded here
}

// Scan walks dev's blocks in address order, replaying every record
// into a directory and the allocator's bookkeeping, and returns the
// reconstructed State. If no valid superblock is found, or
// opts.Format is set, the volume is erased and reformatted instead.
func Scan(dev device.Device, a *alloc.Allocator, codec record.Codec, logger logging.Logger, opts Options) (*State, error) {
	logger = logging.OrDefault(logger)

	sb, priorEpoch, ok := readSuperblock(dev, codec)
	if opts.Format || !ok {
		logger.Infof("%sformatting volume (format=%v, valid superblock=%v)", logging.NSScan, opts.Format, ok)
		return format(dev, a, codec, priorEpoch)
	}

	logger.Infof("%smounting volume, epoch %d", logging.NSScan, sb.Epoch)
	return replay(dev, a, codec, logger, sb)
}

// Probe reports whether dev carries a valid tofs superblock matching its
// own geometry, without touching the device otherwise. internal/core.Volume
// calls this ahead of Scan so that mounting with auto_format disabled can
// return errs.ErrBadFormat instead of Scan's own unconditional
// format-when-absent behavior, which exists for the always-auto_format
// callers (every test in this package, and any caller that never wants a
// BadFormat error surfaced).
func Probe(dev device.Device, codec record.Codec) bool {
	_, _, ok := readSuperblock(dev, codec)
	return ok
}

// readSuperblock decodes the first record of block 0 and reports
// whether it is a valid tofs superblock. priorEpoch is the epoch found
// (0 if none), so format() can bump it even when the existing
// superblock is otherwise unusable (wrong version, bad geometry).
func readSuperblock(dev device.Device, codec record.Codec) (dbformat.SuperblockPayload, uint32, bool) {
	rec, _, err := codec.DecodeAt(dev, 0)
	if err != nil || rec.Tag != dbformat.Superblock || rec.State != dbformat.Live {
		return dbformat.SuperblockPayload{}, 0, false
	}
	sb, err := dbformat.DecodeSuperblock(rec.Payload)
	if err != nil {
		return dbformat.SuperblockPayload{}, 0, false
	}
	if !sb.Valid() || sb.BlockCount != dev.BlockCount() || sb.OffsetBits != dev.OffsetBits() {
		return dbformat.SuperblockPayload{}, sb.Epoch, false
	}
	return sb, sb.Epoch, true
}

// format erases every block and writes a fresh superblock as block 0's
// first LIVE record. epoch is bumped past any prior superblock found
// during the failed readSuperblock above, so a stale superblock from a
// half-completed format is unambiguously superseded.
func format(dev device.Device, a *alloc.Allocator, codec record.Codec, priorEpoch uint32) (*State, error) {
	blockCount := dev.BlockCount()
	for i := uint32(0); i < blockCount; i++ {
		if err := dev.Erase(i); err != nil {
			return nil, fmt.Errorf("%w: erase block %d: %v", errs.ErrIoError, i, err)
		}
	}

	sb := dbformat.SuperblockPayload{
		Magic:      dbformat.SuperblockMagic,
		Version:    1,
		OffsetBits: dev.OffsetBits(),
		BlockCount: blockCount,
		Epoch:      priorEpoch + 1,
	}
	buf, err := codec.EncodeLive(dev, dbformat.Superblock, 0, 0, dbformat.EncodeSuperblock(sb))
	if err != nil {
		return nil, fmt.Errorf("scan: encode superblock: %w", err)
	}
	if err := dev.Write(0, buf); err != nil {
		return nil, fmt.Errorf("%w: write superblock: %v", errs.ErrIoError, err)
	}
	if err := dev.Flush(); err != nil {
		return nil, fmt.Errorf("%w: flush superblock: %v", errs.ErrIoError, err)
	}

	a.SetBlockState(0, 1, metaPriority, len(buf), false)
	for i := uint32(1); i < blockCount; i++ {
		a.SetBlockState(i, 0, 0, 0, true)
	}
	a.SetWriteCursor(0, uint32(len(buf)))

	return &State{
		Files:      make(map[uint32]*FileInfo),
		NextFileID: 1,
		NextTxnID:  0,
		Superblock: sb,
	}, nil
}

// replay performs the real mount-time scan: three passes over every
// block's records. Three resolution problems share the same shape: a
// record's true fate, or a file's true head_offset, can be decided
// only once the *whole* log has been seen, not in address-traversal
// order, because the allocator may have reclaimed and reused a
// low-address block long after a higher-address block was written,
// so each gets its own full pass before the final directory/
// bookkeeping pass consumes the results:
//
//  1. collect every transaction id with a LIVE TxnCommit, and the
//     highest transaction id seen anywhere;
//  2. using (1), fix up every TENTATIVE record in place (MarkLive if
//     its transaction committed, MarkDead if it didn't); collect the
//     set of file ids with a LIVE Delete; and collect, per file, the
//     maximum HeadOffset carried by any LIVE Truncate record. A file
//     can accumulate more than one Truncate over its lifetime (one per
//     Bookmark call, or one per forced eviction), and HeadOffset only
//     ever increases, so the max is the file's true final value
//     regardless of which Truncate record traversal order happens to
//     visit last;
//  3. using (2), fold every survivor into the directory, each file's
//     append-chain tail, and the allocator's per-block bookkeeping,
//     marking DEAD in place any FileCreate/Append/Truncate record that
//     belongs to a deleted file, per the invariant that a deleted
//     file's content is not protected from reclaim. An Append record
//     whose Offset falls below the file's final head_offset is still
//     physically LIVE on medium (a Bookmark call advances head_offset
//     without marking the chunks it passes DEAD) but is excluded from
//     the allocator's refcount: its bytes are logically gone from the
//     file and must be immediately reclaimable, without waiting for a
//     future eviction to physically erase the block.
func replay(dev device.Device, a *alloc.Allocator, codec record.Codec, logger logging.Logger, sb dbformat.SuperblockPayload) (*State, error) {
	blockCount := dev.BlockCount()

	committed := make(map[uint64]bool)
	var nextTxnID uint64
	for block := uint32(0); block < blockCount; block++ {
		err := walkBlock(dev, codec, block, func(rec record.Record) error {
			if rec.TxnID >= nextTxnID {
				nextTxnID = rec.TxnID + 1
			}
			if rec.Tag == dbformat.TxnCommit && rec.State == dbformat.Live {
				committed[rec.TxnID] = true
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	deletedFiles := make(map[uint32]bool)
	headOffsets := make(map[uint32]uint32)
	for block := uint32(0); block < blockCount; block++ {
		err := walkBlock(dev, codec, block, func(rec record.Record) error {
			live := rec.State == dbformat.Live
			if rec.State == dbformat.Tentative {
				if committed[rec.TxnID] {
					if err := record.MarkLive(dev, rec.Addr); err != nil {
						return fmt.Errorf("%w: fixup commit: %v", errs.ErrIoError, err)
					}
					live = true
				} else {
					if err := record.MarkDead(dev, rec.Addr); err != nil {
						return fmt.Errorf("%w: fixup orphan: %v", errs.ErrIoError, err)
					}
				}
			}
			if live && rec.Tag == dbformat.Delete {
				deletedFiles[rec.FileID] = true
			}
			if live && rec.Tag == dbformat.Truncate {
				tp, err := dbformat.DecodeTruncate(rec.Payload)
				if err != nil {
					return fmt.Errorf("%w: Truncate payload: %v", errs.ErrCorruption, err)
				}
				if tp.HeadOffset > headOffsets[rec.FileID] {
					headOffsets[rec.FileID] = tp.HeadOffset
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	// Every record is now in its true final state on medium (fixups
	// above already applied), so this pass can trust rec.State as
	// decoded instead of re-deriving it.
	files := make(map[uint32]*FileInfo)
	blocks := make([]blockAccum, blockCount)
	var nextFileID uint32 = 1
	var cursorBlock, cursorOffset uint32
	haveCursor := false

	for block := uint32(0); block < blockCount; block++ {
		ba := &blocks[block]
		endOffset, err := walkBlockFull(dev, codec, block, func(rec record.Record, size int) error {
			ba.touched = true
			if rec.State != dbformat.Live {
				return nil
			}

			if rec.Tag.HasFileID() && rec.Tag != dbformat.Delete && deletedFiles[rec.FileID] {
				// Content tied to a deleted file is not protected from
				// reclaim: every tagged record is marked DEAD and none
				// accrues live bytes. FileCreate is still decoded so the
				// directory records that the file once existed;
				// internal/core is what filters Deleted entries out of
				// what it exposes.
				if rec.Tag == dbformat.FileCreate {
					fc, err := dbformat.DecodeFileCreate(rec.Payload)
					if err != nil {
						return fmt.Errorf("%w: FileCreate payload: %v", errs.ErrCorruption, err)
					}
					files[rec.FileID] = &FileInfo{
						ID:         rec.FileID,
						Name:       fc.Name,
						Priority:   fc.Priority,
						CreateAddr: rec.Addr,
						HeadOffset: headOffsets[rec.FileID],
						TailOffset: headOffsets[rec.FileID],
						TailAddr:   dbformat.NoPrevAddr,
						Deleted:    true,
					}
					if rec.FileID >= nextFileID {
						nextFileID = rec.FileID + 1
					}
				}
				if err := record.MarkDead(dev, rec.Addr); err != nil {
					return fmt.Errorf("%w: fixup deleted file content: %v", errs.ErrIoError, err)
				}
				return nil
			}

			switch rec.Tag {
			case dbformat.FileCreate:
				fc, err := dbformat.DecodeFileCreate(rec.Payload)
				if err != nil {
					return fmt.Errorf("%w: FileCreate payload: %v", errs.ErrCorruption, err)
				}
				files[rec.FileID] = &FileInfo{
					ID:         rec.FileID,
					Name:       fc.Name,
					Priority:   fc.Priority,
					CreateAddr: rec.Addr,
					HeadOffset: headOffsets[rec.FileID],
					TailOffset: headOffsets[rec.FileID],
					TailAddr:   dbformat.NoPrevAddr,
				}
				if rec.FileID >= nextFileID {
					nextFileID = rec.FileID + 1
				}
				accrue(a, block, &blocks[block], fc.Priority, size)

			case dbformat.Append:
				f, ok := files[rec.FileID]
				if !ok {
					logger.Warnf("%sAppend for unknown file %d, ignoring", logging.NSScan, rec.FileID)
					return nil
				}
				end := rec.Offset + uint32(len(rec.Payload))
				if end > f.TailOffset || f.TailAddr == dbformat.NoPrevAddr {
					f.TailOffset = end
					f.TailAddr = rec.Addr
				}
				// A chunk whose logical position already sits below the
				// file's final head_offset was passed by a Bookmark call;
				// it stays physically LIVE (no MarkDead, since eviction,
				// not head-advance, owns physical reclaim) but must not
				// hold a live refcount, or its block could never be
				// reclaimed despite the file no longer needing its bytes.
				if rec.Offset >= f.HeadOffset {
					accrue(a, block, &blocks[block], f.Priority, size)
				}

			case dbformat.Truncate:
				f, ok := files[rec.FileID]
				if !ok {
					logger.Warnf("%sTruncate for unknown file %d, ignoring", logging.NSScan, rec.FileID)
					return nil
				}
				if _, err := dbformat.DecodeTruncate(rec.Payload); err != nil {
					return fmt.Errorf("%w: Truncate payload: %v", errs.ErrCorruption, err)
				}
				// f.HeadOffset was already seeded from the pass-2 max
				// merge at FileCreate time; this record's own HeadOffset
				// is not reapplied here; see the replay doc comment.
				accrue(a, block, &blocks[block], f.Priority, size)

			case dbformat.Delete:
				if f, ok := files[rec.FileID]; ok {
					f.Deleted = true
				}
				accrue(a, block, &blocks[block], metaPriority, size)

			case dbformat.TxnBegin, dbformat.TxnCommit, dbformat.TxnAbort:
				// Markers are never IncRef'd at runtime either (internal/txn
				// writes them and never touches the allocator); accruing them
				// here would hold their block's refcount above zero forever,
				// since nothing ever releases it, making the block permanently
				// un-reclaimable once the file content sharing it is gone.

			case dbformat.Superblock:
				// Block 0's superblock must survive for the volume's entire
				// life, so it is the one record deliberately pinned the same
				// way a file's own bytes are: accruing it here is what keeps
				// NextWriteBlock/pickVictim from ever selecting block 0.
				accrue(a, block, &blocks[block], metaPriority, size)

			case dbformat.Padding:
				// Padding is LIVE the instant it's written and never
				// referenced by anything; it contributes no live bytes
				// to protect, so it is deliberately not accrued.
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if endOffset < dev.BlockSize() && ba.touched {
			cursorBlock, cursorOffset = block, endOffset
			haveCursor = true
		}
	}

	for block := uint32(0); block < blockCount; block++ {
		ba := blocks[block]
		a.SetBlockState(block, ba.refcount, ba.minPriority, ba.liveBytes, !ba.touched)
	}
	if haveCursor {
		a.SetWriteCursor(cursorBlock, cursorOffset)
	}

	return &State{
		Files:      files,
		NextFileID: nextFileID,
		NextTxnID:  nextTxnID,
		Superblock: sb,
	}, nil
}

// accrue folds one live record's contribution into both the
// allocator's running block totals and the scan-local mirror used to
// decide minPriority/liveBytes per block once the whole volume has
// been walked.
func accrue(a *alloc.Allocator, block uint32, ba *blockAccum, priority dbformat.Priority, size int) {
	a.IncRef(block, priority, size)
	if ba.refcount == 0 || priority < ba.minPriority {
		ba.minPriority = priority
	}
	ba.refcount++
	ba.liveBytes += size
}

// walkBlock decodes every record in block from offset 0 until end of
// log, invoking fn for each regardless of state. Corruption on a LIVE
// record is tolerated (record.DecodeAt already forces State to DEAD,
// and walkBlockFull writes that DEAD marker back to the medium) and
// does not abort the walk; any other error does.
func walkBlock(dev device.Device, codec record.Codec, block uint32, fn func(record.Record) error) error {
	_, err := walkBlockFull(dev, codec, block, func(rec record.Record, size int) error {
		return fn(rec)
	})
	return err
}

// walkBlockFull is walkBlock plus the offset within the block where
// the log ends — either the start of an end-of-log sentinel, or the
// block size if every byte of the block is occupied by a record — and
// plus each record's actual on-medium size (header + encoded body,
// before any decompression: rec.Payload may be shorter than what was
// physically stored, since record.DecodeAt decompresses Append
// payloads before returning them).
func walkBlockFull(dev device.Device, codec record.Codec, block uint32, fn func(rec record.Record, size int) error) (uint32, error) {
	blockSize := dev.BlockSize()
	base := block * blockSize
	offset := uint32(0)

	for offset+uint32(record.HeaderSize) <= blockSize {
		rec, next, err := codec.DecodeAt(dev, base+offset)
		if errors.Is(err, record.ErrEndOfLog) {
			return offset, nil
		}
		if err != nil && !errors.Is(err, record.ErrCorruption) {
			return offset, fmt.Errorf("scan: block %d offset %d: %w", block, offset, err)
		}
		if err != nil {
			// Corrupted record: skip it, and persist the DEAD state
			// DecodeAt reported so later mounts see it as dead.
			if merr := record.MarkDead(dev, base+offset); merr != nil {
				return offset, fmt.Errorf("%w: mark corrupted record dead: %v", errs.ErrIoError, merr)
			}
		}
		size := int(next - base - offset)
		if err := fn(rec, size); err != nil {
			return offset, err
		}
		offset = next - base
	}
	return offset, nil
}
