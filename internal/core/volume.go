// Package core implements the directory index (component G), file
// handles (component F), and the volume engine that wires both to the
// record codec, allocator and transaction engine. It is also the
// alloc.Evictable the allocator calls back into during priority
// eviction: a file must never observe a gap in its own content, so
// eviction always advances a file's head past a block before that
// block is marked dead.
package core

import (
	"errors"
	"fmt"

	"github.com/gprossliner/tofs/internal/alloc"
	"github.com/gprossliner/tofs/internal/dbformat"
	"github.com/gprossliner/tofs/internal/device"
	"github.com/gprossliner/tofs/internal/errs"
	"github.com/gprossliner/tofs/internal/logging"
	"github.com/gprossliner/tofs/internal/record"
	"github.com/gprossliner/tofs/internal/scan"
	"github.com/gprossliner/tofs/internal/txn"
)

// metaPriority matches the constant duplicated in internal/txn and
// internal/scan: the priority Delete records are reserved space at, the
// same reservation every transaction marker gets. Duplicated rather
// than imported — core sits beside txn and scan, not above them.
const metaPriority = dbformat.High

// Options configures a Volume.
type Options struct {
	// MaxOpenHandles caps concurrently open Handles (0 = unlimited).
	MaxOpenHandles int
	// MaxFiles caps directory entries, live or deleted-but-not-yet-
	// reclaimed (0 = unlimited).
	MaxFiles int
	// MaxRecordsPerTxn caps the records one transaction may accumulate
	// before commit (0 = unlimited).
	MaxRecordsPerTxn int
}

// chunk is one Append record of a file's chain, as tracked in RAM.
// offset/payloadLen describe the logical content a Read delivers;
// onMediumSize is the encoded record's true size on medium, the unit
// Allocator.IncRef/DecRef operate in.
type chunk struct {
	addr         uint32
	offset       uint32
	payloadLen   int
	onMediumSize int
	counted      bool // currently contributing to the allocator's refcount
}

// fileState is one file's live, in-RAM bookkeeping: the directory
// entry plus everything a Handle or an eviction callback needs.
type fileState struct {
	id       uint32
	name     string
	priority dbformat.Priority

	headOffset uint32
	tailOffset uint32
	tailAddr   uint32 // dbformat.NoPrevAddr if no Append has landed yet

	createAddr    uint32
	createSize    int
	createCounted bool

	deleted    bool
	appendOpen bool

	chunks []chunk // ascending offset order
}

// findChunk returns the chunk starting exactly at offset, if any.
func (f *fileState) findChunk(offset uint32) (chunk, bool) {
	for _, c := range f.chunks {
		if c.offset == offset {
			return c, true
		}
	}
	return chunk{}, false
}

// pendingOp is one deferred bookkeeping action. Volume queues these as
// operations write TENTATIVE records, then finalizes the whole batch on
// commit or undoes it on abort, once the records' true fate is known —
// txn.Engine's own TENTATIVE/pending/commit/abort pattern, mirrored one
// layer up: only core knows how a record's commit or abort should
// mutate file and allocator bookkeeping, so txn cannot do this itself.
type pendingOp struct {
	finalize func()
	rollback func()
}

// Volume wires the record codec, allocator, transaction engine and
// directory together for one mounted volume.
type Volume struct {
	dev    device.Device
	codec  record.Codec
	logger logging.Logger
	opts   Options

	mounted bool
	alloc   *alloc.Allocator
	txn     *txn.Engine

	byName map[string]*fileState
	byID   map[uint32]*fileState
	nextID uint32

	openHandles int
	pending     []pendingOp
}

// NewVolume returns an unmounted Volume for dev, using codec for every
// record it writes or decodes. Call Mount before any other operation.
func NewVolume(dev device.Device, codec record.Codec, logger logging.Logger, opts Options) *Volume {
	return &Volume{
		dev:    dev,
		codec:  codec,
		logger: logging.OrDefault(logger),
		opts:   opts,
		byName: make(map[string]*fileState),
		byID:   make(map[uint32]*fileState),
		nextID: 1,
	}
}

// Mount scans dev (or, if autoFormat and no valid superblock exists,
// formats it) and rebuilds the directory and every file's in-RAM
// append-chain bookkeeping. Mounting an already-mounted Volume returns
// ErrAlreadyMounted; mounting with autoFormat false against a volume
// with no valid superblock returns ErrBadFormat without touching the
// medium.
func (v *Volume) Mount(autoFormat bool) error {
	if v.mounted {
		return errs.ErrAlreadyMounted
	}
	if !autoFormat && !scan.Probe(v.dev, v.codec) {
		return errs.ErrBadFormat
	}

	a := alloc.NewAllocator(v.dev, v.codec)
	state, err := scan.Scan(v.dev, a, v.codec, v.logger, scan.Options{})
	if err != nil {
		return err
	}

	byName := make(map[string]*fileState, len(state.Files))
	byID := make(map[uint32]*fileState, len(state.Files))
	for id, fi := range state.Files {
		f := &fileState{
			id:            id,
			name:          fi.Name,
			priority:      fi.Priority,
			headOffset:    fi.HeadOffset,
			tailOffset:    fi.TailOffset,
			tailAddr:      fi.TailAddr,
			createAddr:    fi.CreateAddr,
			deleted:       fi.Deleted,
			createCounted: !fi.Deleted,
		}
		size, serr := recordSize(v.dev, v.codec, fi.CreateAddr)
		if serr != nil {
			return fmt.Errorf("%w: FileCreate record for file %d: %v", errs.ErrIoError, id, serr)
		}
		f.createSize = size

		if err := v.rebuildChunks(f); err != nil {
			return err
		}
		byID[id] = f
		if !f.deleted {
			byName[f.name] = f
		}
	}

	v.alloc = a
	v.txn = txn.NewEngine(v.dev, a, v.codec, v.logger, v.opts.MaxRecordsPerTxn)
	v.txn.SetNextTxnID(state.NextTxnID)
	v.byName = byName
	v.byID = byID
	v.nextID = state.NextFileID
	v.openHandles = 0
	v.pending = nil
	v.mounted = true
	return nil
}

// Close unmounts the volume. Any Handle still open at Close is left
// dangling: closing every handle first is the caller's responsibility,
// not this call's, since tofs has no background owner to do it for them.
func (v *Volume) Close() error {
	if !v.mounted {
		return errs.ErrNotMounted
	}
	v.mounted = false
	v.alloc = nil
	v.txn = nil
	return nil
}

// rebuildChunks walks f's Append chain backward from tailAddr via
// PrevAddr, rebuilding the ordered chunk list Read/Queue handles and
// eviction bookkeeping need. Scan already installed the correct
// refcount directly onto the allocator; this only reconstructs core's
// own parallel view of which chunks exist and where.
func (v *Volume) rebuildChunks(f *fileState) error {
	var rev []chunk
	for addr := f.tailAddr; addr != dbformat.NoPrevAddr; {
		rec, next, err := v.codec.DecodeAt(v.dev, addr)
		if err != nil && !errors.Is(err, record.ErrCorruption) {
			return fmt.Errorf("%w: rebuild append chain for file %d: %v", errs.ErrIoError, f.id, err)
		}
		rev = append(rev, chunk{
			addr:         addr,
			offset:       rec.Offset,
			payloadLen:   len(rec.Payload),
			onMediumSize: int(next - addr),
			counted:      rec.Offset >= f.headOffset,
		})
		addr = rec.PrevAddr
	}
	f.chunks = make([]chunk, len(rev))
	for i, c := range rev {
		f.chunks[len(rev)-1-i] = c
	}
	return nil
}

// recordSize decodes the record just written at addr to learn its true
// on-medium size (header plus encoded body) — simpler than
// replicating the codec's own compression and wrapper-size decisions
// here, and exact where an estimate would only be approximate.
func recordSize(dev device.Device, codec record.Codec, addr uint32) (int, error) {
	_, next, err := codec.DecodeAt(dev, addr)
	if err != nil {
		return 0, err
	}
	return int(next - addr), nil
}

// beginOwned opens an implicit transaction if none is already open,
// reporting whether this call is the owner and therefore responsible
// for the matching commitOwned/abortOwned. When a transaction is
// already open — either the caller's own explicit Begin, or an
// ambient write whose Reserve call reentered here via an eviction
// callback — owns is false and the caller joins that transaction
// instead, leaving its outcome to whoever does own it.
func (v *Volume) beginOwned() (bool, error) {
	owns := !v.txn.IsOpen()
	if owns {
		if _, err := v.txn.Begin(v); err != nil {
			return false, err
		}
	}
	return owns, nil
}

// commitOwned commits the transaction this call opened, finalizing
// queued bookkeeping on success and rolling it back on failure.
func (v *Volume) commitOwned() error {
	if err := v.txn.Commit(v); err != nil {
		v.rollbackPending()
		return err
	}
	v.finalizePending()
	return nil
}

// abortOwned aborts the transaction this call opened and rolls back
// whatever bookkeeping it had tentatively queued.
func (v *Volume) abortOwned() {
	v.txn.Abort(v)
	v.rollbackPending()
}

// Begin opens (or flattens onto) the volume's explicit transaction.
func (v *Volume) Begin() (uint64, error) {
	return v.txn.Begin(v)
}

// Commit commits the volume's currently open explicit transaction. A
// nested Begin's Commit only decrements the refcount (txn.Engine's own
// flattening rule) and leaves queued bookkeeping pending for the
// outermost Commit.
func (v *Volume) Commit() error {
	if !v.txn.IsOpen() {
		return nil
	}
	err := v.txn.Commit(v)
	if errors.Is(err, errs.ErrTxnAborted) {
		v.rollbackPending()
		return err
	}
	if err != nil {
		return err
	}
	if !v.txn.IsOpen() {
		v.finalizePending()
	}
	return nil
}

// Abort cancels the volume's entire currently open transaction,
// regardless of nesting depth, and rolls back every bookkeeping change
// queued since it opened.
func (v *Volume) Abort() error {
	err := v.txn.Abort(v)
	v.rollbackPending()
	return err
}

func (v *Volume) finalizePending() {
	for _, op := range v.pending {
		op.finalize()
	}
	v.pending = nil
}

func (v *Volume) rollbackPending() {
	for i := len(v.pending) - 1; i >= 0; i-- {
		if v.pending[i].rollback != nil {
			v.pending[i].rollback()
		}
	}
	v.pending = nil
}

// FilesLiveInBlock implements alloc.Evictable: it answers with the
// file-ids owning at least one Append chunk still physically inside
// block (FileCreate records need no such protection — they carry
// directory metadata a Read never walks through, and MarkBlockDead's
// own raw block walk marks them DEAD regardless of whether a file is
// named here).
func (v *Volume) FilesLiveInBlock(block uint32) []uint32 {
	var out []uint32
	for id, f := range v.byID {
		for _, c := range f.chunks {
			if device.BlockOf(v.dev, c.addr) == block {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// TruncateHeadPast implements alloc.Evictable: it advances fileID's
// head_offset past every chunk of its chain physically inside block
// (chunks elsewhere in the volume may also fall below the new head —
// the bookkeeping below excludes those from the refcount too, without
// needing to touch their blocks).
//
// Unlike Handle.Bookmark's Truncate (which goes through Volume's
// pending ledger so an abort of the triggering write can undo it),
// this one applies immediately and already-LIVE: internal/alloc calls
// this from inside Evict, right before it marks the block's old
// records DEAD and erases it — both irreversible regardless of whether
// the write that triggered eviction ultimately commits or aborts. A
// Truncate record left TENTATIVE here and later rolled back by that
// write's abort would describe a head_offset the medium no longer
// backs, since the block behind it is erased either way.
func (v *Volume) TruncateHeadPast(fileID uint32, block uint32) error {
	f, ok := v.byID[fileID]
	if !ok {
		return nil
	}
	newHead := f.headOffset
	for _, c := range f.chunks {
		if device.BlockOf(v.dev, c.addr) != block {
			continue
		}
		if end := c.offset + uint32(c.payloadLen); end > newHead {
			newHead = end
		}
	}
	if newHead <= f.headOffset {
		return nil
	}

	// TxnID 0 here matches internal/record.EncodePadding's own
	// convention for records with no enclosing transaction: this
	// Truncate is written already-LIVE, never replayed through the
	// TENTATIVE-fixup pass that is the only consumer of a record's
	// TxnID, so which value it carries has no bearing on recovery.
	payload := dbformat.EncodeTruncate(dbformat.TruncatePayload{HeadOffset: newHead})
	buf, err := v.codec.EncodeLive(v.dev, dbformat.Truncate, f.id, 0, payload)
	if err != nil {
		return fmt.Errorf("core: encode eviction truncate: %w", err)
	}
	addr, err := v.alloc.Reserve(len(buf), f.priority, v)
	if err != nil {
		return err
	}
	if err := v.dev.Write(addr, buf); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIoError, err)
	}

	v.alloc.IncRef(device.BlockOf(v.dev, addr), f.priority, len(buf))
	f.headOffset = newHead
	for i := range f.chunks {
		c := &f.chunks[i]
		if c.counted && c.offset < newHead {
			v.alloc.DecRef(device.BlockOf(v.dev, c.addr), c.onMediumSize)
			c.counted = false
		}
	}
	return nil
}

// MarkBlockDead implements alloc.Evictable: every LIVE record
// physically inside block is marked DEAD on medium (a raw walk, not
// reliant on core's own tracking to find what to deaden), and core's
// in-RAM bookkeeping for any file with chunks or a FileCreate record in
// block is pruned to match. The allocator resets the block's entire
// refcount/liveBytes wholesale right after this returns (internal/alloc's
// Evict, after the subsequent Erase), so this need not call DecRef
// itself.
func (v *Volume) MarkBlockDead(block uint32) error {
	blockSize := v.dev.BlockSize()
	base := block * blockSize
	offset := uint32(0)
	for offset+uint32(record.HeaderSize) <= blockSize {
		rec, next, err := v.codec.DecodeAt(v.dev, base+offset)
		if errors.Is(err, record.ErrEndOfLog) {
			break
		}
		if err != nil && !errors.Is(err, record.ErrCorruption) {
			return fmt.Errorf("%w: %v", errs.ErrIoError, err)
		}
		if rec.State == dbformat.Live {
			if err := record.MarkDead(v.dev, rec.Addr); err != nil {
				return fmt.Errorf("%w: %v", errs.ErrIoError, err)
			}
		}
		offset = next - base
	}

	for _, f := range v.byID {
		if device.BlockOf(v.dev, f.createAddr) == block {
			f.createCounted = false
		}
		kept := f.chunks[:0]
		for _, c := range f.chunks {
			if device.BlockOf(v.dev, c.addr) != block {
				kept = append(kept, c)
			}
		}
		f.chunks = kept
	}
	return nil
}

// truncateHead is the implementation behind Handle.Bookmark
// (TruncateHeadPast has its own, non-transactional one): it writes a
// Truncate record moving f's head_offset
// to newHead (a no-op if newHead does not actually advance it), and
// excludes every now-below-head chunk from the allocator's refcount —
// mirroring internal/scan's own below-head exclusion, but applied live
// instead of waiting for the next mount.
func (v *Volume) truncateHead(f *fileState, newHead uint32) error {
	if newHead <= f.headOffset {
		return nil
	}

	payload := dbformat.EncodeTruncate(dbformat.TruncatePayload{HeadOffset: newHead})
	owns, err := v.beginOwned()
	if err != nil {
		return err
	}
	addr, err := v.txn.Write(dbformat.Truncate, f.id, payload, f.priority, v)
	if err != nil {
		if owns {
			v.abortOwned()
		}
		return err
	}
	size, serr := recordSize(v.dev, v.codec, addr)

	v.pending = append(v.pending, pendingOp{
		finalize: func() {
			f.headOffset = newHead
			if serr == nil {
				v.alloc.IncRef(device.BlockOf(v.dev, addr), f.priority, size)
			}
			for i := range f.chunks {
				c := &f.chunks[i]
				if c.counted && c.offset < newHead {
					v.alloc.DecRef(device.BlockOf(v.dev, c.addr), c.onMediumSize)
					c.counted = false
				}
			}
		},
	})

	if owns {
		return v.commitOwned()
	}
	return nil
}
