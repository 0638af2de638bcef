// Package alloc implements block selection and priority-aware garbage
// collection (component D): the allocator picks where the next record
// lands and reclaims blocks when no free space remains, evicting the
// lowest-priority reclaimable block first and picking a victim as a
// step separate from executing its eviction.
package alloc

import (
	"fmt"

	"github.com/gprossliner/tofs/internal/dbformat"
	"github.com/gprossliner/tofs/internal/device"
	"github.com/gprossliner/tofs/internal/errs"
	"github.com/gprossliner/tofs/internal/record"
)

type blockMeta struct {
	refcount    int32
	minPriority dbformat.Priority
	liveBytes   int
	erased      bool
}

func (b blockMeta) garbage() bool {
	return b.refcount == 0
}

// Evictable is implemented by internal/core.Volume: the file-aware
// collaborator the allocator calls back into during eviction so a file
// never observes a gap in its own content. alloc has no notion of
// files or the directory itself, that state lives in internal/core, so
// eviction is two packages cooperating through this small interface
// instead of one importing the other.
type Evictable interface {
	// FilesLiveInBlock returns the file-ids with at least one Append
	// record physically inside block.
	FilesLiveInBlock(block uint32) []uint32

	// TruncateHeadPast writes an already-LIVE Truncate record (outside
	// any transaction) moving fileID's head_offset to just past the last
	// byte of block, before block's records are marked dead.
	TruncateHeadPast(fileID uint32, block uint32) error

	// MarkBlockDead marks every LIVE record physically inside block as
	// DEAD, in address order.
	MarkBlockDead(block uint32) error
}

// Allocator holds per-block metadata for one volume: a fixed slice
// sized to the device's geometry at construction time, never resized,
// matching the statically-sized footprint embedded and erase-block
// media require.
type Allocator struct {
	dev   device.Device
	codec record.Codec

	blocks []blockMeta

	writeBlock    uint32
	writeOffset   uint32
	hasWriteBlock bool
}

// NewAllocator returns an Allocator for dev with every block initially
// treated as garbage (refcount 0); the scanner populates real state
// via SetBlockState during mount-time replay.
func NewAllocator(dev device.Device, codec record.Codec) *Allocator {
	return &Allocator{
		dev:    dev,
		codec:  codec,
		blocks: make([]blockMeta, dev.BlockCount()),
	}
}

// SetBlockState installs the scanner's replay results for block.
// erased reports whether the scanner found the block still in its
// virgin, freshly-erased state (an end-of-log sentinel at offset 0,
// never written on this volume) as opposed to logically garbage but
// still carrying non-erased bytes from past records — the two cases
// NextWriteBlock must tell apart (see below).
func (a *Allocator) SetBlockState(block uint32, refcount int32, minPriority dbformat.Priority, liveBytes int, erased bool) {
	a.blocks[block] = blockMeta{refcount: refcount, minPriority: minPriority, liveBytes: liveBytes, erased: erased}
}

// SetWriteCursor installs the scanner's reconstructed write cursor
// (the address one past the last record found anywhere on the
// volume), so the first write after mount continues the log instead
// of restarting it.
func (a *Allocator) SetWriteCursor(block, offset uint32) {
	a.writeBlock = block
	a.writeOffset = offset
	a.hasWriteBlock = true
}

// IncRef records that size live bytes at the given priority now belong
// to block. Called when a record transitions to LIVE.
func (a *Allocator) IncRef(block uint32, priority dbformat.Priority, size int) {
	b := &a.blocks[block]
	if b.refcount == 0 || priority < b.minPriority {
		b.minPriority = priority
	}
	b.refcount++
	b.liveBytes += size
}

// DecRef records that size bytes in block are no longer live (marked
// DEAD, or truncated past). When the last live byte leaves a block it
// becomes unconstrained (minPriority resets), since nothing references
// it any more.
func (a *Allocator) DecRef(block uint32, size int) {
	b := &a.blocks[block]
	if b.refcount > 0 {
		b.refcount--
	}
	b.liveBytes -= size
	if b.liveBytes < 0 {
		b.liveBytes = 0
	}
	if b.refcount == 0 {
		b.minPriority = 0
		b.liveBytes = 0
	}
}

// Reserve returns the address of a size-byte region for a record at
// the given priority, sealing the current block with a Padding record
// and advancing to a new one if size does not fit in what remains.
func (a *Allocator) Reserve(size int, priority dbformat.Priority, ev Evictable) (uint32, error) {
	blockSize := a.dev.BlockSize()

	if !a.hasWriteBlock {
		block, err := a.NextWriteBlock(priority, ev)
		if err != nil {
			return 0, err
		}
		a.writeBlock, a.writeOffset, a.hasWriteBlock = block, 0, true
		a.blocks[block].erased = false
	}

	remaining := int(blockSize) - int(a.writeOffset)
	if remaining < size {
		if remaining >= record.HeaderSize {
			pad, err := a.codec.EncodePadding(remaining)
			if err != nil {
				return 0, fmt.Errorf("alloc: seal block: %w", err)
			}
			addr := a.writeBlock*blockSize + a.writeOffset
			if err := a.dev.Write(addr, pad); err != nil {
				return 0, fmt.Errorf("%w: %v", errs.ErrIoError, err)
			}
		}
		block, err := a.NextWriteBlock(priority, ev)
		if err != nil {
			return 0, err
		}
		a.writeBlock, a.writeOffset = block, 0
		a.blocks[block].erased = false
	}

	addr := a.writeBlock*blockSize + a.writeOffset
	a.writeOffset += uint32(size)
	return addr, nil
}

// NextWriteBlock implements the block selection order: a free block
// (lowest address, already erased — no Erase call needed) first, then
// any garbage block that still carries non-erased bytes from past
// records (erased in place before handing it out), then priority
// eviction of the lowest-aggregate-priority reclaimable block, else
// ErrNoSpace. The first two loops are NOT redundant despite both
// matching refcount == 0: DecRef zeroes liveBytes the instant a
// block's last live record goes away, so liveBytes can't tell a
// virgin-erased block from a reclaimed-but-still-dirty one — only the
// erased flag (set true solely by an explicit Erase, scan-time
// discovery, or format) can.
func (a *Allocator) NextWriteBlock(priority dbformat.Priority, ev Evictable) (uint32, error) {
	for i := range a.blocks {
		if a.blocks[i].garbage() && a.blocks[i].erased {
			return uint32(i), nil
		}
	}

	for i := range a.blocks {
		if a.blocks[i].garbage() && !a.blocks[i].erased {
			if err := a.dev.Erase(uint32(i)); err != nil {
				return 0, fmt.Errorf("%w: %v", errs.ErrIoError, err)
			}
			a.blocks[i] = blockMeta{erased: true}
			return uint32(i), nil
		}
	}

	victim, ok := a.pickVictim(priority)
	if !ok {
		return 0, errs.ErrNoSpace
	}
	if err := a.Evict(victim, ev); err != nil {
		return 0, err
	}
	return victim, nil
}

// pickVictim selects the best reclaimable block for a write at
// priority: HIGH-priority content is never evicted to make room for
// LOW or NORMAL writes (priority must strictly exceed the candidate's
// minPriority), then lowest aggregate priority, then lowest live byte
// count, then lowest address.
func (a *Allocator) pickVictim(priority dbformat.Priority) (uint32, bool) {
	best := -1
	for i := range a.blocks {
		b := a.blocks[i]
		if !(priority > b.minPriority) {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		bb := a.blocks[best]
		switch {
		case b.minPriority != bb.minPriority:
			if b.minPriority < bb.minPriority {
				best = i
			}
		case b.liveBytes != bb.liveBytes:
			if b.liveBytes < bb.liveBytes {
				best = i
			}
		}
	}
	if best == -1 {
		return 0, false
	}
	return uint32(best), true
}

// Evict makes victim reclaimable: every file with LIVE content in the
// block has its head advanced past the block (so it never observes a
// gap), the block's records are marked DEAD, and the block is erased.
// A crash between the Truncate writes and the erase just means the
// block gets erased again on the next mount — erase is idempotent.
func (a *Allocator) Evict(victim uint32, ev Evictable) error {
	for _, fileID := range ev.FilesLiveInBlock(victim) {
		if err := ev.TruncateHeadPast(fileID, victim); err != nil {
			return fmt.Errorf("alloc: evict %d: truncate file %d: %w", victim, fileID, err)
		}
	}
	if err := ev.MarkBlockDead(victim); err != nil {
		return fmt.Errorf("alloc: evict %d: mark dead: %w", victim, err)
	}
	if err := a.dev.Erase(victim); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIoError, err)
	}
	a.blocks[victim] = blockMeta{erased: true}
	return nil
}

// WriteCursor returns the allocator's current write position, for the
// scanner to persist nowhere (it is reconstructed fresh at each mount)
// and for tests asserting cursor advancement.
func (a *Allocator) WriteCursor() (block, offset uint32) {
	return a.writeBlock, a.writeOffset
}
