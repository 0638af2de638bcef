// Package txn implements the transaction engine (component E): atomic
// multi-write commit/rollback via the TENTATIVE/LIVE/DEAD state-marker
// convention, plus the implicit single-operation transaction every
// mutating internal/core call outside an explicit Begin gets wrapped
// in.
//
// Grounded on internal/batch/write_batch.go's ordered-list-of-pending-
// mutations shape and pessimistic_transaction.go's state-closed
// bookkeeping, with locking removed entirely: tofs is single-threaded
// cooperative, one caller serializing its own calls, so there is no
// lock to take and no "different-origin" actor identity for the engine
// itself to distinguish. Concurrent use is the caller's bug, not this
// package's to detect.
package txn

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

// errNoActiveTxn signals a programming error inside this module's own
// caller (internal/core): Write/Commit/Abort called with no
// transaction open. It never reaches an external caller, since
// internal/core always routes through Do or an explicit Begin first.
var errNoActiveTxn = errors.New("txn: no active transaction")

// metaPriority is the priority the engine reserves space at for its
// own TxnBegin/TxnCommit/TxnAbort markers. These records are never
// refcounted against a file (see the alloc.IncRef callers in internal/core),
// so the value only influences which blocks this write may evict, not
// whether the marker itself survives eviction — High lets transaction
// bookkeeping win space over ordinary file data under pressure.
const metaPriority = dbformat.High

type txnState struct {
	id       uint64
	refcount int
	pending  []uint32
	aborted  bool
}

// Engine is the transaction state machine for one mounted volume. A
// volume has at most one open transaction at a time; nested Begin
// calls flatten onto it via refcount.
type Engine struct {
	dev    device.Device
	alloc  *alloc.Allocator
	codec  record.Codec
	logger logging.Logger

	maxRecords int
	nextTxnID  uint64
	open       *txnState
}

// NewEngine returns an Engine for one volume. maxRecords is
// MountOptions.MaxRecordsPerTxn (0 means unlimited).
func NewEngine(dev device.Device, alloc *alloc.Allocator, codec record.Codec, logger logging.Logger, maxRecords int) *Engine {
	return &Engine{dev: dev, alloc: alloc, codec: codec, logger: logging.OrDefault(logger), maxRecords: maxRecords}
}

// SetNextTxnID installs the scanner's reconstructed transaction-id
// counter (one past the highest transaction id carried by any record
// found during replay), so
// ids stay globally monotonic across a remount.
func (e *Engine) SetNextTxnID(next uint64) {
	e.nextTxnID = next
}

// IsOpen reports whether a transaction is currently open.
func (e *Engine) IsOpen() bool {
	return e.open != nil
}

// Begin opens a transaction, or flattens onto the already-open one
// (refcount bump) so nested Begin/Commit pairs collapse to the
// outermost pair. The first Begin of a new transaction persists a
// TxnBegin marker, written already-LIVE: it is purely an anchor for a
// human or tool reading the log, since recovery (internal/scan)
// correlates every record to its transaction by the TxnID carried in
// that record's own header, not by log or address order.
func (e *Engine) Begin(ev alloc.Evictable) (uint64, error) {
	if e.open != nil {
		if e.open.aborted {
			return e.open.id, errs.ErrTxnAborted
		}
		e.open.refcount++
		return e.open.id, nil
	}

	id := e.nextTxnID
	buf, err := e.codec.EncodeLive(e.dev, dbformat.TxnBegin, 0, id, nil)
	if err != nil {
		return 0, fmt.Errorf("txn: encode begin: %w", err)
	}
	addr, err := e.alloc.Reserve(len(buf), metaPriority, ev)
	if err != nil {
		return 0, err
	}
	if err := e.dev.Write(addr, buf); err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrIoError, err)
	}

	e.nextTxnID++
	e.open = &txnState{id: id, refcount: 1}
	e.logger.Debugf("%sbegin txn %d", logging.NSTxn, id)
	return id, nil
}

// Write encodes and persists one TENTATIVE record of a non-Append tag
// (FileCreate, Truncate, Delete) inside the open transaction, at the
// given priority (the owning file's priority, or metaPriority for
// records with no file). Returns the address the record landed at, for
// internal/core to remember as a directory pointer once the
// transaction commits. Append records go through WriteAppend instead,
// since they additionally carry a chain back-pointer.
func (e *Engine) Write(tag dbformat.Tag, fileID uint32, payload []byte, priority dbformat.Priority, ev alloc.Evictable) (uint32, error) {
	return e.write(priority, ev, func() ([]byte, error) {
		return e.codec.Encode(e.dev, tag, fileID, e.open.id, payload)
	})
}

// WriteAppend encodes and persists one TENTATIVE Append record inside
// the open transaction. prevAddr is the address of fileID's previous
// LIVE Append record (dbformat.NoPrevAddr if this is the file's
// first) — internal/core threads its own per-handle tail pointer
// through here so the on-medium chain can be walked at recovery
// without depending on scan address order. offset is this chunk's
// absolute logical position in the file's byte stream (the caller's
// running tail_offset before this write), carried the same way so
// scan can tell a Live chunk's position without walking the chain.
func (e *Engine) WriteAppend(fileID uint32, prevAddr uint32, offset uint32, payload []byte, priority dbformat.Priority, ev alloc.Evictable) (uint32, error) {
	return e.write(priority, ev, func() ([]byte, error) {
		return e.codec.EncodeAppend(e.dev, fileID, e.open.id, prevAddr, offset, payload)
	})
}

func (e *Engine) write(priority dbformat.Priority, ev alloc.Evictable, encode func() ([]byte, error)) (uint32, error) {
	if e.open == nil {
		return 0, errNoActiveTxn
	}
	if e.open.aborted {
		return 0, errs.ErrTxnAborted
	}
	if e.maxRecords > 0 && len(e.open.pending) >= e.maxRecords {
		return 0, errs.ErrExhausted
	}

	buf, err := encode()
	if err != nil {
		return 0, err
	}
	addr, err := e.alloc.Reserve(len(buf), priority, ev)
	if err != nil {
		return 0, err
	}
	if err := e.dev.Write(addr, buf); err != nil {
		e.open.aborted = true
		return 0, fmt.Errorf("%w: %v", errs.ErrIoError, err)
	}

	e.open.pending = append(e.open.pending, addr)
	return addr, nil
}

// Commit decrements the nesting refcount; only the outermost Commit
// performs the real commit: every pending TENTATIVE record is flipped
// LIVE in submission order, the TxnCommit marker is written
// already-LIVE, and the device is flushed before Commit returns. Crash
// recovery depends on that exact ordering.
func (e *Engine) Commit(ev alloc.Evictable) error {
	if e.open == nil {
		return nil
	}
	e.open.refcount--
	if e.open.refcount > 0 {
		return nil
	}

	tx := e.open
	e.open = nil
	if tx.aborted {
		return errs.ErrTxnAborted
	}

	for _, addr := range tx.pending {
		if err := record.MarkLive(e.dev, addr); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrIoError, err)
		}
	}

	buf, err := e.codec.EncodeLive(e.dev, dbformat.TxnCommit, 0, tx.id, nil)
	if err != nil {
		return fmt.Errorf("txn: encode commit: %w", err)
	}
	addr, err := e.alloc.Reserve(len(buf), metaPriority, ev)
	if err != nil {
		return err
	}
	if err := e.dev.Write(addr, buf); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIoError, err)
	}
	if err := e.dev.Flush(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIoError, err)
	}

	e.logger.Debugf("%scommit txn %d (%d records)", logging.NSTxn, tx.id, len(tx.pending))
	return nil
}

// Abort cancels the entire currently open transaction, regardless of
// nesting depth: abort is a whole-transaction operation with no
// partial/nested rollback, so a nested Abort call does not merely
// decrement refcount the way Commit does. Every
// pending record is flipped DEAD and a TxnAbort marker is written
// already-LIVE; both steps are best-effort (device failures are
// reported but the in-memory transaction state is cleared regardless,
// since there is nothing left to retry).
func (e *Engine) Abort(ev alloc.Evictable) error {
	if e.open == nil {
		return nil
	}
	tx := e.open
	e.open = nil

	var firstErr error
	for _, addr := range tx.pending {
		if err := record.MarkDead(e.dev, addr); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	buf, err := e.codec.EncodeLive(e.dev, dbformat.TxnAbort, 0, tx.id, nil)
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else if addr, rerr := e.alloc.Reserve(len(buf), metaPriority, ev); rerr != nil {
		if firstErr == nil {
			firstErr = rerr
		}
	} else if werr := e.dev.Write(addr, buf); werr != nil && firstErr == nil {
		firstErr = werr
	}

	e.logger.Debugf("%sabort txn %d (%d records)", logging.NSTxn, tx.id, len(tx.pending))
	if firstErr != nil {
		return fmt.Errorf("%w: %v", errs.ErrIoError, firstErr)
	}
	return nil
}

// Do runs one mutating operation: if no transaction is currently open
// it opens, performs, and commits (or aborts on failure) an implicit
// single-operation transaction around it; if a transaction is already
// open (explicit Begin by the caller), it just joins that transaction
// and leaves commit/abort to the caller's own Commit/Abort call.
func (e *Engine) Do(tag dbformat.Tag, fileID uint32, payload []byte, priority dbformat.Priority, ev alloc.Evictable) (uint32, error) {
	owns := e.open == nil
	if owns {
		if _, err := e.Begin(ev); err != nil {
			return 0, err
		}
	}

	addr, err := e.Write(tag, fileID, payload, priority, ev)
	if err != nil {
		if owns {
			e.Abort(ev)
		}
		return 0, err
	}

	if owns {
		if err := e.Commit(ev); err != nil {
			return 0, err
		}
	}
	return addr, nil
}
