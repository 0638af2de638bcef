package core

import (
	"io"

	"github.com/gprossliner/tofs/internal/dbformat"
	"github.com/gprossliner/tofs/internal/device"
	"github.com/gprossliner/tofs/internal/errs"
	"github.com/gprossliner/tofs/internal/record"
)

// Mode is the access discipline a Handle was opened with. A file admits
// at most one open Append handle at a time and any number of Read or
// Queue handles.
type Mode uint8

const (
	// ModeRead reads from head_offset forward without ever advancing it
	// — repeatable, non-destructive reads.
	ModeRead Mode = iota
	// ModeAppend writes new chunks onto the file's tail.
	ModeAppend
	// ModeQueue reads from head_offset forward like ModeRead, but
	// Bookmark advances head_offset to the read cursor, permanently
	// discarding everything before it.
	ModeQueue
)

// OpenFlags carries a priority hint plus DontCreate.
type OpenFlags uint8

const (
	// FlagDefault keeps an existing file's priority unchanged and
	// creates a missing file at dbformat.Normal.
	FlagDefault OpenFlags = 0
	// FlagPriorityLow sets (or updates) the file's priority to Low.
	FlagPriorityLow OpenFlags = 1 << iota
	// FlagPriorityNormal sets (or updates) the file's priority to Normal.
	FlagPriorityNormal
	// FlagPriorityHigh sets (or updates) the file's priority to High.
	FlagPriorityHigh
	// FlagDontCreate fails with ErrNotFound instead of creating a
	// missing file.
	FlagDontCreate
)

func (fl OpenFlags) priority() (dbformat.Priority, bool) {
	switch {
	case fl&FlagPriorityLow != 0:
		return dbformat.Low, true
	case fl&FlagPriorityNormal != 0:
		return dbformat.Normal, true
	case fl&FlagPriorityHigh != 0:
		return dbformat.High, true
	default:
		return 0, false
	}
}

// Handle is an open file handle: a cursor over one file's content plus
// the access discipline (Mode) governing what it may do with that
// cursor. Grounded on snapshot.go's minimal shape (a reference into
// shared state plus a position), simplified further since a Handle has
// no refcount of its own — Volume tracks liveness via appendOpen and
// openHandles instead.
type Handle struct {
	v      *Volume
	f      *fileState
	mode   Mode
	cursor uint32
	closed bool

	// prevAddr/nextOffset track this handle's own view of the file's
	// append chain, advanced synchronously by every Write call. They
	// cannot simply read fileState.tailAddr/tailOffset instead: those
	// only advance once a write's pendingOp finalizes at commit, while a
	// second Write before that commit still needs the first write's
	// address to chain onto, as happens when several Writes land inside
	// a single still-open transaction.
	prevAddr   uint32
	nextOffset uint32
}

// Open opens name under the given mode and flags, creating it at
// dbformat.Normal priority unless flags requests otherwise, and unless
// FlagDontCreate turns a missing name into ErrNotFound. Opening a
// second ModeAppend handle against the same file returns ErrBusy — a
// file admits exactly one open append handle at a time.
func (v *Volume) Open(name string, mode Mode, flags OpenFlags) (*Handle, error) {
	if !v.mounted {
		return nil, errs.ErrNotMounted
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if v.opts.MaxOpenHandles > 0 && v.openHandles >= v.opts.MaxOpenHandles {
		return nil, errs.ErrExhausted
	}

	f, ok := v.byName[name]
	if !ok {
		if flags&FlagDontCreate != 0 {
			return nil, errs.ErrNotFound
		}
		priority := dbformat.Normal
		if p, set := flags.priority(); set {
			priority = p
		}
		id, err := v.Create(name, priority)
		if err != nil {
			return nil, err
		}
		f = v.byID[id]
	} else if p, set := flags.priority(); set {
		// dbformat's tag set has no update-priority record of its own, so
		// a priority change on an existing file updates the in-RAM value
		// only; see DESIGN.md for why no wire record backs this.
		f.priority = p
	}

	if mode == ModeAppend {
		if f.appendOpen {
			return nil, errs.ErrBusy
		}
		f.appendOpen = true
	}

	h := &Handle{v: v, f: f, mode: mode}
	switch mode {
	case ModeAppend:
		h.cursor = f.tailOffset
		h.prevAddr = f.tailAddr
		h.nextOffset = f.tailOffset
	default:
		h.cursor = f.headOffset
	}
	v.openHandles++
	return h, nil
}

// Close releases h. Closing an already-closed Handle is a no-op.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	if h.mode == ModeAppend {
		h.f.appendOpen = false
	}
	h.v.openHandles--
	return nil
}

// Write appends payload as one new chunk at the handle's cursor.
// Write is only valid on a ModeAppend handle; MaxPayload(dev) bounds
// how large payload may be in one call. Splitting a larger write
// across multiple calls is left to the caller.
func (h *Handle) Write(payload []byte) (int, error) {
	if h.closed {
		return 0, errs.ErrNotFound
	}
	if h.mode != ModeAppend {
		return 0, errs.ErrInvalidFlags
	}
	if len(payload) == 0 {
		return 0, nil
	}
	if len(payload) > record.MaxPayload(h.v.dev) {
		return 0, errs.ErrExhausted
	}

	f := h.f
	v := h.v
	prevAddr := h.prevAddr
	offset := h.nextOffset

	owns, err := v.beginOwned()
	if err != nil {
		return 0, err
	}
	addr, err := v.txn.WriteAppend(f.id, prevAddr, offset, payload, f.priority, v)
	if err != nil {
		if owns {
			v.abortOwned()
		}
		return 0, err
	}
	size, serr := recordSize(v.dev, v.codec, addr)
	n := len(payload)

	priorPrevAddr, priorNextOffset := h.prevAddr, h.nextOffset
	h.prevAddr = addr
	h.nextOffset = offset + uint32(n)

	v.pending = append(v.pending, pendingOp{
		finalize: func() {
			if serr == nil {
				v.alloc.IncRef(device.BlockOf(v.dev, addr), f.priority, size)
			}
			f.chunks = append(f.chunks, chunk{
				addr:         addr,
				offset:       offset,
				payloadLen:   n,
				onMediumSize: size,
				counted:      true,
			})
			f.tailAddr = addr
			f.tailOffset = offset + uint32(n)
		},
		rollback: func() {
			h.prevAddr = priorPrevAddr
			h.nextOffset = priorNextOffset
		},
	})

	if owns {
		if err := v.commitOwned(); err != nil {
			return 0, err
		}
	}
	h.cursor = offset + uint32(n)
	return n, nil
}

// Read copies the next chunk at or after the handle's cursor into buf
// and advances the cursor past it, or reports io.EOF once the cursor
// reaches the file's tail. A nil buf peeks: it reports the next
// chunk's length without consuming it or moving the cursor. A non-nil
// buf shorter than the next chunk returns io.ErrShortBuffer without
// advancing the cursor, so the caller can retry with a larger buffer.
func (h *Handle) Read(buf []byte) (int, error) {
	if h.closed {
		return 0, errs.ErrNotFound
	}
	if h.mode == ModeAppend {
		return 0, errs.ErrInvalidFlags
	}

	if h.cursor < h.f.headOffset {
		// Data between the handle's cursor and head_offset was discarded
		// by a Bookmark or an eviction's forced truncate since this
		// handle last read; it is gone regardless of how far behind the
		// handle was, so the cursor jumps forward to what is still there.
		h.cursor = h.f.headOffset
	}

	c, ok := h.f.findChunk(h.cursor)
	if !ok {
		if h.cursor >= h.f.tailOffset {
			return 0, io.EOF
		}
		// cursor sits strictly below tailOffset but lands mid-chunk or on
		// a chunk already reclaimed past head_offset; advance to the next
		// known chunk boundary instead of spinning.
		next, found := h.f.nextChunkFrom(h.cursor)
		if !found {
			return 0, io.EOF
		}
		h.cursor = next.offset
		c = next
	}

	if buf == nil {
		return c.payloadLen, nil
	}
	if len(buf) < c.payloadLen {
		return c.payloadLen, io.ErrShortBuffer
	}

	rec, _, err := h.v.codec.DecodeAt(h.v.dev, c.addr)
	if err != nil {
		return 0, err
	}
	n := copy(buf, rec.Payload)
	h.cursor += uint32(n)
	return n, nil
}

// Bookmark is only valid on a ModeQueue handle: it persists a Truncate
// record advancing the file's head_offset to the handle's current read
// cursor, permanently discarding everything the handle has read so far.
func (h *Handle) Bookmark() error {
	if h.closed {
		return errs.ErrNotFound
	}
	if h.mode != ModeQueue {
		return errs.ErrInvalidFlags
	}
	return h.v.truncateHead(h.f, h.cursor)
}

// nextChunkFrom returns the first chunk whose offset is >= from.
func (f *fileState) nextChunkFrom(from uint32) (chunk, bool) {
	var best chunk
	found := false
	for _, c := range f.chunks {
		if c.offset >= from && (!found || c.offset < best.offset) {
			best, found = c, true
		}
	}
	return best, found
}
