// Package tofs is a transactional, crash-safe log-structured file store
// for erase-block media (NOR/NAND flash, EEPROM, RAM, a host file). It
// is the public dispatcher (component H): every method here forwards
// straight to internal/core.Volume, which validates arguments and owns
// the actual record codec, allocator and transaction engine wiring. Grounded on db_apis.go's top-level
// functions, which wrap *dbImpl the same thin way.
package tofs

import (
	"github.com/gprossliner/tofs/internal/core"
	"github.com/gprossliner/tofs/internal/dbformat"
	"github.com/gprossliner/tofs/internal/device"
	"github.com/gprossliner/tofs/internal/record"
)

// Priority governs eviction order: HIGH-priority content is never
// sacrificed to make room for LOW or NORMAL writes.
type Priority = dbformat.Priority

// Priority values for Open's flags and Create.
const (
	PriorityLow    = dbformat.Low
	PriorityNormal = dbformat.Normal
	PriorityHigh   = dbformat.High
)

// Mode is the access discipline a Handle was opened with.
type Mode = core.Mode

// Modes accepted by Open.
const (
	ModeRead   = core.ModeRead
	ModeAppend = core.ModeAppend
	ModeQueue  = core.ModeQueue
)

// OpenFlags mirror the on-medium open flags: a priority hint plus
// DontCreate.
type OpenFlags = core.OpenFlags

// Flag values accepted by Open.
const (
	FlagDefault        = core.FlagDefault
	FlagPriorityLow    = core.FlagPriorityLow
	FlagPriorityNormal = core.FlagPriorityNormal
	FlagPriorityHigh   = core.FlagPriorityHigh
	FlagDontCreate     = core.FlagDontCreate
)

// Entry is one directory listing row returned by List/ListInto.
type Entry = core.Entry

// Volume is a mounted (or not-yet-mounted) tofs store over one block
// device. The zero value is not usable — construct one with NewVolume.
type Volume struct {
	core *core.Volume
}

// NewVolume prepares an unmounted Volume over dev. Call Mount before
// any other operation. opts.ChecksumType/Compression configure the
// codec used for every record read or written, on a fresh or an
// existing volume alike; the medium does not record either choice.
func NewVolume(dev device.Device, opts MountOptions) *Volume {
	codec := record.NewCodec(opts.ChecksumType, opts.Compression)
	return &Volume{
		core: core.NewVolume(dev, codec, opts.Logger, opts.coreOptions()),
	}
}

// Mount scans the volume's device (or formats it, if autoFormat is set
// and no valid superblock exists) and makes every other operation
// available. Mounting an already-mounted Volume returns
// ErrAlreadyMounted; mounting an unformatted volume with autoFormat
// false returns ErrBadFormat without touching the medium. autoFormat
// typically mirrors the MountOptions.AutoFormat passed to NewVolume,
// kept as its own argument because it is the one setting a caller
// sometimes wants to flip per-call (e.g. a CLI's "format" subcommand
// forcing it true against options otherwise read from a config file).
func (v *Volume) Mount(autoFormat bool) error {
	return v.core.Mount(autoFormat)
}

// Close unmounts the volume. Any Handle still open at Close is left
// dangling — closing every handle first is the caller's responsibility,
// matching tofs's single-actor cooperative concurrency model.
func (v *Volume) Close() error {
	return v.core.Close()
}

// Open opens name under mode with flags, creating it at Normal priority
// (or the priority flags request) unless FlagDontCreate turns a missing
// name into ErrNotFound. At most one Append handle may be open against
// a file at a time; opening a second returns ErrBusy.
func (v *Volume) Open(name string, mode Mode, flags OpenFlags) (*Handle, error) {
	h, err := v.core.Open(name, mode, flags)
	if err != nil {
		return nil, err
	}
	return &Handle{core: h}, nil
}

// Create adds a new, empty file named name at the given priority and
// returns its file-id, without opening a handle to it. Open's
// create-on-demand path covers the common case; Create exists for
// callers that want the id up front, e.g. a formatting tool.
func (v *Volume) Create(name string, priority Priority) (uint32, error) {
	return v.core.Create(name, priority)
}

// Delete removes name from the directory; its content and directory
// record are immediately unaccounted from the allocator rather than
// waiting for the next mount's scan.
func (v *Volume) Delete(name string) error {
	return v.core.Delete(name)
}

// List enumerates every live file by calling cb for each Entry,
// stopping early if cb returns false.
func (v *Volume) List(cb func(Entry) bool) error {
	return v.core.List(cb)
}

// ListInto fills buf with up to len(buf) live directory entries and
// returns how many were written, or ErrExhausted if more entries exist
// than buf can hold.
func (v *Volume) ListInto(buf []Entry) (int, error) {
	return v.core.ListInto(buf)
}

// Begin opens (or flattens onto) the volume's explicit transaction,
// returning its transaction id. Writes and deletes issued without an
// explicit Begin run inside their own implicit, single-operation
// transaction instead.
func (v *Volume) Begin() (uint64, error) {
	return v.core.Begin()
}

// Commit commits the volume's currently open explicit transaction. A
// nested Begin's Commit only unwinds one nesting level; bookkeeping
// only becomes visible once the outermost Commit returns.
func (v *Volume) Commit() error {
	return v.core.Commit()
}

// Abort cancels the volume's entire currently open transaction,
// regardless of nesting depth, discarding every write issued since it
// opened.
func (v *Volume) Abort() error {
	return v.core.Abort()
}

// Handle is an open cursor over one file, governed by the Mode it was
// opened with.
type Handle struct {
	core *core.Handle
}

// Close releases h. Closing an already-closed Handle is a no-op.
func (h *Handle) Close() error {
	return h.core.Close()
}

// Write appends payload as one new record at the handle's cursor. Write
// is only valid on a ModeAppend handle; a payload longer than the
// device's per-record capacity returns ErrExhausted.
func (h *Handle) Write(payload []byte) (int, error) {
	return h.core.Write(payload)
}

// Read copies the next record at or after the handle's cursor into buf
// and advances the cursor past it, or reports io.EOF once the cursor
// reaches the file's tail. A nil buf peeks: the returned length reports
// the next record's size without consuming it. A non-nil buf shorter
// than the next record returns io.ErrShortBuffer without advancing.
func (h *Handle) Read(buf []byte) (int, error) {
	return h.core.Read(buf)
}

// Bookmark is only valid on a ModeQueue handle: it persists a head
// advance to the handle's current read cursor, permanently discarding
// everything the handle has read so far.
func (h *Handle) Bookmark() error {
	return h.core.Bookmark()
}
