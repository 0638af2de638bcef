package core

import (
	"strings"

	"github.com/gprossliner/tofs/internal/dbformat"
	"github.com/gprossliner/tofs/internal/device"
	"github.com/gprossliner/tofs/internal/errs"
)

// Entry is one directory listing row, the value List/ListInto hand to
// the caller — a read-only snapshot, not a live pointer into Volume's
// own bookkeeping.
type Entry struct {
	FileID     uint32
	Name       string
	Priority   dbformat.Priority
	HeadOffset uint32
	TailOffset uint32
}

// Size returns the file's current logical length in bytes: the span
// between head_offset and tail_offset a Read can still deliver.
func (e Entry) Size() uint32 {
	return e.TailOffset - e.HeadOffset
}

// validateName enforces the flat-namespace name constraints: at most
// MaxNameLen bytes, non-empty, no embedded NUL, no path separator.
func validateName(name string) error {
	if name == "" {
		return errs.ErrInvalidFlags
	}
	if len(name) > dbformat.MaxNameLen {
		return errs.ErrNameTooLong
	}
	if strings.ContainsRune(name, 0) || strings.ContainsRune(name, '/') {
		return errs.ErrInvalidFlags
	}
	return nil
}

// Create adds a new, empty file named name at the given priority and
// returns its file-id. Create fails with ErrExists if the name is
// already live, and ErrExhausted if Options.MaxFiles would be
// exceeded.
func (v *Volume) Create(name string, priority dbformat.Priority) (uint32, error) {
	if !v.mounted {
		return 0, errs.ErrNotMounted
	}
	if err := validateName(name); err != nil {
		return 0, err
	}
	if !priority.Valid() {
		return 0, errs.ErrInvalidFlags
	}
	if _, exists := v.byName[name]; exists {
		return 0, errs.ErrExists
	}
	if v.opts.MaxFiles > 0 && len(v.byID) >= v.opts.MaxFiles {
		return 0, errs.ErrExhausted
	}

	// Bumped eagerly, not deferred to finalize: a second Create inside
	// the same still-open transaction must not reuse this id before the
	// first one commits.
	id := v.nextID
	v.nextID++
	payload := dbformat.EncodeFileCreate(dbformat.FileCreatePayload{Priority: priority, Name: name})

	owns, err := v.beginOwned()
	if err != nil {
		v.nextID = id
		return 0, err
	}
	addr, err := v.txn.Write(dbformat.FileCreate, id, payload, priority, v)
	if err != nil {
		v.nextID = id
		if owns {
			v.abortOwned()
		}
		return 0, err
	}
	size, serr := recordSize(v.dev, v.codec, addr)

	f := &fileState{
		id:         id,
		name:       name,
		priority:   priority,
		tailAddr:   dbformat.NoPrevAddr,
		createAddr: addr,
	}
	v.pending = append(v.pending, pendingOp{
		finalize: func() {
			if serr == nil {
				f.createSize = size
				f.createCounted = true
				v.alloc.IncRef(device.BlockOf(v.dev, addr), priority, size)
			}
			v.byID[id] = f
			v.byName[name] = f
		},
		rollback: func() {
			v.nextID = id
		},
	})

	if owns {
		if err := v.commitOwned(); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// Delete removes name from the directory. The file's FileCreate record
// and every remaining Append chunk are unaccounted from the allocator
// immediately (rather than waiting for the next mount's scan), per the
// invariant that a deleted file's bytes are not protected from reclaim.
// Truncate records the file wrote are not tracked per file and are not
// unaccounted here.
func (v *Volume) Delete(name string) error {
	if !v.mounted {
		return errs.ErrNotMounted
	}
	f, ok := v.byName[name]
	if !ok {
		return errs.ErrNotFound
	}
	if f.appendOpen {
		return errs.ErrBusy
	}

	owns, err := v.beginOwned()
	if err != nil {
		return err
	}
	if _, err := v.txn.Write(dbformat.Delete, f.id, nil, metaPriority, v); err != nil {
		if owns {
			v.abortOwned()
		}
		return err
	}

	v.pending = append(v.pending, pendingOp{
		finalize: func() {
			delete(v.byName, name)
			f.deleted = true
			if f.createCounted {
				v.alloc.DecRef(device.BlockOf(v.dev, f.createAddr), f.createSize)
				f.createCounted = false
			}
			for i := range f.chunks {
				c := &f.chunks[i]
				if c.counted {
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

// List enumerates every live (non-deleted) file by calling cb for each
// Entry, stopping early if cb returns false: the call-a-callback form
// alongside ListInto's fill-a-buffer form.
func (v *Volume) List(cb func(Entry) bool) error {
	if !v.mounted {
		return errs.ErrNotMounted
	}
	for _, f := range v.byID {
		if f.deleted {
			continue
		}
		if !cb(entryOf(f)) {
			return nil
		}
	}
	return nil
}

// ListInto fills buf with up to len(buf) live directory entries and
// returns how many were written. It returns errs.ErrExhausted (rather
// than silently truncating) if more entries exist than buf can hold.
func (v *Volume) ListInto(buf []Entry) (int, error) {
	if !v.mounted {
		return 0, errs.ErrNotMounted
	}
	n := 0
	for _, f := range v.byID {
		if f.deleted {
			continue
		}
		if n >= len(buf) {
			return n, errs.ErrExhausted
		}
		buf[n] = entryOf(f)
		n++
	}
	return n, nil
}

func entryOf(f *fileState) Entry {
	return Entry{
		FileID:     f.id,
		Name:       f.name,
		Priority:   f.priority,
		HeadOffset: f.headOffset,
		TailOffset: f.tailOffset,
	}
}
