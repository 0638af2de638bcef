// Package errs holds the sentinel errors shared across every internal
// package and re-exported by the root tofs package, grouped by concern
// rather than collected into one generated enum: plain errors.New
// values, errors.Is-comparable, no Status/Code type.
//
// Living in their own leaf package, rather than the root tofs package,
// lets internal/alloc, internal/txn and internal/core return them
// directly without importing the root package, which would create an
// import cycle since the root package imports internal/core.
package errs

import "errors"

// Volume lifecycle.
var (
	ErrNotMounted     = errors.New("tofs: volume not mounted")
	ErrAlreadyMounted = errors.New("tofs: volume already mounted")
	ErrBadFormat      = errors.New("tofs: no valid superblock and auto_format disabled")
)

// Directory.
var (
	ErrNotFound     = errors.New("tofs: file not found")
	ErrExists       = errors.New("tofs: file already exists")
	ErrNameTooLong  = errors.New("tofs: file name exceeds 15 bytes")
	ErrInvalidFlags = errors.New("tofs: invalid open flags")
)

// Conflicting open/transaction.
var ErrBusy = errors.New("tofs: resource busy")

// Allocator.
var ErrNoSpace = errors.New("tofs: no space left on volume")

// Static limits (open handles, directory entries, records per transaction).
var ErrExhausted = errors.New("tofs: static limit exhausted")

// Adapter failure. Wrapped with the underlying device error via %w.
var ErrIoError = errors.New("tofs: device i/o error")

// Integrity check failure during scan or read.
var ErrCorruption = errors.New("tofs: record corruption detected")

// An operation issued against a transaction after it was aborted.
var ErrTxnAborted = errors.New("tofs: transaction aborted")
