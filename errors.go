package tofs

import "github.com/gprossliner/tofs/internal/errs"

// Sentinel errors returned by Volume and Handle operations, re-exported
// from internal/errs so callers never need to import it directly.
// errors.Is works against these exactly as it would against the
// internal values — they are the same variables, not copies.
var (
	ErrNotMounted     = errs.ErrNotMounted
	ErrAlreadyMounted = errs.ErrAlreadyMounted
	ErrBadFormat      = errs.ErrBadFormat

	ErrNotFound     = errs.ErrNotFound
	ErrExists       = errs.ErrExists
	ErrNameTooLong  = errs.ErrNameTooLong
	ErrInvalidFlags = errs.ErrInvalidFlags

	ErrBusy = errs.ErrBusy

	ErrNoSpace = errs.ErrNoSpace

	ErrExhausted = errs.ErrExhausted

	ErrIoError = errs.ErrIoError

	ErrCorruption = errs.ErrCorruption

	ErrTxnAborted = errs.ErrTxnAborted
)
