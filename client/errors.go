package client

import (
	"github.com/pkg/errors"

	"github.com/yeqown/submemd/wire"
)

var (
	// ErrNotFound mirrors wire.StatusKeyNotFound.
	ErrNotFound = errors.New("not found")
	// ErrExists mirrors wire.StatusKeyExists (CAS mismatch or ADD on an
	// existing key, depending on opcode).
	ErrExists = errors.New("exists")
	// ErrNotStored mirrors wire.StatusItemNotStored.
	ErrNotStored = errors.New("not stored")
	// ErrTooBig mirrors wire.StatusValueTooBig.
	ErrTooBig = errors.New("value too big")
	// ErrInvalidArgument mirrors wire.StatusInvalidArgs.
	ErrInvalidArgument = errors.New("invalid arguments")
	// ErrNotSupported mirrors wire.StatusNotSupported.
	ErrNotSupported = errors.New("not supported")
	// ErrInternal mirrors wire.StatusInternalError.
	ErrInternal = errors.New("server internal error")
	// ErrBusy mirrors wire.StatusBusy.
	ErrBusy = errors.New("server busy")
	// ErrTmpFailure mirrors wire.StatusTmpFailure.
	ErrTmpFailure = errors.New("temporary failure")
	// ErrSubDoc is the parent sentinel for all SUBDOC_* statuses; use
	// errors.As to reach the wrapped *StatusError for the exact
	// wire.Status.
	ErrSubDoc = errors.New("subdocument error")

	// ErrInvalidAddress is returned when the given cluster address string
	// cannot be resolved to at least one node.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrInvalidKey represents an invalid key error (empty or over 250 bytes).
	ErrInvalidKey = errors.New("invalid key: empty or too long")
	// ErrInvalidValue represents an invalid value error (over 2^32 bytes).
	ErrInvalidValue = errors.New("invalid value: too long")
)

// StatusError wraps a non-success wire.Status returned by the server so
// callers that need the exact code can unwrap it, while errors.Is still
// matches the coarser Err* sentinels above.
type StatusError struct {
	Status wire.Status
	parent error
}

func (e *StatusError) Error() string { return e.Status.String() }

func (e *StatusError) Unwrap() error { return e.parent }
