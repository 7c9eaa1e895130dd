// Package engine defines the storage engine collaborator spec.md's
// component table calls out as external to this module's scope: C5/C6
// orchestrate against this interface, never against a concrete store.
// package memengine provides the in-memory reference implementation this
// module tests and benchmarks against.
package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/yeqown/submemd/wire"
)

// ErrWouldBlock is returned by Get/Allocate/Store when the call cannot
// complete synchronously. Per spec.md §5, this is the Go-idiomatic
// stand-in for the original cooperative-suspension protocol: callers
// that receive it select on the returned Pending's Ready channel instead
// of literally re-entering a state machine.
var ErrWouldBlock = errors.New("engine: would block")

// ErrDisconnect is returned when the engine decides the connection must
// be torn down (spec.md §7: "engine returns DISCONNECT").
var ErrDisconnect = errors.New("engine: disconnect")

// ErrNotFound, ErrExists and ErrTooBig map directly onto the protocol
// status codes of the same intent (spec.md §7).
var (
	ErrNotFound = errors.New("engine: not found")
	ErrExists   = errors.New("engine: cas mismatch on store")
	ErrTooBig   = errors.New("engine: value too large")
)

// Item is an opaque handle to a stored value. Every Item obtained from
// Get or Allocate must be released exactly once via Release (spec.md
// GLOSSARY: "Item").
type Item struct {
	Key      []byte
	CAS      uint64
	Flags    uint32
	Datatype wire.Datatype
	Value    []byte
}

// StoreOp selects the semantics of Store, mirroring the base opcodes'
// add/replace/set distinction that the sub-document executor narrows to
// REPLACE (spec.md §4.5 step 3e).
type StoreOp uint8

const (
	StoreSet StoreOp = iota
	StoreAdd
	StoreReplace
)

// Pending represents an in-flight engine call that returned
// ErrWouldBlock. Ready closes when the call has a result; callers
// re-invoke the original method afterward — the engine guarantees the
// retried call will not block a second time for the same logical
// request (spec.md §5: "resumes it by re-entering... with prior context
// intact").
type Pending interface {
	Ready() <-chan struct{}
}

// Engine is the storage collaborator C5/C6 drive. All methods may return
// ErrWouldBlock paired with a Pending; the caller must select on
// Ready() and retry rather than busy-loop.
type Engine interface {
	// Get fetches the item stored under key in vbucket. Returns
	// ErrNotFound if absent.
	Get(ctx context.Context, vbucket uint16, key []byte) (Item, Pending, error)

	// Allocate reserves a new item of size bytes with the given
	// datatype, uncommitted until Store is called with it.
	Allocate(ctx context.Context, vbucket uint16, key []byte, size int, datatype wire.Datatype) (Item, Pending, error)

	// Store commits item under op semantics. On success returns the
	// engine-assigned CAS. Returns ErrExists if item.CAS does not match
	// the currently stored CAS (optimistic concurrency failure).
	Store(ctx context.Context, vbucket uint16, item Item, op StoreOp) (newCAS uint64, pending Pending, err error)

	// Release returns an item obtained from Get or Allocate. Must be
	// called exactly once per obtained Item, on every exit path
	// including error paths (spec.md §7: "no item remains checked out
	// of the engine").
	Release(item Item)

	// Delete removes the item stored under key, if any.
	Delete(ctx context.Context, vbucket uint16, key []byte, cas uint64) error
}
