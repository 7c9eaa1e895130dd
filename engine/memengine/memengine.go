// Package memengine is the in-memory reference engine.Engine
// implementation used by this module's own tests and benchmarks, filling
// the role spec.md leaves external ("Storage engine": out of scope
// beyond its interface). It never blocks for real, but can be told to
// simulate EWOULDBLOCK on demand so subdocexec's suspend/resume path has
// something real to exercise.
package memengine

import (
	"context"
	"sync"

	"github.com/yeqown/submemd/engine"
	"github.com/yeqown/submemd/wire"
)

type docKey struct {
	vbucket uint16
	key     string
}

type stored struct {
	cas      uint64
	flags    uint32
	datatype wire.Datatype
	value    []byte
}

// closedPending is returned whenever a call completes synchronously;
// its Ready channel is already closed so a caller that selects on it
// proceeds immediately.
type closedPending struct{ ch chan struct{} }

func newClosedPending() closedPending {
	ch := make(chan struct{})
	close(ch)
	return closedPending{ch: ch}
}

func (p closedPending) Ready() <-chan struct{} { return p.ch }

// Engine is a mutex-guarded map of documents, one per (vbucket, key).
type Engine struct {
	mu   sync.Mutex
	docs map[docKey]stored
	cas  uint64

	// Suspend, if set, is consulted before every Get/Allocate/Store call;
	// returning true makes that one call return engine.ErrWouldBlock with
	// a Pending that becomes ready after a short delay driven by the
	// caller themselves via Resume.
	Suspend func(op string) bool

	pendingMu sync.Mutex
	parked    []chan struct{}

	// forceConflictOnce, when armed via ForceCASConflictOnce, makes the
	// next Store against an existing document behave as though a
	// concurrent writer had just bumped its CAS: the stored CAS changes
	// underneath the caller and the call returns engine.ErrExists, then
	// the flag disarms so the following Store succeeds normally.
	forceConflictOnce bool
}

// New returns an empty Engine.
func New() *Engine {
	return &Engine{docs: make(map[docKey]stored)}
}

// Resume closes every currently parked Pending, waking suspended calls.
// Tests use this to drive the EWOULDBLOCK → retry path deterministically.
func (e *Engine) Resume() {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	for _, ch := range e.parked {
		close(ch)
	}
	e.parked = e.parked[:0]
}

// ForceCASConflictOnce arms the engine so the very next Store against an
// existing document simulates one concurrent writer bumping its CAS
// first, returning engine.ErrExists. Tests use this to deterministically
// drive the CAS auto-retry loop in subdocexec (spec.md §4.5 step 5),
// mirroring Suspend's role for the EWOULDBLOCK path.
func (e *Engine) ForceCASConflictOnce() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forceConflictOnce = true
}

func (e *Engine) park() engine.Pending {
	ch := make(chan struct{})
	e.pendingMu.Lock()
	e.parked = append(e.parked, ch)
	e.pendingMu.Unlock()
	return closedPending{ch: ch}
}

func (e *Engine) nextCAS() uint64 {
	e.cas++
	return e.cas
}

func (e *Engine) Get(_ context.Context, vbucket uint16, key []byte) (engine.Item, engine.Pending, error) {
	if e.Suspend != nil && e.Suspend("get") {
		return engine.Item{}, e.park(), engine.ErrWouldBlock
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.docs[docKey{vbucket, string(key)}]
	if !ok {
		return engine.Item{}, newClosedPending(), engine.ErrNotFound
	}

	return engine.Item{
		Key:      key,
		CAS:      s.cas,
		Flags:    s.flags,
		Datatype: s.datatype,
		Value:    s.value,
	}, newClosedPending(), nil
}

func (e *Engine) Allocate(_ context.Context, _ uint16, key []byte, size int, datatype wire.Datatype) (engine.Item, engine.Pending, error) {
	if e.Suspend != nil && e.Suspend("allocate") {
		return engine.Item{}, e.park(), engine.ErrWouldBlock
	}

	return engine.Item{
		Key:      key,
		Datatype: datatype,
		Value:    make([]byte, size),
	}, newClosedPending(), nil
}

func (e *Engine) Store(_ context.Context, vbucket uint16, item engine.Item, op engine.StoreOp) (uint64, engine.Pending, error) {
	if e.Suspend != nil && e.Suspend("store") {
		return 0, e.park(), engine.ErrWouldBlock
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	k := docKey{vbucket, string(item.Key)}
	existing, exists := e.docs[k]

	if e.forceConflictOnce && exists {
		e.forceConflictOnce = false
		existing.cas = e.nextCAS()
		e.docs[k] = existing
		return 0, newClosedPending(), engine.ErrExists
	}

	switch op {
	case engine.StoreAdd:
		if exists {
			return 0, newClosedPending(), engine.ErrExists
		}
	case engine.StoreReplace:
		if !exists {
			return 0, newClosedPending(), engine.ErrNotFound
		}
		if item.CAS != 0 && item.CAS != existing.cas {
			return 0, newClosedPending(), engine.ErrExists
		}
	case engine.StoreSet:
		if exists && item.CAS != 0 && item.CAS != existing.cas {
			return 0, newClosedPending(), engine.ErrExists
		}
	}

	newCAS := e.nextCAS()
	e.docs[k] = stored{
		cas:      newCAS,
		flags:    item.Flags,
		datatype: item.Datatype,
		value:    item.Value,
	}
	return newCAS, newClosedPending(), nil
}

func (e *Engine) Release(engine.Item) {
	// The reference engine makes no separate allocation per Item beyond
	// the map entry itself, so Release is a no-op; it still exists so
	// every caller can follow the "release on every exit path" discipline
	// uniformly regardless of which Engine implementation is wired in.
}

func (e *Engine) Delete(_ context.Context, vbucket uint16, key []byte, cas uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	k := docKey{vbucket, string(key)}
	s, ok := e.docs[k]
	if !ok {
		return engine.ErrNotFound
	}
	if cas != 0 && cas != s.cas {
		return engine.ErrExists
	}
	delete(e.docs, k)
	return nil
}

var _ engine.Engine = (*Engine)(nil)
