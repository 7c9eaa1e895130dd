// Package subdocexec implements spec.md §4.5 (the sub-document
// executor, C5) and §4.6 (the multi-path coordinator, C6): the
// orchestration loop that fetches a document, invokes the JSON engine,
// and writes back a mutated copy under CAS, translated from the
// original's cooperative state-machine re-entry into Go's native
// idiom — a goroutine blocking on channel selects instead of a command
// context re-entered by a scheduler (SPEC_FULL.md §4.5 EXPANSION).
package subdocexec

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/yeqown/submemd/docbuf"
	"github.com/yeqown/submemd/engine"
	"github.com/yeqown/submemd/subdocop"
	"github.com/yeqown/submemd/traits"
	"github.com/yeqown/submemd/wire"
)

// maxRetries bounds the CAS auto-retry loop (spec.md §4.5 step 5).
const maxRetries = 100

// StatsRecorder is the side-effect sink the executor drives on every
// command (spec.md §4.5: "Side effects... cmd_set counter... get
// counters and a topkeys update"). package stats implements it.
type StatsRecorder interface {
	RecordGet(key []byte)
	RecordSet(key []byte)
}

// Deps bundles the executor's collaborators. server.Dispatcher builds one
// Deps per sub-document command, with Scratch set to the issuing
// connection's own buffer.
type Deps struct {
	Store   engine.Engine
	Ops     subdocop.Engine
	Scratch *docbuf.Buffer
	Stats   StatsRecorder
	Logger  *slog.Logger
}

// Request is one already-validated single-path sub-document command.
type Request struct {
	Opcode    wire.Opcode
	Vbucket   uint16
	Opaque    uint32
	Key       []byte
	Path      string
	Value     []byte
	Flags     uint8
	ClientCAS uint64
}

// Response is the executor's verdict on a Request.
type Response struct {
	Status wire.Status
	CAS    uint64
	Value  []byte
}

// getItem loops on engine.ErrWouldBlock until the fetch completes or ctx
// is done, per spec.md §5's suspension-point (a).
func getItem(ctx context.Context, store engine.Engine, vbucket uint16, key []byte) (engine.Item, error) {
	for {
		item, pending, err := store.Get(ctx, vbucket, key)
		if errors.Is(err, engine.ErrWouldBlock) {
			select {
			case <-pending.Ready():
				continue
			case <-ctx.Done():
				return engine.Item{}, ctx.Err()
			}
		}
		return item, err
	}
}

// allocateItem is suspension point (b).
func allocateItem(ctx context.Context, store engine.Engine, vbucket uint16, key []byte, size int, datatype wire.Datatype) (engine.Item, error) {
	for {
		item, pending, err := store.Allocate(ctx, vbucket, key, size, datatype)
		if errors.Is(err, engine.ErrWouldBlock) {
			select {
			case <-pending.Ready():
				continue
			case <-ctx.Done():
				return engine.Item{}, ctx.Err()
			}
		}
		return item, err
	}
}

// storeItem is suspension point (c).
func storeItem(ctx context.Context, store engine.Engine, vbucket uint16, item engine.Item, op engine.StoreOp) (uint64, error) {
	for {
		cas, pending, err := store.Store(ctx, vbucket, item, op)
		if errors.Is(err, engine.ErrWouldBlock) {
			select {
			case <-pending.Ready():
				continue
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		return cas, err
	}
}

// concatFragments joins the engine's newdoc fragments into one buffer,
// per spec.md §4.3: "concatenated in order, form the new document".
func concatFragments(frags [][]byte) []byte {
	total := 0
	for _, f := range frags {
		total += len(f)
	}
	out := make([]byte, 0, total)
	for _, f := range frags {
		out = append(out, f...)
	}
	return out
}

// storeReplace implements spec.md §4.5 step 3: allocate a new item,
// stamp it with the input CAS, copy the mutated document in, and store
// it as a REPLACE.
func storeReplace(ctx context.Context, store engine.Engine, vbucket uint16, key []byte, observedCAS uint64, doc []byte) (uint64, error) {
	item, err := allocateItem(ctx, store, vbucket, key, len(doc), wire.DatatypeJSON)
	if err != nil {
		return 0, err
	}
	copy(item.Value, doc)
	item.Key = key
	item.CAS = observedCAS

	return storeItem(ctx, store, vbucket, item, engine.StoreReplace)
}

// ExecuteSinglePath runs the full state machine of spec.md §4.5 for one
// single-path sub-document command, including the bounded CAS
// auto-retry. A non-nil error means the connection must be closed
// (spec.md §7: "engine returns DISCONNECT"); any other failure is
// reported through Response.Status instead.
func ExecuteSinglePath(ctx context.Context, deps Deps, req Request) (Response, error) {
	t, ok := traits.Lookup(req.Opcode)
	if !ok {
		return Response{Status: wire.StatusUnknownCommand}, nil
	}

	autoRetry := req.ClientCAS == 0

	for attempt := 0; ; attempt++ {
		if attempt >= maxRetries {
			deps.Logger.Warn("subdocexec: auto-retry exhausted", "key", redactKey(req.Key), "opcode", req.Opcode.String())
			return Response{Status: wire.StatusTmpFailure}, nil
		}

		item, err := getItem(ctx, deps.Store, req.Vbucket, req.Key)
		if err != nil {
			switch {
			case errors.Is(err, engine.ErrNotFound):
				return Response{Status: wire.StatusKeyNotFound}, nil
			case errors.Is(err, engine.ErrDisconnect):
				return Response{}, engine.ErrDisconnect
			default:
				return Response{}, err
			}
		}

		resp, retry, err := executeOnFetchedItem(ctx, deps, req, t, item, autoRetry)
		deps.Store.Release(item)
		if err != nil {
			return Response{}, err
		}
		if retry {
			continue
		}
		return resp, nil
	}
}

func executeOnFetchedItem(ctx context.Context, deps Deps, req Request, t traits.Traits, item engine.Item, autoRetry bool) (Response, bool, error) {
	mat, err := docbuf.Materialize(docbuf.Item{
		CAS:      item.CAS,
		Datatype: item.Datatype,
		Value:    item.Value,
	}, req.ClientCAS, deps.Scratch, deps.Logger)
	if err != nil {
		switch {
		case errors.Is(err, docbuf.ErrCASMismatch):
			return Response{Status: wire.StatusKeyExists}, false, nil
		case errors.Is(err, docbuf.ErrNotJSON):
			return Response{Status: wire.StatusSubDocDocNotJSON}, false, nil
		case errors.Is(err, docbuf.ErrTooLarge):
			return Response{Status: wire.StatusValueTooBig}, false, nil
		default:
			deps.Logger.Warn("subdocexec: materialize failed", "error", err, "key", redactKey(req.Key))
			return Response{Status: wire.StatusInternalError}, false, nil
		}
	}

	result := deps.Ops.Apply(req.Opcode, req.Flags, mat.Doc, req.Path, req.Value)
	if result.Status != subdocop.Success {
		return Response{Status: mapOpStatus(result.Status)}, false, nil
	}

	if !t.IsMutator {
		deps.Stats.RecordGet(req.Key)
		var val []byte
		if t.ResponseHasValue {
			val = result.MatchLocation
		}
		return Response{Status: wire.StatusSuccess, CAS: mat.ObservedCAS, Value: val}, false, nil
	}

	newDoc := concatFragments(result.NewDoc)
	newCAS, err := storeReplace(ctx, deps.Store, req.Vbucket, req.Key, mat.ObservedCAS, newDoc)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrExists):
			if autoRetry {
				return Response{}, true, nil
			}
			return Response{Status: wire.StatusKeyExists}, false, nil
		case errors.Is(err, engine.ErrDisconnect):
			return Response{}, false, engine.ErrDisconnect
		default:
			deps.Logger.Warn("subdocexec: store failed", "error", err, "key", redactKey(req.Key))
			return Response{Status: wire.StatusInternalError}, false, nil
		}
	}

	deps.Stats.RecordSet(req.Key)
	var val []byte
	if t.ResponseHasValue {
		val = result.MatchLocation
	}
	return Response{Status: wire.StatusSuccess, CAS: newCAS, Value: val}, false, nil
}
