package subdocexec

import (
	"context"

	"github.com/pkg/errors"

	"github.com/yeqown/submemd/docbuf"
	"github.com/yeqown/submemd/engine"
	"github.com/yeqown/submemd/traits"
	"github.com/yeqown/submemd/wire"
)

// MultiLookupRequest is an already-validated SUBDOC_MULTI_LOOKUP.
type MultiLookupRequest struct {
	Vbucket   uint16
	Key       []byte
	ClientCAS uint64
	Specs     []wire.LookupSpec
}

// ExecuteMultiLookup implements spec.md §4.6's multi-lookup variant: all
// specs are attempted regardless of individual failures, and the overall
// status is SUBDOC_MULTI_PATH_FAILURE iff any spec failed. Lookups never
// mutate, so there is no CAS retry loop (spec.md §8 property 6:
// "idempotence of lookups").
func ExecuteMultiLookup(ctx context.Context, deps Deps, req MultiLookupRequest) (wire.Status, []wire.LookupResult, error) {
	item, err := getItem(ctx, deps.Store, req.Vbucket, req.Key)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrNotFound):
			return wire.StatusKeyNotFound, nil, nil
		case errors.Is(err, engine.ErrDisconnect):
			return 0, nil, engine.ErrDisconnect
		default:
			return 0, nil, err
		}
	}
	defer deps.Store.Release(item)

	mat, err := docbuf.Materialize(docbuf.Item{
		CAS:      item.CAS,
		Datatype: item.Datatype,
		Value:    item.Value,
	}, req.ClientCAS, deps.Scratch, deps.Logger)
	if err != nil {
		switch {
		case errors.Is(err, docbuf.ErrCASMismatch):
			return wire.StatusKeyExists, nil, nil
		case errors.Is(err, docbuf.ErrNotJSON):
			return wire.StatusSubDocDocNotJSON, nil, nil
		case errors.Is(err, docbuf.ErrTooLarge):
			return wire.StatusValueTooBig, nil, nil
		default:
			deps.Logger.Warn("subdocexec: multi-lookup materialize failed", "error", err, "key", redactKey(req.Key))
			return wire.StatusInternalError, nil, nil
		}
	}

	results := make([]wire.LookupResult, len(req.Specs))
	anyFailure := false
	for i, spec := range req.Specs {
		t, _ := traits.Lookup(spec.Opcode)
		r := deps.Ops.Apply(spec.Opcode, spec.Flags, mat.Doc, spec.Path, nil)
		status := mapOpStatus(r.Status)
		if status != wire.StatusSuccess {
			anyFailure = true
		}

		var val []byte
		if status == wire.StatusSuccess && t.ResponseHasValue {
			val = r.MatchLocation
		}
		results[i] = wire.LookupResult{Status: status, Value: val}
	}

	deps.Stats.RecordGet(req.Key)

	overall := wire.StatusSuccess
	if anyFailure {
		overall = wire.StatusSubDocMultiPathFailure
	}
	return overall, results, nil
}

// MultiMutationRequest is an already-validated SUBDOC_MULTI_MUTATION.
type MultiMutationRequest struct {
	Vbucket   uint16
	Key       []byte
	ClientCAS uint64
	Specs     []wire.MutationSpec
}

// MultiMutationResponse is the coordinator's verdict.
type MultiMutationResponse struct {
	Status     wire.Status
	CAS        uint64
	FailIndex  uint8
	FailStatus wire.Status
}

// ExecuteMultiMutation implements spec.md §4.6's multi-mutation variant:
// specs apply sequentially against an evolving in-memory document; the
// first failure aborts the whole operation with no write. On an
// all-succeed run the final document is written back as one REPLACE
// under the input CAS, with the same bounded auto-retry as §4.5.
func ExecuteMultiMutation(ctx context.Context, deps Deps, req MultiMutationRequest) (MultiMutationResponse, error) {
	autoRetry := req.ClientCAS == 0

	for attempt := 0; ; attempt++ {
		if attempt >= maxRetries {
			deps.Logger.Warn("subdocexec: multi-mutation auto-retry exhausted", "key", redactKey(req.Key))
			return MultiMutationResponse{Status: wire.StatusTmpFailure}, nil
		}

		item, err := getItem(ctx, deps.Store, req.Vbucket, req.Key)
		if err != nil {
			switch {
			case errors.Is(err, engine.ErrNotFound):
				return MultiMutationResponse{Status: wire.StatusKeyNotFound}, nil
			case errors.Is(err, engine.ErrDisconnect):
				return MultiMutationResponse{}, engine.ErrDisconnect
			default:
				return MultiMutationResponse{}, err
			}
		}

		resp, retry, err := attemptMultiMutation(ctx, deps, req, item, autoRetry)
		deps.Store.Release(item)
		if err != nil {
			return MultiMutationResponse{}, err
		}
		if retry {
			continue
		}
		return resp, nil
	}
}

func attemptMultiMutation(ctx context.Context, deps Deps, req MultiMutationRequest, item engine.Item, autoRetry bool) (MultiMutationResponse, bool, error) {
	mat, err := docbuf.Materialize(docbuf.Item{
		CAS:      item.CAS,
		Datatype: item.Datatype,
		Value:    item.Value,
	}, req.ClientCAS, deps.Scratch, deps.Logger)
	if err != nil {
		switch {
		case errors.Is(err, docbuf.ErrCASMismatch):
			return MultiMutationResponse{Status: wire.StatusKeyExists}, false, nil
		case errors.Is(err, docbuf.ErrNotJSON):
			return MultiMutationResponse{Status: wire.StatusSubDocDocNotJSON}, false, nil
		case errors.Is(err, docbuf.ErrTooLarge):
			return MultiMutationResponse{Status: wire.StatusValueTooBig}, false, nil
		default:
			deps.Logger.Warn("subdocexec: multi-mutation materialize failed", "error", err, "key", redactKey(req.Key))
			return MultiMutationResponse{Status: wire.StatusInternalError}, false, nil
		}
	}

	doc := mat.Doc
	for i, spec := range req.Specs {
		r := deps.Ops.Apply(spec.Opcode, spec.Flags, doc, spec.Path, spec.Value)
		status := mapOpStatus(r.Status)
		if status != wire.StatusSuccess {
			return MultiMutationResponse{
				Status:     wire.StatusSubDocMultiPathFailure,
				FailIndex:  uint8(i),
				FailStatus: status,
			}, false, nil
		}
		doc = concatFragments(r.NewDoc)
	}

	newCAS, err := storeReplace(ctx, deps.Store, req.Vbucket, req.Key, mat.ObservedCAS, doc)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrExists):
			if autoRetry {
				return MultiMutationResponse{}, true, nil
			}
			return MultiMutationResponse{Status: wire.StatusKeyExists}, false, nil
		case errors.Is(err, engine.ErrDisconnect):
			return MultiMutationResponse{}, false, engine.ErrDisconnect
		default:
			deps.Logger.Warn("subdocexec: multi-mutation store failed", "error", err, "key", redactKey(req.Key))
			return MultiMutationResponse{Status: wire.StatusInternalError}, false, nil
		}
	}

	deps.Stats.RecordSet(req.Key)
	return MultiMutationResponse{Status: wire.StatusSuccess, CAS: newCAS}, false, nil
}
