// Package server ties the wire codec, request validator, bucket
// registry and sub-document executor into a runnable request/response
// loop, mirroring the teacher's client-side request/response plumbing
// (client/client.go's dispatchRequest/sendPacket/recvPacket pairing)
// on the server side of the same wire format.
package server

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/yeqown/submemd/bucket"
	"github.com/yeqown/submemd/docbuf"
	"github.com/yeqown/submemd/engine"
	"github.com/yeqown/submemd/subdocexec"
	"github.com/yeqown/submemd/subdocop"
	"github.com/yeqown/submemd/validate"
	"github.com/yeqown/submemd/wire"
)

// maxCounterRetries bounds the CAS-guarded counter replace loop, the
// same shape as subdocexec's own auto-retry bound.
const maxCounterRetries = 100

// Dispatcher handles one validated request packet against a single
// bucket. One Dispatcher is shared by every connection; it carries no
// per-connection state (the connection owns its own docbuf.Buffer).
type Dispatcher struct {
	Ops    subdocop.Engine
	Limits validate.Limits
	Logger *slog.Logger
}

// NewDispatcher returns a Dispatcher wired to the gjson/sjson-backed
// sub-document engine and spec.md's default limits.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Ops:    subdocop.GJSONEngine{},
		Limits: validate.DefaultLimits,
		Logger: logger,
	}
}

// Dispatch validates req and executes it against b, using scratch as
// the connection-owned materialization buffer (spec.md §4.4: one
// Buffer per connection). The returned packet is always non-nil unless
// err is non-nil, in which case the connection must be torn down
// (spec.md §7: "engine returns DISCONNECT").
func (d *Dispatcher) Dispatch(ctx context.Context, b *bucket.Bucket, scratch *docbuf.Buffer, req *wire.Packet) (*wire.Packet, error) {
	if err := validate.Request(req, d.Limits); err != nil {
		return wire.StatusOnly(req.Header.Opcode, statusOf(err), req.Header.Opaque, 0), nil
	}

	if !b.Begin() {
		// Bucket is draining (spec.md §4.7): a connection parked here must
		// not stall deletion, so it is bounced with a retryable status
		// instead of being queued.
		return wire.StatusOnly(req.Header.Opcode, wire.StatusTmpFailure, req.Header.Opaque, 0), nil
	}
	defer b.End()

	switch req.Header.Opcode {
	case wire.OpGet:
		return d.dispatchGet(ctx, b, req)
	case wire.OpSet, wire.OpAdd, wire.OpReplace:
		return d.dispatchStore(ctx, b, req)
	case wire.OpDelete:
		return d.dispatchDelete(ctx, b, req)
	case wire.OpIncrement, wire.OpDecrement:
		return d.dispatchCounter(ctx, b, req)
	case wire.OpVersion:
		return wire.NewResponse(req.Header.Opcode, wire.StatusSuccess, req.Header.Opaque, 0, wire.DatatypeRaw, nil, nil, []byte("submemd")), nil
	default:
		if req.Header.Opcode.IsSubDoc() {
			deps := subdocexec.Deps{
				Store:   b.Engine,
				Ops:     d.Ops,
				Scratch: scratch,
				Stats:   b.Stats,
				Logger:  d.Logger,
			}
			return d.dispatchSubDoc(ctx, deps, req)
		}
		return wire.StatusOnly(req.Header.Opcode, wire.StatusUnknownCommand, req.Header.Opaque, 0), nil
	}
}

// statusOf recovers the wire.Status a validate.Error carries; every
// other error (there are none today, since validate.Request/SinglePath/
// MultiLookup/MultiMutation only ever return *validate.Error) falls
// back to EINVAL.
func statusOf(err error) wire.Status {
	var verr *validate.Error
	if errors.As(err, &verr) {
		return verr.Status
	}
	return wire.StatusInvalidArgs
}

// getItem loops on engine.ErrWouldBlock the same way subdocexec's
// unexported helper of the same name does, for the base (non-subdoc)
// opcodes this package dispatches directly.
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

func (d *Dispatcher) dispatchGet(ctx context.Context, b *bucket.Bucket, req *wire.Packet) (*wire.Packet, error) {
	item, err := getItem(ctx, b.Engine, req.Header.VbucketOrStatus, req.Key)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrNotFound):
			return wire.StatusOnly(req.Header.Opcode, wire.StatusKeyNotFound, req.Header.Opaque, 0), nil
		case errors.Is(err, engine.ErrDisconnect):
			return nil, engine.ErrDisconnect
		default:
			return nil, err
		}
	}
	defer b.Engine.Release(item)

	b.Stats.RecordGet(req.Key)

	extras := make([]byte, 4)
	binary.BigEndian.PutUint32(extras, item.Flags)
	return wire.NewResponse(req.Header.Opcode, wire.StatusSuccess, req.Header.Opaque, item.CAS, item.Datatype, extras, nil, item.Value), nil
}

// storeDatatype guesses the stored datatype for a SET/ADD/REPLACE body
// the way a real front door would via the client's declared datatype;
// this wire format only ever sends DatatypeRaw requests (validate.go
// enforces it), so the server itself classifies the body as JSON or
// raw bytes, which is what lets a later SUBDOC_* command on the same
// key find a JSON document to operate on.
func storeDatatype(value []byte) wire.Datatype {
	if json.Valid(value) {
		return wire.DatatypeJSON
	}
	return wire.DatatypeRaw
}

func (d *Dispatcher) dispatchStore(ctx context.Context, b *bucket.Bucket, req *wire.Packet) (*wire.Packet, error) {
	if len(req.Extras) != 8 {
		return wire.StatusOnly(req.Header.Opcode, wire.StatusInvalidArgs, req.Header.Opaque, 0), nil
	}
	flags := binary.BigEndian.Uint32(req.Extras[0:4])

	item, err := allocateItem(ctx, b.Engine, req.Header.VbucketOrStatus, req.Key, len(req.Value), storeDatatype(req.Value))
	if err != nil {
		return nil, err
	}
	copy(item.Value, req.Value)
	item.Key = req.Key
	item.Flags = flags
	item.CAS = req.Header.CAS

	op := engine.StoreSet
	switch req.Header.Opcode {
	case wire.OpAdd:
		op = engine.StoreAdd
	case wire.OpReplace:
		op = engine.StoreReplace
	}

	newCAS, err := storeItem(ctx, b.Engine, req.Header.VbucketOrStatus, item, op)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrExists):
			return wire.StatusOnly(req.Header.Opcode, wire.StatusKeyExists, req.Header.Opaque, 0), nil
		case errors.Is(err, engine.ErrNotFound):
			return wire.StatusOnly(req.Header.Opcode, wire.StatusItemNotStored, req.Header.Opaque, 0), nil
		case errors.Is(err, engine.ErrDisconnect):
			return nil, engine.ErrDisconnect
		default:
			d.Logger.Warn("server: store failed", "error", err, "key", redactKey(req.Key))
			return wire.StatusOnly(req.Header.Opcode, wire.StatusInternalError, req.Header.Opaque, 0), nil
		}
	}

	b.Stats.RecordSet(req.Key)
	return wire.StatusOnly(req.Header.Opcode, wire.StatusSuccess, req.Header.Opaque, newCAS), nil
}

func (d *Dispatcher) dispatchDelete(ctx context.Context, b *bucket.Bucket, req *wire.Packet) (*wire.Packet, error) {
	err := b.Engine.Delete(ctx, req.Header.VbucketOrStatus, req.Key, req.Header.CAS)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrNotFound):
			return wire.StatusOnly(req.Header.Opcode, wire.StatusKeyNotFound, req.Header.Opaque, 0), nil
		case errors.Is(err, engine.ErrExists):
			return wire.StatusOnly(req.Header.Opcode, wire.StatusKeyExists, req.Header.Opaque, 0), nil
		default:
			return nil, err
		}
	}

	b.Stats.RecordSet(req.Key)
	return wire.StatusOnly(req.Header.Opcode, wire.StatusSuccess, req.Header.Opaque, 0), nil
}

// dispatchCounter implements the base INCREMENT/DECREMENT opcodes:
// extras are delta(u64) | initial(u64) | expiry(u32). A missing key is
// seeded with initial unless expiry is the sentinel 0xffffffff ("fail
// instead of create"), matching the base memcached binary protocol
// this module's wire opcode set borrows the constant from.
func (d *Dispatcher) dispatchCounter(ctx context.Context, b *bucket.Bucket, req *wire.Packet) (*wire.Packet, error) {
	if len(req.Extras) != 20 {
		return wire.StatusOnly(req.Header.Opcode, wire.StatusInvalidArgs, req.Header.Opaque, 0), nil
	}
	delta := binary.BigEndian.Uint64(req.Extras[0:8])
	initial := binary.BigEndian.Uint64(req.Extras[8:16])
	expiry := binary.BigEndian.Uint32(req.Extras[16:20])

	for attempt := 0; ; attempt++ {
		if attempt >= maxCounterRetries {
			return wire.StatusOnly(req.Header.Opcode, wire.StatusTmpFailure, req.Header.Opaque, 0), nil
		}

		item, err := getItem(ctx, b.Engine, req.Header.VbucketOrStatus, req.Key)
		if errors.Is(err, engine.ErrNotFound) {
			if expiry == 0xffffffff {
				return wire.StatusOnly(req.Header.Opcode, wire.StatusKeyNotFound, req.Header.Opaque, 0), nil
			}
			resp, retry, serr := d.storeCounterResult(ctx, b, req, initial, 0, engine.StoreAdd)
			if serr != nil {
				return nil, serr
			}
			if retry {
				continue
			}
			return resp, nil
		}
		if err != nil {
			if errors.Is(err, engine.ErrDisconnect) {
				return nil, engine.ErrDisconnect
			}
			return nil, err
		}

		cur, perr := strconv.ParseUint(strings.TrimSpace(string(item.Value)), 10, 64)
		observedCAS := item.CAS
		b.Engine.Release(item)
		if perr != nil {
			return wire.StatusOnly(req.Header.Opcode, wire.StatusNonNumericValue, req.Header.Opaque, 0), nil
		}

		next := cur + delta
		if req.Header.Opcode == wire.OpDecrement {
			if delta > cur {
				next = 0
			} else {
				next = cur - delta
			}
		}

		resp, retry, serr := d.storeCounterResult(ctx, b, req, next, observedCAS, engine.StoreReplace)
		if serr != nil {
			return nil, serr
		}
		if retry {
			continue
		}
		return resp, nil
	}
}

func (d *Dispatcher) storeCounterResult(ctx context.Context, b *bucket.Bucket, req *wire.Packet, value uint64, observedCAS uint64, op engine.StoreOp) (resp *wire.Packet, retry bool, err error) {
	text := strconv.FormatUint(value, 10)
	item, err := allocateItem(ctx, b.Engine, req.Header.VbucketOrStatus, req.Key, len(text), wire.DatatypeRaw)
	if err != nil {
		return nil, false, err
	}
	copy(item.Value, text)
	item.Key = req.Key
	item.CAS = observedCAS

	newCAS, err := storeItem(ctx, b.Engine, req.Header.VbucketOrStatus, item, op)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrExists):
			return nil, true, nil
		case errors.Is(err, engine.ErrDisconnect):
			return nil, false, engine.ErrDisconnect
		default:
			d.Logger.Warn("server: counter store failed", "error", err, "key", redactKey(req.Key))
			return wire.StatusOnly(req.Header.Opcode, wire.StatusInternalError, req.Header.Opaque, 0), false, nil
		}
	}

	b.Stats.RecordSet(req.Key)
	respVal := make([]byte, 8)
	binary.BigEndian.PutUint64(respVal, value)
	return wire.NewResponse(req.Header.Opcode, wire.StatusSuccess, req.Header.Opaque, newCAS, wire.DatatypeRaw, nil, nil, respVal), false, nil
}

func (d *Dispatcher) dispatchSubDoc(ctx context.Context, deps subdocexec.Deps, req *wire.Packet) (*wire.Packet, error) {
	switch req.Header.Opcode {
	case wire.OpSubDocMultiLookup:
		return d.dispatchMultiLookup(ctx, deps, req)
	case wire.OpSubDocMultiMutation:
		return d.dispatchMultiMutation(ctx, deps, req)
	default:
		return d.dispatchSubDocSingle(ctx, deps, req)
	}
}

func (d *Dispatcher) dispatchSubDocSingle(ctx context.Context, deps subdocexec.Deps, req *wire.Packet) (*wire.Packet, error) {
	path, value, err := validate.SinglePath(req, d.Limits)
	if err != nil {
		return wire.StatusOnly(req.Header.Opcode, statusOf(err), req.Header.Opaque, 0), nil
	}

	resp, err := subdocexec.ExecuteSinglePath(ctx, deps, subdocexec.Request{
		Opcode:    req.Header.Opcode,
		Vbucket:   req.Header.VbucketOrStatus,
		Opaque:    req.Header.Opaque,
		Key:       req.Key,
		Path:      path,
		Value:     value,
		Flags:     req.Extras[2],
		ClientCAS: req.Header.CAS,
	})
	if err != nil {
		return nil, err
	}

	return wire.NewResponse(req.Header.Opcode, resp.Status, req.Header.Opaque, resp.CAS, wire.DatatypeRaw, nil, nil, resp.Value), nil
}

func (d *Dispatcher) dispatchMultiLookup(ctx context.Context, deps subdocexec.Deps, req *wire.Packet) (*wire.Packet, error) {
	specs, err := validate.MultiLookup(req, d.Limits)
	if err != nil {
		return wire.StatusOnly(req.Header.Opcode, statusOf(err), req.Header.Opaque, 0), nil
	}

	status, results, err := subdocexec.ExecuteMultiLookup(ctx, deps, subdocexec.MultiLookupRequest{
		Vbucket:   req.Header.VbucketOrStatus,
		Key:       req.Key,
		ClientCAS: req.Header.CAS,
		Specs:     specs,
	})
	if err != nil {
		return nil, err
	}

	body := wire.EncodeLookupResults(results)
	return wire.NewResponse(req.Header.Opcode, status, req.Header.Opaque, 0, wire.DatatypeRaw, nil, nil, body), nil
}

func (d *Dispatcher) dispatchMultiMutation(ctx context.Context, deps subdocexec.Deps, req *wire.Packet) (*wire.Packet, error) {
	specs, err := validate.MultiMutation(req, d.Limits)
	if err != nil {
		return wire.StatusOnly(req.Header.Opcode, statusOf(err), req.Header.Opaque, 0), nil
	}

	resp, err := subdocexec.ExecuteMultiMutation(ctx, deps, subdocexec.MultiMutationRequest{
		Vbucket:   req.Header.VbucketOrStatus,
		Key:       req.Key,
		ClientCAS: req.Header.CAS,
		Specs:     specs,
	})
	if err != nil {
		return nil, err
	}

	if resp.Status == wire.StatusSubDocMultiPathFailure {
		body := make([]byte, 3)
		body[0] = resp.FailIndex
		binary.BigEndian.PutUint16(body[1:3], uint16(resp.FailStatus))
		return wire.NewResponse(req.Header.Opcode, resp.Status, req.Header.Opaque, 0, wire.DatatypeRaw, nil, nil, body), nil
	}

	return wire.StatusOnly(req.Header.Opcode, resp.Status, req.Header.Opaque, resp.CAS), nil
}

func redactKey(key []byte) string {
	return "<key redacted, " + strconv.Itoa(len(key)) + " bytes>"
}
