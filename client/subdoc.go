package client

import (
	"context"
	"encoding/binary"

	"github.com/yeqown/submemd/traits"
	"github.com/yeqown/submemd/wire"
)

// SubDocClient is the sub-document method set, grounded on gocbcore's
// agentops_subdoc.go.go (GetIn/ExistsIn/storeIn/CounterIn/RemoveIn/
// SubDocLookup/SubDocMutate), adapted from that file's async callback
// style to the blocking calls this module's client.go already uses.
type SubDocClient interface {
	GetIn(ctx context.Context, key, path string) (value []byte, cas uint64, err error)
	ExistsIn(ctx context.Context, key, path string) (cas uint64, err error)
	SetIn(ctx context.Context, key, path string, value []byte, mkdirP bool, cas uint64) (newCAS uint64, err error)
	AddIn(ctx context.Context, key, path string, value []byte, mkdirP bool, cas uint64) (newCAS uint64, err error)
	ReplaceIn(ctx context.Context, key, path string, value []byte, cas uint64) (newCAS uint64, err error)
	RemoveIn(ctx context.Context, key, path string, cas uint64) (newCAS uint64, err error)
	PushFrontIn(ctx context.Context, key, path string, value []byte, mkdirP bool, cas uint64) (newCAS uint64, err error)
	PushBackIn(ctx context.Context, key, path string, value []byte, mkdirP bool, cas uint64) (newCAS uint64, err error)
	ArrayInsertIn(ctx context.Context, key, path string, value []byte, cas uint64) (newCAS uint64, err error)
	AddUniqueIn(ctx context.Context, key, path string, value []byte, mkdirP bool, cas uint64) (newCAS uint64, err error)
	CounterIn(ctx context.Context, key, path string, delta int64, cas uint64) (result []byte, newCAS uint64, err error)
	LookupIn(ctx context.Context, key string, ops []SubDocOp) (results []SubDocResult, cas uint64, err error)
	MutateIn(ctx context.Context, key string, ops []SubDocOp, cas uint64) (results []SubDocResult, newCAS uint64, err error)
}

// singlePathExtras renders the pathlen(u16)|flags(u8) extras every
// single-path subdoc command carries. Expiry is not supported by this
// client's surface (spec.md's engine has no TTL concept) so extras are
// always the 3-byte form.
func singlePathExtras(path string, flags uint8) []byte {
	extras := make([]byte, 3)
	binary.BigEndian.PutUint16(extras[0:2], uint16(len(path)))
	extras[2] = flags
	return extras
}

func singlePathValue(path string, value []byte) []byte {
	buf := make([]byte, len(path)+len(value))
	copy(buf, path)
	copy(buf[len(path):], value)
	return buf
}

func mkdirPFlag(on bool) uint8 {
	if on {
		return traits.FlagMkdirP
	}
	return 0
}

func (c *client) singlePathLookup(ctx context.Context, opcode wire.Opcode, key, path string) (*wire.Packet, error) {
	req := wire.NewRequest(opcode, 0, 0, 0, singlePathExtras(path, 0), []byte(key), []byte(path))
	return c.dispatchRequest(ctx, req)
}

func (c *client) singlePathMutate(ctx context.Context, opcode wire.Opcode, key, path string, value []byte, flags uint8, cas uint64) (*wire.Packet, error) {
	req := wire.NewRequest(opcode, 0, 0, cas, singlePathExtras(path, flags), []byte(key), singlePathValue(path, value))
	return c.dispatchRequest(ctx, req)
}

func (c *client) GetIn(ctx context.Context, key, path string) ([]byte, uint64, error) {
	resp, err := c.singlePathLookup(ctx, wire.OpSubDocGet, key, path)
	if err != nil {
		return nil, 0, err
	}
	if err = statusToError(wire.Status(resp.Header.VbucketOrStatus)); err != nil {
		return nil, 0, err
	}
	return resp.Value, resp.Header.CAS, nil
}

func (c *client) ExistsIn(ctx context.Context, key, path string) (uint64, error) {
	resp, err := c.singlePathLookup(ctx, wire.OpSubDocExists, key, path)
	if err != nil {
		return 0, err
	}
	if err = statusToError(wire.Status(resp.Header.VbucketOrStatus)); err != nil {
		return 0, err
	}
	return resp.Header.CAS, nil
}

func (c *client) SetIn(ctx context.Context, key, path string, value []byte, mkdirP bool, cas uint64) (uint64, error) {
	resp, err := c.singlePathMutate(ctx, wire.OpSubDocDictSet, key, path, value, mkdirPFlag(mkdirP), cas)
	if err != nil {
		return 0, err
	}
	if err = statusToError(wire.Status(resp.Header.VbucketOrStatus)); err != nil {
		return 0, err
	}
	return resp.Header.CAS, nil
}

func (c *client) AddIn(ctx context.Context, key, path string, value []byte, mkdirP bool, cas uint64) (uint64, error) {
	resp, err := c.singlePathMutate(ctx, wire.OpSubDocDictAdd, key, path, value, mkdirPFlag(mkdirP), cas)
	if err != nil {
		return 0, err
	}
	if err = statusToError(wire.Status(resp.Header.VbucketOrStatus)); err != nil {
		return 0, err
	}
	return resp.Header.CAS, nil
}

func (c *client) ReplaceIn(ctx context.Context, key, path string, value []byte, cas uint64) (uint64, error) {
	resp, err := c.singlePathMutate(ctx, wire.OpSubDocReplace, key, path, value, 0, cas)
	if err != nil {
		return 0, err
	}
	if err = statusToError(wire.Status(resp.Header.VbucketOrStatus)); err != nil {
		return 0, err
	}
	return resp.Header.CAS, nil
}

func (c *client) RemoveIn(ctx context.Context, key, path string, cas uint64) (uint64, error) {
	req := wire.NewRequest(wire.OpSubDocDelete, 0, 0, cas, singlePathExtras(path, 0), []byte(key), []byte(path))
	resp, err := c.dispatchRequest(ctx, req)
	if err != nil {
		return 0, err
	}
	if err = statusToError(wire.Status(resp.Header.VbucketOrStatus)); err != nil {
		return 0, err
	}
	return resp.Header.CAS, nil
}

func (c *client) PushFrontIn(ctx context.Context, key, path string, value []byte, mkdirP bool, cas uint64) (uint64, error) {
	resp, err := c.singlePathMutate(ctx, wire.OpSubDocArrayPushFirst, key, path, value, mkdirPFlag(mkdirP), cas)
	if err != nil {
		return 0, err
	}
	if err = statusToError(wire.Status(resp.Header.VbucketOrStatus)); err != nil {
		return 0, err
	}
	return resp.Header.CAS, nil
}

func (c *client) PushBackIn(ctx context.Context, key, path string, value []byte, mkdirP bool, cas uint64) (uint64, error) {
	resp, err := c.singlePathMutate(ctx, wire.OpSubDocArrayPushLast, key, path, value, mkdirPFlag(mkdirP), cas)
	if err != nil {
		return 0, err
	}
	if err = statusToError(wire.Status(resp.Header.VbucketOrStatus)); err != nil {
		return 0, err
	}
	return resp.Header.CAS, nil
}

func (c *client) ArrayInsertIn(ctx context.Context, key, path string, value []byte, cas uint64) (uint64, error) {
	resp, err := c.singlePathMutate(ctx, wire.OpSubDocArrayInsert, key, path, value, 0, cas)
	if err != nil {
		return 0, err
	}
	if err = statusToError(wire.Status(resp.Header.VbucketOrStatus)); err != nil {
		return 0, err
	}
	return resp.Header.CAS, nil
}

func (c *client) AddUniqueIn(ctx context.Context, key, path string, value []byte, mkdirP bool, cas uint64) (uint64, error) {
	resp, err := c.singlePathMutate(ctx, wire.OpSubDocArrayAddUnique, key, path, value, mkdirPFlag(mkdirP), cas)
	if err != nil {
		return 0, err
	}
	if err = statusToError(wire.Status(resp.Header.VbucketOrStatus)); err != nil {
		return 0, err
	}
	return resp.Header.CAS, nil
}

func (c *client) CounterIn(ctx context.Context, key, path string, delta int64, cas uint64) ([]byte, uint64, error) {
	deltaStr := []byte(formatInt64(delta))
	resp, err := c.singlePathMutate(ctx, wire.OpSubDocCounter, key, path, deltaStr, 0, cas)
	if err != nil {
		return nil, 0, err
	}
	if err = statusToError(wire.Status(resp.Header.VbucketOrStatus)); err != nil {
		return nil, 0, err
	}
	return resp.Value, resp.Header.CAS, nil
}

func formatInt64(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// SubDocOp is one entry of a LookupIn/MutateIn request, mirroring
// gocbcore's SubDocOp.
type SubDocOp struct {
	Opcode wire.Opcode
	Flags  uint8
	Path   string
	Value  []byte
}

// SubDocResult is one entry of a LookupIn/MutateIn response.
type SubDocResult struct {
	Status wire.Status
	Value  []byte
	Err    error
}

func (c *client) LookupIn(ctx context.Context, key string, ops []SubDocOp) ([]SubDocResult, uint64, error) {
	specs := make([]wire.LookupSpec, len(ops))
	for i, op := range ops {
		specs[i] = wire.LookupSpec{Opcode: op.Opcode, Flags: op.Flags, Path: op.Path}
	}

	req := wire.NewRequest(wire.OpSubDocMultiLookup, 0, 0, 0, nil, []byte(key), wire.EncodeLookupSpecs(specs))
	resp, err := c.dispatchRequest(ctx, req)
	if err != nil {
		return nil, 0, err
	}

	status := wire.Status(resp.Header.VbucketOrStatus)
	if status != wire.StatusSuccess && status != wire.StatusSubDocMultiPathFailure {
		return nil, 0, statusToError(status)
	}

	raw, err := wire.DecodeLookupResults(resp.Value, len(ops))
	if err != nil {
		return nil, 0, err
	}

	results := make([]SubDocResult, len(raw))
	for i, r := range raw {
		results[i] = SubDocResult{Status: r.Status, Value: r.Value, Err: statusToError(r.Status)}
	}
	return results, resp.Header.CAS, nil
}

func (c *client) MutateIn(ctx context.Context, key string, ops []SubDocOp, cas uint64) ([]SubDocResult, uint64, error) {
	specs := make([]wire.MutationSpec, len(ops))
	for i, op := range ops {
		specs[i] = wire.MutationSpec{Opcode: op.Opcode, Flags: op.Flags, Path: op.Path, Value: op.Value}
	}

	req := wire.NewRequest(wire.OpSubDocMultiMutation, 0, 0, cas, nil, []byte(key), wire.EncodeMutationSpecs(specs))
	resp, err := c.dispatchRequest(ctx, req)
	if err != nil {
		return nil, 0, err
	}

	status := wire.Status(resp.Header.VbucketOrStatus)
	if status != wire.StatusSuccess {
		if status == wire.StatusSubDocMultiPathFailure && len(resp.Value) == 3 {
			failIndex := int(resp.Value[0])
			failStatus := wire.Status(binary.BigEndian.Uint16(resp.Value[1:3]))
			results := make([]SubDocResult, len(ops))
			results[failIndex] = SubDocResult{Status: failStatus, Err: statusToError(failStatus)}
			return results, 0, statusToError(failStatus)
		}
		return nil, 0, statusToError(status)
	}

	results := make([]SubDocResult, len(ops))
	pos := uint32(0)
	for pos < uint32(len(resp.Value)) {
		idx := resp.Value[pos]
		st := wire.Status(binary.BigEndian.Uint16(resp.Value[pos+1 : pos+3]))
		pos += 3
		r := SubDocResult{Status: st}
		if st == wire.StatusSuccess {
			vlen := binary.BigEndian.Uint32(resp.Value[pos : pos+4])
			r.Value = resp.Value[pos+4 : pos+4+vlen]
			pos += 4 + vlen
		} else {
			r.Err = statusToError(st)
		}
		results[idx] = r
	}

	return results, resp.Header.CAS, nil
}
