package server

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeqown/submemd/bucket"
	"github.com/yeqown/submemd/engine"
	"github.com/yeqown/submemd/engine/memengine"
	"github.com/yeqown/submemd/wire"
)

func newTestBucket(t *testing.T) *bucket.Bucket {
	t.Helper()
	registry := bucket.NewRegistry(1, func() engine.Engine { return memengine.New() })
	require.NoError(t, registry.Create("b"))
	b, err := registry.Select("b")
	require.NoError(t, err)
	return b
}

func setExtras(flags uint32) []byte {
	e := make([]byte, 8)
	binary.BigEndian.PutUint32(e[0:4], flags)
	return e
}

func TestDispatch_ValidationFailsBeforeTouchingEngine(t *testing.T) {
	d := NewDispatcher(nil)
	b := newTestBucket(t)

	// OpSet with the wrong extras length never even reaches the engine.
	req := wire.NewRequest(wire.OpSet, 0, 7, 0, []byte{1, 2, 3}, []byte("k"), []byte("v"))

	resp, err := d.Dispatch(context.Background(), b, nil, req)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusInvalidArgs, wire.Status(resp.Header.VbucketOrStatus))
	assert.Equal(t, uint32(7), resp.Header.Opaque)

	_, _, getErr := b.Engine.Get(context.Background(), 0, []byte("k"))
	assert.ErrorIs(t, getErr, engine.ErrNotFound)
}

func TestDispatch_SetThenGetRoundTrip(t *testing.T) {
	d := NewDispatcher(nil)
	b := newTestBucket(t)
	ctx := context.Background()

	setReq := wire.NewRequest(wire.OpSet, 0, 1, 0, setExtras(0), []byte("doc"), []byte(`{"a":1}`))
	resp, err := d.Dispatch(ctx, b, nil, setReq)
	require.NoError(t, err)
	require.Equal(t, wire.StatusSuccess, wire.Status(resp.Header.VbucketOrStatus))

	getReq := wire.NewRequest(wire.OpGet, 0, 2, 0, nil, []byte("doc"), nil)
	resp, err = d.Dispatch(ctx, b, nil, getReq)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusSuccess, wire.Status(resp.Header.VbucketOrStatus))
	assert.JSONEq(t, `{"a":1}`, string(resp.Value))
}

func TestDispatch_GetMissingKey(t *testing.T) {
	d := NewDispatcher(nil)
	b := newTestBucket(t)

	req := wire.NewRequest(wire.OpGet, 0, 0, 0, nil, []byte("nope"), nil)
	resp, err := d.Dispatch(context.Background(), b, nil, req)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusKeyNotFound, wire.Status(resp.Header.VbucketOrStatus))
}

func TestDispatch_AddRejectsExistingKey(t *testing.T) {
	d := NewDispatcher(nil)
	b := newTestBucket(t)
	ctx := context.Background()

	first := wire.NewRequest(wire.OpAdd, 0, 0, 0, setExtras(0), []byte("k"), []byte("1"))
	resp, err := d.Dispatch(ctx, b, nil, first)
	require.NoError(t, err)
	require.Equal(t, wire.StatusSuccess, wire.Status(resp.Header.VbucketOrStatus))

	second := wire.NewRequest(wire.OpAdd, 0, 0, 0, setExtras(0), []byte("k"), []byte("2"))
	resp, err = d.Dispatch(ctx, b, nil, second)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusKeyExists, wire.Status(resp.Header.VbucketOrStatus))
}

func counterExtras(delta, initial uint64, expiry uint32) []byte {
	e := make([]byte, 20)
	binary.BigEndian.PutUint64(e[0:8], delta)
	binary.BigEndian.PutUint64(e[8:16], initial)
	binary.BigEndian.PutUint32(e[16:20], expiry)
	return e
}

func TestDispatch_IncrementSeedsThenIncrements(t *testing.T) {
	d := NewDispatcher(nil)
	b := newTestBucket(t)
	ctx := context.Background()

	req := wire.NewRequest(wire.OpIncrement, 0, 0, 0, counterExtras(5, 10, 0), []byte("ctr"), nil)
	resp, err := d.Dispatch(ctx, b, nil, req)
	require.NoError(t, err)
	require.Equal(t, wire.StatusSuccess, wire.Status(resp.Header.VbucketOrStatus))
	assert.Equal(t, uint64(10), binary.BigEndian.Uint64(resp.Value))

	resp, err = d.Dispatch(ctx, b, nil, req)
	require.NoError(t, err)
	require.Equal(t, wire.StatusSuccess, wire.Status(resp.Header.VbucketOrStatus))
	assert.Equal(t, uint64(15), binary.BigEndian.Uint64(resp.Value))
}

func TestDispatch_VersionReplies(t *testing.T) {
	d := NewDispatcher(nil)
	b := newTestBucket(t)

	req := wire.NewRequest(wire.OpVersion, 0, 0, 0, nil, nil, nil)
	resp, err := d.Dispatch(context.Background(), b, nil, req)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusSuccess, wire.Status(resp.Header.VbucketOrStatus))
	assert.NotEmpty(t, resp.Value)
}

func TestDispatch_DrainingBucketBouncesWithTmpFailure(t *testing.T) {
	d := NewDispatcher(nil)
	registry := bucket.NewRegistry(1, func() engine.Engine { return memengine.New() })
	require.NoError(t, registry.Create("b"))
	b, err := registry.Select("b")
	require.NoError(t, err)

	require.True(t, b.Begin()) // hold one in-flight command open

	deleteDone := make(chan struct{})
	go func() {
		defer close(deleteDone)
		_ = registry.Delete("b")
	}()

	select {
	case <-deleteDone:
		t.Fatal("Delete returned before the in-flight command ended")
	case <-time.After(20 * time.Millisecond):
	}

	req := wire.NewRequest(wire.OpGet, 0, 0, 0, nil, []byte("k"), nil)
	resp, dispatchErr := d.Dispatch(context.Background(), b, nil, req)
	require.NoError(t, dispatchErr)
	assert.Equal(t, wire.StatusTmpFailure, wire.Status(resp.Header.VbucketOrStatus))

	b.End()

	select {
	case <-deleteDone:
	case <-time.After(time.Second):
		t.Fatal("Delete did not complete after the in-flight command ended")
	}
}
