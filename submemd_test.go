package submemd_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yeqown/submemd/bucket"
	"github.com/yeqown/submemd/client"
	"github.com/yeqown/submemd/engine"
	"github.com/yeqown/submemd/engine/memengine"
	"github.com/yeqown/submemd/server"
	"github.com/yeqown/submemd/wire"
)

// newTestServer wires a bucket registry, a Dispatcher and a Server
// together against a loopback listener, the same collaborators
// cmd/subdocd's main.go wires for a real process.
func newTestServer(t *testing.T) (addr string, stop func()) {
	t.Helper()

	registry := bucket.NewRegistry(1, func() engine.Engine { return memengine.New() })
	require.NoError(t, registry.Create("default"))
	bkt, err := registry.Select("default")
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	dispatcher := server.NewDispatcher(nil)
	srv := server.NewServer(server.Config{
		Listener:      ln,
		DefaultBucket: bkt,
	}, dispatcher)
	require.NoError(t, srv.Start())

	return ln.Addr().String(), srv.Stop
}

func newTestClient(t *testing.T, addr string) client.Client {
	t.Helper()

	c, err := client.New(addr,
		client.WithDialTimeout(time.Second),
		client.WithReadTimeout(2*time.Second),
		client.WithWriteTimeout(2*time.Second),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// TestEndToEnd_SetGetDelete covers the base opcodes against a real
// listener, dispatcher and in-memory engine. It is not spec.md §8 S1
// (the SUBDOC_GET scenario), which TestExecuteSinglePath_S1_Get covers.
func TestEndToEnd_SetGetDelete(t *testing.T) {
	addr, stop := newTestServer(t)
	defer stop()
	c := newTestClient(t, addr)
	ctx := context.Background()

	_, err := c.Set(ctx, "greeting", []byte(`{"hello":"world"}`), 0)
	require.NoError(t, err)

	v, _, err := c.Get(ctx, "greeting")
	require.NoError(t, err)
	require.JSONEq(t, `{"hello":"world"}`, string(v))

	err = c.Delete(ctx, "greeting", 0)
	require.NoError(t, err)

	_, _, err = c.Get(ctx, "greeting")
	require.ErrorIs(t, err, client.ErrNotFound)
}

// TestEndToEnd_SubDocSinglePath covers GetIn/SetIn/RemoveIn against a
// live document end to end. It is not one of spec.md §8's numbered
// scenarios itself: S2 (CAS auto-retry) is covered by
// subdocexec/executor_test.go's TestExecuteSinglePath_RetriesOnceOnCASBump,
// and S3 (SUBDOC_COUNTER) by subdocop/gjson_engine_test.go's counter
// cases at the operation-engine layer.
func TestEndToEnd_SubDocSinglePath(t *testing.T) {
	addr, stop := newTestServer(t)
	defer stop()
	c := newTestClient(t, addr)
	ctx := context.Background()

	_, err := c.Set(ctx, "doc", []byte(`{"a":1,"nested":{"b":2}}`), 0)
	require.NoError(t, err)

	v, _, err := c.GetIn(ctx, "doc", "nested.b")
	require.NoError(t, err)
	require.Equal(t, "2", string(v))

	_, err = c.SetIn(ctx, "doc", "nested.c", []byte("3"), false, 0)
	require.NoError(t, err)

	v, _, err = c.GetIn(ctx, "doc", "nested.c")
	require.NoError(t, err)
	require.Equal(t, "3", string(v))

	_, err = c.RemoveIn(ctx, "doc", "a", 0)
	require.NoError(t, err)

	_, _, err = c.GetIn(ctx, "doc", "a")
	var se *client.StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, wire.StatusSubDocPathNotFound, se.Status)
}

// TestEndToEnd_SubDocMkdirP covers the MKDIR_P flag creating
// intermediate path segments on SetIn. spec.md §8 S4 (compressed-JSON
// SUBDOC_EXISTS decompresses once) is covered instead by
// docbuf/materialize_test.go's TestMaterialize_CompressedJSONDecompresses
// and subdocexec/executor_test.go's
// TestExecuteSinglePath_CompressedJSONPromotedAfterMutation.
func TestEndToEnd_SubDocMkdirP(t *testing.T) {
	addr, stop := newTestServer(t)
	defer stop()
	c := newTestClient(t, addr)
	ctx := context.Background()

	_, err := c.Set(ctx, "doc", []byte(`{}`), 0)
	require.NoError(t, err)

	_, err = c.SetIn(ctx, "doc", "a.b.c", []byte(`"deep"`), true, 0)
	require.NoError(t, err)

	v, _, err := c.GetIn(ctx, "doc", "a.b.c")
	require.NoError(t, err)
	require.Equal(t, `"deep"`, string(v))
}

// TestEndToEnd_MultiLookup exercises SUBDOC_MULTI_LOOKUP, asserting a
// per-path success/failure mix rather than a single overall status
// (spec.md §8 S5).
func TestEndToEnd_MultiLookup(t *testing.T) {
	addr, stop := newTestServer(t)
	defer stop()
	c := newTestClient(t, addr)
	ctx := context.Background()

	_, err := c.Set(ctx, "doc", []byte(`{"a":1,"b":2}`), 0)
	require.NoError(t, err)

	results, _, err := c.LookupIn(ctx, "doc", []client.SubDocOp{
		{Opcode: wire.OpSubDocGet, Path: "a"},
		{Opcode: wire.OpSubDocGet, Path: "missing"},
		{Opcode: wire.OpSubDocGet, Path: "b"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, wire.StatusSuccess, results[0].Status)
	require.Equal(t, "1", string(results[0].Value))
	require.NotEqual(t, wire.StatusSuccess, results[1].Status)
	require.Equal(t, wire.StatusSuccess, results[2].Status)
	require.Equal(t, "2", string(results[2].Value))
}

// TestEndToEnd_MultiMutationAbortsOnFirstFailure: a multi-mutation that
// fails partway through leaves the document untouched and reports which
// spec failed. spec.md §8 S6 (delete a bucket while a connection is
// mid-read of a partial GET frame) is approximated instead by
// server/dispatcher_test.go's TestDispatch_DrainingBucketBouncesWithTmpFailure.
func TestEndToEnd_MultiMutationAbortsOnFirstFailure(t *testing.T) {
	addr, stop := newTestServer(t)
	defer stop()
	c := newTestClient(t, addr)
	ctx := context.Background()

	_, err := c.Set(ctx, "doc", []byte(`{"a":1}`), 0)
	require.NoError(t, err)

	_, _, err = c.MutateIn(ctx, "doc", []client.SubDocOp{
		{Opcode: wire.OpSubDocDictSet, Path: "a", Value: []byte("2")},
		{Opcode: wire.OpSubDocReplace, Path: "nope", Value: []byte("3")},
	}, 0)
	require.Error(t, err)

	v, _, err := c.GetIn(ctx, "doc", "a")
	require.NoError(t, err)
	require.Equal(t, "1", string(v), "first spec's mutation must not be visible once a later spec fails")
}

// TestEndToEnd_ConcurrentClients drives many concurrent connections
// against one bucket, checking the dispatcher's Begin/End bookkeeping
// never deadlocks or corrupts a read.
func TestEndToEnd_ConcurrentClients(t *testing.T) {
	addr, stop := newTestServer(t)
	defer stop()
	ctx := context.Background()

	seed := newTestClient(t, addr)
	_, err := seed.Set(ctx, "shared", []byte(`{"n":0}`), 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cc := newTestClient(t, addr)
			for j := 0; j < 25; j++ {
				_, _, err := cc.GetIn(ctx, "shared", "n")
				require.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}

// TestEndToEnd_UnknownOpcode asserts the dispatcher answers an
// unrecognized opcode without crashing the connection (spec.md §8
// property 1: validation precedes engine work).
func TestEndToEnd_UnknownOpcode(t *testing.T) {
	addr, stop := newTestServer(t)
	defer stop()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	req := wire.NewRequest(0x70, 0, 1, 0, nil, nil, nil)
	_, err = req.WriteTo(conn)
	require.NoError(t, err)

	resp, err := wire.ReadPacket(conn)
	require.NoError(t, err)
	require.Equal(t, wire.StatusInvalidArgs, wire.Status(resp.Header.VbucketOrStatus))
	require.Equal(t, uint32(1), resp.Header.Opaque)
}
