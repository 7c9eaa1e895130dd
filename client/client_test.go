package client

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yeqown/submemd/wire"
)

// fakeServer is a minimal in-process stand-in for the real dispatcher,
// just enough to exercise client.go/subdoc.go's wire encoding end to end
// without a network dependency on a real memcached-compatible process.
type fakeServer struct {
	mu    sync.Mutex
	store map[string][]byte
	cas   uint64

	ln net.Listener
}

func startFakeServer(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeServer{store: make(map[string][]byte), ln: ln}
	go s.serve()
	t.Cleanup(func() { _ = ln.Close() })

	return ln.Addr().String()
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()
	for {
		req, err := wire.ReadPacket(conn)
		if err != nil {
			return
		}

		resp := s.dispatch(req)
		if _, err = resp.WriteTo(conn); err != nil {
			return
		}
	}
}

func (s *fakeServer) dispatch(req *wire.Packet) *wire.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(req.Key)

	switch req.Header.Opcode {
	case wire.OpSet:
		s.cas++
		s.store[key] = append([]byte(nil), req.Value...)
		return wire.NewResponse(req.Header.Opcode, wire.StatusSuccess, req.Header.Opaque, s.cas, wire.DatatypeRaw, nil, nil, nil)
	case wire.OpGet:
		v, ok := s.store[key]
		if !ok {
			return wire.StatusOnly(req.Header.Opcode, wire.StatusKeyNotFound, req.Header.Opaque, 0)
		}
		return wire.NewResponse(req.Header.Opcode, wire.StatusSuccess, req.Header.Opaque, s.cas, wire.DatatypeRaw, nil, nil, v)
	case wire.OpDelete:
		if _, ok := s.store[key]; !ok {
			return wire.StatusOnly(req.Header.Opcode, wire.StatusKeyNotFound, req.Header.Opaque, 0)
		}
		delete(s.store, key)
		return wire.StatusOnly(req.Header.Opcode, wire.StatusSuccess, req.Header.Opaque, 0)
	case wire.OpSubDocGet:
		pathLen := int(req.Extras[0])<<8 | int(req.Extras[1])
		path := string(req.Value[:pathLen])
		doc, ok := s.store[key]
		if !ok {
			return wire.StatusOnly(req.Header.Opcode, wire.StatusKeyNotFound, req.Header.Opaque, 0)
		}

		var obj map[string]json.RawMessage
		if err := json.Unmarshal(doc, &obj); err != nil {
			return wire.StatusOnly(req.Header.Opcode, wire.StatusSubDocDocNotJSON, req.Header.Opaque, 0)
		}
		v, ok := obj[path]
		if !ok {
			return wire.StatusOnly(req.Header.Opcode, wire.StatusSubDocPathNotFound, req.Header.Opaque, 0)
		}
		return wire.NewResponse(req.Header.Opcode, wire.StatusSuccess, req.Header.Opaque, s.cas, wire.DatatypeRaw, nil, nil, []byte(v))
	default:
		return wire.StatusOnly(req.Header.Opcode, wire.StatusUnknownCommand, req.Header.Opaque, 0)
	}
}

func newTestClient(t *testing.T) Client {
	t.Helper()

	addr := startFakeServer(t)
	c, err := New(addr, WithDialTimeout(time.Second), WithReadTimeout(time.Second), WithWriteTimeout(time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_SetGetRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.Set(ctx, "k1", []byte(`{"a":1}`), 0)
	require.NoError(t, err)

	v, _, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(v))
}

func TestClient_GetMissingKey(t *testing.T) {
	c := newTestClient(t)
	_, _, err := c.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClient_GetIn(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.Set(ctx, "doc", []byte(`{"a":1,"b":2}`), 0)
	require.NoError(t, err)

	v, _, err := c.GetIn(ctx, "doc", "a")
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
}

func TestClient_GetIn_PathNotFound(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.Set(ctx, "doc", []byte(`{"a":1}`), 0)
	require.NoError(t, err)

	_, _, err = c.GetIn(ctx, "doc", "missing")
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, wire.StatusSubDocPathNotFound, se.Status)
}

func TestClient_ConcurrentDispatch(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.Set(ctx, "shared", []byte("v"), 0)
	require.NoError(t, err)

	wg := sync.WaitGroup{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _, err := c.Get(ctx, "shared")
				require.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}
