package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_RunningState(t *testing.T) {
	b := newTestBucket(t)
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0", DefaultBucket: b}, NewDispatcher(nil))

	assert.False(t, srv.Running())
	require.NoError(t, srv.Start())
	assert.True(t, srv.Running())

	srv.Stop()
	assert.False(t, srv.Running())
}

func TestServer_DoubleStart(t *testing.T) {
	b := newTestBucket(t)
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0", DefaultBucket: b}, NewDispatcher(nil))

	require.NoError(t, srv.Start())
	defer srv.Stop()

	err := srv.Start()
	assert.Error(t, err)
}

func TestServer_StopBeforeStartIsNoop(t *testing.T) {
	b := newTestBucket(t)
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0", DefaultBucket: b}, NewDispatcher(nil))

	assert.NotPanics(t, srv.Stop)
}

// TestServer_StopWaitsForInFlightConnection proves Stop does not return
// until an in-flight connection's goroutine has exited, even though that
// connection is parked on a slow client rather than mid-dispatch.
func TestServer_StopWaitsForInFlightConnection(t *testing.T) {
	b := newTestBucket(t)
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0", DefaultBucket: b}, NewDispatcher(nil))
	require.NoError(t, srv.Start())

	addr := srv.Addr()
	require.NotNil(t, addr)

	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond) // give the accept loop time to register the connection

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		srv.Stop()
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return once the accepted connection closed")
	}
}
