// Package conn wraps an accepted net.Conn for server/'s accept loop,
// adapted from the teacher's dial-out Conn wrapper in the same package:
// same bufio-backed raw-socket shape, but owning a connection-scoped
// docbuf.Buffer and bucket binding instead of a remote address to dial.
package conn

import (
	"bufio"
	"net"
	"sync"

	"github.com/yeqown/submemd/bucket"
	"github.com/yeqown/submemd/docbuf"
)

// ServerConn is one accepted client connection: a buffered socket plus
// the scratch buffer and bucket binding every dispatched command on
// this connection shares (spec.md §4.4: one Buffer per connection).
type ServerConn struct {
	raw    net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	Bucket  *bucket.Bucket
	Scratch *docbuf.Buffer

	closeOnce sync.Once
	closeErr  error
}

// NewServerConn wraps an already-accepted net.Conn and acquires its
// scratch buffer from the docbuf pool, bounded to maxDocSize.
func NewServerConn(raw net.Conn, b *bucket.Bucket, maxDocSize int) *ServerConn {
	return &ServerConn{
		raw:     raw,
		reader:  bufio.NewReader(raw),
		writer:  bufio.NewWriter(raw),
		Bucket:  b,
		Scratch: docbuf.Acquire(maxDocSize),
	}
}

// Reader exposes the buffered reader wire.ReadPacket decodes from.
func (c *ServerConn) Reader() *bufio.Reader { return c.reader }

// Flush pushes any buffered writes to the socket.
func (c *ServerConn) Flush() error { return c.writer.Flush() }

// Write implements io.Writer against the buffered writer, so
// (*wire.Packet).WriteTo can target a ServerConn directly.
func (c *ServerConn) Write(p []byte) (int, error) { return c.writer.Write(p) }

// Close releases the scratch buffer back to the pool and closes the
// underlying socket exactly once, safe to call concurrently from both
// handleConn's defer and Server.Stop's shutdown sweep.
func (c *ServerConn) Close() error {
	c.closeOnce.Do(func() {
		docbuf.Release(c.Scratch)
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}
