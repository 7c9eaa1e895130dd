// Package docbuf implements spec.md §4.4, the document materializer (C3):
// turning a fetched item's raw bytes into a flat, uncompressed JSON
// buffer, honoring the item's datatype flag.
package docbuf

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrTooLarge is returned by Buffer.Grow when growing would exceed the
// buffer's configured ceiling (spec.md §4.4: "if the connection cannot
// grow its buffer, fail E2BIG").
var ErrTooLarge = errors.New("docbuf: buffer exceeds connection limit")

// Buffer is a connection-scoped, reusable scratch area for decompressed
// or otherwise materialized document bytes. One Buffer lives for the
// lifetime of a connection: it is taken from the shared pool below
// (mirroring the teacher's sync.Pool-backed bufferPool in
// protocol_builder.go) when the connection opens and returned only when
// it closes, never mid-command, because the decompressed view backs
// match_location slices returned to the executor.
type Buffer struct {
	buf []byte
	max int
}

// NewBuffer returns a Buffer that refuses to grow past max bytes.
func NewBuffer(max int) *Buffer {
	return &Buffer{max: max}
}

// Grow ensures the buffer has room for n bytes and returns a slice of
// exactly that length, reusing the backing array when possible.
func (b *Buffer) Grow(n int) ([]byte, error) {
	if n > b.max {
		return nil, ErrTooLarge
	}
	if cap(b.buf) < n {
		b.buf = make([]byte, n, n*2)
	} else {
		b.buf = b.buf[:n]
	}
	return b.buf, nil
}

// Reset releases the buffer's backing array reference semantics by
// zeroing its length; the next Grow call reuses the capacity.
func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
}

// pool recycles Buffer instances across connections that churn quickly
// (short-lived test connections, pooled server workers), grounded on the
// teacher's bufferPool in protocol_builder.go.
var pool = sync.Pool{
	New: func() interface{} { return &Buffer{} },
}

// Acquire pulls a Buffer from the shared pool, (re)configuring its
// ceiling to max.
func Acquire(max int) *Buffer {
	b := pool.Get().(*Buffer)
	b.max = max
	b.Reset()
	return b
}

// Release returns b to the shared pool. Callers must not use b
// afterward.
func Release(b *Buffer) {
	pool.Put(b)
}
