package docbuf

import (
	"log/slog"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/yeqown/submemd/wire"
)

// Item is the minimal view of a fetched storage item this package needs;
// package engine's Item satisfies it.
type Item struct {
	CAS      uint64
	Datatype wire.Datatype
	Value    []byte
}

// Result is the flat, uncompressed JSON buffer obtained from an item,
// plus the CAS observed at fetch time (spec.md §4.4: "materialization
// records the observed CAS into the command context").
type Result struct {
	Doc        []byte
	ObservedCAS uint64
}

// ErrNotJSON signals datatype RAW or COMPRESSED without the JSON bit —
// maps to wire.StatusSubDocDocNotJSON at the caller.
var ErrNotJSON = errors.New("docbuf: item is not JSON")

// ErrInternal signals an unknown datatype or a decompression failure —
// maps to wire.StatusInternalError at the caller.
var ErrInternal = errors.New("docbuf: internal materialization failure")

// ErrCASMismatch signals the client supplied a non-zero CAS that does
// not match the fetched item — maps to wire.StatusKeyExists.
var ErrCASMismatch = errors.New("docbuf: cas mismatch")

// Materialize implements spec.md §4.4 exactly: if clientCAS is non-zero
// and differs from item.CAS, fail fast with ErrCASMismatch before
// touching the datatype at all. Otherwise branch on datatype: JSON is
// returned as-is (zero copy), COMPRESSED_JSON is decompressed into scratch,
// anything else is rejected.
func Materialize(item Item, clientCAS uint64, scratch *Buffer, logger *slog.Logger) (Result, error) {
	if clientCAS != 0 && clientCAS != item.CAS {
		return Result{}, ErrCASMismatch
	}

	switch {
	case item.Datatype == wire.DatatypeJSON:
		return Result{Doc: item.Value, ObservedCAS: item.CAS}, nil

	case item.Datatype == wire.DatatypeCompressedJSON:
		n, err := snappy.DecodedLen(item.Value)
		if err != nil {
			logger.Warn("docbuf: cannot determine decoded length", "error", err)
			return Result{}, ErrInternal
		}

		dst, err := scratch.Grow(n)
		if err != nil {
			return Result{}, errors.Wrap(err, "grow scratch buffer")
		}

		decoded, err := snappy.Decode(dst, item.Value)
		if err != nil {
			logger.Warn("docbuf: snappy decode failed", "error", err)
			return Result{}, ErrInternal
		}
		return Result{Doc: decoded, ObservedCAS: item.CAS}, nil

	case item.Datatype == wire.DatatypeRaw || item.Datatype == wire.DatatypeCompressed:
		return Result{}, ErrNotJSON

	default:
		logger.Warn("docbuf: unknown datatype byte", "datatype", uint8(item.Datatype))
		return Result{}, ErrInternal
	}
}
