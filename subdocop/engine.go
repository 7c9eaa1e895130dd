// Package subdocop is the concrete stand-in for spec.md's C4, "the
// sub-document operation engine (abstract)". The spec marks C4 external
// to this module's size budget, but no repo in the retrieval pack
// implements JSON-path mutation, so this package adapts
// github.com/tidwall/gjson and github.com/tidwall/sjson behind the same
// narrow contract spec.md §4.3 describes — a caller could swap this
// package for another Engine without touching subdocexec.
package subdocop

import "github.com/yeqown/submemd/wire"

// Status is C4's own result enum, distinct from wire.Status: subdocexec
// (C5/C6) is the only thing that maps one to the other, per spec.md
// §4.5's "single table translating engine error codes... to the
// protocol status enum".
type Status int

const (
	Success Status = iota
	PathNotFound
	PathMismatch
	DocTooDeep
	PathInvalid
	DocExists
	PathTooBig
	NumTooBig
	DeltaTooBig
	ValueCantInsert
	ValueTooDeep
)

// Result is C4's output for one applied operation.
type Result struct {
	Status Status

	// MatchLocation holds the located bytes for a read op (GET, COUNTER's
	// new value).
	MatchLocation []byte

	// NewDoc holds the fragments that, concatenated, form the new
	// document for a mutator op. This adapter always returns exactly one
	// fragment (sjson produces a whole new document rather than a
	// fragment list), but the field stays a slice so subdocexec's
	// fragment-concatenation step is identical regardless of which
	// engine produced it.
	NewDoc [][]byte
}

// Engine is the contract spec.md §4.3 describes: apply one path
// operation to a document buffer.
type Engine interface {
	Apply(op wire.Opcode, flags uint8, doc []byte, path string, value []byte) Result
}
