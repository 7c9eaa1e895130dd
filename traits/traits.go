// Package traits holds the per-opcode dispatch table spec.md §3/§9
// describes: "all dispatch-time behavior is derived from this table — no
// per-opcode switches beyond the validator." It is built once, at init,
// as a populated map rather than a switch statement, mirroring the
// teacher's newClientOptions() "build a populated struct, return it" idiom
// (options.go) rather than deep inheritance or type switches.
package traits

import "github.com/yeqown/submemd/wire"

// SubdocFlag bits, carried in a single-path request's extras.
const (
	FlagMkdirP   uint8 = 1 << 0
	FlagXattr    uint8 = 1 << 1 // reserved, not consumed by this module's engine
	FlagExpandN  uint8 = 1 << 4 // reserved
	validFlagsAll uint8 = FlagMkdirP | FlagXattr | FlagExpandN
)

// Traits is the compile-time/lookup-table record for one opcode, per
// spec.md §3.
type Traits struct {
	// IsMutator is true for opcodes that write a new document.
	IsMutator bool
	// RequestHasValue is true when the wire request must carry a value
	// after the path.
	RequestHasValue bool
	// ResponseHasValue is true when a successful response carries the
	// matched/produced bytes as its value.
	ResponseHasValue bool
	// AllowEmptyPath is true for opcodes where a zero-length path is
	// legal (spec.md §9 open question: unified here across validate and
	// the multi-lookup spec walker).
	AllowEmptyPath bool
	// ValidFlags is the bitmask of subdoc_flags bits this opcode accepts;
	// spec.md §4.2: "flags & ~valid_flags == 0".
	ValidFlags uint8
	// MultiLookupEligible is true for opcodes a multi-lookup spec may
	// name (spec.md §4.2: "Each spec opcode must be GET or EXISTS").
	MultiLookupEligible bool
	// MultiMutationEligible is true for opcodes a multi-mutation spec may
	// name.
	MultiMutationEligible bool
}

// Table maps every opcode this module dispatches on to its Traits record.
var Table = map[wire.Opcode]Traits{
	wire.OpSubDocGet: {
		ResponseHasValue:    true,
		AllowEmptyPath:      false,
		ValidFlags:          FlagXattr,
		MultiLookupEligible: true,
	},
	wire.OpSubDocExists: {
		ResponseHasValue:    false,
		AllowEmptyPath:      true,
		ValidFlags:          FlagXattr,
		MultiLookupEligible: true,
	},
	wire.OpSubDocDictAdd: {
		IsMutator:              true,
		RequestHasValue:        true,
		AllowEmptyPath:         false,
		ValidFlags:             FlagMkdirP | FlagXattr,
		MultiMutationEligible:  true,
	},
	wire.OpSubDocDictSet: {
		IsMutator:             true,
		RequestHasValue:       true,
		AllowEmptyPath:        false,
		ValidFlags:            FlagMkdirP | FlagXattr,
		MultiMutationEligible: true,
	},
	wire.OpSubDocDelete: {
		IsMutator:             true,
		RequestHasValue:       false,
		AllowEmptyPath:        false,
		ValidFlags:            FlagXattr,
		MultiMutationEligible: true,
	},
	wire.OpSubDocReplace: {
		IsMutator:             true,
		RequestHasValue:       true,
		AllowEmptyPath:        false,
		ValidFlags:            FlagXattr,
		MultiMutationEligible: true,
	},
	wire.OpSubDocArrayPushLast: {
		IsMutator:             true,
		RequestHasValue:       true,
		AllowEmptyPath:        true,
		ValidFlags:            FlagMkdirP | FlagXattr,
		MultiMutationEligible: true,
	},
	wire.OpSubDocArrayPushFirst: {
		IsMutator:             true,
		RequestHasValue:       true,
		AllowEmptyPath:        true,
		ValidFlags:            FlagMkdirP | FlagXattr,
		MultiMutationEligible: true,
	},
	wire.OpSubDocArrayInsert: {
		IsMutator:             true,
		RequestHasValue:       true,
		AllowEmptyPath:        false,
		ValidFlags:            FlagXattr,
		MultiMutationEligible: true,
	},
	wire.OpSubDocArrayAddUnique: {
		IsMutator:             true,
		RequestHasValue:       true,
		AllowEmptyPath:        true,
		ValidFlags:            FlagMkdirP | FlagXattr,
		MultiMutationEligible: true,
	},
	wire.OpSubDocCounter: {
		IsMutator:             true,
		RequestHasValue:       true,
		ResponseHasValue:      true,
		AllowEmptyPath:        false,
		ValidFlags:            FlagMkdirP | FlagXattr,
		MultiMutationEligible: true,
	},
}

// Lookup returns the traits for opcode and whether the opcode is known to
// this table at all.
func Lookup(op wire.Opcode) (Traits, bool) {
	t, ok := Table[op]
	return t, ok
}
