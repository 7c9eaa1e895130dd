// Package validate implements spec.md §4.2: per-opcode structural
// validation of an incoming packet, run strictly before any storage or
// JSON-engine call. A validation failure always yields
// PROTOCOL_BINARY_RESPONSE_EINVAL (wire.StatusInvalidArgs) and never
// touches the engine (spec.md §8 property 1).
package validate

import (
	"github.com/pkg/errors"

	"github.com/yeqown/submemd/traits"
	"github.com/yeqown/submemd/wire"
)

// Limits bounds the sizes the validator accepts, threaded through like
// the teacher's clientOptions so a deployment can tune them (SPEC_FULL.md
// §3 EXPANSION).
type Limits struct {
	MaxPathLength int
	MaxMultiSpecs int
	MaxKeyLength  int
	MaxBodyLength uint32
}

// DefaultLimits mirrors spec.md §6's stated limits.
var DefaultLimits = Limits{
	MaxPathLength: 1024,
	MaxMultiSpecs: 16,
	MaxKeyLength:  250,
	MaxBodyLength: 20 * 1024 * 1024,
}

// Error wraps the status a failed validation maps to, so callers can
// respond without inspecting engine state (spec.md §4.2: "Return is a
// single status code").
type Error struct {
	Status wire.Status
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Status.String() + ": " + e.cause.Error()
	}
	return e.Status.String()
}

func (e *Error) Unwrap() error { return e.cause }

func invalid(cause error) error {
	return &Error{Status: wire.StatusInvalidArgs, cause: cause}
}

// expectedExtrasLen returns the extras length this module requires for a
// known non-subdoc opcode, with false as the second result for any other
// opcode (subdoc opcodes are handled by SinglePath/MultiLookup/
// MultiMutation instead).
func expectedExtrasLen(op wire.Opcode) (int, bool) {
	switch op {
	case wire.OpGet, wire.OpDelete, wire.OpVersion:
		return 0, true
	case wire.OpSet, wire.OpAdd, wire.OpReplace:
		return 8, true // flags(u32) + expiry(u32)
	case wire.OpIncrement, wire.OpDecrement:
		return 20, true // delta(u64) + initial(u64) + expiry(u32)
	default:
		return 0, false
	}
}

// Request runs the generic, opcode-family-agnostic checks from spec.md
// §4.2: magic is REQ, key length > 0 unless the opcode allows an empty
// key, extras length matches the opcode's expected constant (for
// non-subdoc opcodes — subdoc opcodes are validated by SinglePath/
// MultiLookup/MultiMutation instead, since their extras layout is
// path-length-dependent), datatype is RAW, and body length accounts for
// key+extras+value.
func Request(pkt *wire.Packet, limits Limits) error {
	if pkt.Header.Magic != wire.MagicRequest {
		return invalid(errors.New("bad magic"))
	}

	if pkt.Header.Datatype != wire.DatatypeRaw {
		return invalid(errors.New("datatype must be raw on a request"))
	}

	declared := uint32(pkt.Header.ExtrasLen) + uint32(pkt.Header.KeyLen) + uint32(len(pkt.Value))
	if declared != pkt.Header.BodyLen {
		return invalid(errors.New("body length does not account for extras+key+value"))
	}
	if pkt.Header.BodyLen > limits.MaxBodyLength {
		return invalid(errors.New("body too large"))
	}

	if pkt.Header.Opcode.IsSubDoc() {
		// Extras shape for subdoc opcodes is checked by the more specific
		// validators; this function only enforces a non-empty key and the
		// key-length ceiling.
		if len(pkt.Key) == 0 {
			return invalid(errors.New("subdoc commands require a non-empty key"))
		}
		if len(pkt.Key) > limits.MaxKeyLength {
			return invalid(errors.New("key too long"))
		}
		return nil
	}

	wantExtras, known := expectedExtrasLen(pkt.Header.Opcode)
	if !known {
		return invalid(errors.New("unknown opcode"))
	}
	if int(pkt.Header.ExtrasLen) != wantExtras {
		return invalid(errors.New("wrong extras length for opcode"))
	}
	if pkt.Header.Opcode != wire.OpVersion && len(pkt.Key) == 0 {
		return invalid(errors.New("key required"))
	}
	if len(pkt.Key) > limits.MaxKeyLength {
		return invalid(errors.New("key too long"))
	}

	return nil
}

// SinglePathExtras is the decoded extras of a single-path subdoc command:
// pathlen(u16) | subdoc_flags(u8) [ | expiry(u32) ], per spec.md §6.
type SinglePathExtras struct {
	PathLen uint16
	Flags   uint8
	Expiry  uint32
	HasExpiry bool
}

func decodeSingleExtras(extras []byte) (SinglePathExtras, error) {
	var e SinglePathExtras
	switch len(extras) {
	case 3:
		e.PathLen = beUint16(extras[0:2])
		e.Flags = extras[2]
	case 7:
		e.PathLen = beUint16(extras[0:2])
		e.Flags = extras[2]
		e.Expiry = beUint32(extras[3:7])
		e.HasExpiry = true
	default:
		return e, errors.New("bad subdoc extras length")
	}
	return e, nil
}

func beUint16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// SinglePath validates a single-path sub-document command (GET, EXISTS,
// DICT_ADD, DICT_UPSERT, DELETE, REPLACE, the array ops, COUNTER) per
// spec.md §4.2's "Sub-document single-path rules". The path itself is
// carried as the first PathLen bytes of pkt.Value; any remaining bytes
// are the mutator's value argument.
func SinglePath(pkt *wire.Packet, limits Limits) (path string, value []byte, err error) {
	t, ok := traits.Lookup(pkt.Header.Opcode)
	if !ok {
		return "", nil, invalid(errors.New("not a single-path subdoc opcode"))
	}

	extras, err := decodeSingleExtras(pkt.Extras)
	if err != nil {
		return "", nil, invalid(err)
	}

	if pkt.Header.Datatype != wire.DatatypeRaw {
		return "", nil, invalid(errors.New("datatype must be raw on a request"))
	}

	if pkt.Extras[2]&^(traits.FlagMkdirP|traits.FlagXattr) != 0 {
		return "", nil, invalid(errors.New("unknown subdoc flag bit set"))
	}
	if extras.Flags&^t.ValidFlags != 0 {
		return "", nil, invalid(errors.New("flag not valid for opcode"))
	}

	if int(extras.PathLen) > limits.MaxPathLength {
		return "", nil, invalid(errors.New("path too long"))
	}
	if extras.PathLen == 0 && !t.AllowEmptyPath {
		return "", nil, invalid(errors.New("empty path not allowed for opcode"))
	}

	if int(extras.PathLen) > len(pkt.Value) {
		return "", nil, invalid(errors.New("path length exceeds value"))
	}
	path = string(pkt.Value[:extras.PathLen])
	rest := pkt.Value[extras.PathLen:]

	hasValue := len(rest) > 0
	if hasValue != t.RequestHasValue {
		return "", nil, invalid(errors.New("value presence does not match opcode"))
	}

	return path, rest, nil
}
