package validate

import (
	"github.com/pkg/errors"

	"github.com/yeqown/submemd/traits"
	"github.com/yeqown/submemd/wire"
)

// MultiLookup validates a SUBDOC_MULTI_LOOKUP request body per spec.md
// §4.2's "Multi-path rules": 1..MaxMultiSpecs specs, each naming an
// opcode eligible for lookup, no nested MULTI_LOOKUP/MULTI_MUTATION, and
// the body must parse exactly (DecodeLookupSpecs already rejects
// under/over-run — spec.md §8 property 2).
func MultiLookup(pkt *wire.Packet, limits Limits) ([]wire.LookupSpec, error) {
	if pkt.Header.ExtrasLen != 0 {
		return nil, invalid(errors.New("multi-lookup must not carry extras"))
	}

	specs, err := wire.DecodeLookupSpecs(pkt.Value)
	if err != nil {
		return nil, invalid(err)
	}

	if len(specs) == 0 {
		return nil, invalid(errors.New("multi-lookup requires at least one spec"))
	}
	if len(specs) > limits.MaxMultiSpecs {
		return nil, invalid(errors.New("too many specs"))
	}

	for _, s := range specs {
		t, ok := traits.Lookup(s.Opcode)
		if !ok || !t.MultiLookupEligible {
			return nil, invalid(errors.Errorf("opcode %s not valid in a multi-lookup spec", s.Opcode))
		}
		if len(s.Path) > limits.MaxPathLength {
			return nil, invalid(errors.New("path too long"))
		}
		if len(s.Path) == 0 && !t.AllowEmptyPath {
			return nil, invalid(errors.New("empty path not allowed for opcode"))
		}
		if s.Flags&^t.ValidFlags != 0 {
			return nil, invalid(errors.New("flag not valid for opcode"))
		}
	}

	return specs, nil
}

// MultiMutation validates a SUBDOC_MULTI_MUTATION request body: 1..
// MaxMultiSpecs specs, each naming a mutator opcode.
func MultiMutation(pkt *wire.Packet, limits Limits) ([]wire.MutationSpec, error) {
	if pkt.Header.ExtrasLen != 0 {
		return nil, invalid(errors.New("multi-mutation must not carry extras"))
	}

	specs, err := wire.DecodeMutationSpecs(pkt.Value)
	if err != nil {
		return nil, invalid(err)
	}

	if len(specs) == 0 {
		return nil, invalid(errors.New("multi-mutation requires at least one spec"))
	}
	if len(specs) > limits.MaxMultiSpecs {
		return nil, invalid(errors.New("too many specs"))
	}

	for _, s := range specs {
		t, ok := traits.Lookup(s.Opcode)
		if !ok || !t.MultiMutationEligible {
			return nil, invalid(errors.Errorf("opcode %s not valid in a multi-mutation spec", s.Opcode))
		}
		if len(s.Path) > limits.MaxPathLength {
			return nil, invalid(errors.New("path too long"))
		}
		if len(s.Path) == 0 && !t.AllowEmptyPath {
			return nil, invalid(errors.New("empty path not allowed for opcode"))
		}
		if s.Flags&^t.ValidFlags != 0 {
			return nil, invalid(errors.New("flag not valid for opcode"))
		}
		hasValue := len(s.Value) > 0
		if hasValue != t.RequestHasValue {
			return nil, invalid(errors.New("value presence does not match opcode"))
		}
	}

	return specs, nil
}
