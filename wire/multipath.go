package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// LookupSpec is one entry of a multi-lookup request body: opcode(u8) |
// flags(u8) | pathlen(u16) | path(pathlen), per spec.md §6.
type LookupSpec struct {
	Opcode Opcode
	Flags  uint8
	Path   string
}

// MutationSpec is one entry of a multi-mutation request body: opcode(u8) |
// flags(u8) | pathlen(u16) | valuelen(u32) | path | value, per spec.md §6.
type MutationSpec struct {
	Opcode Opcode
	Flags  uint8
	Path   string
	Value  []byte
}

// EncodeLookupSpecs renders a vector of lookup specs into a multi-lookup
// request value (the key itself is carried in the packet's Key field, not
// here — see spec.md §6 "Multi-lookup body").
func EncodeLookupSpecs(specs []LookupSpec) []byte {
	total := 0
	for _, s := range specs {
		total += 4 + len(s.Path)
	}

	buf := make([]byte, total)
	off := 0
	for _, s := range specs {
		buf[off] = byte(s.Opcode)
		buf[off+1] = s.Flags
		binary.BigEndian.PutUint16(buf[off+2:off+4], uint16(len(s.Path)))
		copy(buf[off+4:], s.Path)
		off += 4 + len(s.Path)
	}
	return buf
}

// DecodeLookupSpecs parses a multi-lookup request value back into specs,
// returning an error if any entry runs past the end of body (spec.md §8
// property 2: "declared body length that under- or over-runs the specs
// vector").
func DecodeLookupSpecs(body []byte) ([]LookupSpec, error) {
	var specs []LookupSpec
	off := 0
	for off < len(body) {
		if off+4 > len(body) {
			return nil, errors.New("wire: truncated lookup spec header")
		}
		pathLen := int(binary.BigEndian.Uint16(body[off+2 : off+4]))
		if off+4+pathLen > len(body) {
			return nil, errors.New("wire: truncated lookup spec path")
		}
		specs = append(specs, LookupSpec{
			Opcode: Opcode(body[off]),
			Flags:  body[off+1],
			Path:   string(body[off+4 : off+4+pathLen]),
		})
		off += 4 + pathLen
	}
	return specs, nil
}

// EncodeMutationSpecs renders a vector of mutation specs into a
// multi-mutation request value.
func EncodeMutationSpecs(specs []MutationSpec) []byte {
	total := 0
	for _, s := range specs {
		total += 8 + len(s.Path) + len(s.Value)
	}

	buf := make([]byte, total)
	off := 0
	for _, s := range specs {
		buf[off] = byte(s.Opcode)
		buf[off+1] = s.Flags
		binary.BigEndian.PutUint16(buf[off+2:off+4], uint16(len(s.Path)))
		binary.BigEndian.PutUint32(buf[off+4:off+8], uint32(len(s.Value)))
		copy(buf[off+8:], s.Path)
		copy(buf[off+8+len(s.Path):], s.Value)
		off += 8 + len(s.Path) + len(s.Value)
	}
	return buf
}

// DecodeMutationSpecs parses a multi-mutation request value back into specs.
func DecodeMutationSpecs(body []byte) ([]MutationSpec, error) {
	var specs []MutationSpec
	off := 0
	for off < len(body) {
		if off+8 > len(body) {
			return nil, errors.New("wire: truncated mutation spec header")
		}
		pathLen := int(binary.BigEndian.Uint16(body[off+2 : off+4]))
		valLen := int(binary.BigEndian.Uint32(body[off+4 : off+8]))
		if off+8+pathLen+valLen > len(body) {
			return nil, errors.New("wire: truncated mutation spec body")
		}
		specs = append(specs, MutationSpec{
			Opcode: Opcode(body[off]),
			Flags:  body[off+1],
			Path:   string(body[off+8 : off+8+pathLen]),
			Value:  body[off+8+pathLen : off+8+pathLen+valLen],
		})
		off += 8 + pathLen + valLen
	}
	return specs, nil
}

// LookupResult is one record of a multi-lookup response: status(u16) |
// length(u32) | value(length).
type LookupResult struct {
	Status Status
	Value  []byte
}

var _ Marshaler = LookupResult{}

func (r LookupResult) Marshal() ([]byte, error) {
	buf := make([]byte, 6+len(r.Value))
	binary.BigEndian.PutUint16(buf[0:2], uint16(r.Status))
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(r.Value)))
	copy(buf[6:], r.Value)
	return buf, nil
}

// EncodeLookupResults concatenates per-spec results into a multi-lookup
// response body, per spec.md §6.
func EncodeLookupResults(results []LookupResult) []byte {
	out := make([]byte, 0, len(results)*6)
	for _, r := range results {
		b, _ := r.Marshal()
		out = append(out, b...)
	}
	return out
}

// DecodeLookupResults parses a multi-lookup response body back into
// records; used by package client to present LookupIn results.
func DecodeLookupResults(body []byte, want int) ([]LookupResult, error) {
	results := make([]LookupResult, 0, want)
	off := 0
	for off < len(body) {
		if off+6 > len(body) {
			return nil, errors.New("wire: truncated lookup result header")
		}
		status := Status(binary.BigEndian.Uint16(body[off : off+2]))
		vlen := int(binary.BigEndian.Uint32(body[off+2 : off+6]))
		if off+6+vlen > len(body) {
			return nil, errors.New("wire: truncated lookup result value")
		}
		results = append(results, LookupResult{Status: status, Value: body[off+6 : off+6+vlen]})
		off += 6 + vlen
	}
	return results, nil
}

// MutationResult is one record of a successful multi-mutation response:
// index(u8) | status(u16) | [length(u32) | value(length) if status==SUCCESS].
type MutationResult struct {
	Index  uint8
	Status Status
	Value  []byte
}

// EncodeMutationResults concatenates per-spec mutation results, per
// spec.md §4.6. Every record whose status is SUCCESS carries a length and
// a value (possibly empty); other records carry only index and status.
func EncodeMutationResults(results []MutationResult) []byte {
	total := 0
	for _, r := range results {
		total += 3
		if r.Status == StatusSuccess {
			total += 4 + len(r.Value)
		}
	}

	buf := make([]byte, total)
	off := 0
	for _, r := range results {
		buf[off] = r.Index
		binary.BigEndian.PutUint16(buf[off+1:off+3], uint16(r.Status))
		off += 3
		if r.Status == StatusSuccess {
			binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(r.Value)))
			copy(buf[off+4:], r.Value)
			off += 4 + len(r.Value)
		}
	}
	return buf
}
