package wire

import (
	"io"

	"github.com/pkg/errors"
)

// Packet is a full request or response frame: the 24-byte header plus a
// body laid out as extras || key || value, per spec.md §3/§6.
type Packet struct {
	Header Header
	Extras []byte
	Key    []byte
	Value  []byte
}

var _ Marshaler = Packet{}

// NewRequest builds a request packet. Extras/Key/Value may be nil.
func NewRequest(opcode Opcode, vbucket uint16, opaque uint32, cas uint64, extras, key, value []byte) *Packet {
	return &Packet{
		Header: Header{
			Magic:           MagicRequest,
			Opcode:          opcode,
			KeyLen:          uint16(len(key)),
			ExtrasLen:       uint8(len(extras)),
			Datatype:        DatatypeRaw,
			VbucketOrStatus: vbucket,
			BodyLen:         uint32(len(extras) + len(key) + len(value)),
			Opaque:          opaque,
			CAS:             cas,
		},
		Extras: extras,
		Key:    key,
		Value:  value,
	}
}

// NewResponse builds a response packet echoing the given opaque.
func NewResponse(opcode Opcode, status Status, opaque uint32, cas uint64, datatype Datatype, extras, key, value []byte) *Packet {
	return &Packet{
		Header: Header{
			Magic:           MagicResponse,
			Opcode:          opcode,
			KeyLen:          uint16(len(key)),
			ExtrasLen:       uint8(len(extras)),
			Datatype:        datatype,
			VbucketOrStatus: uint16(status),
			BodyLen:         uint32(len(extras) + len(key) + len(value)),
			Opaque:          opaque,
			CAS:             cas,
		},
		Extras: extras,
		Key:    key,
		Value:  value,
	}
}

// StatusOnly builds a response with no body, the common case for a
// non-mutator failure or a no-value success. Grounded on the teacher's
// "response without a body" helper called out in spec.md §4.1.
func StatusOnly(opcode Opcode, status Status, opaque uint32, cas uint64) *Packet {
	return NewResponse(opcode, status, opaque, cas, DatatypeRaw, nil, nil, nil)
}

// Marshal renders the packet to its wire bytes: header followed by
// extras/key/value in order.
func (p Packet) Marshal() ([]byte, error) {
	hdr, err := p.Header.Marshal()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, HeaderSize+len(p.Extras)+len(p.Key)+len(p.Value))
	buf = append(buf, hdr...)
	buf = append(buf, p.Extras...)
	buf = append(buf, p.Key...)
	buf = append(buf, p.Value...)
	return buf, nil
}

// WriteTo writes the marshaled packet to w as a single Write call so a
// caller holding a bufio.Writer only has to Flush once per response.
func (p Packet) WriteTo(w io.Writer) (int64, error) {
	buf, err := p.Marshal()
	if err != nil {
		return 0, err
	}

	n, err := w.Write(buf)
	return int64(n), err
}

// ReadPacket reads one full frame (header + declared body) from r and
// splits the body into extras/key/value per the header's declared
// lengths. It does not interpret Magic — callers that need a specific
// direction should check Header.Magic themselves; package validate does
// this for inbound request frames (spec.md §4.2: "magic is REQ").
func ReadPacket(r io.Reader) (*Packet, error) {
	hdrBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		return nil, errors.Wrap(err, "read header")
	}

	var hdr Header
	if err := hdr.Unmarshal(hdrBuf); err != nil {
		return nil, err
	}

	p := &Packet{Header: hdr}
	if hdr.BodyLen == 0 {
		return p, nil
	}

	body := make([]byte, hdr.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, errors.Wrap(err, "read body")
	}

	s := uint32(0)
	if hdr.ExtrasLen > 0 {
		p.Extras = body[:hdr.ExtrasLen]
		s += uint32(hdr.ExtrasLen)
	}
	if hdr.KeyLen > 0 {
		p.Key = body[s : s+uint32(hdr.KeyLen)]
		s += uint32(hdr.KeyLen)
	}
	if remaining := hdr.BodyLen - uint32(hdr.ExtrasLen) - uint32(hdr.KeyLen); remaining > 0 {
		p.Value = body[s:]
	}

	return p, nil
}

// ExpectMagic is a small convenience to assert the frame direction before
// interpreting the rest of the packet. validate and client compare
// Header.Magic directly and do not call it.
func (p *Packet) ExpectMagic(want byte) error {
	if p.Header.Magic != want {
		return errors.Wrapf(ErrBadMagic, "got 0x%x want 0x%x", p.Header.Magic, want)
	}
	return nil
}
