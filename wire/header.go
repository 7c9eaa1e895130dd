package wire

import "encoding/binary"

// HeaderSize is the fixed length, in bytes, of every request and response
// header. See spec.md §6.
const HeaderSize = 24

const (
	MagicRequest  byte = 0x80
	MagicResponse byte = 0x81
)

// Header is the 24-byte fixed-layout frame header shared by requests and
// responses. For a request the VbucketOrStatus field carries a vbucket id;
// for a response it carries a Status. Multi-byte fields are big-endian on
// the wire, per spec.md §3.
type Header struct {
	Magic           byte
	Opcode          Opcode
	KeyLen          uint16
	ExtrasLen       uint8
	Datatype        Datatype
	VbucketOrStatus uint16
	BodyLen         uint32
	Opaque          uint32
	CAS             uint64
}

// Status returns VbucketOrStatus typed as a response Status. Callers must
// only call this on a header known to belong to a response packet.
func (h Header) Status() Status {
	return Status(h.VbucketOrStatus)
}

// Vbucket returns VbucketOrStatus typed as a request vbucket id. Callers
// must only call this on a header known to belong to a request packet.
func (h Header) Vbucket() uint16 {
	return h.VbucketOrStatus
}

// Marshal encodes the header into a fresh 24-byte slice. It implements
// Marshaler.
func (h Header) Marshal() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	buf[0] = h.Magic
	buf[1] = byte(h.Opcode)
	binary.BigEndian.PutUint16(buf[2:4], h.KeyLen)
	buf[4] = h.ExtrasLen
	buf[5] = byte(h.Datatype)
	binary.BigEndian.PutUint16(buf[6:8], h.VbucketOrStatus)
	binary.BigEndian.PutUint32(buf[8:12], h.BodyLen)
	binary.BigEndian.PutUint32(buf[12:16], h.Opaque)
	binary.BigEndian.PutUint64(buf[16:24], h.CAS)
	return buf, nil
}

// Unmarshal decodes a 24-byte slice into the header. It implements
// Unmarshaler. It does not validate the magic byte — callers that care
// which magic is expected should check h.Magic themselves (the validator
// in package validate does this for request frames).
func (h *Header) Unmarshal(buf []byte) error {
	if len(buf) != HeaderSize {
		return ErrShortHeader
	}

	h.Magic = buf[0]
	h.Opcode = Opcode(buf[1])
	h.KeyLen = binary.BigEndian.Uint16(buf[2:4])
	h.ExtrasLen = buf[4]
	h.Datatype = Datatype(buf[5])
	h.VbucketOrStatus = binary.BigEndian.Uint16(buf[6:8])
	h.BodyLen = binary.BigEndian.Uint32(buf[8:12])
	h.Opaque = binary.BigEndian.Uint32(buf[12:16])
	h.CAS = binary.BigEndian.Uint64(buf[16:24])
	return nil
}
