package wire

// Datatype is the 1-byte item flag spec.md §3 defines: raw/JSON, and
// whether the payload is Snappy-compressed.
type Datatype uint8

const (
	DatatypeRaw            Datatype = 0x00
	DatatypeJSON           Datatype = 0x01
	DatatypeCompressed     Datatype = 0x02
	DatatypeCompressedJSON Datatype = DatatypeJSON | DatatypeCompressed
)

// IsJSON reports whether the datatype's JSON bit is set, regardless of
// the compression bit.
func (d Datatype) IsJSON() bool {
	return d&DatatypeJSON != 0
}

// IsCompressed reports whether the datatype's Snappy bit is set.
func (d Datatype) IsCompressed() bool {
	return d&DatatypeCompressed != 0
}

func (d Datatype) String() string {
	switch d {
	case DatatypeRaw:
		return "raw"
	case DatatypeJSON:
		return "json"
	case DatatypeCompressed:
		return "compressed"
	case DatatypeCompressedJSON:
		return "compressed-json"
	default:
		return "unknown"
	}
}
