package wire

import "github.com/pkg/errors"

var (
	// ErrShortHeader is returned when fewer than HeaderSize bytes were
	// available to decode a header.
	ErrShortHeader = errors.New("wire: short header")
	// ErrShortBody is returned when the declared body length could not be
	// read in full.
	ErrShortBody = errors.New("wire: short body")
	// ErrBadMagic is returned (wrapped) by Packet.ExpectMagic when the
	// magic byte does not match the expected direction.
	ErrBadMagic = errors.New("wire: unexpected magic byte")
)
