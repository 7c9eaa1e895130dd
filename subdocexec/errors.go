package subdocexec

import (
	"fmt"

	"github.com/yeqown/submemd/subdocop"
	"github.com/yeqown/submemd/wire"
)

// mapOpStatus is the single table spec.md §4.5/§7 calls for, translating
// the JSON engine's result enum to the wire protocol's status enum.
func mapOpStatus(s subdocop.Status) wire.Status {
	switch s {
	case subdocop.Success:
		return wire.StatusSuccess
	case subdocop.PathNotFound:
		return wire.StatusSubDocPathNotFound
	case subdocop.PathMismatch:
		return wire.StatusSubDocPathMismatch
	case subdocop.DocTooDeep:
		return wire.StatusSubDocDocTooDeep
	case subdocop.PathInvalid:
		return wire.StatusSubDocPathInvalid
	case subdocop.DocExists:
		return wire.StatusSubDocPathExists
	case subdocop.PathTooBig:
		return wire.StatusSubDocPathTooBig
	case subdocop.NumTooBig:
		return wire.StatusSubDocNumRange
	case subdocop.DeltaTooBig:
		return wire.StatusSubDocDeltaRange
	case subdocop.ValueCantInsert:
		return wire.StatusSubDocValueCantInsert
	case subdocop.ValueTooDeep:
		return wire.StatusSubDocValueTooDeep
	default:
		return wire.StatusInternalError
	}
}

// redactKey renders a key for a warn-log line without leaking its
// content, per spec.md §7's "warn-log with redacted key".
func redactKey(key []byte) string {
	return fmt.Sprintf("<key redacted, %d bytes>", len(key))
}
