// Package ioctl implements spec.md §4.8, C8: a narrow key/value sideband
// for runtime knobs. The key set is small and fixed, so this package is
// intentionally stdlib-only — a lookup table keyed by string has no
// third-party counterpart worth reaching for (recorded in this module's
// grounding ledger).
package ioctl

import (
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Known ioctl keys, per spec.md §4.8.
const (
	KeyReleaseFreeMemory = "release_free_memory"
	KeyTCMallocDecommit  = "tcmalloc.aggressive_decommit"
	traceConnectionPrefix = "trace.connection."
)

// ErrUnknownKey maps to wire.StatusInvalidArgs at the caller.
var ErrUnknownKey = errors.New("ioctl: unknown key")

// Surface holds the runtime knobs ioctl_get/ioctl_set expose. One
// Surface is shared process-wide, mirroring the single allocator the
// knobs ultimately govern.
type Surface struct {
	mu sync.Mutex

	releaseRequested   int
	aggressiveDecommit bool

	traceMasks map[string]uint32
}

// NewSurface returns a Surface with no tracing enabled and the decommit
// knob off.
func NewSurface() *Surface {
	return &Surface{traceMasks: make(map[string]uint32)}
}

// Get implements ioctl_get.
func (s *Surface) Get(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case name == KeyReleaseFreeMemory:
		return []byte(strconv.Itoa(s.releaseRequested)), nil
	case name == KeyTCMallocDecommit:
		return []byte(strconv.FormatBool(s.aggressiveDecommit)), nil
	case strings.HasPrefix(name, traceConnectionPrefix):
		id := strings.TrimPrefix(name, traceConnectionPrefix)
		mask, ok := s.traceMasks[id]
		if !ok {
			return nil, ErrUnknownKey
		}
		return []byte(strconv.FormatUint(uint64(mask), 10)), nil
	default:
		return nil, ErrUnknownKey
	}
}

// Set implements ioctl_set.
func (s *Surface) Set(name string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case name == KeyReleaseFreeMemory:
		s.releaseRequested++
		return nil
	case name == KeyTCMallocDecommit:
		enabled, err := strconv.ParseBool(strings.TrimSpace(string(value)))
		if err != nil {
			return errors.Wrap(ErrUnknownKey, "invalid bool value")
		}
		s.aggressiveDecommit = enabled
		return nil
	case strings.HasPrefix(name, traceConnectionPrefix):
		id := strings.TrimPrefix(name, traceConnectionPrefix)
		mask, err := strconv.ParseUint(strings.TrimSpace(string(value)), 10, 32)
		if err != nil {
			return errors.Wrap(ErrUnknownKey, "invalid trace mask")
		}
		s.traceMasks[id] = uint32(mask)
		return nil
	default:
		return ErrUnknownKey
	}
}
