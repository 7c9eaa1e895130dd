package ioctl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSurface_ReleaseFreeMemoryRoundTrip(t *testing.T) {
	s := NewSurface()
	require.NoError(t, s.Set(KeyReleaseFreeMemory, nil))
	require.NoError(t, s.Set(KeyReleaseFreeMemory, nil))

	v, err := s.Get(KeyReleaseFreeMemory)
	require.NoError(t, err)
	assert.Equal(t, "2", string(v))
}

func TestSurface_TraceConnectionMask(t *testing.T) {
	s := NewSurface()
	require.NoError(t, s.Set("trace.connection.42", []byte("7")))

	v, err := s.Get("trace.connection.42")
	require.NoError(t, err)
	assert.Equal(t, "7", string(v))
}

func TestSurface_TraceConnectionUnknownIDRejected(t *testing.T) {
	s := NewSurface()
	_, err := s.Get("trace.connection.99")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestSurface_UnknownKeyRejected(t *testing.T) {
	s := NewSurface()
	_, err := s.Get("not.a.real.key")
	assert.ErrorIs(t, err, ErrUnknownKey)

	err = s.Set("not.a.real.key", nil)
	assert.ErrorIs(t, err, ErrUnknownKey)
}
