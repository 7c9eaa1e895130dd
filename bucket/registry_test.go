package bucket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeqown/submemd/engine"
	"github.com/yeqown/submemd/engine/memengine"
)

func newTestRegistry(max int) *Registry {
	return NewRegistry(max, func() engine.Engine { return memengine.New() })
}

func TestRegistry_CreateRejectsBadName(t *testing.T) {
	r := newTestRegistry(10)
	assert.ErrorIs(t, r.Create("bad name!"), ErrInvalidName)
	assert.NoError(t, r.Create("valid_bucket-1.0%"))
}

func TestRegistry_CreateRejectsDuplicate(t *testing.T) {
	r := newTestRegistry(10)
	require.NoError(t, r.Create("b1"))
	assert.ErrorIs(t, r.Create("b1"), ErrAlreadyExists)
}

func TestRegistry_CreateRejectsOverCapacity(t *testing.T) {
	r := newTestRegistry(1)
	require.NoError(t, r.Create("b1"))
	assert.ErrorIs(t, r.Create("b2"), ErrCapacity)
}

func TestRegistry_SelectMissingBucket(t *testing.T) {
	r := newTestRegistry(10)
	_, err := r.Select("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_DeleteWaitsForInFlightCommands(t *testing.T) {
	r := newTestRegistry(10)
	require.NoError(t, r.Create("b1"))
	b, err := r.Select("b1")
	require.NoError(t, err)

	require.True(t, b.Begin())

	done := make(chan struct{})
	go func() {
		require.NoError(t, r.Delete("b1"))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("delete returned before in-flight command finished")
	case <-time.After(50 * time.Millisecond):
	}

	b.End()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("delete did not complete after in-flight command finished")
	}
}

func TestRegistry_DeleteSignalsDrainingToNewCommands(t *testing.T) {
	r := newTestRegistry(10)
	require.NoError(t, r.Create("b1"))
	b, err := r.Select("b1")
	require.NoError(t, err)

	go r.Delete("b1")

	select {
	case <-b.Draining():
	case <-time.After(time.Second):
		t.Fatal("draining channel never closed")
	}
	assert.False(t, b.Begin())
}

func TestRegistry_DeleteAllAggregatesErrors(t *testing.T) {
	r := newTestRegistry(10)
	require.NoError(t, r.Create("b1"))

	err := r.DeleteAll([]string{"b1", "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}
