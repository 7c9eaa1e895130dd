package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecorder_CountersIncrement(t *testing.T) {
	r := NewRecorder(4)
	r.RecordGet([]byte("a"))
	r.RecordGet([]byte("b"))
	r.RecordSet([]byte("a"))

	snap := r.Counters.Snapshot()
	assert.Equal(t, int64(2), snap.CmdGet)
	assert.Equal(t, int64(1), snap.CmdSet)
}

func TestTopkeys_EvictsOldestPastCapacity(t *testing.T) {
	tk := NewTopkeys(2)
	sh := tk.shardFor([]byte("x"))

	sh.touch("x", false)
	sh.touch("y", false)
	sh.touch("z", false)

	sh.mu.Lock()
	defer sh.mu.Unlock()
	assert.LessOrEqual(t, sh.order.Len(), 2)
}

func TestTopkeys_ShardingIsDeterministic(t *testing.T) {
	tk := NewTopkeys(10)
	first := tk.shardFor([]byte("same-key"))
	second := tk.shardFor([]byte("same-key"))
	assert.Same(t, first, second)
}
