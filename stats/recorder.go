package stats

// Recorder is one bucket's stats sink, implementing the
// subdocexec.StatsRecorder contract without subdocexec needing to import
// this package (avoiding a cycle; each bucket owns a Recorder and
// server.Dispatcher hands it to subdocexec).
type Recorder struct {
	Counters Counters
	Topkeys  *Topkeys
}

// NewRecorder builds a Recorder with a topkeys table sized for
// perShardCapacity entries per shard.
func NewRecorder(perShardCapacity int) *Recorder {
	return &Recorder{Topkeys: NewTopkeys(perShardCapacity)}
}

// RecordGet implements subdocexec.StatsRecorder: "the key actually
// operated on, not the raw key bytes" (spec.md §4.5) — callers pass the
// sub-document command's document key.
func (r *Recorder) RecordGet(key []byte) {
	r.Counters.incGet()
	r.Topkeys.touchGet(key)
}

// RecordSet implements subdocexec.StatsRecorder.
func (r *Recorder) RecordSet(key []byte) {
	r.Counters.incSet()
	r.Topkeys.touchSet(key)
}
