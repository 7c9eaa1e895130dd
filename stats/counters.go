// Package stats implements the side-effect sink subdocexec drives on
// every command (spec.md §4.5: "a per-bucket cmd_set counter is
// incremented; on a non-mutator path, get counters and a topkeys
// update"). Counters use sync/atomic, the same primitive the teacher
// reaches for in its connection pool bookkeeping (client/conn.go).
package stats

import "sync/atomic"

// Counters holds the per-bucket command tallies.
type Counters struct {
	cmdGet atomic.Int64
	cmdSet atomic.Int64
}

// Snapshot is a point-in-time read of Counters.
type Snapshot struct {
	CmdGet int64
	CmdSet int64
}

func (c *Counters) incGet() { c.cmdGet.Add(1) }
func (c *Counters) incSet() { c.cmdSet.Add(1) }

// Snapshot reads the current counter values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{CmdGet: c.cmdGet.Load(), CmdSet: c.cmdSet.Load()}
}
