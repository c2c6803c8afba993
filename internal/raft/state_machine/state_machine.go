package state_machine

import "raft-log-core/internal/raft"

// StateMachine is an interface representing the StateMachine of the Server defined in Section 2 from the
// [Raft paper](https://raft.github.io/raft.pdf). It is inspired from the FSM interface defined in
// [Hashicorp's Raft impl](https://github.com/hashicorp/raft/blob/main/fsm.go)
//
// Only committed entries may be applied, in index order.
type StateMachine interface {
	// Apply applies entries in order. Entries at or below LastApplied are skipped, so re-delivery is harmless.
	Apply(entries []raft.LogEntry)
	// LastApplied is the index of the last applied entry, 0 before the first one
	LastApplied() int64
}
