package replica

import (
	"errors"
	"time"

	"raft-log-core/internal/pubsub"
	"raft-log-core/internal/raft"
)

var (
	// ErrReplicaFailed is returned by every mutating call after a write to stable storage failed. The in-memory log
	// may then be ahead of what is durable, so the replica stops accepting changes until it is reopened.
	ErrReplicaFailed = errors.New("replica failed")
	// ErrReplicaClosed is returned by calls made after Close
	ErrReplicaClosed = errors.New("replica closed")
)

const (
	// EntryAppended is published after an entry was appended and persisted. Payload: EntryAppendedPayload.
	EntryAppended pubsub.EventType = iota
	// LogTruncated is published when a conflicting suffix was discarded. Payload: LogTruncatedPayload.
	LogTruncated
	// EntriesCommitted is published when the commit index moved forward. Payload: EntriesCommittedPayload.
	EntriesCommitted
	// TermAdvanced is published whenever the current term increased. Payload: TermAdvancedPayload.
	TermAdvanced
	// ReplicaClosed is published once by Close. The payload is an empty struct.
	ReplicaClosed
)

type EntryAppendedPayload struct {
	Entry raft.LogEntry
}

type LogTruncatedPayload struct {
	// First discarded index
	From int64
	// Number of discarded entries
	Count int64
}

// EntriesCommittedPayload covers the newly committed range [From, To]
type EntriesCommittedPayload struct {
	From int64
	To   int64
}

type TermAdvancedPayload struct {
	From int64
	To   int64
}

// MetricsCollector is an optional interface for collecting replica metrics
type MetricsCollector interface {
	RecordAppendLatency(latency time.Duration)
	RecordAppendAccepted()
	RecordAppendRejected(reason string)
	RecordTruncation(n int64)
	RecordCommitted(n int64)
	RecordCommitRejected()
	RecordTermAdvance()
}
