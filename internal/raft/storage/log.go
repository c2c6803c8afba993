package storage

import (
	"raft-log-core/internal/raft"
)

// LogStorage keeps the state of a raft.LogStore on stable storage, so that a replica can be rebuilt after a restart.
// Section 5.2 of the Raft paper requires currentTerm, votedFor and the log to be "updated on stable storage before
// responding to RPCs". The commit index is persisted as well, so committed entries stay protected across restarts.
type LogStorage interface {
	// Log Entry Operations

	// AppendEntry stores a single log entry under its index, replacing any entry already stored there
	AppendEntry(entry raft.LogEntry) error

	// AppendEntries stores multiple log entries in a single transaction
	AppendEntries(entries []raft.LogEntry) error

	// GetEntry retrieves the log entry at the specified index
	GetEntry(index int64) (raft.LogEntry, error)

	// GetEntriesFrom retrieves all log entries starting from the given index
	GetEntriesFrom(startIndex int64) ([]raft.LogEntry, error)

	// DeleteEntriesFrom deletes all log entries starting from the given index (inclusive). It is used for conflict
	// truncation.
	DeleteEntriesFrom(index int64) error

	// GetLastIndex returns the index of the last log entry (0 if log is empty)
	GetLastIndex() (int64, error)

	// GetLastTerm returns the term of the last log entry (0 if log is empty)
	GetLastTerm() (int64, error)

	// Persistent State Operations

	GetCurrentTerm() (int64, error)
	SetCurrentTerm(term int64) error

	// GetVotedFor returns nil when no vote was cast in the current term
	GetVotedFor() (*raft.NodeID, error)
	SetVotedFor(candidateID *raft.NodeID) error

	GetCommitIndex() (int64, error)
	SetCommitIndex(index int64) error

	// Close closes the storage connection
	Close() error
}

// LoadState reads everything needed by raft.LogStore.Restore from s
func LoadState(s LogStorage) (raft.PersistentState, error) {
	var state raft.PersistentState
	var err error

	if state.CurrentTerm, err = s.GetCurrentTerm(); err != nil {
		return state, err
	}
	if state.VotedFor, err = s.GetVotedFor(); err != nil {
		return state, err
	}
	if state.CommitIndex, err = s.GetCommitIndex(); err != nil {
		return state, err
	}
	if state.Entries, err = s.GetEntriesFrom(1); err != nil {
		return state, err
	}
	return state, nil
}
