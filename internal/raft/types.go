package raft

import (
	"errors"
	"time"
)

// NodeID is the opaque identity of the replica that owns a LogStore
type NodeID string

// Stable messages carried by AppendResult. A transport layer matches on these to decide how to react to a
// rejection, so they must never change.
const (
	// MsgTermTooLow means the sender is behind and should step down or retry at a higher term
	MsgTermTooLow = "Term is lower than current term"
	// MsgPrevIndexOutOfRange means the local log is shorter than the sender assumed. Retry with an earlier PrevLog.
	MsgPrevIndexOutOfRange = "Previous log index out of range"
	// MsgPrevEntryMismatch means the log matching check failed. Retry with an earlier PrevLog.
	MsgPrevEntryMismatch = "Previous log entry mismatch"
	// MsgCommittedOverwrite is a protocol violation by the sender and is never retryable
	MsgCommittedOverwrite = "Cannot overwrite committed entries"
	// MsgEntryAppended is returned for every append that grew the log
	MsgEntryAppended = "Entry appended successfully"
	// MsgEntryPresent is returned when the target position already holds an entry of the same term
	MsgEntryPresent = "Entry already present"
)

var (
	// ErrCorruptState is returned by Restore when the persisted state breaks a log invariant
	ErrCorruptState = errors.New("corrupt log state")
	// ErrEntryNotFound is returned when looking up an index outside of the log
	ErrEntryNotFound = errors.New("log entry not found")
)

// LogEntry is a single slot of the replicated log. Entries are never edited in place: a conflicting entry is
// discarded together with the whole suffix that follows it.
type LogEntry struct {
	// Term in which the entry was proposed
	Term int64 `json:"term"`
	// Index is the 1-based position of the entry in the log
	Index int64 `json:"index"`
	// Data is the caller defined payload, carried verbatim
	Data []byte `json:"data"`
	// CreatedAt is informational only. It is never used for ordering or conflict decisions.
	CreatedAt time.Time `json:"created_at"`
}

// PrevLog identifies the entry that must immediately precede a new entry for the log matching check to pass.
// Index 0 with Term 0 denotes the position before the first entry.
type PrevLog struct {
	Index int64
	Term  int64
}

// AppendResult is the outcome of LogStore.AppendEntry
type AppendResult struct {
	Success     bool   `json:"success"`
	CurrentTerm int64  `json:"current_term"`
	LogIndex    int64  `json:"log_index"`
	Message     string `json:"message"`
	// Truncated is the number of uncommitted entries discarded to resolve a conflict
	Truncated int64 `json:"truncated"`
}

// CommitResult is the outcome of LogStore.CommitUpTo
type CommitResult struct {
	Success        bool  `json:"success"`
	CommittedCount int64 `json:"committed_count"`
	CommitIndex    int64 `json:"commit_index"`
}

// LogInfo is a read-only view of a LogStore
type LogInfo struct {
	NodeID       NodeID  `json:"node_id"`
	CurrentTerm  int64   `json:"current_term"`
	LogLength    int64   `json:"log_length"`
	CommitIndex  int64   `json:"commit_index"`
	LastLogIndex int64   `json:"last_log_index"`
	LastLogTerm  int64   `json:"last_log_term"`
	VotedFor     *NodeID `json:"voted_for"`
}

// PersistentState is everything a storage layer has to keep durable for a LogStore to be rebuilt after a
// restart.
type PersistentState struct {
	CurrentTerm int64
	VotedFor    *NodeID
	CommitIndex int64
	Entries     []LogEntry
}
