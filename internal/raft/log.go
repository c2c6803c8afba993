package raft

import (
	"bytes"
	"fmt"
	"sync"
	"time"
)

/*
Notes from Section 5.3 of the Raft paper that the LogStore enforces for a single replica:

• If two entries in different logs have the same index and term, then they store the same command, and the logs are
identical in all preceding entries. This is guaranteed by the consistency check performed on every append: the sender
includes the index and term of the entry that immediately precedes the new one, and the replica refuses the entry if
it does not find a matching one in its own log.

• When an existing entry conflicts with a new one (same index, different term), the existing entry and everything
after it are deleted. Entries at or below the commit index are never deleted, a sender asking for that is broken.

• The commit index only moves forward, and never past the end of the local log.
*/

// LogStore owns the log, the current term, the vote record and the commit index of one replica. All mutation goes
// through AppendEntry, CommitUpTo and AdvanceTerm. It is safe for concurrent use.
type LogStore struct {
	// Protects all fields below
	mu sync.RWMutex

	nodeID NodeID
	// The latest term this replica has seen. It never decreases.
	currentTerm int64
	// The candidate that received our vote in currentTerm, nil at the beginning of every term
	votedFor *NodeID
	// log[i] holds the entry with index i+1
	log []LogEntry
	// Highest index known to be committed, 0 when nothing is
	commitIndex int64

	// now stamps LogEntry.CreatedAt
	now func() time.Time
}

// NewLogStore creates an empty LogStore for the given replica, starting at initialTerm
func NewLogStore(nodeID NodeID, initialTerm int64) *LogStore {
	return &LogStore{
		nodeID:      nodeID,
		currentTerm: initialTerm,
		log:         make([]LogEntry, 0),
		now:         time.Now,
	}
}

// AppendEntry validates a single entry against the local log and appends it. When prev is nil the entry goes to
// the end of the log without a log matching check.
func (s *LogStore) AppendEntry(term int64, data []byte, prev *PrevLog) AppendResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if term < s.currentTerm {
		return s.reject(MsgTermTooLow)
	}

	if term > s.currentTerm {
		s.setTermLocked(term)
	}

	newIndex := s.lastIndexLocked() + 1
	if prev != nil {
		if prev.Index < 0 || prev.Index > s.lastIndexLocked() {
			return s.reject(MsgPrevIndexOutOfRange)
		}
		if s.termAtLocked(prev.Index) != prev.Term {
			return s.reject(MsgPrevEntryMismatch)
		}
		newIndex = prev.Index + 1
	}

	var truncated int64
	if newIndex <= s.lastIndexLocked() {
		existing := s.log[newIndex-1]
		if existing.Term == term {
			// Same index and term means same entry, nothing to do
			return AppendResult{
				Success:     true,
				CurrentTerm: s.currentTerm,
				LogIndex:    newIndex,
				Message:     MsgEntryPresent,
			}
		}
		if newIndex <= s.commitIndex {
			return s.reject(MsgCommittedOverwrite)
		}
		truncated = s.truncateFromLocked(newIndex)
	}

	s.log = append(s.log, LogEntry{
		Term:      term,
		Index:     newIndex,
		Data:      bytes.Clone(data),
		CreatedAt: s.now(),
	})

	return AppendResult{
		Success:     true,
		CurrentTerm: s.currentTerm,
		LogIndex:    newIndex,
		Message:     MsgEntryAppended,
		Truncated:   truncated,
	}
}

// CommitUpTo moves the commit index to leaderCommit. A commit index beyond the local log fails, one below the
// current commit index is accepted as a no-op.
func (s *LogStore) CommitUpTo(leaderCommit int64) CommitResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if leaderCommit > s.lastIndexLocked() {
		return CommitResult{Success: false, CommitIndex: s.commitIndex}
	}

	if leaderCommit < s.commitIndex {
		return CommitResult{Success: true, CommitIndex: s.commitIndex}
	}

	committed := leaderCommit - s.commitIndex
	s.commitIndex = leaderCommit

	return CommitResult{
		Success:        true,
		CommittedCount: committed,
		CommitIndex:    s.commitIndex,
	}
}

// AdvanceTerm moves to newTerm and clears the vote, but only if newTerm is strictly greater than the current term
func (s *LogStore) AdvanceTerm(newTerm int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if newTerm <= s.currentTerm {
		return false
	}
	s.setTermLocked(newTerm)
	return true
}

// TermAt returns the term of the entry at index, 0 for index 0 and -1 for any index outside of the log
func (s *LogStore) TermAt(index int64) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.termAtLocked(index)
}

// Snapshot returns a consistent view of the store
func (s *LogStore) Snapshot() LogInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := LogInfo{
		NodeID:      s.nodeID,
		CurrentTerm: s.currentTerm,
		LogLength:   s.lastIndexLocked(),
		CommitIndex: s.commitIndex,
	}
	if n := len(s.log); n > 0 {
		info.LastLogIndex = s.log[n-1].Index
		info.LastLogTerm = s.log[n-1].Term
	}
	if s.votedFor != nil {
		votedFor := *s.votedFor
		info.VotedFor = &votedFor
	}
	return info
}

// Entry returns the entry at index
func (s *LogStore) Entry(index int64) (LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index < 1 || index > s.lastIndexLocked() {
		return LogEntry{}, fmt.Errorf("%w: index %d, log length %d", ErrEntryNotFound, index, len(s.log))
	}
	return s.log[index-1], nil
}

// EntriesFrom returns a copy of all entries starting at index (inclusive). An index past the end of the log returns
// an empty slice.
func (s *LogStore) EntriesFrom(index int64) []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index < 1 {
		index = 1
	}
	if index > s.lastIndexLocked() {
		return []LogEntry{}
	}
	entries := make([]LogEntry, len(s.log)-int(index-1))
	copy(entries, s.log[index-1:])
	return entries
}

// Len returns the number of entries in the log
func (s *LogStore) Len() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastIndexLocked()
}

// Restore replaces the whole state of the store with state loaded from stable storage. It must be called before the
// store is shared.
func (s *LogStore) Restore(state PersistentState) error {
	for i, entry := range state.Entries {
		if entry.Index != int64(i+1) {
			return fmt.Errorf("%w: entry at position %d has index %d", ErrCorruptState, i+1, entry.Index)
		}
		if entry.Term > state.CurrentTerm {
			return fmt.Errorf("%w: entry %d has term %d above current term %d",
				ErrCorruptState, entry.Index, entry.Term, state.CurrentTerm)
		}
	}
	if state.CommitIndex < 0 || state.CommitIndex > int64(len(state.Entries)) {
		return fmt.Errorf("%w: commit index %d outside of log of length %d",
			ErrCorruptState, state.CommitIndex, len(state.Entries))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentTerm = state.CurrentTerm
	s.votedFor = state.VotedFor
	s.commitIndex = state.CommitIndex
	s.log = make([]LogEntry, len(state.Entries))
	copy(s.log, state.Entries)
	return nil
}

func (s *LogStore) reject(message string) AppendResult {
	return AppendResult{
		Success:     false,
		CurrentTerm: s.currentTerm,
		LogIndex:    -1,
		Message:     message,
	}
}

// setTermLocked adopts a newer term. An old votedFor value is only valid for the old term, so it is cleared.
func (s *LogStore) setTermLocked(term int64) {
	s.currentTerm = term
	s.votedFor = nil
}

func (s *LogStore) termAtLocked(index int64) int64 {
	if index == 0 {
		return 0
	}
	if index < 0 || index > s.lastIndexLocked() {
		return -1
	}
	return s.log[index-1].Term
}

func (s *LogStore) lastIndexLocked() int64 {
	return int64(len(s.log))
}

// truncateFromLocked drops every entry from index onwards and returns how many were dropped. Surviving entries keep
// their slots in the backing array.
func (s *LogStore) truncateFromLocked(index int64) int64 {
	dropped := s.log[index-1:]
	n := int64(len(dropped))
	clear(dropped)
	s.log = s.log[:index-1]
	return n
}
