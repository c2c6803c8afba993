package mocks

import (
	"fmt"
	"sync"
	"time"

	"raft-log-core/internal/raft"
)

// MockLogStorage is an in-memory implementation of storage.LogStorage for testing
type MockLogStorage struct {
	mu          sync.RWMutex
	entries     map[int64]raft.LogEntry
	term        int64
	votedFor    *raft.NodeID
	commitIndex int64
	closed      bool

	// Error injection for testing
	AppendEntryError       error
	AppendEntriesError     error
	GetEntryError          error
	GetEntriesFromError    error
	DeleteEntriesFromError error
	GetLastIndexError      error
	GetLastTermError       error
	GetCurrentTermError    error
	SetCurrentTermError    error
	GetVotedForError       error
	SetVotedForError       error
	GetCommitIndexError    error
	SetCommitIndexError    error

	// AppendDelay simulates a slow disk on AppendEntry
	AppendDelay time.Duration
}

// NewMockLogStorage creates a new mock log storage
func NewMockLogStorage() *MockLogStorage {
	return &MockLogStorage{
		entries: make(map[int64]raft.LogEntry),
	}
}

func (m *MockLogStorage) AppendEntry(entry raft.LogEntry) error {
	time.Sleep(m.AppendDelay)
	if m.AppendEntryError != nil {
		return m.AppendEntryError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.Index] = entry
	return nil
}

func (m *MockLogStorage) AppendEntries(entries []raft.LogEntry) error {
	if m.AppendEntriesError != nil {
		return m.AppendEntriesError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range entries {
		m.entries[entry.Index] = entry
	}
	return nil
}

func (m *MockLogStorage) GetEntry(index int64) (raft.LogEntry, error) {
	if m.GetEntryError != nil {
		return raft.LogEntry{}, m.GetEntryError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[index]
	if !ok {
		return raft.LogEntry{}, fmt.Errorf("%w: index %d", raft.ErrEntryNotFound, index)
	}
	return entry, nil
}

func (m *MockLogStorage) GetEntriesFrom(startIndex int64) ([]raft.LogEntry, error) {
	if m.GetEntriesFromError != nil {
		return nil, m.GetEntriesFromError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []raft.LogEntry
	maxIndex := m.getLastIndexUnsafe()
	for i := startIndex; i <= maxIndex; i++ {
		if entry, ok := m.entries[i]; ok {
			result = append(result, entry)
		}
	}
	return result, nil
}

func (m *MockLogStorage) DeleteEntriesFrom(index int64) error {
	if m.DeleteEntriesFromError != nil {
		return m.DeleteEntriesFromError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	maxIndex := m.getLastIndexUnsafe()
	for i := index; i <= maxIndex; i++ {
		delete(m.entries, i)
	}
	return nil
}

func (m *MockLogStorage) GetLastIndex() (int64, error) {
	if m.GetLastIndexError != nil {
		return 0, m.GetLastIndexError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLastIndexUnsafe(), nil
}

func (m *MockLogStorage) getLastIndexUnsafe() int64 {
	var maxIndex int64
	for index := range m.entries {
		if index > maxIndex {
			maxIndex = index
		}
	}
	return maxIndex
}

func (m *MockLogStorage) GetLastTerm() (int64, error) {
	if m.GetLastTermError != nil {
		return 0, m.GetLastTermError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	lastIndex := m.getLastIndexUnsafe()
	if lastIndex == 0 {
		return 0, nil
	}
	return m.entries[lastIndex].Term, nil
}

func (m *MockLogStorage) GetCurrentTerm() (int64, error) {
	if m.GetCurrentTermError != nil {
		return 0, m.GetCurrentTermError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.term, nil
}

func (m *MockLogStorage) SetCurrentTerm(term int64) error {
	if m.SetCurrentTermError != nil {
		return m.SetCurrentTermError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.term = term
	return nil
}

func (m *MockLogStorage) GetVotedFor() (*raft.NodeID, error) {
	if m.GetVotedForError != nil {
		return nil, m.GetVotedForError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.votedFor, nil
}

func (m *MockLogStorage) SetVotedFor(candidateID *raft.NodeID) error {
	if m.SetVotedForError != nil {
		return m.SetVotedForError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votedFor = candidateID
	return nil
}

func (m *MockLogStorage) GetCommitIndex() (int64, error) {
	if m.GetCommitIndexError != nil {
		return 0, m.GetCommitIndexError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commitIndex, nil
}

func (m *MockLogStorage) SetCommitIndex(index int64) error {
	if m.SetCommitIndexError != nil {
		return m.SetCommitIndexError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitIndex = index
	return nil
}

func (m *MockLogStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called
func (m *MockLogStorage) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
