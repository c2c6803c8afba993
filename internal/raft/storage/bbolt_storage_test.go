package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"raft-log-core/internal/raft"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTempDB(t *testing.T) (*BboltDb, string, func()) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := NewBboltStorage(dbPath)
	require.NoError(t, err)
	require.NotNil(t, db)

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}

	return db, dbPath, cleanup
}

func entries(terms ...int64) []raft.LogEntry {
	out := make([]raft.LogEntry, len(terms))
	for i, term := range terms {
		out[i] = raft.LogEntry{Index: int64(i + 1), Term: term, Data: []byte{byte(i)}}
	}
	return out
}

func TestNewBboltStorage(t *testing.T) {
	t.Run("creates new database successfully", func(t *testing.T) {
		db, dbPath, cleanup := createTempDB(t)
		defer cleanup()

		assert.NotNil(t, db.conn)

		_, err := os.Stat(dbPath)
		assert.NoError(t, err)
	})

	t.Run("fails with invalid path", func(t *testing.T) {
		db, err := NewBboltStorage("/invalid/path/that/does/not/exist/test.db")
		assert.Error(t, err)
		assert.Nil(t, db)
	})
}

func TestBboltStorage_AppendEntry(t *testing.T) {
	db, _, cleanup := createTempDB(t)
	defer cleanup()

	t.Run("appends single entry", func(t *testing.T) {
		entry := raft.LogEntry{
			Index:     1,
			Term:      1,
			Data:      []byte("test command"),
			CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		}

		require.NoError(t, db.AppendEntry(entry))

		retrieved, err := db.GetEntry(1)
		require.NoError(t, err)
		assert.Equal(t, entry.Index, retrieved.Index)
		assert.Equal(t, entry.Term, retrieved.Term)
		assert.Equal(t, entry.Data, retrieved.Data)
		assert.True(t, entry.CreatedAt.Equal(retrieved.CreatedAt))
	})

	t.Run("overwrites existing entry", func(t *testing.T) {
		require.NoError(t, db.AppendEntry(raft.LogEntry{Index: 2, Term: 1, Data: []byte("first")}))
		require.NoError(t, db.AppendEntry(raft.LogEntry{Index: 2, Term: 2, Data: []byte("second")}))

		retrieved, err := db.GetEntry(2)
		require.NoError(t, err)
		assert.Equal(t, int64(2), retrieved.Term)
		assert.Equal(t, []byte("second"), retrieved.Data)
	})

	t.Run("rejects index 0", func(t *testing.T) {
		assert.Error(t, db.AppendEntry(raft.LogEntry{Index: 0, Term: 1}))
	})
}

func TestBboltStorage_AppendEntries(t *testing.T) {
	db, _, cleanup := createTempDB(t)
	defer cleanup()

	t.Run("appends multiple entries", func(t *testing.T) {
		batch := entries(1, 1, 2)
		require.NoError(t, db.AppendEntries(batch))

		for _, entry := range batch {
			retrieved, err := db.GetEntry(entry.Index)
			require.NoError(t, err)
			assert.Equal(t, entry.Term, retrieved.Term)
		}
	})

	t.Run("appends empty list", func(t *testing.T) {
		assert.NoError(t, db.AppendEntries([]raft.LogEntry{}))
	})
}

func TestBboltStorage_GetEntry(t *testing.T) {
	db, _, cleanup := createTempDB(t)
	defer cleanup()

	require.NoError(t, db.AppendEntries(entries(1, 1, 3)))

	t.Run("retrieves existing entry", func(t *testing.T) {
		retrieved, err := db.GetEntry(3)
		require.NoError(t, err)
		assert.Equal(t, int64(3), retrieved.Term)
	})

	t.Run("fails for non-existent entry", func(t *testing.T) {
		_, err := db.GetEntry(999)
		assert.ErrorIs(t, err, raft.ErrEntryNotFound)

		_, err = db.GetEntry(0)
		assert.ErrorIs(t, err, raft.ErrEntryNotFound)
	})
}

func TestBboltStorage_GetEntriesFrom(t *testing.T) {
	db, _, cleanup := createTempDB(t)
	defer cleanup()

	require.NoError(t, db.AppendEntries(entries(1, 1, 2)))

	t.Run("retrieves all entries from start index", func(t *testing.T) {
		retrieved, err := db.GetEntriesFrom(2)
		require.NoError(t, err)
		require.Len(t, retrieved, 2)
		assert.Equal(t, int64(2), retrieved[0].Index)
		assert.Equal(t, int64(3), retrieved[1].Index)
	})

	t.Run("retrieves from first entry", func(t *testing.T) {
		retrieved, err := db.GetEntriesFrom(1)
		require.NoError(t, err)
		assert.Len(t, retrieved, 3)
	})

	t.Run("returns empty when start is beyond last index", func(t *testing.T) {
		retrieved, err := db.GetEntriesFrom(100)
		require.NoError(t, err)
		assert.Empty(t, retrieved)
	})
}

func TestBboltStorage_DeleteEntriesFrom(t *testing.T) {
	db, _, cleanup := createTempDB(t)
	defer cleanup()

	t.Run("deletes entries from index", func(t *testing.T) {
		require.NoError(t, db.AppendEntries(entries(1, 1, 2, 2, 2)))

		require.NoError(t, db.DeleteEntriesFrom(3))

		for _, index := range []int64{3, 4, 5} {
			_, err := db.GetEntry(index)
			assert.ErrorIs(t, err, raft.ErrEntryNotFound)
		}

		remaining, err := db.GetEntriesFrom(1)
		require.NoError(t, err)
		assert.Len(t, remaining, 2)

		last, err := db.GetLastIndex()
		require.NoError(t, err)
		assert.Equal(t, int64(2), last)
	})

	t.Run("handles delete from non-existent index", func(t *testing.T) {
		assert.NoError(t, db.DeleteEntriesFrom(999))
	})
}

func TestBboltStorage_GetLastIndexAndTerm(t *testing.T) {
	db, _, cleanup := createTempDB(t)
	defer cleanup()

	t.Run("returns 0 for empty log", func(t *testing.T) {
		index, err := db.GetLastIndex()
		assert.NoError(t, err)
		assert.Equal(t, int64(0), index)

		term, err := db.GetLastTerm()
		assert.NoError(t, err)
		assert.Equal(t, int64(0), term)
	})

	t.Run("returns last entry", func(t *testing.T) {
		require.NoError(t, db.AppendEntries(entries(1, 3)))

		index, err := db.GetLastIndex()
		assert.NoError(t, err)
		assert.Equal(t, int64(2), index)

		term, err := db.GetLastTerm()
		assert.NoError(t, err)
		assert.Equal(t, int64(3), term)
	})
}

func TestBboltStorage_CurrentTermAndCommitIndex(t *testing.T) {
	db, dbPath, cleanup := createTempDB(t)
	defer cleanup()

	t.Run("defaults are 0", func(t *testing.T) {
		term, err := db.GetCurrentTerm()
		assert.NoError(t, err)
		assert.Equal(t, int64(0), term)

		commit, err := db.GetCommitIndex()
		assert.NoError(t, err)
		assert.Equal(t, int64(0), commit)
	})

	t.Run("persists across reopens", func(t *testing.T) {
		require.NoError(t, db.SetCurrentTerm(10))
		require.NoError(t, db.SetCommitIndex(4))
		db.Close()

		db2, err := NewBboltStorage(dbPath)
		require.NoError(t, err)
		defer db2.Close()

		term, err := db2.GetCurrentTerm()
		assert.NoError(t, err)
		assert.Equal(t, int64(10), term)

		commit, err := db2.GetCommitIndex()
		assert.NoError(t, err)
		assert.Equal(t, int64(4), commit)
	})
}

func TestBboltStorage_VotedFor(t *testing.T) {
	db, _, cleanup := createTempDB(t)
	defer cleanup()

	t.Run("default votedFor is nil", func(t *testing.T) {
		votedFor, err := db.GetVotedFor()
		assert.NoError(t, err)
		assert.Nil(t, votedFor)
	})

	t.Run("sets and gets votedFor", func(t *testing.T) {
		candidateID := raft.NodeID("server-123")
		require.NoError(t, db.SetVotedFor(&candidateID))

		votedFor, err := db.GetVotedFor()
		assert.NoError(t, err)
		require.NotNil(t, votedFor)
		assert.Equal(t, candidateID, *votedFor)
	})

	t.Run("clears votedFor with nil", func(t *testing.T) {
		require.NoError(t, db.SetVotedFor(nil))

		votedFor, err := db.GetVotedFor()
		assert.NoError(t, err)
		assert.Nil(t, votedFor)
	})
}

func TestLoadState(t *testing.T) {
	db, _, cleanup := createTempDB(t)
	defer cleanup()

	voter := raft.NodeID("server-2")
	require.NoError(t, db.AppendEntries(entries(1, 2)))
	require.NoError(t, db.SetCurrentTerm(2))
	require.NoError(t, db.SetVotedFor(&voter))
	require.NoError(t, db.SetCommitIndex(1))

	state, err := LoadState(db)
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.CurrentTerm)
	assert.Equal(t, int64(1), state.CommitIndex)
	require.NotNil(t, state.VotedFor)
	assert.Equal(t, voter, *state.VotedFor)
	assert.Len(t, state.Entries, 2)

	store := raft.NewLogStore("server-1", 0)
	require.NoError(t, store.Restore(state))
	assert.Equal(t, int64(2), store.TermAt(2))
}

func TestBboltStorage_Close(t *testing.T) {
	db, _, cleanup := createTempDB(t)
	defer cleanup()

	assert.NoError(t, db.Close())
	assert.Error(t, db.AppendEntry(raft.LogEntry{Index: 1, Term: 1}))
}
