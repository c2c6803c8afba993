package storage

import (
	"encoding/binary"
	"fmt"

	"raft-log-core/internal/raft"
	"raft-log-core/internal/raft/wire"

	"go.etcd.io/bbolt"
)

var (
	// Bucket names
	logBucket      = []byte("logs")
	metadataBucket = []byte("metadata")

	// Metadata keys
	currentTermKey = []byte("currentTerm")
	votedForKey    = []byte("votedFor")
	commitIndexKey = []byte("commitIndex")
)

type BboltDb struct {
	conn *bbolt.DB
}

// NewBboltStorage creates a new BBolt-backed storage instance
func NewBboltStorage(path string) (*BboltDb, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(logBucket); err != nil {
			return fmt.Errorf("failed to create log bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(metadataBucket); err != nil {
			return fmt.Errorf("failed to create metadata bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BboltDb{conn: db}, nil
}

// AppendEntry stores a single log entry under its index
func (b *BboltDb) AppendEntry(entry raft.LogEntry) error {
	return b.conn.Update(func(tx *bbolt.Tx) error {
		return putEntry(tx.Bucket(logBucket), entry)
	})
}

// AppendEntries stores multiple log entries in one transaction
func (b *BboltDb) AppendEntries(entries []raft.LogEntry) error {
	return b.conn.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(logBucket)
		for _, entry := range entries {
			if err := putEntry(bucket, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

func putEntry(bucket *bbolt.Bucket, entry raft.LogEntry) error {
	if entry.Index < 1 {
		return fmt.Errorf("invalid log entry index %d", entry.Index)
	}
	data, err := wire.MarshalEntry(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}
	return bucket.Put(indexToKey(entry.Index), data)
}

// GetEntry retrieves the log entry at the specified index
func (b *BboltDb) GetEntry(index int64) (raft.LogEntry, error) {
	var entry raft.LogEntry
	err := b.conn.View(func(tx *bbolt.Tx) error {
		if index < 1 {
			return fmt.Errorf("%w: index %d", raft.ErrEntryNotFound, index)
		}
		data := tx.Bucket(logBucket).Get(indexToKey(index))
		if data == nil {
			return fmt.Errorf("%w: index %d", raft.ErrEntryNotFound, index)
		}

		var err error
		entry, err = wire.UnmarshalEntry(data)
		return err
	})
	return entry, err
}

// GetEntriesFrom retrieves all log entries starting from the given index
func (b *BboltDb) GetEntriesFrom(startIndex int64) ([]raft.LogEntry, error) {
	entries := make([]raft.LogEntry, 0)
	if startIndex < 1 {
		startIndex = 1
	}
	err := b.conn.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(logBucket).Cursor()

		for k, v := cursor.Seek(indexToKey(startIndex)); k != nil; k, v = cursor.Next() {
			entry, err := wire.UnmarshalEntry(v)
			if err != nil {
				return fmt.Errorf("failed to unmarshal log entry at index %d: %w", keyToIndex(k), err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// DeleteEntriesFrom deletes all log entries starting from the given index (inclusive)
func (b *BboltDb) DeleteEntriesFrom(index int64) error {
	if index < 1 {
		index = 1
	}
	return b.conn.Update(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(logBucket).Cursor()

		// Cursor.Delete keeps the cursor usable, Bucket.Delete during iteration would skip keys
		for k, _ := cursor.Seek(indexToKey(index)); k != nil; k, _ = cursor.Seek(indexToKey(index)) {
			if err := cursor.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetLastIndex returns the index of the last log entry (0 if log is empty)
func (b *BboltDb) GetLastIndex() (int64, error) {
	var lastIndex int64
	err := b.conn.View(func(tx *bbolt.Tx) error {
		k, _ := tx.Bucket(logBucket).Cursor().Last()
		if k != nil {
			lastIndex = keyToIndex(k)
		}
		return nil
	})
	return lastIndex, err
}

// GetLastTerm returns the term of the last log entry (0 if log is empty)
func (b *BboltDb) GetLastTerm() (int64, error) {
	var lastTerm int64
	err := b.conn.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket(logBucket).Cursor().Last()
		if v == nil {
			return nil
		}

		entry, err := wire.UnmarshalEntry(v)
		if err != nil {
			return fmt.Errorf("failed to unmarshal last log entry: %w", err)
		}
		lastTerm = entry.Term
		return nil
	})
	return lastTerm, err
}

func (b *BboltDb) GetCurrentTerm() (int64, error) {
	return b.getInt64(currentTermKey)
}

func (b *BboltDb) SetCurrentTerm(term int64) error {
	return b.putInt64(currentTermKey, term)
}

func (b *BboltDb) GetCommitIndex() (int64, error) {
	return b.getInt64(commitIndexKey)
}

func (b *BboltDb) SetCommitIndex(index int64) error {
	return b.putInt64(commitIndexKey, index)
}

// GetVotedFor retrieves the candidate ID this server voted for in the current term
func (b *BboltDb) GetVotedFor() (*raft.NodeID, error) {
	var votedFor *raft.NodeID
	err := b.conn.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(metadataBucket).Get(votedForKey)
		if data == nil {
			return nil
		}

		candidateID := raft.NodeID(data)
		votedFor = &candidateID
		return nil
	})
	return votedFor, err
}

// SetVotedFor persists the candidate ID this server voted for
func (b *BboltDb) SetVotedFor(candidateID *raft.NodeID) error {
	return b.conn.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(metadataBucket)

		if candidateID == nil {
			// A new term starts without a vote
			return bucket.Delete(votedForKey)
		}

		return bucket.Put(votedForKey, []byte(*candidateID))
	})
}

// Close closes the storage connection
func (b *BboltDb) Close() error {
	return b.conn.Close()
}

func (b *BboltDb) getInt64(key []byte) (int64, error) {
	var v int64
	err := b.conn.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(metadataBucket).Get(key)
		if data == nil {
			return nil
		}
		if len(data) != 8 {
			return fmt.Errorf("metadata %s has invalid length %d", key, len(data))
		}
		v = int64(binary.BigEndian.Uint64(data))
		return nil
	})
	return v, err
}

func (b *BboltDb) putInt64(key []byte, v int64) error {
	return b.conn.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(metadataBucket).Put(key, int64ToBytes(v))
	})
}

// Keys are big-endian so that bbolt's byte ordering matches log order
func indexToKey(index int64) []byte {
	return int64ToBytes(index)
}

func keyToIndex(k []byte) int64 {
	return int64(binary.BigEndian.Uint64(k))
}

func int64ToBytes(n int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n))
	return b
}
