package state_machine

import (
	"fmt"
	"sync"
	"testing"

	"raft-log-core/internal/raft"

	"github.com/stretchr/testify/assert"
)

// commands builds contiguous entries starting at index from
func commands(from int64, cmds ...string) []raft.LogEntry {
	entries := make([]raft.LogEntry, len(cmds))
	for i, cmd := range cmds {
		entries[i] = raft.LogEntry{Index: from + int64(i), Term: 1, Data: []byte(cmd)}
	}
	return entries
}

func TestNewKVStateMachine(t *testing.T) {
	sm := NewKVStateMachine(nil)

	assert.NotNil(t, sm)
	assert.NotNil(t, sm.store)
	assert.Len(t, sm.store, 0)
	assert.Equal(t, int64(0), sm.LastApplied())
}

func TestKVStateMachine_Apply_SET(t *testing.T) {
	sm := NewKVStateMachine(nil)

	t.Run("applies SET command", func(t *testing.T) {
		sm.Apply(commands(1, "SET key1=value1"))

		value, ok := sm.Get("key1")
		assert.True(t, ok)
		assert.Equal(t, "value1", value)
		assert.Equal(t, int64(1), sm.LastApplied())
	})

	t.Run("applies multiple SET commands", func(t *testing.T) {
		sm.Apply(commands(2, "SET key2=value2", "SET key3=value3"))

		value, ok := sm.Get("key2")
		assert.True(t, ok)
		assert.Equal(t, "value2", value)

		value, ok = sm.Get("key3")
		assert.True(t, ok)
		assert.Equal(t, "value3", value)
	})

	t.Run("overwrites existing key", func(t *testing.T) {
		sm.Apply(commands(4, "SET key1=new_value"))

		value, ok := sm.Get("key1")
		assert.True(t, ok)
		assert.Equal(t, "new_value", value)
	})

	t.Run("handles SET with equals sign in value", func(t *testing.T) {
		sm.Apply(commands(5, "SET key4=val=ue"))

		value, ok := sm.Get("key4")
		assert.True(t, ok)
		assert.Equal(t, "val=ue", value)
	})
}

func TestKVStateMachine_Apply_DEL(t *testing.T) {
	sm := NewKVStateMachine(nil)

	// Set up initial state
	sm.Apply(commands(1, "SET key1=value1", "SET key2=value2"))

	t.Run("deletes existing key", func(t *testing.T) {
		sm.Apply(commands(3, "DEL key1"))

		_, ok := sm.Get("key1")
		assert.False(t, ok)

		// key2 should still exist
		value, ok := sm.Get("key2")
		assert.True(t, ok)
		assert.Equal(t, "value2", value)
	})

	t.Run("handles delete of non-existent key", func(t *testing.T) {
		sm.Apply(commands(4, "DEL nonexistent"))
		assert.Equal(t, int64(4), sm.LastApplied())
	})
}

func TestKVStateMachine_Apply_InvalidCommands(t *testing.T) {
	sm := NewKVStateMachine(nil)

	sm.Apply(commands(1, "", "FOO bar", "SET", "SET novalue", "DEL"))

	// Invalid commands still consume their index
	assert.Equal(t, int64(5), sm.LastApplied())
	assert.Empty(t, sm.GetAll())
}

func TestKVStateMachine_Apply_Order(t *testing.T) {
	t.Run("skips already applied entries", func(t *testing.T) {
		sm := NewKVStateMachine(nil)
		sm.Apply(commands(1, "SET k=1", "SET k=2"))

		// Re-delivery of index 1 must not roll the value back
		sm.Apply(commands(1, "SET k=1", "SET k=2", "SET k=3"))

		value, _ := sm.Get("k")
		assert.Equal(t, "3", value)
		assert.Equal(t, int64(3), sm.LastApplied())
	})

	t.Run("stops at a gap", func(t *testing.T) {
		sm := NewKVStateMachine(nil)
		sm.Apply(commands(1, "SET a=1"))

		sm.Apply(commands(3, "SET b=2"))

		_, ok := sm.Get("b")
		assert.False(t, ok)
		assert.Equal(t, int64(1), sm.LastApplied())
	})
}

func TestKVStateMachine_GetAll(t *testing.T) {
	sm := NewKVStateMachine(nil)

	t.Run("returns empty map for empty state machine", func(t *testing.T) {
		all := sm.GetAll()
		assert.NotNil(t, all)
		assert.Len(t, all, 0)
	})

	t.Run("returns copy of all key-value pairs", func(t *testing.T) {
		sm.Apply(commands(1, "SET key1=value1", "SET key2=value2", "SET key3=value3"))

		all := sm.GetAll()
		assert.Len(t, all, 3)
		assert.Equal(t, "value1", all["key1"])

		// Verify it's a copy - modifying returned map shouldn't affect state machine
		all["key1"] = "modified"

		value, ok := sm.Get("key1")
		assert.True(t, ok)
		assert.Equal(t, "value1", value) // Original value unchanged
	})
}

func TestKVStateMachine_CaseInsensitiveCommands(t *testing.T) {
	sm := NewKVStateMachine(nil)

	sm.Apply(commands(1, "set key1=value1", "del key1", "SeT key2=value2"))

	_, ok := sm.Get("key1")
	assert.False(t, ok) // Should be deleted

	value, ok := sm.Get("key2")
	assert.True(t, ok)
	assert.Equal(t, "value2", value)
}

func TestKVStateMachine_Concurrency(t *testing.T) {
	sm := NewKVStateMachine(nil)

	entries := make([]string, 100)
	for i := range entries {
		entries[i] = fmt.Sprintf("SET key%d=value", i)
	}
	all := commands(1, entries...)

	var wg sync.WaitGroup

	// Overlapping batches, every entry is applied exactly once
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sm.Apply(all)
		}()
	}

	// Concurrent readers
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sm.Get("key1")
			sm.GetAll()
		}()
	}

	wg.Wait()

	assert.Equal(t, int64(100), sm.LastApplied())
	assert.Len(t, sm.GetAll(), 100)
}
