package state_machine

import (
	"strings"
	"sync"

	"raft-log-core/internal/raft"

	"go.uber.org/zap"
)

// KVStateMachine is a simple key-value store that implements the StateMachine interface. Entry data is a command
// in the format "SET key=value" or "DEL key".
type KVStateMachine struct {
	mu          sync.RWMutex
	store       map[string]string
	lastApplied int64
	logger      *zap.SugaredLogger
}

// NewKVStateMachine creates a new key-value state machine. A nil logger disables logging.
func NewKVStateMachine(logger *zap.SugaredLogger) *KVStateMachine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &KVStateMachine{
		store:  make(map[string]string),
		logger: logger.Named("kv"),
	}
}

func (kv *KVStateMachine) Apply(entries []raft.LogEntry) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	for _, entry := range entries {
		if entry.Index <= kv.lastApplied {
			continue
		}
		if entry.Index != kv.lastApplied+1 {
			// Applying past a gap would skip commands
			kv.logger.Warnw("gap in applied entries", "lastApplied", kv.lastApplied, "index", entry.Index)
			return
		}

		kv.applyLocked(entry)
		kv.lastApplied = entry.Index
	}
}

func (kv *KVStateMachine) applyLocked(entry raft.LogEntry) {
	command := string(entry.Data)
	parts := strings.Fields(command)

	if len(parts) == 0 {
		return
	}

	switch strings.ToUpper(parts[0]) {
	case "SET":
		if len(parts) < 2 {
			break
		}
		// Parse "key=value"
		key, value, ok := strings.Cut(parts[1], "=")
		if !ok {
			break
		}
		kv.store[key] = value
		kv.logger.Debugw("applied SET", "key", key, "value", value, "index", entry.Index)
		return
	case "DEL":
		if len(parts) < 2 {
			break
		}
		delete(kv.store, parts[1])
		kv.logger.Debugw("applied DEL", "key", parts[1], "index", entry.Index)
		return
	}

	kv.logger.Infow("ignoring unknown command", "command", command, "index", entry.Index)
}

func (kv *KVStateMachine) LastApplied() int64 {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return kv.lastApplied
}

// Get returns the value stored under key
func (kv *KVStateMachine) Get(key string) (string, bool) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	value, ok := kv.store[key]
	return value, ok
}

// GetAll returns a copy of all key-value pairs
func (kv *KVStateMachine) GetAll() map[string]string {
	kv.mu.RLock()
	defer kv.mu.RUnlock()

	all := make(map[string]string, len(kv.store))
	for k, v := range kv.store {
		all[k] = v
	}
	return all
}
