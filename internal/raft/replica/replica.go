package replica

import (
	"fmt"
	"sync"
	"time"

	"raft-log-core/internal/pubsub"
	"raft-log-core/internal/raft"
	"raft-log-core/internal/raft/storage"

	"go.uber.org/zap"
)

// Replica is the durable form of a raft.LogStore. Every state change decided by the store is written through to
// stable storage before the call returns, as Section 5.2 of the Raft paper requires before responding to RPCs.
// Calls are serialized, so the store and the storage never diverge because of interleaving.
type Replica struct {
	// Serializes mutations together with their persistence
	mu sync.Mutex

	nodeID  raft.NodeID
	store   *raft.LogStore
	storage storage.LogStorage

	// Optional collaborators
	metrics MetricsCollector
	pubSub  *pubsub.PubSubClient
	logger  *zap.SugaredLogger

	// failed holds the first storage error, see ErrReplicaFailed
	failed error
	closed bool
}

type Option func(*Replica)

func WithMetrics(m MetricsCollector) Option {
	return func(r *Replica) { r.metrics = m }
}

func WithPubSub(p *pubsub.PubSubClient) Option {
	return func(r *Replica) { r.pubSub = p }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Replica) { r.logger = l }
}

// Open rebuilds a replica from what s holds. initialTerm only matters when it is above the persisted term, e.g. on
// first boot.
func Open(nodeID raft.NodeID, initialTerm int64, s storage.LogStorage, opts ...Option) (*Replica, error) {
	r := &Replica{
		nodeID:  nodeID,
		store:   raft.NewLogStore(nodeID, initialTerm),
		storage: s,
		logger:  zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("nodeID", string(nodeID))

	state, err := storage.LoadState(s)
	if err != nil {
		return nil, fmt.Errorf("failed to load persistent state: %w", err)
	}

	if initialTerm > state.CurrentTerm {
		state.CurrentTerm = initialTerm
		state.VotedFor = nil
		if err := r.persistTerm(state.CurrentTerm, nil); err != nil {
			return nil, err
		}
	}

	if err := r.store.Restore(state); err != nil {
		return nil, fmt.Errorf("failed to restore log store: %w", err)
	}

	info := r.store.Snapshot()
	r.logger.Infow("replica opened",
		"term", info.CurrentTerm,
		"logLength", info.LogLength,
		"commitIndex", info.CommitIndex)

	return r, nil
}

// AppendEntry runs raft.LogStore.AppendEntry and persists its effects. A non-nil error is always an infrastructure
// failure, protocol rejections are reported through the result.
func (r *Replica) AppendEntry(term int64, data []byte, prev *raft.PrevLog) (raft.AppendResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.usableLocked(); err != nil {
		return raft.AppendResult{}, err
	}

	start := time.Now()
	before := r.store.Snapshot()
	res := r.store.AppendEntry(term, data, prev)

	if err := r.persistTermChange(before); err != nil {
		return res, r.failLocked(err)
	}

	var appended raft.LogEntry
	if res.Success && res.Message == raft.MsgEntryAppended {
		if res.Truncated > 0 {
			if err := r.storage.DeleteEntriesFrom(res.LogIndex); err != nil {
				return res, r.failLocked(fmt.Errorf("failed to truncate log from %d: %w", res.LogIndex, err))
			}
		}

		entry, err := r.store.Entry(res.LogIndex)
		if err != nil {
			return res, r.failLocked(err)
		}
		if err := r.storage.AppendEntry(entry); err != nil {
			return res, r.failLocked(fmt.Errorf("failed to persist entry %d: %w", res.LogIndex, err))
		}
		appended = entry
	}

	if r.metrics != nil {
		r.metrics.RecordAppendLatency(time.Since(start))
		if res.Success {
			r.metrics.RecordAppendAccepted()
		} else {
			r.metrics.RecordAppendRejected(res.Message)
		}
		r.metrics.RecordTruncation(res.Truncated)
	}

	if !res.Success {
		r.logger.Debugw("append rejected", "term", term, "prev", prev, "reason", res.Message)
	} else if res.Truncated > 0 {
		r.logger.Infow("conflicting suffix truncated", "from", res.LogIndex, "count", res.Truncated)
	}

	r.publishTermChange(before.CurrentTerm, res.CurrentTerm)
	if res.Truncated > 0 {
		publish(r, LogTruncated, LogTruncatedPayload{From: res.LogIndex, Count: res.Truncated})
	}
	if appended.Index > 0 {
		publish(r, EntryAppended, EntryAppendedPayload{Entry: appended})
	}

	return res, nil
}

// CommitUpTo runs raft.LogStore.CommitUpTo and persists the new commit index
func (r *Replica) CommitUpTo(leaderCommit int64) (raft.CommitResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.usableLocked(); err != nil {
		return raft.CommitResult{}, err
	}

	res := r.store.CommitUpTo(leaderCommit)

	if res.CommittedCount > 0 {
		if err := r.storage.SetCommitIndex(res.CommitIndex); err != nil {
			return res, r.failLocked(fmt.Errorf("failed to persist commit index %d: %w", res.CommitIndex, err))
		}
	}

	if r.metrics != nil {
		if res.Success {
			r.metrics.RecordCommitted(res.CommittedCount)
		} else {
			r.metrics.RecordCommitRejected()
		}
	}

	if !res.Success {
		r.logger.Debugw("commit index ahead of local log", "leaderCommit", leaderCommit, "commitIndex", res.CommitIndex)
	}

	if res.CommittedCount > 0 {
		publish(r, EntriesCommitted, EntriesCommittedPayload{
			From: res.CommitIndex - res.CommittedCount + 1,
			To:   res.CommitIndex,
		})
	}

	return res, nil
}

// AdvanceTerm runs raft.LogStore.AdvanceTerm and persists the new term. It also returns the current term as seen
// by this call, so callers get a pair that no concurrent mutation can split.
func (r *Replica) AdvanceTerm(newTerm int64) (bool, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.usableLocked(); err != nil {
		return false, 0, err
	}

	before := r.store.Snapshot()
	if !r.store.AdvanceTerm(newTerm) {
		return false, before.CurrentTerm, nil
	}

	if err := r.persistTermChange(before); err != nil {
		return true, newTerm, r.failLocked(err)
	}

	r.publishTermChange(before.CurrentTerm, newTerm)
	return true, newTerm, nil
}

// TermAt returns the term of the entry at index, see raft.LogStore.TermAt
func (r *Replica) TermAt(index int64) int64 {
	return r.store.TermAt(index)
}

// Snapshot returns a consistent view of the replica's log state
func (r *Replica) Snapshot() raft.LogInfo {
	return r.store.Snapshot()
}

// Entries returns the entries in the inclusive range [from, to], clamped to the log
func (r *Replica) Entries(from, to int64) []raft.LogEntry {
	entries := r.store.EntriesFrom(from)
	out := entries[:0]
	for _, e := range entries {
		if e.Index > to {
			break
		}
		out = append(out, e)
	}
	return out
}

// NodeID returns the identity of the replica
func (r *Replica) NodeID() raft.NodeID {
	return r.nodeID
}

// Close stops accepting calls, notifies subscribers and closes the storage
func (r *Replica) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	publish(r, ReplicaClosed, struct{}{})
	r.logger.Infow("replica closed")

	if err := r.storage.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}
	return nil
}

func (r *Replica) usableLocked() error {
	if r.closed {
		return ErrReplicaClosed
	}
	if r.failed != nil {
		return fmt.Errorf("%w: %w", ErrReplicaFailed, r.failed)
	}
	return nil
}

func (r *Replica) failLocked(err error) error {
	r.failed = err
	r.logger.Errorw("storage write failed, replica stopped", "error", err)
	return fmt.Errorf("%w: %w", ErrReplicaFailed, err)
}

// persistTermChange writes the term and the vote if the last operation changed them
func (r *Replica) persistTermChange(before raft.LogInfo) error {
	after := r.store.Snapshot()
	if after.CurrentTerm == before.CurrentTerm {
		return nil
	}
	return r.persistTerm(after.CurrentTerm, after.VotedFor)
}

func (r *Replica) persistTerm(term int64, votedFor *raft.NodeID) error {
	if err := r.storage.SetCurrentTerm(term); err != nil {
		return fmt.Errorf("failed to persist current term %d: %w", term, err)
	}
	if err := r.storage.SetVotedFor(votedFor); err != nil {
		return fmt.Errorf("failed to persist vote: %w", err)
	}
	return nil
}

func (r *Replica) publishTermChange(from, to int64) {
	if to <= from {
		return
	}
	if r.metrics != nil {
		r.metrics.RecordTermAdvance()
	}
	r.logger.Infow("term advanced", "from", from, "to", to)
	publish(r, TermAdvanced, TermAdvancedPayload{From: from, To: to})
}

// publish is a no-op when the replica has no bus
func publish[T any](r *Replica, eventType pubsub.EventType, payload T) {
	if r.pubSub == nil {
		return
	}
	pubsub.Publish(r.pubSub, pubsub.NewEvent(eventType, payload))
}
