package server

import (
	"context"

	"raft-log-core/internal/pubsub"
	"raft-log-core/internal/raft"
	"raft-log-core/internal/raft/replica"
	"raft-log-core/internal/raft/wire"
)

// ServerAddress is the network address of a Server
type ServerAddress string

const (
	// ServerShutDown event is sent when the server is shutting down. The payload for this event is an empty struct.
	// Server events share the bus with replica events, so they are numbered after them.
	ServerShutDown pubsub.EventType = replica.ReplicaClosed + 1 + iota
)

type serverCtx struct {
	ID   raft.NodeID
	Addr ServerAddress
}

// LogReplica is the part of replica.Replica the server exposes over gRPC
type LogReplica interface {
	AppendEntry(term int64, data []byte, prev *raft.PrevLog) (raft.AppendResult, error)
	CommitUpTo(leaderCommit int64) (raft.CommitResult, error)
	AdvanceTerm(newTerm int64) (bool, int64, error)
	TermAt(index int64) int64
	Snapshot() raft.LogInfo
	Entries(from, to int64) []raft.LogEntry
}

// LogServiceServer is the server API of raftlog.LogService
type LogServiceServer interface {
	AppendEntry(context.Context, *wire.AppendEntryRequest) (*wire.AppendEntryResponse, error)
	CommitUpTo(context.Context, *wire.CommitRequest) (*wire.CommitResponse, error)
	AdvanceTerm(context.Context, *wire.AdvanceTermRequest) (*wire.AdvanceTermResponse, error)
	TermAt(context.Context, *wire.TermAtRequest) (*wire.TermAtResponse, error)
	Snapshot(context.Context, *wire.SnapshotRequest) (*wire.LogInfo, error)
}
