package server

import (
	"context"

	"raft-log-core/internal"
	"raft-log-core/internal/raft"
)

// Metadata keys carried by LogService calls
const (
	requestIDHeader = "x-request-id"
	callerIDHeader  = "x-caller-id"
)

var (
	requestID = internal.NewCtxKey[string]("requestID")
	callerID  = internal.NewCtxKey[raft.NodeID]("callerID")
	serverID  = internal.NewCtxKey[raft.NodeID]("serverID")
)

func SetRequestID(ctx context.Context, id string) context.Context {
	return requestID.With(ctx, id)
}

func GetRequestID(ctx context.Context) (string, bool) {
	return requestID.From(ctx)
}

// SetCallerID records the node that issued the call, usually the leader
func SetCallerID(ctx context.Context, id raft.NodeID) context.Context {
	return callerID.With(ctx, id)
}

func GetCallerID(ctx context.Context) (raft.NodeID, bool) {
	return callerID.From(ctx)
}

func SetServerID(ctx context.Context, id raft.NodeID) context.Context {
	return serverID.With(ctx, id)
}

func GetServerID(ctx context.Context) (raft.NodeID, bool) {
	return serverID.From(ctx)
}
