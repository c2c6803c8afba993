package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"raft-log-core/internal/raft"
	"raft-log-core/internal/raft/wire"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	// RPCTimeout is the maximum time to wait for a single RPC attempt.
	// Section 5.6 of the Raft paper puts broadcast time between 0.5ms and 20ms, but an append on the follower also
	// pays for several fsyncing bbolt transactions, which can take tens of milliseconds on a spinning or busy disk.
	RPCTimeout = 250 * time.Millisecond

	// MaxRetries is the number of attempts made for one call before giving up
	MaxRetries = 3

	// RetryBackoffBase is the base duration for the linear backoff between retries
	RetryBackoffBase = 10 * time.Millisecond

	// MaxRetryBackoff is the maximum backoff duration between retries
	MaxRetryBackoff = 100 * time.Millisecond
)

// Client calls raftlog.LogService on other nodes. Connections are pooled per node ID and resolved through the
// raftlog scheme.
type Client struct {
	// The node issuing the calls, sent to servers as caller ID
	self raft.NodeID
	// A map to store the underlying grpc.ClientConn for each peer. It is a map[raft.NodeID]*grpc.ClientConn.
	// sync.Map provides thread-safe access to the map, and is optimized for read operations, reducing the overhead of
	// manual locks
	clientsConnPool *sync.Map

	rpcTimeout  time.Duration
	maxRetries  int
	dialOptions []grpc.DialOption
	logger      *zap.SugaredLogger
}

type ClientOption func(*Client)

// WithRPCTimeout overrides RPCTimeout
func WithRPCTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.rpcTimeout = d }
}

// WithMaxRetries overrides MaxRetries. Values below 1 mean a single attempt.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) { c.maxRetries = max(n, 1) }
}

// WithDialOptions appends options used for every peer connection, e.g. a custom dialer in tests
func WithDialOptions(opts ...grpc.DialOption) ClientOption {
	return func(c *Client) { c.dialOptions = append(c.dialOptions, opts...) }
}

func WithClientLogger(logger *zap.SugaredLogger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client and connects to every peer. A peer that fails to connect is logged and skipped.
func NewClient(self raft.NodeID, peers map[raft.NodeID]ServerAddress, opts ...ClientOption) *Client {
	c := &Client{
		self:            self,
		clientsConnPool: &sync.Map{},
		rpcTimeout:      RPCTimeout,
		maxRetries:      MaxRetries,
		logger:          zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("client")

	for id, addr := range peers {
		if err := c.AddPeer(id, addr); err != nil {
			// Failing to connect to a single node should not prevent connections to the others
			c.logger.Warnw("failed establishing a gRPC channel to peer", "peer", id, "error", err)
		}
	}

	return c
}

// getClientConn retrieves a grpc.ClientConn for the given peer from the connection pool
func (c *Client) getClientConn(peerID raft.NodeID) (*grpc.ClientConn, error) {
	clientConn, ok := c.clientsConnPool.Load(peerID)
	if !ok {
		return nil, fmt.Errorf("gRPC client connection not found for peer %v", peerID)
	}

	// We must type assert the value returned by Load, as it is of type `any` by default
	conn, ok := clientConn.(*grpc.ClientConn)
	if !ok {
		return nil, fmt.Errorf("invalid clientConn type for peer %v. Type is %T", peerID, clientConn)
	}

	return conn, nil
}

func (c *Client) AppendEntry(ctx context.Context, peerID raft.NodeID, term int64, data []byte, prev *raft.PrevLog) (raft.AppendResult, error) {
	resp := &wire.AppendEntryResponse{}
	// Without prev the entry lands at len(log)+1 on every delivery, so an attempt that may have reached the server
	// must not be repeated. With prev a repeat hits the same-term no-op.
	err := c.call(ctx, peerID, AppendEntryMethod, &wire.AppendEntryRequest{Term: term, Data: data, Prev: prev}, resp, prev != nil)
	return resp.AppendResult, err
}

func (c *Client) CommitUpTo(ctx context.Context, peerID raft.NodeID, leaderCommit int64) (raft.CommitResult, error) {
	resp := &wire.CommitResponse{}
	err := c.call(ctx, peerID, CommitUpToMethod, &wire.CommitRequest{LeaderCommit: leaderCommit}, resp, true)
	return resp.CommitResult, err
}

// AdvanceTerm returns whether the peer moved to newTerm and the term it is at after the call
func (c *Client) AdvanceTerm(ctx context.Context, peerID raft.NodeID, newTerm int64) (bool, int64, error) {
	resp := &wire.AdvanceTermResponse{}
	err := c.call(ctx, peerID, AdvanceTermMethod, &wire.AdvanceTermRequest{Term: newTerm}, resp, true)
	return resp.Advanced, resp.CurrentTerm, err
}

func (c *Client) TermAt(ctx context.Context, peerID raft.NodeID, index int64) (int64, error) {
	resp := &wire.TermAtResponse{}
	err := c.call(ctx, peerID, TermAtMethod, &wire.TermAtRequest{Index: index}, resp, true)
	return resp.Term, err
}

func (c *Client) Snapshot(ctx context.Context, peerID raft.NodeID) (raft.LogInfo, error) {
	resp := &wire.LogInfo{}
	err := c.call(ctx, peerID, SnapshotMethod, &wire.SnapshotRequest{}, resp, true)
	return resp.LogInfo, err
}

// call invokes method with a per-attempt timeout. Only transport failures are retried, every attempt carries the
// same request ID. A call that is not idempotent is retried only when the server cannot have applied it.
func (c *Client) call(ctx context.Context, peerID raft.NodeID, method string, req, resp wire.Message, idempotent bool) error {
	conn, err := c.getClientConn(peerID)
	if err != nil {
		// Peer no longer known, don't retry
		return fmt.Errorf("peer %s not found: %w", peerID, err)
	}

	reqID := uuid.New().String()
	ctx = metadata.AppendToOutgoingContext(ctx, requestIDHeader, reqID, callerIDHeader, string(c.self))

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		// Create a new context with timeout for each attempt
		rpcCtx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
		lastErr = conn.Invoke(rpcCtx, method, req, resp)
		cancel() // Always clean up the context

		if lastErr == nil {
			if attempt > 0 {
				c.logger.Debugw("rpc succeeded after retries", "method", method, "peer", peerID, "retries", attempt)
			}
			return nil
		}

		if !retryable(lastErr) || (!idempotent && !neverApplied(lastErr)) {
			return fmt.Errorf("%s to %s failed: %w", method, peerID, lastErr)
		}

		// Check if parent context is cancelled (e.g., client shutting down)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s to %s cancelled: %w", method, peerID, ctx.Err())
		default:
		}

		// Don't sleep after the last attempt
		if attempt < c.maxRetries-1 {
			// Linear backoff with cap: 10ms, 20ms, 30ms...
			backoff := min(RetryBackoffBase*time.Duration(attempt+1), MaxRetryBackoff)
			time.Sleep(backoff)
		}
	}

	// All retries exhausted - log once here
	c.logger.Warnw("rpc failed", "method", method, "peer", peerID, "attempts", c.maxRetries, "requestID", reqID, "error", lastErr)
	return fmt.Errorf("%s to %s failed after %d attempts: %w", method, peerID, c.maxRetries, lastErr)
}

// retryable reports whether err is a transport failure worth another attempt
func retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// neverApplied reports whether err guarantees the server did not run the handler. Unavailable comes either from a
// connection that was never established or from a closed replica. A deadline may expire after the handler started.
func neverApplied(err error) bool {
	return status.Code(err) == codes.Unavailable
}

// AddPeer registers the peer's address with the resolver and opens a connection to it
func (c *Client) AddPeer(peerID raft.NodeID, peerAddr ServerAddress) error {
	// Register the address first, an existing connection then picks up the change
	RegisterResolverPeer(peerID, peerAddr)

	if _, err := c.getClientConn(peerID); err == nil {
		// Connection already exists, nothing to do
		return nil
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(wire.Codec{})),
	}, c.dialOptions...)

	conn, err := grpc.NewClient(targetFor(peerID), opts...)
	if err != nil {
		return fmt.Errorf("failed to establish gRPC connection to peer %s: %w", peerID, err)
	}

	c.clientsConnPool.Store(peerID, conn)
	c.logger.Debugw("added connection", "peer", peerID, "address", peerAddr)
	return nil
}

// RemovePeer closes and removes the connection to a peer and forgets its address
func (c *Client) RemovePeer(peerID raft.NodeID) {
	UnregisterResolverPeer(peerID)
	if value, ok := c.clientsConnPool.LoadAndDelete(peerID); ok {
		if conn, ok := value.(*grpc.ClientConn); ok {
			if err := conn.Close(); err != nil {
				c.logger.Warnw("failed to close connection to removed peer", "peer", peerID, "error", err)
			}
		}
	}
}

// CloseAllClients closes all gRPC client connections
func (c *Client) CloseAllClients() {
	// Range is a thread-safe way to iterate over a sync.Map.
	c.clientsConnPool.Range(func(key, value any) bool {
		if conn, ok := value.(*grpc.ClientConn); ok {
			if err := conn.Close(); err != nil {
				c.logger.Warnw("failed to close connection", "peer", key, "error", err)
			}
		}
		c.clientsConnPool.Delete(key)
		// Return true to continue the iteration.
		return true
	})
	c.logger.Debugw("all gRPC client connections closed")
}
