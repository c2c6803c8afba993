package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"raft-log-core/internal/pubsub"
	"raft-log-core/internal/raft"
	"raft-log-core/internal/raft/replica"
	"raft-log-core/internal/raft/state_machine"
	"raft-log-core/internal/raft/wire"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Server exposes one replica as raftlog.LogService. It holds no log state of its own, every call is answered by
// the replica.
type Server struct {
	// The ID of the node in the cluster
	ID raft.NodeID
	// The network address of the server, known once StartServer listens
	Address ServerAddress

	replica LogReplica
	// The underlying gRPC server used for receiving RPC messages
	grpcServer *grpc.Server
	// pubSub is used to send events about the state of the server to subscribed listeners
	pubSub *pubsub.PubSubClient
	logger *zap.SugaredLogger

	// StateMachine receives committed entries when set before Serve. Requires a pubSub.
	StateMachine state_machine.StateMachine
}

// NewServer creates a server for replica. A nil logger disables logging.
func NewServer(id raft.NodeID, replica LogReplica, pubSub *pubsub.PubSubClient, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &Server{
		ID:      id,
		replica: replica,
		pubSub:  pubSub,
		logger:  logger.Named("server"),
	}

	s.grpcServer = grpc.NewServer(
		grpc.ConnectionTimeout(30*time.Second),
		grpc.ForceServerCodec(wire.Codec{}),
		grpc.UnaryInterceptor(s.unaryInterceptor),
	)
	RegisterLogServiceServer(s.grpcServer, s)

	return s
}

// AppendEntry handles the AppendEntry RPC. Protocol rejections are part of the response, only infrastructure
// failures become gRPC errors.
func (s *Server) AppendEntry(ctx context.Context, req *wire.AppendEntryRequest) (*wire.AppendEntryResponse, error) {
	res, err := s.replica.AppendEntry(req.Term, req.Data, req.Prev)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &wire.AppendEntryResponse{AppendResult: res}, nil
}

// CommitUpTo handles the CommitUpTo RPC
func (s *Server) CommitUpTo(ctx context.Context, req *wire.CommitRequest) (*wire.CommitResponse, error) {
	res, err := s.replica.CommitUpTo(req.LeaderCommit)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &wire.CommitResponse{CommitResult: res}, nil
}

// AdvanceTerm handles the AdvanceTerm RPC
func (s *Server) AdvanceTerm(ctx context.Context, req *wire.AdvanceTermRequest) (*wire.AdvanceTermResponse, error) {
	advanced, current, err := s.replica.AdvanceTerm(req.Term)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &wire.AdvanceTermResponse{
		Advanced:    advanced,
		CurrentTerm: current,
	}, nil
}

func (s *Server) TermAt(_ context.Context, req *wire.TermAtRequest) (*wire.TermAtResponse, error) {
	return &wire.TermAtResponse{Term: s.replica.TermAt(req.Index)}, nil
}

func (s *Server) Snapshot(_ context.Context, _ *wire.SnapshotRequest) (*wire.LogInfo, error) {
	return &wire.LogInfo{LogInfo: s.replica.Snapshot()}, nil
}

// toStatus maps replica errors to gRPC codes. A failed replica is Internal, so clients do not retry against it.
func (s *Server) toStatus(ctx context.Context, err error) error {
	reqID, _ := GetRequestID(ctx)
	s.logger.Errorw("replica call failed", "requestID", reqID, "error", err)

	switch {
	case errors.Is(err, replica.ErrReplicaClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, replica.ErrReplicaFailed):
		return status.Error(codes.Internal, err.Error())
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}

// unaryInterceptor tags every call with a request ID and the caller ID found in the metadata, then logs it
func (s *Server) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	reqID := ""
	var caller raft.NodeID
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(requestIDHeader); len(v) > 0 {
			reqID = v[0]
		}
		if v := md.Get(callerIDHeader); len(v) > 0 {
			caller = raft.NodeID(v[0])
		}
	}
	if reqID == "" {
		reqID = uuid.New().String()
	}

	ctx = SetRequestID(ctx, reqID)
	ctx = SetServerID(ctx, s.ID)
	if caller != "" {
		ctx = SetCallerID(ctx, caller)
	}

	start := time.Now()
	resp, err := handler(ctx, req)

	s.logger.Debugw("handled rpc",
		"method", info.FullMethod,
		"requestID", reqID,
		"caller", caller,
		"duration", time.Since(start),
		"code", status.Code(err))

	return resp, err
}

// StartServer listens on the given port of localhost and serves until shutdown. Port 0 picks a random port.
func (s *Server) StartServer(port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve serves on lis. It blocks, as under the hood there is a call to lis.Accept.
func (s *Server) Serve(lis net.Listener) error {
	// Assign the address to the server, as the port may be randomly chosen
	s.Address = ServerAddress(lis.Addr().String())
	// Make the node reachable by ID from clients in this process
	RegisterResolverPeer(s.ID, s.Address)

	s.logger.Infow("log service listening", "address", s.Address)

	// Log commit progress on the background until the server shuts down
	if s.pubSub != nil {
		go TrackCommitsJob(serverCtx{ID: s.ID, Addr: s.Address}, s.replica, s.StateMachine, s.pubSub, s.logger)
	}

	return s.grpcServer.Serve(lis)
}

func (s *Server) GracefulShutdown() {
	s.logger.Infow("shutting down server gracefully")
	// Stop accepting new requests, pending ones are answered first
	s.grpcServer.GracefulStop()
	// Send a signal to all listeners that the server is shutting down
	s.publishShutdown()
}

func (s *Server) ForceShutdown() {
	s.logger.Infow("force shutting down server")
	s.grpcServer.Stop()
	s.publishShutdown()
}

func (s *Server) publishShutdown() {
	// Clients resolving this node by ID stop getting an address
	UnregisterResolverPeer(s.ID)
	if s.pubSub != nil {
		pubsub.Publish(s.pubSub, pubsub.NewEvent(ServerShutDown, struct{}{}))
	}
}
