package server

import (
	"fmt"
	"strings"
	"sync"

	"raft-log-core/internal/raft"

	"google.golang.org/grpc/resolver"
)

// ---- In-process registry: raft.NodeID -> ServerAddress ----

type idRegistry struct {
	mu       sync.RWMutex
	records  map[raft.NodeID]ServerAddress
	watchers map[raft.NodeID]map[*logResolver]struct{}
}

var globalIDRegistry = &idRegistry{
	records:  make(map[raft.NodeID]ServerAddress),
	watchers: make(map[raft.NodeID]map[*logResolver]struct{}),
}

// RegisterResolverPeer sets/updates the address for an ID and notifies any active resolvers.
func RegisterResolverPeer(id raft.NodeID, addr ServerAddress) {
	globalIDRegistry.mu.Lock()
	globalIDRegistry.records[id] = addr
	watchers := make([]*logResolver, 0, len(globalIDRegistry.watchers[id]))
	for w := range globalIDRegistry.watchers[id] {
		watchers = append(watchers, w)
	}
	globalIDRegistry.mu.Unlock()

	// Notify after unlocking to avoid re-entrancy.
	for _, w := range watchers {
		w.pushCurrent()
	}
}

// UnregisterResolverPeer forgets the address of id. Open connections see an empty address list.
func UnregisterResolverPeer(id raft.NodeID) {
	globalIDRegistry.mu.Lock()
	delete(globalIDRegistry.records, id)
	watchers := make([]*logResolver, 0, len(globalIDRegistry.watchers[id]))
	for w := range globalIDRegistry.watchers[id] {
		watchers = append(watchers, w)
	}
	globalIDRegistry.mu.Unlock()

	for _, w := range watchers {
		w.pushCurrent()
	}
}

// ---- gRPC name resolver ("raftlog" scheme) ----

const raftLogScheme = "raftlog"

// targetFor returns the dial target of a node, e.g. "raftlog:///5f0c..."
func targetFor(id raft.NodeID) string {
	return fmt.Sprintf("%s:///%s", raftLogScheme, id)
}

type logResolverBuilder struct{}

func (logResolverBuilder) Scheme() string { return raftLogScheme }

func (logResolverBuilder) Build(target resolver.Target, cc resolver.ClientConn, _ resolver.BuildOptions) (resolver.Resolver, error) {
	// Accept "raftlog:///UUID" or "raftlog://cluster/UUID".
	id := raft.NodeID(target.Endpoint())
	if id == "" {
		// Some versions carry endpoint in URL.Path when using triple slash.
		id = raft.NodeID(strings.TrimPrefix(target.URL.Path, "/"))
	}
	if id == "" {
		return nil, fmt.Errorf("raftlog resolver: empty target endpoint: %+v", target)
	}

	r := &logResolver{id: id, cc: cc}
	r.subscribe()
	r.pushCurrent()
	return r, nil
}

type logResolver struct {
	id raft.NodeID
	cc resolver.ClientConn
}

func (r *logResolver) ResolveNow(resolver.ResolveNowOptions) { r.pushCurrent() }

func (r *logResolver) Close() {
	globalIDRegistry.mu.Lock()
	defer globalIDRegistry.mu.Unlock()
	if set, ok := globalIDRegistry.watchers[r.id]; ok {
		delete(set, r)
		if len(set) == 0 {
			delete(globalIDRegistry.watchers, r.id)
		}
	}
}

func (r *logResolver) subscribe() {
	globalIDRegistry.mu.Lock()
	defer globalIDRegistry.mu.Unlock()
	set := globalIDRegistry.watchers[r.id]
	if set == nil {
		set = make(map[*logResolver]struct{})
		globalIDRegistry.watchers[r.id] = set
	}
	set[r] = struct{}{}
}

func (r *logResolver) pushCurrent() {
	globalIDRegistry.mu.RLock()
	addr, ok := globalIDRegistry.records[r.id]
	globalIDRegistry.mu.RUnlock()

	if !ok || addr == "" {
		_ = r.cc.UpdateState(resolver.State{Addresses: nil}) // no address yet; gRPC will retry
		return
	}

	_ = r.cc.UpdateState(resolver.State{
		Addresses: []resolver.Address{{Addr: string(addr)}},
	})
}

func init() {
	resolver.Register(logResolverBuilder{})
}
