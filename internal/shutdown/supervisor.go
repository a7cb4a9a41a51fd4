package shutdown

import (
	"context"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/dreamware/clustermesh/internal/cluster"
	"github.com/dreamware/clustermesh/internal/coordstore"
	"github.com/dreamware/clustermesh/internal/state"
)

// Broadcaster is the slice of internal/node.Node the supervisor needs
// to finish its sequence: a final state:all fan-out and a pool-size
// check that decides whether state.Reset() is enough on its own.
// Declared here, not in internal/node, for the same import-cycle
// reason internal/hooks declares its own Broadcaster.
type Broadcaster interface {
	LeaveDiscovery(ctx context.Context) error
	PoolSize() int
	Broadcast(topic string, payload []byte)
	Stop()
}

// Supervisor runs the shutdown sequence exactly once, no matter how
// many goroutines trigger it concurrently (a fatal signal racing an
// uncaught panic handler, for instance).
type Supervisor struct {
	node     Broadcaster
	store    *coordstore.Client
	replica  *state.Replica
	log      *zap.Logger
	nodeUUID string

	once sync.Once
	done chan struct{}

	// CleanupTimeout bounds how long the best-effort cleanNode sweep is
	// allowed to run; the platform is exiting regardless of outcome.
	CleanupTimeout time.Duration

	// Development widens the fatal-event surface: when set, async
	// failures reported via AsyncFailure also trigger the shutdown
	// sequence instead of only being logged.
	Development bool
}

// New returns a supervisor bound to this node's collaborators.
// CleanupTimeout defaults to 5s if zero.
func New(node Broadcaster, store *coordstore.Client, replica *state.Replica, nodeUUID string, log *zap.Logger) *Supervisor {
	return &Supervisor{node: node, store: store, replica: replica, nodeUUID: nodeUUID, log: log, CleanupTimeout: 5 * time.Second, done: make(chan struct{})}
}

// Trigger runs the shutdown sequence exactly once; every call after the
// first is a no-op, including calls still in flight concurrently with
// the first (they block until it finishes, per sync.Once, then return).
func (s *Supervisor) Trigger(ctx context.Context) {
	s.once.Do(func() {
		defer close(s.done)
		s.run(ctx)
	})
}

// Done is closed once the shutdown sequence has finished. The process
// entrypoint selects on this to know when it may exit.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// HandlePanic converts a panic in a cluster-owned goroutine into a
// triggered shutdown, then re-raises it so the process still dies with
// the original stack. Use as `defer sup.HandlePanic(ctx)`.
func (s *Supervisor) HandlePanic(ctx context.Context) {
	r := recover()
	if r == nil {
		return
	}
	s.log.Error("panic in cluster goroutine, running shutdown sequence", zap.Any("panic", r))
	s.Trigger(ctx)
	panic(r)
}

// AsyncFailure reports a failure surfaced outside any request path (a
// background reconcile that keeps erroring, a transport loop dying).
// In development mode it is treated as fatal and triggers shutdown;
// otherwise it is logged and the fleet's self-repair is left to handle
// the fallout.
func (s *Supervisor) AsyncFailure(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if !s.Development {
		s.log.Warn("async failure", zap.Error(err))
		return
	}
	s.log.Error("async failure in development mode, shutting down", zap.Error(err))
	s.Trigger(ctx)
}

func (s *Supervisor) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.CleanupTimeout)
	defer cancel()

	if err := s.node.LeaveDiscovery(ctx); err != nil {
		s.log.Warn("shutdown: failed to leave discovery", zap.Error(err))
	}

	if s.node.PoolSize() == 0 {
		s.replica.Reset()
		s.node.Stop()
		return
	}

	for _, index := range s.replica.Indices() {
		for _, collection := range s.replica.Collections(index) {
			if err := s.store.CleanNode(ctx, index, collection, s.selfUUID()); err != nil {
				s.log.Warn("shutdown: cleanNode failed, leaving for peer heartbeat sweep",
					zap.String("index", index), zap.String("collection", collection), zap.Error(err))
			}
		}
	}

	s.broadcastStateAll()
	s.node.Stop()
}

// selfUUID returns the node UUID string supplied to New; kept as a
// field rather than threaded through every call for symmetry with
// internal/hooks.Bindings.NodeUUID.
func (s *Supervisor) selfUUID() string { return s.nodeUUID }

func (s *Supervisor) broadcastStateAll() {
	data, err := msgpack.Marshal(cluster.SyncPayload{Event: cluster.SyncStateAllEvent})
	if err != nil {
		s.log.Error("shutdown: marshal state:all payload", zap.Error(err))
		return
	}
	s.node.Broadcast(cluster.TopicSync, data)
}
