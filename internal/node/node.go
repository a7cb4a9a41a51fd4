package node

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/clustermesh/internal/cluster"
	"github.com/dreamware/clustermesh/internal/clustererr"
	"github.com/dreamware/clustermesh/internal/config"
	"github.com/dreamware/clustermesh/internal/coordstore"
	"github.com/dreamware/clustermesh/internal/state"
	"github.com/dreamware/clustermesh/internal/transport"
)

// peerStatus tracks liveness across a heartbeat timeout without
// forcing a re-dial: a stale peer that starts heartbeating again is
// transparently restored to live, no re-dial required if the socket
// survived.
type peerStatus int

const (
	peerLive peerStatus = iota
	peerStale
)

type peerEntry struct {
	descriptor cluster.NodeDescriptor
	conn       *transport.Peer
	lastSeen   time.Time
	status     peerStatus
}

// StaleHandler is invoked once per peer the heartbeat loop marks
// stale, after it crosses HeartbeatTimeout with no heartbeat seen.
// cmd/clustermesh wires this to run cleanNode
// against every known tag on the stale peer's behalf.
type StaleHandler func(ctx context.Context, peer cluster.NodeDescriptor)

// Node is the per-process membership component: it joins
// coordinator discovery, dials every known peer, heartbeats, detects
// departures, and owns the local state replica those peers and this
// process both read and write through internal/hooks and
// internal/syncengine.
type Node struct {
	Descriptor cluster.NodeDescriptor
	Replica    *state.Replica

	store  *coordstore.Client
	server *transport.Server
	timers config.Timers
	log    *zap.Logger

	mu   sync.RWMutex
	pool map[string]*peerEntry

	handlersMu sync.RWMutex
	handlers   map[string]transport.EnvelopeHandler

	onStale StaleHandler

	ready    atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New builds a Node bound to an already-listening transport.Server.
// Replica starts empty; Join and a subsequent sync-engine reconcile
// populate it.
func New(descriptor cluster.NodeDescriptor, store *coordstore.Client, server *transport.Server, timers config.Timers, log *zap.Logger) *Node {
	n := &Node{
		Descriptor: descriptor,
		Replica:    state.New(),
		store:      store,
		server:     server,
		timers:     timers,
		log:        log,
		pool:       make(map[string]*peerEntry),
		handlers:   make(map[string]transport.EnvelopeHandler),
		stopCh:     make(chan struct{}),
	}
	// A joining peer announces itself on every existing peer's router
	// (see Announce); the handler dials it back so membership converges
	// from both sides.
	server.Router.Handle(cluster.TopicReady, n.handleReadyAnnouncement)
	return n
}

// handleReadyAnnouncement admits a peer that finished its initial sync
// and announced itself on our router. Unknown peers are dialed back so
// their broadcasts reach us; known ones just get their liveness
// refreshed.
func (n *Node) handleReadyAnnouncement(ctx context.Context, payload []byte) ([]byte, error) {
	var desc cluster.NodeDescriptor
	if err := msgpack.Unmarshal(payload, &desc); err != nil {
		return nil, clustererr.New(clustererr.KindInvalidInput, "node.handleReadyAnnouncement", err)
	}
	if desc.UUID == n.Descriptor.UUID {
		return msgpack.Marshal(n.Descriptor)
	}

	n.mu.RLock()
	_, known := n.pool[desc.UUID]
	n.mu.RUnlock()

	if known {
		n.touchPeer(desc.UUID)
	} else if err := n.dialPeer(ctx, desc); err != nil {
		n.log.Warn("dial-back to announcing peer failed", zap.String("peer", desc.UUID), zap.Error(err))
		return nil, clustererr.New(clustererr.KindTransientPeer, "node.handleReadyAnnouncement", err)
	}
	return msgpack.Marshal(n.Descriptor)
}

// Ready reports whether this node has finished its initial sync.
func (n *Node) Ready() bool { return n.ready.Load() }

// Handle registers the callback invoked for broadcast envelopes
// received on topic from any peer. Heartbeat and ready envelopes are
// handled internally and cannot be overridden.
func (n *Node) Handle(topic string, h transport.EnvelopeHandler) {
	n.handlersMu.Lock()
	defer n.handlersMu.Unlock()
	n.handlers[topic] = h
}

// OnPeerStale registers the callback fired when a peer's heartbeat
// times out.
func (n *Node) OnPeerStale(h StaleHandler) { n.onStale = h }

// Broadcast enqueues an envelope for fan-out to every connected peer.
func (n *Node) Broadcast(topic string, payload []byte) {
	if !n.Ready() {
		n.log.Warn("dropping broadcast, node not ready", zap.String("topic", topic))
		return
	}
	n.server.Pub.Broadcast(topic, payload)
}

// Send makes a request/reply call to one peer's router and blocks for
// the reply or ctx's deadline.
func (n *Node) Send(ctx context.Context, peerUUID, topic string, payload []byte) ([]byte, error) {
	n.mu.RLock()
	pe, ok := n.pool[peerUUID]
	n.mu.RUnlock()
	if !ok {
		return nil, clustererr.New(clustererr.KindTransientPeer, "node.Send", clustererr.ErrPeerUnknown)
	}
	reply, err := pe.conn.RouterRPC.Request(ctx, topic, payload)
	if err != nil {
		return nil, clustererr.New(clustererr.KindTransientPeer, "node.Send", err)
	}
	return reply, nil
}

// Pool returns a snapshot of every live peer's descriptor.
func (n *Node) Pool() []cluster.NodeDescriptor {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]cluster.NodeDescriptor, 0, len(n.pool))
	for _, pe := range n.pool {
		out = append(out, pe.descriptor)
	}
	return out
}

// PoolSize returns the number of peers currently tracked, live or
// stale — the "last node out" check the shutdown supervisor uses
// reads this.
func (n *Node) PoolSize() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.pool)
}

// Join registers this node in discovery and dials every peer already
// registered there. Dialing is bounded-
// concurrent via errgroup so one slow/unreachable peer doesn't
// serialize the rest of the fleet.
func (n *Node) Join(ctx context.Context) error {
	if err := n.store.AddDiscovery(ctx, n.Descriptor); err != nil {
		return clustererr.New(clustererr.KindFatal, "node.Join", err)
	}

	peers, err := n.store.Discovery(ctx)
	if err != nil {
		return clustererr.New(clustererr.KindFatal, "node.Join", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, peer := range peers {
		if peer.UUID == n.Descriptor.UUID {
			continue
		}
		peer := peer
		g.Go(func() error {
			if err := n.dialPeer(gctx, peer); err != nil {
				n.log.Warn("dial peer failed, continuing without it", zap.String("peer", peer.UUID), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

func (n *Node) dialPeer(ctx context.Context, peer cluster.NodeDescriptor) error {
	conn, err := transport.Dial(ctx, peer.UUID, peer.Pub, peer.Router, n.log)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.pool[peer.UUID] = &peerEntry{descriptor: peer, conn: conn, lastSeen: time.Now(), status: peerLive}
	n.mu.Unlock()

	go transport.ReadEnvelopes(conn, func(topic string, payload []byte) {
		n.dispatch(peer.UUID, topic, payload)
	}, n.log, n.stopCh)

	return nil
}

// dispatch routes one inbound envelope from a peer. Heartbeat envelopes
// refresh liveness and never reach a registered handler; everything
// else is handed to whatever internal/syncengine or internal/hooks
// registered for that topic via Handle.
func (n *Node) dispatch(peerUUID, topic string, payload []byte) {
	if topic == cluster.TopicHeartbeat {
		n.touchPeer(peerUUID)
		return
	}
	if topic == cluster.TopicReady {
		n.touchPeer(peerUUID)
		return
	}

	n.handlersMu.RLock()
	h, ok := n.handlers[topic]
	n.handlersMu.RUnlock()
	if !ok {
		n.log.Warn("no handler registered for topic, dropping envelope", zap.String("topic", topic), zap.String("peer", peerUUID))
		return
	}
	h(topic, payload)
}

func (n *Node) touchPeer(peerUUID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	pe, ok := n.pool[peerUUID]
	if !ok {
		return
	}
	if pe.status == peerStale {
		n.log.Info("peer heartbeat resumed, restoring to live", zap.String("peer", peerUUID))
	}
	pe.status = peerLive
	pe.lastSeen = time.Now()
}

// Announce marks this node ready and emits cluster:ready twice over:
// a broadcast for peers already subscribed to us, and a unicast to
// each pooled peer's router so nodes that predate us dial our
// publisher back. Call after strategies and room state have been
// hydrated; Broadcast itself requires Ready() so
// Announce sets the flag only after the envelopes are on the wire.
func (n *Node) Announce(ctx context.Context) {
	payload, err := msgpack.Marshal(n.Descriptor)
	if err != nil {
		n.log.Error("marshal ready announcement", zap.Error(err))
		return
	}
	n.server.Pub.Broadcast(cluster.TopicReady, payload)

	n.mu.RLock()
	peers := make([]*peerEntry, 0, len(n.pool))
	for _, pe := range n.pool {
		peers = append(peers, pe)
	}
	n.mu.RUnlock()

	for _, pe := range peers {
		rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if _, err := pe.conn.RouterRPC.Request(rctx, cluster.TopicReady, payload); err != nil {
			n.log.Warn("ready announcement to peer failed", zap.String("peer", pe.descriptor.UUID), zap.Error(err))
		}
		cancel()
	}

	n.ready.Store(true)
}

// RunHeartbeat broadcasts a heartbeat on HeartbeatInterval and scans
// the pool for peers that have gone silent past HeartbeatTimeout,
// marking them stale and invoking the StaleHandler exactly once per
// transition. Blocks until ctx is done or Stop is called.
func (n *Node) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(n.timers.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.sendHeartbeat()
			n.sweepStale(ctx)
		}
	}
}

func (n *Node) sendHeartbeat() {
	payload, err := msgpack.Marshal(cluster.HeartbeatPayload{
		UUID:      n.Descriptor.UUID,
		Birthdate: n.Descriptor.Birthdate,
		Pub:       n.Descriptor.Pub,
		Router:    n.Descriptor.Router,
	})
	if err != nil {
		n.log.Error("marshal heartbeat", zap.Error(err))
		return
	}
	n.Broadcast(cluster.TopicHeartbeat, payload)
}

func (n *Node) sweepStale(ctx context.Context) {
	cutoff := time.Now().Add(-n.timers.HeartbeatTimeout)

	n.mu.Lock()
	var newlyStale []cluster.NodeDescriptor
	for _, pe := range n.pool {
		if pe.status == peerLive && pe.lastSeen.Before(cutoff) {
			pe.status = peerStale
			newlyStale = append(newlyStale, pe.descriptor)
		}
	}
	n.mu.Unlock()

	for _, peer := range newlyStale {
		n.log.Warn("peer heartbeat timed out, marking stale", zap.String("peer", peer.UUID))
		if n.onStale != nil {
			n.onStale(ctx, peer)
		}
	}
}

// RemovePeer closes and forgets one peer's connection — used after
// cleanNode succeeds for a stale or departed peer so the pool doesn't
// hold a dead socket forever.
func (n *Node) RemovePeer(peerUUID string) {
	n.mu.Lock()
	pe, ok := n.pool[peerUUID]
	if ok {
		delete(n.pool, peerUUID)
	}
	n.mu.Unlock()
	if ok && pe.conn != nil {
		pe.conn.Close()
	}
}

// LeaveDiscovery removes this node's entry from the coordinator
// discovery set, the first step of the shutdown supervisor's
// sequence.
func (n *Node) LeaveDiscovery(ctx context.Context) error {
	return n.store.RemoveDiscovery(ctx, n.Descriptor)
}

// Stop halts the heartbeat loop and every peer's envelope reader, and
// closes all peer connections. Idempotent.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopCh)
	})
	n.mu.Lock()
	defer n.mu.Unlock()
	for uuid, pe := range n.pool {
		pe.conn.Close()
		delete(n.pool, uuid)
	}
}
