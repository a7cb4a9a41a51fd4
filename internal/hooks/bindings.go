package hooks

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/dreamware/clustermesh/internal/cluster"
	"github.com/dreamware/clustermesh/internal/clustererr"
	"github.com/dreamware/clustermesh/internal/coordstore"
	"github.com/dreamware/clustermesh/internal/state"
)

// Event names on the local Hub. Hooks fire-and-forget; pipes (Before*)
// may delay or fail the operation they wrap.
const (
	EventSubscriptionAdded  = "subscriptionAdded"
	EventSubscriptionJoined = "subscriptionJoined"
	EventSubscriptionOff    = "subscriptionOff"
	EventStrategyAdded      = "strategyAdded"
	EventStrategyRemoved    = "strategyRemoved"
	EventProfileChanged     = "profileChanged"
	EventRoleChanged        = "roleChanged"
	EventValidatorsChanged  = "validatorsChanged"
	EventIndexCacheAdd      = "indexCacheAdd"
	EventIndexCacheRemove   = "indexCacheRemove"
	EventRoomNew            = "room:new"
	EventRoomRemove         = "room:remove"
	EventErrorSubscribe     = "realtime:errorSubscribe"
	EventErrorUnsubscribe   = "realtime:errorUnsubscribe"
	EventNotifyDocument     = "notify:document"
	EventNotifyUser         = "notify:user"
	EventAdminDump          = "dump"
	EventAdminResetSecurity = "resetSecurity"
	EventAdminShutdown      = "shutdown"
)

// Broadcaster is the slice of internal/node.Node the bindings need: a
// fan-out broadcast and a readiness check. Declared here (not in
// internal/node) so this package never imports node — Node holds the
// Bindings' Hub indirectly through cmd/clustermesh's wiring instead of
// the other way around, keeping the dependency chain acyclic.
type Broadcaster interface {
	Broadcast(topic string, payload []byte)
	Ready() bool
}

// RealtimeEngine is the host platform's room/customer bookkeeping — an
// external collaborator, named here only as the narrow interface
// BeforeJoin needs to materialize a room shell.
type RealtimeEngine interface {
	HasRoom(roomID string) bool
	MaterializeRoom(index, collection, roomID string)
}

// SubscriptionEvent carries the fields subscriptionAdded/Joined/Off
// need from the local realtime engine.
type SubscriptionEvent struct {
	Index        string
	Collection   string
	RoomID       string
	ConnectionID string
	Filter       []byte
	Changed      bool // subscriptionJoined only: whether the join actually mutated anything
}

// StrategyEvent carries one authentication strategy's identity.
type StrategyEvent struct {
	Name     string
	Plugin   string
	Strategy string
}

// CacheEvent carries the id or index a cache-mutation hook invalidates
// upstream on every other node.
type CacheEvent struct {
	ID    string
	Index string
}

// BeforeJoinRequest is the payload the beforeJoin pipe inspects.
type BeforeJoinRequest struct {
	RoomID     string
	Index      string
	Collection string
}

// Bindings holds the dependencies every hook/pipe method closes over:
// the coordinator client, the local replica, the broadcaster (Node),
// and the timers that bound beforeJoin's single retry. Register installs
// the hook handlers (lock, cache, notify and admin events) on a Hub as
// a static list of (eventName, handler) pairs; the pipe methods
// (SubscriptionAdded, SubscriptionJoined, SubscriptionOff, the strategy
// pipes, BeforeJoin) are not registered on the Hub and are called
// directly.
type Bindings struct {
	Store               *coordstore.Client
	Replica             *state.Replica
	Node                Broadcaster
	NodeUUID            string
	Log                 *zap.Logger
	JoinAttemptInterval time.Duration
}

// Register installs every hook method on hub under its event name.
func (b *Bindings) Register(hub *Hub) {
	hub.On(EventRoomNew, func(p any) {
		if roomID, ok := p.(string); ok {
			b.Replica.LockCreate(roomID)
		}
	})
	hub.On(EventRoomRemove, func(p any) {
		if roomID, ok := p.(string); ok {
			b.Replica.LockDelete(roomID)
		}
	})
	hub.On(EventErrorSubscribe, func(p any) {
		if roomID, ok := p.(string); ok {
			b.Replica.UnlockCreate(roomID)
		}
	})
	hub.On(EventErrorUnsubscribe, func(p any) {
		if roomID, ok := p.(string); ok {
			b.Replica.UnlockDelete(roomID)
		}
	})

	hub.On(EventProfileChanged, func(p any) { b.cacheHook(cluster.SyncProfileEvent, p) })
	hub.On(EventRoleChanged, func(p any) { b.cacheHook(cluster.SyncRoleEvent, p) })
	hub.On(EventValidatorsChanged, func(p any) { b.cacheHook(cluster.SyncValidatorsEvent, p) })
	hub.On(EventIndexCacheAdd, func(p any) { b.cacheHook(cluster.SyncIndexCacheAddEvent, p) })
	hub.On(EventIndexCacheRemove, func(p any) { b.cacheHook(cluster.SyncIndexCacheRemoveEvent, p) })

	hub.On(EventNotifyDocument, func(p any) { b.notifyHook(cluster.TopicNotifyDocument, p) })
	hub.On(EventNotifyUser, func(p any) { b.notifyHook(cluster.TopicNotifyUser, p) })

	hub.On(EventAdminDump, func(p any) { b.adminHook(cluster.TopicAdminDump, p) })
	hub.On(EventAdminResetSecurity, func(p any) { b.adminHook(cluster.TopicAdminResetSecurity, p) })
	hub.On(EventAdminShutdown, func(p any) { b.adminHook(cluster.TopicAdminShutdown, p) })
}

// cacheHook forwards a local cache mutation as a cluster:sync
// broadcast. Dropped silently (beyond a log line) when the node isn't
// ready yet; the coordinator remains authoritative and a later
// state:all repairs.
func (b *Bindings) cacheHook(event cluster.SyncEvent, payload any) {
	if !b.Node.Ready() {
		b.Log.Warn("dropping cache sync hook, node not ready", zap.String("event", string(event)))
		return
	}

	sp := cluster.SyncPayload{Event: event}
	switch ev := payload.(type) {
	case CacheEvent:
		sp.ID = ev.ID
		sp.Index = ev.Index
	case string:
		// A bare string is an index name for the indexCache events and a
		// document id for everything else.
		if event == cluster.SyncIndexCacheAddEvent || event == cluster.SyncIndexCacheRemoveEvent {
			sp.Index = ev
		} else {
			sp.ID = ev
		}
	}

	data, err := msgpack.Marshal(sp)
	if err != nil {
		b.Log.Error("marshal sync payload", zap.Error(err))
		return
	}
	b.Node.Broadcast(cluster.TopicSync, data)
}

func (b *Bindings) notifyHook(topic string, payload any) {
	if !b.Node.Ready() {
		b.Log.Warn("dropping notify hook, node not ready", zap.String("topic", topic))
		return
	}
	data, ok := payload.([]byte)
	if !ok {
		b.Log.Warn("notify hook received non-[]byte payload, dropping", zap.String("topic", topic))
		return
	}
	b.Node.Broadcast(topic, data)
}

func (b *Bindings) adminHook(topic string, payload any) {
	if !b.Node.Ready() {
		b.Log.Warn("dropping admin hook, node not ready", zap.String("topic", topic))
		return
	}
	data, _ := payload.([]byte)
	b.Node.Broadcast(topic, data)
}

// SubscriptionAdded runs subOn, applies the result to the local
// replica, records the index/collection for future cleanup sweeps,
// and broadcasts a `state` sync event — releasing the create lock on
// every exit path.
func (b *Bindings) SubscriptionAdded(ctx context.Context, ev SubscriptionEvent) error {
	defer b.Replica.UnlockCreate(ev.RoomID)
	return b.subOnAndBroadcast(ctx, ev, "add")
}

// SubscriptionJoined is a no-op when the join didn't actually change
// membership (a customer re-joining a room they're already in);
// otherwise it behaves like SubscriptionAdded with no filter.
func (b *Bindings) SubscriptionJoined(ctx context.Context, ev SubscriptionEvent) error {
	if !ev.Changed {
		return nil
	}
	defer b.Replica.UnlockCreate(ev.RoomID)
	ev.Filter = nil
	return b.subOnAndBroadcast(ctx, ev, "join")
}

func (b *Bindings) subOnAndBroadcast(ctx context.Context, ev SubscriptionEvent, post string) error {
	if ev.RoomID == "" {
		return clustererr.New(clustererr.KindInvalidInput, "hooks.subOnAndBroadcast", clustererr.ErrMissingRoomID)
	}

	_, total, err := b.Store.SubOn(ctx, ev.Index, ev.Collection, b.NodeUUID, ev.RoomID, ev.ConnectionID, ev.Filter)
	if err != nil {
		return err
	}

	lock := b.Replica.TagLock(ev.Index, ev.Collection)
	lock.Lock()
	b.Replica.SetRoomCount(ev.Index, ev.Collection, ev.RoomID, total)
	lock.Unlock()

	if err := b.Store.AddCollection(ctx, ev.Index, ev.Collection); err != nil {
		b.Log.Warn("failed to record collection for cleanup sweeps", zap.Error(err))
	}

	b.broadcastState(ev.Index, ev.Collection, post)
	return nil
}

// SubscriptionOff runs subOff and applies the result — deleting the
// room locally if the fleet-wide count reached zero — then broadcasts
// a `state` sync event, releasing the delete lock on every exit path.
func (b *Bindings) SubscriptionOff(ctx context.Context, ev SubscriptionEvent) error {
	defer b.Replica.UnlockDelete(ev.RoomID)

	if ev.RoomID == "" {
		return clustererr.New(clustererr.KindInvalidInput, "hooks.SubscriptionOff", clustererr.ErrMissingRoomID)
	}

	version, total, err := b.Store.SubOff(ctx, ev.Index, ev.Collection, b.NodeUUID, ev.RoomID, ev.ConnectionID)
	if err != nil {
		return err
	}

	lock := b.Replica.TagLock(ev.Index, ev.Collection)
	lock.Lock()
	if version > b.Replica.GetVersion(ev.Index, ev.Collection) {
		b.Replica.SetVersion(ev.Index, ev.Collection, version)
		if total <= 0 {
			b.Replica.DeleteRoomCount(ev.RoomID)
		} else {
			b.Replica.SetRoomCount(ev.Index, ev.Collection, ev.RoomID, total)
		}
	}
	lock.Unlock()

	b.broadcastState(ev.Index, ev.Collection, "off")
	return nil
}

func (b *Bindings) broadcastState(index, collection, post string) {
	if !b.Node.Ready() {
		b.Log.Warn("dropping state broadcast, node not ready", zap.String("post", post))
		return
	}
	sp := cluster.SyncPayload{Event: cluster.SyncStateEvent, Index: index, Collection: collection, Post: post}
	data, err := msgpack.Marshal(sp)
	if err != nil {
		b.Log.Error("marshal state sync payload", zap.Error(err))
		return
	}
	b.Node.Broadcast(cluster.TopicSync, data)
}

// StrategyAdded writes the strategy hash entry and broadcasts a
// `strategies` sync event so every peer's sync engine diffs it in.
func (b *Bindings) StrategyAdded(ctx context.Context, ev StrategyEvent) error {
	if err := b.Store.SetStrategy(ctx, ev.Name, ev.Plugin, ev.Strategy); err != nil {
		return err
	}
	b.broadcastStrategies()
	return nil
}

// StrategyRemoved deletes the strategy hash entry and broadcasts the
// same `strategies` sync event, triggering the symmetric unregister on
// every peer.
func (b *Bindings) StrategyRemoved(ctx context.Context, ev StrategyEvent) error {
	if err := b.Store.DeleteStrategy(ctx, ev.Name); err != nil {
		return err
	}
	b.broadcastStrategies()
	return nil
}

func (b *Bindings) broadcastStrategies() {
	if !b.Node.Ready() {
		b.Log.Warn("dropping strategies broadcast, node not ready")
		return
	}
	data, err := msgpack.Marshal(cluster.SyncPayload{Event: cluster.SyncStrategiesEvent})
	if err != nil {
		b.Log.Error("marshal strategies sync payload", zap.Error(err))
		return
	}
	b.Node.Broadcast(cluster.TopicSync, data)
}

// BeforeJoin materializes a local room shell when the joining
// customer's target room is known to the replica but absent from the
// local realtime engine — absorbing replication delay so the engine's
// join logic has something to attach the customer to. It retries
// exactly once after JoinAttemptInterval and then proceeds regardless
// of the outcome.
func (b *Bindings) BeforeJoin(ctx context.Context, req BeforeJoinRequest, engine RealtimeEngine) {
	if engine.HasRoom(req.RoomID) {
		return
	}
	if room, ok := b.Replica.Room(req.RoomID); ok {
		engine.MaterializeRoom(room.Index, room.Collection, req.RoomID)
		return
	}

	select {
	case <-time.After(b.JoinAttemptInterval):
	case <-ctx.Done():
		return
	}

	if room, ok := b.Replica.Room(req.RoomID); ok {
		engine.MaterializeRoom(room.Index, room.Collection, req.RoomID)
	}
	// Still absent after the single retry: proceed without
	// materializing. The downstream join will fail if the room truly
	// doesn't exist anywhere in the fleet.
}
