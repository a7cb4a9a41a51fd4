package hooks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/dreamware/clustermesh/internal/cluster"
	"github.com/dreamware/clustermesh/internal/coordstore"
	"github.com/dreamware/clustermesh/internal/state"
)

type fakeBroadcaster struct {
	ready      bool
	broadcasts []struct {
		topic   string
		payload []byte
	}
}

func (f *fakeBroadcaster) Ready() bool { return f.ready }

func (f *fakeBroadcaster) Broadcast(topic string, payload []byte) {
	f.broadcasts = append(f.broadcasts, struct {
		topic   string
		payload []byte
	}{topic, payload})
}

func newTestBindings(t *testing.T) (*Bindings, *fakeBroadcaster, *state.Replica) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := coordstore.New(rdb, zap.NewNop())
	rep := state.New()
	fb := &fakeBroadcaster{ready: true}

	return &Bindings{
		Store:               store,
		Replica:             rep,
		Node:                fb,
		NodeUUID:            "node-a",
		Log:                 zap.NewNop(),
		JoinAttemptInterval: 10 * time.Millisecond,
	}, fb, rep
}

func TestSubscriptionAddedUpdatesReplicaAndBroadcastsAndReleasesLock(t *testing.T) {
	b, fb, rep := newTestBindings(t)
	ctx := context.Background()

	rep.LockCreate("room-1")
	err := b.SubscriptionAdded(ctx, SubscriptionEvent{Index: "tweets", Collection: "messages", RoomID: "room-1", ConnectionID: "conn-1"})
	require.NoError(t, err)

	room, ok := rep.Room("room-1")
	require.True(t, ok)
	require.Equal(t, int64(1), room.Count)
	require.False(t, rep.IsLockedCreate("room-1"))
	require.Len(t, fb.broadcasts, 1)
	require.Equal(t, "cluster:sync", fb.broadcasts[0].topic)
}

func TestSubscriptionAddedMissingRoomIDStillReleasesLock(t *testing.T) {
	b, _, rep := newTestBindings(t)
	rep.LockCreate("")
	err := b.SubscriptionAdded(context.Background(), SubscriptionEvent{})
	require.Error(t, err)
	require.False(t, rep.IsLockedCreate(""))
}

func TestSubscriptionJoinedNoopWhenUnchanged(t *testing.T) {
	b, fb, _ := newTestBindings(t)
	err := b.SubscriptionJoined(context.Background(), SubscriptionEvent{RoomID: "room-1", Changed: false})
	require.NoError(t, err)
	require.Empty(t, fb.broadcasts)
}

func TestSubscriptionOffDeletesRoomWhenCountReachesZero(t *testing.T) {
	b, _, rep := newTestBindings(t)
	ctx := context.Background()

	require.NoError(t, b.SubscriptionAdded(ctx, SubscriptionEvent{Index: "tweets", Collection: "messages", RoomID: "room-1", ConnectionID: "conn-1"}))

	rep.LockDelete("room-1")
	err := b.SubscriptionOff(ctx, SubscriptionEvent{Index: "tweets", Collection: "messages", RoomID: "room-1", ConnectionID: "conn-1"})
	require.NoError(t, err)

	_, ok := rep.Room("room-1")
	require.False(t, ok)
	require.False(t, rep.IsLockedDelete("room-1"))
}

func TestCacheHookDroppedWhenNotReady(t *testing.T) {
	b, fb, _ := newTestBindings(t)
	fb.ready = false
	b.cacheHook("profile", CacheEvent{ID: "p1"})
	require.Empty(t, fb.broadcasts)
}

func TestCacheHookRoutesStringPayloadByEvent(t *testing.T) {
	b, fb, _ := newTestBindings(t)

	b.cacheHook(cluster.SyncIndexCacheAddEvent, "tweets")
	b.cacheHook(cluster.SyncProfileEvent, "profile-1")
	require.Len(t, fb.broadcasts, 2)

	var indexPayload cluster.SyncPayload
	require.NoError(t, msgpack.Unmarshal(fb.broadcasts[0].payload, &indexPayload))
	require.Equal(t, "tweets", indexPayload.Index)
	require.Empty(t, indexPayload.ID)

	var profilePayload cluster.SyncPayload
	require.NoError(t, msgpack.Unmarshal(fb.broadcasts[1].payload, &profilePayload))
	require.Equal(t, "profile-1", profilePayload.ID)
	require.Empty(t, profilePayload.Index)
}

func TestStrategyAddedWritesAndBroadcasts(t *testing.T) {
	b, fb, _ := newTestBindings(t)
	err := b.StrategyAdded(context.Background(), StrategyEvent{Name: "oauth", Plugin: "auth-plugin", Strategy: "oauth"})
	require.NoError(t, err)
	require.Len(t, fb.broadcasts, 1)

	names, err := b.Store.Strategies(context.Background())
	require.NoError(t, err)
	require.Contains(t, names, "oauth")
}

type fakeEngine struct {
	hasRoom      bool
	materialized []string
}

func (f *fakeEngine) HasRoom(roomID string) bool { return f.hasRoom }
func (f *fakeEngine) MaterializeRoom(index, collection, roomID string) {
	f.materialized = append(f.materialized, roomID)
}

func TestBeforeJoinMaterializesKnownRoom(t *testing.T) {
	b, _, rep := newTestBindings(t)
	rep.SetRoomCount("tweets", "messages", "room-1", 3)

	eng := &fakeEngine{}
	b.BeforeJoin(context.Background(), BeforeJoinRequest{RoomID: "room-1"}, eng)

	require.Equal(t, []string{"room-1"}, eng.materialized)
}

func TestBeforeJoinNoopWhenEngineAlreadyHasRoom(t *testing.T) {
	b, _, _ := newTestBindings(t)
	eng := &fakeEngine{hasRoom: true}
	b.BeforeJoin(context.Background(), BeforeJoinRequest{RoomID: "room-1"}, eng)
	require.Empty(t, eng.materialized)
}

func TestBeforeJoinProceedsAfterSingleRetryOnPersistentMiss(t *testing.T) {
	b, _, _ := newTestBindings(t)
	eng := &fakeEngine{}

	start := time.Now()
	b.BeforeJoin(context.Background(), BeforeJoinRequest{RoomID: "never-there"}, eng)
	require.GreaterOrEqual(t, time.Since(start), b.JoinAttemptInterval)
	require.Empty(t, eng.materialized)
}

func TestRoomNewAndRemoveHooksLockViaHub(t *testing.T) {
	b, _, rep := newTestBindings(t)
	hub := NewHub()
	b.Register(hub)

	hub.Emit(EventRoomNew, "room-1")
	require.True(t, rep.IsLockedCreate("room-1"))

	hub.Emit(EventErrorSubscribe, "room-1")
	require.False(t, rep.IsLockedCreate("room-1"))

	hub.Emit(EventRoomRemove, "room-2")
	require.True(t, rep.IsLockedDelete("room-2"))

	hub.Emit(EventErrorUnsubscribe, "room-2")
	require.False(t, rep.IsLockedDelete("room-2"))
}
