package coordstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/clustermesh/internal/cluster"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, zap.NewNop())
}

func TestSubOnSubOffRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	v1, total1, err := c.SubOn(ctx, "tweets", "messages", "node-a", "room-1", "conn-1", nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), v1)
	require.Equal(t, int64(1), total1)

	v2, total2, err := c.SubOff(ctx, "tweets", "messages", "node-a", "room-1", "conn-1")
	require.NoError(t, err)
	require.Equal(t, v1+1, v2)
	require.Equal(t, int64(0), total2)
}

func TestSubOnMultipleNodesSumCounts(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, totalA, err := c.SubOn(ctx, "idx", "col", "node-a", "room-1", "conn-a1", nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), totalA)

	_, totalB, err := c.SubOn(ctx, "idx", "col", "node-b", "room-1", "conn-b1", nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), totalB)

	snap, err := c.GetState(ctx, "idx", "col")
	require.NoError(t, err)
	require.Len(t, snap.Rooms, 1)
	require.Equal(t, int64(2), snap.Rooms[0].Count)
}

func TestCleanNodeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, _, err := c.SubOn(ctx, "idx", "col", "node-a", "room-1", "conn-1", nil)
	require.NoError(t, err)
	_, _, err = c.SubOn(ctx, "idx", "col", "node-b", "room-1", "conn-2", nil)
	require.NoError(t, err)

	require.NoError(t, c.CleanNode(ctx, "idx", "col", "node-a"))

	snap, err := c.GetState(ctx, "idx", "col")
	require.NoError(t, err)
	require.Len(t, snap.Rooms, 1)
	require.Equal(t, int64(1), snap.Rooms[0].Count)

	// A second cleanNode for the same, now-absent node is a no-op on the
	// store state beyond the version bump.
	require.NoError(t, c.CleanNode(ctx, "idx", "col", "node-a"))
	snap2, err := c.GetState(ctx, "idx", "col")
	require.NoError(t, err)
	require.Equal(t, snap.Rooms, snap2.Rooms)
}

func TestGetStateEmptyTag(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	snap, err := c.GetState(ctx, "idx", "col")
	require.NoError(t, err)
	require.Equal(t, int64(0), snap.Version)
	require.Empty(t, snap.Rooms)
}

func TestDiscoverySetRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	a := cluster.NewNodeDescriptor("10.0.0.1:7511", "10.0.0.1:7510")
	b := cluster.NewNodeDescriptor("10.0.0.2:7511", "10.0.0.2:7510")
	require.NoError(t, c.AddDiscovery(ctx, a))
	require.NoError(t, c.AddDiscovery(ctx, b))

	peers, err := c.Discovery(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 2)

	require.NoError(t, c.RemoveDiscovery(ctx, a))
	peers, err = c.Discovery(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.Equal(t, b.UUID, peers[0].UUID)
}

func TestStrategyRegistry(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.SetStrategy(ctx, "local", "passport-local", "LocalStrategy"))
	strategies, err := c.Strategies(ctx)
	require.NoError(t, err)
	require.Contains(t, strategies, "local")

	require.NoError(t, c.DeleteStrategy(ctx, "local"))
	strategies, err = c.Strategies(ctx)
	require.NoError(t, err)
	require.NotContains(t, strategies, "local")
}

func TestCollectionRegistry(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.AddCollection(ctx, "tweets", "messages"))
	require.NoError(t, c.AddCollection(ctx, "tweets", "messages"))

	cols, err := c.Collections(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"tweets/messages"}, cols)
}
