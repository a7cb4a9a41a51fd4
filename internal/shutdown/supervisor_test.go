package shutdown

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/clustermesh/internal/coordstore"
	"github.com/dreamware/clustermesh/internal/state"
)

var errBoom = errors.New("boom")

type fakeNode struct {
	poolSize     int
	leftDiscover bool
	broadcasts   int
	stopped      bool
}

func (f *fakeNode) LeaveDiscovery(ctx context.Context) error {
	f.leftDiscover = true
	return nil
}
func (f *fakeNode) PoolSize() int { return f.poolSize }
func (f *fakeNode) Broadcast(topic string, payload []byte) {
	f.broadcasts++
}
func (f *fakeNode) Stop() { f.stopped = true }

func newTestStore(t *testing.T) *coordstore.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return coordstore.New(rdb, zap.NewNop())
}

func TestTriggerResetsReplicaWhenPoolEmpty(t *testing.T) {
	rep := state.New()
	rep.SetRoomCount("i1", "c1", "room-1", 2)

	node := &fakeNode{poolSize: 0}
	sup := New(node, newTestStore(t), rep, "node-a", zap.NewNop())

	sup.Trigger(context.Background())

	require.True(t, node.leftDiscover)
	require.True(t, node.stopped)
	require.Empty(t, rep.Rooms())
	require.Equal(t, 0, node.broadcasts)
}

func TestTriggerSweepsTagsAndBroadcastsWhenPeersRemain(t *testing.T) {
	rep := state.New()
	rep.SetRoomCount("i1", "c1", "room-1", 2)

	node := &fakeNode{poolSize: 1}
	store := newTestStore(t)
	sup := New(node, store, rep, "node-a", zap.NewNop())

	sup.Trigger(context.Background())

	require.True(t, node.leftDiscover)
	require.Equal(t, 1, node.broadcasts)
	require.True(t, node.stopped)
}

func TestTriggerRunsExactlyOnce(t *testing.T) {
	rep := state.New()
	node := &fakeNode{poolSize: 1}
	sup := New(node, newTestStore(t), rep, "node-a", zap.NewNop())

	var calls int32
	done := make(chan struct{}, 4)
	for i := 0; i < 4; i++ {
		go func() {
			sup.Trigger(context.Background())
			atomic.AddInt32(&calls, 1)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	require.Equal(t, int32(4), atomic.LoadInt32(&calls))
	// With a non-empty pool each run broadcasts one state:all; the other
	// Trigger calls return once the first run has finished, without
	// re-running the sequence, so the counter stays at exactly one.
	require.Equal(t, 1, node.broadcasts)
}

func TestDoneClosesAfterTrigger(t *testing.T) {
	rep := state.New()
	node := &fakeNode{poolSize: 0}
	sup := New(node, newTestStore(t), rep, "node-a", zap.NewNop())

	select {
	case <-sup.Done():
		t.Fatal("Done closed before Trigger")
	default:
	}

	sup.Trigger(context.Background())

	select {
	case <-sup.Done():
	default:
		t.Fatal("Done not closed after Trigger")
	}
}

func TestAsyncFailureOnlyFatalInDevelopment(t *testing.T) {
	rep := state.New()
	node := &fakeNode{poolSize: 0}
	sup := New(node, newTestStore(t), rep, "node-a", zap.NewNop())

	sup.AsyncFailure(context.Background(), errBoom)
	require.False(t, node.stopped)

	sup.Development = true
	sup.AsyncFailure(context.Background(), errBoom)
	require.True(t, node.stopped)
}
