package state

import (
	"sync"
	"testing"
)

func TestSetRoomCountUpsertsFlatAndTree(t *testing.T) {
	r := New()
	r.SetRoomCount("tweets", "messages", "room-1", 3)

	room, ok := r.Room("room-1")
	if !ok {
		t.Fatal("expected room-1 present in flat map")
	}
	if room.Count != 3 || room.Index != "tweets" || room.Collection != "messages" {
		t.Errorf("unexpected room: %+v", room)
	}

	ids := r.RoomIDs("tweets", "messages")
	if len(ids) != 1 || ids[0] != "room-1" {
		t.Errorf("expected tree to hold room-1, got %v", ids)
	}
}

func TestSetRoomCountZeroDeletes(t *testing.T) {
	r := New()
	r.SetRoomCount("tweets", "messages", "room-1", 3)
	r.SetRoomCount("tweets", "messages", "room-1", 0)

	if _, ok := r.Room("room-1"); ok {
		t.Error("expected room-1 to be deleted on zero count")
	}
	if ids := r.RoomIDs("tweets", "messages"); len(ids) != 0 {
		t.Errorf("expected empty tree entry, got %v", ids)
	}
	if len(r.Indices()) != 0 {
		t.Error("expected empty index pruned from tree")
	}
}

func TestDeleteRoomCountPrunesEmptyMaps(t *testing.T) {
	r := New()
	r.SetRoomCount("tweets", "messages", "room-1", 1)
	r.DeleteRoomCount("room-1")

	if _, ok := r.Room("room-1"); ok {
		t.Error("expected room-1 removed from flat map")
	}
	if cols := r.Collections("tweets"); len(cols) != 0 {
		t.Errorf("expected no collections left under tweets, got %v", cols)
	}
}

func TestDeleteRoomCountUnknownRoomIsNoop(t *testing.T) {
	r := New()
	r.DeleteRoomCount("does-not-exist")
	if len(r.Rooms()) != 0 {
		t.Error("expected no rooms after deleting an unknown id")
	}
}

func TestVersionMonotonic(t *testing.T) {
	tests := []struct {
		name    string
		applied []int64
		want    int64
	}{
		{name: "strictly increasing applies all", applied: []int64{1, 2, 3}, want: 3},
		{name: "out of order ignores the lower one", applied: []int64{3, 1, 2}, want: 3},
		{name: "equal value is rejected", applied: []int64{5, 5}, want: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			for _, v := range tt.applied {
				r.SetVersion("idx", "col", v)
			}
			if got := r.GetVersion("idx", "col"); got != tt.want {
				t.Errorf("GetVersion() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSetVersionReportsWhetherApplied(t *testing.T) {
	r := New()
	if !r.SetVersion("idx", "col", 1) {
		t.Error("expected first SetVersion to apply")
	}
	if r.SetVersion("idx", "col", 1) {
		t.Error("expected equal version to be rejected")
	}
	if r.SetVersion("idx", "col", 0) {
		t.Error("expected lower version to be rejected")
	}
}

func TestResetClearsReplica(t *testing.T) {
	r := New()
	r.SetRoomCount("idx", "col", "room-1", 2)
	r.SetVersion("idx", "col", 4)

	r.Reset()

	if len(r.Rooms()) != 0 {
		t.Error("expected no rooms after Reset")
	}
	if r.GetVersion("idx", "col") != 0 {
		t.Error("expected version cleared after Reset")
	}
}

func TestLockSets(t *testing.T) {
	r := New()

	r.LockCreate("room-1")
	if !r.IsLockedCreate("room-1") {
		t.Error("expected room-1 locked for create")
	}
	if !r.IsLocked("room-1") {
		t.Error("expected IsLocked true while create-locked")
	}
	r.UnlockCreate("room-1")
	if r.IsLockedCreate("room-1") {
		t.Error("expected room-1 unlocked after UnlockCreate")
	}

	r.LockDelete("room-2")
	if !r.IsLockedDelete("room-2") {
		t.Error("expected room-2 locked for delete")
	}
	r.UnlockDelete("room-2")
	if r.IsLocked("room-2") {
		t.Error("expected room-2 unlocked after UnlockDelete")
	}
}

func TestTagLockReturnsSameMutexForSameTag(t *testing.T) {
	r := New()
	a := r.TagLock("idx", "col")
	b := r.TagLock("idx", "col")
	if a != b {
		t.Error("expected TagLock to return the same *sync.Mutex for the same tag")
	}
	c := r.TagLock("idx", "other")
	if a == c {
		t.Error("expected TagLock to return distinct mutexes for distinct tags")
	}
}

func TestTagsSortedDeterministic(t *testing.T) {
	r := New()
	r.SetVersion("b", "y", 1)
	r.SetVersion("a", "x", 1)

	tags := r.Tags()
	if len(tags) != 2 || tags[0] != "{a/x}" || tags[1] != "{b/y}" {
		t.Errorf("expected sorted tags, got %v", tags)
	}
}

// TestConcurrentAccess exercises the replica under concurrent
// readers and writers to catch data races (run with -race).
func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			roomID := "room"
			r.SetRoomCount("idx", "col", roomID, int64(n%5+1))
			_ = r.Rooms()
			_ = r.GetVersion("idx", "col")
			r.SetVersion("idx", "col", int64(n+1))
		}(i)
	}
	wg.Wait()
}
