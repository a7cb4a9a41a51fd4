// Package state holds each node's local replica of the fleet's
// realtime subscription rooms: a flat map for O(1) lookup
// by room id and a tree map for enumeration by index/collection, kept
// in lockstep, plus the per-tag version counters that let a node
// discard stale sync updates and the two lock sets that protect
// in-flight local operations from being trampled by a concurrent
// sync.
package state

import (
	"slices"
	"sync"

	"github.com/dreamware/clustermesh/internal/cluster"
)

// Replica is the per-node subscription room cache. It is safe for
// concurrent use; every exported getter returns a copy so callers
// can't corrupt internal state by mutating a returned slice or map.
type Replica struct {
	mu sync.RWMutex

	flat map[string]cluster.Room                   // roomId -> room
	tree map[string]map[string]map[string]struct{} // index -> collection -> roomIds

	versions map[string]int64 // tag -> version

	locksCreate map[string]struct{}
	locksDelete map[string]struct{}

	tagMu sync.Mutex
	tags  map[string]*sync.Mutex
}

// New returns an empty replica.
func New() *Replica {
	return &Replica{
		flat:        make(map[string]cluster.Room),
		tree:        make(map[string]map[string]map[string]struct{}),
		versions:    make(map[string]int64),
		locksCreate: make(map[string]struct{}),
		locksDelete: make(map[string]struct{}),
		tags:        make(map[string]*sync.Mutex),
	}
}

// TagLock returns the per-(index, collection) mutex, creating it on
// first use. Callers hold it across a version-guarded read-modify-
// write sequence (apply a sync snapshot, or commit a local subOn/
// subOff result) so that sequence can't interleave with another one
// for the same tag.
func (r *Replica) TagLock(index, collection string) *sync.Mutex {
	tag := cluster.Tag(index, collection)
	r.tagMu.Lock()
	defer r.tagMu.Unlock()
	m, ok := r.tags[tag]
	if !ok {
		m = &sync.Mutex{}
		r.tags[tag] = m
	}
	return m
}

// SetRoomCount upserts a room. A count of zero deletes the room
// instead of storing it, per the "count == 0 is forbidden" invariant;
// callers should prefer DeleteRoomCount for that case but this
// degrades safely if count arrives as zero anyway.
func (r *Replica) SetRoomCount(index, collection, roomID string, count int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if count <= 0 {
		r.deleteRoomLocked(roomID)
		return
	}

	room := cluster.Room{RoomID: roomID, Index: index, Collection: collection, Count: count}
	if existing, ok := r.flat[roomID]; ok {
		room.Filter = existing.Filter
	}
	r.flat[roomID] = room

	if r.tree[index] == nil {
		r.tree[index] = make(map[string]map[string]struct{})
	}
	if r.tree[index][collection] == nil {
		r.tree[index][collection] = make(map[string]struct{})
	}
	r.tree[index][collection][roomID] = struct{}{}
}

// DeleteRoomCount removes a room from both maps, pruning empty inner
// maps so an idle index/collection doesn't linger as an empty entry.
func (r *Replica) DeleteRoomCount(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteRoomLocked(roomID)
}

func (r *Replica) deleteRoomLocked(roomID string) {
	room, ok := r.flat[roomID]
	if !ok {
		return
	}
	delete(r.flat, roomID)

	if cols, ok := r.tree[room.Index]; ok {
		if rooms, ok := cols[room.Collection]; ok {
			delete(rooms, roomID)
			if len(rooms) == 0 {
				delete(cols, room.Collection)
			}
		}
		if len(cols) == 0 {
			delete(r.tree, room.Index)
		}
	}
}

// Room returns a copy of one room and whether it was present.
func (r *Replica) Room(roomID string) (cluster.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.flat[roomID]
	return room, ok
}

// Rooms returns a copy of every room currently replicated.
func (r *Replica) Rooms() []cluster.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]cluster.Room, 0, len(r.flat))
	for _, room := range r.flat {
		out = append(out, room)
	}
	return out
}

// RoomIDs returns every roomId under one index/collection, the set the
// sync engine diffs against a fresh coordinator snapshot.
func (r *Replica) RoomIDs(index, collection string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cols, ok := r.tree[index]
	if !ok {
		return nil
	}
	rooms, ok := cols[collection]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(rooms))
	for id := range rooms {
		out = append(out, id)
	}
	return out
}

// Indices returns every index name currently holding at least one
// room, walked by the shutdown sweep and the stale-peer cleanup.
func (r *Replica) Indices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tree))
	for idx := range r.tree {
		out = append(out, idx)
	}
	return out
}

// Collections returns every collection name under one index.
func (r *Replica) Collections(index string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cols, ok := r.tree[index]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(cols))
	for c := range cols {
		out = append(out, c)
	}
	return out
}

// GetVersion returns the last observed version for a tag, zero if
// never seen.
func (r *Replica) GetVersion(index, collection string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.versions[cluster.Tag(index, collection)]
}

// SetVersion applies v if it strictly exceeds the stored version,
// reporting whether it did. Sync handlers use the return value to
// decide whether to also apply the accompanying room snapshot.
func (r *Replica) SetVersion(index, collection string, v int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	tag := cluster.Tag(index, collection)
	if v <= r.versions[tag] {
		return false
	}
	r.versions[tag] = v
	return true
}

// Reset clears every room and version. The shutdown supervisor calls
// this when the node is the last one in the pool. Reset does not start
// a state:all round, and its caller broadcasts none afterwards.
func (r *Replica) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flat = make(map[string]cluster.Room)
	r.tree = make(map[string]map[string]map[string]struct{})
	r.versions = make(map[string]int64)
}

// LockCreate marks roomID as having an in-flight local subscribe so
// a concurrent sync `state` event won't overwrite the not-yet-
// committed decision.
func (r *Replica) LockCreate(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locksCreate[roomID] = struct{}{}
}

// UnlockCreate releases the create lock. Safe to call even if the
// lock was never held.
func (r *Replica) UnlockCreate(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locksCreate, roomID)
}

// IsLockedCreate reports whether roomID has an in-flight local
// subscribe.
func (r *Replica) IsLockedCreate(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.locksCreate[roomID]
	return ok
}

// LockDelete, UnlockDelete, IsLockedDelete mirror the create lock set
// for in-flight local unsubscribes.
func (r *Replica) LockDelete(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locksDelete[roomID] = struct{}{}
}

func (r *Replica) UnlockDelete(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locksDelete, roomID)
}

func (r *Replica) IsLockedDelete(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.locksDelete[roomID]
	return ok
}

// IsLocked reports whether roomID is in either lock set — the guard
// the sync engine checks before applying an incoming `state` update.
func (r *Replica) IsLocked(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, c := r.locksCreate[roomID]
	_, d := r.locksDelete[roomID]
	return c || d
}

// Tags returns every (index, collection) tag the replica currently
// holds a version for, sorted for deterministic iteration.
func (r *Replica) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.versions))
	for t := range r.versions {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
