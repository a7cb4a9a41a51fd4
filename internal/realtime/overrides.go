package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/clustermesh/internal/clustererr"
	"github.com/dreamware/clustermesh/internal/state"
)

// AuthChecker answers realtime.list's per-room visibility check: may the
// caller document:search on this (index, collection)? The host platform
// owns the real permission model; this is the narrow slice of it the
// override needs.
type AuthChecker interface {
	CanSearch(ctx context.Context, index, collection string) bool
}

// ListResult is the nested {index: {collection: {roomId: count}}}
// response shape. Being a plain map it carries no ordering; callers
// that need the lexicographically-sorted variant use ListSorted, whose
// return type actually holds an order.
type ListResult map[string]map[string]map[string]int64

// RoomEntry, CollectionEntry, IndexEntry, and SortedList are the
// order-carrying form of ListResult: slices sorted lexicographically at
// every level, so ranging over them (or serializing them — see
// SortedList.MarshalJSON) observes the sorted order a bare map cannot
// guarantee.
type RoomEntry struct {
	RoomID string `msgpack:"roomId"`
	Count  int64  `msgpack:"count"`
}

type CollectionEntry struct {
	Collection string      `msgpack:"collection"`
	Rooms      []RoomEntry `msgpack:"rooms"`
}

type IndexEntry struct {
	Index       string            `msgpack:"index"`
	Collections []CollectionEntry `msgpack:"collections"`
}

type SortedList []IndexEntry

// MarshalJSON emits the same {index: {collection: {roomId: count}}}
// object shape as ListResult, with keys written in slice order — the
// sorted order ListSorted built.
func (l SortedList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, ie := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONKey(&buf, ie.Index)
		buf.WriteByte('{')
		for j, ce := range ie.Collections {
			if j > 0 {
				buf.WriteByte(',')
			}
			writeJSONKey(&buf, ce.Collection)
			buf.WriteByte('{')
			for k, re := range ce.Rooms {
				if k > 0 {
					buf.WriteByte(',')
				}
				writeJSONKey(&buf, re.RoomID)
				buf.WriteString(strconv.FormatInt(re.Count, 10))
			}
			buf.WriteByte('}')
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeJSONKey(buf *bytes.Buffer, key string) {
	data, _ := json.Marshal(key)
	buf.Write(data)
	buf.WriteByte(':')
}

// Overrides replaces the host platform's local realtime.count,
// realtime.list, and room-teardown decisions with fleet-aware ones
// backed by the replica instead of this node's local subscriber count.
// The host wires one of these in at construction rather than
// monkey-patching methods on a live collaborator.
type Overrides struct {
	Replica             *state.Replica
	WaitForMissingRooms time.Duration
	Log                 *zap.Logger
}

// New returns overrides bound to rep, retrying a missing room once after
// wait before failing realtime.count.
func New(rep *state.Replica, wait time.Duration, log *zap.Logger) *Overrides {
	return &Overrides{Replica: rep, WaitForMissingRooms: wait, Log: log}
}

// Count implements realtime.count: the fleet-wide subscriber count for
// roomID. A room absent from the replica is retried once after
// WaitForMissingRooms — the window a cluster:sync broadcast needs to
// land — before failing with ErrRoomNotFound.
func (o *Overrides) Count(ctx context.Context, roomID string) (int64, error) {
	if roomID == "" {
		return 0, clustererr.New(clustererr.KindInvalidInput, "realtime.Count", clustererr.ErrMissingRoomID)
	}

	if room, ok := o.Replica.Room(roomID); ok {
		return room.Count, nil
	}

	select {
	case <-time.After(o.WaitForMissingRooms):
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	room, ok := o.Replica.Room(roomID)
	if !ok {
		return 0, clustererr.New(clustererr.KindInvalidInput, "realtime.Count", clustererr.ErrRoomNotFound)
	}
	return room.Count, nil
}

// List implements realtime.list: every room the replica knows about,
// filtered to the ones auth permits the caller to document:search,
// shaped as {index: {collection: {roomId: count}}}.
func (o *Overrides) List(ctx context.Context, auth AuthChecker) ListResult {
	result := make(ListResult)

	for _, room := range o.Replica.Rooms() {
		if !auth.CanSearch(ctx, room.Index, room.Collection) {
			continue
		}
		byCollection, ok := result[room.Index]
		if !ok {
			byCollection = make(map[string]map[string]int64)
			result[room.Index] = byCollection
		}
		byRoom, ok := byCollection[room.Collection]
		if !ok {
			byRoom = make(map[string]int64)
			byCollection[room.Collection] = byRoom
		}
		byRoom[room.RoomID] = room.Count
	}

	return result
}

// ListSorted implements realtime.list with the sorted flag set: the
// same auth-filtered content as List, with indexes, collections, and
// room ids each in lexicographic order.
func (o *Overrides) ListSorted(ctx context.Context, auth AuthChecker) SortedList {
	result := o.List(ctx, auth)

	indices := make([]string, 0, len(result))
	for idx := range result {
		indices = append(indices, idx)
	}
	sort.Strings(indices)

	out := make(SortedList, 0, len(result))
	for _, idx := range indices {
		byCollection := result[idx]
		collections := make([]string, 0, len(byCollection))
		for col := range byCollection {
			collections = append(collections, col)
		}
		sort.Strings(collections)

		ie := IndexEntry{Index: idx, Collections: make([]CollectionEntry, 0, len(collections))}
		for _, col := range collections {
			byRoom := byCollection[col]
			roomIDs := make([]string, 0, len(byRoom))
			for rid := range byRoom {
				roomIDs = append(roomIDs, rid)
			}
			sort.Strings(roomIDs)

			ce := CollectionEntry{Collection: col, Rooms: make([]RoomEntry, 0, len(roomIDs))}
			for _, rid := range roomIDs {
				ce.Rooms = append(ce.Rooms, RoomEntry{RoomID: rid, Count: byRoom[rid]})
			}
			ie.Collections = append(ie.Collections, ce)
		}
		out = append(out, ie)
	}
	return out
}

// TeardownNext is the host platform's own local room-removal logic —
// the function this override wraps, invoked only when the fleet-wide
// count says it's safe to do so.
type TeardownNext func(roomID string)

// Teardown wraps the host's room-removal hook so a room is only removed
// locally when the replica shows at most one subscriber left fleet-wide
// (this node's own, about to disconnect). Otherwise the room survives
// locally even though this node's last local subscriber just left,
// since other nodes still hold it.
func (o *Overrides) Teardown(roomID string, next TeardownNext) {
	room, ok := o.Replica.Room(roomID)
	if !ok || room.Count <= 1 {
		next(roomID)
		return
	}
	o.Log.Debug("preserving room locally, other nodes still hold it",
		zap.String("roomId", roomID), zap.Int64("count", room.Count))
}
