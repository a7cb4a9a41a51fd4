// Package cluster holds the data model shared by every clustering
// subsystem: the node descriptor, the room/version types replicated
// from the coordinator store, and the wire envelope nodes exchange
// over the peer transport. See doc.go for the package overview.
package cluster

import (
	"time"

	"github.com/google/uuid"
)

// NodeDescriptor identifies one node on the publisher/router fabric.
// It is assigned at process start, inserted into coordinator discovery
// once transport has bound, and removed on shutdown.
//
// Birthdate is recorded for operational visibility (it rides along in
// every heartbeat) but is never used to make a correctness decision:
// this cluster has no leader election.
type NodeDescriptor struct {
	UUID      string    `msgpack:"uuid" json:"uuid"`
	Pub       string    `msgpack:"pub" json:"pub"`
	Router    string    `msgpack:"router" json:"router"`
	Birthdate time.Time `msgpack:"birthdate" json:"birthdate"`
}

// NewNodeDescriptor builds a descriptor with a fresh random UUID. pub
// and router are the concrete addresses transport bound to, not the
// configured selectors (those may be a CIDR or interface name).
func NewNodeDescriptor(pub, router string) NodeDescriptor {
	return NodeDescriptor{
		UUID:      uuid.NewString(),
		Pub:       pub,
		Router:    router,
		Birthdate: time.Now(),
	}
}

// Tag is the coordinator hash tag `{index/collection}` that forces
// co-location of every key touched by one collection's atomic scripts.
func Tag(index, collection string) string {
	return "{" + index + "/" + collection + "}"
}

// ParseToken splits an unbraced "index/collection" token — the form
// stored in cluster:collections — back into its two parts. Unlike Tag,
// this never adds or strips braces; callers enumerating
// cluster:collections use this, not Tag, since that set holds plain
// tokens.
func ParseToken(token string) (index, collection string, ok bool) {
	for i := 0; i < len(token); i++ {
		if token[i] == '/' {
			return token[:i], token[i+1:], true
		}
	}
	return "", "", false
}

// Room is one realtime subscription identity: an index, a collection,
// and the fleet-wide subscriber count. RoomID is an opaque fingerprint
// assigned upstream of this package; treat it as a string key.
//
// Invariants enforced by internal/state: Count is never persisted as
// zero (a zero transition deletes the entry), and every RoomID present
// in the flat map also appears in the tree map at [Index][Collection].
type Room struct {
	RoomID     string `msgpack:"roomId" json:"roomId"`
	Index      string `msgpack:"index" json:"index"`
	Collection string `msgpack:"collection" json:"collection"`
	Count      int64  `msgpack:"count" json:"count"`
	Filter     []byte `msgpack:"filter,omitempty" json:"filter,omitempty"`
}

// StateSnapshot is the return shape of the coordinator's getState
// script: the tag's current version and every room still alive under
// it.
type StateSnapshot struct {
	Version int64  `msgpack:"version" json:"version"`
	Rooms   []Room `msgpack:"rooms" json:"rooms"`
}

// Envelope is the canonical frame exchanged between nodes: a topic
// name and a msgpack-encoded payload. internal/transport frames these
// over both the publisher (fan-out) and router (request/reply)
// sockets; internal/syncengine and internal/node are the payload
// producers/consumers.
type Envelope struct {
	Topic   string `msgpack:"topic"`
	Payload []byte `msgpack:"payload"`
}

// Topics carried on the peer fabric. Kept as named constants so dispatch
// tables (internal/syncengine, internal/node) can switch on them
// instead of comparing string literals scattered across packages.
const (
	TopicHeartbeat          = "cluster:heartbeat"
	TopicSync               = "cluster:sync"
	TopicNotifyDocument     = "cluster:notify:document"
	TopicNotifyUser         = "cluster:notify:user"
	TopicAdminResetSecurity = "cluster:admin:resetSecurity"
	TopicAdminDump          = "cluster:admin:dump"
	TopicAdminShutdown      = "cluster:admin:shutdown"
	TopicReady              = "cluster:ready"
)

// HeartbeatPayload is the body carried on TopicHeartbeat.
type HeartbeatPayload struct {
	UUID      string    `msgpack:"uuid"`
	Birthdate time.Time `msgpack:"birthdate"`
	Pub       string    `msgpack:"pub"`
	Router    string    `msgpack:"router"`
}

// SyncEvent names the reconciliation kinds dispatched from TopicSync
// payloads.
type SyncEvent string

const (
	SyncStateEvent            SyncEvent = "state"
	SyncStateAllEvent         SyncEvent = "state:all"
	SyncIndexCacheAddEvent    SyncEvent = "indexCache:add"
	SyncIndexCacheRemoveEvent SyncEvent = "indexCache:remove"
	SyncProfileEvent          SyncEvent = "profile"
	SyncRoleEvent             SyncEvent = "role"
	SyncValidatorsEvent       SyncEvent = "validators"
	SyncStrategiesEvent       SyncEvent = "strategies"
)

// SyncPayload is the body carried on TopicSync. Not every field is
// populated for every Event; see internal/syncengine for the
// per-event contract.
type SyncPayload struct {
	Event      SyncEvent `msgpack:"event"`
	Index      string    `msgpack:"index,omitempty"`
	Collection string    `msgpack:"collection,omitempty"`
	Post       string    `msgpack:"post,omitempty"`
	ID         string    `msgpack:"id,omitempty"`
}
