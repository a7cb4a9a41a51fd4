// Package node implements per-node membership: joining discovery,
// dialing every known peer, heartbeating, detecting peer departures,
// and triggering their cleanup. A Node owns the transport
// publisher/router pair, the coordinator client, and the state replica
// it seeds and keeps alive; internal/hooks and internal/syncengine
// hold a back-reference to a Node (via the small interfaces they
// declare) rather than the other way around, so this package never
// imports either and the cluster/node/state dependency chain stays
// acyclic.
package node
