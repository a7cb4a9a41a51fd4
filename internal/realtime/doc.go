// Package realtime provides the cluster-aware replacements for the
// host platform's realtime.count and realtime.list operations, so
// their answers reflect the fleet-wide replica instead of this node's
// local subscriber set, and wraps room teardown so a room only
// disappears locally once no other node still holds it.
//
// The host platform could install these by patching methods on its
// realtime engine and hotel-clerk collaborators at runtime; here they
// are pluggable strategies instead — a small type the cluster
// implements and the host wires in once at construction, rather than
// reaching in to replace a method on a live object.
package realtime
