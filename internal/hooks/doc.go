// Package hooks implements the event-driven glue between the host
// platform's local event bus and the cluster: it translates local
// realtime/cache/admin events into coordinator writes and cluster:sync
// broadcasts, and the reverse — releasing the pending-op locks that
// guard in-flight local decisions from a racing sync update.
//
// Hub is the in-process event bus the hooks register against.
// Bindings.Register installs one (eventName, handler) pair per hook,
// bound to this node's dependencies; the caller invokes it once after
// constructing Bindings. The pipe methods on Bindings are not registered
// on the Hub; callers invoke them directly.
package hooks
