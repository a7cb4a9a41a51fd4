// Package syncengine reconciles a node's local caches against the
// fleet's authoritative state whenever a cluster:sync envelope
// arrives. It is the consumer side of every broadcast internal/hooks
// emits: given a decoded cluster.SyncPayload, it either pulls a fresh
// room snapshot via internal/coordstore's getState script, invalidates
// a cache entry, or diffs the strategy registry — depending on the
// payload's Event.
//
// The engine never talks to the peer fabric directly; internal/node
// decodes inbound envelopes on TopicSync and calls Engine.Handle with
// the payload bytes.
package syncengine
