package main

import "context"

// The host platform's document store, auth plugin registry, and
// realtime engine are external collaborators, not part of this
// repository. The node-local caches those collaborators would back are
// real (internal/cache); the permission model below is the one
// stand-in this standalone binary still needs.

// allowAllAuth stands in for the host's document:search permission
// check so realtime.list is reachable from this standalone binary. A
// real deployment injects an adapter into the host's security layer.
type allowAllAuth struct{}

func (allowAllAuth) CanSearch(ctx context.Context, index, collection string) bool { return true }
