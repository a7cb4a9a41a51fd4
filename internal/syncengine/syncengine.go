package syncengine

import (
	"context"
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/dreamware/clustermesh/internal/cluster"
	"github.com/dreamware/clustermesh/internal/clustererr"
	"github.com/dreamware/clustermesh/internal/coordstore"
	"github.com/dreamware/clustermesh/internal/state"
)

// IndexCache is the storage collaborator's index cache, the target of
// `indexCache:add`/`indexCache:remove`. The engine always calls these
// with propagate=false so the collaborator doesn't re-emit the event
// it originated from a peer.
type IndexCache interface {
	Add(index string, propagate bool)
	Remove(index string, propagate bool)
}

// RepositoryCache invalidates a cached profile or role by id. Both the
// profile and role repositories implement the same shape.
type RepositoryCache interface {
	Invalidate(id string)
}

// ValidatorCache reloads the specification cache used to validate
// incoming documents against registered collection mappings.
type ValidatorCache interface {
	Reload()
}

// StrategyRegistrar mirrors the authentication plugin registry: Register
// installs a named strategy backed by a plugin, Unregister removes it,
// Names lists what's currently installed so the engine can diff against
// the coordinator's authoritative hash.
type StrategyRegistrar interface {
	Register(name, plugin, strategy string)
	Unregister(name string)
	Names() []string
}

// Collaborators bundles the host-platform pieces a `cluster:sync`
// payload may need to touch. Any field left nil is simply skipped —
// tests exercise the engine with a subset wired.
type Collaborators struct {
	Index      IndexCache
	Profiles   RepositoryCache
	Roles      RepositoryCache
	Validators ValidatorCache
	Strategies StrategyRegistrar
}

// Engine is the sync-side reconciler. One Engine per node;
// it holds no peer-fabric state of its own, only the dependencies it
// needs to reconcile: the coordinator client for authoritative
// getState pulls, the local replica to apply them to, and the
// collaborator set above.
type Engine struct {
	store *coordstore.Client
	rep   *state.Replica
	coll  Collaborators
	log   *zap.Logger
}

// New builds an Engine. coll may have nil fields for collaborators not
// wired in a given deployment (e.g. a test harness with no profile
// repository).
func New(store *coordstore.Client, rep *state.Replica, coll Collaborators, log *zap.Logger) *Engine {
	return &Engine{store: store, rep: rep, coll: coll, log: log}
}

// Handle decodes a cluster:sync payload and dispatches it. Errors are
// logged and never raised to end users, but Handle still returns them
// so tests can assert on the outcome.
func (e *Engine) Handle(ctx context.Context, raw []byte) error {
	var payload cluster.SyncPayload
	if err := msgpack.Unmarshal(raw, &payload); err != nil {
		e.log.Warn("discarding malformed sync payload", zap.Error(err))
		return clustererr.New(clustererr.KindInvalidInput, "syncengine.Handle", err)
	}

	var err error
	switch payload.Event {
	case cluster.SyncStateEvent:
		err = e.applyState(ctx, payload.Index, payload.Collection)
	case cluster.SyncStateAllEvent:
		err = e.applyAll(ctx)
	case cluster.SyncIndexCacheAddEvent:
		if e.coll.Index != nil {
			e.coll.Index.Add(payload.Index, false)
		}
	case cluster.SyncIndexCacheRemoveEvent:
		if e.coll.Index != nil {
			e.coll.Index.Remove(payload.Index, false)
		}
	case cluster.SyncProfileEvent:
		if e.coll.Profiles != nil {
			e.coll.Profiles.Invalidate(payload.ID)
		}
	case cluster.SyncRoleEvent:
		if e.coll.Roles != nil {
			e.coll.Roles.Invalidate(payload.ID)
		}
	case cluster.SyncValidatorsEvent:
		if e.coll.Validators != nil {
			e.coll.Validators.Reload()
		}
	case cluster.SyncStrategiesEvent:
		err = e.reconcileStrategies(ctx)
	default:
		e.log.Warn("unknown sync event, ignoring", zap.String("event", string(payload.Event)))
		return clustererr.New(clustererr.KindInvalidInput, "syncengine.Handle", clustererr.ErrUnknownSyncEvent)
	}

	if err != nil {
		e.log.Warn("sync reconciliation failed", zap.String("event", string(payload.Event)), zap.Error(err))
	}
	return err
}

// applyState pulls the authoritative snapshot for one tag and, if its
// version is strictly newer than the local one, replaces the local
// rooms for that tag — skipping any room whose id is locked by an
// in-flight local operation.
func (e *Engine) applyState(ctx context.Context, index, collection string) error {
	lock := e.rep.TagLock(index, collection)
	lock.Lock()
	defer lock.Unlock()

	snap, err := e.store.GetState(ctx, index, collection)
	if err != nil {
		return err
	}

	if !e.rep.SetVersion(index, collection, snap.Version) {
		return nil
	}

	seen := make(map[string]struct{}, len(snap.Rooms))
	for _, room := range snap.Rooms {
		seen[room.RoomID] = struct{}{}
		if e.rep.IsLocked(room.RoomID) {
			continue
		}
		e.rep.SetRoomCount(room.Index, room.Collection, room.RoomID, room.Count)
	}

	for _, roomID := range e.rep.RoomIDs(index, collection) {
		if _, ok := seen[roomID]; ok {
			continue
		}
		if e.rep.IsLocked(roomID) {
			continue
		}
		e.rep.DeleteRoomCount(roomID)
	}

	return nil
}

// applyAll runs applyState for every tag the coordinator knows about —
// the `state:all` resync round, run on a `state:all` sync payload (such
// as the shutdown supervisor's final broadcast) and through
// ReconcileAll. state.Reset does not start this round.
func (e *Engine) applyAll(ctx context.Context) error {
	tags, err := e.store.Collections(ctx)
	if err != nil {
		return err
	}
	var last error
	for _, token := range tags {
		index, collection, ok := cluster.ParseToken(token)
		if !ok {
			continue
		}
		if err := e.applyState(ctx, index, collection); err != nil {
			last = err
			e.log.Warn("state:all: tag failed, continuing", zap.String("tag", token), zap.Error(err))
		}
	}
	return last
}

// reconcileStrategies diffs the coordinator's authoritative strategy
// hash against what's currently registered locally, registering
// additions and unregistering removals.
func (e *Engine) reconcileStrategies(ctx context.Context) error {
	if e.coll.Strategies == nil {
		return nil
	}
	authoritative, err := e.store.Strategies(ctx)
	if err != nil {
		return err
	}

	have := make(map[string]struct{})
	for _, name := range e.coll.Strategies.Names() {
		have[name] = struct{}{}
	}

	for name, encoded := range authoritative {
		if _, ok := have[name]; ok {
			continue
		}
		plugin, strategy := splitPluginStrategy(encoded)
		e.coll.Strategies.Register(name, plugin, strategy)
	}

	for name := range have {
		if _, ok := authoritative[name]; !ok {
			e.coll.Strategies.Unregister(name)
		}
	}

	return nil
}

// splitPluginStrategy decodes the {plugin, strategy} JSON value stored
// by coordstore.Client.SetStrategy. A malformed entry degrades to an
// empty plugin/strategy pair rather than aborting the whole diff.
func splitPluginStrategy(encoded string) (plugin, strategy string) {
	var v struct {
		Plugin   string `json:"plugin"`
		Strategy string `json:"strategy"`
	}
	_ = json.Unmarshal([]byte(encoded), &v)
	return v.Plugin, v.Strategy
}

// ReconcileAll runs applyAll, pulling a fresh snapshot for every tag
// the coordinator knows about. Exported so cmd/clustermesh can call it
// during the join sequence's state-seeding step and after a stale
// peer's rooms are cleaned, not just from a `state:all` sync payload.
func (e *Engine) ReconcileAll(ctx context.Context) error {
	return e.applyAll(ctx)
}

// ReconcileStrategies runs reconcileStrategies directly. Exported so
// cmd/clustermesh can hydrate the strategy registry at join time using
// the same diff logic a `strategies` sync payload triggers later.
func (e *Engine) ReconcileStrategies(ctx context.Context) error {
	return e.reconcileStrategies(ctx)
}
