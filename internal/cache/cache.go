// Package cache provides the node-local collaborator caches the sync
// engine reconciles on `cluster:sync` events: the index cache, the
// profile and role repository caches, the validator specification
// cache, and the authentication strategy registry.
//
// All of these are in-memory and thread-safe via sync.RWMutex, and all
// getters return copies so callers cannot corrupt internal state by
// mutating a returned value. The coordinator store remains the
// authority for anything replicated; these caches only exist to keep
// hot-path lookups off the network.
package cache

import (
	"errors"
	"sync"
)

// ErrNotFound is returned when an id is not present in a repository
// cache. Callers should check for this error specifically to
// distinguish a cache miss from a storage failure.
var ErrNotFound = errors.New("not found in cache")

// Emitter is the slice of the local event bus the index cache needs to
// re-announce a propagating mutation. internal/hooks.Hub satisfies it.
type Emitter interface {
	Emit(event string, payload any)
}

// IndexCache tracks which indexes this node believes exist. A mutation
// with propagate=true is re-emitted on the local bus so the hook
// bindings broadcast it fleet-wide; the sync engine always applies
// peer-originated mutations with propagate=false so they never echo.
type IndexCache struct {
	mu      sync.RWMutex
	indexes map[string]struct{}

	emitter     Emitter
	addEvent    string
	removeEvent string
}

// NewIndexCache builds an empty index cache. emitter may be nil, in
// which case propagate requests are silently local-only (useful in
// tests exercising the sync path alone).
func NewIndexCache(emitter Emitter, addEvent, removeEvent string) *IndexCache {
	return &IndexCache{
		indexes:     make(map[string]struct{}),
		emitter:     emitter,
		addEvent:    addEvent,
		removeEvent: removeEvent,
	}
}

// Add records an index. With propagate set, the mutation is re-emitted
// on the local bus for fleet-wide broadcast.
func (c *IndexCache) Add(index string, propagate bool) {
	c.mu.Lock()
	_, existed := c.indexes[index]
	c.indexes[index] = struct{}{}
	c.mu.Unlock()

	if propagate && !existed && c.emitter != nil {
		c.emitter.Emit(c.addEvent, index)
	}
}

// Remove drops an index. Idempotent.
func (c *IndexCache) Remove(index string, propagate bool) {
	c.mu.Lock()
	_, existed := c.indexes[index]
	delete(c.indexes, index)
	c.mu.Unlock()

	if propagate && existed && c.emitter != nil {
		c.emitter.Emit(c.removeEvent, index)
	}
}

// Has reports whether index is known.
func (c *IndexCache) Has(index string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.indexes[index]
	return ok
}

// List returns a snapshot of every known index. Never returns nil.
func (c *IndexCache) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.indexes))
	for idx := range c.indexes {
		out = append(out, idx)
	}
	return out
}

// Repository caches one kind of security document (profiles or roles)
// by id. Entries are stored and returned as copies; Invalidate is the
// only mutation the sync engine performs, forcing the next Get to fall
// through to the host platform's authoritative repository.
type Repository struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewRepository returns an empty repository cache.
func NewRepository() *Repository {
	return &Repository{data: make(map[string][]byte)}
}

// Get retrieves a cached document by id, or ErrNotFound on a miss.
func (r *Repository) Get(id string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	value, ok := r.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set caches a document under id, overwriting any previous entry.
func (r *Repository) Set(id string, value []byte) {
	stored := make([]byte, len(value))
	copy(stored, value)
	r.mu.Lock()
	r.data[id] = stored
	r.mu.Unlock()
}

// Invalidate evicts one id. Idempotent; a miss is not an error.
func (r *Repository) Invalidate(id string) {
	r.mu.Lock()
	delete(r.data, id)
	r.mu.Unlock()
}

// Len returns the number of cached entries.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// ValidatorLoader produces the full validator specification set from
// the authoritative source (the host platform's storage engine).
type ValidatorLoader func() (map[string][]byte, error)

// Validators caches document validation specifications. Reload swaps
// the whole set atomically; a failed load keeps the previous
// generation so readers never observe a half-built cache.
type Validators struct {
	mu     sync.RWMutex
	specs  map[string][]byte
	loader ValidatorLoader
}

// NewValidators builds a validator cache around loader. loader may be
// nil, in which case Reload only clears the cache.
func NewValidators(loader ValidatorLoader) *Validators {
	return &Validators{specs: make(map[string][]byte), loader: loader}
}

// Reload replaces the cached specification set from the loader.
func (v *Validators) Reload() {
	if v.loader == nil {
		v.mu.Lock()
		v.specs = make(map[string][]byte)
		v.mu.Unlock()
		return
	}
	fresh, err := v.loader()
	if err != nil {
		return
	}
	v.mu.Lock()
	v.specs = fresh
	v.mu.Unlock()
}

// Spec returns one collection's validation specification, or
// ErrNotFound if none is cached.
func (v *Validators) Spec(key string) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	value, ok := v.specs[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Len returns the number of cached specifications.
func (v *Validators) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.specs)
}

// Strategy is one registered authentication strategy.
type Strategy struct {
	Plugin   string
	Strategy string
}

// StrategyRegistry is the node-local view of registered authentication
// strategies, reconciled against the coordinator's authoritative hash
// by the sync engine's diff.
type StrategyRegistry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewStrategyRegistry returns an empty registry.
func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{strategies: make(map[string]Strategy)}
}

// Register installs a named strategy, overwriting any previous entry.
func (s *StrategyRegistry) Register(name, plugin, strategy string) {
	s.mu.Lock()
	s.strategies[name] = Strategy{Plugin: plugin, Strategy: strategy}
	s.mu.Unlock()
}

// Unregister removes a named strategy. Idempotent.
func (s *StrategyRegistry) Unregister(name string) {
	s.mu.Lock()
	delete(s.strategies, name)
	s.mu.Unlock()
}

// Get returns one strategy and whether it is registered.
func (s *StrategyRegistry) Get(name string) (Strategy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.strategies[name]
	return st, ok
}

// Names returns a snapshot of every registered strategy name. Never
// returns nil.
func (s *StrategyRegistry) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.strategies))
	for name := range s.strategies {
		out = append(out, name)
	}
	return out
}
