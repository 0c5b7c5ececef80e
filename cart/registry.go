package cart

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrMissingDevice = errors.New("device id required")

type registryEntry struct {
	store    *Store
	once     sync.Once
	lastUsed time.Time
}

// Registry hands out one Store per device, loading it on first use.
type Registry struct {
	persister Persister
	stock     StockChecker
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	stores map[string]*registryEntry
}

func NewRegistry(persister Persister, checker StockChecker, logger *zap.Logger) *Registry {
	return &Registry{
		persister: persister,
		stock:     checker,
		logger:    logger,
		now:       time.Now,
		stores:    make(map[string]*registryEntry),
	}
}

// Get returns the loaded cart of deviceID. Concurrent first calls for the
// same device wait for a single Load.
func (r *Registry) Get(ctx context.Context, deviceID string) (*Store, error) {
	if deviceID == "" {
		return nil, ErrMissingDevice
	}
	r.mu.Lock()
	e, ok := r.stores[deviceID]
	if !ok {
		e = &registryEntry{store: NewStore(deviceID, r.persister, r.stock, r.logger)}
		r.stores[deviceID] = e
	}
	e.lastUsed = r.now()
	r.mu.Unlock()

	e.once.Do(func() { e.store.Load(ctx) })
	return e.store, nil
}

// Len reports how many carts are held in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}

// EvictIdle drops the in-process copy of every cart not fetched for longer
// than idle, except those inUse reports as still referenced. The persisted
// carts are kept. It returns the evicted devices.
func (r *Registry) EvictIdle(idle time.Duration, inUse func(deviceID string) bool) []string {
	cutoff := r.now().Add(-idle)
	r.mu.Lock()
	var stale []string
	for id, e := range r.stores {
		if e.lastUsed.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	var evicted []string
	for _, id := range stale {
		if inUse != nil && inUse(id) {
			continue
		}
		r.mu.Lock()
		if e, ok := r.stores[id]; ok && e.lastUsed.Before(cutoff) {
			delete(r.stores, id)
			evicted = append(evicted, id)
		}
		r.mu.Unlock()
	}
	if len(evicted) > 0 {
		r.logger.Debug("evicted idle carts", zap.Int("count", len(evicted)))
	}
	return evicted
}
