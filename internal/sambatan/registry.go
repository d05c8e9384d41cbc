package sambatan

import (
	"sync"
	"time"

	"sambatan-service/internal/models"
)

// Registry owns the set of live pools and routes operations by pool ID. The
// registry lock guards only the maps; pool bodies serialize on their own
// mutex, so operations on different pools never contend here beyond lookup.
type Registry struct {
	mu         sync.RWMutex
	pools      map[string]*Pool
	byOffering map[string]string // offering ID -> active pool ID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		pools:      make(map[string]*Pool),
		byOffering: make(map[string]string),
	}
}

// Create registers a new pool, enforcing one active run per offering. A
// previous run that has reached a terminal state no longer blocks a new one.
func (r *Registry) Create(cfg Config) (*Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if activeID, ok := r.byOffering[cfg.OfferingID]; ok {
		if active, found := r.pools[activeID]; found && isLive(active.Snapshot().State) {
			return nil, ErrDuplicatePool
		}
	}

	pool, err := NewPool(cfg)
	if err != nil {
		return nil, err
	}
	r.pools[cfg.ID] = pool
	r.byOffering[cfg.OfferingID] = cfg.ID
	return pool, nil
}

// Adopt registers an already-built pool, used when hydrating live pools from
// the store at startup.
func (r *Registry) Adopt(pool *Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pools[pool.ID()] = pool
	if isLive(pool.Snapshot().State) {
		r.byOffering[pool.OfferingID()] = pool.ID()
	}
}

// Get routes to a pool by ID.
func (r *Registry) Get(id string) (*Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pool, ok := r.pools[id]
	if !ok {
		return nil, ErrNotFound
	}
	return pool, nil
}

// Remove drops an archived pool. Only terminal pools should be removed.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pool, ok := r.pools[id]
	if !ok {
		return
	}
	delete(r.pools, id)
	if r.byOffering[pool.OfferingID()] == id {
		delete(r.byOffering, pool.OfferingID())
	}
}

// List snapshots every pool, optionally filtered by state.
func (r *Registry) List(state string) []Snapshot {
	r.mu.RLock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.mu.RUnlock()

	// Snapshots are taken outside the registry lock to avoid holding it
	// across per-pool locks.
	out := make([]Snapshot, 0, len(pools))
	for _, p := range pools {
		snap := p.Snapshot()
		if state == "" || snap.State == state {
			out = append(out, snap)
		}
	}
	return out
}

// Due returns OPEN pools whose deadline has passed, for the sweeper to
// expire. This is only a pre-filter; the authoritative window check runs
// again inside Expire under the pool's lock.
func (r *Registry) Due(now time.Time) []*Pool {
	r.mu.RLock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.mu.RUnlock()

	due := make([]*Pool, 0)
	for _, p := range pools {
		snap := p.Snapshot()
		if snap.State == models.PoolStateOpen && !now.Before(snap.Deadline) {
			due = append(due, p)
		}
	}
	return due
}

func isLive(state string) bool {
	return state == models.PoolStateOpen || state == models.PoolStateFilled
}
