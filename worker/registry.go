package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Registry holds the default pool and any named pools. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	def   *Pool
	named map[string]*Pool
	order []string
}

// NewRegistry creates a registry around the default pool.
func NewRegistry(def *Pool) *Registry {
	return &Registry{def: def, named: make(map[string]*Pool)}
}

// Register adds a named pool. Names must be unique.
func (r *Registry) Register(p *Pool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Name() == "" {
		return errors.New("worker: pool name is required")
	}
	if _, exists := r.named[p.Name()]; exists {
		return fmt.Errorf("worker: pool %q already registered", p.Name())
	}
	r.named[p.Name()] = p
	r.order = append(r.order, p.Name())
	return nil
}

// DefaultPool returns the pool used when no named pool applies.
func (r *Registry) DefaultPool() *Pool { return r.def }

// NamedPool looks up a pool by name. The default pool is found under its
// own name too.
func (r *Registry) NamedPool(name string) (*Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.named[name]; ok {
		return p, true
	}
	if r.def != nil && name != "" && name == r.def.Name() {
		return r.def, true
	}
	return nil, false
}

// Resolve returns the first registered pool among names, falling back to
// the default pool. Empty and unknown names are skipped.
func (r *Registry) Resolve(names ...string) *Pool {
	for _, name := range names {
		if name == "" {
			continue
		}
		if p, ok := r.NamedPool(name); ok {
			return p
		}
	}
	return r.def
}

// StartAll starts the default pool and every named pool.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, p := range r.all() {
		if err := p.Start(ctx); err != nil {
			return fmt.Errorf("worker: start pool %q: %w", p.Name(), err)
		}
	}
	return nil
}

// StopAll stops every pool, named pools first.
func (r *Registry) StopAll(ctx context.Context) error {
	pools := r.all()
	var errs []error
	for i := len(pools) - 1; i >= 0; i-- {
		if err := pools[i].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("worker: stop pool %q: %w", pools[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) all() []*Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pools := make([]*Pool, 0, len(r.order)+1)
	if r.def != nil {
		pools = append(pools, r.def)
	}
	for _, name := range r.order {
		pools = append(pools, r.named[name])
	}
	return pools
}
