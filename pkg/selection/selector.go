package selection

import (
	"fmt"
	"sync"

	"github.com/igable/cloud-scheduler/pkg/errs"
	"github.com/igable/cloud-scheduler/pkg/pool"
)

// Selector holds a configured strategy name and lazily instantiates it
// on the first Select call, from the built-in registry mapping strategy
// names to constructors. This replaces the original's dynamic
// file-path module loading (imp.load_source) with a statically
// compiled, name-keyed lookup — the source's runtime compilation has no
// sound Go equivalent and is a deliberate redesign point.
type Selector struct {
	mu       sync.Mutex
	name     string
	strategy Strategy
}

// NewSelector configures a Selector to use the named strategy. The
// strategy itself is not instantiated until the first Select call.
func NewSelector(name string) *Selector {
	return &Selector{name: name}
}

// Select resolves (and caches) the configured strategy, then delegates
// to it.
func (s *Selector) Select(p *pool.ResourcePool, req pool.FitRequest) (primary, secondary *pool.Cluster, err error) {
	s.mu.Lock()
	if s.strategy == nil {
		ctor, ok := lookup(s.name)
		if !ok {
			s.mu.Unlock()
			return nil, nil, fmt.Errorf("selection strategy %q: %w", s.name, errs.ErrUnknownStrategy)
		}
		s.strategy = ctor()
	}
	strategy := s.strategy
	s.mu.Unlock()

	primary, secondary = strategy.Select(p, req)
	return primary, secondary, nil
}

// Name returns the configured strategy name.
func (s *Selector) Name() string {
	return s.name
}
