// Package selection implements the pluggable cluster-selection policy:
// given a pool and a job's resource requirements, pick the cluster (and,
// where the strategy supports it, a runner-up) that should host the VM.
package selection

import "github.com/igable/cloud-scheduler/pkg/pool"

// Strategy is a stateless selection policy. A Strategy must never
// mutate the pool it is given; selection is read-only, capacity
// reservation happens afterward under the pool lock.
type Strategy interface {
	// Select returns the chosen primary cluster and, for strategies that
	// support a runner-up, a secondary. Either may be nil if no cluster
	// satisfies req.
	Select(p *pool.ResourcePool, req pool.FitRequest) (primary, secondary *pool.Cluster)
}

// Constructor builds a new Strategy instance. Registered constructors
// back the Selector façade's name-keyed lookup.
type Constructor func() Strategy

const (
	// NameFirstFit is the registry key for FirstFit.
	NameFirstFit = "first-fit"
	// NameBalancedFit is the registry key for BalancedFit.
	NameBalancedFit = "balanced-fit"
)

var registry = map[string]Constructor{
	NameFirstFit:    func() Strategy { return FirstFit{} },
	NameBalancedFit: func() Strategy { return BalancedFit{} },
}

// Register adds (or overrides) a named strategy constructor. Called by
// extension packages wishing to add a strategy beyond the two built-ins;
// this is the static, compile-time substitute for the original's
// dynamic file-path strategy loading (see the Selector doc comment).
func Register(name string, ctor Constructor) {
	registry[name] = ctor
}

// lookup resolves name to a constructor, reporting whether it is known.
func lookup(name string) (Constructor, bool) {
	ctor, ok := registry[name]
	return ctor, ok
}
