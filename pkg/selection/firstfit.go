package selection

import "github.com/igable/cloud-scheduler/pkg/pool"

// FirstFit walks the pool in insertion order and returns the first
// cluster satisfying every constraint. It never returns a secondary.
type FirstFit struct{}

func (FirstFit) Select(p *pool.ResourcePool, req pool.FitRequest) (primary, secondary *pool.Cluster) {
	c, ok := p.FirstFitting(req)
	if !ok {
		return nil, nil
	}
	return c, nil
}
