package selection

import "github.com/igable/cloud-scheduler/pkg/pool"

// BalancedFit computes the set of fitting clusters, then returns the
// two with the fewest live VMs — the "most balanced" and "next most
// balanced" — so that placements spread evenly across fitting capacity.
// Ties are broken by pool iteration order (the fitting-clusters scan
// order), since the single linear pass below only ever displaces an
// incumbent on a strict improvement.
type BalancedFit struct{}

func (BalancedFit) Select(p *pool.ResourcePool, req pool.FitRequest) (primary, secondary *pool.Cluster) {
	fitting := p.FittingClusters(req)

	switch len(fitting) {
	case 0:
		return nil, nil
	case 1:
		return fitting[0], nil
	}

	primary, secondary = fitting[0], fitting[1]
	if secondary.NumVMs() < primary.NumVMs() {
		primary, secondary = secondary, primary
	}

	for _, candidate := range fitting[2:] {
		switch {
		case candidate.NumVMs() < primary.NumVMs():
			secondary = primary
			primary = candidate
		case candidate.NumVMs() < secondary.NumVMs():
			secondary = candidate
		}
	}

	return primary, secondary
}
