package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/igable/cloud-scheduler/pkg/errs"
	"github.com/igable/cloud-scheduler/pkg/retry"
	"github.com/rs/zerolog"
)

// Destroyer is the subset of driver.ClusterDriver the pool needs during
// reconfigure's drain phase. It is declared locally (rather than
// importing pkg/driver, which itself imports pool) so any ClusterDriver
// implementation satisfies it for free.
type Destroyer interface {
	DestroyVM(ctx context.Context, vm *VM) error
}

// DriverLookup resolves a cluster's cloud_type tag to the Destroyer
// responsible for it. Returns false for unregistered tags.
type DriverLookup func(cloudType string) (Destroyer, bool)

// MachineRecord is one row of an external machine-poll snapshot, used
// only by ChangedJobBindings.
type MachineRecord struct {
	Name        string
	GlobalJobID string
}

// ResourcePool owns the set of clusters a scheduler can place VMs on.
// A single mutex — the "pool lock" of the concurrency model — protects
// the cluster map, insertion order, and every Cluster's capacity
// counters and VM set reachable through it.
type ResourcePool struct {
	mu       sync.Mutex
	clusters map[string]*Cluster
	order    []string // insertion order; fitting_clusters walks this order

	lookup DriverLookup
	logger zerolog.Logger
}

// NewResourcePool builds an empty pool. lookup resolves a cloud_type tag
// to the driver used to drain clusters removed by Reconfigure.
func NewResourcePool(lookup DriverLookup, logger zerolog.Logger) *ResourcePool {
	return &ResourcePool{
		clusters: make(map[string]*Cluster),
		lookup:   lookup,
		logger:   logger,
	}
}

// GetCluster returns the cluster named name, or (nil, false).
func (p *ResourcePool) GetCluster(name string) (*Cluster, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.clusters[name]
	return c, ok
}

// GetClusterWithVM searches every cluster for one owning a VM with the
// given id.
func (p *ResourcePool) GetClusterWithVM(vmID string) (*Cluster, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range p.order {
		c := p.clusters[name]
		if _, ok := c.VMs[vmID]; ok {
			return c, true
		}
	}
	return nil, false
}

// FittingClusters returns, in pool insertion order, every cluster
// satisfying every predicate of req.
func (p *ResourcePool) FittingClusters(req FitRequest) []*Cluster {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*Cluster
	for _, name := range p.order {
		c := p.clusters[name]
		if c.Fits(req) {
			out = append(out, c)
		}
	}
	return out
}

// PotentialFit reports whether any cluster in the pool could ever
// satisfy the given network/arch combination, ignoring capacity.
func (p *ResourcePool) PotentialFit(network, cpuArch string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range p.order {
		if p.clusters[name].PotentialFit(network, cpuArch) {
			return true
		}
	}
	return false
}

// Arbitrary returns the first cluster in insertion order, unconditional
// on any fitness predicate. Mirrors the original's get_resource, kept
// for operational tooling that bypasses selection strategies entirely.
func (p *ResourcePool) Arbitrary() (*Cluster, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.order) == 0 {
		return nil, false
	}
	return p.clusters[p.order[0]], true
}

// VMCount returns the total number of VMs tracked across every cluster.
func (p *ResourcePool) VMCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, c := range p.clusters {
		total += len(c.VMs)
	}
	return total
}

// FirstFitting returns the first cluster, in insertion order, that
// fits req, stopping at the first match rather than scanning the whole
// pool the way FittingClusters does.
func (p *ResourcePool) FirstFitting(req FitRequest) (*Cluster, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range p.order {
		c := p.clusters[name]
		if c.Fits(req) {
			return c, true
		}
	}
	return nil, false
}

// VMTypeCounts returns the raw number of live VMs per vmtype, with no
// fraction normalization. Mirrors the original's get_vmtypes_count;
// VMTypeDistribution builds on top of this.
func (p *ResourcePool) VMTypeCounts() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vmtypeCounts()
}

func (p *ResourcePool) vmtypeCounts() map[string]int {
	counts := make(map[string]int)
	for _, c := range p.clusters {
		for _, vm := range c.VMs {
			counts[vm.VMType]++
		}
	}
	return counts
}

// VMTypeDistribution returns, for each vmtype with at least one live
// VM, the fraction of all live VMs of that type. Fractions sum to 1
// when VMCount() > 0; the empty map otherwise.
func (p *ResourcePool) VMTypeDistribution() map[string]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	counts := p.vmtypeCounts()
	total := 0
	for _, n := range counts {
		total += n
	}
	dist := make(map[string]float64, len(counts))
	if total == 0 {
		return dist
	}
	for vmtype, n := range counts {
		dist[vmtype] = float64(n) / float64(total)
	}
	return dist
}

// ChangedJobBindings compares two snapshots of an external machine view
// and returns the machine names whose GlobalJobID differs between them.
// previous entries absent from current, or vice versa, are not reported
// — only names present in both with a changed binding.
func ChangedJobBindings(current, previous []MachineRecord) []string {
	prevByName := make(map[string]string, len(previous))
	for _, m := range previous {
		prevByName[m.Name] = m.GlobalJobID
	}
	var changed []string
	for _, m := range current {
		prevJobID, ok := prevByName[m.Name]
		if ok && prevJobID != m.GlobalJobID {
			changed = append(changed, m.Name)
		}
	}
	return changed
}

// Summary is one row of ResourcePool.String()'s tabular listing.
type Summary struct {
	Name      string
	CloudType string
	Host      string
	NumVMs    int
}

// String renders a name/cloud_type/host/vm-count table, one row per
// cluster in insertion order. Mirrors the original's get_pool_info,
// used for CLI status output and diagnostic logging.
func (p *ResourcePool) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := ""
	for _, name := range p.order {
		c := p.clusters[name]
		out += fmt.Sprintf("%-20s %-12s %-20s vms=%d\n", c.Name, c.CloudType, c.Host, len(c.VMs))
	}
	return out
}

// ClusterSnapshot is a point-in-time, read-only copy of one cluster's
// identity and live VM set, handed to the persistence layer so it never
// needs to reach into pool internals beyond this accessor.
type ClusterSnapshot struct {
	Name      string
	CloudType string
	VMs       []VM
}

// Snapshot returns a deep copy of every cluster's identity and live VMs,
// in pool insertion order, for the persistence layer's save() (§4.7).
func (p *ResourcePool) Snapshot() []ClusterSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ClusterSnapshot, 0, len(p.order))
	for _, name := range p.order {
		c := p.clusters[name]
		vms := make([]VM, 0, len(c.VMs))
		for _, vm := range c.VMs {
			vms = append(vms, *vm)
		}
		out = append(out, ClusterSnapshot{Name: c.Name, CloudType: c.CloudType, VMs: vms})
	}
	return out
}

// AdoptVM checks out capacity for an already-existing vm against the
// named cluster and, if the cluster exists, adds it to that cluster's VM
// set via Cluster.CheckOutVM. Used by the recovery protocol (§4.7) to
// re-attach a persisted VM once Reconfigure has rebuilt the live cluster
// set. Returns false if the cluster is unknown or has no room (the VM is
// still tracked in the latter case, marked Retiring).
func (p *ResourcePool) AdoptVM(clusterName string, vm *VM) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.clusters[clusterName]
	if !ok {
		return false
	}
	return c.CheckOutVM(vm)
}

// Reserve speculatively checks out memory-bin, slot, and storage
// capacity against the named cluster for req, returning a not-yet-
// dispatched VM placeholder (State VMStarting, no ID) on success. This
// is the "lock" half of the concurrency model's
// lock-compute-unlock-call-lock-commit pattern: callers hold no lock
// while the driver's CreateVM RPC runs, then either Commit (success) or
// Release (failure) the reservation.
func (p *ResourcePool) Reserve(clusterName string, req FitRequest) (*VM, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.clusters[clusterName]
	if !ok {
		return nil, false
	}
	binIndex := c.FindMemEntry(req.Memory)
	if binIndex < 0 || c.VMSlots <= 0 || c.StorageGB < req.Storage {
		return nil, false
	}
	c.AllocateBin(binIndex, req.Memory)
	c.VMSlots--
	c.StorageGB -= req.Storage
	return &VM{
		ClusterName:    clusterName,
		Memory:         req.Memory,
		CPUCores:       req.CPUCores,
		Storage:        req.Storage,
		MemoryBinIndex: binIndex,
		State:          VMStarting,
	}, true
}

// Commit finalizes a Reserve'd vm once the driver has successfully
// created it: the provider-assigned id and reported state are recorded
// and the VM joins its cluster's tracked set. If the cluster no longer
// exists (a Reconfigure ran between Reserve and Commit), the reserved
// capacity was already dropped with the old cluster and there is
// nothing to commit against; the caller should treat the VM as orphaned
// and destroy it.
func (p *ResourcePool) Commit(vm *VM, providerID string, state VMState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.clusters[vm.ClusterName]
	if !ok {
		return
	}
	vm.ID = providerID
	vm.State = state
	c.VMs[vm.ID] = vm
}

// Release returns a Reserve'd vm's speculative capacity to its cluster
// without ever adding it to the tracked VM set, for the driver-RPC-failed
// path. A cluster removed by a concurrent Reconfigure has nothing to
// release into; Release is then a no-op.
func (p *ResourcePool) Release(vm *VM) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.clusters[vm.ClusterName]
	if !ok {
		return
	}
	if vm.MemoryBinIndex >= 0 && vm.MemoryBinIndex < len(c.MemoryBins) {
		c.ReleaseBin(vm.MemoryBinIndex, vm.Memory)
		c.VMSlots++
		c.StorageGB += vm.Storage
	}
}

// Reconfigure atomically replaces the cluster set with one derived from
// newConfigs. Clusters present now but absent from newConfigs are
// drained (every VM destroyed via the registered driver) and dropped.
// Clusters present in both keep their live VM set, transplanted into a
// freshly built Cluster reflecting the new capacity/topology. Clusters
// only in newConfigs are inserted as-is. An unknown cloud_type causes
// that single cluster to be rejected with a logged warning; it never
// aborts the whole reconfigure.
//
// The pool is observably empty between the drain and rebuild phases:
// every cluster, not only the removed ones, is briefly absent from the
// map while drain calls (which may block) run without the pool lock
// held, so no concurrent Select or capacity-changing callback can ever
// observe a half-rebuilt cluster set.
func (p *ResourcePool) Reconfigure(ctx context.Context, newConfigs []ClusterConfig) error {
	type pending struct {
		cfg    ClusterConfig
		oldVMs map[string]*VM // non-nil only for "updated" clusters
	}

	p.mu.Lock()
	oldClusters := p.clusters
	newByName := make(map[string]ClusterConfig, len(newConfigs))
	var newOrder []string
	for _, cfg := range newConfigs {
		if _, dup := newByName[cfg.Name]; dup {
			p.mu.Unlock()
			return fmt.Errorf("cluster %q declared twice: %w", cfg.Name, errs.ErrConfig)
		}
		newByName[cfg.Name] = cfg
		newOrder = append(newOrder, cfg.Name)
	}

	var toDrain []*VM
	pendingBuild := make([]pending, 0, len(newConfigs))

	for name, old := range oldClusters {
		if _, keep := newByName[name]; !keep {
			for _, vm := range old.VMs {
				toDrain = append(toDrain, vm)
			}
		}
	}
	for _, name := range newOrder {
		cfg := newByName[name]
		if old, existed := oldClusters[name]; existed {
			pendingBuild = append(pendingBuild, pending{cfg: cfg, oldVMs: old.VMs})
		} else {
			pendingBuild = append(pendingBuild, pending{cfg: cfg})
		}
	}

	// Drain phase: the pool is emptied entirely before any blocking
	// driver call runs, per the concurrency model's requirement that the
	// pool be observably empty between drain and rebuild.
	p.clusters = make(map[string]*Cluster)
	p.order = nil
	p.mu.Unlock()

	for _, vm := range toDrain {
		var d Destroyer
		var ok bool
		if p.lookup != nil {
			if oldCluster, exists := oldClusters[vm.ClusterName]; exists {
				d, ok = p.lookup(oldCluster.CloudType)
			}
		}
		if !ok || d == nil {
			p.logger.Warn().Str("cluster", vm.ClusterName).Str("vm_id", vm.ID).
				Msg("no driver registered for removed cluster's cloud_type; dropping VM untracked")
			continue
		}
		if err := retry.Destroy(ctx, vm.ID, p.logger, func(ctx context.Context) error {
			return d.DestroyVM(ctx, vm)
		}); err != nil {
			p.logger.Error().Err(err).Str("vm_id", vm.ID).Msg("destroy_vm failed draining removed cluster")
		}
	}

	// Rebuild phase.
	rebuilt := make(map[string]*Cluster, len(pendingBuild))
	var rebuiltOrder []string
	for _, pb := range pendingBuild {
		if p.lookup != nil {
			if _, ok := p.lookup(pb.cfg.CloudType); !ok {
				p.logger.Warn().Str("cluster", pb.cfg.Name).Str("cloud_type", pb.cfg.CloudType).
					Msg("unknown cloud_type; rejecting cluster during reconfigure")
				continue
			}
		}
		nc := NewCluster(pb.cfg)
		if pb.oldVMs != nil {
			for _, vm := range pb.oldVMs {
				// Open question (§9) resolution: rather than rejecting a
				// shrunk configuration outright, transplanted VMs that no
				// longer fit the new capacity/topology are marked Retiring
				// by CheckOutVM and stay tracked; the scheduling pass does
				// not destroy them.
				nc.CheckOutVM(vm)
			}
		}
		rebuilt[nc.Name] = nc
		rebuiltOrder = append(rebuiltOrder, nc.Name)
	}

	p.mu.Lock()
	p.clusters = rebuilt
	p.order = rebuiltOrder
	p.mu.Unlock()

	return nil
}
