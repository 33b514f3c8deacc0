// Package pool implements the resource pool: the set of clusters a
// scheduler can place VMs on, each cluster's capacity bookkeeping, and
// the memory-bin allocator every placement decision checks out against.
package pool

// VMState is a VM's lifecycle state as tracked by the pool, independent
// of whatever the backend driver itself reports via PollVM.
type VMState string

const (
	VMStarting  VMState = "Starting"
	VMRunning   VMState = "Running"
	VMError     VMState = "Error"
	VMRetiring  VMState = "Retiring"
	VMDestroyed VMState = "Destroyed"
)

// VM is a single virtual machine created on behalf of a job.
type VM struct {
	ID             string
	VMType         string
	ClusterName    string
	Memory         int
	CPUCores       int
	Storage        int
	MemoryBinIndex int
	State          VMState
}

// ClusterConfig is the validated, already-parsed description of one
// cluster as produced by an external configuration collaborator (see
// pkg/config). ResourcePool.Reconfigure consumes a slice of these.
type ClusterConfig struct {
	Name       string
	CloudType  string
	Host       string
	CPUArchs   []string
	Networks   []string
	MemoryBins []int
	VMSlots    int
	CPUCores   int
	StorageGB  int
}

// Cluster represents one cloud endpoint: its declared capacity, the
// tags that gate fitness checks, and the VMs currently living on it.
// Every exported field is mutated only by the owning ResourcePool under
// its pool lock; Cluster itself holds no lock.
type Cluster struct {
	Name      string
	CloudType string
	Host      string

	CPUArchs map[string]struct{}
	Networks map[string]struct{}

	// MemoryBins holds the ordered, mutable remaining capacity of each
	// independent memory pool. Index order is fixed at construction.
	MemoryBins []int

	VMSlots   int
	CPUCores  int // per-slot core count offered
	StorageGB int

	VMs map[string]*VM
}

// NewCluster builds a Cluster from a validated config, copying slices
// and bins so the config value can be discarded or reused afterward.
func NewCluster(cfg ClusterConfig) *Cluster {
	archs := make(map[string]struct{}, len(cfg.CPUArchs))
	for _, a := range cfg.CPUArchs {
		archs[a] = struct{}{}
	}
	nets := make(map[string]struct{}, len(cfg.Networks))
	for _, n := range cfg.Networks {
		nets[n] = struct{}{}
	}
	bins := make([]int, len(cfg.MemoryBins))
	copy(bins, cfg.MemoryBins)

	return &Cluster{
		Name:       cfg.Name,
		CloudType:  cfg.CloudType,
		Host:       cfg.Host,
		CPUArchs:   archs,
		Networks:   nets,
		MemoryBins: bins,
		VMSlots:    cfg.VMSlots,
		CPUCores:   cfg.CPUCores,
		StorageGB:  cfg.StorageGB,
		VMs:        make(map[string]*VM),
	}
}

// FindMemEntry returns the index of the first memory bin whose
// remaining capacity is >= requestedMB, or -1 if none exists. Policy is
// first-fit over the declared bin order; bin order never changes after
// construction.
func (c *Cluster) FindMemEntry(requestedMB int) int {
	for i, remaining := range c.MemoryBins {
		if remaining >= requestedMB {
			return i
		}
	}
	return -1
}

// AllocateBin decrements bin binIndex by mb. Callers must have already
// validated binIndex via FindMemEntry.
func (c *Cluster) AllocateBin(binIndex, mb int) {
	c.MemoryBins[binIndex] -= mb
}

// ReleaseBin increments bin binIndex by mb, the inverse of AllocateBin.
func (c *Cluster) ReleaseBin(binIndex, mb int) {
	c.MemoryBins[binIndex] += mb
}

// NumVMs reports the number of live VMs tracked on this cluster. This
// is the balance key balanced-fit minimizes.
func (c *Cluster) NumVMs() int {
	return len(c.VMs)
}

// FitRequest bundles the dimensions a placement decision is checked
// against: architecture, network, and the three capacity axes.
type FitRequest struct {
	Network  string
	CPUArch  string
	Memory   int
	CPUCores int
	Storage  int
}

// Fits reports whether c satisfies every predicate of a placement
// request: a free VM slot, matching arch and network tags, a memory
// bin with enough remaining capacity, and sufficient per-slot cores and
// scratch storage.
func (c *Cluster) Fits(req FitRequest) bool {
	if c.VMSlots <= 0 {
		return false
	}
	if _, ok := c.CPUArchs[req.CPUArch]; !ok {
		return false
	}
	if _, ok := c.Networks[req.Network]; !ok {
		return false
	}
	if c.FindMemEntry(req.Memory) < 0 {
		return false
	}
	if req.CPUCores > c.CPUCores {
		return false
	}
	if req.Storage > c.StorageGB {
		return false
	}
	return true
}

// PotentialFit is the cheap architecture/network pre-check described by
// the original's resourcePF: could this cluster ever satisfy the given
// network and architecture, ignoring memory, cores, and storage
// entirely. Used by operational tooling to short-circuit a full scan.
func (c *Cluster) PotentialFit(network, cpuArch string) bool {
	_, archOK := c.CPUArchs[cpuArch]
	_, netOK := c.Networks[network]
	return archOK && netOK
}

// CheckOutVM attempts to reserve capacity for an already-existing VM
// (one recovered from persistence, or transplanted across a
// reconfigure) and adds it to c.VMs. If a memory bin, a free slot, and
// enough storage are all available, capacity is decremented and the VM
// is marked with the bin it was assigned; CheckOutVM returns true.
//
// If any resource is unavailable — most commonly because a
// reconfigure shrank declared capacity below the number of VMs being
// transplanted — the VM is still tracked (it exists on the backend
// regardless of what the pool can account for) but is marked Retiring
// and holds no capacity, and CheckOutVM returns false. The scheduling
// pass does not destroy Retiring VMs.
func (c *Cluster) CheckOutVM(vm *VM) bool {
	binIndex := c.FindMemEntry(vm.Memory)
	slotOK := c.VMSlots > 0
	storageOK := c.StorageGB >= vm.Storage

	if binIndex >= 0 && slotOK && storageOK {
		c.AllocateBin(binIndex, vm.Memory)
		c.VMSlots--
		c.StorageGB -= vm.Storage
		vm.MemoryBinIndex = binIndex
		vm.ClusterName = c.Name
		c.VMs[vm.ID] = vm
		return true
	}

	vm.MemoryBinIndex = -1
	vm.ClusterName = c.Name
	vm.State = VMRetiring
	c.VMs[vm.ID] = vm
	return false
}

// CheckIn releases a VM's reserved capacity (slot, memory bin, storage)
// and removes it from c.VMs. Safe to call on a VM whose bin allocation
// failed (MemoryBinIndex == -1): no bin release is attempted.
func (c *Cluster) CheckIn(vm *VM) {
	if vm.MemoryBinIndex >= 0 && vm.MemoryBinIndex < len(c.MemoryBins) {
		c.ReleaseBin(vm.MemoryBinIndex, vm.Memory)
		c.VMSlots++
		c.StorageGB += vm.Storage
	}
	delete(c.VMs, vm.ID)
}
