package pool

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDriver records DestroyVM calls so tests can assert the drain
// phase of Reconfigure invoked it exactly once per VM.
type fakeDriver struct {
	mu      sync.Mutex
	destroy []string
}

func (f *fakeDriver) DestroyVM(ctx context.Context, vm *VM) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroy = append(f.destroy, vm.ID)
	return nil
}

func newTestPool(t *testing.T, lookup DriverLookup) *ResourcePool {
	t.Helper()
	return NewResourcePool(lookup, zerolog.Nop())
}

func sBuildS1Pool(t *testing.T) *ResourcePool {
	t.Helper()
	p := newTestPool(t, nil)
	cfgA := ClusterConfig{Name: "A", CloudType: "Nimbus", CPUArchs: []string{"x86"}, Networks: []string{"pub"}, MemoryBins: []int{1024, 1024}, VMSlots: 2, CPUCores: 4, StorageGB: 20}
	cfgB := ClusterConfig{Name: "B", CloudType: "Nimbus", CPUArchs: []string{"x86"}, Networks: []string{"pub"}, MemoryBins: []int{512}, VMSlots: 1, CPUCores: 2, StorageGB: 10}
	require.NoError(t, p.Reconfigure(context.Background(), []ClusterConfig{cfgA, cfgB}))
	// B already carries 5 VMs per S1; simulate by checking out 5 synthetic
	// VMs whose resource demands are irrelevant to the fitting scenarios.
	bCluster, _ := p.GetCluster("B")
	for i := 0; i < 5; i++ {
		bCluster.VMs[idOf(i)] = &VM{ID: idOf(i), ClusterName: "B"}
	}
	return p
}

func idOf(i int) string {
	return "preexisting-" + string(rune('a'+i))
}

func TestFittingClustersSoundnessAndCompleteness(t *testing.T) {
	p := sBuildS1Pool(t)

	req := FitRequest{Network: "pub", CPUArch: "x86", Memory: 512, CPUCores: 1, Storage: 5}
	fitting := p.FittingClusters(req)

	require.Len(t, fitting, 2)
	names := []string{fitting[0].Name, fitting[1].Name}
	assert.ElementsMatch(t, []string{"A", "B"}, names)
	// insertion order: A before B
	assert.Equal(t, "A", fitting[0].Name)
}

func TestFittingClustersS2StorageExcludesB(t *testing.T) {
	p := sBuildS1Pool(t)
	req := FitRequest{Network: "pub", CPUArch: "x86", Memory: 512, CPUCores: 1, Storage: 15}

	fitting := p.FittingClusters(req)

	require.Len(t, fitting, 1)
	assert.Equal(t, "A", fitting[0].Name)
}

func TestFittingClustersS3ArchExcludesBoth(t *testing.T) {
	p := sBuildS1Pool(t)
	req := FitRequest{Network: "pub", CPUArch: "arm", Memory: 512, CPUCores: 1, Storage: 5}

	fitting := p.FittingClusters(req)

	assert.Empty(t, fitting)
}

func TestReconfigurePreservesLiveVMs(t *testing.T) {
	drv := &fakeDriver{}
	lookup := func(cloudType string) (Destroyer, bool) { return drv, true }
	p := newTestPool(t, lookup)

	initial := []ClusterConfig{{Name: "A", CloudType: "Nimbus", MemoryBins: []int{1024, 1024}, VMSlots: 2, StorageGB: 20}}
	require.NoError(t, p.Reconfigure(context.Background(), initial))

	a, _ := p.GetCluster("A")
	vm := &VM{ID: "vm-1", Memory: 256, Storage: 2, State: VMRunning}
	require.True(t, a.CheckOutVM(vm))

	// Reconfigure "A" again with different capacity/topology but same name.
	updated := []ClusterConfig{{Name: "A", CloudType: "Nimbus", MemoryBins: []int{2048}, VMSlots: 2, StorageGB: 40}}
	require.NoError(t, p.Reconfigure(context.Background(), updated))

	a2, ok := p.GetCluster("A")
	require.True(t, ok)
	require.Contains(t, a2.VMs, "vm-1")
	assert.Equal(t, VMRunning, a2.VMs["vm-1"].State)
	assert.Empty(t, drv.destroy, "updated cluster must not be drained")
}

func TestReconfigureDrainsRemovedClusters(t *testing.T) {
	drv := &fakeDriver{}
	lookup := func(cloudType string) (Destroyer, bool) { return drv, true }
	p := newTestPool(t, lookup)

	initial := []ClusterConfig{{Name: "A", CloudType: "Nimbus", MemoryBins: []int{1024}, VMSlots: 2, StorageGB: 20}}
	require.NoError(t, p.Reconfigure(context.Background(), initial))
	a, _ := p.GetCluster("A")
	vm1 := &VM{ID: "vm-1", Memory: 256, Storage: 2}
	vm2 := &VM{ID: "vm-2", Memory: 256, Storage: 2}
	require.True(t, a.CheckOutVM(vm1))
	require.True(t, a.CheckOutVM(vm2))

	// Remove A entirely.
	require.NoError(t, p.Reconfigure(context.Background(), nil))

	_, ok := p.GetCluster("A")
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"vm-1", "vm-2"}, drv.destroy)
}

func TestReconfigureRejectsUnknownCloudType(t *testing.T) {
	lookup := func(cloudType string) (Destroyer, bool) { return nil, false }
	p := newTestPool(t, lookup)

	err := p.Reconfigure(context.Background(), []ClusterConfig{{Name: "A", CloudType: "Mystery"}})

	require.NoError(t, err) // rejection is per-cluster, not fatal
	_, ok := p.GetCluster("A")
	assert.False(t, ok)
}

func TestReconfigureShrunkCapacityMarksOverQuotaRetiring(t *testing.T) {
	drv := &fakeDriver{}
	lookup := func(cloudType string) (Destroyer, bool) { return drv, true }
	p := newTestPool(t, lookup)

	require.NoError(t, p.Reconfigure(context.Background(), []ClusterConfig{
		{Name: "A", CloudType: "Nimbus", MemoryBins: []int{1024, 1024}, VMSlots: 2, StorageGB: 20},
	}))
	a, _ := p.GetCluster("A")
	vm1 := &VM{ID: "vm-1", Memory: 256, Storage: 2}
	vm2 := &VM{ID: "vm-2", Memory: 256, Storage: 2}
	require.True(t, a.CheckOutVM(vm1))
	require.True(t, a.CheckOutVM(vm2))

	// Shrink to a single slot — one of the two transplanted VMs no longer fits.
	require.NoError(t, p.Reconfigure(context.Background(), []ClusterConfig{
		{Name: "A", CloudType: "Nimbus", MemoryBins: []int{1024}, VMSlots: 1, StorageGB: 20},
	}))

	a2, _ := p.GetCluster("A")
	require.Len(t, a2.VMs, 2)
	retiring := 0
	for _, vm := range a2.VMs {
		if vm.State == VMRetiring {
			retiring++
		}
	}
	assert.Equal(t, 1, retiring)
}

func TestVMTypeDistribution(t *testing.T) {
	p := newTestPool(t, nil)
	require.NoError(t, p.Reconfigure(context.Background(), []ClusterConfig{
		{Name: "A", CloudType: "Nimbus", MemoryBins: []int{1024, 1024, 1024}, VMSlots: 3, StorageGB: 20},
	}))
	a, _ := p.GetCluster("A")
	a.VMs["1"] = &VM{ID: "1", VMType: "small"}
	a.VMs["2"] = &VM{ID: "2", VMType: "small"}
	a.VMs["3"] = &VM{ID: "3", VMType: "large"}

	dist := p.VMTypeDistribution()

	assert.InDelta(t, 2.0/3.0, dist["small"], 0.0001)
	assert.InDelta(t, 1.0/3.0, dist["large"], 0.0001)

	counts := p.VMTypeCounts()
	assert.Equal(t, 2, counts["small"])
	assert.Equal(t, 1, counts["large"])
}

func TestVMTypeDistributionEmptyPool(t *testing.T) {
	p := newTestPool(t, nil)
	assert.Empty(t, p.VMTypeDistribution())
}

func TestChangedJobBindings(t *testing.T) {
	previous := []MachineRecord{{Name: "m1", GlobalJobID: "job-1"}, {Name: "m2", GlobalJobID: "job-2"}}
	current := []MachineRecord{{Name: "m1", GlobalJobID: "job-9"}, {Name: "m2", GlobalJobID: "job-2"}}

	changed := ChangedJobBindings(current, previous)

	assert.Equal(t, []string{"m1"}, changed)
}

func TestReserveCommitAddsVMToCluster(t *testing.T) {
	p := newTestPool(t, nil)
	require.NoError(t, p.Reconfigure(context.Background(), []ClusterConfig{
		{Name: "A", CloudType: "Nimbus", MemoryBins: []int{1024}, VMSlots: 1, CPUCores: 2, StorageGB: 20},
	}))

	vm, ok := p.Reserve("A", FitRequest{Memory: 512, CPUCores: 1, Storage: 5})
	require.True(t, ok)
	assert.Equal(t, VMStarting, vm.State)

	a, _ := p.GetCluster("A")
	assert.Equal(t, 0, a.VMSlots, "slot should be reserved before commit")

	p.Commit(vm, "provider-id-1", VMRunning)
	assert.Equal(t, "provider-id-1", vm.ID)
	assert.Contains(t, a.VMs, "provider-id-1")
}

func TestReserveFailsWhenNoCapacity(t *testing.T) {
	p := newTestPool(t, nil)
	require.NoError(t, p.Reconfigure(context.Background(), []ClusterConfig{
		{Name: "A", CloudType: "Nimbus", MemoryBins: []int{1024}, VMSlots: 1, StorageGB: 20},
	}))

	_, ok := p.Reserve("A", FitRequest{Memory: 2048})
	assert.False(t, ok)
}

func TestReleaseReturnsCapacityWithoutTrackingVM(t *testing.T) {
	p := newTestPool(t, nil)
	require.NoError(t, p.Reconfigure(context.Background(), []ClusterConfig{
		{Name: "A", CloudType: "Nimbus", MemoryBins: []int{1024}, VMSlots: 1, StorageGB: 20},
	}))

	vm, ok := p.Reserve("A", FitRequest{Memory: 512, Storage: 5})
	require.True(t, ok)

	p.Release(vm)

	a, _ := p.GetCluster("A")
	assert.Equal(t, 1, a.VMSlots)
	assert.Equal(t, 1024, a.MemoryBins[0])
	assert.Empty(t, a.VMs)
}

func TestSnapshotReturnsClusterAndVMCopies(t *testing.T) {
	p := newTestPool(t, nil)
	require.NoError(t, p.Reconfigure(context.Background(), []ClusterConfig{
		{Name: "A", CloudType: "Nimbus", MemoryBins: []int{1024}, VMSlots: 2, StorageGB: 20},
	}))
	a, _ := p.GetCluster("A")
	a.VMs["1"] = &VM{ID: "1", ClusterName: "A", VMType: "small"}

	snap := p.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "A", snap[0].Name)
	assert.Equal(t, "Nimbus", snap[0].CloudType)
	require.Len(t, snap[0].VMs, 1)
	assert.Equal(t, "1", snap[0].VMs[0].ID)
}

func TestAdoptVMChecksOutCapacityOnExistingCluster(t *testing.T) {
	p := newTestPool(t, nil)
	require.NoError(t, p.Reconfigure(context.Background(), []ClusterConfig{
		{Name: "A", CloudType: "Nimbus", MemoryBins: []int{1024}, VMSlots: 1, StorageGB: 20},
	}))

	vm := &VM{ID: "1", Memory: 512, Storage: 5}
	ok := p.AdoptVM("A", vm)
	assert.True(t, ok)

	a, _ := p.GetCluster("A")
	assert.Contains(t, a.VMs, "1")
}

func TestAdoptVMUnknownClusterFails(t *testing.T) {
	p := newTestPool(t, nil)
	ok := p.AdoptVM("missing", &VM{ID: "1"})
	assert.False(t, ok)
}
