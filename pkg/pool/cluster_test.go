package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClusterConfig(name string) ClusterConfig {
	return ClusterConfig{
		Name:       name,
		CloudType:  "Nimbus",
		Host:       "host-" + name,
		CPUArchs:   []string{"x86"},
		Networks:   []string{"pub"},
		MemoryBins: []int{1024, 1024},
		VMSlots:    2,
		CPUCores:   4,
		StorageGB:  20,
	}
}

func TestFindMemEntry(t *testing.T) {
	cases := []struct {
		name       string
		bins       []int
		requestMB  int
		wantIndex  int
	}{
		{"first bin fits", []int{1024, 2048}, 512, 0},
		{"first too small, second fits", []int{256, 2048}, 512, 1},
		{"exact match", []int{512}, 512, 0},
		{"none fit", []int{256, 128}, 512, -1},
		{"empty bins", []int{}, 512, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCluster(ClusterConfig{Name: "c", MemoryBins: tc.bins, VMSlots: 1})
			assert.Equal(t, tc.wantIndex, c.FindMemEntry(tc.requestMB))
		})
	}
}

func TestAllocateReleaseBin(t *testing.T) {
	c := NewCluster(ClusterConfig{Name: "c", MemoryBins: []int{1024}, VMSlots: 1})
	idx := c.FindMemEntry(512)
	require.Equal(t, 0, idx)
	c.AllocateBin(idx, 512)
	assert.Equal(t, 512, c.MemoryBins[0])
	c.ReleaseBin(idx, 512)
	assert.Equal(t, 1024, c.MemoryBins[0])
}

func TestClusterFits(t *testing.T) {
	c := NewCluster(testClusterConfig("A"))

	assert.True(t, c.Fits(FitRequest{Network: "pub", CPUArch: "x86", Memory: 512, CPUCores: 1, Storage: 5}))
	assert.False(t, c.Fits(FitRequest{Network: "pub", CPUArch: "arm", Memory: 512, CPUCores: 1, Storage: 5}))
	assert.False(t, c.Fits(FitRequest{Network: "priv", CPUArch: "x86", Memory: 512, CPUCores: 1, Storage: 5}))
	assert.False(t, c.Fits(FitRequest{Network: "pub", CPUArch: "x86", Memory: 4096, CPUCores: 1, Storage: 5}))
	assert.False(t, c.Fits(FitRequest{Network: "pub", CPUArch: "x86", Memory: 512, CPUCores: 8, Storage: 5}))
	assert.False(t, c.Fits(FitRequest{Network: "pub", CPUArch: "x86", Memory: 512, CPUCores: 1, Storage: 100}))

	c.VMSlots = 0
	assert.False(t, c.Fits(FitRequest{Network: "pub", CPUArch: "x86", Memory: 512, CPUCores: 1, Storage: 5}))
}

func TestPotentialFit(t *testing.T) {
	c := NewCluster(testClusterConfig("A"))
	assert.True(t, c.PotentialFit("pub", "x86"))
	assert.False(t, c.PotentialFit("pub", "arm"))
	assert.False(t, c.PotentialFit("priv", "x86"))
}

func TestCheckOutVMSuccess(t *testing.T) {
	c := NewCluster(testClusterConfig("A"))
	vm := &VM{ID: "vm-1", VMType: "t", Memory: 512, CPUCores: 1, Storage: 5, State: VMRunning}

	ok := c.CheckOutVM(vm)

	require.True(t, ok)
	assert.Equal(t, 1, c.VMSlots)
	assert.Equal(t, 512, c.MemoryBins[0])
	assert.Equal(t, 15, c.StorageGB)
	assert.Equal(t, 0, vm.MemoryBinIndex)
	assert.Equal(t, VMRunning, vm.State)
	assert.Contains(t, c.VMs, "vm-1")
}

func TestCheckOutVMOverQuotaMarksRetiring(t *testing.T) {
	c := NewCluster(ClusterConfig{Name: "A", MemoryBins: []int{1024}, VMSlots: 0, StorageGB: 20})
	vm := &VM{ID: "vm-1", Memory: 512, Storage: 5, State: VMRunning}

	ok := c.CheckOutVM(vm)

	assert.False(t, ok)
	assert.Equal(t, VMRetiring, vm.State)
	assert.Contains(t, c.VMs, "vm-1")
}

func TestCheckInReleasesCapacity(t *testing.T) {
	c := NewCluster(testClusterConfig("A"))
	vm := &VM{ID: "vm-1", Memory: 512, Storage: 5}
	require.True(t, c.CheckOutVM(vm))

	c.CheckIn(vm)

	assert.Equal(t, 2, c.VMSlots)
	assert.Equal(t, 1024, c.MemoryBins[0])
	assert.Equal(t, 20, c.StorageGB)
	assert.NotContains(t, c.VMs, "vm-1")
}
