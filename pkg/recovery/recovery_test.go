package recovery

import (
	"context"
	"testing"

	"github.com/igable/cloud-scheduler/pkg/driver"
	"github.com/igable/cloud-scheduler/pkg/persistence"
	"github.com/igable/cloud-scheduler/pkg/pool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	polled    map[string]pool.VMState
	pollErr   map[string]error
	destroyed map[string]bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		polled:    make(map[string]pool.VMState),
		pollErr:   make(map[string]error),
		destroyed: make(map[string]bool),
	}
}

func (f *fakeDriver) CreateVM(ctx context.Context, c *pool.Cluster, req driver.Requirements) (*pool.VM, error) {
	panic("not used in recovery")
}

func (f *fakeDriver) DestroyVM(ctx context.Context, vm *pool.VM) error {
	f.destroyed[vm.ID] = true
	return nil
}

func (f *fakeDriver) PollVM(ctx context.Context, vm *pool.VM) (pool.VMState, error) {
	if err, ok := f.pollErr[vm.ID]; ok {
		return pool.VMError, err
	}
	if st, ok := f.polled[vm.ID]; ok {
		return st, nil
	}
	return pool.VMRunning, nil
}

func basicConfigs() []pool.ClusterConfig {
	return []pool.ClusterConfig{
		{Name: "alpha", CloudType: "Nimbus", CPUArchs: []string{"x86"}, Networks: []string{"pub"}, MemoryBins: []int{4096}, VMSlots: 2, CPUCores: 4, StorageGB: 100},
	}
}

func TestRunReattachesHealthyVM(t *testing.T) {
	d := newFakeDriver()
	drivers := driver.NewRegistry()
	drivers.Register("Nimbus", d)

	p := pool.NewResourcePool(nil, zerolog.Nop())
	require.NoError(t, p.Reconfigure(context.Background(), basicConfigs()))

	records := []persistence.ClusterRecord{
		{Name: "alpha", CloudType: "Nimbus", VMs: []persistence.VMRecord{
			{ID: "vm-1", VMType: "small", Memory: 512, CPUCores: 1, Storage: 5, State: "Running"},
		}},
	}

	Run(context.Background(), p, records, drivers, zerolog.Nop())

	c, ok := p.GetCluster("alpha")
	require.True(t, ok)
	assert.Contains(t, c.VMs, "vm-1")
	assert.False(t, d.destroyed["vm-1"])
}

func TestRunDestroysErroredVM(t *testing.T) {
	d := newFakeDriver()
	d.polled["vm-1"] = pool.VMError
	drivers := driver.NewRegistry()
	drivers.Register("Nimbus", d)

	p := pool.NewResourcePool(nil, zerolog.Nop())
	require.NoError(t, p.Reconfigure(context.Background(), basicConfigs()))

	records := []persistence.ClusterRecord{
		{Name: "alpha", CloudType: "Nimbus", VMs: []persistence.VMRecord{
			{ID: "vm-1", VMType: "small", Memory: 512, State: "Running"},
		}},
	}

	Run(context.Background(), p, records, drivers, zerolog.Nop())

	c, ok := p.GetCluster("alpha")
	require.True(t, ok)
	assert.NotContains(t, c.VMs, "vm-1")
	assert.True(t, d.destroyed["vm-1"])
}

func TestRunDestroysVMWhoseClusterIsGone(t *testing.T) {
	d := newFakeDriver()
	drivers := driver.NewRegistry()
	drivers.Register("Nimbus", d)

	p := pool.NewResourcePool(nil, zerolog.Nop())
	require.NoError(t, p.Reconfigure(context.Background(), nil))

	records := []persistence.ClusterRecord{
		{Name: "gone", CloudType: "Nimbus", VMs: []persistence.VMRecord{
			{ID: "vm-1", Memory: 512, State: "Running"},
		}},
	}

	Run(context.Background(), p, records, drivers, zerolog.Nop())

	assert.True(t, d.destroyed["vm-1"])
}

func TestRunDiscardsVMWithNoRegisteredDriver(t *testing.T) {
	drivers := driver.NewRegistry()

	p := pool.NewResourcePool(nil, zerolog.Nop())
	require.NoError(t, p.Reconfigure(context.Background(), basicConfigs()))

	records := []persistence.ClusterRecord{
		{Name: "alpha", CloudType: "Unknown", VMs: []persistence.VMRecord{
			{ID: "vm-1", Memory: 512, State: "Running"},
		}},
	}

	Run(context.Background(), p, records, drivers, zerolog.Nop())

	c, ok := p.GetCluster("alpha")
	require.True(t, ok)
	assert.NotContains(t, c.VMs, "vm-1")
}

func TestSnapshotRoundTripsThroughRun(t *testing.T) {
	d := newFakeDriver()
	drivers := driver.NewRegistry()
	drivers.Register("Nimbus", d)

	p := pool.NewResourcePool(nil, zerolog.Nop())
	require.NoError(t, p.Reconfigure(context.Background(), basicConfigs()))

	records := []persistence.ClusterRecord{
		{Name: "alpha", CloudType: "Nimbus", VMs: []persistence.VMRecord{
			{ID: "vm-1", VMType: "small", Memory: 512, CPUCores: 1, Storage: 5, State: "Running"},
		}},
	}
	Run(context.Background(), p, records, drivers, zerolog.Nop())

	snap := Snapshot(p)
	require.Len(t, snap, 1)
	assert.Equal(t, "alpha", snap[0].Name)
	require.Len(t, snap[0].VMs, 1)
	assert.Equal(t, "vm-1", snap[0].VMs[0].ID)
}
