package schedloop

import (
	"context"
	"testing"
	"time"

	"github.com/igable/cloud-scheduler/pkg/driver"
	"github.com/igable/cloud-scheduler/pkg/errs"
	"github.com/igable/cloud-scheduler/pkg/jobpool"
	"github.com/igable/cloud-scheduler/pkg/pool"
	"github.com/igable/cloud-scheduler/pkg/selection"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	nextID  int
	failErr error
}

func (f *fakeDriver) CreateVM(ctx context.Context, c *pool.Cluster, req driver.Requirements) (*pool.VM, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	f.nextID++
	return &pool.VM{ID: "vm-created", State: pool.VMRunning}, nil
}

func (f *fakeDriver) DestroyVM(ctx context.Context, vm *pool.VM) error { return nil }

func (f *fakeDriver) PollVM(ctx context.Context, vm *pool.VM) (pool.VMState, error) {
	return pool.VMRunning, nil
}

func basicPool(t *testing.T) *pool.ResourcePool {
	t.Helper()
	p := pool.NewResourcePool(nil, zerolog.Nop())
	require.NoError(t, p.Reconfigure(context.Background(), []pool.ClusterConfig{
		{Name: "alpha", CloudType: "Nimbus", CPUArchs: []string{"x86"}, Networks: []string{"private"},
			MemoryBins: []int{4096}, VMSlots: 2, CPUCores: 4, StorageGB: 100},
	}))
	return p
}

func TestSchedulingPassDispatchesFittingJob(t *testing.T) {
	p := basicPool(t)
	jp := jobpool.NewJobPool(zerolog.Nop())
	jp.Reconcile([]jobpool.Record{{"GlobalJobId": "job-1", "Owner": jobpool.DefaultOwner}})

	drivers := driver.NewRegistry()
	d := &fakeDriver{}
	drivers.Register("Nimbus", d)

	sel := selection.NewSelector(selection.NameFirstFit)
	loop := New(p, jp, sel, drivers, Options{
		SchedPollInterval: time.Second,
	}, zerolog.Nop())

	loop.SchedulingPass(context.Background())

	unscheduled, scheduled := jp.Counts()
	assert.Equal(t, 0, unscheduled)
	assert.Equal(t, 1, scheduled)

	cluster, ok := p.GetCluster("alpha")
	require.True(t, ok)
	assert.Contains(t, cluster.VMs, "vm-created")
}

func TestSchedulingPassLeavesJobUnscheduledOnDriverFailure(t *testing.T) {
	p := basicPool(t)
	jp := jobpool.NewJobPool(zerolog.Nop())
	jp.Reconcile([]jobpool.Record{{"GlobalJobId": "job-1"}})

	drivers := driver.NewRegistry()
	drivers.Register("Nimbus", &fakeDriver{failErr: errs.ErrDriverTransient})

	sel := selection.NewSelector(selection.NameFirstFit)
	loop := New(p, jp, sel, drivers, Options{SchedPollInterval: time.Second}, zerolog.Nop())

	loop.SchedulingPass(context.Background())

	unscheduled, scheduled := jp.Counts()
	assert.Equal(t, 1, unscheduled)
	assert.Equal(t, 0, scheduled)

	cluster, ok := p.GetCluster("alpha")
	require.True(t, ok)
	assert.Equal(t, 2, cluster.VMSlots, "reservation must be released on driver failure")
}

func TestSchedulingPassSkipsJobWithNoFittingCluster(t *testing.T) {
	p := basicPool(t)
	jp := jobpool.NewJobPool(zerolog.Nop())
	jp.Reconcile([]jobpool.Record{{"GlobalJobId": "job-1", "VMStorage": "10000"}})

	drivers := driver.NewRegistry()
	drivers.Register("Nimbus", &fakeDriver{})

	sel := selection.NewSelector(selection.NameFirstFit)
	loop := New(p, jp, sel, drivers, Options{SchedPollInterval: time.Second}, zerolog.Nop())

	loop.SchedulingPass(context.Background())

	unscheduled, _ := jp.Counts()
	assert.Equal(t, 1, unscheduled)
}

type fakeJobSource struct {
	records []jobpool.Record
	status  string
	err     error
}

func (f *fakeJobSource) QueryJobs(ctx context.Context) ([]jobpool.Record, string, error) {
	return f.records, f.status, f.err
}

func TestJobPollPassReconcilesOnSuccess(t *testing.T) {
	p := basicPool(t)
	jp := jobpool.NewJobPool(zerolog.Nop())
	drivers := driver.NewRegistry()
	sel := selection.NewSelector(selection.NameFirstFit)

	src := &fakeJobSource{records: []jobpool.Record{{"GlobalJobId": "job-1"}}, status: StatusSuccess}
	loop := New(p, jp, sel, drivers, Options{JobSource: src}, zerolog.Nop())

	loop.jobPollPass(context.Background())

	assert.True(t, jp.HasJob("job-1"))
}

func TestJobPollPassSkipsOnNonSuccessStatus(t *testing.T) {
	p := basicPool(t)
	jp := jobpool.NewJobPool(zerolog.Nop())
	jp.Reconcile([]jobpool.Record{{"GlobalJobId": "existing"}})
	drivers := driver.NewRegistry()
	sel := selection.NewSelector(selection.NameFirstFit)

	src := &fakeJobSource{records: nil, status: "FAILURE"}
	loop := New(p, jp, sel, drivers, Options{JobSource: src}, zerolog.Nop())

	loop.jobPollPass(context.Background())

	assert.True(t, jp.HasJob("existing"), "pool must not be cleared on non-success status")
}

type fakeMachineSource struct {
	records []pool.MachineRecord
}

func (f *fakeMachineSource) QueryMachines(ctx context.Context) ([]pool.MachineRecord, error) {
	return f.records, nil
}

func TestMachinePollPassTracksChanges(t *testing.T) {
	p := basicPool(t)
	jp := jobpool.NewJobPool(zerolog.Nop())
	drivers := driver.NewRegistry()
	sel := selection.NewSelector(selection.NameFirstFit)

	src := &fakeMachineSource{records: []pool.MachineRecord{{Name: "m1", GlobalJobID: "job-1"}}}
	loop := New(p, jp, sel, drivers, Options{MachineSource: src}, zerolog.Nop())

	loop.machinePollPass(context.Background())
	assert.Equal(t, src.records, loop.previousMachines)

	src.records = []pool.MachineRecord{{Name: "m1", GlobalJobID: "job-2"}}
	loop.machinePollPass(context.Background())
	assert.Equal(t, src.records, loop.previousMachines)
}
