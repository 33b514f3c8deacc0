package jobpool

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id, owner, prio string) Record {
	return Record{"GlobalJobId": id, "Owner": owner, "JobPrio": prio}
}

func TestReconcileS5PriorityAscendingInsertion(t *testing.T) {
	jp := NewJobPool(zerolog.Nop())

	jp.Reconcile([]Record{rec("1", "u", "5"), rec("2", "u", "2")})

	jobs := jp.NewJobsForUser("u")
	require.Len(t, jobs, 2)
	assert.Equal(t, "2", jobs[0].ID)
	assert.Equal(t, "1", jobs[1].ID)

	// A second reconcile with the same input leaves state unchanged.
	jp.Reconcile([]Record{rec("1", "u", "5"), rec("2", "u", "2")})
	jobs2 := jp.NewJobsForUser("u")
	require.Len(t, jobs2, 2)
	assert.Equal(t, "2", jobs2[0].ID)
	assert.Equal(t, "1", jobs2[1].ID)
}

func TestReconcileS6ScheduledStaysScheduled(t *testing.T) {
	jp := NewJobPool(zerolog.Nop())
	jp.Reconcile([]Record{rec("j1", "u", "1")})
	require.NoError(t, jp.Schedule("j1"))

	jp.Reconcile([]Record{rec("j1", "u", "1")})

	assert.Empty(t, jp.NewJobsForUser("u"))
	scheduled := jp.ScheduledJobsForUser("u")
	require.Len(t, scheduled, 1)
	assert.Equal(t, "j1", scheduled[0].ID)
	assert.Equal(t, Scheduled, scheduled[0].State)
}

func TestReconcileRemovesCompletedJobs(t *testing.T) {
	jp := NewJobPool(zerolog.Nop())
	jp.Reconcile([]Record{rec("1", "u", "1"), rec("2", "u", "2")})

	jp.Reconcile([]Record{rec("2", "u", "2")})

	assert.False(t, jp.HasJob("1"))
	assert.True(t, jp.HasJob("2"))
}

func TestScheduleNotFound(t *testing.T) {
	jp := NewJobPool(zerolog.Nop())
	err := jp.Schedule("missing")
	assert.Error(t, err)
}

func TestRemoveIdempotent(t *testing.T) {
	jp := NewJobPool(zerolog.Nop())
	jp.Reconcile([]Record{rec("1", "u", "1")})

	jp.Remove("1")
	assert.False(t, jp.HasJob("1"))

	// Second remove of the same id is a no-op, not a panic/error.
	jp.Remove("1")
	assert.False(t, jp.HasJob("1"))
}

func TestSnapshotDropDoesNotMutatePool(t *testing.T) {
	jp := NewJobPool(zerolog.Nop())
	jp.Reconcile([]Record{rec("1", "u", "1"), rec("2", "u", "2")})

	snap := jp.Snapshot()
	require.Len(t, snap.Jobs(), 2)
	snap.Drop(snap.Jobs()[0])
	assert.Len(t, snap.Jobs(), 1)

	// The pool itself still has both jobs.
	assert.Len(t, jp.NewJobsForUser("u"), 2)
}

func TestJobFromRecordDefaults(t *testing.T) {
	j := JobFromRecord(Record{"GlobalJobId": "1"})

	assert.Equal(t, DefaultOwner, j.User)
	assert.Equal(t, DefaultPriority, j.Priority)
	assert.Equal(t, DefaultVMType, j.VMType)
	assert.Equal(t, DefaultNetwork, j.Network)
	assert.Equal(t, DefaultCPUArch, j.CPUArch)
	assert.Equal(t, DefaultImageName, j.ImageName)
	assert.Equal(t, DefaultImageLocation, j.ImageLocation)
	assert.Equal(t, DefaultMemory, j.Memory)
	assert.Equal(t, DefaultCPUCores, j.CPUCores)
	assert.Equal(t, DefaultStorage, j.Storage)
	assert.Equal(t, Unscheduled, j.State)
}

func TestJobFromRecordParsesVMTypeFromRequirements(t *testing.T) {
	j := JobFromRecord(Record{
		"GlobalJobId":  "1",
		"Requirements": `(VMType =?= "atlas-worker") && (Arch == "x86_64")`,
	})

	assert.Equal(t, "atlas-worker", j.VMType)
}

func TestJobFromRecordMalformedRequirementsKeepsDefault(t *testing.T) {
	j := JobFromRecord(Record{"GlobalJobId": "1", "Requirements": "(Arch == \"x86_64\")"})

	assert.Equal(t, DefaultVMType, j.VMType)
}
