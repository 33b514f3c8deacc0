package api

import (
	"context"
	"testing"

	"github.com/igable/cloud-scheduler/pkg/jobpool"
	"github.com/igable/cloud-scheduler/pkg/pool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLeaderChecker struct {
	leader bool
	addr   string
}

func (f fakeLeaderChecker) IsLeader() bool     { return f.leader }
func (f fakeLeaderChecker) LeaderAddr() string { return f.addr }

func basicServer(t *testing.T) *IntrospectionServer {
	t.Helper()
	rp := pool.NewResourcePool(nil, zerolog.Nop())
	require.NoError(t, rp.Reconfigure(context.Background(), []pool.ClusterConfig{
		{Name: "alpha", CloudType: "Nimbus", MemoryBins: []int{4096}, VMSlots: 2, StorageGB: 100},
	}))
	jp := jobpool.NewJobPool(zerolog.Nop())
	jp.Reconcile([]jobpool.Record{{"GlobalJobId": "job-1"}})

	return NewIntrospectionServer(rp, jp, fakeLeaderChecker{leader: true, addr: "127.0.0.1:9000"}, []string{"alpha"})
}

func TestGetPoolSnapshotReportsConfiguredClusters(t *testing.T) {
	s := basicServer(t)
	resp, err := s.GetPoolSnapshot(context.Background(), &PoolSnapshotRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Clusters, 1)
	assert.Equal(t, "alpha", resp.Clusters[0].Name)
	assert.Equal(t, "Nimbus", resp.Clusters[0].CloudType)
}

func TestGetJobCountsReportsUnscheduled(t *testing.T) {
	s := basicServer(t)
	resp, err := s.GetJobCounts(context.Background(), &JobCountsRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Unscheduled)
	assert.Equal(t, 0, resp.Scheduled)
}

func TestGetLeaderStatusReflectsChecker(t *testing.T) {
	s := basicServer(t)
	resp, err := s.GetLeaderStatus(context.Background(), &LeaderStatusRequest{})
	require.NoError(t, err)
	assert.True(t, resp.IsLeader)
	assert.Equal(t, "127.0.0.1:9000", resp.LeaderAddr)
}

func TestGetLeaderStatusWithoutCheckerReturnsZeroValue(t *testing.T) {
	rp := pool.NewResourcePool(nil, zerolog.Nop())
	jp := jobpool.NewJobPool(zerolog.Nop())
	s := NewIntrospectionServer(rp, jp, nil, nil)

	resp, err := s.GetLeaderStatus(context.Background(), &LeaderStatusRequest{})
	require.NoError(t, err)
	assert.False(t, resp.IsLeader)
	assert.Equal(t, "", resp.LeaderAddr)
}
