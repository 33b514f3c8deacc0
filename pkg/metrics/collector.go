package metrics

import (
	"time"

	"github.com/igable/cloud-scheduler/pkg/jobpool"
	"github.com/igable/cloud-scheduler/pkg/pool"
)

// LeaderChecker reports whether the local node currently holds
// leadership. Satisfied by *leaderelect.Elector; declared locally to
// avoid a metrics -> leaderelect import cycle (leaderelect imports
// metrics to time its config-publish calls).
type LeaderChecker interface {
	IsLeader() bool
}

// Collector periodically scrapes the resource pool and job pool into
// the gauges declared in metrics.go, the way warren's own Collector
// ticks over its manager every 15 seconds.
type Collector struct {
	rp     *pool.ResourcePool
	jp     *jobpool.JobPool
	leader LeaderChecker
	names  []string
	stopCh chan struct{}
}

// NewCollector builds a collector over rp and jp. names lists every
// cluster name the collector should report a slots-free gauge for,
// since ResourcePool does not expose cluster iteration directly.
// leader may be nil if the deployment runs without leader election.
func NewCollector(rp *pool.ResourcePool, jp *jobpool.JobPool, leader LeaderChecker, names []string) *Collector {
	return &Collector{rp: rp, jp: jp, leader: leader, names: names, stopCh: make(chan struct{})}
}

// Start begins the periodic collection loop.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collection loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectPoolMetrics()
	c.collectJobMetrics()
	c.collectLeaderMetrics()
}

func (c *Collector) collectLeaderMetrics() {
	if c.leader == nil {
		return
	}
	if c.leader.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
}

func (c *Collector) collectPoolMetrics() {
	clusters := 0
	for _, name := range c.names {
		cluster, ok := c.rp.GetCluster(name)
		if !ok {
			continue
		}
		clusters++
		ClusterVMSlotsFree.WithLabelValues(name).Set(float64(cluster.VMSlots))

		stateCounts := make(map[pool.VMState]int)
		for _, vm := range cluster.VMs {
			stateCounts[vm.State]++
		}
		for state, n := range stateCounts {
			VMsTotal.WithLabelValues(name, string(state)).Set(float64(n))
		}
	}
	ClustersTotal.Set(float64(clusters))
}

func (c *Collector) collectJobMetrics() {
	unscheduled, scheduled := c.jp.Counts()
	JobsTotal.WithLabelValues(string(jobpool.Unscheduled)).Set(float64(unscheduled))
	JobsTotal.WithLabelValues(string(jobpool.Scheduled)).Set(float64(scheduled))
}
