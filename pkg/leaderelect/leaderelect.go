// Package leaderelect keeps exactly one scheduling-loop replica active
// at a time. It is grounded on pkg/manager's raft.Raft wiring
// (Bootstrap/Join/AddVoter/IsLeader/LeaderAddr/GetClusterServers), kept
// almost verbatim, since the single-active-writer problem the teacher
// solves for cluster-state replication is the same problem the
// scheduler has for its schedloop.Loop: only the elected leader should
// be running SchedulingPass against the shared cloud accounts, or two
// replicas will race to create/destroy VMs against the same capacity.
//
// Where the teacher replicates full node/service/task/secret/volume
// state through raft, an Elector replicates only the declared cluster
// configuration (see fsm.go) — everything else a newly elected leader
// needs (pool occupancy, job pool contents) comes from
// pkg/persistence and pkg/recovery, not from the raft log.
package leaderelect

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/igable/cloud-scheduler/pkg/metrics"
	"github.com/rs/zerolog"
)

// Elector wraps a raft.Raft instance whose only replicated payload is
// the active cluster configuration. Exactly one Elector in a cluster
// of replicas will ever report IsLeader() == true at a given term.
type Elector struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft   *raft.Raft
	fsm    *configFSM
	logger zerolog.Logger
}

// New constructs an Elector bound to bindAddr, persisting its raft log
// and snapshots under dataDir. Call Bootstrap to found a new cluster or
// Join to join an existing one before using the Elector.
func New(nodeID, bindAddr, dataDir string, logger zerolog.Logger) *Elector {
	return &Elector{
		nodeID:   nodeID,
		bindAddr: bindAddr,
		dataDir:  dataDir,
		fsm:      newConfigFSM(),
		logger:   logger,
	}
}

func (e *Elector) buildRaft() (*raft.Raft, *raft.TCPTransport, error) {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(e.nodeID)

	// Tuned for sub-10s failover on a LAN deployment, same rationale
	// and same values as the teacher's manager: the hashicorp/raft
	// defaults target WAN latencies and are overly conservative here.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", e.bindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(e.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(e.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(e.dataDir, "leaderelect-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(e.dataDir, "leaderelect-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, e.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("create raft: %w", err)
	}

	return r, transport, nil
}

// Bootstrap founds a new single-voter cluster with this node as its
// only member. Call AddVoter from the leader to grow it afterward.
func (e *Elector) Bootstrap() error {
	r, transport, err := e.buildRaft()
	if err != nil {
		return err
	}
	e.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(e.nodeID), Address: transport.LocalAddr()},
		},
	}
	future := e.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("bootstrap cluster: %w", err)
	}
	return nil
}

// Join starts this node's raft instance without bootstrapping a
// configuration; the cluster's current leader must call AddVoter with
// this node's ID and bind address before it can participate in votes.
func (e *Elector) Join() error {
	r, _, err := e.buildRaft()
	if err != nil {
		return err
	}
	e.raft = r
	return nil
}

// AddVoter adds a peer to the cluster. Only the current leader can do
// this; raft itself enforces that any Apply/AddVoter call issued by a
// non-leader fails.
func (e *Elector) AddVoter(nodeID, address string) error {
	if e.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	future := e.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("add voter %s: %w", nodeID, err)
	}
	return nil
}

// RemoveServer removes a peer from the cluster, e.g. after it has been
// decommissioned.
func (e *Elector) RemoveServer(nodeID string) error {
	if e.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	future := e.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("remove server %s: %w", nodeID, err)
	}
	return nil
}

// IsLeader reports whether this node currently holds raft leadership.
// schedloop.Loop.Start should only be called while this returns true;
// a caller observing a leadership loss should stop its loop.
func (e *Elector) IsLeader() bool {
	if e.raft == nil {
		return false
	}
	return e.raft.State() == raft.Leader
}

// LeaderAddr returns the bind address of the current leader, or "" if
// none is known.
func (e *Elector) LeaderAddr() string {
	if e.raft == nil {
		return ""
	}
	return string(e.raft.Leader())
}

// LeaderCh returns raft's native leadership-change notification
// channel: true when this node becomes leader, false when it steps
// down. Callers drive schedloop.Loop.Start/Stop off this signal.
func (e *Elector) LeaderCh() <-chan bool {
	if e.raft == nil {
		ch := make(chan bool)
		close(ch)
		return ch
	}
	return e.raft.LeaderCh()
}

// Servers returns the current raft configuration's member list.
func (e *Elector) Servers() ([]raft.Server, error) {
	if e.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}
	future := e.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("get configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// PublishClusterConfig replicates a new cluster configuration payload
// to every voter. Only the leader may call this; followers receive the
// value through Apply as the log entry commits.
func (e *Elector) PublishClusterConfig(config interface{}) error {
	if e.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	data, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal cluster config: %w", err)
	}
	cmd := Command{Op: opSetConfig, Data: data}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.LeaderConfigPublishDuration)

	future := e.raft.Apply(payload, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("apply cluster config: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

// ClusterConfig returns the last replicated cluster configuration
// payload, unmarshaled into out. Returns false if nothing has been
// published yet.
func (e *Elector) ClusterConfig(out interface{}) (bool, error) {
	data := e.fsm.Current()
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("unmarshal cluster config: %w", err)
	}
	return true, nil
}

// Stats reports raft's own diagnostic counters for introspection (the
// same fields the teacher's GetRaftStats exposes).
func (e *Elector) Stats() map[string]string {
	if e.raft == nil {
		return nil
	}
	stats := e.raft.Stats()
	stats["leader_addr"] = string(e.raft.Leader())
	return stats
}

// Shutdown stops the raft instance, releasing its log/stable store
// file handles.
func (e *Elector) Shutdown() error {
	if e.raft == nil {
		return nil
	}
	return e.raft.Shutdown().Error()
}
