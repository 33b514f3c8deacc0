package leaderelect

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
)

// Command is one replicated state change: which cluster configuration
// the scheduling loop should be running against. Unlike the teacher's
// FSM, which replicates full node/service/task CRUD, the only state
// that must stay consistent across scheduler replicas is "what is the
// active cluster configuration" — everything else (pool occupancy, job
// pool contents) is reconstructed locally from persistence.Store and
// the recovery protocol once a replica becomes leader.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const opSetConfig = "set_cluster_config"

// configFSM is the raft.FSM backing an Elector. It holds the last
// cluster configuration payload applied through Apply, replicated
// verbatim to every voter so a newly elected leader starts from the
// same declared configuration as its predecessor.
type configFSM struct {
	mu     sync.RWMutex
	config json.RawMessage
}

func newConfigFSM() *configFSM {
	return &configFSM{}
}

// Apply applies one committed log entry.
func (f *configFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	switch cmd.Op {
	case opSetConfig:
		f.mu.Lock()
		f.config = cmd.Data
		f.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("unknown leaderelect command %q", cmd.Op)
	}
}

// Current returns the last applied cluster configuration payload, or
// nil if none has been applied yet.
func (f *configFSM) Current() json.RawMessage {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.config
}

type configSnapshot struct {
	Config json.RawMessage `json:"config"`
}

// Snapshot returns a point-in-time copy suitable for raft's snapshot store.
func (f *configFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return &configSnapshot{Config: f.config}, nil
}

// Restore replaces the FSM's state from a previously persisted snapshot.
func (f *configFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var snap configSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	f.mu.Lock()
	f.config = snap.Config
	f.mu.Unlock()
	return nil
}

func (s *configSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *configSnapshot) Release() {}
