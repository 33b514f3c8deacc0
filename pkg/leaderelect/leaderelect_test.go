package leaderelect

import (
	"encoding/json"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"
)

func applyCommand(t *testing.T, fsm *configFSM, cmd Command) interface{} {
	t.Helper()
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	return fsm.Apply(&raft.Log{Data: data})
}

func TestApplySetConfigStoresPayload(t *testing.T) {
	fsm := newConfigFSM()
	result := applyCommand(t, fsm, Command{Op: opSetConfig, Data: []byte(`{"name":"alpha"}`)})
	require.Nil(t, result)
	require.JSONEq(t, `{"name":"alpha"}`, string(fsm.Current()))
}

func TestApplyRejectsUnknownOp(t *testing.T) {
	fsm := newConfigFSM()
	result := applyCommand(t, fsm, Command{Op: "bogus"})
	err, ok := result.(error)
	require.True(t, ok)
	require.Error(t, err)
}

func TestClusterConfigReturnsFalseWhenNothingPublished(t *testing.T) {
	e := &Elector{fsm: newConfigFSM()}
	var out struct{ Name string }
	ok, err := e.ClusterConfig(&out)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClusterConfigRoundTripsLastApplied(t *testing.T) {
	fsm := newConfigFSM()
	applyCommand(t, fsm, Command{Op: opSetConfig, Data: []byte(`{"name":"alpha"}`)})

	e := &Elector{fsm: fsm}
	var out struct {
		Name string `json:"name"`
	}
	ok, err := e.ClusterConfig(&out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "alpha", out.Name)
}

func TestIsLeaderFalseBeforeRaftInitialized(t *testing.T) {
	e := &Elector{}
	require.False(t, e.IsLeader())
	require.Equal(t, "", e.LeaderAddr())
}

func TestSnapshotPersistAndRestoreRoundTrip(t *testing.T) {
	fsm := newConfigFSM()
	applyCommand(t, fsm, Command{Op: opSetConfig, Data: []byte(`{"name":"alpha"}`)})

	snap, err := fsm.Snapshot()
	require.NoError(t, err)

	sink := newFakeSnapshotSink()
	require.NoError(t, snap.Persist(sink))

	restored := newConfigFSM()
	require.NoError(t, restored.Restore(sink.toReader()))
	require.JSONEq(t, `{"name":"alpha"}`, string(restored.Current()))
}
