package leaderelect

import (
	"bytes"
	"io"
)

// fakeSnapshotSink is a minimal in-memory raft.SnapshotSink, enough to
// exercise configSnapshot.Persist/configFSM.Restore without a real
// raft.FileSnapshotStore.
type fakeSnapshotSink struct {
	buf bytes.Buffer
}

func newFakeSnapshotSink() *fakeSnapshotSink {
	return &fakeSnapshotSink{}
}

func (s *fakeSnapshotSink) Write(p []byte) (int, error) { return s.buf.Write(p) }
func (s *fakeSnapshotSink) ID() string                  { return "test-snapshot" }
func (s *fakeSnapshotSink) Cancel() error                { return nil }
func (s *fakeSnapshotSink) Close() error                 { return nil }

func (s *fakeSnapshotSink) toReader() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(s.buf.Bytes()))
}
