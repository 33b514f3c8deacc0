// Package persistence implements the durable snapshot/recovery store of
// §4.7: a single bbolt bucket holding a versioned, self-describing blob
// of every cluster's identity and the VMs it owned at save time.
package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

const schemaVersion = 1

var bucketClusters = []byte("clusters")

const recordKey = "snapshot"

// VMRecord is the persisted shape of one VM. It is a flat, independent
// copy of pool.VM's fields rather than an import of pool itself, so this
// package stays usable by anything that can produce one.
type VMRecord struct {
	ID             string
	VMType         string
	Memory         int
	CPUCores       int
	Storage        int
	MemoryBinIndex int
	State          string
}

// ClusterRecord is one cluster's identity plus the VMs it owned at save
// time. CloudType travels with the record so a VM can still be polled
// through its driver even after the cluster that created it has been
// removed from the live configuration.
type ClusterRecord struct {
	Name      string
	CloudType string
	VMs       []VMRecord
}

type envelope struct {
	Version  int             `json:"version"`
	Clusters []ClusterRecord `json:"clusters"`
}

// Store is the bbolt-backed snapshot/recovery store. bbolt's own
// write-ahead log and mmap commit give the "replaced atomically on disk"
// guarantee a snapshot needs, without a separate temp-file/rename dance.
type Store struct {
	db     *bolt.DB
	logger zerolog.Logger
}

// Open opens (creating if absent) the bbolt file at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open persistence store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketClusters)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init persistence buckets: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying bbolt file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save atomically replaces the persisted snapshot with clusters. A write
// failure is logged but returned to the caller too: the scheduling loop
// treats persistence as best-effort and keeps running on a save error.
func (s *Store) Save(clusters []ClusterRecord) error {
	env := envelope{Version: schemaVersion, Clusters: clusters}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketClusters).Put([]byte(recordKey), data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to persist resource pool snapshot")
	}
	return err
}

// Load reads the persisted snapshot. No snapshot on disk is a normal
// startup condition and returns (nil, nil). A corrupt or version-mismatched
// snapshot is discarded with a warning rather than failing startup; the
// caller proceeds as if there were nothing to recover.
func (s *Store) Load() ([]ClusterRecord, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketClusters).Get([]byte(recordKey))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read persistence store: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn().Err(err).Msg("corrupt persisted snapshot; discarding and starting with empty VM sets")
		return nil, nil
	}
	if env.Version != schemaVersion {
		s.logger.Warn().
			Int("found_version", env.Version).
			Int("want_version", schemaVersion).
			Msg("persisted snapshot schema version mismatch; discarding")
		return nil, nil
	}
	return env.Clusters, nil
}
