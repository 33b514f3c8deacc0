package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
clusters:
  - name: alpha
    cloud_type: Nimbus
    memory_bins: [1024, 2048]
    vm_slots: 4
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, defaultSelectionStrategy, cfg.Scheduler.SelectionStrategy)
	assert.Equal(t, defaultJobPollInterval, cfg.Scheduler.JobPollInterval)
	assert.Equal(t, defaultPersistencePath, cfg.Scheduler.PersistencePath)
	require.Len(t, cfg.Clusters, 1)
	assert.Equal(t, "alpha", cfg.Clusters[0].Name)
}

func TestLoadHonorsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  selection_strategy: balanced-fit
  job_poll_interval: 5s
  listen_addr: "127.0.0.1:1234"
clusters:
  - name: alpha
    cloud_type: Nimbus
    memory_bins: [1024]
    vm_slots: 1
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "balanced-fit", cfg.Scheduler.SelectionStrategy)
	assert.Equal(t, "127.0.0.1:1234", cfg.Scheduler.ListenAddr)
}

func TestLoadRejectsDuplicateClusterNames(t *testing.T) {
	path := writeConfig(t, `
clusters:
  - name: alpha
    cloud_type: Nimbus
    memory_bins: [1024]
  - name: alpha
    cloud_type: Nimbus
    memory_bins: [1024]
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingMemoryBins(t *testing.T) {
	path := writeConfig(t, `
clusters:
  - name: alpha
    cloud_type: Nimbus
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestClusterConfigsConverts(t *testing.T) {
	path := writeConfig(t, `
clusters:
  - name: alpha
    cloud_type: Nimbus
    host: nimbus.example.org
    cpu_archs: [x86_64]
    networks: [public]
    memory_bins: [1024, 2048]
    vm_slots: 4
    cpu_cores: 2
    storage_gb: 50
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	out := cfg.ClusterConfigs()
	require.Len(t, out, 1)
	assert.Equal(t, "alpha", out[0].Name)
	assert.Equal(t, "Nimbus", out[0].CloudType)
	assert.Equal(t, []int{1024, 2048}, out[0].MemoryBins)
	assert.Equal(t, 50, out[0].StorageGB)
}
