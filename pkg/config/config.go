// Package config loads the scheduler's YAML configuration file: the
// scheduling-loop options and the declared cluster set consumed by
// ResourcePool.Reconfigure. It replaces the original system's sectioned
// INI file (one [cluster-name] section per cloud, parsed with Python's
// ConfigParser) with a single YAML document, the format the teacher's
// own `apply` subcommand already reads configuration through.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/igable/cloud-scheduler/pkg/errs"
	"github.com/igable/cloud-scheduler/pkg/pool"
	"gopkg.in/yaml.v3"
)

// Scheduler holds the scheduling-loop and service-level options: which
// selection strategy to run, how often to poll jobs and machines, and
// where the persistence store and listener addresses live.
type Scheduler struct {
	SelectionStrategy string        `yaml:"selection_strategy"`
	JobPollInterval   time.Duration `yaml:"job_poll_interval"`
	MachinePollInterval time.Duration `yaml:"machine_poll_interval"`
	PersistencePath   string        `yaml:"persistence_path"`
	ListenAddr        string        `yaml:"listen_addr"`
	MetricsAddr       string        `yaml:"metrics_addr"`
}

// Cluster is one cloud resource's YAML representation, mapping
// field-for-field onto pool.ClusterConfig. Kept distinct from
// pool.ClusterConfig so the pool package never needs to know about YAML
// tags.
type Cluster struct {
	Name       string   `yaml:"name"`
	CloudType  string   `yaml:"cloud_type"`
	Host       string   `yaml:"host"`
	CPUArchs   []string `yaml:"cpu_archs"`
	Networks   []string `yaml:"networks"`
	MemoryBins []int    `yaml:"memory_bins"`
	VMSlots    int      `yaml:"vm_slots"`
	CPUCores   int      `yaml:"cpu_cores"`
	StorageGB  int      `yaml:"storage_gb"`
}

// Config is the top-level document: scheduler options plus the declared
// cluster list.
type Config struct {
	Scheduler Scheduler `yaml:"scheduler"`
	Clusters  []Cluster `yaml:"clusters"`
}

const (
	defaultJobPollInterval     = 10 * time.Second
	defaultMachinePollInterval = 10 * time.Second
	defaultSelectionStrategy   = "first-fit"
	defaultPersistencePath     = "/var/lib/cloud-scheduler/snapshot.db"
	defaultListenAddr          = "0.0.0.0:9090"
	defaultMetricsAddr         = "0.0.0.0:9100"
)

// Load reads and validates the YAML configuration at path. Missing
// scheduler options fall back to documented defaults; an empty or
// duplicated cluster name, or a cluster with no declared memory bins,
// is rejected with errs.ErrConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Scheduler.JobPollInterval <= 0 {
		cfg.Scheduler.JobPollInterval = defaultJobPollInterval
	}
	if cfg.Scheduler.MachinePollInterval <= 0 {
		cfg.Scheduler.MachinePollInterval = defaultMachinePollInterval
	}
	if cfg.Scheduler.SelectionStrategy == "" {
		cfg.Scheduler.SelectionStrategy = defaultSelectionStrategy
	}
	if cfg.Scheduler.PersistencePath == "" {
		cfg.Scheduler.PersistencePath = defaultPersistencePath
	}
	if cfg.Scheduler.ListenAddr == "" {
		cfg.Scheduler.ListenAddr = defaultListenAddr
	}
	if cfg.Scheduler.MetricsAddr == "" {
		cfg.Scheduler.MetricsAddr = defaultMetricsAddr
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.Clusters))
	for _, cl := range c.Clusters {
		if cl.Name == "" {
			return fmt.Errorf("cluster entry missing name: %w", errs.ErrConfig)
		}
		if _, dup := seen[cl.Name]; dup {
			return fmt.Errorf("cluster %q declared twice: %w", cl.Name, errs.ErrConfig)
		}
		seen[cl.Name] = struct{}{}
		if cl.CloudType == "" {
			return fmt.Errorf("cluster %q missing cloud_type: %w", cl.Name, errs.ErrConfig)
		}
		if len(cl.MemoryBins) == 0 {
			return fmt.Errorf("cluster %q declares no memory_bins: %w", cl.Name, errs.ErrConfig)
		}
	}
	return nil
}

// ClusterConfigs converts the YAML cluster list to the shape
// ResourcePool.Reconfigure consumes.
func (c *Config) ClusterConfigs() []pool.ClusterConfig {
	out := make([]pool.ClusterConfig, 0, len(c.Clusters))
	for _, cl := range c.Clusters {
		out = append(out, pool.ClusterConfig{
			Name:       cl.Name,
			CloudType:  cl.CloudType,
			Host:       cl.Host,
			CPUArchs:   cl.CPUArchs,
			Networks:   cl.Networks,
			MemoryBins: cl.MemoryBins,
			VMSlots:    cl.VMSlots,
			CPUCores:   cl.CPUCores,
			StorageGB:  cl.StorageGB,
		})
	}
	return out
}
