package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/igable/cloud-scheduler/pkg/api"
	"github.com/igable/cloud-scheduler/pkg/config"
	"github.com/igable/cloud-scheduler/pkg/driver"
	"github.com/igable/cloud-scheduler/pkg/drivers/sandboxvm"
	"github.com/igable/cloud-scheduler/pkg/embedded"
	"github.com/igable/cloud-scheduler/pkg/jobpool"
	"github.com/igable/cloud-scheduler/pkg/leaderelect"
	"github.com/igable/cloud-scheduler/pkg/log"
	"github.com/igable/cloud-scheduler/pkg/metrics"
	"github.com/igable/cloud-scheduler/pkg/persistence"
	"github.com/igable/cloud-scheduler/pkg/pool"
	"github.com/igable/cloud-scheduler/pkg/recovery"
	"github.com/igable/cloud-scheduler/pkg/schedloop"
	"github.com/igable/cloud-scheduler/pkg/selection"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cloud-scheduler",
	Short: "cloud-scheduler - resource-pool VM scheduler",
	Long: `cloud-scheduler places queued jobs onto virtual machines across a
declared pool of heterogeneous cloud clusters, replicating the active
configuration across replicas with raft so exactly one of them ever
dispatches against a cluster's capacity at a time.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"cloud-scheduler version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	runCmd.Flags().String("config", "/etc/cloud-scheduler/config.yaml", "Path to the scheduler configuration file")
	runCmd.Flags().String("node-id", "", "Raft node identity (defaults to hostname)")
	runCmd.Flags().String("raft-bind-addr", "127.0.0.1:9091", "Address this node's raft transport binds to")
	runCmd.Flags().String("data-dir", "/var/lib/cloud-scheduler", "Directory for raft log, snapshots, and the persistence store")
	runCmd.Flags().String("containerd-socket", "", "containerd socket path (embedded containerd is started if empty)")
	runCmd.Flags().Bool("external-containerd", false, "Use an external containerd instead of starting an embedded one")
	runCmd.Flags().String("join-addr", "", "Join an existing raft cluster instead of bootstrapping a new one; the address is only logged, and the leader must add this node as a voter")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateConfigCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config [path]",
	Short: "Load and validate a scheduler configuration file without starting anything",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("config OK: %d cluster(s) declared\n", len(cfg.Clusters))
		for _, cl := range cfg.Clusters {
			fmt.Printf("  %-20s cloud_type=%-12s vm_slots=%d\n", cl.Name, cl.CloudType, cl.VMSlots)
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler as a raft-replicated node",
	Long: `Run starts this node's raft instance, recovers any VMs persisted by
a previous run, and — once this node becomes raft leader — starts the
scheduling loop. A node that loses leadership stops its loop; the next
elected leader resumes from the persisted snapshot.`,
	RunE: runScheduler,
}

func runScheduler(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	nodeID, _ := cmd.Flags().GetString("node-id")
	raftBindAddr, _ := cmd.Flags().GetString("raft-bind-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	containerdSocket, _ := cmd.Flags().GetString("containerd-socket")
	useExternalContainerd, _ := cmd.Flags().GetBool("external-containerd")
	joinAddr, _ := cmd.Flags().GetString("join-addr")

	logger := log.WithComponent("main")

	if nodeID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("determine node id: %w", err)
		}
		nodeID = hostname
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("create data directory %s: %w", dataDir, err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	apiAddr := cfg.Scheduler.ListenAddr
	healthAddr := cfg.Scheduler.MetricsAddr

	ctx := context.Background()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("leaderelect", false, "starting")
	metrics.RegisterComponent("persistence", false, "starting")
	metrics.RegisterComponent("api", false, "starting")

	// Driver registry: sandboxvm is available everywhere containerd
	// runs; localvm is wired in only on darwin (see drivers_darwin.go /
	// drivers_other.go).
	containerdMgr, err := embedded.EnsureContainerd(ctx, dataDir, useExternalContainerd)
	if err != nil {
		return fmt.Errorf("start containerd: %w", err)
	}
	defer containerdMgr.Stop()
	if containerdSocket == "" {
		containerdSocket = containerdMgr.GetSocketPath()
	}

	sandboxDriver, err := sandboxvm.New(containerdSocket, log.WithComponent("drivers.sandboxvm"))
	if err != nil {
		return fmt.Errorf("build sandboxvm driver: %w", err)
	}
	defer sandboxDriver.Close()

	drivers := driver.NewRegistry()
	drivers.Register("AmazonEC2", sandboxDriver)
	registerLocalDriver(drivers, log.WithComponent("drivers.localvm"))

	rp := pool.NewResourcePool(func(cloudType string) (pool.Destroyer, bool) {
		return drivers.Lookup(cloudType)
	}, log.WithComponent("pool"))
	if err := rp.Reconfigure(ctx, cfg.ClusterConfigs()); err != nil {
		return fmt.Errorf("apply initial cluster configuration: %w", err)
	}

	jp := jobpool.NewJobPool(log.WithComponent("jobpool"))

	persist, err := persistence.Open(cfg.Scheduler.PersistencePath, log.WithComponent("persistence"))
	if err != nil {
		return fmt.Errorf("open persistence store: %w", err)
	}
	defer persist.Close()
	metrics.RegisterComponent("persistence", true, "ready")

	records, err := persist.Load()
	if err != nil {
		return fmt.Errorf("load persisted snapshot: %w", err)
	}
	if records != nil {
		recovery.Run(ctx, rp, records, drivers, log.WithComponent("recovery"))
		logger.Info().Int("clusters", len(records)).Msg("recovered persisted VM state")
	}

	clusterNames := make([]string, 0, len(cfg.Clusters))
	for _, cl := range cfg.Clusters {
		clusterNames = append(clusterNames, cl.Name)
	}

	elector := leaderelect.New(nodeID, raftBindAddr, dataDir, log.WithComponent("leaderelect"))
	if joinAddr != "" {
		if err := elector.Join(); err != nil {
			return fmt.Errorf("join raft cluster: %w", err)
		}
		logger.Info().Str("join_addr", joinAddr).Msg("joined raft cluster; waiting for leader to admit this node as a voter")
	} else {
		if err := elector.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrap raft cluster: %w", err)
		}
		logger.Info().Msg("bootstrapped single-node raft cluster")
	}
	metrics.RegisterComponent("leaderelect", true, "ready")
	defer elector.Shutdown()

	selector := selection.NewSelector(cfg.Scheduler.SelectionStrategy)

	newLoop := func() *schedloop.Loop {
		return schedloop.New(rp, jp, selector, drivers, schedloop.Options{
			Persist:             persist,
			JobPollInterval:     cfg.Scheduler.JobPollInterval,
			MachinePollInterval: cfg.Scheduler.MachinePollInterval,
			SchedPollInterval:   cfg.Scheduler.JobPollInterval,
		}, log.WithComponent("schedloop"))
	}

	stopLoop := make(chan struct{})
	go followLeadership(elector, newLoop, ctx, stopLoop, log.WithComponent("leaderelect"))

	introspection := api.NewIntrospectionServer(rp, jp, elector, clusterNames)
	apiServer := api.NewServer(introspection, log.WithComponent("api"))
	apiErrCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(apiAddr); err != nil {
			apiErrCh <- fmt.Errorf("introspection server: %w", err)
		}
	}()

	healthServer := api.NewHealthServer()
	healthErrCh := make(chan error, 1)
	go func() {
		if err := healthServer.Start(healthAddr); err != nil {
			healthErrCh <- fmt.Errorf("health server: %w", err)
		}
	}()
	metrics.RegisterComponent("api", true, "ready")

	collector := metrics.NewCollector(rp, jp, elector, clusterNames)
	collector.Start()
	defer collector.Stop()

	logger.Info().
		Str("node_id", nodeID).
		Str("api_addr", apiAddr).
		Str("health_addr", healthAddr).
		Msg("cloud-scheduler running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-apiErrCh:
		logger.Error().Err(err).Msg("introspection server failed")
	case err := <-healthErrCh:
		logger.Error().Err(err).Msg("health server failed")
	}

	close(stopLoop)
	apiServer.Stop()
	return nil
}

// followLeadership builds a fresh Loop via newLoop and starts it each
// time this node becomes raft leader, and stops it the moment
// leadership is lost, so at most one replica ever runs SchedulingPass
// against the shared cluster capacity. A Loop's stop channel is
// closed, not reusable, by Stop, so a new Loop is built on every
// leadership acquisition rather than restarting the previous one.
func followLeadership(elector *leaderelect.Elector, newLoop func() *schedloop.Loop, ctx context.Context, stop <-chan struct{}, logger zerolog.Logger) {
	var current *schedloop.Loop
	for {
		select {
		case becameLeader, ok := <-elector.LeaderCh():
			if !ok {
				return
			}
			if becameLeader && current == nil {
				logger.Info().Msg("acquired leadership; starting scheduling loop")
				current = newLoop()
				current.Start(ctx)
			} else if !becameLeader && current != nil {
				logger.Info().Msg("lost leadership; stopping scheduling loop")
				current.Stop()
				current = nil
			}
		case <-stop:
			if current != nil {
				current.Stop()
			}
			return
		}
	}
}
