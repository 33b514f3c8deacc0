/*
Package embedded provides containerd binary management for cloud-scheduler across platforms.

The embedded package handles platform-specific containerd integration, embedding
containerd binaries on Linux and managing a Lima VM with containerd on macOS. It
provides automatic lifecycle management, socket detection, and graceful shutdown
for zero-dependency container runtime deployment.

# Architecture

cloud-scheduler provides embedded containerd with platform-specific implementations:

	┌────────────── EMBEDDED CONTAINERD MANAGEMENT ────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │      ContainerdManager (Cross-Platform)     │          │
	│  │  - Common interface for all platforms       │          │
	│  │  - Start/Stop lifecycle management          │          │
	│  │  - Socket path detection                    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│        ┌────────────┴────────────┐                        │
	│        │                          │                        │
	│        ▼                          ▼                        │
	│  ┌──────────┐              ┌──────────┐                  │
	│  │  Linux   │              │  macOS   │                  │
	│  └─────┬────┘              └────┬─────┘                  │
	│        │                         │                        │
	│        ▼                         ▼                        │
	│  ┌──────────────────┐    ┌────────────────────┐         │
	│  │ Embedded Binary  │    │   Lima VM Manager  │         │
	│  │                  │    │                     │         │
	│  │ - containerd     │    │ - Alpine Linux     │         │
	│  │ - Extracted from │    │ - containerd       │         │
	│  │   go:embed       │    │ - 2 CPU, 2GB RAM   │         │
	│  │ - Direct exec    │    │ - Auto-start       │         │
	│  └──────┬───────────┘    └────┬───────────────┘         │
	│         │                      │                          │
	│         ▼                      ▼                          │
	│  ┌──────────────────┐    ┌────────────────────┐         │
	│  │ Linux Process    │    │   Lima VM          │         │
	│  │                  │    │                     │         │
	│  │ containerd       │    │ limactl start      │         │
	│  │   --address      │    │   cloud-scheduler  │         │
	│  │   <data-dir>/    │    │                     │         │
	│  │   containerd.sock│    │ Socket forwarded:  │         │
	│  │                  │    │ ~/.lima/           │         │
	│  │                  │    │   cloud-scheduler/ │         │
	│  │                  │    │   sock/            │         │
	│  │                  │    │   containerd.sock  │         │
	│  └──────────────────┘    └────────────────────┘         │
	└────────────────────────────────────────────────────────┘

# Core Components

ContainerdManager (Linux):
  - Extracts containerd binary from embedded FS
  - Launches containerd as child process
  - Creates minimal configuration file
  - Monitors the process and logs an unexpected exit (no restart)
  - Graceful shutdown with SIGTERM → SIGKILL

LimaManager (macOS):
  - Creates and manages Lima VM instance
  - Provisions Alpine Linux with containerd
  - Forwards containerd socket to host
  - Auto-starts VM on scheduler launch
  - Graceful VM shutdown

Socket Detection:
  - Linux: <data-dir>/containerd.sock (embedded)
  - Linux: /run/containerd/containerd.sock (system, when --external-containerd)
  - macOS: ~/.lima/cloud-scheduler/sock/containerd.sock (Lima)

Binary Embedding:
  - Go embed directive: //go:embed binaries/*
  - Binaries extracted to <data-dir>/bin/
  - Platform-specific: containerd-linux-amd64, containerd-linux-arm64
  - Download via scripts/download-containerd.sh during build

# Platform Implementations

Linux Implementation:

Architecture:
  - Embedded containerd binary (amd64, arm64)
  - Direct process spawn with custom config
  - Socket: <data-dir>/containerd.sock
  - Config: <data-dir>/containerd-config.toml
  - Data: <data-dir>/containerd

Binary Extraction:
 1. Check if binary exists and is recent
 2. Read from embedded FS (binaries/containerd-linux-amd64)
 3. Write to <data-dir>/bin/containerd
 4. Set executable permissions (0755)

Process Management:
  - Start: exec.Command(containerd, --config, --address, --root, --state)
  - Monitor: Goroutine watches process exit
  - Stop: SIGTERM → wait 10s → SIGKILL

macOS Implementation:

Architecture:
  - Lima VM with Alpine Linux
  - Containerd installed via apk
  - Socket forwarded via Lima port forwarding
  - VM lifecycle managed by limactl

Lima Configuration:
  - CPUs: 2 cores
  - Memory: 2GiB
  - Disk: 20GiB
  - OS: Alpine Linux (x86_64/aarch64)
  - Containerd: System package

VM Provisioning:
 1. Create Lima YAML config
 2. limactl create --name cloud-scheduler config.yaml
 3. limactl start cloud-scheduler
 4. Wait for containerd socket

Socket Forwarding:
  - Lima maps /run/containerd/containerd.sock (guest)
  - To ~/.lima/cloud-scheduler/sock/containerd.sock (host)
  - The sandboxvm driver connects to the host socket path

VM Lifecycle:
  - Create: limactl create (one-time setup)
  - Start: limactl start cloud-scheduler (automatic on scheduler start)
  - Stop: limactl stop cloud-scheduler (graceful on scheduler stop)
  - Delete: Manual cleanup (limactl delete cloud-scheduler)

# Usage

Linux - Embedded Containerd:

	import "github.com/igable/cloud-scheduler/pkg/embedded"

	// Create manager
	mgr, err := embedded.NewContainerdManager("/var/lib/cloud-scheduler", false)
	if err != nil {
		log.Fatal(err)
	}

	// Start containerd
	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer mgr.Stop()

	// Get socket path
	socketPath := mgr.GetSocketPath()
	fmt.Printf("Containerd socket: %s\n", socketPath)

Linux - External Containerd:

	// Use system containerd instead of embedded
	mgr, err := embedded.NewContainerdManager("/var/lib/cloud-scheduler", true)
	if err != nil {
		log.Fatal(err)
	}

	// Start is no-op for external containerd
	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		log.Fatal(err)
	}

	socketPath := mgr.GetSocketPath()
	// Returns: /run/containerd/containerd.sock

macOS - Lima VM:

	import "github.com/igable/cloud-scheduler/pkg/embedded"

	// EnsureLima creates and starts Lima VM
	ctx := context.Background()
	limaManager, err := embedded.EnsureLima(ctx, "/var/lib/cloud-scheduler")
	if err != nil {
		log.Fatal(err)
	}
	defer limaManager.Stop(ctx)

	// Get socket path
	socketPath := limaManager.GetSocketPath()
	fmt.Printf("Containerd socket: %s\n", socketPath)
	// Output: /Users/username/.lima/cloud-scheduler/sock/containerd.sock

Complete Example:

	package main

	import (
		"context"
		"fmt"
		"runtime"
		"github.com/igable/cloud-scheduler/pkg/drivers/sandboxvm"
		"github.com/igable/cloud-scheduler/pkg/embedded"
		"github.com/rs/zerolog"
	)

	func main() {
		ctx := context.Background()

		// Platform-specific containerd setup
		var socketPath string
		if runtime.GOOS == "darwin" {
			// macOS: Use Lima VM
			limaManager, err := embedded.EnsureLima(ctx, "/tmp/cloud-scheduler")
			if err != nil {
				panic(err)
			}
			defer limaManager.Stop(ctx)
			socketPath = limaManager.GetSocketPath()
		} else {
			// Linux: Use embedded containerd
			mgr, err := embedded.NewContainerdManager("/var/lib/cloud-scheduler", false)
			if err != nil {
				panic(err)
			}
			if err := mgr.Start(ctx); err != nil {
				panic(err)
			}
			defer mgr.Stop()
			socketPath = mgr.GetSocketPath()
		}

		fmt.Printf("Containerd socket: %s\n", socketPath)

		// Connect to containerd
		drv, err := sandboxvm.New(socketPath, zerolog.Nop())
		if err != nil {
			panic(err)
		}
		defer drv.Close()

		fmt.Println("Successfully connected to containerd")
	}

# Integration Points

This package integrates with:

  - pkg/drivers/sandboxvm: Provisions VMs against the containerd socket this package exposes
  - cmd/cloud-scheduler: Starts this package before any driver during the run command
  - Lima: macOS VM management (limactl)

# Containerd Configuration

Minimal Config (Linux):

	version = 2

	[plugins]
	  [plugins."io.containerd.grpc.v1.cri"]
	    sandbox_image = "registry.k8s.io/pause:3.9"

	    [plugins."io.containerd.grpc.v1.cri".containerd]
	      snapshotter = "overlayfs"

	      [plugins."io.containerd.grpc.v1.cri".containerd.runtimes]
	        [plugins."io.containerd.grpc.v1.cri".containerd.runtimes.runc]
	          runtime_type = "io.containerd.runc.v2"

	          [plugins."io.containerd.grpc.v1.cri".containerd.runtimes.runc.options]
	            SystemdCgroup = true

	[plugins."io.containerd.grpc.v1.cri".registry]
	  [plugins."io.containerd.grpc.v1.cri".registry.mirrors]
	    [plugins."io.containerd.grpc.v1.cri".registry.mirrors."docker.io"]
	      endpoint = ["https://registry-1.docker.io"]

Configuration Details:
  - Version 2: Latest containerd config format
  - CRI plugin: Required for container management
  - Snapshotter: overlayfs for layer management
  - Runtime: runc v2 (OCI-compatible)
  - SystemdCgroup: Use systemd for cgroup management
  - Registry: Docker Hub mirror configuration

# Design Patterns

Platform Abstraction:
  - Build tags separate Linux/macOS implementations
  - Common ContainerdManager interface
  - GetSocketPath() returns platform-specific path
  - Transparent to calling code

Graceful Degradation:
  - Check socket existence before starting
  - Re-use existing VM if already running
  - Non-fatal errors on shutdown

Idempotent Operations:
  - Start checks if already running
  - Stop gracefully handles not running
  - Extract binary skips if recent
  - Safe to call multiple times

Binary Caching:
  - Check modification time before extracting
  - Skip extraction if binary < 24 hours old
  - Reduces startup time on repeated runs

# Performance Characteristics

Linux - Embedded Containerd:
  - Binary extraction: ~500ms (first run)
  - Binary extraction: ~1ms (cached, skip)
  - Process start: ~2-5s (containerd initialization)
  - Memory: ~50MB (containerd base)
  - Disk: ~30MB (binary + data)

macOS - Lima VM:
  - VM creation: ~2-5 minutes (one-time)
  - VM start: ~20-40s (if stopped)
  - VM start: ~1s (if already running)
  - Memory: ~2GiB (VM allocation)
  - Disk: ~2GB (VM image + data)

Socket Detection:
  - Check file existence: ~1ms
  - Total startup: 2-5s (Linux), 20-40s (macOS first run)

# Troubleshooting

Common Issues:

Binary Not Found (Linux):
  - Symptom: "failed to read embedded binary" error
  - Cause: Binary not embedded during build
  - Solution: Run make build to download and embed containerd
  - Check: ls pkg/embedded/binaries/

Permission Denied (Linux):
  - Symptom: "permission denied" when starting containerd
  - Cause: Insufficient privileges (need root or containerd group)
  - Solution: Run cloud-scheduler with sudo or add user to containerd group
  - Check: ls -l /run/containerd/containerd.sock

Lima Not Installed (macOS):
  - Symptom: "Lima is not installed"
  - Cause: limactl not in PATH
  - Solution: brew install lima
  - Check: which limactl

VM Fails to Start (macOS):
  - Symptom: Lima VM won't start or timeout
  - Check: limactl list (show VM status)
  - Check: limactl logs cloud-scheduler (VM boot logs)
  - Solution: Delete and recreate (limactl delete cloud-scheduler)

Socket Not Found:
  - Symptom: "socket not found" when connecting
  - Check: Socket path from GetSocketPath()
  - Check: ls -l <socket_path>
  - Check: Containerd/Lima is running
  - Solution: Restart containerd or cloud-scheduler

# Platform Support

Linux:
  - Distributions: Ubuntu, Debian, CentOS, Alpine, etc.
  - Architectures: amd64 (x86_64), arm64 (aarch64)
  - Kernel: 3.10+ (4.x+ recommended)
  - Cgroups: v1 or v2

macOS:
  - Versions: macOS 12+ (Monterey and later)
  - Architectures: Intel (x86_64), Apple Silicon (arm64)
  - Dependencies: Lima (installed via Homebrew)
  - VM: Alpine Linux in Lima

Windows:
  - Status: Not currently supported
  - Alternative: Docker Desktop (external containerd)

# See Also

  - pkg/drivers/sandboxvm for containerd client usage
  - containerd documentation: https://containerd.io/
  - Lima documentation: https://lima-vm.io/
  - runc documentation: https://github.com/opencontainers/runc
*/
package embedded
