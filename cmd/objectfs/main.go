// Command objectfs mounts a configured object-storage repository as a
// local filesystem. Its flag surface is deliberately minimal (spec §6), plus
// two optional extras: -mem-monitor (periodic memory logging) and -overlay
// (a YAML file retuning mount options and provider retry behavior). Everything
// else is controlled through config.json in the data directory.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/objectmount/objectmount/internal/adapter"
	"github.com/objectmount/objectmount/internal/config"
	"github.com/objectmount/objectmount/pkg/memmon"
	"github.com/objectmount/objectmount/pkg/status"
)

func main() {
	os.Exit(int(run(os.Args[1:])))
}

func run(args []string) status.ExitCode {
	fs := flag.NewFlagSet("objectfs", flag.ContinueOnError)

	dataDir := fs.StringP("dd", "d", "", "data directory (config.json, cache/, db/)")
	genConfig := fs.Bool("gc", false, "generate a default config.json in the data directory and exit")
	set := fs.String("set", "", "apply one config change: -set key=value")
	testConn := fs.Bool("test", false, "dry-run: verify the configured provider is reachable and exit")
	printStatus := fs.Bool("status", false, "print mount status as JSON and exit")
	unmount := fs.Bool("unmount", false, "unmount the given mount point and exit")
	memMonitor := fs.Bool("mem-monitor", false, "log periodic memory stats and growth alerts while mounted")
	overlayPath := fs.String("overlay", "", "optional internal/config.Configuration YAML file retuning FUSE mount options and provider retry/circuit-breaker behavior")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return status.ExitUsageError
	}

	if *dataDir == "" {
		fmt.Fprintln(os.Stderr, "objectfs: -dd <data_dir> is required")
		return status.ExitUsageError
	}

	if *genConfig {
		return generateConfig(*dataDir)
	}

	if *unmount {
		rest := fs.Args()
		if len(rest) != 1 {
			fmt.Fprintln(os.Stderr, "objectfs: -unmount requires the mount point as the sole argument")
			return status.ExitUsageError
		}
		return doUnmount(rest[0])
	}

	cfg, err := config.LoadDataConfig(*dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "objectfs: %v\n", err)
		return status.ExitConfigInvalid
	}

	if *set != "" {
		return applySet(*dataDir, cfg, *set)
	}

	if *testConn {
		return testConnectivity(cfg)
	}

	if *printStatus {
		return printMountStatus(*dataDir, cfg)
	}

	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "objectfs: mount point argument is required")
		return status.ExitUsageError
	}
	return mountAndServe(*dataDir, rest[0], cfg, *memMonitor, *overlayPath)
}

func generateConfig(dataDir string) status.ExitCode {
	cfg := config.NewDefaultDataConfig()
	if err := cfg.Save(dataDir); err != nil {
		fmt.Fprintf(os.Stderr, "objectfs: %v\n", err)
		return status.ExitConfigInvalid
	}
	fmt.Printf("wrote default config to %s/config.json\n", dataDir)
	return status.ExitSuccess
}

func applySet(dataDir string, cfg *config.DataConfig, kv string) status.ExitCode {
	key, value, ok := strings.Cut(kv, "=")
	if !ok {
		fmt.Fprintln(os.Stderr, "objectfs: -set expects key=value")
		return status.ExitUsageError
	}
	if err := cfg.Set(key, value); err != nil {
		fmt.Fprintf(os.Stderr, "objectfs: %v\n", err)
		return status.ExitConfigInvalid
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "objectfs: %v\n", err)
		return status.ExitConfigInvalid
	}
	if err := cfg.Save(dataDir); err != nil {
		fmt.Fprintf(os.Stderr, "objectfs: %v\n", err)
		return status.ExitConfigInvalid
	}
	return status.ExitSuccess
}

func testConnectivity(cfg *config.DataConfig) status.ExitCode {
	ctx := context.Background()
	if err := adapter.TestConnectivity(ctx, cfg.Repository); err != nil {
		fmt.Fprintf(os.Stderr, "objectfs: %v\n", err)
		return status.ExitProviderUnreachable
	}
	fmt.Println("ok")
	return status.ExitSuccess
}

type mountStatus struct {
	DataDir        string `json:"data_dir"`
	RepositoryType string `json:"repository_type"`
	ConfigVersion  int    `json:"config_version"`
}

func printMountStatus(dataDir string, cfg *config.DataConfig) status.ExitCode {
	st := mountStatus{
		DataDir:        dataDir,
		RepositoryType: cfg.Repository.Type,
		ConfigVersion:  cfg.Version,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		fmt.Fprintf(os.Stderr, "objectfs: %v\n", err)
		return status.ExitUsageError
	}
	return status.ExitSuccess
}

func doUnmount(mountPoint string) status.ExitCode {
	if err := syscall.Unmount(mountPoint, 0); err != nil {
		if err := syscall.Unmount(mountPoint, syscall.MNT_DETACH); err != nil {
			fmt.Fprintf(os.Stderr, "objectfs: unmount %s: %v\n", mountPoint, err)
			return status.ExitMountFailed
		}
	}
	return status.ExitSuccess
}

func mountAndServe(dataDir, mountPoint string, cfg *config.DataConfig, enableMemMonitor bool, overlayPath string) status.ExitCode {
	ctx := context.Background()

	a, err := adapter.New(ctx, dataDir, mountPoint, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "objectfs: %v\n", err)
		return status.ExitConfigInvalid
	}

	if overlayPath != "" {
		overlay := config.NewDefault()
		if err := overlay.LoadFromFile(overlayPath); err != nil {
			fmt.Fprintf(os.Stderr, "objectfs: overlay: %v\n", err)
			return status.ExitConfigInvalid
		}
		a.SetOverlay(overlay)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "objectfs: %v\n", err)
		return status.ExitMountFailed
	}

	var monitor *memmon.MemoryMonitor
	if enableMemMonitor {
		monitor = memmon.NewMemoryMonitor(memmon.DefaultMonitorConfig())
		if err := monitor.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "objectfs: mem-monitor: %v\n", err)
			monitor = nil
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	if monitor != nil {
		monitor.Stop()
	}

	if err := a.Stop(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "objectfs: %v\n", err)
		return status.ExitMountFailed
	}
	return status.ExitSuccess
}
