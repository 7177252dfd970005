// Package adapter wires a DataConfig-selected provider, the metadata
// catalog, and the C8 façade into a mounted filesystem. It is the
// construction/lifecycle glue cmd/objectfs drives; the per-operation logic
// it used to hold directly (the S3 backend/cache/write-buffer trio) now
// lives behind internal/facade.
package adapter

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/objectmount/objectmount/internal/config"
	"github.com/objectmount/objectmount/internal/facade"
	"github.com/objectmount/objectmount/internal/fuse"
	"github.com/objectmount/objectmount/internal/health"
	"github.com/objectmount/objectmount/internal/metadata"
	"github.com/objectmount/objectmount/internal/metrics"
	"github.com/objectmount/objectmount/internal/provider"
	"github.com/objectmount/objectmount/internal/provider/encrypt"
	"github.com/objectmount/objectmount/internal/provider/remote"
	"github.com/objectmount/objectmount/internal/provider/resilient"
	"github.com/objectmount/objectmount/internal/provider/s3"
	"github.com/objectmount/objectmount/internal/provider/sia"
	"github.com/objectmount/objectmount/pkg/api"
	"github.com/objectmount/objectmount/pkg/apierr"
	pkghealth "github.com/objectmount/objectmount/pkg/health"
	"github.com/objectmount/objectmount/pkg/recovery"
	"github.com/objectmount/objectmount/pkg/status"
)

// Adapter owns the façade, the provider backing it, and the platform mount
// manager for one data-dir/mount-point pair.
type Adapter struct {
	dataDir    string
	mountPoint string
	dataConfig *config.DataConfig
	overlay    *config.Configuration

	meta     *metadata.Store
	prov     provider.Provider
	fc       *facade.Facade
	mountMgr fuse.PlatformFileSystem

	metricsCollector *metrics.Collector
	apiServer        *api.Server
	healthChecker    *health.Checker

	started bool
}

// New constructs an Adapter from a loaded DataConfig. It does not touch the
// provider or mount the filesystem yet — call Start for that.
func New(ctx context.Context, dataDir, mountPoint string, dataConfig *config.DataConfig) (*Adapter, error) {
	if err := dataConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if mountPoint == "" {
		return nil, fmt.Errorf("mount point cannot be empty")
	}

	return &Adapter{
		dataDir:    dataDir,
		mountPoint: mountPoint,
		dataConfig: dataConfig,
	}, nil
}

// SetOverlay attaches an optional internal/config.Configuration overlay
// (loaded from a separate YAML file, distinct from config.json's DataConfig)
// that retunes FUSE mount options and provider retry/circuit-breaker
// behavior without touching the repository-specific config.json. Must be
// called before Start.
func (a *Adapter) SetOverlay(overlay *config.Configuration) {
	a.overlay = overlay
}

// buildProvider constructs the provider.Provider named by cfg.Repository.Type
// and wraps it in internal/provider/resilient, so every remote call gets
// pkg/recovery's retry-then-circuit-break treatment for transient failures.
// recoveryCfg is normally recovery.DefaultRecoveryConfig(); an attached
// config.Configuration overlay can retune it via Configuration.RecoveryConfig.
func buildProvider(ctx context.Context, cfg config.RepositoryConfig, recoveryCfg recovery.RecoveryConfig) (provider.Provider, error) {
	raw, err := buildRawProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return resilient.New(raw, cfg.Type, recoveryCfg), nil
}

// buildRawProvider constructs the unwrapped provider.Provider named by
// cfg.Repository.Type.
func buildRawProvider(ctx context.Context, cfg config.RepositoryConfig) (provider.Provider, error) {
	switch cfg.Type {
	case "s3":
		if cfg.S3 == nil {
			return nil, fmt.Errorf("repository.s3 section is required")
		}
		return s3.New(ctx, s3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			ForcePathStyle:  cfg.S3.ForcePathStyle,
		})
	case "sia":
		if cfg.Sia == nil {
			return nil, fmt.Errorf("repository.sia section is required")
		}
		return sia.New(sia.Config{
			APIAddress: cfg.Sia.APIAddress,
			Password:   cfg.Sia.Password,
			Timeout:    30 * time.Second,
		}), nil
	case "remote":
		if cfg.Remote == nil {
			return nil, fmt.Errorf("repository.remote section is required")
		}
		return remote.New(remote.Config{
			Address:     cfg.Remote.Address,
			DialTimeout: 10 * time.Second,
		}), nil
	case "encrypt":
		if cfg.Encrypt == nil {
			return nil, fmt.Errorf("repository.encrypt section is required")
		}
		return encrypt.New(encrypt.Config{
			RootDir:    cfg.Encrypt.RootDir,
			Passphrase: cfg.Encrypt.Passphrase,
		})
	default:
		return nil, fmt.Errorf("unknown repository type %q", cfg.Type)
	}
}

// Start initializes the metadata store, provider, façade, and mounts the
// filesystem.
func (a *Adapter) Start(ctx context.Context) error {
	if a.started {
		return fmt.Errorf("adapter already started")
	}

	log.Printf("Starting ObjectFS adapter...")
	log.Printf("Data dir: %s", a.dataDir)
	log.Printf("Mount point: %s", a.mountPoint)
	log.Printf("Repository type: %s", a.dataConfig.Repository.Type)

	recoveryCfg := recovery.DefaultRecoveryConfig()
	if a.overlay != nil {
		recoveryCfg = a.overlay.RecoveryConfig()
	}

	prov, err := buildProvider(ctx, a.dataConfig.Repository, recoveryCfg)
	if err != nil {
		return fmt.Errorf("failed to construct provider: %w", err)
	}
	a.prov = prov

	meta, err := metadata.New(filepath.Join(a.dataDir, "db"))
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	a.meta = meta

	downloadTimeout := time.Duration(a.dataConfig.DownloadTimeoutSecs) * time.Second
	if !a.dataConfig.EnableDownloadTimeout || downloadTimeout <= 0 {
		downloadTimeout = 0
	}

	metricsCollector, err := metrics.NewCollector(nil)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics collector: %w", err)
	}
	if err := metricsCollector.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics collector: %w", err)
	}
	a.metricsCollector = metricsCollector

	const chunkSize = 4 << 20

	ringBufferSize := int(a.dataConfig.RingBufferSizeBytes() / chunkSize)
	if ringBufferSize <= 0 {
		ringBufferSize = 1
	}

	fc, err := facade.New(meta, prov, facade.Config{
		CacheDir:                 filepath.Join(a.dataDir, "cache"),
		MaxCacheBytes:            a.dataConfig.MaxCacheSizeBytes,
		ChunkSize:                chunkSize,
		ChunkTimeout:             downloadTimeout,
		RingBufferSize:           ringBufferSize,
		MaxUploadCount:           a.dataConfig.MaxUploadCount,
		ScanPeriod:               time.Minute,
		EvictionDelay:            time.Duration(a.dataConfig.EvictionDelayMins) * time.Minute,
		EvictionUsesAccessedTime: a.dataConfig.EvictionUsesAccessedTime,
		Metrics:                  metricsCollector,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize façade: %w", err)
	}
	a.fc = fc

	healthTracker := pkghealth.NewTracker(pkghealth.DefaultConfig())
	healthTracker.RegisterComponent("provider")
	healthTracker.RecordSuccess("provider")
	healthTracker.RegisterComponent("mount")
	healthTracker.RecordSuccess("mount")

	// internal/health.Checker runs the periodic provider-connectivity and
	// mount-status probes; its HTTP endpoint is disabled since pkg/api
	// already exposes /health on ApiPort. An attached overlay can retune
	// the interval/timeout via Configuration.Monitoring.HealthChecks.
	checkInterval, checkTimeout := 30*time.Second, 10*time.Second
	if a.overlay != nil {
		checkInterval, checkTimeout = a.overlay.HealthCheckTuning(checkInterval, checkTimeout)
	}
	checkerCfg := &health.Config{
		Enabled:       true,
		CheckInterval: checkInterval,
		Timeout:       checkTimeout,
		MaxFailures:   3,
		FailureWindow: 5 * time.Minute,
		HTTPEnabled:   false,
	}
	checker, err := health.NewChecker(checkerCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize health checker: %w", err)
	}
	checker.RegisterCheck("provider", "repository reachability", health.CategoryNetwork, health.PriorityCritical,
		func(ctx context.Context) error {
			if _, code := a.prov.List(ctx, "/"); code != apierr.Success && code != apierr.NotFound {
				healthTracker.RecordError("provider", fmt.Errorf("%s", code))
				return fmt.Errorf("provider unreachable: %s", code)
			}
			healthTracker.RecordSuccess("provider")
			return nil
		})
	checker.RegisterCheck("mount", "filesystem mount status", health.CategoryCore, health.PriorityCritical,
		func(ctx context.Context) error {
			if a.mountMgr == nil || !a.mountMgr.IsMounted() {
				healthTracker.RecordError("mount", fmt.Errorf("not mounted"))
				return fmt.Errorf("filesystem not mounted")
			}
			healthTracker.RecordSuccess("mount")
			return nil
		})
	if err := checker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start health checker: %w", err)
	}
	a.healthChecker = checker

	// Management HTTP server (pkg/api) is optional: ApiPort == 0 means the
	// operator never set one in config.json, so no port gets bound.
	if a.dataConfig.ApiPort != 0 {
		statusTracker := status.NewTracker(status.TrackerConfig{HealthTracker: healthTracker})

		serverCfg := api.DefaultServerConfig()
		serverCfg.Address = fmt.Sprintf("127.0.0.1:%d", a.dataConfig.ApiPort)
		a.apiServer = api.NewServer(serverCfg, statusTracker, healthTracker)
		a.apiServer.StartBackground()
	}

	maxRead, maxWrite, debug := uint32(128*1024), uint32(128*1024), false
	if a.overlay != nil {
		if or, ow, od := a.overlay.MountTuning(); or > 0 || ow > 0 || od {
			if or > 0 {
				maxRead = or
			}
			if ow > 0 {
				maxWrite = ow
			}
			debug = od
		}
	}
	mountConfig := &fuse.MountConfig{
		MountPoint: a.mountPoint,
		Options: &fuse.MountOptions{
			FSName:   "objectfs",
			Subtype:  a.dataConfig.Repository.Type,
			MaxRead:  maxRead,
			MaxWrite: maxWrite,
			Debug:    debug,
		},
	}

	a.mountMgr = fuse.CreatePlatformMountManager(a.fc, mountConfig)
	if err := a.mountMgr.Mount(ctx); err != nil {
		return fmt.Errorf("failed to mount filesystem: %w", err)
	}

	a.started = true
	log.Printf("ObjectFS adapter started successfully")
	return nil
}

// Stop gracefully unmounts the filesystem and stops the façade.
func (a *Adapter) Stop(ctx context.Context) error {
	if !a.started {
		return fmt.Errorf("adapter not started")
	}

	log.Printf("Stopping ObjectFS adapter...")

	var lastErr error
	if a.mountMgr != nil && a.mountMgr.IsMounted() {
		if err := a.mountMgr.Unmount(); err != nil {
			log.Printf("Error unmounting filesystem: %v", err)
			lastErr = err
		}
	}
	if a.apiServer != nil {
		if err := a.apiServer.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down API server: %v", err)
			lastErr = err
		}
	}
	if a.healthChecker != nil {
		if err := a.healthChecker.Stop(); err != nil {
			log.Printf("Error stopping health checker: %v", err)
			lastErr = err
		}
	}
	if a.metricsCollector != nil {
		if err := a.metricsCollector.Stop(ctx); err != nil {
			log.Printf("Error stopping metrics collector: %v", err)
			lastErr = err
		}
	}
	if a.fc != nil {
		a.fc.Stop()
	}

	a.started = false
	log.Printf("ObjectFS adapter stopped successfully")
	return lastErr
}

// TestConnectivity performs the `-test` dry-run: constructs the configured
// provider and issues a single List against its root, without mounting
// anything.
func TestConnectivity(ctx context.Context, cfg config.RepositoryConfig) error {
	prov, err := buildProvider(ctx, cfg, recovery.DefaultRecoveryConfig())
	if err != nil {
		return err
	}
	if closer, ok := prov.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	_, code := prov.List(ctx, "/")
	if code != apierr.Success && code != apierr.NotFound {
		return fmt.Errorf("provider unreachable: %s", code)
	}
	return nil
}

// Facade exposes the running façade for status reporting.
func (a *Adapter) Facade() *facade.Facade { return a.fc }

// IsMounted reports whether the filesystem is currently mounted.
func (a *Adapter) IsMounted() bool {
	return a.mountMgr != nil && a.mountMgr.IsMounted()
}
