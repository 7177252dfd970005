/*
Package adapter provides the central orchestration component that wires a
configured provider, the metadata catalog, and the filesystem façade into a
mounted filesystem.

# Architecture Role

The adapter acts as the "conductor": it owns no per-operation logic of its
own (that lives behind internal/facade), only construction order and
lifecycle.

	┌─────────────────────────────────────────────┐
	│                 Client Apps                 │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│            Kernel VFS/FUSE                 │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│              ADAPTER LAYER                  │ ← This Package
	│  • provider construction from config.json   │
	│  • façade construction and teardown order   │
	│  • mount/unmount lifecycle                  │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         internal/facade (C8)                │
	└─────────────────────────────────────────────┘

# Lifecycle Management

Startup sequence:
	1. Repository config validation (config.DataConfig.Validate)
	2. Provider construction (s3, sia, remote, or encrypt, per Repository.Type)
	3. Metadata store open (<data_dir>/db)
	4. Façade construction (starts the eviction scanner and upload manager)
	5. Platform-specific FUSE filesystem mounting

Shutdown sequence:
	1. FUSE filesystem unmounting
	2. Façade teardown (scanner, uploader, open-file table, cache governor)

# Usage Example

	a, err := adapter.New(ctx, dataDir, mountPoint, dataConfig)
	if err != nil {
		log.Fatal(err)
	}
	if err := a.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer a.Stop(ctx)

# Storage Backend Support

Repository.Type selects one of four provider adapters: s3 (AWS-compatible
object storage), sia (Sia renter HTTP API), remote (length-prefixed wire
protocol to a peer process), encrypt (chacha20poly1305 pass-through over a
local directory).
*/
package adapter
