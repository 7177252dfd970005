//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"

	"github.com/objectmount/objectmount/internal/facade"
)

// Platform-specific filesystem interface
type PlatformFileSystem interface {
	Mount(ctx context.Context) error
	Unmount() error
	IsMounted() bool
	GetStats() *FilesystemStats
}

// CreatePlatformMountManager creates the cgofuse mount manager
func CreatePlatformMountManager(fc *facade.Facade, config *MountConfig) PlatformFileSystem {
	return NewCgoFuseMountManager(fc, config)
}
