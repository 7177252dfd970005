//go:build cgofuse
// +build cgofuse

package fuse

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/objectmount/objectmount/internal/facade"
	"github.com/objectmount/objectmount/pkg/apierr"
)

// CgoFuseFS implements ObjectFS using cgofuse for cross-platform support
// (principally Windows, via WinFsp), driven by the same C8 façade as the
// hanwen/go-fuse shim in filesystem.go.
type CgoFuseFS struct {
	fuse.FileSystemBase

	fc     *facade.Facade
	config *Config

	// Internal state
	mu       sync.RWMutex
	handles  map[uint64]string
	host     *fuse.FileSystemHost
	mounted  bool
}

func cgoErrno(code apierr.Code) int {
	switch code {
	case apierr.Success:
		return 0
	case apierr.NotFound:
		return -fuse.ENOENT
	case apierr.IsDirectory:
		return -fuse.EISDIR
	case apierr.IsFile:
		return -fuse.ENOTDIR
	case apierr.Exists:
		return -fuse.EEXIST
	case apierr.DirectoryNotEmpty:
		return -fuse.ENOTEMPTY
	case apierr.AccessDenied, apierr.PermissionDenied:
		return -fuse.EACCES
	case apierr.NotSupported, apierr.InvalidOperation:
		return -fuse.ENOSYS
	case apierr.NoSpace:
		return -fuse.ENOSPC
	default:
		return -fuse.EIO
	}
}

// NewCgoFuseFS creates a new cgofuse-based filesystem
func NewCgoFuseFS(fc *facade.Facade, config *Config) *CgoFuseFS {
	return &CgoFuseFS{
		fc:      fc,
		config:  config,
		handles: make(map[uint64]string),
	}
}

// Mount mounts the filesystem
func (cf *CgoFuseFS) Mount() error {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	if cf.mounted {
		return fmt.Errorf("filesystem already mounted")
	}

	cf.host = fuse.NewFileSystemHost(cf)

	options := []string{
		"-o", "fsname=objectfs",
		"-o", "allow_other",
	}
	if strings.Contains(os.Getenv("GOOS"), "windows") {
		options = append(options, "-o", "FileSystemName=ObjectFS")
	}

	go func() {
		ok := cf.host.Mount(cf.config.MountPoint, options)
		if !ok {
			log.Printf("cgofuse mount returned failure for %s", cf.config.MountPoint)
		}
	}()

	time.Sleep(100 * time.Millisecond)

	cf.mounted = true
	log.Printf("ObjectFS mounted at: %s", cf.config.MountPoint)
	return nil
}

// Unmount unmounts the filesystem
func (cf *CgoFuseFS) Unmount() error {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	if !cf.mounted {
		return fmt.Errorf("filesystem not mounted")
	}

	if cf.host != nil && !cf.host.Unmount() {
		return fmt.Errorf("unmount failed")
	}

	cf.mounted = false
	log.Printf("ObjectFS unmounted from: %s", cf.config.MountPoint)
	return nil
}

// IsMounted returns whether the filesystem is mounted
func (cf *CgoFuseFS) IsMounted() bool {
	cf.mu.RLock()
	defer cf.mu.RUnlock()
	return cf.mounted
}

// GetStats returns filesystem statistics. Only CacheHits is filled, with the
// façade's current item count; BytesRead, BytesWritten and Errors are
// always zero.
func (cf *CgoFuseFS) GetStats() *FilesystemStats {
	stats := cf.fc.StatFS()
	return &FilesystemStats{
		BytesRead:    0,
		BytesWritten: 0,
		Errors:       0,
		CacheHits:    int64(stats.ItemCount),
	}
}

func apiPath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}

// Getattr gets file attributes
func (cf *CgoFuseFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	attrs, code := cf.fc.GetAttr(apiPath(path))
	if code != apierr.Success {
		return cgoErrno(code)
	}
	if attrs.Directory {
		stat.Mode = fuse.S_IFDIR | 0755
		stat.Nlink = 2
		return 0
	}
	stat.Mode = fuse.S_IFREG | 0644
	stat.Size = attrs.Size
	stat.Nlink = 1
	stat.Mtim.Sec = attrs.Modified.Unix()
	stat.Mtim.Nsec = int64(attrs.Modified.Nanosecond())
	return 0
}

// Mkdir creates a directory
func (cf *CgoFuseFS) Mkdir(path string, mode uint32) int {
	return cgoErrno(cf.fc.Mkdir(apiPath(path)))
}

// Rmdir removes an empty directory
func (cf *CgoFuseFS) Rmdir(path string) int {
	return cgoErrno(cf.fc.Rmdir(apiPath(path)))
}

// Unlink removes a file
func (cf *CgoFuseFS) Unlink(path string) int {
	return cgoErrno(cf.fc.Unlink(apiPath(path)))
}

// Rename moves path to newpath
func (cf *CgoFuseFS) Rename(path string, newpath string) int {
	return cgoErrno(cf.fc.Rename(apiPath(path), apiPath(newpath), true))
}

// Create creates and opens a new file
func (cf *CgoFuseFS) Create(path string, flags int, mode uint32) (int, uint64) {
	return cf.openWith(path, facade.OpenFlags{Create: true, Write: true})
}

// Open opens a file
func (cf *CgoFuseFS) Open(path string, flags int) (int, uint64) {
	return cf.openWith(path, cgoFlagsToOpenFlags(flags))
}

func (cf *CgoFuseFS) openWith(path string, openFlags facade.OpenFlags) (int, uint64) {
	handle, code := cf.fc.Open(apiPath(path), openFlags)
	if code != apierr.Success {
		return cgoErrno(code), 0
	}

	cf.mu.Lock()
	cf.handles[handle] = apiPath(path)
	cf.mu.Unlock()

	return 0, handle
}

func cgoFlagsToOpenFlags(flags int) facade.OpenFlags {
	of := facade.OpenFlags{}
	switch flags & fuse.O_ACCMODE {
	case fuse.O_WRONLY:
		of.Write = true
	case fuse.O_RDWR:
		of.Read = true
		of.Write = true
	default:
		of.Read = true
	}
	return of
}

// Read reads from a file
func (cf *CgoFuseFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	data, code := cf.fc.Read(fh, uint64(ofst), len(buff))
	if code != apierr.Success {
		return cgoErrno(code)
	}
	return copy(buff, data)
}

// Write writes to a file
func (cf *CgoFuseFS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	cf.mu.RLock()
	apiP := cf.handles[fh]
	cf.mu.RUnlock()

	n, code := cf.fc.Write(apiP, fh, uint64(ofst), buff)
	if code != apierr.Success {
		return cgoErrno(code)
	}
	return n
}

// Truncate resizes a file
func (cf *CgoFuseFS) Truncate(path string, size int64, fh uint64) int {
	if fh == 0 {
		handle, code := cf.fc.Open(apiPath(path), facade.OpenFlags{Write: true})
		if code != apierr.Success {
			return cgoErrno(code)
		}
		defer cf.fc.Release(handle)
		fh = handle
	}
	return cgoErrno(cf.fc.Resize(apiPath(path), fh, uint64(size)))
}

// Release closes a file
func (cf *CgoFuseFS) Release(path string, fh uint64) int {
	cf.mu.Lock()
	delete(cf.handles, fh)
	cf.mu.Unlock()

	return cgoErrno(cf.fc.Release(fh))
}

// Readdir reads directory contents
func (cf *CgoFuseFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	fill(".", nil, 0)
	fill("..", nil, 0)

	children, code := cf.fc.ReadDir(apiPath(path))
	if code != apierr.Success {
		return cgoErrno(code)
	}

	for _, c := range children {
		name := strings.TrimPrefix(c.APIPath, "/")
		if idx := strings.LastIndex(name, "/"); idx != -1 {
			name = name[idx+1:]
		}
		if name == "" {
			continue
		}

		stat := &fuse.Stat_t{}
		if c.Directory {
			stat.Mode = fuse.S_IFDIR | 0755
			stat.Nlink = 2
		} else {
			stat.Mode = fuse.S_IFREG | 0644
			stat.Size = c.Size
			stat.Nlink = 1
		}

		if !fill(name, stat, 0) {
			break
		}
	}

	return 0
}
