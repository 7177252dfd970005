package fuse

import (
	"context"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/objectmount/objectmount/internal/facade"
	"github.com/objectmount/objectmount/pkg/apierr"
)

// safeInt64ToUint64 safely converts int64 to uint64, preventing negative values
func safeInt64ToUint64(i int64) uint64 {
	if i < 0 {
		return 0
	}
	return uint64(i)
}

// safeIntToUint32 safely converts int to uint32, preventing overflow
func safeIntToUint32(i int) uint32 {
	if i < 0 {
		return 0
	}
	if i > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(i)
}

// toErrno maps a facade/apierr.Code onto the syscall.Errno the FUSE kernel
// client expects, per spec §7's taxonomy-to-errno table.
func toErrno(code apierr.Code) syscall.Errno {
	switch code {
	case apierr.Success:
		return 0
	case apierr.NotFound:
		return syscall.ENOENT
	case apierr.IsDirectory:
		return syscall.EISDIR
	case apierr.IsFile:
		return syscall.ENOTDIR
	case apierr.Exists:
		return syscall.EEXIST
	case apierr.DirectoryNotEmpty:
		return syscall.ENOTEMPTY
	case apierr.AccessDenied, apierr.PermissionDenied:
		return syscall.EACCES
	case apierr.NotSupported, apierr.InvalidOperation:
		return syscall.ENOSYS
	case apierr.NoSpace:
		return syscall.ENOSPC
	case apierr.Cancelled:
		return syscall.EINTR
	case apierr.DownloadStopped, apierr.UploadStopped:
		return syscall.EINTR
	default:
		return syscall.EIO
	}
}

// FileSystem implements the FUSE filesystem interface over the C8 façade
// (internal/facade), which composes the metadata catalog, provider adapter,
// open-file strategies/table, upload manager, and eviction scanner. This
// type used to call straight through to a types.Backend/types.Cache/
// types.WriteBuffer trio; the façade is now that single dependency.
type FileSystem struct {
	fs.Inode

	fc *facade.Facade

	// Configuration
	config *Config

	// Internal state
	mu sync.RWMutex

	// Performance tracking
	stats *Stats
}

// Config represents FUSE filesystem configuration
type Config struct {
	// Mount options
	MountPoint string `yaml:"mount_point"`
	ReadOnly   bool   `yaml:"read_only"`
	AllowOther bool   `yaml:"allow_other"`

	// FUSE options
	DirectIO  bool   `yaml:"direct_io"`
	KeepCache bool   `yaml:"keep_cache"`
	BigWrites bool   `yaml:"big_writes"`
	MaxRead   uint32 `yaml:"max_read"`
	MaxWrite  uint32 `yaml:"max_write"`

	// Filesystem behavior
	DefaultUID  uint32        `yaml:"default_uid"`
	DefaultGID  uint32        `yaml:"default_gid"`
	DefaultMode uint32        `yaml:"default_mode"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`

	// Performance settings
	ReadAhead   uint32 `yaml:"read_ahead"`
	WriteBuffer uint32 `yaml:"write_buffer"`
	Concurrency int    `yaml:"concurrency"`
}

// Stats tracks filesystem operation statistics
type Stats struct {
	mu sync.RWMutex

	// Operation counts
	Lookups int64 `json:"lookups"`
	Opens   int64 `json:"opens"`
	Reads   int64 `json:"reads"`
	Writes  int64 `json:"writes"`
	Creates int64 `json:"creates"`
	Deletes int64 `json:"deletes"`

	// Data transfer
	BytesRead    int64 `json:"bytes_read"`
	BytesWritten int64 `json:"bytes_written"`

	// Error counts
	Errors int64 `json:"errors"`

	// Performance metrics
	AvgReadTime   time.Duration `json:"avg_read_time"`
	AvgWriteTime  time.Duration `json:"avg_write_time"`
	AvgLookupTime time.Duration `json:"avg_lookup_time"`
}

// NewFileSystem creates a new FUSE filesystem instance backed by fc.
func NewFileSystem(fc *facade.Facade, config *Config) *FileSystem {
	if config == nil {
		config = &Config{
			DefaultUID:  1000,
			DefaultGID:  1000,
			DefaultMode: 0644,
			CacheTTL:    5 * time.Minute,
			ReadAhead:   128 * 1024,
			WriteBuffer: 64 * 1024,
			Concurrency: 16,
		}
	}

	return &FileSystem{
		fc:     fc,
		config: config,
		stats:  &Stats{},
	}
}

// Root returns the root inode
func (fsys *FileSystem) Root() fs.InodeEmbedder {
	return &DirectoryNode{
		fs:   fsys,
		path: "",
	}
}

// GetStats returns current filesystem statistics
func (fsys *FileSystem) GetStats() *Stats {
	fsys.stats.mu.RLock()
	defer fsys.stats.mu.RUnlock()

	return &Stats{
		Lookups:      fsys.stats.Lookups,
		Opens:        fsys.stats.Opens,
		Reads:        fsys.stats.Reads,
		Writes:       fsys.stats.Writes,
		BytesRead:    fsys.stats.BytesRead,
		BytesWritten: fsys.stats.BytesWritten,
		Errors:       fsys.stats.Errors,
	}
}

// DirectoryNode represents a directory in the filesystem
type DirectoryNode struct {
	fs.Inode
	fs   *FileSystem
	path string
}

func attrsToOut(a facade.Attrs, cfg *Config, out *fuse.Attr) {
	out.Mode = cfg.DefaultMode
	if a.Directory {
		out.Mode = syscall.S_IFDIR | 0755
	}
	out.Size = safeInt64ToUint64(a.Size)
	out.Uid = cfg.DefaultUID
	out.Gid = cfg.DefaultGID
	out.Mtime = safeInt64ToUint64(a.Modified.Unix())
	out.Atime = safeInt64ToUint64(a.Accessed.Unix())
	out.Ctime = safeInt64ToUint64(a.Created.Unix())
}

// Lookup looks up a child node by name
func (n *DirectoryNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	start := time.Now()
	defer func() {
		n.fs.recordLookupTime(time.Since(start))
	}()

	n.fs.stats.mu.Lock()
	n.fs.stats.Lookups++
	n.fs.stats.mu.Unlock()

	childPath := n.joinPath(name)

	attrs, code := n.fs.fc.GetAttr(childPath)
	if code != apierr.Success {
		if code != apierr.NotFound {
			n.fs.stats.mu.Lock()
			n.fs.stats.Errors++
			n.fs.stats.mu.Unlock()
		}
		return nil, toErrno(code)
	}

	attrsToOut(attrs, n.fs.config, &out.Attr)

	if attrs.Directory {
		return n.createDirectoryNode(name, childPath), 0
	}
	return n.createChildNode(name, attrs), 0
}

// Readdir reads directory contents
func (n *DirectoryNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	children, code := n.fs.fc.ReadDir(n.path)
	if code != apierr.Success {
		n.fs.stats.mu.Lock()
		n.fs.stats.Errors++
		n.fs.stats.mu.Unlock()

		log.Printf("Readdir failed for %s: %v", n.path, code)
		return nil, toErrno(code)
	}

	entries := make([]fuse.DirEntry, 0, len(children))
	for _, c := range children {
		name := strings.TrimPrefix(c.APIPath, "/")
		if idx := strings.LastIndex(name, "/"); idx != -1 {
			name = name[idx+1:]
		}
		if name == "" {
			continue
		}
		mode := uint32(fuse.S_IFREG)
		if c.Directory {
			mode = fuse.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: mode})
	}

	return fs.NewListDirStream(entries), 0
}

// Mkdir creates a new directory
func (n *DirectoryNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.fs.config.ReadOnly {
		return nil, syscall.EROFS
	}

	childPath := n.joinPath(name)

	if code := n.fs.fc.Mkdir(childPath); code != apierr.Success {
		n.fs.stats.mu.Lock()
		n.fs.stats.Errors++
		n.fs.stats.mu.Unlock()

		log.Printf("Mkdir failed for %s: %v", childPath, code)
		return nil, toErrno(code)
	}

	return n.createDirectoryNode(name, childPath), 0
}

// Rmdir removes an empty directory
func (n *DirectoryNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	if n.fs.config.ReadOnly {
		return syscall.EROFS
	}
	return toErrno(n.fs.fc.Rmdir(n.joinPath(name)))
}

// Unlink removes a file
func (n *DirectoryNode) Unlink(ctx context.Context, name string) syscall.Errno {
	if n.fs.config.ReadOnly {
		return syscall.EROFS
	}
	n.fs.stats.mu.Lock()
	n.fs.stats.Deletes++
	n.fs.stats.mu.Unlock()
	return toErrno(n.fs.fc.Unlink(n.joinPath(name)))
}

// Rename moves a child to a new name, possibly under a different parent.
func (n *DirectoryNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if n.fs.config.ReadOnly {
		return syscall.EROFS
	}
	destDir, ok := newParent.(*DirectoryNode)
	if !ok {
		return syscall.EINVAL
	}
	from := n.joinPath(name)
	to := destDir.joinPath(newName)
	overwrite := flags&fuse.RENAME_NOREPLACE == 0
	return toErrno(n.fs.fc.Rename(from, to, overwrite))
}

// Create creates a new file
func (n *DirectoryNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (node *fs.Inode, fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	if n.fs.config.ReadOnly {
		return nil, nil, 0, syscall.EROFS
	}

	childPath := n.joinPath(name)

	fileNode := &FileNode{
		fs:   n.fs,
		path: childPath,
	}

	node = n.NewInode(ctx, fileNode, fs.StableAttr{
		Mode: fuse.S_IFREG,
	})

	openFlags := facade.OpenFlags{Create: true, Write: true, Truncate: flags&syscall.O_TRUNC != 0}
	fh, fuseFlags, errno = fileNode.openWith(ctx, openFlags)
	if errno != 0 {
		return nil, nil, 0, errno
	}

	n.fs.stats.mu.Lock()
	n.fs.stats.Creates++
	n.fs.stats.mu.Unlock()

	return node, fh, fuseFlags, 0
}

// FileNode represents a file in the filesystem
type FileNode struct {
	fs.Inode
	fs   *FileSystem
	path string
}

func flagsToOpenFlags(flags uint32) facade.OpenFlags {
	of := facade.OpenFlags{}
	switch flags & syscall.O_ACCMODE {
	case syscall.O_WRONLY:
		of.Write = true
	case syscall.O_RDWR:
		of.Read = true
		of.Write = true
	default:
		of.Read = true
	}
	if flags&syscall.O_CREAT != 0 {
		of.Create = true
	}
	if flags&syscall.O_TRUNC != 0 {
		of.Truncate = true
	}
	if flags&syscall.O_APPEND != 0 {
		of.Append = true
	}
	if flags&syscall.O_SYNC != 0 {
		of.Sync = true
	}
	return of
}

// Open opens a file
func (f *FileNode) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	return f.openWith(ctx, flagsToOpenFlags(flags))
}

func (f *FileNode) openWith(ctx context.Context, openFlags facade.OpenFlags) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	f.fs.stats.mu.Lock()
	f.fs.stats.Opens++
	f.fs.stats.mu.Unlock()

	if f.fs.config.ReadOnly && writeIntentForErrnoCheck(openFlags) {
		return nil, 0, syscall.EROFS
	}

	handle, code := f.fs.fc.Open(f.path, openFlags)
	if code != apierr.Success {
		return nil, 0, toErrno(code)
	}

	return &FileHandle{
		fs:     f.fs,
		path:   f.path,
		handle: handle,
	}, 0, 0
}

// writeIntentForErrnoCheck mirrors facade.OpenFlags.writeIntent for the
// read-only-mount guard, since that helper is unexported across packages.
func writeIntentForErrnoCheck(of facade.OpenFlags) bool {
	return of.Write || of.Create || of.Truncate || of.Append
}

// Getattr gets file attributes
func (f *FileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attrs, code := f.fs.fc.GetAttr(f.path)
	if code != apierr.Success {
		return toErrno(code)
	}
	attrsToOut(attrs, f.fs.config, &out.Attr)
	return 0
}

// Setattr handles truncate/chmod/chown requests from the kernel.
func (f *FileNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		handle, code := f.fs.fc.Open(f.path, facade.OpenFlags{Write: true})
		if code != apierr.Success {
			return toErrno(code)
		}
		defer f.fs.fc.Release(handle)
		if code := f.fs.fc.Resize(f.path, handle, size); code != apierr.Success {
			return toErrno(code)
		}
	}
	return f.Getattr(ctx, fh, out)
}

// FileHandle represents an open file handle
type FileHandle struct {
	fs     *FileSystem
	path   string
	handle uint64
}

// Read reads data from the file
func (fh *FileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	start := time.Now()
	defer func() {
		fh.fs.recordReadTime(time.Since(start))
	}()

	fh.fs.stats.mu.Lock()
	fh.fs.stats.Reads++
	fh.fs.stats.mu.Unlock()

	data, code := fh.fs.fc.Read(fh.handle, uint64(off), len(dest))
	if code != apierr.Success {
		fh.fs.stats.mu.Lock()
		fh.fs.stats.Errors++
		fh.fs.stats.mu.Unlock()

		log.Printf("Read failed for %s at offset %d: %v", fh.path, off, code)
		return nil, toErrno(code)
	}

	fh.fs.stats.mu.Lock()
	fh.fs.stats.BytesRead += int64(len(data))
	fh.fs.stats.mu.Unlock()

	return fuse.ReadResultData(data), 0
}

// Write writes data to the file
func (fh *FileHandle) Write(ctx context.Context, data []byte, off int64) (written uint32, errno syscall.Errno) {
	if fh.fs.config.ReadOnly {
		return 0, syscall.EROFS
	}

	start := time.Now()
	defer func() {
		fh.fs.recordWriteTime(time.Since(start))
	}()

	fh.fs.stats.mu.Lock()
	fh.fs.stats.Writes++
	fh.fs.stats.mu.Unlock()

	n, code := fh.fs.fc.Write(fh.path, fh.handle, uint64(off), data)
	if code != apierr.Success {
		fh.fs.stats.mu.Lock()
		fh.fs.stats.Errors++
		fh.fs.stats.mu.Unlock()

		log.Printf("Write failed for %s at offset %d: %v", fh.path, off, code)
		return 0, toErrno(code)
	}

	fh.fs.stats.mu.Lock()
	fh.fs.stats.BytesWritten += int64(n)
	fh.fs.stats.mu.Unlock()

	return safeIntToUint32(n), 0
}

// Flush is a no-op: every write already lands in the full-file strategy's
// backing file or the ring buffer's scratch segment, and the upload manager
// owns flushing the result to the provider on its own schedule (spec §6:
// "sync: hint only, queues the upload immediately").
func (fh *FileHandle) Flush(ctx context.Context) syscall.Errno {
	return 0
}

// Release releases the file handle
func (fh *FileHandle) Release(ctx context.Context) syscall.Errno {
	return toErrno(fh.fs.fc.Release(fh.handle))
}

// Helper methods for DirectoryNode

func (n *DirectoryNode) joinPath(name string) string {
	if n.path == "" {
		return name
	}
	return filepath.Join(n.path, name)
}

func (n *DirectoryNode) createChildNode(name string, attrs facade.Attrs) *fs.Inode {
	childPath := n.joinPath(name)

	fileNode := &FileNode{
		fs:   n.fs,
		path: childPath,
	}

	return n.NewInode(context.Background(), fileNode, fs.StableAttr{
		Mode: fuse.S_IFREG,
	})
}

func (n *DirectoryNode) createDirectoryNode(name, path string) *fs.Inode {
	dirNode := &DirectoryNode{
		fs:   n.fs,
		path: path,
	}

	return n.NewInode(context.Background(), dirNode, fs.StableAttr{
		Mode: fuse.S_IFDIR,
	})
}

// Helper methods for FileSystem

func (fsys *FileSystem) recordLookupTime(duration time.Duration) {
	fsys.stats.mu.Lock()
	defer fsys.stats.mu.Unlock()

	if fsys.stats.Lookups == 1 {
		fsys.stats.AvgLookupTime = duration
	} else {
		fsys.stats.AvgLookupTime = time.Duration(
			(int64(fsys.stats.AvgLookupTime)*9 + int64(duration)) / 10,
		)
	}
}

func (fsys *FileSystem) recordReadTime(duration time.Duration) {
	fsys.stats.mu.Lock()
	defer fsys.stats.mu.Unlock()

	if fsys.stats.Reads == 1 {
		fsys.stats.AvgReadTime = duration
	} else {
		fsys.stats.AvgReadTime = time.Duration(
			(int64(fsys.stats.AvgReadTime)*9 + int64(duration)) / 10,
		)
	}
}

func (fsys *FileSystem) recordWriteTime(duration time.Duration) {
	fsys.stats.mu.Lock()
	defer fsys.stats.mu.Unlock()

	if fsys.stats.Writes == 1 {
		fsys.stats.AvgWriteTime = duration
	} else {
		fsys.stats.AvgWriteTime = time.Duration(
			(int64(fsys.stats.AvgWriteTime)*9 + int64(duration)) / 10,
		)
	}
}
