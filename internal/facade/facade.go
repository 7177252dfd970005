// Package facade implements the filesystem façade (spec §3/§6, C8): the
// single surface the syscall shim (internal/fuse) calls, composing the
// metadata store (C2), provider adapter (C3), open-file strategies (C4),
// open-file table (C5), upload manager (C6), and eviction scanner (C7)
// behind the exact operation table §6 names. Grounded on the teacher's
// internal/fuse.FileSystem, which previously called straight through to
// types.Backend/types.Cache/types.WriteBuffer; this package is now that
// dependency, re-expressed around the spec's component boundaries.
package facade

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/objectmount/objectmount/internal/cachesize"
	"github.com/objectmount/objectmount/internal/eviction"
	"github.com/objectmount/objectmount/internal/filetable"
	"github.com/objectmount/objectmount/internal/metadata"
	"github.com/objectmount/objectmount/internal/metrics"
	"github.com/objectmount/objectmount/internal/openfile"
	"github.com/objectmount/objectmount/internal/provider"
	"github.com/objectmount/objectmount/internal/upload"
	"github.com/objectmount/objectmount/pkg/apierr"
)

// OpenFlags mirrors §6's "flags = bitset of {read, write, create, truncate,
// append, sync}".
type OpenFlags struct {
	Read     bool
	Write    bool
	Create   bool
	Truncate bool
	Append   bool
	Sync     bool
}

func (f OpenFlags) writeIntent() bool {
	return f.Write || f.Create || f.Truncate || f.Append
}

// Attrs is the §6 getattr/readdir result shape.
type Attrs struct {
	APIPath   string
	Size      int64
	Directory bool
	Modified  time.Time
	Accessed  time.Time
	Created   time.Time
}

// StatFSResult is the §6 statfs result shape.
type StatFSResult struct {
	TotalBytes uint64
	UsedBytes  uint64
	FreeBytes  uint64
	ItemCount  uint64
}

// Config bundles the construction-time knobs threaded down to C1/C5/C6/C7,
// sourced from internal/config (spec §6 config.json schema).
type Config struct {
	CacheDir                 string
	MaxCacheBytes            uint64
	ChunkSize                uint64
	ChunkTimeout             time.Duration
	RingBufferSize           int
	MaxUploadCount           int
	ScanPeriod               time.Duration
	EvictionDelay            time.Duration
	EvictionUsesAccessedTime bool

	// Metrics is optional (spec: "Metrics (Prometheus) ... kept,
	// re-targeted to C1/C4/C5/C6/C7 counters"). A nil Metrics disables
	// instrumentation entirely rather than requiring a no-op collector.
	Metrics *metrics.Collector
}

// Facade is the single C8 entry point, owning the component instances it
// composes and their background goroutines (spec §5: "started from
// internal/facade construction").
type Facade struct {
	meta     *metadata.Store
	prov     provider.Provider
	governor *cachesize.Governor
	table    *filetable.Table
	uploader *upload.Manager
	scanner  *eviction.Scanner
	cacheDir string
	metrics  *metrics.Collector
}

// recordOp reports one operation's outcome to the optional metrics
// collector (spec: "Metrics ... kept, re-targeted to C1/C4/C5/C6/C7
// counters"). A nil collector makes every call here a no-op.
func (fc *Facade) recordOp(name string, start time.Time, size int64, code apierr.Code) {
	if fc.metrics == nil {
		return
	}
	success := code == apierr.Success
	fc.metrics.RecordOperation(name, time.Since(start), size, success)
	if !success {
		fc.metrics.RecordError(name, fmt.Errorf("%s", code))
	}
}

// New wires every component per SPEC_FULL.md §5's "per-component threads"
// table and starts their background goroutines.
func New(meta *metadata.Store, prov provider.Provider, cfg Config) (*Facade, error) {
	if err := os.MkdirAll(cfg.CacheDir, 0700); err != nil {
		return nil, err
	}

	governor := cachesize.New(cfg.MaxCacheBytes)

	uploader, err := upload.New(meta, prov, cfg.CacheDir+"/upload-tables", cfg.MaxUploadCount)
	if err != nil {
		return nil, err
	}

	deps := openfile.Deps{Provider: prov, Governor: governor}
	table := filetable.New(meta, deps, filetable.Config{
		ChunkSize:      cfg.ChunkSize,
		ChunkTimeout:   cfg.ChunkTimeout,
		RingBufferSize: cfg.RingBufferSize,
		CacheDir:       cfg.CacheDir,
	}, uploader)

	refMode := eviction.RefAccessed
	if !cfg.EvictionUsesAccessedTime {
		refMode = eviction.RefModified
	}
	scanner := eviction.New(eviction.Config{
		CacheDir:      cfg.CacheDir,
		ScanPeriod:    cfg.ScanPeriod,
		EvictionDelay: cfg.EvictionDelay,
		RefMode:       refMode,
	}, meta, governor, table, uploader)
	scanner.Start()

	return &Facade{
		meta:     meta,
		prov:     prov,
		governor: governor,
		table:    table,
		uploader: uploader,
		scanner:  scanner,
		cacheDir: cfg.CacheDir,
		metrics:  cfg.Metrics,
	}, nil
}

// Stop tears down every background goroutine: the eviction scanner first,
// then the upload manager and the open-file table, and the governor last.
func (fc *Facade) Stop() {
	fc.scanner.Stop()
	fc.uploader.Stop()
	fc.table.Stop()
	fc.governor.Stop()
}

func normalize(apiPath string) string {
	if apiPath == "" {
		return "/"
	}
	cleaned := path.Clean("/" + apiPath)
	return cleaned
}

func toAttrs(f metadata.ApiFile) Attrs {
	return Attrs{
		APIPath:   f.APIPath,
		Size:      f.Size,
		Directory: f.Directory,
		Modified:  f.Modified,
		Accessed:  f.Accessed,
		Created:   f.Created,
	}
}

// ensureSourcePath lazily allocates the cache-unique backing file for
// apiPath's FilesystemItem (spec §5: "each file name is globally unique —
// UUID for full-file source files"), persisting the assignment so a
// restart rediscovers it.
func (fc *Facade) ensureSourcePath(f *metadata.ApiFile) apierr.Code {
	if f.SourcePath != "" {
		return apierr.Success
	}
	sourcePath := fc.cacheDir + "/" + uuid.NewString()
	if code := fc.meta.SetSourcePath(f.APIPath, sourcePath); code != apierr.Success {
		return code
	}
	f.SourcePath = sourcePath
	return apierr.Success
}

// Open implements §6's open(api_path, flags, open_data) -> (handle, ...).
func (fc *Facade) Open(apiPath string, flags OpenFlags) (handle uint64, code apierr.Code) {
	start := time.Now()
	defer func() { fc.recordOp("open", start, 0, code) }()

	apiPath = normalize(apiPath)
	f, getCode := fc.meta.Get(apiPath)
	if getCode == apierr.NotFound {
		if !flags.Create {
			code = apierr.NotFound
			return 0, code
		}
		if createCode := fc.meta.CreateFile(apiPath); createCode != apierr.Success {
			code = createCode
			return 0, code
		}
		f, _ = fc.meta.Get(apiPath)
	} else if getCode != apierr.Success {
		code = getCode
		return 0, code
	}
	if f.Directory {
		code = apierr.IsDirectory
		return 0, code
	}

	if sourceCode := fc.ensureSourcePath(&f); sourceCode != apierr.Success {
		code = sourceCode
		return 0, code
	}

	fsi := metadata.FilesystemItem{
		APIPath:    f.APIPath,
		SourcePath: f.SourcePath,
		Size:       f.Size,
		Directory:  f.Directory,
	}
	if flags.Truncate {
		fsi.Size = 0
	}

	h, openCode := fc.table.Open(fsi, flags.writeIntent())
	if openCode != apierr.Success {
		code = openCode
		return 0, code
	}
	if flags.Truncate {
		if resizeCode := fc.table.Resize(h, 0); resizeCode != apierr.Success {
			fc.table.Release(h)
			code = resizeCode
			return 0, code
		}
		fc.meta.UpdateSize(apiPath, 0)
	}
	fc.meta.Touch(apiPath)
	code = apierr.Success
	return h, code
}

// Read implements §6's read(handle, off, len, &out).
func (fc *Facade) Read(handle uint64, offset uint64, size int) (data []byte, code apierr.Code) {
	start := time.Now()
	data, code = fc.table.Read(handle, offset, size)
	fc.recordOp("read", start, int64(len(data)), code)
	return data, code
}

// Write implements §6's write(handle, off, buf).
func (fc *Facade) Write(apiPath string, handle uint64, offset uint64, buf []byte) (n int, code apierr.Code) {
	start := time.Now()
	defer func() { fc.recordOp("write", start, int64(n), code) }()

	n, code = fc.table.Write(handle, offset, buf)
	if code != apierr.Success || n == 0 {
		return n, code
	}
	if size, sizeCode := fc.table.FileSize(handle); sizeCode == apierr.Success {
		fc.meta.UpdateSize(normalize(apiPath), int64(size))
	}
	code = apierr.Success
	return n, code
}

// Resize implements §6's resize(handle, new_size).
func (fc *Facade) Resize(apiPath string, handle uint64, newSize uint64) apierr.Code {
	if code := fc.table.Resize(handle, newSize); code != apierr.Success {
		return code
	}
	fc.meta.UpdateSize(normalize(apiPath), int64(newSize))
	return apierr.Success
}

// Release implements §6's release(handle).
func (fc *Facade) Release(handle uint64) apierr.Code {
	return fc.table.Release(handle)
}

// Rename implements §6's rename(from, to, overwrite).
func (fc *Facade) Rename(from, to string, overwrite bool) (code apierr.Code) {
	start := time.Now()
	defer func() { fc.recordOp("rename", start, 0, code) }()

	from, to = normalize(from), normalize(to)
	if !overwrite && fc.meta.Exists(to) {
		code = apierr.Exists
		return code
	}
	if fc.prov.SupportsRename() {
		ctx := context.Background()
		if provCode := fc.prov.Rename(ctx, from, to); provCode != apierr.Success && provCode != apierr.NotSupported {
			code = provCode
			return code
		}
	}
	if metaCode := fc.meta.Rename(from, to); metaCode != apierr.Success {
		code = metaCode
		return code
	}
	code = fc.table.Rename(from, to)
	return code
}

// Unlink implements §6's unlink(path). The provider adapter has no remote
// delete operation (spec §6's provider table lists only list/head/
// read_range/upload/mkdir/rmdir/rename), so unlink only retires the local
// catalog entry and cache file; an externally-deleted remote object is
// reconciled the next time its parent directory is listed.
func (fc *Facade) Unlink(apiPath string) (code apierr.Code) {
	start := time.Now()
	defer func() { fc.recordOp("unlink", start, 0, code) }()

	apiPath = normalize(apiPath)
	f, getCode := fc.meta.Get(apiPath)
	if getCode != apierr.Success {
		code = getCode
		return code
	}
	if f.Directory {
		code = apierr.IsDirectory
		return code
	}
	fc.table.MarkRemoved(apiPath)
	sourcePath, removeCode := fc.meta.Remove(apiPath)
	if removeCode != apierr.Success {
		code = removeCode
		return code
	}
	if sourcePath != "" {
		if info, err := os.Stat(sourcePath); err == nil {
			fc.governor.Shrink(uint64(info.Size()))
			os.Remove(sourcePath)
		}
	}
	code = apierr.Success
	return code
}

// Mkdir implements §6's mkdir(path, mode).
func (fc *Facade) Mkdir(apiPath string) (code apierr.Code) {
	start := time.Now()
	defer func() { fc.recordOp("mkdir", start, 0, code) }()

	apiPath = normalize(apiPath)
	if provCode := fc.prov.Mkdir(context.Background(), apiPath); provCode != apierr.Success {
		code = provCode
		return code
	}
	code = fc.meta.CreateDirectory(apiPath)
	return code
}

// Rmdir implements §6's rmdir(path).
func (fc *Facade) Rmdir(apiPath string) (code apierr.Code) {
	start := time.Now()
	defer func() { fc.recordOp("rmdir", start, 0, code) }()

	apiPath = normalize(apiPath)
	f, getCode := fc.meta.Get(apiPath)
	if getCode != apierr.Success {
		code = getCode
		return code
	}
	if !f.Directory {
		code = apierr.IsFile
		return code
	}
	if !fc.meta.DirectoryEmpty(apiPath) {
		code = apierr.DirectoryNotEmpty
		return code
	}
	if provCode := fc.prov.Rmdir(context.Background(), apiPath); provCode != apierr.Success {
		code = provCode
		return code
	}
	_, code = fc.meta.Remove(apiPath)
	return code
}

// GetAttr implements §6's getattr(path, &out).
func (fc *Facade) GetAttr(apiPath string) (Attrs, apierr.Code) {
	f, code := fc.meta.Get(normalize(apiPath))
	if code != apierr.Success {
		return Attrs{}, code
	}
	return toAttrs(f), apierr.Success
}

// ReadDir implements §6's readdir(path, &out).
func (fc *Facade) ReadDir(apiPath string) ([]Attrs, apierr.Code) {
	children, code := fc.meta.ListDirectory(normalize(apiPath))
	if code != apierr.Success {
		return nil, code
	}
	out := make([]Attrs, 0, len(children))
	for _, c := range children {
		out = append(out, toAttrs(c))
	}
	return out, apierr.Success
}

// StatFS implements §6's statfs(&out).
func (fc *Facade) StatFS() StatFSResult {
	items, usedBytes := fc.meta.Stats()
	max := fc.governor.Max()
	free := fc.governor.Free()
	return StatFSResult{
		TotalBytes: max,
		UsedBytes:  usedBytes,
		FreeBytes:  free,
		ItemCount:  items,
	}
}
