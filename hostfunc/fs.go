package hostfunc

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/caffeineduck/hostgate/resource"
)

// MountMode defines the permission level for a mount point.
type MountMode int

const (
	// MountReadOnly allows only read operations.
	MountReadOnly MountMode = iota
	// MountReadWrite allows read and write operations to existing files/dirs.
	MountReadWrite
	// MountReadWriteCreate allows read, write, and create operations.
	MountReadWriteCreate
)

func (m MountMode) String() string {
	switch m {
	case MountReadOnly:
		return "ro"
	case MountReadWrite:
		return "rw"
	case MountReadWriteCreate:
		return "rwc"
	default:
		return "unknown"
	}
}

// ParseMountMode accepts "ro", "rw" and "rwc".
func ParseMountMode(s string) (MountMode, error) {
	switch s {
	case "ro":
		return MountReadOnly, nil
	case "rw":
		return MountReadWrite, nil
	case "rwc":
		return MountReadWriteCreate, nil
	}
	return 0, errors.New("invalid mount mode " + s + ", expected ro, rw or rwc")
}

// Mount represents a virtual path mapped to a host path with specific permissions.
type Mount struct {
	VirtualPath string    // Path as seen by the guest (e.g., "/data")
	HostPath    string    // Actual path on host filesystem
	Mode        MountMode // Permission level
}

// FSOption configures an FS.
type FSOption func(*FS)

// WithMaxFileSize caps reads and writes of whole files. Zero disables the cap.
func WithMaxFileSize(n int64) FSOption {
	return func(f *FS) { f.maxFileSize = n }
}

// FS provides filesystem operations with explicit mount points. It is
// registered under the "fs" namespace.
type FS struct {
	mounts      []Mount
	maxFileSize int64
	mu          sync.RWMutex
}

// NewFS creates a new filesystem handler with the given mount points.
func NewFS(mounts []Mount, opts ...FSOption) *FS {
	normalized := make([]Mount, 0, len(mounts))
	for _, m := range mounts {
		vp := "/" + strings.Trim(m.VirtualPath, "/")
		hp, err := filepath.Abs(m.HostPath)
		if err != nil {
			continue
		}
		normalized = append(normalized, Mount{VirtualPath: vp, HostPath: hp, Mode: m.Mode})
	}
	f := &FS{mounts: normalized}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Mounts returns the normalized mount table.
func (f *FS) Mounts() []Mount {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Mount(nil), f.mounts...)
}

// Register installs the fs namespace.
func (f *FS) Register(r *Registry) {
	r.Register("fs", "read", JSON(f.Read))
	r.Register("fs", "write", JSON(f.Write))
	r.Register("fs", "list", JSON(f.List))
	r.Register("fs", "exists", JSON(f.Exists))
	r.Register("fs", "mkdir", JSON(f.Mkdir))
	r.Register("fs", "remove", JSON(f.Remove))
	r.Register("fs", "stat", JSON(f.Stat))
	r.Register("fs", "open", JSON(f.Open))
	r.Register("fs", "fread", JSON(f.FRead))
	r.Register("fs", "fwrite", JSON(f.FWrite))
	r.Register("fs", "close", JSON(f.FClose))
}

// resolve maps a virtual path to a host path and its mount, checking
// permissions.
func (f *FS) resolve(virtualPath string, needWrite bool) (string, *Mount, error) {
	if virtualPath == "" {
		return "", nil, invalid("path required")
	}
	m := f.findMount(virtualPath)
	if m == nil {
		return "", nil, denied("path not in any mount")
	}
	if needWrite && m.Mode == MountReadOnly {
		return "", nil, denied("read-only mount")
	}

	vp := filepath.Clean("/" + strings.TrimPrefix(virtualPath, "/"))
	relPath := strings.TrimPrefix(vp, m.VirtualPath)
	hostPath, err := filepath.Abs(filepath.Join(m.HostPath, relPath))
	if err != nil {
		return "", nil, invalid("invalid path")
	}
	if hostPath != m.HostPath && !strings.HasPrefix(hostPath, m.HostPath+string(filepath.Separator)) {
		return "", nil, denied("path escape attempt")
	}
	return hostPath, m, nil
}

// findMount finds the mount for a given virtual path.
func (f *FS) findMount(virtualPath string) *Mount {
	f.mu.RLock()
	defer f.mu.RUnlock()

	vp := filepath.Clean("/" + strings.TrimPrefix(virtualPath, "/"))
	for i := range f.mounts {
		m := &f.mounts[i]
		if vp == m.VirtualPath || m.VirtualPath == "/" || strings.HasPrefix(vp, m.VirtualPath+"/") {
			return m
		}
	}
	return nil
}

func fsError(op, path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return notFound("file not found: %s", path)
	case errors.Is(err, fs.ErrPermission):
		return denied("%s %s", op, path)
	case errors.Is(err, syscall.ENOTEMPTY):
		return invalid("directory not empty: %s", path)
	}
	return resource.Errorf(resource.ClassInternal, "%s error: %v", op, err)
}

// Read returns the contents of a file.
func (f *FS) Read(_ context.Context, _ *Call, req FSPathRequest) (FSReadResponse, error) {
	hostPath, _, err := f.resolve(req.Path, false)
	if err != nil {
		return FSReadResponse{}, err
	}
	if f.maxFileSize > 0 {
		if info, err := os.Stat(hostPath); err == nil && info.Size() > f.maxFileSize {
			return FSReadResponse{}, invalid("file exceeds %d bytes", f.maxFileSize)
		}
	}
	data, err := os.ReadFile(hostPath)
	if err != nil {
		return FSReadResponse{}, fsError("read", req.Path, err)
	}
	return FSReadResponse{Content: string(data)}, nil
}

// Write writes content to a file. New files need a create mount.
func (f *FS) Write(_ context.Context, _ *Call, req FSWriteRequest) (OK, error) {
	hostPath, m, err := f.resolve(req.Path, true)
	if err != nil {
		return OK{}, err
	}
	if f.maxFileSize > 0 && int64(len(req.Content)) > f.maxFileSize {
		return OK{}, invalid("content exceeds %d bytes", f.maxFileSize)
	}
	if _, statErr := os.Stat(hostPath); os.IsNotExist(statErr) && m.Mode != MountReadWriteCreate {
		return OK{}, denied("cannot create new files")
	}
	if err := os.WriteFile(hostPath, []byte(req.Content), 0o644); err != nil {
		return OK{}, fsError("write", req.Path, err)
	}
	return okResponse, nil
}

// List returns the contents of a directory.
func (f *FS) List(_ context.Context, _ *Call, req FSPathRequest) (FSListResponse, error) {
	hostPath, _, err := f.resolve(req.Path, false)
	if err != nil {
		return FSListResponse{}, err
	}
	entries, err := os.ReadDir(hostPath)
	if err != nil {
		return FSListResponse{}, fsError("list", req.Path, err)
	}

	result := make([]FSEntry, 0, len(entries))
	for _, entry := range entries {
		item := FSEntry{Name: entry.Name(), IsDir: entry.IsDir()}
		if info, err := entry.Info(); err == nil {
			item.Size = info.Size()
		}
		result = append(result, item)
	}
	return FSListResponse{Entries: result}, nil
}

// Exists reports whether a path exists. Paths outside every mount do not
// exist from the guest's point of view.
func (f *FS) Exists(_ context.Context, _ *Call, req FSPathRequest) (FSExistsResponse, error) {
	hostPath, _, err := f.resolve(req.Path, false)
	if err != nil {
		return FSExistsResponse{}, nil
	}
	_, err = os.Stat(hostPath)
	return FSExistsResponse{Exists: err == nil}, nil
}

// Mkdir creates a directory and its parents.
func (f *FS) Mkdir(_ context.Context, _ *Call, req FSPathRequest) (OK, error) {
	hostPath, m, err := f.resolve(req.Path, true)
	if err != nil {
		return OK{}, err
	}
	if m.Mode != MountReadWriteCreate {
		return OK{}, denied("cannot create directories")
	}
	if err := os.MkdirAll(hostPath, 0o755); err != nil {
		return OK{}, fsError("mkdir", req.Path, err)
	}
	return okResponse, nil
}

// Remove deletes a file or empty directory.
func (f *FS) Remove(_ context.Context, _ *Call, req FSPathRequest) (OK, error) {
	hostPath, m, err := f.resolve(req.Path, true)
	if err != nil {
		return OK{}, err
	}
	if hostPath == m.HostPath {
		return OK{}, denied("cannot remove mount root")
	}
	if err := os.Remove(hostPath); err != nil {
		return OK{}, fsError("remove", req.Path, err)
	}
	return okResponse, nil
}

// Stat returns information about a file or directory.
func (f *FS) Stat(_ context.Context, _ *Call, req FSPathRequest) (FSStatResponse, error) {
	hostPath, _, err := f.resolve(req.Path, false)
	if err != nil {
		return FSStatResponse{}, err
	}
	info, err := os.Stat(hostPath)
	if err != nil {
		return FSStatResponse{}, fsError("stat", req.Path, err)
	}
	return FSStatResponse{
		Name:    info.Name(),
		Size:    info.Size(),
		IsDir:   info.IsDir(),
		ModTime: info.ModTime().Unix(),
	}, nil
}

// Open opens a file and stores it in the caller's resource table.
func (f *FS) Open(_ context.Context, call *Call, req FSOpenRequest) (RIDResponse, error) {
	var (
		flag      int
		needWrite bool
	)
	switch req.Mode {
	case "", "r":
		flag = os.O_RDONLY
	case "w":
		flag, needWrite = os.O_WRONLY|os.O_TRUNC, true
	case "a":
		flag, needWrite = os.O_WRONLY|os.O_APPEND, true
	default:
		return RIDResponse{}, invalid("invalid open mode %q", req.Mode)
	}

	hostPath, m, err := f.resolve(req.Path, needWrite)
	if err != nil {
		return RIDResponse{}, err
	}
	if needWrite && m.Mode == MountReadWriteCreate {
		flag |= os.O_CREATE
	}
	file, err := os.OpenFile(hostPath, flag, 0o644)
	if err != nil {
		return RIDResponse{}, fsError("open", req.Path, err)
	}

	handle := &File{f: file, path: req.Path}
	if needWrite {
		info, err := file.Stat()
		if err != nil {
			file.Close()
			return RIDResponse{}, fsError("open", req.Path, err)
		}
		handle.maxSize, handle.size = f.maxFileSize, info.Size()
	}

	rid, err := call.Table.Add(handle)
	if err != nil {
		file.Close()
		return RIDResponse{}, err
	}
	return RIDResponse{RID: rid}, nil
}

// FRead reads up to Size bytes from an open file.
func (f *FS) FRead(ctx context.Context, call *Call, req ReadRequest) (ReadResponse, error) {
	file, err := resource.Get[*File](call.Table, req.RID)
	if err != nil {
		return ReadResponse{}, err
	}
	return readFrom(ctx, file, req.Size)
}

// FWrite writes to an open file.
func (f *FS) FWrite(ctx context.Context, call *Call, req WriteRequest) (WriteResponse, error) {
	file, err := resource.Get[*File](call.Table, req.RID)
	if err != nil {
		return WriteResponse{}, err
	}
	n, err := file.Write(ctx, req.Data)
	if err != nil {
		return WriteResponse{}, err
	}
	return WriteResponse{N: n}, nil
}

// FClose removes an open file from the table and closes it.
func (f *FS) FClose(_ context.Context, call *Call, req RIDRequest) (OK, error) {
	file, err := resource.Take[*File](call.Table, req.RID)
	if err != nil {
		return OK{}, err
	}
	file.Close()
	return okResponse, nil
}

// File is an open file handle held in a resource table.
type File struct {
	f    *os.File
	path string

	// Write-mode handles only. Writes always land at size.
	mu      sync.Mutex
	maxSize int64
	size    int64
}

// Name implements resource.Namer.
func (*File) Name() string { return "fsFile" }

// Path returns the virtual path the file was opened with.
func (h *File) Path() string { return h.path }

// Read implements resource.Reader.
func (h *File) Read(_ context.Context, buf []byte) (int, error) {
	n, err := h.f.Read(buf)
	if errors.Is(err, fs.ErrClosed) {
		return n, resource.BadResourceID()
	}
	return n, err
}

// Write implements resource.Writer.
func (h *File) Write(_ context.Context, buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.maxSize > 0 && h.size+int64(len(buf)) > h.maxSize {
		return 0, invalid("file exceeds max size of %d bytes", h.maxSize)
	}
	n, err := h.f.Write(buf)
	h.size += int64(n)
	if err != nil {
		return n, fsError("write", h.path, err)
	}
	return n, nil
}

// BackingFD implements resource.FDHolder.
func (h *File) BackingFD() (uintptr, bool) { return h.f.Fd(), true }

// Close implements resource.Resource.
func (h *File) Close() { h.f.Close() }

const (
	defaultReadSize = 64 << 10
	maxReadSize     = 1 << 20
)

func readFrom(ctx context.Context, r resource.Resource, size int) (ReadResponse, error) {
	switch {
	case size <= 0:
		size = defaultReadSize
	case size > maxReadSize:
		size = maxReadSize
	}
	buf := make([]byte, size)
	n, err := resource.Read(ctx, r, buf)
	if errors.Is(err, io.EOF) {
		return ReadResponse{Data: buf[:n], EOF: true}, nil
	}
	if err != nil {
		return ReadResponse{}, err
	}
	return ReadResponse{Data: buf[:n], EOF: n == 0}, nil
}
