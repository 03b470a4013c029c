package fs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"github.com/ajaxzhan/simfs/pkg/types"
)

// Errors for MountFS
var (
	ErrInvalidMountPoint = errors.New("invalid mount point")
	ErrNoView            = errors.New("mount requires a view")
)

// MountConfig holds the configuration for exposing the tree over FUSE.
type MountConfig struct {
	MountPoint string // Where to mount the FUSE filesystem
	AllowOther bool   // Let other host users access the mount
	Debug      bool
}

// MountFS exposes the virtual tree on the host as one acting identity.
// Every kernel request goes through the identity's View, so the host sees
// exactly what that identity would see in the shell. Failed operations are
// reported to the service notifier; lookups the kernel issues on its own
// go through a quiet view.
type MountFS struct {
	config  *MountConfig
	view    *View
	lookup  *View
	server  *fuse.Server
	mounted atomic.Bool
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewMountFS creates a MountFS for view.
func NewMountFS(view *View, config *MountConfig) (*MountFS, error) {
	if view == nil {
		return nil, ErrNoView
	}
	if config == nil || config.MountPoint == "" {
		return nil, ErrInvalidMountPoint
	}
	return &MountFS{
		config: config,
		view:   view,
		lookup: view.Quiet(),
		logger: view.svc.logger.Named("fuse"),
	}, nil
}

// Root returns the root inode embedder, for mounting by hand or testing.
func (m *MountFS) Root() fs.InodeEmbedder {
	return &vnode{mfs: m, path: "/"}
}

// Mount mounts the FUSE filesystem. It blocks until the context is cancelled.
func (m *MountFS) Mount(ctx context.Context) error {
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			AllowOther: m.config.AllowOther,
			FsName:     "simfs",
			Name:       "simfs",
			Debug:      m.config.Debug,
		},
	}

	server, err := fs.Mount(m.config.MountPoint, m.Root(), opts)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.server = server
	m.mounted.Store(true)
	m.mu.Unlock()
	m.logger.Info("mounted",
		zap.String("mount_point", m.config.MountPoint),
		zap.String("user", m.view.Identity().Username))

	// Wait for context cancellation
	<-ctx.Done()

	if err := server.Unmount(); err != nil {
		return err
	}
	m.mounted.Store(false)
	m.logger.Info("unmounted", zap.String("mount_point", m.config.MountPoint))

	return ctx.Err()
}

// IsMounted returns true if the filesystem is currently mounted.
func (m *MountFS) IsMounted() bool {
	return m.mounted.Load()
}

// fillAttr translates a tree node into kernel attributes.
func (m *MountFS) fillAttr(n *types.FileNode, a *fuse.Attr) {
	mode, _ := ParseMode(n.Permissions)
	perm := mode.Perm
	if mode.Sticky {
		perm |= syscall.S_ISVTX
	}
	if n.IsDir() {
		a.Mode = fuse.S_IFDIR | perm
		a.Nlink = 2
	} else {
		a.Mode = fuse.S_IFREG | perm
		a.Nlink = 1
	}
	a.Size = uint64(len(n.Content))
	a.SetTimes(&n.Modified, &n.Modified, &n.Modified)

	if reg := m.view.svc.registry; reg != nil {
		if u, ok := reg.User(n.Owner); ok {
			a.Uid = uint32(u.UID)
		}
		if g, ok := reg.Group(n.Group); ok {
			a.Gid = uint32(g.GID)
		}
	}
}

func stableMode(n *types.FileNode) uint32 {
	if n.IsDir() {
		return fuse.S_IFDIR
	}
	return fuse.S_IFREG
}

// vnode is a file or directory inode addressed by its virtual path.
type vnode struct {
	fs.Inode
	mfs  *MountFS
	path string
}

var _ = (fs.NodeLookuper)((*vnode)(nil))
var _ = (fs.NodeReaddirer)((*vnode)(nil))
var _ = (fs.NodeGetattrer)((*vnode)(nil))
var _ = (fs.NodeSetattrer)((*vnode)(nil))
var _ = (fs.NodeMkdirer)((*vnode)(nil))
var _ = (fs.NodeCreater)((*vnode)(nil))
var _ = (fs.NodeUnlinker)((*vnode)(nil))
var _ = (fs.NodeRmdirer)((*vnode)(nil))
var _ = (fs.NodeRenamer)((*vnode)(nil))
var _ = (fs.NodeOpener)((*vnode)(nil))

func (n *vnode) childPath(name string) string {
	return Join(n.path, name)
}

func (n *vnode) newChild(ctx context.Context, node *types.FileNode, p string, out *fuse.EntryOut) *fs.Inode {
	n.mfs.fillAttr(node, &out.Attr)
	child := &vnode{mfs: n.mfs, path: p}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: stableMode(node)})
}

// Getattr implements fs.NodeGetattrer.
func (n *vnode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	node, err := n.mfs.lookup.GetNodeAtPath(n.path)
	if err != nil {
		return toErrno(err)
	}
	n.mfs.fillAttr(node, &out.Attr)
	return fs.OK
}

// Lookup implements fs.NodeLookuper.
func (n *vnode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.childPath(name)
	node, err := n.mfs.lookup.GetNodeAtPath(p)
	if err != nil {
		return nil, toErrno(err)
	}
	return n.newChild(ctx, node, p, out), fs.OK
}

// Readdir implements fs.NodeReaddirer.
func (n *vnode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	children, err := n.mfs.view.ListDirectory(n.path)
	if err != nil {
		return nil, toErrno(err)
	}
	entries := make([]fuse.DirEntry, 0, len(children))
	for _, c := range children {
		entries = append(entries, fuse.DirEntry{Name: c.Name, Mode: stableMode(c)})
	}
	return fs.NewListDirStream(entries), fs.OK
}

// Setattr implements fs.NodeSetattrer: truncation and chmod.
func (n *vnode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	view := n.mfs.view

	if mode, ok := in.GetMode(); ok {
		spec := fmt.Sprintf("%03o", mode&0o777)
		if mode&syscall.S_ISVTX != 0 {
			spec = "1" + spec
		}
		if err := view.Chmod(n.path, spec); err != nil {
			return toErrno(err)
		}
	}

	if size, ok := in.GetSize(); ok {
		if h, isHandle := fh.(*fileHandle); isHandle {
			h.truncate(int(size))
		} else {
			content, err := view.ReadFile(n.path)
			if err != nil {
				return toErrno(err)
			}
			if int(size) < len(content) {
				content = content[:size]
			} else {
				content += string(make([]byte, int(size)-len(content)))
			}
			if err := view.WriteFile(n.path, content); err != nil {
				return toErrno(err)
			}
		}
	}

	return n.Getattr(ctx, fh, out)
}

// Mkdir implements fs.NodeMkdirer.
func (n *vnode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	node, err := n.mfs.view.CreateDirectory(n.path, name)
	if err != nil {
		return nil, toErrno(err)
	}
	return n.newChild(ctx, node, n.childPath(name), out), fs.OK
}

// Create implements fs.NodeCreater.
func (n *vnode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (node *fs.Inode, fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	view := n.mfs.view
	p := n.childPath(name)

	created, err := view.CreateFile(n.path, name, "")
	if err != nil {
		return nil, nil, 0, toErrno(err)
	}
	if perm := mode & 0o777; perm != 0 && perm != 0o644 {
		if err := view.Chmod(p, fmt.Sprintf("%03o", perm)); err == nil {
			if updated, err := n.mfs.lookup.GetNodeAtPath(p); err == nil {
				created = updated
			}
		}
	}

	handle := &fileHandle{mfs: n.mfs, path: p, writable: true}
	return n.newChild(ctx, created, p, out), handle, fuse.FOPEN_DIRECT_IO, fs.OK
}

// Unlink implements fs.NodeUnlinker.
func (n *vnode) Unlink(ctx context.Context, name string) syscall.Errno {
	p := n.childPath(name)
	node, err := n.mfs.lookup.GetNodeAtPath(p)
	if err != nil {
		return toErrno(err)
	}
	if node.IsDir() {
		return syscall.EISDIR
	}
	return toErrno(n.mfs.view.DeleteNode(p))
}

// Rmdir implements fs.NodeRmdirer.
func (n *vnode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.mfs.view.RemoveDirectory(n.childPath(name)))
}

// Rename implements fs.NodeRenamer. An existing destination file is
// replaced, matching rename(2).
func (n *vnode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	np, ok := newParent.(*vnode)
	if !ok {
		return syscall.EINVAL
	}
	view := n.mfs.view
	from, to := n.childPath(name), np.childPath(newName)

	if existing, err := n.mfs.lookup.GetNodeAtPath(to); err == nil && from != to {
		src, err := n.mfs.lookup.GetNodeAtPath(from)
		if err != nil {
			return toErrno(err)
		}
		if existing.IsDir() || src.IsDir() {
			return syscall.EEXIST
		}
		if err := view.DeleteNode(to); err != nil {
			return toErrno(err)
		}
	}
	return toErrno(view.MoveNode(from, to))
}

// Open implements fs.NodeOpener.
func (n *vnode) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	view := n.mfs.view
	node, err := n.mfs.lookup.GetNodeAtPath(n.path)
	if err != nil {
		return nil, 0, toErrno(err)
	}
	if node.IsDir() {
		return nil, 0, syscall.EISDIR
	}

	h := &fileHandle{mfs: n.mfs, path: n.path}
	switch flags & syscall.O_ACCMODE {
	case syscall.O_RDONLY:
		if !Allowed(node, view.Identity(), types.OpRead) {
			return nil, 0, syscall.EACCES
		}
	case syscall.O_WRONLY:
		if !Allowed(node, view.Identity(), types.OpWrite) {
			return nil, 0, syscall.EACCES
		}
		h.writable = true
	case syscall.O_RDWR:
		if !Allowed(node, view.Identity(), types.OpRead) || !Allowed(node, view.Identity(), types.OpWrite) {
			return nil, 0, syscall.EACCES
		}
		h.writable = true
	}

	if flags&syscall.O_TRUNC != 0 && h.writable {
		h.dirty = true
	} else {
		// Write-only handles still need the current bytes for partial writes.
		h.data = []byte(node.Content)
	}
	return h, fuse.FOPEN_DIRECT_IO, fs.OK
}

// fileHandle buffers a file's content between open and flush.
type fileHandle struct {
	mu       sync.Mutex
	mfs      *MountFS
	path     string
	data     []byte
	writable bool
	dirty    bool
}

var _ = (fs.FileReader)((*fileHandle)(nil))
var _ = (fs.FileWriter)((*fileHandle)(nil))
var _ = (fs.FileFlusher)((*fileHandle)(nil))
var _ = (fs.FileFsyncer)((*fileHandle)(nil))

// Read implements fs.FileReader.
func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if off >= int64(len(h.data)) {
		return fuse.ReadResultData(nil), fs.OK
	}
	end := off + int64(len(dest))
	if end > int64(len(h.data)) {
		end = int64(len(h.data))
	}
	return fuse.ReadResultData(h.data[off:end]), fs.OK
}

// Write implements fs.FileWriter.
func (h *fileHandle) Write(ctx context.Context, data []byte, off int64) (written uint32, errno syscall.Errno) {
	if !h.writable {
		return 0, syscall.EBADF
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	end := int(off) + len(data)
	if end > len(h.data) {
		grown := make([]byte, end)
		copy(grown, h.data)
		h.data = grown
	}
	copy(h.data[off:], data)
	h.dirty = true
	return uint32(len(data)), fs.OK
}

func (h *fileHandle) truncate(size int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if size < len(h.data) {
		h.data = h.data[:size]
	} else {
		h.data = append(h.data, make([]byte, size-len(h.data))...)
	}
	h.dirty = true
}

// Flush implements fs.FileFlusher: buffered content is committed to the tree.
func (h *fileHandle) Flush(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty {
		return fs.OK
	}
	if err := h.mfs.view.WriteFile(h.path, string(h.data)); err != nil {
		return toErrno(err)
	}
	h.dirty = false
	return fs.OK
}

// Fsync implements fs.FileFsyncer.
func (h *fileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return h.Flush(ctx)
}

// toErrno maps filesystem errors onto errno values.
func toErrno(err error) syscall.Errno {
	switch {
	case err == nil:
		return fs.OK
	case errors.Is(err, types.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, types.ErrPermissionDenied):
		return syscall.EACCES
	case errors.Is(err, types.ErrNameCollision):
		return syscall.EEXIST
	case errors.Is(err, types.ErrNotDirectory):
		return syscall.ENOTDIR
	case errors.Is(err, types.ErrIsDirectory):
		return syscall.EISDIR
	case errors.Is(err, types.ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, types.ErrInvalidOperation):
		return syscall.EINVAL
	default:
		return syscall.EIO
	}
}
