package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/ajaxzhan/simfs/pkg/types"
)

// checkFUSEAvailable checks if FUSE is available on the system.
func checkFUSEAvailable(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "darwin" {
		if _, err := os.Stat("/Library/Filesystems/macfuse.fs"); os.IsNotExist(err) {
			t.Skip("skipping test: macFUSE is not installed")
		}
		if _, err := exec.LookPath("mount_macfuse"); err != nil {
			t.Skip("skipping test: mount_macfuse not found in PATH")
		}
	} else if runtime.GOOS == "linux" {
		if _, err := os.Stat("/dev/fuse"); os.IsNotExist(err) {
			t.Skip("skipping test: FUSE is not available (/dev/fuse not found)")
		}
	} else {
		t.Skipf("skipping test: FUSE tests not supported on %s", runtime.GOOS)
	}
}

// ============================================================================
// Unit Tests (no FUSE mount required)
// ============================================================================

func TestNewMountFS_Validation(t *testing.T) {
	f := newFixture(t)

	if _, err := NewMountFS(nil, &MountConfig{MountPoint: "/mnt"}); !errors.Is(err, ErrNoView) {
		t.Errorf("nil view: expected ErrNoView, got %v", err)
	}
	if _, err := NewMountFS(f.as(t, "user"), &MountConfig{}); !errors.Is(err, ErrInvalidMountPoint) {
		t.Errorf("empty mount point: expected ErrInvalidMountPoint, got %v", err)
	}
	m, err := NewMountFS(f.as(t, "user"), &MountConfig{MountPoint: "/mnt"})
	if err != nil {
		t.Fatalf("valid config: %v", err)
	}
	if m.IsMounted() {
		t.Error("new MountFS should not be mounted")
	}
}

func TestToErrno(t *testing.T) {
	tests := []struct {
		err      error
		expected syscall.Errno
	}{
		{nil, 0},
		{&types.PathError{Op: "stat", Path: "/x", Err: types.ErrNotFound}, syscall.ENOENT},
		{&types.PermissionError{Path: "/x"}, syscall.EACCES},
		{types.ErrNameCollision, syscall.EEXIST},
		{types.ErrNotDirectory, syscall.ENOTDIR},
		{types.ErrIsDirectory, syscall.EISDIR},
		{types.ErrNotEmpty, syscall.ENOTEMPTY},
		{types.ErrInvalidMode, syscall.EINVAL},
		{errors.New("boom"), syscall.EIO},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			if got := toErrno(tt.err); got != tt.expected {
				t.Errorf("toErrno(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestFillAttr(t *testing.T) {
	f := newFixture(t)
	m, _ := NewMountFS(f.as(t, "root"), &MountConfig{MountPoint: "/mnt"})

	var a fuse.Attr
	tmp, _ := f.as(t, "root").GetNodeAtPath("/tmp")
	m.fillAttr(tmp, &a)
	if a.Mode != fuse.S_IFDIR|0o777|syscall.S_ISVTX {
		t.Errorf("tmp mode = %o", a.Mode)
	}

	notes, err := f.as(t, "user").CreateFile("~", "n.txt", "hello")
	if err != nil {
		t.Fatal(err)
	}
	m.fillAttr(notes, &a)
	if a.Mode != fuse.S_IFREG|0o644 || a.Size != 5 || a.Uid != 1000 || a.Gid != 100 {
		t.Errorf("file attr = mode %o size %d uid %d gid %d", a.Mode, a.Size, a.Uid, a.Gid)
	}
}

func TestVnode_DirectOperations(t *testing.T) {
	f := newFixture(t)
	user := f.as(t, "user")
	m, _ := NewMountFS(user, &MountConfig{MountPoint: "/mnt"})
	ctx := context.Background()

	if _, err := user.CreateFile("~", "a.txt", "abc"); err != nil {
		t.Fatal(err)
	}
	home := &vnode{mfs: m, path: "/home/user"}

	stream, errno := home.Readdir(ctx)
	if errno != 0 {
		t.Fatalf("Readdir: %v", errno)
	}
	names := map[string]bool{}
	for stream.HasNext() {
		e, _ := stream.Next()
		names[e.Name] = true
	}
	if !names["a.txt"] || !names["Desktop"] {
		t.Errorf("Readdir missing entries: %v", names)
	}

	var out fuse.AttrOut
	file := &vnode{mfs: m, path: "/home/user/a.txt"}
	if errno := file.Getattr(ctx, nil, &out); errno != 0 || out.Size != 3 {
		t.Errorf("Getattr = %v size %d", errno, out.Size)
	}

	if errno := home.Rename(ctx, "a.txt", home, "b.txt", 0); errno != 0 {
		t.Fatalf("Rename: %v", errno)
	}
	if errno := home.Unlink(ctx, "a.txt"); errno != syscall.ENOENT {
		t.Errorf("Unlink of renamed file = %v, want ENOENT", errno)
	}
	if errno := home.Rmdir(ctx, "b.txt"); errno != syscall.ENOTDIR {
		t.Errorf("Rmdir on file = %v, want ENOTDIR", errno)
	}
	if errno := home.Unlink(ctx, "Desktop"); errno != syscall.EISDIR {
		t.Errorf("Unlink on dir = %v, want EISDIR", errno)
	}
	if errno := home.Unlink(ctx, "b.txt"); errno != 0 {
		t.Errorf("Unlink: %v", errno)
	}

	etc := &vnode{mfs: m, path: "/etc"}
	if errno := etc.Unlink(ctx, "passwd"); errno != syscall.EACCES {
		t.Errorf("Unlink /etc/passwd = %v, want EACCES", errno)
	}
	root := &vnode{mfs: m, path: "/root"}
	if _, errno := root.Readdir(ctx); errno != syscall.EACCES {
		t.Errorf("Readdir /root = %v, want EACCES", errno)
	}
}

func TestMountFS_NotifiesFailedOperations(t *testing.T) {
	f := newFixture(t)
	m, err := NewMountFS(f.as(t, "user"), &MountConfig{MountPoint: "/mnt"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	home := &vnode{mfs: m, path: "/home/user"}
	var out fuse.EntryOut
	if _, errno := home.Lookup(ctx, ".hidden", &out); errno != syscall.ENOENT {
		t.Fatalf("Lookup = %v, want ENOENT", errno)
	}
	if n := f.events.count(); n != 0 {
		t.Errorf("kernel lookups should stay quiet, got %d events", n)
	}

	etc := &vnode{mfs: m, path: "/etc"}
	if errno := etc.Unlink(ctx, "passwd"); errno != syscall.EACCES {
		t.Fatalf("Unlink = %v, want EACCES", errno)
	}
	if n := f.events.count(); n != 1 {
		t.Errorf("denied unlink should notify once, got %d events", n)
	}
}

func TestFileHandle_BufferedWrite(t *testing.T) {
	f := newFixture(t)
	user := f.as(t, "user")
	m, _ := NewMountFS(user, &MountConfig{MountPoint: "/mnt"})
	ctx := context.Background()

	if _, err := user.CreateFile("~", "log.txt", "hello world"); err != nil {
		t.Fatal(err)
	}
	file := &vnode{mfs: m, path: "/home/user/log.txt"}

	fh, _, errno := file.Open(ctx, syscall.O_RDWR)
	if errno != 0 {
		t.Fatalf("Open: %v", errno)
	}
	h := fh.(*fileHandle)

	if _, errno := h.Write(ctx, []byte("HELLO"), 0); errno != 0 {
		t.Fatalf("Write: %v", errno)
	}
	buf := make([]byte, 64)
	res, _ := h.Read(ctx, buf, 0)
	data, _ := res.Bytes(buf)
	if string(data) != "HELLO world" {
		t.Errorf("Read after write = %q", data)
	}

	// Nothing reaches the tree before flush.
	if content, _ := user.ReadFile("~/log.txt"); content != "hello world" {
		t.Errorf("content before flush = %q", content)
	}
	if errno := h.Flush(ctx); errno != 0 {
		t.Fatalf("Flush: %v", errno)
	}
	if content, _ := user.ReadFile("~/log.txt"); content != "HELLO world" {
		t.Errorf("content after flush = %q", content)
	}

	ro, _, _ := file.Open(ctx, syscall.O_RDONLY)
	if _, errno := ro.(*fileHandle).Write(ctx, []byte("x"), 0); errno != syscall.EBADF {
		t.Errorf("write on read-only handle = %v, want EBADF", errno)
	}

	motd := &vnode{mfs: m, path: "/etc/motd"}
	if _, _, errno := motd.Open(ctx, syscall.O_WRONLY); errno != syscall.EACCES {
		t.Errorf("open /etc/motd for write = %v, want EACCES", errno)
	}
}

func TestVnode_SetattrTruncateAndChmod(t *testing.T) {
	f := newFixture(t)
	user := f.as(t, "user")
	m, _ := NewMountFS(user, &MountConfig{MountPoint: "/mnt"})
	ctx := context.Background()

	if _, err := user.CreateFile("~", "s.sh", "echo hi"); err != nil {
		t.Fatal(err)
	}
	file := &vnode{mfs: m, path: "/home/user/s.sh"}

	in := &fuse.SetAttrIn{}
	in.Valid = fuse.FATTR_SIZE | fuse.FATTR_MODE
	in.Size = 4
	in.Mode = 0o755
	var out fuse.AttrOut
	if errno := file.Setattr(ctx, nil, in, &out); errno != 0 {
		t.Fatalf("Setattr: %v", errno)
	}

	node, _ := user.GetNodeAtPath("~/s.sh")
	if node.Content != "echo" || node.Permissions != "-rwxr-xr-x" {
		t.Errorf("after setattr: %q %s", node.Content, node.Permissions)
	}
}

// ============================================================================
// Integration Tests (FUSE mount required)
// ============================================================================

func TestMountFS_Integration(t *testing.T) {
	checkFUSEAvailable(t)

	f := newFixture(t)
	mountPoint := t.TempDir()
	m, err := NewMountFS(f.as(t, "user"), &MountConfig{MountPoint: mountPoint})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Mount(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !m.IsMounted() {
		select {
		case err := <-done:
			t.Skipf("skipping test: mount failed: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			cancel()
			t.Skip("skipping test: mount did not come up")
		}
		time.Sleep(20 * time.Millisecond)
	}
	defer func() {
		cancel()
		<-done
	}()

	desktop := filepath.Join(mountPoint, "home", "user", "Desktop")
	if err := os.WriteFile(filepath.Join(desktop, "hello.txt"), []byte("from host"), 0o644); err != nil {
		t.Fatalf("write through mount: %v", err)
	}
	content, err := f.as(t, "user").ReadFile("/home/user/Desktop/hello.txt")
	if err != nil || content != "from host" {
		t.Errorf("tree content = %q, %v", content, err)
	}

	if err := os.Mkdir(filepath.Join(desktop, "sub"), 0o755); err != nil {
		t.Errorf("mkdir through mount: %v", err)
	}
	if err := os.WriteFile(filepath.Join(mountPoint, "etc", "motd"), []byte("x"), 0o644); err == nil {
		t.Error("writing /etc/motd as user should fail")
	}
	if _, err := os.ReadDir(filepath.Join(mountPoint, "root")); err == nil {
		t.Error("listing /root as user should fail")
	}
}
