package fs

import (
	"fmt"
	"path"
	"time"

	"github.com/ajaxzhan/simfs/internal/identity"
	"github.com/ajaxzhan/simfs/pkg/types"
)

// ScriptMarker starts every launchable file; the application id follows it.
const ScriptMarker = "#!"

// HomeFolders are created in every new home directory.
var HomeFolders = []string{"Desktop", "Documents", "Downloads", "Pictures", "Music", "Videos"}

// HiddenHomeFolders are created private in every new home directory.
var HiddenHomeFolders = []string{".Config", TrashDir}

// Applications shipped in /bin as launchable marker files.
var Applications = []string{"terminal", "files", "editor", "browser", "settings"}

type builder struct {
	gen IDGenerator
	now time.Time
}

func (b builder) dir(name, perms, owner, group string, children ...*types.FileNode) *types.FileNode {
	if children == nil {
		children = []*types.FileNode{}
	}
	n := &types.FileNode{
		ID: b.gen.New(), Name: name, Kind: types.KindDirectory,
		Permissions: perms, Owner: owner, Group: group, Children: children,
	}
	touch(n, b.now)
	return n
}

func (b builder) file(name, perms, owner, group, content string) *types.FileNode {
	n := &types.FileNode{
		ID: b.gen.New(), Name: name, Kind: types.KindFile,
		Permissions: perms, Owner: owner, Group: group, Content: content,
	}
	touch(n, b.now)
	return n
}

// DefaultTree builds the stock disk image for the given identity tables.
// Every user whose home lives under /home, plus root, gets a provisioned
// home directory.
func DefaultTree(version int, users []types.User, groups []types.Group, gen IDGenerator, now time.Time) *types.FileNode {
	b := builder{gen: gen, now: now}

	bin := b.dir("bin", DefaultDirMode, "root", "root")
	for _, app := range Applications {
		bin.Children = append(bin.Children, b.file(app, ExecutableFileMode, "root", "root", ScriptMarker+app+"\n"))
	}
	usrBin := b.dir("bin", DefaultDirMode, "root", "root",
		b.file("calculator", ExecutableFileMode, "root", "root", ScriptMarker+"calculator\n"),
		b.file("notes", ExecutableFileMode, "root", "root", ScriptMarker+"notes\n"),
	)

	etc := b.dir("etc", DefaultDirMode, "root", "root",
		b.file("passwd", DefaultFileMode, "root", "root", identity.FormatPasswd(users)),
		b.file("group", DefaultFileMode, "root", "root", identity.FormatGroup(groups)),
		b.file("hostname", DefaultFileMode, "root", "root", "simfs\n"),
		b.file("os-release", DefaultFileMode, "root", "root", OSRelease(version)),
		b.file("motd", DefaultFileMode, "root", "root", "Welcome to simfs. Type 'help' to list commands.\n"),
	)

	home := b.dir("home", DefaultDirMode, "root", "root")
	root := b.dir("", DefaultDirMode, "root", "root",
		bin,
		etc,
		home,
		b.dir("tmp", StickyDirMode, "root", "root"),
		b.dir("usr", DefaultDirMode, "root", "root", usrBin),
		b.dir("var", DefaultDirMode, "root", "root",
			b.dir("log", DefaultDirMode, "root", "root"),
		),
	)

	primary := map[int]string{}
	for _, g := range groups {
		if _, ok := primary[g.GID]; !ok {
			primary[g.GID] = g.GroupName
		}
	}
	for _, u := range users {
		parentPath, name := Split(u.HomeDir)
		parent := root
		if parentPath != "/" {
			var err error
			if parent, err = walkDir(root, parentPath, System); err != nil {
				continue
			}
		}
		if name == "" || parent.Child(name) != nil {
			continue
		}
		parent.Children = append(parent.Children, ProvisionHome(u, primary[u.GID], gen, now))
	}
	return root
}

// ProvisionHome builds a home directory subtree for u.
func ProvisionHome(u types.User, group string, gen IDGenerator, now time.Time) *types.FileNode {
	b := builder{gen: gen, now: now}
	mode := "drwxr-x---"
	if u.UID == 0 {
		mode = PrivateDirMode
	}
	home := b.dir(path.Base(u.HomeDir), mode, u.Username, group)
	for _, name := range HomeFolders {
		home.Children = append(home.Children, b.dir(name, DefaultDirMode, u.Username, group))
	}
	for _, name := range HiddenHomeFolders {
		home.Children = append(home.Children, b.dir(name, PrivateDirMode, u.Username, group))
	}
	touch(home, now)
	return home
}

// OSRelease renders /etc/os-release for a template version.
func OSRelease(version int) string {
	return fmt.Sprintf("NAME=simfs\nID=simfs\nVERSION_ID=%d\nPRETTY_NAME=\"simfs %d\"\n", version, version)
}
