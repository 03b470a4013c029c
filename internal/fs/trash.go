package fs

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/ajaxzhan/simfs/pkg/types"
)

// TrashDir is the trash folder name inside a home directory.
const TrashDir = ".Trash"

// TrashPath returns the trash directory of who.
func TrashPath(who types.Identity) string {
	return Join(who.HomeDir, TrashDir)
}

// MoveToTrash moves the node at p into the acting identity's trash and
// returns its new path. A node already inside the trash is deleted for
// good and the returned path is empty. Name clashes in the trash are
// resolved as "file 1.txt", "file 2.txt", ...
func (v *View) MoveToTrash(p string) (string, error) {
	p = v.abs(p)
	trash := TrashPath(v.who)
	if IsWithin(p, trash) && p != trash {
		return "", v.DeleteNode(p)
	}
	if p == "/" || IsWithin(trash, p) {
		return "", v.fail("trash", p, types.ErrInvalidOperation)
	}

	var dest string
	err := v.svc.mutate(func(root *types.FileNode) error {
		node, parent, err := walk(root, p, v.who)
		if err != nil {
			return err
		}
		bin, err := v.svc.ensureTrash(root, v.who)
		if err != nil {
			return err
		}
		name := trashName(bin, node.Name, node.IsDir())
		if err := v.svc.relocate(node, parent, bin, name, v.who, v.who); err != nil {
			return err
		}
		dest = Join(trash, name)
		return nil
	})
	if err != nil {
		return "", v.fail("trash", p, err)
	}
	v.svc.logger.Debug("trashed", zap.String("path", p), zap.String("dest", dest), zap.String("user", v.who.Username))
	return dest, nil
}

// ensureTrash returns who's trash directory in root, creating it when the
// home directory exists but the trash does not.
func (s *Service) ensureTrash(root *types.FileNode, who types.Identity) (*types.FileNode, error) {
	home, err := walkDir(root, who.HomeDir, who)
	if err != nil {
		return nil, err
	}
	if bin := home.Child(TrashDir); bin != nil {
		if !bin.IsDir() {
			return nil, types.ErrNotDirectory
		}
		return bin, nil
	}
	bin := s.newNode(TrashDir, types.KindDirectory, who)
	bin.Permissions = PrivateDirMode
	home.Children = append(home.Children, bin)
	touch(home, bin.Modified)
	return bin, nil
}

func trashName(bin *types.FileNode, name string, isDir bool) string {
	if bin.Child(name) == nil {
		return name
	}
	base, ext := name, ""
	if !isDir {
		base, ext = splitExt(name)
	}
	for i := 1; ; i++ {
		candidate := base + " " + strconv.Itoa(i) + ext
		if bin.Child(candidate) == nil {
			return candidate
		}
	}
}

// EmptyTrash permanently deletes everything in the acting identity's trash.
func (v *View) EmptyTrash() (int, error) {
	trash := TrashPath(v.who)
	removed := 0
	err := v.svc.mutate(func(root *types.FileNode) error {
		bin, err := walkDir(root, trash, v.who)
		if err != nil {
			return err
		}
		if !Allowed(bin, v.who, types.OpWrite) {
			return types.ErrPermissionDenied
		}
		removed = len(bin.Children)
		bin.Children = []*types.FileNode{}
		touch(bin, v.svc.clock.Now())
		return nil
	})
	if err != nil {
		return 0, v.fail("trash", trash, err)
	}
	return removed, nil
}
