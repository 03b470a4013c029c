package fs

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ajaxzhan/simfs/pkg/types"
)

// MoveNode moves or renames the node at from so that it lives at to.
// Write is needed on both parents, the destination name must be free and
// a directory can never be moved into itself or its own descendants. The
// detach and attach happen on one cloned tree, so the move is atomic.
func (v *View) MoveNode(from, to string) error {
	from, to = v.abs(from), v.abs(to)
	if from == to {
		return nil
	}
	if from == "/" {
		return v.fail("mv", from, types.ErrInvalidOperation)
	}
	destDir, name := Split(to)
	if !ValidName(name) {
		return v.fail("mv", to, types.ErrInvalidOperation)
	}

	err := v.svc.mutate(func(root *types.FileNode) error {
		node, srcParent, err := walk(root, from, v.who)
		if err != nil {
			return err
		}
		dst, err := walkDir(root, destDir, v.who)
		if err != nil {
			return &types.PathError{Op: "mv", Path: destDir, Err: err}
		}
		return v.svc.relocate(node, srcParent, dst, name, v.who, v.who)
	})
	if err != nil {
		return v.fail("mv", from, err)
	}
	v.svc.logger.Debug("moved", zap.String("from", from), zap.String("to", to), zap.String("user", v.who.Username))
	return nil
}

// relocate detaches node from srcParent and attaches it to dst as name.
// src authorizes the detach and dst the attach.
func (s *Service) relocate(node, srcParent, dst *types.FileNode, name string, src, dstWho types.Identity) error {
	if IsDescendant(node, dst.ID) {
		return types.ErrInvalidOperation
	}
	if !Allowed(srcParent, src, types.OpWrite) || !CanRemoveFrom(srcParent, node, src) {
		return types.ErrPermissionDenied
	}
	if !Allowed(dst, dstWho, types.OpWrite) {
		return types.ErrPermissionDenied
	}
	if existing := dst.Child(name); existing != nil {
		if existing.ID == node.ID {
			return nil
		}
		return types.ErrNameCollision
	}

	now := s.clock.Now()
	removeChild(srcParent, node.ID)
	node.Name = name
	dst.Children = append(dst.Children, node)
	touch(srcParent, now)
	touch(dst, now)
	return nil
}

// MoveNodeByID moves the node with id into the directory at destParent.
// src authorizes removal from the current location and dst the insertion,
// for drags between windows acting as different identities.
func (s *Service) MoveNodeByID(id, destParent string, src, dst types.Identity) error {
	destParent = Resolve(destParent, dst, "/")
	var from string
	err := s.mutate(func(root *types.FileNode) error {
		node, parent, ok := FindNodeAndParent(root, id)
		if !ok {
			return types.ErrNotFound
		}
		if parent == nil {
			return types.ErrInvalidOperation
		}
		from = PathOf(root, id)
		if _, _, err := walk(root, from, src); err != nil {
			return err
		}
		target, err := walkDir(root, destParent, dst)
		if err != nil {
			return err
		}
		if target.ID == parent.ID {
			return nil
		}
		return s.relocate(node, parent, target, node.Name, src, dst)
	})
	if err != nil {
		return s.report(src, "mv", destParent, err, false)
	}
	s.logger.Debug("moved by id", zap.String("from", from), zap.String("to", destParent))
	return nil
}

// CopyNodeByID copies the node with id into the directory at destParent.
// The copy gets fresh ids throughout and belongs to dst. A taken name is
// not an error: the copy is renamed "name copy", "name copy 1", and so on.
func (s *Service) CopyNodeByID(id, destParent string, src, dst types.Identity) (*types.FileNode, error) {
	destParent = Resolve(destParent, dst, "/")
	var copied *types.FileNode
	err := s.mutate(func(root *types.FileNode) error {
		node, _, ok := FindNodeAndParent(root, id)
		if !ok {
			return types.ErrNotFound
		}
		if _, _, err := walk(root, PathOf(root, id), src); err != nil {
			return err
		}
		if !copyable(node, src) {
			return types.ErrPermissionDenied
		}
		target, err := walkDir(root, destParent, dst)
		if err != nil {
			return err
		}
		if IsDescendant(node, target.ID) {
			return types.ErrInvalidOperation
		}
		if !Allowed(target, dst, types.OpWrite) {
			return types.ErrPermissionDenied
		}

		c := DeepClone(node)
		Reassign(c, s.ids, dst.Username, dst.PrimaryGroup)
		c.Name = copyName(target, node.Name, node.IsDir())
		now := s.clock.Now()
		Walk(c, "", func(_ string, n *types.FileNode) { n.Modified = now })
		target.Children = append(target.Children, c)
		touch(target, now)
		copied = DeepClone(c)
		return nil
	})
	if err != nil {
		return nil, s.report(dst, "cp", destParent, err, false)
	}
	return copied, nil
}

// CopyNode copies the node at from to the full path to, which must be free.
// Used by cp; unlike CopyNodeByID a taken name is an error.
func (v *View) CopyNode(from, to string) (*types.FileNode, error) {
	from, to = v.abs(from), v.abs(to)
	destDir, name := Split(to)
	if !ValidName(name) {
		return nil, v.fail("cp", to, types.ErrInvalidOperation)
	}

	var copied *types.FileNode
	err := v.svc.mutate(func(root *types.FileNode) error {
		node, _, err := walk(root, from, v.who)
		if err != nil {
			return err
		}
		if !copyable(node, v.who) {
			return types.ErrPermissionDenied
		}
		target, err := walkDir(root, destDir, v.who)
		if err != nil {
			return &types.PathError{Op: "cp", Path: destDir, Err: err}
		}
		if IsDescendant(node, target.ID) {
			return types.ErrInvalidOperation
		}
		if !Allowed(target, v.who, types.OpWrite) {
			return types.ErrPermissionDenied
		}
		if target.Child(name) != nil {
			return types.ErrNameCollision
		}

		c := DeepClone(node)
		Reassign(c, v.svc.ids, v.who.Username, v.who.PrimaryGroup)
		c.Name = name
		now := v.svc.clock.Now()
		Walk(c, "", func(_ string, n *types.FileNode) { n.Modified = now })
		target.Children = append(target.Children, c)
		touch(target, now)
		copied = DeepClone(c)
		return nil
	})
	if err != nil {
		return nil, v.fail("cp", from, err)
	}
	return copied, nil
}

// copyable reports whether who may read everything a copy of node would
// duplicate: read on every file, read and execute on every directory.
func copyable(node *types.FileNode, who types.Identity) bool {
	if !Allowed(node, who, types.OpRead) {
		return false
	}
	if !node.IsDir() {
		return true
	}
	if !Allowed(node, who, types.OpExecute) {
		return false
	}
	for _, c := range node.Children {
		if !copyable(c, who) {
			return false
		}
	}
	return true
}

// copyName picks the first free name among "name copy", "name copy 1", ...
// For files the suffix goes before the extension.
func copyName(dir *types.FileNode, name string, isDir bool) string {
	if dir.Child(name) == nil {
		return name
	}
	base, ext := name, ""
	if !isDir {
		base, ext = splitExt(name)
	}
	candidate := base + " copy" + ext
	for i := 1; dir.Child(candidate) != nil; i++ {
		candidate = base + " copy " + strconv.Itoa(i) + ext
	}
	return candidate
}

// splitExt splits "report.final.txt" into "report.final" and ".txt".
// Dotfiles such as ".bashrc" have no extension.
func splitExt(name string) (base, ext string) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return name, ""
	}
	return name[:i], name[i:]
}
