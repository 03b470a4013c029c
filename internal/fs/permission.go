// Package fs implements the virtual filesystem: the node tree, the POSIX
// style permission evaluator, path resolution and the mutation service.
package fs

import (
	"github.com/ajaxzhan/simfs/pkg/types"
)

// Triplet offsets into a permission string.
const (
	ownerSlot = 1
	groupSlot = 4
	otherSlot = 7
)

// Allowed reports whether who may perform op on node.
//
// Root always passes. Otherwise exactly one triplet is consulted: owner if
// who owns the node, group if the node's group is who's primary or a
// supplementary group, other in every remaining case. A sticky marker in the
// final slot grants other-execute only in its lowercase form.
func Allowed(node *types.FileNode, who types.Identity, op types.Operation) bool {
	if who.IsRoot() {
		return true
	}
	if node == nil {
		return false
	}

	perms := node.Permissions
	if len(perms) != 10 {
		return false
	}

	slot := otherSlot
	switch {
	case node.Owner != "" && node.Owner == who.Username:
		slot = ownerSlot
	case who.InGroup(node.Group):
		slot = groupSlot
	}

	switch op {
	case types.OpRead:
		return perms[slot] == 'r'
	case types.OpWrite:
		return perms[slot+1] == 'w'
	case types.OpExecute:
		c := perms[slot+2]
		if slot == otherSlot && (c == 't' || c == 'T') {
			return c == 't'
		}
		return c == 'x'
	default:
		return false
	}
}

// Check is Allowed with a typed error carrying the path and identity.
func Check(path string, node *types.FileNode, who types.Identity, op types.Operation) error {
	if Allowed(node, who, op) {
		return nil
	}
	return &types.PermissionError{
		Path:      path,
		Operation: op,
		User:      who.Username,
	}
}

// CheckRead checks if the node at path can be read.
func CheckRead(path string, node *types.FileNode, who types.Identity) error {
	return Check(path, node, who, types.OpRead)
}

// CheckWrite checks if the node at path can be written.
func CheckWrite(path string, node *types.FileNode, who types.Identity) error {
	return Check(path, node, who, types.OpWrite)
}

// CheckExecute checks if the node at path can be executed or traversed.
func CheckExecute(path string, node *types.FileNode, who types.Identity) error {
	return Check(path, node, who, types.OpExecute)
}

// IsSticky reports whether a directory's mode carries the sticky marker.
func IsSticky(node *types.FileNode) bool {
	if node == nil || len(node.Permissions) != 10 {
		return false
	}
	c := node.Permissions[9]
	return c == 't' || c == 'T'
}

// CanRemoveFrom applies the sticky rule: inside a sticky directory only the
// entry's owner, the directory's owner or root may unlink the entry.
func CanRemoveFrom(parent, target *types.FileNode, who types.Identity) bool {
	if !IsSticky(parent) || who.IsRoot() {
		return true
	}
	return target.Owner == who.Username || parent.Owner == who.Username
}
