package fs

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ajaxzhan/simfs/pkg/types"
)

// Clock abstracts time retrieval so modification stamps are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts node id generation.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// SequenceGenerator returns prefix-1, prefix-2, ... and is safe for
// concurrent use. Tests use it for readable ids.
type SequenceGenerator struct {
	Prefix string
	n      atomic.Int64
}

func (g *SequenceGenerator) New() string {
	prefix := g.Prefix
	if prefix == "" {
		prefix = "node"
	}
	return prefix + "-" + strconv.FormatInt(g.n.Add(1), 10)
}

// DeepClone returns a content-equal copy of the subtree rooted at n.
// Ids are preserved.
func DeepClone(n *types.FileNode) *types.FileNode {
	if n == nil {
		return nil
	}
	c := *n
	if n.Children != nil {
		c.Children = make([]*types.FileNode, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = DeepClone(child)
		}
	}
	return &c
}

// EnsureIDs assigns an id to every node in the subtree that lacks one and
// returns how many were assigned.
func EnsureIDs(n *types.FileNode, gen IDGenerator) int {
	if n == nil {
		return 0
	}
	assigned := 0
	if n.ID == "" {
		n.ID = gen.New()
		assigned++
	}
	for _, c := range n.Children {
		assigned += EnsureIDs(c, gen)
	}
	return assigned
}

// Reassign gives every node in the subtree a fresh id and hands ownership
// to owner/group. Used when a subtree is copied.
func Reassign(n *types.FileNode, gen IDGenerator, owner, group string) {
	if n == nil {
		return
	}
	n.ID = gen.New()
	n.Owner = owner
	n.Group = group
	for _, c := range n.Children {
		Reassign(c, gen, owner, group)
	}
}

// IsDescendant reports whether the node with id is subtree itself or lies
// anywhere beneath it.
func IsDescendant(subtree *types.FileNode, id string) bool {
	if subtree == nil || id == "" {
		return false
	}
	if subtree.ID == id {
		return true
	}
	for _, c := range subtree.Children {
		if IsDescendant(c, id) {
			return true
		}
	}
	return false
}

// FindNodeAndParent locates the node with id under root. The parent of root
// itself is nil. ok is false when no node carries id.
func FindNodeAndParent(root *types.FileNode, id string) (node, parent *types.FileNode, ok bool) {
	if root == nil {
		return nil, nil, false
	}
	if root.ID == id {
		return root, nil, true
	}
	return findIn(root, id)
}

func findIn(dir *types.FileNode, id string) (node, parent *types.FileNode, ok bool) {
	for _, c := range dir.Children {
		if c.ID == id {
			return c, dir, true
		}
		if n, p, found := findIn(c, id); found {
			return n, p, true
		}
	}
	return nil, nil, false
}

// PathOf returns the absolute path of the node with id, or "" if absent.
func PathOf(root *types.FileNode, id string) string {
	if root == nil {
		return ""
	}
	if root.ID == id {
		return "/"
	}
	var walk func(dir *types.FileNode, prefix string) string
	walk = func(dir *types.FileNode, prefix string) string {
		for _, c := range dir.Children {
			p := prefix + "/" + c.Name
			if c.ID == id {
				return p
			}
			if found := walk(c, p); found != "" {
				return found
			}
		}
		return ""
	}
	return walk(root, "")
}

// Walk visits every node of the subtree in depth-first order with its path.
func Walk(n *types.FileNode, path string, fn func(path string, node *types.FileNode)) {
	if n == nil {
		return
	}
	fn(path, n)
	for _, c := range n.Children {
		Walk(c, Join(path, c.Name), fn)
	}
}

// removeChild detaches the child with id from dir and reports whether it was present.
func removeChild(dir *types.FileNode, id string) bool {
	for i, c := range dir.Children {
		if c.ID == id {
			dir.Children = append(dir.Children[:i], dir.Children[i+1:]...)
			return true
		}
	}
	return false
}

// touch refreshes the derived metadata of n.
func touch(n *types.FileNode, now time.Time) {
	n.Modified = now
	if n.IsDir() {
		n.Size = int64(len(n.Children))
	} else {
		n.Size = int64(len(n.Content))
	}
}
