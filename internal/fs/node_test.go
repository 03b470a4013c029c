package fs

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ajaxzhan/simfs/pkg/types"
)

func sampleTree() *types.FileNode {
	return &types.FileNode{
		ID: "root", Name: "", Kind: types.KindDirectory, Permissions: DefaultDirMode, Owner: "root", Group: "root",
		Children: []*types.FileNode{
			{
				ID: "home", Name: "home", Kind: types.KindDirectory, Permissions: DefaultDirMode, Owner: "root", Group: "root",
				Children: []*types.FileNode{
					{
						ID: "user", Name: "user", Kind: types.KindDirectory, Permissions: DefaultDirMode, Owner: "user", Group: "users",
						Children: []*types.FileNode{
							{ID: "notes", Name: "notes.txt", Kind: types.KindFile, Content: "hi", Permissions: DefaultFileMode, Owner: "user", Group: "users"},
						},
					},
				},
			},
			{ID: "tmp", Name: "tmp", Kind: types.KindDirectory, Permissions: StickyDirMode, Owner: "root", Group: "root", Children: []*types.FileNode{}},
		},
	}
}

func TestDeepClone(t *testing.T) {
	orig := sampleTree()
	clone := DeepClone(orig)

	if diff := cmp.Diff(orig, clone); diff != "" {
		t.Fatalf("clone differs (-orig +clone):\n%s", diff)
	}

	clone.Children[0].Children[0].Children[0].Content = "changed"
	clone.Children[1].Children = append(clone.Children[1].Children, &types.FileNode{ID: "x", Name: "x"})

	if orig.Children[0].Children[0].Children[0].Content != "hi" {
		t.Error("mutating the clone changed the original content")
	}
	if len(orig.Children[1].Children) != 0 {
		t.Error("mutating the clone changed the original children")
	}
	if DeepClone(nil) != nil {
		t.Error("DeepClone(nil) should be nil")
	}
}

func TestEnsureIDs(t *testing.T) {
	tree := sampleTree()
	tree.Children[0].ID = ""
	tree.Children[0].Children[0].Children[0].ID = ""

	gen := &SequenceGenerator{Prefix: "fix"}
	if n := EnsureIDs(tree, gen); n != 2 {
		t.Fatalf("EnsureIDs assigned %d, want 2", n)
	}
	if tree.Children[0].ID != "fix-1" || tree.Children[0].Children[0].Children[0].ID != "fix-2" {
		t.Errorf("unexpected ids: %q %q", tree.Children[0].ID, tree.Children[0].Children[0].Children[0].ID)
	}
	if tree.ID != "root" {
		t.Error("existing ids must be kept")
	}
}

func TestIsDescendant(t *testing.T) {
	tree := sampleTree()
	home := tree.Children[0]

	tests := []struct {
		id       string
		expected bool
	}{
		{"home", true},
		{"user", true},
		{"notes", true},
		{"tmp", false},
		{"root", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := IsDescendant(home, tt.id); got != tt.expected {
				t.Errorf("IsDescendant(home, %q) = %v, want %v", tt.id, got, tt.expected)
			}
		})
	}
}

func TestFindNodeAndParent(t *testing.T) {
	tree := sampleTree()

	node, parent, ok := FindNodeAndParent(tree, "notes")
	if !ok || node.Name != "notes.txt" || parent.ID != "user" {
		t.Fatalf("FindNodeAndParent(notes) = %v, %v, %v", node, parent, ok)
	}

	node, parent, ok = FindNodeAndParent(tree, "root")
	if !ok || node != tree || parent != nil {
		t.Error("root should be found with a nil parent")
	}

	if _, _, ok := FindNodeAndParent(tree, "missing"); ok {
		t.Error("missing id should report not found")
	}
}

func TestPathOf(t *testing.T) {
	tree := sampleTree()
	if got := PathOf(tree, "notes"); got != "/home/user/notes.txt" {
		t.Errorf("PathOf(notes) = %q", got)
	}
	if got := PathOf(tree, "root"); got != "/" {
		t.Errorf("PathOf(root) = %q", got)
	}
	if got := PathOf(tree, "nope"); got != "" {
		t.Errorf("PathOf(nope) = %q", got)
	}
}

func TestReassign(t *testing.T) {
	tree := sampleTree()
	home := DeepClone(tree.Children[0])
	Reassign(home, &SequenceGenerator{Prefix: "c"}, "guest", "users")

	seen := map[string]bool{}
	Walk(home, "/home", func(_ string, n *types.FileNode) {
		if n.Owner != "guest" || n.Group != "users" {
			t.Errorf("%s not reassigned: %s:%s", n.Name, n.Owner, n.Group)
		}
		if seen[n.ID] {
			t.Errorf("duplicate id %s", n.ID)
		}
		seen[n.ID] = true
	})
	if IsDescendant(home, "notes") {
		t.Error("old ids must not survive reassignment")
	}
}
