// Package types defines the core domain types for the simulated filesystem.
package types

import (
	"time"
)

// NodeKind distinguishes files from directories.
type NodeKind string

const (
	KindFile      NodeKind = "file"
	KindDirectory NodeKind = "directory"
)

// Operation is an access mode checked by the permission evaluator.
type Operation string

const (
	OpRead    Operation = "read"
	OpWrite   Operation = "write"
	OpExecute Operation = "execute"
)

// FileNode is a file or directory in the virtual tree.
// A node belongs to exactly one parent's Children at any time.
type FileNode struct {
	ID          string      `json:"id" cbor:"id"`
	Name        string      `json:"name" cbor:"name"`
	Kind        NodeKind    `json:"kind" cbor:"kind"`
	Content     string      `json:"content,omitempty" cbor:"content,omitempty"`
	Children    []*FileNode `json:"children,omitempty" cbor:"children,omitempty"`
	Permissions string      `json:"permissions" cbor:"permissions"` // e.g. "drwxr-xr-x"
	Owner       string      `json:"owner,omitempty" cbor:"owner,omitempty"`
	Group       string      `json:"group,omitempty" cbor:"group,omitempty"`
	Size        int64       `json:"size" cbor:"size"`
	Modified    time.Time   `json:"modified" cbor:"modified"`
}

// IsDir reports whether the node is a directory.
func (n *FileNode) IsDir() bool {
	return n != nil && n.Kind == KindDirectory
}

// Child returns the direct child with the given name, or nil.
func (n *FileNode) Child(name string) *FileNode {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// User is an account in the identity registry.
type User struct {
	Username string   `json:"username" cbor:"username" yaml:"username"`
	Password string   `json:"password" cbor:"password" yaml:"password"`
	UID      int      `json:"uid" cbor:"uid" yaml:"uid"`
	GID      int      `json:"gid" cbor:"gid" yaml:"gid"`
	FullName string   `json:"full_name" cbor:"full_name" yaml:"full_name"`
	HomeDir  string   `json:"home_dir" cbor:"home_dir" yaml:"home_dir"`
	Shell    string   `json:"shell" cbor:"shell" yaml:"shell"`
	Groups   []string `json:"groups,omitempty" cbor:"groups,omitempty" yaml:"groups,omitempty"`
}

// Group is a group in the identity registry.
type Group struct {
	GroupName string   `json:"group_name" cbor:"group_name"`
	GID       int      `json:"gid" cbor:"gid"`
	Members   []string `json:"members,omitempty" cbor:"members,omitempty"`
	Password  string   `json:"password,omitempty" cbor:"password,omitempty"`
}

// Identity is the resolved acting identity a permission check is made for.
// PrimaryGroup is the name of the group whose gid equals GID.
type Identity struct {
	Username     string
	UID          int
	GID          int
	PrimaryGroup string
	Groups       []string
	HomeDir      string
}

// IsRoot reports whether the identity bypasses permission checks.
func (id Identity) IsRoot() bool {
	return id.UID == 0 || id.Username == "root"
}

// InGroup reports whether the identity belongs to the named group,
// either as its primary group or as a supplementary group.
func (id Identity) InGroup(name string) bool {
	if name == "" {
		return false
	}
	if id.PrimaryGroup == name {
		return true
	}
	for _, g := range id.Groups {
		if g == name {
			return true
		}
	}
	return false
}

// Snapshot is the serializable state handed to the persistence collaborator.
type Snapshot struct {
	Version int       `json:"version" cbor:"version"`
	Root    *FileNode `json:"root" cbor:"root"`
	Users   []User    `json:"users" cbor:"users"`
	Groups  []Group   `json:"groups" cbor:"groups"`
	SavedAt time.Time `json:"saved_at" cbor:"saved_at"`
}

// Severity classifies a notification event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is a structured notification emitted for failed operations.
type Event struct {
	Severity Severity `json:"severity"`
	Source   string   `json:"source"`
	Message  string   `json:"message"`
}

// PromptKind selects how an interactive prompt collects input.
type PromptKind string

const (
	PromptPlain  PromptKind = "plain"
	PromptSecret PromptKind = "secret"
)

// CommandResult is what a shell command returns.
type CommandResult struct {
	Output      []string `json:"output"`
	Error       bool     `json:"error"`
	ShouldClear bool     `json:"should_clear,omitempty"`
	// Exit asks the host to close the shell window.
	Exit bool `json:"exit,omitempty"`
}

// HistoryEntry records one executed command line.
type HistoryEntry struct {
	Command   string    `json:"command"`
	Output    []string  `json:"output"`
	Error     bool      `json:"error"`
	Cwd       string    `json:"cwd"`
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
}
