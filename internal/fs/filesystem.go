package fs

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ajaxzhan/simfs/internal/identity"
	"github.com/ajaxzhan/simfs/internal/logging"
	"github.com/ajaxzhan/simfs/pkg/types"
)

// EventSource tags every notification emitted by the filesystem.
const EventSource = "filesystem"

// System is the identity used for internal writes such as identity file
// regeneration and home provisioning.
var System = types.Identity{Username: "root", UID: 0, GID: 0, PrimaryGroup: "root", HomeDir: "/root"}

// Notifier receives structured events for failed operations.
type Notifier interface {
	Notify(types.Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(types.Event)

func (f NotifierFunc) Notify(e types.Event) { f(e) }

// Option configures a Service.
type Option func(*Service)

// WithIDGenerator sets the node id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// WithClock sets the time source for modification stamps.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithNotifier sets the collaborator that receives failure events.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// Service owns the virtual tree. Every mutation clones the current tree,
// applies the change to the clone and swaps it in, so a published tree is
// never modified and readers can walk it without holding the lock.
type Service struct {
	mu   sync.Mutex // serializes writers
	root *types.FileNode
	rmu  sync.RWMutex // guards the root pointer

	ids      IDGenerator
	clock    Clock
	registry *identity.Registry
	notifier Notifier

	listenerMu sync.Mutex
	listeners  []func()

	logger *zap.Logger
}

// NewService creates a filesystem over root, kept in sync with registry
// through /etc/passwd and /etc/group.
func NewService(root *types.FileNode, registry *identity.Registry, opts ...Option) *Service {
	s := &Service{
		ids:      UUIDGenerator{},
		clock:    RealClock{},
		registry: registry,
		logger:   logging.Named("fs"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if root == nil {
		root = &types.FileNode{Kind: types.KindDirectory, Permissions: DefaultDirMode, Owner: "root", Group: "root", Children: []*types.FileNode{}}
	}
	root = DeepClone(root)
	EnsureIDs(root, s.ids)
	s.root = root

	if registry != nil {
		registry.OnChange(s.syncIdentityFiles)
	}
	return s
}

// Registry returns the identity registry the service is bound to.
func (s *Service) Registry() *identity.Registry {
	return s.registry
}

// OnChange registers fn to be called after every committed mutation.
func (s *Service) OnChange(fn func()) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Service) changed() {
	s.listenerMu.Lock()
	ls := slices.Clone(s.listeners)
	s.listenerMu.Unlock()
	for _, fn := range ls {
		fn()
	}
}

// current returns the published tree. It must not be modified.
func (s *Service) current() *types.FileNode {
	s.rmu.RLock()
	defer s.rmu.RUnlock()
	return s.root
}

// Snapshot returns a deep copy of the whole tree.
func (s *Service) Snapshot() *types.FileNode {
	return DeepClone(s.current())
}

// Restore replaces the whole tree, e.g. after loading persisted state.
func (s *Service) Restore(root *types.FileNode) {
	next := DeepClone(root)
	EnsureIDs(next, s.ids)
	s.mu.Lock()
	s.publish(next)
	s.mu.Unlock()
	s.changed()
}

func (s *Service) publish(next *types.FileNode) {
	s.rmu.Lock()
	s.root = next
	s.rmu.Unlock()
}

// mutate runs fn against a clone of the tree and publishes the clone if fn
// succeeds. Edits to the identity files are pushed into the registry once
// the new tree is visible.
func (s *Service) mutate(fn func(root *types.FileNode) error) error {
	s.mu.Lock()
	prev := s.current()
	next := DeepClone(prev)
	if err := fn(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.publish(next)
	s.mu.Unlock()

	passwdChanged := fileContent(prev, identity.PasswdPath) != fileContent(next, identity.PasswdPath)
	groupChanged := fileContent(prev, identity.GroupPath) != fileContent(next, identity.GroupPath)
	if passwdChanged || groupChanged {
		s.syncFromFiles(next, passwdChanged, groupChanged)
	}
	s.changed()
	return nil
}

// walk resolves p in root for who. Every directory passed through must
// grant execute; a denial is reported exactly like a missing entry.
func walk(root *types.FileNode, p string, who types.Identity) (node, parent *types.FileNode, err error) {
	node = root
	for _, seg := range Segments(p) {
		if !node.IsDir() || !Allowed(node, who, types.OpExecute) {
			return nil, nil, types.ErrNotFound
		}
		next := node.Child(seg)
		if next == nil {
			return nil, nil, types.ErrNotFound
		}
		parent, node = node, next
	}
	return node, parent, nil
}

// walkDir is walk that additionally requires the result to be a directory.
func walkDir(root *types.FileNode, p string, who types.Identity) (*types.FileNode, error) {
	node, _, err := walk(root, p, who)
	if err != nil {
		return nil, err
	}
	if !node.IsDir() {
		return nil, types.ErrNotDirectory
	}
	return node, nil
}

func fileContent(root *types.FileNode, p string) string {
	node, _, err := walk(root, p, System)
	if err != nil || node.IsDir() {
		return ""
	}
	return node.Content
}

func (s *Service) newNode(name string, kind types.NodeKind, owner types.Identity) *types.FileNode {
	n := &types.FileNode{
		ID:    s.ids.New(),
		Name:  name,
		Kind:  kind,
		Owner: owner.Username,
		Group: owner.PrimaryGroup,
	}
	if kind == types.KindDirectory {
		n.Permissions = DefaultDirMode
		n.Children = []*types.FileNode{}
	} else {
		n.Permissions = DefaultFileMode
	}
	touch(n, s.clock.Now())
	return n
}

func (s *Service) report(who types.Identity, op, path string, err error, quiet bool) error {
	perr := &types.PathError{Op: op, Path: path, Err: err}
	var pe *types.PathError
	if errors.As(err, &pe) {
		perr = pe
	}
	s.logger.Debug("operation failed",
		zap.String("op", op),
		zap.String("path", path),
		zap.String("user", who.Username),
		zap.Error(err))
	if !quiet && s.notifier != nil {
		sev := types.SeverityWarning
		if errors.Is(err, types.ErrPermissionDenied) {
			sev = types.SeverityError
		}
		s.notifier.Notify(types.Event{Severity: sev, Source: EventSource, Message: perr.Error()})
	}
	return perr
}

// View is the filesystem as seen by one acting identity. Paths passed to a
// View are resolved with Resolve against "/" before use.
type View struct {
	svc   *Service
	who   types.Identity
	quiet bool
}

// As returns a view of the filesystem acting as who.
func (s *Service) As(who types.Identity) *View {
	return &View{svc: s, who: who}
}

// Quiet returns a copy of the view that does not emit notifications.
// The shell uses quiet views because it prints its own errors.
func (v *View) Quiet() *View {
	c := *v
	c.quiet = true
	return &c
}

// Identity returns the acting identity.
func (v *View) Identity() types.Identity {
	return v.who
}

// Service returns the underlying service.
func (v *View) Service() *Service {
	return v.svc
}

func (v *View) fail(op, path string, err error) error {
	return v.svc.report(v.who, op, path, err, v.quiet)
}

func (v *View) abs(p string) string {
	return Resolve(p, v.who, "/")
}

// GetNodeAtPath returns a copy of the node at p.
func (v *View) GetNodeAtPath(p string) (*types.FileNode, error) {
	p = v.abs(p)
	node, _, err := walk(v.svc.current(), p, v.who)
	if err != nil {
		return nil, v.fail("stat", p, err)
	}
	return visibleClone(node, v.who), nil
}

// Exists reports whether p resolves for the acting identity.
func (v *View) Exists(p string) bool {
	_, _, err := walk(v.svc.current(), v.abs(p), v.who)
	return err == nil
}

// Allowed reports whether the acting identity may perform op on the node
// at p. Unreachable nodes are never allowed.
func (v *View) Allowed(p string, op types.Operation) bool {
	node, _, err := walk(v.svc.current(), v.abs(p), v.who)
	return err == nil && Allowed(node, v.who, op)
}

// ListDirectory returns copies of the children of the directory at p.
func (v *View) ListDirectory(p string) ([]*types.FileNode, error) {
	p = v.abs(p)
	dir, err := walkDir(v.svc.current(), p, v.who)
	if err != nil {
		return nil, v.fail("ls", p, err)
	}
	if !Allowed(dir, v.who, types.OpRead) {
		return nil, v.fail("ls", p, types.ErrPermissionDenied)
	}
	out := make([]*types.FileNode, len(dir.Children))
	for i, c := range dir.Children {
		out[i] = visibleClone(c, v.who)
	}
	return out, nil
}

// visibleClone copies n without what who could not read through the View:
// file content needs read, directory entries need read and execute.
func visibleClone(n *types.FileNode, who types.Identity) *types.FileNode {
	c := *n
	if !n.IsDir() {
		if !Allowed(n, who, types.OpRead) {
			c.Content = ""
		}
		return &c
	}
	c.Children = nil
	if n.Children != nil && Allowed(n, who, types.OpRead) && Allowed(n, who, types.OpExecute) {
		c.Children = make([]*types.FileNode, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = visibleClone(child, who)
		}
	}
	return &c
}

// ReadFile returns the content of the file at p.
func (v *View) ReadFile(p string) (string, error) {
	p = v.abs(p)
	node, _, err := walk(v.svc.current(), p, v.who)
	if err != nil {
		return "", v.fail("read", p, err)
	}
	if node.IsDir() {
		return "", v.fail("read", p, types.ErrIsDirectory)
	}
	if !Allowed(node, v.who, types.OpRead) {
		return "", v.fail("read", p, types.ErrPermissionDenied)
	}
	return node.Content, nil
}

// CreateFile creates a file called name inside the directory at dir.
func (v *View) CreateFile(dir, name, content string) (*types.FileNode, error) {
	return v.create(dir, name, types.KindFile, content)
}

// CreateDirectory creates a directory called name inside the directory at dir.
func (v *View) CreateDirectory(dir, name string) (*types.FileNode, error) {
	return v.create(dir, name, types.KindDirectory, "")
}

func (v *View) create(dir, name string, kind types.NodeKind, content string) (*types.FileNode, error) {
	dir = v.abs(dir)
	full := Join(dir, name)
	if !ValidName(name) {
		return nil, v.fail("create", full, types.ErrInvalidOperation)
	}

	var created *types.FileNode
	err := v.svc.mutate(func(root *types.FileNode) error {
		parent, err := walkDir(root, dir, v.who)
		if err != nil {
			return err
		}
		if !Allowed(parent, v.who, types.OpWrite) {
			return types.ErrPermissionDenied
		}
		if parent.Child(name) != nil {
			return types.ErrNameCollision
		}
		n := v.svc.newNode(name, kind, v.who)
		if kind == types.KindFile {
			n.Content = content
			touch(n, n.Modified)
		}
		parent.Children = append(parent.Children, n)
		touch(parent, n.Modified)
		created = DeepClone(n)
		return nil
	})
	if err != nil {
		return nil, v.fail("create", full, err)
	}
	v.svc.logger.Debug("created", zap.String("path", full), zap.String("kind", string(kind)), zap.String("user", v.who.Username))
	return created, nil
}

// WriteFile replaces the content of the existing file at p. It never
// creates the file.
func (v *View) WriteFile(p, content string) error {
	return v.updateFile("write", p, func(node *types.FileNode) {
		node.Content = content
	})
}

// AppendFile adds content to the end of the existing file at p, separated
// by a newline unless the file is empty or already ends with one. Like
// WriteFile it needs write permission only.
func (v *View) AppendFile(p, content string) error {
	return v.updateFile("write", p, func(node *types.FileNode) {
		if node.Content != "" && !strings.HasSuffix(node.Content, "\n") {
			node.Content += "\n"
		}
		node.Content += content
	})
}

// Touch updates the modification time of the existing file at p.
func (v *View) Touch(p string) error {
	return v.updateFile("touch", p, func(*types.FileNode) {})
}

// updateFile applies edit to the file at p after checking write permission.
func (v *View) updateFile(op, p string, edit func(*types.FileNode)) error {
	p = v.abs(p)
	err := v.svc.mutate(func(root *types.FileNode) error {
		node, _, err := walk(root, p, v.who)
		if err != nil {
			return err
		}
		if node.IsDir() {
			return types.ErrIsDirectory
		}
		if !Allowed(node, v.who, types.OpWrite) {
			return types.ErrPermissionDenied
		}
		edit(node)
		touch(node, v.svc.clock.Now())
		return nil
	})
	if err != nil {
		return v.fail(op, p, err)
	}
	return nil
}

// DeleteNode permanently removes the node at p together with its subtree.
// It needs write on the parent; inside a sticky directory only the entry's
// owner, the directory's owner or root may delete.
func (v *View) DeleteNode(p string) error {
	return v.remove("rm", p, nil)
}

// RemoveDirectory deletes the empty directory at p with the permission
// rules of DeleteNode.
func (v *View) RemoveDirectory(p string) error {
	return v.remove("rmdir", p, func(node *types.FileNode) error {
		if !node.IsDir() {
			return types.ErrNotDirectory
		}
		if len(node.Children) > 0 {
			return types.ErrNotEmpty
		}
		return nil
	})
}

func (v *View) remove(op, p string, check func(*types.FileNode) error) error {
	p = v.abs(p)
	if p == "/" {
		return v.fail(op, p, types.ErrInvalidOperation)
	}
	err := v.svc.mutate(func(root *types.FileNode) error {
		node, parent, err := walk(root, p, v.who)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(node); err != nil {
				return err
			}
		}
		if !Allowed(parent, v.who, types.OpWrite) || !CanRemoveFrom(parent, node, v.who) {
			return types.ErrPermissionDenied
		}
		removeChild(parent, node.ID)
		touch(parent, v.svc.clock.Now())
		return nil
	})
	if err != nil {
		return v.fail(op, p, err)
	}
	v.svc.logger.Debug("deleted", zap.String("path", p), zap.String("user", v.who.Username))
	return nil
}

// Chmod changes the mode of the node at p. mode is octal, a full
// 10-character string or a symbolic delta. Only the owner or root may chmod.
func (v *View) Chmod(p, mode string) error {
	p = v.abs(p)
	err := v.svc.mutate(func(root *types.FileNode) error {
		node, _, err := walk(root, p, v.who)
		if err != nil {
			return err
		}
		if !v.who.IsRoot() && node.Owner != v.who.Username {
			return types.ErrPermissionDenied
		}
		next, err := ApplyMode(node.Permissions, node.Kind, mode)
		if err != nil {
			return err
		}
		node.Permissions = next
		node.Modified = v.svc.clock.Now()
		return nil
	})
	if err != nil {
		return v.fail("chmod", p, err)
	}
	return nil
}

// Chown changes owner and optionally group of the node at p. Root only.
// An empty owner or group leaves that field unchanged.
func (v *View) Chown(p, owner, group string) error {
	p = v.abs(p)
	if !v.who.IsRoot() {
		return v.fail("chown", p, types.ErrPermissionDenied)
	}
	if reg := v.svc.registry; reg != nil {
		if _, ok := reg.User(owner); owner != "" && !ok {
			return v.fail("chown", p, fmt.Errorf("%w: %s", types.ErrUserNotFound, owner))
		}
		if _, ok := reg.Group(group); group != "" && !ok {
			return v.fail("chown", p, fmt.Errorf("%w: %s", types.ErrGroupNotFound, group))
		}
	}
	err := v.svc.mutate(func(root *types.FileNode) error {
		node, _, err := walk(root, p, v.who)
		if err != nil {
			return err
		}
		if owner != "" {
			node.Owner = owner
		}
		if group != "" {
			node.Group = group
		}
		node.Modified = v.svc.clock.Now()
		return nil
	})
	if err != nil {
		return v.fail("chown", p, err)
	}
	return nil
}
