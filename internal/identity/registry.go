// Package identity manages the user and group tables, authentication and
// resolution of acting identities for permission checks.
package identity

import (
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/ajaxzhan/simfs/internal/logging"
	"github.com/ajaxzhan/simfs/pkg/types"
)

// Id allocation floors.
const (
	FirstUID = 1000
	FirstGID = 100

	// UsersGID is the primary group of newly created accounts.
	UsersGID = 100
)

// Protected identities can never be deleted.
var (
	ProtectedUsers  = []string{"root", "user", "guest"}
	ProtectedGroups = []string{"root", "users", "admin"}
)

// Verifier checks a password for a user. The default compares plaintext.
type Verifier func(u types.User, password string) bool

// PlaintextVerifier compares the stored password verbatim.
func PlaintextVerifier(u types.User, password string) bool {
	return u.Password == password
}

// Passwords seeds the default accounts.
type Passwords struct {
	Root  string
	User  string
	Guest string
}

// NewUser describes an account to create.
type NewUser struct {
	Username string
	Password string
	FullName string
	HomeDir  string // defaults to /home/<username>
	Shell    string // defaults to /bin/bash
	Groups   []string
}

// Registry holds the user and group tables. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	users    []types.User
	groups   []types.Group
	active   string
	verifier Verifier

	// ids handed out or retired in this process are never reused
	retiredUIDs map[int]bool
	retiredGIDs map[int]bool

	listenerMu sync.Mutex
	listeners  []func()

	logger *zap.Logger
}

// NewRegistry creates a registry over the given tables.
func NewRegistry(users []types.User, groups []types.Group) *Registry {
	r := &Registry{
		verifier:    PlaintextVerifier,
		retiredUIDs: make(map[int]bool),
		retiredGIDs: make(map[int]bool),
		logger:      logging.Named("identity"),
	}
	r.users = cloneUsers(users)
	r.groups = cloneGroups(groups)
	return r
}

// NewDefaultRegistry creates a registry seeded with root, user and guest.
func NewDefaultRegistry(pw Passwords) *Registry {
	return NewRegistry(DefaultUsers(pw), DefaultGroups())
}

// DefaultUsers returns the protected default accounts.
func DefaultUsers(pw Passwords) []types.User {
	return []types.User{
		{Username: "root", Password: pw.Root, UID: 0, GID: 0, FullName: "System Administrator", HomeDir: "/root", Shell: "/bin/bash"},
		{Username: "user", Password: pw.User, UID: 1000, GID: UsersGID, FullName: "User", HomeDir: "/home/user", Shell: "/bin/bash", Groups: []string{"admin"}},
		{Username: "guest", Password: pw.Guest, UID: 1001, GID: UsersGID, FullName: "Guest", HomeDir: "/home/guest", Shell: "/bin/bash"},
	}
}

// DefaultGroups returns the protected default groups.
func DefaultGroups() []types.Group {
	return []types.Group{
		{GroupName: "root", GID: 0, Members: []string{"root"}},
		{GroupName: "admin", GID: 10, Members: []string{"user"}},
		{GroupName: "users", GID: UsersGID, Members: []string{"user", "guest"}},
	}
}

// SetVerifier replaces the password check, e.g. with a host supplied one.
func (r *Registry) SetVerifier(v Verifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v == nil {
		v = PlaintextVerifier
	}
	r.verifier = v
}

// OnChange registers fn to be called after every table mutation.
// Listeners run outside the registry lock and may call back into it.
func (r *Registry) OnChange(fn func()) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Registry) notify() {
	r.listenerMu.Lock()
	ls := slices.Clone(r.listeners)
	r.listenerMu.Unlock()
	for _, fn := range ls {
		fn()
	}
}

// Users returns a copy of the user table in order.
func (r *Registry) Users() []types.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneUsers(r.users)
}

// Groups returns a copy of the group table in order.
func (r *Registry) Groups() []types.Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneGroups(r.groups)
}

// User looks up a user by name.
func (r *Registry) User(name string) (types.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.userIndex(name); i >= 0 {
		return cloneUser(r.users[i]), true
	}
	return types.User{}, false
}

// Group looks up a group by name.
func (r *Registry) Group(name string) (types.Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.groupIndex(name); i >= 0 {
		return cloneGroup(r.groups[i]), true
	}
	return types.Group{}, false
}

// Verify checks username/password without changing the active identity.
func (r *Registry) Verify(username, password string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.userIndex(username)
	if i < 0 {
		return false
	}
	return r.verifier(r.users[i], password)
}

// Login verifies the credentials and makes username the active identity.
func (r *Registry) Login(username, password string) bool {
	if !r.Verify(username, password) {
		r.logger.Info("login failed", zap.String("user", username))
		return false
	}
	r.mu.Lock()
	r.active = username
	r.mu.Unlock()
	r.logger.Info("login", zap.String("user", username))
	return true
}

// Logout clears the active identity.
func (r *Registry) Logout() {
	r.mu.Lock()
	r.active = ""
	r.mu.Unlock()
}

// Active returns the identity of the logged-in user.
func (r *Registry) Active() (types.Identity, bool) {
	r.mu.RLock()
	name := r.active
	r.mu.RUnlock()
	if name == "" {
		return types.Identity{}, false
	}
	id, err := r.Identity(name)
	return id, err == nil
}

// Identity resolves username into an acting identity. The primary group is
// the group whose gid matches the user's gid; Groups is the union of the
// user's supplementary list and every group listing the user as member.
func (r *Registry) Identity(username string) (types.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.userIndex(username)
	if i < 0 {
		return types.Identity{}, &types.IdentityError{Op: "identity", Name: username, Err: types.ErrUserNotFound}
	}
	u := r.users[i]

	id := types.Identity{
		Username: u.Username,
		UID:      u.UID,
		GID:      u.GID,
		HomeDir:  u.HomeDir,
	}
	for _, g := range r.groups {
		if g.GID == u.GID && id.PrimaryGroup == "" {
			id.PrimaryGroup = g.GroupName
		}
	}

	seen := map[string]bool{}
	add := func(name string) {
		if name == "" || name == id.PrimaryGroup || seen[name] {
			return
		}
		seen[name] = true
		id.Groups = append(id.Groups, name)
	}
	for _, g := range u.Groups {
		add(g)
	}
	for _, g := range r.groups {
		if slices.Contains(g.Members, u.Username) {
			add(g.GroupName)
		}
	}
	return id, nil
}

// IsAdmin reports whether username is root or belongs to one of
// adminGroups, checking the primary group, the supplementary list and the
// group membership lists in that order.
func (r *Registry) IsAdmin(username string, adminGroups []string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.userIndex(username)
	if i < 0 {
		return false
	}
	u := r.users[i]
	if u.UID == 0 || u.Username == "root" {
		return true
	}

	for _, g := range r.groups {
		if g.GID == u.GID && slices.Contains(adminGroups, g.GroupName) {
			return true
		}
	}
	for _, g := range u.Groups {
		if slices.Contains(adminGroups, g) {
			return true
		}
	}
	for _, g := range r.groups {
		if slices.Contains(adminGroups, g.GroupName) && slices.Contains(g.Members, u.Username) {
			return true
		}
	}
	return false
}

// AddUser creates an account. Only root may add users.
func (r *Registry) AddUser(actor types.Identity, nu NewUser) (types.User, error) {
	if !actor.IsRoot() {
		return types.User{}, &types.IdentityError{Op: "useradd", Name: nu.Username, Err: types.ErrPermissionDenied}
	}
	if !validName(nu.Username) {
		return types.User{}, &types.IdentityError{Op: "useradd", Name: nu.Username, Err: types.ErrInvalidOperation}
	}
	for _, f := range [][2]string{{"password", nu.Password}, {"full name", nu.FullName}, {"home", nu.HomeDir}, {"shell", nu.Shell}} {
		if !ValidField(f[1]) {
			return types.User{}, &types.IdentityError{Op: "useradd", Name: nu.Username, Err: badField(f[0])}
		}
	}

	r.mu.Lock()
	if r.userIndex(nu.Username) >= 0 {
		r.mu.Unlock()
		return types.User{}, &types.IdentityError{Op: "useradd", Name: nu.Username, Err: types.ErrIdentityExists}
	}
	for _, g := range nu.Groups {
		if r.groupIndex(g) < 0 {
			r.mu.Unlock()
			return types.User{}, &types.IdentityError{Op: "useradd", Name: g, Err: types.ErrGroupNotFound}
		}
	}

	u := types.User{
		Username: nu.Username,
		Password: nu.Password,
		UID:      r.nextUID(),
		GID:      UsersGID,
		FullName: nu.FullName,
		HomeDir:  nu.HomeDir,
		Shell:    nu.Shell,
		Groups:   slices.Clone(nu.Groups),
	}
	if u.HomeDir == "" {
		u.HomeDir = "/home/" + u.Username
	}
	if u.Shell == "" {
		u.Shell = "/bin/bash"
	}
	if u.FullName == "" {
		u.FullName = u.Username
	}
	r.retiredUIDs[u.UID] = true
	r.users = append(r.users, u)
	if i := r.groupIndex("users"); i >= 0 && !slices.Contains(r.groups[i].Members, u.Username) {
		r.groups[i].Members = append(r.groups[i].Members, u.Username)
	}
	r.mu.Unlock()

	r.logger.Info("user added", zap.String("user", u.Username), zap.Int("uid", u.UID))
	r.notify()
	return cloneUser(u), nil
}

// DeleteUser removes an account and its group memberships. Protected
// defaults cannot be deleted.
func (r *Registry) DeleteUser(actor types.Identity, username string) (types.User, error) {
	if !actor.IsRoot() {
		return types.User{}, &types.IdentityError{Op: "userdel", Name: username, Err: types.ErrPermissionDenied}
	}
	if slices.Contains(ProtectedUsers, username) {
		return types.User{}, &types.IdentityError{Op: "userdel", Name: username, Err: types.ErrProtected}
	}

	r.mu.Lock()
	i := r.userIndex(username)
	if i < 0 {
		r.mu.Unlock()
		return types.User{}, &types.IdentityError{Op: "userdel", Name: username, Err: types.ErrUserNotFound}
	}
	u := r.users[i]
	r.users = slices.Delete(r.users, i, i+1)
	r.retiredUIDs[u.UID] = true
	for gi := range r.groups {
		r.groups[gi].Members = slices.DeleteFunc(r.groups[gi].Members, func(m string) bool { return m == username })
	}
	if r.active == username {
		r.active = ""
	}
	r.mu.Unlock()

	r.logger.Info("user deleted", zap.String("user", username))
	r.notify()
	return u, nil
}

// AddGroup creates a group. Only root may add groups.
func (r *Registry) AddGroup(actor types.Identity, name string, members []string) (types.Group, error) {
	if !actor.IsRoot() {
		return types.Group{}, &types.IdentityError{Op: "groupadd", Name: name, Err: types.ErrPermissionDenied}
	}
	if !validName(name) {
		return types.Group{}, &types.IdentityError{Op: "groupadd", Name: name, Err: types.ErrInvalidOperation}
	}

	r.mu.Lock()
	if r.groupIndex(name) >= 0 {
		r.mu.Unlock()
		return types.Group{}, &types.IdentityError{Op: "groupadd", Name: name, Err: types.ErrIdentityExists}
	}
	for _, m := range members {
		if r.userIndex(m) < 0 {
			r.mu.Unlock()
			return types.Group{}, &types.IdentityError{Op: "groupadd", Name: m, Err: types.ErrUserNotFound}
		}
	}
	g := types.Group{GroupName: name, GID: r.nextGID(), Members: slices.Clone(members)}
	r.retiredGIDs[g.GID] = true
	r.groups = append(r.groups, g)
	r.mu.Unlock()

	r.logger.Info("group added", zap.String("group", name), zap.Int("gid", g.GID))
	r.notify()
	return cloneGroup(g), nil
}

// DeleteGroup removes a group. Protected groups and groups that are still
// some user's primary group cannot be deleted.
func (r *Registry) DeleteGroup(actor types.Identity, name string) error {
	if !actor.IsRoot() {
		return &types.IdentityError{Op: "groupdel", Name: name, Err: types.ErrPermissionDenied}
	}
	if slices.Contains(ProtectedGroups, name) {
		return &types.IdentityError{Op: "groupdel", Name: name, Err: types.ErrProtected}
	}

	r.mu.Lock()
	i := r.groupIndex(name)
	if i < 0 {
		r.mu.Unlock()
		return &types.IdentityError{Op: "groupdel", Name: name, Err: types.ErrGroupNotFound}
	}
	g := r.groups[i]
	for _, u := range r.users {
		if u.GID == g.GID {
			r.mu.Unlock()
			return &types.IdentityError{Op: "groupdel", Name: name,
				Err: fmt.Errorf("%w: primary group of %s", types.ErrInvalidOperation, u.Username)}
		}
	}
	r.groups = slices.Delete(r.groups, i, i+1)
	r.retiredGIDs[g.GID] = true
	for ui := range r.users {
		r.users[ui].Groups = slices.DeleteFunc(r.users[ui].Groups, func(s string) bool { return s == name })
	}
	r.mu.Unlock()

	r.logger.Info("group deleted", zap.String("group", name))
	r.notify()
	return nil
}

// SetPassword changes a password. Root may change any password, other
// identities only their own.
func (r *Registry) SetPassword(actor types.Identity, username, password string) error {
	if !actor.IsRoot() && actor.Username != username {
		return &types.IdentityError{Op: "passwd", Name: username, Err: types.ErrPermissionDenied}
	}
	if !ValidField(password) {
		return &types.IdentityError{Op: "passwd", Name: username, Err: badField("password")}
	}

	r.mu.Lock()
	i := r.userIndex(username)
	if i < 0 {
		r.mu.Unlock()
		return &types.IdentityError{Op: "passwd", Name: username, Err: types.ErrUserNotFound}
	}
	r.users[i].Password = password
	r.mu.Unlock()

	r.logger.Info("password changed", zap.String("user", username))
	r.notify()
	return nil
}

// ReplaceUsers swaps the user table, as parsed from the passwd file.
// Supplementary group lists of surviving users are kept since the passwd
// format does not carry them. A table missing a protected account is
// refused, since DeleteUser could not have produced it.
func (r *Registry) ReplaceUsers(users []types.User) error {
	for _, name := range ProtectedUsers {
		if !slices.ContainsFunc(users, func(u types.User) bool { return u.Username == name }) {
			return &types.IdentityError{Op: "passwd", Name: name, Err: types.ErrProtected}
		}
	}

	r.mu.Lock()
	prev := make(map[string][]string, len(r.users))
	for _, u := range r.users {
		prev[u.Username] = u.Groups
	}
	next := cloneUsers(users)
	for i := range next {
		if next[i].Groups == nil {
			next[i].Groups = slices.Clone(prev[next[i].Username])
		}
		r.retiredUIDs[next[i].UID] = true
	}
	r.users = next
	r.mu.Unlock()
	r.notify()
	return nil
}

// ReplaceGroups swaps the group table, as parsed from the group file.
// Like ReplaceUsers it refuses a table missing a protected group.
func (r *Registry) ReplaceGroups(groups []types.Group) error {
	for _, name := range ProtectedGroups {
		if !slices.ContainsFunc(groups, func(g types.Group) bool { return g.GroupName == name }) {
			return &types.IdentityError{Op: "group", Name: name, Err: types.ErrProtected}
		}
	}

	r.mu.Lock()
	r.groups = cloneGroups(groups)
	for _, g := range r.groups {
		r.retiredGIDs[g.GID] = true
	}
	r.mu.Unlock()
	r.notify()
	return nil
}

// Load replaces both tables without notifying listeners. Used at startup.
func (r *Registry) Load(users []types.User, groups []types.Group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = cloneUsers(users)
	r.groups = cloneGroups(groups)
}

func (r *Registry) userIndex(name string) int {
	return slices.IndexFunc(r.users, func(u types.User) bool { return u.Username == name })
}

func (r *Registry) groupIndex(name string) int {
	return slices.IndexFunc(r.groups, func(g types.Group) bool { return g.GroupName == name })
}

func (r *Registry) nextUID() int {
	used := make(map[int]bool, len(r.users))
	for _, u := range r.users {
		used[u.UID] = true
	}
	for id := FirstUID; ; id++ {
		if !used[id] && !r.retiredUIDs[id] {
			return id
		}
	}
}

func (r *Registry) nextGID() int {
	used := make(map[int]bool, len(r.groups))
	for _, g := range r.groups {
		used[g.GID] = true
	}
	for id := FirstGID; ; id++ {
		if !used[id] && !r.retiredGIDs[id] {
			return id
		}
	}
}

func badField(field string) error {
	return fmt.Errorf("%w: %s may not contain ':' or a newline", types.ErrInvalidOperation, field)
}

func validName(name string) bool {
	if name == "" || len(name) > 32 {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_', c == '-', c == '.':
		default:
			return false
		}
	}
	return name[0] != '-'
}

func cloneUser(u types.User) types.User {
	u.Groups = slices.Clone(u.Groups)
	return u
}

func cloneUsers(us []types.User) []types.User {
	out := make([]types.User, len(us))
	for i, u := range us {
		out[i] = cloneUser(u)
	}
	return out
}

func cloneGroup(g types.Group) types.Group {
	g.Members = slices.Clone(g.Members)
	return g
}

func cloneGroups(gs []types.Group) []types.Group {
	out := make([]types.Group, len(gs))
	for i, g := range gs {
		out[i] = cloneGroup(g)
	}
	return out
}
