package identity

import (
	"errors"
	"slices"
	"testing"

	"github.com/ajaxzhan/simfs/pkg/types"
)

var testPasswords = Passwords{Root: "root", User: "user", Guest: "guest"}

func mustIdentity(t *testing.T, r *Registry, name string) types.Identity {
	t.Helper()
	id, err := r.Identity(name)
	if err != nil {
		t.Fatalf("Identity(%s): %v", name, err)
	}
	return id
}

func TestLogin(t *testing.T) {
	r := NewDefaultRegistry(testPasswords)

	if r.Login("user", "wrong") {
		t.Error("login with wrong password succeeded")
	}
	if _, ok := r.Active(); ok {
		t.Error("failed login must not set an active identity")
	}
	if !r.Login("user", "user") {
		t.Fatal("login with correct password failed")
	}
	active, ok := r.Active()
	if !ok || active.Username != "user" {
		t.Errorf("Active() = %+v, %v", active, ok)
	}
	if r.Login("nobody", "x") {
		t.Error("unknown user logged in")
	}

	r.Logout()
	if _, ok := r.Active(); ok {
		t.Error("logout should clear the active identity")
	}
}

func TestSetVerifier(t *testing.T) {
	r := NewDefaultRegistry(testPasswords)
	r.SetVerifier(func(u types.User, pw string) bool { return pw == "master" })

	if r.Verify("guest", "guest") {
		t.Error("custom verifier should reject the stored password")
	}
	if !r.Verify("guest", "master") {
		t.Error("custom verifier should accept master")
	}
}

func TestIdentity(t *testing.T) {
	r := NewDefaultRegistry(testPasswords)

	id := mustIdentity(t, r, "user")
	if id.PrimaryGroup != "users" || id.UID != 1000 || id.HomeDir != "/home/user" {
		t.Errorf("unexpected identity: %+v", id)
	}
	if !slices.Contains(id.Groups, "admin") {
		t.Errorf("user should be in admin: %v", id.Groups)
	}
	if slices.Contains(id.Groups, "users") {
		t.Errorf("primary group should not repeat in Groups: %v", id.Groups)
	}

	root := mustIdentity(t, r, "root")
	if !root.IsRoot() || root.PrimaryGroup != "root" {
		t.Errorf("unexpected root identity: %+v", root)
	}

	if _, err := r.Identity("ghost"); !errors.Is(err, types.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestIsAdmin(t *testing.T) {
	r := NewDefaultRegistry(testPasswords)
	admin := []string{"admin", "sudo", "wheel"}

	tests := []struct {
		user     string
		expected bool
	}{
		{"root", true},
		{"user", true},
		{"guest", false},
		{"ghost", false},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			if got := r.IsAdmin(tt.user, admin); got != tt.expected {
				t.Errorf("IsAdmin(%s) = %v, want %v", tt.user, got, tt.expected)
			}
		})
	}
}

func TestIsAdmin_MembershipListOnly(t *testing.T) {
	users := DefaultUsers(testPasswords)
	users[2].Groups = nil
	groups := DefaultGroups()
	groups = append(groups, types.Group{GroupName: "wheel", GID: 11, Members: []string{"guest"}})
	r := NewRegistry(users, groups)

	if !r.IsAdmin("guest", []string{"wheel"}) {
		t.Error("membership list should grant admin")
	}
}

func TestAddUser(t *testing.T) {
	r := NewDefaultRegistry(testPasswords)
	root := mustIdentity(t, r, "root")

	changes := 0
	r.OnChange(func() { changes++ })

	u, err := r.AddUser(root, NewUser{Username: "alice", Password: "pw"})
	if err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if u.UID != 1002 || u.GID != UsersGID || u.HomeDir != "/home/alice" || u.Shell != "/bin/bash" {
		t.Errorf("unexpected user: %+v", u)
	}
	if changes != 1 {
		t.Errorf("expected 1 change notification, got %d", changes)
	}
	g, _ := r.Group("users")
	if !slices.Contains(g.Members, "alice") {
		t.Errorf("alice should join users: %v", g.Members)
	}

	if _, err := r.AddUser(root, NewUser{Username: "alice"}); !errors.Is(err, types.ErrIdentityExists) {
		t.Errorf("duplicate user: expected ErrIdentityExists, got %v", err)
	}
	if _, err := r.AddUser(root, NewUser{Username: "Bad Name"}); !errors.Is(err, types.ErrInvalidOperation) {
		t.Errorf("bad name: expected ErrInvalidOperation, got %v", err)
	}
	if _, err := r.AddUser(root, NewUser{Username: "bob", Groups: []string{"nope"}}); !errors.Is(err, types.ErrGroupNotFound) {
		t.Errorf("unknown group: expected ErrGroupNotFound, got %v", err)
	}

	user := mustIdentity(t, r, "user")
	if _, err := r.AddUser(user, NewUser{Username: "carol"}); !errors.Is(err, types.ErrPermissionDenied) {
		t.Errorf("non-root add: expected ErrPermissionDenied, got %v", err)
	}
}

func TestUIDsAreNotReused(t *testing.T) {
	r := NewDefaultRegistry(testPasswords)
	root := mustIdentity(t, r, "root")

	a, _ := r.AddUser(root, NewUser{Username: "a"})
	if _, err := r.DeleteUser(root, "a"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	b, _ := r.AddUser(root, NewUser{Username: "b"})
	if b.UID == a.UID {
		t.Errorf("uid %d was reused", a.UID)
	}

	g1, _ := r.AddGroup(root, "devs", nil)
	if g1.GID != 101 {
		t.Errorf("first new gid = %d, want 101", g1.GID)
	}
	if err := r.DeleteGroup(root, "devs"); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}
	g2, _ := r.AddGroup(root, "ops", nil)
	if g2.GID == g1.GID {
		t.Errorf("gid %d was reused", g1.GID)
	}
}

func TestDeleteProtected(t *testing.T) {
	r := NewDefaultRegistry(testPasswords)
	root := mustIdentity(t, r, "root")

	for _, name := range ProtectedUsers {
		if _, err := r.DeleteUser(root, name); !errors.Is(err, types.ErrProtected) {
			t.Errorf("DeleteUser(%s): expected ErrProtected, got %v", name, err)
		}
	}
	for _, name := range ProtectedGroups {
		if err := r.DeleteGroup(root, name); !errors.Is(err, types.ErrInvalidOperation) {
			t.Errorf("DeleteGroup(%s): expected invalid operation, got %v", name, err)
		}
	}
}

func TestDeleteUser_CleansMemberships(t *testing.T) {
	r := NewDefaultRegistry(testPasswords)
	root := mustIdentity(t, r, "root")

	if _, err := r.AddUser(root, NewUser{Username: "dave"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddGroup(root, "devs", []string{"dave", "user"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.DeleteUser(root, "dave"); err != nil {
		t.Fatal(err)
	}
	g, _ := r.Group("devs")
	if slices.Contains(g.Members, "dave") || !slices.Contains(g.Members, "user") {
		t.Errorf("unexpected members after delete: %v", g.Members)
	}
	if _, err := r.DeleteUser(root, "dave"); !errors.Is(err, types.ErrUserNotFound) {
		t.Errorf("second delete: expected ErrUserNotFound, got %v", err)
	}
}

func TestDeleteGroup_PrimaryGroupInUse(t *testing.T) {
	users := append(DefaultUsers(testPasswords), types.User{Username: "eve", UID: 1005, GID: 200})
	groups := append(DefaultGroups(), types.Group{GroupName: "eve", GID: 200})
	r := NewRegistry(users, groups)
	root := mustIdentity(t, r, "root")

	if err := r.DeleteGroup(root, "eve"); !errors.Is(err, types.ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestSetPassword(t *testing.T) {
	r := NewDefaultRegistry(testPasswords)
	guest := mustIdentity(t, r, "guest")
	root := mustIdentity(t, r, "root")

	if err := r.SetPassword(guest, "guest", "new"); err != nil {
		t.Fatalf("self password change: %v", err)
	}
	if !r.Verify("guest", "new") {
		t.Error("new password not accepted")
	}
	if err := r.SetPassword(guest, "user", "x"); !errors.Is(err, types.ErrPermissionDenied) {
		t.Errorf("changing another user's password: got %v", err)
	}
	if err := r.SetPassword(root, "user", "x"); err != nil {
		t.Errorf("root password change: %v", err)
	}
}

func TestReplaceUsers_KeepsSupplementaryGroups(t *testing.T) {
	r := NewDefaultRegistry(testPasswords)

	parsed, err := ParsePasswd(FormatPasswd(r.Users()))
	if err != nil {
		t.Fatal(err)
	}
	parsed[1].FullName = "Renamed"
	if err := r.ReplaceUsers(parsed); err != nil {
		t.Fatal(err)
	}

	u, _ := r.User("user")
	if u.FullName != "Renamed" {
		t.Errorf("FullName = %q", u.FullName)
	}
	if !slices.Contains(u.Groups, "admin") {
		t.Errorf("supplementary groups lost: %v", u.Groups)
	}
}

func TestReplace_KeepsProtectedDefaults(t *testing.T) {
	r := NewDefaultRegistry(testPasswords)
	before := r.Users()

	withoutGuest := slices.DeleteFunc(r.Users(), func(u types.User) bool { return u.Username == "guest" })
	if err := r.ReplaceUsers(withoutGuest); !errors.Is(err, types.ErrProtected) {
		t.Errorf("dropping guest: expected ErrProtected, got %v", err)
	}
	if len(r.Users()) != len(before) {
		t.Error("refused table was applied")
	}

	withoutAdmin := slices.DeleteFunc(r.Groups(), func(g types.Group) bool { return g.GroupName == "admin" })
	if err := r.ReplaceGroups(withoutAdmin); !errors.Is(err, types.ErrProtected) {
		t.Errorf("dropping admin: expected ErrProtected, got %v", err)
	}
	if _, ok := r.Group("admin"); !ok {
		t.Error("admin group removed")
	}

	extra := append(r.Users(), types.User{Username: "carol", UID: 1500, GID: 100, HomeDir: "/home/carol", Shell: "/bin/bash"})
	if err := r.ReplaceUsers(extra); err != nil {
		t.Errorf("adding carol: %v", err)
	}
}

func TestFieldsWithSeparatorsAreRejected(t *testing.T) {
	r := NewDefaultRegistry(testPasswords)
	root := mustIdentity(t, r, "root")

	tests := []struct {
		name string
		nu   NewUser
	}{
		{"colon in password", NewUser{Username: "bob", Password: "a:b"}},
		{"newline in password", NewUser{Username: "bob", Password: "a\nb"}},
		{"colon in full name", NewUser{Username: "bob", Password: "pw", FullName: "Bob: the builder"}},
		{"newline in full name", NewUser{Username: "bob", Password: "pw", FullName: "Bob\nroot::0:0:x:/root:/bin/bash"}},
		{"colon in shell", NewUser{Username: "bob", Password: "pw", Shell: "/bin/sh:x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.AddUser(root, tt.nu); !errors.Is(err, types.ErrInvalidOperation) {
				t.Errorf("expected ErrInvalidOperation, got %v", err)
			}
			if _, ok := r.User("bob"); ok {
				t.Error("bob was created")
			}
		})
	}

	if err := r.SetPassword(root, "guest", "x:y"); !errors.Is(err, types.ErrInvalidOperation) {
		t.Errorf("SetPassword with colon: expected ErrInvalidOperation, got %v", err)
	}
	if !r.Verify("guest", "guest") {
		t.Error("rejected password was stored")
	}

	if _, err := r.AddUser(root, NewUser{Username: "bob", Password: "p@ss word!", FullName: "Bob, Builder"}); err != nil {
		t.Fatalf("ordinary punctuation: %v", err)
	}
	parsed, err := ParsePasswd(FormatPasswd(r.Users()))
	if err != nil {
		t.Fatalf("passwd no longer parses: %v", err)
	}
	if len(parsed) != len(r.Users()) {
		t.Errorf("parsed %d users, want %d", len(parsed), len(r.Users()))
	}
}
