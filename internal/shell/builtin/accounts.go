package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ajaxzhan/simfs/internal/identity"
	"github.com/ajaxzhan/simfs/internal/shell"
	"github.com/ajaxzhan/simfs/pkg/types"
)

func accountCommands() []*shell.Command {
	return []*shell.Command{
		{Name: "whoami", Description: "Print the acting user name", Usage: "whoami", Execute: whoami},
		{Name: "id", Description: "Print user and group ids", Usage: "id [user]", Execute: printID},
		{Name: "groups", Description: "Print group memberships", Usage: "groups [user]", Execute: printGroups},
		{Name: "useradd", Description: "Create a user account", Usage: "useradd [-p password] [-c full name] [-G group,...] <user>", Execute: addUser},
		{Name: "userdel", Description: "Delete a user account", Usage: "userdel [-r] <user>", Execute: deleteUser},
		{Name: "groupadd", Description: "Create a group", Usage: "groupadd [-U user,...] <group>", Execute: addGroup},
		{Name: "groupdel", Description: "Delete a group", Usage: "groupdel <group>", Execute: deleteGroup},
		{Name: "passwd", Description: "Change a password", Usage: "passwd [user]", Execute: changePassword},
	}
}

func whoami(_ context.Context, c *shell.Context) types.CommandResult {
	return shell.OK(c.Identity.Username)
}

// lookupIdentity returns the acting identity, or that of the named user.
func lookupIdentity(c *shell.Context, cmd string) (types.Identity, *types.CommandResult) {
	if len(c.Args) == 0 {
		return c.Identity, nil
	}
	if len(c.Args) > 1 {
		res := shell.Failf("%s: extra operand '%s'", cmd, c.Args[1])
		return types.Identity{}, &res
	}
	who, err := c.Registry().Identity(c.Args[0])
	if err != nil {
		res := shell.Failf("%s: '%s': no such user", cmd, c.Args[0])
		return types.Identity{}, &res
	}
	return who, nil
}

func printID(_ context.Context, c *shell.Context) types.CommandResult {
	who, bad := lookupIdentity(c, "id")
	if bad != nil {
		return *bad
	}
	gid := func(name string) string {
		if g, ok := c.Registry().Group(name); ok {
			return fmt.Sprintf("%d(%s)", g.GID, name)
		}
		return name
	}
	primary := fmt.Sprintf("%d(%s)", who.GID, who.PrimaryGroup)
	if who.PrimaryGroup == "" {
		primary = fmt.Sprint(who.GID)
	}
	groups := []string{primary}
	for _, g := range who.Groups {
		groups = append(groups, gid(g))
	}
	return shell.OK(fmt.Sprintf("uid=%d(%s) gid=%s groups=%s", who.UID, who.Username, primary, strings.Join(groups, ",")))
}

func printGroups(_ context.Context, c *shell.Context) types.CommandResult {
	who, bad := lookupIdentity(c, "groups")
	if bad != nil {
		return *bad
	}
	var names []string
	if who.PrimaryGroup != "" {
		names = append(names, who.PrimaryGroup)
	}
	names = append(names, who.Groups...)
	return shell.OK(strings.Join(names, " "))
}

// valueFlags parses options that take a value ("-p secret") alongside
// boolean ones. Values may also be attached ("-psecret").
func valueFlags(cmd string, args []string, valued, boolean string) (map[rune]string, []string, *types.CommandResult) {
	set := map[rune]string{}
	var operands []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if len(a) < 2 || a[0] != '-' {
			operands = append(operands, a)
			continue
		}
		r := rune(a[1])
		switch {
		case strings.ContainsRune(boolean, r) && len(a) == 2:
			set[r] = ""
		case strings.ContainsRune(valued, r) && len(a) > 2:
			set[r] = a[2:]
		case strings.ContainsRune(valued, r):
			if i+1 >= len(args) {
				res := shell.Failf("%s: option requires an argument -- '%c'", cmd, r)
				return nil, nil, &res
			}
			i++
			set[r] = args[i]
		default:
			res := shell.Failf("%s: invalid option -- '%c'", cmd, r)
			return nil, nil, &res
		}
	}
	return set, operands, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// newPassword asks for a password twice and returns a failed result when
// the answers are empty or differ.
func newPassword(c *shell.Context, cmd string) (string, *types.CommandResult) {
	first, err := c.Prompt("New password: ", types.PromptSecret)
	if err != nil {
		res := shell.Failf("%s: password unchanged", cmd)
		return "", &res
	}
	if first == "" {
		res := shell.Fail("No password has been supplied.", cmd+": password unchanged")
		return "", &res
	}
	if !identity.ValidField(first) {
		res := shell.Fail("Passwords may not contain ':' or a newline.", cmd+": password unchanged")
		return "", &res
	}
	second, err := c.Prompt("Retype new password: ", types.PromptSecret)
	if err != nil || first != second {
		res := shell.Fail("Sorry, passwords do not match.", cmd+": password unchanged")
		return "", &res
	}
	return first, nil
}

func accountFailure(cmd, name string, err error) types.CommandResult {
	var ie *types.IdentityError
	if errors.As(err, &ie) && ie.Name != "" {
		name = ie.Name
	}
	switch {
	case errors.Is(err, types.ErrPermissionDenied):
		return shell.Failf("%s: Permission denied.", cmd)
	case errors.Is(err, types.ErrIdentityExists):
		return shell.Failf("%s: '%s' already exists", cmd, name)
	case errors.Is(err, types.ErrUserNotFound):
		return shell.Failf("%s: user '%s' does not exist", cmd, name)
	case errors.Is(err, types.ErrGroupNotFound):
		return shell.Failf("%s: group '%s' does not exist", cmd, name)
	case errors.Is(err, types.ErrProtected):
		return shell.Failf("%s: '%s' is protected and cannot be removed", cmd, name)
	case ie != nil && ie.Err == types.ErrInvalidOperation:
		return shell.Failf("%s: invalid name '%s'", cmd, name)
	case ie != nil && errors.Is(err, types.ErrInvalidOperation):
		reason := strings.TrimPrefix(ie.Err.Error(), types.ErrInvalidOperation.Error()+": ")
		if cmd == "userdel" || cmd == "groupdel" {
			return shell.Failf("%s: cannot remove '%s': %s", cmd, name, reason)
		}
		return shell.Failf("%s: %s", cmd, reason)
	}
	return shell.PathFailure(cmd, name, err)
}

func addUser(_ context.Context, c *shell.Context) types.CommandResult {
	opts, operands, bad := valueFlags("useradd", c.Args, "pcG", "m")
	if bad != nil {
		return *bad
	}
	if len(operands) != 1 {
		return shell.Fail("usage: useradd [-p password] [-c full name] [-G group,...] <user>")
	}
	if !c.Identity.IsRoot() {
		return shell.Fail("useradd: Permission denied.")
	}
	name := operands[0]
	if _, exists := c.Registry().User(name); exists {
		return shell.Failf("useradd: user '%s' already exists", name)
	}

	for _, o := range []struct {
		flag rune
		what string
	}{{'p', "password"}, {'c', "full name"}} {
		if !identity.ValidField(opts[o.flag]) {
			return shell.Failf("useradd: %s may not contain ':' or a newline", o.what)
		}
	}
	password, given := opts['p']
	if !given {
		pw, bad := newPassword(c, "useradd")
		if bad != nil {
			return *bad
		}
		password = pw
	}
	u, err := c.Service().AddUser(c.Identity, identity.NewUser{
		Username: name,
		Password: password,
		FullName: opts['c'],
		Groups:   splitList(opts['G']),
	})
	if err != nil {
		return accountFailure("useradd", name, err)
	}
	return shell.OK(fmt.Sprintf("useradd: created user '%s' (uid %d) with home %s", u.Username, u.UID, u.HomeDir))
}

func deleteUser(_ context.Context, c *shell.Context) types.CommandResult {
	opts, operands, bad := parseFlags("userdel", c.Args, "r")
	if bad != nil {
		return *bad
	}
	if len(operands) != 1 {
		return shell.Fail("usage: userdel [-r] <user>")
	}
	name := operands[0]
	if name == c.Identity.Username {
		return shell.Failf("userdel: user %s is currently logged in", name)
	}
	if err := c.Service().DeleteUser(c.Identity, name, opts['r']); err != nil {
		return accountFailure("userdel", name, err)
	}
	return shell.OK()
}

func addGroup(_ context.Context, c *shell.Context) types.CommandResult {
	opts, operands, bad := valueFlags("groupadd", c.Args, "U", "")
	if bad != nil {
		return *bad
	}
	if len(operands) != 1 {
		return shell.Fail("usage: groupadd [-U user,...] <group>")
	}
	name := operands[0]
	g, err := c.Registry().AddGroup(c.Identity, name, splitList(opts['U']))
	if err != nil {
		return accountFailure("groupadd", name, err)
	}
	return shell.OK(fmt.Sprintf("groupadd: created group '%s' (gid %d)", g.GroupName, g.GID))
}

func deleteGroup(_ context.Context, c *shell.Context) types.CommandResult {
	if len(c.Args) != 1 {
		return shell.Fail("usage: groupdel <group>")
	}
	name := c.Args[0]
	if err := c.Registry().DeleteGroup(c.Identity, name); err != nil {
		return accountFailure("groupdel", name, err)
	}
	return shell.OK()
}

// changePassword implements passwd. Other users need the current password;
// root may set any password without it.
func changePassword(_ context.Context, c *shell.Context) types.CommandResult {
	if len(c.Args) > 1 {
		return shell.Fail("usage: passwd [user]")
	}
	target := c.Identity.Username
	if len(c.Args) == 1 {
		target = c.Args[0]
	}
	if !c.Identity.IsRoot() && target != c.Identity.Username {
		return shell.Failf("passwd: You may not view or modify password information for %s.", target)
	}
	if _, ok := c.Registry().User(target); !ok {
		return shell.Failf("passwd: user '%s' does not exist", target)
	}

	if !c.Identity.IsRoot() {
		current, err := c.Prompt("Current password: ", types.PromptSecret)
		if err != nil || !c.Registry().Verify(target, current) {
			return shell.Fail("passwd: Authentication token manipulation error", "passwd: password unchanged")
		}
	}
	password, bad := newPassword(c, "passwd")
	if bad != nil {
		return *bad
	}
	if err := c.Registry().SetPassword(c.Identity, target, password); err != nil {
		return accountFailure("passwd", target, err)
	}
	return shell.OK("passwd: password updated successfully")
}
