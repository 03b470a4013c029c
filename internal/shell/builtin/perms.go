package builtin

import (
	"context"
	"errors"
	"strings"

	"github.com/ajaxzhan/simfs/internal/shell"
	"github.com/ajaxzhan/simfs/pkg/types"
)

func permCommands() []*shell.Command {
	return []*shell.Command{
		{Name: "chmod", Description: "Change file mode", Usage: "chmod <mode> <path...>", Execute: changeMode},
		{Name: "chown", Description: "Change file owner and group", Usage: "chown <owner>[:group] <path...>", Execute: changeOwner},
	}
}

func changeMode(_ context.Context, c *shell.Context) types.CommandResult {
	if len(c.Args) < 2 {
		return shell.Fail("chmod: missing operand", "usage: chmod <mode> <path...>")
	}
	mode := c.Args[0]
	var out collector
	for _, arg := range c.Args[1:] {
		if err := c.FS.Chmod(c.Resolve(arg), mode); err != nil {
			out.fail(chmodFailure(mode, arg, err))
		}
	}
	return out.result()
}

func chmodFailure(mode, arg string, err error) types.CommandResult {
	if errors.Is(err, types.ErrInvalidMode) {
		return shell.Failf("chmod: invalid mode: '%s'", mode)
	}
	if isPermission(err) {
		return shell.Failf("chmod: changing permissions of '%s': Operation not permitted", arg)
	}
	return shell.PathFailure("chmod", arg, err)
}

func changeOwner(_ context.Context, c *shell.Context) types.CommandResult {
	if len(c.Args) < 2 {
		return shell.Fail("chown: missing operand", "usage: chown <owner>[:group] <path...>")
	}
	owner, group, _ := strings.Cut(c.Args[0], ":")
	if owner == "" && group == "" {
		return shell.Failf("chown: invalid spec: '%s'", c.Args[0])
	}
	if _, ok := c.Registry().User(owner); owner != "" && !ok {
		return shell.Failf("chown: invalid user: '%s'", owner)
	}
	if _, ok := c.Registry().Group(group); group != "" && !ok {
		return shell.Failf("chown: invalid group: '%s'", group)
	}
	var out collector
	for _, arg := range c.Args[1:] {
		err := c.FS.Chown(c.Resolve(arg), owner, group)
		switch {
		case err == nil:
		case isPermission(err):
			out.fail(shell.Failf("chown: changing ownership of '%s': Operation not permitted", arg))
		default:
			out.fail(shell.PathFailure("chown", arg, err))
		}
	}
	return out.result()
}

func isPermission(err error) bool {
	return errors.Is(err, types.ErrPermissionDenied)
}
