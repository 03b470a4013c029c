package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/ajaxzhan/simfs/internal/shell"
	"github.com/ajaxzhan/simfs/pkg/types"
)

// Applications opened for directories and for plain files.
const (
	FilesApp  = "files"
	EditorApp = "editor"
)

func miscCommands() []*shell.Command {
	return []*shell.Command{
		{Name: "help", Description: "List commands or describe one", Usage: "help [command]", Execute: help},
		{Name: "echo", Description: "Print arguments", Usage: "echo [text...]", Execute: echo},
		{Name: "clear", Description: "Clear the screen", Usage: "clear", Execute: clearScreen},
		{Name: "history", Description: "Show or clear command history", Usage: "history [-c]", Execute: history},
		{Name: "open", Description: "Open a path with its application", Usage: "open <path>", Execute: open},
	}
}

func help(_ context.Context, c *shell.Context) types.CommandResult {
	cmds := c.Commands()
	if len(c.Args) > 0 {
		for _, cmd := range cmds {
			if cmd.Name == c.Args[0] {
				return shell.OK(cmd.Name+" - "+cmd.Description, "usage: "+cmd.Usage)
			}
		}
		return shell.Failf("help: no help topics match '%s'", c.Args[0])
	}
	width := 0
	for _, cmd := range cmds {
		width = max(width, len(cmd.Name))
	}
	out := []string{"Available commands:"}
	for _, cmd := range cmds {
		out = append(out, fmt.Sprintf("  %-*s  %s", width, cmd.Name, cmd.Description))
	}
	return shell.OK(out...)
}

func echo(_ context.Context, c *shell.Context) types.CommandResult {
	return shell.OK(strings.Join(c.Args, " "))
}

func clearScreen(_ context.Context, _ *shell.Context) types.CommandResult {
	return types.CommandResult{ShouldClear: true}
}

func history(_ context.Context, c *shell.Context) types.CommandResult {
	opts, operands, bad := parseFlags("history", c.Args, "c")
	if bad != nil {
		return *bad
	}
	if len(operands) > 0 {
		return shell.Fail("usage: history [-c]")
	}
	if opts['c'] {
		c.ClearHistory()
		return shell.OK()
	}
	entries := c.History()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = fmt.Sprintf("%5d  %s", i+1, e.Command)
	}
	return shell.OK(out...)
}

// open hands a path to the application that handles it: the file manager
// for directories, the target of a launchable script, the editor otherwise.
func open(ctx context.Context, c *shell.Context) types.CommandResult {
	if len(c.Args) != 1 {
		return shell.Fail("usage: open <path>")
	}
	arg := c.Args[0]
	p := c.Resolve(arg)
	node, err := c.FS.GetNodeAtPath(p)
	if err != nil {
		return shell.PathFailure("open", arg, err)
	}

	app := FilesApp
	if node.IsDir() && !c.FS.Allowed(p, types.OpRead) {
		return shell.PathFailure("open", arg, types.ErrPermissionDenied)
	}
	if !node.IsDir() {
		content, err := c.FS.ReadFile(p)
		if err != nil {
			return shell.PathFailure("open", arg, err)
		}
		app = EditorApp
		if target, ok := shell.ScriptTarget(content); ok {
			app = target
		}
	}
	if err := c.Launch(ctx, app, []string{p}); err != nil {
		return shell.Failf("open: %s: %s", app, shell.Describe(err))
	}
	return shell.OK()
}
