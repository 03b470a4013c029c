package shell

import (
	"context"
	"errors"
	"fmt"

	"github.com/ajaxzhan/simfs/internal/fs"
	"github.com/ajaxzhan/simfs/internal/identity"
	"github.com/ajaxzhan/simfs/pkg/types"
)

// Command is a registered shell command.
type Command struct {
	Name        string
	Description string
	Usage       string
	// Hidden commands run but are not listed by help or completion.
	Hidden  bool
	Execute func(ctx context.Context, c *Context) types.CommandResult
}

// Context is everything a command may use while it runs.
type Context struct {
	// Name is the command name as typed.
	Name string
	Args []string
	// FS is scoped to the acting identity. It does not emit
	// notifications; the shell reports failures itself.
	FS       *fs.View
	Cwd      string
	Identity types.Identity

	shell *Shell
	run   *run
}

// Resolve turns a path argument into an absolute path.
func (c *Context) Resolve(p string) string {
	return fs.Resolve(p, c.Identity, c.Cwd)
}

// Prompt asks the user for input and blocks until Submit delivers it.
func (c *Context) Prompt(message string, kind types.PromptKind) (string, error) {
	return c.run.prompt(message, kind)
}

// Print streams a line of output ahead of the command's result.
func (c *Context) Print(line string) {
	c.run.print(line)
}

// Registry returns the identity registry.
func (c *Context) Registry() *identity.Registry {
	return c.shell.reg
}

// Service returns the filesystem service, for account operations that
// touch both identities and the tree.
func (c *Context) Service() *fs.Service {
	return c.shell.svc
}

// Commands returns the visible commands, sorted by name.
func (c *Context) Commands() []*Command {
	return c.shell.Commands()
}

// History returns the executed command lines, oldest first.
func (c *Context) History() []types.HistoryEntry {
	return c.shell.History()
}

// ClearHistory forgets all executed command lines.
func (c *Context) ClearHistory() {
	c.shell.ClearHistory()
}

// SudoAuthorized reports whether sudo has been authorized in this shell.
func (c *Context) SudoAuthorized() bool {
	return c.shell.sudoAuthorized()
}

// Launch starts an application through the shell's launcher.
func (c *Context) Launch(ctx context.Context, appID string, args []string) error {
	if c.shell.launcher == nil {
		return fmt.Errorf("%w: %s", types.ErrUnknownApplication, appID)
	}
	return c.shell.launcher.Launch(ctx, appID, args)
}

// OK returns a successful result with the given output lines.
func OK(lines ...string) types.CommandResult {
	return types.CommandResult{Output: lines}
}

// Fail returns a failed result with the given output lines.
func Fail(lines ...string) types.CommandResult {
	return types.CommandResult{Output: lines, Error: true}
}

// Failf returns a failed result with one formatted line.
func Failf(format string, args ...any) types.CommandResult {
	return Fail(fmt.Sprintf(format, args...))
}

// PathFailure formats err as "<cmd>: <path>: <message>".
func PathFailure(cmd, path string, err error) types.CommandResult {
	return Failf("%s: %s: %s", cmd, path, Describe(err))
}

// Describe renders err with conventional command line phrasing.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, types.ErrNotFound):
		return "No such file or directory"
	case errors.Is(err, types.ErrPermissionDenied):
		return "Permission denied"
	case errors.Is(err, types.ErrNameCollision):
		return "File exists"
	case errors.Is(err, types.ErrNotDirectory):
		return "Not a directory"
	case errors.Is(err, types.ErrIsDirectory):
		return "Is a directory"
	case errors.Is(err, types.ErrNotEmpty):
		return "Directory not empty"
	case errors.Is(err, types.ErrInvalidMode):
		return "invalid mode"
	case errors.Is(err, types.ErrProtected):
		return "cannot remove a protected account"
	case errors.Is(err, types.ErrUserNotFound):
		return "user does not exist"
	case errors.Is(err, types.ErrGroupNotFound):
		return "group does not exist"
	case errors.Is(err, types.ErrIdentityExists):
		return "already exists"
	case errors.Is(err, types.ErrAuthentication):
		return "Authentication failure"
	case errors.Is(err, types.ErrUnknownApplication):
		return "unsupported application"
	case errors.Is(err, types.ErrInvalidOperation):
		return "Invalid argument"
	}
	return err.Error()
}
