package shell

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ajaxzhan/simfs/pkg/types"
)

// coreCommands are the commands that manipulate interpreter state.
func (s *Shell) coreCommands() []*Command {
	return []*Command{
		{
			Name:        "cd",
			Description: "Change the working directory",
			Usage:       "cd [dir]",
			Execute:     s.changeDir,
		},
		{
			Name:        "su",
			Description: "Switch to another user",
			Usage:       "su [-] [user]",
			Execute:     s.switchUser,
		},
		{
			Name:        "sudo",
			Description: "Run a command as root",
			Usage:       "sudo -s | sudo <command> [args...]",
			Execute:     s.sudoCommand,
		},
		{
			Name:        "exit",
			Description: "Leave the current session",
			Usage:       "exit",
			Execute:     s.exitSession,
		},
		{
			Name:        "logout",
			Description: "Leave the current session",
			Usage:       "logout",
			Execute:     s.exitSession,
		},
	}
}

// push adds a session for username. login starts it in the home directory
// instead of the current one.
func (s *Shell) push(who types.Identity, login bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cwd := s.frames[len(s.frames)-1].cwd
	if login {
		cwd = s.startDir(who)
	}
	s.frames = append(s.frames, frame{user: who.Username, cwd: cwd})
	s.logger.Info("session pushed", zap.String("user", who.Username), zap.Int("depth", len(s.frames)))
}

// pop removes the top session. The base session is never removed.
func (s *Shell) pop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.frames) <= 1 {
		return false
	}
	s.frames = s.frames[:len(s.frames)-1]
	s.logger.Info("session popped", zap.String("user", s.frames[len(s.frames)-1].user), zap.Int("depth", len(s.frames)))
	return true
}

func (s *Shell) sudoAuthorized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sudo
}

func (s *Shell) authorizeSudo() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sudo = true
}

// switchUser implements su. No password is asked when the acting identity
// is root or sudo was already authorized in this shell.
func (s *Shell) switchUser(ctx context.Context, c *Context) types.CommandResult {
	login := false
	target := "root"
	for _, a := range c.Args {
		switch {
		case a == "-" || a == "-l" || a == "--login":
			login = true
		case strings.HasPrefix(a, "-"):
			return Failf("su: invalid option -- '%s'", strings.TrimLeft(a, "-"))
		default:
			target = a
		}
	}

	who, err := s.reg.Identity(target)
	if err != nil {
		return Failf("su: user %s does not exist", target)
	}

	if !c.Identity.IsRoot() && !s.sudoAuthorized() {
		password, err := c.Prompt("Password: ", types.PromptSecret)
		if err != nil {
			return Fail("su: Authentication failure")
		}
		if !s.reg.Verify(target, password) {
			s.logger.Info("su authentication failed", zap.String("from", c.Identity.Username), zap.String("to", target))
			return Fail("su: Authentication failure")
		}
	}

	s.push(who, login)
	return OK()
}

// sudoCommand implements sudo. Authorization requires root or admin group
// membership; the password is asked once per shell.
func (s *Shell) sudoCommand(ctx context.Context, c *Context) types.CommandResult {
	if len(c.Args) == 0 {
		return Fail("usage: sudo -s | sudo <command> [args...]")
	}

	if !c.Identity.IsRoot() {
		if !s.reg.IsAdmin(c.Identity.Username, s.opts.AdminGroups) {
			s.logger.Warn("sudo denied", zap.String("user", c.Identity.Username), zap.Strings("args", c.Args))
			return Failf("%s is not in the sudoers file. This incident will be reported.", c.Identity.Username)
		}
		if !s.sudoAuthorized() {
			password, err := c.Prompt("[sudo] password for "+c.Identity.Username+": ", types.PromptSecret)
			if err != nil || !s.reg.Verify(c.Identity.Username, password) {
				return Fail("sudo: 1 incorrect password attempt")
			}
			s.authorizeSudo()
		}
	}

	root, err := s.reg.Identity("root")
	if err != nil {
		return Failf("sudo: %s", Describe(err))
	}

	if c.Args[0] == "-s" || c.Args[0] == "-i" {
		s.push(root, c.Args[0] == "-i")
		return OK()
	}
	if c.Args[0] == "cd" {
		return Fail("sudo: cd: command not found")
	}
	return s.dispatch(ctx, c.run, c.Args, root, c.Cwd)
}

// exitSession pops one session. At the base session it asks the host to
// close the shell instead.
func (s *Shell) exitSession(ctx context.Context, c *Context) types.CommandResult {
	if s.pop() {
		return OK()
	}
	return types.CommandResult{Exit: true}
}
