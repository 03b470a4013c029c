// Package builtin provides the standard command set of the shell.
package builtin

import (
	"strings"

	"github.com/ajaxzhan/simfs/internal/shell"
	"github.com/ajaxzhan/simfs/pkg/types"
)

// Commands returns every builtin command.
func Commands() []*shell.Command {
	var out []*shell.Command
	out = append(out, fileCommands()...)
	out = append(out, permCommands()...)
	out = append(out, accountCommands()...)
	out = append(out, miscCommands()...)
	return out
}

// Register installs the builtin commands into sh.
func Register(sh *shell.Shell) {
	sh.Register(Commands()...)
}

// flags holds parsed single-letter options.
type flags map[rune]bool

// parseFlags splits args into single-letter options and operands.
// Combined options ("-la") are accepted and "--" ends option parsing.
// A letter outside allowed yields a failed result.
func parseFlags(cmd string, args []string, allowed string) (flags, []string, *types.CommandResult) {
	set := flags{}
	var operands []string
	done := false
	for _, a := range args {
		if done || a == "-" || !strings.HasPrefix(a, "-") {
			operands = append(operands, a)
			continue
		}
		if a == "--" {
			done = true
			continue
		}
		for _, r := range a[1:] {
			if !strings.ContainsRune(allowed, r) {
				res := shell.Failf("%s: invalid option -- '%c'", cmd, r)
				return nil, nil, &res
			}
			set[r] = true
		}
	}
	return set, operands, nil
}

// collector gathers output and failures across several operands, so one
// bad operand does not stop the others.
type collector struct {
	out    []string
	failed bool
}

func (c *collector) add(lines ...string) {
	c.out = append(c.out, lines...)
}

func (c *collector) fail(res types.CommandResult) {
	c.out = append(c.out, res.Output...)
	c.failed = true
}

func (c *collector) result() types.CommandResult {
	return types.CommandResult{Output: c.out, Error: c.failed}
}

// lines splits file content for display, dropping one trailing newline.
func lines(content string) []string {
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}
