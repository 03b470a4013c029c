package builtin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ajaxzhan/simfs/internal/fs"
	"github.com/ajaxzhan/simfs/internal/shell"
	"github.com/ajaxzhan/simfs/pkg/types"
)

const dateLayout = "Jan _2 15:04"

func fileCommands() []*shell.Command {
	return []*shell.Command{
		{Name: "ls", Description: "List directory contents", Usage: "ls [-la] [path...]", Execute: listDir},
		{Name: "pwd", Description: "Print the working directory", Usage: "pwd", Execute: printCwd},
		{Name: "cat", Description: "Print file contents", Usage: "cat <file...>", Execute: catFiles},
		{Name: "touch", Description: "Create a file or update its time", Usage: "touch <file...>", Execute: touchFiles},
		{Name: "mkdir", Description: "Create directories", Usage: "mkdir [-p] <dir...>", Execute: makeDirs},
		{Name: "rm", Description: "Remove files or directories", Usage: "rm [-rf] <path...>", Execute: removePaths},
		{Name: "rmdir", Description: "Remove empty directories", Usage: "rmdir <dir...>", Execute: removeDirs},
		{Name: "mv", Description: "Move or rename", Usage: "mv <source...> <dest>", Execute: movePaths},
		{Name: "cp", Description: "Copy files or directories", Usage: "cp [-r] <source...> <dest>", Execute: copyPaths},
		{Name: "trash", Description: "Move to the trash", Usage: "trash <path...> | trash --empty", Execute: trashPaths},
		{Name: "tree", Description: "Show a directory tree", Usage: "tree [-a] [dir]", Execute: showTree},
		{Name: "write", Hidden: true, Usage: "write <file> <content>", Execute: writeFile},
	}
}

func listDir(_ context.Context, c *shell.Context) types.CommandResult {
	opts, operands, bad := parseFlags("ls", c.Args, "la")
	if bad != nil {
		return *bad
	}
	if len(operands) == 0 {
		operands = []string{"."}
	}

	var out collector
	var dirs []string
	for _, arg := range operands {
		node, err := c.FS.GetNodeAtPath(c.Resolve(arg))
		if err != nil {
			out.fail(shell.Failf("ls: cannot access '%s': %s", arg, shell.Describe(err)))
			continue
		}
		if !node.IsDir() {
			out.add(formatEntries([]*types.FileNode{node}, opts['l'], arg)...)
			continue
		}
		dirs = append(dirs, arg)
	}
	for i, arg := range dirs {
		children, err := c.FS.ListDirectory(c.Resolve(arg))
		if err != nil {
			out.fail(shell.Failf("ls: cannot open directory '%s': %s", arg, shell.Describe(err)))
			continue
		}
		if len(operands) > 1 {
			if i > 0 || len(out.out) > 0 {
				out.add("")
			}
			out.add(arg + ":")
		}
		var visible []*types.FileNode
		for _, n := range children {
			if opts['a'] || !strings.HasPrefix(n.Name, ".") {
				visible = append(visible, n)
			}
		}
		sort.Slice(visible, func(i, j int) bool { return visible[i].Name < visible[j].Name })
		out.add(formatEntries(visible, opts['l'], "")...)
	}
	return out.result()
}

// formatEntries renders nodes for ls. A non-empty label replaces the node
// name, which is how file operands are echoed back as typed.
func formatEntries(nodes []*types.FileNode, long bool, label string) []string {
	if len(nodes) == 0 {
		return nil
	}
	name := func(n *types.FileNode) string {
		if label != "" {
			return label
		}
		return n.Name
	}
	if !long {
		names := make([]string, len(nodes))
		for i, n := range nodes {
			names[i] = name(n)
			if n.IsDir() {
				names[i] += "/"
			}
		}
		return []string{strings.Join(names, "  ")}
	}

	ownerW, groupW, sizeW := 0, 0, 0
	for _, n := range nodes {
		ownerW = max(ownerW, len(n.Owner))
		groupW = max(groupW, len(n.Group))
		sizeW = max(sizeW, len(fmt.Sprint(n.Size)))
	}
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = fmt.Sprintf("%s %-*s %-*s %*d %s %s",
			n.Permissions, ownerW, n.Owner, groupW, n.Group, sizeW, n.Size,
			n.Modified.Format(dateLayout), name(n))
	}
	return out
}

func printCwd(_ context.Context, c *shell.Context) types.CommandResult {
	return shell.OK(c.Cwd)
}

func catFiles(_ context.Context, c *shell.Context) types.CommandResult {
	if len(c.Args) == 0 {
		return shell.Fail("cat: missing file operand")
	}
	var out collector
	for _, arg := range c.Args {
		content, err := c.FS.ReadFile(c.Resolve(arg))
		if err != nil {
			out.fail(shell.PathFailure("cat", arg, err))
			continue
		}
		out.add(lines(content)...)
	}
	return out.result()
}

func touchFiles(_ context.Context, c *shell.Context) types.CommandResult {
	if len(c.Args) == 0 {
		return shell.Fail("touch: missing file operand")
	}
	var out collector
	for _, arg := range c.Args {
		p := c.Resolve(arg)
		node, err := c.FS.GetNodeAtPath(p)
		switch {
		case err == nil && node.IsDir():
			// Directories are left alone.
		case err == nil:
			err = c.FS.Touch(p)
		case errors.Is(err, types.ErrNotFound):
			dir, name := fs.Split(p)
			_, err = c.FS.CreateFile(dir, name, "")
		}
		if err != nil {
			out.fail(shell.PathFailure("touch", arg, err))
		}
	}
	return out.result()
}

func makeDirs(_ context.Context, c *shell.Context) types.CommandResult {
	opts, operands, bad := parseFlags("mkdir", c.Args, "p")
	if bad != nil {
		return *bad
	}
	if len(operands) == 0 {
		return shell.Fail("mkdir: missing operand")
	}
	var out collector
	for _, arg := range operands {
		p := c.Resolve(arg)
		var err error
		if opts['p'] {
			err = mkdirAll(c.FS, p)
		} else {
			dir, name := fs.Split(p)
			_, err = c.FS.CreateDirectory(dir, name)
		}
		if err != nil {
			out.fail(shell.Failf("mkdir: cannot create directory '%s': %s", arg, shell.Describe(err)))
		}
	}
	return out.result()
}

// mkdirAll creates p and any missing parents. Existing directories along
// the way are fine; an existing file is not.
func mkdirAll(v *fs.View, p string) error {
	cur := "/"
	for _, seg := range fs.Segments(p) {
		next := fs.Join(cur, seg)
		node, err := v.GetNodeAtPath(next)
		switch {
		case err == nil && !node.IsDir():
			return &types.PathError{Op: "mkdir", Path: next, Err: types.ErrNotDirectory}
		case err == nil:
		case errors.Is(err, types.ErrNotFound):
			if _, err := v.CreateDirectory(cur, seg); err != nil {
				return err
			}
		default:
			return err
		}
		cur = next
	}
	return nil
}

func removePaths(_ context.Context, c *shell.Context) types.CommandResult {
	opts, operands, bad := parseFlags("rm", c.Args, "rRf")
	if bad != nil {
		return *bad
	}
	recursive := opts['r'] || opts['R']
	if len(operands) == 0 {
		if opts['f'] {
			return shell.OK()
		}
		return shell.Fail("rm: missing operand")
	}
	var out collector
	for _, arg := range operands {
		p := c.Resolve(arg)
		node, err := c.FS.GetNodeAtPath(p)
		if err != nil {
			if opts['f'] && errors.Is(err, types.ErrNotFound) {
				continue
			}
			out.fail(shell.Failf("rm: cannot remove '%s': %s", arg, shell.Describe(err)))
			continue
		}
		if node.IsDir() && !recursive {
			out.fail(shell.Failf("rm: cannot remove '%s': %s", arg, shell.Describe(types.ErrIsDirectory)))
			continue
		}
		if err := c.FS.DeleteNode(p); err != nil {
			out.fail(shell.Failf("rm: cannot remove '%s': %s", arg, shell.Describe(err)))
		}
	}
	return out.result()
}

func removeDirs(_ context.Context, c *shell.Context) types.CommandResult {
	if len(c.Args) == 0 {
		return shell.Fail("rmdir: missing operand")
	}
	var out collector
	for _, arg := range c.Args {
		if err := c.FS.RemoveDirectory(c.Resolve(arg)); err != nil {
			out.fail(shell.Failf("rmdir: failed to remove '%s': %s", arg, shell.Describe(err)))
		}
	}
	return out.result()
}

// destinations maps each source operand to its full target path, the way
// mv and cp do: into dest when it is a directory, otherwise onto dest.
func destinations(c *shell.Context, cmd string, operands []string) ([]string, []string, *types.CommandResult) {
	if len(operands) < 2 {
		res := shell.Failf("%s: missing destination file operand", cmd)
		if len(operands) == 0 {
			res = shell.Failf("%s: missing file operand", cmd)
		}
		return nil, nil, &res
	}
	sources, dest := operands[:len(operands)-1], operands[len(operands)-1]
	destPath := c.Resolve(dest)
	node, err := c.FS.GetNodeAtPath(destPath)
	intoDir := err == nil && node.IsDir()
	if len(sources) > 1 && !intoDir {
		res := shell.Failf("%s: target '%s' is not a directory", cmd, dest)
		return nil, nil, &res
	}
	targets := make([]string, len(sources))
	for i, src := range sources {
		if intoDir {
			_, name := fs.Split(c.Resolve(src))
			targets[i] = fs.Join(destPath, name)
		} else {
			targets[i] = destPath
		}
	}
	return sources, targets, nil
}

func movePaths(_ context.Context, c *shell.Context) types.CommandResult {
	sources, targets, bad := destinations(c, "mv", c.Args)
	if bad != nil {
		return *bad
	}
	var out collector
	for i, src := range sources {
		p := c.Resolve(src)
		if p != targets[i] && fs.IsWithin(targets[i], p) {
			out.fail(shell.Failf("mv: cannot move '%s' to a subdirectory of itself", src))
			continue
		}
		if err := c.FS.MoveNode(p, targets[i]); err != nil {
			out.fail(shell.Failf("mv: cannot move '%s': %s", src, shell.Describe(err)))
		}
	}
	return out.result()
}

func copyPaths(_ context.Context, c *shell.Context) types.CommandResult {
	opts, operands, bad := parseFlags("cp", c.Args, "rR")
	if bad != nil {
		return *bad
	}
	sources, targets, bad := destinations(c, "cp", operands)
	if bad != nil {
		return *bad
	}
	recursive := opts['r'] || opts['R']
	var out collector
	for i, src := range sources {
		p := c.Resolve(src)
		node, err := c.FS.GetNodeAtPath(p)
		if err == nil && node.IsDir() && !recursive {
			out.fail(shell.Failf("cp: -r not specified; omitting directory '%s'", src))
			continue
		}
		if err == nil && node.IsDir() && fs.IsWithin(targets[i], p) {
			out.fail(shell.Failf("cp: cannot copy '%s' into itself", src))
			continue
		}
		if err == nil {
			_, err = c.FS.CopyNode(p, targets[i])
		}
		if err != nil {
			out.fail(shell.Failf("cp: cannot copy '%s': %s", src, shell.Describe(err)))
		}
	}
	return out.result()
}

func trashPaths(_ context.Context, c *shell.Context) types.CommandResult {
	if len(c.Args) == 1 && c.Args[0] == "--empty" {
		n, err := c.FS.EmptyTrash()
		if err != nil {
			return shell.PathFailure("trash", fs.TrashPath(c.Identity), err)
		}
		return shell.OK(fmt.Sprintf("removed %d item(s) from the trash", n))
	}
	if len(c.Args) == 0 {
		return shell.Fail("trash: missing operand")
	}
	var out collector
	for _, arg := range c.Args {
		if _, err := c.FS.MoveToTrash(c.Resolve(arg)); err != nil {
			out.fail(shell.PathFailure("trash", arg, err))
		}
	}
	return out.result()
}

func showTree(_ context.Context, c *shell.Context) types.CommandResult {
	opts, operands, bad := parseFlags("tree", c.Args, "a")
	if bad != nil {
		return *bad
	}
	if len(operands) > 1 {
		return shell.Fail("tree: too many arguments")
	}
	arg := "."
	if len(operands) == 1 {
		arg = operands[0]
	}
	root, err := c.FS.GetNodeAtPath(c.Resolve(arg))
	if err != nil {
		return shell.PathFailure("tree", arg, err)
	}
	if !root.IsDir() {
		return shell.PathFailure("tree", arg, types.ErrNotDirectory)
	}

	out := []string{arg}
	dirs, files := 0, 0
	var draw func(dir *types.FileNode, indent string)
	draw = func(dir *types.FileNode, indent string) {
		if !fs.Allowed(dir, c.Identity, types.OpRead) {
			return
		}
		var kids []*types.FileNode
		for _, k := range dir.Children {
			if opts['a'] || !strings.HasPrefix(k.Name, ".") {
				kids = append(kids, k)
			}
		}
		sort.Slice(kids, func(i, j int) bool { return kids[i].Name < kids[j].Name })
		for i, k := range kids {
			branch, next := "├── ", "│   "
			if i == len(kids)-1 {
				branch, next = "└── ", "    "
			}
			out = append(out, indent+branch+k.Name)
			if k.IsDir() {
				dirs++
				draw(k, indent+next)
			} else {
				files++
			}
		}
	}
	draw(root, "")
	out = append(out, "", fmt.Sprintf("%d directories, %d files", dirs, files))
	return shell.OK(out...)
}

// writeFile replaces a file's content, creating it when missing. Hosts use
// it to save editor buffers through the shell's permission checks.
func writeFile(_ context.Context, c *shell.Context) types.CommandResult {
	if len(c.Args) < 1 {
		return shell.Fail("write: missing file operand")
	}
	arg := c.Args[0]
	content := strings.Join(c.Args[1:], " ")
	p := c.Resolve(arg)
	err := c.FS.WriteFile(p, content)
	if errors.Is(err, types.ErrNotFound) {
		dir, name := fs.Split(p)
		_, err = c.FS.CreateFile(dir, name, content)
	}
	if err != nil {
		return shell.PathFailure("write", arg, err)
	}
	return shell.OK()
}
