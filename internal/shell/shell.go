// Package shell implements the command interpreter that operates on the
// virtual filesystem: tokenizing, globbing, dispatch to registered
// commands, output redirection, su/sudo sessions and the interactive
// prompt protocol.
package shell

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ajaxzhan/simfs/internal/fs"
	"github.com/ajaxzhan/simfs/internal/identity"
	"github.com/ajaxzhan/simfs/internal/logging"
	"github.com/ajaxzhan/simfs/pkg/types"
)

// Launcher starts applications named by "#!app" scripts.
type Launcher interface {
	Launch(ctx context.Context, appID string, args []string) error
}

// Options configures a Shell.
type Options struct {
	// LoginUser is the base identity of the session stack.
	LoginUser    string
	SearchPath   []string
	AdminGroups  []string
	HistoryLimit int
	Launcher     Launcher
	Clock        fs.Clock
}

// Prompt is an outstanding request for user input.
type Prompt struct {
	Message string
	Kind    types.PromptKind
}

// Outcome is what one Submit produced. When Prompt is set the command is
// suspended and the next Submit answers it.
type Outcome struct {
	Output []string
	Error  bool
	Clear  bool
	Exit   bool
	Prompt *Prompt
}

// frame is one level of the session stack.
type frame struct {
	user    string
	cwd     string
	prevCwd string
}

// Shell is one interpreter instance. Shells share the filesystem service
// and identity registry but each keeps its own session stack, working
// directory and history.
type Shell struct {
	svc      *fs.Service
	reg      *identity.Registry
	opts     Options
	launcher Launcher
	clock    fs.Clock
	logger   *zap.Logger

	cmdMu    sync.RWMutex
	commands map[string]*Command

	mu      sync.Mutex
	frames  []frame
	sudo    bool
	history []types.HistoryEntry

	submitMu sync.Mutex // one command line at a time
	pending  *run
}

// New creates a shell logged in as opts.LoginUser.
func New(svc *fs.Service, opts Options) (*Shell, error) {
	reg := svc.Registry()
	if reg == nil {
		return nil, errors.New("shell: filesystem has no identity registry")
	}
	who, err := reg.Identity(opts.LoginUser)
	if err != nil {
		return nil, fmt.Errorf("shell: %w", err)
	}
	if len(opts.SearchPath) == 0 {
		opts.SearchPath = []string{"/bin", "/usr/bin"}
	}
	if len(opts.AdminGroups) == 0 {
		opts.AdminGroups = []string{"admin", "sudo", "wheel"}
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 500
	}
	clock := opts.Clock
	if clock == nil {
		clock = fs.RealClock{}
	}

	s := &Shell{
		svc:      svc,
		reg:      reg,
		opts:     opts,
		launcher: opts.Launcher,
		clock:    clock,
		logger:   logging.Named("shell"),
		commands: make(map[string]*Command),
	}
	s.frames = []frame{{user: who.Username, cwd: s.startDir(who)}}
	s.Register(s.coreCommands()...)
	return s, nil
}

// startDir is the home directory when reachable, else /.
func (s *Shell) startDir(who types.Identity) string {
	node, err := s.svc.As(who).Quiet().GetNodeAtPath(who.HomeDir)
	if err != nil || !node.IsDir() || !fs.Allowed(node, who, types.OpExecute) {
		return "/"
	}
	return fs.Normalize(who.HomeDir)
}

// Register adds commands, replacing any with the same name.
func (s *Shell) Register(cmds ...*Command) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	for _, c := range cmds {
		s.commands[c.Name] = c
	}
}

// Lookup returns the command registered under name.
func (s *Shell) Lookup(name string) (*Command, bool) {
	s.cmdMu.RLock()
	defer s.cmdMu.RUnlock()
	c, ok := s.commands[name]
	return c, ok
}

// Commands returns the non-hidden commands sorted by name.
func (s *Shell) Commands() []*Command {
	s.cmdMu.RLock()
	defer s.cmdMu.RUnlock()
	out := make([]*Command, 0, len(s.commands))
	for _, c := range s.commands {
		if !c.Hidden {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// User returns the acting username, the top of the session stack.
func (s *Shell) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[len(s.frames)-1].user
}

// Cwd returns the current working directory.
func (s *Shell) Cwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[len(s.frames)-1].cwd
}

// Depth returns the number of sessions on the stack.
func (s *Shell) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Identity resolves the acting identity.
func (s *Shell) Identity() (types.Identity, error) {
	return s.reg.Identity(s.User())
}

// PromptString renders a conventional "user@host:dir$ " prompt.
func (s *Shell) PromptString() string {
	s.mu.Lock()
	top := s.frames[len(s.frames)-1]
	s.mu.Unlock()

	dir := top.cwd
	if u, ok := s.reg.User(top.user); ok && fs.IsWithin(dir, u.HomeDir) {
		dir = "~" + strings.TrimPrefix(dir, fs.Normalize(u.HomeDir))
	}
	mark := "$"
	if top.user == "root" {
		mark = "#"
	}
	return fmt.Sprintf("%s@simfs:%s%s ", top.user, dir, mark)
}

// History returns a copy of the executed command lines.
func (s *Shell) History() []types.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// ClearHistory forgets all executed command lines.
func (s *Shell) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

func (s *Shell) record(e types.HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, e)
	if over := len(s.history) - s.opts.HistoryLimit; over > 0 {
		s.history = slices.Delete(s.history, 0, over)
	}
}

func (s *Shell) setCwd(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	top := &s.frames[len(s.frames)-1]
	top.prevCwd, top.cwd = top.cwd, p
}

// Submit runs a command line, or answers the pending prompt when one is
// outstanding. It returns when the command finishes or suspends on a new
// prompt.
func (s *Shell) Submit(ctx context.Context, line string) Outcome {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if r := s.pending; r != nil {
		r.answers <- line
		return s.await(ctx, r)
	}

	r := newRun()
	go func() {
		res := s.execute(r.ctx, r, line)
		r.events <- event{result: res, done: true}
	}()
	return s.await(ctx, r)
}

// Pending returns the outstanding prompt, if any.
func (s *Shell) Pending() (*Prompt, bool) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	if s.pending == nil {
		return nil, false
	}
	return s.pending.current, true
}

// Abandon cancels the command waiting on a prompt. It reports whether
// there was one.
func (s *Shell) Abandon() bool {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	r := s.pending
	if r == nil {
		return false
	}
	r.cancel()
	for ev := range r.events {
		if ev.done {
			break
		}
	}
	s.pending = nil
	return true
}

func (s *Shell) await(ctx context.Context, r *run) Outcome {
	var ev event
	select {
	case ev = <-r.events:
	case <-ctx.Done():
	}
	if !ev.done && ctx.Err() != nil {
		// Let the command unwind; any prompt it is blocked on fails.
		r.cancel()
		for !ev.done {
			ev = <-r.events
		}
	}

	printed := r.drain()
	if !ev.done {
		r.current = ev.prompt
		s.pending = r
		return Outcome{Output: printed, Prompt: ev.prompt}
	}
	s.pending = nil
	r.cancel()
	return Outcome{
		Output: append(printed, ev.result.Output...),
		Error:  ev.result.Error,
		Clear:  ev.result.ShouldClear,
		Exit:   ev.result.Exit,
	}
}

// Run executes line to completion, answering prompts from answers in
// order. It is meant for scripted, non-interactive use.
func (s *Shell) Run(ctx context.Context, line string, answers ...string) Outcome {
	out := s.Submit(ctx, line)
	var printed []string
	for out.Prompt != nil {
		printed = append(printed, out.Output...)
		if len(answers) == 0 {
			s.Abandon()
			return Outcome{Output: printed, Error: true}
		}
		out = s.Submit(ctx, answers[0])
		answers = answers[1:]
	}
	out.Output = append(printed, out.Output...)
	return out
}

// execute runs one command line on the command goroutine.
func (s *Shell) execute(ctx context.Context, r *run, input string) types.CommandResult {
	input = strings.TrimSpace(input)
	if input == "" {
		return OK()
	}

	s.mu.Lock()
	top := s.frames[len(s.frames)-1]
	s.mu.Unlock()

	res := s.evaluate(ctx, r, input, top)
	s.record(types.HistoryEntry{
		Command:   input,
		Output:    res.Output,
		Error:     res.Error,
		Cwd:       top.cwd,
		User:      top.user,
		Timestamp: s.clock.Now(),
	})
	return res
}

func (s *Shell) evaluate(ctx context.Context, r *run, input string, top frame) types.CommandResult {
	who, err := s.reg.Identity(top.user)
	if err != nil {
		return Failf("sh: %s", Describe(err))
	}
	line, err := Tokenize(input)
	if err != nil {
		return Failf("sh: %v", err)
	}

	view := s.svc.As(who).Quiet()
	args := s.expand(view, top.cwd, line.Args)

	s.logger.Debug("executing", zap.String("user", who.Username), zap.String("cwd", top.cwd), zap.Strings("args", args))

	var res types.CommandResult
	name := "sh"
	if len(args) > 0 {
		name = args[0]
		res = s.dispatch(ctx, r, args, who, top.cwd)
	}
	if line.Redirect != nil && !res.Error {
		res = s.commitRedirect(view, who, top.cwd, name, line.Redirect, res)
	}
	return res
}

// expand applies glob expansion to unquoted words against cwd entries.
func (s *Shell) expand(view *fs.View, cwd string, tokens []Token) []string {
	var names []string
	listed := false
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t.Quoted || !HasGlob(t.Text) {
			out = append(out, t.Text)
			continue
		}
		if !listed {
			listed = true
			if entries, err := view.ListDirectory(cwd); err == nil {
				for _, e := range entries {
					names = append(names, e.Name)
				}
			}
		}
		out = append(out, Glob(t.Text, names)...)
	}
	return out
}

// dispatch runs args[0] as who: a registered command, a path to a script,
// or a script found on the search path.
func (s *Shell) dispatch(ctx context.Context, r *run, args []string, who types.Identity, cwd string) types.CommandResult {
	c := &Context{
		Name:     args[0],
		Args:     args[1:],
		FS:       s.svc.As(who).Quiet(),
		Cwd:      cwd,
		Identity: who,
		shell:    s,
		run:      r,
	}

	if cmd, ok := s.Lookup(c.Name); ok {
		return cmd.Execute(ctx, c)
	}
	if strings.Contains(c.Name, "/") {
		return s.runScript(ctx, c, c.Resolve(c.Name))
	}
	if p, ok := s.lookPath(c.FS, who, c.Name); ok {
		return s.runScript(ctx, c, p)
	}
	return Failf("%s: command not found", c.Name)
}

// lookPath finds an executable file named name in the search path.
func (s *Shell) lookPath(view *fs.View, who types.Identity, name string) (string, bool) {
	for _, dir := range s.opts.SearchPath {
		p := fs.Join(dir, name)
		node, err := view.GetNodeAtPath(p)
		if err == nil && !node.IsDir() && fs.Allowed(node, who, types.OpExecute) {
			return p, true
		}
	}
	return "", false
}

// runScript executes the file at p under the "#!app" convention.
func (s *Shell) runScript(ctx context.Context, c *Context, p string) types.CommandResult {
	node, err := c.FS.GetNodeAtPath(p)
	if err != nil {
		return Failf("sh: %s: %s", c.Name, Describe(err))
	}
	if node.IsDir() {
		return Failf("sh: %s: Is a directory", c.Name)
	}
	if !fs.Allowed(node, c.Identity, types.OpExecute) {
		return Failf("sh: %s: Permission denied", c.Name)
	}
	content, err := c.FS.ReadFile(p)
	if err != nil {
		return Failf("sh: %s: %s", c.Name, Describe(err))
	}

	appID, ok := ScriptTarget(content)
	if !ok {
		return Failf("sh: %s: cannot execute binary file", c.Name)
	}
	if appID == "" || strings.HasPrefix(appID, "/") {
		return Failf("sh: %s: unsupported interpreter: %s", c.Name, appID)
	}
	if err := c.Launch(ctx, appID, c.Args); err != nil {
		if errors.Is(err, types.ErrUnknownApplication) {
			return Failf("sh: %s: unsupported application: %s", c.Name, appID)
		}
		return Failf("%s: %v", c.Name, err)
	}
	return OK()
}

// ScriptTarget extracts the application id from "#!app" content.
func ScriptTarget(content string) (string, bool) {
	if !strings.HasPrefix(content, fs.ScriptMarker) {
		return "", false
	}
	first, _, _ := strings.Cut(content[len(fs.ScriptMarker):], "\n")
	return strings.TrimSpace(first), true
}

// commitRedirect writes the command's output to the redirect target.
func (s *Shell) commitRedirect(view *fs.View, who types.Identity, cwd, cmd string, redir *Redirect, res types.CommandResult) types.CommandResult {
	target := fs.Resolve(redir.Target, who, cwd)
	text := strings.Join(res.Output, "\n")

	node, err := view.GetNodeAtPath(target)
	switch {
	case err == nil && node.IsDir():
		err = types.ErrIsDirectory
	case err == nil && redir.Append:
		err = view.AppendFile(target, text)
	case err == nil:
		err = view.WriteFile(target, text)
	default:
		dir, name := fs.Split(target)
		_, err = view.CreateFile(dir, name, text)
	}
	if err != nil {
		return PathFailure(cmd, redir.Target, err)
	}
	return types.CommandResult{ShouldClear: res.ShouldClear}
}

// changeDir implements cd. It is part of the interpreter because it
// changes the working directory of the session.
func (s *Shell) changeDir(ctx context.Context, c *Context) types.CommandResult {
	arg := c.Identity.HomeDir
	if len(c.Args) > 0 {
		arg = c.Args[0]
	}
	if len(c.Args) > 1 {
		return Fail("cd: too many arguments")
	}
	if arg == "-" {
		s.mu.Lock()
		arg = s.frames[len(s.frames)-1].prevCwd
		s.mu.Unlock()
		if arg == "" {
			return Fail("cd: OLDPWD not set")
		}
	}

	p := c.Resolve(arg)
	node, err := c.FS.GetNodeAtPath(p)
	if err != nil {
		return PathFailure("cd", arg, err)
	}
	if !node.IsDir() {
		return PathFailure("cd", arg, types.ErrNotDirectory)
	}
	if !fs.Allowed(node, c.Identity, types.OpExecute) {
		return PathFailure("cd", arg, types.ErrPermissionDenied)
	}
	s.setCwd(p)
	return OK()
}

// run is one executing command line.
type run struct {
	ctx     context.Context
	cancel  context.CancelFunc
	answers chan string
	events  chan event
	current *Prompt

	mu      sync.Mutex
	printed []string
}

type event struct {
	prompt *Prompt
	result types.CommandResult
	done   bool
}

func newRun() *run {
	ctx, cancel := context.WithCancel(context.Background())
	return &run{
		ctx:     ctx,
		cancel:  cancel,
		answers: make(chan string),
		events:  make(chan event, 1),
	}
}

func (r *run) prompt(message string, kind types.PromptKind) (string, error) {
	if err := r.ctx.Err(); err != nil {
		return "", err
	}
	r.events <- event{prompt: &Prompt{Message: message, Kind: kind}}
	select {
	case answer := <-r.answers:
		return answer, nil
	case <-r.ctx.Done():
		return "", r.ctx.Err()
	}
}

func (r *run) print(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.printed = append(r.printed, line)
}

func (r *run) drain() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.printed
	r.printed = nil
	return out
}
