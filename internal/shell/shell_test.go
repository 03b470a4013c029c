package shell

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ajaxzhan/simfs/internal/fs"
	"github.com/ajaxzhan/simfs/internal/identity"
	"github.com/ajaxzhan/simfs/internal/launcher/mock"
	"github.com/ajaxzhan/simfs/pkg/types"
)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

type harness struct {
	sh       *Shell
	svc      *fs.Service
	reg      *identity.Registry
	launcher *mock.MockLauncher
}

// testCommands stand in for the builtin set.
func testCommands() []*Command {
	return []*Command{
		{Name: "echo", Execute: func(ctx context.Context, c *Context) types.CommandResult {
			return OK(strings.Join(c.Args, " "))
		}},
		{Name: "whoami", Execute: func(ctx context.Context, c *Context) types.CommandResult {
			return OK(c.Identity.Username)
		}},
		{Name: "touch", Execute: func(ctx context.Context, c *Context) types.CommandResult {
			for _, a := range c.Args {
				dir, name := fs.Split(c.Resolve(a))
				if _, err := c.FS.CreateFile(dir, name, ""); err != nil {
					return PathFailure("touch", a, err)
				}
			}
			return OK()
		}},
		{Name: "ask", Execute: func(ctx context.Context, c *Context) types.CommandResult {
			c.Print("before")
			name, err := c.Prompt("Name: ", types.PromptPlain)
			if err != nil {
				return Fail("ask: cancelled")
			}
			return OK("hello " + name)
		}},
		{Name: "secret", Hidden: true, Execute: func(ctx context.Context, c *Context) types.CommandResult {
			return OK("shh")
		}},
	}
}

func newHarness(t *testing.T, user string, opts ...func(*Options)) *harness {
	t.Helper()
	reg := identity.NewDefaultRegistry(identity.Passwords{Root: "rootpw", User: "userpw", Guest: "guestpw"})
	gen := &fs.SequenceGenerator{Prefix: "n"}
	tree := fs.DefaultTree(3, reg.Users(), reg.Groups(), gen, fixedClock{}.Now())
	svc := fs.NewService(tree, reg, fs.WithIDGenerator(gen), fs.WithClock(fixedClock{}))
	l := mock.New("terminal", "files", "calculator", "notes")

	o := Options{LoginUser: user, Launcher: l, Clock: fixedClock{}}
	for _, fn := range opts {
		fn(&o)
	}
	sh, err := New(svc, o)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sh.Register(testCommands()...)
	return &harness{sh: sh, svc: svc, reg: reg, launcher: l}
}

func (h *harness) run(t *testing.T, line string, answers ...string) Outcome {
	t.Helper()
	return h.sh.Run(context.Background(), line, answers...)
}

func (h *harness) view(t *testing.T, user string) *fs.View {
	t.Helper()
	id, err := h.reg.Identity(user)
	if err != nil {
		t.Fatal(err)
	}
	return h.svc.As(id)
}

func expectOutput(t *testing.T, got Outcome, wantErr bool, want ...string) {
	t.Helper()
	if got.Error != wantErr {
		t.Errorf("Error = %v, want %v (output %q)", got.Error, wantErr, got.Output)
	}
	if want == nil {
		want = []string{}
	}
	if got.Output == nil {
		got.Output = []string{}
	}
	if diff := cmp.Diff(want, got.Output); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestNew(t *testing.T) {
	h := newHarness(t, "user")
	if h.sh.Cwd() != "/home/user" || h.sh.User() != "user" || h.sh.Depth() != 1 {
		t.Errorf("start state = %s %s %d", h.sh.Cwd(), h.sh.User(), h.sh.Depth())
	}

	reg := identity.NewDefaultRegistry(identity.Passwords{})
	svc := fs.NewService(nil, reg)
	if _, err := New(svc, Options{LoginUser: "nobody"}); err == nil {
		t.Error("unknown login user should fail")
	}
	sh, err := New(svc, Options{LoginUser: "user"})
	if err != nil {
		t.Fatal(err)
	}
	if sh.Cwd() != "/" {
		t.Errorf("cwd without a home = %s, want /", sh.Cwd())
	}
}

func TestEmptyLineAndUnknownCommand(t *testing.T) {
	h := newHarness(t, "user")
	expectOutput(t, h.run(t, "   "), false)
	expectOutput(t, h.run(t, "frobnicate now"), true, "frobnicate: command not found")
	expectOutput(t, h.run(t, `echo "open`), true, "sh: "+ErrUnterminatedQuote.Error())
	if n := len(h.sh.History()); n != 2 {
		t.Errorf("history = %d, blank lines must not be recorded", n)
	}
}

func TestChangeDir(t *testing.T) {
	h := newHarness(t, "user")

	tests := []struct {
		line    string
		wantCwd string
		wantOut []string
	}{
		{"cd /Desktop", "/home/user/Desktop", nil},
		{"cd ..", "/home/user", nil},
		{"cd /tmp", "/tmp", nil},
		{"cd -", "/home/user", nil},
		{"cd", "/home/user", nil},
		{"cd /nope", "/home/user", []string{"cd: /nope: No such file or directory"}},
		{"cd /etc/motd", "/home/user", []string{"cd: /etc/motd: Not a directory"}},
		{"cd /root", "/home/user", []string{"cd: /root: Permission denied"}},
		{"cd a b", "/home/user", []string{"cd: too many arguments"}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			out := h.run(t, tt.line)
			expectOutput(t, out, tt.wantOut != nil, tt.wantOut...)
			if got := h.sh.Cwd(); got != tt.wantCwd {
				t.Errorf("cwd = %s, want %s", got, tt.wantCwd)
			}
		})
	}
}

func TestPromptString(t *testing.T) {
	h := newHarness(t, "user")
	if got := h.sh.PromptString(); got != "user@simfs:~$ " {
		t.Errorf("prompt = %q", got)
	}
	h.run(t, "cd /Desktop")
	if got := h.sh.PromptString(); got != "user@simfs:~/Desktop$ " {
		t.Errorf("prompt = %q", got)
	}
	h.run(t, "su -", "rootpw")
	if got := h.sh.PromptString(); got != "root@simfs:~# " {
		t.Errorf("root prompt = %q", got)
	}
}

func TestGlobExpansion(t *testing.T) {
	h := newHarness(t, "user")
	expectOutput(t, h.run(t, "touch b.txt a.txt c.md .hidden.txt"), false)

	expectOutput(t, h.run(t, "echo *.txt"), false, "a.txt b.txt")
	expectOutput(t, h.run(t, `echo "*.txt"`), false, "*.txt")
	expectOutput(t, h.run(t, "echo *.zip"), false, "*.zip")
	expectOutput(t, h.run(t, "echo .*"), false, ".Config .Trash .hidden.txt")
}

func TestRedirect(t *testing.T) {
	h := newHarness(t, "user")
	user := h.view(t, "user")

	expectOutput(t, h.run(t, "echo one > log.txt"), false)
	if got, _ := user.ReadFile("~/log.txt"); got != "one" {
		t.Errorf("after > content = %q", got)
	}
	expectOutput(t, h.run(t, "echo two >> log.txt"), false)
	if got, _ := user.ReadFile("~/log.txt"); got != "one\ntwo" {
		t.Errorf("after >> content = %q", got)
	}
	expectOutput(t, h.run(t, "echo three > log.txt"), false)
	if got, _ := user.ReadFile("~/log.txt"); got != "three" {
		t.Errorf("after second > content = %q", got)
	}
	expectOutput(t, h.run(t, "echo new >> fresh.txt"), false)
	if got, _ := user.ReadFile("~/fresh.txt"); got != "new" {
		t.Errorf(">> on a missing file = %q", got)
	}

	expectOutput(t, h.run(t, "echo x > /etc/motd"), true, "echo: /etc/motd: Permission denied")
	expectOutput(t, h.run(t, "echo x > /nope/f"), true, "echo: /nope/f: No such file or directory")
	expectOutput(t, h.run(t, "echo x > /Desktop"), true, "echo: /Desktop: Is a directory")
	expectOutput(t, h.run(t, "nosuch > out.txt"), true, "nosuch: command not found")
	if h.view(t, "user").Exists("~/out.txt") {
		t.Error("failed command must not create the redirect target")
	}
}

func TestScripts(t *testing.T) {
	h := newHarness(t, "user")
	user := h.view(t, "user")
	files := map[string]string{
		"run.sh":  "echo hi",
		"bash.sh": "#!/bin/bash\necho hi",
		"doom.sh": "#!doom",
		"app.sh":  "#!notes\n",
	}
	for name, content := range files {
		if _, err := user.CreateFile("~", name, content); err != nil {
			t.Fatal(err)
		}
		if err := user.Chmod("~/"+name, "755"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := user.CreateFile("~", "plain", "#!notes"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		line    string
		wantErr bool
		want    []string
	}{
		{"terminal", false, nil},
		{"calculator 1+1", false, nil},
		{"/bin/files", false, nil},
		{"./app.sh todo.txt", false, nil},
		{"./run.sh", true, []string{"sh: ./run.sh: cannot execute binary file"}},
		{"./bash.sh", true, []string{"sh: ./bash.sh: unsupported interpreter: /bin/bash"}},
		{"./doom.sh", true, []string{"sh: ./doom.sh: unsupported application: doom"}},
		{"./plain", true, []string{"sh: ./plain: Permission denied"}},
		{"./missing", true, []string{"sh: ./missing: No such file or directory"}},
		{"/Desktop", true, []string{"sh: /Desktop: Is a directory"}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			expectOutput(t, h.run(t, tt.line), tt.wantErr, tt.want...)
		})
	}

	want := []mock.Launch{
		{AppID: "terminal", Args: []string{}},
		{AppID: "calculator", Args: []string{"1+1"}},
		{AppID: "files", Args: []string{}},
		{AppID: "notes", Args: []string{"todo.txt"}},
	}
	if diff := cmp.Diff(want, h.launcher.Launches()); diff != "" {
		t.Errorf("launches mismatch (-want +got):\n%s", diff)
	}
}

func TestScriptTarget(t *testing.T) {
	tests := []struct {
		content string
		id      string
		ok      bool
	}{
		{"#!terminal\n", "terminal", true},
		{"#! notes \nrest", "notes", true},
		{"#!", "", true},
		{"echo", "", false},
	}
	for _, tt := range tests {
		id, ok := ScriptTarget(tt.content)
		if id != tt.id || ok != tt.ok {
			t.Errorf("ScriptTarget(%q) = %q, %v", tt.content, id, ok)
		}
	}
}

func TestPromptProtocol(t *testing.T) {
	h := newHarness(t, "user")
	ctx := context.Background()

	out := h.sh.Submit(ctx, "ask")
	if out.Prompt == nil || out.Prompt.Message != "Name: " || out.Prompt.Kind != types.PromptPlain {
		t.Fatalf("expected prompt, got %+v", out)
	}
	expectOutput(t, out, false, "before")
	if p, ok := h.sh.Pending(); !ok || p.Message != "Name: " {
		t.Errorf("Pending = %+v, %v", p, ok)
	}

	out = h.sh.Submit(ctx, "world")
	if out.Prompt != nil {
		t.Fatalf("unexpected second prompt: %+v", out.Prompt)
	}
	expectOutput(t, out, false, "hello world")
	if _, ok := h.sh.Pending(); ok {
		t.Error("prompt still pending")
	}

	hist := h.sh.History()
	if len(hist) != 1 || hist[0].Command != "ask" {
		t.Errorf("history = %+v, prompt answers must not be recorded", hist)
	}
}

func TestAbandon(t *testing.T) {
	h := newHarness(t, "user")
	ctx := context.Background()

	if h.sh.Abandon() {
		t.Error("Abandon with nothing pending returned true")
	}
	if out := h.sh.Submit(ctx, "ask"); out.Prompt == nil {
		t.Fatal("expected prompt")
	}
	if !h.sh.Abandon() {
		t.Fatal("Abandon returned false")
	}
	if _, ok := h.sh.Pending(); ok {
		t.Error("prompt still pending after Abandon")
	}
	expectOutput(t, h.sh.Submit(ctx, "echo next"), false, "next")

	hist := h.sh.History()
	if len(hist) != 2 || hist[0].Output[0] != "ask: cancelled" {
		t.Errorf("history = %+v", hist)
	}
}

func TestSubmit_ContextCancelled(t *testing.T) {
	h := newHarness(t, "user")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Either the command finished before the cancel was seen or its prompt
	// failed; in both cases nothing is left pending.
	h.sh.Submit(ctx, "ask")
	if _, ok := h.sh.Pending(); ok {
		t.Error("cancelled submit left a pending prompt")
	}
}

func TestHistoryLimitAndSuggest(t *testing.T) {
	h := newHarness(t, "user", func(o *Options) { o.HistoryLimit = 3 })
	for _, line := range []string{"echo a", "echo b", "whoami", "echo hello world", "cd /tmp"} {
		h.run(t, line)
	}

	hist := h.sh.History()
	var cmds []string
	for _, e := range hist {
		cmds = append(cmds, e.Command)
	}
	if diff := cmp.Diff([]string{"whoami", "echo hello world", "cd /tmp"}, cmds); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
	if hist[2].Cwd != "/home/user" || hist[2].User != "user" {
		t.Errorf("entry context = %s %s", hist[2].Cwd, hist[2].User)
	}

	tests := map[string]string{
		"ec":               "ho hello world",
		"echo hello world": "",
		"":                 "",
		"zz":               "",
		"who":              "ami",
	}
	for prefix, want := range tests {
		if got := h.sh.Suggest(prefix); got != want {
			t.Errorf("Suggest(%q) = %q, want %q", prefix, got, want)
		}
	}

	h.sh.ClearHistory()
	if len(h.sh.History()) != 0 {
		t.Error("ClearHistory left entries")
	}
}

func TestCommandsHidesHidden(t *testing.T) {
	h := newHarness(t, "user")
	for _, c := range h.sh.Commands() {
		if c.Name == "secret" {
			t.Error("hidden command listed")
		}
	}
	expectOutput(t, h.run(t, "secret"), false, "shh")
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&types.PathError{Op: "open", Path: "/x", Err: types.ErrNotFound}, "No such file or directory"},
		{&types.PermissionError{Path: "/x"}, "Permission denied"},
		{types.ErrNameCollision, "File exists"},
		{types.ErrNotEmpty, "Directory not empty"},
		{types.ErrInvalidOperation, "Invalid argument"},
		{&types.IdentityError{Op: "userdel", Name: "root", Err: types.ErrProtected}, "cannot remove a protected account"},
	}
	for _, tt := range tests {
		if got := Describe(tt.err); got != tt.want {
			t.Errorf("Describe(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
