package builtin

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ajaxzhan/simfs/internal/fs"
	"github.com/ajaxzhan/simfs/internal/identity"
	"github.com/ajaxzhan/simfs/internal/launcher/mock"
	"github.com/ajaxzhan/simfs/internal/shell"
)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

type harness struct {
	sh       *shell.Shell
	svc      *fs.Service
	reg      *identity.Registry
	launcher *mock.MockLauncher
}

func newHarness(t *testing.T, user string) *harness {
	t.Helper()
	reg := identity.NewDefaultRegistry(identity.Passwords{Root: "rootpw", User: "userpw", Guest: "guestpw"})
	gen := &fs.SequenceGenerator{Prefix: "n"}
	tree := fs.DefaultTree(3, reg.Users(), reg.Groups(), gen, fixedClock{}.Now())
	svc := fs.NewService(tree, reg, fs.WithIDGenerator(gen), fs.WithClock(fixedClock{}))
	l := mock.New("terminal", FilesApp, EditorApp, "calculator", "notes")

	sh, err := shell.New(svc, shell.Options{LoginUser: user, Launcher: l, Clock: fixedClock{}})
	if err != nil {
		t.Fatalf("shell.New: %v", err)
	}
	Register(sh)
	return &harness{sh: sh, svc: svc, reg: reg, launcher: l}
}

// withShell returns a second shell over the same service and registry.
func (h *harness) withShell(t *testing.T, user string) *harness {
	t.Helper()
	sh, err := shell.New(h.svc, shell.Options{LoginUser: user, Launcher: h.launcher, Clock: fixedClock{}})
	if err != nil {
		t.Fatalf("shell.New: %v", err)
	}
	Register(sh)
	return &harness{sh: sh, svc: h.svc, reg: h.reg, launcher: h.launcher}
}

func (h *harness) run(t *testing.T, line string, answers ...string) shell.Outcome {
	t.Helper()
	return h.sh.Run(context.Background(), line, answers...)
}

// must runs line and fails the test if the command reports an error.
func (h *harness) must(t *testing.T, line string, answers ...string) []string {
	t.Helper()
	out := h.run(t, line, answers...)
	if out.Error {
		t.Fatalf("%s: %q", line, out.Output)
	}
	return out.Output
}

func (h *harness) view(t *testing.T, user string) *fs.View {
	t.Helper()
	id, err := h.reg.Identity(user)
	if err != nil {
		t.Fatal(err)
	}
	return h.svc.As(id)
}

func expectOutput(t *testing.T, got shell.Outcome, wantErr bool, want ...string) {
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

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		want     flags
		operands []string
		bad      string
	}{
		{"combined", []string{"-la", "x"}, flags{'l': true, 'a': true}, []string{"x"}, ""},
		{"separate", []string{"-l", "x", "-a"}, flags{'l': true, 'a': true}, []string{"x"}, ""},
		{"double dash", []string{"-l", "--", "-a"}, flags{'l': true}, []string{"-a"}, ""},
		{"lone dash", []string{"-"}, flags{}, []string{"-"}, ""},
		{"unknown", []string{"-lz"}, nil, nil, "ls: invalid option -- 'z'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, operands, bad := parseFlags("ls", tt.args, "la")
			if tt.bad != "" {
				if bad == nil || bad.Output[0] != tt.bad {
					t.Fatalf("bad = %+v, want %q", bad, tt.bad)
				}
				return
			}
			if bad != nil {
				t.Fatalf("unexpected failure %q", bad.Output)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("flags mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.operands, operands); diff != "" {
				t.Errorf("operands mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValueFlags(t *testing.T) {
	got, operands, bad := valueFlags("useradd", []string{"-p", "pw", "-Gadmin,users", "-m", "alice"}, "pcG", "m")
	if bad != nil {
		t.Fatalf("unexpected failure %q", bad.Output)
	}
	want := map[rune]string{'p': "pw", 'G': "admin,users", 'm': ""}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("flags mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"alice"}, operands); diff != "" {
		t.Errorf("operands mismatch (-want +got):\n%s", diff)
	}

	if _, _, bad := valueFlags("useradd", []string{"alice", "-p"}, "pcG", "m"); bad == nil {
		t.Error("missing option value accepted")
	}
	if _, _, bad := valueFlags("useradd", []string{"-x", "alice"}, "pcG", "m"); bad == nil {
		t.Error("unknown option accepted")
	}
}

func TestCommandsRegistered(t *testing.T) {
	h := newHarness(t, "user")
	want := []string{
		"cat", "cd", "chmod", "chown", "clear", "cp", "echo", "exit", "groupadd",
		"groupdel", "groups", "help", "history", "id", "logout", "ls", "mkdir",
		"mv", "open", "passwd", "pwd", "rm", "rmdir", "su", "sudo", "touch",
		"trash", "tree", "useradd", "userdel", "whoami",
	}
	var got []string
	for _, c := range h.sh.Commands() {
		got = append(got, c.Name)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("visible commands mismatch (-want +got):\n%s", diff)
	}
	if _, ok := h.sh.Lookup("write"); !ok {
		t.Error("hidden write command not registered")
	}
}
