package shell

import (
	"sort"
	"strings"

	"github.com/ajaxzhan/simfs/internal/fs"
	"github.com/ajaxzhan/simfs/pkg/types"
)

// Completion is the result of completing a partial line.
type Completion struct {
	// Line is the input with a unique match filled in; unchanged otherwise.
	Line string
	// Matches lists every candidate when more than one matched.
	Matches []string
}

// Complete completes the last word of line. The first word completes
// against command names and executables on the search path; later words
// complete against directory entries, with directories suffixed by "/".
func (s *Shell) Complete(line string) Completion {
	who, err := s.Identity()
	if err != nil {
		return Completion{Line: line}
	}
	view := s.svc.As(who).Quiet()

	start := strings.LastIndexAny(line, " \t") + 1
	head, partial := line[:start], line[start:]

	var candidates []string
	if strings.TrimSpace(head) == "" && !strings.Contains(partial, "/") {
		candidates = s.commandCandidates(view, who, partial)
	} else {
		candidates = s.pathCandidates(view, who, partial)
	}

	switch len(candidates) {
	case 0:
		return Completion{Line: line}
	case 1:
		done := candidates[0]
		if !strings.HasSuffix(done, "/") && strings.TrimSpace(head) == "" {
			done += " "
		}
		return Completion{Line: head + done}
	}
	return Completion{Line: line, Matches: candidates}
}

func (s *Shell) commandCandidates(view *fs.View, who types.Identity, prefix string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(name string) {
		if strings.HasPrefix(name, prefix) && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	for _, c := range s.Commands() {
		add(c.Name)
	}
	for _, dir := range s.opts.SearchPath {
		entries, err := view.ListDirectory(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() && fs.Allowed(e, who, types.OpExecute) {
				add(e.Name)
			}
		}
	}
	sort.Strings(out)
	return out
}

// pathCandidates returns the completions of partial, each as the full
// word to put in its place.
func (s *Shell) pathCandidates(view *fs.View, who types.Identity, partial string) []string {
	dirPart, base := "", partial
	if i := strings.LastIndex(partial, "/"); i >= 0 {
		dirPart, base = partial[:i+1], partial[i+1:]
	}

	dir := s.Cwd()
	if dirPart != "" {
		dir = fs.Resolve(dirPart, who, s.Cwd())
	}
	entries, err := view.ListDirectory(dir)
	if err != nil {
		return nil
	}

	var out []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name, base) {
			continue
		}
		if strings.HasPrefix(e.Name, ".") && !strings.HasPrefix(base, ".") {
			continue
		}
		word := dirPart + e.Name
		if e.IsDir() {
			word += "/"
		}
		out = append(out, word)
	}
	sort.Strings(out)
	return out
}

// Suggest returns ghost text for line: the remainder of the most recent
// history entry that starts with it.
func (s *Shell) Suggest(line string) string {
	if line == "" {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.history) - 1; i >= 0; i-- {
		cmd := s.history[i].Command
		if len(cmd) > len(line) && strings.HasPrefix(cmd, line) {
			return cmd[len(line):]
		}
	}
	return ""
}
