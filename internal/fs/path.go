package fs

import (
	"strings"

	"github.com/ajaxzhan/simfs/pkg/types"
)

// HomeAliases are top-level names that resolve into the acting identity's
// home directory, so "/Desktop" means "<home>/Desktop".
var HomeAliases = []string{"Desktop", "Documents", "Downloads", "Pictures", "Music", "Videos"}

// Resolve turns a user supplied path expression into a canonical absolute
// path for who, relative to cwd.
func Resolve(expr string, who types.Identity, cwd string) string {
	home := who.HomeDir
	if home == "" {
		home = "/"
	}

	p := expr
	switch {
	case p == "~":
		p = home
	case strings.HasPrefix(p, "~/"):
		p = home + p[1:]
	}

	for _, alias := range HomeAliases {
		prefix := "/" + alias
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			p = home + p
			break
		}
	}

	if !strings.HasPrefix(p, "/") {
		if cwd == "" {
			cwd = "/"
		}
		p = cwd + "/" + p
	}
	return Normalize(p)
}

// Normalize collapses empty and "." segments and applies ".." with the
// walk clamped at the root. The result always starts with "/".
func Normalize(p string) string {
	out := make([]string, 0, 8)
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, seg)
		}
	}
	return "/" + strings.Join(out, "/")
}

// Segments returns the non-empty components of a normalized path.
func Segments(p string) []string {
	p = Normalize(p)
	if p == "/" {
		return nil
	}
	return strings.Split(p[1:], "/")
}

// Split returns the parent directory and final name of p.
// The root has parent "/" and an empty name.
func Split(p string) (dir, name string) {
	p = Normalize(p)
	if p == "/" {
		return "/", ""
	}
	i := strings.LastIndexByte(p, '/')
	if i == 0 {
		return "/", p[1:]
	}
	return p[:i], p[i+1:]
}

// Join appends name to dir and normalizes.
func Join(dir, name string) string {
	return Normalize(dir + "/" + name)
}

// IsWithin reports whether p equals dir or lies beneath it.
func IsWithin(p, dir string) bool {
	p, dir = Normalize(p), Normalize(dir)
	if dir == "/" || p == dir {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}

// ValidName reports whether name can be used for a directory entry.
func ValidName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsRune(name, '/')
}
