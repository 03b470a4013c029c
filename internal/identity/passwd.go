package identity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ajaxzhan/simfs/pkg/types"
)

// Canonical locations of the identity files inside the virtual tree.
const (
	PasswdPath = "/etc/passwd"
	GroupPath  = "/etc/group"
)

// ValidField reports whether s can be stored in a passwd or group field
// without changing the line structure.
func ValidField(s string) bool {
	return !strings.ContainsAny(s, ":\n\r")
}

// FormatPasswd renders users as username:password:uid:gid:fullName:home:shell lines.
func FormatPasswd(users []types.User) string {
	var b strings.Builder
	for _, u := range users {
		fmt.Fprintf(&b, "%s:%s:%d:%d:%s:%s:%s\n", u.Username, u.Password, u.UID, u.GID, u.FullName, u.HomeDir, u.Shell)
	}
	return b.String()
}

// ParsePasswd parses passwd content. Blank lines and # comments are skipped.
func ParsePasswd(content string) ([]types.User, error) {
	var users []types.User
	seen := map[string]bool{}
	for n, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		f := strings.Split(line, ":")
		if len(f) != 7 {
			return nil, fmt.Errorf("passwd line %d: expected 7 fields, got %d", n+1, len(f))
		}
		if f[0] == "" {
			return nil, fmt.Errorf("passwd line %d: empty username", n+1)
		}
		if seen[f[0]] {
			return nil, fmt.Errorf("passwd line %d: duplicate user %q", n+1, f[0])
		}
		seen[f[0]] = true

		uid, err := strconv.Atoi(f[2])
		if err != nil {
			return nil, fmt.Errorf("passwd line %d: bad uid %q", n+1, f[2])
		}
		gid, err := strconv.Atoi(f[3])
		if err != nil {
			return nil, fmt.Errorf("passwd line %d: bad gid %q", n+1, f[3])
		}
		users = append(users, types.User{
			Username: f[0],
			Password: f[1],
			UID:      uid,
			GID:      gid,
			FullName: f[4],
			HomeDir:  f[5],
			Shell:    f[6],
		})
	}
	return users, nil
}

// FormatGroup renders groups as groupname:password:gid:member,member lines.
func FormatGroup(groups []types.Group) string {
	var b strings.Builder
	for _, g := range groups {
		fmt.Fprintf(&b, "%s:%s:%d:%s\n", g.GroupName, g.Password, g.GID, strings.Join(g.Members, ","))
	}
	return b.String()
}

// ParseGroup parses group content. Blank lines and # comments are skipped.
func ParseGroup(content string) ([]types.Group, error) {
	var groups []types.Group
	seen := map[string]bool{}
	for n, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		f := strings.Split(line, ":")
		if len(f) != 4 {
			return nil, fmt.Errorf("group line %d: expected 4 fields, got %d", n+1, len(f))
		}
		if f[0] == "" {
			return nil, fmt.Errorf("group line %d: empty group name", n+1)
		}
		if seen[f[0]] {
			return nil, fmt.Errorf("group line %d: duplicate group %q", n+1, f[0])
		}
		seen[f[0]] = true

		gid, err := strconv.Atoi(f[2])
		if err != nil {
			return nil, fmt.Errorf("group line %d: bad gid %q", n+1, f[2])
		}
		var members []string
		for _, m := range strings.Split(f[3], ",") {
			if m = strings.TrimSpace(m); m != "" {
				members = append(members, m)
			}
		}
		groups = append(groups, types.Group{GroupName: f[0], Password: f[1], GID: gid, Members: members})
	}
	return groups, nil
}
