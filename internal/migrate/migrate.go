// Package migrate heals persisted state against a newer template on
// upgrade without discarding user modifications.
package migrate

import (
	"slices"

	"go.uber.org/zap"

	"github.com/ajaxzhan/simfs/internal/fs"
	"github.com/ajaxzhan/simfs/internal/identity"
	"github.com/ajaxzhan/simfs/internal/logging"
	"github.com/ajaxzhan/simfs/pkg/types"
)

// Report summarizes what a healing pass changed.
type Report struct {
	AddedNodes    []string
	ForcedNodes   []string
	AssignedIDs   int
	RestoredUsers []string
	HealedUsers   []string
	RestoredGroup []string
	HealedGroups  []string
	TreeReset     bool
}

// Changed reports whether the pass modified anything.
func (r Report) Changed() bool {
	return len(r.AddedNodes) > 0 || len(r.ForcedNodes) > 0 || r.AssignedIDs > 0 ||
		len(r.RestoredUsers) > 0 || len(r.HealedUsers) > 0 || len(r.RestoredGroup) > 0 || len(r.HealedGroups) > 0 || r.TreeReset
}

// MigrateTree merges template into stored and returns the result. Children
// missing from stored are copied in from template; directories present in
// both are merged recursively; stored files are kept as they are unless
// their path is in forced. Neither input is modified.
func MigrateTree(stored, template *types.FileNode, forced []string) (*types.FileNode, Report) {
	var rep Report
	if stored == nil || !stored.IsDir() {
		logging.Warn("stored tree unusable, falling back to template")
		rep.TreeReset = true
		return fs.DeepClone(template), rep
	}
	out := fs.DeepClone(stored)
	if template != nil {
		merge(out, template, "/", forced, &rep)
	}
	return out, rep
}

func merge(dst, tmpl *types.FileNode, dir string, forced []string, rep *Report) {
	for _, tc := range tmpl.Children {
		p := fs.Join(dir, tc.Name)
		sc := dst.Child(tc.Name)

		switch {
		case sc == nil:
			dst.Children = append(dst.Children, fs.DeepClone(tc))
			rep.AddedNodes = append(rep.AddedNodes, p)

		case sc.IsDir() != tc.IsDir():
			// The user replaced a template entry with a different kind; theirs wins.
			logging.Debug("kind mismatch during migration, keeping stored node", zap.String("path", p))

		case sc.IsDir():
			merge(sc, tc, p, forced, rep)

		case slices.Contains(forced, p) && sc.Content != tc.Content:
			id := sc.ID
			*sc = *fs.DeepClone(tc)
			sc.ID = id
			rep.ForcedNodes = append(rep.ForcedNodes, p)
		}
	}
}

// MigrateUsers re-inserts missing protected defaults and repairs their
// critical fields. Unrelated stored users are kept untouched.
func MigrateUsers(stored, defaults []types.User) ([]types.User, Report) {
	var rep Report
	out := make([]types.User, 0, len(stored)+len(defaults))
	for _, u := range stored {
		u.Groups = slices.Clone(u.Groups)
		out = append(out, u)
	}

	for _, d := range defaults {
		i := slices.IndexFunc(out, func(u types.User) bool { return u.Username == d.Username })
		if i < 0 {
			d.Groups = slices.Clone(d.Groups)
			out = append(out, d)
			rep.RestoredUsers = append(rep.RestoredUsers, d.Username)
			continue
		}

		u := &out[i]
		healed := false
		if d.Username == "root" && (u.UID != 0 || u.GID != 0) {
			u.UID, u.GID = 0, 0
			healed = true
		}
		if u.Password == "" && d.Password != "" {
			u.Password = d.Password
			healed = true
		}
		if u.HomeDir == "" {
			u.HomeDir = d.HomeDir
			healed = true
		}
		if u.Shell == "" {
			u.Shell = d.Shell
			healed = true
		}
		if healed {
			rep.HealedUsers = append(rep.HealedUsers, u.Username)
		}
	}

	// root must come first so the passwd file reads naturally.
	slices.SortStableFunc(out, func(a, b types.User) int {
		switch {
		case a.Username == "root" && b.Username != "root":
			return -1
		case b.Username == "root" && a.Username != "root":
			return 1
		}
		return 0
	})
	return out, rep
}

// MigrateGroups re-inserts missing protected default groups, restores the
// root gid, and makes sure default members are still listed.
func MigrateGroups(stored, defaults []types.Group) ([]types.Group, Report) {
	var rep Report
	out := make([]types.Group, 0, len(stored)+len(defaults))
	for _, g := range stored {
		g.Members = slices.Clone(g.Members)
		out = append(out, g)
	}

	for _, d := range defaults {
		i := slices.IndexFunc(out, func(g types.Group) bool { return g.GroupName == d.GroupName })
		if i < 0 {
			d.Members = slices.Clone(d.Members)
			out = append(out, d)
			rep.RestoredGroup = append(rep.RestoredGroup, d.GroupName)
			continue
		}
		g := &out[i]
		healed := false
		if d.GroupName == "root" && g.GID != 0 {
			g.GID = 0
			healed = true
		}
		for _, m := range d.Members {
			if !slices.Contains(g.Members, m) {
				g.Members = append(g.Members, m)
				healed = true
			}
		}
		if healed {
			rep.HealedGroups = append(rep.HealedGroups, g.GroupName)
		}
	}
	return out, rep
}

// Options drive a full healing pass.
type Options struct {
	Version     int
	ForcedPaths []string
	Passwords   identity.Passwords
	IDs         fs.IDGenerator
	Clock       fs.Clock
}

// Heal brings a loaded snapshot up to date. A nil snapshot yields a fresh
// default image. The returned snapshot carries opts.Version.
func Heal(snap *types.Snapshot, opts Options) (*types.Snapshot, Report) {
	if opts.IDs == nil {
		opts.IDs = fs.UUIDGenerator{}
	}
	if opts.Clock == nil {
		opts.Clock = fs.RealClock{}
	}
	defUsers := identity.DefaultUsers(opts.Passwords)
	defGroups := identity.DefaultGroups()

	if snap == nil {
		tree := fs.DefaultTree(opts.Version, defUsers, defGroups, opts.IDs, opts.Clock.Now())
		return &types.Snapshot{Version: opts.Version, Root: tree, Users: defUsers, Groups: defGroups}, Report{TreeReset: true}
	}

	users, urep := MigrateUsers(snap.Users, defUsers)
	groups, grep := MigrateGroups(snap.Groups, defGroups)

	var rep Report
	rep.RestoredUsers, rep.HealedUsers = urep.RestoredUsers, urep.HealedUsers
	rep.RestoredGroup, rep.HealedGroups = grep.RestoredGroup, grep.HealedGroups

	out := &types.Snapshot{Version: snap.Version, Root: fs.DeepClone(snap.Root), Users: users, Groups: groups, SavedAt: snap.SavedAt}

	// Tree merging only runs on upgrade; same-version loads just repair ids.
	if snap.Version < opts.Version || out.Root == nil || !out.Root.IsDir() {
		tmpl := fs.DefaultTree(opts.Version, users, groups, opts.IDs, opts.Clock.Now())
		root, trep := MigrateTree(out.Root, tmpl, opts.ForcedPaths)
		out.Root = root
		rep.AddedNodes, rep.ForcedNodes, rep.TreeReset = trep.AddedNodes, trep.ForcedNodes, trep.TreeReset
		out.Version = opts.Version
	}
	rep.AssignedIDs = fs.EnsureIDs(out.Root, opts.IDs)

	if rep.Changed() {
		logging.Info("state healed",
			zap.Int("version", out.Version),
			zap.Int("added_nodes", len(rep.AddedNodes)),
			zap.Int("forced_nodes", len(rep.ForcedNodes)),
			zap.Int("assigned_ids", rep.AssignedIDs),
			zap.Strings("restored_users", rep.RestoredUsers),
			zap.Strings("healed_users", rep.HealedUsers),
			zap.Strings("restored_groups", rep.RestoredGroup),
			zap.Strings("healed_groups", rep.HealedGroups))
	}
	return out, rep
}
