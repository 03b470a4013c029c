package fs

import (
	"go.uber.org/zap"

	"github.com/ajaxzhan/simfs/internal/identity"
	"github.com/ajaxzhan/simfs/pkg/types"
)

// SyncIdentityFiles brings /etc/passwd and /etc/group in line with the
// registry. It runs automatically on registry changes; callers use it once
// after loading state from storage.
func (s *Service) SyncIdentityFiles() {
	s.syncIdentityFiles()
}

// syncIdentityFiles regenerates /etc/passwd and /etc/group from the
// registry. Files are only rewritten when their content differs, which is
// what stops the file -> registry -> file round trip from looping.
func (s *Service) syncIdentityFiles() {
	if s.registry == nil {
		return
	}
	passwd := identity.FormatPasswd(s.registry.Users())
	group := identity.FormatGroup(s.registry.Groups())

	s.mu.Lock()
	prev := s.current()
	if fileContent(prev, identity.PasswdPath) == passwd && fileContent(prev, identity.GroupPath) == group {
		s.mu.Unlock()
		return
	}
	next := DeepClone(prev)
	wrote := s.writeSystemFile(next, identity.PasswdPath, passwd)
	wrote = s.writeSystemFile(next, identity.GroupPath, group) || wrote
	if !wrote {
		s.mu.Unlock()
		return
	}
	s.publish(next)
	s.mu.Unlock()

	s.logger.Debug("identity files regenerated")
	s.changed()
}

// writeSystemFile sets the content of p in root, creating the file owned by
// root if it is missing. It reports whether anything changed.
func (s *Service) writeSystemFile(root *types.FileNode, p, content string) bool {
	dir, name := Split(p)
	parent, err := walkDir(root, dir, System)
	if err != nil {
		s.logger.Warn("identity file directory missing", zap.String("path", dir))
		return false
	}
	node := parent.Child(name)
	if node == nil {
		node = s.newNode(name, types.KindFile, System)
		parent.Children = append(parent.Children, node)
	} else if node.IsDir() || node.Content == content {
		return false
	}
	node.Content = content
	touch(node, s.clock.Now())
	return true
}

// syncFromFiles parses edited identity files and replaces the registry
// tables when the parsed result differs from what the registry holds.
// Unparseable edits are logged and reported but never applied.
func (s *Service) syncFromFiles(root *types.FileNode, passwdChanged, groupChanged bool) {
	if s.registry == nil {
		return
	}

	if passwdChanged {
		content := fileContent(root, identity.PasswdPath)
		users, err := identity.ParsePasswd(content)
		switch {
		case err != nil:
			s.rejectIdentityEdit(identity.PasswdPath, err.Error())
		case !hasRoot(users):
			s.rejectIdentityEdit(identity.PasswdPath, "root account missing or not uid 0")
		case identity.FormatPasswd(users) != identity.FormatPasswd(s.registry.Users()):
			if err := s.registry.ReplaceUsers(users); err != nil {
				s.rejectIdentityEdit(identity.PasswdPath, err.Error())
				break
			}
			s.logger.Info("users reloaded from passwd", zap.Int("count", len(users)))
		}
	}

	if groupChanged {
		content := fileContent(root, identity.GroupPath)
		groups, err := identity.ParseGroup(content)
		switch {
		case err != nil:
			s.rejectIdentityEdit(identity.GroupPath, err.Error())
		case identity.FormatGroup(groups) != identity.FormatGroup(s.registry.Groups()):
			if err := s.registry.ReplaceGroups(groups); err != nil {
				s.rejectIdentityEdit(identity.GroupPath, err.Error())
				break
			}
			s.logger.Info("groups reloaded from group file", zap.Int("count", len(groups)))
		}
	}
}

func (s *Service) rejectIdentityEdit(path, reason string) {
	s.logger.Warn("identity file not applied", zap.String("path", path), zap.String("reason", reason))
	if s.notifier != nil {
		s.notifier.Notify(types.Event{
			Severity: types.SeverityWarning,
			Source:   EventSource,
			Message:  path + ": " + reason,
		})
	}
}

func hasRoot(users []types.User) bool {
	for _, u := range users {
		if u.Username == "root" {
			return u.UID == 0
		}
	}
	return false
}
