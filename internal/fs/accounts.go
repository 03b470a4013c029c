package fs

import (
	"go.uber.org/zap"

	"github.com/ajaxzhan/simfs/internal/identity"
	"github.com/ajaxzhan/simfs/pkg/types"
)

// AddUser creates an account through the registry and provisions its home
// directory. The identity files follow through the registry change hook.
func (s *Service) AddUser(actor types.Identity, nu identity.NewUser) (types.User, error) {
	u, err := s.registry.AddUser(actor, nu)
	if err != nil {
		return types.User{}, err
	}
	id, err := s.registry.Identity(u.Username)
	if err != nil {
		return u, err
	}

	err = s.mutate(func(root *types.FileNode) error {
		parentPath, name := Split(u.HomeDir)
		parent, err := walkDir(root, parentPath, System)
		if err != nil {
			return err
		}
		if parent.Child(name) != nil {
			s.logger.Warn("home directory already exists", zap.String("path", u.HomeDir))
			return nil
		}
		parent.Children = append(parent.Children, ProvisionHome(u, id.PrimaryGroup, s.ids, s.clock.Now()))
		touch(parent, s.clock.Now())
		return nil
	})
	if err != nil {
		return u, s.report(actor, "useradd", u.HomeDir, err, false)
	}
	return u, nil
}

// DeleteUser removes an account and, when removeHome is set, its home
// directory.
func (s *Service) DeleteUser(actor types.Identity, username string, removeHome bool) error {
	u, err := s.registry.DeleteUser(actor, username)
	if err != nil {
		return err
	}
	if !removeHome {
		return nil
	}

	err = s.mutate(func(root *types.FileNode) error {
		node, parent, err := walk(root, u.HomeDir, System)
		if err != nil || parent == nil {
			return nil
		}
		removeChild(parent, node.ID)
		touch(parent, s.clock.Now())
		return nil
	})
	if err != nil {
		return s.report(actor, "userdel", u.HomeDir, err, false)
	}
	return nil
}
