package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ajaxzhan/simfs/pkg/types"
)

// accountView is what `simfs users` prints for one account.
type accountView struct {
	Username string   `yaml:"username"`
	UID      int      `yaml:"uid"`
	GID      int      `yaml:"gid"`
	FullName string   `yaml:"full_name,omitempty"`
	HomeDir  string   `yaml:"home_dir"`
	Shell    string   `yaml:"shell"`
	Groups   []string `yaml:"groups,omitempty"`
}

func usersCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "Show the user table",
		Long: `Show the user table of the virtual disk in YAML.

Passwords are never printed. Groups lists every group the user belongs to,
the primary group first.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			var out []accountView
			for _, u := range a.Registry().Users() {
				out = append(out, toAccountView(u, a.Registry().Identity))
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("failed to encode users: %w", err)
			}
			return enc.Close()
		},
	}
}

func toAccountView(u types.User, resolve func(string) (types.Identity, error)) accountView {
	v := accountView{
		Username: u.Username,
		UID:      u.UID,
		GID:      u.GID,
		FullName: u.FullName,
		HomeDir:  u.HomeDir,
		Shell:    u.Shell,
	}
	if who, err := resolve(u.Username); err == nil {
		if who.PrimaryGroup != "" {
			v.Groups = append(v.Groups, who.PrimaryGroup)
		}
		v.Groups = append(v.Groups, who.Groups...)
	}
	return v
}
