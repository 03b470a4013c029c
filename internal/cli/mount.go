package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ajaxzhan/simfs/internal/logging"
)

func mountCmd(g *globals) *cobra.Command {
	var allowOther bool

	cmd := &cobra.Command{
		Use:   "mount [dir]",
		Short: "Expose the virtual disk through FUSE",
		Long: `Mount the virtual disk at a host directory, acting as one user.

Every host request is checked against that user's permissions. The mount
stays up until interrupted; changes are saved on the way out.
`,
		Example: `  simfs mount /tmp/simfs/mnt --user guest`,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if allowOther {
				g.cfg.Mount.AllowOther = true
			}
			a, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			m, err := a.NewMount(dir, "")
			if err != nil {
				return err
			}
			if dir == "" {
				dir = g.cfg.Mount.MountPoint
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}

			logging.Info("Serving virtual disk",
				logging.String("mount_point", dir),
				logging.String("user", g.cfg.Mount.User),
				logging.Bool("allow_other", g.cfg.Mount.AllowOther))
			if err := m.Mount(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logging.Info("Shutting down mount...")
			return nil
		},
	}

	cmd.Flags().BoolVar(&allowOther, "allow-other", false, "let other host users access the mount")
	return cmd
}
