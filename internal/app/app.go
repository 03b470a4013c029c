// Package app wires storage, migration, the identity registry, the
// filesystem service and shells into one running instance.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ajaxzhan/simfs/internal/config"
	"github.com/ajaxzhan/simfs/internal/fs"
	"github.com/ajaxzhan/simfs/internal/identity"
	"github.com/ajaxzhan/simfs/internal/launcher"
	"github.com/ajaxzhan/simfs/internal/logging"
	"github.com/ajaxzhan/simfs/internal/migrate"
	"github.com/ajaxzhan/simfs/internal/shell"
	"github.com/ajaxzhan/simfs/internal/shell/builtin"
	"github.com/ajaxzhan/simfs/internal/store"
	"github.com/ajaxzhan/simfs/pkg/types"
)

// DefaultApps are the application ids the built-in launcher accepts.
var DefaultApps = append(append([]string{}, fs.Applications...), "calculator", "notes")

// LaunchFunc observes application launches, e.g. to print them.
type LaunchFunc func(appID string, args []string)

// Option customizes New.
type Option func(*options)

type options struct {
	store    store.Store
	ids      fs.IDGenerator
	clock    fs.Clock
	notifier fs.Notifier
	onLaunch LaunchFunc
}

// WithStore uses s instead of the store selected by the configuration.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithIDGenerator sets the node id source.
func WithIDGenerator(g fs.IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// WithClock sets the time source for node timestamps.
func WithClock(c fs.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithNotifier receives events for failed filesystem operations.
func WithNotifier(n fs.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithLaunchHandler is called whenever an application is launched.
func WithLaunchHandler(fn LaunchFunc) Option {
	return func(o *options) { o.onLaunch = fn }
}

// App is a running simfs instance.
type App struct {
	cfg       *config.Config
	store     store.Store
	persister *store.Persister
	registry  *identity.Registry
	fs        *fs.Service
	launcher  *launcher.Registry
	report    migrate.Report
	clock     fs.Clock
	logger    *zap.Logger
}

// New loads persisted state, heals it and brings up the services.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{ids: fs.UUIDGenerator{}, clock: fs.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.Named("app")

	st := o.store
	if st == nil {
		var err error
		if st, err = store.New(cfg.Storage); err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
	}

	loaded, err := st.Load(ctx)
	switch {
	case errors.Is(err, store.ErrNoSnapshot):
		logger.Info("no saved state, starting fresh")
		loaded = nil
	case err != nil:
		st.Close()
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	healed, report := migrate.Heal(loaded, migrate.Options{
		Version:     cfg.Migration.TemplateVersion,
		ForcedPaths: cfg.Migration.ForcedPaths,
		Passwords:   passwords(cfg.Identity),
		IDs:         o.ids,
		Clock:       o.clock,
	})

	reg := identity.NewRegistry(healed.Users, healed.Groups)
	fsOpts := []fs.Option{fs.WithIDGenerator(o.ids), fs.WithClock(o.clock)}
	if o.notifier != nil {
		fsOpts = append(fsOpts, fs.WithNotifier(o.notifier))
	}
	svc := fs.NewService(healed.Root, reg, fsOpts...)

	a := &App{
		cfg:      cfg,
		store:    st,
		registry: reg,
		fs:       svc,
		launcher: launcher.NewRegistry(),
		report:   report,
		clock:    o.clock,
		logger:   logger,
	}
	for _, id := range DefaultApps {
		a.launcher.Register(id, a.launchHandler(id, o.onLaunch))
	}

	a.persister = store.NewPersister(st, a.Snapshot, cfg.Storage.GetDebounce())
	if loaded != nil {
		a.persister.Prime(loaded)
	}
	svc.OnChange(a.persister.Notify)
	reg.OnChange(a.persister.Notify)

	svc.SyncIdentityFiles()
	if loaded == nil || report.Changed() {
		a.persister.Notify()
	}

	logger.Info("simfs ready",
		zap.Int("version", cfg.Migration.TemplateVersion),
		zap.String("backend", cfg.Storage.Backend),
		zap.Int("users", len(reg.Users())),
		zap.Bool("healed", report.Changed()))
	return a, nil
}

func passwords(c config.IdentityConfig) identity.Passwords {
	return identity.Passwords{Root: c.RootPassword, User: c.UserPassword, Guest: c.GuestPassword}
}

// launchHandler returns the handler for one built-in application.
func (a *App) launchHandler(appID string, observe LaunchFunc) launcher.Handler {
	return func(ctx context.Context, args []string) error {
		a.logger.Debug("application started", zap.String("app", appID), zap.Strings("args", args))
		if observe != nil {
			observe(appID, args)
		}
		return nil
	}
}

// Snapshot captures the full persistent state.
func (a *App) Snapshot() *types.Snapshot {
	return &types.Snapshot{
		Version: a.cfg.Migration.TemplateVersion,
		Root:    a.fs.Snapshot(),
		Users:   a.registry.Users(),
		Groups:  a.registry.Groups(),
	}
}

// FS returns the filesystem service.
func (a *App) FS() *fs.Service { return a.fs }

// Registry returns the identity registry.
func (a *App) Registry() *identity.Registry { return a.registry }

// Launcher returns the application launcher.
func (a *App) Launcher() *launcher.Registry { return a.launcher }

// Report describes what healing changed at startup.
func (a *App) Report() migrate.Report { return a.report }

// View returns a filesystem view acting as username.
func (a *App) View(username string) (*fs.View, error) {
	who, err := a.registry.Identity(username)
	if err != nil {
		return nil, err
	}
	return a.fs.As(who), nil
}

// NewShell starts a shell logged in as username, or as the configured
// login user when username is empty.
func (a *App) NewShell(username string) (*shell.Shell, error) {
	if username == "" {
		username = a.cfg.Identity.LoginUser
	}
	sh, err := shell.New(a.fs, shell.Options{
		LoginUser:    username,
		SearchPath:   a.cfg.Shell.SearchPath,
		AdminGroups:  a.cfg.Shell.AdminGroups,
		HistoryLimit: a.cfg.Shell.HistoryLimit,
		Launcher:     a.launcher,
		Clock:        a.clock,
	})
	if err != nil {
		return nil, err
	}
	builtin.Register(sh)
	return sh, nil
}

// NewMount prepares a FUSE view of the tree acting as username.
func (a *App) NewMount(mountPoint, username string) (*fs.MountFS, error) {
	if mountPoint == "" {
		mountPoint = a.cfg.Mount.MountPoint
	}
	if username == "" {
		username = a.cfg.Mount.User
	}
	view, err := a.View(username)
	if err != nil {
		return nil, err
	}
	return fs.NewMountFS(view, &fs.MountConfig{
		MountPoint: mountPoint,
		AllowOther: a.cfg.Mount.AllowOther,
	})
}

// Flush saves pending changes now.
func (a *App) Flush(ctx context.Context) error {
	return a.persister.Flush(ctx)
}

// Close saves pending changes and releases the store.
func (a *App) Close(ctx context.Context) error {
	err := a.persister.Close(ctx)
	err = multierr.Append(err, a.store.Close())
	if err != nil {
		a.logger.Error("shutdown incomplete", zap.Error(err))
	}
	return err
}
