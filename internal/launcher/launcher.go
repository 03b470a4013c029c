// Package launcher defines how "#!app" scripts start applications.
// Different implementations (an in-process registry, a host bridge, a
// test mock) can be used interchangeably.
package launcher

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajaxzhan/simfs/internal/logging"
	"github.com/ajaxzhan/simfs/pkg/types"
)

// Launcher starts the application named by appID.
type Launcher interface {
	// Launch starts appID with args. Unknown ids return
	// types.ErrUnknownApplication.
	Launch(ctx context.Context, appID string, args []string) error
}

// Handler starts one application.
type Handler func(ctx context.Context, args []string) error

// Registry is a Launcher backed by a table of handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logging.Named("launcher"),
	}
}

// Register installs h for appID, replacing any previous handler.
func (r *Registry) Register(appID string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[appID] = h
}

// Apps returns the registered ids, sorted.
func (r *Registry) Apps() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Launch runs the handler registered for appID.
func (r *Registry) Launch(ctx context.Context, appID string, args []string) error {
	r.mu.RLock()
	h, ok := r.handlers[appID]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug("unknown application", zap.String("app", appID))
		return fmt.Errorf("%w: %s", types.ErrUnknownApplication, appID)
	}
	r.logger.Info("launching application", zap.String("app", appID), zap.Strings("args", args))
	return h(ctx, args)
}
