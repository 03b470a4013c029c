// Package mock provides a mock implementation of launcher.Launcher for testing.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ajaxzhan/simfs/pkg/types"
)

// Launch records one call.
type Launch struct {
	AppID string
	Args  []string
}

// MockLauncher records launches and knows a fixed set of application ids.
type MockLauncher struct {
	mu       sync.Mutex
	known    []string
	launches []Launch

	// Hook for customizing behavior in tests
	OnLaunch func(ctx context.Context, appID string, args []string) error
}

// New creates a MockLauncher that accepts the given ids.
func New(known ...string) *MockLauncher {
	return &MockLauncher{known: known}
}

// Launch records the call. Ids outside the known set fail.
func (m *MockLauncher) Launch(ctx context.Context, appID string, args []string) error {
	if m.OnLaunch != nil {
		return m.OnLaunch(ctx, appID, args)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(m.known, appID) {
		return fmt.Errorf("%w: %s", types.ErrUnknownApplication, appID)
	}
	m.launches = append(m.launches, Launch{AppID: appID, Args: slices.Clone(args)})
	return nil
}

// Launches returns a copy of the recorded calls.
func (m *MockLauncher) Launches() []Launch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.launches)
}
