// Package store persists snapshots of the virtual disk.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ajaxzhan/simfs/internal/config"
	"github.com/ajaxzhan/simfs/internal/fs"
	"github.com/ajaxzhan/simfs/pkg/types"
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("no snapshot stored")

// Store defines the interface for snapshot storage.
type Store interface {
	// Load returns the most recently saved snapshot, or ErrNoSnapshot.
	Load(ctx context.Context) (*types.Snapshot, error)

	// Save replaces the stored snapshot.
	Save(ctx context.Context, snap *types.Snapshot) error

	// Close releases any resources held by the store.
	Close() error
}

// New creates the store selected by cfg.Backend.
func New(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Path, cfg.BackupCount)
	case "sqlite":
		return NewSQLiteStore(cfg.Path, cfg.BackupCount)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// MemoryStore implements Store in memory.
// Useful for testing and throwaway sessions.
type MemoryStore struct {
	mu    sync.RWMutex
	snap  *types.Snapshot
	saves int
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the stored snapshot.
func (s *MemoryStore) Load(ctx context.Context) (*types.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snap == nil {
		return nil, ErrNoSnapshot
	}
	return cloneSnapshot(s.snap), nil
}

// Save stores a copy of snap.
func (s *MemoryStore) Save(ctx context.Context, snap *types.Snapshot) error {
	if snap == nil {
		return errors.New("snapshot cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap = cloneSnapshot(snap)
	s.saves++
	return nil
}

// Saves reports how many times Save has succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func cloneSnapshot(snap *types.Snapshot) *types.Snapshot {
	out := *snap
	out.Root = fs.DeepClone(snap.Root)
	out.Users = make([]types.User, len(snap.Users))
	for i, u := range snap.Users {
		u.Groups = append([]string(nil), u.Groups...)
		out.Users[i] = u
	}
	out.Groups = make([]types.Group, len(snap.Groups))
	for i, g := range snap.Groups {
		g.Members = append([]string(nil), g.Members...)
		out.Groups[i] = g
	}
	return &out
}
