package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajaxzhan/simfs/internal/logging"
	"github.com/ajaxzhan/simfs/pkg/types"
)

const backupPrefix = "snapshot-"

// FileStore keeps the snapshot in a single file, replaced atomically on
// every save. The previous file is rotated into a backup directory next
// to it before being replaced.
type FileStore struct {
	mu          sync.Mutex
	path        string
	backupDir   string
	backupCount int
	logger      *zap.Logger
}

// NewFileStore creates a file-backed store at path, keeping up to
// backupCount older snapshots.
func NewFileStore(path string, backupCount int) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("snapshot path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	backupDir := path + ".backups"
	if backupCount > 0 {
		if err := os.MkdirAll(backupDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create backup directory %s: %w", backupDir, err)
		}
	}
	return &FileStore{
		path:        path,
		backupDir:   backupDir,
		backupCount: backupCount,
		logger:      logging.Named("store"),
	}, nil
}

// Path returns the snapshot file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the snapshot file. A corrupt file falls back to the newest
// readable backup.
func (s *FileStore) Load(ctx context.Context) (*types.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	snap, decodeErr := Decode(data)
	if decodeErr == nil {
		return snap, nil
	}
	s.logger.Warn("snapshot unreadable, trying backups", zap.String("path", s.path), zap.Error(decodeErr))

	backups, err := s.listBackups()
	if err != nil {
		return nil, decodeErr
	}
	for _, b := range backups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(b)
		if err != nil {
			continue
		}
		if snap, err := Decode(data); err == nil {
			s.logger.Info("restored snapshot from backup", zap.String("backup", b))
			return snap, nil
		}
	}
	return nil, decodeErr
}

// Save writes snap to a temporary file and renames it over the current
// snapshot.
func (s *FileStore) Save(ctx context.Context, snap *types.Snapshot) error {
	if snap == nil {
		return errors.New("snapshot cannot be nil")
	}
	data, err := Encode(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.backupCount > 0 {
		if err := s.createBackup(); err != nil {
			// A failed backup must not block the save itself.
			s.logger.Warn("failed to create backup", zap.Error(err))
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	s.logger.Debug("snapshot saved", zap.String("path", s.path), zap.Int("bytes", len(data)))
	return nil
}

// Close is a no-op; every Save leaves the file complete.
func (s *FileStore) Close() error { return nil }

// createBackup copies the current snapshot into the backup directory.
func (s *FileStore) createBackup() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read snapshot for backup: %w", err)
	}

	name := backupPrefix + time.Now().UTC().Format("20060102T150405.000000000Z")
	if err := os.WriteFile(filepath.Join(s.backupDir, name), data, 0o600); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	return s.cleanupOldBackups()
}

// listBackups returns backup paths, newest first.
func (s *FileStore) listBackups() ([]string, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) {
			names = append(names, e.Name())
		}
	}
	// Timestamped names sort chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(s.backupDir, n)
	}
	return paths, nil
}

// cleanupOldBackups removes all but the newest backupCount backups.
func (s *FileStore) cleanupOldBackups() error {
	backups, err := s.listBackups()
	if err != nil {
		return err
	}
	for i := s.backupCount; i < len(backups); i++ {
		if err := os.Remove(backups[i]); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", backups[i], err)
		}
	}
	return nil
}
