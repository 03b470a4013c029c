package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"

	"github.com/ajaxzhan/simfs/internal/logging"
	"github.com/ajaxzhan/simfs/internal/store/migrations"
	"github.com/ajaxzhan/simfs/pkg/types"
)

// SQLiteStore keeps a bounded history of snapshots in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	keep   int
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the database at path and brings its
// schema up to date. path may be ":memory:". backupCount older snapshots
// are kept besides the newest.
func NewSQLiteStore(path string, backupCount int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database lives and dies with it.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	if backupCount < 0 {
		backupCount = 0
	}
	return &SQLiteStore{db: db, keep: backupCount + 1, logger: logging.Named("store")}, nil
}

// Load returns the newest snapshot row.
func (s *SQLiteStore) Load(ctx context.Context) (*types.Snapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM snapshots ORDER BY id DESC LIMIT 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	return Decode(payload)
}

// Save appends snap and prunes rows beyond the retention limit.
func (s *SQLiteStore) Save(ctx context.Context, snap *types.Snapshot) error {
	if snap == nil {
		return errors.New("snapshot cannot be nil")
	}
	payload, err := Encode(snap)
	if err != nil {
		return err
	}
	digest, err := Digest(snap)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (version, saved_at, digest, payload) VALUES (?, ?, ?, ?)`,
		snap.Version, savedAt.UTC().Format(time.RFC3339Nano), digest[:], payload); err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshots WHERE id NOT IN (SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)`,
		s.keep); err != nil {
		return fmt.Errorf("pruning snapshots: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}

	s.logger.Debug("snapshot saved", zap.Int("version", snap.Version), zap.Int("bytes", len(payload)))
	return nil
}

// Count returns the number of snapshot rows retained.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting snapshots: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
