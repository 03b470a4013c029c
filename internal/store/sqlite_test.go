package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ajaxzhan/simfs/internal/store/migrations"
)

func newTestSQLiteStore(t *testing.T, keep int) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:", keep)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t, 1)

	if _, err := s.Load(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Load on empty db = %v, want ErrNoSnapshot", err)
	}

	snap := testSnapshot(t)
	snap.SavedAt = testTime
	if err := s.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(snap, got, equateSnapshots); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteStore_Retention(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t, 2)

	for v := 1; v <= 6; v++ {
		snap := testSnapshot(t)
		snap.Version = v
		if err := s.Save(ctx, snap); err != nil {
			t.Fatalf("Save v%d: %v", v, err)
		}
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("rows = %d, want newest + 2 backups", n)
	}
	got, _ := s.Load(ctx)
	if got.Version != 6 {
		t.Errorf("latest version = %d", got.Version)
	}
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "disk.db")

	s, err := NewSQLiteStore(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, testSnapshot(t)); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewSQLiteStore(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	version, dirty, err := migrations.Version(s.db)
	if err != nil || dirty || version != 1 {
		t.Errorf("schema version = %d dirty=%v err=%v", version, dirty, err)
	}
	if _, err := s.Load(ctx); err != nil {
		t.Errorf("Load after reopen: %v", err)
	}
}
