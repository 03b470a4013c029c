package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajaxzhan/simfs/internal/logging"
	"github.com/ajaxzhan/simfs/pkg/types"
)

// ErrPersisterClosed is returned by Flush after Close.
var ErrPersisterClosed = errors.New("persister closed")

// SnapshotFunc captures the current state to be saved.
type SnapshotFunc func() *types.Snapshot

// Persister saves snapshots to a Store once changes have settled. Bursts
// of Notify calls inside the debounce window collapse into a single save,
// and saves whose content is unchanged since the last one are skipped.
type Persister struct {
	store    Store
	source   SnapshotFunc
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	closed  bool

	saveMu  sync.Mutex // serializes saves
	last    [32]byte
	hasLast bool
	lastErr error
}

// NewPersister creates a persister that saves source() to store
// debounce after the last Notify.
func NewPersister(store Store, source SnapshotFunc, debounce time.Duration) *Persister {
	return &Persister{
		store:    store,
		source:   source,
		debounce: debounce,
		logger:   logging.Named("persister"),
	}
}

// Prime records snap as already stored, so an identical state is not
// written again right after startup.
func (p *Persister) Prime(snap *types.Snapshot) {
	d, err := Digest(snap)
	if err != nil {
		return
	}
	p.saveMu.Lock()
	p.last, p.hasLast = d, true
	p.saveMu.Unlock()
}

// Notify signals that state changed and schedules a save.
func (p *Persister) Notify() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.pending = true
	if p.timer == nil {
		p.timer = time.AfterFunc(p.debounce, p.fire)
		return
	}
	p.timer.Reset(p.debounce)
}

func (p *Persister) fire() {
	p.mu.Lock()
	if !p.pending {
		p.mu.Unlock()
		return
	}
	p.pending = false
	p.mu.Unlock()

	if err := p.save(context.Background()); err != nil {
		p.logger.Error("background save failed", zap.Error(err))
	}
}

// Flush saves immediately if a save is pending.
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPersisterClosed
	}
	pending := p.pending
	p.pending = false
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()

	if !pending {
		return nil
	}
	return p.save(ctx)
}

// Close flushes pending changes and stops further saves.
func (p *Persister) Close(ctx context.Context) error {
	err := p.Flush(ctx)
	if errors.Is(err, ErrPersisterClosed) {
		return nil
	}
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return err
}

// LastError returns the error of the most recent save, if any.
func (p *Persister) LastError() error {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()
	return p.lastErr
}

func (p *Persister) save(ctx context.Context) error {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	snap := p.source()
	if snap == nil {
		return nil
	}
	digest, err := Digest(snap)
	if err != nil {
		p.lastErr = err
		return err
	}
	if p.hasLast && digest == p.last {
		p.logger.Debug("snapshot unchanged, skipping save")
		return nil
	}

	snap.SavedAt = time.Now().UTC()
	if err := p.store.Save(ctx, snap); err != nil {
		p.lastErr = err
		return err
	}
	p.last, p.hasLast, p.lastErr = digest, true, nil
	p.logger.Info("state persisted", zap.Int("version", snap.Version))
	return nil
}
