// Package position remembers where playback stopped for each item so a
// session re-created for the same item can resume.
package position

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/feedreel/internal/models"
)

// DefaultCapacity bounds the in-memory table when no capacity is given.
const DefaultCapacity = 500

// Store persists positions beyond the in-memory table.
// repository.PositionRepository satisfies it.
type Store interface {
	Get(ctx context.Context, id models.ItemID) (*models.PlaybackPosition, error)
	Upsert(ctx context.Context, pos *models.PlaybackPosition) error
	Delete(ctx context.Context, id models.ItemID) error
}

// Policy decides whether a saved offset is worth resuming from.
type Policy struct {
	// MinOffset is the offset below which playback restarts from zero.
	MinOffset time.Duration
	// EndThreshold is the distance from the end within which playback
	// restarts from zero instead of replaying a short tail.
	EndThreshold time.Duration
}

// DefaultPolicy returns the one-second thresholds used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{MinOffset: time.Second, EndThreshold: time.Second}
}

// Resolve returns the offset in seconds playback should seek to.
func (p Policy) Resolve(offset, duration float64) float64 {
	if offset < p.MinOffset.Seconds() {
		return 0
	}
	if duration > 0 && duration-offset <= p.EndThreshold.Seconds() {
		return 0
	}
	return offset
}

// Ledger is a bounded table of playback positions with oldest-first
// eviction. Writes go through to the Store when one is configured, and
// misses are loaded from it.
type Ledger struct {
	mu       sync.Mutex
	entries  map[models.ItemID]models.PlaybackPosition
	capacity int
	policy   Policy
	store    Store
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithStore enables write-through persistence.
func WithStore(store Store) Option {
	return func(l *Ledger) {
		l.store = store
	}
}

// WithPolicy overrides the resume policy.
func WithPolicy(p Policy) Option {
	return func(l *Ledger) {
		l.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLedger creates a ledger holding at most capacity positions in memory.
func NewLedger(capacity int, opts ...Option) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Ledger{
		entries:  make(map[models.ItemID]models.PlaybackPosition),
		capacity: capacity,
		policy:   DefaultPolicy(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(slog.String("component", "position_ledger"))
	return l
}

// Save records offset and duration (seconds) for id. The in-memory entry is
// updated even when the store write fails.
func (l *Ledger) Save(ctx context.Context, id models.ItemID, offset, duration float64) error {
	if id == "" {
		return fmt.Errorf("saving position: %w", models.ErrInvalidItem)
	}
	if offset < 0 {
		offset = 0
	}
	pos := models.PlaybackPosition{
		ItemID:    id,
		Offset:    offset,
		Duration:  duration,
		UpdatedAt: l.now(),
	}

	l.mu.Lock()
	l.putLocked(pos)
	l.mu.Unlock()

	l.logger.Debug("position saved",
		slog.String("item_id", string(id)),
		slog.Float64("offset", offset),
		slog.Float64("duration", duration),
	)

	if l.store == nil {
		return nil
	}
	if err := l.store.Upsert(ctx, &pos); err != nil {
		return fmt.Errorf("persisting position for %s: %w", id, err)
	}
	return nil
}

// Get returns the saved position for id, loading it from the store on a miss.
func (l *Ledger) Get(ctx context.Context, id models.ItemID) (models.PlaybackPosition, bool, error) {
	l.mu.Lock()
	pos, ok := l.entries[id]
	l.mu.Unlock()
	if ok || l.store == nil {
		return pos, ok, nil
	}

	stored, err := l.store.Get(ctx, id)
	if err != nil {
		return models.PlaybackPosition{}, false, fmt.Errorf("loading position for %s: %w", id, err)
	}
	if stored == nil {
		return models.PlaybackPosition{}, false, nil
	}

	l.mu.Lock()
	// A Save that raced the load wins.
	if current, exists := l.entries[id]; exists {
		l.mu.Unlock()
		return current, true, nil
	}
	l.putLocked(*stored)
	l.mu.Unlock()
	return *stored, true, nil
}

// ResumeOffset returns the offset a new session for id should seek to.
// Load errors are logged and treated as no saved position.
func (l *Ledger) ResumeOffset(ctx context.Context, id models.ItemID) float64 {
	pos, ok, err := l.Get(ctx, id)
	if err != nil {
		l.logger.Warn("failed to load position",
			slog.String("item_id", string(id)),
			slog.String("error", err.Error()),
		)
		return 0
	}
	if !ok {
		return 0
	}
	return l.policy.Resolve(pos.Offset, pos.Duration)
}

// Forget removes the position for id from memory and the store.
func (l *Ledger) Forget(ctx context.Context, id models.ItemID) error {
	l.mu.Lock()
	delete(l.entries, id)
	l.mu.Unlock()

	if l.store == nil {
		return nil
	}
	return l.store.Delete(ctx, id)
}

// Len returns the number of positions held in memory.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Policy returns the resume policy in use.
func (l *Ledger) Policy() Policy {
	return l.policy
}

func (l *Ledger) putLocked(pos models.PlaybackPosition) {
	if _, exists := l.entries[pos.ItemID]; !exists && len(l.entries) >= l.capacity {
		var oldest models.ItemID
		var oldestAt time.Time
		for id, e := range l.entries {
			if oldest == "" || e.UpdatedAt.Before(oldestAt) {
				oldest, oldestAt = id, e.UpdatedAt
			}
		}
		delete(l.entries, oldest)
	}
	l.entries[pos.ItemID] = pos
}
