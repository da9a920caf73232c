package position

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/feedreel/internal/models"
)

type memStore struct {
	mu      sync.Mutex
	rows    map[models.ItemID]models.PlaybackPosition
	failPut bool
	gets    int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[models.ItemID]models.PlaybackPosition)}
}

func (s *memStore) Get(_ context.Context, id models.ItemID) (*models.PlaybackPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	pos, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	return &pos, nil
}

func (s *memStore) Upsert(_ context.Context, pos *models.PlaybackPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut {
		return errors.New("disk full")
	}
	s.rows[pos.ItemID] = *pos
	return nil
}

func (s *memStore) Delete(_ context.Context, id models.ItemID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func TestPolicy_Resolve(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name     string
		offset   float64
		duration float64
		want     float64
	}{
		{name: "mid item resumes", offset: 12.0, duration: 30.0, want: 12.0},
		{name: "near end restarts", offset: 29.9, duration: 30.0, want: 0},
		{name: "near start restarts", offset: 0.2, duration: 30.0, want: 0},
		{name: "unknown duration resumes", offset: 45, duration: 0, want: 45},
		{name: "exactly at end threshold restarts", offset: 29, duration: 30, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, p.Resolve(tt.offset, tt.duration), 1e-9)
		})
	}
}

func TestLedger_ResumeOffset(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(10)

	require.NoError(t, l.Save(ctx, "a", 12.0, 30.0))
	require.NoError(t, l.Save(ctx, "b", 29.9, 30.0))
	require.NoError(t, l.Save(ctx, "c", 0.2, 30.0))

	assert.InDelta(t, 12.0, l.ResumeOffset(ctx, "a"), 1e-9)
	assert.Zero(t, l.ResumeOffset(ctx, "b"))
	assert.Zero(t, l.ResumeOffset(ctx, "c"))
	assert.Zero(t, l.ResumeOffset(ctx, "missing"))
}

func TestLedger_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(2)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	l.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	require.NoError(t, l.Save(ctx, "a", 5, 30))
	require.NoError(t, l.Save(ctx, "b", 5, 30))
	require.NoError(t, l.Save(ctx, "a", 6, 30))
	require.NoError(t, l.Save(ctx, "c", 5, 30))

	assert.Equal(t, 2, l.Len())
	_, ok, err := l.Get(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok, "b was the oldest entry")
	_, ok, _ = l.Get(ctx, "a")
	assert.True(t, ok)
}

func TestLedger_WriteThroughAndLoad(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	first := NewLedger(10, WithStore(store))
	require.NoError(t, first.Save(ctx, "clip", 12, 30))

	second := NewLedger(10, WithStore(store))
	assert.InDelta(t, 12.0, second.ResumeOffset(ctx, "clip"), 1e-9)
	assert.Equal(t, 1, store.gets)

	// Cached after the first load.
	second.ResumeOffset(ctx, "clip")
	assert.Equal(t, 1, store.gets)
}

func TestLedger_StoreFailureKeepsMemory(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.failPut = true
	l := NewLedger(10, WithStore(store))

	err := l.Save(ctx, "clip", 12, 30)
	require.Error(t, err)
	assert.InDelta(t, 12.0, l.ResumeOffset(ctx, "clip"), 1e-9)
}

func TestLedger_Forget(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := NewLedger(10, WithStore(store))

	require.NoError(t, l.Save(ctx, "clip", 12, 30))
	require.NoError(t, l.Forget(ctx, "clip"))

	_, ok, err := l.Get(ctx, "clip")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedger_SaveRejectsEmptyID(t *testing.T) {
	l := NewLedger(1)
	require.ErrorIs(t, l.Save(context.Background(), "", 1, 2), models.ErrInvalidItem)
}

func TestLedger_NegativeOffsetClamped(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(1)
	require.NoError(t, l.Save(ctx, "a", -3, 30))
	pos, ok, err := l.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, pos.Offset)
}
