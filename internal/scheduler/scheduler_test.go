package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPruner records prune cutoffs.
type mockPruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	removed int64
	err     error
}

func (m *mockPruner) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoffs = append(m.cutoffs, cutoff)
	return m.removed, m.err
}

func (m *mockPruner) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cutoffs)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunPrune_UsesRetention(t *testing.T) {
	pruner := &mockPruner{removed: 3}
	s := NewScheduler(pruner, Config{Retention: 48 * time.Hour}).WithLogger(quietLogger())
	now := time.Date(2026, 5, 10, 3, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	removed, err := s.RunPrune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
	require.Len(t, pruner.cutoffs, 1)
	assert.Equal(t, now.Add(-48*time.Hour), pruner.cutoffs[0])
}

func TestRunPrune_Error(t *testing.T) {
	pruner := &mockPruner{err: errors.New("database is locked")}
	s := NewScheduler(pruner, Config{}).WithLogger(quietLogger())

	_, err := s.RunPrune(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
}

func TestScheduler_StartRunsJob(t *testing.T) {
	pruner := &mockPruner{}
	s := NewScheduler(pruner, Config{Schedule: "@every 1s"}).WithLogger(quietLogger())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.False(t, s.NextRun().IsZero())
	require.Eventually(t, func() bool { return pruner.calls() > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestScheduler_StartTwice(t *testing.T) {
	s := NewScheduler(&mockPruner{}, DefaultConfig()).WithLogger(quietLogger())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Error(t, s.Start(context.Background()))
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := NewScheduler(&mockPruner{}, Config{Schedule: "not a cron"}).WithLogger(quietLogger())
	require.Error(t, s.Start(context.Background()))
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s := NewScheduler(&mockPruner{}, DefaultConfig()).WithLogger(quietLogger())
	s.Stop()
	assert.True(t, s.NextRun().IsZero())
}

func TestValidateCron(t *testing.T) {
	s := NewScheduler(&mockPruner{}, DefaultConfig())

	tests := []struct {
		expr  string
		valid bool
	}{
		{"0 30 3 * * *", true},
		{"*/10 * * * * *", true},
		{"@daily", true},
		{"0 3 * * *", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := s.ValidateCron(tt.expr)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}

	next, err := s.ParseCron("0 30 3 * * *")
	require.NoError(t, err)
	assert.Equal(t, 3, next.Hour())
	assert.Equal(t, 30, next.Minute())
}
