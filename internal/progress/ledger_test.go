package progress

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jmylchreest/feedreel/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(capacity int) *Ledger {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewLedger(capacity, logger)
}

// fakeClock advances one millisecond per call so update order is deterministic.
func fakeClock() func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	}
}

func TestLedger_Lifecycle(t *testing.T) {
	l := newTestLedger(10)

	l.Queue("a")
	entry, ok := l.Get("a")
	require.True(t, ok)
	assert.Equal(t, PhaseQueued, entry.Phase)

	l.Fetching("a", 0.3)
	l.Fetching("a", 0.6)
	entry, _ = l.Get("a")
	assert.Equal(t, PhaseFetching, entry.Phase)
	assert.InDelta(t, 0.6, entry.Percent, 1e-9)

	l.ResourceReady("a")
	assert.False(t, l.IsPlaybackReady("a"))
	l.PlaybackReady("a")
	assert.True(t, l.IsPlaybackReady("a"))
}

func TestLedger_IsSettled(t *testing.T) {
	l := newTestLedger(10)

	assert.False(t, l.IsSettled("a"))
	l.Queue("a")
	l.Fetching("a", 0.5)
	assert.False(t, l.IsSettled("a"))
	l.PlaybackReady("a")
	assert.True(t, l.IsSettled("a"))

	l.Queue("b")
	l.Fail("b", "not found")
	assert.True(t, l.IsSettled("b"))
	assert.False(t, l.IsPlaybackReady("b"))
}

func TestLedger_PercentIsMonotonicWithinPhase(t *testing.T) {
	l := newTestLedger(10)
	l.Queue("a")
	l.Fetching("a", 0.8)
	l.Fetching("a", 0.2)

	entry, _ := l.Get("a")
	assert.InDelta(t, 0.8, entry.Percent, 1e-9)

	l.Fetching("a", 7)
	entry, _ = l.Get("a")
	assert.InDelta(t, 1.0, entry.Percent, 1e-9)
}

func TestLedger_PhasesDoNotGoBackwards(t *testing.T) {
	l := newTestLedger(10)
	l.Queue("a")
	l.PlaybackReady("a")
	l.Fetching("a", 0.5)

	entry, _ := l.Get("a")
	assert.Equal(t, PhasePlaybackReady, entry.Phase)

	l.Fail("a", "decode error")
	l.PlaybackReady("a")
	entry, _ = l.Get("a")
	assert.Equal(t, PhaseFailed, entry.Phase)
	assert.Equal(t, "decode error", entry.Note)

	// a second failure keeps the first note
	l.Fail("a", "other")
	entry, _ = l.Get("a")
	assert.Equal(t, "decode error", entry.Note)
}

func TestLedger_QueueRestarts(t *testing.T) {
	l := newTestLedger(10)
	l.Queue("a")
	l.Fail("a", "missing")

	l.Queue("a")
	entry, _ := l.Get("a")
	assert.Equal(t, PhaseQueued, entry.Phase)
	assert.Zero(t, entry.Percent)
	assert.Empty(t, entry.Note)
}

func TestLedger_EvictsOldestUpdated(t *testing.T) {
	l := newTestLedger(3)
	l.now = fakeClock()

	l.Queue("a")
	l.Queue("b")
	l.Queue("c")
	l.Fetching("a", 0.1) // a is now the most recent

	l.Queue("d")
	assert.Equal(t, 3, l.Len())
	_, ok := l.Get("b")
	assert.False(t, ok, "oldest-updated entry should be evicted")
	_, ok = l.Get("a")
	assert.True(t, ok)
}

func TestLedger_ListOrder(t *testing.T) {
	l := newTestLedger(10)
	l.now = fakeClock()
	for i := range 3 {
		l.Queue(models.ItemID(fmt.Sprintf("item-%d", i)))
	}

	list := l.List()
	require.Len(t, list, 3)
	assert.Equal(t, models.ItemID("item-2"), list[0].ItemID)
	assert.Equal(t, models.ItemID("item-0"), list[2].ItemID)
}

func TestLedger_Annotate(t *testing.T) {
	l := newTestLedger(10)
	l.Annotate("missing", "cancelled")
	assert.Equal(t, 0, l.Len())

	l.Queue("a")
	l.Fetching("a", 0.4)
	l.Annotate("a", "cancelled")
	entry, _ := l.Get("a")
	assert.Equal(t, PhaseFetching, entry.Phase)
	assert.Equal(t, "cancelled", entry.Note)
}

func TestLedger_Subscribe(t *testing.T) {
	l := newTestLedger(10)
	sub := l.Subscribe()
	require.NotEmpty(t, sub.ID)

	l.Queue("a")
	l.PlaybackReady("a")

	first := <-sub.Events
	assert.Equal(t, EventTypeProgress, first.EventType)
	assert.Equal(t, PhaseQueued, first.Entry.Phase)

	second := <-sub.Events
	assert.Equal(t, EventTypeReady, second.EventType)

	l.Unsubscribe(sub.ID)
	_, open := <-sub.Events
	assert.False(t, open)

	// unsubscribing twice is harmless
	l.Unsubscribe(sub.ID)
}

func TestLedger_SlowSubscriberDoesNotBlock(t *testing.T) {
	l := newTestLedger(10)
	sub := l.Subscribe()
	defer l.Unsubscribe(sub.ID)

	for i := range subscriberBuffer + 10 {
		l.Fetching("a", float64(i)/1000)
	}
	assert.Len(t, sub.Events, subscriberBuffer)
}

func TestLedger_LogsTransitions(t *testing.T) {
	var buf bytes.Buffer
	l := NewLedger(10, slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	l.Queue("clip")
	l.Fail("clip", "revoked")

	out := buf.String()
	assert.Contains(t, out, `"item_id":"clip"`)
	assert.Contains(t, out, `"phase":"queued"`)
	assert.Contains(t, out, `"phase":"failed"`)
	assert.Contains(t, out, `"component":"progress_ledger"`)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "playback_ready", PhasePlaybackReady.String())
	assert.Equal(t, "unknown", Phase(42).String())
}
