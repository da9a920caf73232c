package paging

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/feedreel/internal/models"
)

func items(n int) []models.FeedItem {
	out := make([]models.FeedItem, n)
	for i := range out {
		out[i] = models.FeedItem{ID: models.ItemID(fmt.Sprint(i)), Kind: models.ItemKindVideo}
	}
	return out
}

func readySet(ids ...string) ReadyFunc {
	set := make(map[models.ItemID]bool, len(ids))
	for _, id := range ids {
		set[models.ItemID(id)] = true
	}
	return func(id models.ItemID) bool { return set[id] }
}

func newTestController(ready ReadyFunc) *Controller {
	c := NewController(Config{
		Overscroll:        0.2,
		LoadMoreThreshold: 3,
		Ready:             ready,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	c.Append(items(10)...)
	c.SetViewport(100)
	return c
}

func TestSoftGate_ClampsAtRunPlusOverscroll(t *testing.T) {
	// items 1 and 2 are ready, 3 is not: run = 2
	c := newTestController(readySet("0", "1", "2", "4"))

	c.BeginDrag()
	state := c.Drag(1000)

	assert.Equal(t, 2, state.Run)
	assert.InDelta(t, 220.0, state.Offset, 1e-9)
	assert.InDelta(t, 220.0, state.MaxOffset, 1e-9)
	assert.True(t, state.Clamped)
	assert.True(t, state.Loading)

	assert.Equal(t, 2, c.EndDrag())
	assert.False(t, c.State().Loading)
}

func TestSoftGate_WithinCapSettlesOnNearest(t *testing.T) {
	c := newTestController(readySet("1", "2"))

	c.BeginDrag()
	state := c.Drag(60)
	assert.False(t, state.Clamped)
	state = c.Drag(70)
	assert.InDelta(t, 130.0, state.Offset, 1e-9)
	assert.False(t, state.Loading)

	assert.Equal(t, 1, c.EndDrag())
}

func TestSoftGate_NothingReadyAllowsRubberBand(t *testing.T) {
	c := newTestController(readySet())

	c.BeginDrag()
	state := c.Drag(90)
	assert.InDelta(t, 20.0, state.Offset, 1e-9)
	assert.True(t, state.Clamped)
	assert.True(t, state.Loading)

	assert.Equal(t, 0, c.EndDrag())
}

func TestSoftGate_LoadingClearsWhenBackInsideCap(t *testing.T) {
	c := newTestController(readySet("1"))

	c.BeginDrag()
	assert.True(t, c.Drag(500).Loading)
	state := c.Drag(-100)
	assert.False(t, state.Loading)
	assert.InDelta(t, 20.0, state.Offset, 1e-9)
}

func TestDrag_BackwardClampedAtTop(t *testing.T) {
	c := newTestController(readySet())

	c.BeginDrag()
	state := c.Drag(-500)
	assert.InDelta(t, -20.0, state.Offset, 1e-9)
	assert.True(t, state.Clamped)
	assert.False(t, state.Loading)
	assert.Equal(t, 0, c.EndDrag())
}

func TestDrag_Backward(t *testing.T) {
	c := newTestController(readySet())
	require.NoError(t, c.Activate(5))

	c.BeginDrag()
	c.Drag(-160)
	assert.Equal(t, 3, c.EndDrag())
}

func TestDrag_ImplicitBegin(t *testing.T) {
	c := newTestController(readySet("1"))
	c.Drag(100)
	assert.True(t, c.State().Dragging)
	assert.Equal(t, 1, c.EndDrag())
}

func TestEndDrag_WithoutDrag(t *testing.T) {
	c := newTestController(readySet())
	assert.Equal(t, 0, c.EndDrag())
}

func TestActivate(t *testing.T) {
	c := newTestController(readySet())

	var changes [][2]int
	c.OnIndexChange(func(previous, current int) {
		changes = append(changes, [2]int{previous, current})
	})

	require.NoError(t, c.Activate(4))
	require.NoError(t, c.Activate(4))
	assert.Equal(t, [][2]int{{0, 4}}, changes)
	assert.Equal(t, 4, c.Index())

	err := c.Activate(10)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
	assert.Equal(t, 4, c.Index())
}

func TestIsPageReady(t *testing.T) {
	c := newTestController(readySet("3"))
	assert.True(t, c.IsPageReady(3))
	assert.False(t, c.IsPageReady(2))
	assert.False(t, c.IsPageReady(-1))
	assert.False(t, c.IsPageReady(42))
}

func TestSoftGate_PassableItemsExtendRun(t *testing.T) {
	// 1 is ready, 2 failed for good, 3 is still loading
	c := NewController(Config{
		Overscroll: 0.2,
		Ready:      readySet("1"),
		Passable:   readySet("1", "2"),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	c.Append(items(10)...)
	c.SetViewport(100)

	c.BeginDrag()
	state := c.Drag(1000)
	assert.Equal(t, 2, state.Run)
	assert.InDelta(t, 220.0, state.Offset, 1e-9)
	assert.Equal(t, 2, c.EndDrag())

	assert.False(t, c.IsPageReady(2), "passing an item does not make it ready")
}

func TestAppend_SkipsInvalid(t *testing.T) {
	c := NewController(Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	assert.Equal(t, -1, c.Index())

	added := c.Append(
		models.FeedItem{ID: "a", Kind: models.ItemKindVideo},
		models.FeedItem{ID: "", Kind: models.ItemKindVideo},
		models.FeedItem{ID: "b", Kind: "audio"},
	)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 0, c.Index())
}

func TestLoadMore(t *testing.T) {
	var requests []int
	c := NewController(Config{
		LoadMoreThreshold: 3,
		Ready:             readySet(),
		LoadMore:          func(after int) { requests = append(requests, after) },
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	c.Append(items(10)...)
	assert.Empty(t, requests)

	require.NoError(t, c.Activate(6))
	assert.Equal(t, []int{9}, requests)

	// only one request outstanding
	require.NoError(t, c.Activate(7))
	assert.Equal(t, []int{9}, requests)

	more := []models.FeedItem{{ID: "10", Kind: models.ItemKindVideo}, {ID: "11", Kind: models.ItemKindPhotoGroup}}
	c.Append(more...)
	assert.Equal(t, []int{9}, requests)
	assert.False(t, c.State().LoadPending)

	require.NoError(t, c.Activate(8))
	assert.Equal(t, []int{9, 11}, requests)

	// an empty page ends the feed
	c.Append()
	require.NoError(t, c.Activate(11))
	assert.Equal(t, []int{9, 11}, requests)
	assert.True(t, c.State().Exhausted)
}

func TestLoadMore_FailureAllowsRetry(t *testing.T) {
	var requests []int
	c := NewController(Config{
		LoadMoreThreshold: 2,
		LoadMore:          func(after int) { requests = append(requests, after) },
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	c.Append(items(3)...)
	assert.Equal(t, []int{2}, requests)

	c.LoadFailed()
	c.RequestMore()
	assert.Equal(t, []int{2, 2}, requests)
}

func TestAppend_NotifiesListeners(t *testing.T) {
	c := NewController(Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	calls := 0
	c.OnIndexChange(func(_, _ int) { calls++ })

	c.Append(items(2)...)
	assert.Equal(t, 1, calls)
}
