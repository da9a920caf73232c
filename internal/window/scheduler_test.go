package window

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jmylchreest/feedreel/internal/models"
)

type call struct {
	op  string
	ids []models.ItemID
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) Prefetch(ids ...models.ItemID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{op: "prefetch", ids: ids})
}

func (r *recorder) Cancel(ids ...models.ItemID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{op: "cancel", ids: ids})
}

func feed(n int) []models.FeedItem {
	items := make([]models.FeedItem, n)
	for i := range items {
		items[i] = models.FeedItem{ID: models.ItemID(fmt.Sprint(i)), Kind: models.ItemKindVideo}
	}
	return items
}

func ids(values ...int) []models.ItemID {
	out := make([]models.ItemID, len(values))
	for i, v := range values {
		out[i] = models.ItemID(fmt.Sprint(v))
	}
	return out
}

func newTestScheduler(r *recorder, lookahead int) *Scheduler {
	return NewScheduler(r, Config{
		Lookahead:  lookahead,
		Lookbehind: 1,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestIndexes(t *testing.T) {
	tests := []struct {
		name       string
		index      int
		total      int
		lookbehind int
		lookahead  int
		want       []int
	}{
		{name: "first item", index: 0, total: 20, lookbehind: 1, lookahead: 3, want: []int{0, 1, 2, 3}},
		{name: "middle", index: 5, total: 20, lookbehind: 1, lookahead: 3, want: []int{5, 6, 7, 8, 4}},
		{name: "clamped at end", index: 18, total: 20, lookbehind: 1, lookahead: 3, want: []int{18, 19, 17}},
		{name: "wider lookbehind", index: 5, total: 20, lookbehind: 2, lookahead: 1, want: []int{5, 6, 4, 3}},
		{name: "empty feed", index: 0, total: 0, lookbehind: 1, lookahead: 3, want: nil},
		{name: "out of range", index: 7, total: 5, lookbehind: 1, lookahead: 3, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Indexes(tt.index, tt.total, tt.lookbehind, tt.lookahead))
		})
	}
}

func TestDiff_AdvanceByOne(t *testing.T) {
	toStart, toStop := Diff(ids(3, 4, 5, 6), ids(4, 5, 6, 7))
	assert.Equal(t, ids(7), toStart)
	assert.Equal(t, ids(3), toStop)
}

func TestOnIndexChanged_DiffsAgainstPrevious(t *testing.T) {
	r := &recorder{}
	s := newTestScheduler(r, 2)
	items := feed(20)

	first := s.OnIndexChanged(4, items)
	assert.ElementsMatch(t, ids(3, 4, 5, 6), first.Desired)
	assert.ElementsMatch(t, ids(3, 4, 5, 6), first.ToStart)
	assert.Empty(t, first.ToStop)

	second := s.OnIndexChanged(5, items)
	assert.Equal(t, ids(7), second.ToStart)
	assert.Equal(t, ids(3), second.ToStop)
	assert.ElementsMatch(t, ids(4, 5, 6, 7), s.Desired())
}

func TestOnIndexChanged_StartsBeforeStops(t *testing.T) {
	r := &recorder{}
	s := newTestScheduler(r, 2)
	items := feed(20)

	s.OnIndexChanged(4, items)
	s.OnIndexChanged(5, items)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, []call{
		{op: "prefetch", ids: ids(4, 5, 6, 3)},
		{op: "prefetch", ids: ids(7)},
		{op: "cancel", ids: ids(3)},
	}, r.calls)
}

func TestOnIndexChanged_BackAndForth(t *testing.T) {
	r := &recorder{}
	s := newTestScheduler(r, 2)
	items := feed(20)

	s.OnIndexChanged(4, items)
	s.OnIndexChanged(5, items)
	back := s.OnIndexChanged(4, items)

	assert.Equal(t, ids(3), back.ToStart)
	assert.Equal(t, ids(7), back.ToStop)
}

func TestOnIndexChanged_SameIndexIsNoop(t *testing.T) {
	r := &recorder{}
	s := newTestScheduler(r, 2)
	items := feed(20)

	s.OnIndexChanged(4, items)
	again := s.OnIndexChanged(4, items)

	assert.Empty(t, again.ToStart)
	assert.Empty(t, again.ToStop)
	assert.Len(t, r.calls, 1)
}

func TestOnIndexChanged_GrowingFeed(t *testing.T) {
	r := &recorder{}
	s := newTestScheduler(r, 3)

	s.OnIndexChanged(2, feed(4))
	grown := s.OnIndexChanged(2, feed(10))

	assert.Equal(t, ids(4, 5), grown.ToStart)
	assert.Empty(t, grown.ToStop)
}

func TestReset(t *testing.T) {
	r := &recorder{}
	s := newTestScheduler(r, 1)

	s.OnIndexChanged(0, feed(5))
	s.Reset()

	assert.Empty(t, s.Desired())
	r.mu.Lock()
	defer r.mu.Unlock()
	last := r.calls[len(r.calls)-1]
	assert.Equal(t, "cancel", last.op)
	assert.ElementsMatch(t, ids(0, 1), last.ids)
}
