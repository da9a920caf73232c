// Package window decides which feed items should have a resource warm around
// the current index and turns each index change into start and stop commands.
package window

import (
	"log/slog"
	"sync"

	"github.com/jmylchreest/feedreel/internal/models"
)

const (
	DefaultLookahead  = 8
	DefaultLookbehind = 1
)

// Prefetcher receives the scheduling decisions. fetch.Coordinator satisfies it.
type Prefetcher interface {
	Prefetch(ids ...models.ItemID)
	Cancel(ids ...models.ItemID)
}

// Config sizes the window.
type Config struct {
	Lookahead  int
	Lookbehind int
	Logger     *slog.Logger
}

// Decision is the outcome of one index change.
type Decision struct {
	Index   int
	Desired []models.ItemID
	ToStart []models.ItemID
	ToStop  []models.ItemID
}

// Scheduler keeps the previously desired set and diffs each new window
// against it. The diff is the scheduling decision; the cache is never
// consulted.
type Scheduler struct {
	prefetcher Prefetcher
	lookahead  int
	lookbehind int
	logger     *slog.Logger

	mu       sync.Mutex
	previous []models.ItemID
}

// NewScheduler creates a scheduler that drives p.
func NewScheduler(p Prefetcher, cfg Config) *Scheduler {
	if cfg.Lookahead < 0 {
		cfg.Lookahead = DefaultLookahead
	}
	if cfg.Lookbehind < 0 {
		cfg.Lookbehind = DefaultLookbehind
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		prefetcher: p,
		lookahead:  cfg.Lookahead,
		lookbehind: cfg.Lookbehind,
		logger:     logger.With(slog.String("component", "window_scheduler")),
	}
}

// Indexes returns the window around index in priority order: the current
// item, then the items ahead, then the items behind. Out of range indexes
// are clamped away.
func Indexes(index, total, lookbehind, lookahead int) []int {
	if total <= 0 || index < 0 || index >= total {
		return nil
	}
	out := make([]int, 0, lookahead+lookbehind+1)
	for i := index; i <= index+lookahead && i < total; i++ {
		out = append(out, i)
	}
	for i := index - 1; i >= max(0, index-lookbehind); i-- {
		out = append(out, i)
	}
	return out
}

// Diff returns the ids in next but not in previous, and the ids in previous
// but not in next. Both keep the order of their source slice.
func Diff(previous, next []models.ItemID) (toStart, toStop []models.ItemID) {
	prevSet := make(map[models.ItemID]struct{}, len(previous))
	for _, id := range previous {
		prevSet[id] = struct{}{}
	}
	nextSet := make(map[models.ItemID]struct{}, len(next))
	for _, id := range next {
		nextSet[id] = struct{}{}
		if _, ok := prevSet[id]; !ok {
			toStart = append(toStart, id)
		}
	}
	for _, id := range previous {
		if _, ok := nextSet[id]; !ok {
			toStop = append(toStop, id)
		}
	}
	return toStart, toStop
}

// OnIndexChanged recomputes the window for index over items, starts fetches
// for ids entering it, then cancels ids leaving it. Starts are issued before
// cancels so an item that leaves and immediately re-enters is never dropped.
func (s *Scheduler) OnIndexChanged(index int, items []models.FeedItem) Decision {
	idx := Indexes(index, len(items), s.lookbehind, s.lookahead)
	desired := make([]models.ItemID, 0, len(idx))
	seen := make(map[models.ItemID]struct{}, len(idx))
	for _, i := range idx {
		id := items[i].ID
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		desired = append(desired, id)
	}

	s.mu.Lock()
	toStart, toStop := Diff(s.previous, desired)
	s.previous = desired
	s.mu.Unlock()

	if len(toStart) > 0 {
		s.prefetcher.Prefetch(toStart...)
	}
	if len(toStop) > 0 {
		s.prefetcher.Cancel(toStop...)
	}

	s.logger.Debug("window updated",
		slog.Int("index", index),
		slog.Int("total", len(items)),
		slog.Any("to_start", toStart),
		slog.Any("to_stop", toStop),
	)
	return Decision{Index: index, Desired: desired, ToStart: toStart, ToStop: toStop}
}

// Desired returns a copy of the current window.
func (s *Scheduler) Desired() []models.ItemID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ItemID(nil), s.previous...)
}

// Reset cancels every item in the window and forgets it.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	previous := s.previous
	s.previous = nil
	s.mu.Unlock()

	if len(previous) > 0 {
		s.prefetcher.Cancel(previous...)
	}
}
