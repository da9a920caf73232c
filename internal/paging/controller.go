// Package paging owns the ordered feed and the current index. It quantizes
// raw drag deltas to whole-item steps and applies the soft gate that slows
// scrolling into items that are not ready to play.
package paging

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/jmylchreest/feedreel/internal/models"
)

// ErrIndexOutOfRange is returned when activating an index outside the feed.
var ErrIndexOutOfRange = errors.New("index out of range")

const (
	DefaultOverscroll        = 0.2
	DefaultLoadMoreThreshold = 3
)

// ReadyFunc reports whether an item is ready to play without stalling.
type ReadyFunc func(id models.ItemID) bool

// LoadMoreFunc asks the feed for items after afterIndex. It must not block:
// results come back through Append, failures through LoadFailed.
type LoadMoreFunc func(afterIndex int)

// IndexListener is told about every index change.
type IndexListener func(previous, current int)

// Config configures a Controller.
type Config struct {
	Overscroll        float64
	LoadMoreThreshold int
	Ready             ReadyFunc
	// Passable reports whether a drag may move past an item. Items that can
	// never become ready, such as permanent failures, should pass so that
	// their placeholder stays reachable. Defaults to Ready.
	Passable ReadyFunc
	LoadMore LoadMoreFunc
	Logger   *slog.Logger
}

// DragState describes the scroll position after a drag delta.
type DragState struct {
	// Offset is the displacement from the current item's top, positive forward.
	Offset float64 `json:"offset"`
	// MaxOffset is the forward cap under the soft gate.
	MaxOffset float64 `json:"max_offset"`
	// Run is the number of contiguous passable items after the current one.
	Run     int  `json:"run"`
	Clamped bool `json:"clamped"`
	Loading bool `json:"loading"`
}

// State is a snapshot of the controller.
type State struct {
	Index       int     `json:"index"`
	Count       int     `json:"count"`
	ItemHeight  float64 `json:"item_height"`
	Dragging    bool    `json:"dragging"`
	Offset      float64 `json:"offset"`
	Loading     bool    `json:"loading"`
	LoadPending bool    `json:"load_pending"`
	Exhausted   bool    `json:"exhausted"`
}

// Controller is not safe for concurrent use. One goroutine, the player loop,
// owns it.
type Controller struct {
	items      []models.FeedItem
	index      int
	itemHeight float64

	dragging bool
	offset   float64
	loading  bool

	overscroll        float64
	loadMoreThreshold int
	ready             ReadyFunc
	passable          ReadyFunc
	loadMore          LoadMoreFunc
	loadPending       bool
	exhausted         bool
	listeners         []IndexListener
	logger            *slog.Logger
}

// NewController creates an empty controller. The item height defaults to 1,
// so deltas are in item units until SetViewport is called.
func NewController(cfg Config) *Controller {
	if cfg.Overscroll < 0 {
		cfg.Overscroll = DefaultOverscroll
	}
	if cfg.LoadMoreThreshold <= 0 {
		cfg.LoadMoreThreshold = DefaultLoadMoreThreshold
	}
	if cfg.Ready == nil {
		cfg.Ready = func(models.ItemID) bool { return true }
	}
	if cfg.Passable == nil {
		cfg.Passable = cfg.Ready
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		itemHeight:        1,
		overscroll:        cfg.Overscroll,
		loadMoreThreshold: cfg.LoadMoreThreshold,
		ready:             cfg.Ready,
		passable:          cfg.Passable,
		loadMore:          cfg.LoadMore,
		logger:            logger.With(slog.String("component", "paging_controller")),
	}
}

// OnIndexChange registers a listener called after each index change.
func (c *Controller) OnIndexChange(fn IndexListener) {
	c.listeners = append(c.listeners, fn)
}

// Append adds items to the end of the feed. The feed is append-only. Items
// that fail validation are skipped. An empty answer to a load-more request
// marks the feed as exhausted.
func (c *Controller) Append(items ...models.FeedItem) int {
	wasPending := c.loadPending
	added := 0
	for _, item := range items {
		if err := item.Validate(); err != nil {
			c.logger.Warn("skipping feed item", slog.String("error", err.Error()))
			continue
		}
		c.items = append(c.items, item)
		added++
	}
	c.loadPending = false
	if added == 0 {
		if wasPending {
			c.exhausted = true
			c.logger.Debug("feed exhausted", slog.Int("count", len(c.items)))
		}
		return 0
	}
	c.logger.Debug("feed extended", slog.Int("added", added), slog.Int("count", len(c.items)))
	c.Refresh()
	c.maybeLoadMore()
	return added
}

// RequestMore asks for more items if the current index is near the end of
// the feed and no request is outstanding.
func (c *Controller) RequestMore() {
	c.maybeLoadMore()
}

// LoadFailed clears the outstanding load-more request so a later index
// change can retry it.
func (c *Controller) LoadFailed() {
	c.loadPending = false
}

// SetViewport sets the height of one item in the UI's units.
func (c *Controller) SetViewport(itemHeight float64) {
	if itemHeight > 0 {
		c.itemHeight = itemHeight
	}
}

// Index returns the current index, or -1 for an empty feed.
func (c *Controller) Index() int {
	if len(c.items) == 0 {
		return -1
	}
	return c.index
}

// Len returns the number of items in the feed.
func (c *Controller) Len() int {
	return len(c.items)
}

// Items returns a copy of the feed.
func (c *Controller) Items() []models.FeedItem {
	return append([]models.FeedItem(nil), c.items...)
}

// Item returns the item at index.
func (c *Controller) Item(index int) (models.FeedItem, bool) {
	if index < 0 || index >= len(c.items) {
		return models.FeedItem{}, false
	}
	return c.items[index], true
}

// IsPageReady reports whether the item at index is ready to play.
func (c *Controller) IsPageReady(index int) bool {
	item, ok := c.Item(index)
	return ok && c.ready(item.ID)
}

// ReadyRun counts the contiguous passable items starting after the current
// one.
func (c *Controller) ReadyRun() int {
	run := 0
	for i := c.index + 1; i < len(c.items); i++ {
		if !c.passable(c.items[i].ID) {
			break
		}
		run++
	}
	return run
}

// MaxOffset returns the soft-gate cap on forward displacement.
func (c *Controller) MaxOffset() float64 {
	return (float64(c.ReadyRun()) + c.overscroll) * c.itemHeight
}

func (c *Controller) minOffset() float64 {
	return -(float64(c.index) + c.overscroll) * c.itemHeight
}

// BeginDrag starts a drag gesture at the current item.
func (c *Controller) BeginDrag() {
	c.dragging = true
	c.offset = 0
	c.loading = false
}

// Drag applies a scroll delta. Displacement beyond the soft gate is clamped
// and flags loading; the gesture itself is never rejected.
func (c *Controller) Drag(delta float64) DragState {
	if !c.dragging {
		c.BeginDrag()
	}
	run := c.ReadyRun()
	maxOffset := (float64(run) + c.overscroll) * c.itemHeight

	c.offset += delta
	clamped := false
	switch {
	case c.offset > maxOffset:
		c.offset = maxOffset
		clamped = true
		c.loading = true
	case c.offset < c.minOffset():
		c.offset = c.minOffset()
		clamped = true
	default:
		c.loading = false
	}
	if clamped && c.loading {
		c.logger.Debug("drag clamped by soft gate",
			slog.Int("index", c.index),
			slog.Int("run", run),
			slog.Float64("max_offset", maxOffset),
		)
	}
	return DragState{Offset: c.offset, MaxOffset: maxOffset, Run: run, Clamped: clamped, Loading: c.loading}
}

// EndDrag settles on the nearest whole item within the gate and returns the
// new index.
func (c *Controller) EndDrag() int {
	if !c.dragging {
		return c.Index()
	}
	steps := int(math.Round(c.offset / c.itemHeight))
	steps = min(steps, c.ReadyRun())
	target := c.index + steps

	c.dragging = false
	c.offset = 0
	c.loading = false

	if len(c.items) > 0 {
		c.setIndex(max(0, min(target, len(c.items)-1)))
	}
	return c.Index()
}

// Activate jumps to index directly, bypassing the gate.
func (c *Controller) Activate(index int) error {
	if index < 0 || index >= len(c.items) {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(c.items))
	}
	c.dragging = false
	c.offset = 0
	c.loading = false
	c.setIndex(index)
	return nil
}

// Refresh re-announces the current index, used after items are appended or
// become ready so listeners can extend their windows.
func (c *Controller) Refresh() {
	if len(c.items) == 0 {
		return
	}
	for _, fn := range c.listeners {
		fn(c.index, c.index)
	}
}

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	return State{
		Index:       c.Index(),
		Count:       len(c.items),
		ItemHeight:  c.itemHeight,
		Dragging:    c.dragging,
		Offset:      c.offset,
		Loading:     c.loading,
		LoadPending: c.loadPending,
		Exhausted:   c.exhausted,
	}
}

func (c *Controller) setIndex(index int) {
	previous := c.index
	if index == previous {
		return
	}
	c.index = index
	c.logger.Debug("index changed", slog.Int("previous", previous), slog.Int("index", index))
	for _, fn := range c.listeners {
		fn(previous, index)
	}
	c.maybeLoadMore()
}

func (c *Controller) maybeLoadMore() {
	if c.loadMore == nil || c.loadPending || c.exhausted {
		return
	}
	if len(c.items)-1-c.index > c.loadMoreThreshold {
		return
	}
	c.loadPending = true
	c.loadMore(len(c.items) - 1)
}
