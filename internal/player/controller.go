// Package player is the single execution context that owns the pager, the
// window scheduler and every playback session. All of their state changes
// run on one goroutine; other goroutines reach them through Do and Post.
package player

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/feedreel/internal/feed"
	"github.com/jmylchreest/feedreel/internal/fetch"
	"github.com/jmylchreest/feedreel/internal/models"
	"github.com/jmylchreest/feedreel/internal/paging"
	"github.com/jmylchreest/feedreel/internal/playback"
	"github.com/jmylchreest/feedreel/internal/position"
	"github.com/jmylchreest/feedreel/internal/progress"
	"github.com/jmylchreest/feedreel/internal/window"
)

// ErrStopped is returned once the controller has stopped.
var ErrStopped = errors.New("player stopped")

const (
	DefaultRenderedSlots = 3
	DefaultPageSize      = 20

	maxRecentFailures = 20
)

// Config configures a Controller.
type Config struct {
	RenderedSlots     int
	PageSize          int
	Lookahead         int
	Lookbehind        int
	Overscroll        float64
	LoadMoreThreshold int
	AwaitTimeout      time.Duration
	DirectTimeout     time.Duration
	Logger            *slog.Logger
}

// Deps are the collaborators the controller drives.
type Deps struct {
	Composer  feed.Composer
	Fetcher   *fetch.Coordinator
	Progress  *progress.Ledger
	Positions *position.Ledger
	Registry  *playback.ExclusivityRegistry
	NewEngine playback.EngineFactory
}

// Failure is a permanent fetch failure shown to the user.
type Failure struct {
	ItemID models.ItemID `json:"item_id"`
	Error  string        `json:"error"`
	At     time.Time     `json:"at"`
}

// State is a snapshot of the player.
type State struct {
	Paging   paging.State     `json:"paging"`
	Current  *models.FeedItem `json:"current,omitempty"`
	Window   []models.ItemID  `json:"window"`
	Sessions []playback.Info  `json:"sessions"`
	Fetch    fetch.Stats      `json:"fetch"`
	Failures []Failure        `json:"failures"`
}

// Controller wires paging, the window scheduler, the fetch coordinator and
// the playback sessions together.
type Controller struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	pager    *paging.Controller
	window   *window.Scheduler
	sessions []*playback.Session
	failures []Failure

	cmds      chan func()
	done      chan struct{}
	stopped   chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a controller. Call Start to begin loading the feed.
func New(cfg Config, deps Deps) *Controller {
	if cfg.RenderedSlots <= 0 {
		cfg.RenderedSlots = DefaultRenderedSlots
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if deps.NewEngine == nil {
		deps.NewEngine = playback.NewClockEngineFactory()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With(slog.String("component", "player")),
		cmds:    make(chan func(), 64),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	c.window = window.NewScheduler(deps.Fetcher, window.Config{
		Lookahead:  cfg.Lookahead,
		Lookbehind: cfg.Lookbehind,
		Logger:     logger,
	})
	c.pager = paging.NewController(paging.Config{
		Overscroll:        cfg.Overscroll,
		LoadMoreThreshold: cfg.LoadMoreThreshold,
		Ready:             deps.Progress.IsPlaybackReady,
		Passable:          deps.Progress.IsSettled,
		LoadMore:          c.loadMore,
		Logger:            logger,
	})
	c.pager.OnIndexChange(c.onIndexChange)

	c.sessions = make([]*playback.Session, cfg.RenderedSlots)
	for i := range c.sessions {
		c.sessions[i] = playback.NewSession(playback.SessionConfig{
			Slot:          i,
			Provider:      deps.Fetcher,
			Positions:     deps.Positions,
			Registry:      deps.Registry,
			Engine:        deps.NewEngine(),
			AwaitTimeout:  cfg.AwaitTimeout,
			DirectTimeout: cfg.DirectTimeout,
			Post:          c.post,
			Logger:        logger,
		})
	}
	return c
}

// Start runs the loop and requests the first page of the feed.
func (c *Controller) Start() {
	c.startOnce.Do(func() {
		go c.run()
		go c.watchFailures()
		c.post(c.pager.RequestMore)
	})
}

func (c *Controller) run() {
	defer close(c.stopped)
	for {
		select {
		case fn := <-c.cmds:
			fn()
		case <-c.done:
			return
		}
	}
}

// post queues fn on the loop without waiting. It drops fn once stopped.
func (c *Controller) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.done:
	}
}

// Do runs fn on the loop and waits for it.
func (c *Controller) Do(fn func()) error {
	finished := make(chan struct{})
	select {
	case c.cmds <- func() {
		defer close(finished)
		fn()
	}:
	case <-c.done:
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-c.stopped:
		return ErrStopped
	}
}

// Stop tears down every session, cancels the window and stops the loop.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		// The loop must be running for the teardown below.
		c.startOnce.Do(func() { go c.run() })
		c.cancel()
		_ = c.Do(func() {
			for _, s := range c.sessions {
				s.Close()
			}
			c.window.Reset()
		})
		close(c.done)
		<-c.stopped
	})
}

func (c *Controller) watchFailures() {
	for {
		select {
		case ev := <-c.deps.Fetcher.Failures():
			c.post(func() {
				c.failures = append(c.failures, Failure{ItemID: ev.ItemID, Error: ev.Err.Error(), At: ev.At})
				if len(c.failures) > maxRecentFailures {
					c.failures = c.failures[len(c.failures)-maxRecentFailures:]
				}
			})
		case <-c.ctx.Done():
			return
		}
	}
}

// loadMore runs on the loop; the page is fetched in the background.
func (c *Controller) loadMore(afterIndex int) {
	offset := afterIndex + 1
	go func() {
		items, err := c.deps.Composer.Page(c.ctx, offset, c.cfg.PageSize)
		c.post(func() {
			if err != nil {
				c.logger.Warn("failed to load feed page",
					slog.Int("offset", offset),
					slog.String("error", err.Error()),
				)
				c.pager.LoadFailed()
				return
			}
			c.pager.Append(items...)
		})
	}()
}

// onIndexChange runs on the loop after every index change.
func (c *Controller) onIndexChange(_, current int) {
	c.window.OnIndexChanged(current, c.pager.Items())
	c.arrangeSlots(current)
}

// arrangeSlots binds the rendered slots around index. Item i always lives in
// slot i mod n, so moving by one item rebinds a single slot.
func (c *Controller) arrangeSlots(index int) {
	n := len(c.sessions)
	first := index - 1
	bound := make([]bool, n)

	for i := first; i < first+n; i++ {
		item, ok := c.pager.Item(i)
		if !ok {
			continue
		}
		slot := i % n
		bound[slot] = true
		if err := c.sessions[slot].Bind(c.ctx, item); err != nil {
			c.logger.Warn("failed to bind slot",
				slog.Int("slot", slot),
				slog.String("item_id", string(item.ID)),
				slog.String("error", err.Error()),
			)
		}
	}
	for slot, s := range c.sessions {
		if !bound[slot] {
			s.Unbind()
		}
	}

	active := index % n
	for slot, s := range c.sessions {
		if slot != active {
			s.SetActive(false)
		}
	}
	c.sessions[active].SetActive(true)
	for _, s := range c.sessions {
		s.Sync()
	}
}

// Append adds items to the feed.
func (c *Controller) Append(items ...models.FeedItem) (int, error) {
	var added int
	err := c.Do(func() { added = c.pager.Append(items...) })
	return added, err
}

// SetViewport sets the item height used to quantize drags.
func (c *Controller) SetViewport(itemHeight float64) error {
	return c.Do(func() { c.pager.SetViewport(itemHeight) })
}

// BeginDrag starts a drag gesture.
func (c *Controller) BeginDrag() error {
	return c.Do(c.pager.BeginDrag)
}

// Drag applies a scroll delta under the soft gate.
func (c *Controller) Drag(delta float64) (paging.DragState, error) {
	var state paging.DragState
	err := c.Do(func() { state = c.pager.Drag(delta) })
	return state, err
}

// EndDrag settles the gesture and returns the new index.
func (c *Controller) EndDrag() (int, error) {
	var index int
	err := c.Do(func() { index = c.pager.EndDrag() })
	return index, err
}

// Activate jumps to index.
func (c *Controller) Activate(index int) error {
	var activateErr error
	if err := c.Do(func() { activateErr = c.pager.Activate(index) }); err != nil {
		return err
	}
	return activateErr
}

// IsPageReady reports whether the item at index is ready to play.
func (c *Controller) IsPageReady(index int) (bool, error) {
	var ready bool
	err := c.Do(func() { ready = c.pager.IsPageReady(index) })
	return ready, err
}

// Item returns the feed item at index.
func (c *Controller) Item(index int) (models.FeedItem, bool, error) {
	var (
		item models.FeedItem
		ok   bool
	)
	err := c.Do(func() { item, ok = c.pager.Item(index) })
	return item, ok, err
}

// Preview returns the placeholder image for the item at index.
func (c *Controller) Preview(ctx context.Context, index int) (image.Image, error) {
	item, ok, err := c.Item(index)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", paging.ErrIndexOutOfRange, index)
	}
	return c.deps.Fetcher.Preview(ctx, item.ID)
}

// State returns a snapshot of the player.
func (c *Controller) State() (State, error) {
	var state State
	err := c.Do(func() {
		state.Paging = c.pager.State()
		if item, ok := c.pager.Item(c.pager.Index()); ok {
			state.Current = &item
		}
		state.Window = c.window.Desired()
		state.Sessions = make([]playback.Info, len(c.sessions))
		for i, s := range c.sessions {
			s.Sync()
			state.Sessions[i] = s.Info()
		}
		state.Failures = append([]Failure(nil), c.failures...)
	})
	if err != nil {
		return State{}, err
	}
	state.Fetch = c.deps.Fetcher.Snapshot()
	return state, nil
}
