// Package fetch coordinates resource fetches for feed items. It guarantees at
// most one outstanding fetch per item, lets callers wait on a fetch someone
// else started, and backs off after failures.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/jmylchreest/feedreel/internal/cache"
	"github.com/jmylchreest/feedreel/internal/media"
	"github.com/jmylchreest/feedreel/internal/models"
	"github.com/jmylchreest/feedreel/internal/progress"
)

// ErrClosed is returned by operations on a closed coordinator.
var ErrClosed = errors.New("fetch coordinator closed")

const (
	// DefaultMaxConcurrent bounds simultaneous source fetches.
	DefaultMaxConcurrent = 4
	// DefaultBackoff is how long prefetch ignores an item after a failure.
	DefaultBackoff = 10 * time.Second

	failureBuffer = 32
)

// Config configures a Coordinator.
type Config struct {
	MaxConcurrent int
	Backoff       time.Duration
	PreviewSize   image.Point
	Logger        *slog.Logger
}

// FailureEvent reports a permanent failure for one item.
type FailureEvent struct {
	ItemID models.ItemID
	Err    error
	At     time.Time
}

// Stats is a point-in-time view of the coordinator tables.
type Stats struct {
	InFlight  int `json:"in_flight"`
	BackedOff int `json:"backed_off"`
	Waiters   int `json:"waiters"`
}

type waiter struct {
	id       uuid.UUID
	deliver  chan *media.Resource
	timer    *time.Timer
	resolved bool
}

type retry struct {
	stop func() bool
}

type request struct {
	gen     uint64
	started time.Time
	cancel  context.CancelFunc
	waiters []*waiter
}

// Coordinator owns the in-flight, waiter and backoff tables. Every mutation
// runs on one goroutine, so starting a fetch, registering a waiter and
// resolving waiters are atomic with respect to each other.
type Coordinator struct {
	source   media.Source
	cache    *cache.ResourceCache
	previews *cache.PreviewCache
	ledger   *progress.Ledger
	logger   *slog.Logger

	backoff     time.Duration
	previewSize image.Point
	sem         *semaphore.Weighted
	now         func() time.Time
	afterFunc   func(d time.Duration, fn func()) (stop func() bool)

	// owned by the loop goroutine
	inflight     map[models.ItemID]*request
	backoffUntil map[models.ItemID]time.Time
	// wanted holds ids prefetched and not since cancelled or delivered; a
	// transient failure among them is retried when its backoff ends.
	wanted  map[models.ItemID]struct{}
	retries map[models.ItemID]*retry
	gen     uint64

	cmds      chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	failures  chan FailureEvent

	baseCtx    context.Context
	baseCancel context.CancelFunc
	workers    sync.WaitGroup
}

// NewCoordinator creates a coordinator and starts its owner goroutine.
// previews may be nil, in which case previews are fetched on every call.
func NewCoordinator(source media.Source, resources *cache.ResourceCache, previews *cache.PreviewCache, ledger *progress.Ledger, cfg Config) *Coordinator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.PreviewSize == (image.Point{}) {
		cfg.PreviewSize = image.Pt(320, 320)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	c := &Coordinator{
		source:      source,
		cache:       resources,
		previews:    previews,
		ledger:      ledger,
		logger:      logger.With(slog.String("component", "fetch_coordinator")),
		backoff:     cfg.Backoff,
		previewSize: cfg.PreviewSize,
		sem:         semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		now:         time.Now,
		afterFunc: func(d time.Duration, fn func()) func() bool {
			return time.AfterFunc(d, fn).Stop
		},
		inflight:     make(map[models.ItemID]*request),
		backoffUntil: make(map[models.ItemID]time.Time),
		wanted:       make(map[models.ItemID]struct{}),
		retries:      make(map[models.ItemID]*retry),
		cmds:         make(chan func()),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		failures:     make(chan FailureEvent, failureBuffer),
		baseCtx:      baseCtx,
		baseCancel:   baseCancel,
	}
	go c.run()
	return c
}

func (c *Coordinator) run() {
	defer close(c.stopped)
	for {
		select {
		case cmd := <-c.cmds:
			cmd()
			fetchesInflight.Set(float64(len(c.inflight)))
		case <-c.done:
			return
		}
	}
}

// exec runs fn on the owner goroutine and waits for it to finish.
func (c *Coordinator) exec(fn func()) bool {
	finished := make(chan struct{})
	select {
	case c.cmds <- func() {
		fn()
		close(finished)
	}:
		<-finished
		return true
	case <-c.done:
		return false
	}
}

// Prefetch starts a fetch for every id that is not cached, not in flight and
// not backed off. It returns once the fetches are registered.
func (c *Coordinator) Prefetch(ids ...models.ItemID) {
	c.exec(func() {
		for _, id := range ids {
			if id != "" {
				c.wanted[id] = struct{}{}
			}
			c.startLocked(id)
		}
	})
}

func (c *Coordinator) startLocked(id models.ItemID) {
	if id == "" {
		return
	}
	if _, ok := c.inflight[id]; ok {
		return
	}
	if until, ok := c.backoffUntil[id]; ok {
		if c.now().Before(until) {
			c.logger.Debug("prefetch skipped, backing off",
				slog.String("item_id", string(id)),
				slog.Time("until", until),
			)
			return
		}
		delete(c.backoffUntil, id)
	}
	if c.cache.Contains(id) {
		return
	}

	c.gen++
	ctx, cancel := context.WithCancel(c.baseCtx)
	req := &request{gen: c.gen, started: c.now(), cancel: cancel}
	c.inflight[id] = req
	c.ledger.Queue(id)
	fetchesStarted.Inc()

	c.workers.Add(1)
	go c.fetch(ctx, id, req.gen)
}

// fetch runs on a worker goroutine and reports back to the loop.
func (c *Coordinator) fetch(ctx context.Context, id models.ItemID, gen uint64) {
	defer c.workers.Done()

	var (
		res *media.Resource
		err error
	)
	report := func(fraction float64) {
		c.exec(func() {
			if req, ok := c.inflight[id]; ok && req.gen == gen {
				c.ledger.Fetching(id, fraction)
			}
		})
	}
	if err = c.sem.Acquire(ctx, 1); err == nil {
		report(0)
		res, err = c.source.FetchResource(ctx, id, report)
		c.sem.Release(1)
	}

	if !c.exec(func() { c.complete(id, gen, res, err) }) && res != nil {
		_ = res.Close()
	}
}

func (c *Coordinator) complete(id models.ItemID, gen uint64, res *media.Resource, err error) {
	req, ok := c.inflight[id]
	if !ok || req.gen != gen {
		// Cancelled while the source was still working.
		if res != nil {
			_ = res.Close()
		}
		fetchesCompleted.WithLabelValues("stale").Inc()
		return
	}
	delete(c.inflight, id)
	req.cancel()

	if err == nil && res == nil {
		err = fmt.Errorf("%w: source returned no resource", media.ErrNotFound)
	}
	if err != nil {
		c.failLocked(id, req, err)
		return
	}

	delete(c.wanted, id)
	fetchDuration.Observe(c.now().Sub(req.started).Seconds())
	fetchesCompleted.WithLabelValues("ok").Inc()
	c.ledger.ResourceReady(id)
	if res.Complete {
		c.ledger.PlaybackReady(id)
	}

	if len(req.waiters) == 0 {
		c.cache.Put(id, res)
		return
	}
	// Move semantics: the earliest waiter owns the handle.
	c.resolveLocked(req.waiters[0], res, "delivered")
	for _, w := range req.waiters[1:] {
		c.resolveLocked(w, nil, "unavailable")
	}
}

func (c *Coordinator) failLocked(id models.ItemID, req *request, err error) {
	for _, w := range req.waiters {
		c.resolveLocked(w, nil, "failed")
	}

	kind := media.Classify(err)
	switch kind {
	case media.ErrorCancelled:
		fetchesCompleted.WithLabelValues("cancelled").Inc()
		c.ledger.Remove(id)
		return
	case media.ErrorTransient:
		fetchesCompleted.WithLabelValues("transient").Inc()
		c.backoffUntil[id] = c.now().Add(c.backoff)
		c.scheduleRetryLocked(id)
		c.ledger.Annotate(id, "retrying after transient failure")
		c.logger.Info("transient fetch failure",
			slog.String("item_id", string(id)),
			slog.Duration("backoff", c.backoff),
			slog.String("error", err.Error()),
		)
	default:
		fetchesCompleted.WithLabelValues("permanent").Inc()
		delete(c.wanted, id)
		c.backoffUntil[id] = c.now().Add(c.backoff)
		c.ledger.Fail(id, err.Error())
		event := FailureEvent{ItemID: id, Err: media.NewFetchError(id, err), At: c.now()}
		select {
		case c.failures <- event:
		default:
			c.logger.Warn("failure event dropped", slog.String("item_id", string(id)))
		}
	}
}

// scheduleRetryLocked restarts the fetch for id once its backoff ends, if it
// is still wanted then.
func (c *Coordinator) scheduleRetryLocked(id models.ItemID) {
	c.stopRetryLocked(id)
	r := &retry{}
	c.retries[id] = r
	r.stop = c.afterFunc(c.backoff, func() {
		c.exec(func() {
			if c.retries[id] != r {
				// stopped or superseded after the timer fired
				return
			}
			delete(c.retries, id)
			if _, ok := c.wanted[id]; !ok {
				return
			}
			c.logger.Debug("retrying after backoff", slog.String("item_id", string(id)))
			fetchRetries.Inc()
			c.startLocked(id)
		})
	})
}

func (c *Coordinator) stopRetryLocked(id models.ItemID) {
	if r, ok := c.retries[id]; ok {
		r.stop()
		delete(c.retries, id)
	}
}

// resolveLocked delivers res to w exactly once. A resource offered to an
// already resolved waiter is returned to the cache.
func (c *Coordinator) resolveLocked(w *waiter, res *media.Resource, outcome string) {
	if w.resolved {
		if res != nil {
			c.cache.Put(res.ItemID, res)
		}
		return
	}
	w.resolved = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.deliver <- res
	waiterResolutions.WithLabelValues(outcome).Inc()
}

// Cancel stops in-flight fetches for ids, resolves their waiters with nil and
// drops any cached resources. Cancellation never creates a backoff.
func (c *Coordinator) Cancel(ids ...models.ItemID) {
	c.exec(func() {
		for _, id := range ids {
			delete(c.wanted, id)
			c.stopRetryLocked(id)
			req, ok := c.inflight[id]
			if ok {
				delete(c.inflight, id)
				req.cancel()
				for _, w := range req.waiters {
					c.resolveLocked(w, nil, "cancelled")
				}
				fetchesCompleted.WithLabelValues("cancelled").Inc()
			}
			dropped := c.cache.Drop(id) > 0
			if ok || dropped {
				c.ledger.Remove(id)
				c.logger.Debug("fetch cancelled",
					slog.String("item_id", string(id)),
					slog.Bool("was_inflight", ok),
					slog.Bool("was_cached", dropped),
				)
			}
		}
	})
}

// AwaitResource returns the resource for id. A cached resource is taken and
// returned at once. When a fetch is in flight the caller waits up to timeout
// for it; the fetch itself is never cancelled by the wait ending. When there
// is neither, it returns nil immediately so the caller can fetch directly.
// A nil resource with a nil error means the resource is unavailable.
func (c *Coordinator) AwaitResource(ctx context.Context, id models.ItemID, timeout time.Duration) (*media.Resource, error) {
	var (
		res *media.Resource
		w   *waiter
	)
	ok := c.exec(func() {
		if res = c.cache.Take(id); res != nil {
			return
		}
		req, inflight := c.inflight[id]
		if !inflight {
			return
		}
		w = &waiter{id: uuid.New(), deliver: make(chan *media.Resource, 1)}
		req.waiters = append(req.waiters, w)
		w.timer = time.AfterFunc(timeout, func() {
			c.exec(func() { c.expireLocked(id, w) })
		})
	})
	if !ok {
		return nil, ErrClosed
	}
	if w == nil {
		return res, nil
	}

	select {
	case res = <-w.deliver:
		return res, nil
	case <-ctx.Done():
		// Close resolves every waiter before stopping, so a value is always
		// waiting on deliver once exec returns.
		c.exec(func() { c.expireLocked(id, w) })
		if res = <-w.deliver; res != nil {
			_ = res.Close()
		}
		return nil, ctx.Err()
	}
}

// expireLocked resolves w with nil and detaches it from its request.
func (c *Coordinator) expireLocked(id models.ItemID, w *waiter) {
	if w.resolved {
		return
	}
	if req, ok := c.inflight[id]; ok {
		for i, candidate := range req.waiters {
			if candidate == w {
				req.waiters = append(req.waiters[:i], req.waiters[i+1:]...)
				break
			}
		}
	}
	c.resolveLocked(w, nil, "timeout")
	c.logger.Debug("waiter expired",
		slog.String("item_id", string(id)),
		slog.String("waiter_id", w.id.String()),
	)
}

// FetchDirect fetches id from the source without registering it in flight
// or attaching waiters. It is the fallback when AwaitResource yields nothing
// and takes a slot from the same pool as prefetches.
func (c *Coordinator) FetchDirect(ctx context.Context, id models.ItemID) (*media.Resource, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, media.NewFetchError(id, err)
	}
	res, err := c.source.FetchResource(ctx, id, nil)
	c.sem.Release(1)
	if err != nil {
		return nil, media.NewFetchError(id, err)
	}
	if res == nil {
		return nil, media.NewFetchError(id, media.ErrNotFound)
	}
	// The caller holds this item now; a pending retry would fetch a second
	// handle for it.
	c.exec(func() {
		delete(c.wanted, id)
		c.stopRetryLocked(id)
	})
	c.ledger.ResourceReady(id)
	if res.Complete {
		c.ledger.PlaybackReady(id)
	}
	return res, nil
}

// Preview returns the lightweight preview for id, fetching it on a miss.
func (c *Coordinator) Preview(ctx context.Context, id models.ItemID) (image.Image, error) {
	if c.previews != nil {
		if img, ok := c.previews.Get(id); ok {
			return img, nil
		}
	}
	img, err := c.source.FetchPreview(ctx, id, c.previewSize)
	if err != nil {
		return nil, media.NewFetchError(id, err)
	}
	if c.previews != nil {
		c.previews.Add(id, img)
	}
	return img, nil
}

// IsInFlight reports whether a fetch for id is outstanding.
func (c *Coordinator) IsInFlight(id models.ItemID) bool {
	var ok bool
	c.exec(func() {
		_, ok = c.inflight[id]
	})
	return ok
}

// BackedOff reports whether prefetch for id is currently suppressed.
func (c *Coordinator) BackedOff(id models.ItemID) bool {
	var ok bool
	c.exec(func() {
		until, exists := c.backoffUntil[id]
		ok = exists && c.now().Before(until)
	})
	return ok
}

// Snapshot returns table sizes for diagnostics.
func (c *Coordinator) Snapshot() Stats {
	var s Stats
	c.exec(func() {
		s.InFlight = len(c.inflight)
		now := c.now()
		for _, until := range c.backoffUntil {
			if now.Before(until) {
				s.BackedOff++
			}
		}
		for _, req := range c.inflight {
			s.Waiters += len(req.waiters)
		}
	})
	return s
}

// Failures delivers permanent failures for the UI layer. Events are dropped
// when nobody drains the channel.
func (c *Coordinator) Failures() <-chan FailureEvent {
	return c.failures
}

// Close cancels every outstanding fetch, resolves all waiters with nil and
// waits for the workers to exit.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.exec(func() {
			for id := range c.retries {
				c.stopRetryLocked(id)
			}
			for id, req := range c.inflight {
				req.cancel()
				for _, w := range req.waiters {
					c.resolveLocked(w, nil, "closed")
				}
				delete(c.inflight, id)
			}
		})
		close(c.done)
		<-c.stopped
		c.baseCancel()
		c.workers.Wait()
		fetchesInflight.Set(0)
	})
}
