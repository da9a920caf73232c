package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/feedreel/internal/media"
	"github.com/jmylchreest/feedreel/internal/models"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateBinding
	StateReady
	StatePlaying
	StatePaused
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBinding:
		return "binding"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateTornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const (
	DefaultAwaitTimeout  = 750 * time.Millisecond
	DefaultDirectTimeout = 30 * time.Second

	persistTimeout = 2 * time.Second
)

// ResourceProvider supplies resources to sessions. fetch.Coordinator satisfies it.
type ResourceProvider interface {
	AwaitResource(ctx context.Context, id models.ItemID, timeout time.Duration) (*media.Resource, error)
	FetchDirect(ctx context.Context, id models.ItemID) (*media.Resource, error)
}

// PositionStore reads and records resume offsets. position.Ledger satisfies it.
type PositionStore interface {
	ResumeOffset(ctx context.Context, id models.ItemID) float64
	Save(ctx context.Context, id models.ItemID, offset, duration float64) error
}

// SessionConfig configures a Session.
type SessionConfig struct {
	Slot          int
	Provider      ResourceProvider
	Positions     PositionStore
	Registry      *ExclusivityRegistry
	Engine        Engine
	AwaitTimeout  time.Duration
	DirectTimeout time.Duration
	// Post runs fn on the goroutine that owns the session. Results of
	// background work are delivered through it. Defaults to calling fn inline.
	Post   func(fn func())
	Logger *slog.Logger
}

// Info is a snapshot of a session.
type Info struct {
	Slot     int           `json:"slot"`
	ItemID   models.ItemID `json:"item_id,omitempty"`
	State    State         `json:"state"`
	Active   bool          `json:"active"`
	Position float64       `json:"position"`
	Duration float64       `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Session binds one rendered slot to a resource and an engine. All methods
// must be called from the goroutine that Post delivers to.
type Session struct {
	slot          int
	provider      ResourceProvider
	positions     PositionStore
	registry      *ExclusivityRegistry
	engine        Engine
	unregister    func()
	awaitTimeout  time.Duration
	directTimeout time.Duration
	post          func(func())
	logger        *slog.Logger

	state  State
	item   models.ItemID
	active bool
	loaded bool
	err    error

	// gen invalidates background work started for an earlier binding. It is
	// read by the engine's ended callback, hence atomic.
	gen    atomic.Uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession creates an idle session and registers its engine for
// exclusive playback.
func NewSession(cfg SessionConfig) *Session {
	if cfg.AwaitTimeout <= 0 {
		cfg.AwaitTimeout = DefaultAwaitTimeout
	}
	if cfg.DirectTimeout <= 0 {
		cfg.DirectTimeout = DefaultDirectTimeout
	}
	if cfg.Post == nil {
		cfg.Post = func(fn func()) { fn() }
	}
	if cfg.Engine == nil {
		cfg.Engine = NewClockEngine()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		slot:          cfg.Slot,
		provider:      cfg.Provider,
		positions:     cfg.Positions,
		registry:      cfg.Registry,
		engine:        cfg.Engine,
		awaitTimeout:  cfg.AwaitTimeout,
		directTimeout: cfg.DirectTimeout,
		post:          cfg.Post,
		logger: logger.With(
			slog.String("component", "playback_session"),
			slog.Int("slot", cfg.Slot),
		),
	}
	if s.registry != nil {
		s.unregister = s.registry.Register(s.engine)
	}
	s.engine.OnEnded(func() {
		gen := s.gen.Load()
		s.post(func() { s.handleEnded(gen) })
	})
	return s
}

// Bind attaches the session to item. Binding the item it already holds is a
// no-op unless the previous attempt failed.
func (s *Session) Bind(ctx context.Context, item models.FeedItem) error {
	if s.state == StateTornDown {
		return ErrTornDown
	}
	if err := item.Validate(); err != nil {
		return fmt.Errorf("binding slot %d: %w", s.slot, err)
	}
	if s.item == item.ID && s.state != StateIdle {
		return nil
	}

	s.unbind()
	gen := s.gen.Add(1)
	s.item = item.ID
	s.err = nil
	s.setState(StateBinding)

	bindCtx, cancel := context.WithCancel(ctx)
	s.ctx, s.cancel = bindCtx, cancel
	go func() {
		res, err := s.acquire(bindCtx, item.ID)
		s.post(func() { s.applyResource(gen, res, err) })
	}()
	return nil
}

// acquire waits briefly on the coordinated fetch, then races a direct fetch
// against a longer wait on the coordinated one. The first resource wins and
// the other attempt is cancelled.
func (s *Session) acquire(ctx context.Context, id models.ItemID) (*media.Resource, error) {
	res, err := s.provider.AwaitResource(ctx, id, s.awaitTimeout)
	if res != nil {
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	raceCtx, cancel := context.WithTimeout(ctx, s.directTimeout)
	defer cancel()

	type outcome struct {
		res    *media.Resource
		err    error
		direct bool
	}
	results := make(chan outcome, 2)
	go func() {
		r, e := s.provider.FetchDirect(raceCtx, id)
		results <- outcome{res: r, err: e, direct: true}
	}()
	go func() {
		r, e := s.provider.AwaitResource(raceCtx, id, s.directTimeout)
		results <- outcome{res: r, err: e}
	}()

	var (
		winner    *media.Resource
		directErr error
	)
	for range 2 {
		o := <-results
		switch {
		case o.res != nil && winner == nil:
			winner = o.res
			cancel()
			s.logger.Debug("resource acquired",
				slog.String("item_id", string(id)),
				slog.Bool("direct", o.direct),
			)
		case o.res != nil:
			_ = o.res.Close()
		case o.direct:
			directErr = o.err
		}
	}
	if winner != nil {
		return winner, nil
	}
	if directErr == nil {
		directErr = media.ErrNotFound
	}
	return nil, directErr
}

func (s *Session) applyResource(gen uint64, res *media.Resource, err error) {
	if gen != s.gen.Load() || s.state != StateBinding {
		if res != nil {
			_ = res.Close()
		}
		return
	}

	if err != nil {
		s.err = err
		s.setState(StateIdle)
		if media.Classify(err) != media.ErrorCancelled {
			s.logger.Warn("no resource for item, showing placeholder",
				slog.String("item_id", string(s.item)),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	if err := s.engine.Load(res); err != nil {
		_ = res.Close()
		s.err = err
		s.setState(StateIdle)
		return
	}
	s.loaded = true

	offset := 0.0
	if s.positions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		offset = s.positions.ResumeOffset(ctx, s.item)
		cancel()
	}
	if err := s.engine.Seek(offset); err != nil {
		s.logger.Warn("seek failed", slog.String("item_id", string(s.item)), slog.String("error", err.Error()))
	}
	s.setState(StateReady)

	if s.active {
		s.startPlayback()
	}
}

// SetActive makes the session the visible one, or takes that away.
// Becoming inactive persists the playhead.
func (s *Session) SetActive(active bool) {
	if s.state == StateTornDown || s.active == active {
		return
	}
	s.active = active

	if active {
		if s.state == StateReady || s.state == StatePaused {
			s.startPlayback()
		}
		return
	}
	if s.state == StatePlaying {
		s.engine.Pause()
		s.setState(StatePaused)
		s.persist()
	}
}

// startPlayback claims exclusivity and plays once the engine is prepared.
func (s *Session) startPlayback() {
	gen := s.gen.Load()
	prepared := s.engine.Prepared()
	select {
	case <-prepared:
		s.play()
	default:
		done := s.ctx.Done()
		go func() {
			select {
			case <-prepared:
			case <-done:
				return
			}
			s.post(func() {
				if gen == s.gen.Load() && s.active && (s.state == StateReady || s.state == StatePaused) {
					s.play()
				}
			})
		}()
	}
}

func (s *Session) play() {
	if s.registry != nil {
		s.registry.WillPlay(s.engine)
	}
	if err := s.engine.Play(); err != nil {
		s.logger.Warn("play failed", slog.String("item_id", string(s.item)), slog.String("error", err.Error()))
		return
	}
	s.setState(StatePlaying)
}

// handleEnded rewinds to the start, looping while active. A Sync that ran
// between the engine stopping and this callback may already have recorded
// the session as paused at the end.
func (s *Session) handleEnded(gen uint64) {
	if gen != s.gen.Load() {
		return
	}
	if s.state != StatePlaying && (s.state != StatePaused || !s.atEnd()) {
		return
	}
	_ = s.engine.Seek(0)
	s.persist()
	if s.active {
		s.play()
		return
	}
	s.setState(StatePaused)
}

// Sync reconciles the session state with its engine. An engine paused by
// the exclusivity registry is recorded as paused and its playhead saved.
// An engine stopped at the end is left for the ended callback.
func (s *Session) Sync() {
	if s.state == StatePlaying && !s.engine.IsPlaying() && !s.atEnd() {
		s.setState(StatePaused)
		s.persist()
	}
}

// atEnd reports whether the engine stopped on the last frame.
func (s *Session) atEnd() bool {
	d := s.engine.Duration()
	return d > 0 && !s.engine.IsPlaying() && s.engine.Position() >= d
}

// Unbind releases the current item and returns the session to idle.
func (s *Session) Unbind() {
	if s.state == StateTornDown {
		return
	}
	s.unbind()
	s.gen.Add(1)
	s.item = ""
	s.err = nil
	s.setState(StateIdle)
}

func (s *Session) unbind() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.loaded {
		if s.engine.IsPlaying() {
			s.engine.Pause()
		}
		s.persist()
		s.engine.Unload()
		s.loaded = false
	}
}

// Close tears the session down: it cancels any outstanding wait, saves the
// playhead, releases the resource and leaves the exclusivity registry.
func (s *Session) Close() {
	if s.state == StateTornDown {
		return
	}
	s.unbind()
	s.gen.Add(1)
	s.active = false
	if s.unregister != nil {
		s.unregister()
	}
	s.setState(StateTornDown)
}

func (s *Session) persist() {
	if s.positions == nil || !s.loaded || s.item == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.positions.Save(ctx, s.item, s.engine.Position(), s.engine.Duration()); err != nil {
		s.logger.Warn("failed to save position",
			slog.String("item_id", string(s.item)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Session) setState(state State) {
	if s.state == state {
		return
	}
	s.logger.Debug("session state",
		slog.String("item_id", string(s.item)),
		slog.String("from", s.state.String()),
		slog.String("to", state.String()),
	)
	s.state = state
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Item returns the bound item id, empty when idle.
func (s *Session) Item() models.ItemID { return s.item }

// Active reports whether the session is the visible one.
func (s *Session) Active() bool { return s.active }

// Engine returns the session's engine.
func (s *Session) Engine() Engine { return s.engine }

// Err returns why the last bind produced no resource.
func (s *Session) Err() error { return s.err }

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	info := Info{
		Slot:     s.slot,
		ItemID:   s.item,
		State:    s.state,
		Active:   s.active,
		Position: s.engine.Position(),
		Duration: s.engine.Duration(),
	}
	if s.err != nil && !errors.Is(s.err, context.Canceled) {
		info.Error = s.err.Error()
	}
	return info
}
