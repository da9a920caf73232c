package playback

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/feedreel/internal/media"
)

// ClockEngine is an Engine that advances a playhead against the wall clock
// using the duration reported by the resource. It does no decoding. A zero
// duration never ends.
type ClockEngine struct {
	id  string
	now func() time.Time

	mu        sync.Mutex
	res       *media.Resource
	prepared  chan struct{}
	duration  float64
	position  float64
	playing   bool
	startedAt time.Time
	timer     *time.Timer
	timerGen  uint64
	onEnded   func()
}

// NewClockEngine creates an idle engine.
func NewClockEngine() *ClockEngine {
	return &ClockEngine{
		id:       uuid.NewString(),
		now:      time.Now,
		prepared: make(chan struct{}),
	}
}

// NewClockEngineFactory returns an EngineFactory producing ClockEngines.
func NewClockEngineFactory() EngineFactory {
	return func() Engine { return NewClockEngine() }
}

func (e *ClockEngine) ID() string { return e.id }

func (e *ClockEngine) Load(res *media.Resource) error {
	if res == nil {
		return ErrNotLoaded
	}
	if res.Closed() {
		return media.ErrClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.releaseLocked()
	e.res = res
	e.duration = res.Duration
	e.position = 0
	e.prepared = make(chan struct{})
	if res.Complete {
		close(e.prepared)
	}
	return nil
}

func (e *ClockEngine) Prepared() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prepared
}

func (e *ClockEngine) Seek(offset float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.res == nil {
		return ErrNotLoaded
	}
	e.position = e.clampLocked(offset)
	if e.playing {
		e.startedAt = e.now()
		e.scheduleEndLocked()
	}
	return nil
}

func (e *ClockEngine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.res == nil {
		return ErrNotLoaded
	}
	if e.playing {
		return nil
	}
	e.playing = true
	e.startedAt = e.now()
	e.scheduleEndLocked()
	return nil
}

func (e *ClockEngine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseLocked()
}

func (e *ClockEngine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

func (e *ClockEngine) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionLocked()
}

func (e *ClockEngine) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

func (e *ClockEngine) Unload() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releaseLocked()
}

func (e *ClockEngine) OnEnded(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnded = fn
}

func (e *ClockEngine) releaseLocked() {
	e.pauseLocked()
	if e.res != nil {
		_ = e.res.Close()
		e.res = nil
	}
	e.duration = 0
	e.position = 0
}

func (e *ClockEngine) pauseLocked() {
	if e.playing {
		e.position = e.positionLocked()
		e.playing = false
	}
	e.stopTimerLocked()
}

func (e *ClockEngine) positionLocked() float64 {
	if !e.playing {
		return e.position
	}
	return e.clampLocked(e.position + e.now().Sub(e.startedAt).Seconds())
}

func (e *ClockEngine) clampLocked(offset float64) float64 {
	if offset < 0 {
		return 0
	}
	if e.duration > 0 && offset > e.duration {
		return e.duration
	}
	return offset
}

func (e *ClockEngine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.timerGen++
}

func (e *ClockEngine) scheduleEndLocked() {
	e.stopTimerLocked()
	if e.duration <= 0 {
		return
	}
	remaining := time.Duration((e.duration - e.position) * float64(time.Second))
	gen := e.timerGen
	e.timer = time.AfterFunc(max(remaining, 0), func() { e.ended(gen) })
}

func (e *ClockEngine) ended(gen uint64) {
	e.mu.Lock()
	if gen != e.timerGen || !e.playing {
		e.mu.Unlock()
		return
	}
	e.playing = false
	e.position = e.duration
	e.timer = nil
	fn := e.onEnded
	e.mu.Unlock()

	if fn != nil {
		fn()
	}
}
