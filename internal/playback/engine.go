// Package playback binds fetched resources to playback engines, one session
// per rendered slot, and makes sure only one engine plays at a time.
package playback

import (
	"errors"

	"github.com/jmylchreest/feedreel/internal/media"
)

var (
	// ErrNotLoaded is returned when an engine has no resource attached.
	ErrNotLoaded = errors.New("engine has no resource loaded")
	// ErrTornDown is returned by operations on a torn down session.
	ErrTornDown = errors.New("session torn down")
)

// Engine plays one resource at a time. Implementations must be safe for
// concurrent use; the ended callback may fire on any goroutine.
type Engine interface {
	// ID is stable for the lifetime of the engine.
	ID() string
	// Load attaches res, taking ownership of it. Any previous resource is released.
	Load(res *media.Resource) error
	// Prepared is closed once enough is buffered to play without stalling.
	Prepared() <-chan struct{}
	Seek(offset float64) error
	Play() error
	Pause()
	IsPlaying() bool
	// Position and Duration are in seconds.
	Position() float64
	Duration() float64
	// Unload detaches and releases the current resource.
	Unload()
	// OnEnded sets the callback invoked when playback reaches the end naturally.
	OnEnded(fn func())
}

// EngineFactory creates an engine for a new session.
type EngineFactory func() Engine
