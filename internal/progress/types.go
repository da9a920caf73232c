// Package progress tracks per-item fetch and readiness progress for
// diagnostics and UI overlays. It is observational only: nothing in the
// scheduler or the playback path reads it to make a decision.
package progress

import (
	"time"

	"github.com/jmylchreest/feedreel/internal/models"
)

// Phase is where an item is in its fetch lifecycle.
type Phase int

// Phases only move forward, except that a new fetch restarts at PhaseQueued.
const (
	PhaseQueued Phase = iota
	PhaseFetching
	PhaseResourceReady
	PhasePlaybackReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseQueued:
		return "queued"
	case PhaseFetching:
		return "fetching"
	case PhaseResourceReady:
		return "resource_ready"
	case PhasePlaybackReady:
		return "playback_ready"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Entry is the ledger row for one item.
type Entry struct {
	ItemID     models.ItemID `json:"item_id"`
	Phase      Phase         `json:"phase"`
	Percent    float64       `json:"percent"`
	LastUpdate time.Time     `json:"last_update"`
	Note       string        `json:"note,omitempty"`
}

// Event types sent to subscribers.
const (
	EventTypeProgress = "progress"
	EventTypeReady    = "ready"
	EventTypeFailed   = "failed"
)

// Event is a ledger change delivered to subscribers.
type Event struct {
	EventType string    `json:"event_type"`
	Entry     Entry     `json:"entry"`
	Timestamp time.Time `json:"timestamp"`
}

func eventTypeForPhase(p Phase) string {
	switch p {
	case PhasePlaybackReady:
		return EventTypeReady
	case PhaseFailed:
		return EventTypeFailed
	default:
		return EventTypeProgress
	}
}

// Subscriber receives ledger events on a buffered channel. Events are
// dropped, not queued, when the subscriber falls behind.
type Subscriber struct {
	ID     string
	Events chan Event
}
