package progress

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/feedreel/internal/models"
)

// DefaultCapacity bounds the ledger when no capacity is given.
const DefaultCapacity = 50

const subscriberBuffer = 64

// Ledger is a bounded table of per-item progress. Once full, the entry with
// the oldest update is evicted to make room.
type Ledger struct {
	mu          sync.RWMutex
	entries     map[models.ItemID]*Entry
	subscribers map[string]*Subscriber
	capacity    int
	logger      *slog.Logger
	now         func() time.Time
}

// NewLedger creates a ledger holding at most capacity entries.
func NewLedger(capacity int, logger *slog.Logger) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		entries:     make(map[models.ItemID]*Entry),
		subscribers: make(map[string]*Subscriber),
		capacity:    capacity,
		logger:      logger.With("component", "progress_ledger"),
		now:         time.Now,
	}
}

// Queue (re)starts tracking for id at PhaseQueued.
func (l *Ledger) Queue(id models.ItemID) {
	l.transition(id, PhaseQueued, 0, "")
}

// Fetching records fetch progress. Percent never decreases within the phase.
func (l *Ledger) Fetching(id models.ItemID, percent float64) {
	l.transition(id, PhaseFetching, percent, "")
}

// ResourceReady records that the resource has been fetched.
func (l *Ledger) ResourceReady(id models.ItemID) {
	l.transition(id, PhaseResourceReady, 1, "")
}

// PlaybackReady records that the item can be played without stalling.
func (l *Ledger) PlaybackReady(id models.ItemID) {
	l.transition(id, PhasePlaybackReady, 1, "")
}

// Fail records a permanent failure for id.
func (l *Ledger) Fail(id models.ItemID, note string) {
	l.transition(id, PhaseFailed, 0, note)
}

// Annotate sets the note on an existing entry without changing its phase.
func (l *Ledger) Annotate(id models.ItemID, note string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[id]
	if !ok {
		return
	}
	entry.Note = note
	entry.LastUpdate = l.now()
	l.broadcastLocked(*entry)
}

// transition applies a phase change if it is allowed and reports whether it did.
func (l *Ledger) transition(id models.ItemID, phase Phase, percent float64, note string) bool {
	percent = clampPercent(percent)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.entries[id]
	if !ok {
		l.evictLocked()
		entry = &Entry{ItemID: id, Phase: phase}
		l.entries[id] = entry
	} else {
		switch {
		case phase == PhaseQueued:
			// restart
		case phase < entry.Phase:
			return false
		case phase == entry.Phase && percent < entry.Percent:
			percent = entry.Percent
		case phase == entry.Phase && phase == PhaseFailed:
			// keep the first failure note
			return false
		}
	}

	changed := !ok || entry.Phase != phase
	entry.Phase = phase
	entry.Percent = percent
	entry.LastUpdate = now
	if note != "" || phase == PhaseQueued {
		entry.Note = note
	}

	if changed {
		attrs := []any{
			slog.String("item_id", string(id)),
			slog.String("phase", phase.String()),
			slog.Float64("percent", percent),
			slog.Time("timestamp", now),
		}
		if phase == PhaseFailed {
			l.logger.Warn("item failed", append(attrs, slog.String("note", note))...)
		} else {
			l.logger.Debug("progress transition", attrs...)
		}
	}

	l.broadcastLocked(*entry)
	return true
}

// evictLocked drops the oldest-updated entry when the table is full.
func (l *Ledger) evictLocked() {
	if len(l.entries) < l.capacity {
		return
	}
	var oldest *Entry
	for _, e := range l.entries {
		if oldest == nil || e.LastUpdate.Before(oldest.LastUpdate) {
			oldest = e
		}
	}
	if oldest != nil {
		delete(l.entries, oldest.ItemID)
		l.logger.Debug("evicted progress entry", slog.String("item_id", string(oldest.ItemID)))
	}
}

// Get returns a copy of the entry for id.
func (l *Ledger) Get(id models.ItemID) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// IsPlaybackReady reports whether id has reached PhasePlaybackReady.
func (l *Ledger) IsPlaybackReady(id models.ItemID) bool {
	entry, ok := l.Get(id)
	return ok && entry.Phase == PhasePlaybackReady
}

// IsSettled reports whether id is playback ready or has failed, that is,
// whether waiting on it will change anything.
func (l *Ledger) IsSettled(id models.ItemID) bool {
	entry, ok := l.Get(id)
	return ok && (entry.Phase == PhasePlaybackReady || entry.Phase == PhaseFailed)
}

// List returns all entries, most recently updated first.
func (l *Ledger) List() []Entry {
	l.mu.RLock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, *e)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUpdate.Equal(out[j].LastUpdate) {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].LastUpdate.After(out[j].LastUpdate)
	})
	return out
}

// Len returns the number of tracked items.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Remove stops tracking id.
func (l *Ledger) Remove(id models.ItemID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, id)
}

// Subscribe registers a new subscriber for ledger events.
func (l *Ledger) Subscribe() *Subscriber {
	l.mu.Lock()
	defer l.mu.Unlock()

	sub := &Subscriber{
		ID:     ulid.Make().String(),
		Events: make(chan Event, subscriberBuffer),
	}
	l.subscribers[sub.ID] = sub
	l.logger.Debug("subscriber added", "subscriber_id", sub.ID)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (l *Ledger) Unsubscribe(subscriberID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if sub, ok := l.subscribers[subscriberID]; ok {
		close(sub.Events)
		delete(l.subscribers, subscriberID)
		l.logger.Debug("subscriber removed", "subscriber_id", subscriberID)
	}
}

// broadcastLocked sends entry to every subscriber. Must be called with l.mu held.
func (l *Ledger) broadcastLocked(entry Entry) {
	if len(l.subscribers) == 0 {
		return
	}
	event := Event{
		EventType: eventTypeForPhase(entry.Phase),
		Entry:     entry,
		Timestamp: entry.LastUpdate,
	}
	for _, sub := range l.subscribers {
		select {
		case sub.Events <- event:
		default:
			l.logger.Warn("subscriber event channel full, dropping event",
				"subscriber_id", sub.ID,
				"item_id", string(entry.ItemID),
			)
		}
	}
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
