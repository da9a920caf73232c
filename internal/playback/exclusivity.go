package playback

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var exclusivityPauses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "feedreel_exclusivity_pauses_total",
	Help: "Engines paused because another engine started playing",
})

var registeredEngines = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "feedreel_playback_engines_registered",
	Help: "Engines currently registered for exclusive playback",
})

// Pausable is the part of an Engine the registry needs.
type Pausable interface {
	ID() string
	Pause()
	IsPlaying() bool
}

// ExclusivityRegistry is the only place that decides which engine may play.
// Membership is by engine id and holds no ownership.
type ExclusivityRegistry struct {
	mu      sync.Mutex
	engines map[string]Pausable
	logger  *slog.Logger
}

// NewExclusivityRegistry creates an empty registry.
func NewExclusivityRegistry(logger *slog.Logger) *ExclusivityRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExclusivityRegistry{
		engines: make(map[string]Pausable),
		logger:  logger.With(slog.String("component", "exclusivity_registry")),
	}
}

// Register adds e and returns the function that removes it. The returned
// function is safe to call more than once.
func (r *ExclusivityRegistry) Register(e Pausable) (unregister func()) {
	r.mu.Lock()
	r.engines[e.ID()] = e
	registeredEngines.Set(float64(len(r.engines)))
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.Unregister(e) })
	}
}

// Unregister removes e.
func (r *ExclusivityRegistry) Unregister(e Pausable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.engines[e.ID()]; ok && current == e {
		delete(r.engines, e.ID())
	}
	registeredEngines.Set(float64(len(r.engines)))
}

// WillPlay pauses every registered engine other than e. It returns after all
// of them are paused, so the caller's play happens after the pauses.
func (r *ExclusivityRegistry) WillPlay(e Pausable) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, other := range r.engines {
		if id == e.ID() || !other.IsPlaying() {
			continue
		}
		other.Pause()
		exclusivityPauses.Inc()
		r.logger.Debug("paused engine for exclusive playback",
			slog.String("paused", id),
			slog.String("playing", e.ID()),
		)
	}
}

// Playing returns the ids of registered engines reporting playback.
func (r *ExclusivityRegistry) Playing() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, e := range r.engines {
		if e.IsPlaying() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of registered engines.
func (r *ExclusivityRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}
