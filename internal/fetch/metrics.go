package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var fetchesStarted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "feedreel_fetch_started_total",
	Help: "Coordinated fetches started",
})

var fetchesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feedreel_fetch_completed_total",
	Help: "Coordinated fetches finished, by result",
}, []string{"result"})

var fetchRetries = promauto.NewCounter(prometheus.CounterOpts{
	Name: "feedreel_fetch_retries_total",
	Help: "Fetches restarted after a transient failure backoff",
})

var fetchesInflight = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "feedreel_fetch_inflight",
	Help: "Fetches currently outstanding",
})

var fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "feedreel_fetch_duration_seconds",
	Help:    "Time from fetch start to resource delivery",
	Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
})

var waiterResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feedreel_fetch_waiter_resolutions_total",
	Help: "Waiter resolutions by outcome",
}, []string{"outcome"})
