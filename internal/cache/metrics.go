package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var resourceCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "feedreel_resource_cache_entries",
	Help: "Resources currently held by the resource cache",
})

var resourceCacheOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feedreel_resource_cache_ops_total",
	Help: "Resource cache operations by kind and outcome",
}, []string{"op", "result"})

var previewCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feedreel_preview_cache_lookups_total",
	Help: "Preview cache lookups by result",
}, []string{"result"})
