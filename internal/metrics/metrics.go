// Package metrics exports cache and autosave events as Prometheus series.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache implements cache.Metrics.
type Cache struct {
	hits            *prometheus.CounterVec
	misses          prometheus.Counter
	durableFailures *prometheus.CounterVec
}

// NewCache registers the cache series on reg. scope separates caches that
// share a registry, for example "server" and "client".
func NewCache(reg prometheus.Registerer, scope string) *Cache {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"scope": scope}
	return &Cache{
		hits: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "proposalsync_cache_hits_total",
			Help:        "Cache hits by tier",
			ConstLabels: labels,
		}, []string{"tier"}),
		misses: factory.NewCounter(prometheus.CounterOpts{
			Name:        "proposalsync_cache_misses_total",
			Help:        "Cache lookups that found no live entry",
			ConstLabels: labels,
		}),
		durableFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "proposalsync_cache_durable_failures_total",
			Help:        "Durable tier operations that failed and were absorbed",
			ConstLabels: labels,
		}, []string{"op"}),
	}
}

func (m *Cache) Hit(tier string)           { m.hits.WithLabelValues(tier).Inc() }
func (m *Cache) Miss()                     { m.misses.Inc() }
func (m *Cache) DurableFailure(op string) { m.durableFailures.WithLabelValues(op).Inc() }

// Autosave implements autosave.Metrics.
type Autosave struct {
	inFlight         prometheus.Gauge
	saves            *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	fallbackFailures prometheus.Counter
}

func NewAutosave(reg prometheus.Registerer) *Autosave {
	factory := promauto.With(reg)
	return &Autosave{
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "proposalsync_autosave_in_flight",
			Help: "Remote saves currently running",
		}),
		saves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proposalsync_autosave_saves_total",
			Help: "Remote saves by outcome",
		}, []string{"outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proposalsync_autosave_duration_seconds",
			Help:    "Remote save latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"outcome"}),
		fallbackFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "proposalsync_autosave_fallback_failures_total",
			Help: "Fallback snapshot writes rejected by local storage",
		}),
	}
}

func (m *Autosave) SaveStarted() { m.inFlight.Inc() }

func (m *Autosave) SaveFinished(outcome string, elapsed time.Duration) {
	m.inFlight.Dec()
	m.saves.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Autosave) FallbackFailed() { m.fallbackFailures.Inc() }
