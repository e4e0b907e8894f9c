// Package metrics provides the Prometheus instruments for the bustimes service.
package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Feed fetch outcomes used as the "outcome" label.
const (
	OutcomeOK            = "ok"
	OutcomeConfiguration = "configuration_error"
	OutcomeUnavailable   = "unavailable"
	OutcomeUpstream      = "upstream_error"
	OutcomeDecode        = "decode_error"
)

// Metrics holds all Prometheus instruments for the service.
type Metrics struct {
	// Registry is private to this instance so tests can build many.
	Registry *prometheus.Registry

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Real-time feed
	FeedFetchesTotal  *prometheus.CounterVec
	FeedFetchDuration prometheus.Histogram
	FeedEntities      *prometheus.GaugeVec

	// Stop directory
	StopsIndexed      prometheus.Gauge
	StopReloadsTotal  *prometheus.CounterVec
	SearchCacheHits   prometheus.Counter
	SearchCacheMisses prometheus.Counter

	// Timetable database
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitSecondsTotal prometheus.Counter

	logger *slog.Logger

	collectorStarted atomic.Bool
	cancel           context.CancelFunc
	wg               sync.WaitGroup
}

// New creates and registers all instruments with a fresh registry.
func New() *Metrics {
	return NewWithLogger(nil)
}

// NewWithLogger creates metrics with a logger for collector failures.
func NewWithLogger(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		logger:   logger,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustimes_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bustimes_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		FeedFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustimes_feed_fetches_total",
			Help: "Real-time feed fetches by outcome",
		}, []string{"outcome"}),
		FeedFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bustimes_feed_fetch_duration_seconds",
			Help:    "Time to fetch and decode the real-time feed",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		FeedEntities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bustimes_feed_entities",
			Help: "Entities in the most recent feed snapshot",
		}, []string{"kind"}),

		StopsIndexed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustimes_stops_indexed",
			Help: "Stops in the published directory",
		}),
		StopReloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustimes_stop_reloads_total",
			Help: "Stop directory reloads by outcome",
		}, []string{"outcome"}),
		SearchCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustimes_search_cache_hits_total",
			Help: "Stop searches answered from cache",
		}),
		SearchCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustimes_search_cache_misses_total",
			Help: "Stop searches that had to rank the directory",
		}),

		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustimes_db_connections_open",
			Help: "Number of open timetable database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustimes_db_connections_in_use",
			Help: "Number of timetable database connections currently in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustimes_db_connections_idle",
			Help: "Number of idle timetable database connections",
		}),
		DBWaitSecondsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustimes_db_wait_seconds_total",
			Help: "Total time blocked waiting for a timetable database connection",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.FeedFetchesTotal,
		m.FeedFetchDuration,
		m.FeedEntities,
		m.StopsIndexed,
		m.StopReloadsTotal,
		m.SearchCacheHits,
		m.SearchCacheMisses,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBWaitSecondsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveFetch records one feed fetch. It is safe on a nil receiver.
func (m *Metrics) ObserveFetch(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.FeedFetchesTotal.WithLabelValues(outcome).Inc()
	m.FeedFetchDuration.Observe(elapsed.Seconds())
}

// ObserveSnapshot records the entity counts of the latest snapshot.
func (m *Metrics) ObserveSnapshot(vehicles, tripUpdates, skipped int) {
	if m == nil {
		return
	}
	m.FeedEntities.WithLabelValues("vehicles").Set(float64(vehicles))
	m.FeedEntities.WithLabelValues("trip_updates").Set(float64(tripUpdates))
	m.FeedEntities.WithLabelValues("skipped").Set(float64(skipped))
}

// ObserveReload records a directory build and, on success, its size.
func (m *Metrics) ObserveReload(stops int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.StopReloadsTotal.WithLabelValues("error").Inc()
		return
	}
	m.StopReloadsTotal.WithLabelValues("ok").Inc()
	m.StopsIndexed.Set(float64(stops))
}

// StartDBStatsCollector periodically copies db.Stats() into the DB gauges.
// Calling it more than once has no effect. Shutdown stops it.
func (m *Metrics) StartDBStatsCollector(db *sql.DB, interval time.Duration) {
	if db == nil {
		return
	}
	if !m.collectorStarted.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	var lastWaitDuration time.Duration

	m.wg.Add(1)
	m.cancel = cancel

	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil && m.logger != nil {
				m.logger.Error("panic in DB stats collector", "error", r)
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats := db.Stats()
				m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
				m.DBConnectionsInUse.Set(float64(stats.InUse))
				m.DBConnectionsIdle.Set(float64(stats.Idle))

				if waitDelta := stats.WaitDuration - lastWaitDuration; waitDelta > 0 {
					m.DBWaitSecondsTotal.Add(waitDelta.Seconds())
				}
				lastWaitDuration = stats.WaitDuration

			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the DB stats collector and waits for it. Safe to call
// repeatedly.
func (m *Metrics) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
