// Package metrics holds the prometheus collectors of the engine. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Ingest outcomes.
const (
	OutcomeInserted = "inserted"
	OutcomeUpdated  = "updated"
	OutcomeStale    = "stale"
	OutcomeRejected = "rejected"
)

// Query kinds.
const (
	QuerySimilar = "similar"
	QueryGap     = "gap"
	QuerySearch  = "search"
)

// Metrics groups the collectors.
type Metrics struct {
	recordsIngested *prometheus.CounterVec
	syncRuns        *prometheus.CounterVec
	syncDuration    prometheus.Histogram
	lastSync        prometheus.Gauge
	queryDuration   *prometheus.HistogramVec
	indexPoints     prometheus.Gauge
	indexUpdates    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		recordsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flightbag_records_ingested_total",
			Help: "Disc records processed by ingest and sync, by outcome.",
		}, []string{"outcome"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flightbag_sync_runs_total",
			Help: "Sync runs by result.",
		}, []string{"result"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flightbag_sync_duration_seconds",
			Help:    "Wall time of one sync run.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		lastSync: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flightbag_last_successful_sync_timestamp_seconds",
			Help: "Unix time of the last successful sync.",
		}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flightbag_query_duration_seconds",
			Help:    "Latency of catalog queries by kind.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
		}, []string{"query"}),
		indexPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flightbag_index_points",
			Help: "Points in the published flight index snapshot.",
		}),
		indexUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flightbag_index_updates_total",
			Help: "Flight index publications by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.recordsIngested,
			m.syncRuns,
			m.syncDuration,
			m.lastSync,
			m.queryDuration,
			m.indexPoints,
			m.indexUpdates,
		)
	}
	return m
}

// Ingested counts n records with the given outcome.
func (m *Metrics) Ingested(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsIngested.WithLabelValues(outcome).Add(float64(n))
}

// SyncFinished records one sync run.
func (m *Metrics) SyncFinished(start time.Time, err error) {
	if m == nil {
		return
	}
	m.syncDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.syncRuns.WithLabelValues("failure").Inc()
		return
	}
	m.syncRuns.WithLabelValues("success").Inc()
	m.lastSync.SetToCurrentTime()
}

// ObserveQuery records the latency of one query.
func (m *Metrics) ObserveQuery(query string, start time.Time) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
}

// IndexPublished records a new index snapshot of the given size.
func (m *Metrics) IndexPublished(kind string, points int) {
	if m == nil {
		return
	}
	m.indexUpdates.WithLabelValues(kind).Inc()
	m.indexPoints.Set(float64(points))
}
