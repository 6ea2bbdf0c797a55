package geolocate

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector receives operational events from grids, caches, rankers
// and evaluators. Implementations must be safe for concurrent use.
type MetricsCollector interface {
	// RecordDocument is called once per document offered to a grid.
	// reason is SkipNone when the document was accumulated.
	RecordDocument(reason SkipReason)

	// RecordClose is called when a grid transitions to CLOSED.
	RecordClose(kind GridKind, nonemptyCells int, duration time.Duration)

	// RecordRank is called after each ranking call.
	RecordRank(strategy string, cells int, duration time.Duration, err error)

	// RecordCacheLookup is called for every cell-distribution cache access.
	RecordCacheLookup(hit bool)

	// RecordEvaluation is called for every evaluated document; rank is
	// RankBeyondHorizon when the true cell was not credited.
	RecordEvaluation(rank int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordDocument(SkipReason)                    {}
func (NoopMetricsCollector) RecordClose(GridKind, int, time.Duration)     {}
func (NoopMetricsCollector) RecordRank(string, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordCacheLookup(bool)                       {}
func (NoopMetricsCollector) RecordEvaluation(int)                         {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	DocumentsAdded   atomic.Int64
	DocumentsSkipped atomic.Int64
	Closes           atomic.Int64
	RankCalls        atomic.Int64
	RankErrors       atomic.Int64
	RankTotalNanos   atomic.Int64
	CacheHits        atomic.Int64
	CacheMisses      atomic.Int64
	Evaluated        atomic.Int64
	EvaluatedCorrect atomic.Int64
}

// RecordDocument implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDocument(reason SkipReason) {
	if reason == SkipNone {
		b.DocumentsAdded.Add(1)
		return
	}
	b.DocumentsSkipped.Add(1)
}

// RecordClose implements MetricsCollector.
func (b *BasicMetricsCollector) RecordClose(GridKind, int, time.Duration) {
	b.Closes.Add(1)
}

// RecordRank implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRank(_ string, _ int, duration time.Duration, err error) {
	b.RankCalls.Add(1)
	b.RankTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RankErrors.Add(1)
	}
}

// RecordCacheLookup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCacheLookup(hit bool) {
	if hit {
		b.CacheHits.Add(1)
	} else {
		b.CacheMisses.Add(1)
	}
}

// RecordEvaluation implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEvaluation(rank int) {
	b.Evaluated.Add(1)
	if rank == 1 {
		b.EvaluatedCorrect.Add(1)
	}
}

// PrometheusCollector exports metrics through prometheus/client_golang.
type PrometheusCollector struct {
	documents *prometheus.CounterVec
	closes    *prometheus.CounterVec
	cells     *prometheus.GaugeVec
	rankTotal *prometheus.CounterVec
	rankMs    *prometheus.HistogramVec
	cache     *prometheus.CounterVec
	evalRanks *prometheus.CounterVec
}

// NewPrometheusCollector creates the collector and registers it with reg.
// Pass prometheus.DefaultRegisterer to expose through promhttp.Handler.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	p := &PrometheusCollector{
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geolocate_documents_total",
			Help: "Documents offered to grids, by outcome",
		}, []string{"outcome"}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geolocate_grid_closes_total",
			Help: "Grid OPEN to CLOSED transitions",
		}, []string{"grid"}),
		cells: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "geolocate_nonempty_cells",
			Help: "Nonempty cells after the last close",
		}, []string{"grid"}),
		rankTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geolocate_rank_total",
			Help: "Ranking calls by strategy and status",
		}, []string{"strategy", "status"}),
		rankMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geolocate_rank_duration_ms",
			Help:    "Ranking duration in milliseconds",
			Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
		}, []string{"strategy"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geolocate_cell_distribution_cache_total",
			Help: "Cell distribution cache lookups by result",
		}, []string{"result"}),
		evalRanks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geolocate_evaluation_rank_total",
			Help: "Evaluated documents by credited rank",
		}, []string{"rank"}),
	}
	for _, c := range []prometheus.Collector{
		p.documents, p.closes, p.cells, p.rankTotal, p.rankMs, p.cache, p.evalRanks,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// RecordDocument implements MetricsCollector.
func (p *PrometheusCollector) RecordDocument(reason SkipReason) {
	p.documents.WithLabelValues(reason.String()).Inc()
}

// RecordClose implements MetricsCollector.
func (p *PrometheusCollector) RecordClose(kind GridKind, nonemptyCells int, _ time.Duration) {
	p.closes.WithLabelValues(kind.String()).Inc()
	p.cells.WithLabelValues(kind.String()).Set(float64(nonemptyCells))
}

// RecordRank implements MetricsCollector.
func (p *PrometheusCollector) RecordRank(strategy string, _ int, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.rankTotal.WithLabelValues(strategy, status).Inc()
	p.rankMs.WithLabelValues(strategy).Observe(float64(duration.Microseconds()) / 1000)
}

// RecordCacheLookup implements MetricsCollector.
func (p *PrometheusCollector) RecordCacheLookup(hit bool) {
	if hit {
		p.cache.WithLabelValues("hit").Inc()
		return
	}
	p.cache.WithLabelValues("miss").Inc()
}

// RecordEvaluation implements MetricsCollector.
func (p *PrometheusCollector) RecordEvaluation(rank int) {
	label := "beyond"
	if rank != RankBeyondHorizon {
		label = strconv.Itoa(rank)
	}
	p.evalRanks.WithLabelValues(label).Inc()
}
