// Package prometheus provides the concrete Prometheus collectors for
// the buffer cache, write-ahead log, and block allocator, registered
// against pkg/metrics's process-wide registry.
//
// Grounded on the teacher's pkg/metrics/prometheus package: metric
// names namespaced by subsystem, histograms with hand-picked buckets
// for the expected latency range, gauges for point-in-time counts, and
// a package init() that registers the constructors with pkg/metrics to
// avoid an import cycle.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xv6fs/xv6fs/pkg/metrics"
)

func init() {
	metrics.RegisterConstructors(newCacheMetrics, newLogMetrics, newAllocMetrics)
}

// cacheMetrics is the Prometheus implementation of metrics.CacheMetrics.
type cacheMetrics struct {
	acquireTotal    *prometheus.CounterVec
	acquireDuration prometheus.Histogram
	bucketSteals    prometheus.Counter
	activeBuffers   prometheus.Gauge
}

func newCacheMetrics() metrics.CacheMetrics {
	reg := metrics.GetRegistry()
	return &cacheMetrics{
		acquireTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "xv6fs_bufcache_acquire_total",
				Help: "Total buffer cache acquisitions by outcome",
			},
			[]string{"outcome"}, // "hit", "miss"
		),
		acquireDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "xv6fs_bufcache_acquire_duration_seconds",
				Help: "Duration of buffer cache acquisitions",
				Buckets: []float64{
					0.000001, 0.00001, 0.0001, 0.001, 0.01, 0.1,
				},
			},
		),
		bucketSteals: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "xv6fs_bufcache_bucket_steals_total",
				Help: "Total cross-bucket steals performed to find a victim buffer",
			},
		),
		activeBuffers: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "xv6fs_bufcache_active_buffers",
				Help: "Current number of referenced buffer cache slots",
			},
		),
	}
}

func (m *cacheMetrics) ObserveAcquire(hit bool, d time.Duration) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.acquireTotal.WithLabelValues(outcome).Inc()
	m.acquireDuration.Observe(d.Seconds())
}

func (m *cacheMetrics) ObserveBucketSteal() {
	m.bucketSteals.Inc()
}

func (m *cacheMetrics) SetActiveBuffers(n int) {
	m.activeBuffers.Set(float64(n))
}

// logMetrics is the Prometheus implementation of metrics.LogMetrics.
type logMetrics struct {
	commitTotal    prometheus.Counter
	commitDuration prometheus.Histogram
	commitBlocks   prometheus.Histogram
}

func newLogMetrics() metrics.LogMetrics {
	reg := metrics.GetRegistry()
	return &logMetrics{
		commitTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "xv6fs_walog_commits_total",
				Help: "Total number of committed (possibly group-committed) transactions",
			},
		),
		commitDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "xv6fs_walog_commit_duration_seconds",
				Help: "Duration of a commit, from the first log body write to the release of the absorbed buffers",
				Buckets: []float64{
					0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1,
				},
			},
		),
		commitBlocks: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "xv6fs_walog_commit_blocks",
				Help:    "Number of blocks written by a single commit",
				Buckets: []float64{1, 2, 4, 8, 16, 30},
			},
		),
	}
}

func (m *logMetrics) ObserveCommit(blocksWritten int, d time.Duration) {
	m.commitTotal.Inc()
	m.commitDuration.Observe(d.Seconds())
	m.commitBlocks.Observe(float64(blocksWritten))
}

// allocMetrics is the Prometheus implementation of metrics.AllocMetrics.
type allocMetrics struct {
	freeBlocks     prometheus.Gauge
	allocDuration  prometheus.Histogram
}

func newAllocMetrics() metrics.AllocMetrics {
	reg := metrics.GetRegistry()
	return &allocMetrics{
		freeBlocks: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "xv6fs_alloc_free_blocks",
				Help: "Current number of free data blocks",
			},
		),
		allocDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "xv6fs_alloc_duration_seconds",
				Help: "Duration of a block allocation, including the bitmap scan",
				Buckets: []float64{
					0.00001, 0.0001, 0.001, 0.01, 0.1,
				},
			},
		),
	}
}

func (m *allocMetrics) SetFreeBlocks(n int) {
	m.freeBlocks.Set(float64(n))
}

func (m *allocMetrics) ObserveAlloc(d time.Duration) {
	m.allocDuration.Observe(d.Seconds())
}
