package metrics

import "time"

// CacheMetrics is the constructor-level view of bufcache.Metrics,
// re-declared here so this package does not import pkg/bufcache (the
// indirection the prometheus subpackage's constructors satisfy).
type CacheMetrics interface {
	ObserveAcquire(hit bool, d time.Duration)
	ObserveBucketSteal()
	SetActiveBuffers(n int)
}

// LogMetrics mirrors walog.Metrics.
type LogMetrics interface {
	ObserveCommit(blocksWritten int, d time.Duration)
}

// AllocMetrics mirrors alloc.Metrics.
type AllocMetrics interface {
	SetFreeBlocks(n int)
	ObserveAlloc(d time.Duration)
}

// newCacheMetrics/newLogMetrics/newAllocMetrics are registered by
// pkg/metrics/prometheus during its init(), breaking the import cycle
// that would otherwise exist between the two packages.
var (
	newCacheMetrics func() CacheMetrics
	newLogMetrics   func() LogMetrics
	newAllocMetrics func() AllocMetrics
)

// RegisterConstructors is called by pkg/metrics/prometheus's init() to
// install the concrete Prometheus-backed constructors.
func RegisterConstructors(cache func() CacheMetrics, log func() LogMetrics, alloc func() AllocMetrics) {
	newCacheMetrics = cache
	newLogMetrics = log
	newAllocMetrics = alloc
}

// NewCacheMetrics returns a Prometheus-backed CacheMetrics, or nil if
// metrics are disabled. Pass the result directly to bufcache.New.
func NewCacheMetrics() CacheMetrics {
	if !IsEnabled() || newCacheMetrics == nil {
		return nil
	}
	return newCacheMetrics()
}

// NewLogMetrics returns a Prometheus-backed LogMetrics, or nil if
// metrics are disabled. Pass the result directly to walog.Open.
func NewLogMetrics() LogMetrics {
	if !IsEnabled() || newLogMetrics == nil {
		return nil
	}
	return newLogMetrics()
}

// NewAllocMetrics returns a Prometheus-backed AllocMetrics, or nil if
// metrics are disabled. Pass the result directly to alloc.New.
func NewAllocMetrics() AllocMetrics {
	if !IsEnabled() || newAllocMetrics == nil {
		return nil
	}
	return newAllocMetrics()
}
