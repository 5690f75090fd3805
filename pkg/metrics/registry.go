// Package metrics provides the optional Prometheus registry and the
// nil-safe constructor indirection the storage layers accept, so a
// filesystem built without metrics enabled pays zero overhead.
//
// Grounded on the teacher's pkg/metrics indirection (a generic
// constructor in this package, the concrete Prometheus types in the
// prometheus subpackage, wired together via a package-level function
// variable to avoid an import cycle between the two).
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.Mutex
	registry *prometheus.Registry
	enabled  bool
)

// InitRegistry enables metrics collection and creates the process-wide
// Prometheus registry. Safe to call more than once; later calls are a
// no-op once a registry already exists.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
		enabled = true
	}
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// GetRegistry returns the process-wide registry, creating it if needed.
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	if registry == nil {
		mu.Unlock()
		return InitRegistry()
	}
	defer mu.Unlock()
	return registry
}
