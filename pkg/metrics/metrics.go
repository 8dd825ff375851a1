// Package metrics holds the process-wide Prometheus registry and the
// collector interfaces implemented by the prometheus subpackage.
//
// Metrics are opt-in. When InitRegistry has not been called, constructors in
// the prometheus subpackage return nil, and all collector interfaces treat a
// nil receiver as a no-op, so disabled metrics cost nothing.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry creates the process-wide registry and enables metrics
// collection. It registers the standard Go runtime and process collectors.
//
// Call once at startup, before constructing any components that collect
// metrics.
func InitRegistry() {
	mu.Lock()
	defer mu.Unlock()

	if registry != nil {
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// IsEnabled reports whether metrics collection is enabled.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the process-wide registry, or nil when metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// ResetForTesting discards the registry so tests can re-initialize it.
func ResetForTesting() {
	mu.Lock()
	defer mu.Unlock()
	registry = nil
}
