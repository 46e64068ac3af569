// Package metrics exposes the fabric's Prometheus instrumentation:
// transaction outcomes and manager-driven retries. Everything here is
// optional — a nil *Metrics is safe to call methods on and simply records
// nothing, so packages that accept one don't need a separate has-metrics
// branch.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the fabric's Prometheus series, all namespaced "fabric_".
type Metrics struct {
	commits *prometheus.CounterVec
	retries prometheus.Counter

	mu      sync.RWMutex
	enabled bool
}

// New registers the fabric's metrics with registry. A nil registry uses
// prometheus.DefaultRegisterer.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		enabled: true,
		commits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fabric",
			Name:      "transactions_total",
			Help:      "Finished transactions, by outcome.",
		}, []string{"outcome"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fabric",
			Name:      "retries_total",
			Help:      "Manager-driven retries after an aborted action.",
		}),
	}
}

func (m *Metrics) isEnabled() bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Disable stops recording without unregistering series, useful in tests
// that want deterministic metric snapshots.
func (m *Metrics) Disable() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

func (m *Metrics) IncTransaction(outcome string) {
	if !m.isEnabled() {
		return
	}
	m.commits.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncRetry() {
	if !m.isEnabled() {
		return
	}
	m.retries.Inc()
}
