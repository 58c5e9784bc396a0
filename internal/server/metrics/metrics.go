// Package metrics exposes Prometheus counters for the record service.
// Every method is safe on a nil *Metrics so tests may skip wiring it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "counselkeeper"

type Metrics struct {
	registry           *prometheus.Registry
	operationsTotal    *prometheus.CounterVec
	accessDeniedTotal  *prometheus.CounterVec
	integrityFailures  prometheus.Counter
	auditWriteFailures prometheus.Counter
	rateLimitedTotal   prometheus.Counter
}

// New registers the collectors on a private registry, along with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		operationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "records",
				Name:      "operations_total",
				Help:      "Record operations partitioned by operation and result.",
			},
			[]string{"operation", "result"},
		),
		accessDeniedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "access_denied_total",
				Help:      "Denied record access attempts partitioned by reason.",
			},
			[]string{"reason"},
		),
		integrityFailures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "integrity_failures_total",
				Help:      "Stored records that failed authenticated decryption.",
			},
		),
		auditWriteFailures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_write_failures_total",
				Help:      "Audit entries that could not be persisted.",
			},
		),
		rateLimitedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the per-caller rate limiter.",
			},
		),
	}
}

// ObserveOperation counts one finished operation. result is "ok" or an
// error class such as "not_found" or "denied".
func (m *Metrics) ObserveOperation(operation, result string) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) AccessDenied(reason string) {
	if m == nil {
		return
	}
	m.accessDeniedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) IntegrityFailure() {
	if m == nil {
		return
	}
	m.integrityFailures.Inc()
}

// AuditWriteFailed implements audit.FailureObserver.
func (m *Metrics) AuditWriteFailed() {
	if m == nil {
		return
	}
	m.auditWriteFailures.Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimitedTotal.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
