package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Connection kinds used as the "kind" label.
const (
	KindClient   = "client"
	KindUpstream = "upstream"
)

// Collector owns every Prometheus metric the proxy exports. A nil
// *Collector is valid and records nothing, so callers never need to check
// whether metrics are enabled.
//
// Metrics:
//   - lload_connections_active: open connections by kind
//   - lload_connections_total: accepted or dialed connections by kind
//   - lload_operations_total: completed operations by backend, type and result
//   - lload_operation_duration_seconds: forward-to-final-response latency
//   - lload_operations_rejected_total: operations answered by the proxy itself
//   - lload_operations_abandoned_total: operations abandoned by clients
//   - lload_backend_up: 1 when a backend has a ready connection
//   - lload_backend_failures: consecutive dial failures per backend
//   - lload_backend_operations_pending: operations assigned per backend
//   - lload_binds_total: client binds by strategy and result
//   - lload_config_reloads_total: configuration reloads by result
type Collector struct {
	registry *prometheus.Registry

	connectionsActive *prometheus.GaugeVec
	connectionsTotal  *prometheus.CounterVec

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	rejected          *prometheus.CounterVec
	abandoned         prometheus.Counter

	backendUp      *prometheus.GaugeVec
	backendFailure *prometheus.GaugeVec
	backendPending *prometheus.GaugeVec

	binds   *prometheus.CounterVec
	reloads *prometheus.CounterVec
}

// NewCollector creates and registers all metrics with registry. If
// registry is nil a fresh one is created.
func NewCollector(namespace string, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = "lload"
	}

	c := &Collector{
		registry: registry,

		connectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections_active",
				Help:      "Number of open connections",
			},
			[]string{"kind"},
		),
		connectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Total number of connections accepted or dialed",
			},
			[]string{"kind"},
		),

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of operations completed by an upstream",
			},
			[]string{"backend", "type", "result"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Time from forwarding an operation to its final response",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"type"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_rejected_total",
				Help:      "Total number of operations answered by the proxy without an upstream",
			},
			[]string{"reason"},
		),
		abandoned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_abandoned_total",
				Help:      "Total number of operations abandoned by clients",
			},
		),

		backendUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "backend_up",
				Help:      "Backend availability (1=has a ready connection, 0=none)",
			},
			[]string{"backend"},
		),
		backendFailure: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "backend_failures",
				Help:      "Consecutive connection failures per backend",
			},
			[]string{"backend"},
		),
		backendPending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "backend_operations_pending",
				Help:      "Operations currently assigned to a backend",
			},
			[]string{"backend"},
		),

		binds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "binds_total",
				Help:      "Total number of client binds by strategy and result",
			},
			[]string{"strategy", "result"},
		),
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of configuration reloads",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		c.connectionsActive,
		c.connectionsTotal,
		c.operations,
		c.operationDuration,
		c.rejected,
		c.abandoned,
		c.backendUp,
		c.backendFailure,
		c.backendPending,
		c.binds,
		c.reloads,
	)

	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// ConnectionOpened records a new connection of the given kind.
func (c *Collector) ConnectionOpened(kind string) {
	if c == nil {
		return
	}
	c.connectionsActive.WithLabelValues(kind).Inc()
	c.connectionsTotal.WithLabelValues(kind).Inc()
}

// ConnectionClosed records the end of a connection of the given kind.
func (c *Collector) ConnectionClosed(kind string) {
	if c == nil {
		return
	}
	c.connectionsActive.WithLabelValues(kind).Dec()
}

// OperationCompleted records an operation whose final response came from
// backend.
func (c *Collector) OperationCompleted(backend, opType, result string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.operations.WithLabelValues(backend, opType, result).Inc()
	c.operationDuration.WithLabelValues(opType).Observe(elapsed.Seconds())
}

// OperationRejected records an operation the proxy answered itself.
// Typical reasons are "unavailable", "timeout", "busy" and "unsupported".
func (c *Collector) OperationRejected(reason string) {
	if c == nil {
		return
	}
	c.rejected.WithLabelValues(reason).Inc()
}

// OperationAbandoned records a client abandon.
func (c *Collector) OperationAbandoned() {
	if c == nil {
		return
	}
	c.abandoned.Inc()
}

// BackendState publishes the health of one backend.
func (c *Collector) BackendState(backend string, up bool, failures, pending int) {
	if c == nil {
		return
	}
	value := 0.0
	if up {
		value = 1.0
	}
	c.backendUp.WithLabelValues(backend).Set(value)
	c.backendFailure.WithLabelValues(backend).Set(float64(failures))
	c.backendPending.WithLabelValues(backend).Set(float64(pending))
}

// BackendRemoved drops the series of a backend removed by reload.
func (c *Collector) BackendRemoved(backend string) {
	if c == nil {
		return
	}
	c.backendUp.DeleteLabelValues(backend)
	c.backendFailure.DeleteLabelValues(backend)
	c.backendPending.DeleteLabelValues(backend)
}

// BindCompleted records the outcome of a client bind.
func (c *Collector) BindCompleted(strategy, result string) {
	if c == nil {
		return
	}
	c.binds.WithLabelValues(strategy, result).Inc()
}

// ConfigReloaded records a reload attempt.
func (c *Collector) ConfigReloaded(ok bool) {
	if c == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	c.reloads.WithLabelValues(result).Inc()
}
