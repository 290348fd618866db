package gatewayproxy

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway's Prometheus collectors. All fields are safe
// for concurrent use, as is standard for prometheus client types.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	UpstreamErrors    *prometheus.CounterVec
	CORSPreflights    prometheus.Counter
	ActiveConnections prometheus.Gauge
	BytesTransferred  *prometheus.CounterVec
	CircuitState      *prometheus.GaugeVec
	CircuitRejects    *prometheus.CounterVec
}

// NewMetrics builds and registers the gateway's metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fechatter",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Total requests handled by the gateway, labeled by upstream, method and status class.",
		}, []string{"upstream", "method", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fechatter",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Latency of requests proxied by the gateway.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"upstream"}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fechatter",
			Subsystem: "gateway",
			Name:      "upstream_errors_total",
			Help:      "Errors dispatching to an upstream server, labeled by upstream and reason.",
		}, []string{"upstream", "reason"}),
		CORSPreflights: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fechatter",
			Subsystem: "gateway",
			Name:      "cors_preflights_total",
			Help:      "Total CORS preflight (OPTIONS) requests handled.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fechatter",
			Subsystem: "gateway",
			Name:      "active_connections",
			Help:      "Requests currently being proxied.",
		}),
		BytesTransferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fechatter",
			Subsystem: "gateway",
			Name:      "bytes_transferred_total",
			Help:      "Bytes proxied to or from an upstream, labeled by upstream and direction.",
		}, []string{"upstream", "direction"}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fechatter",
			Subsystem: "gateway",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per upstream (0=closed, 1=half_open, 2=open).",
		}, []string{"upstream"}),
		CircuitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fechatter",
			Subsystem: "gateway",
			Name:      "circuit_rejects_total",
			Help:      "Requests rejected because an upstream's circuit breaker was open.",
		}, []string{"upstream"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.UpstreamErrors,
		m.CORSPreflights,
		m.ActiveConnections,
		m.BytesTransferred,
		m.CircuitState,
		m.CircuitRejects,
	)
	return m
}

// circuitStateValue maps a BreakerState to the gauge value used by
// CircuitState.
func circuitStateValue(s BreakerState) float64 {
	switch s {
	case BreakerClosed:
		return 0
	case BreakerHalfOpen:
		return 1
	case BreakerOpen:
		return 2
	default:
		return -1
	}
}

// ObserveCircuitState records the current state of b for upstream.
func (m *Metrics) ObserveCircuitState(upstream string, b *Breaker) {
	m.CircuitState.WithLabelValues(upstream).Set(circuitStateValue(b.State()))
}
