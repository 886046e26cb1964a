package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "httpgateway"

// Login and upgrade outcomes used as metric labels.
const (
	resultSuccess   = "success"
	resultFailure   = "failure"
	resultThrottled = "throttled"
	resultAccepted  = "accepted"
	resultDenied    = "denied"
)

// Metrics holds the gateway's Prometheus collectors on a private registry.
// All methods are safe on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive  prometheus.Gauge
	broadcasts      prometheus.Counter
	droppedSessions prometheus.Counter
	logins          *prometheus.CounterVec
	upgrades        *prometheus.CounterVec
	codesIssued     *prometheus.CounterVec
	httpInFlight    prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// NewMetrics creates and registers the gateway collectors along with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "websocket_sessions_active",
			Help:      "Authorized WebSocket sessions currently connected.",
		}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcasts_total",
			Help:      "Host events fanned out to WebSocket sessions.",
		}),
		droppedSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "websocket_slow_disconnects_total",
			Help:      "Sessions disconnected because their send buffer was full.",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "logins_total",
			Help:      "Enrollment code redemption attempts by result.",
		}, []string{"result"}),
		upgrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "websocket_upgrades_total",
			Help:      "WebSocket upgrade attempts by result.",
		}, []string{"result"}),
		codesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "codes_issued_total",
			Help:      "Enrollment codes generated by source.",
		}, []string{"source"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionsActive,
		m.broadcasts,
		m.droppedSessions,
		m.logins,
		m.upgrades,
		m.codesIssued,
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) setSessions(n int) {
	if m != nil {
		m.sessionsActive.Set(float64(n))
	}
}

func (m *Metrics) incBroadcast() {
	if m != nil {
		m.broadcasts.Inc()
	}
}

func (m *Metrics) incSlowDisconnect() {
	if m != nil {
		m.droppedSessions.Inc()
	}
}

func (m *Metrics) incLogin(result string) {
	if m != nil {
		m.logins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) incUpgrade(result string) {
	if m != nil {
		m.upgrades.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) incCodeIssued(source string) {
	if m != nil {
		m.codesIssued.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) requestStarted() {
	if m != nil {
		m.httpInFlight.Inc()
	}
}

// requestFinished records one request. route must be the route pattern,
// never the raw path: /ws/{token} carries a credential.
func (m *Metrics) requestFinished(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.httpInFlight.Dec()
	m.httpRequests.WithLabelValues(method, route, code).Inc()
	m.httpDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
}
