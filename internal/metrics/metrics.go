// Package metrics exposes Prometheus instrumentation for subtrack.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "subtrack"

// Result label values.
const (
	ResultOK      = "ok"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

// Recorder is the instrumentation surface used by services, the worker and
// the HTTP layer.
type Recorder interface {
	IncSubscriptionOp(op, result string)
	ObserveStoreLatency(op string, d time.Duration)
	IncCacheLookup(result string)
	IncReminder(outcome string)
	IncRenewalAdvanced()
	IncAuthEvent(event, result string)
	ObserveHTTPRequest(method, route string, status int, d time.Duration)
}

// Metrics is the Prometheus-backed Recorder.
type Metrics struct {
	registry       *prometheus.Registry
	subscriptionOp *prometheus.CounterVec
	storeLatency   *prometheus.HistogramVec
	cacheLookups   *prometheus.CounterVec
	reminders      *prometheus.CounterVec
	renewals       prometheus.Counter
	authEvents     *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New registers every collector on registry. A nil registry gets a fresh one
// with the Go and process collectors attached.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		subscriptionOp: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subscription_operations_total",
				Help:      "Subscription operations by type and result",
			},
			[]string{"operation", "result"},
		),
		storeLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Latency of subscription store calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Subscription list cache lookups by result",
			},
			[]string{"result"},
		),
		reminders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminders_total",
				Help:      "Renewal reminders by outcome",
			},
			[]string{"outcome"},
		),
		renewals: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "renewals_advanced_total",
				Help:      "Overdue renewal dates rolled forward by the worker",
			},
		),
		authEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_events_total",
				Help:      "Sign-up, sign-in and sign-out attempts by result",
			},
			[]string{"event", "result"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) IncSubscriptionOp(op, result string) {
	m.subscriptionOp.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ObserveStoreLatency(op string, d time.Duration) {
	m.storeLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) IncCacheLookup(result string) {
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) IncReminder(outcome string) {
	m.reminders.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncRenewalAdvanced() {
	m.renewals.Inc()
}

func (m *Metrics) IncAuthEvent(event, result string) {
	m.authEvents.WithLabelValues(event, result).Inc()
}

func (m *Metrics) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Nop discards every observation.
type Nop struct{}

func (Nop) IncSubscriptionOp(string, string) {}
func (Nop) ObserveStoreLatency(string, time.Duration) {}
func (Nop) IncCacheLookup(string) {}
func (Nop) IncReminder(string) {}
func (Nop) IncRenewalAdvanced() {}
func (Nop) IncAuthEvent(string, string) {}
func (Nop) ObserveHTTPRequest(string, string, int, time.Duration) {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}
