// Package metrics exposes the daemon's prometheus instruments.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sstent/pedometer-bridge/internal/channel"
)

const namespace = "pedometer"

// Metrics implements the stream, method and ingest observers.
type Metrics struct {
	registry *prometheus.Registry

	methodCalls   *prometheus.CounterVec
	events        *prometheus.CounterVec
	subscriptions *prometheus.GaugeVec
	ingested      *prometheus.CounterVec
	syncRuns      *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New registers the instruments on a private registry, along with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		methodCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "method_calls_total",
			Help:      "Method calls by method and outcome.",
		}, []string{"method", "status"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Stream events by channel and kind.",
		}, []string{"channel", "kind"}),
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Active subscribers per event channel.",
		}, []string{"channel"}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_samples_total",
			Help:      "Step samples received by feed and outcome.",
		}, []string{"source", "outcome"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Wellness sync runs by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.methodCalls,
		m.events,
		m.subscriptions,
		m.ingested,
		m.syncRuns,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveMethod(method string, status channel.Status) {
	m.methodCalls.WithLabelValues(method, string(status)).Inc()
}

func (m *Metrics) ObserveEvent(stream string, kind channel.EventKind) {
	m.events.WithLabelValues(stream, string(kind)).Inc()
}

func (m *Metrics) ObserveSubscribers(stream string, n int) {
	m.subscriptions.WithLabelValues(stream).Set(float64(n))
}

func (m *Metrics) ObserveIngest(source, outcome string) {
	m.ingested.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) ObserveSync(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.syncRuns.WithLabelValues(result).Inc()
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latencies by route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
