package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avelaz/genbridge/pkg/models"
)

// Metrics aggregates the service's Prometheus collectors
type Metrics struct {
	tasksTotal    *prometheus.CounterVec
	tasksInFlight prometheus.Gauge
	awaitDuration *prometheus.HistogramVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	graphNodes    prometheus.Histogram
}

// New creates and registers all collectors on reg. Pass
// prometheus.DefaultRegisterer outside of tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genbridge_tasks_total",
				Help: "Completed tasks by kind and terminal status",
			},
			[]string{"kind", "status"},
		),
		tasksInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "genbridge_tasks_in_flight",
				Help: "Tasks currently being monitored",
			},
		),
		awaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "genbridge_await_duration_seconds",
				Help:    "Time from submission to terminal outcome",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"kind", "status"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genbridge_http_requests_total",
				Help: "API requests by method, route and status code",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "genbridge_http_request_duration_seconds",
				Help:    "API request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		graphNodes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "genbridge_graph_nodes",
				Help:    "Node count of submitted graphs",
				Buckets: prometheus.LinearBuckets(10, 10, 12),
			},
		),
	}

	reg.MustRegister(
		m.tasksTotal,
		m.tasksInFlight,
		m.awaitDuration,
		m.httpRequests,
		m.httpDuration,
		m.graphNodes,
	)
	return m
}

// TaskStarted marks a task entering monitoring
func (m *Metrics) TaskStarted() {
	m.tasksInFlight.Inc()
}

// TaskFinished records a terminal outcome and its total wall time
func (m *Metrics) TaskFinished(kind string, status models.Status, elapsed time.Duration) {
	m.tasksInFlight.Dec()
	m.tasksTotal.WithLabelValues(kind, string(status)).Inc()
	m.awaitDuration.WithLabelValues(kind, string(status)).Observe(elapsed.Seconds())
}

// GraphSubmitted records the size of a graph accepted by the engine
func (m *Metrics) GraphSubmitted(nodeCount int) {
	m.graphNodes.Observe(float64(nodeCount))
}

// Handler returns the scrape endpoint handler
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware instruments an HTTP handler with request counts and latency.
// route should be the mux route template, not the raw path, to keep
// label cardinality bounded.
func (m *Metrics) Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
