package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "webpool"

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Metrics holds the server's Prometheus metrics. It implements
// concurrency.Observer, tcp.Observer and httpd.Recorder.
type Metrics struct {
	// Pool metrics
	JobsSubmitted prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsFailed    prometheus.Counter
	JobDuration   prometheus.Histogram
	QueueDepth    prometheus.Gauge
	BusyWorkers   prometheus.Gauge

	// Acceptor metrics
	ConnectionsAccepted prometheus.Counter
	ConnectionsRejected prometheus.Counter
	ConnectionsFailed   prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	ConnectionDuration  prometheus.Histogram

	// Request metrics
	RequestsTotal *prometheus.CounterVec
}

// NewMetrics registers every metric on registerer.
// It panics if a metric is already registered there.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	factory := promauto.With(registerer)

	return &Metrics{
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Jobs accepted by the thread pool",
		}),
		JobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Jobs that returned normally",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Jobs that panicked",
		}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time a worker spent running one job",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting for a worker",
		}),
		BusyWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "busy_workers",
			Help:      "Workers currently running a job",
		}),

		ConnectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Connections returned by accept",
		}),
		ConnectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Connections closed without being handled",
		}),
		ConnectionsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_failed_total",
			Help:      "Connections whose handler returned an error or panicked",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Connections queued or being handled",
		}),
		ConnectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_duration_seconds",
			Help:      "Time from accept to close",
			Buckets:   prometheus.DefBuckets,
		}),

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Handled HTTP requests",
		}, []string{"method", "status"}),
	}
}

// JobQueued implements concurrency.Observer.
func (m *Metrics) JobQueued() {
	m.JobsSubmitted.Inc()
	m.QueueDepth.Inc()
}

// JobStarted implements concurrency.Observer.
func (m *Metrics) JobStarted(int) {
	m.QueueDepth.Dec()
	m.BusyWorkers.Inc()
}

// JobFinished implements concurrency.Observer.
func (m *Metrics) JobFinished(_ int, elapsed time.Duration, err error) {
	m.BusyWorkers.Dec()
	m.JobDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.JobsFailed.Inc()
		return
	}
	m.JobsCompleted.Inc()
}

// ConnAccepted implements tcp.Observer.
func (m *Metrics) ConnAccepted() {
	m.ConnectionsAccepted.Inc()
	m.ConnectionsActive.Inc()
}

// ConnRejected implements tcp.Observer.
func (m *Metrics) ConnRejected() {
	m.ConnectionsRejected.Inc()
	m.ConnectionsActive.Dec()
}

// ConnFinished implements tcp.Observer.
func (m *Metrics) ConnFinished(elapsed time.Duration, err error) {
	m.ConnectionsActive.Dec()
	m.ConnectionDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.ConnectionsFailed.Inc()
	}
}

// RecordRequest implements httpd.Recorder.
func (m *Metrics) RecordRequest(method string, status int) {
	m.RequestsTotal.WithLabelValues(methodLabel(method), statusClass(status)).Inc()
}

// methodLabel keeps label cardinality bounded.
func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return method
	case "":
		return "NONE"
	default:
		return "OTHER"
	}
}

func statusClass(code int) string {
	switch {
	case code >= 100 && code < 600:
		return strconv.Itoa(code/100) + "xx"
	default:
		return "unknown"
	}
}
