package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "actionbridge"

// Event results recorded by ObserveEvent.
const (
	EventSubmitted     = "submitted"
	EventIgnoredTopic  = "ignored_topic"
	EventIgnoredEmpty  = "ignored_empty"
	EventIgnoredAction = "ignored_action"
	EventParseError    = "parse_error"
	EventSubmitFailed  = "submit_failed"
)

// Metrics holds the bridge's Prometheus collectors on a private registry.
//
// Every method is safe to call on a nil *Metrics, so components can take an
// optional metrics value without branching.
type Metrics struct {
	registry *prometheus.Registry

	eventsReceived  *prometheus.CounterVec
	jobsSubmitted   *prometheus.CounterVec
	jobsCompleted   *prometheus.CounterVec
	jobsInFlight    prometheus.Gauge
	queueDepth      prometheus.Gauge
	commandDuration *prometheus.HistogramVec
}

// New creates and registers the bridge collectors together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Sensor messages received, by handling result.",
		}, []string{"result"}),
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Device command jobs submitted to the dispatcher, by source.",
		}, []string{"source"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Device command jobs finished, by outcome.",
		}, []string{"outcome"}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently being executed by a worker.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting for a free worker.",
		}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "device_command_duration_seconds",
			Help:      "Time from a worker picking up a job to its completion.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"device"}),
	}

	m.registry.MustRegister(
		m.eventsReceived,
		m.jobsSubmitted,
		m.jobsCompleted,
		m.jobsInFlight,
		m.queueDepth,
		m.commandDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEvent counts one inbound sensor message.
func (m *Metrics) ObserveEvent(result string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(result).Inc()
}

// JobSubmitted counts one accepted job.
func (m *Metrics) JobSubmitted(source string) {
	if m == nil {
		return
	}
	m.jobsSubmitted.WithLabelValues(source).Inc()
}

// JobStarted marks a job as picked up by a worker.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsInFlight.Inc()
}

// JobFinished records the outcome and duration of a job.
func (m *Metrics) JobFinished(device, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobsInFlight.Dec()
	m.jobsCompleted.WithLabelValues(outcome).Inc()
	m.commandDuration.WithLabelValues(device).Observe(d.Seconds())
}

// SetQueueDepth publishes the current number of queued jobs.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
