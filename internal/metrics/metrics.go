package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Skip reasons reported with ObjectsSkipped.
const (
	ReasonNotFound = "not_found"
	ReasonError    = "error"
)

// Poll results reported with PollFinished.
const (
	PollCompleted = "completed"
	PollCancelled = "cancelled"
	PollFailed    = "failed"
)

// Execution results reported with InstanceExecuted.
const (
	ExecutionSucceeded = "success"
	ExecutionFailed    = "failure"
)

// Metrics holds the Prometheus metrics of the change detector and the
// dispatcher. A nil *Metrics is valid and records nothing.
type Metrics struct {
	polls                 *prometheus.CounterVec
	objectsDetected       *prometheus.CounterVec
	objectsSkipped        *prometheus.CounterVec
	containersUnavailable *prometheus.CounterVec
	watermark             *prometheus.GaugeVec
	scanDuration          *prometheus.HistogramVec
	containersTracked     prometheus.Gauge

	instancesQueued   prometheus.Gauge
	instancesExecuted *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
}

// New creates and registers the metrics with the given registry.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blobtrigger_polls_total",
			Help: "Total number of poll passes by result",
		}, []string{"result"}),
		objectsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blobtrigger_objects_detected_total",
			Help: "Total number of new or modified objects reported by container",
		}, []string{"container"}),
		objectsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blobtrigger_objects_skipped_total",
			Help: "Total number of listed objects whose metadata could not be fetched",
		}, []string{"container", "reason"}),
		containersUnavailable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blobtrigger_containers_unavailable_total",
			Help: "Total number of scans that found the container unavailable",
		}, []string{"container"}),
		watermark: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "blobtrigger_watermark_seconds",
			Help: "Current watermark of each container as a Unix timestamp",
		}, []string{"container"}),
		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blobtrigger_scan_duration_seconds",
			Help:    "Duration of a full container scan",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"container"}),
		containersTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blobtrigger_containers_tracked",
			Help: "Number of containers in the watermark set",
		}),
		instancesQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blobtrigger_instances_queued",
			Help: "Function instances waiting for a worker",
		}),
		instancesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blobtrigger_instances_executed_total",
			Help: "Total number of function instances executed by function and result",
		}, []string{"function", "result"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blobtrigger_execution_duration_seconds",
			Help:    "Duration of function instance executions",
			Buckets: prometheus.DefBuckets,
		}, []string{"function"}),
	}

	registry.MustRegister(
		m.polls,
		m.objectsDetected,
		m.objectsSkipped,
		m.containersUnavailable,
		m.watermark,
		m.scanDuration,
		m.containersTracked,
		m.instancesQueued,
		m.instancesExecuted,
		m.executionDuration,
	)

	return m
}

// PollFinished counts a finished poll pass.
func (m *Metrics) PollFinished(result string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
}

// ObjectDetected counts an object reported to the sink.
func (m *Metrics) ObjectDetected(container string) {
	if m == nil {
		return
	}
	m.objectsDetected.WithLabelValues(container).Inc()
}

// ObjectsSkipped counts objects dropped because their metadata fetch failed.
func (m *Metrics) ObjectsSkipped(container, reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.objectsSkipped.WithLabelValues(container, reason).Add(float64(n))
}

// ContainerUnavailable counts a scan that found the container unavailable.
func (m *Metrics) ContainerUnavailable(container string) {
	if m == nil {
		return
	}
	m.containersUnavailable.WithLabelValues(container).Inc()
}

// SetWatermark records the current watermark of a container.
func (m *Metrics) SetWatermark(container string, t time.Time) {
	if m == nil {
		return
	}
	m.watermark.WithLabelValues(container).Set(float64(t.Unix()))
}

// ObserveScan records how long a container scan took.
func (m *Metrics) ObserveScan(container string, d time.Duration) {
	if m == nil {
		return
	}
	m.scanDuration.WithLabelValues(container).Observe(d.Seconds())
}

// SetContainersTracked records the size of the watermark set.
func (m *Metrics) SetContainersTracked(n int) {
	if m == nil {
		return
	}
	m.containersTracked.Set(float64(n))
}

// InstanceQueued increments the queued instances gauge.
func (m *Metrics) InstanceQueued() {
	if m == nil {
		return
	}
	m.instancesQueued.Inc()
}

// InstanceDequeued decrements the queued instances gauge.
func (m *Metrics) InstanceDequeued() {
	if m == nil {
		return
	}
	m.instancesQueued.Dec()
}

// InstanceExecuted records a finished function execution.
func (m *Metrics) InstanceExecuted(function, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.instancesExecuted.WithLabelValues(function, result).Inc()
	m.executionDuration.WithLabelValues(function).Observe(d.Seconds())
}
