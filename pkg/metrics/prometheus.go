// Package metrics provides Prometheus metrics for the call QA service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline stage label values.
const (
	StageChunk      = "chunk"
	StageTranscribe = "transcribe"
	StageNormalize  = "normalize"
	StageAnalyze    = "analyze"
	StageSummarize  = "summarize"
	StageAsk        = "ask"
	StageGrade      = "grade"
	StagePersist    = "persist"
)

// Manager owns every collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Calls
	callsSubmitted prometheus.Counter
	callsDuplicate prometheus.Counter
	callsProcessed *prometheus.CounterVec

	// Pipeline
	stageLatency      *prometheus.HistogramVec
	stageFailures     *prometheus.CounterVec
	audioChunks       prometheus.Counter
	documentsParsed   prometheus.Counter
	entriesNormalized prometheus.Counter
	speakingSeconds   prometheus.Counter
	gradingParseError prometheus.Counter

	// Provider
	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec

	// Queue and workers
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueue       prometheus.Counter
	queueDequeue       prometheus.Counter
	queueEnqueueErrors prometheus.Counter
	workerCount        prometheus.Gauge
	workerActive       prometheus.Gauge

	// Repository
	repositoryCalls        prometheus.Gauge
	repositoryQueryLatency *prometheus.HistogramVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorsByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "callqa",
		subsystem:        "pipeline",
		histogramBuckets: []float64{5, 25, 100, 250, 1000, 2500, 10_000, 30_000, 120_000, 600_000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.callsSubmitted = m.counter("calls_submitted_total", "Recordings accepted for processing")
	m.callsDuplicate = m.counter("calls_duplicate_total", "Recordings rejected as already seen")
	m.callsProcessed = m.counterVec("calls_processed_total", "Recordings that finished processing by status", "status")

	m.stageLatency = m.histogramVec("stage_latency_milliseconds", "Pipeline stage latency in milliseconds", "stage")
	m.stageFailures = m.counterVec("stage_failures_total", "Pipeline stage failures", "stage")
	m.audioChunks = m.counter("audio_chunks_total", "Audio chunks submitted for transcription")
	m.documentsParsed = m.counter("transcript_documents_total", "Provider result documents normalized")
	m.entriesNormalized = m.counter("transcript_entries_total", "Transcript entries produced by normalization")
	m.speakingSeconds = m.counter("speaking_seconds_total", "Aggregated speaking time in seconds")
	m.gradingParseError = m.counter("grading_parse_failures_total", "Grading responses that could not be parsed")

	m.providerRequests = m.counterVec("provider_requests_total", "Provider calls by operation and outcome", "op", "outcome")
	m.providerLatency = m.histogramVec("provider_latency_milliseconds", "Provider call latency in milliseconds", "op")

	m.queueSize = m.gauge("queue_size", "Jobs waiting in the queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum queue capacity")
	m.queueEnqueue = m.counter("queue_enqueue_total", "Jobs enqueued")
	m.queueDequeue = m.counter("queue_dequeue_total", "Jobs dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Jobs rejected by a full queue")
	m.workerCount = m.gauge("worker_count", "Configured workers")
	m.workerActive = m.gauge("worker_active_count", "Workers currently processing a job")

	m.repositoryCalls = m.gauge("repository_calls", "Call records stored")
	m.repositoryQueryLatency = m.histogramVec("repository_query_latency_milliseconds", "Repository operation latency in milliseconds", "op")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "type")
}

// RecordCallSubmitted increments accepted recordings.
func RecordCallSubmitted() { globalManager.callsSubmitted.Inc() }

// RecordCallDuplicate increments rejected duplicates.
func RecordCallDuplicate() { globalManager.callsDuplicate.Inc() }

// RecordCallProcessed counts a finished job by status.
func RecordCallProcessed(status string) { globalManager.callsProcessed.WithLabelValues(status).Inc() }

// RecordStageLatency observes a stage duration in milliseconds.
func RecordStageLatency(stage string, latencyMs float64) {
	globalManager.stageLatency.WithLabelValues(stage).Observe(latencyMs)
}

// RecordStageFailure increments the failure counter of a stage.
func RecordStageFailure(stage string) { globalManager.stageFailures.WithLabelValues(stage).Inc() }

// RecordAudioChunks adds n exported chunks.
func RecordAudioChunks(n int) { globalManager.audioChunks.Add(float64(n)) }

// RecordNormalized adds normalized documents and entries.
func RecordNormalized(documents, entries int) {
	globalManager.documentsParsed.Add(float64(documents))
	globalManager.entriesNormalized.Add(float64(entries))
}

// RecordSpeakingSeconds adds aggregated speaking time.
func RecordSpeakingSeconds(seconds float64) {
	if seconds > 0 {
		globalManager.speakingSeconds.Add(seconds)
	}
}

// RecordGradingParseFailure increments unparseable grading responses.
func RecordGradingParseFailure() { globalManager.gradingParseError.Inc() }

// RecordProviderRequest counts a provider call and its latency.
func RecordProviderRequest(op, outcome string, latencyMs float64) {
	globalManager.providerRequests.WithLabelValues(op, outcome).Inc()
	globalManager.providerLatency.WithLabelValues(op).Observe(latencyMs)
}

// UpdateQueueSize sets the queue backlog.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueue.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeue.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// UpdateWorkerActiveCount sets the number of busy workers.
func UpdateWorkerActiveCount(count int) { globalManager.workerActive.Set(float64(count)) }

// UpdateRepositoryCalls sets the stored call count.
func UpdateRepositoryCalls(count int64) { globalManager.repositoryCalls.Set(float64(count)) }

// RecordRepositoryQueryLatency observes a repository operation.
func RecordRepositoryQueryLatency(op string, latencyMs float64) {
	globalManager.repositoryQueryLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
