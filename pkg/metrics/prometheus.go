// Package metrics provides Prometheus metrics for the knowledge tracing service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Tracing - what the engine did with the evidence it was given
	evidenceApplied     *prometheus.CounterVec
	evidenceSkipped     *prometheus.CounterVec
	evidenceDuplicate   *prometheus.CounterVec
	evidenceDropped     *prometheus.CounterVec
	invariantViolations *prometheus.CounterVec
	applyLatency        prometheus.Histogram
	lockWait            prometheus.Histogram
	posterior           prometheus.Histogram
	traceRequests       *prometheus.CounterVec

	// Store
	commitConflicts prometheus.Counter
	commitRetries   prometheus.Counter
	storageErrors   *prometheus.CounterVec
	storeLatency    *prometheus.HistogramVec

	// Registry
	registryItems    prometheus.Gauge
	registryConcepts prometheus.Gauge
	registryReloads  *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue
	queueSize         prometheus.Gauge
	queueCapacity     prometheus.Gauge
	queueUtilization  prometheus.Gauge
	queueEnqueue      prometheus.Counter
	queueDequeue      prometheus.Counter
	queueEnqueueError prometheus.Counter
	queueLatency      prometheus.Histogram

	// Workers
	workerCount       prometheus.Gauge
	workerActive      prometheus.Gauge
	workerErrors      prometheus.Counter
	workerLatency     prometheus.Histogram
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "ktrace",
		subsystem:        "",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		enabled:          true,
		customLabels:     map[string]string{},
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
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets, ConstLabels: m.customLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	m.evidenceApplied = m.counterVec("evidence_applied_total", "Evidence events folded into mastery state", "source")
	m.evidenceSkipped = m.counterVec("evidence_skipped_total", "Evidence events skipped as invalid", "reason")
	m.evidenceDuplicate = m.counterVec("evidence_duplicate_total", "Evidence events already applied (replays)", "reason")
	m.evidenceDropped = m.counterVec("evidence_dropped_total", "Input records dropped during normalization", "reason")
	m.invariantViolations = m.counterVec("invariant_violations_total", "Update rule contract violations", "rule")
	m.applyLatency = m.histogram("apply_latency_milliseconds", "Latency of applying one evidence sequence", m.histogramBuckets)
	m.lockWait = m.histogram("lock_wait_milliseconds", "Time spent waiting for the per-student key lock", m.histogramBuckets)
	m.posterior = m.histogram("posterior_probability", "Distribution of committed mastery probabilities", prometheus.LinearBuckets(0.1, 0.1, 10))
	m.traceRequests = m.counterVec("trace_requests_total", "Trace requests by mode and outcome", "mode", "status")

	m.commitConflicts = m.counter("commit_conflicts_total", "Optimistic commit conflicts")
	m.commitRetries = m.counter("commit_retries_total", "Commit attempts retried after a storage error")
	m.storageErrors = m.counterVec("storage_errors_total", "Mastery store errors", "store", "op")
	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Mastery store operation latency", "store", "op")

	m.registryItems = m.gauge("registry_items", "Items mapped by the current concept registry snapshot")
	m.registryConcepts = m.gauge("registry_concepts", "Concepts known to the current concept registry snapshot")
	m.registryReloads = m.counterVec("registry_reloads_total", "Concept registry reloads", "result")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration", "endpoint", "method", "status_code")

	m.queueSize = m.gauge("queue_size", "Attempts waiting in the async queue")
	m.queueCapacity = m.gauge("queue_capacity", "Capacity of the async queue")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue size divided by capacity")
	m.queueEnqueue = m.counter("queue_enqueue_total", "Attempts enqueued")
	m.queueDequeue = m.counter("queue_dequeue_total", "Attempts dequeued")
	m.queueEnqueueError = m.counter("queue_enqueue_errors_total", "Attempts rejected by the queue")
	m.queueLatency = m.histogram("queue_latency_milliseconds", "Enqueue latency", m.histogramBuckets)

	m.workerCount = m.gauge("worker_count", "Configured async workers")
	m.workerActive = m.gauge("worker_active", "Workers currently processing an attempt")
	m.workerErrors = m.counter("worker_errors_total", "Async attempts that failed")
	m.workerLatency = m.histogram("worker_latency_milliseconds", "Async attempt processing latency", m.histogramBuckets)
	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "type")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap bytes in use")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Most recent GC pause", m.histogramBuckets)
}

func on() bool { return globalManager != nil && globalManager.enabled }

// RecordEvidenceApplied counts an applied evidence event by source.
func RecordEvidenceApplied(source string) {
	if on() {
		globalManager.evidenceApplied.WithLabelValues(source).Inc()
	}
}

// RecordEvidenceSkipped counts an evidence event skipped for reason.
func RecordEvidenceSkipped(reason string) {
	if on() {
		globalManager.evidenceSkipped.WithLabelValues(reason).Inc()
	}
}

// RecordEvidenceDuplicate counts a replayed evidence event by how it was
// recognised.
func RecordEvidenceDuplicate(reason string) {
	if on() {
		globalManager.evidenceDuplicate.WithLabelValues(reason).Inc()
	}
}

// RecordEvidenceDropped counts an input record dropped by the normalizer.
func RecordEvidenceDropped(reason string) {
	if on() {
		globalManager.evidenceDropped.WithLabelValues(reason).Inc()
	}
}

// RecordInvariantViolation counts a rule contract violation.
func RecordInvariantViolation(rule string) {
	if on() {
		globalManager.invariantViolations.WithLabelValues(rule).Inc()
	}
}

// RecordApplyLatency records the latency of one Apply call.
func RecordApplyLatency(latencyMs float64) {
	if on() {
		globalManager.applyLatency.Observe(latencyMs)
	}
}

// RecordLockWait records time spent acquiring a key lock.
func RecordLockWait(latencyMs float64) {
	if on() {
		globalManager.lockWait.Observe(latencyMs)
	}
}

// RecordPosterior records a committed probability.
func RecordPosterior(p float64) {
	if on() {
		globalManager.posterior.Observe(p)
	}
}

// RecordTraceRequest counts a trace request by mode (sync, async, batch, read) and status.
func RecordTraceRequest(mode, status string) {
	if on() {
		globalManager.traceRequests.WithLabelValues(mode, status).Inc()
	}
}

// RecordCommitConflict counts an optimistic commit conflict.
func RecordCommitConflict() {
	if on() {
		globalManager.commitConflicts.Inc()
	}
}

// RecordCommitRetry counts a commit retried after a storage error.
func RecordCommitRetry() {
	if on() {
		globalManager.commitRetries.Inc()
	}
}

// RecordStorageError counts a store error.
func RecordStorageError(store, op string) {
	if on() {
		globalManager.storageErrors.WithLabelValues(store, op).Inc()
	}
}

// RecordStoreLatency records a store operation latency.
func RecordStoreLatency(store, op string, latencyMs float64) {
	if on() {
		globalManager.storeLatency.WithLabelValues(store, op).Observe(latencyMs)
	}
}

// UpdateRegistrySize sets the registry size gauges.
func UpdateRegistrySize(items, concepts int) {
	if on() {
		globalManager.registryItems.Set(float64(items))
		globalManager.registryConcepts.Set(float64(concepts))
	}
}

// RecordRegistryReload counts a registry reload by result (ok, error).
func RecordRegistryReload(result string) {
	if on() {
		globalManager.registryReloads.WithLabelValues(result).Inc()
	}
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if on() {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if on() {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	if on() {
		globalManager.queueSize.Set(float64(size))
	}
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	if on() {
		globalManager.queueCapacity.Set(float64(capacity))
	}
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	if on() {
		globalManager.queueUtilization.Set(utilization)
	}
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	if on() {
		globalManager.queueEnqueue.Inc()
	}
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	if on() {
		globalManager.queueDequeue.Inc()
	}
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	if on() {
		globalManager.queueEnqueueError.Inc()
	}
}

// RecordQueueProcessingLatency records enqueue latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	if on() {
		globalManager.queueLatency.Observe(latencyMs)
	}
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	if on() {
		globalManager.workerCount.Set(float64(count))
	}
}

// AddWorkerActive adjusts the active worker gauge.
func AddWorkerActive(delta int) {
	if on() {
		globalManager.workerActive.Add(float64(delta))
	}
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	if on() {
		globalManager.workerErrors.Inc()
	}
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if on() {
		globalManager.workerLatency.Observe(latencyMs)
	}
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	if on() {
		globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
	}
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if on() {
		globalManager.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if on() {
		globalManager.systemGoroutineCount.Set(float64(count))
	}
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	if on() {
		globalManager.systemGCPauseTime.Observe(pauseMs)
	}
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
