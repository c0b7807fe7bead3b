package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frameflow_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "frameflow_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Job Metrics
	JobsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frameflow_jobs_created_total",
			Help: "Total number of extraction jobs created",
		},
		[]string{"source"},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frameflow_jobs_completed_total",
			Help: "Total number of extraction jobs that reached a terminal state",
		},
		[]string{"status"},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "frameflow_jobs_in_progress",
			Help: "Number of extraction jobs currently running",
		},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "frameflow_job_duration_seconds",
			Help:    "Extraction job duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17 minutes
		},
		[]string{"status"},
	)

	// Frame Metrics
	FramesDecodedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "frameflow_frames_decoded_total",
			Help: "Total number of frames decoded by extraction jobs",
		},
	)

	FramesSavedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "frameflow_frames_saved_total",
			Help: "Total number of sampled frames written to disk",
		},
	)

	FrameFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frameflow_frame_failures_total",
			Help: "Total number of skipped frames",
		},
		[]string{"stage"},
	)

	SnapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frameflow_snapshots_total",
			Help: "Total number of single-frame captures",
		},
		[]string{"status"},
	)

	// Playback Metrics
	PlaybackTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "frameflow_playback_ticks_total",
			Help: "Total number of playback ticks",
		},
	)

	PlaybackRenderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "frameflow_playback_render_duration_seconds",
			Help:    "Time to decode and render one preview frame",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frameflow_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "frameflow_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)

	StorageBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frameflow_storage_bytes_transferred_total",
			Help: "Total bytes transferred to/from storage",
		},
		[]string{"operation"},
	)

	// Database Metrics
	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frameflow_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "frameflow_database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frameflow_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frameflow_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "frameflow_queue_depth",
			Help: "Messages waiting in each extraction queue",
		},
		[]string{"queue"},
	)

	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frameflow_webhook_deliveries_total",
			Help: "Total number of job webhook deliveries",
		},
		[]string{"status"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frameflow_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordJobCreated records a job creation
func RecordJobCreated(source string) {
	JobsCreatedTotal.WithLabelValues(source).Inc()
}

// RecordJobCompleted records a job reaching a terminal state
func RecordJobCompleted(status string, duration float64) {
	JobsCompletedTotal.WithLabelValues(status).Inc()
	JobDuration.WithLabelValues(status).Observe(duration)
}

// UpdateJobsInProgress sets the running job gauge
func UpdateJobsInProgress(n int) {
	JobsInProgress.Set(float64(n))
}

// RecordFrameDecoded counts one decoded frame
func RecordFrameDecoded() {
	FramesDecodedTotal.Inc()
}

// RecordFrameSaved counts one written frame
func RecordFrameSaved() {
	FramesSavedTotal.Inc()
}

// RecordFrameFailure counts a skipped frame; stage is "decode" or "encode"
func RecordFrameFailure(stage string) {
	FrameFailuresTotal.WithLabelValues(stage).Inc()
}

// RecordSnapshot records a single-frame capture
func RecordSnapshot(status string) {
	SnapshotsTotal.WithLabelValues(status).Inc()
}

// RecordPlaybackTick records one playback step and its render time
func RecordPlaybackTick(duration float64) {
	PlaybackTicksTotal.Inc()
	PlaybackRenderDuration.Observe(duration)
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64, bytesTransferred int64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
	StorageBytesTransferred.WithLabelValues(operation).Add(float64(bytesTransferred))
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string, duration float64) {
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	DatabaseOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// SetQueueDepth records the number of messages waiting in a queue
func SetQueueDepth(queue string, n int) {
	QueueDepth.WithLabelValues(queue).Set(float64(n))
}

// RecordWebhookDelivery records the outcome of a webhook delivery
func RecordWebhookDelivery(status string) {
	WebhookDeliveriesTotal.WithLabelValues(status).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
