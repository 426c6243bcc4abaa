package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true

	// Labels for standard event metrics
	eventProcessingLabels = []string{"event_type", "clinic_id", "source"}
	// Labels for tracking specific processing actions
	eventActionLabels = []string{"event_type", "clinic_id", "source", "action", "error_type"}

	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_sync_events_received_total",
			Help: "Total number of inbound events received, labeled by source.",
		},
		eventProcessingLabels,
	)
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_sync_events_processed_total",
			Help: "Total number of events successfully processed, labeled by source.",
		},
		eventProcessingLabels,
	)
	EventsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_sync_events_failed_total",
			Help: "Total number of events that failed processing, labeled by source.",
		},
		eventProcessingLabels,
	)

	EventProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_sync_event_processing_duration_seconds",
			Help:    "Histogram of event processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		eventProcessingLabels,
	)

	EventProcessingActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_sync_event_processing_actions_total",
			Help: "Total count of specific actions taken after event processing, labeled by error type.",
		},
		eventActionLabels,
	)
)

// Labels for database operations
var (
	dbOperationLabels = []string{"operation", "entity", "clinic_id", "status"}

	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_sync_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		dbOperationLabels,
	)
)

// Cache, lead funnel and notification metrics
var (
	cacheCheckTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_sync_cache_checks_total",
			Help: "Total number of cache lookups, labeled by cache name and result.",
		},
		[]string{"clinic_id", "cache", "result"},
	)

	leadTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_sync_lead_transitions_total",
			Help: "Total number of lead funnel transitions.",
		},
		[]string{"clinic_id", "from_status", "to_status"},
	)

	notificationsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_sync_notifications_emitted_total",
			Help: "Total number of notification attempts, labeled by outcome.",
		},
		[]string{"clinic_id", "status"},
	)
)

// Conversation platform client metrics
var (
	platformLabels = []string{"operation", "status"}

	platformRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_sync_platform_requests_total",
			Help: "Total number of requests made to the conversation platform API.",
		},
		platformLabels,
	)
	platformRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_sync_platform_request_duration_seconds",
			Help:    "Histogram of conversation platform request durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		platformLabels,
	)
)

// Offline queue metrics
var (
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inbox_sync_offline_queue_depth",
			Help: "Current number of entries waiting in the offline queue.",
		},
		[]string{"clinic_id"},
	)
	queueReplaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_sync_offline_queue_replays_total",
			Help: "Total number of queue entry replay attempts, labeled by outcome.",
		},
		[]string{"clinic_id", "status"},
	)
)

// Metrics related to DLQ processing
var (
	dlqFetchRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inbox_sync_dlq_fetch_requests_total",
		Help: "Total number of fetch requests made to the DLQ stream.",
	})
	dlqFetchErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inbox_sync_dlq_fetch_errors_total",
		Help: "Total number of errors encountered during DLQ fetch requests.",
	})
	dlqQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inbox_sync_dlq_queue_length",
		Help: "Current number of messages waiting in the internal DLQ worker channel.",
	})
	dlqWorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inbox_sync_dlq_workers_active",
		Help: "Current number of active worker goroutines in the DLQ pool.",
	})

	dlqClinicLabels = []string{"clinic_id"}

	dlqTasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_sync_dlq_tasks_submitted_total",
			Help: "Total number of tasks submitted to the DLQ worker pool.",
		},
		dlqClinicLabels,
	)
	dlqProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_sync_dlq_processing_duration_seconds",
			Help:    "Histogram of processing durations for DLQ messages.",
			Buckets: prometheus.DefBuckets,
		},
		dlqClinicLabels,
	)
	dlqTaskRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_sync_dlq_task_retries_total",
			Help: "Total number of retry attempts (NAKs with delay) for DLQ messages.",
		},
		dlqClinicLabels,
	)
	dlqAcksSuccessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_sync_dlq_acks_success_total",
			Help: "Total number of successful acknowledgements for DLQ messages.",
		},
		dlqClinicLabels,
	)
	dlqAcksFailureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_sync_dlq_acks_failure_total",
			Help: "Total number of failed acknowledgements for DLQ messages, retries excluded.",
		},
		dlqClinicLabels,
	)
	dlqTasksDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_sync_dlq_tasks_dropped_total",
			Help: "Total number of DLQ messages dropped after exceeding max retries.",
		},
		dlqClinicLabels,
	)
)

// InitMetrics toggles metric collection. promauto already registered the
// collectors at package load, this only controls whether the helpers record.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IncEventsReceived increments the events received counter.
func IncEventsReceived(eventType, clinicID, source string) {
	if !metricsEnabled {
		return
	}
	EventsReceivedTotal.WithLabelValues(eventType, sanitizeClinic(clinicID), source).Inc()
}

// IncEventsProcessed increments the events processed counter.
func IncEventsProcessed(eventType, clinicID, source string) {
	if !metricsEnabled {
		return
	}
	EventsProcessedTotal.WithLabelValues(eventType, sanitizeClinic(clinicID), source).Inc()
}

// IncEventsFailed increments the events failed counter.
func IncEventsFailed(eventType, clinicID, source string) {
	if !metricsEnabled {
		return
	}
	EventsFailedTotal.WithLabelValues(eventType, sanitizeClinic(clinicID), source).Inc()
}

// ObserveEventProcessingDuration records the processing time for an event.
func ObserveEventProcessingDuration(eventType, clinicID, source string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	EventProcessingDurationSeconds.WithLabelValues(eventType, sanitizeClinic(clinicID), source).Observe(duration.Seconds())
}

// IncEventProcessingAction increments the counter for a specific processing outcome.
func IncEventProcessingAction(eventType, clinicID, source, action, errorType string) {
	if !metricsEnabled {
		return
	}
	EventProcessingActionsTotal.WithLabelValues(eventType, sanitizeClinic(clinicID), source, action, SanitizeErrorType(errorType)).Inc()
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity, clinicID string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, sanitizeClinic(clinicID), status).Observe(duration.Seconds())
}

// IncCacheCheck increments the cache check counter for a named cache.
func IncCacheCheck(clinicID, cache, result string) {
	if !metricsEnabled {
		return
	}
	cacheCheckTotal.WithLabelValues(sanitizeClinic(clinicID), cache, result).Inc()
}

// IncLeadTransition records a lead funnel transition.
func IncLeadTransition(clinicID, from, to string) {
	if !metricsEnabled {
		return
	}
	leadTransitionsTotal.WithLabelValues(sanitizeClinic(clinicID), from, to).Inc()
}

// IncNotificationEmitted records a notification attempt outcome.
func IncNotificationEmitted(clinicID, status string) {
	if !metricsEnabled {
		return
	}
	notificationsEmittedTotal.WithLabelValues(sanitizeClinic(clinicID), status).Inc()
}

// ObservePlatformRequest records a conversation platform API call.
func ObservePlatformRequest(operation, status string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	platformRequestsTotal.WithLabelValues(operation, status).Inc()
	platformRequestDurationSeconds.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// SetQueueDepth sets the current offline queue depth.
func SetQueueDepth(clinicID string, depth int64) {
	if !metricsEnabled {
		return
	}
	queueDepth.WithLabelValues(sanitizeClinic(clinicID)).Set(float64(depth))
}

// IncQueueReplay records an offline queue replay attempt outcome.
func IncQueueReplay(clinicID, status string) {
	if !metricsEnabled {
		return
	}
	queueReplaysTotal.WithLabelValues(sanitizeClinic(clinicID), status).Inc()
}

// sanitizeClinic ensures the clinic label is valid or returns a default value.
func sanitizeClinic(clinicID string) string {
	if clinicID == "" {
		return "unknown"
	}
	return clinicID
}

// SanitizeErrorType maps specific errors to a coarse category to keep
// cardinality low.
func SanitizeErrorType(errStr string) string {
	if errStr == "" || errStr == "none" {
		return "none"
	}

	switch {
	case strings.Contains(errStr, "database"), strings.Contains(errStr, "SQL"), strings.Contains(errStr, "duplicate key"), strings.Contains(errStr, "constraint"), strings.Contains(errStr, "connection"):
		return "database"
	case strings.Contains(errStr, "validation failed"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "invalid"), strings.Contains(errStr, "missing field"):
		return "validation"
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "no rows"):
		return "not_found"
	case strings.Contains(errStr, "nats"), strings.Contains(errStr, "jetstream"):
		return "nats"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errStr, "unmarshal"), strings.Contains(errStr, "json"):
		return "unmarshal"
	case strings.Contains(errStr, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}

// --- DLQ Metric Helpers ---

// IncDlqFetchRequest increments the DLQ fetch request counter.
func IncDlqFetchRequest() {
	if metricsEnabled {
		dlqFetchRequestsTotal.Inc()
	}
}

// IncDlqFetchError increments the DLQ fetch error counter.
func IncDlqFetchError() {
	if metricsEnabled {
		dlqFetchErrorsTotal.Inc()
	}
}

// SetDlqQueueLength sets the current DLQ internal queue length.
func SetDlqQueueLength(length int) {
	if metricsEnabled {
		dlqQueueLength.Set(float64(length))
	}
}

// SetDlqWorkersActive sets the current number of active DLQ workers.
func SetDlqWorkersActive(count int) {
	if metricsEnabled {
		dlqWorkersActive.Set(float64(count))
	}
}

// IncDlqTasksSubmitted increments the counter for tasks submitted to the pool.
func IncDlqTasksSubmitted(clinicID string) {
	if metricsEnabled {
		dlqTasksSubmittedTotal.WithLabelValues(sanitizeClinic(clinicID)).Inc()
	}
}

// ObserveDlqProcessingDuration records the processing time for a DLQ message.
func ObserveDlqProcessingDuration(clinicID string, duration time.Duration) {
	if metricsEnabled {
		dlqProcessingDurationSeconds.WithLabelValues(sanitizeClinic(clinicID)).Observe(duration.Seconds())
	}
}

// IncDlqTaskRetry increments the counter for DLQ message retry attempts.
func IncDlqTaskRetry(clinicID string) {
	if metricsEnabled {
		dlqTaskRetriesTotal.WithLabelValues(sanitizeClinic(clinicID)).Inc()
	}
}

// IncDlqAckSuccess increments the counter for successful DLQ message ACKs.
func IncDlqAckSuccess(clinicID string) {
	if metricsEnabled {
		dlqAcksSuccessTotal.WithLabelValues(sanitizeClinic(clinicID)).Inc()
	}
}

// IncDlqAckFailure increments the counter for failed DLQ message ACKs and TERMs.
func IncDlqAckFailure(clinicID string) {
	if metricsEnabled {
		dlqAcksFailureTotal.WithLabelValues(sanitizeClinic(clinicID)).Inc()
	}
}

// IncDlqTasksDropped increments the counter for DLQ messages dropped after max retries.
func IncDlqTasksDropped(clinicID string) {
	if metricsEnabled {
		dlqTasksDroppedTotal.WithLabelValues(sanitizeClinic(clinicID)).Inc()
	}
}
