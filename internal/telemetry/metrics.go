/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// API metrics.
var (
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skuld_api_requests_total",
		Help: "Total HTTP API requests by method, endpoint and status code.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skuld_api_request_duration_seconds",
		Help:    "HTTP API request latency by method, endpoint and status code.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skuld_api_active_connections",
		Help: "Number of in-flight HTTP requests.",
	})

	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skuld_api_websocket_connections",
		Help: "Number of connected progress stream clients.",
	})
)

// Fill pipeline metrics.
var (
	FillRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skuld_fill_requests_total",
		Help: "Completed fill requests by terminal state.",
	}, []string{"state"})

	FillDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "skuld_fill_duration_seconds",
		Help:    "End-to-end fill request duration.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	FillEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skuld_fill_events_total",
		Help: "Calendar events produced by fill requests, by outcome.",
	}, []string{"status"})

	FillPlaceholdersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skuld_fill_placeholder_events_total",
		Help: "Events placed via the placeholder policy after slot search gave up.",
	})

	SlotsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skuld_slots_skipped_total",
		Help: "Slots abandoned after exhausting conflict resolution attempts.",
	})

	SlotPlacementAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "skuld_slot_placement_attempts",
		Help:    "Conflict resolution attempts needed per placed slot.",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 20},
	})
)

// Content provider metrics.
var (
	ProviderCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skuld_provider_calls_total",
		Help: "Content provider calls by result class.",
	}, []string{"result"})

	ProviderRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skuld_provider_retries_total",
		Help: "Retries issued against the content provider.",
	})

	ProviderFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skuld_provider_fallbacks_total",
		Help: "Fill requests that fell back to locally generated content.",
	})

	ProviderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "skuld_provider_latency_seconds",
		Help:    "Latency of individual content provider calls.",
		Buckets: prometheus.DefBuckets,
	})

	ContentCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skuld_content_cache_hits_total",
		Help: "Content cache hits.",
	})

	ContentCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skuld_content_cache_misses_total",
		Help: "Content cache misses.",
	})
)

// Batch execution metrics.
var (
	BatchGroupsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skuld_batch_groups_total",
		Help: "Batch groups executed.",
	})

	BatchDispatchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skuld_batch_dispatch_failures_total",
		Help: "Batch groups that failed to dispatch as a whole.",
	})

	BatchTaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "skuld_batch_task_duration_seconds",
		Help:    "Duration of individual calendar write tasks.",
		Buckets: prometheus.DefBuckets,
	})
)

// Calendar store metrics.
var (
	StoreOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skuld_store_operations_total",
		Help: "Calendar store operations by kind and result.",
	}, []string{"operation", "result"})
)

// Collaborator health metrics.
var (
	CollaboratorUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "skuld_collaborator_up",
		Help: "Health of external collaborators (1 healthy, 0 unhealthy).",
	}, []string{"collaborator"})
)

// Leader election metrics.
var (
	LeaderStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skuld_leader",
		Help: "Whether this instance holds the scheduler leader lease (1 leader, 0 follower).",
	})

	LeaderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skuld_leader_transitions_total",
		Help: "Leadership transitions by direction.",
	}, []string{"direction"})
)

// Database metrics.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skuld_database_query_duration_seconds",
		Help:    "Database operation latency by operation and table.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skuld_database_errors_total",
		Help: "Database errors by operation and error type.",
	}, []string{"operation", "error_type"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skuld_database_connections_active",
		Help: "Open database connections.",
	})

	DatabaseConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skuld_database_connections_idle",
		Help: "Idle database connections.",
	})
)

// Recurring schedule metrics.
var (
	ScheduleRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skuld_schedule_runs_total",
		Help: "Recurring fill schedule runs by result.",
	}, []string{"result"})
)

// Outbound notification metrics.
var (
	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skuld_webhook_deliveries_total",
		Help: "Webhook delivery attempts by result.",
	}, []string{"result"})

	ArchiveWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skuld_archive_writes_total",
		Help: "Fill archive writes by backend and result.",
	}, []string{"backend", "result"})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
