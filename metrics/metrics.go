package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AlertsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_alerts_ingested_total",
			Help: "Total number of alerts ingested",
		},
		[]string{"severity"},
	)

	RiskScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_alert_risk_score",
			Help:    "Distribution of computed alert risk scores",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	IncidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_incidents_created_total",
			Help: "Total number of incidents created by correlation",
		},
		[]string{"rule"},
	)

	AlertsAttached = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_alerts_attached_total",
			Help: "Total number of alerts attached to existing incidents",
		},
	)

	CorrelationSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_correlation_skips_total",
			Help: "Correlation decisions abandoned because the alerts were claimed or mapped elsewhere",
		},
		[]string{"reason"},
	)

	CorrelationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_correlation_errors_total",
			Help: "Total number of correlation failures by stage",
		},
		[]string{"stage"},
	)

	CorrelationRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_correlation_run_duration_seconds",
			Help:    "Time taken by a correlation run",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	NarrativesGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_narratives_generated_total",
			Help: "Total number of narratives generated by subject and mode",
		},
		[]string{"subject", "mode"},
	)

	NarrativeProviderFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_narrative_provider_failures_total",
			Help: "Total number of narrative provider failures",
		},
		[]string{"provider", "reason"},
	)

	PromptInjectionsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_prompt_injections_detected_total",
			Help: "Total number of prompts in which injection phrases were neutralized",
		},
	)

	IncidentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_incident_transitions_total",
			Help: "Total number of incident status transitions",
		},
		[]string{"to"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_cache_errors_total",
			Help: "Total number of cache errors",
		},
		[]string{"cache", "op"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_http_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_http_request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	SQLitePoolOpenConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_sqlite_pool_open_connections",
			Help: "Open connections per SQLite pool",
		},
		[]string{"pool"},
	)

	SQLitePoolInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_sqlite_pool_in_use",
			Help: "Connections in use per SQLite pool",
		},
		[]string{"pool"},
	)

	SQLitePoolWaitCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_sqlite_pool_wait_total",
			Help: "Total number of waits for a SQLite connection",
		},
		[]string{"pool"},
	)
)
