// Package api exposes alert ingestion, risk and narrative lookups, the
// incident lifecycle and correlation runs over HTTP under /api/v1.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"vigil/config"
	"vigil/core"
	"vigil/correlate"
	"vigil/narrative"
	"vigil/service"
	"vigil/storage"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AlertService is the alert surface the API needs
type AlertService interface {
	Ingest(ctx context.Context, alert *core.Alert) (*service.AlertAnalysis, error)
	Get(ctx context.Context, id string) (*core.Alert, error)
	List(ctx context.Context, filter storage.AlertFilter) ([]*core.Alert, error)
	Risk(ctx context.Context, id string) (*service.AlertAnalysis, error)
	AlertNarrative(ctx context.Context, id string, regenerate bool) (narrative.Result, error)
	MarkReviewed(ctx context.Context, id string) (*core.Alert, error)
}

// IncidentService is the incident surface the API needs
type IncidentService interface {
	List(ctx context.Context, filter storage.IncidentFilter) ([]*core.Incident, error)
	Detail(ctx context.Context, id string) (*service.IncidentDetail, error)
	Activities(ctx context.Context, id string) ([]*core.IncidentActivity, error)
	IncidentNarrative(ctx context.Context, id string, regenerate bool) (narrative.Result, error)
	StartInvestigation(ctx context.Context, id, actor string) (*core.Incident, error)
	Resolve(ctx context.Context, id, actor string, path core.TransitionPath, note string) (*core.Incident, error)
	Close(ctx context.Context, id, actor string) (*core.Incident, error)
	RecordAction(ctx context.Context, id, actor string, action core.ActivityAction, label string, metadata map[string]interface{}) (*core.IncidentActivity, error)
}

// Correlator runs correlation on demand
type Correlator interface {
	RunBatch(ctx context.Context) (correlate.RunResult, error)
	CorrelateAlert(ctx context.Context, alertID string) (correlate.RunResult, error)
}

// HealthChecker reports database health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
	GetConnectionPoolStats() storage.ConnectionPoolStats
}

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// API holds the API server
type API struct {
	router       *mux.Router
	server       *http.Server
	alerts       AlertService
	incidents    IncidentService
	correlator   Correlator
	health       HealthChecker
	config       *config.Config
	validate     *validator.Validate
	maxBodyBytes int64
	logger       *zap.SugaredLogger

	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	stopCh         chan struct{}
	stopOnce       sync.Once
}

// NewAPI creates a new API server
func NewAPI(alerts AlertService, incidents IncidentService, correlator Correlator, health HealthChecker, cfg *config.Config, logger *zap.SugaredLogger) *API {
	maxBody := cfg.API.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	a := &API{
		router:       mux.NewRouter(),
		alerts:       alerts,
		incidents:    incidents,
		correlator:   correlator,
		health:       health,
		config:       cfg,
		validate:     validator.New(),
		maxBodyBytes: maxBody,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	a.setupRoutes()
	if cfg.API.RateLimit.RequestsPerSecond > 0 {
		go a.cleanupRateLimiters()
	}
	return a
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.requestIDMiddleware)
	a.router.Use(a.metricsMiddleware)
	if a.config.API.RateLimit.RequestsPerSecond > 0 {
		a.router.Use(a.rateLimitMiddleware)
	}

	v1 := a.router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/alerts", a.ingestAlert).Methods("POST")
	v1.HandleFunc("/alerts", a.listAlerts).Methods("GET")
	v1.HandleFunc("/alerts/{id}", a.getAlert).Methods("GET")
	v1.HandleFunc("/alerts/{id}/risk", a.getAlertRisk).Methods("GET")
	v1.HandleFunc("/alerts/{id}/narrative", a.getAlertNarrative).Methods("GET")
	v1.HandleFunc("/alerts/{id}/review", a.reviewAlert).Methods("POST")
	v1.HandleFunc("/alerts/{id}/correlate", a.correlateAlert).Methods("POST")

	v1.HandleFunc("/incidents", a.listIncidents).Methods("GET")
	v1.HandleFunc("/incidents/{id}", a.getIncident).Methods("GET")
	v1.HandleFunc("/incidents/{id}/narrative", a.getIncidentNarrative).Methods("GET")
	v1.HandleFunc("/incidents/{id}/activity", a.listActivities).Methods("GET")
	v1.HandleFunc("/incidents/{id}/investigate", a.startInvestigation).Methods("POST")
	v1.HandleFunc("/incidents/{id}/resolve", a.resolveIncident).Methods("POST")
	v1.HandleFunc("/incidents/{id}/close", a.closeIncident).Methods("POST")
	v1.HandleFunc("/incidents/{id}/actions", a.recordAction).Methods("POST")

	v1.HandleFunc("/correlation/run", a.runCorrelation).Methods("POST")

	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())
}

// Handler returns the root HTTP handler
func (a *API) Handler() http.Handler {
	return a.router
}

// Start starts the API server
func (a *API) Start(addr string) error {
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       a.config.API.ReadTimeout,
		WriteTimeout:      a.config.API.WriteTimeout,
	}
	return a.server.ListenAndServe()
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

// healthCheck reports database reachability and pool statistics
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	if a.health == nil {
		a.respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := a.health.HealthCheck(ctx); err != nil {
		a.logger.Warnw("Health check failed", "error", err)
		a.respondJSON(w, map[string]interface{}{
			"status": "unhealthy",
			"error":  sanitizeErrorMessage(err.Error()),
		}, http.StatusServiceUnavailable)
		return
	}
	a.respondJSON(w, map[string]interface{}{
		"status":   "ok",
		"database": a.health.GetConnectionPoolStats(),
	}, http.StatusOK)
}
