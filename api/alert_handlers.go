package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"vigil/core"
	"vigil/storage"

	"github.com/gorilla/mux"
)

// IngestAlertRequest is the body of POST /api/v1/alerts
type IngestAlertRequest struct {
	ID        string                 `json:"id,omitempty" validate:"omitempty,max=128"`
	Timestamp *time.Time             `json:"timestamp,omitempty"`
	Source    string                 `json:"source" validate:"required,max=128"`
	AlertType string                 `json:"alert_type" validate:"required,max=256"`
	Severity  string                 `json:"severity" validate:"required,max=32"`
	RawLog    map[string]interface{} `json:"raw_log"`
}

func (req IngestAlertRequest) toAlert() *core.Alert {
	alert := &core.Alert{
		ID:       req.ID,
		Source:   req.Source,
		Type:     req.AlertType,
		Severity: core.Severity(req.Severity),
		RawLog:   req.RawLog,
	}
	if req.Timestamp != nil {
		alert.Timestamp = req.Timestamp.UTC()
	}
	return alert
}

// actor identifies who performed a request. Identity management is external;
// the caller names itself in X-Actor.
func actor(r *http.Request) string {
	name := strings.TrimSpace(r.Header.Get("X-Actor"))
	if name == "" || len(name) > 128 || strings.ContainsAny(name, "\r\n") {
		return "analyst"
	}
	return name
}

// pagination parses limit and offset query parameters
func pagination(r *http.Request) (limit, offset int) {
	limit = 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

// pathID extracts and validates the {id} path variable
func (a *API) pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	if err := validateID(id); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id", err, a.logger)
		return "", false
	}
	return id, true
}

// ingestAlert scores, narrates and stores an alert
func (a *API) ingestAlert(w http.ResponseWriter, r *http.Request) {
	body, ok := a.readBody(w, r)
	if !ok {
		return
	}
	if err := validateAlertDocument(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}

	var req IngestAlertRequest
	if !a.decodeJSON(w, body, &req) {
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed: "+err.Error(), err, a.logger)
		return
	}
	if req.ID != "" {
		if err := validateID(req.ID); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid alert id", err, a.logger)
			return
		}
	}

	analysis, err := a.alerts.Ingest(r.Context(), req.toAlert())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, analysis, http.StatusCreated)
}

func (a *API) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	filter := storage.AlertFilter{
		Status: core.AlertStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		writeError(w, http.StatusBadRequest, "Invalid status filter", nil, a.logger)
		return
	}

	alerts, err := a.alerts.List(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if alerts == nil {
		alerts = []*core.Alert{}
	}
	a.respondJSON(w, alerts, http.StatusOK)
}

func (a *API) getAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	alert, err := a.alerts.Get(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, alert, http.StatusOK)
}

func (a *API) getAlertRisk(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	analysis, err := a.alerts.Risk(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, analysis.Metrics, http.StatusOK)
}

// getAlertNarrative returns the stored narrative, generating it when missing.
// ?regenerate=true forces a new one.
func (a *API) getAlertNarrative(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	regenerate, _ := strconv.ParseBool(r.URL.Query().Get("regenerate"))
	res, err := a.alerts.AlertNarrative(r.Context(), id, regenerate)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, res, http.StatusOK)
}

func (a *API) reviewAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	alert, err := a.alerts.MarkReviewed(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.logger.Infow("Alert reviewed", "alert_id", id, "actor", actor(r), "request_id", requestID(r.Context()))
	a.respondJSON(w, alert, http.StatusOK)
}

func (a *API) correlateAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	if a.correlator == nil {
		writeError(w, http.StatusServiceUnavailable, "Correlation not available", nil, a.logger)
		return
	}
	result, err := a.correlator.CorrelateAlert(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, result, http.StatusOK)
}

// runCorrelation performs one batch correlation run synchronously
func (a *API) runCorrelation(w http.ResponseWriter, r *http.Request) {
	if a.correlator == nil {
		writeError(w, http.StatusServiceUnavailable, "Correlation not available", nil, a.logger)
		return
	}
	result, err := a.correlator.RunBatch(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.logger.Infow("Correlation run requested",
		"actor", actor(r),
		"incidents_created", result.IncidentsCreated,
		"alerts_attached", result.AlertsAttached)
	a.respondJSON(w, result, http.StatusOK)
}
