package api

import (
	"net/http"
	"strconv"

	"vigil/core"
	"vigil/storage"
)

// ResolveIncidentRequest is the optional body of POST /incidents/{id}/resolve
type ResolveIncidentRequest struct {
	Path string `json:"path,omitempty" validate:"omitempty,oneof=analyst automated"`
	Note string `json:"note,omitempty" validate:"max=2000"`
}

// RecordActionRequest is the body of POST /incidents/{id}/actions
type RecordActionRequest struct {
	Action   string                 `json:"action" validate:"required,oneof=block_ip disable_user confirm_containment"`
	Label    string                 `json:"label,omitempty" validate:"max=256"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (a *API) listIncidents(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	filter := storage.IncidentFilter{
		Status: core.IncidentStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		writeError(w, http.StatusBadRequest, "Invalid status filter", nil, a.logger)
		return
	}

	incidents, err := a.incidents.List(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if incidents == nil {
		incidents = []*core.Incident{}
	}
	a.respondJSON(w, incidents, http.StatusOK)
}

// getIncident returns the incident with its member alerts and activity log
func (a *API) getIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	detail, err := a.incidents.Detail(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, detail, http.StatusOK)
}

func (a *API) getIncidentNarrative(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	regenerate, _ := strconv.ParseBool(r.URL.Query().Get("regenerate"))
	res, err := a.incidents.IncidentNarrative(r.Context(), id, regenerate)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, res, http.StatusOK)
}

func (a *API) listActivities(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	activities, err := a.incidents.Activities(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if activities == nil {
		activities = []*core.IncidentActivity{}
	}
	a.respondJSON(w, activities, http.StatusOK)
}

func (a *API) startInvestigation(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	inc, err := a.incidents.StartInvestigation(r.Context(), id, actor(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, inc, http.StatusOK)
}

func (a *API) resolveIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	body, ok := a.readBody(w, r)
	if !ok {
		return
	}

	var req ResolveIncidentRequest
	if len(body) > 0 && !a.decodeJSON(w, body, &req) {
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed: "+err.Error(), err, a.logger)
		return
	}

	inc, err := a.incidents.Resolve(r.Context(), id, actor(r), core.TransitionPath(req.Path), req.Note)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, inc, http.StatusOK)
}

// closeIncident is the administrative path from Resolved to Closed
func (a *API) closeIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	inc, err := a.incidents.Close(r.Context(), id, actor(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, inc, http.StatusOK)
}

// recordAction appends a containment action to the activity log
func (a *API) recordAction(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	body, ok := a.readBody(w, r)
	if !ok {
		return
	}

	var req RecordActionRequest
	if !a.decodeJSON(w, body, &req) {
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed: "+err.Error(), err, a.logger)
		return
	}

	activity, err := a.incidents.RecordAction(r.Context(), id, actor(r), core.ActivityAction(req.Action), req.Label, req.Metadata)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, activity, http.StatusCreated)
}
