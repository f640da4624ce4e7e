package service

import (
	"context"
	"errors"
	"fmt"

	"vigil/core"
	"vigil/metrics"
	"vigil/narrative"
	"vigil/storage"

	"go.uber.org/zap"
)

// ErrInvalidAction is returned for an activity action the endpoint does not accept.
var ErrInvalidAction = errors.New("invalid incident action")

// IncidentStore defines the incident persistence the service needs.
type IncidentStore interface {
	GetIncident(ctx context.Context, id string) (*core.Incident, error)
	ListIncidents(ctx context.Context, filter storage.IncidentFilter) ([]*core.Incident, error)
	ListMappingsByIncident(ctx context.Context, incidentID string) ([]core.AlertIncidentMap, error)
	GetAlertsByIDs(ctx context.Context, ids []string) ([]*core.Alert, error)
	UpdateIncident(ctx context.Context, incident *core.Incident, from core.IncidentStatus, activity *core.IncidentActivity) error
	UpdateIncidentNarrative(ctx context.Context, id, narrative string, aiUsed bool) error
	InsertActivity(ctx context.Context, activity *core.IncidentActivity) error
	ListActivities(ctx context.Context, incidentID string) ([]*core.IncidentActivity, error)
}

// IncidentService drives the incident lifecycle.
type IncidentService struct {
	store    IncidentStore
	narrator Narrator
	logger   *zap.SugaredLogger
}

// IncidentDetail is an incident with its member alerts and activity log.
type IncidentDetail struct {
	Incident   *core.Incident           `json:"incident"`
	Alerts     []*core.Alert            `json:"alerts"`
	Activities []*core.IncidentActivity `json:"activities"`
}

// NewIncidentService creates an IncidentService
func NewIncidentService(store IncidentStore, narrator Narrator, logger *zap.SugaredLogger) *IncidentService {
	if store == nil {
		panic("store is required")
	}
	if narrator == nil {
		panic("narrator is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &IncidentService{store: store, narrator: narrator, logger: logger}
}

// Get returns one incident
func (s *IncidentService) Get(ctx context.Context, id string) (*core.Incident, error) {
	if id == "" {
		return nil, fmt.Errorf("incident id is required")
	}
	return s.store.GetIncident(ctx, id)
}

// List returns incidents newest first.
func (s *IncidentService) List(ctx context.Context, filter storage.IncidentFilter) ([]*core.Incident, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("invalid incident status: %q", filter.Status)
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.ListIncidents(ctx, filter)
}

// Detail returns the incident with its members and activity.
func (s *IncidentService) Detail(ctx context.Context, id string) (*IncidentDetail, error) {
	inc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	members, err := s.members(ctx, inc.ID)
	if err != nil {
		return nil, err
	}
	activities, err := s.store.ListActivities(ctx, inc.ID)
	if err != nil {
		return nil, err
	}
	return &IncidentDetail{Incident: inc, Alerts: members, Activities: activities}, nil
}

// Activities returns the incident's activity log oldest first.
func (s *IncidentService) Activities(ctx context.Context, id string) ([]*core.IncidentActivity, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListActivities(ctx, id)
}

func (s *IncidentService) members(ctx context.Context, incidentID string) ([]*core.Alert, error) {
	mappings, err := s.store.ListMappingsByIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(mappings))
	for _, m := range mappings {
		ids = append(ids, m.AlertID)
	}
	return s.store.GetAlertsByIDs(ctx, ids)
}

// IncidentNarrative returns the incident's narrative, generating and storing
// it only when missing or unparseable, or when regenerate is set.
func (s *IncidentService) IncidentNarrative(ctx context.Context, id string, regenerate bool) (narrative.Result, error) {
	inc, err := s.Get(ctx, id)
	if err != nil {
		return narrative.Result{}, err
	}
	members, err := s.members(ctx, inc.ID)
	if err != nil {
		return narrative.Result{}, err
	}

	subject := narrative.ForIncident(inc, members)
	if !regenerate {
		if stored, ok := narrative.Stored(subject, inc.Narrative, inc.NarrativeAIUsed); ok {
			return stored, nil
		}
	}

	res := s.narrator.Narrate(ctx, subject)
	if err := s.store.UpdateIncidentNarrative(ctx, inc.ID, res.Text, res.AIUsed); err != nil {
		return narrative.Result{}, fmt.Errorf("failed to store narrative for incident %s: %w", inc.ID, err)
	}
	return res, nil
}

// StartInvestigation moves an Open incident to In Progress, narrating it
// first if it has no usable narrative.
func (s *IncidentService) StartInvestigation(ctx context.Context, id, actor string) (*core.Incident, error) {
	inc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := inc.Status
	if err := inc.TransitionTo(core.IncidentStatusInProgress, core.PathAnalyst); err != nil {
		return nil, err
	}

	members, err := s.members(ctx, inc.ID)
	if err != nil {
		return nil, err
	}
	if _, ok := narrative.Stored(narrative.ForIncident(inc, members), inc.Narrative, inc.NarrativeAIUsed); !ok {
		res := s.narrator.Narrate(ctx, narrative.ForIncident(inc, members))
		inc.Narrative = res.Text
		inc.NarrativeAIUsed = res.AIUsed
	}

	activity := core.NewIncidentActivity(inc.ID, actor, core.ActionStartInvestigation, "Investigation started", nil)
	return s.commit(ctx, inc, from, activity)
}

// Resolve marks an incident Resolved. The analyst path requires In Progress;
// the automated path may also resolve straight from Open.
func (s *IncidentService) Resolve(ctx context.Context, id, actor string, path core.TransitionPath, note string) (*core.Incident, error) {
	if path == "" {
		path = core.PathAnalyst
	}
	inc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := inc.Status
	if err := inc.TransitionTo(core.IncidentStatusResolved, path); err != nil {
		return nil, err
	}

	meta := map[string]interface{}{"path": string(path)}
	if note != "" {
		meta["note"] = note
	}
	activity := core.NewIncidentActivity(inc.ID, actor, core.ActionResolve, "Incident resolved", meta)
	return s.commit(ctx, inc, from, activity)
}

// Close archives a Resolved incident. Only the administrative path may close.
func (s *IncidentService) Close(ctx context.Context, id, actor string) (*core.Incident, error) {
	inc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := inc.Status
	if err := inc.TransitionTo(core.IncidentStatusClosed, core.PathAdmin); err != nil {
		return nil, err
	}
	activity := core.NewIncidentActivity(inc.ID, actor, core.ActionClose, "Incident closed", nil)
	return s.commit(ctx, inc, from, activity)
}

// RecordAction appends a containment action to the incident's activity log.
// Lifecycle actions go through their own operations.
func (s *IncidentService) RecordAction(ctx context.Context, id, actor string, action core.ActivityAction, label string, metadata map[string]interface{}) (*core.IncidentActivity, error) {
	if !action.IsContainment() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	inc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc.IsFinalState() {
		return nil, fmt.Errorf("%w: incident %s is closed", core.ErrInvalidTransition, inc.ID)
	}

	if label == "" {
		label = defaultActionLabels[action]
	}
	activity := core.NewIncidentActivity(inc.ID, actor, action, label, metadata)
	if err := s.store.InsertActivity(ctx, activity); err != nil {
		return nil, fmt.Errorf("failed to record action on incident %s: %w", inc.ID, err)
	}
	s.logger.Infow("Incident action recorded", "incident_id", inc.ID, "action", action, "actor", actor)
	return activity, nil
}

var defaultActionLabels = map[core.ActivityAction]string{
	core.ActionBlockIP:            "Source IP blocked",
	core.ActionDisableUser:        "User account disabled",
	core.ActionConfirmContainment: "Containment confirmed",
}

func (s *IncidentService) commit(ctx context.Context, inc *core.Incident, from core.IncidentStatus, activity *core.IncidentActivity) (*core.Incident, error) {
	if err := s.store.UpdateIncident(ctx, inc, from, activity); err != nil {
		if errors.Is(err, storage.ErrStaleIncident) {
			return nil, fmt.Errorf("%w: %w", core.ErrInvalidTransition, err)
		}
		return nil, err
	}

	metrics.IncidentTransitions.WithLabelValues(string(inc.Status)).Inc()
	s.logger.Infow("Incident status changed",
		"incident_id", inc.ID,
		"from", from,
		"to", inc.Status,
		"actor", activity.Actor)
	return inc, nil
}
