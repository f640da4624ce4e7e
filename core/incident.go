package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IncidentReason records why a correlation rule grouped a set of alerts.
// It is kept structured in memory and serialized only at the storage and
// display boundaries.
type IncidentReason struct {
	Summary  string   `json:"summary"`
	Drivers  []string `json:"drivers"`
	RuleID   RuleID   `json:"rule_id"`
	Priority Priority `json:"priority"`
}

// String renders the reason for display.
func (r IncidentReason) String() string {
	var b strings.Builder
	b.WriteString(r.Summary)
	if len(r.Drivers) > 0 {
		fmt.Fprintf(&b, " | Drivers: %s", strings.Join(r.Drivers, ", "))
	}
	if r.RuleID != "" {
		fmt.Fprintf(&b, " | Rule: %s", r.RuleID)
	}
	if r.Priority != "" {
		fmt.Fprintf(&b, " | Priority: %s", r.Priority)
	}
	return b.String()
}

// HasDriver reports whether the named driver tag is present.
func (r IncidentReason) HasDriver(driver string) bool {
	for _, d := range r.Drivers {
		if d == driver {
			return true
		}
	}
	return false
}

// Incident groups one or more correlated alerts believed to be one threat.
type Incident struct {
	ID              string         `json:"id"`
	Severity        Severity       `json:"severity"`
	Status          IncidentStatus `json:"status"`
	Reason          IncidentReason `json:"reason"`
	Narrative       string         `json:"narrative,omitempty"`
	NarrativeAIUsed bool           `json:"narrative_ai_used"`
	AutoCreated     bool           `json:"auto_created"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
}

// NewCorrelatedIncident creates an Open, auto-created incident for a correlation group.
func NewCorrelatedIncident(severity Severity, reason IncidentReason) *Incident {
	now := time.Now().UTC()
	return &Incident{
		ID:          uuid.New().String(),
		Severity:    severity,
		Status:      IncidentStatusOpen,
		Reason:      reason,
		AutoCreated: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// PriorityForScores maps the average member risk score to a priority tag.
func PriorityForScores(scores []int) Priority {
	if len(scores) == 0 {
		return PriorityP3
	}
	total := 0
	for _, s := range scores {
		total += s
	}
	avg := float64(total) / float64(len(scores))
	switch {
	case avg > 90:
		return PriorityP1
	case avg > 50:
		return PriorityP2
	default:
		return PriorityP3
	}
}

// AlertIncidentMap links an alert to an incident. The (AlertID, IncidentID) pair is unique.
type AlertIncidentMap struct {
	AlertID    string    `json:"alert_id"`
	IncidentID string    `json:"incident_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// IncidentActivity is an append-only record of an action taken on an incident.
type IncidentActivity struct {
	ID         string                 `json:"id"`
	IncidentID string                 `json:"incident_id"`
	Actor      string                 `json:"actor"`
	Action     ActivityAction         `json:"action"`
	Label      string                 `json:"label"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// NewIncidentActivity builds an activity entry with a fresh ID.
func NewIncidentActivity(incidentID, actor string, action ActivityAction, label string, metadata map[string]interface{}) *IncidentActivity {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return &IncidentActivity{
		ID:         uuid.New().String(),
		IncidentID: incidentID,
		Actor:      actor,
		Action:     action,
		Label:      label,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}
}
