package core

import (
	"time"

	"github.com/google/uuid"
)

// Alert is a single reported security event with its raw evidence.
type Alert struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Type      string                 `json:"alert_type"`
	Severity  Severity               `json:"severity"`
	RawLog    map[string]interface{} `json:"raw_log"`
	RiskScore *int                   `json:"risk_score,omitempty"`
	Narrative string                 `json:"narrative,omitempty"`
	AIUsed    bool                   `json:"ai_used"`
	Status    AlertStatus            `json:"status"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// NewAlert creates an alert in the New state with a fresh ID.
func NewAlert(source, alertType string, severity Severity, rawLog map[string]interface{}) *Alert {
	now := time.Now().UTC()
	if rawLog == nil {
		rawLog = map[string]interface{}{}
	}
	return &Alert{
		ID:        uuid.New().String(),
		Timestamp: now,
		Source:    source,
		Type:      alertType,
		Severity:  severity,
		RawLog:    rawLog,
		Status:    AlertStatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Normalize fills identity, timestamps and status on an alert received from a
// collaborator that may have left them empty.
func (a *Alert) Normalize() {
	now := time.Now().UTC()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = now
	}
	if a.RawLog == nil {
		a.RawLog = map[string]interface{}{}
	}
	if a.Status == "" {
		a.Status = AlertStatusNew
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	a.Severity = ParseSeverity(string(a.Severity))
}

// Score returns the stored risk score, or 0 when the alert has not been scored.
func (a *Alert) Score() int {
	if a.RiskScore == nil {
		return 0
	}
	return *a.RiskScore
}

// SetRiskScore stores the score clamped to [0,100].
func (a *Alert) SetRiskScore(score int) {
	score = ClampScore(score)
	a.RiskScore = &score
}

// Entities extracts the correlation join keys from the raw log.
func (a *Alert) Entities() Entities {
	return ExtractEntities(a.RawLog)
}

// ClampScore bounds a score to [0,100].
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
