package core

import "strings"

// Severity is the reported severity of an alert or incident.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// String returns the string representation
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is one of the four known levels
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Rank orders severities so they can be compared. Unknown values rank with Medium.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityLow:
		return 1
	default:
		return 2
	}
}

// ParseSeverity normalizes free-text severities ("critical", "HIGH") to a Severity.
// Unrecognized input is returned unchanged so that scoring can apply its default.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return Severity(s)
	}
}

// MaxSeverity returns the highest severity in the list. Low is returned only when
// no member is Medium or above. An empty list yields Low.
func MaxSeverity(severities ...Severity) Severity {
	best := SeverityLow
	for _, s := range severities {
		candidate := s
		if !candidate.IsValid() {
			candidate = SeverityMedium
		}
		if candidate.Rank() > best.Rank() {
			best = candidate
		}
	}
	return best
}

// AlertStatus represents the triage status of an alert
type AlertStatus string

const (
	// AlertStatusNew indicates an alert that hasn't been looked at
	AlertStatusNew AlertStatus = "New"
	// AlertStatusReviewed indicates an analyst has reviewed the alert
	AlertStatusReviewed AlertStatus = "Reviewed"
	// AlertStatusCorrelated indicates the alert is a member of an incident
	AlertStatusCorrelated AlertStatus = "Correlated"
)

// String returns the string representation
func (s AlertStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusNew, AlertStatusReviewed, AlertStatusCorrelated:
		return true
	default:
		return false
	}
}

// IncidentStatus represents the lifecycle status of an incident
type IncidentStatus string

const (
	IncidentStatusOpen       IncidentStatus = "Open"
	IncidentStatusInProgress IncidentStatus = "In Progress"
	IncidentStatusResolved   IncidentStatus = "Resolved"
	IncidentStatusClosed     IncidentStatus = "Closed"
)

// String returns the string representation
func (s IncidentStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentStatusOpen, IncidentStatusInProgress, IncidentStatusResolved, IncidentStatusClosed:
		return true
	default:
		return false
	}
}

// IsActive reports whether the incident can still absorb new alerts.
func (s IncidentStatus) IsActive() bool {
	return s == IncidentStatusOpen || s == IncidentStatusInProgress
}

// Priority is the triage priority tag computed from member risk scores.
type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// IsValid checks if the priority is valid
func (p Priority) IsValid() bool {
	switch p {
	case PriorityP1, PriorityP2, PriorityP3:
		return true
	default:
		return false
	}
}

// ActivityAction is the kind of analyst or system action recorded against an incident.
type ActivityAction string

const (
	ActionBlockIP            ActivityAction = "block_ip"
	ActionDisableUser        ActivityAction = "disable_user"
	ActionConfirmContainment ActivityAction = "confirm_containment"
	ActionStartInvestigation ActivityAction = "start_investigation"
	ActionResolve            ActivityAction = "resolve"
	ActionClose              ActivityAction = "close"
)

// IsValid checks if the action is valid
func (a ActivityAction) IsValid() bool {
	switch a {
	case ActionBlockIP, ActionDisableUser, ActionConfirmContainment,
		ActionStartInvestigation, ActionResolve, ActionClose:
		return true
	default:
		return false
	}
}

// IsContainment reports whether the action is a free-standing containment step
// rather than a side effect of a lifecycle transition.
func (a ActivityAction) IsContainment() bool {
	return a == ActionBlockIP || a == ActionDisableUser || a == ActionConfirmContainment
}

// RuleID identifies the correlation rule that formed an incident.
type RuleID string

const (
	RuleCredentialAttack RuleID = "credential_attack"
	RuleSameIPBurst      RuleID = "same_ip_burst"
	RuleSameUserAuth     RuleID = "same_user_auth"
	RuleSameAsset        RuleID = "same_asset"
	RulePhishingCampaign RuleID = "phishing_campaign"
	RuleRiskThreshold    RuleID = "risk_threshold"
)
