package narrative

import (
	"time"

	"vigil/core"
	"vigil/risk"
)

// Subject is what a narrative describes: a single alert, or an incident with
// its member alerts.
type Subject struct {
	Alert    *core.Alert
	Incident *core.Incident
	Members  []*core.Alert
}

// ForAlert builds a single-alert subject
func ForAlert(alert *core.Alert) Subject {
	return Subject{Alert: alert}
}

// ForIncident builds an incident subject
func ForIncident(incident *core.Incident, members []*core.Alert) Subject {
	return Subject{Incident: incident, Members: members}
}

// IsIncident reports whether the subject is an incident
func (s Subject) IsIncident() bool {
	return s.Incident != nil
}

// Kind returns "incident" or "alert"
func (s Subject) Kind() string {
	if s.IsIncident() {
		return "incident"
	}
	return "alert"
}

// ID returns the subject's identifier
func (s Subject) ID() string {
	switch {
	case s.Incident != nil:
		return s.Incident.ID
	case s.Alert != nil:
		return s.Alert.ID
	default:
		return ""
	}
}

// IncidentFacts are the deterministic aggregates of an incident's members.
type IncidentFacts struct {
	MemberCount  int
	AverageRisk  int
	MaxRisk      int
	Priority     core.Priority
	Severity     core.Severity
	RuleID       core.RuleID
	Drivers      []string
	IPs          []string
	Users        []string
	Assets       []string
	AlertTypes   []string
	FirstSeen    time.Time
	LastSeen     time.Time
	Criticality  risk.Criticality
	Impact       string
	GuidanceName string
}

var criticalityRank = map[risk.Criticality]int{
	risk.CriticalityLow:      1,
	risk.CriticalityMedium:   2,
	risk.CriticalityHigh:     3,
	risk.CriticalityCritical: 4,
}

func incidentFacts(scorer *risk.Scorer, incident *core.Incident, members []*core.Alert) IncidentFacts {
	f := IncidentFacts{
		MemberCount: len(members),
		Priority:    incident.Reason.Priority,
		Severity:    incident.Severity,
		RuleID:      incident.Reason.RuleID,
		Drivers:     incident.Reason.Drivers,
		Criticality: risk.CriticalityLow,
	}
	seen := map[string]bool{}
	addUnique := func(list *[]string, kind, v string) {
		if v == "" || seen[kind+"\x00"+v] {
			return
		}
		seen[kind+"\x00"+v] = true
		*list = append(*list, v)
	}

	total := 0
	for _, a := range members {
		m := scorer.Score(a)
		score := m.RiskScore
		if a.RiskScore != nil {
			score = *a.RiskScore
		}
		total += score
		if score > f.MaxRisk {
			f.MaxRisk = score
		}
		if criticalityRank[m.AssetCriticality] > criticalityRank[f.Criticality] || f.Impact == "" {
			f.Criticality, f.Impact = m.AssetCriticality, m.CriticalityImpact
		}
		if f.GuidanceName == "" || f.GuidanceName == "generic" {
			f.GuidanceName = m.GuidanceCategory
		}
		addUnique(&f.IPs, "ip", m.Entities.IP)
		addUnique(&f.Users, "user", m.Entities.User)
		addUnique(&f.Assets, "asset", m.Entities.Asset)
		addUnique(&f.AlertTypes, "type", a.Type)
		if f.FirstSeen.IsZero() || a.Timestamp.Before(f.FirstSeen) {
			f.FirstSeen = a.Timestamp
		}
		if a.Timestamp.After(f.LastSeen) {
			f.LastSeen = a.Timestamp
		}
	}
	if len(members) > 0 {
		f.AverageRisk = total / len(members)
	}
	if f.Priority == "" {
		scores := make([]int, 0, len(members))
		for _, a := range members {
			scores = append(scores, a.Score())
		}
		f.Priority = core.PriorityForScores(scores)
	}
	return f
}
