package correlate

import (
	"time"

	"vigil/core"
	"vigil/risk"
)

// IncidentEntities is the correlation footprint of one open incident: the
// entities of its member alerts and the newest member timestamp.
type IncidentEntities struct {
	Incident *core.Incident
	IPs      map[string]bool
	Users    map[string]bool
	LastSeen time.Time
}

// NewIncidentEntities indexes the members of an incident
func NewIncidentEntities(incident *core.Incident, members []*core.Alert) *IncidentEntities {
	ie := &IncidentEntities{
		Incident: incident,
		IPs:      make(map[string]bool),
		Users:    make(map[string]bool),
	}
	for _, a := range members {
		ie.add(a, a.Entities())
	}
	return ie
}

func (ie *IncidentEntities) add(a *core.Alert, e core.Entities) {
	if e.HasIP() {
		ie.IPs[e.IP] = true
	}
	if e.HasUser() {
		ie.Users[e.User] = true
	}
	if a.Timestamp.After(ie.LastSeen) {
		ie.LastSeen = a.Timestamp
	}
}

func (ie *IncidentEntities) matches(e core.Entities) bool {
	return (e.HasIP() && ie.IPs[e.IP]) || (e.HasUser() && ie.Users[e.User])
}

// recent reports whether an alert at ts falls inside the attach window of
// the incident. A zero window disables the bound.
func (ie *IncidentEntities) recent(ts time.Time, window time.Duration) bool {
	if window <= 0 || ie.LastSeen.IsZero() {
		return true
	}
	return ts.Sub(ie.LastSeen) <= window
}

// Attachment assigns an alert to an existing incident.
type Attachment struct {
	Alert      *core.Alert
	IncidentID string
}

// Plan is the set of decisions for one correlation pass. It is computed
// without side effects and applied by the Engine.
type Plan struct {
	Attachments []Attachment
	Groups      []Group
	Unclaimed   []*core.Alert
}

// PlanOptions tune a planning pass.
type PlanOptions struct {
	// Focus restricts the pass to decisions that involve this alert.
	Focus string
	// AttachWindow bounds how long after an incident's newest member an
	// alert may still attach to it. Zero means unbounded.
	AttachWindow time.Duration
}

// Planner decides attachments and new groups for a pool of alerts.
type Planner struct {
	scorer *risk.Scorer
}

// NewPlanner creates a planner; alerts without a stored score are scored on the fly.
func NewPlanner(scorer *risk.Scorer) *Planner {
	if scorer == nil {
		scorer = risk.NewScorer()
	}
	return &Planner{scorer: scorer}
}

// Plan runs both phases over pool. The pool must not contain alerts that are
// already mapped to an incident and should be ordered by timestamp ascending.
// incidents are searched in list order during the attach phase and are
// extended with the entities of every alert attached to them.
func (p *Planner) Plan(pool []*core.Alert, incidents []*IncidentEntities, opts PlanOptions) Plan {
	var plan Plan
	single := opts.Focus != ""

	candidates := make([]candidate, 0, len(pool))
	for _, a := range pool {
		if a == nil {
			continue
		}
		score := p.scorer.Score(a).RiskScore
		if a.RiskScore != nil {
			score = *a.RiskScore
		}
		candidates = append(candidates, candidate{alert: a, entities: a.Entities(), score: score})
	}

	// Phase 1: attach to open incidents.
	residue := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if single && c.alert.ID != opts.Focus {
			residue = append(residue, c)
			continue
		}
		if target := findIncident(incidents, c, opts.AttachWindow); target != nil {
			target.add(c.alert, c.entities)
			plan.Attachments = append(plan.Attachments, Attachment{Alert: c.alert, IncidentID: target.Incident.ID})
			continue
		}
		residue = append(residue, c)
	}
	if single && len(plan.Attachments) > 0 {
		return plan
	}

	// Phase 2: rules in priority order over the shrinking residue.
	for _, r := range rules {
		if len(residue) == 0 {
			break
		}
		claimed := make(map[string]bool)
		for _, members := range r.apply(residue, single) {
			if len(members) == 0 {
				continue
			}
			g := newGroup(r.id, members, r.drivers(members))
			for _, c := range members {
				claimed[c.alert.ID] = true
			}
			if single && !g.Contains(opts.Focus) {
				continue
			}
			plan.Groups = append(plan.Groups, g)
		}
		if len(claimed) == 0 {
			continue
		}
		next := residue[:0:0]
		for _, c := range residue {
			if !claimed[c.alert.ID] {
				next = append(next, c)
			}
		}
		residue = next
		if single && len(plan.Groups) > 0 {
			break
		}
	}

	for _, c := range residue {
		if !single || c.alert.ID == opts.Focus {
			plan.Unclaimed = append(plan.Unclaimed, c.alert)
		}
	}
	return plan
}

func findIncident(incidents []*IncidentEntities, c candidate, window time.Duration) *IncidentEntities {
	if !c.entities.Correlatable() {
		return nil
	}
	for _, ie := range incidents {
		if ie.matches(c.entities) && ie.recent(c.alert.Timestamp, window) {
			return ie
		}
	}
	return nil
}
