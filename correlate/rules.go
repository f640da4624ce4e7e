package correlate

import (
	"time"

	"vigil/core"
	"vigil/risk"
)

// Drivers attached to incident reasons.
const (
	DriverCredentialAttack  = "High-severity credential attack"
	DriverSharedSourceIP    = "Shared Source IP"
	DriverRepeatedIdentity  = "Repeated Identity Activity"
	DriverMultiVector       = "Multi-vector Alert Pattern"
	DriverMultiSource       = "Multi-source Attack"
	DriverCommonAsset       = "Common Asset Target"
	DriverPhishingCampaign  = "Phishing campaign indicator"
	DriverCombinedRiskScore = "Combined risk score threshold exceeded"
)

const (
	// BurstWindow is the longest span a same-IP burst may cover.
	BurstWindow = 5 * time.Minute

	burstMinAlerts     = 3
	userClusterMinSize = 2
	assetClusterMin    = 2

	// RiskThreshold is the minimum member score for the risk-threshold rule.
	RiskThreshold = 75
)

var (
	credentialAttack = risk.Keywords("credential_attack", `brute[\s_-]*force|credential[\s_-]*stuffing`)
	authRelated      = risk.Keywords("auth_related", `login|auth|access|credential|brute`)
	phishing         = risk.Keywords("phishing", `phishing`)
)

var ruleSummaries = map[core.RuleID]string{
	core.RuleCredentialAttack: "High-severity credential attack detected",
	core.RuleSameIPBurst:      "Burst of alerts from a single source address within five minutes",
	core.RuleSameUserAuth:     "Repeated authentication alerts for a single identity",
	core.RuleSameAsset:        "Multiple alerts targeting the same asset",
	core.RulePhishingCampaign: "Phishing activity detected",
	core.RuleRiskThreshold:    "Multiple high-risk alerts exceeded the combined risk threshold",
}

// candidate is an alert prepared for rule evaluation.
type candidate struct {
	alert    *core.Alert
	entities core.Entities
	score    int
}

// Group is a set of alerts one rule decided belong to a single new incident.
type Group struct {
	Rule    core.RuleID
	Summary string
	Drivers []string
	Alerts  []*core.Alert
	Scores  []int
}

// AlertIDs returns the member IDs in group order.
func (g Group) AlertIDs() []string {
	ids := make([]string, 0, len(g.Alerts))
	for _, a := range g.Alerts {
		ids = append(ids, a.ID)
	}
	return ids
}

// Contains reports whether the group includes the alert
func (g Group) Contains(alertID string) bool {
	for _, a := range g.Alerts {
		if a.ID == alertID {
			return true
		}
	}
	return false
}

func newGroup(rule core.RuleID, members []candidate, drivers []string) Group {
	g := Group{
		Rule:    rule,
		Summary: ruleSummaries[rule],
		Drivers: drivers,
		Alerts:  make([]*core.Alert, 0, len(members)),
		Scores:  make([]int, 0, len(members)),
	}
	for _, c := range members {
		g.Alerts = append(g.Alerts, c.alert)
		g.Scores = append(g.Scores, c.score)
	}
	return g
}

// rule evaluates the residue of unclaimed candidates and returns the groups it
// forms; drivers derives the driver list for one formed group.
type rule struct {
	id      core.RuleID
	apply   func(residue []candidate, single bool) [][]candidate
	drivers func(members []candidate) []string
}

// rules are evaluated in this order; each group claims its members.
var rules = []rule{
	{
		id: core.RuleCredentialAttack,
		apply: func(residue []candidate, single bool) [][]candidate {
			var matched []candidate
			for _, c := range residue {
				sev := core.ParseSeverity(string(c.alert.Severity))
				if credentialAttack.Matches(c.alert.Type) && (sev == core.SeverityHigh || sev == core.SeverityCritical) {
					matched = append(matched, c)
				}
			}
			if len(matched) == 0 {
				return nil
			}
			if single {
				groups := make([][]candidate, 0, len(matched))
				for _, c := range matched {
					groups = append(groups, []candidate{c})
				}
				return groups
			}
			return [][]candidate{matched}
		},
		drivers: func(members []candidate) []string {
			drivers := []string{DriverCredentialAttack}
			if distinctIPs(members) == 1 {
				drivers = append(drivers, DriverSharedSourceIP)
			}
			if anyUser(members) {
				drivers = append(drivers, DriverRepeatedIdentity)
			}
			return drivers
		},
	},
	{
		id: core.RuleSameIPBurst,
		apply: func(residue []candidate, _ bool) [][]candidate {
			var groups [][]candidate
			for _, members := range groupBy(residue, func(e core.Entities) string { return e.IP }) {
				if len(members) >= burstMinAlerts && span(members) <= BurstWindow {
					groups = append(groups, members)
				}
			}
			return groups
		},
		drivers: func(members []candidate) []string {
			drivers := []string{DriverSharedSourceIP, DriverMultiVector}
			if anyUser(members) {
				drivers = append(drivers, DriverRepeatedIdentity)
			}
			return drivers
		},
	},
	{
		id: core.RuleSameUserAuth,
		apply: func(residue []candidate, _ bool) [][]candidate {
			var auth []candidate
			for _, c := range residue {
				if authRelated.Matches(c.alert.Type) {
					auth = append(auth, c)
				}
			}
			var groups [][]candidate
			for _, members := range groupBy(auth, func(e core.Entities) string { return e.User }) {
				if len(members) >= userClusterMinSize {
					groups = append(groups, members)
				}
			}
			return groups
		},
		drivers: func(members []candidate) []string {
			drivers := []string{DriverRepeatedIdentity}
			if distinctIPs(members) > 1 {
				drivers = append(drivers, DriverMultiSource)
			}
			return drivers
		},
	},
	{
		id: core.RuleSameAsset,
		apply: func(residue []candidate, _ bool) [][]candidate {
			var groups [][]candidate
			for _, members := range groupBy(residue, func(e core.Entities) string { return e.Asset }) {
				if len(members) >= assetClusterMin {
					groups = append(groups, members)
				}
			}
			return groups
		},
		drivers: func(members []candidate) []string {
			drivers := []string{DriverCommonAsset}
			if distinctIPs(members) > 1 {
				drivers = append(drivers, DriverMultiSource)
			}
			return drivers
		},
	},
	{
		id: core.RulePhishingCampaign,
		apply: func(residue []candidate, _ bool) [][]candidate {
			return collect(residue, func(c candidate) bool { return phishing.Matches(c.alert.Type) })
		},
		drivers: func([]candidate) []string { return []string{DriverPhishingCampaign} },
	},
	{
		id: core.RuleRiskThreshold,
		apply: func(residue []candidate, _ bool) [][]candidate {
			return collect(residue, func(c candidate) bool { return c.score >= RiskThreshold })
		},
		drivers: func([]candidate) []string { return []string{DriverCombinedRiskScore} },
	},
}

// groupBy buckets correlatable candidates by an entity key, in order of first
// appearance. Candidates with an empty key, or with neither IP nor user, are skipped.
func groupBy(residue []candidate, key func(core.Entities) string) [][]candidate {
	index := make(map[string]int)
	var buckets [][]candidate
	for _, c := range residue {
		if !c.entities.Correlatable() {
			continue
		}
		k := key(c.entities)
		if k == "" {
			continue
		}
		i, ok := index[k]
		if !ok {
			i = len(buckets)
			index[k] = i
			buckets = append(buckets, nil)
		}
		buckets[i] = append(buckets[i], c)
	}
	return buckets
}

func collect(residue []candidate, match func(candidate) bool) [][]candidate {
	var members []candidate
	for _, c := range residue {
		if match(c) {
			members = append(members, c)
		}
	}
	if len(members) == 0 {
		return nil
	}
	return [][]candidate{members}
}

func span(members []candidate) time.Duration {
	if len(members) == 0 {
		return 0
	}
	first, last := members[0].alert.Timestamp, members[0].alert.Timestamp
	for _, c := range members[1:] {
		if c.alert.Timestamp.Before(first) {
			first = c.alert.Timestamp
		}
		if c.alert.Timestamp.After(last) {
			last = c.alert.Timestamp
		}
	}
	return last.Sub(first)
}

func distinctIPs(members []candidate) int {
	seen := make(map[string]bool)
	for _, c := range members {
		if c.entities.HasIP() {
			seen[c.entities.IP] = true
		}
	}
	return len(seen)
}

func anyUser(members []candidate) bool {
	for _, c := range members {
		if c.entities.HasUser() {
			return true
		}
	}
	return false
}
