package correlate

import (
	"testing"
	"time"

	"vigil/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func testAlert(id, alertType string, sev core.Severity, offset time.Duration, raw map[string]interface{}) *core.Alert {
	a := core.NewAlert("test", alertType, sev, raw)
	a.ID = id
	a.Timestamp = t0.Add(offset)
	return a
}

func ip(addr string) map[string]interface{} {
	return map[string]interface{}{"source_ip": addr}
}

func groupIDs(g Group) []string {
	return g.AlertIDs()
}

func TestPlan_SameIPBurstWithinWindow(t *testing.T) {
	pool := []*core.Alert{
		testAlert("a1", "Port Scan", core.SeverityMedium, 0, ip("198.51.100.9")),
		testAlert("a2", "Malware Beaconing", core.SeverityMedium, 120*time.Second, ip("198.51.100.9")),
		testAlert("a3", "Suspicious DNS Query", core.SeverityMedium, 290*time.Second, ip("198.51.100.9")),
	}

	plan := NewPlanner(nil).Plan(pool, nil, PlanOptions{})

	require.Len(t, plan.Groups, 1)
	g := plan.Groups[0]
	assert.Equal(t, core.RuleSameIPBurst, g.Rule)
	assert.Equal(t, []string{"a1", "a2", "a3"}, groupIDs(g))
	assert.Contains(t, g.Drivers, DriverSharedSourceIP)
	assert.Contains(t, g.Drivers, DriverMultiVector)
	assert.NotContains(t, g.Drivers, DriverRepeatedIdentity)
	assert.Empty(t, plan.Unclaimed)
}

func TestPlan_SameIPBurstOutsideWindow(t *testing.T) {
	pool := []*core.Alert{
		testAlert("a1", "Port Scan", core.SeverityMedium, 0, ip("198.51.100.9")),
		testAlert("a2", "Malware Beaconing", core.SeverityMedium, 200*time.Second, ip("198.51.100.9")),
		testAlert("a3", "Suspicious DNS Query", core.SeverityMedium, 400*time.Second, ip("198.51.100.9")),
	}

	plan := NewPlanner(nil).Plan(pool, nil, PlanOptions{})

	assert.Empty(t, plan.Groups)
	assert.Len(t, plan.Unclaimed, 3)
}

func TestPlan_RulePrecedence(t *testing.T) {
	pool := []*core.Alert{
		testAlert("cred", "Credential Stuffing", core.SeverityHigh, 0, ip("198.51.100.9")),
		testAlert("scan", "Port Scan", core.SeverityMedium, 30*time.Second, ip("198.51.100.9")),
		testAlert("dns", "Suspicious DNS Query", core.SeverityMedium, 60*time.Second, ip("198.51.100.9")),
	}

	plan := NewPlanner(nil).Plan(pool, nil, PlanOptions{})

	require.Len(t, plan.Groups, 1, "the burst loses its third member to the credential rule")
	assert.Equal(t, core.RuleCredentialAttack, plan.Groups[0].Rule)
	assert.Equal(t, []string{"cred"}, groupIDs(plan.Groups[0]))
	assert.Equal(t, []string{DriverCredentialAttack, DriverSharedSourceIP}, plan.Groups[0].Drivers)
	assert.Len(t, plan.Unclaimed, 2)
}

func TestPlan_CredentialAttackBatchVersusSingle(t *testing.T) {
	pool := []*core.Alert{
		testAlert("c1", "Brute Force Login", core.SeverityHigh, 0,
			map[string]interface{}{"source_ip": "203.0.113.5", "user": "alice"}),
		testAlert("c2", "brute-force attempt", core.SeverityCritical, time.Hour,
			map[string]interface{}{"source_ip": "203.0.113.77"}),
		testAlert("low", "Brute Force Login", core.SeverityLow, 0, ip("203.0.113.9")),
	}

	batch := NewPlanner(nil).Plan(pool, nil, PlanOptions{})
	require.NotEmpty(t, batch.Groups)
	assert.Equal(t, core.RuleCredentialAttack, batch.Groups[0].Rule)
	assert.Equal(t, []string{"c1", "c2"}, groupIDs(batch.Groups[0]))
	assert.Equal(t, []string{DriverCredentialAttack, DriverRepeatedIdentity}, batch.Groups[0].Drivers,
		"two distinct addresses means no shared source driver")

	single := NewPlanner(nil).Plan(pool, nil, PlanOptions{Focus: "c2"})
	require.Len(t, single.Groups, 1)
	assert.Equal(t, []string{"c2"}, groupIDs(single.Groups[0]))
	assert.Equal(t, []string{DriverCredentialAttack, DriverSharedSourceIP}, single.Groups[0].Drivers)
}

func TestPlan_SameUserAuthCluster(t *testing.T) {
	pool := []*core.Alert{
		testAlert("l1", "Failed Login", core.SeverityMedium, 0,
			map[string]interface{}{"user": "bob", "source_ip": "10.0.0.4"}),
		testAlert("l2", "Unusual Access Time", core.SeverityLow, 2*time.Hour,
			map[string]interface{}{"username": "bob", "ip": "10.0.0.9"}),
		testAlert("other", "Disk Full", core.SeverityLow, 3*time.Hour,
			map[string]interface{}{"user": "bob"}),
	}

	plan := NewPlanner(nil).Plan(pool, nil, PlanOptions{})

	require.Len(t, plan.Groups, 1)
	assert.Equal(t, core.RuleSameUserAuth, plan.Groups[0].Rule)
	assert.Equal(t, []string{"l1", "l2"}, groupIDs(plan.Groups[0]))
	assert.Equal(t, []string{DriverRepeatedIdentity, DriverMultiSource}, plan.Groups[0].Drivers)
	require.Len(t, plan.Unclaimed, 1)
	assert.Equal(t, "other", plan.Unclaimed[0].ID)
}

func TestPlan_SameAssetCluster(t *testing.T) {
	pool := []*core.Alert{
		testAlert("h1", "Malware Detected", core.SeverityMedium, 0,
			map[string]interface{}{"host": "web-01", "source_ip": "10.1.1.1"}),
		testAlert("h2", "Suspicious Process", core.SeverityMedium, time.Hour,
			map[string]interface{}{"asset": "web-01", "source_ip": "10.1.1.1"}),
	}

	plan := NewPlanner(nil).Plan(pool, nil, PlanOptions{})

	require.Len(t, plan.Groups, 1)
	assert.Equal(t, core.RuleSameAsset, plan.Groups[0].Rule)
	assert.Equal(t, []string{DriverCommonAsset}, plan.Groups[0].Drivers)
}

func TestPlan_UncorrelatableAlertsOnlyReachLaterRules(t *testing.T) {
	pool := []*core.Alert{
		// Same asset but neither IP nor user: rules 2-4 cannot see these.
		testAlert("n1", "Malware Detected", core.SeverityLow, 0, map[string]interface{}{"asset": "lab-7"}),
		testAlert("n2", "Malware Detected", core.SeverityLow, time.Minute, map[string]interface{}{"asset": "lab-7"}),
		testAlert("p1", "Phishing Email Reported", core.SeverityLow, 2*time.Minute, nil),
		testAlert("p2", "Spear-phishing link clicked", core.SeverityMedium, 3*time.Minute, nil),
	}
	risky := testAlert("r1", "Anomalous Behaviour", core.SeverityMedium, 4*time.Minute, nil)
	risky.SetRiskScore(80)
	pool = append(pool, risky)

	plan := NewPlanner(nil).Plan(pool, nil, PlanOptions{})

	require.Len(t, plan.Groups, 2)
	assert.Equal(t, core.RulePhishingCampaign, plan.Groups[0].Rule)
	assert.Equal(t, []string{"p1", "p2"}, groupIDs(plan.Groups[0]))
	assert.Equal(t, []string{DriverPhishingCampaign}, plan.Groups[0].Drivers)
	assert.Equal(t, core.RuleRiskThreshold, plan.Groups[1].Rule)
	assert.Equal(t, []string{"r1"}, groupIDs(plan.Groups[1]))
	assert.Equal(t, []string{DriverCombinedRiskScore}, plan.Groups[1].Drivers)
	assert.Len(t, plan.Unclaimed, 2)
}

func TestPlan_RiskThresholdUsesComputedScoreWhenUnscored(t *testing.T) {
	// Critical (80) + external IP (15): scored on the fly.
	a := testAlert("x", "Anomalous Behaviour", core.SeverityCritical, 0, ip("203.0.113.5"))
	plan := NewPlanner(nil).Plan([]*core.Alert{a}, nil, PlanOptions{})

	require.Len(t, plan.Groups, 1)
	assert.Equal(t, core.RuleRiskThreshold, plan.Groups[0].Rule)
	assert.Equal(t, []int{95}, plan.Groups[0].Scores)
}

func openIncident(id string, members ...*core.Alert) *IncidentEntities {
	inc := core.NewCorrelatedIncident(core.SeverityHigh, core.IncidentReason{Summary: "existing"})
	inc.ID = id
	return NewIncidentEntities(inc, members)
}

func TestPlan_AttachToOpenIncident(t *testing.T) {
	member := testAlert("m", "Port Scan", core.SeverityMedium, 0,
		map[string]interface{}{"source_ip": "203.0.113.5", "user": "carol"})
	first := openIncident("inc-1", testAlert("z", "Port Scan", core.SeverityLow, 0, ip("192.0.2.1")))
	second := openIncident("inc-2", member)

	pool := []*core.Alert{
		testAlert("byIP", "Login Failure", core.SeverityLow, time.Hour,
			map[string]interface{}{"source_ip": "203.0.113.5", "user": "dave"}),
		// Only shares a user with the alert attached above.
		testAlert("byNewUser", "VPN Login", core.SeverityLow, 2*time.Hour, map[string]interface{}{"user": "dave"}),
		testAlert("unrelated", "VPN Login", core.SeverityLow, 2*time.Hour, map[string]interface{}{"user": "erin"}),
	}

	plan := NewPlanner(nil).Plan(pool, []*IncidentEntities{first, second}, PlanOptions{})

	require.Len(t, plan.Attachments, 2)
	assert.Equal(t, "byIP", plan.Attachments[0].Alert.ID)
	assert.Equal(t, "inc-2", plan.Attachments[0].IncidentID)
	assert.Equal(t, "byNewUser", plan.Attachments[1].Alert.ID)
	assert.Equal(t, "inc-2", plan.Attachments[1].IncidentID)
	assert.Empty(t, plan.Groups)
	require.Len(t, plan.Unclaimed, 1)
	assert.Equal(t, "unrelated", plan.Unclaimed[0].ID)
}

func TestPlan_AttachFirstIncidentWins(t *testing.T) {
	a := openIncident("inc-a", testAlert("m1", "x", core.SeverityLow, 0, ip("203.0.113.5")))
	b := openIncident("inc-b", testAlert("m2", "x", core.SeverityLow, 0, ip("203.0.113.5")))

	plan := NewPlanner(nil).Plan([]*core.Alert{testAlert("n", "x", core.SeverityLow, time.Minute, ip("203.0.113.5"))},
		[]*IncidentEntities{a, b}, PlanOptions{})

	require.Len(t, plan.Attachments, 1)
	assert.Equal(t, "inc-a", plan.Attachments[0].IncidentID)
}

func TestPlan_AttachWindow(t *testing.T) {
	inc := openIncident("inc-old", testAlert("m", "x", core.SeverityLow, 0, ip("203.0.113.5")))
	late := testAlert("late", "x", core.SeverityLow, 48*time.Hour, ip("203.0.113.5"))

	bounded := NewPlanner(nil).Plan([]*core.Alert{late}, []*IncidentEntities{inc}, PlanOptions{AttachWindow: 24 * time.Hour})
	assert.Empty(t, bounded.Attachments)

	unbounded := NewPlanner(nil).Plan([]*core.Alert{late}, []*IncidentEntities{inc}, PlanOptions{})
	assert.Len(t, unbounded.Attachments, 1)
}

func TestPlan_SingleAlertKeepsOnlyFocusDecisions(t *testing.T) {
	pool := []*core.Alert{
		testAlert("p1", "Phishing Email", core.SeverityLow, 0, nil),
		testAlert("s1", "Port Scan", core.SeverityMedium, 0, ip("198.51.100.1")),
		testAlert("s2", "Port Scan", core.SeverityMedium, time.Minute, ip("198.51.100.1")),
		testAlert("s3", "Port Scan", core.SeverityMedium, 2*time.Minute, ip("198.51.100.1")),
	}

	plan := NewPlanner(nil).Plan(pool, nil, PlanOptions{Focus: "p1"})
	require.Len(t, plan.Groups, 1)
	assert.Equal(t, core.RulePhishingCampaign, plan.Groups[0].Rule)

	plan = NewPlanner(nil).Plan(pool, nil, PlanOptions{Focus: "s2"})
	require.Len(t, plan.Groups, 1)
	assert.Equal(t, core.RuleSameIPBurst, plan.Groups[0].Rule)
	assert.Equal(t, []string{"s1", "s2", "s3"}, groupIDs(plan.Groups[0]))
}

func TestBuildIncident(t *testing.T) {
	g := Group{
		Rule:    core.RuleSameIPBurst,
		Summary: ruleSummaries[core.RuleSameIPBurst],
		Drivers: []string{DriverSharedSourceIP},
		Alerts: []*core.Alert{
			testAlert("a", "x", core.SeverityLow, 0, nil),
			testAlert("b", "x", core.SeverityCritical, 0, nil),
			testAlert("c", "x", core.SeverityMedium, 0, nil),
		},
		Scores: []int{95, 92, 100},
	}

	inc := BuildIncident(g)
	assert.Equal(t, core.SeverityCritical, inc.Severity)
	assert.Equal(t, core.PriorityP1, inc.Reason.Priority)
	assert.Equal(t, core.RuleSameIPBurst, inc.Reason.RuleID)
	assert.Equal(t, core.IncidentStatusOpen, inc.Status)
	assert.True(t, inc.AutoCreated)

	g.Scores = []int{60, 50, 50}
	assert.Equal(t, core.PriorityP2, BuildIncident(g).Reason.Priority)
	g.Scores = []int{10, 20, 30}
	assert.Equal(t, core.PriorityP3, BuildIncident(g).Reason.Priority)
}
