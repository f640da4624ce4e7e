package narrative

import (
	"fmt"
	"strings"
	"time"

	"vigil/core"
	"vigil/risk"
)

type alertTemplate struct {
	Why    string
	Action string
}

// alertTemplates are keyed by the risk package's guidance category.
var alertTemplates = map[string]alertTemplate{
	"authentication": {
		Why:    "Repeated or anomalous authentication activity is a common precursor to account takeover.",
		Action: "Confirm the login attempts with the account owner, block the source if unrecognized, and reset the credential.",
	},
	"phishing": {
		Why:    "Phishing is the most common initial-access vector and often leads to credential theft or malware delivery.",
		Action: "Quarantine the message, block its sender and links, and identify any recipients who interacted with it.",
	},
	"malware": {
		Why:    "Malware or command-and-control beaconing indicates a host may already be under attacker control.",
		Action: "Isolate the host, collect forensic artifacts, and block the command-and-control infrastructure.",
	},
	"exfiltration": {
		Why:    "Data leaving the environment can cause regulatory, financial and reputational damage.",
		Action: "Identify the data involved, block the destination, and suspend the account pending review.",
	},
	"privilege_escalation": {
		Why:    "Elevated privileges let an attacker disable defenses and reach sensitive systems.",
		Action: "Verify the privilege change was authorized and revoke it if not.",
	},
	"reconnaissance": {
		Why:    "Scanning maps exposed services and frequently precedes targeted exploitation.",
		Action: "Determine whether the scanner is authorized and block it at the perimeter if not.",
	},
	"unauthorized_access": {
		Why:    "Access outside an account's authorization may expose or alter protected data.",
		Action: "Confirm the account's authorization and revoke the access path if it was not approved.",
	},
	"generic": {
		Why:    "The activity deviates from expected behavior and needs triage to rule out malicious intent.",
		Action: "Review the raw evidence, identify the affected entities, and escalate if malicious activity is confirmed.",
	},
}

type incidentTemplate struct {
	Pattern        string
	Impact         string
	Containment    string
	Recommendation string
}

var incidentTemplates = map[core.RuleID]incidentTemplate{
	core.RuleCredentialAttack: {
		Pattern:        "High-severity credential attack (brute force or credential stuffing) against one or more accounts.",
		Impact:         "Successful credential compromise would grant the attacker legitimate access and may go unnoticed.",
		Containment:    "Block the attacking source addresses and lock or reset the targeted accounts.",
		Recommendation: "Enforce multi-factor authentication and review successful logins from the attacking sources.",
	},
	core.RuleSameIPBurst: {
		Pattern:        "A single source address triggered several different alerts within five minutes.",
		Impact:         "A concentrated multi-vector burst suggests active, hands-on probing of the environment.",
		Containment:    "Block the source address at the perimeter and monitor for the same activity from adjacent addresses.",
		Recommendation: "Review every alert in the burst for a successful step and check targeted hosts for compromise.",
	},
	core.RuleSameUserAuth: {
		Pattern:        "Repeated authentication-related alerts for the same identity.",
		Impact:         "The identity may be targeted or already compromised, putting everything it can access at risk.",
		Containment:    "Suspend active sessions for the identity and require a credential reset.",
		Recommendation: "Confirm recent activity with the account owner and review the identity's access for misuse.",
	},
	core.RuleSameAsset: {
		Pattern:        "Multiple alerts targeting the same asset.",
		Impact:         "Repeated activity against one asset raises the likelihood that it is being actively attacked or is compromised.",
		Containment:    "Restrict network access to the asset and increase logging on it.",
		Recommendation: "Assess the asset for compromise and patch or harden the exposed services.",
	},
	core.RulePhishingCampaign: {
		Pattern:        "Phishing activity reaching one or more users.",
		Impact:         "Recipients who engage may surrender credentials or execute malware.",
		Containment:    "Purge the messages from all mailboxes and block the sender infrastructure.",
		Recommendation: "Reset credentials for users who interacted and brief staff on the campaign.",
	},
	core.RuleRiskThreshold: {
		Pattern:        "High-risk alerts whose combined scores crossed the incident threshold.",
		Impact:         "Each alert carries significant risk; together they warrant coordinated response.",
		Containment:    "Contain the highest-risk entities first, starting with privileged identities and critical assets.",
		Recommendation: "Triage each member alert and look for shared infrastructure or timing between them.",
	},
}

var genericIncidentTemplate = incidentTemplate{
	Pattern:        "Related alerts grouped by correlation.",
	Impact:         "The grouped activity may represent a single coordinated threat.",
	Containment:    "Contain the affected identities and assets while the investigation proceeds.",
	Recommendation: "Review each member alert and confirm whether the activity is malicious.",
}

func alertFallbackProse(a *core.Alert, m risk.RiskMetrics) Narrative {
	tmpl, ok := alertTemplates[m.GuidanceCategory]
	if !ok {
		tmpl = alertTemplates["generic"]
	}

	var n Narrative
	n.Set(SectionWhatHappened, describeAlert(a, m))
	n.Set(SectionWhyItMatters, tmpl.Why+" "+m.CriticalityImpact)
	n.Set(SectionRecommendedAction, tmpl.Action)
	return n
}

func describeAlert(a *core.Alert, m risk.RiskMetrics) string {
	alertType := a.Type
	if alertType == "" {
		alertType = "security"
	}
	severity := string(a.Severity)
	if severity == "" {
		severity = "unspecified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "A %s severity %s alert", severity, alertType)
	if a.Source != "" {
		fmt.Fprintf(&b, " was reported by %s", a.Source)
	} else {
		b.WriteString(" was reported")
	}
	if !a.Timestamp.IsZero() {
		fmt.Fprintf(&b, " at %s", a.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	b.WriteString(".")

	var parts []string
	if m.Entities.HasUser() {
		parts = append(parts, "user "+m.Entities.User)
	}
	if m.Entities.HasIP() {
		parts = append(parts, "source "+m.Entities.IP)
	}
	if m.Entities.HasAsset() {
		parts = append(parts, "asset "+m.Entities.Asset)
	}
	if len(parts) > 0 {
		fmt.Fprintf(&b, " Involved: %s.", strings.Join(parts, ", "))
	}
	if m.Entities.FailedAttempts > 0 {
		fmt.Fprintf(&b, " %d failed attempts were recorded.", m.Entities.FailedAttempts)
	}
	return b.String()
}

func incidentFallbackProse(f IncidentFacts) Narrative {
	tmpl, ok := incidentTemplates[f.RuleID]
	if !ok {
		tmpl = genericIncidentTemplate
	}

	var n Narrative
	n.Set(SectionAttackPattern, tmpl.Pattern)
	n.Set(SectionObservedBehavior, describeIncident(f))
	n.Set(SectionBusinessImpact, tmpl.Impact+" "+f.Impact)
	n.Set(SectionContainment, tmpl.Containment)
	n.Set(SectionRecommendation, tmpl.Recommendation)
	return n
}

func describeIncident(f IncidentFacts) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d alert(s)", f.MemberCount)
	if len(f.AlertTypes) > 0 {
		fmt.Fprintf(&b, " of type %s", strings.Join(f.AlertTypes, ", "))
	}
	if !f.FirstSeen.IsZero() {
		span := f.LastSeen.Sub(f.FirstSeen).Round(time.Second)
		fmt.Fprintf(&b, " observed between %s and %s (span %s)",
			f.FirstSeen.UTC().Format("2006-01-02 15:04:05"), f.LastSeen.UTC().Format("2006-01-02 15:04:05 UTC"), span)
	}
	b.WriteString(".")
	if len(f.IPs) > 0 {
		fmt.Fprintf(&b, " Source addresses: %s.", strings.Join(f.IPs, ", "))
	}
	if len(f.Users) > 0 {
		fmt.Fprintf(&b, " Identities: %s.", strings.Join(f.Users, ", "))
	}
	if len(f.Assets) > 0 {
		fmt.Fprintf(&b, " Assets: %s.", strings.Join(f.Assets, ", "))
	}
	if len(f.Drivers) > 0 {
		fmt.Fprintf(&b, " Correlation drivers: %s.", strings.Join(f.Drivers, ", "))
	}
	return b.String()
}

// alertScoreSections renders the score-derived sections. They are always
// computed locally and overwrite anything a provider returned.
func alertScoreSections(n *Narrative, m risk.RiskMetrics) {
	signals := make([]string, 0, len(m.Signals))
	for _, s := range m.Signals {
		signals = append(signals, fmt.Sprintf("%s +%d", s.Name, s.Weight))
	}
	score := fmt.Sprintf("%d/100 (base %d", m.RiskScore, m.BaseScore)
	if len(signals) > 0 {
		score += "; " + strings.Join(signals, ", ")
	}
	score += ")"

	n.Set(SectionRiskScore, score)
	n.Set(SectionConfidence, fmt.Sprintf("%d/100 (%s)", m.ConfidenceScore, m.ConfidenceLevel))
	n.Set(SectionFalsePositive, fmt.Sprintf("%s: %s", m.FalsePositiveLikelihood, m.FalsePositiveRationale))
	n.Set(SectionAssetCriticality, fmt.Sprintf("%s: %s", m.AssetCriticality, m.CriticalityImpact))

	steps := make([]string, 0, len(m.Guidance))
	for i, step := range m.Guidance {
		steps = append(steps, fmt.Sprintf("%d. %s", i+1, step))
	}
	n.Set(SectionAnalystGuidance, strings.Join(steps, "\n"))
}

func incidentScoreSections(n *Narrative, f IncidentFacts) {
	n.Set(SectionPriorityLevel, fmt.Sprintf("%s: average member risk %d/100 across %d alert(s), incident severity %s.",
		f.Priority, f.AverageRisk, f.MemberCount, f.Severity))
	n.Set(SectionRiskScore, fmt.Sprintf("average %d/100, maximum %d/100", f.AverageRisk, f.MaxRisk))
	n.Set(SectionAssetCriticality, fmt.Sprintf("%s: %s", f.Criticality, f.Impact))
}
