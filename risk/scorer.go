// Package risk computes deterministic risk metrics for alerts.
//
// Scoring is pure: no I/O, no shared mutable state, and no failure mode.
// Missing raw-log fields only reduce the available signal.
package risk

import (
	"vigil/core"
)

// Signal names attached to RiskMetrics.Flags.
const (
	FlagRepeatedActivity   = "Repeated Activity"
	FlagPrivilegedIdentity = "Privileged Identity"
	FlagExternalIP         = "External IP"
	FlagSensitiveAsset     = "Sensitive Asset"
)

const (
	weightRepeatedActivity = 20
	weightPrivileged       = 40
	weightExternalIP       = 15
	weightSensitiveAsset   = 25

	repeatedAttemptsThreshold = 5
)

var severityBase = map[core.Severity]int{
	core.SeverityCritical: 80,
	core.SeverityHigh:     50,
	core.SeverityMedium:   25,
	core.SeverityLow:      10,
}

const defaultBase = 25

// Criticality is the business criticality tier of the targeted asset.
type Criticality string

const (
	CriticalityCritical Criticality = "Critical"
	CriticalityHigh     Criticality = "High"
	CriticalityMedium   Criticality = "Medium"
	CriticalityLow      Criticality = "Low"
)

// Likelihood is a three-band estimate used for false-positive assessment.
type Likelihood string

const (
	LikelihoodLow    Likelihood = "Low"
	LikelihoodMedium Likelihood = "Medium"
	LikelihoodHigh   Likelihood = "High"
)

// Signal is one additive contribution to the risk score.
type Signal struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

// RiskMetrics is everything the scorer derives from a single alert.
type RiskMetrics struct {
	RiskScore int      `json:"risk_score"`
	BaseScore int      `json:"base_score"`
	Signals   []Signal `json:"signals"`
	Flags     []string `json:"flags"`

	AssetCriticality  Criticality `json:"asset_criticality"`
	CriticalityImpact string      `json:"criticality_impact"`

	ConfidenceScore int    `json:"confidence_score"`
	ConfidenceLevel string `json:"confidence_level"`

	FalsePositiveLikelihood Likelihood `json:"false_positive_likelihood"`
	FalsePositiveRationale  string     `json:"false_positive_rationale"`

	Entities       core.Entities `json:"entities"`
	Privileged     bool          `json:"privileged_identity"`
	ExternalIP     bool          `json:"external_ip"`
	SensitiveAsset bool          `json:"sensitive_asset"`

	GuidanceCategory string   `json:"guidance_category"`
	Guidance         []string `json:"guidance"`
}

// HasFlag reports whether the named signal fired.
func (m RiskMetrics) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

var (
	// "sa" only as a standalone token so that names like "samantha" are not privileged.
	privilegedUser = Keywords("privileged",
		`admin|root|system|superuser|service|(?:^|[^a-z0-9])sa(?:[^a-z0-9]|$)`)
	sensitiveAsset = Keywords("sensitive",
		`server|database|db|domain|prod|critical|firewall|gateway`)
)

type criticalityTier struct {
	Level  Criticality
	Impact string
}

var criticalityClassifier = MustClassifier(
	criticalityTier{CriticalityMedium, "Standard business asset; compromise affects individual productivity and may enable lateral movement."},
	Variant[criticalityTier]{
		Name:    "critical",
		Pattern: `database|(?:^|[^a-z])db(?:[^a-z]|$)|domain[-_ ]?controller|(?:^|[^a-z])dc\d*(?:[^a-z]|$)|prod[-_ ]?(?:server|srv)|active[-_ ]?directory`,
		Result:  criticalityTier{CriticalityCritical, "Crown-jewel asset; compromise can expose core data or identity infrastructure across the organization."},
	},
	Variant[criticalityTier]{
		Name:    "high",
		Pattern: `(?:web|app)[-_ ]?(?:server|srv)|mail|gateway|firewall|exchange`,
		Result:  criticalityTier{CriticalityHigh, "Internet-facing or perimeter service; compromise can disrupt business operations or open an entry point."},
	},
	Variant[criticalityTier]{
		Name:    "medium",
		Pattern: `workstation|laptop|desktop|endpoint`,
		Result:  criticalityTier{CriticalityMedium, "User endpoint; compromise affects individual productivity and may enable lateral movement."},
	},
	Variant[criticalityTier]{
		Name:    "low",
		Pattern: `test|(?:^|[^a-z])dev(?:[^a-z]|$)|development|staging|sandbox|(?:^|[^a-z])lab(?:[^a-z]|$)`,
		Result:  criticalityTier{CriticalityLow, "Non-production asset; limited direct business impact unless it shares credentials with production."},
	},
)

// Scorer computes RiskMetrics. The zero value is not usable; use NewScorer.
type Scorer struct {
	guidance *Classifier[guidanceCategory]
}

// NewScorer creates a scorer with the built-in classifiers.
func NewScorer() *Scorer {
	return &Scorer{guidance: guidanceClassifier}
}

// Score computes the risk metrics for an alert. It never fails.
func (s *Scorer) Score(alert *core.Alert) RiskMetrics {
	var raw map[string]interface{}
	severity := core.Severity("")
	alertType := ""
	if alert != nil {
		raw = alert.RawLog
		severity = core.ParseSeverity(string(alert.Severity))
		alertType = alert.Type
	}
	entities := core.ExtractEntities(raw)

	m := RiskMetrics{
		Entities:       entities,
		Privileged:     entities.HasUser() && privilegedUser.Matches(entities.User),
		ExternalIP:     entities.HasIP() && !core.IsPrivateIP(entities.IP),
		SensitiveAsset: entities.HasAsset() && sensitiveAsset.Matches(entities.Asset),
		Flags:          []string{},
		Signals:        []Signal{},
	}

	base, ok := severityBase[severity]
	if !ok {
		base = defaultBase
	}
	m.BaseScore = base
	score := base

	addSignal := func(fired bool, name string, weight int) {
		if !fired {
			return
		}
		score += weight
		m.Signals = append(m.Signals, Signal{Name: name, Weight: weight})
		m.Flags = append(m.Flags, name)
	}
	addSignal(entities.FailedAttempts > repeatedAttemptsThreshold, FlagRepeatedActivity, weightRepeatedActivity)
	addSignal(m.Privileged, FlagPrivilegedIdentity, weightPrivileged)
	addSignal(m.ExternalIP, FlagExternalIP, weightExternalIP)
	addSignal(m.SensitiveAsset, FlagSensitiveAsset, weightSensitiveAsset)
	m.RiskScore = core.ClampScore(score)

	tier := criticalityClassifier.Classify(entities.Asset).Result
	m.AssetCriticality = tier.Level
	m.CriticalityImpact = tier.Impact

	m.ConfidenceScore = confidence(len(raw) > 0, severity, entities, m)
	m.ConfidenceLevel = confidenceLevel(m.ConfidenceScore)

	m.FalsePositiveLikelihood, m.FalsePositiveRationale = falsePositive(m)

	category := s.guidance.Classify(alertType).Result
	m.GuidanceCategory = category.Name
	m.Guidance = append([]string(nil), category.Steps...)

	return m
}

func confidence(hasRaw bool, severity core.Severity, e core.Entities, m RiskMetrics) int {
	c := 0
	if hasRaw {
		c += 10
	}
	if e.HasIP() {
		c += 10
	}
	if e.HasUser() {
		c += 10
	}
	if severity == core.SeverityHigh || severity == core.SeverityCritical {
		c += 15
	} else {
		c += 5
	}
	switch {
	case e.FailedAttempts > 3:
		c += 15
	case e.FailedAttempts > 0:
		c += 8
	}
	if m.Privileged {
		c += 15
	}
	if m.ExternalIP {
		c += 10
	}
	if m.SensitiveAsset {
		c += 15
	}
	return core.ClampScore(c)
}

func confidenceLevel(score int) string {
	switch {
	case score >= 80:
		return "High"
	case score >= 50:
		return "Moderate"
	default:
		return "Low"
	}
}

const (
	rationaleFPLow    = "High risk score combined with privileged identity or repeated activity makes a benign explanation unlikely."
	rationaleFPHigh   = "Low risk score or missing identity context (no source IP and no user) gives little evidence of malicious activity."
	rationaleFPMedium = "Mixed signals; the alert warrants review but lacks corroborating indicators to rule out benign activity."
)

func falsePositive(m RiskMetrics) (Likelihood, string) {
	switch {
	case m.RiskScore >= 70 && (m.Privileged || m.Entities.FailedAttempts > repeatedAttemptsThreshold):
		return LikelihoodLow, rationaleFPLow
	case m.RiskScore < 30 || (!m.Entities.HasIP() && !m.Entities.HasUser()):
		return LikelihoodHigh, rationaleFPHigh
	default:
		return LikelihoodMedium, rationaleFPMedium
	}
}

var defaultScorer = NewScorer()

// ComputeRiskMetrics scores an alert with the package's default scorer.
func ComputeRiskMetrics(alert *core.Alert) RiskMetrics {
	return defaultScorer.Score(alert)
}
