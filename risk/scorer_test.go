package risk

import (
	"testing"

	"vigil/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alertWith(severity core.Severity, alertType string, raw map[string]interface{}) *core.Alert {
	a := core.NewAlert("test", alertType, severity, raw)
	return a
}

func TestScore_AllSignalsClampTo100(t *testing.T) {
	a := alertWith(core.SeverityCritical, "Brute Force Login", map[string]interface{}{
		"failed_attempts": 10,
		"user":            "admin",
		"source_ip":       "203.0.113.5",
		"asset":           "prod-db-01",
	})

	m := NewScorer().Score(a)

	assert.Equal(t, 80, m.BaseScore)
	assert.Equal(t, 100, m.RiskScore, "80+20+40+15+25 clamps to 100")
	assert.Equal(t, CriticalityCritical, m.AssetCriticality)
	assert.Equal(t, LikelihoodLow, m.FalsePositiveLikelihood)
	assert.Equal(t, []string{FlagRepeatedActivity, FlagPrivilegedIdentity, FlagExternalIP, FlagSensitiveAsset}, m.Flags)
	assert.Equal(t, 100, m.ConfidenceScore)
	assert.Equal(t, "High", m.ConfidenceLevel)
	assert.Equal(t, "authentication", m.GuidanceCategory)
	assert.Len(t, m.Guidance, 5)
}

func TestScore_LowSeverityNoContext(t *testing.T) {
	a := alertWith(core.SeverityLow, "Informational", nil)

	m := NewScorer().Score(a)

	assert.Equal(t, 10, m.RiskScore)
	assert.LessOrEqual(t, m.ConfidenceScore, 20)
	assert.Equal(t, "Low", m.ConfidenceLevel)
	assert.Equal(t, LikelihoodHigh, m.FalsePositiveLikelihood)
	assert.Equal(t, CriticalityMedium, m.AssetCriticality, "no asset defaults to Medium")
	assert.Empty(t, m.Flags)
	assert.Equal(t, "generic", m.GuidanceCategory)
}

func TestScore_PrivateIPNeverExternal(t *testing.T) {
	for _, ip := range []string{"10.1.2.3", "172.20.4.4", "192.168.0.10"} {
		t.Run(ip, func(t *testing.T) {
			a := alertWith(core.SeverityCritical, "Malware Beaconing", map[string]interface{}{
				"source_ip":       ip,
				"user":            "root",
				"failed_attempts": 12,
				"asset":           "gateway-1",
			})
			m := NewScorer().Score(a)
			assert.False(t, m.ExternalIP)
			assert.False(t, m.HasFlag(FlagExternalIP))
			for _, s := range m.Signals {
				assert.NotEqual(t, FlagExternalIP, s.Name)
			}
		})
	}
}

func TestScore_UnknownSeverityUsesMediumWeight(t *testing.T) {
	a := alertWith(core.Severity("Urgent"), "Unknown", nil)
	m := NewScorer().Score(a)
	assert.Equal(t, 25, m.RiskScore)
}

func TestScore_NilAlertDoesNotPanic(t *testing.T) {
	m := NewScorer().Score(nil)
	assert.Equal(t, 25, m.RiskScore)
	assert.Equal(t, LikelihoodHigh, m.FalsePositiveLikelihood)
}

func TestScore_SignalsIndividually(t *testing.T) {
	tests := []struct {
		name  string
		raw   map[string]interface{}
		score int
		flag  string
	}{
		{"five attempts is not repeated", map[string]interface{}{"failed_attempts": 5}, 25, ""},
		{"six attempts is repeated", map[string]interface{}{"failed_attempts": 6}, 45, FlagRepeatedActivity},
		{"privileged superuser", map[string]interface{}{"user": "SuperUser"}, 65, FlagPrivilegedIdentity},
		{"sa account", map[string]interface{}{"user": "sa"}, 65, FlagPrivilegedIdentity},
		{"samantha is not sa", map[string]interface{}{"user": "samantha"}, 25, ""},
		{"external ip", map[string]interface{}{"ip": "8.8.8.8"}, 40, FlagExternalIP},
		{"sensitive firewall", map[string]interface{}{"host": "edge-firewall"}, 50, FlagSensitiveAsset},
		{"plain laptop", map[string]interface{}{"host": "laptop-22"}, 25, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewScorer().Score(alertWith(core.SeverityMedium, "Anomaly", tt.raw))
			assert.Equal(t, tt.score, m.RiskScore)
			if tt.flag == "" {
				assert.Empty(t, m.Flags)
			} else {
				assert.Equal(t, []string{tt.flag}, m.Flags)
			}
		})
	}
}

func TestScore_BoundsHoldForAnyInput(t *testing.T) {
	severities := []core.Severity{core.SeverityLow, core.SeverityMedium, core.SeverityHigh, core.SeverityCritical, "x"}
	raws := []map[string]interface{}{
		nil,
		{"failed_attempts": -50},
		{"failed_attempts": 1 << 30, "user": "administrator", "ip": "1.1.1.1", "asset": "critical-db-server"},
		{"user": "", "ip": "", "asset": ""},
	}
	scorer := NewScorer()
	for _, sev := range severities {
		for _, raw := range raws {
			m := scorer.Score(alertWith(sev, "Credential Stuffing", raw))
			require.GreaterOrEqual(t, m.RiskScore, 0)
			require.LessOrEqual(t, m.RiskScore, 100)
			require.GreaterOrEqual(t, m.ConfidenceScore, 0)
			require.LessOrEqual(t, m.ConfidenceScore, 100)
		}
	}
}

func TestScore_FalsePositiveMedium(t *testing.T) {
	// 50 + 15 external = 65: not high enough for Low, not low enough for High.
	a := alertWith(core.SeverityHigh, "Suspicious Access", map[string]interface{}{"ip": "198.51.100.7"})
	m := NewScorer().Score(a)
	assert.Equal(t, 65, m.RiskScore)
	assert.Equal(t, LikelihoodMedium, m.FalsePositiveLikelihood)
	assert.NotEmpty(t, m.FalsePositiveRationale)
}

func TestScore_NoIdentityIsHighFalsePositive(t *testing.T) {
	a := alertWith(core.SeverityCritical, "Malware", map[string]interface{}{"asset": "prod-server-1"})
	m := NewScorer().Score(a)
	assert.Equal(t, 100, m.RiskScore)
	assert.Equal(t, LikelihoodHigh, m.FalsePositiveLikelihood)
}

func TestComputeRiskMetricsMatchesScorer(t *testing.T) {
	a := alertWith(core.SeverityHigh, "Phishing Email", map[string]interface{}{"user": "jdoe"})
	assert.Equal(t, NewScorer().Score(a), ComputeRiskMetrics(a))
}
