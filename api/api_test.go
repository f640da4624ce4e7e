package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"vigil/config"
	"vigil/core"
	"vigil/correlate"
	"vigil/narrative"
	"vigil/risk"
	"vigil/service"
	"vigil/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.API.MaxBodyBytes = 4096
	return cfg
}

// setupTestAPI wires the real services over a temp database with
// template-only narration.
func setupTestAPI(t *testing.T, cfg *config.Config) *API {
	t.Helper()
	logger := zap.NewNop().Sugar()

	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "vigil.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := storage.NewStore(db, logger)
	gen := narrative.NewGenerator(nil, logger)
	engine := correlate.NewEngine(store, gen, nil, correlate.Config{AttachWindow: 24 * time.Hour}, logger)

	a := NewAPI(
		service.NewAlertService(store, gen, nil, logger),
		service.NewIncidentService(store, gen, logger),
		engine,
		db,
		cfg,
		logger,
	)
	t.Cleanup(func() { _ = a.Stop(t.Context()) })
	return a
}

func do(t *testing.T, a *API, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "analyst@example.com")
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

const bruteForceBody = `{
  "source": "vpn",
  "alert_type": "Brute Force Login",
  "severity": "High",
  "raw_log": {"source_ip": "203.0.113.5", "user": "jdoe", "failed_attempts": 12}
}`

func TestIngestAlert(t *testing.T) {
	a := setupTestAPI(t, testConfig())

	rr := do(t, a, http.MethodPost, "/api/v1/alerts", bruteForceBody)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	analysis := decode[service.AlertAnalysis](t, rr)
	assert.NotEmpty(t, analysis.Alert.ID)
	assert.Equal(t, 85, analysis.Metrics.RiskScore)
	assert.Equal(t, core.AlertStatusNew, analysis.Alert.Status)
	assert.Contains(t, analysis.Alert.Narrative, "## WHAT HAPPENED")
	assert.False(t, analysis.Alert.AIUsed)

	rr = do(t, a, http.MethodGet, "/api/v1/alerts/"+analysis.Alert.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[core.Alert](t, rr)
	require.NotNil(t, got.RiskScore)
	assert.Equal(t, 85, *got.RiskScore)

	rr = do(t, a, http.MethodGet, "/api/v1/alerts/"+analysis.Alert.ID+"/risk", "")
	require.Equal(t, http.StatusOK, rr.Code)
	m := decode[risk.RiskMetrics](t, rr)
	assert.True(t, m.ExternalIP)
	assert.Len(t, m.Guidance, 5)
}

func TestIngestAlert_Rejections(t *testing.T) {
	a := setupTestAPI(t, testConfig())

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing source", `{"alert_type": "x", "severity": "Low"}`, http.StatusBadRequest},
		{"unknown field", `{"source": "s", "alert_type": "x", "severity": "Low", "extra": 1}`, http.StatusBadRequest},
		{"wrong type", `{"source": "s", "alert_type": "x", "severity": 3}`, http.StatusBadRequest},
		{"raw log not an object", `{"source": "s", "alert_type": "x", "severity": "Low", "raw_log": "text"}`, http.StatusBadRequest},
		{"empty source", `{"source": "", "alert_type": "x", "severity": "Low"}`, http.StatusBadRequest},
		{"bad id", `{"id": "../etc", "source": "s", "alert_type": "x", "severity": "Low"}`, http.StatusBadRequest},
		{"not json", `not json`, http.StatusBadRequest},
		{"too large", fmt.Sprintf(`{"source": "s", "alert_type": "x", "severity": "Low", "raw_log": {"blob": %q}}`, strings.Repeat("a", 5000)), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, a, http.MethodPost, "/api/v1/alerts", tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestIngestAlert_UnknownSeverityDegrades(t *testing.T) {
	a := setupTestAPI(t, testConfig())

	rr := do(t, a, http.MethodPost, "/api/v1/alerts", `{"source": "s", "alert_type": "Odd Thing", "severity": "Severe"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	analysis := decode[service.AlertAnalysis](t, rr)
	assert.Equal(t, 25, analysis.Metrics.RiskScore)
}

func TestIngestAlert_DuplicateID(t *testing.T) {
	a := setupTestAPI(t, testConfig())
	body := `{"id": "edr-1", "source": "s", "alert_type": "x", "severity": "Low"}`

	require.Equal(t, http.StatusCreated, do(t, a, http.MethodPost, "/api/v1/alerts", body).Code)
	assert.Equal(t, http.StatusConflict, do(t, a, http.MethodPost, "/api/v1/alerts", body).Code)
}

func TestAlertLookups(t *testing.T) {
	a := setupTestAPI(t, testConfig())

	assert.Equal(t, http.StatusNotFound, do(t, a, http.MethodGet, "/api/v1/alerts/missing", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, a, http.MethodGet, "/api/v1/alerts/bad$id", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, a, http.MethodGet, "/api/v1/alerts?status=Bogus", "").Code)

	rr := do(t, a, http.MethodGet, "/api/v1/alerts", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestAlertNarrativeAndReview(t *testing.T) {
	a := setupTestAPI(t, testConfig())
	rr := do(t, a, http.MethodPost, "/api/v1/alerts", bruteForceBody)
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decode[service.AlertAnalysis](t, rr).Alert.ID

	rr = do(t, a, http.MethodGet, "/api/v1/alerts/"+id+"/narrative", "")
	require.Equal(t, http.StatusOK, rr.Code)
	res := decode[narrative.Result](t, rr)
	assert.Contains(t, res.Text, "## RISK SCORE")

	rr = do(t, a, http.MethodPost, "/api/v1/alerts/"+id+"/review", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, core.AlertStatusReviewed, decode[core.Alert](t, rr).Status)

	assert.Equal(t, http.StatusConflict, do(t, a, http.MethodPost, "/api/v1/alerts/"+id+"/review", "").Code)
}

func TestCorrelationAndIncidentLifecycle(t *testing.T) {
	a := setupTestAPI(t, testConfig())
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, do(t, a, http.MethodPost, "/api/v1/alerts", bruteForceBody).Code)
	}

	rr := do(t, a, http.MethodPost, "/api/v1/correlation/run", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	result := decode[correlate.RunResult](t, rr)
	assert.Equal(t, 1, result.IncidentsCreated)

	rr = do(t, a, http.MethodGet, "/api/v1/incidents?status=Open", "")
	require.Equal(t, http.StatusOK, rr.Code)
	incidents := decode[[]core.Incident](t, rr)
	require.Len(t, incidents, 1)
	inc := incidents[0]
	assert.Equal(t, core.RuleCredentialAttack, inc.Reason.RuleID)
	assert.Equal(t, core.PriorityP2, inc.Reason.Priority)
	assert.Equal(t, core.SeverityHigh, inc.Severity)

	base := "/api/v1/incidents/" + inc.ID

	rr = do(t, a, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rr.Code)
	detail := decode[service.IncidentDetail](t, rr)
	assert.Len(t, detail.Alerts, 3)
	for _, m := range detail.Alerts {
		assert.Equal(t, core.AlertStatusCorrelated, m.Status)
	}

	// Analysts cannot resolve straight from Open, and nothing closes before Resolved.
	assert.Equal(t, http.StatusConflict, do(t, a, http.MethodPost, base+"/resolve", "").Code)
	assert.Equal(t, http.StatusConflict, do(t, a, http.MethodPost, base+"/close", "").Code)

	rr = do(t, a, http.MethodPost, base+"/investigate", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, core.IncidentStatusInProgress, decode[core.Incident](t, rr).Status)

	rr = do(t, a, http.MethodPost, base+"/actions", `{"action": "block_ip", "metadata": {"ip": "203.0.113.5"}}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, http.StatusBadRequest, do(t, a, http.MethodPost, base+"/actions", `{"action": "resolve"}`).Code)

	rr = do(t, a, http.MethodPost, base+"/resolve", `{"note": "blocked at the edge"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resolved := decode[core.Incident](t, rr)
	assert.Equal(t, core.IncidentStatusResolved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)

	rr = do(t, a, http.MethodPost, base+"/close", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, core.IncidentStatusClosed, decode[core.Incident](t, rr).Status)

	rr = do(t, a, http.MethodGet, base+"/activity", "")
	require.Equal(t, http.StatusOK, rr.Code)
	activities := decode[[]core.IncidentActivity](t, rr)
	require.Len(t, activities, 4)
	assert.Equal(t, core.ActionStartInvestigation, activities[0].Action)
	assert.Equal(t, core.ActionBlockIP, activities[1].Action)
	assert.Equal(t, core.ActionResolve, activities[2].Action)
	assert.Equal(t, core.ActionClose, activities[3].Action)
	assert.Equal(t, "analyst@example.com", activities[0].Actor)

	rr = do(t, a, http.MethodGet, base+"/narrative", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, decode[narrative.Result](t, rr).Text, "## ATTACK PATTERN")

	// A second run finds nothing left to do.
	rr = do(t, a, http.MethodPost, "/api/v1/correlation/run", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, decode[correlate.RunResult](t, rr).IncidentsCreated)
}

func TestIncidentNotFound(t *testing.T) {
	a := setupTestAPI(t, testConfig())
	assert.Equal(t, http.StatusNotFound, do(t, a, http.MethodGet, "/api/v1/incidents/missing", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, a, http.MethodPost, "/api/v1/incidents/missing/investigate", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, a, http.MethodPost, "/api/v1/alerts/missing/correlate", "").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	a := setupTestAPI(t, testConfig())

	rr := do(t, a, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[map[string]interface{}](t, rr)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "database")

	rr = do(t, a, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "vigil_http_requests_total")
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.API.RateLimit.RequestsPerSecond = 1
	cfg.API.RateLimit.Burst = 1
	a := setupTestAPI(t, cfg)

	assert.Equal(t, http.StatusOK, do(t, a, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, a, http.MethodGet, "/health", "").Code)
}

func TestSanitizeErrorMessage(t *testing.T) {
	msg := sanitizeErrorMessage("open /var/lib/vigil/vigil.db failed: token=abc123 redis://user:pw@10.0.0.1:6379")
	assert.NotContains(t, msg, "/var/lib")
	assert.NotContains(t, msg, "abc123")
	assert.NotContains(t, msg, "user:pw")
	assert.Len(t, sanitizeErrorMessage(strings.Repeat("x", 1000)), maxErrorMessageLength)
	assert.True(t, utf8.ValidString(sanitizeErrorMessage(strings.Repeat("é", 400))))
}
