package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractEntities_FieldPrecedence(t *testing.T) {
	raw := map[string]interface{}{
		"ip_address": "10.0.0.9",
		"ip":         "198.51.100.9",
		"username":   "jdoe",
		"hostname":   "ws-114",
		"attempts":   "7",
	}

	e := ExtractEntities(raw)
	assert.Equal(t, "198.51.100.9", e.IP, "ip takes precedence over ip_address")
	assert.Equal(t, "jdoe", e.User)
	assert.Equal(t, "ws-114", e.Asset)
	assert.Equal(t, 7, e.FailedAttempts)
}

func TestExtractEntities_EmptyValuesFallThrough(t *testing.T) {
	raw := map[string]interface{}{
		"source_ip": "  ",
		"ip":        "203.0.113.5",
		"user":      nil,
		"account":   "svc-backup",
	}

	e := ExtractEntities(raw)
	assert.Equal(t, "203.0.113.5", e.IP)
	assert.Equal(t, "svc-backup", e.User)
	assert.False(t, e.HasAsset())
}

func TestExtractEntities_NilRawLog(t *testing.T) {
	e := ExtractEntities(nil)
	assert.False(t, e.Correlatable())
	assert.Equal(t, 0, e.FailedAttempts)
}

func TestFirstInt_NumericForms(t *testing.T) {
	assert.Equal(t, 10, FirstInt(map[string]interface{}{"failed_attempts": float64(10)}, AttemptsFields...))
	assert.Equal(t, 4, FirstInt(map[string]interface{}{"failed_attempts": json.Number("4")}, AttemptsFields...))
	assert.Equal(t, 0, FirstInt(map[string]interface{}{"failed_attempts": "many"}, AttemptsFields...))
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"172.32.0.1", false},
		{"192.168.1.20", true},
		{"203.0.113.5", false},
		{"not-an-ip", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.private, IsPrivateIP(tt.ip))
		})
	}
}
