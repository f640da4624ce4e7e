package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeepCopyValue_Primitives(t *testing.T) {
	for _, v := range []interface{}{"s", 42, int64(7), 3.5, true, nil} {
		assert.Equal(t, v, deepCopyValue(v))
	}
}

func TestCopyRawLog_IsIndependent(t *testing.T) {
	original := map[string]interface{}{
		"source_ip": "203.0.113.5",
		"tags":      []interface{}{"vpn", map[string]interface{}{"k": "v"}},
		"nested":    map[string]interface{}{"user": "jdoe"},
	}

	copied := copyRawLog(original)
	require.Equal(t, original, copied)

	copied["nested"].(map[string]interface{})["user"] = "mallory"
	copied["tags"].([]interface{})[0] = "changed"

	assert.Equal(t, "jdoe", original["nested"].(map[string]interface{})["user"])
	assert.Equal(t, "vpn", original["tags"].([]interface{})[0])
}

func TestCopyRawLog_NilBecomesEmpty(t *testing.T) {
	got := copyRawLog(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
