package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAlert(t *testing.T) {
	alert := NewAlert("203.0.113.7", AlertAutoBlacklist, AlertLevelCritical, 80, "origin blacklisted")

	assert.NotEmpty(t, alert.ID)
	assert.Equal(t, "203.0.113.7", alert.Origin)
	assert.Equal(t, AlertAutoBlacklist, alert.Kind)
	assert.Equal(t, AlertLevelCritical, alert.Level)
	assert.Equal(t, 80, alert.RiskScore)
	assert.NotNil(t, alert.Metadata)
	assert.False(t, alert.Operational())
}

func TestAlertRiskScoreClamping(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{-5, 0},
		{0, 0},
		{55, 55},
		{100, 100},
		{250, 100},
	}

	for _, tc := range tests {
		alert := NewAlert("", AlertHighRisk, AlertLevelWarning, tc.input, "")
		assert.Equal(t, tc.expected, alert.RiskScore)
	}
}

func TestAlertToJSON(t *testing.T) {
	alert := NewAlert("", AlertAnalysisFailure, AlertLevelWarning, 0, "analysis timed out").
		WithMetadata("url", "https://example.com")

	data, err := alert.ToJSON()
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &parsed))

	assert.Equal(t, "ANALYSIS_FAILURE", parsed["kind"])
	assert.Equal(t, "WARNING", parsed["level"])
	assert.NotContains(t, parsed, "origin")
	meta := parsed["metadata"].(map[string]interface{})
	assert.Equal(t, "https://example.com", meta["url"])
	assert.True(t, alert.Operational())
}

func TestAlertIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewAlert("", AlertRateLimit, AlertLevelInfo, 0, "").ID
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
