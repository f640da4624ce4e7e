package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIncident(status IncidentStatus) *Incident {
	inc := NewCorrelatedIncident(SeverityHigh, IncidentReason{Summary: "test", RuleID: "same_ip_burst", Priority: PriorityP2})
	inc.Status = status
	return inc
}

func TestIncident_TransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    IncidentStatus
		to      IncidentStatus
		path    TransitionPath
		wantErr bool
	}{
		{"start investigation", IncidentStatusOpen, IncidentStatusInProgress, PathAnalyst, false},
		{"resolve after investigation", IncidentStatusInProgress, IncidentStatusResolved, PathAnalyst, false},
		{"analyst cannot skip investigation", IncidentStatusOpen, IncidentStatusResolved, PathAnalyst, true},
		{"automated resolve from open", IncidentStatusOpen, IncidentStatusResolved, PathAutomated, false},
		{"analyst cannot close", IncidentStatusResolved, IncidentStatusClosed, PathAnalyst, true},
		{"automated cannot close", IncidentStatusResolved, IncidentStatusClosed, PathAutomated, true},
		{"admin closes resolved", IncidentStatusResolved, IncidentStatusClosed, PathAdmin, false},
		{"admin cannot close open", IncidentStatusOpen, IncidentStatusClosed, PathAdmin, true},
		{"reverse in progress to open", IncidentStatusInProgress, IncidentStatusOpen, PathAdmin, true},
		{"reverse resolved to in progress", IncidentStatusResolved, IncidentStatusInProgress, PathAnalyst, true},
		{"closed is final", IncidentStatusClosed, IncidentStatusOpen, PathAdmin, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inc := newTestIncident(tt.from)
			err := inc.TransitionTo(tt.to, tt.path)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTransition))
				assert.Equal(t, tt.from, inc.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, inc.Status)
		})
	}
}

func TestIncident_ResolveStampsResolvedAt(t *testing.T) {
	inc := newTestIncident(IncidentStatusInProgress)
	require.Nil(t, inc.ResolvedAt)

	require.NoError(t, inc.TransitionTo(IncidentStatusResolved, PathAnalyst))
	require.NotNil(t, inc.ResolvedAt)
	assert.False(t, inc.ResolvedAt.IsZero())
}

func TestIncident_StartInvestigationLeavesResolvedAtNil(t *testing.T) {
	inc := newTestIncident(IncidentStatusOpen)
	require.NoError(t, inc.TransitionTo(IncidentStatusInProgress, PathAnalyst))
	assert.Nil(t, inc.ResolvedAt)
}

func TestPriorityForScores(t *testing.T) {
	assert.Equal(t, PriorityP1, PriorityForScores([]int{100, 95}))
	assert.Equal(t, PriorityP2, PriorityForScores([]int{90, 90}), "average of exactly 90 is not above 90")
	assert.Equal(t, PriorityP2, PriorityForScores([]int{51}))
	assert.Equal(t, PriorityP3, PriorityForScores([]int{50}))
	assert.Equal(t, PriorityP3, PriorityForScores(nil))
}

func TestIncidentReason_String(t *testing.T) {
	reason := IncidentReason{
		Summary:  "Burst of alerts from one source IP",
		Drivers:  []string{"Shared Source IP", "Multi-vector Alert Pattern"},
		RuleID:   "same_ip_burst",
		Priority: PriorityP2,
	}
	assert.Equal(t,
		"Burst of alerts from one source IP | Drivers: Shared Source IP, Multi-vector Alert Pattern | Rule: same_ip_burst | Priority: P2",
		reason.String())
	assert.True(t, reason.HasDriver("Shared Source IP"))
	assert.False(t, reason.HasDriver("Common Asset Target"))
}
