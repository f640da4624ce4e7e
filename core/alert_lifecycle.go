package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned for any state change the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid transition")

// alertTransitions defines allowed triage transitions. Status only moves forward.
var alertTransitions = map[AlertStatus][]AlertStatus{
	AlertStatusNew:        {AlertStatusReviewed, AlertStatusCorrelated},
	AlertStatusReviewed:   {AlertStatusCorrelated},
	AlertStatusCorrelated: {}, // Final state
}

// TransitionTo validates and applies an alert status change.
func (a *Alert) TransitionTo(newStatus AlertStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid alert status: %q", newStatus)
	}

	allowed, exists := alertTransitions[a.Status]
	if !exists {
		return fmt.Errorf("unknown current status: %s", a.Status)
	}
	if !containsAlertStatus(allowed, newStatus) {
		return fmt.Errorf("%w: %s → %s (allowed: %v)", ErrInvalidTransition, a.Status, newStatus, allowed)
	}

	a.Status = newStatus
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// CanTransitionTo checks if a transition is valid without applying it
func (a *Alert) CanTransitionTo(newStatus AlertStatus) bool {
	return containsAlertStatus(alertTransitions[a.Status], newStatus)
}

// IsTriaged reports whether the alert has left the correlation pool.
func (a *Alert) IsTriaged() bool {
	return a.Status == AlertStatusCorrelated
}

func containsAlertStatus(list []AlertStatus, s AlertStatus) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}
