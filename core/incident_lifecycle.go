package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrIncidentInactive is returned when an alert would join an incident that
	// is no longer Open or In Progress.
	ErrIncidentInactive = errors.New("incident is not accepting alerts")

	// ErrAlreadyCorrelated is returned when an alert of a new incident is
	// already mapped to another one.
	ErrAlreadyCorrelated = errors.New("alert already belongs to an incident")
)

// TransitionPath identifies who is driving an incident status change.
type TransitionPath string

const (
	// PathAnalyst is an interactive analyst action
	PathAnalyst TransitionPath = "analyst"
	// PathAutomated is a system-driven change that may resolve straight from Open
	PathAutomated TransitionPath = "automated"
	// PathAdmin is the administrative path, the only way to reach Closed
	PathAdmin TransitionPath = "admin"
)

var analystIncidentTransitions = map[IncidentStatus][]IncidentStatus{
	IncidentStatusOpen:       {IncidentStatusInProgress},
	IncidentStatusInProgress: {IncidentStatusResolved},
	IncidentStatusResolved:   {},
	IncidentStatusClosed:     {},
}

// extraIncidentTransitions are layered on the analyst set for the other paths.
var extraIncidentTransitions = map[TransitionPath]map[IncidentStatus][]IncidentStatus{
	PathAutomated: {IncidentStatusOpen: {IncidentStatusResolved}},
	PathAdmin:     {IncidentStatusResolved: {IncidentStatusClosed}},
}

// AllowedTransitions returns the statuses reachable from the current one on the given path.
func (i *Incident) AllowedTransitions(path TransitionPath) []IncidentStatus {
	allowed := append([]IncidentStatus{}, analystIncidentTransitions[i.Status]...)
	if extra, ok := extraIncidentTransitions[path]; ok {
		allowed = append(allowed, extra[i.Status]...)
	}
	return allowed
}

// CanTransitionTo checks if a transition is valid without applying it
func (i *Incident) CanTransitionTo(newStatus IncidentStatus, path TransitionPath) bool {
	for _, s := range i.AllowedTransitions(path) {
		if s == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo validates and applies an incident status change. Moving to
// Resolved stamps ResolvedAt.
func (i *Incident) TransitionTo(newStatus IncidentStatus, path TransitionPath) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid incident status: %q", newStatus)
	}
	if _, known := analystIncidentTransitions[i.Status]; !known {
		return fmt.Errorf("unknown current status: %s", i.Status)
	}
	if !i.CanTransitionTo(newStatus, path) {
		return fmt.Errorf("%w: %s → %s via %s path (allowed: %v)",
			ErrInvalidTransition, i.Status, newStatus, path, i.AllowedTransitions(path))
	}

	now := time.Now().UTC()
	i.Status = newStatus
	i.UpdatedAt = now
	if newStatus == IncidentStatusResolved {
		i.ResolvedAt = &now
	}
	return nil
}

// IsFinalState checks if the incident is in a terminal status
func (i *Incident) IsFinalState() bool {
	return i.Status == IncidentStatusClosed
}
