package storage

import "errors"

// Storage error constants
var (
	// ErrAlertNotFound is returned when an alert is not found
	ErrAlertNotFound = errors.New("alert not found")

	// ErrIncidentNotFound is returned when an incident is not found
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrDuplicateAlert is returned when an alert with the same ID already exists
	ErrDuplicateAlert = errors.New("alert already exists")

	// ErrStaleIncident is returned when an incident update lost a race with another update
	ErrStaleIncident = errors.New("incident was modified concurrently")
)
