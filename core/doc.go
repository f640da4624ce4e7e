// Package core defines the domain model for vigil.
//
// It holds the Alert and Incident aggregates, the join record that links them,
// the append-only incident activity log, and the lifecycle state machines that
// govern status changes. Raw-log entity extraction shared by the risk scorer and
// the correlation engine also lives here.
//
// Alert and Incident never embed each other. Membership is recorded only by
// AlertIncidentMap rows.
package core
