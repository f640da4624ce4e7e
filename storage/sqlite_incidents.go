package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"vigil/core"

	"go.uber.org/zap"
)

// IncidentFilter narrows ListIncidents.
type IncidentFilter struct {
	Status core.IncidentStatus
	Limit  int
	Offset int
}

// SQLiteIncidentStorage handles incidents, the alert/incident map and the
// incident activity log.
type SQLiteIncidentStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteIncidentStorage creates a new SQLite incident storage handler
func NewSQLiteIncidentStorage(db *SQLite, logger *zap.SugaredLogger) *SQLiteIncidentStorage {
	return &SQLiteIncidentStorage{db: db, logger: logger}
}

const incidentColumns = `id, severity, status, reason, narrative, narrative_ai_used, auto_created, created_at, updated_at, resolved_at`

// GetIncident returns one incident
func (s *SQLiteIncidentStorage) GetIncident(ctx context.Context, id string) (*core.Incident, error) {
	row := s.db.ReadDB.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrIncidentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident %s: %w", id, err)
	}
	return inc, nil
}

// ListIncidentsByStatus returns incidents in any of statuses, oldest first.
func (s *SQLiteIncidentStorage) ListIncidentsByStatus(ctx context.Context, statuses ...core.IncidentStatus) ([]*core.Incident, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	in, args := inClause(statuses)
	return s.queryIncidents(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE status IN (`+in+`) ORDER BY created_at ASC, id ASC`, args...)
}

// ListIncidents returns incidents newest first.
func (s *SQLiteIncidentStorage) ListIncidents(ctx context.Context, filter IncidentFilter) ([]*core.Incident, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + incidentColumns + ` FROM incidents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)
	return s.queryIncidents(ctx, query, args...)
}

// ListMappingsByIncident returns the alert mappings of an incident.
func (s *SQLiteIncidentStorage) ListMappingsByIncident(ctx context.Context, incidentID string) ([]core.AlertIncidentMap, error) {
	return s.queryMappings(ctx, `SELECT alert_id, incident_id, created_at FROM alert_incident_map
		WHERE incident_id = ? ORDER BY created_at ASC, alert_id ASC`, incidentID)
}

// ListMappingsByAlert returns the incidents an alert is mapped to.
func (s *SQLiteIncidentStorage) ListMappingsByAlert(ctx context.Context, alertID string) ([]core.AlertIncidentMap, error) {
	return s.queryMappings(ctx, `SELECT alert_id, incident_id, created_at FROM alert_incident_map
		WHERE alert_id = ? ORDER BY created_at ASC, incident_id ASC`, alertID)
}

// MappedAlertIDs returns the subset of ids present in the alert/incident map.
// It reads through the write pool, so the check is serialized with mapping writes.
func (s *SQLiteIncidentStorage) MappedAlertIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	mapped := make(map[string]bool)
	if len(ids) == 0 {
		return mapped, nil
	}
	in, args := inClause(ids)
	rows, err := s.db.WriteDB.QueryContext(ctx, `SELECT DISTINCT alert_id FROM alert_incident_map WHERE alert_id IN (`+in+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert mappings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan alert mapping: %w", err)
		}
		mapped[id] = true
	}
	return mapped, rows.Err()
}

// AttachAlert maps an alert to an existing incident, marks it Correlated and
// raises the incident severity to the alert's when it is higher. The incident
// must still be Open or In Progress at commit time, otherwise
// core.ErrIncidentInactive is returned. A mapping that already exists is not an
// error; false is returned.
func (s *SQLiteIncidentStorage) AttachAlert(ctx context.Context, alertID, incidentID string, severity core.Severity) (bool, error) {
	attached := false
	err := s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		var status, current string
		err := tx.QueryRowContext(ctx, `SELECT status, severity FROM incidents WHERE id = ?`, incidentID).Scan(&status, &current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrIncidentNotFound, incidentID)
		}
		if err != nil {
			return fmt.Errorf("failed to read incident %s: %w", incidentID, err)
		}
		if !core.IncidentStatus(status).IsActive() {
			return fmt.Errorf("%w: %s is %s", core.ErrIncidentInactive, incidentID, status)
		}

		now := formatTime(time.Now())
		inserted, err := insertMapping(ctx, tx, alertID, incidentID, now)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		if err := markCorrelated(ctx, tx, alertID, now); err != nil {
			return err
		}
		raised := core.MaxSeverity(core.Severity(current), severity)
		if _, err := tx.ExecContext(ctx, `UPDATE incidents SET severity = ?, updated_at = ? WHERE id = ?`,
			string(raised), now, incidentID); err != nil {
			return fmt.Errorf("failed to update incident %s: %w", incidentID, err)
		}
		attached = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to attach alert %s to incident %s: %w", alertID, incidentID, err)
	}
	return attached, nil
}

// CreateCorrelatedIncident inserts the incident, maps every alert to it and
// marks them Correlated, all in one transaction. If any alert is already
// mapped when the transaction runs, nothing is written and
// core.ErrAlreadyCorrelated is returned.
func (s *SQLiteIncidentStorage) CreateCorrelatedIncident(ctx context.Context, incident *core.Incident, alertIDs []string) error {
	reason, err := json.Marshal(incident.Reason)
	if err != nil {
		return fmt.Errorf("failed to encode incident reason: %w", err)
	}

	err = s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if len(alertIDs) > 0 {
			in, args := inClause(alertIDs)
			var taken string
			err := tx.QueryRowContext(ctx, `SELECT alert_id FROM alert_incident_map WHERE alert_id IN (`+in+`) LIMIT 1`, args...).Scan(&taken)
			if err == nil {
				return fmt.Errorf("%w: %s", core.ErrAlreadyCorrelated, taken)
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("failed to check alert mappings: %w", err)
			}
		}

		_, err := tx.ExecContext(ctx, `INSERT INTO incidents (`+incidentColumns+`, rule_id, priority)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			incident.ID,
			string(incident.Severity),
			string(incident.Status),
			string(reason),
			nullString(incident.Narrative),
			boolToInt(incident.NarrativeAIUsed),
			boolToInt(incident.AutoCreated),
			formatTime(incident.CreatedAt),
			formatTime(incident.UpdatedAt),
			formatNullTime(incident.ResolvedAt),
			string(incident.Reason.RuleID),
			string(incident.Reason.Priority),
		)
		if err != nil {
			return fmt.Errorf("failed to insert incident: %w", err)
		}

		now := formatTime(time.Now())
		for _, id := range alertIDs {
			if _, err := insertMapping(ctx, tx, id, incident.ID, now); err != nil {
				return err
			}
			if err := markCorrelated(ctx, tx, id, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create incident %s: %w", incident.ID, err)
	}
	return nil
}

// insertMapping reports whether a new row was written; a duplicate pair is a no-op.
func insertMapping(ctx context.Context, tx *sql.Tx, alertID, incidentID, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO alert_incident_map (alert_id, incident_id, created_at)
		VALUES (?, ?, ?) ON CONFLICT(alert_id, incident_id) DO NOTHING`, alertID, incidentID, now)
	if err != nil {
		return false, fmt.Errorf("failed to map alert %s: %w", alertID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func markCorrelated(ctx context.Context, tx *sql.Tx, alertID, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE alerts SET status = ?, updated_at = ? WHERE id = ? AND status != ?`,
		string(core.AlertStatusCorrelated), now, alertID, string(core.AlertStatusCorrelated))
	if err != nil {
		return fmt.Errorf("failed to mark alert %s correlated: %w", alertID, err)
	}
	return nil
}

// UpdateIncident persists a lifecycle change. The row is only written if it
// is still in status from; the optional activity entry is appended in the
// same transaction.
func (s *SQLiteIncidentStorage) UpdateIncident(ctx context.Context, incident *core.Incident, from core.IncidentStatus, activity *core.IncidentActivity) error {
	return s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE incidents
			SET status = ?, narrative = ?, narrative_ai_used = ?, resolved_at = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			string(incident.Status),
			nullString(incident.Narrative),
			boolToInt(incident.NarrativeAIUsed),
			formatNullTime(incident.ResolvedAt),
			formatTime(incident.UpdatedAt),
			incident.ID,
			string(from),
		)
		if err != nil {
			return fmt.Errorf("failed to update incident %s: %w", incident.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM incidents WHERE id = ?`, incident.ID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrIncidentNotFound, incident.ID)
			}
			return fmt.Errorf("%w: %s", ErrStaleIncident, incident.ID)
		}
		if activity != nil {
			return insertActivity(ctx, tx, activity)
		}
		return nil
	})
}

// UpdateIncidentNarrative stores a generated narrative without touching status.
func (s *SQLiteIncidentStorage) UpdateIncidentNarrative(ctx context.Context, id, narrative string, aiUsed bool) error {
	res, err := s.db.WriteDB.ExecContext(ctx,
		`UPDATE incidents SET narrative = ?, narrative_ai_used = ?, updated_at = ? WHERE id = ?`,
		nullString(narrative), boolToInt(aiUsed), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update incident narrative %s: %w", id, err)
	}
	return requireRow(res, ErrIncidentNotFound, id)
}

// InsertActivity appends an activity entry.
func (s *SQLiteIncidentStorage) InsertActivity(ctx context.Context, activity *core.IncidentActivity) error {
	return s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		return insertActivity(ctx, tx, activity)
	})
}

func insertActivity(ctx context.Context, tx *sql.Tx, a *core.IncidentActivity) error {
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode activity metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO incident_activity (id, incident_id, actor, action, label, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.IncidentID, a.Actor, string(a.Action), a.Label, string(metadata), formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert activity for incident %s: %w", a.IncidentID, err)
	}
	return nil
}

// ListActivities returns an incident's activity log, oldest first.
func (s *SQLiteIncidentStorage) ListActivities(ctx context.Context, incidentID string) ([]*core.IncidentActivity, error) {
	rows, err := s.db.ReadDB.QueryContext(ctx, `SELECT id, incident_id, actor, action, label, metadata, created_at
		FROM incident_activity WHERE incident_id = ? ORDER BY created_at ASC, id ASC`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	var out []*core.IncidentActivity
	for rows.Next() {
		var (
			a                   core.IncidentActivity
			action, metadata, c string
		)
		if err := rows.Scan(&a.ID, &a.IncidentID, &a.Actor, &action, &a.Label, &metadata, &c); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.Action = core.ActivityAction(action)
		if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
			return nil, fmt.Errorf("invalid metadata for activity %s: %w", a.ID, err)
		}
		if a.CreatedAt, err = parseTime(c); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activities: %w", err)
	}
	return out, nil
}

func (s *SQLiteIncidentStorage) queryIncidents(ctx context.Context, query string, args ...interface{}) ([]*core.Incident, error) {
	rows, err := s.db.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	var out []*core.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate incidents: %w", err)
	}
	return out, nil
}

func (s *SQLiteIncidentStorage) queryMappings(ctx context.Context, query string, args ...interface{}) ([]core.AlertIncidentMap, error) {
	rows, err := s.db.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	defer rows.Close()

	var out []core.AlertIncidentMap
	for rows.Next() {
		var (
			m       core.AlertIncidentMap
			created string
		)
		if err := rows.Scan(&m.AlertID, &m.IncidentID, &created); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		if m.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mappings: %w", err)
	}
	return out, nil
}

func scanIncident(row rowScanner) (*core.Incident, error) {
	var (
		inc                      core.Incident
		severity, status, reason string
		narrative, resolved      sql.NullString
		aiUsed, auto             int
		created, updated         string
	)
	if err := row.Scan(&inc.ID, &severity, &status, &reason, &narrative, &aiUsed, &auto,
		&created, &updated, &resolved); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(reason), &inc.Reason); err != nil {
		return nil, fmt.Errorf("invalid reason for incident %s: %w", inc.ID, err)
	}

	var err error
	if inc.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if inc.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if inc.ResolvedAt, err = parseNullTime(resolved); err != nil {
		return nil, err
	}
	inc.Severity = core.Severity(severity)
	inc.Status = core.IncidentStatus(status)
	inc.Narrative = narrative.String
	inc.NarrativeAIUsed = aiUsed == 1
	inc.AutoCreated = auto == 1
	return &inc, nil
}
