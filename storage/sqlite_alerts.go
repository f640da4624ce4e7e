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

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	Status core.AlertStatus
	Limit  int
	Offset int
}

// SQLiteAlertStorage handles alert persistence
type SQLiteAlertStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteAlertStorage creates a new SQLite alert storage handler
func NewSQLiteAlertStorage(db *SQLite, logger *zap.SugaredLogger) *SQLiteAlertStorage {
	return &SQLiteAlertStorage{db: db, logger: logger}
}

const alertColumns = `id, timestamp, source, alert_type, severity, raw_log, risk_score, narrative, ai_used, status, created_at, updated_at`

// InsertAlert stores a new alert.
func (s *SQLiteAlertStorage) InsertAlert(ctx context.Context, alert *core.Alert) error {
	rawLog, err := json.Marshal(alert.RawLog)
	if err != nil {
		return fmt.Errorf("failed to encode raw log: %w", err)
	}

	var score sql.NullInt64
	if alert.RiskScore != nil {
		score = sql.NullInt64{Int64: int64(core.ClampScore(*alert.RiskScore)), Valid: true}
	}

	query := `INSERT INTO alerts (` + alertColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`
	res, err := s.db.WriteDB.ExecContext(ctx, query,
		alert.ID,
		formatTime(alert.Timestamp),
		alert.Source,
		alert.Type,
		string(alert.Severity),
		string(rawLog),
		score,
		nullString(alert.Narrative),
		boolToInt(alert.AIUsed),
		string(alert.Status),
		formatTime(alert.CreatedAt),
		formatTime(alert.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateAlert, alert.ID)
	}
	return nil
}

// GetAlert returns one alert
func (s *SQLiteAlertStorage) GetAlert(ctx context.Context, id string) (*core.Alert, error) {
	row := s.db.ReadDB.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert %s: %w", id, err)
	}
	return alert, nil
}

// GetAlertsByIDs returns the alerts that exist among ids, ordered by timestamp ascending.
func (s *SQLiteAlertStorage) GetAlertsByIDs(ctx context.Context, ids []string) ([]*core.Alert, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	in, args := inClause(ids)
	return s.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id IN (`+in+`) ORDER BY timestamp ASC, id ASC`, args...)
}

// ListAlertsByStatus returns alerts in any of statuses, ordered by timestamp ascending.
func (s *SQLiteAlertStorage) ListAlertsByStatus(ctx context.Context, statuses ...core.AlertStatus) ([]*core.Alert, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	in, args := inClause(statuses)
	return s.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts WHERE status IN (`+in+`) ORDER BY timestamp ASC, id ASC`, args...)
}

// ListAlerts returns alerts newest first.
func (s *SQLiteAlertStorage) ListAlerts(ctx context.Context, filter AlertFilter) ([]*core.Alert, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id ASC LIMIT ? OFFSET ?"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)
	return s.queryAlerts(ctx, query, args...)
}

// UpdateAlertAnalysis stores the risk score and narrative of an alert.
func (s *SQLiteAlertStorage) UpdateAlertAnalysis(ctx context.Context, id string, riskScore int, narrative string, aiUsed bool) error {
	res, err := s.db.WriteDB.ExecContext(ctx,
		`UPDATE alerts SET risk_score = ?, narrative = ?, ai_used = ?, updated_at = ? WHERE id = ?`,
		core.ClampScore(riskScore), nullString(narrative), boolToInt(aiUsed), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update alert %s: %w", id, err)
	}
	return requireRow(res, ErrAlertNotFound, id)
}

// UpdateAlertNarrative stores a regenerated narrative.
func (s *SQLiteAlertStorage) UpdateAlertNarrative(ctx context.Context, id, narrative string, aiUsed bool) error {
	res, err := s.db.WriteDB.ExecContext(ctx,
		`UPDATE alerts SET narrative = ?, ai_used = ?, updated_at = ? WHERE id = ?`,
		nullString(narrative), boolToInt(aiUsed), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update alert narrative %s: %w", id, err)
	}
	return requireRow(res, ErrAlertNotFound, id)
}

// UpdateAlertStatus moves an alert to status. from guards against lost
// updates: the row only changes if it is still in from.
func (s *SQLiteAlertStorage) UpdateAlertStatus(ctx context.Context, id string, from, to core.AlertStatus) error {
	res, err := s.db.WriteDB.ExecContext(ctx,
		`UPDATE alerts SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), formatTime(time.Now()), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update alert status %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetAlert(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: alert %s is no longer %s", core.ErrInvalidTransition, id, from)
	}
	return nil
}

func (s *SQLiteAlertStorage) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]*core.Alert, error) {
	rows, err := s.db.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*core.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return alerts, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*core.Alert, error) {
	var (
		alert                          core.Alert
		ts, rawLog, createdAt, updated string
		severity, status               string
		score                          sql.NullInt64
		narrative                      sql.NullString
		aiUsed                         int
	)
	if err := row.Scan(&alert.ID, &ts, &alert.Source, &alert.Type, &severity, &rawLog,
		&score, &narrative, &aiUsed, &status, &createdAt, &updated); err != nil {
		return nil, err
	}

	var err error
	if alert.Timestamp, err = parseTime(ts); err != nil {
		return nil, err
	}
	if alert.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if alert.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(rawLog), &alert.RawLog); err != nil {
		return nil, fmt.Errorf("invalid raw log for alert %s: %w", alert.ID, err)
	}
	if alert.RawLog == nil {
		alert.RawLog = map[string]interface{}{}
	}
	if score.Valid {
		v := int(score.Int64)
		alert.RiskScore = &v
	}
	alert.Severity = core.Severity(severity)
	alert.Status = core.AlertStatus(status)
	alert.Narrative = narrative.String
	alert.AIUsed = aiUsed == 1
	return &alert, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func requireRow(res sql.Result, notFound error, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return nil
}
