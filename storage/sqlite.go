package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vigil/metrics"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the database connections. Reads and writes use separate pools
// so WAL readers never queue behind the single writer.
type SQLite struct {
	WriteDB *sql.DB // MaxOpenConns=1, the WAL single writer
	ReadDB  *sql.DB // query_only, concurrent readers
	Path    string
	Logger  *zap.SugaredLogger

	prevWriteWaitCount int64
	prevReadWaitCount  int64
}

// Pragmas are applied through the DSN so that every pooled connection gets
// them, not only the first one. Write transactions begin IMMEDIATE so a
// check-then-insert holds the write lock from its first read, across processes.
const (
	writePragmas = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	readPragmas  = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=query_only(1)"
)

// verifyConnection checks that the pragmas took effect on a pool
func verifyConnection(db *sql.DB, logger *zap.SugaredLogger, poolType string, wantWAL bool) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		return fmt.Errorf("failed to verify foreign keys: %w", err)
	}
	if fkEnabled != 1 {
		return fmt.Errorf("foreign keys not enabled on %s pool (got %d)", poolType, fkEnabled)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	if wantWAL && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled on %s pool (got %s)", poolType, journalMode)
	}

	logger.Debugw("SQLite pool verified", "pool", poolType, "journal_mode", journalMode)
	return nil
}

// NewSQLite opens (creating if needed) the database at dbPath and ensures the schema.
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	if err := validateDatabasePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	writeDB, err := sql.Open("sqlite", dbPath+"?"+writePragmas)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite write database: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)
	writeDB.SetConnMaxIdleTime(10 * time.Minute)
	if err := verifyConnection(writeDB, logger, "write", true); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to configure write connection: %w", err)
	}

	readDB, err := sql.Open("sqlite", dbPath+"?"+readPragmas)
	if err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to open SQLite read database: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	readDB.SetConnMaxIdleTime(10 * time.Minute)
	if err := verifyConnection(readDB, logger, "read", true); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to configure read connection: %w", err)
	}

	s := &SQLite{
		WriteDB: writeDB,
		ReadDB:  readDB,
		Path:    dbPath,
		Logger:  logger,
	}

	if err := s.createTables(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Infow("SQLite database initialized", "path", dbPath)
	return s, nil
}

// WithTransaction runs fn in a write transaction, rolling back on error or panic.
func (s *SQLite) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.WriteDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback transaction (original error: %w, rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		alert_type TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL,
		raw_log TEXT NOT NULL DEFAULT '{}', -- JSON object
		risk_score INTEGER CHECK (risk_score IS NULL OR (risk_score >= 0 AND risk_score <= 100)),
		narrative TEXT,
		ai_used INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'New',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_status_timestamp ON alerts(status, timestamp);
	CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp DESC);

	CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		severity TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'Open',
		reason TEXT NOT NULL, -- JSON: summary, drivers, rule_id, priority
		rule_id TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL DEFAULT '',
		narrative TEXT,
		narrative_ai_used INTEGER NOT NULL DEFAULT 0,
		auto_created INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		resolved_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status, created_at);

	CREATE TABLE IF NOT EXISTS alert_incident_map (
		alert_id TEXT NOT NULL,
		incident_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (alert_id, incident_id),
		FOREIGN KEY (alert_id) REFERENCES alerts(id),
		FOREIGN KEY (incident_id) REFERENCES incidents(id)
	);
	CREATE INDEX IF NOT EXISTS idx_alert_incident_map_incident ON alert_incident_map(incident_id);

	CREATE TABLE IF NOT EXISTS incident_activity (
		id TEXT PRIMARY KEY,
		incident_id TEXT NOT NULL,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}', -- JSON object
		created_at TEXT NOT NULL,
		FOREIGN KEY (incident_id) REFERENCES incidents(id)
	);
	CREATE INDEX IF NOT EXISTS idx_incident_activity_incident ON incident_activity(incident_id, created_at);
	`
	if _, err := s.WriteDB.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes both connection pools
func (s *SQLite) Close() error {
	var writeErr, readErr error
	if s.WriteDB != nil {
		writeErr = s.WriteDB.Close()
	}
	if s.ReadDB != nil {
		readErr = s.ReadDB.Close()
	}
	if writeErr != nil {
		return fmt.Errorf("failed to close write pool: %w", writeErr)
	}
	if readErr != nil {
		return fmt.Errorf("failed to close read pool: %w", readErr)
	}
	return nil
}

// HealthCheck verifies the database connection is alive
func (s *SQLite) HealthCheck(ctx context.Context) error {
	return s.WriteDB.PingContext(ctx)
}

// PoolStats is a snapshot of one connection pool.
type PoolStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}

// ConnectionPoolStats holds both pools' statistics.
type ConnectionPoolStats struct {
	WritePool PoolStats `json:"write_pool"`
	ReadPool  PoolStats `json:"read_pool"`
}

func poolStats(st sql.DBStats) PoolStats {
	return PoolStats{
		MaxOpenConnections: st.MaxOpenConnections,
		OpenConnections:    st.OpenConnections,
		InUse:              st.InUse,
		Idle:               st.Idle,
		WaitCount:          st.WaitCount,
		WaitDuration:       st.WaitDuration,
	}
}

// GetConnectionPoolStats returns current connection pool statistics
func (s *SQLite) GetConnectionPoolStats() ConnectionPoolStats {
	return ConnectionPoolStats{
		WritePool: poolStats(s.WriteDB.Stats()),
		ReadPool:  poolStats(s.ReadDB.Stats()),
	}
}

// StartMetricsCollection periodically exports pool statistics until ctx is done.
func (s *SQLite) StartMetricsCollection(ctx context.Context, interval time.Duration) {
	s.updatePoolMetrics()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.updatePoolMetrics()
			}
		}
	}()
}

func (s *SQLite) updatePoolMetrics() {
	s.updatePoolMetricsForType("write", s.WriteDB.Stats(), &s.prevWriteWaitCount)
	s.updatePoolMetricsForType("read", s.ReadDB.Stats(), &s.prevReadWaitCount)
}

// Counters only move forward, so the wait count is exported as a delta.
func (s *SQLite) updatePoolMetricsForType(poolType string, stats sql.DBStats, prevWaitCount *int64) {
	metrics.SQLitePoolOpenConnections.WithLabelValues(poolType).Set(float64(stats.OpenConnections))
	metrics.SQLitePoolInUse.WithLabelValues(poolType).Set(float64(stats.InUse))

	if delta := stats.WaitCount - *prevWaitCount; delta > 0 {
		metrics.SQLitePoolWaitCount.WithLabelValues(poolType).Add(float64(delta))
		*prevWaitCount = stats.WaitCount
	}
}

// validateDatabasePath rejects paths that escape the working directory.
// Paths under the system temp directory are allowed.
func validateDatabasePath(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if len(dbPath) > 512 {
		return fmt.Errorf("database path exceeds maximum length of 512 characters")
	}
	if strings.ContainsAny(dbPath, "?\x00") {
		return fmt.Errorf("database path contains invalid characters")
	}
	if strings.Contains(dbPath, "..") {
		return fmt.Errorf("path traversal not allowed (..): %s", dbPath)
	}

	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if strings.HasPrefix(absPath, os.TempDir()) {
		return nil
	}
	if filepath.IsAbs(dbPath) {
		return fmt.Errorf("absolute paths not allowed: %s", dbPath)
	}

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	rel, err := filepath.Rel(wd, absPath)
	if err != nil {
		return fmt.Errorf("failed to compute relative path: %w", err)
	}
	if strings.HasPrefix(rel, "..") {
		return fmt.Errorf("path escapes working directory: %s resolves to %s", dbPath, absPath)
	}
	return nil
}
