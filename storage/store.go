package storage

import (
	"go.uber.org/zap"
)

// Store is the combined alert and incident persistence used by the
// correlation engine and the services.
type Store struct {
	*SQLiteAlertStorage
	*SQLiteIncidentStorage
	db *SQLite
}

// NewStore creates a Store over an open database
func NewStore(db *SQLite, logger *zap.SugaredLogger) *Store {
	return &Store{
		SQLiteAlertStorage:    NewSQLiteAlertStorage(db, logger),
		SQLiteIncidentStorage: NewSQLiteIncidentStorage(db, logger),
		db:                    db,
	}
}

// DB returns the underlying database
func (s *Store) DB() *SQLite {
	return s.db
}
