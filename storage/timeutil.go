package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// inClause returns "?, ?, ?" for n placeholders and the values as arguments.
func inClause[T ~string](values []T) (string, []interface{}) {
	args := make([]interface{}, 0, len(values))
	for _, v := range values {
		args = append(args, string(v))
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", "), args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
