package dbx

import (
	"database/sql"
	"time"
)

// Timestamps are stored as UTC unix nanoseconds in INTEGER columns so that
// ordering and equality survive every driver unchanged.

func Time(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func NullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: Time(*t), Valid: true}
}

func ParseTime(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func ParseNullTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := ParseTime(n.Int64)
	return &t
}
