package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// New creates a new database connection pool.
// SQLite serializes writers, so the pool holds a single connection; this also
// keeps ":memory:" databases shared across every query.
func New(dataSourceName string) (*sql.DB, error) {
	sep := "?"
	if strings.Contains(dataSourceName, "?") {
		sep = "&"
	}
	dsn := dataSourceName + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate runs the SQL statements to set up the database schema.
// All timestamps are unix milliseconds.
func Migrate(db *sql.DB) error {
	const sqlStmt = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'viewer',
		is_active INTEGER NOT NULL DEFAULT 1,
		password_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT NOT NULL PRIMARY KEY,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		location TEXT,
		description TEXT,
		source TEXT,
		metadata_json TEXT,
		evaluated_at INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_entity ON events (entity_type, entity_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_pending ON events (evaluated_at);

	CREATE TABLE IF NOT EXISTS entity_snapshots (
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		status TEXT NOT NULL,
		deadline INTEGER,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (entity_type, entity_id)
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT NOT NULL PRIMARY KEY,
		event_id TEXT NOT NULL REFERENCES events(id),
		entity_type TEXT,
		entity_id TEXT,
		severity TEXT NOT NULL,
		confidence REAL NOT NULL,
		domain TEXT NOT NULL,
		site_zone TEXT,
		rule_id TEXT NOT NULL,
		rule_name TEXT NOT NULL,
		description TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		sla_timer_minutes INTEGER,
		sla_breached INTEGER NOT NULL DEFAULT 0,
		case_id TEXT,
		assigned_to TEXT,
		acknowledged_at INTEGER,
		acknowledged_by TEXT,
		resolved_at INTEGER,
		resolved_by TEXT,
		resolution_notes TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_dedup ON alerts (event_id, rule_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_alerts_sla ON alerts (status, sla_breached);

	CREATE TABLE IF NOT EXISTS notification_preferences (
		user_id TEXT NOT NULL PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		email_enabled INTEGER NOT NULL,
		email_critical INTEGER NOT NULL,
		email_high INTEGER NOT NULL,
		email_medium INTEGER NOT NULL,
		email_low INTEGER NOT NULL,
		email_case_updates INTEGER NOT NULL,
		email_daily_digest INTEGER NOT NULL,
		push_enabled INTEGER NOT NULL,
		push_sound INTEGER NOT NULL,
		quiet_hours_enabled INTEGER NOT NULL,
		quiet_hours_start TEXT,
		quiet_hours_end TEXT,
		timezone TEXT,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT NOT NULL PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		channel TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		data_json TEXT,
		priority TEXT NOT NULL,
		is_read INTEGER NOT NULL DEFAULT 0,
		read_at INTEGER,
		is_delivered INTEGER NOT NULL DEFAULT 0,
		delivered_at INTEGER,
		delivery_error TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id, created_at);
	`
	if _, err := db.Exec(sqlStmt); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Millis converts t to the stored representation.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts a stored timestamp back to UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// NullMillis converts an optional time to a nullable column value.
func NullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

// TimePtr converts a nullable column value to an optional time.
func TimePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := FromMillis(v.Int64)
	return &t
}

// StringPtr converts a nullable text column to an optional string.
func StringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
