package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/alertflow/internal/database"
	"github.com/isdelr/alertflow/internal/models"
)

// EventServiceProvider defines the interface for event services.
type EventServiceProvider interface {
	CreateEvent(ev models.Event) (models.Event, error)
	GetEvent(id string) (models.Event, error)
	GetRecentEvents(limit int) ([]models.Event, error)
	RecentForEntity(entityType, entityID, excludeID string, since time.Time, limit int) ([]models.Event, error)
	ClaimEvaluation(id string, at time.Time) (bool, error)
	ReleaseEvaluation(id string) error
	PendingEvaluation(after models.Event, limit int) ([]models.Event, error)
}

// EventService stores raw events.
type EventService struct {
	db  *sql.DB
	now func() time.Time
}

// NewEventService creates a new EventService.
func NewEventService(db *sql.DB) *EventService {
	return &EventService{db: db, now: time.Now}
}

// SetClock replaces the time source.
func (s *EventService) SetClock(now func() time.Time) { s.now = now }

const eventColumns = "id, entity_type, entity_id, timestamp, type, severity, location, description, source, metadata_json, created_at"

// CreateEvent validates and persists a new event.
func (s *EventService) CreateEvent(ev models.Event) (models.Event, error) {
	if ev.EntityType == "" || ev.EntityID == "" {
		return models.Event{}, fmt.Errorf("%w: entity reference is required", ErrInvalidInput)
	}
	if !models.ValidEventType(ev.Type) {
		return models.Event{}, fmt.Errorf("%w: unknown event type %q", ErrInvalidInput, ev.Type)
	}
	if !models.ValidEventSeverity(ev.Severity) {
		return models.Event{}, fmt.Errorf("%w: unknown event severity %q", ErrInvalidInput, ev.Severity)
	}

	now := s.now().UTC()
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	ev.CreatedAt = now

	var meta sql.NullString
	if len(ev.Metadata) > 0 {
		raw, err := json.Marshal(ev.Metadata)
		if err != nil {
			return models.Event{}, fmt.Errorf("encode metadata: %w", err)
		}
		meta = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := s.db.Exec(
		"INSERT INTO events ("+eventColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		ev.ID, ev.EntityType, ev.EntityID, database.Millis(ev.Timestamp), ev.Type, ev.Severity,
		ev.Location, ev.Description, ev.Source, meta, database.Millis(ev.CreatedAt),
	)
	if err != nil {
		return models.Event{}, fmt.Errorf("insert event: %w", err)
	}
	ev.Timestamp = ev.Timestamp.UTC().Truncate(time.Millisecond)
	ev.CreatedAt = ev.CreatedAt.Truncate(time.Millisecond)
	return ev, nil
}

// GetEvent retrieves a single event by its ID.
func (s *EventService) GetEvent(id string) (models.Event, error) {
	row := s.db.QueryRow("SELECT "+eventColumns+" FROM events WHERE id = ?", id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Event{}, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return ev, err
}

// GetRecentEvents retrieves the most recent events across all entities.
func (s *EventService) GetRecentEvents(limit int) ([]models.Event, error) {
	rows, err := s.db.Query("SELECT "+eventColumns+" FROM events ORDER BY timestamp DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

// RecentForEntity returns up to limit events of one entity at or after since,
// newest first, leaving out excludeID.
func (s *EventService) RecentForEntity(entityType, entityID, excludeID string, since time.Time, limit int) ([]models.Event, error) {
	rows, err := s.db.Query(
		"SELECT "+eventColumns+" FROM events WHERE entity_type = ? AND entity_id = ? AND id <> ? AND timestamp >= ? ORDER BY timestamp DESC LIMIT ?",
		entityType, entityID, excludeID, database.Millis(since), limit,
	)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

// ClaimEvaluation marks the event as evaluated. Only the first caller gets true.
func (s *EventService) ClaimEvaluation(id string, at time.Time) (bool, error) {
	res, err := s.db.Exec("UPDATE events SET evaluated_at = ? WHERE id = ? AND evaluated_at IS NULL", database.Millis(at), id)
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseEvaluation clears a claim so the event is picked up again by the
// next pending sweep.
func (s *EventService) ReleaseEvaluation(id string) error {
	if _, err := s.db.Exec("UPDATE events SET evaluated_at = NULL WHERE id = ?", id); err != nil {
		return fmt.Errorf("release event %s: %w", id, err)
	}
	return nil
}

// PendingEvaluation lists events that were stored but never evaluated, oldest
// first. Pass the last event of the previous page as after, or the zero Event
// for the first page.
func (s *EventService) PendingEvaluation(after models.Event, limit int) ([]models.Event, error) {
	query := "SELECT " + eventColumns + " FROM events WHERE evaluated_at IS NULL"
	var args []any
	if after.ID != "" {
		at := database.Millis(after.CreatedAt)
		query += " AND (created_at > ? OR (created_at = ? AND id > ?))"
		args = append(args, at, at, after.ID)
	}
	query += " ORDER BY created_at ASC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (models.Event, error) {
	var (
		ev                      models.Event
		ts, created             int64
		loc, desc, source, meta sql.NullString
	)
	err := row.Scan(&ev.ID, &ev.EntityType, &ev.EntityID, &ts, &ev.Type, &ev.Severity, &loc, &desc, &source, &meta, &created)
	if err != nil {
		return models.Event{}, err
	}
	ev.Timestamp = database.FromMillis(ts)
	ev.CreatedAt = database.FromMillis(created)
	ev.Location, ev.Description, ev.Source = loc.String, desc.String, source.String
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &ev.Metadata); err != nil {
			return models.Event{}, fmt.Errorf("decode metadata of event %s: %w", ev.ID, err)
		}
	}
	return ev, nil
}

func collectEvents(rows *sql.Rows) ([]models.Event, error) {
	defer rows.Close()
	var events []models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
