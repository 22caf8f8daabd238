package services

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/isdelr/alertflow/internal/database"
	"github.com/isdelr/alertflow/internal/models"
)

// EntityServiceProvider defines the interface for entity snapshots.
type EntityServiceProvider interface {
	Upsert(snap models.EntitySnapshot) (models.EntitySnapshot, error)
	Get(entityType, entityID string) (*models.EntitySnapshot, error)
}

// EntityService keeps the latest snapshot of entities referenced by events.
type EntityService struct {
	db  *sql.DB
	now func() time.Time
}

// NewEntityService creates a new EntityService.
func NewEntityService(db *sql.DB) *EntityService {
	return &EntityService{db: db, now: time.Now}
}

// Upsert stores snap, replacing any previous snapshot of the same entity.
func (s *EntityService) Upsert(snap models.EntitySnapshot) (models.EntitySnapshot, error) {
	if snap.EntityType == "" || snap.EntityID == "" || snap.Status == "" {
		return models.EntitySnapshot{}, fmt.Errorf("%w: entity type, id and status are required", ErrInvalidInput)
	}
	snap.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)
	_, err := s.db.Exec(`
		INSERT INTO entity_snapshots (entity_type, entity_id, status, deadline, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			status = excluded.status, deadline = excluded.deadline, updated_at = excluded.updated_at`,
		snap.EntityType, snap.EntityID, snap.Status, database.NullMillis(snap.Deadline), database.Millis(snap.UpdatedAt),
	)
	if err != nil {
		return models.EntitySnapshot{}, fmt.Errorf("upsert entity snapshot: %w", err)
	}
	return snap, nil
}

// Get returns the snapshot of an entity, or nil when none is known.
func (s *EntityService) Get(entityType, entityID string) (*models.EntitySnapshot, error) {
	var (
		snap     models.EntitySnapshot
		deadline sql.NullInt64
		updated  int64
	)
	err := s.db.QueryRow(
		"SELECT entity_type, entity_id, status, deadline, updated_at FROM entity_snapshots WHERE entity_type = ? AND entity_id = ?",
		entityType, entityID,
	).Scan(&snap.EntityType, &snap.EntityID, &snap.Status, &deadline, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap.Deadline = database.TimePtr(deadline)
	snap.UpdatedAt = database.FromMillis(updated)
	return &snap, nil
}
