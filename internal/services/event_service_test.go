package services

import (
	"errors"
	"testing"
	"time"

	"github.com/isdelr/alertflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventService_CreateAndGet(t *testing.T) {
	s := NewEventService(newTestDB(t))
	ev := mustEvent(t, s, models.Event{
		EntityType: "movement", EntityID: "7",
		Type: models.EventSecurity, Severity: models.EventCritical,
		Description: "Unauthorized access", Source: "manual",
		Metadata: map[string]string{"gate": "4"},
	})
	require.NotEmpty(t, ev.ID)

	got, err := s.GetEvent(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.Description, got.Description)
	assert.Equal(t, "4", got.Metadata["gate"])
	assert.Equal(t, ev.Timestamp, got.Timestamp)

	_, err = s.GetEvent("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestEventService_CreateRejectsInvalid(t *testing.T) {
	s := NewEventService(newTestDB(t))
	_, err := s.CreateEvent(models.Event{EntityType: "movement", EntityID: "1", Type: "bogus", Severity: models.EventInfo})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = s.CreateEvent(models.Event{Type: models.EventActual, Severity: models.EventInfo})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEventService_RecentForEntity(t *testing.T) {
	s := NewEventService(newTestDB(t))
	base := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)

	old := mustEvent(t, s, models.Event{EntityType: "movement", EntityID: "7", Type: models.EventActual, Severity: models.EventInfo, Timestamp: base.Add(-30 * time.Hour)})
	var ids []string
	for i := 0; i < 12; i++ {
		ev := mustEvent(t, s, models.Event{EntityType: "movement", EntityID: "7", Type: models.EventActual, Severity: models.EventInfo, Timestamp: base.Add(-time.Duration(i) * time.Minute)})
		ids = append(ids, ev.ID)
	}
	mustEvent(t, s, models.Event{EntityType: "movement", EntityID: "8", Type: models.EventActual, Severity: models.EventInfo, Timestamp: base})

	recent, err := s.RecentForEntity("movement", "7", ids[0], base.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, recent, 10)
	assert.Equal(t, ids[1], recent[0].ID, "newest first, current event excluded")
	for _, ev := range recent {
		assert.NotEqual(t, old.ID, ev.ID)
		assert.Equal(t, "7", ev.EntityID)
	}
}

func TestEventService_ClaimOnce(t *testing.T) {
	s := NewEventService(newTestDB(t))
	ev := mustEvent(t, s, models.Event{EntityType: "movement", EntityID: "1", Type: models.EventActual, Severity: models.EventInfo})

	pending, err := s.PendingEvaluation(models.Event{}, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	ok, err := s.ClaimEvaluation(ev.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ClaimEvaluation(ev.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err = s.PendingEvaluation(models.Event{}, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEventService_ReleaseMakesEventPendingAgain(t *testing.T) {
	s := NewEventService(newTestDB(t))
	ev := mustEvent(t, s, models.Event{EntityType: "movement", EntityID: "1", Type: models.EventActual, Severity: models.EventInfo})

	ok, err := s.ClaimEvaluation(ev.ID, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.ReleaseEvaluation(ev.ID))

	pending, err := s.PendingEvaluation(models.Event{}, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ev.ID, pending[0].ID)

	ok, err = s.ClaimEvaluation(ev.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEventService_PendingEvaluationPages(t *testing.T) {
	s := NewEventService(newTestDB(t))
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return at })
	for i := 0; i < 5; i++ {
		mustEvent(t, s, models.Event{EntityType: "movement", EntityID: "1", Type: models.EventActual, Severity: models.EventInfo})
	}

	seen := map[string]bool{}
	var after models.Event
	for {
		page, err := s.PendingEvaluation(after, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		assert.LessOrEqual(t, len(page), 2)
		for _, ev := range page {
			assert.False(t, seen[ev.ID], "event %s returned twice", ev.ID)
			seen[ev.ID] = true
		}
		after = page[len(page)-1]
	}
	assert.Len(t, seen, 5)
}

func TestEntityService_Upsert(t *testing.T) {
	s := NewEntityService(newTestDB(t))
	snap, err := s.Get("movement", "7")
	require.NoError(t, err)
	assert.Nil(t, snap)

	deadline := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = s.Upsert(models.EntitySnapshot{EntityType: "movement", EntityID: "7", Status: "active", Deadline: &deadline})
	require.NoError(t, err)
	_, err = s.Upsert(models.EntitySnapshot{EntityType: "movement", EntityID: "7", Status: "completed", Deadline: &deadline})
	require.NoError(t, err)

	snap, err = s.Get("movement", "7")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "completed", snap.Status)
	assert.Equal(t, deadline, *snap.Deadline)

	_, err = s.Upsert(models.EntitySnapshot{EntityType: "movement"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
