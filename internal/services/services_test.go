package services

import (
	"database/sql"
	"testing"
	"time"

	"github.com/isdelr/alertflow/internal/database"
	"github.com/isdelr/alertflow/internal/models"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
func newClock(t time.Time) *fakeClock        { return &fakeClock{t: t} }
func mustEvent(t *testing.T, s *EventService, ev models.Event) models.Event {
	t.Helper()
	created, err := s.CreateEvent(ev)
	require.NoError(t, err)
	return created
}
