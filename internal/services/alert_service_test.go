package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/isdelr/alertflow/internal/models"
	"github.com/isdelr/alertflow/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secMatch = rules.Match{
	Rule: rules.Metadata{
		ID: "RULE_SEC_001", Name: "Security Event Detection", Severity: models.SeverityHigh,
		Domain: "Security", Confidence: 0.85, SLAMinutes: 30,
	},
	Description: "Security event detected",
}

func setupAlerts(t *testing.T) (*AlertService, *EventService, *fakeClock) {
	db := newTestDB(t)
	clock := newClock(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))
	alerts := NewAlertService(db)
	alerts.SetClock(clock.Now)
	events := NewEventService(db)
	events.SetClock(clock.Now)
	return alerts, events, clock
}

func newSecurityEvent(t *testing.T, events *EventService) models.Event {
	return mustEvent(t, events, models.Event{
		EntityType: "movement", EntityID: "7", Location: "Berth 4",
		Type: models.EventSecurity, Severity: models.EventCritical, Description: "Unauthorized access",
	})
}

func TestAlertService_CreateAndDedup(t *testing.T) {
	alerts, events, clock := setupAlerts(t)
	ev := newSecurityEvent(t, events)

	a, err := alerts.CreateFromMatch(ev, secMatch)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, a.Status)
	assert.False(t, a.SLABreached)
	require.NotNil(t, a.SLATimerMinutes)
	assert.Equal(t, 30, *a.SLATimerMinutes)
	assert.Equal(t, 0.85, a.Confidence)
	assert.Equal(t, "Berth 4", a.SiteZone)

	clock.Advance(59 * time.Minute)
	_, err = alerts.CreateFromMatch(ev, secMatch)
	assert.ErrorIs(t, err, ErrDuplicateAlertSuppressed)

	other := secMatch
	other.Rule.ID = "RULE_SEV_001"
	_, err = alerts.CreateFromMatch(ev, other)
	require.NoError(t, err, "a different rule is not a duplicate")

	clock.Advance(2 * time.Minute)
	_, err = alerts.CreateFromMatch(ev, secMatch)
	require.NoError(t, err, "outside the window a new alert is allowed")

	got, err := alerts.GetAlert(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.CreatedAt, got.CreatedAt)
}

func TestAlertService_ConcurrentDedup(t *testing.T) {
	alerts, events, _ := setupAlerts(t)
	ev := newSecurityEvent(t, events)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := alerts.CreateFromMatch(ev, secMatch)
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrDuplicateAlertSuppressed)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestAlertService_Transitions(t *testing.T) {
	alerts, events, _ := setupAlerts(t)
	ev := newSecurityEvent(t, events)
	a, err := alerts.CreateFromMatch(ev, secMatch)
	require.NoError(t, err)

	_, err = alerts.Investigate(a.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	a, err = alerts.Acknowledge(a.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAcknowledged, a.Status)
	require.NotNil(t, a.AcknowledgedBy)
	assert.Equal(t, "alice", *a.AcknowledgedBy)
	assert.NotNil(t, a.AcknowledgedAt)

	_, err = alerts.Acknowledge(a.ID, "alice")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	a, err = alerts.Assign(a.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, a.Status)

	a, err = alerts.Investigate(a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInvestigating, a.Status)

	a, err = alerts.LinkCase(a.ID, "CASE-1")
	require.NoError(t, err)
	assert.Equal(t, "CASE-1", *a.CaseID)

	a, err = alerts.Close(a.ID, "bob", "false alarm")
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, a.Status)
	assert.Equal(t, "false alarm", a.ResolutionNotes)

	_, err = alerts.Close(a.ID, "bob", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = alerts.LinkCase(a.ID, "CASE-2")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = alerts.Acknowledge("missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAlertService_CloseFromOpen(t *testing.T) {
	alerts, events, _ := setupAlerts(t)
	a, err := alerts.CreateFromMatch(newSecurityEvent(t, events), secMatch)
	require.NoError(t, err)
	a, err = alerts.Close(a.ID, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, a.Status)
}

func TestAlertService_MarkBreached(t *testing.T) {
	alerts, events, clock := setupAlerts(t)
	a, err := alerts.CreateFromMatch(newSecurityEvent(t, events), secMatch)
	require.NoError(t, err)

	cands, err := alerts.ListSLACandidates()
	require.NoError(t, err)
	require.Len(t, cands, 1)

	ok, err := alerts.MarkBreached(a.ID, clock.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = alerts.MarkBreached(a.ID, clock.Now())
	require.NoError(t, err)
	assert.False(t, ok, "sla_breached only flips once")

	cands, err = alerts.ListSLACandidates()
	require.NoError(t, err)
	assert.Empty(t, cands)

	b, err := alerts.CreateFromMatch(newSecurityEvent(t, events), secMatch)
	require.NoError(t, err)
	_, err = alerts.Close(b.ID, "x", "")
	require.NoError(t, err)
	ok, err = alerts.MarkBreached(b.ID, clock.Now())
	require.NoError(t, err)
	assert.False(t, ok, "closed alerts never breach")
}

func TestAlertService_ListAndStats(t *testing.T) {
	alerts, events, _ := setupAlerts(t)
	ev := newSecurityEvent(t, events)
	_, err := alerts.CreateFromMatch(ev, secMatch)
	require.NoError(t, err)
	sev := secMatch
	sev.Rule.ID, sev.Rule.Severity, sev.Rule.Domain = "RULE_SEV_001", models.SeverityCritical, "Operations"
	b, err := alerts.CreateFromMatch(ev, sev)
	require.NoError(t, err)
	_, err = alerts.MarkBreached(b.ID, time.Now())
	require.NoError(t, err)

	list, err := alerts.ListAlerts(AlertFilter{Severity: models.SeverityCritical})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)

	breached := true
	list, err = alerts.ListAlerts(AlertFilter{SLABreached: &breached})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	stats, err := alerts.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByStatus["open"])
	assert.Equal(t, 1, stats.BySeverity["Critical"])
	assert.Equal(t, 1, stats.Breached)

	rs, err := alerts.RuleStats([]rules.Metadata{secMatch.Rule, sev.Rule, {ID: "RULE_NONE"}})
	require.NoError(t, err)
	require.Len(t, rs, 3)
	assert.Equal(t, 1, rs[0].TotalAlerts)
	assert.Equal(t, 0, rs[2].TotalAlerts)
}

func TestAlertService_CreatePropagatesDBErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM alerts").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err = NewAlertService(db).CreateFromMatch(models.Event{ID: "e1"}, secMatch)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateAlertSuppressed)
	assert.Contains(t, err.Error(), "dedup lookup")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertService_MarkBreachedDBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE alerts SET sla_breached").WillReturnError(errors.New("locked"))
	ok, err := NewAlertService(db).MarkBreached("a1", time.Now())
	assert.False(t, ok)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
