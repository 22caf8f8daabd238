package monitoring

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/isdelr/alertflow/internal/database"
	"github.com/isdelr/alertflow/internal/email"
	"github.com/isdelr/alertflow/internal/models"
	"github.com/isdelr/alertflow/internal/notify"
	"github.com/isdelr/alertflow/internal/rules"
	"github.com/isdelr/alertflow/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nullPusher struct{}

func (nullPusher) SendToUser(string, []byte) int      { return 0 }
func (nullPusher) BroadcastToRoom(string, []byte) int { return 0 }

type instantMailer struct {
	mu   sync.Mutex
	jobs []email.Job
}

func (m *instantMailer) Enqueue(job email.Job) bool {
	m.mu.Lock()
	m.jobs = append(m.jobs, job)
	m.mu.Unlock()
	job.OnComplete(nil)
	return true
}

type env struct {
	alerts  *services.AlertService
	events  *services.EventService
	users   *services.UserService
	prefs   *services.PreferenceService
	log     *services.NotificationService
	mailer  *instantMailer
	router  *notify.Router
	created time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := database.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { db.Close() })

	e := &env{
		alerts:  services.NewAlertService(db),
		events:  services.NewEventService(db),
		users:   services.NewUserService(db),
		prefs:   services.NewPreferenceService(db),
		log:     services.NewNotificationService(db),
		mailer:  &instantMailer{},
		created: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	e.alerts.SetClock(func() time.Time { return e.created })
	e.events.SetClock(func() time.Time { return e.created })

	renderer, err := email.NewRenderer("Alertflow")
	require.NoError(t, err)
	e.router = notify.NewRouter(nullPusher{}, e.mailer, e.users, e.prefs, e.log, renderer, notify.RouterConfig{})
	return e
}

func (e *env) user(t *testing.T, name, role string) models.User {
	t.Helper()
	u, err := e.users.CreateUser(name, name+"@example.com", "password123", role)
	require.NoError(t, err)
	return u
}

func (e *env) alert(t *testing.T, slaMinutes int) models.Alert {
	t.Helper()
	ev, err := e.events.CreateEvent(models.Event{
		EntityType: "movement", EntityID: "7", Type: models.EventSecurity, Severity: models.EventCritical,
		Description: "Unauthorized access",
	})
	require.NoError(t, err)
	a, err := e.alerts.CreateFromMatch(ev, rules.Match{
		Rule:        rules.Metadata{ID: "RULE_SEC_001", Name: "Security Event Detection", Severity: models.SeverityHigh, Domain: "Security", SLAMinutes: slaMinutes},
		Description: "Security event detected",
	})
	require.NoError(t, err)
	return a
}

func (e *env) entries(t *testing.T, userID string) []models.Notification {
	t.Helper()
	out, err := e.log.ListForUser(userID, false, 100, 0)
	require.NoError(t, err)
	return out
}

func TestSLAMonitor_BreachEscalatesOnce(t *testing.T) {
	e := newEnv(t)
	sup := e.user(t, "sup", models.RoleSupervisor)
	admin := e.user(t, "admin", models.RoleAdmin)
	lead := e.user(t, "lead", models.RoleSecurityLead)

	// Supervisor opted out of everything; escalations ignore that.
	off := models.NotificationPreference{UserID: sup.ID}
	_, err := e.prefs.Upsert(off)
	require.NoError(t, err)

	a := e.alert(t, 15)
	mon := NewSLAMonitor(e.alerts, e.router)

	mon.SetClock(func() time.Time { return e.created.Add(10 * time.Minute) })
	n, err := mon.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	mon.SetClock(func() time.Time { return e.created.Add(20 * time.Minute) })
	n, err = mon.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.alerts.GetAlert(a.ID)
	require.NoError(t, err)
	assert.True(t, got.SLABreached)

	for _, u := range []models.User{sup, admin} {
		entries := e.entries(t, u.ID)
		require.Len(t, entries, 2, u.Username)
		channels := map[models.Channel]bool{}
		for _, en := range entries {
			assert.Equal(t, models.KindSLABreach, en.Kind)
			assert.Equal(t, "urgent", en.Priority)
			channels[en.Channel] = true
		}
		assert.True(t, channels[models.ChannelPush])
		assert.True(t, channels[models.ChannelEmail])
	}
	assert.Empty(t, e.entries(t, lead.ID))
	assert.Len(t, e.mailer.jobs, 2)

	n, err = mon.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, e.entries(t, sup.ID), 2)
	assert.Len(t, e.mailer.jobs, 2)
}

func TestSLAMonitor_SkipsClosedAndAcknowledgedStillWatched(t *testing.T) {
	e := newEnv(t)
	e.user(t, "admin", models.RoleAdmin)

	closed := e.alert(t, 15)
	_, err := e.alerts.Close(closed.ID, "admin", "false alarm")
	require.NoError(t, err)

	acked := e.alert(t, 15)
	_, err = e.alerts.Acknowledge(acked.ID, "admin")
	require.NoError(t, err)

	mon := NewSLAMonitor(e.alerts, e.router)
	mon.SetClock(func() time.Time { return e.created.Add(time.Hour) })
	n, err := mon.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.alerts.GetAlert(closed.ID)
	require.NoError(t, err)
	assert.False(t, got.SLABreached)
	got, err = e.alerts.GetAlert(acked.ID)
	require.NoError(t, err)
	assert.True(t, got.SLABreached)
}

type staleAlerts struct {
	candidates []models.Alert
	marked     int
}

func (s *staleAlerts) ListSLACandidates() ([]models.Alert, error) { return s.candidates, nil }
func (s *staleAlerts) MarkBreached(string, time.Time) (bool, error) {
	s.marked++
	return false, nil
}

type countingDeliverer struct{ calls int32 }

func (c *countingDeliverer) Deliver(context.Context, notify.Notice) (notify.Result, error) {
	atomic.AddInt32(&c.calls, 1)
	return notify.Result{}, nil
}

func TestSLAMonitor_LostRaceSendsNothing(t *testing.T) {
	sla := 5
	alerts := &staleAlerts{candidates: []models.Alert{{ID: "a", SLATimerMinutes: &sla, CreatedAt: time.Now().Add(-time.Hour)}}}
	d := &countingDeliverer{}

	n, err := NewSLAMonitor(alerts, d).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, alerts.marked)
	assert.Zero(t, atomic.LoadInt32(&d.calls))
}

func TestDigestJob_OnlyOptedInUsers(t *testing.T) {
	e := newEnv(t)
	in := e.user(t, "reader", models.RoleOperator)
	out := e.user(t, "skipper", models.RoleOperator)

	p := models.DefaultPreference(in.ID)
	p.EmailDailyDigest = true
	_, err := e.prefs.Upsert(p)
	require.NoError(t, err)

	e.alert(t, 15)
	e.alert(t, 30)

	job := NewDigestJob(e.users, e.prefs, e.alerts, e.router)
	job.SetClock(func() time.Time { return e.created.Add(2 * time.Hour) })
	n, err := job.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, e.mailer.jobs, 1)
	assert.Equal(t, []string{in.Email}, e.mailer.jobs[0].To)
	assert.Equal(t, "[Alertflow] Daily Digest - 2025-05-01", e.mailer.jobs[0].Content.Subject)

	entries := e.entries(t, in.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.KindDigest, entries[0].Kind)
	assert.Equal(t, models.ChannelEmail, entries[0].Channel)
	assert.Empty(t, e.entries(t, out.ID))
}

type recordingSubmitter struct {
	mu      sync.Mutex
	notices []notify.Notice
}

func (r *recordingSubmitter) Submit(n notify.Notice) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return true
}

func TestHostSampler_HighCPUCooldown(t *testing.T) {
	sub := &recordingSubmitter{}
	h := NewHostSampler(sub, time.Second, 90)
	cpu := 95.0
	h.sample = func(context.Context) (HostSample, error) {
		return HostSample{CPUPercent: cpu, MemoryPercent: 40}, nil
	}
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	assert.Nil(t, h.Latest())
	h.Sample(context.Background())
	require.NotNil(t, h.Latest())
	assert.Equal(t, 95.0, h.Latest().CPUPercent)
	require.Len(t, sub.notices, 1)
	assert.Equal(t, models.KindSystem, sub.notices[0].Kind)
	assert.Equal(t, "high", sub.notices[0].Priority)

	now = now.Add(10 * time.Minute)
	h.Sample(context.Background())
	assert.Len(t, sub.notices, 1)

	now = now.Add(6 * time.Minute)
	h.Sample(context.Background())
	assert.Len(t, sub.notices, 2)

	cpu = 20
	now = now.Add(time.Hour)
	h.Sample(context.Background())
	assert.Len(t, sub.notices, 2)
	assert.Equal(t, 20.0, h.Latest().CPUPercent)
}

func TestHostSampler_FailedSampleKeepsPrevious(t *testing.T) {
	h := NewHostSampler(nil, time.Second, 0)
	h.sample = func(context.Context) (HostSample, error) { return HostSample{CPUPercent: 10}, nil }
	h.Sample(context.Background())
	h.sample = func(context.Context) (HostSample, error) { return HostSample{}, errors.New("unsupported") }
	h.Sample(context.Background())
	require.NotNil(t, h.Latest())
	assert.Equal(t, 10.0, h.Latest().CPUPercent)
}

func TestScheduler_RunsImmediateJobsAndStops(t *testing.T) {
	s := NewScheduler()
	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add("tick", "@every 1h", func(ctx context.Context) { ran <- struct{}{} }, true))
	assert.Error(t, s.Add("bad", "not a spec", func(context.Context) {}, false))

	s.Start()
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("immediate job did not run")
	}
	s.Stop()
}
