package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/isdelr/alertflow/internal/email"
	"github.com/isdelr/alertflow/internal/models"
	"github.com/isdelr/alertflow/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePusher struct {
	mu    sync.Mutex
	live  map[string]bool
	sent  map[string][][]byte
	rooms map[string][][]byte
}

func newFakePusher(live ...string) *fakePusher {
	p := &fakePusher{live: map[string]bool{}, sent: map[string][][]byte{}, rooms: map[string][][]byte{}}
	for _, id := range live {
		p.live[id] = true
	}
	return p
}

func (p *fakePusher) SendToUser(userID string, msg []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.live[userID] {
		return 0
	}
	p.sent[userID] = append(p.sent[userID], msg)
	return 1
}

func (p *fakePusher) BroadcastToRoom(room string, msg []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rooms[room] = append(p.rooms[room], msg)
	return len(p.live)
}

type fakeMailer struct {
	mu         sync.Mutex
	configured bool
	jobs       []email.Job
}

func (m *fakeMailer) Enqueue(job email.Job) bool {
	if !m.configured {
		return false
	}
	m.mu.Lock()
	m.jobs = append(m.jobs, job)
	m.mu.Unlock()
	job.OnComplete(nil)
	return true
}

type fakeDirectory struct{ users []models.User }

func (d *fakeDirectory) GetActiveUsers(ids []string) ([]models.User, error) {
	var out []models.User
	for _, id := range ids {
		for _, u := range d.users {
			if u.ID == id && u.IsActive {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (d *fakeDirectory) ListByRoles(roles ...string) ([]models.User, error) {
	var out []models.User
	for _, u := range d.users {
		for _, r := range roles {
			if u.Role == r && u.IsActive {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (d *fakeDirectory) ListActive() ([]models.User, error) {
	var out []models.User
	for _, u := range d.users {
		if u.IsActive {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakePrefs map[string]*models.NotificationPreference

func (f fakePrefs) Get(userID string) (*models.NotificationPreference, error) {
	return f[userID], nil
}

type fakeLog struct {
	mu      sync.Mutex
	entries []models.Notification
}

func (l *fakeLog) Record(n models.Notification) (models.Notification, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, n)
	return n, nil
}

func (l *fakeLog) byChannel(ch models.Channel) []models.Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Notification
	for _, n := range l.entries {
		if n.Channel == ch {
			out = append(out, n)
		}
	}
	return out
}

func testUsers() *fakeDirectory {
	return &fakeDirectory{users: []models.User{
		{ID: "lead", Email: "lead@example.com", Role: models.RoleSecurityLead, IsActive: true},
		{ID: "sup", Email: "sup@example.com", Role: models.RoleSupervisor, IsActive: true},
		{ID: "admin", Email: "admin@example.com", Role: models.RoleAdmin, IsActive: true},
		{ID: "op", Email: "op@example.com", Role: models.RoleOperator, IsActive: true},
		{ID: "gone", Email: "gone@example.com", Role: models.RoleAdmin, IsActive: false},
	}}
}

type harness struct {
	router *Router
	pusher *fakePusher
	mailer *fakeMailer
	log    *fakeLog
}

func newHarness(t *testing.T, prefs fakePrefs, live ...string) *harness {
	t.Helper()
	renderer, err := email.NewRenderer("Alertflow")
	require.NoError(t, err)
	h := &harness{pusher: newFakePusher(live...), mailer: &fakeMailer{configured: true}, log: &fakeLog{}}
	if prefs == nil {
		prefs = fakePrefs{}
	}
	h.router = NewRouter(h.pusher, h.mailer, testUsers(), prefs, h.log, renderer, RouterConfig{Workers: 1, QueueSize: 4})
	return h
}

func quietPrefs() *models.NotificationPreference {
	return &models.NotificationPreference{
		EmailEnabled:      true,
		EmailCritical:     true,
		PushEnabled:       true,
		QuietHoursEnabled: true,
		QuietHoursStart:   "22:00",
		QuietHoursEnd:     "06:00",
		Timezone:          "UTC",
	}
}

func TestResolve_QuietHoursScenario(t *testing.T) {
	p := quietPrefs()
	night := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	noon := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, Decision{Push: true}, Resolve(p, models.KindAlert, models.SeverityMedium, night, time.UTC))
	assert.Equal(t, Decision{Push: true, Email: true}, Resolve(p, models.KindAlert, models.SeverityCritical, night, time.UTC))

	// The High toggle is off whatever the hour.
	assert.False(t, Resolve(p, models.KindAlert, models.SeverityHigh, noon, time.UTC).Email)

	p.EmailHigh = true
	assert.True(t, Resolve(p, models.KindAlert, models.SeverityHigh, noon, time.UTC).Email)
	assert.False(t, Resolve(p, models.KindAlert, models.SeverityHigh, night, time.UTC).Email)
}

func TestResolve_Defaults(t *testing.T) {
	now := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)

	d := Resolve(nil, models.KindAlert, models.SeverityHigh, now, time.UTC)
	assert.Equal(t, Decision{Push: true, Email: true, Sound: true}, d)

	d = Resolve(nil, models.KindAlert, models.SeverityMedium, now, time.UTC)
	assert.True(t, d.Push)
	assert.False(t, d.Email)

	assert.False(t, Resolve(nil, models.KindCaseUpdate, "", now, time.UTC).Email)
	assert.False(t, Resolve(nil, models.KindDigest, "", now, time.UTC).Email)
}

func TestResolve_EmailDisabledWins(t *testing.T) {
	p := models.DefaultPreference("u")
	p.EmailEnabled = false
	d := Resolve(&p, models.KindAlert, models.SeverityCritical, time.Now(), time.UTC)
	assert.False(t, d.Email)
	assert.True(t, d.Push)
}

func TestResolve_SystemAndDigest(t *testing.T) {
	p := models.DefaultPreference("u")
	p.EmailDailyDigest = true
	now := time.Now()

	assert.Equal(t, Decision{Push: true, Sound: true}, Resolve(&p, models.KindSystem, "", now, time.UTC))
	assert.Equal(t, Decision{Email: true}, Resolve(&p, models.KindDigest, "", now, time.UTC))

	p.PushEnabled = false
	assert.Equal(t, Decision{}, Resolve(&p, models.KindSystem, "", now, time.UTC))
}

func TestInQuietHours(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 3, 10, h, m, 0, 0, time.UTC) }
	window := func(start, end string) *models.NotificationPreference {
		return &models.NotificationPreference{QuietHoursEnabled: true, QuietHoursStart: start, QuietHoursEnd: end}
	}

	tests := []struct {
		name string
		p    *models.NotificationPreference
		now  time.Time
		want bool
	}{
		{"same day inside", window("09:00", "17:00"), at(12, 0), true},
		{"same day end is exclusive", window("09:00", "17:00"), at(17, 0), false},
		{"same day before", window("09:00", "17:00"), at(8, 59), false},
		{"overnight late", window("22:00", "06:00"), at(23, 30), true},
		{"overnight early", window("22:00", "06:00"), at(5, 59), true},
		{"overnight end", window("22:00", "06:00"), at(6, 0), false},
		{"overnight evening", window("22:00", "06:00"), at(21, 59), false},
		{"empty window", window("22:00", "22:00"), at(22, 0), false},
		{"disabled", &models.NotificationPreference{QuietHoursStart: "00:00", QuietHoursEnd: "23:59"}, at(12, 0), false},
		{"nil", nil, at(12, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InQuietHours(tt.p, tt.now, time.UTC))
		})
	}
}

func TestInQuietHours_UsesPreferenceTimezone(t *testing.T) {
	p := &models.NotificationPreference{
		QuietHoursEnabled: true,
		QuietHoursStart:   "22:00",
		QuietHoursEnd:     "06:00",
		Timezone:          "America/New_York",
	}
	// 03:00 UTC is 23:00 in New York in October.
	now := time.Date(2026, 10, 15, 3, 0, 0, 0, time.UTC)
	assert.True(t, InQuietHours(p, now, time.UTC))

	p.Timezone = ""
	assert.False(t, InQuietHours(p, now.Add(4*time.Hour), time.UTC))
}

func TestDeliver_AlertReachesSecurityStaff(t *testing.T) {
	h := newHarness(t, nil, "lead")
	a := models.Alert{ID: "a1", Severity: models.SeverityHigh, Status: models.StatusOpen, Description: "Unauthorized access", CreatedAt: time.Now()}

	res, err := h.router.Deliver(context.Background(), AlertCreated(a))
	require.NoError(t, err)
	assert.Equal(t, Result{Recipients: 3, PushSent: 1, EmailQueued: 3}, res)

	push := h.log.byChannel(models.ChannelPush)
	require.Len(t, push, 3)
	for _, n := range push {
		assert.Equal(t, models.KindAlert, n.Kind)
		assert.Equal(t, "high", n.Priority)
		if n.UserID == "lead" {
			assert.True(t, n.IsDelivered)
			assert.Empty(t, n.DeliveryError)
		} else {
			assert.False(t, n.IsDelivered)
			assert.Equal(t, "no live connection", n.DeliveryError)
		}
		assert.NotEqual(t, "op", n.UserID)
		assert.NotEqual(t, "gone", n.UserID)
	}

	mails := h.log.byChannel(models.ChannelEmail)
	require.Len(t, mails, 3)
	for _, n := range mails {
		assert.True(t, n.IsDelivered)
	}
	assert.Contains(t, h.mailer.jobs[0].Content.Subject, "[Alertflow Alert - High]")

	var msg websocket.Message
	require.NoError(t, json.Unmarshal(h.pusher.sent["lead"][0], &msg))
	assert.Equal(t, websocket.TypeAlert, msg.Type)
	assert.Equal(t, "created", msg.Action)
	data, ok := msg.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a1", data["alert_id"])
}

func TestDeliver_PreferencesFilterEmail(t *testing.T) {
	prefs := fakePrefs{"lead": quietPrefs(), "sup": quietPrefs(), "admin": quietPrefs()}
	h := newHarness(t, prefs)
	h.router.SetClock(func() time.Time { return time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC) })

	_, err := h.router.Deliver(context.Background(), AlertCreated(models.Alert{ID: "m", Severity: models.SeverityMedium}))
	require.NoError(t, err)
	assert.Len(t, h.log.byChannel(models.ChannelPush), 3)
	assert.Empty(t, h.log.byChannel(models.ChannelEmail))

	_, err = h.router.Deliver(context.Background(), AlertCreated(models.Alert{ID: "c", Severity: models.SeverityCritical}))
	require.NoError(t, err)
	assert.Len(t, h.log.byChannel(models.ChannelEmail), 3)
}

func TestDeliver_EscalationBypassesPreferences(t *testing.T) {
	off := &models.NotificationPreference{}
	h := newHarness(t, fakePrefs{"sup": off, "admin": off}, "sup")
	sla := 15
	a := models.Alert{ID: "a9", Severity: models.SeverityCritical, SLATimerMinutes: &sla, Description: "late"}

	res, err := h.router.Deliver(context.Background(), SLABreach(a))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Recipients)

	push := h.log.byChannel(models.ChannelPush)
	mails := h.log.byChannel(models.ChannelEmail)
	require.Len(t, push, 2)
	require.Len(t, mails, 2)
	for _, n := range append(push, mails...) {
		assert.Contains(t, []string{"sup", "admin"}, n.UserID)
		assert.Equal(t, models.KindSLABreach, n.Kind)
		assert.Equal(t, "urgent", n.Priority)
	}
	assert.Equal(t, "[URGENT] SLA BREACH - Alert a9", h.mailer.jobs[0].Content.Subject)

	var msg websocket.Message
	require.NoError(t, json.Unmarshal(h.pusher.sent["sup"][0], &msg))
	assert.Equal(t, websocket.TypeSLABreach, msg.Type)
	assert.Equal(t, "breached", msg.Action)
	assert.Equal(t, "urgent", msg.Priority)
}

func TestDeliver_UnconfiguredEmailIsNotLogged(t *testing.T) {
	h := newHarness(t, nil)
	h.mailer.configured = false

	res, err := h.router.Deliver(context.Background(), AlertCreated(models.Alert{ID: "a", Severity: models.SeverityCritical}))
	require.NoError(t, err)
	assert.Zero(t, res.EmailQueued)
	assert.Empty(t, h.log.byChannel(models.ChannelEmail))
	assert.Len(t, h.log.byChannel(models.ChannelPush), 3)
}

func TestDeliver_ExplicitRecipients(t *testing.T) {
	p := models.DefaultPreference("op")
	p.EmailCaseUpdates = true
	h := newHarness(t, fakePrefs{"op": &p}, "op")

	n := CaseUpdated(CaseUpdate{CaseID: "7", Title: "Cargo theft", Status: "open", UpdateType: "assigned", Recipients: []string{"op", "gone", "missing"}})
	res, err := h.router.Deliver(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, Result{Recipients: 1, PushSent: 1, EmailQueued: 1}, res)
	assert.Equal(t, "[Alertflow Case Assigned] CASE-7: Cargo theft...", h.mailer.jobs[0].Content.Subject)

	var msg websocket.Message
	require.NoError(t, json.Unmarshal(h.pusher.sent["op"][0], &msg))
	assert.Equal(t, websocket.TypeCase, msg.Type)
	assert.Equal(t, "assigned", msg.Action)
}

func TestDeliver_CancelledContext(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.router.Deliver(ctx, SystemNotice("Maintenance", "Down at noon", ""))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.log.entries)
}

func TestSubmit_DeliversInBackground(t *testing.T) {
	h := newHarness(t, nil, "op", "lead")
	h.router.Start()

	assert.True(t, h.router.Submit(SystemNotice("Maintenance", "Down at noon", "high")))
	h.router.Stop()

	push := h.log.byChannel(models.ChannelPush)
	assert.Len(t, push, 4)
	assert.Empty(t, h.log.byChannel(models.ChannelEmail))

	var msg websocket.Message
	require.NoError(t, json.Unmarshal(h.pusher.sent["op"][0], &msg))
	assert.Equal(t, websocket.TypeSystem, msg.Type)
	assert.Equal(t, "notification", msg.Action)
	assert.Equal(t, "high", msg.Priority)

	assert.False(t, h.router.Submit(SystemNotice("late", "", "")))
}

func TestBroadcastAlertUpdate(t *testing.T) {
	h := newHarness(t, nil, "lead")
	h.router.BroadcastAlertUpdate(models.Alert{ID: "a1", Severity: models.SeverityLow, Status: models.StatusAcknowledged}, "acknowledged")

	require.Len(t, h.pusher.rooms[websocket.RoomSecurityAlerts], 1)
	var msg websocket.Message
	require.NoError(t, json.Unmarshal(h.pusher.rooms[websocket.RoomSecurityAlerts][0], &msg))
	assert.Equal(t, "acknowledged", msg.Action)
	assert.Equal(t, "low", msg.Priority)
	assert.Empty(t, h.log.entries)
}

func TestDigestNotice(t *testing.T) {
	day := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	alerts := []models.Alert{
		{ID: "1", Severity: models.SeverityCritical, Status: models.StatusOpen, SLABreached: true},
		{ID: "2", Severity: models.SeverityLow, Status: models.StatusClosed},
	}
	n := Digest("u1", day, alerts)
	d, ok := n.EmailData.(email.DigestEmail)
	require.True(t, ok)
	assert.Equal(t, "2026-03-10", d.Date)
	assert.Equal(t, 2, d.TotalAlerts)
	assert.Equal(t, 1, d.CriticalAlerts)
	assert.Equal(t, 1, d.OpenAlerts)
	assert.Equal(t, 1, d.SLABreaches)
	assert.Equal(t, []string{"u1"}, n.Recipients)
}
