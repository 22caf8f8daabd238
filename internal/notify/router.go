package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/isdelr/alertflow/internal/email"
	"github.com/isdelr/alertflow/internal/models"
	"github.com/isdelr/alertflow/internal/websocket"
	"github.com/rs/zerolog/log"
)

// errNoLiveConnection is logged for push attempts to users with no socket.
const errNoLiveConnection = "no live connection"

// Pusher is the realtime side. *websocket.Hub satisfies it.
type Pusher interface {
	SendToUser(userID string, msg []byte) int
	BroadcastToRoom(room string, msg []byte) int
}

// Mailer queues outbound email. *email.Dispatcher satisfies it.
type Mailer interface {
	Enqueue(job email.Job) bool
}

// Directory looks up who should hear about something.
type Directory interface {
	GetActiveUsers(ids []string) ([]models.User, error)
	ListByRoles(roles ...string) ([]models.User, error)
	ListActive() ([]models.User, error)
}

// Preferences returns a user's stored preferences, or nil when none exist.
type Preferences interface {
	Get(userID string) (*models.NotificationPreference, error)
}

// Log records delivery attempts.
type Log interface {
	Record(n models.Notification) (models.Notification, error)
}

// RouterConfig tunes the background pool used by Submit.
type RouterConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Location  *time.Location // fallback zone for quiet hours
}

// Result summarizes one Deliver call.
type Result struct {
	Recipients  int
	PushSent    int
	EmailQueued int
}

// Router fans notices out to every channel each recipient wants.
type Router struct {
	pusher   Pusher
	mailer   Mailer
	users    Directory
	prefs    Preferences
	log      Log
	renderer *email.Renderer
	cfg      RouterConfig
	now      func() time.Time

	jobs    chan Notice
	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewRouter creates a router. Call Start before Submit.
func NewRouter(pusher Pusher, mailer Mailer, users Directory, prefs Preferences, l Log, renderer *email.Renderer, cfg RouterConfig) *Router {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Router{
		pusher:   pusher,
		mailer:   mailer,
		users:    users,
		prefs:    prefs,
		log:      l,
		renderer: renderer,
		cfg:      cfg,
		now:      time.Now,
		jobs:     make(chan Notice, cfg.QueueSize),
	}
}

// SetClock replaces the clock used for quiet hours.
func (r *Router) SetClock(now func() time.Time) { r.now = now }

// Start launches the Submit workers.
func (r *Router) Start() {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	log.Info().Int("workers", r.cfg.Workers).Msg("Notification router started")
}

// Stop refuses new notices and waits for queued ones to finish.
func (r *Router) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.jobs)
	r.mu.Unlock()
	r.wg.Wait()
	log.Info().Msg("Notification router stopped")
}

// Submit queues n for background delivery. It never blocks; false means the
// notice was dropped.
func (r *Router) Submit(n Notice) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		log.Warn().Str("kind", string(n.Kind)).Msg("Notification router stopped, dropping notice")
		return false
	}
	select {
	case r.jobs <- n:
		return true
	default:
		log.Error().Str("kind", string(n.Kind)).Str("title", n.Title).Msg("Notification queue full, dropping notice")
		return false
	}
}

func (r *Router) worker() {
	defer r.wg.Done()
	for n := range r.jobs {
		r.run(n)
	}
}

func (r *Router) run(n Notice) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("kind", string(n.Kind)).Msg("Notification delivery panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()
	if _, err := r.Deliver(ctx, n); err != nil {
		log.Error().Err(err).Str("kind", string(n.Kind)).Str("title", n.Title).Msg("Notification delivery failed")
	}
}

// Deliver sends n to its audience now. One recipient failing never stops the
// others; a cancelled ctx stops before the next recipient.
func (r *Router) Deliver(ctx context.Context, n Notice) (Result, error) {
	var res Result
	users, err := r.audience(n)
	if err != nil {
		return res, fmt.Errorf("resolve audience: %w", err)
	}

	payload, err := r.pushPayload(n)
	if err != nil {
		return res, err
	}
	data := ""
	if len(n.Data) > 0 {
		if b, err := json.Marshal(n.Data); err == nil {
			data = string(b)
		}
	}

	now := r.now()
	var content *email.Content
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Recipients++

		d := r.decide(n, u.ID, now)
		if d.Push && payload != nil {
			sent := r.pusher.SendToUser(u.ID, payload)
			entry := r.entry(n, u.ID, models.ChannelPush, data)
			entry.IsDelivered = sent > 0
			if sent == 0 {
				entry.DeliveryError = errNoLiveConnection
			} else {
				res.PushSent++
			}
			r.record(entry)
		}

		if d.Email && u.Email != "" {
			if content == nil {
				c, err := r.renderEmail(n)
				if err != nil {
					entry := r.entry(n, u.ID, models.ChannelEmail, data)
					entry.DeliveryError = err.Error()
					r.record(entry)
					continue
				}
				content = &c
			}
			entry := r.entry(n, u.ID, models.ChannelEmail, data)
			job := email.Job{
				To:      []string{u.Email},
				Content: *content,
				OnComplete: func(err error) {
					entry.IsDelivered = err == nil
					if err != nil {
						entry.DeliveryError = err.Error()
					}
					r.record(entry)
				},
			}
			if r.mailer != nil && r.mailer.Enqueue(job) {
				res.EmailQueued++
			}
		}
	}

	log.Debug().
		Str("kind", string(n.Kind)).
		Int("recipients", res.Recipients).
		Int("push", res.PushSent).
		Int("email", res.EmailQueued).
		Msg("Notice delivered")
	return res, nil
}

// BroadcastAlertUpdate pushes an alert lifecycle change to everyone watching
// the security alerts room. Broadcasts are not logged per user.
func (r *Router) BroadcastAlertUpdate(a models.Alert, action string) int {
	msg := websocket.NewMessage(websocket.TypeAlert, action, a.Summary())
	msg.Priority = a.Severity.Priority()
	b, err := msg.Encode()
	if err != nil {
		log.Error().Err(err).Str("alert_id", a.ID).Msg("Failed to encode alert update")
		return 0
	}
	return r.pusher.BroadcastToRoom(websocket.RoomSecurityAlerts, b)
}

// Escalations reach supervisors and admins. Alerts and case updates reach
// the security staff. System notices reach everyone.
func (r *Router) audience(n Notice) ([]models.User, error) {
	if len(n.Recipients) > 0 {
		return r.users.GetActiveUsers(n.Recipients)
	}
	switch n.Kind {
	case models.KindSLABreach:
		return r.users.ListByRoles(models.RoleSupervisor, models.RoleAdmin)
	case models.KindAlert, models.KindCaseUpdate:
		return r.users.ListByRoles(models.RoleSecurityLead, models.RoleSupervisor, models.RoleAdmin)
	case models.KindSystem:
		return r.users.ListActive()
	}
	return nil, errors.New("notice has no audience")
}

func (r *Router) decide(n Notice, userID string, now time.Time) Decision {
	if n.Escalation {
		return Decision{Push: true, Email: true, Sound: true}
	}
	p, err := r.prefs.Get(userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to load preferences, using defaults")
		p = nil
	}
	return Resolve(p, n.Kind, n.Severity, now, r.cfg.Location)
}

func (r *Router) pushPayload(n Notice) ([]byte, error) {
	var typ string
	switch n.Kind {
	case models.KindAlert:
		typ = websocket.TypeAlert
	case models.KindCaseUpdate:
		typ = websocket.TypeCase
	case models.KindSLABreach:
		typ = websocket.TypeSLABreach
	case models.KindSystem:
		typ = websocket.TypeSystem
	default:
		return nil, nil
	}
	msg := websocket.NewMessage(typ, n.Action, n.Data)
	msg.Priority = n.Priority
	if n.Kind == models.KindSystem || n.Kind == models.KindSLABreach {
		msg.Message = n.Message
	}
	b, err := msg.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode push payload: %w", err)
	}
	return b, nil
}

func (r *Router) renderEmail(n Notice) (email.Content, error) {
	if r.renderer == nil {
		return email.Content{}, errors.New("no email renderer")
	}
	switch d := n.EmailData.(type) {
	case email.AlertEmail:
		return r.renderer.Alert(d)
	case email.CaseEmail:
		return r.renderer.CaseUpdate(d)
	case email.BreachEmail:
		return r.renderer.SLABreach(d)
	case email.DigestEmail:
		return r.renderer.Digest(d)
	default:
		return r.renderer.Notice(email.NoticeEmail{Title: n.Title, Message: n.Message})
	}
}

func (r *Router) entry(n Notice, userID string, ch models.Channel, data string) models.Notification {
	return models.Notification{
		UserID:   userID,
		Kind:     n.Kind,
		Channel:  ch,
		Title:    n.Title,
		Message:  n.Message,
		Data:     data,
		Priority: n.Priority,
	}
}

func (r *Router) record(n models.Notification) {
	if _, err := r.log.Record(n); err != nil {
		log.Error().Err(err).Str("user_id", n.UserID).Str("channel", string(n.Channel)).Msg("Failed to record notification")
	}
}
