package monitoring

import (
	"context"
	"time"

	"github.com/isdelr/alertflow/internal/models"
	"github.com/isdelr/alertflow/internal/notify"
	"github.com/rs/zerolog/log"
)

// DigestUsers lists the people who may receive a digest.
type DigestUsers interface {
	ListActive() ([]models.User, error)
}

// DigestAlerts lists alerts raised since a point in time.
type DigestAlerts interface {
	ListSince(since time.Time) ([]models.Alert, error)
}

// DigestJob emails each opted-in user a summary of the last day's alerts.
type DigestJob struct {
	users    DigestUsers
	prefs    notify.Preferences
	alerts   DigestAlerts
	notifier Deliverer
	now      func() time.Time
}

// NewDigestJob creates the job.
func NewDigestJob(users DigestUsers, prefs notify.Preferences, alerts DigestAlerts, notifier Deliverer) *DigestJob {
	return &DigestJob{users: users, prefs: prefs, alerts: alerts, notifier: notifier, now: time.Now}
}

// SetClock replaces the job's clock.
func (j *DigestJob) SetClock(now func() time.Time) { j.now = now }

// Run is the scheduler entry point.
func (j *DigestJob) Run(ctx context.Context) {
	n, err := j.Send(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Daily digest failed")
		return
	}
	log.Info().Int("recipients", n).Msg("Daily digest sent")
}

// Send delivers the digest and returns the number of users it went to.
func (j *DigestJob) Send(ctx context.Context) (int, error) {
	now := j.now().UTC()
	users, err := j.users.ListActive()
	if err != nil {
		return 0, err
	}
	alerts, err := j.alerts.ListSince(now.Add(-24 * time.Hour))
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		p, err := j.prefs.Get(u.ID)
		if err != nil {
			log.Warn().Err(err).Str("user_id", u.ID).Msg("Failed to load preferences for digest")
			continue
		}
		if !notify.Resolve(p, models.KindDigest, "", now, time.UTC).Email {
			continue
		}
		res, err := j.notifier.Deliver(ctx, notify.Digest(u.ID, now, alerts))
		if err != nil {
			log.Error().Err(err).Str("user_id", u.ID).Msg("Failed to send digest")
			continue
		}
		sent += res.EmailQueued
	}
	return sent, nil
}
