package monitoring

import (
	"context"
	"time"

	"github.com/isdelr/alertflow/internal/models"
	"github.com/isdelr/alertflow/internal/notify"
	"github.com/rs/zerolog/log"
)

// SLAAlerts is the part of the alert service the SLA sweep needs.
type SLAAlerts interface {
	ListSLACandidates() ([]models.Alert, error)
	MarkBreached(id string, now time.Time) (bool, error)
}

// Deliverer sends a notice synchronously. *notify.Router satisfies it.
type Deliverer interface {
	Deliver(ctx context.Context, n notify.Notice) (notify.Result, error)
}

// SLAMonitor flags alerts that stayed open or acknowledged past their SLA
// timer and escalates each one exactly once.
type SLAMonitor struct {
	alerts   SLAAlerts
	notifier Deliverer
	now      func() time.Time
}

// NewSLAMonitor creates a monitor.
func NewSLAMonitor(alerts SLAAlerts, notifier Deliverer) *SLAMonitor {
	return &SLAMonitor{alerts: alerts, notifier: notifier, now: time.Now}
}

// SetClock replaces the monitor's clock.
func (m *SLAMonitor) SetClock(now func() time.Time) { m.now = now }

// Run is the scheduler entry point.
func (m *SLAMonitor) Run(ctx context.Context) {
	if _, err := m.Sweep(ctx); err != nil {
		log.Error().Err(err).Msg("SLA sweep failed")
	}
}

// Sweep checks every candidate once and returns how many it breached.
// MarkBreached re-checks status and flag, so an alert acknowledged or
// closed between the listing and the update is left alone.
func (m *SLAMonitor) Sweep(ctx context.Context) (int, error) {
	candidates, err := m.alerts.ListSLACandidates()
	if err != nil {
		return 0, err
	}
	now := m.now().UTC()
	breached := 0
	for _, a := range candidates {
		if err := ctx.Err(); err != nil {
			return breached, err
		}
		deadline, ok := a.SLADeadline()
		if !ok || !now.After(deadline) {
			continue
		}
		changed, err := m.alerts.MarkBreached(a.ID, now)
		if err != nil {
			log.Error().Err(err).Str("alert_id", a.ID).Msg("Failed to mark SLA breach")
			continue
		}
		if !changed {
			continue
		}
		breached++
		a.SLABreached = true
		log.Warn().Str("alert_id", a.ID).Str("severity", string(a.Severity)).Time("deadline", deadline).Msg("SLA breached")

		if _, err := m.notifier.Deliver(ctx, notify.SLABreach(a)); err != nil {
			log.Error().Err(err).Str("alert_id", a.ID).Msg("Failed to escalate SLA breach")
		}
	}
	return breached, nil
}
