// Package pipeline turns ingested events into alerts: it persists the event,
// evaluates the rule set against it, stores the resulting alerts and hands
// them to the notification router.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/isdelr/alertflow/internal/models"
	"github.com/isdelr/alertflow/internal/notify"
	"github.com/isdelr/alertflow/internal/rules"
	"github.com/isdelr/alertflow/internal/services"
	"github.com/rs/zerolog/log"
)

// EventStore is the part of the event service the processor needs.
type EventStore interface {
	CreateEvent(ev models.Event) (models.Event, error)
	GetEvent(id string) (models.Event, error)
	RecentForEntity(entityType, entityID, excludeID string, since time.Time, limit int) ([]models.Event, error)
	ClaimEvaluation(id string, at time.Time) (bool, error)
	ReleaseEvaluation(id string) error
	PendingEvaluation(after models.Event, limit int) ([]models.Event, error)
}

// EntityStore returns the latest snapshot of an entity, or nil.
type EntityStore interface {
	Get(entityType, entityID string) (*models.EntitySnapshot, error)
}

// AlertStore persists alerts raised by rules.
type AlertStore interface {
	CreateFromMatch(ev models.Event, m rules.Match) (models.Alert, error)
}

// Evaluator runs the rule set. *rules.Registry satisfies it.
type Evaluator interface {
	Evaluate(ev models.Event, ctx rules.Context) ([]rules.Match, []error)
}

// Notifier queues notices without waiting. *notify.Router satisfies it.
type Notifier interface {
	Submit(n notify.Notice) bool
}

// Config tunes evaluation.
type Config struct {
	Workers      int
	QueueSize    int
	RecentWindow time.Duration
	RecentLimit  int
}

// Result is the outcome of evaluating one event.
type Result struct {
	Event      models.Event   `json:"event"`
	Alerts     []models.Alert `json:"alerts"`
	Suppressed int            `json:"suppressed"`
	RuleErrors int            `json:"ruleErrors"`
	Queued     bool           `json:"queued"`
}

// Processor evaluates events. Urgent events are evaluated on the caller's
// goroutine; the rest go through a bounded queue.
type Processor struct {
	events   EventStore
	entities EntityStore
	alerts   AlertStore
	rules    Evaluator
	notifier Notifier
	cfg      Config
	now      func() time.Time

	queue   chan models.Event
	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewProcessor creates a processor. Call Start to run the queue workers.
func NewProcessor(events EventStore, entities EntityStore, alerts AlertStore, evaluator Evaluator, notifier Notifier, cfg Config) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 24 * time.Hour
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 10
	}
	return &Processor{
		events:   events,
		entities: entities,
		alerts:   alerts,
		rules:    evaluator,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		queue:    make(chan models.Event, cfg.QueueSize),
	}
}

// SetClock replaces the processor's clock.
func (p *Processor) SetClock(now func() time.Time) { p.now = now }

// Start launches the workers and re-queues events that were stored but never
// evaluated, for example because the process stopped mid-way.
func (p *Processor) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.recoverPending()
	}()
	log.Info().Int("workers", p.cfg.Workers).Msg("Event processor started")
}

// Stop refuses new queued work and waits for the workers to drain the queue.
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
	log.Info().Msg("Event processor stopped")
}

// Ingest stores ev and evaluates it. The returned Result holds the alerts
// when evaluation happened inline; Queued reports background evaluation.
func (p *Processor) Ingest(ev models.Event) (Result, error) {
	created, err := p.events.CreateEvent(ev)
	if err != nil {
		return Result{}, err
	}
	log.Info().Str("event_id", created.ID).Str("type", string(created.Type)).Str("severity", string(created.Severity)).Msg("Event ingested")

	if !created.Urgent() && p.enqueue(created) {
		return Result{Event: created, Queued: true}, nil
	}
	return p.process(created, true)
}

// Reevaluate runs the rule set again against a stored event. Alerts already
// raised for it within the dedup window are suppressed.
func (p *Processor) Reevaluate(id string) (Result, error) {
	ev, err := p.events.GetEvent(id)
	if err != nil {
		return Result{}, err
	}
	return p.process(ev, false)
}

func (p *Processor) enqueue(ev models.Event) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	select {
	case p.queue <- ev:
		return true
	default:
		log.Warn().Str("event_id", ev.ID).Msg("Evaluation queue full, evaluating inline")
		return false
	}
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for ev := range p.queue {
		p.processLogged(ev)
	}
}

func (p *Processor) recoverPending() {
	n := p.drainPending(context.Background())
	if n > 0 {
		log.Info().Int("count", n).Msg("Evaluated pending events")
	}
}

// Sweep evaluates every event still waiting for evaluation, including ones
// whose earlier attempt failed to store its alerts. It runs as a scheduled
// job and returns early when ctx is cancelled or the processor stops.
func (p *Processor) Sweep(ctx context.Context) {
	if n := p.drainPending(ctx); n > 0 {
		log.Info().Int("count", n).Msg("Pending event sweep finished")
	}
}

// drainPending pages through unevaluated events in QueueSize batches and
// returns how many it looked at.
func (p *Processor) drainPending(ctx context.Context) int {
	var after models.Event
	total := 0
	for {
		batch, err := p.events.PendingEvaluation(after, p.cfg.QueueSize)
		if err != nil {
			log.Error().Err(err).Msg("Failed to load events pending evaluation")
			return total
		}
		if len(batch) == 0 {
			return total
		}
		for _, ev := range batch {
			p.processLogged(ev)
		}
		total += len(batch)
		after = batch[len(batch)-1]

		if ctx.Err() != nil || p.isStopped() {
			return total
		}
	}
}

func (p *Processor) isStopped() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stopped
}

func (p *Processor) processLogged(ev models.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("event_id", ev.ID).Msg("Event evaluation panicked")
		}
	}()
	if _, err := p.process(ev, true); err != nil {
		log.Error().Err(err).Str("event_id", ev.ID).Msg("Event evaluation failed")
	}
}

// process evaluates ev. With claim set the event is evaluated once across
// workers and restarts; a lost claim returns an empty result. When an alert
// cannot be stored the claim is released so a later sweep retries the event.
func (p *Processor) process(ev models.Event, claim bool) (Result, error) {
	res := Result{Event: ev}
	now := p.now().UTC()

	if claim {
		ok, err := p.events.ClaimEvaluation(ev.ID, now)
		if err != nil {
			return res, err
		}
		if !ok {
			log.Debug().Str("event_id", ev.ID).Msg("Event already evaluated")
			return res, nil
		}
	}

	matches, ruleErrs := p.rules.Evaluate(ev, p.context(ev, now))
	res.RuleErrors = len(ruleErrs)

	var errs []error
	for _, m := range matches {
		alert, err := p.alerts.CreateFromMatch(ev, m)
		if errors.Is(err, services.ErrDuplicateAlertSuppressed) {
			res.Suppressed++
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", m.Rule.ID, err))
			continue
		}
		res.Alerts = append(res.Alerts, alert)
		log.Info().Str("alert_id", alert.ID).Str("rule_id", alert.RuleID).Str("severity", string(alert.Severity)).Str("event_id", ev.ID).Msg("Alert created")
		if p.notifier != nil {
			p.notifier.Submit(notify.AlertCreated(alert))
		}
	}
	if len(errs) > 0 && claim {
		if err := p.events.ReleaseEvaluation(ev.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return res, errors.Join(errs...)
}

// context gathers what rules may read besides the event. Lookup failures
// degrade to an empty context rather than skipping evaluation.
func (p *Processor) context(ev models.Event, now time.Time) rules.Context {
	ctx := rules.Context{Now: now}
	if ev.EntityType == "" || ev.EntityID == "" {
		return ctx
	}
	snap, err := p.entities.Get(ev.EntityType, ev.EntityID)
	if err != nil {
		log.Warn().Err(err).Str("event_id", ev.ID).Msg("Failed to load entity snapshot")
	}
	ctx.Entity = snap

	recent, err := p.events.RecentForEntity(ev.EntityType, ev.EntityID, ev.ID, now.Add(-p.cfg.RecentWindow), p.cfg.RecentLimit)
	if err != nil {
		log.Warn().Err(err).Str("event_id", ev.ID).Msg("Failed to load recent events")
	}
	ctx.Recent = recent
	return ctx
}
