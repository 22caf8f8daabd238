// Package monitoring runs the background jobs: the SLA sweep, the daily
// digest and the host health sampler.
package monitoring

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Job is one scheduled unit of work. ctx is cancelled when the scheduler stops.
type Job func(ctx context.Context)

// Scheduler runs jobs on cron specs. A job still running when its next tick
// fires is skipped rather than overlapped.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	runNow  []func()
}

// NewScheduler creates an idle scheduler.
func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job under spec, which accepts the standard five fields and
// descriptors such as "@every 1m". With immediate set the job also runs once
// as soon as the scheduler starts.
func (s *Scheduler) Add(name, spec string, job Job, immediate bool) error {
	run := func() {
		log.Debug().Str("job", name).Msg("Running scheduled job")
		job(s.ctx)
	}
	if _, err := s.cron.AddFunc(spec, run); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	log.Info().Str("job", name).Str("spec", spec).Msg("Scheduled background job")
	if immediate {
		s.mu.Lock()
		s.runNow = append(s.runNow, run)
		s.mu.Unlock()
	}
	return nil
}

// Start begins ticking.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	log.Info().Msg("Starting background scheduler...")
	for _, run := range s.runNow {
		s.wg.Add(1)
		go func(run func()) {
			defer s.wg.Done()
			run()
		}(run)
	}
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	log.Info().Msg("Stopping background scheduler.")
}
