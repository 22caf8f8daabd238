package email

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrQueueFull is reported when the outbound queue cannot take another job.
var ErrQueueFull = errors.New("email queue full")

// Sender delivers one request. *Registry satisfies it.
type Sender interface {
	Send(ctx context.Context, req *Request) error
	IsConfigured() bool
}

// Job is one message to deliver. OnComplete is called exactly once with the
// final outcome, nil on success.
type Job struct {
	To         []string
	Content    Content
	OnComplete func(err error)
}

// DispatcherConfig tunes the worker pool.
type DispatcherConfig struct {
	From      string
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Retry     RetryConfig
}

// Dispatcher drains a bounded queue of jobs with a fixed set of workers.
// Callers never wait on delivery.
type Dispatcher struct {
	sender Sender
	cfg    DispatcherConfig
	queue  chan Job

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup

	unconfiguredOnce sync.Once
}

// NewDispatcher creates a dispatcher. Call Start before Enqueue.
func NewDispatcher(sender Sender, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Dispatcher{sender: sender, cfg: cfg, queue: make(chan Job, cfg.QueueSize)}
}

// Start launches the workers.
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	log.Info().Int("workers", d.cfg.Workers).Bool("configured", d.Configured()).Msg("Email dispatcher started")
}

// Stop stops accepting jobs and waits for queued ones to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
	log.Info().Msg("Email dispatcher stopped")
}

// Configured reports whether any provider can send.
func (d *Dispatcher) Configured() bool {
	return d.sender != nil && d.sender.IsConfigured()
}

// Enqueue hands job to the workers. It returns false, without calling
// OnComplete, when no provider is configured. A full queue or a stopped
// dispatcher is reported through OnComplete.
func (d *Dispatcher) Enqueue(job Job) bool {
	if !d.Configured() {
		d.unconfiguredOnce.Do(func() {
			log.Warn().Msg("Email is not configured, skipping email notifications")
		})
		return false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		complete(job, errors.New("email dispatcher stopped"))
		return true
	}
	select {
	case d.queue <- job:
	default:
		log.Error().Strs("to", job.To).Str("subject", job.Content.Subject).Msg("Email queue full, dropping message")
		complete(job, ErrQueueFull)
	}
	return true
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		complete(job, d.deliver(job))
	}
}

func (d *Dispatcher) deliver(job Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("email send panicked: %v", p)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	req := &Request{From: d.cfg.From, To: job.To, Subject: job.Content.Subject, Text: job.Content.Text, HTML: job.Content.HTML}
	err = WithRetry(ctx, d.cfg.Retry, "send email", func() error {
		return d.sender.Send(ctx, req)
	})
	if err != nil {
		log.Error().Err(err).Strs("to", job.To).Str("subject", job.Content.Subject).Msg("Failed to send email")
	}
	return err
}

func complete(job Job, err error) {
	if job.OnComplete != nil {
		job.OnComplete(err)
	}
}
