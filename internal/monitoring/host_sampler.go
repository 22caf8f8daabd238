package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/isdelr/alertflow/internal/notify"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const highCPUCooldown = 15 * time.Minute

// HostSample is one reading of the host's resource usage.
type HostSample struct {
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryPercent float64   `json:"memoryPercent"`
	MemoryUsedMB  uint64    `json:"memoryUsedMb"`
	MemoryTotalMB uint64    `json:"memoryTotalMb"`
	TakenAt       time.Time `json:"takenAt"`
}

// Submitter queues a notice. *notify.Router satisfies it.
type Submitter interface {
	Submit(n notify.Notice) bool
}

// HostSampler periodically samples CPU and memory, keeps the latest reading
// for the health endpoint and warns everyone when CPU runs hot.
type HostSampler struct {
	notifier  Submitter
	interval  time.Duration
	threshold float64
	sample    func(ctx context.Context) (HostSample, error)
	now       func() time.Time

	mu        sync.RWMutex
	latest    *HostSample
	lastAlert time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// NewHostSampler creates a sampler. A threshold of zero disables the CPU notice.
func NewHostSampler(notifier Submitter, interval time.Duration, threshold float64) *HostSampler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &HostSampler{
		notifier:  notifier,
		interval:  interval,
		threshold: threshold,
		sample:    sampleHost,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Run samples until Stop is called.
func (h *HostSampler) Run() {
	log.Info().Dur("interval", h.interval).Msg("Starting host sampler...")
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// Run once immediately on start
	h.Sample(context.Background())

	for {
		select {
		case <-h.done:
			log.Info().Msg("Stopping host sampler.")
			return
		case <-ticker.C:
			h.Sample(context.Background())
		}
	}
}

// Stop halts Run.
func (h *HostSampler) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Latest returns the most recent sample, or nil before the first one.
func (h *HostSampler) Latest() *HostSample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return nil
	}
	s := *h.latest
	return &s
}

// Sample takes one reading now.
func (h *HostSampler) Sample(ctx context.Context) {
	s, err := h.sample(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("HostSampler: Failed to sample host")
		return
	}
	h.mu.Lock()
	h.latest = &s
	h.mu.Unlock()
	h.checkHighCPU(s)
}

func (h *HostSampler) checkHighCPU(s HostSample) {
	if h.threshold <= 0 || s.CPUPercent <= h.threshold {
		return
	}
	now := h.now()
	h.mu.Lock()
	if !h.lastAlert.IsZero() && now.Sub(h.lastAlert) < highCPUCooldown {
		h.mu.Unlock()
		return
	}
	h.lastAlert = now
	h.mu.Unlock()

	msg := fmt.Sprintf("High CPU usage (%.1f%%) detected on the alerting host.", s.CPUPercent)
	log.Warn().Float64("cpu", s.CPUPercent).Msg("HostSampler: High CPU usage")
	if h.notifier != nil {
		h.notifier.Submit(notify.SystemNotice("High CPU usage", msg, "high"))
	}
}

func sampleHost(ctx context.Context) (HostSample, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return HostSample{}, fmt.Errorf("cpu: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return HostSample{}, fmt.Errorf("memory: %w", err)
	}
	s := HostSample{
		MemoryPercent: vm.UsedPercent,
		MemoryUsedMB:  vm.Used / 1024 / 1024,
		MemoryTotalMB: vm.Total / 1024 / 1024,
		TakenAt:       time.Now().UTC(),
	}
	if len(percents) > 0 {
		s.CPUPercent = percents[0]
	}
	return s, nil
}
