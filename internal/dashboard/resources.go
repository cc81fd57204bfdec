package dashboard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"whalewatch/internal/ring"
	"whalewatch/logger"
)

// resourceSample is one reading of host CPU, memory and disk usage.
type resourceSample struct {
	Timestamp   time.Time `json:"timestamp"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryUsed  uint64    `json:"memory_used"`
	MemoryTotal uint64    `json:"memory_total"`
	MemoryPct   float64   `json:"memory_percent"`
	DiskUsed    uint64    `json:"disk_used"`
	DiskTotal   uint64    `json:"disk_total"`
	DiskPct     float64   `json:"disk_percent"`
}

// resourceSampler records host usage every interval into a bounded ring.
// The CPU reading itself spans the interval.
type resourceSampler struct {
	mu       sync.RWMutex
	samples  *ring.Ring[resourceSample]
	interval time.Duration
	diskPath string

	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup
	log     *logger.Entry
}

var (
	cpuPercentFn = func(ctx context.Context, interval time.Duration) ([]float64, error) {
		return cpu.PercentWithContext(ctx, interval, false)
	}
	memoryStatsFn = mem.VirtualMemoryWithContext
	diskUsageFn   = disk.UsageWithContext
)

func newResourceSampler(limit int, interval time.Duration, diskPath string, log *logger.Log) *resourceSampler {
	if limit <= 0 {
		limit = 200
	}
	if interval <= 0 {
		interval = time.Second
	}
	if diskPath == "" {
		diskPath = "/"
	}
	return &resourceSampler{
		samples:  ring.New[resourceSample](limit),
		interval: interval,
		diskPath: diskPath,
		log:      log.WithComponent("resource_sampler"),
	}
}

func (s *resourceSampler) start(ctx context.Context) {
	if s == nil || s.running.Swap(true) {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		for ctx.Err() == nil {
			sample, err := s.sample(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.WithError(err).Debug("failed to sample host resources")
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.interval):
				}
				continue
			}
			s.mu.Lock()
			s.samples.Push(sample)
			s.mu.Unlock()
		}
	}()
}

func (s *resourceSampler) sample(ctx context.Context) (resourceSample, error) {
	cpuSamples, err := cpuPercentFn(ctx, s.interval)
	if err != nil {
		return resourceSample{}, err
	}
	memStats, err := memoryStatsFn(ctx)
	if err != nil {
		return resourceSample{}, err
	}
	diskStats, err := diskUsageFn(ctx, s.diskPath)
	if err != nil {
		return resourceSample{}, err
	}

	out := resourceSample{
		Timestamp:   time.Now(),
		MemoryUsed:  memStats.Used,
		MemoryTotal: memStats.Total,
		MemoryPct:   memStats.UsedPercent,
		DiskUsed:    diskStats.Used,
		DiskTotal:   diskStats.Total,
		DiskPct:     diskStats.UsedPercent,
	}
	if len(cpuSamples) > 0 {
		out.CPUPercent = cpuSamples[0]
	}
	return out, nil
}

func (s *resourceSampler) stop() {
	if s == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *resourceSampler) snapshot() []resourceSample {
	if s == nil {
		return []resourceSample{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if out := s.samples.Items(); out != nil {
		return out
	}
	return []resourceSample{}
}
