package sampler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/watchtower/internal/event"
	"github.com/t77yq/watchtower/internal/metrics"
	"github.com/t77yq/watchtower/internal/model"
)

// SystemReader reads real resource gauges via gopsutil
type SystemReader struct {
	diskPath string
}

// NewSystemReader creates a reader sampling the OS. diskPath defaults
// to the root filesystem.
func NewSystemReader(diskPath string) *SystemReader {
	if diskPath == "" {
		diskPath = "/"
	}
	return &SystemReader{diskPath: diskPath}
}

// Read samples CPU, memory, disk and load
func (r *SystemReader) Read(ctx context.Context) (model.ResourceGauges, error) {
	var gauges model.ResourceGauges

	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return gauges, fmt.Errorf("failed to get CPU usage: %w", err)
	}
	if len(cpuPercent) > 0 {
		gauges.CPUPercent = cpuPercent[0]
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return gauges, fmt.Errorf("failed to get memory usage: %w", err)
	}
	gauges.MemoryPercent = memInfo.UsedPercent

	diskInfo, err := disk.UsageWithContext(ctx, r.diskPath)
	if err != nil {
		return gauges, fmt.Errorf("failed to get disk usage: %w", err)
	}
	gauges.DiskPercent = diskInfo.UsedPercent

	loadAvg, err := load.AvgWithContext(ctx)
	if err != nil {
		return gauges, fmt.Errorf("failed to get load average: %w", err)
	}
	gauges.Load1 = loadAvg.Load1

	return gauges, nil
}

// FakeReader returns fixed gauges. Intended for tests and composition
// without OS access.
type FakeReader struct {
	Gauges model.ResourceGauges
	Err    error
}

func (r *FakeReader) Read(ctx context.Context) (model.ResourceGauges, error) {
	return r.Gauges, r.Err
}

// ResourceBudget bounds acceptable resource usage percentages
type ResourceBudget struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
}

// ResourceSampler periodically snapshots system resources into the
// metrics aggregator and the event bus, flagging budget breaches.
type ResourceSampler struct {
	logger     *zap.Logger
	reader     event.ResourceReader
	aggregator *metrics.Aggregator
	bus        *event.Bus
	interval   time.Duration

	mu     sync.RWMutex
	budget ResourceBudget
	latest model.ResourceGauges

	stop chan struct{}
}

// NewResourceSampler creates a resource sampler. bus may be nil.
func NewResourceSampler(reader event.ResourceReader, aggregator *metrics.Aggregator, bus *event.Bus, interval time.Duration, budget ResourceBudget, logger *zap.Logger) *ResourceSampler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &ResourceSampler{
		logger:     logger.Named("resource-sampler"),
		reader:     reader,
		aggregator: aggregator,
		bus:        bus,
		interval:   interval,
		budget:     budget,
		stop:       make(chan struct{}),
	}
}

// Start launches the sampling loop
func (s *ResourceSampler) Start(ctx context.Context) error {
	s.logger.Info("Starting resource sampler",
		zap.Duration("interval", s.interval))

	go s.sampleLoop(ctx)
	return nil
}

// Stop stops the sampler
func (s *ResourceSampler) Stop() {
	s.logger.Info("Stopping resource sampler")
	close(s.stop)
}

// Latest returns the most recent sample
func (s *ResourceSampler) Latest() model.ResourceGauges {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// SetBudget replaces the resource budget
func (s *ResourceSampler) SetBudget(budget ResourceBudget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budget = budget
}

func (s *ResourceSampler) sampleLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sample(ctx)
		}
	}
}

// Sample reads the gauges once, records them as metrics, and emits
// budget-breach events
func (s *ResourceSampler) Sample(ctx context.Context) {
	gauges, err := s.reader.Read(ctx)
	if err != nil {
		s.logger.Error("Failed to read resource gauges", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.latest = gauges
	budget := s.budget
	s.mu.Unlock()

	s.aggregator.SetGauge("system.cpu.usage", gauges.CPUPercent, nil)
	s.aggregator.SetGauge("system.memory.usage", gauges.MemoryPercent, nil)
	s.aggregator.SetGauge("system.disk.usage", gauges.DiskPercent, nil)
	s.aggregator.SetGauge("system.load1", gauges.Load1, nil)

	if s.bus != nil {
		s.bus.Track(model.EventTypeSystem, "resource-sampler", map[string]interface{}{
			"cpu_percent":    gauges.CPUPercent,
			"memory_percent": gauges.MemoryPercent,
			"disk_percent":   gauges.DiskPercent,
			"load1":          gauges.Load1,
		}, model.EventSeverityDebug, nil)

		s.checkBudget(budget, gauges)
	}

	s.logger.Debug("Resource sample collected",
		zap.Float64("cpu_percent", gauges.CPUPercent),
		zap.Float64("memory_percent", gauges.MemoryPercent))
}

func (s *ResourceSampler) checkBudget(budget ResourceBudget, gauges model.ResourceGauges) {
	breaches := map[string][2]float64{}
	if budget.CPUPercent > 0 && gauges.CPUPercent > budget.CPUPercent {
		breaches["cpu"] = [2]float64{gauges.CPUPercent, budget.CPUPercent}
	}
	if budget.MemoryPercent > 0 && gauges.MemoryPercent > budget.MemoryPercent {
		breaches["memory"] = [2]float64{gauges.MemoryPercent, budget.MemoryPercent}
	}
	if budget.DiskPercent > 0 && gauges.DiskPercent > budget.DiskPercent {
		breaches["disk"] = [2]float64{gauges.DiskPercent, budget.DiskPercent}
	}

	for resource, vals := range breaches {
		s.bus.Track(model.EventTypeSystem, "resource-sampler", map[string]interface{}{
			"resource": resource,
			"usage":    vals[0],
			"budget":   vals[1],
		}, model.EventSeverityWarning, []string{"budget-breach"})
	}
}
