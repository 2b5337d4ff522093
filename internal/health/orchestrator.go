package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/watchtower/internal/model"
)

// Probe checks one dependency and reports its round-trip latency.
// A returned error marks the check as failed, unless it is a WarnError.
type Probe interface {
	Name() string
	Ping(ctx context.Context) (time.Duration, error)
}

// WarnError marks a check as degraded rather than failed
type WarnError struct {
	Reason string
}

func (e *WarnError) Error() string { return e.Reason }

// Config holds health orchestrator tuning parameters
type Config struct {
	Interval    time.Duration
	WarnLatency time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.WarnLatency <= 0 {
		c.WarnLatency = 500 * time.Millisecond
	}
}

// Orchestrator periodically runs a fixed battery of health checks and
// aggregates the results to a single state: any failed check makes the
// system unhealthy, else any warned check makes it degraded.
type Orchestrator struct {
	logger *zap.Logger
	cfg    Config
	probes []Probe

	mu     sync.RWMutex
	status model.HealthStatus

	now  func() time.Time
	stop chan struct{}
}

// NewOrchestrator creates a health orchestrator over the given probes
func NewOrchestrator(probes []Probe, cfg Config, logger *zap.Logger) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		logger: logger.Named("health"),
		cfg:    cfg,
		probes: probes,
		status: model.HealthStatus{State: model.HealthStateHealthy},
		now:    time.Now,
		stop:   make(chan struct{}),
	}
}

// Start launches the periodic check loop
func (o *Orchestrator) Start(ctx context.Context) error {
	o.logger.Info("Starting health orchestrator",
		zap.Duration("interval", o.cfg.Interval),
		zap.Int("probes", len(o.probes)))

	go o.checkLoop(ctx)
	return nil
}

// Stop stops the orchestrator
func (o *Orchestrator) Stop() {
	o.logger.Info("Stopping health orchestrator")
	close(o.stop)
}

// Status returns the latest aggregate health status
func (o *Orchestrator) Status() model.HealthStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// RunChecks executes the full battery once and updates the aggregate
// state. A probe that fails or panics is folded into a fail result;
// it never aborts the rest of the battery.
func (o *Orchestrator) RunChecks(ctx context.Context) model.HealthStatus {
	results := make([]model.CheckResult, 0, len(o.probes))
	for _, probe := range o.probes {
		results = append(results, o.runProbe(ctx, probe))
	}

	state := model.HealthStateHealthy
	for _, r := range results {
		if r.Outcome == model.CheckOutcomeFail {
			state = model.HealthStateUnhealthy
			break
		}
		if r.Outcome == model.CheckOutcomeWarn {
			state = model.HealthStateDegraded
		}
	}

	status := model.HealthStatus{
		State:     state,
		Checks:    results,
		CheckedAt: o.now(),
	}

	o.mu.Lock()
	previous := o.status.State
	o.status = status
	o.mu.Unlock()

	if previous != state {
		o.logger.Warn("Health state changed",
			zap.String("from", string(previous)),
			zap.String("to", string(state)))
	}

	return status
}

func (o *Orchestrator) runProbe(ctx context.Context, probe Probe) (result model.CheckResult) {
	result = model.CheckResult{
		Name:      probe.Name(),
		CheckedAt: o.now(),
	}

	defer func() {
		if r := recover(); r != nil {
			result.Outcome = model.CheckOutcomeFail
			result.Message = fmt.Sprintf("probe panicked: %v", r)
			o.logger.Error("Health probe panicked",
				zap.String("probe", probe.Name()),
				zap.Any("panic", r))
		}
	}()

	latency, err := probe.Ping(ctx)
	result.Latency = latency

	var warn *WarnError
	switch {
	case errors.As(err, &warn):
		result.Outcome = model.CheckOutcomeWarn
		result.Message = warn.Reason
	case err != nil:
		result.Outcome = model.CheckOutcomeFail
		result.Message = err.Error()
	case latency > o.cfg.WarnLatency:
		result.Outcome = model.CheckOutcomeWarn
		result.Message = fmt.Sprintf("latency %s above %s", latency, o.cfg.WarnLatency)
	default:
		result.Outcome = model.CheckOutcomePass
	}
	return result
}

func (o *Orchestrator) checkLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stop:
			return
		case <-ticker.C:
			o.RunChecks(ctx)
		}
	}
}
