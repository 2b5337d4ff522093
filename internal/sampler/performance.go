package sampler

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/watchtower/internal/event"
	"github.com/t77yq/watchtower/internal/metrics"
	"github.com/t77yq/watchtower/internal/model"
)

const (
	metricResponseTime = "http.response_time"
	metricQueryTime    = "db.query_time"
)

// LatencyBudget bounds acceptable latency for a named timing
type LatencyBudget struct {
	Warn time.Duration
	Fail time.Duration
}

// PerformanceSampler ingests request, query and frontend timing
// observations, feeding the metrics aggregator and event bus and
// flagging latency budget breaches.
type PerformanceSampler struct {
	logger     *zap.Logger
	aggregator *metrics.Aggregator
	bus        *event.Bus

	mu      sync.RWMutex
	budgets map[string]LatencyBudget
}

// NewPerformanceSampler creates a performance sampler. bus may be nil.
func NewPerformanceSampler(aggregator *metrics.Aggregator, bus *event.Bus, logger *zap.Logger) *PerformanceSampler {
	s := &PerformanceSampler{
		logger:     logger.Named("performance-sampler"),
		aggregator: aggregator,
		bus:        bus,
		budgets:    make(map[string]LatencyBudget),
	}

	aggregator.Declare(model.MetricDefinition{
		Name: metricResponseTime,
		Type: model.MetricTypeHistogram,
		Unit: "ms",
	})
	aggregator.Declare(model.MetricDefinition{
		Name: metricQueryTime,
		Type: model.MetricTypeHistogram,
		Unit: "ms",
	})

	return s
}

// SetBudget declares a latency budget for a metric name
func (s *PerformanceSampler) SetBudget(metric string, budget LatencyBudget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgets[metric] = budget
}

// ObserveRequest records one HTTP request observation
func (s *PerformanceSampler) ObserveRequest(route string, status int, duration time.Duration) {
	ms := float64(duration.Milliseconds())

	s.aggregator.RecordHistogram(metricResponseTime, ms, map[string]string{
		"route":  route,
		"status": strconv.Itoa(status),
	})

	if s.bus != nil {
		severity := model.EventSeverityInfo
		if status >= 500 {
			severity = model.EventSeverityError
		}
		s.bus.Track(model.EventTypePerformance, "performance-sampler", map[string]interface{}{
			"route":       route,
			"status":      status,
			"duration_ms": ms,
		}, severity, nil)
	}

	s.checkBudget(metricResponseTime, route, duration)
}

// ObserveQuery records one database query observation
func (s *PerformanceSampler) ObserveQuery(operation string, duration time.Duration) {
	ms := float64(duration.Milliseconds())

	s.aggregator.RecordHistogram(metricQueryTime, ms, map[string]string{
		"operation": operation,
	})

	if s.bus != nil {
		s.bus.Track(model.EventTypePerformance, "performance-sampler", map[string]interface{}{
			"operation":   operation,
			"duration_ms": ms,
		}, model.EventSeverityDebug, nil)
	}

	s.checkBudget(metricQueryTime, operation, duration)
}

// ObserveTiming records a named frontend timing such as a Web Vitals
// measurement (lcp, fid, cls, ttfb)
func (s *PerformanceSampler) ObserveTiming(name string, ms float64) {
	metric := "frontend." + name
	s.aggregator.RecordHistogram(metric, ms, nil)

	if s.bus != nil {
		s.bus.Track(model.EventTypePerformance, "performance-sampler", map[string]interface{}{
			"timing":      name,
			"duration_ms": ms,
		}, model.EventSeverityDebug, nil)
	}

	s.checkBudget(metric, name, time.Duration(ms)*time.Millisecond)
}

func (s *PerformanceSampler) checkBudget(metric, subject string, duration time.Duration) {
	s.mu.RLock()
	budget, ok := s.budgets[metric]
	s.mu.RUnlock()

	if !ok || s.bus == nil {
		return
	}

	var severity model.EventSeverity
	var threshold time.Duration
	switch {
	case budget.Fail > 0 && duration > budget.Fail:
		severity = model.EventSeverityError
		threshold = budget.Fail
	case budget.Warn > 0 && duration > budget.Warn:
		severity = model.EventSeverityWarning
		threshold = budget.Warn
	default:
		return
	}

	s.logger.Warn("Latency budget breached",
		zap.String("metric", metric),
		zap.String("subject", subject),
		zap.Duration("duration", duration),
		zap.Duration("budget", threshold))

	s.bus.Track(model.EventTypePerformance, "performance-sampler", map[string]interface{}{
		"metric":      metric,
		"subject":     subject,
		"duration_ms": float64(duration.Milliseconds()),
		"budget_ms":   float64(threshold.Milliseconds()),
		"message":     fmt.Sprintf("%s exceeded budget %s", subject, threshold),
	}, severity, []string{"budget-breach"})
}
