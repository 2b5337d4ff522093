package event

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/watchtower/internal/metrics"
	"github.com/t77yq/watchtower/internal/model"
)

const (
	metricsSubject     = "metrics.system"
	eventSubjectPrefix = "event."
)

// Subscriber receives every tracked event synchronously. A panicking
// subscriber is isolated and logged; it never aborts delivery to others.
type Subscriber func(*model.Event)

// ResourceReader supplies point-in-time resource gauges for the
// periodic metrics snapshot
type ResourceReader interface {
	Read(ctx context.Context) (model.ResourceGauges, error)
}

// Config holds event bus tuning parameters
type Config struct {
	MaxEvents          int
	Retention          time.Duration
	MetricsInterval    time.Duration
	MetricsHistorySize int
}

func (c *Config) applyDefaults() {
	if c.MaxEvents <= 0 {
		c.MaxEvents = 10000
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = 5 * time.Second
	}
	if c.MetricsHistorySize <= 0 {
		c.MetricsHistorySize = 1000
	}
}

// Bus accepts typed events from any producer, keeps a bounded in-memory
// log, fans out to registered subscribers, and periodically rolls the log
// up into MonitoringMetrics snapshots.
type Bus struct {
	logger    *zap.Logger
	js        nats.JetStreamContext
	cfg       Config
	resources ResourceReader

	mu      sync.RWMutex
	events  []*model.Event
	subs    map[string]Subscriber
	history []*model.MonitoringMetrics

	now  func() time.Time
	stop chan struct{}
}

// NewBus creates a new event bus. js and resources may be nil; publishing
// and resource gauges degrade to no-ops.
func NewBus(js nats.JetStreamContext, resources ResourceReader, cfg Config, logger *zap.Logger) *Bus {
	cfg.applyDefaults()
	return &Bus{
		logger:    logger.Named("event-bus"),
		js:        js,
		cfg:       cfg,
		resources: resources,
		subs:      make(map[string]Subscriber),
		now:       time.Now,
		stop:      make(chan struct{}),
	}
}

// SetNowFunc overrides the clock. Intended for tests.
func (b *Bus) SetNowFunc(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// Start launches the periodic metrics rollup loop
func (b *Bus) Start(ctx context.Context) error {
	b.logger.Info("Starting event bus",
		zap.Duration("metrics_interval", b.cfg.MetricsInterval),
		zap.Int("max_events", b.cfg.MaxEvents))

	go b.metricsLoop(ctx)
	return nil
}

// Stop stops the event bus
func (b *Bus) Stop() {
	b.logger.Info("Stopping event bus")
	close(b.stop)
}

// Track records a new event. It always succeeds: the event gets a unique
// id and current timestamp, is appended to the log, and subscribers are
// notified synchronously before the call returns.
func (b *Bus) Track(eventType model.EventType, source string, payload map[string]interface{}, severity model.EventSeverity, tags []string) *model.Event {
	b.mu.Lock()
	evt := &model.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: b.now(),
		Payload:   payload,
		Severity:  severity,
		Tags:      tags,
	}

	b.events = append(b.events, evt)
	b.trimLocked()

	subs := make(map[string]Subscriber, len(b.subs))
	for name, fn := range b.subs {
		subs[name] = fn
	}
	b.mu.Unlock()

	for name, fn := range subs {
		b.notify(name, fn, evt)
	}

	b.publish(eventSubjectPrefix+string(eventType), evt)

	return evt
}

// Subscribe registers a named subscriber for all subsequent events.
// Registering an existing name replaces the previous subscriber.
func (b *Bus) Subscribe(name string, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[name] = fn
}

// Unsubscribe removes a named subscriber
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, name)
}

// Events returns events matching all given filters, newest first
func (b *Bus) Events(filter model.EventFilter) []*model.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []*model.Event
	for i := len(b.events) - 1; i >= 0; i-- {
		evt := b.events[i]
		if !matchesFilter(evt, filter) {
			continue
		}
		matched = append(matched, evt)
		if filter.Limit > 0 && len(matched) >= filter.Limit {
			break
		}
	}
	return matched
}

// LatestMetrics returns the most recent rollup snapshot, or nil when no
// tick has run yet
func (b *Bus) LatestMetrics() *model.MonitoringMetrics {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.history) == 0 {
		return nil
	}
	return b.history[len(b.history)-1]
}

// MetricsHistory returns up to n most recent snapshots, oldest first
func (b *Bus) MetricsHistory(n int) []*model.MonitoringMetrics {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > len(b.history) {
		n = len(b.history)
	}
	out := make([]*model.MonitoringMetrics, n)
	copy(out, b.history[len(b.history)-n:])
	return out
}

func (b *Bus) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stop:
			return
		case <-ticker.C:
			b.collectSnapshot(ctx)
		}
	}
}

// collectSnapshot computes a MonitoringMetrics rollup from the current
// event log and appends it to the capped history
func (b *Bus) collectSnapshot(ctx context.Context) {
	var gauges model.ResourceGauges
	if b.resources != nil {
		g, err := b.resources.Read(ctx)
		if err != nil {
			b.logger.Error("Failed to read resource gauges", zap.Error(err))
		} else {
			gauges = g
		}
	}

	b.mu.Lock()
	snapshot := &model.MonitoringMetrics{
		Timestamp:        b.now(),
		TotalEvents:      len(b.events),
		EventsByType:     make(map[model.EventType]int),
		EventsBySeverity: make(map[model.EventSeverity]int),
		Resources:        gauges,
	}

	var durations []float64
	for _, evt := range b.events {
		snapshot.EventsByType[evt.Type]++
		snapshot.EventsBySeverity[evt.Severity]++
		if evt.Type == model.EventTypePerformance {
			if d, ok := numericPayload(evt.Payload, "duration_ms"); ok {
				durations = append(durations, d)
			}
		}
	}

	if len(durations) > 0 {
		sort.Float64s(durations)
		var sum float64
		for _, d := range durations {
			sum += d
		}
		snapshot.ResponseTimes = model.ResponseTimes{
			Avg: sum / float64(len(durations)),
			P95: metrics.Percentile(durations, 95),
			P99: metrics.Percentile(durations, 99),
		}
	}

	b.history = append(b.history, snapshot)
	if len(b.history) > b.cfg.MetricsHistorySize {
		b.history = b.history[len(b.history)-b.cfg.MetricsHistorySize:]
	}

	subs := make(map[string]Subscriber, len(b.subs))
	for name, fn := range b.subs {
		subs[name] = fn
	}
	b.mu.Unlock()

	metricsEvent := &model.Event{
		ID:        uuid.New().String(),
		Type:      model.EventTypeMetric,
		Source:    "event-bus",
		Timestamp: snapshot.Timestamp,
		Severity:  model.EventSeverityDebug,
		Payload:   map[string]interface{}{"snapshot": snapshot},
	}
	for name, fn := range subs {
		b.notify(name, fn, metricsEvent)
	}

	b.publish(metricsSubject, snapshot)

	b.logger.Debug("Metrics snapshot collected",
		zap.Int("total_events", snapshot.TotalEvents),
		zap.Float64("cpu_percent", gauges.CPUPercent))
}

// notify delivers one event to one subscriber, isolating panics
func (b *Bus) notify(name string, fn Subscriber, evt *model.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Subscriber panicked",
				zap.String("subscriber", name),
				zap.Any("panic", r))
		}
	}()
	fn(evt)
}

// publish sends a payload to JetStream. Publishing is a boundary:
// failures are logged, never propagated.
func (b *Bus) publish(subject string, payload interface{}) {
	if b.js == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("Failed to marshal payload",
			zap.String("subject", subject),
			zap.Error(err))
		return
	}

	if _, err := b.js.Publish(subject, data); err != nil {
		b.logger.Error("Failed to publish",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

// trimLocked drops events past the retention window or the size cap
func (b *Bus) trimLocked() {
	cutoff := b.now().Add(-b.cfg.Retention)
	firstKept := 0
	for firstKept < len(b.events) && b.events[firstKept].Timestamp.Before(cutoff) {
		firstKept++
	}
	if firstKept > 0 {
		b.events = b.events[firstKept:]
	}
	if len(b.events) > b.cfg.MaxEvents {
		b.events = b.events[len(b.events)-b.cfg.MaxEvents:]
	}
}

func matchesFilter(evt *model.Event, filter model.EventFilter) bool {
	if len(filter.Types) > 0 && !containsType(filter.Types, evt.Type) {
		return false
	}
	if len(filter.Sources) > 0 && !containsString(filter.Sources, evt.Source) {
		return false
	}
	if len(filter.Severities) > 0 && !containsSeverity(filter.Severities, evt.Severity) {
		return false
	}
	if !filter.From.IsZero() && evt.Timestamp.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && evt.Timestamp.After(filter.To) {
		return false
	}
	for _, tag := range filter.Tags {
		if !containsString(evt.Tags, tag) {
			return false
		}
	}
	return true
}

func containsType(haystack []model.EventType, needle model.EventType) bool {
	for _, t := range haystack {
		if t == needle {
			return true
		}
	}
	return false
}

func containsSeverity(haystack []model.EventSeverity, needle model.EventSeverity) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func numericPayload(payload map[string]interface{}, key string) (float64, bool) {
	v, ok := payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case time.Duration:
		return float64(n.Milliseconds()), true
	default:
		return 0, false
	}
}
