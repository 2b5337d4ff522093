package alert

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/watchtower/internal/model"
)

// SnapshotProvider supplies the latest value per metric name for rule
// evaluation
type SnapshotProvider interface {
	LatestSnapshot() map[string]float64
}

// Channel delivers alert notifications over one transport
type Channel interface {
	Type() model.ChannelType
	Send(alert *model.Alert, recipient string) error
}

// Journal archives triggered alerts and notification attempts.
// Journaling is a boundary: failures are logged, never propagated.
type Journal interface {
	StoreAlert(ctx context.Context, alert *model.Alert) error
	UpdateAlert(ctx context.Context, alert *model.Alert) error
	StoreNotification(ctx context.Context, n *model.Notification) error
}

// Config holds alert engine tuning parameters
type Config struct {
	EvaluationInterval time.Duration
	MaxNotifications   int
}

func (c *Config) applyDefaults() {
	if c.EvaluationInterval <= 0 {
		c.EvaluationInterval = 30 * time.Second
	}
	if c.MaxNotifications <= 0 {
		c.MaxNotifications = 10000
	}
}

type registeredChannel struct {
	impl    Channel
	enabled bool
}

// Engine holds declarative alert rules, evaluates them against metric
// snapshots, and manages the alert lifecycle with throttling and
// multi-level escalation.
type Engine struct {
	logger    *zap.Logger
	cfg       Config
	snapshots SnapshotProvider
	journal   Journal

	mu            sync.RWMutex
	rules         map[string]*model.AlertRule
	alerts        map[string]*model.Alert
	notifications []*model.Notification
	channels      map[model.ChannelType]*registeredChannel
	throttleUntil map[string]time.Time
	heldSince     map[string]time.Time

	now       func() time.Time
	afterFunc func(d time.Duration, fn func())
	stop      chan struct{}
}

// NewEngine creates a new alert engine. snapshots drives the periodic
// evaluation loop; journal may be nil.
func NewEngine(snapshots SnapshotProvider, journal Journal, cfg Config, logger *zap.Logger) *Engine {
	cfg.applyDefaults()
	return &Engine{
		logger:        logger.Named("alert-engine"),
		cfg:           cfg,
		snapshots:     snapshots,
		journal:       journal,
		rules:         make(map[string]*model.AlertRule),
		alerts:        make(map[string]*model.Alert),
		channels:      make(map[model.ChannelType]*registeredChannel),
		throttleUntil: make(map[string]time.Time),
		heldSince:     make(map[string]time.Time),
		now:           time.Now,
		afterFunc:     func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
		stop:          make(chan struct{}),
	}
}

// SetNowFunc overrides the clock. Intended for tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
}

// SetAfterFunc overrides deferred scheduling. Intended for tests.
func (e *Engine) SetAfterFunc(after func(d time.Duration, fn func())) {
	e.mu.Lock()
	e.afterFunc = after
	e.mu.Unlock()
}

// Start launches the periodic evaluation loop
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Starting alert engine",
		zap.Duration("evaluation_interval", e.cfg.EvaluationInterval))

	go e.evaluationLoop(ctx)
	return nil
}

// Stop stops the alert engine
func (e *Engine) Stop() {
	e.logger.Info("Stopping alert engine")
	close(e.stop)
}

// RegisterChannel registers an enabled notification channel. Registering
// an existing type replaces the previous implementation.
func (e *Engine) RegisterChannel(ch Channel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.channels[ch.Type()] = &registeredChannel{impl: ch, enabled: true}
}

// SetChannelEnabled toggles dispatch to a registered channel
func (e *Engine) SetChannelEnabled(t model.ChannelType, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.channels[t]; ok {
		ch.enabled = enabled
	}
}

// CreateRule registers a new alert rule
func (e *Engine) CreateRule(rule *model.AlertRule) error {
	if len(rule.Conditions) == 0 {
		return ErrNoConditions
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.CreatedAt = e.now()
	rule.UpdatedAt = rule.CreatedAt
	e.rules[rule.ID] = rule

	e.logger.Info("Alert rule created",
		zap.String("id", rule.ID),
		zap.String("name", rule.Name),
		zap.Int("conditions", len(rule.Conditions)))
	return nil
}

// UpdateRule updates an existing rule
func (e *Engine) UpdateRule(rule *model.AlertRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.rules[rule.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	rule.UpdatedAt = e.now()
	e.rules[rule.ID] = rule
	return nil
}

// DeleteRule removes a rule
func (e *Engine) DeleteRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.rules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	delete(e.rules, id)
	delete(e.throttleUntil, id)
	for key := range e.heldSince {
		if strings.HasPrefix(key, id+"|") {
			delete(e.heldSince, key)
		}
	}
	return nil
}

// Rule returns a rule by id
func (e *Engine) Rule(id string) (*model.AlertRule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rule, ok := e.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return rule, nil
}

// Rules returns all registered rules
func (e *Engine) Rules() []*model.AlertRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*model.AlertRule, 0, len(e.rules))
	for _, r := range e.rules {
		rules = append(rules, r)
	}
	return rules
}

// EvaluateRules evaluates every enabled, unthrottled rule against the
// snapshot and triggers alerts for those whose conditions all hold
func (e *Engine) EvaluateRules(snapshot map[string]float64) []*model.Alert {
	e.mu.Lock()
	now := e.now()
	var due []*model.AlertRule
	for _, rule := range e.rules {
		if !rule.Enabled {
			continue
		}
		if until, ok := e.throttleUntil[rule.ID]; ok && now.Before(until) {
			continue
		}
		if e.conditionsMetLocked(rule, snapshot, now) {
			due = append(due, rule)
		}
	}
	e.mu.Unlock()

	var triggered []*model.Alert
	for _, rule := range due {
		triggered = append(triggered, e.TriggerAlert(rule, snapshot))
	}
	return triggered
}

// TriggerAlert creates a triggered alert for a rule, fans out
// notifications, re-arms the rule's throttle window, and schedules
// escalation callbacks per the rule's policy.
func (e *Engine) TriggerAlert(rule *model.AlertRule, snapshot map[string]float64) *model.Alert {
	now := e.now()

	data := make(map[string]interface{}, len(rule.Conditions))
	for _, cond := range rule.Conditions {
		if v, ok := snapshot[cond.Metric]; ok {
			data[cond.Metric] = v
		}
	}

	alert := &model.Alert{
		ID:          uuid.New().String(),
		RuleID:      rule.ID,
		Name:        rule.Name,
		Severity:    rule.Severity,
		Status:      model.AlertStatusTriggered,
		Source:      "alert-engine",
		Message:     fmt.Sprintf("Alert triggered for rule: %s", rule.Name),
		Data:        data,
		TriggeredAt: now,
	}

	e.mu.Lock()
	e.alerts[alert.ID] = alert
	if rule.ThrottleSeconds > 0 {
		e.throttleUntil[rule.ID] = now.Add(time.Duration(rule.ThrottleSeconds) * time.Second)
	}
	copied := cloneAlert(alert)
	e.mu.Unlock()

	e.logger.Info("Alert triggered",
		zap.String("id", copied.ID),
		zap.String("rule_id", rule.ID),
		zap.String("severity", string(copied.Severity)))

	if e.journal != nil {
		if err := e.journal.StoreAlert(context.Background(), copied); err != nil {
			e.logger.Error("Failed to journal alert", zap.Error(err))
		}
	}

	e.dispatch(copied, rule.Channels, rule.Recipients)
	e.scheduleEscalations(copied.ID, rule)

	return copied
}

// Acknowledge moves a triggered alert to acknowledged
func (e *Engine) Acknowledge(id, by string) error {
	e.mu.Lock()
	alert, ok := e.alerts[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	if alert.Status != model.AlertStatusTriggered {
		e.mu.Unlock()
		return fmt.Errorf("%w: cannot acknowledge alert in status %s", ErrInvalidTransition, alert.Status)
	}

	now := e.now()
	alert.Status = model.AlertStatusAcknowledged
	alert.AcknowledgedAt = &now
	alert.AcknowledgedBy = by
	copied := cloneAlert(alert)
	e.mu.Unlock()

	e.logger.Info("Alert acknowledged",
		zap.String("id", id),
		zap.String("by", by))

	e.journalUpdate(copied)
	return nil
}

// Resolve moves an alert from any non-terminal state to resolved
func (e *Engine) Resolve(id string) error {
	e.mu.Lock()
	alert, ok := e.alerts[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	if alert.Status == model.AlertStatusResolved {
		e.mu.Unlock()
		return fmt.Errorf("%w: alert already resolved", ErrInvalidTransition)
	}

	now := e.now()
	alert.Status = model.AlertStatusResolved
	alert.ResolvedAt = &now
	copied := cloneAlert(alert)
	e.mu.Unlock()

	e.logger.Info("Alert resolved", zap.String("id", id))

	e.journalUpdate(copied)
	return nil
}

// Alert returns a copy of an alert by id
func (e *Engine) Alert(id string) (*model.Alert, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	alert, ok := e.alerts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	return cloneAlert(alert), nil
}

// Alerts returns copies of alerts, optionally filtered by status,
// newest first
func (e *Engine) Alerts(statuses ...model.AlertStatus) []*model.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*model.Alert
	for _, alert := range e.alerts {
		if len(statuses) > 0 && !containsStatus(statuses, alert.Status) {
			continue
		}
		out = append(out, cloneAlert(alert))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	return out
}

// Statistics summarizes alert and notification activity. An empty set
// reports a 100% delivery rate, never NaN.
func (e *Engine) Statistics() model.AlertStatistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := model.AlertStatistics{
		AlertsByStatus:      make(map[model.AlertStatus]int),
		AlertsBySeverity:    make(map[model.AlertSeverity]int),
		DeliveryRatePercent: 100,
	}

	for _, alert := range e.alerts {
		stats.TotalAlerts++
		stats.AlertsByStatus[alert.Status]++
		stats.AlertsBySeverity[alert.Severity]++
	}

	stats.TotalNotifications = len(e.notifications)
	if stats.TotalNotifications > 0 {
		delivered := 0
		for _, n := range e.notifications {
			if n.Delivered {
				delivered++
			}
		}
		stats.DeliveryRatePercent = float64(delivered) / float64(stats.TotalNotifications) * 100
	}
	return stats
}

// Notifications returns all recorded notification attempts
func (e *Engine) Notifications() []*model.Notification {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*model.Notification, len(e.notifications))
	copy(out, e.notifications)
	return out
}

// dispatch fans an alert out to every enabled channel. alert must be a
// private copy so channels can read it without holding the engine lock.
// Each attempt is recorded; a channel failure is logged and never
// aborts the others.
func (e *Engine) dispatch(alert *model.Alert, channels []model.ChannelType, recipients []string) {
	targets := recipients
	if len(targets) == 0 {
		targets = []string{""}
	}

	for _, chType := range channels {
		e.mu.RLock()
		registered, ok := e.channels[chType]
		e.mu.RUnlock()

		if !ok || !registered.enabled {
			continue
		}

		for _, recipient := range targets {
			notification := &model.Notification{
				ID:        uuid.New().String(),
				AlertID:   alert.ID,
				Channel:   chType,
				Recipient: recipient,
				SentAt:    e.now(),
			}

			if err := e.send(registered.impl, alert, recipient); err != nil {
				notification.Error = err.Error()
				e.logger.Error("Notification delivery failed",
					zap.String("alert_id", alert.ID),
					zap.String("channel", string(chType)),
					zap.Error(err))
			} else {
				notification.Delivered = true
			}

			e.mu.Lock()
			e.notifications = append(e.notifications, notification)
			if len(e.notifications) > e.cfg.MaxNotifications {
				e.notifications = e.notifications[len(e.notifications)-e.cfg.MaxNotifications:]
			}
			if notification.Delivered {
				alert.NotificationsSent++
				if live, ok := e.alerts[alert.ID]; ok {
					live.NotificationsSent++
				}
			}
			e.mu.Unlock()

			if e.journal != nil {
				if err := e.journal.StoreNotification(context.Background(), notification); err != nil {
					e.logger.Error("Failed to journal notification", zap.Error(err))
				}
			}
		}
	}
}

// send isolates channel panics into errors
func (e *Engine) send(ch Channel, alert *model.Alert, recipient string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel panicked: %v", r)
		}
	}()
	return ch.Send(alert, recipient)
}

// scheduleEscalations arms one deferred callback per policy level. Each
// callback re-reads the alert's current status at fire time and is a
// no-op unless the alert is still triggered.
func (e *Engine) scheduleEscalations(alertID string, rule *model.AlertRule) {
	if rule.Escalation == nil {
		return
	}

	for i, level := range rule.Escalation.Levels {
		level := level
		levelNum := i + 1
		delay := time.Duration(level.DelayMinutes) * time.Minute

		e.afterFunc(delay, func() {
			e.escalate(alertID, levelNum, level)
		})
	}
}

func (e *Engine) escalate(alertID string, levelNum int, level model.EscalationLevel) {
	e.mu.Lock()
	alert, ok := e.alerts[alertID]
	if !ok || alert.Status != model.AlertStatusTriggered {
		e.mu.Unlock()
		return
	}
	alert.EscalationLevel++
	copied := cloneAlert(alert)
	e.mu.Unlock()

	e.logger.Warn("Alert escalated",
		zap.String("alert_id", alertID),
		zap.Int("level", levelNum))

	e.journalUpdate(copied)
	e.dispatch(copied, level.Channels, level.Recipients)
}

func (e *Engine) evaluationLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.EvaluationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			if e.snapshots != nil {
				e.EvaluateRules(e.snapshots.LatestSnapshot())
			}
		}
	}
}

func (e *Engine) journalUpdate(alert *model.Alert) {
	if e.journal == nil {
		return
	}
	if err := e.journal.UpdateAlert(context.Background(), alert); err != nil {
		e.logger.Error("Failed to journal alert update", zap.Error(err))
	}
}

// conditionsMetLocked is AND over all of a rule's conditions. A
// condition whose metric is absent from the snapshot evaluates false.
// A condition with a non-zero Duration must hold continuously across
// evaluations for at least that long; a failed check resets its hold.
func (e *Engine) conditionsMetLocked(rule *model.AlertRule, snapshot map[string]float64, now time.Time) bool {
	if len(rule.Conditions) == 0 {
		return false
	}

	met := true
	for i, cond := range rule.Conditions {
		value, ok := snapshot[cond.Metric]
		if !ok || !compare(value, cond.Operator, cond.Threshold) {
			delete(e.heldSince, holdKey(rule.ID, i))
			met = false
			continue
		}
		if cond.Duration <= 0 {
			continue
		}
		key := holdKey(rule.ID, i)
		since, held := e.heldSince[key]
		if !held {
			since = now
			e.heldSince[key] = since
		}
		if now.Sub(since) < cond.Duration {
			met = false
		}
	}
	return met
}

func holdKey(ruleID string, condition int) string {
	return fmt.Sprintf("%s|%d", ruleID, condition)
}

// cloneAlert copies an alert so it can be marshaled or journaled
// without holding the engine lock
func cloneAlert(a *model.Alert) *model.Alert {
	copied := *a
	if a.Data != nil {
		copied.Data = make(map[string]interface{}, len(a.Data))
		for k, v := range a.Data {
			copied.Data[k] = v
		}
	}
	return &copied
}

func compare(value float64, op model.ConditionOperator, threshold float64) bool {
	switch op {
	case model.OperatorGreaterThan:
		return value > threshold
	case model.OperatorLessThan:
		return value < threshold
	case model.OperatorEqual:
		return value == threshold
	case model.OperatorGreaterEqual:
		return value >= threshold
	case model.OperatorLessEqual:
		return value <= threshold
	case model.OperatorContains:
		return strings.Contains(
			strconv.FormatFloat(value, 'f', -1, 64),
			strconv.FormatFloat(threshold, 'f', -1, 64))
	default:
		return false
	}
}

func containsStatus(haystack []model.AlertStatus, needle model.AlertStatus) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

