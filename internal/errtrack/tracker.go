package errtrack

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/watchtower/internal/event"
	"github.com/t77yq/watchtower/internal/model"
)

// ErrGroupNotFound is returned when a fingerprint is unknown
var ErrGroupNotFound = errors.New("error group not found")

const (
	defaultMaxErrors     = 10000
	defaultBreadcrumbCap = 50
)

// Options carries optional capture context
type Options struct {
	Context   map[string]interface{}
	UserID    string
	SessionID string
	Level     model.ErrorLevel
	Handled   bool
	Stack     string
}

// Config holds error tracker tuning parameters
type Config struct {
	MaxErrors     int
	BreadcrumbCap int
}

func (c *Config) applyDefaults() {
	if c.MaxErrors <= 0 {
		c.MaxErrors = defaultMaxErrors
	}
	if c.BreadcrumbCap <= 0 {
		c.BreadcrumbCap = defaultBreadcrumbCap
	}
}

// Tracker captures errors, parses their stacks, and maintains rolling
// fingerprint groups with per-session breadcrumb trails.
type Tracker struct {
	logger *zap.Logger
	bus    *event.Bus
	cfg    Config

	mu          sync.RWMutex
	errors      map[string]*model.TrackedError
	order       []string
	groups      map[string]*model.ErrorGroup
	breadcrumbs map[string][]model.Breadcrumb

	now func() time.Time
}

// NewTracker creates a new error tracker. bus may be nil; captures then
// skip event emission.
func NewTracker(bus *event.Bus, cfg Config, logger *zap.Logger) *Tracker {
	cfg.applyDefaults()
	return &Tracker{
		logger:      logger.Named("error-tracker"),
		bus:         bus,
		cfg:         cfg,
		errors:      make(map[string]*model.TrackedError),
		groups:      make(map[string]*model.ErrorGroup),
		breadcrumbs: make(map[string][]model.Breadcrumb),
		now:         time.Now,
	}
}

// SetNowFunc overrides the clock. Intended for tests.
func (t *Tracker) SetNowFunc(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// CaptureError records an error occurrence and routes it into its
// fingerprint group. It never fails; capture itself must not crash the
// host process.
func (t *Tracker) CaptureError(err error, opts Options) *model.TrackedError {
	errType := "error"
	message := ""
	if err != nil {
		errType = fmt.Sprintf("%T", err)
		message = err.Error()
	}
	return t.capture(errType, message, opts)
}

// CaptureException is sugar for a handled error-level capture
func (t *Tracker) CaptureException(err error, ctx map[string]interface{}) *model.TrackedError {
	return t.CaptureError(err, Options{
		Context: ctx,
		Level:   model.ErrorLevelError,
		Handled: true,
	})
}

// CaptureMessage records a bare message without a stack
func (t *Tracker) CaptureMessage(message string, level model.ErrorLevel) *model.TrackedError {
	return t.capture("message", message, Options{Level: level, Handled: true})
}

// Recover is a deferred panic handler: it captures the panic at fatal
// severity, handled=false, without re-panicking.
func (t *Tracker) Recover() {
	if r := recover(); r != nil {
		t.capture("panic", fmt.Sprint(r), Options{
			Level:   model.ErrorLevelFatal,
			Handled: false,
			Stack:   string(debug.Stack()),
		})
		t.logger.Error("Recovered from panic", zap.Any("panic", r))
	}
}

func (t *Tracker) capture(errType, message string, opts Options) *model.TrackedError {
	if opts.Level == "" {
		opts.Level = model.ErrorLevelError
	}

	frames := ParseStack(opts.Stack)
	fingerprint := Fingerprint(errType, message, frames)

	t.mu.Lock()
	tracked := &model.TrackedError{
		ID:          uuid.New().String(),
		Type:        errType,
		Message:     message,
		Fingerprint: fingerprint,
		Level:       opts.Level,
		Handled:     opts.Handled,
		UserID:      opts.UserID,
		SessionID:   opts.SessionID,
		Stack:       frames,
		Context:     opts.Context,
		Timestamp:   t.now(),
	}

	// Snapshot the session's breadcrumb trail by value at capture time
	if trail, ok := t.breadcrumbs[opts.SessionID]; ok && opts.SessionID != "" {
		tracked.Breadcrumbs = make([]model.Breadcrumb, len(trail))
		copy(tracked.Breadcrumbs, trail)
	}

	t.errors[tracked.ID] = tracked
	t.order = append(t.order, tracked.ID)
	if len(t.order) > t.cfg.MaxErrors {
		evicted := t.order[0]
		t.order = t.order[1:]
		if e, ok := t.errors[evicted]; ok {
			t.dropFromGroupLocked(e)
			delete(t.errors, evicted)
		}
	}

	t.groupLocked(tracked)
	t.mu.Unlock()

	t.logger.Debug("Error captured",
		zap.String("type", errType),
		zap.String("fingerprint", fingerprint),
		zap.String("level", string(opts.Level)))

	if t.bus != nil {
		t.bus.Track(model.EventTypeError, "error-tracker", map[string]interface{}{
			"error_id":    tracked.ID,
			"type":        errType,
			"message":     message,
			"fingerprint": fingerprint,
			"handled":     opts.Handled,
		}, eventSeverity(opts.Level), nil)
	}

	return tracked
}

// groupLocked creates or updates the fingerprint's group. userCount is
// recomputed over all member errors each time; acceptable at bounded
// retention.
func (t *Tracker) groupLocked(tracked *model.TrackedError) {
	group, ok := t.groups[tracked.Fingerprint]
	if !ok {
		group = &model.ErrorGroup{
			Fingerprint: tracked.Fingerprint,
			Title:       tracked.Message,
			Type:        tracked.Type,
			Level:       tracked.Level,
			Status:      model.GroupStatusUnresolved,
			FirstSeen:   tracked.Timestamp,
		}
		t.groups[tracked.Fingerprint] = group
	}

	group.Count++
	group.LastSeen = tracked.Timestamp
	group.ErrorIDs = append(group.ErrorIDs, tracked.ID)

	if model.ErrorLevelRank(tracked.Level) > model.ErrorLevelRank(group.Level) {
		group.Level = tracked.Level
	}

	users := make(map[string]struct{})
	for _, id := range group.ErrorIDs {
		if e, ok := t.errors[id]; ok && e.UserID != "" {
			users[e.UserID] = struct{}{}
		}
	}
	group.UserCount = len(users)
}

// dropFromGroupLocked removes an evicted error's id from its group so
// ErrorIDs tracks retained errors while Count stays monotone.
func (t *Tracker) dropFromGroupLocked(evicted *model.TrackedError) {
	group, ok := t.groups[evicted.Fingerprint]
	if !ok {
		return
	}
	for i, id := range group.ErrorIDs {
		if id == evicted.ID {
			group.ErrorIDs = append(group.ErrorIDs[:i], group.ErrorIDs[i+1:]...)
			break
		}
	}
}

// AddBreadcrumb appends to a session's trail, evicting the oldest entry
// past the cap
func (t *Tracker) AddBreadcrumb(sessionID string, crumb model.Breadcrumb) {
	if sessionID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if crumb.Timestamp.IsZero() {
		crumb.Timestamp = t.now()
	}

	trail := append(t.breadcrumbs[sessionID], crumb)
	if len(trail) > t.cfg.BreadcrumbCap {
		trail = trail[len(trail)-t.cfg.BreadcrumbCap:]
	}
	t.breadcrumbs[sessionID] = trail
}

// Groups returns error groups, optionally filtered by status, most
// recently seen first
func (t *Tracker) Groups(statuses ...model.GroupStatus) []*model.ErrorGroup {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*model.ErrorGroup
	for _, g := range t.groups {
		if len(statuses) > 0 && !containsGroupStatus(statuses, g.Status) {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out
}

// Group returns one group by fingerprint
func (t *Tracker) Group(fingerprint string) (*model.ErrorGroup, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	group, ok := t.groups[fingerprint]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, fingerprint)
	}
	return group, nil
}

// UpdateGroupStatus sets the triage status of a group. The status is
// independent of new arrivals: a resolved group receiving another error
// stays resolved.
func (t *Tracker) UpdateGroupStatus(fingerprint string, status model.GroupStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	group, ok := t.groups[fingerprint]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, fingerprint)
	}
	group.Status = status

	t.logger.Info("Error group status updated",
		zap.String("fingerprint", fingerprint),
		zap.String("status", string(status)))
	return nil
}

// Errors returns captured errors, newest first, up to limit
func (t *Tracker) Errors(limit int) []*model.TrackedError {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*model.TrackedError
	for i := len(t.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if e, ok := t.errors[t.order[i]]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Stats compares error volume in the trailing window of the given hours
// against the immediately preceding equal-length window
func (t *Tracker) Stats(hours int) model.ErrorStats {
	if hours <= 0 {
		hours = 24
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	windowStart := now.Add(-time.Duration(hours) * time.Hour)
	previousStart := windowStart.Add(-time.Duration(hours) * time.Hour)

	stats := model.ErrorStats{
		WindowHours: hours,
		ByLevel:     make(map[model.ErrorLevel]int),
	}

	for _, e := range t.errors {
		switch {
		case !e.Timestamp.Before(windowStart):
			stats.Total++
			stats.ByLevel[e.Level]++
			if !e.Handled {
				stats.Unhandled++
			}
		case !e.Timestamp.Before(previousStart):
			stats.Previous++
		}
	}

	if stats.Previous > 0 {
		stats.ChangePercent = float64(stats.Total-stats.Previous) / float64(stats.Previous) * 100
	}
	return stats
}

func containsGroupStatus(haystack []model.GroupStatus, needle model.GroupStatus) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func eventSeverity(level model.ErrorLevel) model.EventSeverity {
	switch level {
	case model.ErrorLevelDebug:
		return model.EventSeverityDebug
	case model.ErrorLevelInfo:
		return model.EventSeverityInfo
	case model.ErrorLevelWarning:
		return model.EventSeverityWarning
	case model.ErrorLevelFatal:
		return model.EventSeverityCritical
	default:
		return model.EventSeverityError
	}
}
