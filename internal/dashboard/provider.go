package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/watchtower/internal/model"
)

var (
	// ErrDashboardNotFound is returned when a dashboard id is unknown
	ErrDashboardNotFound = errors.New("dashboard not found")

	// ErrWidgetNotFound is returned when a widget id is unknown
	ErrWidgetNotFound = errors.New("widget not found")
)

// MetricSource serves performance and resource widget queries
type MetricSource interface {
	Query(name string, start, end time.Time, agg model.Aggregation, tags map[string]string, interval time.Duration) model.QueryResult
	Statistics(name string, start, end time.Time) model.Statistics
}

// ErrorSource serves error widget queries
type ErrorSource interface {
	Groups(statuses ...model.GroupStatus) []*model.ErrorGroup
	Stats(hours int) model.ErrorStats
}

// AlertSource serves alert widget queries
type AlertSource interface {
	Alerts(statuses ...model.AlertStatus) []*model.Alert
	Statistics() model.AlertStatistics
}

// MonitoringSource serves monitoring and user widget queries
type MonitoringSource interface {
	LatestMetrics() *model.MonitoringMetrics
	Events(filter model.EventFilter) []*model.Event
}

// Sources bundles the subsystems widgets can draw from. Nil members
// cause the corresponding widget fetches to report an error entry.
type Sources struct {
	Metrics    MetricSource
	Errors     ErrorSource
	Alerts     AlertSource
	Monitoring MonitoringSource
}

// Config holds dashboard provider tuning parameters
type Config struct {
	CacheTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 60 * time.Second
	}
}

type cacheEntry struct {
	data    *model.WidgetData
	fetched time.Time
}

// Provider composes widget definitions over the engine's subsystems and
// serves pre-aggregated widget data through a short-TTL cache.
type Provider struct {
	logger  *zap.Logger
	cfg     Config
	sources Sources

	mu         sync.RWMutex
	dashboards map[string]*model.Dashboard
	cache      map[string]*cacheEntry

	now       func() time.Time
	afterFunc func(d time.Duration, fn func())
}

// NewProvider creates a dashboard data provider
func NewProvider(sources Sources, cfg Config, logger *zap.Logger) *Provider {
	cfg.applyDefaults()
	return &Provider{
		logger:     logger.Named("dashboard"),
		cfg:        cfg,
		sources:    sources,
		dashboards: make(map[string]*model.Dashboard),
		cache:      make(map[string]*cacheEntry),
		now:        time.Now,
		afterFunc:  func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
}

// SetNowFunc overrides the clock. Intended for tests.
func (p *Provider) SetNowFunc(now func() time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
}

// CreateDashboard registers a new dashboard
func (p *Provider) CreateDashboard(name string, widgets ...model.Widget) *model.Dashboard {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	dash := &model.Dashboard{
		ID:        uuid.New().String(),
		Name:      name,
		Widgets:   widgets,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i := range dash.Widgets {
		if dash.Widgets[i].ID == "" {
			dash.Widgets[i].ID = uuid.New().String()
		}
	}
	p.dashboards[dash.ID] = dash

	p.logger.Info("Dashboard created",
		zap.String("id", dash.ID),
		zap.String("name", name),
		zap.Int("widgets", len(widgets)))
	return dash
}

// Dashboard returns a dashboard by id
func (p *Provider) Dashboard(id string) (*model.Dashboard, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	dash, ok := p.dashboards[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDashboardNotFound, id)
	}
	return dash, nil
}

// AddWidget appends a widget to a dashboard
func (p *Provider) AddWidget(dashboardID string, widget model.Widget) (*model.Widget, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	dash, ok := p.dashboards[dashboardID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDashboardNotFound, dashboardID)
	}

	if widget.ID == "" {
		widget.ID = uuid.New().String()
	}
	dash.Widgets = append(dash.Widgets, widget)
	dash.UpdatedAt = p.now()
	return &dash.Widgets[len(dash.Widgets)-1], nil
}

// RemoveWidget removes a widget and drops its cache entry
func (p *Provider) RemoveWidget(dashboardID, widgetID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	dash, ok := p.dashboards[dashboardID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDashboardNotFound, dashboardID)
	}

	for i, w := range dash.Widgets {
		if w.ID == widgetID {
			dash.Widgets = append(dash.Widgets[:i], dash.Widgets[i+1:]...)
			dash.UpdatedAt = p.now()
			delete(p.cache, widgetID)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrWidgetNotFound, widgetID)
}

// WidgetData returns the widget's data, served from cache unless the
// entry is older than the TTL or forceRefresh is set
func (p *Provider) WidgetData(ctx context.Context, dashboardID, widgetID string, timeRange model.TimeRange, forceRefresh bool) (*model.WidgetData, error) {
	widget, err := p.findWidget(dashboardID, widgetID)
	if err != nil {
		return nil, err
	}

	if !forceRefresh {
		p.mu.RLock()
		entry, ok := p.cache[widgetID]
		now := p.now()
		p.mu.RUnlock()

		if ok && now.Sub(entry.fetched) <= p.cfg.CacheTTL {
			cached := *entry.data
			cached.Cached = true
			return &cached, nil
		}
	}

	return p.refresh(ctx, widget, timeRange), nil
}

// DashboardData fetches every widget of a dashboard concurrently. One
// widget's failure never blocks or fails the others.
func (p *Provider) DashboardData(ctx context.Context, dashboardID string, timeRange model.TimeRange) (map[string]*model.WidgetData, error) {
	dash, err := p.Dashboard(dashboardID)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	widgets := make([]model.Widget, len(dash.Widgets))
	copy(widgets, dash.Widgets)
	p.mu.RUnlock()

	results := make(map[string]*model.WidgetData, len(widgets))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for _, widget := range widgets {
		widget := widget
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := p.WidgetData(ctx, dashboardID, widget.ID, timeRange, false)
			if err != nil {
				data = &model.WidgetData{
					WidgetID:  widget.ID,
					Error:     err.Error(),
					Timestamp: p.now(),
				}
			}
			resultsMu.Lock()
			results[widget.ID] = data
			resultsMu.Unlock()
		}()
	}
	wg.Wait()

	return results, nil
}

func (p *Provider) findWidget(dashboardID, widgetID string) (*model.Widget, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	dash, ok := p.dashboards[dashboardID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDashboardNotFound, dashboardID)
	}
	for i := range dash.Widgets {
		if dash.Widgets[i].ID == widgetID {
			w := dash.Widgets[i]
			return &w, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrWidgetNotFound, widgetID)
}

// refresh dispatches to the data-source-specific fetcher and replaces
// the cache entry with an expiry timer matching the TTL
func (p *Provider) refresh(ctx context.Context, widget *model.Widget, timeRange model.TimeRange) *model.WidgetData {
	start := p.now()

	data, err := p.fetch(ctx, widget, timeRange)

	result := &model.WidgetData{
		WidgetID:      widget.ID,
		Timestamp:     p.now(),
		ExecutionTime: p.now().Sub(start),
	}
	if err != nil {
		result.Error = err.Error()
		p.logger.Error("Widget fetch failed",
			zap.String("widget_id", widget.ID),
			zap.String("source", string(widget.DataSource.Type)),
			zap.Error(err))
	} else {
		result.Data = data
	}

	fetchedAt := p.now()
	p.mu.Lock()
	p.cache[widget.ID] = &cacheEntry{data: result, fetched: fetchedAt}
	p.mu.Unlock()

	widgetID := widget.ID
	p.afterFunc(p.cfg.CacheTTL, func() {
		p.mu.Lock()
		if entry, ok := p.cache[widgetID]; ok && entry.fetched.Equal(fetchedAt) {
			delete(p.cache, widgetID)
		}
		p.mu.Unlock()
	})

	return result
}

func (p *Provider) fetch(ctx context.Context, widget *model.Widget, timeRange model.TimeRange) (interface{}, error) {
	if timeRange.To.IsZero() {
		timeRange.To = p.now()
	}
	if timeRange.From.IsZero() {
		timeRange.From = timeRange.To.Add(-1 * time.Hour)
	}

	switch widget.DataSource.Type {
	case model.SourcePerformance, model.SourceResources:
		return p.fetchMetric(widget, timeRange)
	case model.SourceErrors:
		return p.fetchErrors(timeRange)
	case model.SourceUsers:
		return p.fetchUsers(timeRange)
	case model.SourceAlerts:
		return p.fetchAlerts()
	case model.SourceMonitoring:
		return p.fetchMonitoring()
	default:
		return nil, fmt.Errorf("unknown data source type: %s", widget.DataSource.Type)
	}
}

func (p *Provider) fetchMetric(widget *model.Widget, timeRange model.TimeRange) (interface{}, error) {
	if p.sources.Metrics == nil {
		return nil, fmt.Errorf("metrics source is not configured")
	}

	agg := model.AggregationAvg
	if a, ok := widget.DataSource.Params["aggregation"].(string); ok {
		agg = model.Aggregation(a)
	}

	interval := 1 * time.Minute
	if iv, ok := widget.DataSource.Params["interval"].(time.Duration); ok {
		interval = iv
	}

	result := p.sources.Metrics.Query(widget.DataSource.Metric, timeRange.From, timeRange.To, agg, nil, interval)
	stats := p.sources.Metrics.Statistics(widget.DataSource.Metric, timeRange.From, timeRange.To)

	return map[string]interface{}{
		"query":      result,
		"statistics": stats,
	}, nil
}

func (p *Provider) fetchErrors(timeRange model.TimeRange) (interface{}, error) {
	if p.sources.Errors == nil {
		return nil, fmt.Errorf("error source is not configured")
	}

	hours := int(timeRange.To.Sub(timeRange.From).Hours())
	if hours <= 0 {
		hours = 1
	}

	return map[string]interface{}{
		"groups": p.sources.Errors.Groups(),
		"stats":  p.sources.Errors.Stats(hours),
	}, nil
}

// fetchUsers derives engagement figures from user_action events:
// distinct daily and monthly actors plus their stickiness ratio.
func (p *Provider) fetchUsers(timeRange model.TimeRange) (interface{}, error) {
	if p.sources.Monitoring == nil {
		return nil, fmt.Errorf("monitoring source is not configured")
	}

	now := timeRange.To
	daily := distinctUsers(p.sources.Monitoring.Events(model.EventFilter{
		Types: []model.EventType{model.EventTypeUserAction},
		From:  now.Add(-24 * time.Hour),
		To:    now,
	}))
	monthly := distinctUsers(p.sources.Monitoring.Events(model.EventFilter{
		Types: []model.EventType{model.EventTypeUserAction},
		From:  now.Add(-30 * 24 * time.Hour),
		To:    now,
	}))

	stickiness := 0.0
	if monthly > 0 {
		stickiness = float64(daily) / float64(monthly) * 100
	}

	return map[string]interface{}{
		"daily_active":   daily,
		"monthly_active": monthly,
		"stickiness":     stickiness,
	}, nil
}

func (p *Provider) fetchAlerts() (interface{}, error) {
	if p.sources.Alerts == nil {
		return nil, fmt.Errorf("alert source is not configured")
	}

	return map[string]interface{}{
		"active":     p.sources.Alerts.Alerts(model.AlertStatusTriggered, model.AlertStatusAcknowledged),
		"statistics": p.sources.Alerts.Statistics(),
	}, nil
}

func (p *Provider) fetchMonitoring() (interface{}, error) {
	if p.sources.Monitoring == nil {
		return nil, fmt.Errorf("monitoring source is not configured")
	}
	return p.sources.Monitoring.LatestMetrics(), nil
}

func distinctUsers(events []*model.Event) int {
	users := make(map[string]struct{})
	for _, evt := range events {
		if uid, ok := evt.Payload["user_id"].(string); ok && uid != "" {
			users[uid] = struct{}{}
		}
	}
	return len(users)
}
