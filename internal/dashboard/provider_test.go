package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/watchtower/internal/model"
)

type fakeMetrics struct {
	queries int
}

func (f *fakeMetrics) Query(name string, start, end time.Time, agg model.Aggregation, tags map[string]string, interval time.Duration) model.QueryResult {
	f.queries++
	return model.QueryResult{Metric: name, Value: float64(f.queries)}
}

func (f *fakeMetrics) Statistics(name string, start, end time.Time) model.Statistics {
	return model.Statistics{Count: 1}
}

type fakeMonitoring struct {
	events []*model.Event
}

func (f *fakeMonitoring) LatestMetrics() *model.MonitoringMetrics {
	return &model.MonitoringMetrics{TotalEvents: 7}
}

func (f *fakeMonitoring) Events(filter model.EventFilter) []*model.Event {
	var out []*model.Event
	for _, evt := range f.events {
		if !filter.From.IsZero() && evt.Timestamp.Before(filter.From) {
			continue
		}
		out = append(out, evt)
	}
	return out
}

func metricWidget() model.Widget {
	return model.Widget{
		Title: "Latency",
		Type:  model.WidgetTypeLineChart,
		DataSource: model.DataSource{
			Type:   model.SourcePerformance,
			Metric: "http.response_time",
		},
	}
}

func TestCreateDashboard(t *testing.T) {
	p := NewProvider(Sources{}, Config{}, zaptest.NewLogger(t))

	dash := p.CreateDashboard("Overview", metricWidget(), model.Widget{Title: "Alerts"})
	require.NotEmpty(t, dash.ID)
	require.Len(t, dash.Widgets, 2)
	assert.NotEmpty(t, dash.Widgets[0].ID)
	assert.NotEqual(t, dash.Widgets[0].ID, dash.Widgets[1].ID)

	got, err := p.Dashboard(dash.ID)
	require.NoError(t, err)
	assert.Equal(t, "Overview", got.Name)

	_, err = p.Dashboard("missing")
	require.ErrorIs(t, err, ErrDashboardNotFound)
}

func TestAddRemoveWidget(t *testing.T) {
	p := NewProvider(Sources{}, Config{}, zaptest.NewLogger(t))
	dash := p.CreateDashboard("Overview")

	widget, err := p.AddWidget(dash.ID, metricWidget())
	require.NoError(t, err)
	require.NotEmpty(t, widget.ID)

	require.NoError(t, p.RemoveWidget(dash.ID, widget.ID))
	err = p.RemoveWidget(dash.ID, widget.ID)
	require.ErrorIs(t, err, ErrWidgetNotFound)

	_, err = p.AddWidget("missing", metricWidget())
	require.ErrorIs(t, err, ErrDashboardNotFound)
}

func TestWidgetData_CacheHit(t *testing.T) {
	metrics := &fakeMetrics{}
	p := NewProvider(Sources{Metrics: metrics}, Config{CacheTTL: time.Minute}, zaptest.NewLogger(t))

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	p.SetNowFunc(func() time.Time { return current })

	dash := p.CreateDashboard("Overview", metricWidget())
	widgetID := dash.Widgets[0].ID

	first, err := p.WidgetData(context.Background(), dash.ID, widgetID, model.TimeRange{}, false)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 1, metrics.queries)

	// Inside the TTL the cached payload is returned unchanged
	current = base.Add(30 * time.Second)
	second, err := p.WidgetData(context.Background(), dash.ID, widgetID, model.TimeRange{}, false)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, 1, metrics.queries)

	// Past the TTL the source is hit again
	current = base.Add(2 * time.Minute)
	third, err := p.WidgetData(context.Background(), dash.ID, widgetID, model.TimeRange{}, false)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, 2, metrics.queries)
}

func TestWidgetData_ForceRefresh(t *testing.T) {
	metrics := &fakeMetrics{}
	p := NewProvider(Sources{Metrics: metrics}, Config{CacheTTL: time.Minute}, zaptest.NewLogger(t))

	dash := p.CreateDashboard("Overview", metricWidget())
	widgetID := dash.Widgets[0].ID

	_, err := p.WidgetData(context.Background(), dash.ID, widgetID, model.TimeRange{}, false)
	require.NoError(t, err)

	refreshed, err := p.WidgetData(context.Background(), dash.ID, widgetID, model.TimeRange{}, true)
	require.NoError(t, err)
	assert.False(t, refreshed.Cached)
	assert.Equal(t, 2, metrics.queries)
}

func TestWidgetData_UnknownWidget(t *testing.T) {
	p := NewProvider(Sources{}, Config{}, zaptest.NewLogger(t))
	dash := p.CreateDashboard("Overview")

	_, err := p.WidgetData(context.Background(), dash.ID, "missing", model.TimeRange{}, false)
	require.ErrorIs(t, err, ErrWidgetNotFound)
}

func TestWidgetData_SourceErrorReported(t *testing.T) {
	// No metrics source configured: the fetch reports an error entry
	p := NewProvider(Sources{}, Config{}, zaptest.NewLogger(t))
	dash := p.CreateDashboard("Overview", metricWidget())

	data, err := p.WidgetData(context.Background(), dash.ID, dash.Widgets[0].ID, model.TimeRange{}, false)
	require.NoError(t, err)
	assert.NotEmpty(t, data.Error)
	assert.Nil(t, data.Data)
}

func TestDashboardData_WidgetIsolation(t *testing.T) {
	metrics := &fakeMetrics{}
	p := NewProvider(Sources{Metrics: metrics}, Config{}, zaptest.NewLogger(t))

	dash := p.CreateDashboard("Overview",
		metricWidget(),
		model.Widget{
			Title:      "Broken",
			DataSource: model.DataSource{Type: model.SourceErrors},
		},
	)

	results, err := p.DashboardData(context.Background(), dash.ID, model.TimeRange{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	good := results[dash.Widgets[0].ID]
	bad := results[dash.Widgets[1].ID]
	assert.Empty(t, good.Error)
	assert.NotNil(t, good.Data)
	assert.NotEmpty(t, bad.Error)
}

func TestFetchUsers(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	monitoring := &fakeMonitoring{events: []*model.Event{
		{Type: model.EventTypeUserAction, Timestamp: now.Add(-time.Hour), Payload: map[string]interface{}{"user_id": "u-1"}},
		{Type: model.EventTypeUserAction, Timestamp: now.Add(-2 * time.Hour), Payload: map[string]interface{}{"user_id": "u-1"}},
		{Type: model.EventTypeUserAction, Timestamp: now.Add(-3 * time.Hour), Payload: map[string]interface{}{"user_id": "u-2"}},
		{Type: model.EventTypeUserAction, Timestamp: now.Add(-10 * 24 * time.Hour), Payload: map[string]interface{}{"user_id": "u-3"}},
	}}

	p := NewProvider(Sources{Monitoring: monitoring}, Config{}, zaptest.NewLogger(t))

	data, err := p.fetchUsers(model.TimeRange{From: now.Add(-30 * 24 * time.Hour), To: now})
	require.NoError(t, err)

	figures := data.(map[string]interface{})
	assert.Equal(t, 2, figures["daily_active"])
	assert.Equal(t, 3, figures["monthly_active"])
	assert.InDelta(t, 66.66, figures["stickiness"].(float64), 0.1)
}

func TestFetchMonitoring(t *testing.T) {
	p := NewProvider(Sources{Monitoring: &fakeMonitoring{}}, Config{}, zaptest.NewLogger(t))
	dash := p.CreateDashboard("Overview", model.Widget{
		Title:      "Snapshot",
		DataSource: model.DataSource{Type: model.SourceMonitoring},
	})

	data, err := p.WidgetData(context.Background(), dash.ID, dash.Widgets[0].ID, model.TimeRange{}, false)
	require.NoError(t, err)
	snapshot := data.Data.(*model.MonitoringMetrics)
	assert.Equal(t, 7, snapshot.TotalEvents)
}
