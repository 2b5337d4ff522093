package model

import "time"

// WidgetType identifies how a widget renders its data
type WidgetType string

const (
	WidgetTypeLineChart WidgetType = "line_chart"
	WidgetTypeBarChart  WidgetType = "bar_chart"
	WidgetTypeGauge     WidgetType = "gauge"
	WidgetTypeCounter   WidgetType = "counter"
	WidgetTypeTable     WidgetType = "table"
)

// DataSourceType selects which subsystem backs a widget
type DataSourceType string

const (
	SourcePerformance DataSourceType = "performance"
	SourceErrors      DataSourceType = "errors"
	SourceUsers       DataSourceType = "users"
	SourceResources   DataSourceType = "resources"
	SourceAlerts      DataSourceType = "alerts"
	SourceMonitoring  DataSourceType = "monitoring"
)

// DataSource binds a widget to a subsystem query
type DataSource struct {
	Type   DataSourceType         `json:"type"`
	Metric string                 `json:"metric,omitempty"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Widget is one panel on a dashboard
type Widget struct {
	ID         string                 `json:"id"`
	Title      string                 `json:"title"`
	Type       WidgetType             `json:"type"`
	DataSource DataSource             `json:"data_source"`
	Config     map[string]interface{} `json:"config,omitempty"`
}

// Dashboard owns an ordered list of widgets
type Dashboard struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Widgets   []Widget  `json:"widgets"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TimeRange bounds a dashboard or widget query
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// WidgetData wraps a fetched widget payload with fetch metadata
type WidgetData struct {
	WidgetID      string        `json:"widget_id"`
	Data          interface{}   `json:"data,omitempty"`
	Error         string        `json:"error,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
	ExecutionTime time.Duration `json:"execution_time"`
	Cached        bool          `json:"cached"`
}
