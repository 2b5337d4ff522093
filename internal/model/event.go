package model

import "time"

// EventType classifies an ingested event
type EventType string

const (
	EventTypeMetric      EventType = "metric"
	EventTypeError       EventType = "error"
	EventTypePerformance EventType = "performance"
	EventTypeUserAction  EventType = "user_action"
	EventTypeSystem      EventType = "system"
	EventTypeSecurity    EventType = "security"
	EventTypeDeployment  EventType = "deployment"
	EventTypeCustom      EventType = "custom"
)

// EventSeverity represents the severity level of an event
type EventSeverity string

const (
	EventSeverityDebug    EventSeverity = "debug"
	EventSeverityInfo     EventSeverity = "info"
	EventSeverityWarning  EventSeverity = "warning"
	EventSeverityError    EventSeverity = "error"
	EventSeverityCritical EventSeverity = "critical"
)

// Event represents a single immutable event in the log
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Severity  EventSeverity          `json:"severity"`
	Tags      []string               `json:"tags,omitempty"`
}

// EventFilter defines conjunctive filters for querying the event log
type EventFilter struct {
	Types      []EventType
	Sources    []string
	Severities []EventSeverity
	From       time.Time
	To         time.Time
	Tags       []string
	Limit      int
}

// ResponseTimes holds aggregate latency figures extracted from
// performance-typed events
type ResponseTimes struct {
	Avg float64 `json:"avg"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// ResourceGauges holds point-in-time system resource usage
type ResourceGauges struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
	Load1         float64 `json:"load1"`
}

// MonitoringMetrics is a periodic rollup snapshot of the event log
type MonitoringMetrics struct {
	Timestamp        time.Time             `json:"timestamp"`
	TotalEvents      int                   `json:"total_events"`
	EventsByType     map[EventType]int     `json:"events_by_type"`
	EventsBySeverity map[EventSeverity]int `json:"events_by_severity"`
	ResponseTimes    ResponseTimes         `json:"response_times"`
	Resources        ResourceGauges        `json:"resources"`
}
