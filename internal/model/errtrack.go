package model

import "time"

// ErrorLevel represents the severity of a tracked error
type ErrorLevel string

const (
	ErrorLevelDebug   ErrorLevel = "debug"
	ErrorLevelInfo    ErrorLevel = "info"
	ErrorLevelWarning ErrorLevel = "warning"
	ErrorLevelError   ErrorLevel = "error"
	ErrorLevelFatal   ErrorLevel = "fatal"
)

// ErrorLevelRank orders levels for group level escalation
func ErrorLevelRank(level ErrorLevel) int {
	switch level {
	case ErrorLevelDebug:
		return 0
	case ErrorLevelInfo:
		return 1
	case ErrorLevelWarning:
		return 2
	case ErrorLevelError:
		return 3
	case ErrorLevelFatal:
		return 4
	default:
		return 1
	}
}

// GroupStatus represents the triage state of an error group
type GroupStatus string

const (
	GroupStatusUnresolved    GroupStatus = "unresolved"
	GroupStatusResolved      GroupStatus = "resolved"
	GroupStatusIgnored       GroupStatus = "ignored"
	GroupStatusInvestigating GroupStatus = "investigating"
)

// StackFrame is one parsed frame of an error stack trace
type StackFrame struct {
	Function string `json:"function,omitempty"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column,omitempty"`
	InApp    bool   `json:"in_app"`
}

// Breadcrumb is one entry of a session's activity trail
type Breadcrumb struct {
	Timestamp time.Time              `json:"timestamp"`
	Category  string                 `json:"category"`
	Message   string                 `json:"message"`
	Level     ErrorLevel             `json:"level"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// TrackedError is a single captured error occurrence
type TrackedError struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	Message     string                 `json:"message"`
	Fingerprint string                 `json:"fingerprint"`
	Level       ErrorLevel             `json:"level"`
	Handled     bool                   `json:"handled"`
	UserID      string                 `json:"user_id,omitempty"`
	SessionID   string                 `json:"session_id,omitempty"`
	Stack       []StackFrame           `json:"stack,omitempty"`
	Breadcrumbs []Breadcrumb           `json:"breadcrumbs,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// ErrorGroup aggregates occurrences sharing a fingerprint
type ErrorGroup struct {
	Fingerprint string      `json:"fingerprint"`
	Title       string      `json:"title"`
	Type        string      `json:"type"`
	Level       ErrorLevel  `json:"level"`
	Status      GroupStatus `json:"status"`
	Count       int         `json:"count"`
	UserCount   int         `json:"user_count"`
	FirstSeen   time.Time   `json:"first_seen"`
	LastSeen    time.Time   `json:"last_seen"`
	ErrorIDs    []string    `json:"error_ids"`
}

// ErrorStats compares error volume between the current window and
// the immediately preceding one
type ErrorStats struct {
	WindowHours   int                `json:"window_hours"`
	Total         int                `json:"total"`
	Previous      int                `json:"previous"`
	ChangePercent float64            `json:"change_percent"`
	ByLevel       map[ErrorLevel]int `json:"by_level"`
	Unhandled     int                `json:"unhandled"`
}
