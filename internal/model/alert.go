package model

import "time"

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityError    AlertSeverity = "error"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertStatus represents the lifecycle state of an alert
type AlertStatus string

const (
	AlertStatusTriggered    AlertStatus = "triggered"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
	AlertStatusSuppressed   AlertStatus = "suppressed"
)

// ConditionOperator compares a metric value against a rule threshold
type ConditionOperator string

const (
	OperatorGreaterThan  ConditionOperator = "gt"
	OperatorLessThan     ConditionOperator = "lt"
	OperatorEqual        ConditionOperator = "eq"
	OperatorGreaterEqual ConditionOperator = "gte"
	OperatorLessEqual    ConditionOperator = "lte"
	OperatorContains     ConditionOperator = "contains"
)

// ChannelType identifies a notification transport
type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelSlack   ChannelType = "slack"
	ChannelSMS     ChannelType = "sms"
	ChannelWebhook ChannelType = "webhook"
	ChannelPush    ChannelType = "push"
	ChannelInApp   ChannelType = "in_app"
)

// AlertCondition is a single metric comparison within a rule. A
// non-zero Duration requires the comparison to hold continuously for
// at least that long before the condition counts as met.
type AlertCondition struct {
	Metric    string            `json:"metric"`
	Operator  ConditionOperator `json:"operator"`
	Threshold float64           `json:"threshold"`
	Duration  time.Duration     `json:"duration,omitempty"`
}

// EscalationLevel is one tier of an escalation policy
type EscalationLevel struct {
	DelayMinutes int           `json:"delay_minutes"`
	Channels     []ChannelType `json:"channels"`
	Recipients   []string      `json:"recipients,omitempty"`
}

// EscalationPolicy schedules follow-up notifications for unhandled alerts
type EscalationPolicy struct {
	Levels []EscalationLevel `json:"levels"`
}

// AlertRule defines conditions for generating alerts. All conditions
// must hold for the rule to fire.
type AlertRule struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	Conditions      []AlertCondition  `json:"conditions"`
	Severity        AlertSeverity     `json:"severity"`
	Channels        []ChannelType     `json:"channels"`
	Recipients      []string          `json:"recipients,omitempty"`
	ThrottleSeconds int               `json:"throttle_seconds,omitempty"`
	Escalation      *EscalationPolicy `json:"escalation,omitempty"`
	Enabled         bool              `json:"enabled"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Alert represents a triggered alert instance
type Alert struct {
	ID                string                 `json:"id"`
	RuleID            string                 `json:"rule_id"`
	Name              string                 `json:"name"`
	Severity          AlertSeverity          `json:"severity"`
	Status            AlertStatus            `json:"status"`
	Source            string                 `json:"source"`
	Message           string                 `json:"message"`
	Data              map[string]interface{} `json:"data,omitempty"`
	TriggeredAt       time.Time              `json:"triggered_at"`
	AcknowledgedAt    *time.Time             `json:"acknowledged_at,omitempty"`
	AcknowledgedBy    string                 `json:"acknowledged_by,omitempty"`
	ResolvedAt        *time.Time             `json:"resolved_at,omitempty"`
	EscalationLevel   int                    `json:"escalation_level"`
	NotificationsSent int                    `json:"notifications_sent"`
}

// Notification records one delivery attempt to a channel
type Notification struct {
	ID        string      `json:"id"`
	AlertID   string      `json:"alert_id"`
	Channel   ChannelType `json:"channel"`
	Recipient string      `json:"recipient,omitempty"`
	Delivered bool        `json:"delivered"`
	Error     string      `json:"error,omitempty"`
	SentAt    time.Time   `json:"sent_at"`
}

// AlertStatistics summarizes alert and notification activity
type AlertStatistics struct {
	TotalAlerts         int                   `json:"total_alerts"`
	AlertsByStatus      map[AlertStatus]int   `json:"alerts_by_status"`
	AlertsBySeverity    map[AlertSeverity]int `json:"alerts_by_severity"`
	TotalNotifications  int                   `json:"total_notifications"`
	DeliveryRatePercent float64               `json:"delivery_rate_percent"`
}
