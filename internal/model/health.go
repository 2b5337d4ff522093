package model

import "time"

// HealthState represents the aggregate health of the system
type HealthState string

const (
	HealthStateHealthy   HealthState = "healthy"
	HealthStateDegraded  HealthState = "degraded"
	HealthStateUnhealthy HealthState = "unhealthy"
)

// CheckOutcome represents the result class of one health check
type CheckOutcome string

const (
	CheckOutcomePass CheckOutcome = "pass"
	CheckOutcomeWarn CheckOutcome = "warn"
	CheckOutcomeFail CheckOutcome = "fail"
)

// CheckResult is the outcome of a single health check run
type CheckResult struct {
	Name      string        `json:"name"`
	Outcome   CheckOutcome  `json:"outcome"`
	Latency   time.Duration `json:"latency"`
	Message   string        `json:"message,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// HealthStatus aggregates the latest battery of check results
type HealthStatus struct {
	State     HealthState   `json:"state"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}
