package alert

import "errors"

var (
	// ErrRuleNotFound is returned when a rule id is unknown
	ErrRuleNotFound = errors.New("alert rule not found")

	// ErrAlertNotFound is returned when an alert id is unknown
	ErrAlertNotFound = errors.New("alert not found")

	// ErrInvalidTransition is returned for a disallowed status change
	ErrInvalidTransition = errors.New("invalid alert status transition")

	// ErrNoConditions is returned when a rule declares no conditions
	ErrNoConditions = errors.New("alert rule has no conditions")
)
