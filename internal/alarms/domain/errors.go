package domain

import "errors"

// Scheduling error taxonomy. Backends surface these distinctly so callers
// can branch on them; none is ever silently folded into another.
var (
	ErrNotAuthorized        = errors.New("domain: notification authorization missing")
	ErrSchedulingFailed     = errors.New("domain: scheduling failed")
	ErrNotFound             = errors.New("domain: alarm not found")
	ErrInvalidConfiguration = errors.New("domain: invalid alarm configuration")
	ErrSystemLimitExceeded  = errors.New("domain: system notification limit exceeded")
	ErrPermissionDenied     = errors.New("domain: permission denied")

	// ErrAmbiguousAlarmState means more than one alarm is alerting at
	// once and a stop request cannot be attributed to a single alarm.
	// Guessing which alarm the user means is never done.
	ErrAmbiguousAlarmState = errors.New("domain: multiple alarms alerting")

	// ErrAlreadyHandledBySystem means the platform cleared the alarm on
	// its own. Kept distinct from success so callers can decide how to
	// present it.
	ErrAlreadyHandledBySystem = errors.New("domain: alarm already handled by system")
)
