package services

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateAlertSuppressed means an alert for the same event and rule
	// was raised within the dedup window. It is a no-op, not a failure.
	ErrDuplicateAlertSuppressed = errors.New("duplicate alert suppressed")
	// ErrInvalidTransition is returned for a lifecycle edge the alert cannot take.
	ErrInvalidTransition = errors.New("invalid alert status transition")
	// ErrInvalidInput wraps validation failures on caller-supplied data.
	ErrInvalidInput = errors.New("invalid input")
)
