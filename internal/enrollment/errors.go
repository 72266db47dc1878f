package enrollment

import "errors"

// Enrollment errors.
var (
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	ErrNotPaused          = errors.New("enrollment is not paused")
	ErrNotActive          = errors.New("enrollment is not active")
)
