package leads

import "errors"

// Lead errors.
var (
	ErrLeadNotFound = errors.New("lead not found")
	ErrInvalidToken = errors.New("invalid or expired unsubscribe token")
)
