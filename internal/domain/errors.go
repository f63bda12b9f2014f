package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")

	// Execution.
	ErrNoPriceAvailable   = errors.New("no price available")
	ErrCredentialsMissing = errors.New("credentials missing")
	ErrUpstreamRejected   = errors.New("upstream rejected")

	// Position lifecycle.
	ErrAlreadyClosed             = errors.New("position already closed")
	ErrNotActive                 = errors.New("position not active")
	ErrInvalidPosition           = errors.New("invalid position parameters")
	ErrInvalidTransition         = errors.New("invalid status transition")
	ErrDuplicateIdempotencyToken = errors.New("duplicate idempotency token")
	ErrOpenInProgress            = errors.New("open already in progress for token")
)
