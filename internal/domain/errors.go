package domain

import "errors"

var (
	ErrValidation     = errors.New("invalid parameters")
	ErrRateLimited    = errors.New("rate limited")
	ErrNotFound       = errors.New("not found")
	ErrAlreadyClosed  = errors.New("position already closed")
	ErrTransient      = errors.New("transient external failure")
	ErrCheckFailed    = errors.New("credit check failed")
	ErrHedgeExecution = errors.New("hedge execution failed")
	ErrQueueDestroyed = errors.New("transaction queue destroyed")
	ErrWSDisconnect   = errors.New("websocket disconnected")
)
