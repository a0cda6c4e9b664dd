package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrPositionExists   = errors.New("position already exists")
	ErrWrongStage       = errors.New("wrong position stage")
	ErrOrderRejected    = errors.New("order rejected by venue")
	ErrInsufficientData = errors.New("insufficient market data")
	ErrRateLimited      = errors.New("rate limited")
	ErrContextDone      = errors.New("context cancelled")
	ErrLockHeld         = errors.New("lock already held")
	ErrLockLost         = errors.New("lock no longer held")
)
