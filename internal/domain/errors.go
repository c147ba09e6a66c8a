package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrAuthExhausted    = errors.New("authentication attempts exhausted")
	ErrMalformedTick    = errors.New("malformed tick")
	ErrInsufficientLegs = errors.New("insufficient legs")
	ErrCycleDeadline    = errors.New("cycle deadline exceeded")
	ErrLockHeld         = errors.New("lock already held")
)
